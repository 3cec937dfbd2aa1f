package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/softline/intel/backend/internal/ledger"
)

// TransactionProvider fetches attributed wallet transactions from a
// market-data API, oldest first, starting strictly after afterTime.
type TransactionProvider interface {
	Name() string
	FetchWalletTransactions(ctx context.Context, wallet string, afterTime int64, limit int) ([]ledger.Transaction, []string, error)
}

type birdeyeProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewBirdeyeProvider(baseURL, apiKey string, timeout time.Duration) TransactionProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &birdeyeProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
	}
}

func (*birdeyeProvider) Name() string { return "birdeye" }

type birdeyeTxListResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []birdeyeTxItem `json:"items"`
	} `json:"data"`
	Message string `json:"message"`
}

// birdeyeTxItem carries numerics as raw JSON because the API mixes number
// and string encodings across fields and versions.
type birdeyeTxItem struct {
	TxHash       string          `json:"tx_hash"`
	TokenAddress string          `json:"token_address"`
	TokenSymbol  string          `json:"token_symbol"`
	TxType       string          `json:"tx_type"`
	UIAmount     json.RawMessage `json:"ui_amount"`
	Price        json.RawMessage `json:"price"`
	MarketCap    json.RawMessage `json:"market_cap"`
	BlockTime    json.RawMessage `json:"block_unix_time"`
	PreBalance   json.RawMessage `json:"pre_balance"`
	PostBalance  json.RawMessage `json:"post_balance"`
}

func (p *birdeyeProvider) FetchWalletTransactions(
	ctx context.Context,
	wallet string,
	afterTime int64,
	limit int,
) ([]ledger.Transaction, []string, error) {
	if limit <= 0 {
		limit = 100
	}

	endpoint := fmt.Sprintf(
		"%s/v1/wallet/tx_list?wallet=%s&limit=%d&after_time=%d",
		p.baseURL,
		url.QueryEscape(wallet),
		limit,
		afterTime,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-KEY", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch wallet transactions: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read wallet transactions: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("wallet transactions request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload birdeyeTxListResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode wallet transactions: %w", err)
	}
	if !payload.Success {
		return nil, nil, fmt.Errorf("wallet transactions api error: %s", payload.Message)
	}

	return decodeBirdeyeItems(wallet, payload.Data.Items)
}

// decodeBirdeyeItems normalizes provider items into ledger transactions plus
// the matching raw payloads for audit storage. Items without a signature or
// token are dropped; bad numerics coerce to zero inside the normalizer.
func decodeBirdeyeItems(wallet string, items []birdeyeTxItem) ([]ledger.Transaction, []string, error) {
	txs := make([]ledger.Transaction, 0, len(items))
	raws := make([]string, 0, len(items))

	for _, item := range items {
		if strings.TrimSpace(item.TxHash) == "" || strings.TrimSpace(item.TokenAddress) == "" {
			continue
		}

		tx := ledger.NormalizeTransaction(ledger.RawTransaction{
			Signature:     item.TxHash,
			WalletAddress: wallet,
			TokenID:       item.TokenAddress,
			TokenSymbol:   item.TokenSymbol,
			ActionLabel:   item.TxType,
			Amount:        item.UIAmount,
			Price:         item.Price,
			MarketCap:     item.MarketCap,
			Timestamp:     item.BlockTime,
			FromBalance:   item.PreBalance,
			ToBalance:     item.PostBalance,
		})

		rawItem, err := json.Marshal(item)
		if err != nil {
			rawItem = []byte("{}")
		}

		txs = append(txs, tx)
		raws = append(raws, string(rawItem))
	}

	// Providers page newest-first; the sync loop wants ascending time.
	if len(txs) > 1 && txs[0].Timestamp > txs[len(txs)-1].Timestamp {
		for left, right := 0, len(txs)-1; left < right; left, right = left+1, right-1 {
			txs[left], txs[right] = txs[right], txs[left]
			raws[left], raws[right] = raws[right], raws[left]
		}
	}

	return txs, raws, nil
}
