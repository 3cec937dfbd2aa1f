package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const marketDataSource = "dexscreener"

// TokenStats is a point-in-time price and marketcap quote for one token.
type TokenStats struct {
	TokenID   string
	Price     float64
	MarketCap float64
	RawJSON   string
}

type MarketDataClient struct {
	client  *http.Client
	baseURL string
}

func NewMarketDataClient(baseURL string, timeout time.Duration) *MarketDataClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarketDataClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

type dexPairsResponse struct {
	Pairs []struct {
		PriceUSD  string  `json:"priceUsd"`
		MarketCap float64 `json:"marketCap"`
		FDV       float64 `json:"fdv"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// FetchTokenStats quotes one token via the pairs endpoint, taking the pair
// with the deepest liquidity.
func (c *MarketDataClient) FetchTokenStats(ctx context.Context, tokenID string) (TokenStats, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, url.PathEscape(tokenID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TokenStats{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return TokenStats{}, fmt.Errorf("fetch token stats: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return TokenStats{}, fmt.Errorf("read token stats: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenStats{}, fmt.Errorf("token stats request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload dexPairsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TokenStats{}, fmt.Errorf("decode token stats: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return TokenStats{}, fmt.Errorf("no pairs for token %s", tokenID)
	}

	best := payload.Pairs[0]
	for _, pair := range payload.Pairs[1:] {
		if pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(best.PriceUSD), 64)
	if err != nil || price <= 0 {
		return TokenStats{}, fmt.Errorf("invalid price for token %s", tokenID)
	}

	marketCap := best.MarketCap
	if marketCap <= 0 {
		marketCap = best.FDV
	}

	return TokenStats{
		TokenID:   tokenID,
		Price:     price,
		MarketCap: marketCap,
		RawJSON:   string(raw),
	}, nil
}
