package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// TransactionSource yields a wallet's transactions in ascending timestamp
// order, ready for the position builder.
type TransactionSource interface {
	TransactionsForWallet(ctx context.Context, walletAddress string) ([]Transaction, error)
}

// Aggregator builds positions for many wallets concurrently and rolls them up
// across wallets. Each wallet keeps its own cost basis; rollups only sum P&L.
type Aggregator struct {
	source  TransactionSource
	logger  *slog.Logger
	workers int
}

const defaultAggregatorWorkers = 8

func NewAggregator(source TransactionSource, logger *slog.Logger, workers int) *Aggregator {
	if workers <= 0 {
		workers = defaultAggregatorWorkers
	}
	return &Aggregator{source: source, logger: logger, workers: workers}
}

// Positions builds the per-token position book for every wallet. A wallet
// whose source fails contributes an empty list; the error is logged, never
// propagated, so one bad wallet cannot poison a multi-wallet view.
func (a *Aggregator) Positions(ctx context.Context, wallets []string) map[string][]Position {
	result := make(map[string][]Position, len(wallets))
	var mu sync.Mutex

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wallet := range jobs {
				positions := a.buildWallet(ctx, wallet)
				mu.Lock()
				result[wallet] = positions
				mu.Unlock()
			}
		}()
	}

	for _, wallet := range wallets {
		jobs <- wallet
	}
	close(jobs)
	wg.Wait()
	return result
}

func (a *Aggregator) buildWallet(ctx context.Context, wallet string) []Position {
	txs, err := a.source.TransactionsForWallet(ctx, wallet)
	if err != nil {
		a.logger.Warn("failed to load wallet transactions", "wallet", wallet, "error", err)
		return []Position{}
	}
	return BuildPositions(wallet, txs)
}

// TokenRollup is the cross-wallet aggregate for one token.
type TokenRollup struct {
	TokenID       string  `json:"token_id"`
	TokenSymbol   string  `json:"token_symbol"`
	TotalPnl      float64 `json:"total_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	TradeCount    int     `json:"trade_count"`
	WalletCount   int     `json:"wallet_count"`
}

// TopTokens groups the wallets' positions by token and ranks tokens by summed
// total P&L. limit <= 0 returns all tokens.
func (a *Aggregator) TopTokens(ctx context.Context, wallets []string, limit int) []TokenRollup {
	byWallet := a.Positions(ctx, wallets)
	return RollupTokens(byWallet, limit)
}

// RollupTokens sums already-built positions by token. Cost bases stay
// per-wallet; only the P&L figures and counts aggregate.
func RollupTokens(byWallet map[string][]Position, limit int) []TokenRollup {
	rollups := make(map[string]*TokenRollup)
	for _, positions := range byWallet {
		for _, pos := range positions {
			r, ok := rollups[pos.TokenID]
			if !ok {
				r = &TokenRollup{TokenID: pos.TokenID, TokenSymbol: pos.TokenSymbol}
				rollups[pos.TokenID] = r
			}
			if r.TokenSymbol == "" && pos.TokenSymbol != "" {
				r.TokenSymbol = pos.TokenSymbol
			}
			r.TotalPnl += pos.TotalPnl
			r.RealizedPnl += pos.RealizedPnl
			r.UnrealizedPnl += pos.UnrealizedPnl
			r.TradeCount += pos.BuyCount + pos.SellCount
			r.WalletCount++
		}
	}

	out := make([]TokenRollup, 0, len(rollups))
	for _, r := range rollups {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalPnl != out[j].TotalPnl {
			return out[i].TotalPnl > out[j].TotalPnl
		}
		return out[i].TokenID < out[j].TokenID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RefreshUnrealized re-values open positions against live quotes. Realized
// P&L and the trade history are untouched; positions without a quote, and
// fully sold positions, keep their last-trade valuation.
func RefreshUnrealized(positions []Position, priceByToken map[string]float64) {
	for i := range positions {
		pos := &positions[i]
		if pos.IsFullySold {
			continue
		}
		price, ok := priceByToken[pos.TokenID]
		if !ok || price <= 0 {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnl = pos.RemainingTokens * (price - pos.AverageEntryPrice)
		pos.TotalPnl = pos.RealizedPnl + pos.UnrealizedPnl
		pos.RealizedPnlPercent = percentOf(pos.RealizedPnl, pos.TotalBuyValue)
		pos.UnrealizedPnlPercent = percentOf(pos.UnrealizedPnl, pos.TotalBuyValue)
		pos.TotalPnlPercent = percentOf(pos.TotalPnl, pos.TotalBuyValue)
	}
}
