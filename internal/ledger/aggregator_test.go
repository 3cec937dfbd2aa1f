package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

type stubSource struct {
	byWallet map[string][]Transaction
	err      map[string]error
}

func (s *stubSource) TransactionsForWallet(_ context.Context, wallet string) ([]Transaction, error) {
	if err := s.err[wallet]; err != nil {
		return nil, err
	}
	return s.byWallet[wallet], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregatorPositions(t *testing.T) {
	source := &stubSource{
		byWallet: map[string][]Transaction{
			"walletA": {
				buyTx("X", 100, 1.00, 1),
				sellTx("X", 100, 2.00, 2),
			},
			"walletB": {
				buyTx("X", 50, 2.00, 3),
			},
		},
	}
	agg := NewAggregator(source, discardLogger(), 4)

	byWallet := agg.Positions(context.Background(), []string{"walletA", "walletB"})
	if len(byWallet) != 2 {
		t.Fatalf("got %d wallets, want 2", len(byWallet))
	}
	a := byWallet["walletA"][0]
	if !a.IsFullySold {
		t.Error("walletA position should be fully sold")
	}
	approx(t, "walletA realized", a.RealizedPnl, 100)

	b := byWallet["walletB"][0]
	approx(t, "walletB avg entry", b.AverageEntryPrice, 2.00)
	approx(t, "walletB total pnl", b.TotalPnl, 0)
}

func TestAggregatorPositionsFailedWalletIsEmpty(t *testing.T) {
	source := &stubSource{
		byWallet: map[string][]Transaction{
			"good": {buyTx("X", 10, 1, 1)},
		},
		err: map[string]error{"bad": errors.New("provider down")},
	}
	agg := NewAggregator(source, discardLogger(), 2)

	byWallet := agg.Positions(context.Background(), []string{"good", "bad"})
	if got := byWallet["bad"]; got == nil || len(got) != 0 {
		t.Errorf("failed wallet = %v, want empty non-nil list", got)
	}
	if len(byWallet["good"]) != 1 {
		t.Errorf("good wallet lost its positions")
	}
}

func TestAggregatorPositionsManyWallets(t *testing.T) {
	byWallet := make(map[string][]Transaction)
	wallets := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		w := string(rune('A'+i%26)) + string(rune('a'+i/26))
		wallets = append(wallets, w)
		byWallet[w] = []Transaction{buyTx("X", float64(i+1), 1, 1)}
	}
	agg := NewAggregator(&stubSource{byWallet: byWallet}, discardLogger(), 3)

	result := agg.Positions(context.Background(), wallets)
	if len(result) != 50 {
		t.Fatalf("got %d wallets, want 50", len(result))
	}
	for i, w := range wallets {
		if len(result[w]) != 1 {
			t.Fatalf("wallet %s missing position", w)
		}
		approx(t, "bought", result[w][0].TotalBought, float64(i+1))
	}
}

func TestTopTokensRollup(t *testing.T) {
	source := &stubSource{
		byWallet: map[string][]Transaction{
			"walletA": {
				buyTx("X", 100, 1.00, 1),
				sellTx("X", 100, 2.00, 2), // +100 realized, fully sold
				buyTx("Y", 10, 1.00, 3),
			},
			"walletB": {
				buyTx("X", 50, 2.00, 4), // open at entry, pnl 0
			},
		},
	}
	agg := NewAggregator(source, discardLogger(), 2)

	rollups := agg.TopTokens(context.Background(), []string{"walletA", "walletB"}, 10)
	if len(rollups) != 2 {
		t.Fatalf("got %d rollups, want 2", len(rollups))
	}
	x := rollups[0]
	if x.TokenID != "X" {
		t.Fatalf("top token = %s, want X", x.TokenID)
	}
	approx(t, "X total pnl", x.TotalPnl, 100)
	approx(t, "X realized pnl", x.RealizedPnl, 100)
	if x.WalletCount != 2 {
		t.Errorf("X wallet count = %d, want 2", x.WalletCount)
	}
	if x.TradeCount != 3 {
		t.Errorf("X trade count = %d, want 3", x.TradeCount)
	}
}

func TestTopTokensLimitAndTies(t *testing.T) {
	byWallet := map[string][]Position{
		"w": {
			{TokenID: "b", TotalPnl: 5},
			{TokenID: "a", TotalPnl: 5},
			{TokenID: "c", TotalPnl: 9},
		},
	}
	rollups := RollupTokens(byWallet, 2)
	if len(rollups) != 2 {
		t.Fatalf("got %d rollups, want 2", len(rollups))
	}
	if rollups[0].TokenID != "c" || rollups[1].TokenID != "a" {
		t.Errorf("order = %s, %s; want c, a", rollups[0].TokenID, rollups[1].TokenID)
	}
}

func TestRefreshUnrealized(t *testing.T) {
	positions := BuildPositions("w1", []Transaction{
		buyTx("OPEN", 100, 1.00, 1),
		buyTx("CLOSED", 10, 1.00, 2),
		sellTx("CLOSED", 10, 2.00, 3),
		buyTx("NOQUOTE", 5, 4.00, 4),
	})

	RefreshUnrealized(positions, map[string]float64{
		"OPEN":   2.50,
		"CLOSED": 9.99,
	})

	var open, closed, noQuote *Position
	for i := range positions {
		switch positions[i].TokenID {
		case "OPEN":
			open = &positions[i]
		case "CLOSED":
			closed = &positions[i]
		case "NOQUOTE":
			noQuote = &positions[i]
		}
	}

	approx(t, "open current price", open.CurrentPrice, 2.50)
	approx(t, "open unrealized", open.UnrealizedPnl, 150)
	approx(t, "open total", open.TotalPnl, 150)
	approx(t, "open total percent", open.TotalPnlPercent, 150)

	// Fully sold positions never re-value.
	approx(t, "closed unrealized", closed.UnrealizedPnl, 0)
	approx(t, "closed realized", closed.RealizedPnl, 10)
	if math.Abs(closed.CurrentPrice-2.00) > 1e-9 {
		t.Errorf("closed current price moved to %v", closed.CurrentPrice)
	}

	// No quote: keep the last-trade valuation.
	approx(t, "noquote current price", noQuote.CurrentPrice, 4.00)
	approx(t, "noquote unrealized", noQuote.UnrealizedPnl, 0)
}
