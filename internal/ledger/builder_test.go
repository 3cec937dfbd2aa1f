package ledger

import (
	"math"
	"reflect"
	"testing"
)

func buyTx(token string, amount, price float64, ts int64) Transaction {
	return Transaction{
		Signature: "sig", WalletAddress: "w1", TokenID: token, TokenSymbol: token,
		ActionLabel: "buy", Amount: amount, Price: price, Timestamp: ts,
	}
}

func sellTx(token string, amount, price float64, ts int64) Transaction {
	return Transaction{
		Signature: "sig", WalletAddress: "w1", TokenID: token, TokenSymbol: token,
		ActionLabel: "sell", Amount: amount, Price: price, Timestamp: ts,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestBuildPositionsWeightedAverageScenario(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 100, 1.00, 1000),
		buyTx("TOK", 100, 2.00, 2000),
		sellTx("TOK", 150, 3.00, 3000),
	}
	positions := BuildPositions("w1", txs)
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]

	approx(t, "TotalBought", p.TotalBought, 200)
	approx(t, "TotalBuyValue", p.TotalBuyValue, 300)
	approx(t, "AverageEntryPrice", p.AverageEntryPrice, 1.50)
	approx(t, "TotalSold", p.TotalSold, 150)
	approx(t, "TotalSellValue", p.TotalSellValue, 450)
	approx(t, "AverageExitPrice", p.AverageExitPrice, 3.00)
	approx(t, "RemainingTokens", p.RemainingTokens, 50)
	approx(t, "RealizedPnl", p.RealizedPnl, 225)
	approx(t, "UnrealizedPnl", p.UnrealizedPnl, 75) // 50 × (3.00 − 1.50)
	approx(t, "TotalPnl", p.TotalPnl, 300)
	approx(t, "TotalPnlPercent", p.TotalPnlPercent, 100)
	if p.IsFullySold {
		t.Error("position with 50 tokens left reported fully sold")
	}
	if p.BuyCount != 2 || p.SellCount != 1 {
		t.Errorf("counts = %d buys / %d sells, want 2/1", p.BuyCount, p.SellCount)
	}
	if p.FirstBuyTime != 1000 || p.LastSellTime != 3000 {
		t.Errorf("times = %d/%d, want 1000/3000", p.FirstBuyTime, p.LastSellTime)
	}
	if len(p.Trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(p.Trades))
	}
	sell := p.Trades[2]
	if sell.RealizedPnl == nil {
		t.Fatal("sell trade missing realized pnl")
	}
	approx(t, "sell trade pnl", *sell.RealizedPnl, 225)
	if p.Trades[0].RealizedPnl != nil {
		t.Error("buy trade carries realized pnl")
	}
}

func TestBuildPositionsConservation(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 30, 1, 1),
		buyTx("TOK", 70, 2, 2),
		sellTx("TOK", 45, 3, 3),
		sellTx("TOK", 20, 1.5, 4),
	}
	p := BuildPositions("w1", txs)[0]
	approx(t, "conservation", p.RemainingTokens, p.TotalBought-p.TotalSold)
	approx(t, "additivity", p.TotalPnl, p.RealizedPnl+p.UnrealizedPnl)
}

func TestBuildPositionsSellDoesNotMoveEntryAverage(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 100, 1.00, 1),
		sellTx("TOK", 50, 2.00, 2),
	}
	p := BuildPositions("w1", txs)[0]
	approx(t, "AverageEntryPrice", p.AverageEntryPrice, 1.00)
	approx(t, "RealizedPnl", p.RealizedPnl, 50)
}

func TestBuildPositionsRealizedPnlNotRetroactive(t *testing.T) {
	// A buy after a sell changes the average entry, but the earlier sell's
	// recorded P&L stays as computed at the time.
	txs := []Transaction{
		buyTx("TOK", 100, 1.00, 1),
		sellTx("TOK", 50, 2.00, 2),
		buyTx("TOK", 100, 3.00, 3),
	}
	p := BuildPositions("w1", txs)[0]
	if got := *p.Trades[1].RealizedPnl; math.Abs(got-50) > 1e-9 {
		t.Errorf("earlier sell pnl = %v, want 50", got)
	}
	approx(t, "AverageEntryPrice", p.AverageEntryPrice, 2.00) // (100+300)/200
	approx(t, "RealizedPnl", p.RealizedPnl, 50)
}

func TestBuildPositionsFullySoldWithinEpsilon(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 100, 1.00, 1),
		sellTx("TOK", 100.00005, 2.00, 2),
	}
	p := BuildPositions("w1", txs)[0]
	if !p.IsFullySold {
		t.Fatalf("residual %v not treated as fully sold", p.RemainingTokens)
	}
	approx(t, "UnrealizedPnl", p.UnrealizedPnl, 0)
	approx(t, "TotalPnl", p.TotalPnl, p.RealizedPnl)
}

func TestBuildPositionsSkipsUnknown(t *testing.T) {
	txs := []Transaction{
		{Signature: "a", TokenID: "TOK", ActionLabel: "stake", Amount: 10, Price: 1, Timestamp: 1},
		{Signature: "b", TokenID: "TOK", ActionLabel: "swap", Amount: 0, Price: 1, Timestamp: 2},
	}
	if positions := BuildPositions("w1", txs); len(positions) != 0 {
		t.Fatalf("got %d positions from unclassifiable activity, want 0", len(positions))
	}
}

func TestBuildPositionsSellOnlyHistory(t *testing.T) {
	// Airdropped or transferred-in tokens sold with no recorded buy: the
	// full proceeds count as realized P&L and percentages stay zero.
	p := BuildPositions("w1", []Transaction{sellTx("TOK", 10, 2.00, 1)})[0]
	approx(t, "AverageEntryPrice", p.AverageEntryPrice, 0)
	approx(t, "RealizedPnl", p.RealizedPnl, 20)
	approx(t, "RemainingTokens", p.RemainingTokens, -10)
	approx(t, "TotalPnlPercent", p.TotalPnlPercent, 0)
}

func TestBuildPositionsSwapAmountSign(t *testing.T) {
	txs := []Transaction{
		{Signature: "a", TokenID: "TOK", ActionLabel: "swap", Amount: 100, Price: 1.00, Timestamp: 1},
		{Signature: "b", TokenID: "TOK", ActionLabel: "swap", Amount: -40, Price: 2.00, Timestamp: 2},
	}
	p := BuildPositions("w1", txs)[0]
	approx(t, "TotalBought", p.TotalBought, 100)
	approx(t, "TotalSold", p.TotalSold, 40)
	approx(t, "RemainingTokens", p.RemainingTokens, 60)
	approx(t, "RealizedPnl", p.RealizedPnl, 40)
}

func TestBuildPositionsSortedByTotalPnl(t *testing.T) {
	txs := []Transaction{
		buyTx("AAA", 10, 1, 1),
		buyTx("BBB", 10, 1, 2),
		sellTx("BBB", 10, 5, 3), // +40 realized
		sellTx("AAA", 10, 2, 4), // +10 realized
	}
	positions := BuildPositions("w1", txs)
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}
	if positions[0].TokenID != "BBB" || positions[1].TokenID != "AAA" {
		t.Errorf("order = %s, %s; want BBB, AAA", positions[0].TokenID, positions[1].TokenID)
	}
}

func TestBuildPositionsIdempotent(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 100, 1, 1),
		sellTx("TOK", 60, 3, 2),
		buyTx("OTH", 5, 10, 3),
	}
	first := BuildPositions("w1", txs)
	second := BuildPositions("w1", txs)
	if !reflect.DeepEqual(first, second) {
		t.Error("rebuilding from the same history produced a different result")
	}
}

func TestBuildPositionsZeroPriceTrade(t *testing.T) {
	txs := []Transaction{
		buyTx("TOK", 100, 0, 1), // missing price coerced to zero upstream
		buyTx("TOK", 100, 2.00, 2),
	}
	p := BuildPositions("w1", txs)[0]
	approx(t, "TotalBuyValue", p.TotalBuyValue, 200)
	approx(t, "AverageEntryPrice", p.AverageEntryPrice, 1.00)
	approx(t, "RemainingTokens", p.RemainingTokens, 200)
}
