package apiserver

import (
	"net/http/httptest"
	"testing"

	"github.com/softline/intel/backend/internal/ingest"
	"github.com/softline/intel/backend/internal/ledger"
)

func TestClassifiedTradeItems(t *testing.T) {
	from := 100.0
	to := 40.0
	records := []ingest.TransactionRecord{
		{Signature: "s1", WalletAddress: "w", TokenID: "mintA", TokenSymbol: "AAA", ActionLabel: "BUY", Amount: 10, Price: 2, BlockTime: 100},
		{Signature: "s2", WalletAddress: "w", TokenID: "mintA", ActionLabel: "SWAP", Amount: -5, Price: 3, BlockTime: 200},
		{Signature: "s3", WalletAddress: "w", TokenID: "mintA", ActionLabel: "SWAP", Amount: 0, Price: 3, BlockTime: 300, FromBalance: &from, ToBalance: &to},
		{Signature: "s4", WalletAddress: "w", TokenID: "mintA", ActionLabel: "SWAP", Amount: 0, Price: 3, BlockTime: 400},
		{Signature: "s5", WalletAddress: "w", TokenID: "mintA", ActionLabel: "???", Amount: 1, Price: 1, BlockTime: 500},
	}

	items := classifiedTradeItems(records)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3 (ambiguous and unknown dropped)", len(items))
	}
	if items[0].Action != "BUY" || items[0].Value != 20 {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Action != "SELL" || items[1].Amount != 5 {
		t.Errorf("swap sell not folded to magnitude: %+v", items[1])
	}
	if items[2].Signature != "s3" || items[2].Action != "SELL" {
		t.Errorf("balance hint not applied: %+v", items[2])
	}
}

func TestBuildLeaderboard(t *testing.T) {
	byWallet := map[string][]ledger.Position{
		"walletA": {
			{TokenID: "x", TotalPnl: 100, RealizedPnl: 80, UnrealizedPnl: 20, BuyCount: 2, SellCount: 1, IsFullySold: false},
			{TokenID: "y", TotalPnl: -30, RealizedPnl: -30, BuyCount: 1, SellCount: 1, IsFullySold: true},
		},
		"walletB": {
			{TokenID: "x", TotalPnl: 50, RealizedPnl: 50, BuyCount: 1, SellCount: 1, IsFullySold: true},
		},
		"walletC": {},
	}
	labels := map[string]string{"walletA": "whale"}

	entries := buildLeaderboard(byWallet, labels, "total_pnl", 0)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (empty wallet skipped)", len(entries))
	}
	if entries[0].WalletAddress != "walletA" || entries[0].Rank != 1 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].Label != "whale" || entries[0].TotalPnl != 70 || entries[0].TradeCount != 5 {
		t.Errorf("walletA rollup = %+v", entries[0])
	}
	if entries[0].WinRate != 0 {
		t.Errorf("walletA win rate = %v, want 0 (only closed position lost)", entries[0].WinRate)
	}
	if entries[1].WinRate != 100 {
		t.Errorf("walletB win rate = %v, want 100", entries[1].WinRate)
	}

	byMetric := buildLeaderboard(byWallet, labels, "win_rate", 0)
	if byMetric[0].WalletAddress != "walletB" {
		t.Errorf("win_rate metric: first = %s, want walletB", byMetric[0].WalletAddress)
	}

	filtered := buildLeaderboard(byWallet, labels, "total_pnl", 3)
	if len(filtered) != 1 || filtered[0].WalletAddress != "walletA" {
		t.Errorf("min_trades filter: %+v", filtered)
	}
}

func TestParseOptionalParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/feed?limit=25&refresh_prices=true", nil)

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil || limit != 25 {
		t.Errorf("limit = %d, %v", limit, err)
	}
	offset, err := parseOptionalInt(r, "offset", 7)
	if err != nil || offset != 7 {
		t.Errorf("offset fallback = %d, %v", offset, err)
	}
	refresh, err := parseOptionalBool(r, "refresh_prices")
	if err != nil || !refresh {
		t.Errorf("refresh = %v, %v", refresh, err)
	}

	bad := httptest.NewRequest("GET", "/v1/feed?limit=abc", nil)
	if _, err := parseOptionalInt(bad, "limit", 0); err == nil {
		t.Error("expected error for non-numeric limit")
	}
}
