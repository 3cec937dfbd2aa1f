package ledger

import (
	"encoding/json"
	"testing"
)

func TestNormalizeTransaction(t *testing.T) {
	payload := []byte(`{
		"signature": "5abc",
		"wallet_address": "w1",
		"token_id": "mint1",
		"token_symbol": "TOK",
		"action_label": "swap",
		"amount": "-12.5",
		"price": 0.034,
		"market_cap": "1200000",
		"timestamp": 1700000000,
		"from_balance": "100",
		"to_balance": 87.5
	}`)
	var raw RawTransaction
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tx := NormalizeTransaction(raw)
	if tx.Amount != -12.5 {
		t.Errorf("Amount = %v, want -12.5", tx.Amount)
	}
	if tx.Price != 0.034 {
		t.Errorf("Price = %v, want 0.034", tx.Price)
	}
	if tx.MarketCap != 1200000 {
		t.Errorf("MarketCap = %v, want 1200000", tx.MarketCap)
	}
	if tx.Timestamp != 1700000000 {
		t.Errorf("Timestamp = %v", tx.Timestamp)
	}
	if tx.FromBalance == nil || *tx.FromBalance != 100 {
		t.Errorf("FromBalance = %v, want 100", tx.FromBalance)
	}
	if tx.ToBalance == nil || *tx.ToBalance != 87.5 {
		t.Errorf("ToBalance = %v, want 87.5", tx.ToBalance)
	}
}

func TestNormalizeTransactionBadNumerics(t *testing.T) {
	raw := RawTransaction{
		Signature:   "sig",
		ActionLabel: "buy",
		Amount:      json.RawMessage(`"not-a-number"`),
		Price:       json.RawMessage(`null`),
		MarketCap:   json.RawMessage(`""`),
	}
	tx := NormalizeTransaction(raw)
	if tx.Amount != 0 || tx.Price != 0 || tx.MarketCap != 0 {
		t.Errorf("bad numerics not zeroed: %+v", tx)
	}
	if tx.FromBalance != nil || tx.ToBalance != nil {
		t.Errorf("absent balances should stay nil")
	}
}
