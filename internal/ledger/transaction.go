package ledger

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Transaction is one attributed wallet transaction after normalization.
// Amount may be signed (swaps) or unsigned (labeled buys/sells); the builder
// works with magnitudes once the direction is classified.
type Transaction struct {
	Signature     string   `json:"signature"`
	WalletAddress string   `json:"wallet_address"`
	TokenID       string   `json:"token_id"`
	TokenSymbol   string   `json:"token_symbol"`
	ActionLabel   string   `json:"action_label"`
	Amount        float64  `json:"amount"`
	Price         float64  `json:"price"`
	MarketCap     float64  `json:"market_cap"`
	Timestamp     int64    `json:"timestamp"`
	FromBalance   *float64 `json:"from_balance,omitempty"`
	ToBalance     *float64 `json:"to_balance,omitempty"`
}

// RawTransaction mirrors provider payloads, where numeric fields arrive as
// numbers or as strings depending on the source.
type RawTransaction struct {
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"wallet_address"`
	TokenID       string          `json:"token_id"`
	TokenSymbol   string          `json:"token_symbol"`
	ActionLabel   string          `json:"action_label"`
	Amount        json.RawMessage `json:"amount"`
	Price         json.RawMessage `json:"price"`
	MarketCap     json.RawMessage `json:"market_cap"`
	Timestamp     json.RawMessage `json:"timestamp"`
	FromBalance   json.RawMessage `json:"from_balance"`
	ToBalance     json.RawMessage `json:"to_balance"`
}

// NormalizeTransaction coerces a raw provider record into a Transaction.
// Unparseable numerics become zero; normalization never fails.
func NormalizeTransaction(raw RawTransaction) Transaction {
	tx := Transaction{
		Signature:     raw.Signature,
		WalletAddress: raw.WalletAddress,
		TokenID:       raw.TokenID,
		TokenSymbol:   raw.TokenSymbol,
		ActionLabel:   raw.ActionLabel,
		Amount:        coerceFloat(raw.Amount),
		Price:         coerceFloat(raw.Price),
		MarketCap:     coerceFloat(raw.MarketCap),
		Timestamp:     int64(coerceFloat(raw.Timestamp)),
	}
	if v, ok := coerceOptionalFloat(raw.FromBalance); ok {
		tx.FromBalance = &v
	}
	if v, ok := coerceOptionalFloat(raw.ToBalance); ok {
		tx.ToBalance = &v
	}
	return tx
}

func coerceFloat(raw json.RawMessage) float64 {
	v, _ := coerceOptionalFloat(raw)
	return v
}

func coerceOptionalFloat(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
