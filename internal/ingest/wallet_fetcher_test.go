package ingest

import (
	"encoding/json"
	"testing"
)

func TestDecodeBirdeyeItems(t *testing.T) {
	payload := []byte(`{
		"success": true,
		"data": {
			"items": [
				{
					"tx_hash": "sig2",
					"token_address": "mintA",
					"token_symbol": "AAA",
					"tx_type": "swap",
					"ui_amount": "-12.5",
					"price": 0.5,
					"market_cap": "90000",
					"block_unix_time": 2000,
					"pre_balance": "50",
					"post_balance": "37.5"
				},
				{
					"tx_hash": "sig1",
					"token_address": "mintA",
					"token_symbol": "AAA",
					"tx_type": "buy",
					"ui_amount": 50,
					"price": "0.40",
					"block_unix_time": 1000
				},
				{
					"tx_hash": "",
					"token_address": "mintB",
					"tx_type": "buy",
					"ui_amount": 1,
					"block_unix_time": 1500
				}
			]
		}
	}`)
	var resp birdeyeTxListResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	txs, raws, err := decodeBirdeyeItems("wallet1", resp.Data.Items)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(txs) != 2 || len(raws) != 2 {
		t.Fatalf("got %d txs / %d raws, want 2/2 (unsigned item dropped)", len(txs), len(raws))
	}

	// Newest-first pages come back ascending.
	if txs[0].Signature != "sig1" || txs[1].Signature != "sig2" {
		t.Errorf("order = %s, %s; want sig1, sig2", txs[0].Signature, txs[1].Signature)
	}

	first := txs[0]
	if first.WalletAddress != "wallet1" || first.TokenID != "mintA" {
		t.Errorf("attribution wrong: %+v", first)
	}
	if first.Amount != 50 || first.Price != 0.40 || first.Timestamp != 1000 {
		t.Errorf("numerics not coerced: %+v", first)
	}

	second := txs[1]
	if second.Amount != -12.5 {
		t.Errorf("signed string amount = %v, want -12.5", second.Amount)
	}
	if second.FromBalance == nil || *second.FromBalance != 50 {
		t.Errorf("FromBalance = %v, want 50", second.FromBalance)
	}
	if second.ToBalance == nil || *second.ToBalance != 37.5 {
		t.Errorf("ToBalance = %v, want 37.5", second.ToBalance)
	}
}
