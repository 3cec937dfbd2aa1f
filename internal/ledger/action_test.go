package ledger

import "testing"

func TestParseActionLabel(t *testing.T) {
	cases := []struct {
		raw  string
		want ActionLabel
	}{
		{"buy", LabelBuy},
		{"BUY", LabelBuy},
		{" Swap_Buy ", LabelBuy},
		{"token_buy", LabelBuy},
		{"sell", LabelSell},
		{"SWAP_SELL", LabelSell},
		{"swap", LabelSwap},
		{"TRADE", LabelSwap},
		{"transfer", LabelTransfer},
		{"receive", LabelTransfer},
		{"stake", LabelUnknown},
		{"", LabelUnknown},
		{"liquidity_add", LabelUnknown},
	}
	for _, c := range cases {
		if got := ParseActionLabel(c.raw); got != c.want {
			t.Errorf("ParseActionLabel(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestClassifyDirectLabels(t *testing.T) {
	if got := Classify("buy", 0, nil); got != ActionBuy {
		t.Errorf("buy label: got %v", got)
	}
	if got := Classify("sell", 0, nil); got != ActionSell {
		t.Errorf("sell label: got %v", got)
	}
	// Receiving-side convention for transfers.
	if got := Classify("transfer", 10, nil); got != ActionBuy {
		t.Errorf("transfer label: got %v", got)
	}
	if got := Classify("burn", 10, nil); got != ActionUnknown {
		t.Errorf("unrecognized label: got %v", got)
	}
}

func TestClassifySwapByAmountSign(t *testing.T) {
	if got := Classify("swap", 25.5, nil); got != ActionBuy {
		t.Errorf("positive swap amount: got %v", got)
	}
	if got := Classify("swap", -40, nil); got != ActionSell {
		t.Errorf("negative swap amount: got %v", got)
	}
}

func TestClassifySwapByBalanceHint(t *testing.T) {
	if got := Classify("swap", 0, &BalanceHint{From: 10, To: 60}); got != ActionBuy {
		t.Errorf("balance increased: got %v", got)
	}
	if got := Classify("swap", 0, &BalanceHint{From: 60, To: 10}); got != ActionSell {
		t.Errorf("balance decreased: got %v", got)
	}
	if got := Classify("swap", 0, &BalanceHint{From: 50, To: 50}); got != ActionUnknown {
		t.Errorf("balance unchanged: got %v", got)
	}
	if got := Classify("swap", 0, nil); got != ActionUnknown {
		t.Errorf("no sign, no hint: got %v", got)
	}
}

func TestActionString(t *testing.T) {
	if ActionBuy.String() != "BUY" || ActionSell.String() != "SELL" || ActionUnknown.String() != "UNKNOWN" {
		t.Fatalf("unexpected action strings: %s %s %s", ActionBuy, ActionSell, ActionUnknown)
	}
}
