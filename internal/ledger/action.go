package ledger

import "strings"

// ActionLabel is the closed set of transaction-type labels the providers emit.
// Free-text vendor labels are resolved into it once at ingestion.
type ActionLabel int

const (
	LabelUnknown ActionLabel = iota
	LabelBuy
	LabelSell
	LabelSwap
	LabelTransfer
)

// Action is the canonical trade direction used everywhere downstream.
type Action int

const (
	ActionUnknown Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (a Action) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "BUY":
		*a = ActionBuy
	case "SELL":
		*a = ActionSell
	default:
		*a = ActionUnknown
	}
	return nil
}

// BalanceHint carries the before/after token balance of the wallet for a
// transaction, when the provider reports it. Used only to disambiguate swaps
// whose amount carries no sign.
type BalanceHint struct {
	From float64
	To   float64
}

func ParseActionLabel(raw string) ActionLabel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "SWAP_BUY", "TOKEN_BUY":
		return LabelBuy
	case "SELL", "SWAP_SELL", "TOKEN_SELL":
		return LabelSell
	case "SWAP", "TRADE":
		return LabelSwap
	case "TRANSFER", "TOKEN_TRANSFER", "RECEIVE":
		return LabelTransfer
	default:
		return LabelUnknown
	}
}

// Classify maps a provider transaction-type label to a canonical action.
//
// Swaps carry no explicit direction: a positive amount means tokens flowed in
// (BUY), a negative amount means tokens flowed out (SELL). When the amount is
// zero or unsigned, the wallet's before/after balance decides; with neither
// signal the swap stays UNKNOWN rather than guessing.
//
// Transfers classify as BUY by convention (receiving side). That mirrors the
// upstream data pipeline and is a known source of cost-basis error for wallets
// with genuine peer-to-peer transfers.
//
// Classify never fails; callers filter UNKNOWN.
func Classify(rawLabel string, amount float64, balances *BalanceHint) Action {
	switch ParseActionLabel(rawLabel) {
	case LabelBuy:
		return ActionBuy
	case LabelSell:
		return ActionSell
	case LabelTransfer:
		return ActionBuy
	case LabelSwap:
		if amount > 0 {
			return ActionBuy
		}
		if amount < 0 {
			return ActionSell
		}
		if balances != nil {
			if balances.To > balances.From {
				return ActionBuy
			}
			if balances.To < balances.From {
				return ActionSell
			}
		}
		return ActionUnknown
	default:
		return ActionUnknown
	}
}
