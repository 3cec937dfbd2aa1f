package ledger

import "sort"

// BuildPositions folds a wallet's transactions into per-token positions.
//
// Transactions must arrive in ascending timestamp order; average-cost P&L is
// order-sensitive and the builder does not re-sort. Transactions that classify
// as UNKNOWN are skipped. Tokens with no classified activity produce no
// position. The result is sorted by total P&L descending, ties broken by
// token ID.
func BuildPositions(walletAddress string, txs []Transaction) []Position {
	book := make(map[string]*Position)
	order := make([]string, 0)

	for _, tx := range txs {
		if tx.TokenID == "" {
			continue
		}
		action := Classify(tx.ActionLabel, tx.Amount, balanceHint(tx))
		if action == ActionUnknown {
			continue
		}

		pos, ok := book[tx.TokenID]
		if !ok {
			pos = &Position{
				WalletAddress: walletAddress,
				TokenID:       tx.TokenID,
				TokenSymbol:   tx.TokenSymbol,
			}
			book[tx.TokenID] = pos
			order = append(order, tx.TokenID)
		}
		if pos.TokenSymbol == "" && tx.TokenSymbol != "" {
			pos.TokenSymbol = tx.TokenSymbol
		}

		switch action {
		case ActionBuy:
			pos.applyBuy(tx)
		case ActionSell:
			pos.applySell(tx)
		}
	}

	positions := make([]Position, 0, len(order))
	for _, tokenID := range order {
		pos := book[tokenID]
		pos.finalize()
		positions = append(positions, *pos)
	}

	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].TotalPnl != positions[j].TotalPnl {
			return positions[i].TotalPnl > positions[j].TotalPnl
		}
		return positions[i].TokenID < positions[j].TokenID
	})
	return positions
}

func balanceHint(tx Transaction) *BalanceHint {
	if tx.FromBalance == nil || tx.ToBalance == nil {
		return nil
	}
	return &BalanceHint{From: *tx.FromBalance, To: *tx.ToBalance}
}
