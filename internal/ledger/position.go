package ledger

import "math"

// Residual dust below this threshold counts as a closed position.
const fullySoldEpsilon = 1e-4

// Trade is one classified buy or sell inside a position's history.
type Trade struct {
	Action      Action   `json:"action"`
	Amount      float64  `json:"amount"`
	Price       float64  `json:"price"`
	Value       float64  `json:"value"`
	Timestamp   int64    `json:"timestamp"`
	Signature   string   `json:"signature"`
	RealizedPnl *float64 `json:"realized_pnl,omitempty"`
}

// Position is the per-wallet, per-token ledger state after folding a wallet's
// transaction history. Cost basis is a weighted average over buys; each sell
// realizes P&L against the average entry price at that moment.
type Position struct {
	WalletAddress string `json:"wallet_address"`
	TokenID       string `json:"token_id"`
	TokenSymbol   string `json:"token_symbol"`

	TotalBought       float64 `json:"total_bought"`
	TotalBuyValue     float64 `json:"total_buy_value"`
	AverageEntryPrice float64 `json:"average_entry_price"`
	TotalSold         float64 `json:"total_sold"`
	TotalSellValue    float64 `json:"total_sell_value"`
	AverageExitPrice  float64 `json:"average_exit_price"`
	RemainingTokens   float64 `json:"remaining_tokens"`
	IsFullySold       bool    `json:"is_fully_sold"`

	RealizedPnl          float64 `json:"realized_pnl"`
	UnrealizedPnl        float64 `json:"unrealized_pnl"`
	TotalPnl             float64 `json:"total_pnl"`
	RealizedPnlPercent   float64 `json:"realized_pnl_percent"`
	UnrealizedPnlPercent float64 `json:"unrealized_pnl_percent"`
	TotalPnlPercent      float64 `json:"total_pnl_percent"`

	BuyCount         int     `json:"buy_count"`
	SellCount        int     `json:"sell_count"`
	CurrentPrice     float64 `json:"current_price"`
	CurrentMarketCap float64 `json:"current_market_cap"`
	FirstBuyTime     int64   `json:"first_buy_time"`
	LastSellTime     int64   `json:"last_sell_time"`

	Trades []Trade `json:"trades"`
}

func (p *Position) applyBuy(tx Transaction) {
	amount := math.Abs(tx.Amount)
	value := amount * tx.Price

	p.TotalBought += amount
	p.TotalBuyValue += value
	if p.TotalBought > 0 {
		p.AverageEntryPrice = p.TotalBuyValue / p.TotalBought
	}
	p.RemainingTokens += amount
	p.BuyCount++
	if p.FirstBuyTime == 0 || tx.Timestamp < p.FirstBuyTime {
		p.FirstBuyTime = tx.Timestamp
	}
	p.CurrentPrice = tx.Price
	p.CurrentMarketCap = tx.MarketCap

	p.Trades = append(p.Trades, Trade{
		Action:    ActionBuy,
		Amount:    amount,
		Price:     tx.Price,
		Value:     value,
		Timestamp: tx.Timestamp,
		Signature: tx.Signature,
	})
}

func (p *Position) applySell(tx Transaction) {
	amount := math.Abs(tx.Amount)
	value := amount * tx.Price
	tradePnl := (tx.Price - p.AverageEntryPrice) * amount

	p.TotalSold += amount
	p.TotalSellValue += value
	if p.TotalSold > 0 {
		p.AverageExitPrice = p.TotalSellValue / p.TotalSold
	}
	p.RemainingTokens -= amount
	p.RealizedPnl += tradePnl
	p.SellCount++
	if tx.Timestamp > p.LastSellTime {
		p.LastSellTime = tx.Timestamp
	}
	p.CurrentPrice = tx.Price
	p.CurrentMarketCap = tx.MarketCap

	p.Trades = append(p.Trades, Trade{
		Action:      ActionSell,
		Amount:      amount,
		Price:       tx.Price,
		Value:       value,
		Timestamp:   tx.Timestamp,
		Signature:   tx.Signature,
		RealizedPnl: &tradePnl,
	})
}

// finalize derives the closed/open state, unrealized P&L against the last
// observed price, totals, and percentages. Percentages are relative to total
// buy value and stay zero when nothing was bought.
func (p *Position) finalize() {
	p.IsFullySold = math.Abs(p.RemainingTokens) < fullySoldEpsilon
	if p.IsFullySold {
		p.UnrealizedPnl = 0
	} else {
		p.UnrealizedPnl = p.RemainingTokens * (p.CurrentPrice - p.AverageEntryPrice)
	}
	p.TotalPnl = p.RealizedPnl + p.UnrealizedPnl
	p.RealizedPnlPercent = percentOf(p.RealizedPnl, p.TotalBuyValue)
	p.UnrealizedPnlPercent = percentOf(p.UnrealizedPnl, p.TotalBuyValue)
	p.TotalPnlPercent = percentOf(p.TotalPnl, p.TotalBuyValue)
}

func percentOf(v, base float64) float64 {
	if base == 0 {
		return 0
	}
	return v / base * 100
}
