package apiserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/softline/intel/backend/internal/ingest"
	"github.com/softline/intel/backend/internal/ledger"
)

func (s *Service) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	wallets, err := s.store.ListTrackedWallets(r.Context(), false)
	if err != nil {
		s.logger.Error("list tracked wallets failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}

	s.respondJSON(w, http.StatusOK, walletsResponse{Items: wallets})
}

type walletsResponse struct {
	Items []ingest.WalletRecord `json:"items"`
}

// handleWalletSubroutes serves /v1/wallets/{address}/positions and
// /v1/wallets/{address}/trades.
func (s *Service) handleWalletSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/wallets/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) != 2 {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}

	address := strings.TrimSpace(segments[0])
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	switch segments[1] {
	case "positions":
		s.serveWalletPositions(w, r, address)
	case "trades":
		s.serveWalletTrades(w, r, address)
	default:
		s.respondError(w, http.StatusNotFound, "not found")
	}
}

type positionsResponse struct {
	WalletAddress string            `json:"wallet_address"`
	Items         []ledger.Position `json:"items"`
}

func (s *Service) serveWalletPositions(w http.ResponseWriter, r *http.Request, address string) {
	refreshPrices, err := parseOptionalBool(r, "refresh_prices")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := s.buildWalletPositions(r.Context(), address, refreshPrices)
	if err != nil {
		s.logger.Error("build positions failed", "wallet", address, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to build positions")
		return
	}

	s.respondJSON(w, http.StatusOK, positionsResponse{WalletAddress: address, Items: positions})
}

func (s *Service) buildWalletPositions(ctx context.Context, address string, refreshPrices bool) ([]ledger.Position, error) {
	source := storeTransactionSource{store: s.store}
	txs, err := source.TransactionsForWallet(ctx, address)
	if err != nil {
		return nil, err
	}
	positions := ledger.BuildPositions(address, txs)

	if refreshPrices && len(positions) > 0 {
		openTokens := make([]string, 0, len(positions))
		for _, pos := range positions {
			if !pos.IsFullySold {
				openTokens = append(openTokens, pos.TokenID)
			}
		}
		if len(openTokens) > 0 {
			prices, err := s.store.LatestPricesByToken(ctx, openTokens)
			if err != nil {
				// Stale valuations beat a failed request here.
				s.logger.Warn("live price refresh failed", "wallet", address, "err", err)
			} else {
				ledger.RefreshUnrealized(positions, prices)
			}
		}
	}

	return positions, nil
}

type tradeItem struct {
	Signature     string  `json:"signature"`
	WalletAddress string  `json:"wallet_address"`
	TokenID       string  `json:"token_id"`
	TokenSymbol   string  `json:"token_symbol"`
	Action        string  `json:"action"`
	Amount        float64 `json:"amount"`
	Price         float64 `json:"price"`
	Value         float64 `json:"value"`
	MarketCap     float64 `json:"market_cap"`
	BlockTime     int64   `json:"block_time"`
}

func (s *Service) serveWalletTrades(w http.ResponseWriter, r *http.Request, address string) {
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, normalizedLimit, normalizedOffset, err := s.store.ListTransactions(r.Context(), ingest.TransactionFilter{
		WalletAddress: address,
		TokenID:       strings.TrimSpace(r.URL.Query().Get("token")),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.logger.Error("list wallet trades failed", "wallet", address, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[tradeItem]{
		Items:  classifiedTradeItems(records),
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

// classifiedTradeItems maps stored transactions to feed items, dropping
// anything the classifier cannot resolve.
func classifiedTradeItems(records []ingest.TransactionRecord) []tradeItem {
	items := make([]tradeItem, 0, len(records))
	for _, record := range records {
		tx := ledgerTransaction(record)
		action := ledger.Classify(tx.ActionLabel, tx.Amount, balanceHintFromRecord(record))
		if action == ledger.ActionUnknown {
			continue
		}
		amount := tx.Amount
		if amount < 0 {
			amount = -amount
		}
		items = append(items, tradeItem{
			Signature:     record.Signature,
			WalletAddress: record.WalletAddress,
			TokenID:       record.TokenID,
			TokenSymbol:   record.TokenSymbol,
			Action:        action.String(),
			Amount:        amount,
			Price:         record.Price,
			Value:         amount * record.Price,
			MarketCap:     record.MarketCap,
			BlockTime:     record.BlockTime,
		})
	}
	return items
}

func balanceHintFromRecord(record ingest.TransactionRecord) *ledger.BalanceHint {
	if record.FromBalance == nil || record.ToBalance == nil {
		return nil
	}
	return &ledger.BalanceHint{From: *record.FromBalance, To: *record.ToBalance}
}

func (s *Service) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, normalizedLimit, normalizedOffset, err := s.store.ListTransactions(r.Context(), ingest.TransactionFilter{
		TokenID: strings.TrimSpace(r.URL.Query().Get("token")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.logger.Error("list feed failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list feed")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[tradeItem]{
		Items:  classifiedTradeItems(records),
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

type leaderboardEntry struct {
	WalletAddress string  `json:"wallet_address"`
	Label         string  `json:"label"`
	TotalPnl      float64 `json:"total_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	TradeCount    int     `json:"trade_count"`
	PositionCount int     `json:"position_count"`
	WinRate       float64 `json:"win_rate"`
	Rank          int     `json:"rank"`
}

type leaderboardResponse struct {
	Metric string             `json:"metric"`
	Items  []leaderboardEntry `json:"items"`
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	metric := strings.TrimSpace(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = "total_pnl"
	}
	switch metric {
	case "total_pnl", "realized_pnl", "win_rate":
	default:
		s.respondError(w, http.StatusBadRequest, "invalid metric")
		return
	}

	minTrades, err := parseOptionalInt(r, "min_trades", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallets, err := s.store.ListTrackedWallets(r.Context(), true)
	if err != nil {
		s.logger.Error("list tracked wallets failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	addresses := make([]string, 0, len(wallets))
	labelByAddress := make(map[string]string, len(wallets))
	for _, wallet := range wallets {
		addresses = append(addresses, wallet.Address)
		labelByAddress[wallet.Address] = wallet.Label
	}

	byWallet := s.aggregator.Positions(r.Context(), addresses)
	entries := buildLeaderboard(byWallet, labelByAddress, metric, minTrades)

	s.respondJSON(w, http.StatusOK, leaderboardResponse{Metric: metric, Items: entries})
}

func buildLeaderboard(
	byWallet map[string][]ledger.Position,
	labelByAddress map[string]string,
	metric string,
	minTrades int,
) []leaderboardEntry {
	entries := make([]leaderboardEntry, 0, len(byWallet))
	for wallet, positions := range byWallet {
		if len(positions) == 0 {
			continue
		}

		var entry leaderboardEntry
		entry.WalletAddress = wallet
		entry.Label = labelByAddress[wallet]
		entry.PositionCount = len(positions)

		closed := 0
		won := 0
		for _, pos := range positions {
			entry.TotalPnl += pos.TotalPnl
			entry.RealizedPnl += pos.RealizedPnl
			entry.UnrealizedPnl += pos.UnrealizedPnl
			entry.TradeCount += pos.BuyCount + pos.SellCount
			if pos.IsFullySold {
				closed++
				if pos.RealizedPnl > 0 {
					won++
				}
			}
		}
		if closed > 0 {
			entry.WinRate = float64(won) / float64(closed) * 100
		}

		if entry.TradeCount < minTrades {
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		var left, right float64
		switch metric {
		case "realized_pnl":
			left, right = entries[i].RealizedPnl, entries[j].RealizedPnl
		case "win_rate":
			left, right = entries[i].WinRate, entries[j].WinRate
		default:
			left, right = entries[i].TotalPnl, entries[j].TotalPnl
		}
		if left != right {
			return left > right
		}
		return entries[i].WalletAddress < entries[j].WalletAddress
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

type topTokensResponse struct {
	Items []ledger.TokenRollup `json:"items"`
}

func (s *Service) handleTopTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 20)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallets, err := s.store.ListTrackedWallets(r.Context(), true)
	if err != nil {
		s.logger.Error("list tracked wallets failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load token rollups")
		return
	}

	addresses := make([]string, 0, len(wallets))
	for _, wallet := range wallets {
		addresses = append(addresses, wallet.Address)
	}

	rollups := s.aggregator.TopTokens(r.Context(), addresses, limit)
	s.respondJSON(w, http.StatusOK, topTokensResponse{Items: rollups})
}

// handleTokenSubroutes serves /v1/tokens/{mint}/price.
func (s *Service) handleTokenSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/tokens/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) != 2 || segments[1] != "price" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}

	mint := strings.TrimSpace(segments[0])
	if _, err := solana.PublicKeyFromBase58(mint); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid token mint")
		return
	}

	price, err := s.store.GetLatestTokenPrice(r.Context(), mint)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no price recorded for token")
			return
		}
		s.logger.Error("get token price failed", "token", mint, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load token price")
		return
	}

	s.respondJSON(w, http.StatusOK, price)
}
