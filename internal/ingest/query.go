package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type WalletRecord struct {
	Address   string `json:"address"`
	Label     string `json:"label"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *Store) ListTrackedWallets(ctx context.Context, activeOnly bool) ([]WalletRecord, error) {
	clause := "1 = 1"
	if activeOnly {
		clause = "active = 1"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT address, label, active, created_at, updated_at
		FROM tracked_wallets
		WHERE %s
		ORDER BY created_at ASC, address ASC
	`, clause))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]WalletRecord, 0, 16)
	for rows.Next() {
		var item WalletRecord
		var active int
		if err := rows.Scan(&item.Address, &item.Label, &active, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Active = active != 0
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetTrackedWallet(ctx context.Context, address string) (WalletRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, label, active, created_at, updated_at
		FROM tracked_wallets
		WHERE address = ?
	`, address)

	var item WalletRecord
	var active int
	err := row.Scan(&item.Address, &item.Label, &active, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletRecord{}, ErrNotFound
	}
	if err != nil {
		return WalletRecord{}, err
	}
	item.Active = active != 0
	return item, nil
}

type TransactionFilter struct {
	WalletAddress string
	TokenID       string
	Limit         int
	Offset        int
}

type TransactionRecord struct {
	ID            int64    `json:"id"`
	Signature     string   `json:"signature"`
	WalletAddress string   `json:"wallet_address"`
	TokenID       string   `json:"token_id"`
	TokenSymbol   string   `json:"token_symbol"`
	ActionLabel   string   `json:"action_label"`
	Amount        float64  `json:"amount"`
	Price         float64  `json:"price"`
	MarketCap     float64  `json:"market_cap"`
	FromBalance   *float64 `json:"from_balance,omitempty"`
	ToBalance     *float64 `json:"to_balance,omitempty"`
	BlockTime     int64    `json:"block_time"`
	IngestedAt    int64    `json:"ingested_at"`
}

// ListTransactions returns recent transactions, newest first. Used by the
// feed and trade-history endpoints.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.WalletAddress != "" {
		clauses = append(clauses, "wallet_address = ?")
		args = append(args, filter.WalletAddress)
	}
	if filter.TokenID != "" {
		clauses = append(clauses, "token_id = ?")
		args = append(args, filter.TokenID)
	}

	query := fmt.Sprintf(`
		SELECT
			id,
			signature,
			wallet_address,
			token_id,
			token_symbol,
			action_label,
			amount,
			price,
			market_cap,
			from_balance,
			to_balance,
			block_time,
			ingested_at
		FROM wallet_transactions
		WHERE %s
		ORDER BY block_time DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items, err := scanTransactionRows(rows, limit)
	if err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}

// ListWalletTransactionsAsc returns a wallet's full history in ascending
// block-time order, the order the position builder requires.
func (s *Store) ListWalletTransactionsAsc(ctx context.Context, wallet string) ([]TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			signature,
			wallet_address,
			token_id,
			token_symbol,
			action_label,
			amount,
			price,
			market_cap,
			from_balance,
			to_balance,
			block_time,
			ingested_at
		FROM wallet_transactions
		WHERE wallet_address = ?
		ORDER BY block_time ASC, id ASC
	`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactionRows(rows, 256)
}

func scanTransactionRows(rows *sql.Rows, sizeHint int) ([]TransactionRecord, error) {
	items := make([]TransactionRecord, 0, sizeHint)
	for rows.Next() {
		var item TransactionRecord
		var fromBalance, toBalance sql.NullFloat64
		if err := rows.Scan(
			&item.ID,
			&item.Signature,
			&item.WalletAddress,
			&item.TokenID,
			&item.TokenSymbol,
			&item.ActionLabel,
			&item.Amount,
			&item.Price,
			&item.MarketCap,
			&fromBalance,
			&toBalance,
			&item.BlockTime,
			&item.IngestedAt,
		); err != nil {
			return nil, err
		}
		if fromBalance.Valid {
			value := fromBalance.Float64
			item.FromBalance = &value
		}
		if toBalance.Valid {
			value := toBalance.Float64
			item.ToBalance = &value
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type TokenPriceRecord struct {
	TokenID     string  `json:"token_id"`
	Source      string  `json:"source"`
	Price       float64 `json:"price"`
	MarketCap   float64 `json:"market_cap"`
	PublishTime int64   `json:"publish_time"`
	ReceivedAt  int64   `json:"received_at"`
}

func (s *Store) GetLatestTokenPrice(ctx context.Context, tokenID string) (TokenPriceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, source, price, market_cap, publish_time, received_at
		FROM token_price_ticks
		WHERE token_id = ?
		ORDER BY publish_time DESC, id DESC
		LIMIT 1
	`, tokenID)

	var item TokenPriceRecord
	err := row.Scan(&item.TokenID, &item.Source, &item.Price, &item.MarketCap, &item.PublishTime, &item.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenPriceRecord{}, ErrNotFound
	}
	if err != nil {
		return TokenPriceRecord{}, err
	}
	return item, nil
}

// LatestPricesByToken returns the freshest price per token. Tokens with no
// recorded tick are absent from the map.
func (s *Store) LatestPricesByToken(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokenIDs))
	if len(tokenIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(tokenIDs))
	args := make([]any, len(tokenIDs))
	for i, tokenID := range tokenIDs {
		placeholders[i] = "?"
		args[i] = tokenID
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (token_id) token_id, price
		FROM token_price_ticks
		WHERE token_id IN (%s)
		ORDER BY token_id, publish_time DESC, id DESC
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tokenID string
		var price float64
		if err := rows.Scan(&tokenID, &price); err != nil {
			return nil, err
		}
		out[tokenID] = price
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// ListActiveTokenIDs returns the distinct tokens seen in recent wallet
// activity, most recently traded first. Feeds the marketcap refresh loop.
func (s *Store) ListActiveTokenIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, MAX(block_time) AS last_seen
		FROM wallet_transactions
		GROUP BY token_id
		ORDER BY last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]string, 0, limit)
	for rows.Next() {
		var tokenID string
		var lastSeen int64
		if err := rows.Scan(&tokenID, &lastSeen); err != nil {
			return nil, err
		}
		tokens = append(tokens, tokenID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
