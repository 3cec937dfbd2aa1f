package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) Close() error {
	return db.raw.Close()
}

// rebindPostgresPlaceholders rewrites `?` placeholders to `$n`, leaving
// question marks inside string literals alone.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS tracked_wallets (
			address TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_wallets_active ON tracked_wallets(active);`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id BIGSERIAL PRIMARY KEY,
			signature TEXT NOT NULL UNIQUE,
			wallet_address TEXT NOT NULL,
			token_id TEXT NOT NULL,
			token_symbol TEXT NOT NULL DEFAULT '',
			action_label TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			market_cap DOUBLE PRECISION NOT NULL,
			from_balance DOUBLE PRECISION,
			to_balance DOUBLE PRECISION,
			block_time BIGINT NOT NULL,
			raw_json TEXT NOT NULL,
			ingested_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet_time ON wallet_transactions(wallet_address, block_time ASC, id ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_token_time ON wallet_transactions(token_id, block_time DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_time ON wallet_transactions(block_time DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS token_price_ticks (
			id BIGSERIAL PRIMARY KEY,
			token_id TEXT NOT NULL,
			source TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			market_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
			publish_time BIGINT NOT NULL,
			received_at BIGINT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_price_ticks_dedupe ON token_price_ticks(token_id, source, publish_time);`,
		`CREATE INDEX IF NOT EXISTS idx_token_price_ticks_token_time ON token_price_ticks(token_id, publish_time DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS wallet_sync_state (
			wallet_address TEXT PRIMARY KEY,
			last_signature TEXT NOT NULL DEFAULT '',
			last_block_time BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL
		);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (s *Store) UpsertTrackedWallet(ctx context.Context, address, label string, active bool) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("wallet address is required")
	}
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_wallets (address, label, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			label = excluded.label,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, address, label, boolToInt(active), now, now)
	return err
}

// SeedTrackedWallets registers configured wallets without disturbing labels
// or active flags already set on existing rows.
func (s *Store) SeedTrackedWallets(ctx context.Context, addresses []string) error {
	now := time.Now().Unix()
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO tracked_wallets (address, label, active, created_at, updated_at)
			VALUES (?, '', 1, ?, ?)
			ON CONFLICT(address) DO NOTHING
		`, address, now, now); err != nil {
			return fmt.Errorf("seed tracked wallet %s: %w", address, err)
		}
	}
	return nil
}

type WalletTransactionInput struct {
	Signature     string
	WalletAddress string
	TokenID       string
	TokenSymbol   string
	ActionLabel   string
	Amount        float64
	Price         float64
	MarketCap     float64
	FromBalance   *float64
	ToBalance     *float64
	BlockTime     int64
	RawJSON       string
}

// InsertWalletTransaction stores one provider transaction, keyed by its
// on-chain signature. Re-ingesting the same signature is a no-op, which keeps
// wallet polling idempotent. Returns whether a new row was written.
func (s *Store) InsertWalletTransaction(ctx context.Context, input WalletTransactionInput) (bool, error) {
	signature := strings.TrimSpace(input.Signature)
	if signature == "" {
		return false, fmt.Errorf("signature is required")
	}
	wallet := strings.TrimSpace(input.WalletAddress)
	if wallet == "" {
		return false, fmt.Errorf("wallet address is required")
	}
	tokenID := strings.TrimSpace(input.TokenID)
	if tokenID == "" {
		return false, fmt.Errorf("token id is required")
	}
	rawJSON := strings.TrimSpace(input.RawJSON)
	if rawJSON == "" {
		rawJSON = "{}"
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (
			signature, wallet_address, token_id, token_symbol, action_label,
			amount, price, market_cap, from_balance, to_balance,
			block_time, raw_json, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`,
		signature,
		wallet,
		tokenID,
		strings.TrimSpace(input.TokenSymbol),
		strings.TrimSpace(input.ActionLabel),
		input.Amount,
		input.Price,
		input.MarketCap,
		input.FromBalance,
		input.ToBalance,
		input.BlockTime,
		rawJSON,
		time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

type TokenPriceTickInput struct {
	TokenID     string
	Source      string
	Price       float64
	MarketCap   float64
	PublishTime int64
	ReceivedAt  int64
	RawJSON     string
}

func (s *Store) InsertTokenPriceTick(ctx context.Context, input TokenPriceTickInput) (bool, error) {
	tokenID := strings.TrimSpace(input.TokenID)
	if tokenID == "" {
		return false, fmt.Errorf("token id is required")
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		return false, fmt.Errorf("source is required")
	}
	if input.Price <= 0 {
		return false, fmt.Errorf("price must be > 0")
	}

	now := time.Now().Unix()
	publishTime := input.PublishTime
	if publishTime <= 0 {
		publishTime = now
	}
	receivedAt := input.ReceivedAt
	if receivedAt <= 0 {
		receivedAt = now
	}
	rawJSON := strings.TrimSpace(input.RawJSON)
	if rawJSON == "" {
		rawJSON = "{}"
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO token_price_ticks (
			token_id, source, price, market_cap, publish_time, received_at, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (token_id, source, publish_time) DO NOTHING
	`,
		tokenID,
		source,
		input.Price,
		input.MarketCap,
		publishTime,
		receivedAt,
		rawJSON,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

type WalletSyncState struct {
	WalletAddress string `json:"wallet_address"`
	LastSignature string `json:"last_signature"`
	LastBlockTime int64  `json:"last_block_time"`
	UpdatedAt     int64  `json:"updated_at"`
}

func (s *Store) UpsertWalletSyncState(ctx context.Context, wallet, lastSignature string, lastBlockTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_sync_state (wallet_address, last_signature, last_block_time, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(wallet_address) DO UPDATE SET
			last_signature = excluded.last_signature,
			last_block_time = excluded.last_block_time,
			updated_at = excluded.updated_at
	`, wallet, lastSignature, lastBlockTime, time.Now().Unix())
	return err
}

func (s *Store) GetWalletSyncState(ctx context.Context, wallet string) (WalletSyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT wallet_address, last_signature, last_block_time, updated_at
		FROM wallet_sync_state
		WHERE wallet_address = ?
	`, wallet)

	var state WalletSyncState
	err := row.Scan(&state.WalletAddress, &state.LastSignature, &state.LastBlockTime, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletSyncState{}, ErrNotFound
	}
	if err != nil {
		return WalletSyncState{}, err
	}
	return state, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
