package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/softline/intel/backend/internal/config"
	"github.com/softline/intel/backend/internal/ledger"
)

type Service struct {
	cfg      config.IngestorConfig
	store    *Store
	provider TransactionProvider
	market   *MarketDataClient
	logger   *slog.Logger
}

func New(cfg config.IngestorConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		provider: NewBirdeyeProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderRequestTimeout),
		market:   NewMarketDataClient(cfg.MarketDataBaseURL, cfg.MarketDataRequestTimeout),
		logger:   logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("ingestor started",
		"provider", s.provider.Name(),
		"db_driver", "postgres",
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.seedTrackedWallets(ctx); err != nil {
		return fmt.Errorf("seed tracked wallets: %w", err)
	}

	if s.cfg.EnablePriceStream {
		go s.runPriceStream(ctx)
	}
	go s.runMarketCapLoop(ctx)

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingestor stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

// seedTrackedWallets registers the configured wallet list, dropping entries
// that are not valid base58 addresses.
func (s *Service) seedTrackedWallets(ctx context.Context) error {
	valid := make([]string, 0, len(s.cfg.TrackedWallets))
	for _, address := range s.cfg.TrackedWallets {
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			s.logger.Warn("skipping invalid tracked wallet address", "address", address, "err", err)
			continue
		}
		valid = append(valid, address)
	}
	return s.store.SeedTrackedWallets(ctx, valid)
}

func (s *Service) syncOnce(ctx context.Context) error {
	wallets, err := s.store.ListTrackedWallets(ctx, true)
	if err != nil {
		return fmt.Errorf("list tracked wallets: %w", err)
	}

	for _, wallet := range wallets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		inserted, err := s.syncWallet(ctx, wallet.Address)
		if err != nil {
			s.logger.Warn("wallet sync failed", "wallet", wallet.Address, "err", err)
			continue
		}
		if inserted > 0 {
			s.logger.Info("wallet synced", "wallet", wallet.Address, "new_transactions", inserted)
		}
	}

	return nil
}

func (s *Service) syncWallet(ctx context.Context, wallet string) (int, error) {
	state, err := s.store.GetWalletSyncState(ctx, wallet)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("load sync state: %w", err)
	}

	txs, raws, err := s.provider.FetchWalletTransactions(ctx, wallet, state.LastBlockTime, s.cfg.ProviderPageLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	inserted := 0
	lastSignature := state.LastSignature
	lastBlockTime := state.LastBlockTime
	for i, tx := range txs {
		wrote, err := s.store.InsertWalletTransaction(ctx, walletTransactionInput(tx, raws[i]))
		if err != nil {
			return inserted, fmt.Errorf("store transaction %s: %w", tx.Signature, err)
		}
		if wrote {
			inserted++
		}
		if tx.Timestamp >= lastBlockTime {
			lastBlockTime = tx.Timestamp
			lastSignature = tx.Signature
		}
	}

	if err := s.store.UpsertWalletSyncState(ctx, wallet, lastSignature, lastBlockTime); err != nil {
		return inserted, fmt.Errorf("save sync state: %w", err)
	}

	return inserted, nil
}

func walletTransactionInput(tx ledger.Transaction, rawJSON string) WalletTransactionInput {
	return WalletTransactionInput{
		Signature:     tx.Signature,
		WalletAddress: tx.WalletAddress,
		TokenID:       tx.TokenID,
		TokenSymbol:   tx.TokenSymbol,
		ActionLabel:   tx.ActionLabel,
		Amount:        tx.Amount,
		Price:         tx.Price,
		MarketCap:     tx.MarketCap,
		FromBalance:   tx.FromBalance,
		ToBalance:     tx.ToBalance,
		BlockTime:     tx.Timestamp,
		RawJSON:       rawJSON,
	}
}

func (s *Service) runMarketCapLoop(ctx context.Context) {
	interval := s.cfg.MarketCapRefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refreshMarketCaps(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("marketcap refresh failed", "err", err)
			}
		}
	}
}

func (s *Service) refreshMarketCaps(ctx context.Context) error {
	tokens, err := s.store.ListActiveTokenIDs(ctx, 100)
	if err != nil {
		return fmt.Errorf("list active tokens: %w", err)
	}

	now := time.Now().Unix()
	for _, tokenID := range tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stats, err := s.market.FetchTokenStats(ctx, tokenID)
		if err != nil {
			s.logger.Debug("token stats unavailable", "token", tokenID, "err", err)
			continue
		}

		if _, err := s.store.InsertTokenPriceTick(ctx, TokenPriceTickInput{
			TokenID:     stats.TokenID,
			Source:      marketDataSource,
			Price:       stats.Price,
			MarketCap:   stats.MarketCap,
			PublishTime: now,
			ReceivedAt:  now,
			RawJSON:     stats.RawJSON,
		}); err != nil {
			return fmt.Errorf("store marketcap tick: %w", err)
		}
	}

	return nil
}
