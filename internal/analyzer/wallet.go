package analyzer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/loop"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
)

// WalletStore is the part of the store the wallet analyzer reads and writes.
type WalletStore interface {
	DistinctWallets(ctx context.Context) ([]string, error)
	TradesForWallet(ctx context.Context, address string) ([]storage.Trade, error)
	GetTrader(ctx context.Context, address string) (*storage.Trader, error)
	GetWallet(ctx context.Context, address string) (*storage.Wallet, error)
	SaveWalletAnalytics(ctx context.Context, wallet *storage.Wallet, positions []storage.Position) error
}

// WalletAnalyzer rebuilds every wallet's stats, positions and profile each cycle.
type WalletAnalyzer struct {
	store    WalletStore
	client   MarketClient
	profiles *profileTracker
	workers  int
	runner   *loop.Runner
	log      *logrus.Logger
}

// NewWalletAnalyzer wires the wallet analyzer loop.
func NewWalletAnalyzer(cfg *config.Config, store WalletStore, client MarketClient, log *logrus.Logger) *WalletAnalyzer {
	a := &WalletAnalyzer{
		store:    store,
		client:   client,
		profiles: newProfileTracker(cfg.ProfileCooldown),
		workers:  max(1, cfg.WalletAnalyzerWorkers),
		log:      log,
	}
	a.runner = loop.New(loop.Options{
		Name:     "wallet_analyzer",
		Interval: cfg.WalletAnalyzerInterval,
	}, a.Analyze, log)
	return a
}

func (a *WalletAnalyzer) Start(ctx context.Context)     { a.runner.Start(ctx) }
func (a *WalletAnalyzer) Run(ctx context.Context) error { return a.runner.Run(ctx) }
func (a *WalletAnalyzer) Stop()                         { a.runner.Stop() }
func (a *WalletAnalyzer) Status() Status                { return statusOf(a.runner) }

// Analyze runs one cycle over every wallet seen in trades. A failing wallet is
// logged and skipped.
func (a *WalletAnalyzer) Analyze(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordAnalyzerRun("wallet", time.Since(start)) }()

	wallets, err := a.store.DistinctWallets(ctx)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}

	pool := make(chan struct{}, a.workers)
	for i := 0; i < a.workers; i++ {
		pool <- struct{}{}
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	skipped := 0
	for i, address := range wallets {
		// Take a worker slot before spawning.
		select {
		case <-ctx.Done():
		case <-pool:
		}
		if ctx.Err() != nil {
			skipped = len(wallets) - i
			break
		}

		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			defer func() { pool <- struct{}{} }()

			if err := a.analyzeWallet(ctx, address); err != nil {
				failed.Add(1)
				metrics.AnalyzerItems.WithLabelValues("wallet", "error").Inc()
				a.log.WithError(err).WithField("wallet", address).Error("Failed to analyze wallet")
				return
			}
			metrics.AnalyzerItems.WithLabelValues("wallet", "ok").Inc()
		}(address)
	}
	wg.Wait()

	a.log.WithFields(logrus.Fields{
		"wallets":  len(wallets),
		"failed":   failed.Load(),
		"skipped":  skipped,
		"duration": time.Since(start).String(),
	}).Info("Wallet analysis complete")
	return nil
}

func (a *WalletAnalyzer) analyzeWallet(ctx context.Context, address string) (err error) {
	defer contain(&err)

	trades, err := a.store.TradesForWallet(ctx, address)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	stats := AggregateStats(trades)
	results := ComputePositions(trades)

	positions := make([]storage.Position, 0, len(results))
	var (
		active   int
		realized float64
	)
	for _, r := range results {
		if r.OrphanedShares > 0 {
			metrics.OrphanedSellShares.Add(r.OrphanedShares)
			a.log.WithFields(logrus.Fields{
				"wallet":  address,
				"market":  r.MarketID,
				"outcome": r.Outcome,
				"shares":  r.OrphanedShares,
			}).Debug("Sell without matching buy excluded from realized PnL")
		}
		if r.NetShares > ActiveShareThreshold {
			active++
		}
		realized += r.RealizedPnL
		positions = append(positions, storage.Position{
			MarketID:      r.MarketID,
			Outcome:       r.Outcome,
			NetShares:     r.NetShares,
			AvgEntryPrice: r.AvgEntryPrice,
			TotalBought:   r.TotalBought,
			TotalSold:     r.TotalSold,
			RealizedPnL:   r.RealizedPnL,
		})
	}

	p := a.resolveProfile(ctx, address)
	wallet := &storage.Wallet{
		Address:            address,
		Name:               p.name,
		Pseudonym:          p.pseudonym,
		ProfileImage:       p.profileImage,
		Bio:                p.bio,
		FirstSeen:          stats.FirstSeen,
		LastSeen:           stats.LastSeen,
		TotalTrades:        stats.TotalTrades,
		TotalVolume:        stats.TotalVolume,
		TotalBuyVolume:     stats.TotalBuyVolume,
		TotalSellVolume:    stats.TotalSellVolume,
		LargestTrade:       stats.LargestTrade,
		AvgTradeSize:       stats.AvgTradeSize,
		NumActivePositions: active,
		RealizedPnL:        realized,
	}

	if err := a.store.SaveWalletAnalytics(ctx, wallet, positions); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

type profile struct {
	name         *string
	pseudonym    *string
	profileImage *string
	bio          *string
}

// resolveProfile prefers the ingestion cache, then the stored wallet, then the
// upstream API at most once per wallet per cooldown. Anything else is an empty profile.
func (a *WalletAnalyzer) resolveProfile(ctx context.Context, address string) profile {
	trader, err := a.store.GetTrader(ctx, address)
	if err != nil {
		a.log.WithError(err).WithField("wallet", address).Debug("Trader cache lookup failed")
	}
	if trader.HasIdentity() {
		return profile{trader.Name, trader.Pseudonym, trader.ProfileImage, trader.Bio}
	}

	stored, err := a.store.GetWallet(ctx, address)
	if err != nil {
		a.log.WithError(err).WithField("wallet", address).Debug("Stored wallet lookup failed")
	}
	if stored.HasIdentity() {
		return profile{stored.Name, stored.Pseudonym, stored.ProfileImage, stored.Bio}
	}

	if !a.profiles.attempt(address, time.Now()) {
		return profile{}
	}

	remote, ok := a.client.GetTraderProfile(ctx, address)
	if !ok {
		return profile{}
	}
	return profile{
		name:         optional(remote.Name),
		pseudonym:    optional(remote.Pseudonym),
		profileImage: optional(remote.ProfileImage),
		bio:          optional(remote.Bio),
	}
}

// profileTracker remembers when each wallet's profile was last requested upstream.
// It lives in memory only, so a restart allows one fresh attempt per wallet.
type profileTracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func newProfileTracker(cooldown time.Duration) *profileTracker {
	return &profileTracker{cooldown: cooldown, last: make(map[string]time.Time)}
}

// attempt records a request for address at now unless one happened within the cooldown.
func (t *profileTracker) attempt(address string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[address]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.last[address] = now
	return true
}
