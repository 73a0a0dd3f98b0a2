package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/loop"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
)

// MarketStore is the part of the store the market analyzer reads and writes.
type MarketStore interface {
	DistinctMarkets(ctx context.Context) ([]string, error)
	GetMarket(ctx context.Context, conditionID string) (*storage.Market, error)
	UpsertMarket(ctx context.Context, market *storage.Market) error
}

// MarketAnalyzer keeps display metadata for every traded market.
type MarketAnalyzer struct {
	store    MarketStore
	client   MarketClient
	cooldown time.Duration
	runner   *loop.Runner
	log      *logrus.Logger
	now      func() time.Time
}

// NewMarketAnalyzer wires the market analyzer loop.
func NewMarketAnalyzer(cfg *config.Config, store MarketStore, client MarketClient, log *logrus.Logger) *MarketAnalyzer {
	a := &MarketAnalyzer{
		store:    store,
		client:   client,
		cooldown: cfg.MarketRefetchCooldown,
		log:      log,
		now:      time.Now,
	}
	a.runner = loop.New(loop.Options{
		Name:     "market_analyzer",
		Interval: cfg.MarketAnalyzerInterval,
	}, a.Analyze, log)
	return a
}

func (a *MarketAnalyzer) Start(ctx context.Context)     { a.runner.Start(ctx) }
func (a *MarketAnalyzer) Run(ctx context.Context) error { return a.runner.Run(ctx) }
func (a *MarketAnalyzer) Stop()                         { a.runner.Stop() }
func (a *MarketAnalyzer) Status() Status                { return statusOf(a.runner) }

// Analyze refreshes every market whose metadata is missing or older than the cooldown.
func (a *MarketAnalyzer) Analyze(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordAnalyzerRun("market", time.Since(start)) }()

	markets, err := a.store.DistinctMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	var refreshed, skipped, failed int
	for _, id := range markets {
		if ctx.Err() != nil {
			break
		}

		fetched, err := a.refresh(ctx, id)
		switch {
		case err != nil:
			failed++
			metrics.AnalyzerItems.WithLabelValues("market", "error").Inc()
			a.log.WithError(err).WithField("market", id).Error("Failed to refresh market")
		case fetched:
			refreshed++
			metrics.AnalyzerItems.WithLabelValues("market", "ok").Inc()
		default:
			skipped++
			metrics.AnalyzerItems.WithLabelValues("market", "skipped").Inc()
		}
	}

	a.log.WithFields(logrus.Fields{
		"markets":   len(markets),
		"refreshed": refreshed,
		"skipped":   skipped,
		"failed":    failed,
	}).Info("Market analysis complete")
	return nil
}

// refresh upserts the market row even when the lookup comes back empty, so the
// fetch time advances and an unresolvable market waits out the cooldown too.
func (a *MarketAnalyzer) refresh(ctx context.Context, id string) (fetched bool, err error) {
	defer contain(&err)

	now := a.now()
	existing, err := a.store.GetMarket(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load market: %w", err)
	}
	if existing != nil && now.Sub(time.Unix(existing.LastFetchedTS, 0)) < a.cooldown {
		return false, nil
	}

	market := &storage.Market{ConditionID: id, LastFetchedTS: now.Unix()}
	if info, ok := a.client.GetMarketInfo(ctx, id); ok {
		market.Title = optional(info.Title)
		market.Slug = optional(info.Slug)
		market.Icon = optional(info.Icon)
	} else {
		a.log.WithField("market", id).Debug("Market info not available")
	}

	if err := a.store.UpsertMarket(ctx, market); err != nil {
		return false, fmt.Errorf("upsert market: %w", err)
	}
	return true, nil
}
