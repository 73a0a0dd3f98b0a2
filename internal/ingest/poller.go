// Package ingest polls the trade-history endpoint and stores new trades.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/liamashdown/polyanalytics/internal/alerts"
	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/loop"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
)

// MinTriggerGap is the closest two early polls may be.
const MinTriggerGap = 10 * time.Second

// alertTimeout bounds one whale notification so a slow webhook cannot stall a poll.
const alertTimeout = 15 * time.Second

// TradeSource fetches the newest raw trades of a market.
type TradeSource interface {
	RecentTrades(ctx context.Context, market string, limit int) ([]dataapi.RawTrade, error)
}

// TradeStore is the part of the store the poller writes to.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade *storage.Trade) (bool, error)
	UpsertTrader(ctx context.Context, trader *storage.Trader) error
}

// Status is a lock-free snapshot for health reporting.
type Status struct {
	Running        bool  `json:"running"`
	PollCount      int64 `json:"poll_count"`
	NewTradesTotal int64 `json:"new_trades_total"`
	LastPollTS     int64 `json:"last_poll_ts"`
}

// Poller is the trade ingestion loop.
type Poller struct {
	cfg        *config.Config
	source     TradeSource
	store      TradeStore
	alerter    alerts.Sender
	normalizer *Normalizer
	runner     *loop.Runner
	log        *logrus.Logger

	pollCount      atomic.Int64
	newTradesTotal atomic.Int64
	lastPollTS     atomic.Int64
}

// NewPoller wires the ingestion loop. alerter may be nil to disable whale alerts.
func NewPoller(cfg *config.Config, source TradeSource, store TradeStore, alerter alerts.Sender, log *logrus.Logger) *Poller {
	p := &Poller{
		cfg:        cfg,
		source:     source,
		store:      store,
		alerter:    alerter,
		normalizer: NewNormalizer(cfg.MarketID),
		log:        log,
	}
	p.runner = loop.New(loop.Options{
		Name:          "ingest",
		Interval:      cfg.PollInterval,
		MinTriggerGap: MinTriggerGap,
	}, p.Poll, log)
	return p
}

// Start spawns the loop and returns immediately.
func (p *Poller) Start(ctx context.Context) {
	p.runner.Start(ctx)
}

// Run blocks until the loop stops.
func (p *Poller) Run(ctx context.Context) error {
	return p.runner.Run(ctx)
}

// Stop requests a cooperative stop.
func (p *Poller) Stop() {
	p.runner.Stop()
}

// Trigger requests an early poll. It reports whether the request was accepted.
func (p *Poller) Trigger() bool {
	return p.runner.Trigger()
}

// Status reads the counters without blocking the loop.
func (p *Poller) Status() Status {
	return Status{
		Running:        p.runner.Running(),
		PollCount:      p.pollCount.Load(),
		NewTradesTotal: p.newTradesTotal.Load(),
		LastPollTS:     p.lastPollTS.Load(),
	}
}

// Poll runs one ingestion cycle. A fetch failure ends the cycle early but still counts as a poll.
func (p *Poller) Poll(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		p.pollCount.Add(1)
		p.lastPollTS.Store(time.Now().Unix())
		metrics.RecordPoll(time.Since(start), err)
	}()

	raws, err := p.source.RecentTrades(ctx, p.cfg.MarketID, p.cfg.TradeBatchSize)
	if err != nil {
		return fmt.Errorf("fetch trades for market %s: %w", p.cfg.MarketID, err)
	}

	var inserted int64
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		if p.processRecord(ctx, raw) {
			inserted++
		}
	}
	p.newTradesTotal.Add(inserted)

	fields := logrus.Fields{
		"poll":    p.pollCount.Load() + 1,
		"fetched": len(raws),
		"new":     inserted,
	}
	if inserted > 0 {
		p.log.WithFields(fields).Info("Stored new trades")
	} else {
		p.log.WithFields(fields).Debug("No new trades")
	}
	return nil
}

// processRecord handles one raw record and reports whether it was newly stored.
// Nothing that goes wrong here escapes to the rest of the batch.
func (p *Poller) processRecord(ctx context.Context, raw dataapi.RawTrade) (inserted bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TradesIngested.WithLabelValues("error").Inc()
			p.log.WithField("stack", string(debug.Stack())).Error(fmt.Sprintf("Recovered panic processing trade record: %v", r))
			inserted = false
		}
	}()

	trade, err := p.normalizer.Trade(raw)
	if err != nil {
		metrics.TradesIngested.WithLabelValues("dropped").Inc()
		p.log.WithError(err).Debug("Dropping trade record")
		return false
	}

	inserted, err = p.store.InsertTrade(ctx, trade)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTrade) {
			metrics.TradesIngested.WithLabelValues("dropped").Inc()
			p.log.WithError(err).WithField("tx_hash", trade.TransactionHash).Debug("Dropping invalid trade")
			return false
		}
		metrics.TradesIngested.WithLabelValues("error").Inc()
		p.log.WithError(err).WithField("tx_hash", trade.TransactionHash).Error("Failed to store trade")
		return false
	}
	if !inserted {
		metrics.TradesIngested.WithLabelValues("duplicate").Inc()
		return false
	}
	metrics.TradesIngested.WithLabelValues("inserted").Inc()

	trader := p.normalizer.Trader(raw)
	if trader != nil {
		if err := p.store.UpsertTrader(ctx, trader); err != nil {
			p.log.WithError(err).WithField("wallet", trader.ProxyWallet).Warn("Failed to cache trader profile")
		}
	}

	if p.alerter != nil && trade.Amount >= p.cfg.WhaleThresholdUSD {
		p.notifyWhale(ctx, trade, trader)
	}
	return true
}

func (p *Poller) notifyWhale(ctx context.Context, trade *storage.Trade, trader *storage.Trader) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	payload := alerts.NewWhalePayload(trade, trader, p.cfg.WhaleThresholdUSD, p.cfg.Environment)
	if err := p.alerter.Send(ctx, payload); err != nil {
		p.log.WithError(err).WithField("tx_hash", payload.TxHashShort).Warn("Failed to send whale alert")
	}
}
