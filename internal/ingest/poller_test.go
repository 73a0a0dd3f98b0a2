package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liamashdown/polyanalytics/internal/alerts"
	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	trades []dataapi.RawTrade
	err    error
	calls  int
}

func (s *fakeSource) RecentTrades(ctx context.Context, market string, limit int) ([]dataapi.RawTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.trades, s.err
}

type recordingAlerter struct {
	mu  sync.Mutex
	got []*alerts.WhalePayload
}

func (a *recordingAlerter) Send(ctx context.Context, payload *alerts.WhalePayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, payload)
	return nil
}

func newTestPoller(t *testing.T, source TradeSource, alerter alerts.Sender) (*Poller, *storage.DB) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		MarketID:          "0xmarket",
		DatabaseDriver:    config.DriverSQLite,
		DatabasePath:      filepath.Join(t.TempDir(), "trades.db"),
		PollInterval:      time.Hour,
		TradeBatchSize:    500,
		WhaleThresholdUSD: 1000,
		Environment:       "test",
	}

	db, err := storage.New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewPoller(cfg, source, db, alerter, log), db
}

func rawTrade(hash, wallet string, price, size float64) dataapi.RawTrade {
	return dataapi.RawTrade{
		"transactionHash": hash,
		"proxyWallet":     wallet,
		"conditionId":     "0xmarket",
		"asset":           "tok-yes",
		"side":            "BUY",
		"price":           price,
		"size":            size,
		"outcome":         "Yes",
		"timestamp":       1700000000.0,
		"pseudonym":       "Quiet-Fox",
	}
}

func TestPollStoresNewTradesOnce(t *testing.T) {
	source := &fakeSource{trades: []dataapi.RawTrade{
		rawTrade("0xtx1", "0xw1", 0.5, 10),
		rawTrade("0xtx2", "0xw2", 0.5, 20),
	}}
	poller, db := newTestPoller(t, source, nil)
	ctx := context.Background()

	require.NoError(t, poller.Poll(ctx))
	require.NoError(t, poller.Poll(ctx))

	status := poller.Status()
	assert.Equal(t, int64(2), status.PollCount)
	assert.Equal(t, int64(2), status.NewTradesTotal)
	assert.NotZero(t, status.LastPollTS)
	assert.False(t, status.Running)

	stats, err := db.Stats(ctx, "0xmarket")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTrades)

	trader, err := db.GetTrader(ctx, "0xw1")
	require.NoError(t, err)
	require.NotNil(t, trader)
	assert.Equal(t, "Quiet-Fox", *trader.Pseudonym)
}

func TestPollSkipsBadRecords(t *testing.T) {
	source := &fakeSource{trades: []dataapi.RawTrade{
		{"transactionHash": "0xnowallet", "side": "BUY", "price": 0.5, "size": 1.0},
		{"transactionHash": "0xbadprice", "proxyWallet": "0xw9", "side": "BUY", "price": "n/a"},
		{"transactionHash": "0xoutofrange", "proxyWallet": "0xw9", "side": "BUY", "price": 3.0, "size": 1.0},
		rawTrade("0xgood", "0xw1", 0.5, 10),
	}}
	poller, db := newTestPoller(t, source, nil)
	ctx := context.Background()

	require.NoError(t, poller.Poll(ctx))
	assert.Equal(t, int64(1), poller.Status().NewTradesTotal)

	trades, err := db.RecentTrades(ctx, storage.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xgood", trades[0].TransactionHash)
}

func TestPollFetchFailureCountsAsPoll(t *testing.T) {
	source := &fakeSource{err: errors.New("connection reset")}
	poller, _ := newTestPoller(t, source, nil)

	err := poller.Poll(context.Background())
	assert.Error(t, err)

	status := poller.Status()
	assert.Equal(t, int64(1), status.PollCount)
	assert.Zero(t, status.NewTradesTotal)
	assert.NotZero(t, status.LastPollTS)
}

func TestPollAlertsOnNewWhaleTradesOnly(t *testing.T) {
	source := &fakeSource{trades: []dataapi.RawTrade{
		rawTrade("0xsmall", "0xw1", 0.5, 10),
		rawTrade("0xwhale", "0xw2", 0.5, 4000),
	}}
	alerter := &recordingAlerter{}
	poller, _ := newTestPoller(t, source, alerter)
	ctx := context.Background()

	require.NoError(t, poller.Poll(ctx))
	require.NoError(t, poller.Poll(ctx))

	require.Len(t, alerter.got, 1)
	assert.Equal(t, "0xwhale", alerter.got[0].TransactionHash)
	assert.Equal(t, 2000.0, alerter.got[0].AmountUSD)
	assert.Equal(t, "Quiet-Fox", alerter.got[0].TraderName)
}

func TestPollerLoopRunsImmediately(t *testing.T) {
	source := &fakeSource{trades: []dataapi.RawTrade{rawTrade("0xtx1", "0xw1", 0.5, 10)}}
	poller, _ := newTestPoller(t, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assert.Eventually(t, func() bool {
		s := poller.Status()
		return s.Running && s.PollCount == 1 && s.NewTradesTotal == 1
	}, 2*time.Second, 10*time.Millisecond)
}
