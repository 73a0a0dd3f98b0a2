package analyzer

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/polymarket/gammaapi"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu           sync.Mutex
	profile      *gammaapi.Profile
	market       *dataapi.MarketInfo
	profileCalls int
	marketCalls  int
}

func (c *fakeClient) GetTraderProfile(ctx context.Context, address string) (*gammaapi.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileCalls++
	return c.profile, c.profile != nil
}

func (c *fakeClient) GetMarketInfo(ctx context.Context, conditionID string) (*dataapi.MarketInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketCalls++
	return c.market, c.market != nil
}

func (c *fakeClient) calls() (profiles, markets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileCalls, c.marketCalls
}

// panicStore blows up while loading one wallet's history.
type panicStore struct {
	*storage.DB
	wallet string
}

func (s *panicStore) TradesForWallet(ctx context.Context, address string) ([]storage.Trade, error) {
	if address == s.wallet {
		panic("corrupt row")
	}
	return s.DB.TradesForWallet(ctx, address)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DatabaseDriver:         config.DriverSQLite,
		DatabasePath:           filepath.Join(t.TempDir(), "trades.db"),
		WalletAnalyzerInterval: time.Hour,
		WalletAnalyzerWorkers:  1,
		ProfileCooldown:        24 * time.Hour,
		MarketAnalyzerInterval: time.Hour,
		MarketRefetchCooldown:  time.Hour,
	}
}

func newTestDB(t *testing.T, cfg *config.Config) (*storage.DB, *logrus.Logger) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := storage.New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db, log
}

func insert(t *testing.T, db *storage.DB, hash, wallet, market, side string, price, size float64, matchTime int64) {
	t.Helper()
	inserted, err := db.InsertTrade(context.Background(), &storage.Trade{
		TransactionHash: hash,
		MarketID:        market,
		ProxyWallet:     wallet,
		Side:            side,
		Price:           price,
		Size:            size,
		Amount:          price * size,
		Outcome:         "Yes",
		MatchTime:       matchTime,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func strPtr(s string) *string { return &s }

func TestWalletAnalyzerBuildsAnalytics(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.40, 10, 100)
	insert(t, db, "0x2", "0xw1", "0xm", storage.SideBuy, 0.60, 5, 200)
	insert(t, db, "0x3", "0xw1", "0xm", storage.SideSell, 0.70, 12, 300)

	client := &fakeClient{profile: &gammaapi.Profile{Pseudonym: "Quiet-Fox"}}
	a := NewWalletAnalyzer(cfg, db, client, log)
	require.NoError(t, a.Analyze(ctx))

	wallet, err := db.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, 3, wallet.TotalTrades)
	assert.Equal(t, int64(100), wallet.FirstSeen)
	assert.Equal(t, int64(300), wallet.LastSeen)
	assert.InDelta(t, 15.4, wallet.TotalVolume, 1e-9)
	assert.InDelta(t, 3.2, wallet.RealizedPnL, 1e-9)
	assert.Equal(t, 1, wallet.NumActivePositions)
	assert.Nil(t, wallet.WinRate)
	require.NotNil(t, wallet.Pseudonym)
	assert.Equal(t, "Quiet-Fox", *wallet.Pseudonym)
	assert.Nil(t, wallet.Name)

	positions, err := db.PositionsForWallet(ctx, "0xw1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 3, positions[0].NetShares, 1e-9)
	assert.InDelta(t, 0.4667, positions[0].AvgEntryPrice, 1e-4)
}

func TestWalletAnalyzerProfileCooldown(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.5, 10, 100)

	client := &fakeClient{}
	a := NewWalletAnalyzer(cfg, db, client, log)
	require.NoError(t, a.Analyze(ctx))
	require.NoError(t, a.Analyze(ctx))

	profiles, _ := client.calls()
	assert.Equal(t, 1, profiles)

	wallet, err := db.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.False(t, wallet.HasIdentity())
}

func TestWalletAnalyzerPrefersCachedProfiles(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.5, 10, 100)
	insert(t, db, "0x2", "0xw2", "0xm", storage.SideBuy, 0.5, 10, 100)

	require.NoError(t, db.UpsertTrader(ctx, &storage.Trader{ProxyWallet: "0xw1", Name: strPtr("alice")}))
	require.NoError(t, db.UpsertWallet(ctx, &storage.Wallet{Address: "0xw2", Pseudonym: strPtr("Old-Name")}))

	client := &fakeClient{profile: &gammaapi.Profile{Name: "remote"}}
	a := NewWalletAnalyzer(cfg, db, client, log)
	require.NoError(t, a.Analyze(ctx))

	profiles, _ := client.calls()
	assert.Zero(t, profiles)

	w1, err := db.GetWallet(ctx, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, "alice", *w1.Name)

	w2, err := db.GetWallet(ctx, "0xw2")
	require.NoError(t, err)
	assert.Equal(t, "Old-Name", *w2.Pseudonym)
	assert.Equal(t, 1, w2.TotalTrades)
}

func TestWalletAnalyzerSkipsFailingWallet(t *testing.T) {
	cfg := testConfig(t)
	cfg.WalletAnalyzerWorkers = 2
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xbad", "0xm", storage.SideBuy, 0.5, 10, 100)
	insert(t, db, "0x2", "0xgood", "0xm", storage.SideBuy, 0.5, 10, 100)

	a := NewWalletAnalyzer(cfg, &panicStore{DB: db, wallet: "0xbad"}, &fakeClient{}, log)
	require.NoError(t, a.Analyze(ctx))

	good, err := db.GetWallet(ctx, "0xgood")
	require.NoError(t, err)
	assert.NotNil(t, good)

	bad, err := db.GetWallet(ctx, "0xbad")
	require.NoError(t, err)
	assert.Nil(t, bad)
}

// cancelStore cancels the cycle while loading the first wallet.
type cancelStore struct {
	*storage.DB
	cancel context.CancelFunc
	loads  atomic.Int32
}

func (s *cancelStore) TradesForWallet(ctx context.Context, address string) ([]storage.Trade, error) {
	s.loads.Add(1)
	s.cancel()
	return s.DB.TradesForWallet(ctx, address)
}

func TestWalletAnalyzerStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.5, 10, 100)
	insert(t, db, "0x2", "0xw2", "0xm", storage.SideBuy, 0.5, 10, 100)
	insert(t, db, "0x3", "0xw3", "0xm", storage.SideBuy, 0.5, 10, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelStore{DB: db, cancel: cancel}

	a := NewWalletAnalyzer(cfg, store, &fakeClient{}, log)
	require.NoError(t, a.Analyze(ctx))
	assert.Equal(t, int32(1), store.loads.Load())
}

func TestWalletAnalyzerLoop(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	a := NewWalletAnalyzer(cfg, db, &fakeClient{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	assert.Eventually(t, func() bool {
		s := a.Status()
		return s.Running && s.RunCount == 1 && s.LastRunTS > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProfileTracker(t *testing.T) {
	tracker := newProfileTracker(24 * time.Hour)
	now := time.Unix(1700000000, 0)

	assert.True(t, tracker.attempt("0xw1", now))
	assert.False(t, tracker.attempt("0xw1", now.Add(23*time.Hour)))
	assert.True(t, tracker.attempt("0xw2", now))
	assert.True(t, tracker.attempt("0xw1", now.Add(24*time.Hour)))
}

func TestMarketAnalyzerRefetchCooldown(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.5, 10, 100)

	client := &fakeClient{}
	a := NewMarketAnalyzer(cfg, db, client, log)
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Analyze(ctx))
	market, err := db.GetMarket(ctx, "0xm")
	require.NoError(t, err)
	require.NotNil(t, market)
	assert.Nil(t, market.Title)
	assert.Equal(t, now.Unix(), market.LastFetchedTS)

	now = now.Add(30 * time.Minute)
	require.NoError(t, a.Analyze(ctx))
	_, calls := client.calls()
	assert.Equal(t, 1, calls)

	now = now.Add(31 * time.Minute)
	require.NoError(t, a.Analyze(ctx))
	_, calls = client.calls()
	assert.Equal(t, 2, calls)
}

func TestMarketAnalyzerKeepsEarlierMetadata(t *testing.T) {
	cfg := testConfig(t)
	db, log := newTestDB(t, cfg)
	ctx := context.Background()

	insert(t, db, "0x1", "0xw1", "0xm", storage.SideBuy, 0.5, 10, 100)

	client := &fakeClient{market: &dataapi.MarketInfo{ConditionID: "0xm", Title: "Will it rain?", Slug: "will-it-rain"}}
	a := NewMarketAnalyzer(cfg, db, client, log)
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Analyze(ctx))

	client.mu.Lock()
	client.market = nil
	client.mu.Unlock()
	now = now.Add(2 * time.Hour)
	require.NoError(t, a.Analyze(ctx))

	market, err := db.GetMarket(ctx, "0xm")
	require.NoError(t, err)
	require.NotNil(t, market)
	require.NotNil(t, market.Title)
	assert.Equal(t, "Will it rain?", *market.Title)
	assert.Equal(t, now.Unix(), market.LastFetchedTS)
	assert.Nil(t, market.Description)
	assert.Nil(t, market.Icon)
}
