package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MaxQueryLimit bounds every list query.
const MaxQueryLimit = 100000

// DefaultWalletOrder is used when a leaderboard sort key is not allow-listed.
const DefaultWalletOrder = "total_volume"

// walletOrderColumns is the only set of columns a leaderboard may sort by.
var walletOrderColumns = map[string]string{
	"total_volume": "total_volume",
	"realized_pnl": "realized_pnl",
	"total_trades": "total_trades",
	"last_seen":    "last_seen",
}

// TradeFilter narrows RecentTrades. Zero values mean "no filter".
type TradeFilter struct {
	MarketID  string
	Wallet    string
	MinAmount float64
	Limit     int
}

// TradeView is a stored trade plus cached trader display fields.
type TradeView struct {
	Trade              `gorm:"embedded"`
	TraderName         *string `json:"trader_name"`
	TraderPseudonym    *string `json:"trader_pseudonym"`
	TraderProfileImage *string `json:"trader_profile_image"`
}

// Stats summarizes a market's stored trades.
type Stats struct {
	TotalTrades   int64   `json:"total_trades"`
	TotalVolume   float64 `json:"total_volume"`
	AvgTradeSize  float64 `json:"avg_trade_size"`
	LargestTrade  float64 `json:"largest_trade"`
	UniqueTraders int64   `json:"unique_traders"`
}

// OutcomeSideVolume is one (outcome, side) bucket.
type OutcomeSideVolume struct {
	Outcome    string  `json:"outcome"`
	Side       string  `json:"side"`
	TradeCount int64   `json:"trade_count"`
	Volume     float64 `json:"volume"`
	AvgPrice   float64 `json:"avg_price"`
}

// TopTrader ranks a wallet by volume within one market.
type TopTrader struct {
	ProxyWallet  string  `json:"proxy_wallet"`
	Name         *string `json:"name"`
	Pseudonym    *string `json:"pseudonym"`
	ProfileImage *string `json:"profile_image"`
	TradeCount   int64   `json:"trade_count"`
	TotalVolume  float64 `json:"total_volume"`
	BuyVolume    float64 `json:"buy_volume"`
	SellVolume   float64 `json:"sell_volume"`
	LastTrade    int64   `json:"last_trade"`
}

// WalletQuery parameterizes the wallet leaderboard.
type WalletQuery struct {
	Limit     int
	OrderBy   string
	MinVolume float64
}

// PositionView is a position joined with its market's display fields.
type PositionView struct {
	Position    `gorm:"embedded"`
	MarketTitle *string `json:"market_title"`
	MarketSlug  *string `json:"market_slug"`
}

// WalletOrderColumn maps a requested sort key onto the allow-list.
func WalletOrderColumn(orderBy string) string {
	if col, ok := walletOrderColumns[orderBy]; ok {
		return col
	}
	return DefaultWalletOrder
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// RecentTrades returns trades newest first.
func (db *DB) RecentTrades(ctx context.Context, f TradeFilter) (trades []TradeView, err error) {
	defer db.observe("recent_trades", time.Now(), &err)

	q := db.conn.WithContext(ctx).
		Table("trades AS t").
		Select("t.*, tr.name AS trader_name, tr.pseudonym AS trader_pseudonym, tr.profile_image AS trader_profile_image").
		Joins("LEFT JOIN traders tr ON tr.proxy_wallet = t.proxy_wallet")
	if f.MarketID != "" {
		q = q.Where("t.market_id = ?", f.MarketID)
	}
	if f.Wallet != "" {
		q = q.Where("t.proxy_wallet = ?", f.Wallet)
	}
	if f.MinAmount > 0 {
		q = q.Where("t.amount >= ?", f.MinAmount)
	}

	err = q.Order("t.match_time DESC").Order("t.id DESC").
		Limit(clampLimit(f.Limit, 1000)).
		Scan(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	return trades, nil
}

// Stats aggregates a market's trades. An empty marketID covers every market.
func (db *DB) Stats(ctx context.Context, marketID string) (stats Stats, err error) {
	defer db.observe("stats", time.Now(), &err)

	q := db.conn.WithContext(ctx).Model(&Trade{}).
		Select("COUNT(*) AS total_trades, " +
			"COALESCE(SUM(amount), 0) AS total_volume, " +
			"COALESCE(AVG(amount), 0) AS avg_trade_size, " +
			"COALESCE(MAX(amount), 0) AS largest_trade, " +
			"COUNT(DISTINCT proxy_wallet) AS unique_traders")
	if marketID != "" {
		q = q.Where("market_id = ?", marketID)
	}
	if err = q.Scan(&stats).Error; err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// VolumeByOutcome groups volume by outcome and side.
func (db *DB) VolumeByOutcome(ctx context.Context, marketID string) (rows []OutcomeSideVolume, err error) {
	defer db.observe("volume_by_outcome", time.Now(), &err)

	q := db.conn.WithContext(ctx).Model(&Trade{}).
		Select("outcome, side, COUNT(*) AS trade_count, SUM(amount) AS volume, AVG(price) AS avg_price")
	if marketID != "" {
		q = q.Where("market_id = ?", marketID)
	}
	err = q.Group("outcome, side").Order("outcome").Order("side").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query volume by outcome: %w", err)
	}
	return rows, nil
}

// TopTraders ranks wallets by traded volume.
func (db *DB) TopTraders(ctx context.Context, marketID string, limit int) (traders []TopTrader, err error) {
	defer db.observe("top_traders", time.Now(), &err)

	q := db.conn.WithContext(ctx).
		Table("trades AS t").
		Select("t.proxy_wallet, " +
			"MAX(tr.name) AS name, MAX(tr.pseudonym) AS pseudonym, MAX(tr.profile_image) AS profile_image, " +
			"COUNT(*) AS trade_count, SUM(t.amount) AS total_volume, " +
			"SUM(CASE WHEN t.side = 'BUY' THEN t.amount ELSE 0 END) AS buy_volume, " +
			"SUM(CASE WHEN t.side = 'SELL' THEN t.amount ELSE 0 END) AS sell_volume, " +
			"MAX(t.match_time) AS last_trade").
		Joins("LEFT JOIN traders tr ON tr.proxy_wallet = t.proxy_wallet")
	if marketID != "" {
		q = q.Where("t.market_id = ?", marketID)
	}
	err = q.Group("t.proxy_wallet").
		Order("total_volume DESC").
		Limit(clampLimit(limit, 20)).
		Scan(&traders).Error
	if err != nil {
		return nil, fmt.Errorf("query top traders: %w", err)
	}
	return traders, nil
}

// GetWallet returns nil when the wallet has not been analyzed yet.
func (db *DB) GetWallet(ctx context.Context, address string) (wallet *Wallet, err error) {
	defer db.observe("get_wallet", time.Now(), &err)

	var w Wallet
	result := db.conn.WithContext(ctx).Where("address = ?", address).First(&w)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &w, nil
}

// Wallets returns the leaderboard, sorted descending by an allow-listed column.
func (db *DB) Wallets(ctx context.Context, wq WalletQuery) (wallets []Wallet, err error) {
	defer db.observe("wallets", time.Now(), &err)

	q := db.conn.WithContext(ctx).Model(&Wallet{})
	if wq.MinVolume > 0 {
		q = q.Where("total_volume >= ?", wq.MinVolume)
	}
	err = q.Order(WalletOrderColumn(wq.OrderBy) + " DESC").
		Order("address").
		Limit(clampLimit(wq.Limit, 100)).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	return wallets, nil
}

// PositionsForWallet lists a wallet's positions with market titles, largest holdings first.
func (db *DB) PositionsForWallet(ctx context.Context, address string) (positions []PositionView, err error) {
	defer db.observe("positions_for_wallet", time.Now(), &err)

	err = db.conn.WithContext(ctx).
		Table("positions AS p").
		Select("p.*, m.title AS market_title, m.slug AS market_slug").
		Joins("LEFT JOIN markets m ON m.condition_id = p.market_id").
		Where("p.wallet_address = ?", address).
		Order("p.net_shares DESC").
		Order("p.realized_pnl DESC").
		Scan(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("query positions for %s: %w", address, err)
	}
	return positions, nil
}

// TradesForWallet returns the wallet's full history oldest first, the order FIFO matching needs.
func (db *DB) TradesForWallet(ctx context.Context, address string) (trades []Trade, err error) {
	defer db.observe("trades_for_wallet", time.Now(), &err)

	err = db.conn.WithContext(ctx).
		Where("proxy_wallet = ?", address).
		Order("match_time ASC").
		Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", address, err)
	}
	return trades, nil
}

// DistinctWallets lists every wallet seen in trades.
func (db *DB) DistinctWallets(ctx context.Context) (wallets []string, err error) {
	defer db.observe("distinct_wallets", time.Now(), &err)

	err = db.conn.WithContext(ctx).Model(&Trade{}).
		Distinct("proxy_wallet").
		Order("proxy_wallet").
		Pluck("proxy_wallet", &wallets).Error
	return wallets, err
}

// DistinctMarkets lists every market id seen in trades.
func (db *DB) DistinctMarkets(ctx context.Context) (markets []string, err error) {
	defer db.observe("distinct_markets", time.Now(), &err)

	err = db.conn.WithContext(ctx).Model(&Trade{}).
		Distinct("market_id").
		Order("market_id").
		Pluck("market_id", &markets).Error
	return markets, err
}

// DistinctTokens lists the outcome token ids traded in a market.
func (db *DB) DistinctTokens(ctx context.Context, marketID string) (tokens []string, err error) {
	defer db.observe("distinct_tokens", time.Now(), &err)

	err = db.conn.WithContext(ctx).Model(&Trade{}).
		Where("market_id = ? AND token_id <> ''", marketID).
		Distinct("token_id").
		Order("token_id").
		Pluck("token_id", &tokens).Error
	return tokens, err
}

// GetTrader returns nil when the wallet has no cached profile.
func (db *DB) GetTrader(ctx context.Context, address string) (trader *Trader, err error) {
	defer db.observe("get_trader", time.Now(), &err)

	var t Trader
	result := db.conn.WithContext(ctx).Where("proxy_wallet = ?", address).First(&t)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &t, nil
}

// GetMarket returns nil for markets never fetched.
func (db *DB) GetMarket(ctx context.Context, conditionID string) (market *Market, err error) {
	defer db.observe("get_market", time.Now(), &err)

	var m Market
	result := db.conn.WithContext(ctx).Where("condition_id = ?", conditionID).First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &m, nil
}

// Markets lists cached market metadata, most recently fetched first.
func (db *DB) Markets(ctx context.Context, limit int) (markets []Market, err error) {
	defer db.observe("markets", time.Now(), &err)

	err = db.conn.WithContext(ctx).
		Order("last_fetched_ts DESC").
		Order("condition_id").
		Limit(clampLimit(limit, 100)).
		Find(&markets).Error
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	return markets, nil
}
