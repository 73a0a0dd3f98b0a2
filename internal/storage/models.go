package storage

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// ErrInvalidTrade is returned by InsertTrade for records that violate the trade invariants.
var ErrInvalidTrade = errors.New("invalid trade")

// Trade is an ingested fill. Rows are write-once: the only mutation is the first insert.
type Trade struct {
	ID              int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionHash string  `gorm:"size:130;not null;uniqueIndex" json:"transaction_hash"`
	MarketID        string  `gorm:"size:128;not null;index" json:"market_id"`
	TokenID         string  `gorm:"size:128" json:"token_id"`
	ProxyWallet     string  `gorm:"size:128;not null;index" json:"proxy_wallet"`
	Side            string  `gorm:"size:8;not null" json:"side"`
	Price           float64 `gorm:"not null" json:"price"`
	Size            float64 `gorm:"not null" json:"size"`
	Amount          float64 `gorm:"not null;index" json:"amount"`
	Outcome         string  `gorm:"size:255" json:"outcome"`
	OutcomeIndex    *int    `json:"outcome_index"`
	MarketTitle     *string `gorm:"size:512" json:"market_title"`
	MarketSlug      *string `gorm:"size:255" json:"market_slug"`
	MarketIcon      *string `gorm:"size:512" json:"market_icon"`
	MatchTime       int64   `gorm:"not null;index" json:"match_time"`
	CreatedTS       int64   `gorm:"not null" json:"created_ts"`
}

func (Trade) TableName() string {
	return "trades"
}

// Validate checks the invariants a stored trade must satisfy.
func (t *Trade) Validate() error {
	switch {
	case t.TransactionHash == "":
		return fmt.Errorf("%w: missing transaction hash", ErrInvalidTrade)
	case t.ProxyWallet == "":
		return fmt.Errorf("%w: missing wallet", ErrInvalidTrade)
	case t.MarketID == "":
		return fmt.Errorf("%w: missing market", ErrInvalidTrade)
	case t.Side != SideBuy && t.Side != SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, t.Side)
	case math.IsNaN(t.Price) || t.Price < 0 || t.Price > 1:
		return fmt.Errorf("%w: price %v outside [0,1]", ErrInvalidTrade, t.Price)
	case math.IsNaN(t.Size) || t.Size < 0:
		return fmt.Errorf("%w: negative size %v", ErrInvalidTrade, t.Size)
	}
	return nil
}

// Trader caches profile fields that ride along on trade payloads.
type Trader struct {
	ProxyWallet   string  `gorm:"primaryKey;size:128" json:"proxy_wallet"`
	Name          *string `gorm:"size:255" json:"name"`
	Pseudonym     *string `gorm:"size:255" json:"pseudonym"`
	ProfileImage  *string `gorm:"size:1024" json:"profile_image"`
	Bio           *string `gorm:"type:text" json:"bio"`
	NumTrades     int     `gorm:"not null;default:0" json:"num_trades"`
	PnLCumulative float64 `gorm:"column:pnl_cumulative;not null;default:0" json:"pnl_cumulative"`
	UpdatedTS     int64   `gorm:"not null" json:"updated_ts"`
}

func (Trader) TableName() string {
	return "traders"
}

// HasIdentity reports whether the cached profile carries a display identity.
func (t *Trader) HasIdentity() bool {
	return t != nil && (nonEmpty(t.Name) || nonEmpty(t.Pseudonym))
}

// Wallet is the aggregated analytics row, rewritten wholesale every analyzer cycle.
type Wallet struct {
	Address            string   `gorm:"primaryKey;size:128" json:"address"`
	Name               *string  `gorm:"size:255" json:"name"`
	Pseudonym          *string  `gorm:"size:255" json:"pseudonym"`
	ProfileImage       *string  `gorm:"size:1024" json:"profile_image"`
	Bio                *string  `gorm:"type:text" json:"bio"`
	FirstSeen          int64    `gorm:"not null" json:"first_seen"`
	LastSeen           int64    `gorm:"not null;index" json:"last_seen"`
	TotalTrades        int      `gorm:"not null;default:0;index" json:"total_trades"`
	TotalVolume        float64  `gorm:"not null;default:0;index" json:"total_volume"`
	TotalBuyVolume     float64  `gorm:"not null;default:0" json:"total_buy_volume"`
	TotalSellVolume    float64  `gorm:"not null;default:0" json:"total_sell_volume"`
	LargestTrade       float64  `gorm:"not null;default:0" json:"largest_trade"`
	AvgTradeSize       float64  `gorm:"not null;default:0" json:"avg_trade_size"`
	NumActivePositions int      `gorm:"not null;default:0" json:"num_active_positions"`
	WinRate            *float64 `json:"win_rate"`
	RealizedPnL        float64  `gorm:"column:realized_pnl;not null;default:0;index" json:"realized_pnl"`
	UpdatedTS          int64    `gorm:"not null" json:"updated_ts"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// HasIdentity reports whether a previously stored profile can be reused.
func (w *Wallet) HasIdentity() bool {
	return w != nil && (nonEmpty(w.Name) || nonEmpty(w.Pseudonym))
}

// Position is one (wallet, market, outcome) holding derived by FIFO matching.
type Position struct {
	ID            int64   `gorm:"primaryKey;autoIncrement" json:"-"`
	WalletAddress string  `gorm:"size:128;not null;uniqueIndex:idx_positions_wallet_market_outcome" json:"wallet_address"`
	MarketID      string  `gorm:"size:128;not null;uniqueIndex:idx_positions_wallet_market_outcome" json:"market_id"`
	Outcome       string  `gorm:"size:255;not null;uniqueIndex:idx_positions_wallet_market_outcome" json:"outcome"`
	NetShares     float64 `gorm:"not null;default:0" json:"net_shares"`
	AvgEntryPrice float64 `gorm:"not null;default:0" json:"avg_entry_price"`
	TotalBought   float64 `gorm:"not null;default:0" json:"total_bought"`
	TotalSold     float64 `gorm:"not null;default:0" json:"total_sold"`
	RealizedPnL   float64 `gorm:"column:realized_pnl;not null;default:0" json:"realized_pnl"`
	UpdatedTS     int64   `gorm:"not null" json:"updated_ts"`
}

func (Position) TableName() string {
	return "positions"
}

// Market caches display metadata; LastFetchedTS gates refetching.
type Market struct {
	ConditionID    string  `gorm:"primaryKey;size:128" json:"condition_id"`
	Title          *string `gorm:"size:512" json:"title"`
	Slug           *string `gorm:"size:255" json:"slug"`
	Icon           *string `gorm:"size:1024" json:"icon"`
	Description    *string `gorm:"type:text" json:"description"`
	Category       *string `gorm:"size:128" json:"category"`
	EndDate        *int64  `json:"end_date"`
	Resolved       bool    `gorm:"not null;default:false" json:"resolved"`
	WinningOutcome *string `gorm:"size:255" json:"winning_outcome"`
	LastFetchedTS  int64   `gorm:"not null;index" json:"last_fetched_ts"`
}

func (Market) TableName() string {
	return "markets"
}

// BeforeCreate hooks for timestamps

func (t *Trade) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedTS == 0 {
		t.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (t *Trader) BeforeCreate(tx *gorm.DB) error {
	if t.UpdatedTS == 0 {
		t.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.UpdatedTS == 0 {
		w.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.UpdatedTS == 0 {
		p.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (m *Market) BeforeCreate(tx *gorm.DB) error {
	if m.LastFetchedTS == 0 {
		m.LastFetchedTS = time.Now().Unix()
	}
	return nil
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
