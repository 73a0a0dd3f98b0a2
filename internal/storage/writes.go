package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns merged with COALESCE(incoming, stored): a null incoming value keeps what is stored.
var (
	traderProfileColumns = []string{"name", "pseudonym", "profile_image", "bio"}
	marketTextColumns    = []string{"title", "slug", "icon", "description", "category", "end_date", "winning_outcome"}
)

// Columns replaced outright on conflict.
var (
	traderOverwriteColumns = []string{"num_trades", "pnl_cumulative", "updated_ts"}
	walletOverwriteColumns = []string{
		"first_seen", "last_seen", "total_trades", "total_volume", "total_buy_volume",
		"total_sell_volume", "largest_trade", "avg_trade_size", "num_active_positions",
		"win_rate", "realized_pnl", "updated_ts",
	}
	positionOverwriteColumns = []string{
		"net_shares", "avg_entry_price", "total_bought", "total_sold", "realized_pnl", "updated_ts",
	}
	marketOverwriteColumns = []string{"resolved", "last_fetched_ts"}
)

// InsertTrade stores a trade unless its transaction hash is already present.
// It reports whether a new row was written.
func (db *DB) InsertTrade(ctx context.Context, trade *Trade) (inserted bool, err error) {
	defer db.observe("insert_trade", time.Now(), &err)

	if err := trade.Validate(); err != nil {
		return false, err
	}

	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_hash"}},
			DoNothing: true,
		}).
		Create(trade)
	if result.Error != nil {
		return false, fmt.Errorf("insert trade %s: %w", trade.TransactionHash, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// UpsertTrader merges a profile into the trader cache.
func (db *DB) UpsertTrader(ctx context.Context, trader *Trader) (err error) {
	defer db.observe("upsert_trader", time.Now(), &err)

	trader.UpdatedTS = time.Now().Unix()
	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proxy_wallet"}},
			DoUpdates: db.mergeAssignments("traders", traderProfileColumns, traderOverwriteColumns),
		}).
		Create(trader)
	if result.Error != nil {
		return fmt.Errorf("upsert trader %s: %w", trader.ProxyWallet, result.Error)
	}
	return nil
}

// UpsertWallet overwrites the wallet aggregates, coalescing its profile fields.
func (db *DB) UpsertWallet(ctx context.Context, wallet *Wallet) (err error) {
	defer db.observe("upsert_wallet", time.Now(), &err)
	return db.upsertWallet(db.conn.WithContext(ctx), wallet)
}

// UpsertPosition overwrites one (wallet, market, outcome) position.
func (db *DB) UpsertPosition(ctx context.Context, pos *Position) (err error) {
	defer db.observe("upsert_position", time.Now(), &err)
	return db.upsertPosition(db.conn.WithContext(ctx), pos)
}

// SaveWalletAnalytics writes a wallet row and all of its positions as one unit.
func (db *DB) SaveWalletAnalytics(ctx context.Context, wallet *Wallet, positions []Position) (err error) {
	defer db.observe("save_wallet_analytics", time.Now(), &err)

	return db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.upsertWallet(tx, wallet); err != nil {
			return err
		}
		for i := range positions {
			positions[i].WalletAddress = wallet.Address
			if err := db.upsertPosition(tx, &positions[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertMarket merges market metadata; LastFetchedTS always advances to the incoming value.
func (db *DB) UpsertMarket(ctx context.Context, market *Market) (err error) {
	defer db.observe("upsert_market", time.Now(), &err)

	if market.LastFetchedTS == 0 {
		market.LastFetchedTS = time.Now().Unix()
	}
	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "condition_id"}},
			DoUpdates: db.mergeAssignments("markets", marketTextColumns, marketOverwriteColumns),
		}).
		Create(market)
	if result.Error != nil {
		return fmt.Errorf("upsert market %s: %w", market.ConditionID, result.Error)
	}
	return nil
}

func (db *DB) upsertWallet(tx *gorm.DB, wallet *Wallet) error {
	wallet.UpdatedTS = time.Now().Unix()
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: db.mergeAssignments("wallets", traderProfileColumns, walletOverwriteColumns),
	}).Create(wallet)
	if result.Error != nil {
		return fmt.Errorf("upsert wallet %s: %w", wallet.Address, result.Error)
	}
	return nil
}

func (db *DB) upsertPosition(tx *gorm.DB, pos *Position) error {
	pos.UpdatedTS = time.Now().Unix()
	result := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "wallet_address"},
			{Name: "market_id"},
			{Name: "outcome"},
		},
		DoUpdates: db.mergeAssignments("positions", nil, positionOverwriteColumns),
	}).Create(pos)
	if result.Error != nil {
		return fmt.Errorf("upsert position %s/%s/%s: %w", pos.WalletAddress, pos.MarketID, pos.Outcome, result.Error)
	}
	return nil
}

// mergeAssignments builds the conflict update set: coalesced columns keep the stored
// value when the incoming one is null, overwrite columns take the incoming value.
func (db *DB) mergeAssignments(table string, coalesce, overwrite []string) clause.Set {
	set := make(map[string]interface{}, len(coalesce)+len(overwrite))
	for _, col := range coalesce {
		set[col] = gorm.Expr(fmt.Sprintf("COALESCE(%s, %s.%s)", db.incoming(col), table, col))
	}
	for _, col := range overwrite {
		set[col] = gorm.Expr(db.incoming(col))
	}
	return clause.Assignments(set)
}

// incoming references the value proposed for insertion inside a conflict clause.
func (db *DB) incoming(col string) string {
	if db.dialect == "mysql" {
		return "VALUES(" + col + ")"
	}
	return "excluded." + col
}
