package api

import (
	"time"

	"github.com/liamashdown/polyanalytics/internal/analyzer"
	"github.com/liamashdown/polyanalytics/internal/monitor"
	"github.com/liamashdown/polyanalytics/internal/storage"
)

// Size classes relative to the whale threshold.
const (
	SizeWhale  = "whale"
	SizeMedium = "medium"
	SizeSmall  = "small"

	// mediumFraction of the whale threshold is where medium starts.
	mediumFraction = 0.1
)

// TradeRow is a trade with its derived display fields.
type TradeRow struct {
	storage.TradeView
	SizeClass   string `json:"size_class"`
	IsWhale     bool   `json:"is_whale"`
	DisplayTime string `json:"display_time"`
}

// TraderRow is a leaderboard entry with its size class.
type TraderRow struct {
	storage.TopTrader
	SizeClass string `json:"size_class"`
}

// OutcomeVolume is the per-outcome volume split used by dashboards.
type OutcomeVolume struct {
	Outcome    string  `json:"outcome"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
	BuyCount   int64   `json:"buy_count"`
	SellCount  int64   `json:"sell_count"`
	AvgPrice   float64 `json:"avg_price"`
}

// Summary is the /api/stats payload.
type Summary struct {
	storage.Stats
	MarketID        string          `json:"market_id"`
	WhaleThreshold  float64         `json:"whale_threshold"`
	VolumeByOutcome []OutcomeVolume `json:"volume_by_outcome"`
}

// WalletDetail is the /api/wallet/{address} payload.
type WalletDetail struct {
	Wallet    *storage.Wallet        `json:"wallet"`
	Positions []storage.PositionView `json:"positions"`
	Trades    []TradeRow             `json:"trades"`
}

// ServiceStatus is the /api/status payload. Sections of services that are not running are null.
type ServiceStatus struct {
	Status         string           `json:"status"`
	MarketID       string           `json:"market_id"`
	Timestamp      string           `json:"timestamp"`
	Ingestion      *IngestionStatus `json:"ingestion"`
	Monitor        *monitor.Status  `json:"monitor"`
	WalletAnalyzer *analyzer.Status `json:"wallet_analyzer"`
	MarketAnalyzer *analyzer.Status `json:"market_analyzer"`
}

// IngestionStatus merges the poller counters with the websocket state.
type IngestionStatus struct {
	Running        bool  `json:"running"`
	WSConnected    bool  `json:"ws_connected"`
	PollCount      int64 `json:"poll_count"`
	LastPollTS     int64 `json:"last_poll"`
	TradesIngested int64 `json:"trades_ingested"`
}

// ClassifySize buckets an amount against the whale threshold.
func ClassifySize(amount, threshold float64) string {
	switch {
	case amount >= threshold:
		return SizeWhale
	case amount >= threshold*mediumFraction:
		return SizeMedium
	default:
		return SizeSmall
	}
}

func classifyTrades(trades []storage.TradeView, threshold float64) []TradeRow {
	rows := make([]TradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, TradeRow{
			TradeView:   t,
			SizeClass:   ClassifySize(t.Amount, threshold),
			IsWhale:     t.Amount >= threshold,
			DisplayTime: displayTime(t.MatchTime),
		})
	}
	return rows
}

func classifyTraders(traders []storage.TopTrader, threshold float64) []TraderRow {
	rows := make([]TraderRow, 0, len(traders))
	for _, t := range traders {
		rows = append(rows, TraderRow{TopTrader: t, SizeClass: ClassifySize(t.TotalVolume, threshold)})
	}
	return rows
}

func displayTime(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04 UTC")
}

// ReshapeVolume folds (outcome, side) buckets into one row per outcome, in first-seen order.
// avg_price reports the buy side.
func ReshapeVolume(rows []storage.OutcomeSideVolume) []OutcomeVolume {
	out := make([]OutcomeVolume, 0, len(rows))
	index := make(map[string]int)

	for _, row := range rows {
		outcome := row.Outcome
		if outcome == "" {
			outcome = analyzer.UnknownOutcome
		}
		i, ok := index[outcome]
		if !ok {
			i = len(out)
			index[outcome] = i
			out = append(out, OutcomeVolume{Outcome: outcome})
		}

		switch row.Side {
		case storage.SideBuy:
			out[i].BuyVolume = row.Volume
			out[i].BuyCount = row.TradeCount
			out[i].AvgPrice = row.AvgPrice
		case storage.SideSell:
			out[i].SellVolume = row.Volume
			out[i].SellCount = row.TradeCount
		}
	}
	return out
}
