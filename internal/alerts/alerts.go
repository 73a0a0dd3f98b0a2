package alerts

import (
	"context"
	"time"

	"github.com/liamashdown/polyanalytics/internal/storage"
)

// Severity represents alert severity
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityAlert Severity = "ALERT"
)

// megaWhaleMultiple of the whale threshold escalates an alert to SeverityAlert.
const megaWhaleMultiple = 10

// WhalePayload describes one newly stored trade at or above the whale threshold.
type WhalePayload struct {
	Severity        Severity
	WalletAddress   string
	WalletShort     string // Shortened for display
	TraderName      string
	MarketID        string
	MarketTitle     string
	MarketURL       string
	Side            string
	Outcome         string
	Price           float64
	Size            float64
	AmountUSD       float64
	TransactionHash string
	TxHashShort     string // Shortened for display
	Timestamp       time.Time
	Environment     string
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *WhalePayload) error
}

// NewWhalePayload builds the alert for a stored trade. trader may be nil.
func NewWhalePayload(trade *storage.Trade, trader *storage.Trader, threshold float64, environment string) *WhalePayload {
	severity := SeverityInfo
	if threshold > 0 && trade.Amount >= threshold*megaWhaleMultiple {
		severity = SeverityAlert
	}

	payload := &WhalePayload{
		Severity:        severity,
		WalletAddress:   trade.ProxyWallet,
		WalletShort:     shorten(trade.ProxyWallet),
		MarketID:        trade.MarketID,
		MarketTitle:     trade.MarketID,
		Side:            trade.Side,
		Outcome:         trade.Outcome,
		Price:           trade.Price,
		Size:            trade.Size,
		AmountUSD:       trade.Amount,
		TransactionHash: trade.TransactionHash,
		TxHashShort:     shorten(trade.TransactionHash),
		Timestamp:       time.Unix(trade.MatchTime, 0),
		Environment:     environment,
	}
	if trade.MarketTitle != nil && *trade.MarketTitle != "" {
		payload.MarketTitle = *trade.MarketTitle
	}
	if trade.MarketSlug != nil && *trade.MarketSlug != "" {
		payload.MarketURL = "https://polymarket.com/event/" + *trade.MarketSlug
	}
	if trader != nil {
		switch {
		case trader.Name != nil && *trader.Name != "":
			payload.TraderName = *trader.Name
		case trader.Pseudonym != nil && *trader.Pseudonym != "":
			payload.TraderName = *trader.Pseudonym
		}
	}
	return payload
}

// shorten renders 0x1234567890abcdef as 0x1234...cdef.
func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
