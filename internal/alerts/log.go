package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes alerts to the structured log
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, payload *WhalePayload) error {
	s.log.WithFields(logrus.Fields{
		"severity":   payload.Severity,
		"wallet":     payload.WalletShort,
		"trader":     payload.TraderName,
		"market":     payload.MarketTitle,
		"side":       payload.Side,
		"outcome":    payload.Outcome,
		"price":      payload.Price,
		"amount_usd": payload.AmountUSD,
		"tx_hash":    payload.TxHashShort,
	}).Info("Whale trade")
	return nil
}
