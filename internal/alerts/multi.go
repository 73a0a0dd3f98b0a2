package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/sirupsen/logrus"
)

// MultiSender fans an alert out to every configured destination
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
	}
}

// Send delivers to all senders; one failing destination does not stop the others.
func (s *MultiSender) Send(ctx context.Context, payload *WhalePayload) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.Send(ctx, payload); err != nil {
			metrics.AlertsSent.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
			continue
		}
		metrics.AlertsSent.WithLabelValues("success").Inc()
	}
	return errors.Join(errs...)
}

// Len is the number of destinations.
func (s *MultiSender) Len() int {
	return len(s.senders)
}

// NewFromConfig builds a sender for every mode listed in ALERT_MODE.
// Discord gets one sender per webhook URL. Falls back to logging when nothing usable is configured.
func NewFromConfig(cfg *config.Config, log *logrus.Logger) *MultiSender {
	var senders []Sender

	for _, mode := range cfg.AlertModes() {
		switch mode {
		case "log":
			senders = append(senders, NewLogSender(log))
		case "discord":
			if len(cfg.DiscordWebhookURLs) == 0 {
				log.Warn("Discord mode specified but DISCORD_WEBHOOK_URLS not set")
				continue
			}
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, NewDiscordSender(url))
			}
		case "smtp":
			if cfg.SMTPHost == "" {
				log.Warn("SMTP mode specified but SMTP_HOST not set")
				continue
			}
			senders = append(senders, NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid alert senders configured, using log")
		senders = append(senders, NewLogSender(log))
	}
	return NewMultiSender(senders...)
}
