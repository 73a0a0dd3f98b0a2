package alerts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DiscordSender posts alerts to a Discord webhook
type DiscordSender struct {
	webhookURL string
	client     *resty.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(10 * time.Second),
	}
}

// Send sends the alert to Discord
func (s *DiscordSender) Send(ctx context.Context, payload *WhalePayload) error {
	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(payload)},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}

func (s *DiscordSender) buildEmbed(payload *WhalePayload) map[string]interface{} {
	title := "🐋 Whale trade"
	color := 0x0099FF // Blue
	if payload.Severity == SeverityAlert {
		title = "🚨 Whale trade (ALERT)"
		color = 0xFF0000 // Red
	}

	description := fmt.Sprintf("**$%.2f** %s **%s** @ **%.2f**",
		payload.AmountUSD,
		payload.Side,
		payload.Outcome,
		payload.Price,
	)

	wallet := fmt.Sprintf("`%s`", payload.WalletShort)
	if payload.TraderName != "" {
		wallet = fmt.Sprintf("%s (`%s`)", payload.TraderName, payload.WalletShort)
	}

	fields := []map[string]interface{}{
		{"name": "Wallet", "value": wallet, "inline": true},
		{"name": "Market", "value": truncate(payload.MarketTitle, 100), "inline": true},
		{"name": "Shares", "value": fmt.Sprintf("%.2f", payload.Size), "inline": true},
		{"name": "Tx", "value": fmt.Sprintf("`%s`", payload.TxHashShort), "inline": true},
	}

	embed := map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer": map[string]interface{}{
			"text": fmt.Sprintf("polyanalytics • %s", payload.Environment),
		},
		"timestamp": payload.Timestamp.UTC().Format(time.RFC3339),
	}
	if payload.MarketURL != "" {
		embed["url"] = payload.MarketURL
	}
	return embed
}
