package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
	}
}

// Send sends the alert via email
func (s *SMTPSender) Send(ctx context.Context, payload *WhalePayload) error {
	if len(s.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, s.to, s.buildMessage(payload)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(payload *WhalePayload) []byte {
	subject := fmt.Sprintf("[%s] Whale trade: $%.2f on %s", payload.Severity, payload.AmountUSD, truncate(payload.MarketTitle, 80))

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(buildEmailBody(payload))
	return []byte(b.String())
}

func buildEmailBody(payload *WhalePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "POLYANALYTICS WHALE TRADE - %s\n", payload.Severity)
	b.WriteString("═══════════════════════════════════════\n\n")
	b.WriteString("TRADE\n")
	b.WriteString("─────────────────────────────────────\n")
	fmt.Fprintf(&b, "Amount:         $%.2f\n", payload.AmountUSD)
	fmt.Fprintf(&b, "Side:           %s %s\n", payload.Side, payload.Outcome)
	fmt.Fprintf(&b, "Price:          %.4f\n", payload.Price)
	fmt.Fprintf(&b, "Shares:         %.2f\n", payload.Size)
	fmt.Fprintf(&b, "Market:         %s\n", payload.MarketTitle)
	if payload.MarketURL != "" {
		fmt.Fprintf(&b, "Market URL:     %s\n", payload.MarketURL)
	}
	b.WriteString("\nWALLET\n")
	b.WriteString("─────────────────────────────────────\n")
	fmt.Fprintf(&b, "Address:        %s\n", payload.WalletAddress)
	if payload.TraderName != "" {
		fmt.Fprintf(&b, "Name:           %s\n", payload.TraderName)
	}
	b.WriteString("\nTRANSACTION\n")
	b.WriteString("─────────────────────────────────────\n")
	fmt.Fprintf(&b, "Hash:           %s\n", payload.TransactionHash)
	fmt.Fprintf(&b, "Time:           %s\n\n", payload.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "Environment: %s\n", payload.Environment)
	return b.String()
}
