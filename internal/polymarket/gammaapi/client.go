package gammaapi

import (
	"context"
	"encoding/json"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/polymarket/transport"
	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Client handles communication with the Polymarket Gamma API
type Client struct {
	transport *transport.Transport
	log       *logrus.Logger
}

// NewClient creates a new Gamma API client
func NewClient(cfg *config.Config, gate *ratelimit.Gate, log *logrus.Logger) *Client {
	// Gamma API is public - no auth headers
	return &Client{
		transport: transport.New(transport.Options{
			API:        "gamma",
			BaseURL:    cfg.GammaAPIBaseURL,
			Timeout:    cfg.APITimeout,
			MaxRetries: cfg.APIMaxRetries,
			Backoff:    cfg.APIRetryBackoff,
		}, gate, log),
		log: log,
	}
}

// GetTraderProfile looks up a wallet's public profile. An empty answer and a
// failed request both report false; only the log line differs.
func (c *Client) GetTraderProfile(ctx context.Context, address string) (*Profile, bool) {
	if address == "" {
		return nil, false
	}

	var body json.RawMessage
	err := c.transport.Get(ctx, "/profiles", map[string]string{"address": address}, &body)
	if err != nil {
		c.log.WithError(err).WithField("wallet", address).Warn("Profile lookup failed")
		return nil, false
	}

	raw, ok := decodeProfile(body)
	if !ok {
		c.log.WithField("wallet", address).Debug("No public profile")
		return nil, false
	}
	return raw.normalize(), true
}

// decodeProfile takes the first element of a list response, or a single object.
func decodeProfile(body []byte) (*rawProfile, bool) {
	// Try array first
	var profiles []rawProfile
	if err := json.Unmarshal(body, &profiles); err == nil {
		if len(profiles) == 0 {
			return nil, false
		}
		return &profiles[0], true
	}

	// Try single profile
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil, false
	}
	var profile rawProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, false
	}
	return &profile, true
}
