package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/polymarket/transport"
	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// ErrUnexpectedShape is returned when a trades payload is neither a list nor a known envelope.
var ErrUnexpectedShape = errors.New("unexpected trades payload shape")

// envelopeKeys are the object keys a trades list may be wrapped in.
var envelopeKeys = []string{"data", "trades"}

// Client handles communication with the Polymarket Data API
type Client struct {
	transport *transport.Transport
	log       *logrus.Logger
}

// NewClient creates a new Data API client
func NewClient(cfg *config.Config, gate *ratelimit.Gate, log *logrus.Logger) *Client {
	return &Client{
		transport: transport.New(transport.Options{
			API:        "data",
			BaseURL:    cfg.DataAPIBaseURL,
			Timeout:    cfg.APITimeout,
			MaxRetries: cfg.APIMaxRetries,
			Backoff:    cfg.APIRetryBackoff,
			Headers:    authHeaders(cfg),
		}, gate, log),
		log: log,
	}
}

// RecentTrades fetches the newest trades of a market with a single attempt.
// Failures are returned so the caller can end its cycle.
func (c *Client) RecentTrades(ctx context.Context, market string, limit int) ([]RawTrade, error) {
	var body json.RawMessage
	err := c.transport.GetOnce(ctx, "/trades", map[string]string{
		"market":    market,
		"limit":     strconv.Itoa(limit),
		"takerOnly": "false",
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	return c.decodeTrades(body)
}

// GetMarketInfo resolves display metadata from one trade of the market.
func (c *Client) GetMarketInfo(ctx context.Context, conditionID string) (*MarketInfo, bool) {
	if conditionID == "" {
		return nil, false
	}

	var body json.RawMessage
	err := c.transport.Get(ctx, "/trades", map[string]string{
		"market":    conditionID,
		"limit":     "1",
		"takerOnly": "false",
	}, &body)
	if err != nil {
		c.log.WithError(err).WithField("condition_id", conditionID).Debug("Market info not available")
		return nil, false
	}

	trades, err := c.decodeTrades(body)
	if err != nil || len(trades) == 0 {
		return nil, false
	}

	t := trades[0]
	return &MarketInfo{
		ConditionID: conditionID,
		Title:       t.String("title"),
		Slug:        t.String("slug"),
		Icon:        t.String("icon"),
	}, true
}

// decodeTrades accepts a bare list or a {"data": [...]} / {"trades": [...]} envelope.
// List elements that are not JSON objects are dropped; the rest of the list is kept.
func (c *Client) decodeTrades(body []byte) ([]RawTrade, error) {
	items, err := tradeItems(body)
	if err != nil {
		return nil, err
	}

	trades := make([]RawTrade, 0, len(items))
	for i, item := range items {
		var t RawTrade
		if err := json.Unmarshal(item, &t); err != nil || t == nil {
			c.log.WithField("index", i).Debug("Dropping trade list element that is not an object")
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func tradeItems(body []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrUnexpectedShape
	}
	for _, key := range envelopeKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, ErrUnexpectedShape
}

func authHeaders(cfg *config.Config) map[string]string {
	headers := make(map[string]string, len(cfg.DataAPIExtraHeaders)+1)
	switch cfg.DataAPIAuthMode {
	case config.AuthModeBearer:
		headers["Authorization"] = "Bearer " + cfg.DataAPIBearerToken
	case config.AuthModeAPIKey:
		headers["X-API-KEY"] = cfg.DataAPIAPIKey
	case config.AuthModeNone:
		// No auth headers
	}

	for k, v := range cfg.DataAPIExtraHeaders {
		headers[k] = v
	}
	return headers
}
