// Package polymarket combines the Data and Gamma APIs behind one outbound gate.
package polymarket

import (
	"context"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/polymarket/gammaapi"
	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Client is the process-wide upstream client. Every request it makes, from any
// goroutine, passes through the same gate.
type Client struct {
	Data  *dataapi.Client
	Gamma *gammaapi.Client
}

// NewClient builds both API clients around one gate.
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	gate := ratelimit.New(cfg.APIMinInterval)
	return &Client{
		Data:  dataapi.NewClient(cfg, gate, log),
		Gamma: gammaapi.NewClient(cfg, gate, log),
	}
}

// RecentTrades fetches the newest trades of a market.
func (c *Client) RecentTrades(ctx context.Context, market string, limit int) ([]dataapi.RawTrade, error) {
	return c.Data.RecentTrades(ctx, market, limit)
}

// GetMarketInfo resolves market display metadata.
func (c *Client) GetMarketInfo(ctx context.Context, conditionID string) (*dataapi.MarketInfo, bool) {
	return c.Data.GetMarketInfo(ctx, conditionID)
}

// GetTraderProfile resolves a wallet's public profile.
func (c *Client) GetTraderProfile(ctx context.Context, address string) (*gammaapi.Profile, bool) {
	return c.Gamma.GetTraderProfile(ctx, address)
}
