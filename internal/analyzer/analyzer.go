// Package analyzer derives wallet analytics and market metadata from stored trades.
package analyzer

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/liamashdown/polyanalytics/internal/loop"
	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/polymarket/gammaapi"
)

// MarketClient is the upstream lookup surface the analyzers need. A false return
// means the data is not available right now; callers never see transport errors.
type MarketClient interface {
	GetMarketInfo(ctx context.Context, conditionID string) (*dataapi.MarketInfo, bool)
	GetTraderProfile(ctx context.Context, address string) (*gammaapi.Profile, bool)
}

// Status is a snapshot for health reporting.
type Status struct {
	Running   bool  `json:"running"`
	RunCount  int64 `json:"run_count"`
	LastRunTS int64 `json:"last_run_ts"`
}

func statusOf(r *loop.Runner) Status {
	return Status{
		Running:   r.Running(),
		RunCount:  r.Cycles(),
		LastRunTS: r.LastRunTS(),
	}
}

// contain turns a panic in one item into an error. Use as `defer contain(&err)`.
func contain(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("recovered panic: %v\n%s", p, debug.Stack())
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
