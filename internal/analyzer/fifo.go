package analyzer

import (
	"github.com/liamashdown/polyanalytics/internal/storage"
)

const (
	// Lots and sell remainders below this are rounding noise.
	lotEpsilon = 1e-9
	// ActiveShareThreshold is the net share count above which a position counts as open.
	ActiveShareThreshold = 1e-6
	// UnknownOutcome groups trades that carry no outcome label.
	UnknownOutcome = "Unknown"
)

// PositionKey identifies one position of a wallet.
type PositionKey struct {
	MarketID string
	Outcome  string
}

// PositionResult is the outcome of FIFO matching for one group.
type PositionResult struct {
	PositionKey
	NetShares     float64
	AvgEntryPrice float64
	TotalBought   float64 // USD
	TotalSold     float64 // USD
	RealizedPnL   float64
	// OrphanedShares were sold without a recorded buy to match and are left out of RealizedPnL.
	OrphanedShares float64
}

// WalletStats are the per-wallet aggregates of one linear pass.
type WalletStats struct {
	FirstSeen       int64
	LastSeen        int64
	TotalTrades     int
	TotalVolume     float64
	TotalBuyVolume  float64
	TotalSellVolume float64
	LargestTrade    float64
	AvgTradeSize    float64
}

type lot struct {
	shares   float64
	unitCost float64
}

// AggregateStats summarizes a wallet's trades.
func AggregateStats(trades []storage.Trade) WalletStats {
	var s WalletStats
	if len(trades) == 0 {
		return s
	}

	s.FirstSeen = trades[0].MatchTime
	s.LastSeen = trades[0].MatchTime
	for _, t := range trades {
		s.FirstSeen = min(s.FirstSeen, t.MatchTime)
		s.LastSeen = max(s.LastSeen, t.MatchTime)
		s.TotalVolume += t.Amount
		s.LargestTrade = max(s.LargestTrade, t.Amount)
		switch t.Side {
		case storage.SideBuy:
			s.TotalBuyVolume += t.Amount
		case storage.SideSell:
			s.TotalSellVolume += t.Amount
		}
	}
	s.TotalTrades = len(trades)
	s.AvgTradeSize = s.TotalVolume / float64(len(trades))
	return s
}

// ComputePositions groups trades by (market, outcome) and runs MatchFIFO on each group.
// trades must be oldest first. Results come back in order of each group's first trade.
func ComputePositions(trades []storage.Trade) []PositionResult {
	groups := make(map[PositionKey][]storage.Trade)
	var order []PositionKey
	for _, t := range trades {
		key := PositionKey{MarketID: t.MarketID, Outcome: t.Outcome}
		if key.Outcome == "" {
			key.Outcome = UnknownOutcome
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	results := make([]PositionResult, 0, len(order))
	for _, key := range order {
		r := MatchFIFO(groups[key])
		r.PositionKey = key
		results = append(results, r)
	}
	return results
}

// MatchFIFO computes realized PnL for one group of trades, oldest first. Each sell
// consumes the oldest open lots; whatever a sell cannot match is orphaned.
func MatchFIFO(trades []storage.Trade) PositionResult {
	var (
		r            PositionResult
		queue        []lot
		boughtShares float64
		soldShares   float64
	)

	for _, t := range trades {
		switch t.Side {
		case storage.SideBuy:
			boughtShares += t.Size
			r.TotalBought += t.Amount
			queue = append(queue, lot{shares: t.Size, unitCost: t.Price})

		case storage.SideSell:
			soldShares += t.Size
			r.TotalSold += t.Amount

			remaining := t.Size
			for remaining > lotEpsilon && len(queue) > 0 {
				head := &queue[0]
				matched := min(head.shares, remaining)
				r.RealizedPnL += matched * (t.Price - head.unitCost)
				head.shares -= matched
				remaining -= matched
				if head.shares < lotEpsilon {
					queue = queue[1:]
				}
			}
			if remaining > lotEpsilon {
				r.OrphanedShares += remaining
			}
		}
	}

	r.NetShares = max(0, boughtShares-soldShares)
	if boughtShares > lotEpsilon {
		r.AvgEntryPrice = r.TotalBought / boughtShares
	}
	return r
}
