package dataapi

import (
	"strconv"
)

// RawTrade is one trade record exactly as the Data API returned it.
// Field names vary between payload versions; ingest owns the mapping.
type RawTrade map[string]any

// String returns the field as a string. Numbers are formatted without exponent.
func (t RawTrade) String(key string) string {
	switch v := t[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// MarketInfo is the display metadata embedded on a market's trades.
type MarketInfo struct {
	ConditionID string `json:"condition_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Icon        string `json:"icon"`
}
