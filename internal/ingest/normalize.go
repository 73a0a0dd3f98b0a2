package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/polyanalytics/internal/polymarket/dataapi"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/shopspring/decimal"
)

// Upstream field aliases, canonical name first. New variants go here and nowhere else.
var (
	walletKeys       = []string{"proxyWallet", "maker_address", "owner", "user"}
	txHashKeys       = []string{"transactionHash", "transaction_hash", "txHash"}
	marketKeys       = []string{"conditionId", "condition_id", "market"}
	tokenKeys        = []string{"asset", "asset_id", "tokenId"}
	timestampKeys    = []string{"timestamp", "match_time", "matchTime"}
	outcomeIndexKeys = []string{"outcomeIndex", "outcome_index"}
	profileImageKeys = []string{"profileImageOptimized", "profileImage"}
)

// Text layouts accepted for timestamps, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// epochSecondsCutoff is above any epoch in seconds. Larger values are taken as
// milliseconds, microseconds or nanoseconds and scaled down by 1000 until below it.
const epochSecondsCutoff = 1e12

// amountPlaces is the rounding applied to price*size.
const amountPlaces = 6

var (
	ErrMissingWallet = errors.New("missing wallet address")
	ErrMalformed     = errors.New("malformed trade record")
)

// Normalizer maps raw Data API records onto storage rows.
type Normalizer struct {
	marketID string
	now      func() time.Time
}

// NewNormalizer creates a normalizer; records without a market fall back to marketID.
func NewNormalizer(marketID string) *Normalizer {
	return &Normalizer{marketID: marketID, now: time.Now}
}

// Trade converts one raw record. Records without a wallet or with unparseable
// numbers are rejected; a missing transaction hash is replaced by a stable digest.
func (n *Normalizer) Trade(raw dataapi.RawTrade) (*storage.Trade, error) {
	wallet := firstString(raw, walletKeys)
	if wallet == "" {
		return nil, ErrMissingWallet
	}

	price, err := number(raw, "price")
	if err != nil {
		return nil, err
	}
	size, err := number(raw, "size")
	if err != nil {
		return nil, err
	}

	side := strings.ToUpper(strings.TrimSpace(raw.String("side")))
	if side != storage.SideBuy && side != storage.SideSell {
		return nil, fmt.Errorf("%w: side %q", ErrMalformed, side)
	}

	market := firstString(raw, marketKeys)
	if market == "" {
		market = n.marketID
	}

	trade := &storage.Trade{
		TransactionHash: firstString(raw, txHashKeys),
		MarketID:        market,
		TokenID:         firstString(raw, tokenKeys),
		ProxyWallet:     wallet,
		Side:            side,
		Price:           price,
		Size:            size,
		Amount:          Amount(price, size),
		Outcome:         raw.String("outcome"),
		OutcomeIndex:    outcomeIndex(raw),
		MarketTitle:     optional(raw.String("title")),
		MarketSlug:      optional(raw.String("slug")),
		MarketIcon:      optional(raw.String("icon")),
		MatchTime:       n.timestamp(raw),
	}
	if trade.TransactionHash == "" {
		trade.TransactionHash = syntheticHash(raw, trade)
	}
	return trade, nil
}

// Trader extracts the profile fields riding on a trade record, or nil without a wallet.
func (n *Normalizer) Trader(raw dataapi.RawTrade) *storage.Trader {
	wallet := firstString(raw, walletKeys)
	if wallet == "" {
		return nil
	}
	return &storage.Trader{
		ProxyWallet:  wallet,
		Name:         optional(raw.String("name")),
		Pseudonym:    optional(raw.String("pseudonym")),
		ProfileImage: optional(firstString(raw, profileImageKeys)),
		Bio:          optional(raw.String("bio")),
	}
}

// Amount is price*size rounded to six decimal places.
func Amount(price, size float64) float64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(size)).
		Round(amountPlaces).
		InexactFloat64()
}

func (n *Normalizer) timestamp(raw dataapi.RawTrade) int64 {
	for _, key := range timestampKeys {
		if v, ok := raw[key]; ok && v != nil {
			if ts, ok := ParseTimestamp(v); ok {
				return ts
			}
			break
		}
	}
	return n.now().Unix()
}

// ParseTimestamp accepts epoch seconds, milliseconds, microseconds or nanoseconds
// (number or numeric text, with fractions) and ISO-8601 text. It reports false for anything else.
func ParseTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return epochSeconds(t)
	case int64:
		return epochSeconds(float64(t))
	case int:
		return epochSeconds(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochSeconds(f)
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Unix(), true
			}
		}
	}
	return 0, false
}

func epochSeconds(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	for f > epochSecondsCutoff {
		f /= 1000
	}
	return int64(f), true
}

// syntheticHash derives a stable identifier so records lacking a hash still deduplicate.
func syntheticHash(raw dataapi.RawTrade, t *storage.Trade) string {
	var ts string
	for _, key := range timestampKeys {
		if ts = raw.String(key); ts != "" {
			break
		}
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		t.ProxyWallet,
		t.MarketID,
		t.TokenID,
		t.Side,
		strconv.FormatFloat(t.Price, 'f', -1, 64),
		strconv.FormatFloat(t.Size, 'f', -1, 64),
		t.Outcome,
		ts,
	}, "|")))
	return "synthetic:" + hex.EncodeToString(sum[:])
}

// number reads a numeric field. Absent or null is zero; anything unparseable is malformed.
func number(raw dataapi.RawTrade, key string) (float64, error) {
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %s is not finite", ErrMalformed, key)
		}
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %s=%q", ErrMalformed, key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrMalformed, key, v)
	}
}

func outcomeIndex(raw dataapi.RawTrade) *int {
	for _, key := range outcomeIndexKeys {
		s := raw.String(key)
		if s == "" {
			continue
		}
		if i, err := strconv.Atoi(s); err == nil {
			return &i
		}
	}
	return nil
}

func firstString(raw dataapi.RawTrade, keys []string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(raw.String(key)); s != "" {
			return s
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
