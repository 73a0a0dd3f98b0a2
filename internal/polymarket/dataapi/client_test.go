package dataapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg *config.Config, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg.DataAPIBaseURL = srv.URL
	cfg.APITimeout = 2 * time.Second
	cfg.APIRetryBackoff = time.Millisecond
	return NewClient(cfg, ratelimit.New(0), log)
}

func TestRecentTradesPayloadShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"bare list", `[{"transactionHash":"0x1"},{"transactionHash":"0x2"}]`, 2, false},
		{"data envelope", `{"data":[{"transactionHash":"0x1"}]}`, 1, false},
		{"trades envelope", `{"trades":[{"transactionHash":"0x1"}]}`, 1, false},
		{"empty list", `[]`, 0, false},
		{"bad elements dropped", `[{"transactionHash":"0x1"},42,"x",null,[1],{"transactionHash":"0x2"}]`, 2, false},
		{"bad elements in envelope", `{"data":[7,{"transactionHash":"0x1"}]}`, 1, false},
		{"unknown envelope", `{"results":[]}`, 0, true},
		{"scalar", `42`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &config.Config{}, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/trades", r.URL.Path)
				assert.Equal(t, "0xmarket", r.URL.Query().Get("market"))
				assert.Equal(t, "500", r.URL.Query().Get("limit"))
				_, _ = w.Write([]byte(tt.body))
			})

			trades, err := client.RecentTrades(context.Background(), "0xmarket", 500)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnexpectedShape))
				return
			}
			require.NoError(t, err)
			assert.Len(t, trades, tt.want)
		})
	}
}

func TestRecentTradesSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, &config.Config{APIMaxRetries: 3}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.RecentTrades(context.Background(), "0xmarket", 500)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetMarketInfo(t *testing.T) {
	client := newTestClient(t, &config.Config{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("market") {
		case "0xknown":
			_, _ = w.Write([]byte(`[{"title":"Will it rain?","slug":"will-it-rain","icon":"https://img/rain.png"}]`))
		case "0xempty":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	info, ok := client.GetMarketInfo(context.Background(), "0xknown")
	require.True(t, ok)
	assert.Equal(t, "0xknown", info.ConditionID)
	assert.Equal(t, "Will it rain?", info.Title)
	assert.Equal(t, "will-it-rain", info.Slug)
	assert.Equal(t, "https://img/rain.png", info.Icon)

	_, ok = client.GetMarketInfo(context.Background(), "0xempty")
	assert.False(t, ok)

	_, ok = client.GetMarketInfo(context.Background(), "0xmissing")
	assert.False(t, ok)

	_, ok = client.GetMarketInfo(context.Background(), "")
	assert.False(t, ok)
}

func TestAuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.Config
		header string
		want   string
	}{
		{"bearer", config.Config{DataAPIAuthMode: config.AuthModeBearer, DataAPIBearerToken: "tok"}, "Authorization", "Bearer tok"},
		{"api key", config.Config{DataAPIAuthMode: config.AuthModeAPIKey, DataAPIAPIKey: "key"}, "X-API-KEY", "key"},
		{"extra", config.Config{DataAPIAuthMode: config.AuthModeNone, DataAPIExtraHeaders: map[string]string{"X-Env": "prod"}}, "X-Env", "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			client := newTestClient(t, &cfg, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.want, r.Header.Get(tt.header))
				_, _ = w.Write([]byte(`[]`))
			})

			_, err := client.RecentTrades(context.Background(), "0xmarket", 1)
			require.NoError(t, err)
		})
	}
}

func TestRawTradeString(t *testing.T) {
	raw := RawTrade{"a": "x", "b": float64(1700000000), "c": true, "d": nil}
	assert.Equal(t, "x", raw.String("a"))
	assert.Equal(t, "1700000000", raw.String("b"))
	assert.Equal(t, "true", raw.String("c"))
	assert.Equal(t, "", raw.String("d"))
	assert.Equal(t, "", raw.String("missing"))
}
