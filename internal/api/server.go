// Package api serves the read-only HTTP interface: health, metrics and JSON views
// over stored trades and analytics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/liamashdown/polyanalytics/internal/analyzer"
	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/ingest"
	"github.com/liamashdown/polyanalytics/internal/monitor"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Store is the read surface of the database the API needs.
type Store interface {
	Ping(ctx context.Context) error
	RecentTrades(ctx context.Context, f storage.TradeFilter) ([]storage.TradeView, error)
	Stats(ctx context.Context, marketID string) (storage.Stats, error)
	VolumeByOutcome(ctx context.Context, marketID string) ([]storage.OutcomeSideVolume, error)
	TopTraders(ctx context.Context, marketID string, limit int) ([]storage.TopTrader, error)
	GetWallet(ctx context.Context, address string) (*storage.Wallet, error)
	Wallets(ctx context.Context, q storage.WalletQuery) ([]storage.Wallet, error)
	PositionsForWallet(ctx context.Context, address string) ([]storage.PositionView, error)
	Markets(ctx context.Context, limit int) ([]storage.Market, error)
}

// Services exposes the background loops to /api/status. Any of them may be nil.
type Services struct {
	Poller         interface{ Status() ingest.Status }
	Monitor        interface{ Status() monitor.Status }
	WalletAnalyzer interface{ Status() analyzer.Status }
	MarketAnalyzer interface{ Status() analyzer.Status }
}

// Server holds the handlers' dependencies.
type Server struct {
	cfg      *config.Config
	store    Store
	services Services
	log      *logrus.Logger
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, store Store, services Services, log *logrus.Logger) *Server {
	return &Server{cfg: cfg, store: store, services: services, log: log}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/volume", s.handleVolume)
	mux.HandleFunc("GET /api/traders", s.handleTraders)
	mux.HandleFunc("GET /api/whales", s.handleWhales)
	mux.HandleFunc("GET /api/export/csv", s.handleExportCSV)
	mux.HandleFunc("GET /api/wallets", s.handleWallets)
	mux.HandleFunc("GET /api/wallet/{address}", s.handleWallet)
	mux.HandleFunc("GET /api/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithError(err).WithField("path", r.URL.Path).Error("API request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// marketID is the market_id parameter, else the configured market.
func (s *Server) marketID(r *http.Request) string {
	if id := r.URL.Query().Get("market_id"); id != "" {
		return id
	}
	return s.cfg.MarketID
}

// limitParam parses limit, falling back to def when absent or invalid and capping at ceiling.
func limitParam(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, ceiling)
}

// minAmountParam parses min_amount; anything unparseable means no filter.
func minAmountParam(r *http.Request) float64 {
	f, err := strconv.ParseFloat(r.URL.Query().Get("min_amount"), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
