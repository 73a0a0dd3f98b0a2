package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/liamashdown/polyanalytics/internal/analyzer"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/liamashdown/polyanalytics/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		metrics.RecordHealthCheck(false)
		s.log.WithError(err).Warn("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(r.Context(), storage.TradeFilter{
		MarketID:  s.marketID(r),
		Wallet:    r.URL.Query().Get("wallet"),
		MinAmount: minAmountParam(r),
		Limit:     limitParam(r, 100, 1000),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyTrades(trades, s.cfg.WhaleThresholdUSD))
}

func (s *Server) summary(r *http.Request) (*Summary, error) {
	marketID := s.marketID(r)

	stats, err := s.store.Stats(r.Context(), marketID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.VolumeByOutcome(r.Context(), marketID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Stats:           stats,
		MarketID:        marketID,
		WhaleThreshold:  s.cfg.WhaleThresholdUSD,
		VolumeByOutcome: ReshapeVolume(rows),
	}, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summary(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.VolumeByOutcome(r.Context(), s.marketID(r))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReshapeVolume(rows))
}

func (s *Server) handleTraders(w http.ResponseWriter, r *http.Request) {
	traders, err := s.store.TopTraders(r.Context(), s.marketID(r), limitParam(r, 20, 100))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyTraders(traders, s.cfg.WhaleThresholdUSD))
}

func (s *Server) handleWhales(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(r.Context(), storage.TradeFilter{
		MarketID:  s.marketID(r),
		MinAmount: s.cfg.WhaleThresholdUSD,
		Limit:     limitParam(r, 50, 500),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyTrades(trades, s.cfg.WhaleThresholdUSD))
}

var csvHeader = []string{
	"id", "transaction_hash", "market_id", "token_id", "proxy_wallet", "side",
	"price", "size", "amount", "outcome", "outcome_index", "market_title", "market_slug",
	"market_icon", "match_time", "created_ts", "trader_name", "trader_pseudonym",
	"trader_profile_image",
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	marketID := s.marketID(r)
	trades, err := s.store.RecentTrades(r.Context(), storage.TradeFilter{
		MarketID:  marketID,
		MinAmount: minAmountParam(r),
		Limit:     limitParam(r, 10000, storage.MaxQueryLimit),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(trades) == 0 {
		writeError(w, http.StatusNotFound, "No trades match the filter criteria")
		return
	}

	body, err := encodeCSV(trades)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	name := marketID
	if name == "" {
		name = "all"
	}
	if len(name) > 16 {
		name = name[:16]
	}
	filename := fmt.Sprintf("trades_%s_%s.csv", name, time.Now().UTC().Format("20060102_150405"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func encodeCSV(trades []storage.TradeView) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range trades {
		record := []string{
			strconv.FormatInt(t.ID, 10),
			t.TransactionHash,
			t.MarketID,
			t.TokenID,
			t.ProxyWallet,
			t.Side,
			formatFloat(t.Price),
			formatFloat(t.Size),
			formatFloat(t.Amount),
			t.Outcome,
			formatIntPtr(t.OutcomeIndex),
			deref(t.MarketTitle),
			deref(t.MarketSlug),
			deref(t.MarketIcon),
			strconv.FormatInt(t.MatchTime, 10),
			strconv.FormatInt(t.CreatedTS, 10),
			deref(t.TraderName),
			deref(t.TraderPseudonym),
			deref(t.TraderProfileImage),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.Wallets(r.Context(), storage.WalletQuery{
		Limit:     limitParam(r, 50, 200),
		OrderBy:   storage.WalletOrderColumn(r.URL.Query().Get("order_by")),
		MinVolume: minAmountParam(r),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	wallet, err := s.store.GetWallet(r.Context(), address)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound,
			"No data found for this wallet. It may not have any trades yet or the analyzer hasn't run.")
		return
	}

	positions, err := s.store.PositionsForWallet(r.Context(), address)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	trades, err := s.store.RecentTrades(r.Context(), storage.TradeFilter{
		Wallet: address,
		Limit:  limitParam(r, 50, 200),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WalletDetail{
		Wallet:    wallet,
		Positions: positions,
		Trades:    classifyTrades(trades, s.cfg.WhaleThresholdUSD),
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.Markets(r.Context(), limitParam(r, 50, 200))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := ServiceStatus{
		Status:    "ok",
		MarketID:  s.cfg.MarketID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.services.Monitor != nil {
		ms := s.services.Monitor.Status()
		status.Monitor = &ms
	}
	if s.services.Poller != nil {
		ps := s.services.Poller.Status()
		status.Ingestion = &IngestionStatus{
			Running:        ps.Running,
			PollCount:      ps.PollCount,
			LastPollTS:     ps.LastPollTS,
			TradesIngested: ps.NewTradesTotal,
		}
		if status.Monitor != nil {
			status.Ingestion.WSConnected = status.Monitor.Connected
		}
	}
	status.WalletAnalyzer = analyzerStatus(s.services.WalletAnalyzer)
	status.MarketAnalyzer = analyzerStatus(s.services.MarketAnalyzer)

	writeJSON(w, http.StatusOK, status)
}

func analyzerStatus(src interface{ Status() analyzer.Status }) *analyzer.Status {
	if src == nil {
		return nil
	}
	st := src.Status()
	return &st
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatIntPtr(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
