package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"stockwatch/internal/advisor"
	"stockwatch/internal/alertlog"
	"stockwatch/internal/scanner"
	"stockwatch/internal/version"
	"stockwatch/internal/watchlist"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	// 客户端断开不应让半途的扫描在落盘与通知之间被取消。
	summary, err := s.engine.Run(context.WithoutCancel(r.Context()), scanner.TriggerManual)
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			writeError(w, http.StatusConflict, "already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type statusResponse struct {
	Running      bool             `json:"running"`
	LastScan     *scanner.Summary `json:"last_scan,omitempty"`
	RecentAlerts []alertlog.Event `json:"recent_alerts"`
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	window := s.opts.StatusWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	recent, err := s.alerts.RecentSince(r.Context(), user, time.Now().Add(-window))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := statusResponse{
		Running:      s.engine.Running(),
		RecentAlerts: recent,
	}
	if summary, ok := s.engine.LastSummary(); ok {
		resp.LastScan = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := alertlog.Filter{
		UserEmail: q.Get("user"),
		StockCode: q.Get("code"),
	}
	if raw := q.Get("from"); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		filter.To = &to
	}

	req := alertlog.PageRequest{
		Page:     intParam(q.Get("page")),
		PageSize: intParam(q.Get("page_size")),
	}

	page, err := s.alerts.Query(r.Context(), filter, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func intParam(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	entries, err := s.watchlist.ListByOwner(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type addWatchRequest struct {
	UserEmail      string          `json:"user_email"`
	StockCode      string          `json:"stock_code"`
	StockName      string          `json:"stock_name"`
	UpperThreshold decimal.Decimal `json:"upper_threshold"`
	LowerThreshold decimal.Decimal `json:"lower_threshold"`
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req addWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := s.watchlist.Add(r.Context(), watchlist.Entry{
		UserEmail:      req.UserEmail,
		StockCode:      req.StockCode,
		StockName:      req.StockName,
		UpperThreshold: req.UpperThreshold,
		LowerThreshold: req.LowerThreshold,
	})
	if err != nil {
		var vErr *watchlist.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, watchlist.ErrDuplicate):
			writeError(w, http.StatusConflict, "entry already exists")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type updateThresholdsRequest struct {
	UserEmail      string          `json:"user_email"`
	UpperThreshold decimal.Decimal `json:"upper_threshold"`
	LowerThreshold decimal.Decimal `json:"lower_threshold"`
}

func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req updateThresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.watchlist.UpdateThresholds(r.Context(), req.UserEmail, code, req.UpperThreshold, req.LowerThreshold)
	if err != nil {
		var vErr *watchlist.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, watchlist.ErrNotFound):
			writeError(w, http.StatusNotFound, "entry not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	if err := s.watchlist.Remove(r.Context(), user, code); err != nil {
		if errors.Is(err, watchlist.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if s.configs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is disabled")
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	configs, err := s.configs.List(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": configs})
}

func (s *Server) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	if s.configs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is disabled")
		return
	}

	var cfg advisor.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.ProviderID = chi.URLParam(r, "id")

	if err := s.configs.Upsert(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.configs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is disabled")
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	settings, err := s.configs.GetSettings(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpsertSettings(w http.ResponseWriter, r *http.Request) {
	if s.configs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is disabled")
		return
	}

	var settings advisor.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.configs.UpsertSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type analyzeRequest struct {
	UserEmail string `json:"user_email"`
	StockCode string `json:"stock_code"`
	Provider  string `json:"provider,omitempty"`
}

// handleAnalyze runs an on-demand opinion outside any firing alert.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.opinions == nil {
		writeError(w, http.StatusServiceUnavailable, "AI is disabled")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserEmail == "" || req.StockCode == "" {
		writeError(w, http.StatusBadRequest, "user_email and stock_code are required")
		return
	}

	entry, err := s.watchlist.Get(r.Context(), req.UserEmail, req.StockCode)
	if err != nil {
		if errors.Is(err, watchlist.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instrument is not watched")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	price, err := s.quotes.GetPrice(r.Context(), req.StockCode)
	if err != nil {
		writeError(w, http.StatusBadGateway, "quote unavailable: "+err.Error())
		return
	}

	opinion := s.opinions.GetOpinion(r.Context(), req.UserEmail, advisor.Request{
		StockCode: entry.StockCode,
		StockName: entry.StockName,
		Price:     price,
	}, req.Provider)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stock_code": entry.StockCode,
		"price":      price,
		"opinion":    opinion,
	})
}
