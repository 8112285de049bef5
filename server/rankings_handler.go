package main

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/report"
	"github.com/umarmf343/rankbeam/internal/runner"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

const maxBodyBytes = 1 << 20

// RankingsHandler runs rank checks and streams their records as NDJSON.
type RankingsHandler struct {
	runner      *runner.Runner
	token       string
	maxRequests int
	runs        *semaphore.Weighted
	logger      *slog.Logger
}

func NewRankingsHandler(r *runner.Runner, token string, maxRequests, maxRuns int, logger *slog.Logger) *RankingsHandler {
	if maxRuns < 1 {
		maxRuns = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RankingsHandler{
		runner:      r,
		token:       token,
		maxRequests: maxRequests,
		runs:        semaphore.NewWeighted(int64(maxRuns)),
		logger:      logger,
	}
}

// Check accepts a JSON array of monitoring requests. The response is one
// progress line per request followed by a complete line.
func (h *RankingsHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(w, r) {
		return
	}

	var requests []monitor.MonitoringRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&requests); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := h.validate(requests); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.runs.TryAcquire(1) {
		http.Error(w, "too many monitoring runs in progress", http.StatusTooManyRequests)
		return
	}
	defer h.runs.Release(1)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	runID, err := h.runner.Run(r.Context(), requests, report.NewNDJSON(w))
	if err != nil {
		h.logger.Warn("rank check ended early", "run_id", runID, "error", err)
	}
}

// Countries lists the marketplace codes a check can target.
func (h *RankingsHandler) Countries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string][]string{"countries": scraper.Countries()}); err != nil {
		h.logger.Error("encode countries", "error", err)
	}
}

func (h *RankingsHandler) validate(requests []monitor.MonitoringRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("at least one monitoring request is required")
	}
	if h.maxRequests > 0 && len(requests) > h.maxRequests {
		return fmt.Errorf("at most %d monitoring requests per call", h.maxRequests)
	}
	for i, req := range requests {
		if strings.TrimSpace(req.Keyword) == "" || strings.TrimSpace(req.TargetASIN) == "" {
			return fmt.Errorf("request %d: keyword and target_asin are required", i)
		}
	}
	return monitor.ValidateRequests(requests)
}

func (h *RankingsHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		return true
	}
	provided := r.Header.Get("X-API-Token")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) == 1 {
		return true
	}
	http.Error(w, "forbidden", http.StatusForbidden)
	return false
}
