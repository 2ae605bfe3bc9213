package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/state"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/elys-network/vaultengine/internal/vault"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilVault = errors.New("web server needs a vault")
)

// JournalReader is the read side of the plan journal.
type JournalReader interface {
	RecentPlans(ctx context.Context, vault string, limit int) ([]state.PlanRecord, error)
	Stats(ctx context.Context, vault string) ([]state.ActionStats, error)
	CurrentSequence(ctx context.Context, vault string) (int64, error)
}

// Config wires the server. Journal and Gatherer are optional.
type Config struct {
	Addr     string
	Vault    *vault.Vault
	Params   types.FeeParameters
	Journal  JournalReader
	Gatherer prometheus.Gatherer
}

// WebServer serves a read-only JSON view of one vault: its normalized strategy, fee
// parameters and plan journal, plus Prometheus metrics.
type WebServer struct {
	router  *mux.Router
	addr    string
	vault   *vault.Vault
	params  types.FeeParameters
	journal JournalReader
	started time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Vault == nil {
		return nil, ErrNilVault
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		addr:    cfg.Addr,
		vault:   cfg.Vault,
		params:  cfg.Params,
		journal: cfg.Journal,
		started: time.Now(),
	}

	server.setupRoutes(cfg.Gatherer)
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(gatherer prometheus.Gatherer) {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	if gatherer != nil {
		ws.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet, http.MethodOptions)
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/strategy", ws.handleGetStrategy).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/strategy/{category}", ws.handleGetCategory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/plans", ws.handleGetPlans).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/plans/stats", ws.handleGetStats).Methods(http.MethodGet, http.MethodOptions)

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	webLogger := logger.GetForComponent("web_server")
	webLogger.Info().Str("addr", ws.addr).Str("vault", ws.vault.Name()).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.addr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		webLogger.Info().Msg("Shutting down web server")
		return server.Shutdown(shutdownCtx)
	}
}

// handleHealth reports the vault and, when a journal is configured, its reachability
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "OK"
	statusCode := http.StatusOK

	journal := map[string]interface{}{"enabled": ws.journal != nil}
	if ws.journal != nil {
		seq, err := ws.journal.CurrentSequence(r.Context(), ws.vault.Name())
		if err != nil {
			status = "DEGRADED"
			statusCode = http.StatusServiceUnavailable
			journal["healthy"] = false
		} else {
			journal["healthy"] = true
			journal["sequence"] = seq
		}
	}

	response := map[string]interface{}{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"vault":          ws.vault.Name(),
		"allocations":    ws.vault.Strategy().Len(),
		"uptime_seconds": int64(time.Since(ws.started).Seconds()),
		"journal":        journal,
	}
	ws.writeJSONResponse(w, statusCode, response)
}

type allocationView struct {
	Category string  `json:"category"`
	Chain    string  `json:"chain"`
	Index    int     `json:"index"`
	Protocol string  `json:"protocol"`
	Weight   float64 `json:"weight"`
}

type categoryView struct {
	Name   string  `json:"name"`
	Target float64 `json:"target"`
	Total  float64 `json:"total"`
}

// handleGetStrategy returns the normalized allocations in tree order
func (ws *WebServer) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	tree := ws.vault.Strategy()
	mapping := ws.vault.WeightMapping()

	entries := tree.Flatten()
	allocations := make([]allocationView, 0, len(entries))
	for _, e := range entries {
		allocations = append(allocations, allocationView{
			Category: e.Category,
			Chain:    e.Chain,
			Index:    e.Index,
			Protocol: e.ProtocolID(),
			Weight:   e.Allocation.Weight,
		})
	}
	categories := make([]categoryView, 0, len(tree.Categories))
	for _, c := range tree.Categories {
		categories = append(categories, categoryView{Name: c.Name, Target: mapping[c.Name], Total: tree.CategoryTotal(c.Name)})
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vault":       ws.vault.Name(),
		"categories":  categories,
		"allocations": allocations,
		"total":       tree.Total(),
	})
}

// handleGetCategory returns one category's chain bucket in its exportable form
func (ws *WebServer) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["category"]
	if _, ok := ws.vault.Strategy().Category(name); !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Category not found")
		return
	}

	var allocations []allocationView
	for _, chain := range ws.vault.Export(name) {
		for i, a := range chain.Allocations {
			id := ""
			if a.Protocol != nil {
				id = a.Protocol.UniqueID()
			}
			allocations = append(allocations, allocationView{Category: name, Chain: chain.Chain, Index: i, Protocol: id, Weight: a.Weight})
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"category":    name,
		"allocations": allocations,
	})
}

// handleGetParameters returns the fee parameters the planner runs with
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"swap_fee_rate":        ws.params.SwapFeeRate.String(),
		"referral_fee_rate":    ws.params.ReferralFeeRate.String(),
		"min_withdraw_usd":     ws.params.MinWithdrawUSD,
		"rebalance_threshold":  ws.params.RebalanceThreshold,
		"max_concurrent_reads": ws.params.MaxConcurrentReads,
	})
}

// handleGetPlans returns the latest journaled plans
func (ws *WebServer) handleGetPlans(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Plan journal is disabled")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	plans, err := ws.journal.RecentPlans(r.Context(), ws.vault.Name(), limit)
	if err != nil {
		wsLogger := logger.GetForComponent("web_server")
		wsLogger.Error().Err(err).Msg("Failed to get recent plans")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve plans")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
		"limit": limit,
	})
}

// handleGetStats returns the journal aggregated per action
func (ws *WebServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Plan journal is disabled")
		return
	}

	stats, err := ws.journal.Stats(r.Context(), ws.vault.Name())
	if err != nil {
		wsLogger := logger.GetForComponent("web_server")
		wsLogger.Error().Err(err).Msg("Failed to get plan stats")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve plan stats")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"actions": stats})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		wsLogger := logger.GetForComponent("web_server")
		wsLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		wsLogger := logger.GetForComponent("web_server")
		wsLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
