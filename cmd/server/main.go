package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/internal/metrics"
	"github.com/horizonlab/prospect/internal/scenario"
	"github.com/horizonlab/prospect/internal/temporal"
	obs "github.com/horizonlab/prospect/pkg/otel"
)

type Server struct {
	engine      *scenario.Engine
	events      *temporal.Engine
	store       temporal.Store
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	log         zerolog.Logger
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

type simulateRequest struct {
	Parameters   api.ScenarioParameters `json:"parameters"`
	NumScenarios int                    `json:"num_scenarios"`
}

type recordEventRequest struct {
	Type         api.EventType      `json:"type"`
	Description  string             `json:"description"`
	Data         map[string]float64 `json:"data,omitempty"`
	Domain       string             `json:"domain"`
	Stakeholders []string           `json:"stakeholders,omitempty"`
}

type counterfactualRequest struct {
	EventID     string `json:"event_id"`
	Change      string `json:"change"`
	DepthMonths int    `json:"depth_months"`
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if getEnv("LOG_FORMAT", "json") == "console" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	params := api.DefaultEngineParams()
	params.Workers = getEnvInt("ENGINE_WORKERS", params.Workers)
	params.MaxBatches = getEnvInt("ENGINE_MAX_BATCHES", params.MaxBatches)
	params.CacheSize = getEnvInt("ENGINE_CACHE_SIZE", params.CacheSize)

	// Event store backend
	backend := getEnv("EVENT_BACKEND", "memory")
	var store temporal.Store
	var err error

	switch backend {
	case "memory":
		journalDir := getEnv("EVENT_JOURNAL_DIR", "data/events")
		store, err = temporal.NewMemoryStore(journalDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create memory store")
		}
	case "redis":
		addr := getEnv("REDIS_ADDR", "localhost:6379")
		store, err = temporal.NewRedisStore(addr, getEnv("REDIS_PASSWORD", ""), getEnvInt("REDIS_DB", 0))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis store")
		}
	case "postgres":
		connStr := getEnv("POSTGRES_CONN", "")
		store, err = temporal.NewPostgresStore(connStr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create postgres store")
		}
	default:
		log.Fatal().Str("backend", backend).Msg("unknown EVENT_BACKEND")
	}

	m := metrics.New()
	events := temporal.NewEngine(store, params, m, log)
	engine, err := scenario.NewEngine(params, m, log, scenario.WithTemporalEngine(events))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scenario engine")
	}

	// Tracing is optional; without a collector the no-op provider stands.
	var tp *sdktrace.TracerProvider
	if endpoint := getEnv("OTEL_COLLECTOR", ""); endpoint != "" {
		cfg := obs.DefaultConfig("prospect")
		cfg.CollectorEndpoint = endpoint
		provider, err := obs.InitTracer(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init tracer")
		}
		tp = provider
	}

	tokenRate := getEnvInt("TOKEN_RATE", 100)
	srv := &Server{
		engine:  engine,
		events:  events,
		store:   store,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2),
		log:     log,
	}
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/simulate", srv.handleSimulate)
	mux.HandleFunc("/v1/events", srv.handleEvents)
	mux.HandleFunc("/v1/chains/", srv.handleChain)
	mux.HandleFunc("/v1/counterfactual", srv.handleCounterfactual)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/healthz", handleHealth)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // simulation runs can be slow
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", port).Str("event_backend", backend).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdown
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := obs.Shutdown(ctx, tp); err != nil {
		log.Error().Err(err).Msg("tracer shutdown error")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event store")
	}

	log.Info().Msg("server stopped")
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(w) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var req simulateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.NumScenarios <= 0 {
		req.NumScenarios = 1000
	}

	analysis, err := s.engine.RunScenarioAnalysis(r.Context(), &req.Parameters, req.NumScenarios)
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := http.StatusOK
	if analysis.PartialCompletion {
		status = http.StatusPartialContent
	}
	respondJSON(w, status, analysis)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRecordEvent(w, r)
	case http.MethodGet:
		s.handleListEvents(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w) {
		return
	}

	var req recordEventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Type == "" || req.Description == "" {
		http.Error(w, "type and description are required", http.StatusBadRequest)
		return
	}

	ev, err := s.events.RecordEvent(r.Context(), req.Type, req.Description, req.Data, req.Domain, req.Stakeholders)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := time.Now()
	from := to.Add(-30 * 24 * time.Hour)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = t
	}

	events, err := s.events.EventsInWindow(r.Context(), from, to)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/chains/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "event id required", http.StatusBadRequest)
		return
	}
	maxDepth := 10
	if v := r.URL.Query().Get("max_depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			http.Error(w, "invalid max_depth", http.StatusBadRequest)
			return
		}
		maxDepth = d
	}

	chain, err := s.events.TraceCausalChain(r.Context(), id, maxDepth)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

func (s *Server) handleCounterfactual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(w) {
		return
	}

	var req counterfactualRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.Change == "" {
		http.Error(w, "event_id and change are required", http.StatusBadRequest)
		return
	}
	if req.DepthMonths <= 0 {
		req.DepthMonths = 6
	}

	analysis, err := s.events.PerformCounterfactualAnalysis(r.Context(), req.EventID, req.Change, req.DepthMonths)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

func (s *Server) allow(w http.ResponseWriter) bool {
	if s.limiter.Allow() {
		return true
	}
	w.Header().Set("Retry-After", "10")
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
	return false
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrEventNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrInvalidInput), errors.Is(err, api.ErrInvalidVariableRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrRunCancelled):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	case errors.Is(err, api.ErrStoreUnavailable):
		s.log.Error().Err(err).Msg("event store unavailable")
		http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
