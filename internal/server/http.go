package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/amr1k/rtmptranscribe/internal/audio"
	"github.com/amr1k/rtmptranscribe/internal/config"
	"github.com/amr1k/rtmptranscribe/internal/metrics"
	"github.com/amr1k/rtmptranscribe/internal/session"
	"github.com/amr1k/rtmptranscribe/internal/transcription"
)

const (
	serviceName    = "rtmptranscribe"
	serviceVersion = "1.0.0"
)

// SessionSource reports the state of the running session
type SessionSource interface {
	Info() session.Info
}

// BridgeStatsSource reports audio bridge statistics
type BridgeStatsSource interface {
	GetStats() audio.BridgeStats
}

// ClientStatsSource reports recognition client statistics
type ClientStatsSource interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides HTTP endpoints for monitoring a transcription run
type HTTPServer struct {
	server  *http.Server
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics

	// attached as the pipeline comes up
	session SessionSource
	bridge  BridgeStatsSource
	client  ClientStatsSource

	listener  net.Listener
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new status server
func NewHTTPServer(cfg config.HTTPConfig, logger *zap.Logger, appConfig *config.Config, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &HTTPServer{
		logger:    logger.With(zap.String("component", "http")),
		config:    appConfig,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// SetSession attaches the running session
func (h *HTTPServer) SetSession(s SessionSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

// SetBridge attaches the audio bridge
func (h *HTTPServer) SetBridge(b BridgeStatsSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// SetClient attaches the recognition client
func (h *HTTPServer) SetClient(c ClientStatsSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = c
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	h.logger.Info("Starting HTTP status server", zap.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP status server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) sources() (SessionSource, BridgeStatsSource, ClientStatsSource) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session, h.bridge, h.client
}

// handleHealth implements the /health endpoint. A failed session reports 503.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, bridge, _ := h.sources()

	status, code := "healthy", http.StatusOK
	components := map[string]any{}

	if sess != nil {
		info := sess.Info()
		components["session"] = map[string]any{
			"id":    info.ID,
			"state": info.State,
		}
		if info.State == session.StateFailed {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	} else {
		components["session"] = map[string]any{"state": "waiting"}
	}

	if bridge != nil {
		stats := bridge.GetStats()
		components["audio_bridge"] = map[string]any{
			"closed":         stats.Closed,
			"chunks_queued":  stats.ChunksQueued,
			"pending_chunks": stats.PendingChunks,
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, _, _ := h.sources()
	if sess == nil {
		http.Error(w, "No session started", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sess.Info())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, bridge, client := h.sources()

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if bridge != nil {
		stats["audio_bridge"] = bridge.GetStats()
	}
	if client != nil {
		stats["recognition"] = client.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint; secrets are masked
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := h.config.YAML(true)
	if err != nil {
		h.logger.Error("Failed to render config", zap.Error(err))
		http.Error(w, "Failed to render config", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /session": "Current transcription session",
			"GET /stats":   "Audio bridge and recognition statistics",
			"GET /config":  "Effective configuration (YAML, secrets masked)",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
