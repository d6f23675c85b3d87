package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/udp-quote-service/internal/catalog"
	"github.com/skypro1111/udp-quote-service/internal/config"
	"github.com/skypro1111/udp-quote-service/internal/metrics"
	"github.com/skypro1111/udp-quote-service/internal/monitor"
	"github.com/skypro1111/udp-quote-service/internal/session"
)

// ServiceName and ServiceVersion are reported by the health and index endpoints
const (
	ServiceName    = "udp-quote-service"
	ServiceVersion = "1.0.0"
)

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	config    *config.Config
	manager   *session.Manager
	udpServer *UDPServer
	catalog   *catalog.Catalog
	hub       *monitor.Hub
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, manager *session.Manager,
	udpServer *UDPServer, cat *catalog.Catalog, hub *monitor.Hub, m *metrics.Metrics,
	gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   manager,
		udpServer: udpServer,
		catalog:   cat,
		hub:       hub,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:        net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:     h.Routes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Routes builds the API router
func (h *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	r.Get("/catalog", h.withMetrics("/catalog", h.handleCatalog))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// Long-lived and self-instrumented endpoints are not wrapped
	r.Get("/ws/sessions", h.hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		handler(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// Start listens and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.hub.Close()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.udpServer.GetStatistics()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    ServiceName,
			"version": ServiceVersion,
		},
		"components": map[string]any{
			"udp_server": map[string]any{
				"status":             "running",
				"datagrams_received": stats.DatagramsReceived,
				"parse_errors":       stats.ParseErrors,
			},
			"sessions": map[string]any{
				"status":          "running",
				"active_sessions": stats.ActiveSessions,
				"queued_sessions": stats.QueuedSessions,
			},
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":           time.Since(h.startTime).String(),
		"timestamp":        time.Now().UTC(),
		"udp":              h.udpServer.GetStatistics(),
		"sessions_started": h.manager.TotalStarted(),
		"ws_subscribers":   h.hub.ClientCount(),
	})
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.GetAllSessions()
	infos := make([]session.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetSessionInfo())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": h.manager.Snapshot(),
		"timestamp":       time.Now().UTC(),
		"sessions":        infos,
	})
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	s, exists := h.manager.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.GetSessionInfo())
}

// handleCatalog implements the /catalog endpoint
func (h *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID uint32 `json:"id"`
		catalog.Item
	}

	items := h.catalog.Items()
	entries := make([]entry, len(items))
	for i, item := range items {
		entries[i] = entry{ID: uint32(i + 1), Item: item}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fragments_per_item": h.catalog.FragmentsPerItem(),
		"items":              entries,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	catalogSource := h.config.Catalog.Path
	if catalogSource == "" {
		catalogSource = "embedded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"ip_version":              h.config.Server.IPVersion,
			"port":                    h.config.Server.Port,
			"read_buffer_size":        h.config.Server.ReadBufferSize,
			"socket_buffer_size":      h.config.Server.SocketBufferSize,
			"max_concurrent_sessions": h.config.Server.MaxConcurrentSessions,
			"reuse_address":           h.config.Server.ReuseAddress,
		},
		"session": map[string]any{
			"pacing_interval": h.config.Session.PacingInterval,
		},
		"reporter": map[string]any{
			"interval": h.config.Reporter.Interval,
		},
		"catalog": map[string]any{
			"source": catalogSource,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "UDP Quote Service",
		"version": ServiceVersion,
		"endpoints": map[string]any{
			"GET /":              "API documentation",
			"GET /health":        "Service health check",
			"GET /stats":         "Dispatcher and worker statistics",
			"GET /sessions":      "List active sessions",
			"GET /sessions/{id}": "Get one active session",
			"GET /catalog":       "List catalog items",
			"GET /config":        "Get service configuration",
			"GET /ws/sessions":   "WebSocket stream of active session counts",
			"GET /metrics":       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
