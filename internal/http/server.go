package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"streamrev/internal/core"
	"streamrev/internal/flood"
)

const (
	serviceName     = "streamrev"
	shutdownTimeout = 10 * time.Second
)

// Services are the collaborators behind the API routes.
type Services struct {
	PlayCounts core.PlayCountService
	Metadata   core.MetadataFetcher
	Tokens     core.TokenIssuer
	Floodgate  *flood.Floodgate // nil disables per-client limiting
}

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	LookupsTotal          *prometheus.CounterVec
	ConfidenceTotal       *prometheus.CounterVec
	MetadataRequestsTotal *prometheus.CounterVec
	TokenRequestsTotal    *prometheus.CounterVec
	RateLimitedTotal      prometheus.Counter
	LookupDuration        *prometheus.HistogramVec
	InFlightLookups       prometheus.Gauge
}

func NewServer(config *core.ServerConfig, services Services, logger *zap.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := newMetrics(registry)

	if fg := services.Floodgate; fg != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "streamrev_flood_active_clients",
				Help: "Number of clients tracked by the per-client limit",
			},
			func() float64 { return float64(fg.GetStats().ActiveClients) },
		))
	}

	api := &apiHandler{
		services: services,
		metrics:  metrics,
		logger:   logger,
	}
	mux := setupRoutes(logger, api, registry)

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, mux),
		metrics: metrics,
	}
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrev_lookups_total",
				Help: "Total number of play-count lookups by outcome",
			},
			[]string{"outcome"},
		),
		ConfidenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrev_play_count_confidence_total",
				Help: "Reconciled play counts by evidence source",
			},
			[]string{"confidence"},
		),
		MetadataRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrev_metadata_requests_total",
				Help: "Total number of track metadata requests",
			},
			[]string{"status"},
		),
		TokenRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamrev_token_requests_total",
				Help: "Total number of access token requests",
			},
			[]string{"status"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "streamrev_rate_limited_total",
				Help: "Total number of API requests rejected by the per-client limit",
			},
		),
		LookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamrev_lookup_duration_seconds",
				Help:    "Time spent on play-count lookups, browser included",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
			},
			[]string{"outcome"},
		),
		InFlightLookups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "streamrev_lookups_in_flight",
				Help: "Number of play-count lookups currently running",
			},
		),
	}

	registerer.MustRegister(
		metrics.LookupsTotal,
		metrics.ConfidenceTotal,
		metrics.MetadataRequestsTotal,
		metrics.TokenRequestsTotal,
		metrics.RateLimitedTotal,
		metrics.LookupDuration,
		metrics.InFlightLookups,
	)

	return metrics
}

func setupRoutes(logger *zap.Logger, api *apiHandler, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`)); err != nil {
			logger.Debug("Failed to write health response", zap.Error(err))
		}
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"` + serviceName + `"}`)); err != nil {
			logger.Debug("Failed to write ready response", zap.Error(err))
		}
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if api != nil {
		mux.Handle("GET /api/spotify/track/{trackId}", api.route(api.playCount))
		mux.Handle("GET /api/spotify/metadata/{trackId}", api.route(api.metadata))
		mux.Handle("GET /api/spotify/token", api.route(api.token))
		mux.HandleFunc("OPTIONS /api/", preflight)
	}

	mux.HandleFunc("GET /{$}", homeHandler(logger))

	return mux
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>StreamRev</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">StreamRev</h1>
    <p>Spotify play counts and estimated streaming revenue</p>

    <h2>API</h2>
    <div class="endpoint"><code>GET /api/spotify/track/{trackId}</code> - Play count and revenue estimate</div>
    <div class="endpoint"><code>GET /api/spotify/metadata/{trackId}</code> - Track metadata</div>
    <div class="endpoint"><code>GET /api/spotify/token</code> - Client-credentials access token</div>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>

    <p>Revenue uses an industry-average rate of $0.00238 per stream. It is an estimate, not a payout figure.</p>
</body>
</html>`)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
