// Package http serves the prediction form, the JSON API, health, history,
// the live websocket feed and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bikeprice/monitoring"
)

type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

type ServerConfig struct {
	Port            int
	Timeout         time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
	RateLimit       int
	RateLimitWindow time.Duration
	Locale          string
	Currency        string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            5000,
		Timeout:         30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
		AllowedOrigins:  []string{"*"},
		RateLimit:       120,
		RateLimitWindow: time.Minute,
		Locale:          "en-IN",
		Currency:        "₹",
	}
}

// Dependencies are the services the routes call into. History and Hub may
// be nil; their routes then report the feature as unavailable.
type Dependencies struct {
	Predictor PredictionService
	History   HistoryReader
	Hub       *monitoring.WebSocketHub
	Logger    *zap.Logger
}

func NewServer(config ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, deps, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			// no WriteTimeout: websocket connections outlive any request
			// deadline; TimeoutMiddleware bounds ordinary handlers
			IdleTimeout: 120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// NewHandler builds the full routing tree. The websocket and metrics routes
// bypass the rate limit, body limit, compression and timeout layers.
func NewHandler(config ServerConfig, deps Dependencies, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := NewHandlers(
		deps.Predictor,
		deps.History,
		NewPriceFormatter(config.Locale, config.Currency),
		len(config.AllowedOrigins) > 0,
		logger,
	)

	app := http.NewServeMux()
	RegisterHandlers(app, handlers)

	appChain := Chain(
		RateLimitMiddleware(config.RateLimit, config.RateLimitWindow),
		RequestSizeMiddleware(config.MaxBodyBytes),
		CompressMiddleware,
		TimeoutMiddleware(config.Timeout),
		MetricsMiddleware, // last: reads the pattern the mux matched
	)

	root := http.NewServeMux()
	root.Handle("/", appChain(app))
	root.Handle("GET /metrics", promhttp.Handler())
	if deps.Hub != nil {
		root.HandleFunc("GET /api/ws", deps.Hub.HandleWebSocket)
	}

	chain := Chain(
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		RealIPMiddleware,
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
	)
	return chain(root)
}

func (s *Server) String() string { return "http-server" }

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			zap.String("addr", s.server.Addr),
			zap.String("websocket", "/api/ws"))
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

func (s *Server) Stop() error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
