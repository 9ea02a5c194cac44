package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/config"
	"github.com/MiracleAig/IoT-WebUI/internal/events"
	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// Resolver looks products up by barcode.
type Resolver interface {
	Resolve(ctx context.Context, barcode string) (*models.Product, error)
}

// Recorder stores and lists scans.
type Recorder interface {
	Record(ctx context.Context, in models.ScanInput) (*models.ScanRecord, error)
	History(ctx context.Context, filter models.ScanFilter) ([]*models.ScanRecord, error)
}

// Summarizer computes daily totals.
type Summarizer interface {
	Summarize(ctx context.Context, day string) (*models.Summary, error)
	Today() string
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Resolver    Resolver
	Recorder    Recorder
	Summarizer  Summarizer
	Health      Pinger
	Broadcaster *events.Broadcaster
	Metrics     *metrics.Metrics // nil disables /metrics
	Logger      *zap.Logger
}

type Server struct {
	cfg       config.ServerConfig
	keepalive time.Duration

	resolver    Resolver
	recorder    Recorder
	summarizer  Summarizer
	health      Pinger
	broadcaster *events.Broadcaster
	metrics     *metrics.Metrics
	logger      *zap.Logger

	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New wires the routes for the nutrition API.
func New(cfg config.ServerConfig, stream config.StreamConfig, deps Deps) *Server {
	s := &Server{
		cfg:         cfg,
		keepalive:   stream.Keepalive,
		resolver:    deps.Resolver,
		recorder:    deps.Recorder,
		summarizer:  deps.Summarizer,
		health:      deps.Health,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      logger.OrNop(deps.Logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.CORSAllowOrigins),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(logger.Recovery(s.logger))
	r.Use(logger.GinMiddleware(s.logger))
	r.Use(CORS(s.cfg.CORSAllowOrigins))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/product/:barcode", s.handleProduct)
		api.POST("/scan", s.handleScan)
		api.GET("/scans", s.handleScans)
		api.GET("/summary", s.handleSummary)
		api.GET("/summary/today", s.handleSummaryToday)
		api.GET("/stream", s.handleStream)
		api.GET("/ws", s.handleWebSocket)
	}
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then closes the live feeds and shuts
// the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	s.broadcaster.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited gracefully")
	return nil
}
