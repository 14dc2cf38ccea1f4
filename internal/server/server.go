// Package server wires the risk pipeline together and serves the
// operator API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/riskwatch/internal/alerts"
	"github.com/mbd888/riskwatch/internal/config"
	"github.com/mbd888/riskwatch/internal/consumer"
	"github.com/mbd888/riskwatch/internal/engine"
	"github.com/mbd888/riskwatch/internal/health"
	"github.com/mbd888/riskwatch/internal/idgen"
	"github.com/mbd888/riskwatch/internal/linkstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/publisher"
	"github.com/mbd888/riskwatch/internal/ratelimit"
	"github.com/mbd888/riskwatch/internal/realtime"
	"github.com/mbd888/riskwatch/internal/security"
	"github.com/mbd888/riskwatch/internal/traces"
	"github.com/mbd888/riskwatch/internal/webhook"
	"github.com/mbd888/riskwatch/internal/window"
)

// Server owns the HTTP surface and the pipeline lifecycle.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	aggregator *window.Aggregator
	links      *linkstore.Store
	engine     *engine.Engine
	recent     *alerts.RecentStore
	audit      alerts.Store // nil without DATABASE_URL
	pub        publisher.Publisher
	dispatcher *webhook.Dispatcher
	consumer   *consumer.Consumer // nil when the engine is disabled
	hub        *realtime.Hub

	healthReg   *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil when using in-memory audit
	router      *gin.Engine
	httpSrv     *http.Server
	stopTracing func(context.Context) error
	cancelRun   context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPublisher injects an alert publisher (used by tests to avoid a
// real broker).
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Server) { s.pub = p }
}

// New builds the full pipeline from configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Alert audit trail: Postgres when configured, otherwise none.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.audit = alerts.NewPostgresStore(db)
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Failing("database", err.Error())
			}
			return health.OK("database")
		})
		s.logger.Info("alert audit trail enabled", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.logger.Info("no DATABASE_URL set, alert history disabled")
	}

	s.aggregator = window.New(
		window.WithWindow(cfg.WindowDuration),
		window.WithVelocityWindow(cfg.VelocityWindow),
		window.WithLogger(s.logger),
	)
	s.links = linkstore.New()
	s.engine = engine.New(s.aggregator, s.links,
		engine.WithThreshold(cfg.RiskThreshold),
		engine.WithLevelThresholds(cfg.MediumThreshold, cfg.HighThreshold, cfg.CriticalThreshold),
		engine.WithLogger(s.logger),
	)
	s.recent = alerts.NewRecentStore(cfg.RecentAlertsMax)
	s.hub = realtime.NewHub(s.logger)

	s.dispatcher = webhook.New(webhook.Config{
		Enabled:          cfg.WebhookEnabled,
		MaxRetries:       cfg.WebhookMaxRetries,
		RetryDelay:       cfg.WebhookRetryDelay,
		Timeout:          cfg.WebhookTimeout,
		PoolSize:         cfg.WebhookPoolSize,
		QueueSize:        cfg.WebhookQueueSize,
		BreakerThreshold: cfg.WebhookBreakerThreshold,
		BreakerOpenFor:   time.Minute,
	}, s.logger)

	// Alert publisher: real Kafka unless a test injected one.
	if s.pub == nil {
		if cfg.EngineEnabled {
			pub, err := publisher.NewKafka(cfg.Brokers, cfg.AlertsTopic, s.logger)
			if err != nil {
				return nil, fmt.Errorf("create alert publisher: %w", err)
			}
			s.pub = pub
		} else {
			s.pub = publisher.NewMemory()
		}
	}

	pipeline := consumer.NewPipeline(s.engine, s.recent, s.pub, s.dispatcher, s.logger,
		consumer.WithAudit(s.audit),
		consumer.WithBroadcaster(s.hub),
	)

	if cfg.EngineEnabled {
		cons, err := consumer.New(cfg.Brokers, cfg.ConsumerGroupID, cfg.EventsTopic, pipeline, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create consumer: %w", err)
		}
		s.consumer = cons
		s.healthReg.Register("kafka", func(ctx context.Context) health.Status {
			if s.consumer.Running() {
				return health.OK("kafka")
			}
			return health.Failing("kafka", "consumer group not running")
		})
	} else {
		s.logger.Warn("risk engine disabled, no events will be consumed")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides credentials in connection strings for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.FromContext(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.Headers())
	s.router.Use(security.CORS([]string{"*"}))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an upstream request ID when present.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.FromContext(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthzHandler)
	s.router.GET("/readyz", s.readyzHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Operator dashboard
	s.router.GET("/", dashboardHandler)

	// Live alert feed
	s.router.GET("/ws/alerts", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	risk := s.router.Group("/api/v1/risk")
	alerts.NewHandler(s.recent, s.audit, s.logger).RegisterRoutes(risk)
	webhook.NewHandler(s.dispatcher).RegisterRoutes(risk)
}

func (s *Server) healthzHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.Check(c.Request.Context())
	if !s.healthy.Load() {
		healthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readyzHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "riskwatch",
		"description": "Real-time payment risk evaluation",
		"version":     "0.1.0",
	})
}

// Run starts the pipeline and blocks until a shutdown signal or a fatal
// server error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go metrics.StartRuntimeCollector(runCtx, 15*time.Second)

	s.dispatcher.Start()
	if s.consumer != nil {
		go s.consumer.Start(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains the pipeline in dependency order: stop consuming
// first, then finish webhook deliveries, then flush the producer, then
// close the HTTP surface.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			s.logger.Error("consumer close error", "error", err)
		} else {
			s.logger.Info("consumer stopped")
		}
	}

	s.dispatcher.Stop(s.cfg.WebhookShutdownGrace)
	s.logger.Info("webhook dispatcher drained")

	if err := s.pub.Close(); err != nil {
		s.logger.Error("publisher close error", "error", err)
	} else {
		s.logger.Info("alert publisher flushed")
	}

	// Stops the hub and the runtime metrics collector.
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
