package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PatternScan/internal/usecase"
	"PatternScan/pkg/cache"
	pkgch "PatternScan/pkg/clickhouse"
	"PatternScan/pkg/config"
	xhttp "PatternScan/pkg/http"
	"PatternScan/pkg/http/middleware"
	pkgkafka "PatternScan/pkg/kafka"
	applogger "PatternScan/pkg/logger"
	"PatternScan/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	engine      *usecase.PatternEngine
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	queue       *queue.RedisQueue
	producer    *pkgkafka.Producer
	chClient    *pkgch.Client
	redis       *cache.RedisCache
}

// New creates a new App instance with all dependencies. Optional
// infrastructure is nil when disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.PatternEngine,
	handler xhttp.Handler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	rc *cache.RedisCache,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:         cfg,
		l:           l,
		engine:      engine,
		httpHandler: handler,
		queue:       q,
		producer:    producer,
		chClient:    chClient,
		redis:       rc,
	}
}

// Engine exposes the pattern engine, mostly for tooling.
func (a *App) Engine() *usecase.PatternEngine { return a.engine }

// Start loads the library, starts the job queue and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Library.LoadOnStart {
		n, err := a.engine.Load(ctx)
		if err != nil {
			return err
		}
		a.l.Info("library loaded",
			applogger.String("backend", a.cfg.Library.Backend),
			applogger.Int("patterns", n),
		)
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithLogger(a.l),
	}
	if cors := a.cfg.Server.CORS; cors.Enabled {
		opts = append(opts, xhttp.WithCORS(middleware.CORSConfig{
			AllowOrigins: cors.AllowOrigins,
			AllowMethods: cors.AllowMethods,
			AllowHeaders: cors.AllowHeaders,
			MaxAge:       cors.MaxAge,
		}))
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, opts...)
	return a.httpServer.Start()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.l.Error("startup failed", applogger.Error(err))
		a.closeClients()
		return err
	}
	a.l.Info("patternscan started",
		applogger.Int("patterns", a.engine.Library().Len()),
		applogger.Bool("queue", a.queue != nil),
		applogger.Bool("kafka", a.producer != nil),
		applogger.Bool("clickhouse", a.chClient != nil),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.Shutdown(ctx)
}

// Shutdown stops the HTTP server and the queue workers and closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.l.Warn("queue stop error", applogger.Error(err))
		}
	}
	a.closeClients()
	a.l.Info("shutdown complete")
	return nil
}

func (a *App) closeClients() {
	// flush the digest while the producer is still open
	a.l.DetachDigest()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.l.Warn("redis close error", applogger.Error(err))
		}
	}
}
