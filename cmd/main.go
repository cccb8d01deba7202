package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/evalsync/internal/adapters/http/api"
	"github.com/okian/evalsync/internal/adapters/http/swagger"
	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/adapters/repository"
	service "github.com/okian/evalsync/internal/app"
	"github.com/okian/evalsync/internal/config"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := initLogging(cfg); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	metrics.SetEnabled(cfg.MetricsEnabled)

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "evalsync exited with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// initLogging applies the logging settings of cfg to the global logger.
func initLogging(cfg *config.Config) error {
	opts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.LogFile != "" {
		opts = append(opts,
			logger.WithFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays),
			logger.WithCompression(cfg.LogCompressFiles),
		)
	}
	if err := logger.Init(opts...); err != nil {
		return err
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(context.Background(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// run wires the stores, the service and the HTTP server, and blocks until
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	shutdownTracing, err := tracing.Init(ctx,
		tracing.WithServiceName(cfg.ServiceName),
		tracing.WithEndpoint(cfg.OTLPEndpoint),
		tracing.WithInsecure(cfg.OTLPInsecure),
		tracing.WithSampleRatio(cfg.TraceSampleRatio),
	)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn(ctx, "closing stores failed", logger.Error(err))
		}
	}()

	svc, err := newService(cfg, st, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := newHTTPServer(ctx, cfg, svc, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// stores are the two persistence backends selected by configuration.
type stores struct {
	remote remote.DocumentStore
	local  localstore.Store
}

func (s *stores) Close() error {
	return errors.Join(s.remote.Close(), s.local.Close())
}

// openStores opens the configured remote and local backends.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	switch cfg.RemoteBackend {
	case config.BackendRedis:
		// An unreachable server is a runtime condition: the gateway starts
		// offline and the probe loop picks it up later.
		st.remote = remote.NewRedisStore(remote.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.RedisPrefix)
	default:
		st.remote = remote.NewMemoryStore()
	}

	switch cfg.LocalBackend {
	case config.BackendSQLite:
		local, err := localstore.NewSQLiteStore(ctx, cfg.LocalDBPath)
		if err != nil {
			_ = st.remote.Close()
			return nil, fmt.Errorf("open local store: %w", err)
		}
		st.local = local
	default:
		st.local = localstore.NewMemoryStore()
	}
	return st, nil
}

// newService builds the evaluation service over st.
func newService(cfg *config.Config, st *stores, log logger.Logger) (*service.Service, error) {
	gateway := remote.NewGateway(st.remote,
		remote.WithCollection(cfg.Collection),
		remote.WithProbeTimeout(cfg.ProbeTimeout()),
		remote.WithFetchTimeout(cfg.FetchTimeout()),
		remote.WithLogger(log.Named("remote")),
	)
	local := localstore.New(st.local, localstore.WithLogger(log.Named("local")))

	svc, err := service.New(gateway, local,
		service.WithLogger(log.Named("service")),
		service.WithCache(repository.NewSnapshotStore(repository.WithTTL(cfg.SnapshotTTL()))),
		service.WithSyncConcurrency(cfg.SyncConcurrency),
		service.WithQueueSize(cfg.IntakeQueueSize),
		service.WithWorkerCount(cfg.IntakeWorkerCount),
		service.WithProbeInterval(cfg.ProbeInterval()),
		service.WithRefreshInterval(cfg.RefreshInterval()),
	)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

// newHTTPServer builds the HTTP server exposing svc and the API docs.
func newHTTPServer(ctx context.Context, cfg *config.Config, svc *service.Service, log logger.Logger) *http.Server {
	apiServer := api.NewServer(svc,
		api.WithLogger(log),
		api.WithRoutes(func(ctx context.Context, r *mux.Router) { swagger.Register(ctx, r) }),
	)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(ctx),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	// GetStats already exports the queue size.
	stats := svc.GetStats(ctx)
	metrics.UpdateQueueCapacity(stats.QueueCapacity)
	if stats.QueueCapacity > 0 {
		metrics.UpdateQueueUtilization(float64(stats.QueueSize) / float64(stats.QueueCapacity))
	}
	metrics.UpdateWorkerActiveCount(stats.ActiveWorkers)
}
