package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pomociclo/pomociclo/internal/api"
	"github.com/pomociclo/pomociclo/internal/app/calendar"
	"github.com/pomociclo/pomociclo/internal/app/engagement"
	"github.com/pomociclo/pomociclo/internal/app/settlement"
	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/health"
	"github.com/pomociclo/pomociclo/internal/infra/lock"
	"github.com/pomociclo/pomociclo/internal/infra/sqlite"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
	"github.com/pomociclo/pomociclo/internal/platform/tracing"
)

// Version is reported as the tracing service version.
var Version = "dev"

// Daemon is the core pomociclo runtime. It wires together all services.
type Daemon struct {
	Config     Config
	Log        *logger.Logger
	DB         *sqlite.DB
	Locker     domain.UserLocker
	Quests     *engagement.QuestEngine
	Calendar   *calendar.Heuristic
	Settlement *settlement.Service
	Health     *health.Checker
	Server     *api.Server

	redis         *lock.Redis
	shutdownTrace func(context.Context) error
	cancel        context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	d := &Daemon{Config: cfg, Log: log}

	d.shutdownTrace, err = tracing.Init(context.Background(), log, tracing.Config{
		Enabled:     cfg.Telemetry.Tracing,
		ServiceName: "pomociclo",
		Version:     Version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// Open SQLite
	dir := cfg.Database.Dir
	if dir == "" {
		dir = pomoHome()
	}
	d.DB, err = sqlite.Open(dir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Per-user lock
	checks := []health.Check{
		health.DatabaseCheck("database", d.DB),
		health.DataDirCheck(dir),
	}
	switch cfg.Lock.Backend {
	case LockRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.redis, err = lock.NewRedis(ctx, cfg.Lock.RedisAddr, parseDuration(cfg.Lock.TTL, lock.DefaultTTL), log)
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect lock backend: %w", err)
		}
		d.Locker = d.redis
		checks = append(checks, health.DatabaseCheck("redis", health.PingFunc(d.redis.Ping)))
	default:
		d.Locker = lock.NewLocal()
	}

	// Engagement and calendar
	d.Quests = engagement.NewQuestEngine(d.DB, d.DB, d.DB, log, cfg.Settlement.MaxAttempts)
	d.Calendar = calendar.NewHeuristic(d.DB, d.DB, d.DB, d.DB, log, cfg.CalendarTolerance())

	d.Settlement = settlement.New(settlement.Deps{
		Sessions:    d.DB,
		Progression: d.DB,
		Subjects:    d.DB,
		Settings:    d.DB,
		Locker:      d.Locker,
		Quests:      d.Quests,
		Calendar:    d.Calendar,
		Log:         log,
		MaxAttempts: cfg.Settlement.MaxAttempts,
	})

	d.Health = health.NewChecker(log, health.DefaultInterval, checks...)

	// Initialize API server
	d.Server = api.NewServer(d.Settlement, log)
	d.Server.SetHealth(d.Health)
	d.Server.SetTimeout(parseDuration(cfg.API.RequestTimeout, 30*time.Second))

	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.Log.Info("shutting down", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.Log.Warn("http shutdown", "error", err)
		}
		cancel()
	}()

	d.Log.Info("pomociclo serving",
		"addr", "http://"+addr,
		"lock", d.Config.Lock.Backend,
		"metrics", d.Config.Telemetry.Prometheus,
		"tracing", d.Config.Telemetry.Tracing)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return err
	}
	<-done
	d.Close()
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.shutdownTrace(ctx); err != nil {
			d.Log.Warn("tracing shutdown", "error", err)
		}
		cancel()
		d.shutdownTrace = nil
	}
	if d.redis != nil {
		_ = d.redis.Close()
		d.redis = nil
	}
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	if d.Log != nil {
		d.Log.Sync()
	}
}
