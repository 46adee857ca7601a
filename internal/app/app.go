package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lotuspar/libblitz/internal/activities"
	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/journal"
	servernet "github.com/lotuspar/libblitz/internal/net"
	"github.com/lotuspar/libblitz/internal/net/ws"
	"github.com/lotuspar/libblitz/internal/observability"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	loggingSinks "github.com/lotuspar/libblitz/logging/sinks"
)

// App is a fully wired authority: one session, its controller, the replica
// hub and the HTTP surface.
type App struct {
	cfg      Config
	logger   telemetry.Logger
	router   *logging.Router
	counters *telemetry.Counters
	registry *activity.Registry
	journal  *journal.Journal
	store    *journal.SQLiteStore
	hub      *ws.Hub

	controller *session.Controller
	handler    http.Handler

	closers []func(context.Context) error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type journalTelemetry struct {
	metrics telemetry.Metrics
}

func (t journalTelemetry) RecordJournalDrop(metric string) {
	t.metrics.Add(metric, 1)
}

// New constructs every component described by cfg without starting any
// background loop.
func New(ctx context.Context, cfg Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	a := &App{cfg: cfg, logger: telemetryLogger, counters: telemetry.NewCounters()}
	defer func() {
		if err != nil {
			_ = a.runClosers(ctx)
		}
	}()

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	router, err := a.buildRouter(fallbackLogger)
	if err != nil {
		return nil, err
	}
	a.router = router

	a.journal = journal.New(cfg.JournalCapacity, cfg.JournalMaxAge)
	a.journal.AttachTelemetry(journalTelemetry{metrics: a.counters})
	var recorder session.Recorder = a.journal
	if cfg.JournalPath != "" {
		store, err := journal.OpenSQLite(ctx, cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		recorder = journal.Tee(a.journal, store)
	}

	hubCfg := ws.DefaultHubConfig()
	hubCfg.HeartbeatInterval = cfg.HeartbeatInterval
	hubCfg.DisconnectAfter = 0
	hubCfg.Publisher = router
	hubCfg.Metrics = a.counters
	hubCfg.Logger = telemetryLogger
	a.hub = ws.NewHub(hubCfg)

	a.registry = activities.Registry()
	a.controller = session.NewController(session.New(),
		session.WithDispatcher(a.hub),
		session.WithPossessor(session.PossessorFunc(a.possess)),
		session.WithRecorder(recorder),
		session.WithPublisher(router),
		session.WithMetrics(a.counters),
		session.WithLogger(telemetryLogger),
	)

	wsHandler := ws.NewHandler(a.hub, a.controller, ws.HandlerConfig{
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   a.counters,
	})
	a.handler = servernet.NewHTTPHandler(a.controller, a.hub, servernet.HTTPHandlerConfig{
		ClientDir:     cfg.ClientDir,
		Logger:        telemetryLogger,
		Observability: cfg.Observability,
		Registry:      a.registry,
		Counters:      a.counters,
		Journal:       a.journal,
		Router:        router,
		TickRate:      cfg.TickRate,
		WebSocket:     wsHandler,
	})
	return a, nil
}

func (a *App) buildRouter(fallback *log.Logger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	severity, err := logging.ParseSeverity(a.cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig.MinimumSeverity = severity

	named := []logging.NamedSink{{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)}}
	if path := a.cfg.LogJSONPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open json log: %w", err)
		}
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		logConfig.JSON.FilePath = path
		named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
		// Runs after the router closer below so the sink flushes first.
		a.closers = append(a.closers, func(context.Context) error { return file.Close() })
	}

	router := logging.NewRouter(logging.SystemClock{}, logConfig, named, fallback)
	a.closers = append(a.closers, router.Close)
	return router, nil
}

func (a *App) possess(_ context.Context, member *roster.Member, tag activity.Tag) error {
	a.logger.Printf("member %s now controls %s", member.ID, tag)
	return nil
}

// Handler returns the HTTP surface of the authority.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Controller() *session.Controller { return a.controller }

func (a *App) Journal() *journal.Journal { return a.journal }

// Start switches to the configured initial activity and launches the
// heartbeat reaper and the tick loop. They stop when ctx is cancelled or the
// app is closed.
func (a *App) Start(ctx context.Context) error {
	factory, err := a.registry.Factory(a.cfg.InitialActivity)
	if err != nil {
		return fmt.Errorf("initial activity: %w", err)
	}
	if _, err := a.controller.SwitchActivity(ctx, a.cfg.InitialActivity, factory, nil); err != nil {
		return fmt.Errorf("initial activity: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.hub.RunHeartbeatReaper(loopCtx)
	}()
	go func() {
		defer a.wg.Done()
		loop := &tickLoop{
			controller: a.controller,
			interval:   a.cfg.tickInterval(),
			publisher:  a.router,
			metrics:    a.counters,
			now:        time.Now,
		}
		loop.run(loopCtx)
	}()
	return nil
}

// Close stops the background loops, drops every replica connection and
// releases the journal store, the logging router and tracing in that order.
func (a *App) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.hub.Close()
	return a.runClosers(ctx)
}

func (a *App) runClosers(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run serves the authority until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.logger.Printf("failed to close app: %v", cerr)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: a.Handler()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	a.logger.Printf("server listening on %s", srv.Addr)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
