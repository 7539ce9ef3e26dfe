// Package app wires all VoxBridge subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the background workers, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithLocker, WithAdapters). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/billing"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/httpapi"
	"github.com/voxbridge/voxbridge/internal/jobs"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/orchestrator"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/pricing"
	"github.com/voxbridge/voxbridge/internal/sessionlock"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/tools"
	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/provider/vendora"
	"github.com/voxbridge/voxbridge/pkg/provider/vendorb"
)

// telemetryTimeout bounds the OTel flush during Shutdown.
const telemetryTimeout = 5 * time.Second

// App owns all subsystem lifetimes for one VoxBridge process.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	store    *store.Store
	locker   sessionlock.Locker
	adapters []provider.Adapter
	orch     *orchestrator.Orchestrator
	registry *tools.Registry
	pipe     *pipeline.Pipeline
	pool     *jobs.Pool
	api      *httpapi.Server
	server   *http.Server
	metrics  *prometheus.Registry

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL from config.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLocker injects a session locker instead of creating one from config.
func WithLocker(l sessionlock.Locker) Option {
	return func(a *App) { a.locker = l }
}

// WithAdapters injects provider adapters instead of building the vendor
// mocks from config.
func WithAdapters(adapters ...provider.Adapter) Option {
	return func(a *App) { a.adapters = adapters }
}

// New creates an App by wiring all subsystems together. Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry providers,
// database connection, session locks, provider adapters, the message
// pipeline, the job pool, and the HTTP server. Nothing listens or polls
// until Run.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initLocks(); err != nil {
		return nil, fmt.Errorf("app: init locks: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initJobs()
	a.initHTTP()

	return a, nil
}

// initTelemetry installs the global OTel providers and registers their
// shutdown as a closer. The app owns its Prometheus registry so repeated
// New calls in one process (tests) never collide on collector names.
func (a *App) initTelemetry(ctx context.Context) error {
	a.metrics = prometheus.NewRegistry()
	stop, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxbridge",
		Registerer:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
		defer cancel()
		return stop(ctx)
	})
	return nil
}

// initStore connects the PostgreSQL store or uses an injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := store.New(ctx, store.Config{
		URL:              a.cfg.Database.URL,
		PoolSize:         a.cfg.Database.PoolSize,
		AcquireTimeout:   a.cfg.Database.AcquireTimeout.Std(),
		StatementTimeout: a.cfg.Database.StatementTimeout.Std(),
	})
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, func() error {
		s.Close()
		return nil
	})
	return nil
}

// initLocks selects the session-lock backend.
func (a *App) initLocks() error {
	if a.locker != nil {
		return nil
	}
	switch a.cfg.Locks.Mode {
	case config.LockPostgres:
		a.locker = sessionlock.NewPostgres(a.store.Pool())
	case config.LockMemory, "":
		a.locker = sessionlock.NewMemory(a.cfg.Locks.TTL.Std())
	default:
		return fmt.Errorf("unknown lock mode %q", a.cfg.Locks.Mode)
	}
	return nil
}

// initPipeline builds the vendor adapters, orchestrator, tool registry,
// billing recorder, and the message pipeline on top of them.
func (a *App) initPipeline() error {
	if len(a.adapters) == 0 {
		va := a.cfg.Providers.VendorA
		vb := a.cfg.Providers.VendorB
		a.adapters = []provider.Adapter{
			vendora.New(vendora.Config{
				Timeout:           va.Timeout.Std(),
				Faults:            va.Faults > 0,
				Seed:              va.Seed,
				MinLatency:        va.MinLatency.Std(),
				MaxLatency:        va.MaxLatency.Std(),
				LatencyConfigured: va.MinLatency > 0 || va.MaxLatency > 0,
			}),
			vendorb.New(vendorb.Config{
				Timeout:           vb.Timeout.Std(),
				Faults:            vb.Faults > 0,
				Seed:              vb.Seed,
				MinLatency:        vb.MinLatency.Std(),
				MaxLatency:        vb.MaxLatency.Std(),
				LatencyConfigured: vb.MinLatency > 0 || vb.MaxLatency > 0,
			}),
		}
	}
	a.orch = orchestrator.New(orchestrator.Config{
		MaxAttempts:  a.cfg.Orchestrator.MaxAttempts,
		InitialDelay: a.cfg.Orchestrator.InitialDelay.Std(),
		MaxDelay:     a.cfg.Orchestrator.MaxDelay.Std(),
		Multiplier:   a.cfg.Orchestrator.Multiplier,
	}, a.adapters...)

	a.registry = tools.NewRegistry(a.store, a.log)
	if err := a.registry.Register(tools.InvoiceLookup()); err != nil {
		return err
	}

	biller := billing.NewRecorder(a.store, pricing.Default(), a.log)

	a.pipe = pipeline.New(a.store, a.orch, a.registry, biller, a.locker,
		pipeline.Config{}, a.log)
	return nil
}

// initJobs wires the async worker pool. Callbacks use the default HTTP
// client.
func (a *App) initJobs() {
	a.pool = jobs.NewPool(a.store, a.pipe, jobs.NewNotifier(nil), jobs.Config{
		PollInterval: a.cfg.Jobs.PollInterval.Std(),
		Lease:        a.cfg.Jobs.Lease.Std(),
		Workers:      a.cfg.Jobs.Workers,
	}, a.log)
}

// initHTTP assembles the API router, health endpoints, and the Prometheus
// scrape endpoint into one server.
func (a *App) initHTTP() {
	a.api = httpapi.NewServer(a.store, a.pipe, httpapi.Config{
		KeyPrefix:      a.cfg.API.KeyPrefix,
		AudioDir:       a.cfg.Voice.StorageDir,
		JobMaxAttempts: a.cfg.Jobs.MaxAttempts,
	}, a.log)

	root := http.NewServeMux()
	health.New(health.Database(a.store), health.Locks(a.locker)).Register(root)
	root.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	root.Handle("/", a.api.Router())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP and drives the background workers until ctx is
// cancelled, then drains the HTTP server gracefully. It returns the first
// error that stops the group, or nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening",
			"addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(drain)
	})

	g.Go(func() error {
		return a.pool.Run(ctx)
	})

	// The in-memory locker needs its expiry sweep; the advisory-lock
	// backend does not.
	if m, ok := a.locker.(*sessionlock.Memory); ok {
		g.Go(func() error {
			m.Run(ctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
