package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/robo/config"
	"github.com/najoast/robo/core"
	"github.com/najoast/robo/logging"
	"github.com/najoast/robo/metric"
)

// Application owns the unit Context built from a Config and the services
// around it.
type Application struct {
	registry  *Registry
	logger    *slog.Logger
	logCloser io.Closer
	metrics   *metric.Registry
	units     *core.Context
	server    *MetricsServer
	provider  config.Provider

	// config is replaced on reload
	config   *config.Config
	configMu sync.RWMutex

	// reloadMu serializes reloads and restarts
	reloadMu sync.Mutex

	mutex   sync.Mutex
	running bool
	closed  bool

	listeners   []func(LifecycleEvent)
	listenersMu sync.RWMutex
}

// Option configures an Application.
type Option func(*Application)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		a.logger = logger
	}
}

// WithProvider enables hot reload from p while the application runs.
func WithProvider(p config.Provider) Option {
	return func(a *Application) {
		a.provider = p
	}
}

// New builds an application from cfg: every configured unit is created
// from registry, registered and initialized in dependency order.
func New(cfg *config.Config, registry *Registry, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if registry == nil {
		return nil, &ApplicationError{Operation: "configure", Err: errors.New("unit registry is nil")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	policy, err := core.ParseDeliveryPolicy(cfg.Bus.DeliveryPolicy)
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	app := &Application{
		registry: registry,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Err: err}
		}
		app.logger, app.logCloser = logger, closer
	}
	app.logger = app.logger.With("app", cfg.App.Name)

	app.metrics = metric.NewRegistry()
	app.units = core.NewContext(
		core.WithLogger(app.logger),
		core.WithMetrics(app.metrics.Metrics()),
		core.WithResources(core.NewResourceLoader(afero.NewOsFs(), cfg.Resources.Root)),
		core.WithDeliveryPolicy(policy),
		core.WithWaitGranularity(cfg.Bus.WaitGranularity),
	)

	if err := app.addUnits(cfg.Units); err != nil {
		app.units.Close(context.Background())
		app.closeLog()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		app.server = NewMetricsServer(cfg.Metrics.ListenAddress(), cfg.Metrics.Path, app.metrics, app.Health, app.logger)
	}

	app.logger.Info("application configured",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"units", len(cfg.Units),
		"policy", policy.String())
	return app, nil
}

// Context returns the unit Context.
func (a *Application) Context() *core.Context {
	return a.units
}

// Metrics returns the metrics registry.
func (a *Application) Metrics() *metric.Registry {
	return a.metrics
}

// Logger returns the application logger.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Config returns the active configuration.
func (a *Application) Config() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

// MetricsAddr returns the bound metrics address, or "" when metrics are
// disabled or not yet listening.
func (a *Application) MetricsAddr() string {
	if a.server == nil || a.server.Addr() == nil {
		return ""
	}
	return a.server.Addr().String()
}

// AddListener adds a lifecycle event listener. Listeners run synchronously
// on the goroutine emitting the event.
func (a *Application) AddListener(listener func(LifecycleEvent)) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, listener)
}

// Start starts every unit and binds the metrics listener.
func (a *Application) Start(ctx context.Context) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.closed {
		return &ApplicationError{Operation: "start", Err: core.ErrContextClosed}
	}
	if a.running {
		return &ApplicationError{Operation: "start", Err: errors.New("application is already running")}
	}

	if err := a.units.Start(ctx); err != nil {
		a.emitFailures()
		return &ApplicationError{Operation: "start", Err: err}
	}

	if a.server != nil {
		if err := a.server.Listen(); err != nil {
			return &ApplicationError{Operation: "start", Err: err}
		}
	}

	a.running = true
	a.emit(LifecycleEvent{Type: EventStarted, Data: map[string]any{"units": a.units.Units()}})
	return nil
}

// Run starts the application and blocks until ctx is done, SIGINT or
// SIGTERM arrives, or a service fails. It then shuts down within the
// configured shutdown timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			return a.server.Serve(gctx)
		})
	}

	if a.provider != nil {
		if err := a.provider.Watch(gctx, a.onConfigChange); err != nil {
			a.logger.Warn("configuration hot reload disabled", "error", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config().Bus.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops and releases every unit. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return nil
	}
	a.closed = true
	a.running = false
	a.mutex.Unlock()

	var errs []error
	if err := a.units.Close(ctx); err != nil {
		errs = append(errs, &ApplicationError{Operation: "shutdown", Err: err})
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.emit(LifecycleEvent{Type: EventStopped})
	a.logger.Info("application stopped")
	a.closeLog()
	return errors.Join(errs...)
}

// Health reports every unit's health.
func (a *Application) Health() map[string]HealthStatus {
	stats := a.units.Stats()
	report := make(map[string]HealthStatus, len(stats))
	for _, s := range stats {
		report[s.ID] = healthOf(s)
	}
	return report
}

// Restart replaces a FAILED unit with a fresh handler of its configured
// type and starts it if the application is running.
func (a *Application) Restart(ctx context.Context, id string) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	uc, ok := a.Config().Unit(id)
	if !ok {
		return &ApplicationError{Operation: "restart", Unit: id, Err: &core.UnknownTargetError{ID: id}}
	}

	handler, err := a.registry.New(uc.Type)
	if err != nil {
		return &ApplicationError{Operation: "restart", Unit: id, Err: err}
	}
	unit, err := a.units.Recreate(ctx, id, handler)
	if err != nil {
		return &ApplicationError{Operation: "restart", Unit: id, Err: err}
	}

	if a.isRunning() {
		if err := unit.Start(ctx); err != nil {
			return &ApplicationError{Operation: "restart", Unit: id, Err: err}
		}
	}

	a.emit(LifecycleEvent{Type: EventUnitAdded, Unit: id, Data: map[string]any{"restarted": true}})
	return nil
}

// Reload reconciles the running units with next. Units that disappeared or
// changed are removed; new and changed units are created, initialized and,
// when the application is running, started. Logging and bus settings only
// take effect on the next start.
func (a *Application) Reload(ctx context.Context, next *config.Config) error {
	if err := next.Validate(); err != nil {
		return &ApplicationError{Operation: "reload", Err: err}
	}

	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	prev := a.Config()

	var removed []string
	for _, old := range prev.Units {
		if nu, ok := next.Unit(old.ID); !ok || !nu.Equal(old) {
			removed = append(removed, old.ID)
		}
	}

	var added []config.UnitConfig
	for _, nu := range next.Units {
		if old, ok := prev.Unit(nu.ID); !ok || !old.Equal(nu) {
			added = append(added, nu)
		}
	}

	var errs []error
	for _, id := range removed {
		if err := a.units.Remove(ctx, id); err != nil {
			errs = append(errs, &ApplicationError{Operation: "reload", Unit: id, Err: err})
		}
		a.emit(LifecycleEvent{Type: EventUnitRemoved, Unit: id})
	}

	if err := a.addUnits(added); err != nil {
		errs = append(errs, err)
	}

	a.configMu.Lock()
	a.config = next
	a.configMu.Unlock()

	if a.isRunning() {
		if err := a.units.Start(ctx); err != nil {
			a.emitFailures()
			errs = append(errs, &ApplicationError{Operation: "reload", Err: err})
		}
	}

	a.emit(LifecycleEvent{
		Type: EventConfigReloaded,
		Data: map[string]any{"removed": removed, "added": len(added)},
	})
	a.logger.Info("configuration applied", "removed", len(removed), "added", len(added))
	return errors.Join(errs...)
}

func (a *Application) onConfigChange(_, next *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), next.Bus.ShutdownTimeout)
	defer cancel()

	if err := a.Reload(ctx, next); err != nil {
		a.logger.Error("failed to apply configuration", "error", err)
	}
}

// addUnits registers every unit, then initializes them in dependency order.
func (a *Application) addUnits(units []config.UnitConfig) error {
	if len(units) == 0 {
		return nil
	}

	pending := make(map[string]config.UnitConfig, len(units))
	for _, uc := range units {
		handler, err := a.registry.New(uc.Type)
		if err != nil {
			return &ApplicationError{Operation: "register", Unit: uc.ID, Err: err}
		}
		if _, err := a.units.Register(uc.ID, handler, core.DependsOn(uc.DependsOn...)); err != nil {
			return &ApplicationError{Operation: "register", Unit: uc.ID, Err: err}
		}
		pending[uc.ID] = uc
	}

	order, err := a.units.StartOrder()
	if err != nil {
		return &ApplicationError{Operation: "register", Err: err}
	}

	for _, id := range order {
		uc, ok := pending[id]
		if !ok {
			continue
		}
		if err := a.units.Initialize(id, uc.Properties); err != nil {
			a.emit(LifecycleEvent{Type: EventUnitFailed, Unit: id, Error: err})
			return &ApplicationError{Operation: "initialize", Unit: id, Err: err}
		}
		a.emit(LifecycleEvent{Type: EventUnitAdded, Unit: id, Data: map[string]any{"type": uc.Type}})
	}
	return nil
}

func (a *Application) isRunning() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.running
}

func (a *Application) emitFailures() {
	for _, s := range a.units.Stats() {
		if s.State == core.StateFailed {
			a.emit(LifecycleEvent{Type: EventUnitFailed, Unit: s.ID})
		}
	}
}

// emit delivers event to every listener, recovering listener panics.
func (a *Application) emit(event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.listenersMu.RLock()
	listeners := make([]func(LifecycleEvent), len(a.listeners))
	copy(listeners, a.listeners)
	a.listenersMu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("lifecycle listener panicked", "event", event.Type, "panic", r)
				}
			}()
			listener(event)
		}()
	}
}

func (a *Application) closeLog() {
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log output: %v\n", err)
		}
		a.logCloser = nil
	}
}
