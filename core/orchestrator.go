package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/migrate"
)

// Host translates aggregated capability bags into concrete transport
// bindings. The web package provides the Gin implementation. Mount receives
// the resolved module order so middleware chains install deterministically.
type Host interface {
	Mount(order []string, caps map[string]Capabilities) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Options is the orchestration configuration surface.
type Options struct {
	Policy          Policy
	InitTimeout     time.Duration
	Concurrency     int
	ShutdownTimeout time.Duration
	// Ledger overrides the migration ledger. When nil the orchestrator uses
	// the document store, falling back to an in-memory ledger only when no
	// module declares migrations.
	Ledger migrate.Ledger
}

// Orchestrator is the top-level startup/shutdown sequencer: it connects the
// backends, runs pending migrations, drives the registry through
// initialization, and reverses the whole sequence on shutdown.
type Orchestrator struct {
	log      *slog.Logger
	registry *Registry
	backends *backend.Manager
	opts     Options
	shared   Container

	mu    sync.Mutex
	tasks []BackgroundTask
	stop  context.CancelFunc
}

func NewOrchestrator(log *slog.Logger, registry *Registry, backends *backend.Manager, opts Options) *Orchestrator {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	return &Orchestrator{
		log:      log,
		registry: registry,
		backends: backends,
		opts:     opts,
		shared:   NewContainer(),
	}
}

// Registry exposes the orchestrated registry, e.g. for capability lookups.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Shared exposes the container modules use to pass services to dependents.
func (o *Orchestrator) Shared() Container { return o.shared }

// Startup runs the full bring-up sequence and returns the aggregated
// capabilities of every active module.
//
// Under PolicySkipDependents the returned error may be a *StartupError while
// the capability map is still valid for the modules that did come up; under
// PolicyAbort any error means startup failed as a whole.
func (o *Orchestrator) Startup(ctx context.Context) (map[string]Capabilities, error) {
	if err := o.backends.ConnectAll(ctx); err != nil {
		return nil, err
	}

	order, err := o.registry.Resolve()
	if err != nil {
		return nil, err
	}
	o.log.Info("modules resolved", "order", order)

	sets, err := o.registry.MigrationSets()
	if err != nil {
		return nil, err
	}

	ledger, err := o.ledgerFor(sets)
	if err != nil {
		return nil, err
	}
	engine := migrate.NewEngine(ledger, o.backends, o.log)
	applied, err := engine.RunAll(ctx, sets)
	if err != nil {
		return nil, err
	}
	if applied > 0 {
		o.log.Info("migrations applied", "count", applied)
	}

	records, err := appliedRecords(ctx, ledger, sets)
	if err != nil {
		return nil, err
	}

	initErr := o.registry.InitializeAll(ctx, InitOptions{
		Policy:      o.opts.Policy,
		Timeout:     o.opts.InitTimeout,
		Concurrency: o.opts.Concurrency,
		Backends:    o.backends,
		Shared:      o.shared,
		Applied:     records,
	})
	if initErr != nil {
		var report *StartupError
		if o.opts.Policy == PolicySkipDependents && errors.As(initErr, &report) {
			o.log.Warn("startup completed with failed modules", "report", report.Error())
			caps, _ := o.registry.AggregateCapabilities()
			return caps, initErr
		}
		return nil, initErr
	}

	caps, _ := o.registry.AggregateCapabilities()
	return caps, nil
}

// ledgerFor picks the migration ledger: an explicit override, the document
// store, or memory when there is nothing durable to protect.
func (o *Orchestrator) ledgerFor(sets []migrate.ModuleSet) (migrate.Ledger, error) {
	if o.opts.Ledger != nil {
		return o.opts.Ledger, nil
	}

	var declares string
	for _, s := range sets {
		if len(s.Units) > 0 {
			declares = s.Module
			break
		}
	}
	if declares == "" {
		// No migrations anywhere; the document store (if any) is not
		// required to back a ledger.
		return migrate.NewMemoryLedger(), nil
	}

	h, ok := o.backends.Handle(backend.KindDocument)
	if !ok {
		return nil, fmt.Errorf("module %s declares migrations but the document store holding the migration ledger is unavailable", declares)
	}
	db, err := backend.Mongo(h)
	if err != nil {
		return nil, fmt.Errorf("building the migration ledger: %w", err)
	}
	return migrate.NewMongoLedger(db), nil
}

// appliedRecords loads each module's finalized migration state so init hooks
// can see what schema version they are running against.
func appliedRecords(ctx context.Context, ledger migrate.Ledger, sets []migrate.ModuleSet) (map[string][]migrate.Record, error) {
	out := make(map[string][]migrate.Record, len(sets))
	for _, s := range sets {
		seen := make(map[backend.Kind]bool)
		for _, u := range s.Units {
			if seen[u.Backend] {
				continue
			}
			seen[u.Backend] = true
			recs, err := ledger.Applied(ctx, s.Module, u.Backend)
			if err != nil {
				return nil, fmt.Errorf("reading migration state for %s: %w", s.Module, err)
			}
			out[s.Module] = append(out[s.Module], recs...)
		}
	}
	return out, nil
}

// Shutdown reverses startup: module shutdown hooks in reverse order, then
// backend disconnects in reverse connection order. All failures are
// collected; none aborts the sequence.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopTasks(ctx)
	modErr := o.registry.ShutdownAll(ctx)
	beErr := o.backends.DisconnectAll(ctx)
	return errors.Join(modErr, beErr)
}

// Run executes the whole lifecycle: startup, mount capabilities on the host,
// start background tasks, wait for a shutdown signal, then tear everything
// down in reverse. A nil host skips mounting.
func (o *Orchestrator) Run(ctx context.Context, host Host) error {
	caps, err := o.Startup(ctx)
	if err != nil {
		var report *StartupError
		if !(o.opts.Policy == PolicySkipDependents && errors.As(err, &report)) {
			// Modules that reached Active before the failure still get
			// their shutdown hooks before the backends go away.
			_ = o.Shutdown(context.WithoutCancel(ctx))
			return err
		}
	}

	if host != nil {
		order, _ := o.registry.Resolve()
		if err := host.Mount(order, caps); err != nil {
			_ = o.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("mounting capabilities: %w", err)
		}
		if err := host.Start(ctx); err != nil {
			_ = o.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("starting host: %w", err)
		}
	}

	o.startTasks(ctx, caps)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case <-ctx.Done():
	case <-stop:
		o.log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ShutdownTimeout)
	defer cancel()

	var hostErr error
	if host != nil {
		hostErr = host.Shutdown(shutdownCtx)
	}
	return errors.Join(hostErr, o.Shutdown(shutdownCtx))
}

// startTasks launches every contributed background task, in resolved module
// order so a dependency's tasks start before its dependents'.
func (o *Orchestrator) startTasks(ctx context.Context, caps map[string]Capabilities) {
	taskCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.stop = cancel
	order, _ := o.registry.Resolve()
	for _, name := range order {
		for _, t := range caps[name].Tasks {
			o.tasks = append(o.tasks, t)
			o.log.Info("starting background task", "module", name, "task", t.Name)
			go func(t BackgroundTask) {
				if err := t.Run(taskCtx); err != nil && !errors.Is(err, context.Canceled) {
					o.log.Error("background task exited", "task", t.Name, "error", err)
				}
			}(t)
		}
	}
	o.mu.Unlock()
}

// stopTasks cancels the shared task context and calls Stop hooks in reverse
// start order.
func (o *Orchestrator) stopTasks(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		o.stop()
		o.stop = nil
	}
	for i := len(o.tasks) - 1; i >= 0; i-- {
		t := o.tasks[i]
		if t.Stop == nil {
			continue
		}
		if err := t.Stop(ctx); err != nil {
			o.log.Error("background task stop failed", "task", t.Name, "error", err)
		}
	}
	o.tasks = nil
}
