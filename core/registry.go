package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/migrate"
)

var moduleStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "modulith_modules",
	Help: "Registered modules by lifecycle state.",
}, []string{"state"})

// Policy decides what happens to the rest of the startup when one module's
// init hook fails.
type Policy string

const (
	// PolicyAbort stops the whole startup on the first failure.
	PolicyAbort Policy = "abort"
	// PolicySkipDependents marks the failing module and everything that
	// transitively depends on it as failed, and continues with the rest.
	PolicySkipDependents Policy = "skip-dependents"
)

// InitOptions is the configuration surface for InitializeAll.
type InitOptions struct {
	Policy Policy
	// Timeout bounds each module's init hook; zero means no bound.
	Timeout time.Duration
	// Concurrency bounds how many independent modules initialize at once;
	// values below one degrade to sequential.
	Concurrency int
	Backends    *backend.Manager
	Shared      Container
	// Applied maps module name to its finalized migration records.
	Applied map[string][]migrate.Record
}

type entry struct {
	mod   Module
	state State
	err   error
	mc    *ModuleContext
}

// Registry holds the registered modules, resolves a dependency-respecting
// initialization order, and drives every module through its lifecycle.
//
// Registration is only allowed before the first Resolve call. After
// InitializeAll returns, the descriptor collection is effectively read-only
// and safe for concurrent capability lookups.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	closed  bool
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Register adds a module in state Registered. It fails once resolution has
// begun or when the name is already taken.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := mod.Name()
	if name == "" {
		return errors.New("module has an empty name")
	}
	if r.closed {
		return &RegistryClosedError{Name: name}
	}
	if _, dup := r.entries[name]; dup {
		return &DuplicateModuleError{Name: name}
	}
	r.entries[name] = &entry{mod: mod, state: StateRegistered}
	r.log.Debug("module registered", "module", name, "version", mod.Version())
	return nil
}

// Resolve computes a total initialization order in which every dependency
// precedes its dependents; ties are broken by ascending name. The first call
// closes the registry; repeated calls return the same order.
func (r *Registry) Resolve() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.order != nil {
		return append([]string(nil), r.order...), nil
	}
	r.closed = true

	for name, e := range r.entries {
		for _, dep := range e.mod.DependsOn() {
			if dep == name {
				return nil, &CyclicDependencyError{Members: []string{name, name}}
			}
			if _, ok := r.entries[dep]; !ok {
				return nil, &UnknownDependencyError{Module: name, Dependency: dep}
			}
		}
	}

	// Kahn's algorithm with a name-sorted ready queue for determinism.
	depCount := make(map[string]int, len(r.entries))
	dependents := make(map[string][]string, len(r.entries))
	for name, e := range r.entries {
		deps := uniqueDeps(e.mod.DependsOn())
		depCount[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, c := range depCount {
		if c == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(r.entries))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			depCount[dep]--
			if depCount[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) < len(r.entries) {
		return nil, &CyclicDependencyError{Members: r.findCycle()}
	}

	for _, e := range r.entries {
		e.state = StateResolving
	}
	r.order = order
	r.observeStates()
	return append([]string(nil), order...), nil
}

// findCycle walks the dependency edges depth-first and returns the members
// of one cycle, in edge order, with the entry node repeated at the end.
func (r *Registry) findCycle() []string {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		if onPath[name] {
			// Trim the path down to the cycle itself.
			for i, n := range path {
				if n == name {
					cycle = append(append([]string(nil), path[i:]...), name)
					return true
				}
			}
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		onPath[name] = true
		path = append(path, name)
		for _, dep := range r.entries[name].mod.DependsOn() {
			if visit(dep) {
				return true
			}
		}
		onPath[name] = false
		path = path[:len(path)-1]
		return false
	}

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if visit(name) {
			return cycle
		}
	}
	return nil
}

// InitializeAll drives every resolved module through Resolving ->
// Initializing -> Active, honoring dependency order. Independent modules run
// concurrently up to opts.Concurrency workers; a ready queue keyed by
// remaining-dependency counts feeds the workers.
func (r *Registry) InitializeAll(ctx context.Context, opts InitOptions) error {
	r.mu.RLock()
	if r.order == nil {
		r.mu.RUnlock()
		return errors.New("registry must be resolved before initialization")
	}
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	if opts.Shared == nil {
		opts.Shared = NewContainer()
	}
	n := len(order)
	if n == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	depCount := make(map[string]int, n)
	dependents := make(map[string][]string, n)
	r.mu.RLock()
	for _, name := range order {
		deps := uniqueDeps(r.entries[name].mod.DependsOn())
		depCount[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	r.mu.RUnlock()
	for _, list := range dependents {
		sort.Strings(list)
	}

	ready := make(chan string, n)
	var (
		settled   int
		enqueued  int
		aborted   bool
		queueDone bool
		failures  []*InitError
	)

	// The helpers below are called with r.mu held.
	closeIfDrained := func() {
		if queueDone {
			return
		}
		if settled == n || (aborted && settled == enqueued) {
			queueDone = true
			close(ready)
		}
	}

	enqueue := func(name string) {
		enqueued++
		ready <- name
	}

	var fail func(name string, err error)
	fail = func(name string, err error) {
		e := r.entries[name]
		e.state = StateFailed
		e.err = err
		failures = append(failures, &InitError{Module: name, Err: err})
		settled++
		if opts.Policy == PolicySkipDependents {
			for _, dep := range dependents[name] {
				if de := r.entries[dep]; de.state == StateResolving {
					fail(dep, fmt.Errorf("dependency %q failed: %w", name, err))
				}
			}
		}
	}

	succeed := func(name string) {
		r.entries[name].state = StateActive
		settled++
		for _, dep := range dependents[name] {
			depCount[dep]--
			if depCount[dep] == 0 && r.entries[dep].state == StateResolving && !aborted {
				enqueue(dep)
			}
		}
	}

	// Seed the queue with dependency-free modules, in name order.
	r.mu.Lock()
	var seeds []string
	for _, name := range order {
		if depCount[name] == 0 {
			seeds = append(seeds, name)
		}
	}
	sort.Strings(seeds)
	for _, s := range seeds {
		enqueue(s)
	}
	r.mu.Unlock()

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range ready {
				if runCtx.Err() != nil {
					// Drained after abort; the hook is never invoked.
					r.mu.Lock()
					settled++
					closeIfDrained()
					r.mu.Unlock()
					continue
				}

				r.mu.Lock()
				e := r.entries[name]
				e.state = StateInitializing
				mc := &ModuleContext{
					Log:      r.log.With("module", name),
					Shared:   opts.Shared,
					Backends: opts.Backends,
					Applied:  opts.Applied[name],
				}
				e.mc = mc
				r.mu.Unlock()

				r.log.Info("initializing module", "module", name, "version", e.mod.Version())
				err := runHook(runCtx, opts.Timeout, func(hctx context.Context) error {
					return e.mod.Init(hctx, mc)
				})

				r.mu.Lock()
				if err != nil {
					r.log.Error("module initialization failed", "module", name, "error", err)
					fail(name, err)
					if opts.Policy == PolicyAbort && !aborted {
						aborted = true
						cancel()
					}
				} else {
					succeed(name)
				}
				closeIfDrained()
				r.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeStates()
	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Module < failures[j].Module })
	var notRun []string
	for _, name := range order {
		if s := r.entries[name].state; s != StateActive && s != StateFailed {
			notRun = append(notRun, name)
		}
	}
	return &StartupError{Failures: failures, NotRun: notRun}
}

// AggregateCapabilities returns the capability bags of all active modules,
// keyed by module name, plus the names of failed modules whose contributions
// are omitted.
func (r *Registry) AggregateCapabilities() (map[string]Capabilities, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]Capabilities)
	var omitted []string
	for name, e := range r.entries {
		switch e.state {
		case StateActive:
			caps[name] = e.mc.caps
		case StateFailed:
			omitted = append(omitted, name)
		}
	}
	sort.Strings(omitted)
	if len(omitted) > 0 {
		r.log.Warn("capabilities omitted for failed modules", "modules", omitted)
	}
	return caps, omitted
}

// Settings aggregates the setting definitions of all active modules, each
// stamped with its owning module's name.
func (r *Registry) Settings() []Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Setting
	for name, e := range r.entries {
		if e.state != StateActive {
			continue
		}
		for _, s := range e.mc.caps.Settings {
			s.Module = name
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// MigrationSets returns every registered module's migrations in resolved
// order, for the migration engine. Requires a prior successful Resolve.
func (r *Registry) MigrationSets() ([]migrate.ModuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.order == nil {
		return nil, errors.New("registry must be resolved before collecting migrations")
	}
	out := make([]migrate.ModuleSet, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, migrate.ModuleSet{
			Module: name,
			Units:  r.entries[name].mod.Migrations(),
		})
	}
	return out, nil
}

// ShutdownAll invokes shutdown hooks in reverse resolved order. Every active
// module transitions to ShutDown whether or not its hook fails; failures are
// collected and reported, never allowed to halt the sequence.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		r.mu.Lock()
		e := r.entries[name]
		if e.state != StateActive {
			r.mu.Unlock()
			continue
		}
		mc := e.mc
		r.mu.Unlock()

		r.log.Info("stopping module", "module", name)
		if err := e.mod.Shutdown(ctx, mc); err != nil {
			r.log.Error("module shutdown failed", "module", name, "error", err)
			errs = append(errs, fmt.Errorf("module %q: %w", name, err))
		}

		r.mu.Lock()
		e.state = StateShutDown
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.observeStates()
	r.mu.Unlock()

	if len(errs) > 0 {
		return &ShutdownError{Errors: errs}
	}
	return nil
}

// State reports the lifecycle state of one module.
func (r *Registry) State(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Err reports the failure cause recorded for one module, if any.
func (r *Registry) Err(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.err
	}
	return nil
}

// observeStates refreshes the module-state gauge. Callers hold r.mu.
func (r *Registry) observeStates() {
	counts := map[State]int{}
	for _, e := range r.entries {
		counts[e.state]++
	}
	for _, s := range []State{StateRegistered, StateResolving, StateInitializing, StateActive, StateFailed, StateShutDown} {
		moduleStates.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func uniqueDeps(deps []string) []string {
	seen := make(map[string]bool, len(deps))
	out := deps[:0:0]
	for _, d := range deps {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// runHook invokes fn with an optional timeout. A timed-out hook is reported
// exactly as though it returned the context error; the hook goroutine is
// left to finish on its own since hooks are not preempted.
func runHook(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
