package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthomsen/modulith/backend"
)

var appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modulith_migrations_applied_total",
	Help: "Migrations applied since process start, by module and backend.",
}, []string{"module", "backend"})

// Engine computes and applies pending migrations against borrowed backend
// handles, recording each application in the ledger.
type Engine struct {
	ledger   Ledger
	backends *backend.Manager
	log      *slog.Logger
}

func NewEngine(ledger Ledger, backends *backend.Manager, log *slog.Logger) *Engine {
	return &Engine{ledger: ledger, backends: backends, log: log}
}

// Apply runs one unit against the handle and appends its record. The record
// write is the durable truth: if it fails after the body succeeded, Apply
// returns ErrLedgerWrite and the caller must abort startup.
func (e *Engine) Apply(ctx context.Context, module string, u Unit, h *backend.Handle) error {
	start := time.Now()
	runErr := u.Run(ctx, h)

	rec := Record{
		ID:       uuid.NewString(),
		Module:   module,
		Backend:  u.Backend,
		Version:  u.Version,
		Name:     u.Name,
		Applied:  time.Now().UTC(),
		Duration: time.Since(start),
		Success:  runErr == nil,
	}
	if runErr != nil {
		// The failure record is best-effort diagnostics; the body error is
		// what aborts the run either way.
		rec.Error = runErr.Error()
		if err := e.ledger.Append(ctx, rec); err != nil {
			e.log.Error("recording failed migration attempt",
				"module", module, "backend", u.Backend, "version", u.Version, "error", err)
		}
		return fmt.Errorf("migration %s %s/%d (%s): %w", module, u.Backend, u.Version, u.Name, runErr)
	}

	if err := e.ledger.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %s %s/%d: %v", ErrLedgerWrite, module, u.Backend, u.Version, err)
	}

	appliedTotal.WithLabelValues(module, string(u.Backend)).Inc()
	e.log.Info("migration applied",
		"module", module,
		"backend", u.Backend,
		"version", u.Version,
		"name", u.Name,
		"duration_ms", rec.Duration.Milliseconds(),
	)
	return nil
}

// RunAll applies every pending migration, module by module in the order
// given (which must be a dependency order), and per module+backend strictly
// by ascending version. Any failure aborts the run; partially migrated
// backends are an operator problem, not a degrade-and-continue scenario.
//
// Migrations targeting an optional backend that is unavailable are skipped
// and stay pending until the backend returns.
func (e *Engine) RunAll(ctx context.Context, mods []ModuleSet) (int, error) {
	applied := 0
	for _, ms := range mods {
		if len(ms.Units) == 0 {
			continue
		}
		if err := validateUnits(ms.Module, ms.Units); err != nil {
			return applied, err
		}

		for _, kind := range kindsOf(ms.Units) {
			h, ok := e.backends.Handle(kind)
			if !ok {
				if e.backends.Optional(kind) {
					e.log.Warn("skipping migrations for unavailable optional backend",
						"module", ms.Module, "backend", kind)
					continue
				}
				return applied, fmt.Errorf("module %s declares migrations against unconnected backend %s", ms.Module, kind)
			}

			records, err := e.ledger.Applied(ctx, ms.Module, kind)
			if err != nil {
				return applied, fmt.Errorf("reading migration ledger for %s/%s: %w", ms.Module, kind, err)
			}
			pending, err := Pending(ms.Units, kind, records)
			if err != nil {
				return applied, fmt.Errorf("module %s: %w", ms.Module, err)
			}

			for _, u := range pending {
				if err := e.Apply(ctx, ms.Module, u, h); err != nil {
					return applied, err
				}
				applied++
			}
		}
	}
	return applied, nil
}

// kindsOf lists the backends a unit slice targets, in first-seen order.
func kindsOf(units []Unit) []backend.Kind {
	seen := make(map[backend.Kind]bool)
	var out []backend.Kind
	for _, u := range units {
		if !seen[u.Backend] {
			seen[u.Backend] = true
			out = append(out, u.Backend)
		}
	}
	return out
}
