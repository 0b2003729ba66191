// Package migrate applies versioned schema migrations against the configured
// backends and records each application in a durable ledger, exactly once.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pthomsen/modulith/backend"
)

// Unit is one schema change for one module against one backend. Its identity
// is (module, backend, version); the engine guarantees at-most-once
// application per identity by consulting the ledger before running the body.
type Unit struct {
	Backend backend.Kind
	// Version is the version this unit upgrades the module's schema to.
	// Versions must be strictly increasing within a module+backend.
	Version int64
	Name    string
	Run     func(ctx context.Context, h *backend.Handle) error
}

// Record is the durable outcome of one migration attempt. Successful records
// are the proof of application the engine consults for idempotence; failed
// attempts are kept for diagnosis but never advance the schema version.
type Record struct {
	ID       string        `bson:"_id"`
	Module   string        `bson:"module"`
	Backend  backend.Kind  `bson:"backend"`
	Version  int64         `bson:"version"`
	Name     string        `bson:"name"`
	Applied  time.Time     `bson:"applied_at"`
	Duration time.Duration `bson:"duration_ns"`
	Success  bool          `bson:"success"`
	// Error holds the body's error message when Success is false.
	Error string `bson:"error,omitempty"`
}

// ModuleSet pairs a module name with its declared migration units, in
// declaration order.
type ModuleSet struct {
	Module string
	Units  []Unit
}

// ErrLedgerWrite means a migration body ran but its record could not be
// persisted. The ledger is the durable truth, so this is always fatal:
// continuing would risk re-running the body on the next startup.
var ErrLedgerWrite = errors.New("migration record write failed")

// ErrLedgerInconsistent means the ledger contents contradict the module's
// declared migration list (an applied version that was never declared, or a
// declared version below the high-water mark with no record).
var ErrLedgerInconsistent = errors.New("migration ledger inconsistent")

// Ledger persists migration records. Append must be atomic per record.
type Ledger interface {
	// Applied returns all records for (module, kind), any order.
	Applied(ctx context.Context, module string, kind backend.Kind) ([]Record, error)
	// Append durably writes one record.
	Append(ctx context.Context, rec Record) error
}

// Pending returns the ordered subsequence of units targeting kind whose
// version exceeds the highest applied version. Pure function.
//
// It also verifies the gap-free invariant: every declared unit at or below
// the high-water mark must have a record, and every record must match a
// declared unit. A violation returns ErrLedgerInconsistent.
func Pending(units []Unit, kind backend.Kind, applied []Record) ([]Unit, error) {
	declared := make(map[int64]bool)
	var high int64
	for _, rec := range applied {
		if rec.Backend != kind || !rec.Success {
			// Failed attempts never advance the high-water mark.
			continue
		}
		declared[rec.Version] = false // seen in ledger, not yet matched
		if rec.Version > high {
			high = rec.Version
		}
	}

	var out []Unit
	for _, u := range units {
		if u.Backend != kind {
			continue
		}
		if u.Version <= high {
			if _, ok := declared[u.Version]; !ok {
				return nil, fmt.Errorf("%w: version %d below high-water mark %d has no record", ErrLedgerInconsistent, u.Version, high)
			}
			declared[u.Version] = true
			continue
		}
		out = append(out, u)
	}

	for v, matched := range declared {
		if !matched {
			return nil, fmt.Errorf("%w: applied version %d was never declared", ErrLedgerInconsistent, v)
		}
	}
	return out, nil
}

// validateUnits checks that versions are strictly increasing per backend
// within one module's declaration order.
func validateUnits(module string, units []Unit) error {
	last := make(map[backend.Kind]int64)
	for _, u := range units {
		if u.Run == nil {
			return fmt.Errorf("module %s: migration %s/%d has no body", module, u.Backend, u.Version)
		}
		if prev, ok := last[u.Backend]; ok && u.Version <= prev {
			return fmt.Errorf("module %s: migration versions for %s not strictly increasing (%d after %d)", module, u.Backend, u.Version, prev)
		}
		last[u.Backend] = u.Version
	}
	return nil
}
