package migrate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthomsen/modulith/backend"
	"github.com/pthomsen/modulith/migrate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	kind       backend.Kind
	connectErr error
}

func (p *fakeProvider) Kind() backend.Kind { return p.kind }

func (p *fakeProvider) Connect(_ context.Context, _ backend.Config) (*backend.Handle, error) {
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	return backend.NewHandle(p.kind, p), nil
}

func (p *fakeProvider) HealthCheck(context.Context, *backend.Handle) error { return nil }
func (p *fakeProvider) Disconnect(context.Context, *backend.Handle) error  { return nil }

// failLedger wraps a real ledger but refuses writes.
type failLedger struct {
	*migrate.MemoryLedger
	appendErr error
}

func (l *failLedger) Append(ctx context.Context, rec migrate.Record) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	return l.MemoryLedger.Append(ctx, rec)
}

func connectedManager(t *testing.T, configs map[backend.Kind]backend.Config, providers ...backend.Provider) *backend.Manager {
	t.Helper()
	m := backend.NewManager(testLogger(), configs, time.Second, providers...)
	require.NoError(t, m.ConnectAll(context.Background()))
	return m
}

func documentManager(t *testing.T) *backend.Manager {
	t.Helper()
	return connectedManager(t,
		map[backend.Kind]backend.Config{backend.KindDocument: {}},
		&fakeProvider{kind: backend.KindDocument},
	)
}

// unit builds a document-store migration whose body appends name to log.
func unit(version int64, name string, log *[]string, mu *sync.Mutex) migrate.Unit {
	return migrate.Unit{
		Backend: backend.KindDocument,
		Version: version,
		Name:    name,
		Run: func(context.Context, *backend.Handle) error {
			mu.Lock()
			defer mu.Unlock()
			*log = append(*log, name)
			return nil
		},
	}
}

func TestPending(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *backend.Handle) error { return nil }
	units := []migrate.Unit{
		{Backend: backend.KindDocument, Version: 1, Name: "one", Run: noop},
		{Backend: backend.KindCache, Version: 1, Name: "cache_one", Run: noop},
		{Backend: backend.KindDocument, Version: 2, Name: "two", Run: noop},
		{Backend: backend.KindDocument, Version: 3, Name: "three", Run: noop},
	}
	rec := func(kind backend.Kind, v int64) migrate.Record {
		return migrate.Record{Module: "m", Backend: kind, Version: v, Success: true}
	}

	t.Run("nothing applied", func(t *testing.T) {
		pending, err := migrate.Pending(units, backend.KindDocument, nil)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, int64(1), pending[0].Version)
		assert.Equal(t, int64(3), pending[2].Version)
	})

	t.Run("partially applied", func(t *testing.T) {
		pending, err := migrate.Pending(units, backend.KindDocument, []migrate.Record{rec(backend.KindDocument, 1)})
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, int64(2), pending[0].Version)
	})

	t.Run("fully applied", func(t *testing.T) {
		pending, err := migrate.Pending(units, backend.KindDocument, []migrate.Record{
			rec(backend.KindDocument, 1), rec(backend.KindDocument, 2), rec(backend.KindDocument, 3),
		})
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("other kinds filtered", func(t *testing.T) {
		pending, err := migrate.Pending(units, backend.KindCache, nil)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "cache_one", pending[0].Name)
	})

	t.Run("failed attempts stay pending", func(t *testing.T) {
		failed := migrate.Record{Module: "m", Backend: backend.KindDocument, Version: 1, Error: "boom"}
		pending, err := migrate.Pending(units, backend.KindDocument, []migrate.Record{failed})
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, int64(1), pending[0].Version)
	})

	t.Run("gap below high-water mark", func(t *testing.T) {
		// Version 2 is applied but 1 has no record.
		_, err := migrate.Pending(units, backend.KindDocument, []migrate.Record{rec(backend.KindDocument, 2)})
		require.ErrorIs(t, err, migrate.ErrLedgerInconsistent)
	})

	t.Run("applied but never declared", func(t *testing.T) {
		_, err := migrate.Pending(units, backend.KindDocument, []migrate.Record{
			rec(backend.KindDocument, 1), rec(backend.KindDocument, 2), rec(backend.KindDocument, 3),
			rec(backend.KindDocument, 4),
		})
		require.ErrorIs(t, err, migrate.ErrLedgerInconsistent)
	})
}

func TestEngine_RunAll_AppliesInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string
	ledger := migrate.NewMemoryLedger()
	engine := migrate.NewEngine(ledger, documentManager(t), testLogger())

	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
		Module: "auth",
		Units: []migrate.Unit{
			unit(1, "users", &ran, &mu),
			unit(2, "api_keys", &ran, &mu),
			unit(3, "sessions", &ran, &mu),
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, []string{"users", "api_keys", "sessions"}, ran)

	recs := ledger.Records()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, "auth", rec.Module)
		assert.Equal(t, backend.KindDocument, rec.Backend)
		assert.Equal(t, int64(i+1), rec.Version)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Applied.IsZero())
		assert.True(t, rec.Success)
		assert.Empty(t, rec.Error)
	}
}

func TestEngine_RunAll_Idempotent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string
	ledger := migrate.NewMemoryLedger()
	mgr := documentManager(t)
	sets := []migrate.ModuleSet{{
		Module: "auth",
		Units:  []migrate.Unit{unit(1, "users", &ran, &mu), unit(2, "api_keys", &ran, &mu)},
	}}

	engine := migrate.NewEngine(ledger, mgr, testLogger())
	applied, err := engine.RunAll(context.Background(), sets)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	// Second run against the same ledger is a no-op; no body is re-invoked.
	applied, err = engine.RunAll(context.Background(), sets)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Len(t, ran, 2)
	assert.Len(t, ledger.Records(), 2)
}

func TestEngine_RunAll_CrossModuleOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string
	ledger := migrate.NewMemoryLedger()
	engine := migrate.NewEngine(ledger, documentManager(t), testLogger())

	// The set order is the dependency order; auth migrates before activity.
	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{
		{Module: "auth", Units: []migrate.Unit{unit(1, "users", &ran, &mu)}},
		{Module: "activity", Units: []migrate.Unit{unit(1, "events", &ran, &mu)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, []string{"users", "events"}, ran)

	recs := ledger.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "auth", recs[0].Module)
	assert.Equal(t, "activity", recs[1].Module)
}

func TestEngine_RunAll_BodyFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("index build failed")
	var mu sync.Mutex
	var ran []string
	ledger := migrate.NewMemoryLedger()
	engine := migrate.NewEngine(ledger, documentManager(t), testLogger())

	failing := migrate.Unit{
		Backend: backend.KindDocument,
		Version: 2,
		Name:    "broken",
		Run:     func(context.Context, *backend.Handle) error { return boom },
	}
	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
		Module: "auth",
		Units:  []migrate.Unit{unit(1, "users", &ran, &mu), failing, unit(3, "sessions", &ran, &mu)},
	}})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{"users"}, ran)

	// The failed attempt is on record with its error, but only the success
	// counts toward the schema version.
	recs := ledger.Records()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Success)
	assert.False(t, recs[1].Success)
	assert.Equal(t, "broken", recs[1].Name)
	assert.Contains(t, recs[1].Error, "index build failed")
}

func TestEngine_RunAll_RetriesAfterFailedAttempt(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string
	ledger := migrate.NewMemoryLedger()
	mgr := documentManager(t)

	fail := true
	flaky := migrate.Unit{
		Backend: backend.KindDocument,
		Version: 2,
		Name:    "flaky",
		Run: func(context.Context, *backend.Handle) error {
			if fail {
				return errors.New("transient")
			}
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, "flaky")
			return nil
		},
	}
	sets := []migrate.ModuleSet{{
		Module: "auth",
		Units:  []migrate.Unit{unit(1, "users", &ran, &mu), flaky},
	}}

	engine := migrate.NewEngine(ledger, mgr, testLogger())
	_, err := engine.RunAll(context.Background(), sets)
	require.Error(t, err)

	// The next run re-attempts the failed version and completes.
	fail = false
	applied, err := engine.RunAll(context.Background(), sets)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{"users", "flaky"}, ran)
}

func TestEngine_RunAll_LedgerWriteFailure(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ran []string
	ledger := &failLedger{
		MemoryLedger: migrate.NewMemoryLedger(),
		appendErr:    errors.New("disk full"),
	}
	engine := migrate.NewEngine(ledger, documentManager(t), testLogger())

	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
		Module: "auth",
		Units:  []migrate.Unit{unit(1, "users", &ran, &mu)},
	}})

	// The body ran but the record did not land; the run is fatal.
	require.ErrorIs(t, err, migrate.ErrLedgerWrite)
	assert.Equal(t, 0, applied)
	assert.Equal(t, []string{"users"}, ran)
}

func TestEngine_RunAll_OptionalBackendSkipped(t *testing.T) {
	t.Parallel()

	mgr := connectedManager(t,
		map[backend.Kind]backend.Config{
			backend.KindDocument: {},
			backend.KindCache:    {Optional: true},
		},
		&fakeProvider{kind: backend.KindDocument},
		&fakeProvider{kind: backend.KindCache, connectErr: errors.New("refused")},
	)

	var mu sync.Mutex
	var ran []string
	engine := migrate.NewEngine(migrate.NewMemoryLedger(), mgr, testLogger())

	cacheUnit := migrate.Unit{
		Backend: backend.KindCache,
		Version: 1,
		Name:    "warmup",
		Run:     func(context.Context, *backend.Handle) error { return errors.New("must not run") },
	}
	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
		Module: "activity",
		Units:  []migrate.Unit{unit(1, "events", &ran, &mu), cacheUnit},
	}})

	// The cache migration stays pending; the document one applies.
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{"events"}, ran)
}

func TestEngine_RunAll_RequiredBackendMissing(t *testing.T) {
	t.Parallel()

	engine := migrate.NewEngine(migrate.NewMemoryLedger(), documentManager(t), testLogger())

	applied, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
		Module: "activity",
		Units: []migrate.Unit{{
			Backend: backend.KindAnalytics,
			Version: 1,
			Name:    "events_table",
			Run:     func(context.Context, *backend.Handle) error { return nil },
		}},
	}})

	require.Error(t, err)
	assert.Equal(t, 0, applied)
	assert.Contains(t, err.Error(), "analytics")
}

func TestEngine_RunAll_RejectsBadDeclarations(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *backend.Handle) error { return nil }
	engine := migrate.NewEngine(migrate.NewMemoryLedger(), documentManager(t), testLogger())

	t.Run("versions not increasing", func(t *testing.T) {
		_, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
			Module: "auth",
			Units: []migrate.Unit{
				{Backend: backend.KindDocument, Version: 2, Name: "two", Run: noop},
				{Backend: backend.KindDocument, Version: 1, Name: "one", Run: noop},
			},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strictly increasing")
	})

	t.Run("missing body", func(t *testing.T) {
		_, err := engine.RunAll(context.Background(), []migrate.ModuleSet{{
			Module: "auth",
			Units:  []migrate.Unit{{Backend: backend.KindDocument, Version: 1, Name: "one"}},
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no body")
	})
}
