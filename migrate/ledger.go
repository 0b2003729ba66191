package migrate

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pthomsen/modulith/backend"
)

// ledgerCollection is the document-store collection holding one record per
// applied (module, backend, version) triple. All records live here, even for
// migrations applied against the analytics store or cache.
const ledgerCollection = "migrations"

// MongoLedger persists records in the document store.
type MongoLedger struct {
	coll *mongo.Collection
}

func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{coll: db.Collection(ledgerCollection)}
}

func (l *MongoLedger) Applied(ctx context.Context, module string, kind backend.Kind) ([]Record, error) {
	cur, err := l.coll.Find(ctx, bson.D{
		{Key: "module", Value: module},
		{Key: "backend", Value: string(kind)},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *MongoLedger) Append(ctx context.Context, rec Record) error {
	_, err := l.coll.InsertOne(ctx, rec)
	return err
}

// MemoryLedger is an in-process ledger for tests and ledger-free runs.
type MemoryLedger struct {
	mu   sync.Mutex
	recs []Record
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) Applied(_ context.Context, module string, kind backend.Kind) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, r := range l.recs {
		if r.Module == module && r.Backend == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Append(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (l *MemoryLedger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}
