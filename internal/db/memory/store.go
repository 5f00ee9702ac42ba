// Package memory implements db.Store in process. It is the reference
// backend for tests and local runs; its search pipeline runs on the
// metric package and query.Eval, the same semantics the postgres
// renderer encodes in SQL.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store keeps all collections in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

type collection struct {
	schema       db.CollectionSchema
	indexCreated bool
	order        []string
	objects      map[string]object.Object
	// locked maps object id to the owning open transaction.
	locked map[string]*Tx
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{collections: map[string]*collection{}}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady always succeeds.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// CreateCollection allocates the collection. Recreating an existing
// collection keeps its data (DDL is IF NOT EXISTS on postgres too).
func (s *Store) CreateCollection(_ context.Context, schema db.CollectionSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[schema.CollectionID]; ok {
		return nil
	}
	s.collections[schema.CollectionID] = &collection{
		schema:  schema,
		objects: map[string]object.Object{},
		locked:  map[string]*Tx{},
	}
	return nil
}

// CreateVectorIndex marks the index as built. Idempotent.
func (s *Store) CreateVectorIndex(_ context.Context, schema db.CollectionSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[schema.CollectionID]
	if !ok {
		return fmt.Errorf("create index %s: %w", schema.CollectionID, db.ErrCollectionMissing)
	}
	c.indexCreated = true
	return nil
}

// DropCollection removes the collection and all its objects.
func (s *Store) DropCollection(_ context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collectionID)
	return nil
}

func (s *Store) collection(id string) (*collection, error) {
	c, ok := s.collections[id]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, db.ErrCollectionMissing)
	}
	return c, nil
}

// GetObjects returns fully hydrated objects for the given ids. Missing
// ids are skipped.
func (s *Store) GetObjects(_ context.Context, collectionID string, objectIDs []string) ([]object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]object.Object, 0, len(objectIDs))
	for _, id := range objectIDs {
		if obj, ok := c.objects[id]; ok {
			out = append(out, cloneObject(obj))
		}
	}
	return out, nil
}

// GetObjectsByOriginalIDs returns objects whose original_id is in the set.
func (s *Store) GetObjectsByOriginalIDs(_ context.Context, collectionID string, originalIDs []string) ([]object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range originalIDs {
		want[id] = true
	}
	var out []object.Object
	for _, id := range c.order {
		obj := c.objects[id]
		if obj.OriginalID != "" && want[obj.OriginalID] {
			out = append(out, cloneObject(obj))
		}
	}
	return out, nil
}

// CountObjects counts objects, optionally canonical ones only.
func (s *Store) CountObjects(_ context.Context, collectionID string, originalsOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return 0, err
	}
	if !originalsOnly {
		return len(c.objects), nil
	}
	n := 0
	for _, obj := range c.objects {
		if obj.OriginalID == "" {
			n++
		}
	}
	return n, nil
}

// ListCommonData returns a metadata-only page in insertion order.
func (s *Store) ListCommonData(_ context.Context, collectionID string, q db.ListQuery) ([]object.CommonData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return nil, err
	}
	var all []object.CommonData
	for _, id := range c.order {
		obj := c.objects[id]
		if q.OriginalsOnly && obj.OriginalID != "" {
			continue
		}
		all = append(all, object.CommonData{
			ObjectID:    obj.ObjectID,
			Payload:     obj.Payload,
			StorageMeta: obj.StorageMeta,
			UserID:      obj.UserID,
			SessionID:   obj.SessionID,
			OriginalID:  obj.OriginalID,
			PartCount:   len(obj.Parts),
		})
	}
	return page(all, q.Offset, q.Limit), nil
}

// Begin opens a transaction. Mutations are staged and applied
// atomically on Commit; readers keep seeing committed state until then.
func (s *Store) Begin(_ context.Context) (db.Tx, error) {
	return &Tx{s: s, locked: map[string][]string{}}, nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func cloneObject(o object.Object) object.Object {
	parts := make([]object.Part, len(o.Parts))
	for i, p := range o.Parts {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		parts[i] = object.Part{PartID: p.PartID, Vector: vec, IsAverage: p.IsAverage}
	}
	o.Parts = parts
	return o
}
