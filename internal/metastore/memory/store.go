// Package memory implements metastore.Store in process for tests and
// local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/vectra/internal/metastore"
)

// Compile-time check: Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

// Store keeps metadata in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	collections map[string]metastore.CollectionDoc // key: namespace + "/" + collection id
	pointers    map[string]metastore.BluePointerDoc
}

// NewStore creates an empty in-memory metastore.
func NewStore() *Store {
	return &Store{
		collections: map[string]metastore.CollectionDoc{},
		pointers:    map[string]metastore.BluePointerDoc{},
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady always succeeds.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

func docKey(namespace, collectionID string) string {
	return namespace + "/" + collectionID
}

// PutCollection creates the record; an existing id is ErrDocExists.
func (s *Store) PutCollection(_ context.Context, doc metastore.CollectionDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(doc.Namespace, doc.CollectionID)
	if _, ok := s.collections[key]; ok {
		return fmt.Errorf("collection %s: %w", doc.CollectionID, metastore.ErrDocExists)
	}
	s.collections[key] = doc
	return nil
}

// UpdateCollection overwrites the record; a missing id is ErrDocNotFound.
func (s *Store) UpdateCollection(_ context.Context, doc metastore.CollectionDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(doc.Namespace, doc.CollectionID)
	if _, ok := s.collections[key]; !ok {
		return fmt.Errorf("collection %s: %w", doc.CollectionID, metastore.ErrDocNotFound)
	}
	s.collections[key] = doc
	return nil
}

// DeleteCollection removes the record. Missing ids are a no-op.
func (s *Store) DeleteCollection(_ context.Context, namespace, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, docKey(namespace, collectionID))
	return nil
}

// GetCollection returns one record.
func (s *Store) GetCollection(_ context.Context, namespace, collectionID string) (metastore.CollectionDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[docKey(namespace, collectionID)]
	if !ok {
		return doc, fmt.Errorf("collection %s: %w", collectionID, metastore.ErrDocNotFound)
	}
	return doc, nil
}

// ListCollections returns all records of the namespace.
func (s *Store) ListCollections(_ context.Context, namespace string) ([]metastore.CollectionDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []metastore.CollectionDoc
	for _, doc := range s.collections {
		if doc.Namespace == namespace {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// GetBluePointer returns the namespace's blue pointer.
func (s *Store) GetBluePointer(_ context.Context, namespace string) (metastore.BluePointerDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.pointers[namespace]
	if !ok {
		return doc, fmt.Errorf("namespace %s: %w", namespace, metastore.ErrDocNotFound)
	}
	return doc, nil
}

// SetBluePointer overwrites the namespace's blue pointer.
func (s *Store) SetBluePointer(_ context.Context, doc metastore.BluePointerDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[doc.Namespace] = doc
	return nil
}
