// Package metastore defines the contract for the collection metadata
// store. Metadata lives apart from vector data: collection records and
// the per-namespace blue pointer. The backend set is closed and
// selected at startup: redis (RedisJSON) and memory.
package metastore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for metadata operations.
var (
	ErrDocNotFound = errors.New("metastore: document not found")
	ErrDocExists   = errors.New("metastore: document already exists")
)

// CollectionDoc is the persisted metadata record of one collection.
// The index spec is stored flat so the document stays queryable.
type CollectionDoc struct {
	Namespace            string    `json:"namespace"`
	CollectionID         string    `json:"collection_id"`
	ModelName            string    `json:"model_name"`
	ModelID              string    `json:"model_id"`
	Dimensions           uint      `json:"dimensions"`
	Metric               string    `json:"metric"`
	Aggregation          string    `json:"aggregation"`
	HNSWM                uint      `json:"hnsw_m"`
	HNSWEFConstruction   uint      `json:"hnsw_ef_construction"`
	CreatedAt            time.Time `json:"created_at"`
	IndexCreated         bool      `json:"index_created"`
	ContainsQueries      bool      `json:"contains_queries"`
	AppliedOptimizations []string  `json:"applied_optimizations,omitempty"`
}

// BluePointerDoc is the persisted blue pointer of one namespace.
type BluePointerDoc struct {
	Namespace         string `json:"namespace"`
	CollectionID      string `json:"collection_id"`
	QueryCollectionID string `json:"query_collection_id"`
}

// Store persists collection metadata and blue pointers.
type Store interface {
	// PutCollection creates the record; an existing id is ErrDocExists.
	PutCollection(ctx context.Context, doc CollectionDoc) error
	// UpdateCollection overwrites the record; a missing id is ErrDocNotFound.
	UpdateCollection(ctx context.Context, doc CollectionDoc) error
	// DeleteCollection removes the record. Missing ids are a no-op.
	DeleteCollection(ctx context.Context, namespace, collectionID string) error
	// GetCollection returns one record; a missing id is ErrDocNotFound.
	GetCollection(ctx context.Context, namespace, collectionID string) (CollectionDoc, error)
	// ListCollections returns all records of the namespace.
	ListCollections(ctx context.Context, namespace string) ([]CollectionDoc, error)
	// GetBluePointer returns the namespace's blue pointer; unset is
	// ErrDocNotFound.
	GetBluePointer(ctx context.Context, namespace string) (BluePointerDoc, error)
	// SetBluePointer overwrites the namespace's blue pointer.
	SetBluePointer(ctx context.Context, doc BluePointerDoc) error

	Ping(ctx context.Context) error
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}
