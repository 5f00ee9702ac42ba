// Package db defines the backend-neutral contract for the object/part
// store. The backend set is closed and selected at startup: postgres
// (pgvector) and memory. Consumers depend on narrow sub-interfaces.
package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/query"
)

// CollectionSchema describes the physical resources of one collection:
// an object table, a part table with fixed-dimension vectors, and the
// deferred vector index.
type CollectionSchema struct {
	CollectionID string
	Spec         metric.IndexSpec
}

// Store is the full store facade.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	SchemaManager
	Reader
	Searcher
	Begin(ctx context.Context) (Tx, error)
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaManager manages per-collection physical resources.
type SchemaManager interface {
	// CreateCollection allocates object and part tables. Index creation
	// is deferred to CreateVectorIndex.
	CreateCollection(ctx context.Context, schema CollectionSchema) error
	// CreateVectorIndex builds the vector index. Idempotent.
	CreateVectorIndex(ctx context.Context, schema CollectionSchema) error
	// DropCollection removes all physical resources of the collection.
	DropCollection(ctx context.Context, collectionID string) error
}

// ListQuery is a paginated metadata-only listing request.
type ListQuery struct {
	Limit         int
	Offset        int
	OriginalsOnly bool
}

// Reader reads committed state without taking locks.
type Reader interface {
	GetObjects(ctx context.Context, collectionID string, objectIDs []string) ([]object.Object, error)
	GetObjectsByOriginalIDs(ctx context.Context, collectionID string, originalIDs []string) ([]object.Object, error)
	CountObjects(ctx context.Context, collectionID string, originalsOnly bool) (int, error)
	ListCommonData(ctx context.Context, collectionID string, q ListQuery) ([]object.CommonData, error)
}

// SimilarityQuery is one vector search against a collection.
type SimilarityQuery struct {
	Vector      []float32
	Metric      metric.Metric
	Aggregation metric.Aggregation
	// Filter is the compiled payload predicate; nil means unfiltered.
	Filter query.Node
	// UserID scopes personalization: candidates are objects with no
	// user_id or this user_id, minus canonical objects shadowed by the
	// user's customized ones. Empty means anonymous.
	UserID      string
	MaxDistance *float64
	Limit       int
	Offset      int
	// SimilarityFirst narrows by nearest-neighbor before applying the
	// payload filter (faster, may under-return); otherwise the filter
	// restricts the candidate set first (exact).
	SimilarityFirst bool
	// AverageOnly restricts the scan to pre-aggregated representative
	// parts (is_average).
	AverageOnly bool
}

// SimilarityHit is one search result. The object carries metadata only;
// parts are not hydrated.
type SimilarityHit struct {
	Object     object.Object
	Distance   float64
	PartsFound int
}

// FilterQuery is a payload-filtered listing without a distance step.
type FilterQuery struct {
	Filter query.Node
	// OrderBy names a raw stored column; empty means insertion order.
	OrderBy string
	Limit   int
	Offset  int
}

// Searcher runs similarity and payload-filtered queries.
type Searcher interface {
	SearchSimilar(ctx context.Context, collectionID string, q *SimilarityQuery) ([]SimilarityHit, error)
	SearchByFilter(ctx context.Context, collectionID string, q *FilterQuery) ([]object.Object, error)
}

// Tx is one all-or-nothing mutation scope. A failure mid-batch rolls
// back every row touched by the call.
type Tx interface {
	// LockObjects acquires exclusive row locks on exactly the given ids
	// without waiting; ErrLockNotAvailable reports a conflict.
	LockObjects(ctx context.Context, collectionID string, objectIDs []string) error
	// InsertObjects writes object and part rows. A duplicate object id
	// is ErrDuplicateObject; no upsert semantics.
	InsertObjects(ctx context.Context, collectionID string, objs []object.Object) error
	// UpsertObjects writes or overwrites object rows. shrinkParts true
	// replaces each object's whole part set; false merges parts by
	// part id.
	UpsertObjects(ctx context.Context, collectionID string, objs []object.Object, shrinkParts bool) error
	// DeleteObjects removes part rows first, then object rows.
	DeleteObjects(ctx context.Context, collectionID string, objectIDs []string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
