// Package collection is the data-path repository for one collection:
// object writes behind row locks, reads, listings and similarity
// search. It binds a store backend to the collection's index spec and
// enforces dimensionality on every vector that comes in.
package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/domain/payload"
	"github.com/kailas-cloud/vectra/internal/metrics"
	"github.com/kailas-cloud/vectra/internal/query"
)

// store is the consumer interface over the vector store (ISP).
type store interface {
	db.Reader
	db.Searcher
	CreateVectorIndex(ctx context.Context, schema db.CollectionSchema) error
	Begin(ctx context.Context) (db.Tx, error)
}

// metaCache records index state and optimizations in the catalog.
type metaCache interface {
	SetIndexState(ctx context.Context, collectionID string, created bool) error
	MarkOptimization(ctx context.Context, collectionID, name string) error
}

// LockConfig tunes the bounded row-lock retry loop.
type LockConfig struct {
	MaxRetries uint64
	Delay      time.Duration
}

// DefaultLockConfig returns the retry parameters used when the
// configuration does not override them.
func DefaultLockConfig() LockConfig {
	return LockConfig{MaxRetries: 10, Delay: 100 * time.Millisecond}
}

// Collection is the repository bound to one collection.
type Collection struct {
	store   store
	meta    metaCache
	info    collection.Info
	locking LockConfig
	log     *zap.Logger
}

// New creates a collection repository.
func New(s store, meta metaCache, info collection.Info, locking LockConfig, log *zap.Logger) *Collection {
	if locking.MaxRetries == 0 || locking.Delay <= 0 {
		locking = DefaultLockConfig()
	}
	return &Collection{store: s, meta: meta, info: info, locking: locking, log: log}
}

// Info returns the collection metadata this repository is bound to.
func (c *Collection) Info() collection.Info { return c.info }

// Insert writes new objects. Every vector is validated against the
// collection dimensionality before any row is touched; a duplicate
// object id fails the whole batch.
func (c *Collection) Insert(ctx context.Context, objs []object.Object) error {
	if err := c.validateVectors(objs); err != nil {
		return err
	}
	err := c.withLockedTx(ctx, objectIDs(objs), func(tx db.Tx) error {
		return tx.InsertObjects(ctx, c.info.CollectionID, objs)
	})
	if errors.Is(err, db.ErrDuplicateObject) {
		return fmt.Errorf("insert: %w", domain.ErrDuplicateObject)
	}
	if err == nil {
		metrics.ObjectsWrittenTotal.WithLabelValues(c.info.CollectionID, "insert").Add(float64(len(objs)))
	}
	return err
}

// Upsert writes or overwrites objects. shrinkParts true replaces each
// object's whole part set; false merges incoming parts by part id.
func (c *Collection) Upsert(ctx context.Context, objs []object.Object, shrinkParts bool) error {
	if err := c.validateVectors(objs); err != nil {
		return err
	}
	err := c.withLockedTx(ctx, objectIDs(objs), func(tx db.Tx) error {
		return tx.UpsertObjects(ctx, c.info.CollectionID, objs, shrinkParts)
	})
	if err == nil {
		metrics.ObjectsWrittenTotal.WithLabelValues(c.info.CollectionID, "upsert").Add(float64(len(objs)))
	}
	return err
}

// Delete removes objects by id. Missing ids are a no-op.
func (c *Collection) Delete(ctx context.Context, ids []string) error {
	err := c.withLockedTx(ctx, ids, func(tx db.Tx) error {
		return tx.DeleteObjects(ctx, c.info.CollectionID, ids)
	})
	if err == nil {
		metrics.ObjectsWrittenTotal.WithLabelValues(c.info.CollectionID, "delete").Add(float64(len(ids)))
	}
	return err
}

// DeleteWithCustomized removes the given canonical objects together
// with every customized object derived from them. There is no cascade
// on plain Delete; callers opt into this explicitly.
func (c *Collection) DeleteWithCustomized(ctx context.Context, ids []string) error {
	derived, err := c.store.GetObjectsByOriginalIDs(ctx, c.info.CollectionID, ids)
	if err != nil {
		return err
	}
	all := append(append([]string{}, ids...), objectIDs(derived)...)
	err = c.withLockedTx(ctx, all, func(tx db.Tx) error {
		return tx.DeleteObjects(ctx, c.info.CollectionID, all)
	})
	if err == nil {
		metrics.ObjectsWrittenTotal.WithLabelValues(c.info.CollectionID, "delete").Add(float64(len(all)))
	}
	return err
}

// withLockedTx runs fn in a transaction holding row locks on the given
// ids. Lock conflicts retry with a fixed delay up to the configured
// bound; exhaustion surfaces ErrLockAcquisition, which callers may
// resolve by resubmitting.
func (c *Collection) withLockedTx(ctx context.Context, ids []string, fn func(tx db.Tx) error) error {
	ids = dedup(ids)
	backoff := retry.WithMaxRetries(c.locking.MaxRetries, retry.NewConstant(c.locking.Delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := c.store.Begin(ctx)
		if err != nil {
			return err
		}
		if err := tx.LockObjects(ctx, c.info.CollectionID, ids); err != nil {
			_ = tx.Rollback(ctx)
			if errors.Is(err, db.ErrLockNotAvailable) {
				metrics.LockRetriesTotal.WithLabelValues(c.info.CollectionID).Inc()
				c.log.Debug("row lock conflict, retrying",
					zap.String("collection_id", c.info.CollectionID),
					zap.Int("ids", len(ids)))
				return retry.RetryableError(err)
			}
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		return tx.Commit(ctx)
	})
	if errors.Is(err, db.ErrLockNotAvailable) {
		return fmt.Errorf("collection %s: %w", c.info.CollectionID, domain.ErrLockAcquisition)
	}
	return err
}

// FindByIDs returns hydrated objects for the given ids. Missing ids are
// skipped.
func (c *Collection) FindByIDs(ctx context.Context, ids []string) ([]object.Object, error) {
	return c.store.GetObjects(ctx, c.info.CollectionID, ids)
}

// FindByID returns one hydrated object.
func (c *Collection) FindByID(ctx context.Context, id string) (object.Object, error) {
	objs, err := c.store.GetObjects(ctx, c.info.CollectionID, []string{id})
	if err != nil {
		return object.Object{}, err
	}
	if len(objs) == 0 {
		return object.Object{}, fmt.Errorf("object %s: %w", id, domain.ErrObjectNotFound)
	}
	return objs[0], nil
}

// FindByOriginalIDs returns customized objects derived from the given
// canonical ids.
func (c *Collection) FindByOriginalIDs(ctx context.Context, originalIDs []string) ([]object.Object, error) {
	return c.store.GetObjectsByOriginalIDs(ctx, c.info.CollectionID, originalIDs)
}

// Total counts stored objects, optionally canonical ones only.
func (c *Collection) Total(ctx context.Context, originalsOnly bool) (int, error) {
	return c.store.CountObjects(ctx, c.info.CollectionID, originalsOnly)
}

// CommonDataBatch lists object metadata in insertion order. The second
// return value is the next page offset; nil means the listing is
// exhausted. A full page implies a next page, so the final batch can be
// empty.
func (c *Collection) CommonDataBatch(ctx context.Context, limit, offset int, originalsOnly bool) ([]object.CommonData, *int, error) {
	batch, err := c.store.ListCommonData(ctx, c.info.CollectionID, db.ListQuery{
		Limit:         limit,
		Offset:        offset,
		OriginalsOnly: originalsOnly,
	})
	if err != nil {
		return nil, nil, err
	}
	var next *int
	if limit > 0 && len(batch) == limit {
		n := offset + limit
		next = &n
	}
	return batch, next, nil
}

// CreateIndex builds the vector index and records the state in the
// catalog. Idempotent.
func (c *Collection) CreateIndex(ctx context.Context) error {
	schema := db.CollectionSchema{CollectionID: c.info.CollectionID, Spec: c.info.Spec}
	if err := c.store.CreateVectorIndex(ctx, schema); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	if err := c.meta.SetIndexState(ctx, c.info.CollectionID, true); err != nil {
		return err
	}
	c.info.IndexCreated = true
	return nil
}

// MarkOptimization records an applied optimization by name.
func (c *Collection) MarkOptimization(ctx context.Context, name string) error {
	return c.meta.MarkOptimization(ctx, c.info.CollectionID, name)
}

// SimilarityRequest is one search against the collection. The metric
// and aggregation come from the collection spec, not the request.
type SimilarityRequest struct {
	Vector []float32
	// Filter restricts candidates by payload; nil means unfiltered.
	Filter *payload.Filter
	// UserID scopes personalization; empty means anonymous.
	UserID      string
	MaxDistance *float64
	Limit       int
	Offset      int
	// SimilarityFirst ranks by distance before filtering (faster, may
	// under-return within the window).
	SimilarityFirst bool
	// AverageOnly scores only pre-aggregated representative parts.
	AverageOnly bool
}

// FoundObject is one search hit. The object carries metadata only.
type FoundObject struct {
	Object     object.Object
	Distance   float64
	PartsFound int
}

// SimilarityResult is a page of hits plus the next page offset; nil
// means the result set is exhausted.
type SimilarityResult struct {
	Objects    []FoundObject
	NextOffset *int
}

// FindSimilarities runs the similarity pipeline: dimension check,
// filter compilation, backend search, pagination bookkeeping.
func (c *Collection) FindSimilarities(ctx context.Context, req SimilarityRequest) (SimilarityResult, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.SearchRequestsTotal.WithLabelValues(c.info.CollectionID, status).Inc()
		metrics.SearchDuration.WithLabelValues(c.info.CollectionID).Observe(time.Since(start).Seconds())
	}()

	if err := c.info.Spec.ValidateVector(req.Vector); err != nil {
		status = "error"
		return SimilarityResult{}, err
	}
	var pred query.Node
	if req.Filter != nil {
		var err error
		if pred, err = query.Compile(*req.Filter); err != nil {
			status = "error"
			return SimilarityResult{}, fmt.Errorf("compile filter: %w", err)
		}
	}
	hits, err := c.store.SearchSimilar(ctx, c.info.CollectionID, &db.SimilarityQuery{
		Vector:          req.Vector,
		Metric:          c.info.Spec.Metric,
		Aggregation:     c.info.Spec.Aggregation,
		Filter:          pred,
		UserID:          req.UserID,
		MaxDistance:     req.MaxDistance,
		Limit:           req.Limit,
		Offset:          req.Offset,
		SimilarityFirst: req.SimilarityFirst,
		AverageOnly:     req.AverageOnly,
	})
	if err != nil {
		status = "error"
		return SimilarityResult{}, fmt.Errorf("search similar: %w", err)
	}
	result := SimilarityResult{Objects: make([]FoundObject, len(hits))}
	for i, h := range hits {
		result.Objects[i] = FoundObject{Object: h.Object, Distance: h.Distance, PartsFound: h.PartsFound}
	}
	if req.Limit > 0 && len(hits) == req.Limit {
		n := req.Offset + req.Limit
		result.NextOffset = &n
	}
	return result, nil
}

// FindByPayloadFilter lists hydrated objects matching the filter,
// without a distance step. The second return value is the next page
// offset; nil means the listing is exhausted. A full page implies a
// next page, so the final batch can be empty.
func (c *Collection) FindByPayloadFilter(ctx context.Context, f *payload.Filter, orderBy string, limit, offset int) ([]object.Object, *int, error) {
	var pred query.Node
	if f != nil {
		var err error
		if pred, err = query.Compile(*f); err != nil {
			return nil, nil, fmt.Errorf("compile filter: %w", err)
		}
	}
	objs, err := c.store.SearchByFilter(ctx, c.info.CollectionID, &db.FilterQuery{
		Filter:  pred,
		OrderBy: orderBy,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, nil, err
	}
	var next *int
	if limit > 0 && len(objs) == limit {
		n := offset + limit
		next = &n
	}
	return objs, next, nil
}

// validateVectors checks every part vector against the collection
// dimensionality.
func (c *Collection) validateVectors(objs []object.Object) error {
	for _, obj := range objs {
		for _, p := range obj.Parts {
			if err := c.info.Spec.ValidateVector(p.Vector); err != nil {
				return fmt.Errorf("object %s part %s: %w", obj.ObjectID, p.PartID, err)
			}
		}
	}
	return nil
}

func objectIDs(objs []object.Object) []string {
	ids := make([]string, len(objs))
	for i, obj := range objs {
		ids[i] = obj.ObjectID
	}
	return ids
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
