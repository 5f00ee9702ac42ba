// Package catalog keeps the in-memory view of collection metadata for
// one namespace: which collections exist, their index specs, and which
// one is blue. All reads are served from the cache; mutations write
// through to the metastore and then reload.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/metastore"
	"github.com/kailas-cloud/vectra/internal/metrics"
)

// Service is the metadata cache for one namespace.
type Service struct {
	store     Metastore
	namespace string
	log       *zap.Logger

	mu               sync.RWMutex
	collections      map[string]collection.Info
	queryCollections map[string]collection.Info
	blue             *collection.BluePointer
}

// New creates the catalog and loads the namespace's metadata.
func New(ctx context.Context, store Metastore, namespace string, log *zap.Logger) (*Service, error) {
	s := &Service{
		store:            store,
		namespace:        namespace,
		log:              log,
		collections:      map[string]collection.Info{},
		queryCollections: map[string]collection.Info{},
	}
	if err := s.Invalidate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Invalidate reloads the full namespace state from the metastore.
func (s *Service) Invalidate(ctx context.Context) error {
	docs, err := s.store.ListCollections(ctx, s.namespace)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	var blue *collection.BluePointer
	ptr, err := s.store.GetBluePointer(ctx, s.namespace)
	switch {
	case err == nil:
		blue = &collection.BluePointer{
			Namespace:         ptr.Namespace,
			CollectionID:      ptr.CollectionID,
			QueryCollectionID: ptr.QueryCollectionID,
		}
	case errors.Is(err, metastore.ErrDocNotFound):
		// No blue pointer yet; nothing is serving.
	default:
		return fmt.Errorf("get blue pointer: %w", err)
	}

	collections := map[string]collection.Info{}
	queryCollections := map[string]collection.Info{}
	for _, doc := range docs {
		info := infoFromDoc(doc)
		if info.ContainsQueries {
			queryCollections[info.CollectionID] = info
		} else {
			collections[info.CollectionID] = info
		}
	}

	s.mu.Lock()
	s.collections = collections
	s.queryCollections = queryCollections
	s.blue = blue
	s.mu.Unlock()
	return nil
}

// AddCollection persists and caches a new collection record. An
// already-registered id is tolerated and logged; concurrent creators
// converge on the same record.
func (s *Service) AddCollection(ctx context.Context, info collection.Info) error {
	return s.add(ctx, info, false)
}

// AddQueryCollection persists and caches a new query-collection record.
func (s *Service) AddQueryCollection(ctx context.Context, info collection.Info) error {
	return s.add(ctx, info, true)
}

func (s *Service) add(ctx context.Context, info collection.Info, containsQueries bool) error {
	info.ContainsQueries = containsQueries
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	err := s.store.PutCollection(ctx, docFromInfo(s.namespace, info))
	if err != nil {
		if !errors.Is(err, metastore.ErrDocExists) {
			return fmt.Errorf("put collection: %w", err)
		}
		s.log.Info("collection already registered",
			zap.String("collection_id", info.CollectionID))
		return s.Invalidate(ctx)
	}
	s.mu.Lock()
	if containsQueries {
		s.queryCollections[info.CollectionID] = info
	} else {
		s.collections[info.CollectionID] = info
	}
	s.mu.Unlock()
	return nil
}

// SetBlueCollection promotes the pair to blue. The state is reloaded,
// both ids are verified to exist, then the pointer is written and the
// state reloaded again. Two concurrent switches can interleave between
// the verification and the pointer write; the last write wins.
func (s *Service) SetBlueCollection(ctx context.Context, collectionID, queryCollectionID string) error {
	if err := s.Invalidate(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	_, haveCollection := s.collections[collectionID]
	_, haveQueries := s.queryCollections[queryCollectionID]
	s.mu.RUnlock()
	if !haveCollection {
		return fmt.Errorf("collection %s: %w", collectionID, domain.ErrCollectionNotFound)
	}
	if !haveQueries {
		return fmt.Errorf("query collection %s: %w", queryCollectionID, domain.ErrCollectionNotFound)
	}
	err := s.store.SetBluePointer(ctx, metastore.BluePointerDoc{
		Namespace:         s.namespace,
		CollectionID:      collectionID,
		QueryCollectionID: queryCollectionID,
	})
	if err != nil {
		return fmt.Errorf("set blue pointer: %w", err)
	}
	metrics.BlueSwitchesTotal.Inc()
	s.log.Info("blue collection switched",
		zap.String("collection_id", collectionID),
		zap.String("query_collection_id", queryCollectionID))
	return s.Invalidate(ctx)
}

// SetIndexState records whether the vector index has been built.
func (s *Service) SetIndexState(ctx context.Context, collectionID string, created bool) error {
	return s.update(ctx, collectionID, func(info *collection.Info) {
		info.IndexCreated = created
	})
}

// MarkOptimization records an applied optimization by name. Marking the
// same name twice is a no-op.
func (s *Service) MarkOptimization(ctx context.Context, collectionID, name string) error {
	return s.update(ctx, collectionID, func(info *collection.Info) {
		for _, applied := range info.AppliedOptimizations {
			if applied == name {
				return
			}
		}
		info.AppliedOptimizations = append(info.AppliedOptimizations, name)
	})
}

// update writes the mutated record to the metastore first and touches
// the cache only after the write succeeds; a failed write leaves the
// cache serving the stored state.
func (s *Service) update(ctx context.Context, collectionID string, mutate func(*collection.Info)) error {
	s.mu.RLock()
	info, isQuery, ok := s.lookup(collectionID)
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("collection %s: %w", collectionID, domain.ErrCollectionNotFound)
	}
	mutate(&info)

	if err := s.store.UpdateCollection(ctx, docFromInfo(s.namespace, info)); err != nil {
		return fmt.Errorf("update collection: %w", err)
	}

	s.mu.Lock()
	if isQuery {
		s.queryCollections[collectionID] = info
	} else {
		s.collections[collectionID] = info
	}
	s.mu.Unlock()
	return nil
}

// DeleteCollection removes the record from the metastore and the cache.
func (s *Service) DeleteCollection(ctx context.Context, collectionID string) error {
	if err := s.store.DeleteCollection(ctx, s.namespace, collectionID); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	s.mu.Lock()
	delete(s.collections, collectionID)
	delete(s.queryCollections, collectionID)
	s.mu.Unlock()
	return nil
}

// lookup finds the info in either map. Caller holds the mutex.
func (s *Service) lookup(collectionID string) (collection.Info, bool, bool) {
	if info, ok := s.collections[collectionID]; ok {
		return info, false, true
	}
	if info, ok := s.queryCollections[collectionID]; ok {
		return info, true, true
	}
	return collection.Info{}, false, false
}

// Get returns the cached info for the id, with WorkState derived from
// the blue pointer.
func (s *Service) Get(collectionID string) (collection.Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, _, ok := s.lookup(collectionID)
	if !ok {
		return collection.Info{}, false
	}
	return s.withWorkState(info), true
}

// Collections returns all cached document collections.
func (s *Service) Collections() []collection.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.collections)
}

// QueryCollections returns all cached query collections.
func (s *Service) QueryCollections() []collection.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.queryCollections)
}

// BlueCollection returns the serving document collection, if any.
func (s *Service) BlueCollection() (collection.Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blue == nil {
		return collection.Info{}, false
	}
	info, ok := s.collections[s.blue.CollectionID]
	if !ok {
		return collection.Info{}, false
	}
	return s.withWorkState(info), true
}

// BlueQueryCollection returns the serving query collection, if any.
func (s *Service) BlueQueryCollection() (collection.Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blue == nil {
		return collection.Info{}, false
	}
	info, ok := s.queryCollections[s.blue.QueryCollectionID]
	if !ok {
		return collection.Info{}, false
	}
	return s.withWorkState(info), true
}

// withWorkState derives the serving role from the blue pointer. Caller
// holds the mutex.
func (s *Service) withWorkState(info collection.Info) collection.Info {
	info.WorkState = collection.WorkStateGreen
	if s.blue != nil &&
		(info.CollectionID == s.blue.CollectionID || info.CollectionID == s.blue.QueryCollectionID) {
		info.WorkState = collection.WorkStateBlue
	}
	return info
}

func (s *Service) snapshot(m map[string]collection.Info) []collection.Info {
	out := make([]collection.Info, 0, len(m))
	for _, info := range m {
		out = append(out, s.withWorkState(info))
	}
	return out
}

func infoFromDoc(doc metastore.CollectionDoc) collection.Info {
	return collection.Info{
		CollectionID: doc.CollectionID,
		Model:        domain.EmbeddingModelInfo{Name: doc.ModelName, ID: doc.ModelID},
		Spec: metric.IndexSpec{
			Dimensions:  doc.Dimensions,
			Metric:      metric.Metric(doc.Metric),
			Aggregation: metric.Aggregation(doc.Aggregation),
			HNSW:        metric.HNSWParams{M: doc.HNSWM, EFConstruction: doc.HNSWEFConstruction},
		},
		CreatedAt:            doc.CreatedAt,
		IndexCreated:         doc.IndexCreated,
		ContainsQueries:      doc.ContainsQueries,
		AppliedOptimizations: doc.AppliedOptimizations,
	}
}

func docFromInfo(namespace string, info collection.Info) metastore.CollectionDoc {
	return metastore.CollectionDoc{
		Namespace:            namespace,
		CollectionID:         info.CollectionID,
		ModelName:            info.Model.Name,
		ModelID:              info.Model.ID,
		Dimensions:           info.Spec.Dimensions,
		Metric:               string(info.Spec.Metric),
		Aggregation:          string(info.Spec.Aggregation),
		HNSWM:                info.Spec.HNSW.M,
		HNSWEFConstruction:   info.Spec.HNSW.EFConstruction,
		CreatedAt:            info.CreatedAt,
		IndexCreated:         info.IndexCreated,
		ContainsQueries:      info.ContainsQueries,
		AppliedOptimizations: info.AppliedOptimizations,
	}
}
