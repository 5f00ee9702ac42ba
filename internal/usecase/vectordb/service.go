// Package vectordb is the entry point to the vector database layer: it
// creates and resolves collections for embedding models, hands out
// bound repositories, and drives the blue/green switch. One Service
// instance per namespace, injected where needed; there is no global
// registry.
package vectordb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	repocol "github.com/kailas-cloud/vectra/internal/repository/collection"
)

// Service resolves embedding models to collection repositories.
type Service struct {
	store   db.Store
	catalog Catalog
	locking repocol.LockConfig
	log     *zap.Logger
}

// New creates the registry service.
func New(store db.Store, cat Catalog, locking repocol.LockConfig, log *zap.Logger) *Service {
	return &Service{store: store, catalog: cat, locking: locking, log: log}
}

// CreateCollection creates the collection for the model: physical
// tables first, then the metadata record. Creating an existing
// collection for the same model is idempotent; the same collection id
// bound to a different model is ErrCreateCollectionConflict.
func (s *Service) CreateCollection(ctx context.Context, model domain.EmbeddingModelInfo, spec metric.IndexSpec) (*repocol.Collection, error) {
	return s.create(ctx, model, model.CollectionID(), spec, false)
}

// CreateQueryCollection creates the paired query collection for the
// model.
func (s *Service) CreateQueryCollection(ctx context.Context, model domain.EmbeddingModelInfo, spec metric.IndexSpec) (*repocol.Collection, error) {
	return s.create(ctx, model, model.QueryCollectionID(), spec, true)
}

func (s *Service) create(ctx context.Context, model domain.EmbeddingModelInfo, collectionID string, spec metric.IndexSpec, containsQueries bool) (*repocol.Collection, error) {
	if existing, ok := s.catalog.Get(collectionID); ok {
		if existing.Model.FullName() != model.FullName() {
			return nil, fmt.Errorf("collection %s bound to %s: %w",
				collectionID, existing.Model.FullName(), domain.ErrCreateCollectionConflict)
		}
		return s.repo(existing), nil
	}

	info := collection.Info{
		CollectionID:    collectionID,
		Model:           model,
		Spec:            spec,
		CreatedAt:       time.Now().UTC(),
		ContainsQueries: containsQueries,
	}
	schema := db.CollectionSchema{CollectionID: collectionID, Spec: spec}
	if err := s.store.CreateCollection(ctx, schema); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", collectionID, err)
	}
	var err error
	if containsQueries {
		err = s.catalog.AddQueryCollection(ctx, info)
	} else {
		err = s.catalog.AddCollection(ctx, info)
	}
	if err != nil {
		return nil, fmt.Errorf("register collection %s: %w", collectionID, err)
	}
	s.log.Info("collection created",
		zap.String("collection_id", collectionID),
		zap.String("model", model.FullName()),
		zap.Bool("contains_queries", containsQueries))

	// A concurrent creator may have registered first; serve the cached
	// record either way.
	if registered, ok := s.catalog.Get(collectionID); ok {
		info = registered
	}
	return s.repo(info), nil
}

// GetOrCreateCollection resolves the model's collection, creating it on
// first use. Creation here is not atomic across the physical store and
// the metadata record; concurrent callers converge because both steps
// tolerate an existing result.
func (s *Service) GetOrCreateCollection(ctx context.Context, model domain.EmbeddingModelInfo, spec metric.IndexSpec) (*repocol.Collection, error) {
	return s.CreateCollection(ctx, model, spec)
}

// GetCollection returns the repository for a known collection id.
func (s *Service) GetCollection(collectionID string) (*repocol.Collection, error) {
	info, ok := s.catalog.Get(collectionID)
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, domain.ErrCollectionNotFound)
	}
	return s.repo(info), nil
}

// GetBlueCollection returns the repository serving document traffic.
func (s *Service) GetBlueCollection() (*repocol.Collection, error) {
	info, ok := s.catalog.BlueCollection()
	if !ok {
		return nil, fmt.Errorf("blue collection: %w", domain.ErrCollectionNotFound)
	}
	return s.repo(info), nil
}

// GetBlueQueryCollection returns the repository serving query traffic.
func (s *Service) GetBlueQueryCollection() (*repocol.Collection, error) {
	info, ok := s.catalog.BlueQueryCollection()
	if !ok {
		return nil, fmt.Errorf("blue query collection: %w", domain.ErrCollectionNotFound)
	}
	return s.repo(info), nil
}

// SetBlueCollection promotes the collection and its paired query
// collection to blue.
func (s *Service) SetBlueCollection(ctx context.Context, collectionID string) error {
	return s.catalog.SetBlueCollection(ctx, collectionID, collectionID+domain.QueryCollectionSuffix)
}

// DeleteCollection drops the collection's physical resources and its
// metadata record. The serving blue pair cannot be deleted.
func (s *Service) DeleteCollection(ctx context.Context, collectionID string) error {
	if blue, ok := s.catalog.BlueCollection(); ok && blue.CollectionID == collectionID {
		return fmt.Errorf("collection %s: %w", collectionID, domain.ErrDeleteBlueCollection)
	}
	if blue, ok := s.catalog.BlueQueryCollection(); ok && blue.CollectionID == collectionID {
		return fmt.Errorf("collection %s: %w", collectionID, domain.ErrDeleteBlueCollection)
	}
	if _, ok := s.catalog.Get(collectionID); !ok {
		return fmt.Errorf("collection %s: %w", collectionID, domain.ErrCollectionNotFound)
	}
	if err := s.store.DropCollection(ctx, collectionID); err != nil {
		return fmt.Errorf("drop collection %s: %w", collectionID, err)
	}
	if err := s.catalog.DeleteCollection(ctx, collectionID); err != nil {
		return err
	}
	s.log.Info("collection deleted", zap.String("collection_id", collectionID))
	return nil
}

// Collections lists all document collections.
func (s *Service) Collections() []collection.Info { return s.catalog.Collections() }

// QueryCollections lists all query collections.
func (s *Service) QueryCollections() []collection.Info { return s.catalog.QueryCollections() }

// Invalidate reloads the catalog from the metastore.
func (s *Service) Invalidate(ctx context.Context) error { return s.catalog.Invalidate(ctx) }

// Ping checks the vector store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) repo(info collection.Info) *repocol.Collection {
	return repocol.New(s.store, s.catalog, info, s.locking, s.log)
}
