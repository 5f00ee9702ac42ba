package vectordb

import (
	"context"

	"github.com/kailas-cloud/vectra/internal/domain/collection"
)

// Catalog is the metadata cache contract the registry drives.
type Catalog interface {
	Invalidate(ctx context.Context) error
	AddCollection(ctx context.Context, info collection.Info) error
	AddQueryCollection(ctx context.Context, info collection.Info) error
	DeleteCollection(ctx context.Context, collectionID string) error
	SetBlueCollection(ctx context.Context, collectionID, queryCollectionID string) error
	SetIndexState(ctx context.Context, collectionID string, created bool) error
	MarkOptimization(ctx context.Context, collectionID, name string) error
	Get(collectionID string) (collection.Info, bool)
	Collections() []collection.Info
	QueryCollections() []collection.Info
	BlueCollection() (collection.Info, bool)
	BlueQueryCollection() (collection.Info, bool)
}
