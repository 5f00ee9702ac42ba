package catalog

import (
	"context"

	"github.com/kailas-cloud/vectra/internal/metastore"
)

// Metastore defines the persistence contract for collection metadata.
type Metastore interface {
	PutCollection(ctx context.Context, doc metastore.CollectionDoc) error
	UpdateCollection(ctx context.Context, doc metastore.CollectionDoc) error
	DeleteCollection(ctx context.Context, namespace, collectionID string) error
	ListCollections(ctx context.Context, namespace string) ([]metastore.CollectionDoc, error)
	GetBluePointer(ctx context.Context, namespace string) (metastore.BluePointerDoc, error)
	SetBluePointer(ctx context.Context, doc metastore.BluePointerDoc) error
}
