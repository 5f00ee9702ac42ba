package catalog

import (
	"context"

	"github.com/kailas-cloud/vectra/internal/metastore"
)

// mockMetastore implements Metastore with pluggable functions so each
// test overrides only what it exercises.
type mockMetastore struct {
	putFn     func(ctx context.Context, doc metastore.CollectionDoc) error
	updateFn  func(ctx context.Context, doc metastore.CollectionDoc) error
	deleteFn  func(ctx context.Context, namespace, collectionID string) error
	listFn    func(ctx context.Context, namespace string) ([]metastore.CollectionDoc, error)
	getBlueFn func(ctx context.Context, namespace string) (metastore.BluePointerDoc, error)
	setBlueFn func(ctx context.Context, doc metastore.BluePointerDoc) error
}

func (m *mockMetastore) PutCollection(ctx context.Context, doc metastore.CollectionDoc) error {
	if m.putFn == nil {
		return nil
	}
	return m.putFn(ctx, doc)
}

func (m *mockMetastore) UpdateCollection(ctx context.Context, doc metastore.CollectionDoc) error {
	if m.updateFn == nil {
		return nil
	}
	return m.updateFn(ctx, doc)
}

func (m *mockMetastore) DeleteCollection(ctx context.Context, namespace, collectionID string) error {
	if m.deleteFn == nil {
		return nil
	}
	return m.deleteFn(ctx, namespace, collectionID)
}

func (m *mockMetastore) ListCollections(ctx context.Context, namespace string) ([]metastore.CollectionDoc, error) {
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx, namespace)
}

func (m *mockMetastore) GetBluePointer(ctx context.Context, namespace string) (metastore.BluePointerDoc, error) {
	if m.getBlueFn == nil {
		return metastore.BluePointerDoc{}, metastore.ErrDocNotFound
	}
	return m.getBlueFn(ctx, namespace)
}

func (m *mockMetastore) SetBluePointer(ctx context.Context, doc metastore.BluePointerDoc) error {
	if m.setBlueFn == nil {
		return nil
	}
	return m.setBlueFn(ctx, doc)
}
