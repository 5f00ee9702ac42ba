package catalog

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/metastore"
)

func doc(id string, queries bool) metastore.CollectionDoc {
	return metastore.CollectionDoc{
		Namespace:       "default",
		CollectionID:    id,
		ModelName:       "text-embedding-3-small",
		ModelID:         "v1",
		Dimensions:      3,
		Metric:          "cosine",
		Aggregation:     "min",
		ContainsQueries: queries,
	}
}

func newService(t *testing.T, store Metastore) *Service {
	t.Helper()
	s, err := New(context.Background(), store, "default", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewLoadsNamespaceState(t *testing.T) {
	store := &mockMetastore{
		listFn: func(_ context.Context, ns string) ([]metastore.CollectionDoc, error) {
			if ns != "default" {
				t.Errorf("namespace = %q", ns)
			}
			return []metastore.CollectionDoc{doc("col_a_v1", false), doc("col_a_v1_q", true)}, nil
		},
		getBlueFn: func(_ context.Context, _ string) (metastore.BluePointerDoc, error) {
			return metastore.BluePointerDoc{
				Namespace:         "default",
				CollectionID:      "col_a_v1",
				QueryCollectionID: "col_a_v1_q",
			}, nil
		},
	}
	s := newService(t, store)

	if len(s.Collections()) != 1 || len(s.QueryCollections()) != 1 {
		t.Fatalf("cache split wrong: %d/%d", len(s.Collections()), len(s.QueryCollections()))
	}
	info, ok := s.Get("col_a_v1")
	if !ok || info.WorkState != collection.WorkStateBlue {
		t.Errorf("Get() = %+v, %v; want blue", info, ok)
	}
	blue, ok := s.BlueQueryCollection()
	if !ok || blue.CollectionID != "col_a_v1_q" || blue.WorkState != collection.WorkStateBlue {
		t.Errorf("BlueQueryCollection() = %+v, %v", blue, ok)
	}
}

func TestNewToleratesMissingBluePointer(t *testing.T) {
	s := newService(t, &mockMetastore{})
	if _, ok := s.BlueCollection(); ok {
		t.Error("no pointer must mean no blue collection")
	}
	if info, ok := s.Get("anything"); ok {
		t.Errorf("Get() on empty cache = %+v", info)
	}
}

func TestAddCollectionCachesRecord(t *testing.T) {
	var put metastore.CollectionDoc
	store := &mockMetastore{
		putFn: func(_ context.Context, d metastore.CollectionDoc) error {
			put = d
			return nil
		},
	}
	s := newService(t, store)

	err := s.AddCollection(context.Background(), collection.Info{CollectionID: "col_a_v1"})
	if err != nil {
		t.Fatal(err)
	}
	if put.CollectionID != "col_a_v1" || put.Namespace != "default" {
		t.Errorf("persisted doc = %+v", put)
	}
	if put.CreatedAt.IsZero() {
		t.Error("CreatedAt must default to now")
	}
	info, ok := s.Get("col_a_v1")
	if !ok || info.WorkState != collection.WorkStateGreen {
		t.Errorf("Get() = %+v, %v; want cached green record", info, ok)
	}
}

func TestAddQueryCollectionSetsFlag(t *testing.T) {
	var put metastore.CollectionDoc
	store := &mockMetastore{
		putFn: func(_ context.Context, d metastore.CollectionDoc) error {
			put = d
			return nil
		},
	}
	s := newService(t, store)
	if err := s.AddQueryCollection(context.Background(), collection.Info{CollectionID: "col_a_v1_q"}); err != nil {
		t.Fatal(err)
	}
	if !put.ContainsQueries {
		t.Error("query collection doc must carry contains_queries")
	}
	if len(s.QueryCollections()) != 1 || len(s.Collections()) != 0 {
		t.Error("record cached into the wrong map")
	}
}

func TestAddCollectionToleratesConcurrentCreator(t *testing.T) {
	store := &mockMetastore{
		putFn: func(_ context.Context, _ metastore.CollectionDoc) error {
			return metastore.ErrDocExists
		},
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
	}
	s := newService(t, store)
	if err := s.AddCollection(context.Background(), collection.Info{CollectionID: "col_a_v1"}); err != nil {
		t.Fatalf("existing record must not fail the add: %v", err)
	}
	if _, ok := s.Get("col_a_v1"); !ok {
		t.Error("record must land in the cache via reload")
	}
}

func TestSetBlueCollectionRejectsUnknownIDs(t *testing.T) {
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
		setBlueFn: func(_ context.Context, _ metastore.BluePointerDoc) error {
			t.Error("pointer must not be written for unknown ids")
			return nil
		},
	}
	s := newService(t, store)
	err := s.SetBlueCollection(context.Background(), "col_a_v1", "col_a_v1_q")
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("error = %v, want ErrCollectionNotFound", err)
	}
	err = s.SetBlueCollection(context.Background(), "col_missing", "col_a_v1_q")
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("error = %v, want ErrCollectionNotFound", err)
	}
}

func TestSetBlueCollectionWritesPointerAndReloads(t *testing.T) {
	var pointer *metastore.BluePointerDoc
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false), doc("col_a_v1_q", true)}, nil
		},
		getBlueFn: func(_ context.Context, _ string) (metastore.BluePointerDoc, error) {
			if pointer == nil {
				return metastore.BluePointerDoc{}, metastore.ErrDocNotFound
			}
			return *pointer, nil
		},
		setBlueFn: func(_ context.Context, d metastore.BluePointerDoc) error {
			pointer = &d
			return nil
		},
	}
	s := newService(t, store)
	if err := s.SetBlueCollection(context.Background(), "col_a_v1", "col_a_v1_q"); err != nil {
		t.Fatal(err)
	}
	if pointer == nil || pointer.CollectionID != "col_a_v1" {
		t.Fatalf("pointer doc = %+v", pointer)
	}
	blue, ok := s.BlueCollection()
	if !ok || blue.CollectionID != "col_a_v1" || blue.WorkState != collection.WorkStateBlue {
		t.Errorf("BlueCollection() after switch = %+v, %v", blue, ok)
	}
}

func TestSetIndexStateWritesThrough(t *testing.T) {
	var updated metastore.CollectionDoc
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
		updateFn: func(_ context.Context, d metastore.CollectionDoc) error {
			updated = d
			return nil
		},
	}
	s := newService(t, store)
	if err := s.SetIndexState(context.Background(), "col_a_v1", true); err != nil {
		t.Fatal(err)
	}
	if !updated.IndexCreated {
		t.Error("persisted doc must carry index_created")
	}
	info, _ := s.Get("col_a_v1")
	if !info.IndexCreated {
		t.Error("cache must reflect the new index state")
	}
}

func TestSetIndexStateFailedWriteLeavesCacheUntouched(t *testing.T) {
	wantErr := errors.New("metastore down")
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
		updateFn: func(_ context.Context, _ metastore.CollectionDoc) error {
			return wantErr
		},
	}
	s := newService(t, store)
	if err := s.SetIndexState(context.Background(), "col_a_v1", true); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want the store error", err)
	}
	info, _ := s.Get("col_a_v1")
	if info.IndexCreated {
		t.Error("cache must not report state the metastore rejected")
	}
}

func TestMarkOptimizationIsIdempotent(t *testing.T) {
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
	}
	s := newService(t, store)
	ctx := context.Background()
	if err := s.MarkOptimization(ctx, "col_a_v1", "dedup"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkOptimization(ctx, "col_a_v1", "dedup"); err != nil {
		t.Fatal(err)
	}
	info, _ := s.Get("col_a_v1")
	if len(info.AppliedOptimizations) != 1 || info.AppliedOptimizations[0] != "dedup" {
		t.Errorf("AppliedOptimizations = %v", info.AppliedOptimizations)
	}
}

func TestUpdateUnknownCollection(t *testing.T) {
	s := newService(t, &mockMetastore{})
	err := s.SetIndexState(context.Background(), "ghost", true)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("error = %v, want ErrCollectionNotFound", err)
	}
}

func TestDeleteCollectionRemovesFromCache(t *testing.T) {
	store := &mockMetastore{
		listFn: func(_ context.Context, _ string) ([]metastore.CollectionDoc, error) {
			return []metastore.CollectionDoc{doc("col_a_v1", false)}, nil
		},
	}
	s := newService(t, store)
	if err := s.DeleteCollection(context.Background(), "col_a_v1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("col_a_v1"); ok {
		t.Error("deleted record must leave the cache")
	}
}
