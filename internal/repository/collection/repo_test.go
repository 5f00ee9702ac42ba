package collection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/db/memory"
	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/collection"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

const testCollection = "col_test_v1"

// mockMetaCache implements metaCache with pluggable functions.
type mockMetaCache struct {
	setIndexFn func(ctx context.Context, collectionID string, created bool) error
	markFn     func(ctx context.Context, collectionID, name string) error
}

func (m *mockMetaCache) SetIndexState(ctx context.Context, collectionID string, created bool) error {
	if m.setIndexFn == nil {
		return nil
	}
	return m.setIndexFn(ctx, collectionID, created)
}

func (m *mockMetaCache) MarkOptimization(ctx context.Context, collectionID, name string) error {
	if m.markFn == nil {
		return nil
	}
	return m.markFn(ctx, collectionID, name)
}

func newTestRepo(t *testing.T, meta *mockMetaCache) (*Collection, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	spec, err := metric.NewIndexSpec(2, metric.Cosine, metric.Min, metric.HNSWParams{})
	if err != nil {
		t.Fatal(err)
	}
	info := collection.Info{CollectionID: testCollection, Spec: spec}
	if err := s.CreateCollection(context.Background(), db.CollectionSchema{CollectionID: testCollection, Spec: spec}); err != nil {
		t.Fatal(err)
	}
	if meta == nil {
		meta = &mockMetaCache{}
	}
	locking := LockConfig{MaxRetries: 2, Delay: time.Millisecond}
	return New(s, meta, info, locking, zap.NewNop()), s
}

func obj(id string, vector []float32) object.Object {
	return object.Object{ObjectID: id, Parts: []object.Part{{PartID: "p1", Vector: vector}}}
}

func TestInsertRejectsWrongDimensions(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	err := repo.Insert(ctx, []object.Object{
		obj("ok", []float32{1, 0}),
		obj("bad", []float32{1, 0, 0}),
	})
	var dimErr *domain.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("error = %v, want DimensionError", err)
	}
	// Nothing may be written when any vector fails validation.
	n, err := repo.Total(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Total() = %d, want 0", n)
	}
}

func TestInsertDuplicate(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	if err := repo.Insert(ctx, []object.Object{obj("o1", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	err := repo.Insert(ctx, []object.Object{obj("o1", []float32{0, 1})})
	if !errors.Is(err, domain.ErrDuplicateObject) {
		t.Errorf("error = %v, want ErrDuplicateObject", err)
	}
}

func TestUpsertMergeAndShrink(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	initial := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p1", Vector: []float32{1, 0}},
		{PartID: "p2", Vector: []float32{0, 1}},
	}}
	if err := repo.Insert(ctx, []object.Object{initial}); err != nil {
		t.Fatal(err)
	}

	merge := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p3", Vector: []float32{1, 1}},
	}}
	if err := repo.Upsert(ctx, []object.Object{merge}, false); err != nil {
		t.Fatal(err)
	}
	got, err := repo.FindByID(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Parts) != 3 {
		t.Errorf("merged parts = %d, want 3", len(got.Parts))
	}

	shrink := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p9", Vector: []float32{0, 1}},
	}}
	if err := repo.Upsert(ctx, []object.Object{shrink}, true); err != nil {
		t.Fatal(err)
	}
	got, err = repo.FindByID(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Parts) != 1 || got.Parts[0].PartID != "p9" {
		t.Errorf("shrink upsert parts = %+v", got.Parts)
	}
}

func TestDeleteAndFindMissing(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	if err := repo.Insert(ctx, []object.Object{obj("o1", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, []string{"o1"}); err != nil {
		t.Fatal(err)
	}
	_, err := repo.FindByID(ctx, "o1")
	if !errors.Is(err, domain.ErrObjectNotFound) {
		t.Errorf("error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteWithCustomized(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	custom := obj("c1", []float32{0, 1})
	custom.UserID = "u1"
	custom.OriginalID = "o1"
	bystander := obj("o2", []float32{1, 0})
	if err := repo.Insert(ctx, []object.Object{obj("o1", []float32{1, 0}), custom, bystander}); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteWithCustomized(ctx, []string{"o1"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"o1", "c1"} {
		if _, err := repo.FindByID(ctx, id); !errors.Is(err, domain.ErrObjectNotFound) {
			t.Errorf("FindByID(%s) = %v, want ErrObjectNotFound", id, err)
		}
	}
	if _, err := repo.FindByID(ctx, "o2"); err != nil {
		t.Errorf("unrelated object must survive: %v", err)
	}
}

func TestCommonDataBatchPagination(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	var objs []object.Object
	for i := 0; i < 25; i++ {
		objs = append(objs, obj(fmt.Sprintf("o%02d", i), []float32{1, 0}))
	}
	if err := repo.Insert(ctx, objs); err != nil {
		t.Fatal(err)
	}

	offset := 0
	var pages []int
	for {
		batch, next, err := repo.CommonDataBatch(ctx, 10, offset, false)
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, len(batch))
		if next == nil {
			break
		}
		offset = *next
	}
	// 25 rows with page size 10: 10, 10, 5 and then done.
	want := []int{10, 10, 5}
	if len(pages) != len(want) {
		t.Fatalf("pages = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Errorf("page %d size = %d, want %d", i, pages[i], want[i])
		}
	}
}

func TestFindByPayloadFilterPagination(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	var objs []object.Object
	for i := 0; i < 25; i++ {
		objs = append(objs, obj(fmt.Sprintf("o%02d", i), []float32{1, 0}))
	}
	if err := repo.Insert(ctx, objs); err != nil {
		t.Fatal(err)
	}

	offset := 0
	var pages []int
	for {
		batch, next, err := repo.FindByPayloadFilter(ctx, nil, "", 10, offset)
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, len(batch))
		if next == nil {
			break
		}
		offset = *next
	}
	want := []int{10, 10, 5}
	if len(pages) != len(want) {
		t.Fatalf("pages = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Errorf("page %d size = %d, want %d", i, pages[i], want[i])
		}
	}
}

func TestFindSimilaritiesPagination(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()
	objs := []object.Object{
		obj("a", []float32{1, 0}),
		obj("b", []float32{1, 0.5}),
		obj("c", []float32{0, 1}),
	}
	if err := repo.Insert(ctx, objs); err != nil {
		t.Fatal(err)
	}

	res, err := repo.FindSimilarities(ctx, SimilarityRequest{Vector: []float32{1, 0}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Objects) != 2 || res.Objects[0].Object.ObjectID != "a" {
		t.Fatalf("first page = %+v", res.Objects)
	}
	if res.NextOffset == nil || *res.NextOffset != 2 {
		t.Fatalf("NextOffset = %v, want 2", res.NextOffset)
	}

	res, err = repo.FindSimilarities(ctx, SimilarityRequest{Vector: []float32{1, 0}, Limit: 2, Offset: *res.NextOffset})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Objects) != 1 || res.Objects[0].Object.ObjectID != "c" {
		t.Errorf("second page = %+v", res.Objects)
	}
	if res.NextOffset != nil {
		t.Errorf("NextOffset = %v, want nil on a short page", *res.NextOffset)
	}
}

func TestFindSimilaritiesRejectsWrongDimensions(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	_, err := repo.FindSimilarities(context.Background(), SimilarityRequest{Vector: []float32{1, 0, 0}, Limit: 10})
	var dimErr *domain.DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("error = %v, want DimensionError", err)
	}
}

func TestWriteBlockedByHeldLock(t *testing.T) {
	repo, store := newTestRepo(t, nil)
	ctx := context.Background()
	if err := repo.Insert(ctx, []object.Object{obj("o1", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}

	// A foreign transaction holds the row across the whole retry budget.
	blocker, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := blocker.LockObjects(ctx, testCollection, []string{"o1"}); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = blocker.Rollback(ctx) }()

	err = repo.Delete(ctx, []string{"o1"})
	if !errors.Is(err, domain.ErrLockAcquisition) {
		t.Errorf("error = %v, want ErrLockAcquisition", err)
	}
}

func TestCreateIndexRecordsState(t *testing.T) {
	var recorded bool
	meta := &mockMetaCache{
		setIndexFn: func(_ context.Context, id string, created bool) error {
			if id != testCollection || !created {
				t.Errorf("SetIndexState(%q, %v)", id, created)
			}
			recorded = true
			return nil
		},
	}
	repo, _ := newTestRepo(t, meta)
	if err := repo.CreateIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !recorded {
		t.Error("index state must be written to the catalog")
	}
	if !repo.Info().IndexCreated {
		t.Error("bound info must reflect the new index state")
	}
}
