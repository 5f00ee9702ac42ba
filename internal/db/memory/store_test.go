package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

const testCollection = "col_test_v1"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	spec, err := metric.NewIndexSpec(2, metric.Cosine, metric.Min, metric.HNSWParams{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(context.Background(), db.CollectionSchema{CollectionID: testCollection, Spec: spec}); err != nil {
		t.Fatal(err)
	}
	return s
}

func obj(id string, vectors ...[]float32) object.Object {
	o := object.Object{ObjectID: id}
	for i, v := range vectors {
		o.Parts = append(o.Parts, object.Part{PartID: string(rune('a' + i)), Vector: v})
	}
	return o
}

func insert(t *testing.T, s *Store, objs ...object.Object) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertObjects(ctx, testCollection, objs); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, obj("o1", []float32{1, 0}), obj("o2", []float32{0, 1}))

	got, err := s.GetObjects(context.Background(), testCollection, []string{"o1", "missing", "o2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("GetObjects() returned %d objects, want 2", len(got))
	}
	if got[0].ObjectID != "o1" || len(got[0].Parts) != 1 {
		t.Errorf("unexpected first object: %+v", got[0])
	}
}

func TestInsertDuplicateFailsBatch(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, obj("o1", []float32{1, 0}))

	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	err := tx.InsertObjects(ctx, testCollection, []object.Object{
		obj("o2", []float32{1, 0}),
		obj("o1", []float32{0, 1}),
	})
	if !errors.Is(err, db.ErrDuplicateObject) {
		t.Fatalf("error = %v, want ErrDuplicateObject", err)
	}
	_ = tx.Rollback(ctx)

	// The failed batch must not have written o2 either.
	n, err := s.CountObjects(ctx, testCollection, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountObjects() = %d, want 1", n)
	}
}

func TestInsertDuplicateWithinBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	err := tx.InsertObjects(ctx, testCollection, []object.Object{
		obj("o1", []float32{1, 0}),
		obj("o1", []float32{0, 1}),
	})
	if !errors.Is(err, db.ErrDuplicateObject) {
		t.Fatalf("error = %v, want ErrDuplicateObject", err)
	}
}

func TestUpsertMergeAndShrink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	initial := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p1", Vector: []float32{1, 0}},
		{PartID: "p2", Vector: []float32{0, 1}},
	}}
	insert(t, s, initial)

	// Merge: p2 overwritten, p3 appended, p1 kept.
	update := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p2", Vector: []float32{1, 1}},
		{PartID: "p3", Vector: []float32{0.5, 0.5}},
	}}
	tx, _ := s.Begin(ctx)
	if err := tx.UpsertObjects(ctx, testCollection, []object.Object{update}, false); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetObjects(ctx, testCollection, []string{"o1"})
	if len(got[0].Parts) != 3 {
		t.Fatalf("merged parts = %d, want 3", len(got[0].Parts))
	}
	if got[0].Parts[1].Vector[0] != 1 || got[0].Parts[1].Vector[1] != 1 {
		t.Errorf("p2 not overwritten: %+v", got[0].Parts[1])
	}

	// Shrink: whole part set replaced.
	shrink := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p9", Vector: []float32{0, 1}},
	}}
	tx, _ = s.Begin(ctx)
	if err := tx.UpsertObjects(ctx, testCollection, []object.Object{shrink}, true); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetObjects(ctx, testCollection, []string{"o1"})
	if len(got[0].Parts) != 1 || got[0].Parts[0].PartID != "p9" {
		t.Errorf("shrink upsert kept old parts: %+v", got[0].Parts)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, obj("o1", []float32{1, 0}))
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	if err := tx.DeleteObjects(ctx, testCollection, []string{"o1", "ghost"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountObjects(ctx, testCollection, false)
	if n != 0 {
		t.Errorf("CountObjects() = %d, want 0", n)
	}
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	if err := tx.InsertObjects(ctx, testCollection, []object.Object{obj("o1", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountObjects(ctx, testCollection, false)
	if n != 0 {
		t.Fatalf("staged insert visible before commit: count=%d", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ = s.CountObjects(ctx, testCollection, false)
	if n != 1 {
		t.Errorf("count after commit = %d, want 1", n)
	}
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	if err := tx.InsertObjects(ctx, testCollection, []object.Object{obj("o1", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountObjects(ctx, testCollection, false)
	if n != 0 {
		t.Errorf("rollback leaked staged writes: count=%d", n)
	}
	if err := tx.Commit(ctx); !errors.Is(err, db.ErrTxDone) {
		t.Errorf("Commit after Rollback = %v, want ErrTxDone", err)
	}
}

func TestLockConflict(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, obj("o1", []float32{1, 0}))
	ctx := context.Background()

	tx1, _ := s.Begin(ctx)
	if err := tx1.LockObjects(ctx, testCollection, []string{"o1"}); err != nil {
		t.Fatal(err)
	}

	tx2, _ := s.Begin(ctx)
	err := tx2.LockObjects(ctx, testCollection, []string{"o1"})
	if !errors.Is(err, db.ErrLockNotAvailable) {
		t.Fatalf("second lock = %v, want ErrLockNotAvailable", err)
	}
	_ = tx2.Rollback(ctx)

	// Releasing the first transaction frees the row.
	if err := tx1.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	tx3, _ := s.Begin(ctx)
	if err := tx3.LockObjects(ctx, testCollection, []string{"o1"}); err != nil {
		t.Fatalf("lock after release = %v", err)
	}
	_ = tx3.Rollback(ctx)
}

func TestLockIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tx1, _ := s.Begin(ctx)
	if err := tx1.LockObjects(ctx, testCollection, []string{"b"}); err != nil {
		t.Fatal(err)
	}

	tx2, _ := s.Begin(ctx)
	if err := tx2.LockObjects(ctx, testCollection, []string{"a", "b"}); !errors.Is(err, db.ErrLockNotAvailable) {
		t.Fatalf("partial lock = %v, want ErrLockNotAvailable", err)
	}
	_ = tx2.Rollback(ctx)

	// "a" must not be left locked by the failed attempt.
	tx3, _ := s.Begin(ctx)
	if err := tx3.LockObjects(ctx, testCollection, []string{"a"}); err != nil {
		t.Fatalf("lock a = %v, want success", err)
	}
	_ = tx3.Rollback(ctx)
	_ = tx1.Rollback(ctx)
}

func TestListCommonData(t *testing.T) {
	s := newTestStore(t)
	canonical := obj("o1", []float32{1, 0})
	personalized := obj("o2", []float32{0, 1})
	personalized.UserID = "u1"
	personalized.OriginalID = "o1"
	insert(t, s, canonical, personalized)

	ctx := context.Background()
	all, err := s.ListCommonData(ctx, testCollection, db.ListQuery{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ObjectID != "o1" || all[0].PartCount != 1 {
		t.Errorf("unexpected listing: %+v", all)
	}

	originals, err := s.ListCommonData(ctx, testCollection, db.ListQuery{Limit: 10, OriginalsOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(originals) != 1 || originals[0].ObjectID != "o1" {
		t.Errorf("originals-only listing: %+v", originals)
	}

	n, err := s.CountObjects(ctx, testCollection, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountObjects(originalsOnly) = %d, want 1", n)
	}
}

func TestGetObjectsByOriginalIDs(t *testing.T) {
	s := newTestStore(t)
	custom := obj("c1", []float32{1, 0})
	custom.UserID = "u1"
	custom.OriginalID = "o1"
	insert(t, s, obj("o1", []float32{1, 0}), custom)

	got, err := s.GetObjectsByOriginalIDs(context.Background(), testCollection, []string{"o1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ObjectID != "c1" {
		t.Errorf("GetObjectsByOriginalIDs() = %+v", got)
	}
}

func TestMissingCollection(t *testing.T) {
	s := NewStore()
	_, err := s.GetObjects(context.Background(), "nope", []string{"x"})
	if !errors.Is(err, db.ErrCollectionMissing) {
		t.Errorf("error = %v, want ErrCollectionMissing", err)
	}
}

func TestCreateVectorIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	spec, _ := metric.NewIndexSpec(2, metric.Cosine, metric.Min, metric.HNSWParams{})
	schema := db.CollectionSchema{CollectionID: testCollection, Spec: spec}
	if err := s.CreateVectorIndex(ctx, schema); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := s.CreateVectorIndex(ctx, schema); err != nil {
		t.Fatal(err)
	}
	schema.CollectionID = "absent"
	if err := s.CreateVectorIndex(ctx, schema); !errors.Is(err, db.ErrCollectionMissing) {
		t.Errorf("error = %v, want ErrCollectionMissing", err)
	}
}
