package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/domain/payload"
	"github.com/kailas-cloud/vectra/internal/query"
)

func withPayload(t *testing.T, o object.Object, raw string) object.Object {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), &o.Payload); err != nil {
		t.Fatal(err)
	}
	return o
}

func cosineQuery(vector []float32) *db.SimilarityQuery {
	return &db.SimilarityQuery{
		Vector:      vector,
		Metric:      metric.Cosine,
		Aggregation: metric.Min,
		Limit:       10,
	}
}

func compiled(t *testing.T) func(payload.Filter, error) query.Node {
	t.Helper()
	return func(f payload.Filter, err error) query.Node {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		n, err := query.Compile(f)
		if err != nil {
			t.Fatal(err)
		}
		return n
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	insert(t, s,
		obj("far", []float32{0, 1}),
		obj("near", []float32{1, 0.1}),
		obj("exact", []float32{1, 0}),
	)

	hits, err := s.SearchSimilar(context.Background(), testCollection, cosineQuery([]float32{1, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	wantOrder := []string{"exact", "near", "far"}
	for i, id := range wantOrder {
		if hits[i].Object.ObjectID != id {
			t.Errorf("hit[%d] = %s, want %s", i, hits[i].Object.ObjectID, id)
		}
	}
	if hits[0].Distance > 1e-6 {
		t.Errorf("exact match distance = %g, want ~0", hits[0].Distance)
	}
	if hits[0].Object.Parts != nil {
		t.Error("search hits must not hydrate parts")
	}
}

func TestSearchAggregation(t *testing.T) {
	s := newTestStore(t)
	// Two parts at cosine distance 0.1-ish apart is fiddly; use exact
	// and orthogonal parts so min=0 and avg=0.5.
	insert(t, s, obj("o1", []float32{1, 0}, []float32{0, 1}))

	q := cosineQuery([]float32{1, 0})
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Distance != 0 {
		t.Errorf("min aggregation = %g, want 0", hits[0].Distance)
	}
	if hits[0].PartsFound != 2 {
		t.Errorf("PartsFound = %d, want 2", hits[0].PartsFound)
	}

	q.Aggregation = metric.Avg
	hits, err = s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Distance != 0.5 {
		t.Errorf("avg aggregation = %g, want 0.5", hits[0].Distance)
	}
}

func TestSearchAnonymousSeesOnlyShared(t *testing.T) {
	s := newTestStore(t)
	personal := obj("mine", []float32{1, 0})
	personal.UserID = "u1"
	insert(t, s, obj("shared", []float32{1, 0}), personal)

	hits, err := s.SearchSimilar(context.Background(), testCollection, cosineQuery([]float32{1, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "shared" {
		t.Errorf("anonymous search = %+v, want only shared", hits)
	}
}

func TestSearchShadowing(t *testing.T) {
	s := newTestStore(t)
	custom := obj("custom", []float32{0, 1})
	custom.UserID = "u1"
	custom.OriginalID = "canonical"
	other := obj("other-custom", []float32{1, 0})
	other.UserID = "u2"
	other.OriginalID = "canonical"
	insert(t, s, obj("canonical", []float32{1, 0}), custom, other)

	// u1 sees their customization instead of the canonical object.
	q := cosineQuery([]float32{1, 0})
	q.UserID = "u1"
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "custom" {
		t.Errorf("u1 search = %+v, want only custom", hits)
	}

	// u3 has no customization and sees the canonical object.
	q.UserID = "u3"
	hits, err = s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "canonical" {
		t.Errorf("u3 search = %+v, want only canonical", hits)
	}
}

func TestSearchMaxDistance(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, obj("near", []float32{1, 0}), obj("far", []float32{0, 1}))

	maxDist := 0.5
	q := cosineQuery([]float32{1, 0})
	q.MaxDistance = &maxDist
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "near" {
		t.Errorf("max-distance search = %+v, want only near", hits)
	}
}

func TestSearchPagination(t *testing.T) {
	s := newTestStore(t)
	insert(t, s,
		obj("a", []float32{1, 0}),
		obj("b", []float32{1, 0.5}),
		obj("c", []float32{0, 1}),
	)

	q := cosineQuery([]float32{1, 0})
	q.Limit = 2
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Object.ObjectID != "a" {
		t.Fatalf("first page = %+v", hits)
	}

	q.Offset = 2
	hits, err = s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "c" {
		t.Errorf("second page = %+v, want only c", hits)
	}
}

func TestSearchFilterFirst(t *testing.T) {
	s := newTestStore(t)
	insert(t, s,
		withPayload(t, obj("match-far", []float32{0, 1}), `{"kind":"doc"}`),
		withPayload(t, obj("nomatch-near", []float32{1, 0}), `{"kind":"img"}`),
	)

	q := cosineQuery([]float32{1, 0})
	q.Filter = compiled(t)(payload.NewTerm("kind", object.String("doc")))
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "match-far" {
		t.Errorf("filter-first search = %+v, want match-far despite distance", hits)
	}
}

func TestSearchSimilarityFirstUnderReturns(t *testing.T) {
	s := newTestStore(t)
	insert(t, s,
		withPayload(t, obj("near-nomatch", []float32{1, 0}), `{"kind":"img"}`),
		withPayload(t, obj("far-match", []float32{0, 1}), `{"kind":"doc"}`),
	)

	q := cosineQuery([]float32{1, 0})
	q.Limit = 1
	q.SimilarityFirst = true
	q.Filter = compiled(t)(payload.NewTerm("kind", object.String("doc")))
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	// The nearest window of size 1 holds only the non-matching object,
	// so the filtered result is empty even though far-match exists.
	if len(hits) != 0 {
		t.Errorf("similarity-first search = %+v, want empty window", hits)
	}

	q.Limit = 2
	hits, err = s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "far-match" {
		t.Errorf("wider window = %+v, want far-match", hits)
	}
}

func TestSearchAverageOnly(t *testing.T) {
	s := newTestStore(t)
	o := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "p1", Vector: []float32{0, 1}},
		{PartID: "avg", Vector: []float32{1, 0}, IsAverage: true},
	}}
	insert(t, s, o)

	q := cosineQuery([]float32{1, 0})
	q.AverageOnly = true
	hits, err := s.SearchSimilar(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PartsFound != 1 || hits[0].Distance != 0 {
		t.Errorf("average-only search = %+v", hits)
	}
}

func TestSearchSkipsMismatchedDimensions(t *testing.T) {
	s := newTestStore(t)
	o := object.Object{ObjectID: "o1", Parts: []object.Part{
		{PartID: "bad", Vector: []float32{1, 0, 0}},
	}}
	insert(t, s, o, obj("good", []float32{1, 0}))

	hits, err := s.SearchSimilar(context.Background(), testCollection, cosineQuery([]float32{1, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Object.ObjectID != "good" {
		t.Errorf("search = %+v, want only good", hits)
	}
}

func TestSearchByFilterOrdering(t *testing.T) {
	s := newTestStore(t)
	a := withPayload(t, obj("z-first", []float32{1, 0}), `{"kind":"doc"}`)
	a.UserID = "zed"
	b := withPayload(t, obj("a-second", []float32{0, 1}), `{"kind":"doc"}`)
	b.UserID = "amy"
	c := withPayload(t, obj("other", []float32{0, 1}), `{"kind":"img"}`)
	insert(t, s, a, b, c)

	q := &db.FilterQuery{
		Filter: compiled(t)(payload.NewTerm("kind", object.String("doc"))),
		Limit:  10,
	}
	got, err := s.SearchByFilter(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ObjectID != "z-first" {
		t.Fatalf("insertion order listing = %+v", got)
	}

	q.OrderBy = "user_id"
	got, err = s.SearchByFilter(context.Background(), testCollection, q)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ObjectID != "a-second" || got[1].ObjectID != "z-first" {
		t.Errorf("user_id ordering = %+v", got)
	}
}
