package memory

import (
	"context"
	"sort"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/query"
)

// SearchSimilar runs the full candidate pipeline: visibility scoping,
// payload filter, per-part distance, aggregation, max-distance cut,
// ordering and pagination. SimilarityFirst reorders the filter step
// after a nearest-neighbor window, trading recall for speed the same
// way the indexed backend does.
func (s *Store) SearchSimilar(_ context.Context, collectionID string, q *db.SimilarityQuery) ([]db.SimilarityHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return nil, err
	}

	candidates := visibleObjects(c, q.UserID)

	if !q.SimilarityFirst && q.Filter != nil {
		candidates = filterObjects(candidates, q.Filter)
	}

	hits := make([]db.SimilarityHit, 0, len(candidates))
	for _, obj := range candidates {
		var distances []float64
		for _, p := range obj.Parts {
			if q.AverageOnly && !p.IsAverage {
				continue
			}
			if len(p.Vector) != len(q.Vector) {
				continue
			}
			distances = append(distances, q.Metric.Distance(p.Vector, q.Vector))
		}
		if len(distances) == 0 {
			continue
		}
		hits = append(hits, db.SimilarityHit{
			Object:     stripParts(obj),
			Distance:   q.Aggregation.Combine(distances),
			PartsFound: len(distances),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Object.ObjectID < hits[j].Object.ObjectID
	})

	if q.SimilarityFirst {
		// Narrow to the nearest window first, then filter inside it.
		// A selective filter can under-return here; that is the tradeoff
		// callers opt into.
		window := q.Offset + q.Limit
		if q.Limit > 0 && window < len(hits) {
			hits = hits[:window]
		}
		if q.Filter != nil {
			kept := hits[:0]
			for _, h := range hits {
				if query.Eval(q.Filter, h.Object) {
					kept = append(kept, h)
				}
			}
			hits = kept
		}
	}

	if q.MaxDistance != nil {
		kept := hits[:0]
		for _, h := range hits {
			if h.Distance <= *q.MaxDistance {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	return page(hits, q.Offset, q.Limit), nil
}

// SearchByFilter lists objects matching the predicate, ordered by a raw
// stored column or by insertion order.
func (s *Store) SearchByFilter(_ context.Context, collectionID string, q *db.FilterQuery) ([]object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collectionID)
	if err != nil {
		return nil, err
	}

	var out []object.Object
	for _, id := range c.order {
		obj := c.objects[id]
		if q.Filter == nil || query.Eval(q.Filter, obj) {
			out = append(out, cloneObject(obj))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return rawColumn(out[i], q.OrderBy) < rawColumn(out[j], q.OrderBy)
		})
	}

	return page(out, q.Offset, q.Limit), nil
}

// visibleObjects applies the personalization rule: anonymous callers
// see only non-personalized objects; a user sees shared objects plus
// their own, minus canonicals shadowed by their customized objects.
func visibleObjects(c *collection, userID string) []object.Object {
	shadowed := map[string]bool{}
	if userID != "" {
		for _, obj := range c.objects {
			if obj.UserID == userID && obj.OriginalID != "" {
				shadowed[obj.OriginalID] = true
			}
		}
	}
	var out []object.Object
	for _, id := range c.order {
		obj := c.objects[id]
		if obj.UserID != "" && obj.UserID != userID {
			continue
		}
		if shadowed[obj.ObjectID] {
			continue
		}
		out = append(out, obj)
	}
	return out
}

func filterObjects(objs []object.Object, pred query.Node) []object.Object {
	out := make([]object.Object, 0, len(objs))
	for _, obj := range objs {
		if query.Eval(pred, obj) {
			out = append(out, obj)
		}
	}
	return out
}

// stripParts clones the object without hydrating vectors; search hits
// carry metadata plus a parts count.
func stripParts(o object.Object) object.Object {
	o.Parts = nil
	return o
}

func rawColumn(o object.Object, name string) string {
	switch name {
	case "object_id":
		return o.ObjectID
	case "user_id":
		return o.UserID
	case "session_id":
		return o.SessionID
	case "original_id":
		return o.OriginalID
	default:
		return ""
	}
}
