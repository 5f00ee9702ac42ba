package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

const objectColumns = "o.object_id, o.payload, o.storage_meta, o.user_id, o.session_id, o.original_id"

// SearchSimilar runs the similarity pipeline in one SQL query: per-part
// distance with the native pgvector operator, MIN/AVG aggregation per
// object, visibility scoping, payload filter, max-distance cut and
// pagination.
func (s *Store) SearchSimilar(ctx context.Context, collectionID string, q *db.SimilarityQuery) ([]db.SimilarityHit, error) {
	t, err := tables(collectionID)
	if err != nil {
		return nil, err
	}
	b := newSQLBuilder("o")
	sql, err := buildSimilaritySQL(b, t, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, mapError("search similar", err)
	}
	defer rows.Close()
	var hits []db.SimilarityHit
	for rows.Next() {
		var h db.SimilarityHit
		var payloadRaw, metaRaw []byte
		err := rows.Scan(&h.Object.ObjectID, &payloadRaw, &metaRaw,
			&h.Object.UserID, &h.Object.SessionID, &h.Object.OriginalID,
			&h.Distance, &h.PartsFound)
		if err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if h.Object.Payload, err = decodePayload(payloadRaw); err != nil {
			return nil, err
		}
		if h.Object.StorageMeta, err = decodePayload(metaRaw); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("search similar", err)
	}
	return hits, nil
}

func buildSimilaritySQL(b *sqlBuilder, t tableNames, q *db.SimilarityQuery) (string, error) {
	distance := fmt.Sprintf("p.embedding %s %s::vector", distanceOperator(q.Metric), b.arg(renderVector(q.Vector)))
	agg := fmt.Sprintf("%s(%s)", aggFunc(q.Aggregation), distance)

	visibility := []string{"o.user_id = ''"}
	if q.UserID != "" {
		u := b.arg(q.UserID)
		visibility = []string{
			fmt.Sprintf("(o.user_id = '' OR o.user_id = %s)", u),
			fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s c WHERE c.user_id = %s AND c.original_id = o.object_id)", t.objects, u),
		}
	}
	if q.AverageOnly {
		visibility = append(visibility, "p.is_average")
	}

	if q.SimilarityFirst {
		return buildSimilarityFirstSQL(b, t, q, distance, agg, visibility)
	}

	where := visibility
	if q.Filter != nil {
		pred, err := b.renderNode(q.Filter)
		if err != nil {
			return "", err
		}
		where = append(where, pred)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, %s AS distance, count(*)::int AS parts_found\n", objectColumns, agg)
	fmt.Fprintf(&sb, "FROM %s p JOIN %s o ON o.object_id = p.object_id\n", t.parts, t.objects)
	fmt.Fprintf(&sb, "WHERE %s\n", strings.Join(where, " AND "))
	fmt.Fprintf(&sb, "GROUP BY %s\n", objectColumns)
	if q.MaxDistance != nil {
		fmt.Fprintf(&sb, "HAVING %s <= %s\n", agg, b.arg(*q.MaxDistance))
	}
	sb.WriteString("ORDER BY distance, o.object_id")
	appendPage(&sb, b, q.Limit, q.Offset)
	return sb.String(), nil
}

// buildSimilarityFirstSQL narrows to the nearest window before applying
// the payload filter. A selective filter can under-return inside the
// window; callers opt into that.
func buildSimilarityFirstSQL(b *sqlBuilder, t tableNames, q *db.SimilarityQuery, distance, agg string, visibility []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "WITH nearest AS (\n")
	fmt.Fprintf(&sb, "SELECT p.object_id, %s AS distance, count(*)::int AS parts_found\n", agg)
	fmt.Fprintf(&sb, "FROM %s p JOIN %s o ON o.object_id = p.object_id\n", t.parts, t.objects)
	fmt.Fprintf(&sb, "WHERE %s\n", strings.Join(visibility, " AND "))
	fmt.Fprintf(&sb, "GROUP BY p.object_id\nORDER BY distance")
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", b.arg(q.Offset+q.Limit))
	}
	sb.WriteString("\n)\n")

	where := []string{"TRUE"}
	if q.Filter != nil {
		pred, err := b.renderNode(q.Filter)
		if err != nil {
			return "", err
		}
		where = []string{pred}
	}
	if q.MaxDistance != nil {
		where = append(where, fmt.Sprintf("n.distance <= %s", b.arg(*q.MaxDistance)))
	}

	fmt.Fprintf(&sb, "SELECT %s, n.distance, n.parts_found\n", objectColumns)
	fmt.Fprintf(&sb, "FROM nearest n JOIN %s o ON o.object_id = n.object_id\n", t.objects)
	fmt.Fprintf(&sb, "WHERE %s\n", strings.Join(where, " AND "))
	sb.WriteString("ORDER BY n.distance, o.object_id")
	appendPage(&sb, b, q.Limit, q.Offset)
	return sb.String(), nil
}

// SearchByFilter lists hydrated objects matching the predicate, ordered
// by a raw stored column or by insertion order.
func (s *Store) SearchByFilter(ctx context.Context, collectionID string, q *db.FilterQuery) ([]object.Object, error) {
	t, err := tables(collectionID)
	if err != nil {
		return nil, err
	}
	b := newSQLBuilder("o")
	where := "TRUE"
	if q.Filter != nil {
		if where, err = b.renderNode(q.Filter); err != nil {
			return nil, err
		}
	}
	orderBy := "o.seq"
	if col, ok := rawColumns[q.OrderBy]; ok {
		orderBy = "o." + col + ", o.seq"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s o WHERE %s ORDER BY %s", objectColumns, t.objects, where, orderBy)
	appendPage(&sb, b, q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, sb.String(), b.args...)
	if err != nil {
		return nil, mapError("search by filter", err)
	}
	objs, err := scanObjects(rows)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, nil
	}
	return s.hydrateParts(ctx, t, objs)
}

func appendPage(sb *strings.Builder, b *sqlBuilder, limit, offset int) {
	if limit > 0 {
		fmt.Fprintf(sb, "\nLIMIT %s", b.arg(limit))
	}
	if offset > 0 {
		fmt.Fprintf(sb, "\nOFFSET %s", b.arg(offset))
	}
}

func aggFunc(a metric.Aggregation) string {
	if a == metric.Avg {
		return "AVG"
	}
	return "MIN"
}
