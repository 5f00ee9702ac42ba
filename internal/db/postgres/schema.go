package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// identifierPattern matches the collection ids produced by the catalog.
// Anything else never reaches DDL.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type tableNames struct {
	objects string
	parts   string
}

// tables validates the collection id and returns its quoted table names.
func tables(collectionID string) (tableNames, error) {
	if !identifierPattern.MatchString(collectionID) || len(collectionID) > 55 {
		return tableNames{}, fmt.Errorf("invalid collection id %q", collectionID)
	}
	return tableNames{
		objects: `"` + collectionID + `_objects"`,
		parts:   `"` + collectionID + `_parts"`,
	}, nil
}

// CreateCollection creates the object and part tables for the
// collection. Idempotent; recreating keeps existing data.
func (s *Store) CreateCollection(ctx context.Context, schema db.CollectionSchema) error {
	t, err := tables(schema.CollectionID)
	if err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			object_id    text PRIMARY KEY,
			payload      jsonb NOT NULL DEFAULT '{}'::jsonb,
			storage_meta jsonb NOT NULL DEFAULT '{}'::jsonb,
			user_id      text NOT NULL DEFAULT '',
			session_id   text NOT NULL DEFAULT '',
			original_id  text NOT NULL DEFAULT '',
			created_at   timestamptz NOT NULL DEFAULT now(),
			seq          bigint GENERATED ALWAYS AS IDENTITY
		)`, t.objects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			object_id  text NOT NULL REFERENCES %s (object_id) ON DELETE CASCADE,
			part_id    text NOT NULL,
			embedding  vector(%d) NOT NULL,
			is_average boolean NOT NULL DEFAULT false,
			PRIMARY KEY (object_id, part_id)
		)`, t.parts, t.objects, schema.Spec.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_original_idx" ON %s (original_id) WHERE original_id <> ''`,
			schema.CollectionID, t.objects),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_user_idx" ON %s (user_id) WHERE user_id <> ''`,
			schema.CollectionID, t.objects),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return mapError("create collection", err)
		}
	}
	return nil
}

// CreateVectorIndex builds the HNSW index on the part table with the
// operator class matching the collection metric. Idempotent.
func (s *Store) CreateVectorIndex(ctx context.Context, schema db.CollectionSchema) error {
	t, err := tables(schema.CollectionID)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS "%s_embedding_idx" ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
		schema.CollectionID, t.parts,
		operatorClass(schema.Spec.Metric),
		schema.Spec.HNSW.M, schema.Spec.HNSW.EFConstruction)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return mapError("create vector index", err)
	}
	return nil
}

// DropCollection removes the collection tables and all their rows.
func (s *Store) DropCollection(ctx context.Context, collectionID string) error {
	t, err := tables(collectionID)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.parts),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.objects),
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return mapError("drop collection", err)
		}
	}
	return nil
}

// operatorClass maps a metric to its pgvector HNSW operator class.
func operatorClass(m metric.Metric) string {
	switch m {
	case metric.Dot:
		return "vector_ip_ops"
	case metric.Euclidean:
		return "vector_l2_ops"
	default:
		return "vector_cosine_ops"
	}
}

// distanceOperator maps a metric to its pgvector distance operator.
// All three are smaller-is-closer; <#> is the negated inner product.
func distanceOperator(m metric.Metric) string {
	switch m {
	case metric.Dot:
		return "<#>"
	case metric.Euclidean:
		return "<->"
	default:
		return "<=>"
	}
}

// renderVector formats a float32 slice as a pgvector text literal.
func renderVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal back into floats.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	fields := strings.Split(body, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

func decodePayload(raw []byte) (object.Payload, error) {
	var p object.Payload
	if len(raw) == 0 {
		return p, nil
	}
	if err := p.UnmarshalJSON(raw); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func encodePayload(p object.Payload) ([]byte, error) {
	raw, err := p.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
