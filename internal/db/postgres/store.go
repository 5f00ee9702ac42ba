// Package postgres implements db.Store on PostgreSQL with the pgvector
// extension: per-collection object/part tables, native distance
// operators, MIN/AVG aggregation in SQL and FOR UPDATE NOWAIT row
// locks. All user-controlled values travel as query parameters; only
// validated identifiers are interpolated.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds connection parameters.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store implements db.Store via pgx.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pgx pool and ensures the pgvector extension.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure pgvector extension: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// GetObjects returns fully hydrated objects for the given ids.
func (s *Store) GetObjects(ctx context.Context, collectionID string, objectIDs []string) ([]object.Object, error) {
	t, err := tables(collectionID)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT object_id, payload, storage_meta, user_id, session_id, original_id
		 FROM %s WHERE object_id = ANY($1) ORDER BY seq`, t.objects)
	return s.queryHydrated(ctx, t, sql, objectIDs)
}

// GetObjectsByOriginalIDs returns objects whose original_id is in the set.
func (s *Store) GetObjectsByOriginalIDs(ctx context.Context, collectionID string, originalIDs []string) ([]object.Object, error) {
	t, err := tables(collectionID)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT object_id, payload, storage_meta, user_id, session_id, original_id
		 FROM %s WHERE original_id <> '' AND original_id = ANY($1) ORDER BY seq`, t.objects)
	return s.queryHydrated(ctx, t, sql, originalIDs)
}

func (s *Store) queryHydrated(ctx context.Context, t tableNames, sql string, ids []string) ([]object.Object, error) {
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, mapError("select objects", err)
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

// hydrateParts loads part rows for the given objects in one query.
func (s *Store) hydrateParts(ctx context.Context, t tableNames, objs []object.Object) ([]object.Object, error) {
	ids := make([]string, len(objs))
	index := map[string]int{}
	for i, o := range objs {
		ids[i] = o.ObjectID
		index[o.ObjectID] = i
	}
	sql := fmt.Sprintf(
		`SELECT object_id, part_id, embedding::text, is_average
		 FROM %s WHERE object_id = ANY($1) ORDER BY object_id, part_id`, t.parts)
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, mapError("select parts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var objectID, partID, embedding string
		var isAverage bool
		if err := rows.Scan(&objectID, &partID, &embedding, &isAverage); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		vec, err := parseVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("parse vector %s/%s: %w", objectID, partID, err)
		}
		i := index[objectID]
		objs[i].Parts = append(objs[i].Parts, object.Part{PartID: partID, Vector: vec, IsAverage: isAverage})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("select parts", err)
	}
	return objs, nil
}

// CountObjects counts objects, optionally canonical ones only.
func (s *Store) CountObjects(ctx context.Context, collectionID string, originalsOnly bool) (int, error) {
	t, err := tables(collectionID)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`SELECT count(*)::int FROM %s`, t.objects)
	if originalsOnly {
		sql += ` WHERE original_id = ''`
	}
	var n int
	if err := s.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, mapError("count objects", err)
	}
	return n, nil
}

// ListCommonData returns a metadata-only page in insertion order.
func (s *Store) ListCommonData(ctx context.Context, collectionID string, q db.ListQuery) ([]object.CommonData, error) {
	t, err := tables(collectionID)
	if err != nil {
		return nil, err
	}
	where := ""
	if q.OriginalsOnly {
		where = `WHERE o.original_id = ''`
	}
	sql := fmt.Sprintf(
		`SELECT o.object_id, o.payload, o.storage_meta, o.user_id, o.session_id, o.original_id,
		        (SELECT count(*)::int FROM %s p WHERE p.object_id = o.object_id) AS part_count
		 FROM %s o %s ORDER BY o.seq LIMIT $1 OFFSET $2`, t.parts, t.objects, where)
	rows, err := s.pool.Query(ctx, sql, q.Limit, q.Offset)
	if err != nil {
		return nil, mapError("list common data", err)
	}
	defer rows.Close()
	var out []object.CommonData
	for rows.Next() {
		var cd object.CommonData
		var payloadRaw, metaRaw []byte
		if err := rows.Scan(&cd.ObjectID, &payloadRaw, &metaRaw, &cd.UserID, &cd.SessionID, &cd.OriginalID, &cd.PartCount); err != nil {
			return nil, fmt.Errorf("scan common data: %w", err)
		}
		if cd.Payload, err = decodePayload(payloadRaw); err != nil {
			return nil, err
		}
		if cd.StorageMeta, err = decodePayload(metaRaw); err != nil {
			return nil, err
		}
		out = append(out, cd)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list common data", err)
	}
	return out, nil
}

// mapError translates pg error codes into store sentinels.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%s: %w", op, db.ErrLockNotAvailable)
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, db.ErrDuplicateObject)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: %w", op, db.ErrCollectionMissing)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanObjects(rows pgx.Rows) ([]object.Object, error) {
	defer rows.Close()
	var out []object.Object
	for rows.Next() {
		var o object.Object
		var payloadRaw, metaRaw []byte
		if err := rows.Scan(&o.ObjectID, &payloadRaw, &metaRaw, &o.UserID, &o.SessionID, &o.OriginalID); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		var err error
		if o.Payload, err = decodePayload(payloadRaw); err != nil {
			return nil, err
		}
		if o.StorageMeta, err = decodePayload(metaRaw); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("select objects", err)
	}
	return out, nil
}
