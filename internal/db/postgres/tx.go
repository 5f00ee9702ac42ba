package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// Compile-time check: Tx implements db.Tx.
var _ db.Tx = (*Tx)(nil)

// Tx wraps a pgx transaction. Row locks taken by LockObjects are held
// until Commit or Rollback.
type Tx struct {
	tx pgx.Tx
}

// LockObjects takes FOR UPDATE NOWAIT locks on the given ids. A row
// held by another transaction fails immediately with
// ErrLockNotAvailable. Ids without a stored row lock nothing, which is
// fine: inserts lock their ids before the row exists and rely on the
// primary key for the conflict.
func (t *Tx) LockObjects(ctx context.Context, collectionID string, objectIDs []string) error {
	tn, err := tables(collectionID)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`SELECT object_id FROM %s WHERE object_id = ANY($1) FOR UPDATE NOWAIT`, tn.objects)
	rows, err := t.tx.Query(ctx, sql, objectIDs)
	if err != nil {
		return mapError("lock objects", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapError("lock objects", err)
	}
	return nil
}

// InsertObjects writes object and part rows in one batch. A duplicate
// object id fails the batch with ErrDuplicateObject.
func (t *Tx) InsertObjects(ctx context.Context, collectionID string, objs []object.Object) error {
	tn, err := tables(collectionID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	insertObject := fmt.Sprintf(
		`INSERT INTO %s (object_id, payload, storage_meta, user_id, session_id, original_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`, tn.objects)
	for _, obj := range objs {
		if err := queueObject(batch, insertObject, obj); err != nil {
			return err
		}
		queueParts(batch, tn, obj)
	}
	return t.send(ctx, batch, "insert objects")
}

// UpsertObjects writes or overwrites object rows. shrinkParts true
// replaces each object's whole part set; false merges parts by part id.
func (t *Tx) UpsertObjects(ctx context.Context, collectionID string, objs []object.Object, shrinkParts bool) error {
	tn, err := tables(collectionID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	upsertObject := fmt.Sprintf(
		`INSERT INTO %s (object_id, payload, storage_meta, user_id, session_id, original_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (object_id) DO UPDATE SET
		   payload = EXCLUDED.payload, storage_meta = EXCLUDED.storage_meta,
		   user_id = EXCLUDED.user_id, session_id = EXCLUDED.session_id,
		   original_id = EXCLUDED.original_id`, tn.objects)
	for _, obj := range objs {
		if err := queueObject(batch, upsertObject, obj); err != nil {
			return err
		}
		if shrinkParts {
			batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE object_id = $1`, tn.parts), obj.ObjectID)
		}
		queueParts(batch, tn, obj)
	}
	return t.send(ctx, batch, "upsert objects")
}

// DeleteObjects removes part rows then object rows. Missing ids are a
// no-op.
func (t *Tx) DeleteObjects(ctx context.Context, collectionID string, objectIDs []string) error {
	tn, err := tables(collectionID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE object_id = ANY($1)`, tn.parts), objectIDs)
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE object_id = ANY($1)`, tn.objects), objectIDs)
	return t.send(ctx, batch, "delete objects")
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return db.ErrTxDone
		}
		return mapError("commit", err)
	}
	return nil
}

// Rollback rolls the transaction back. Rolling back a finished
// transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return mapError("rollback", err)
	}
	return nil
}

func (t *Tx) send(ctx context.Context, batch *pgx.Batch, op string) error {
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return mapError(op, err)
		}
	}
	return nil
}

func queueObject(batch *pgx.Batch, sql string, obj object.Object) error {
	payloadRaw, err := encodePayload(obj.Payload)
	if err != nil {
		return err
	}
	metaRaw, err := encodePayload(obj.StorageMeta)
	if err != nil {
		return err
	}
	batch.Queue(sql, obj.ObjectID, payloadRaw, metaRaw, obj.UserID, obj.SessionID, obj.OriginalID)
	return nil
}

func queueParts(batch *pgx.Batch, tn tableNames, obj object.Object) {
	sql := fmt.Sprintf(
		`INSERT INTO %s (object_id, part_id, embedding, is_average)
		 VALUES ($1, $2, $3::vector, $4)
		 ON CONFLICT (object_id, part_id) DO UPDATE SET
		   embedding = EXCLUDED.embedding, is_average = EXCLUDED.is_average`, tn.parts)
	for _, p := range obj.Parts {
		batch.Queue(sql, obj.ObjectID, p.PartID, renderVector(p.Vector), p.IsAverage)
	}
}
