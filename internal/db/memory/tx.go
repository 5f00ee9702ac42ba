package memory

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vectra/internal/db"
	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// Tx stages mutations against the store. Validation happens at stage
// time under the store mutex; staged ops apply in order on Commit.
// Row locks are held from LockObjects until Commit or Rollback.
type Tx struct {
	s      *Store
	done   bool
	locked map[string][]string // collection id -> locked object ids
	staged []func() error
}

// LockObjects try-locks the given ids, all or nothing. Ids locked by
// another open transaction yield ErrLockNotAvailable immediately.
// Locking an id with no stored row is allowed; inserts lock their ids
// before the row exists.
func (t *Tx) LockObjects(_ context.Context, collectionID string, objectIDs []string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return db.ErrTxDone
	}
	c, err := t.s.collection(collectionID)
	if err != nil {
		return err
	}
	for _, id := range objectIDs {
		if owner, held := c.locked[id]; held && owner != t {
			return fmt.Errorf("lock %s/%s: %w", collectionID, id, db.ErrLockNotAvailable)
		}
	}
	for _, id := range objectIDs {
		if c.locked[id] == nil {
			c.locked[id] = t
			t.locked[collectionID] = append(t.locked[collectionID], id)
		}
	}
	return nil
}

// InsertObjects stages object writes. Duplicate ids, against committed
// state or within the batch, fail the call with ErrDuplicateObject.
func (t *Tx) InsertObjects(_ context.Context, collectionID string, objs []object.Object) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return db.ErrTxDone
	}
	c, err := t.s.collection(collectionID)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, obj := range objs {
		if _, exists := c.objects[obj.ObjectID]; exists || seen[obj.ObjectID] {
			return fmt.Errorf("insert %s/%s: %w", collectionID, obj.ObjectID, db.ErrDuplicateObject)
		}
		seen[obj.ObjectID] = true
	}
	batch := cloneObjects(objs)
	t.staged = append(t.staged, func() error {
		for _, obj := range batch {
			c.order = append(c.order, obj.ObjectID)
			c.objects[obj.ObjectID] = obj
		}
		return nil
	})
	return nil
}

// UpsertObjects stages object writes with part replace or merge
// semantics.
func (t *Tx) UpsertObjects(_ context.Context, collectionID string, objs []object.Object, shrinkParts bool) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return db.ErrTxDone
	}
	c, err := t.s.collection(collectionID)
	if err != nil {
		return err
	}
	batch := cloneObjects(objs)
	t.staged = append(t.staged, func() error {
		for _, obj := range batch {
			current, exists := c.objects[obj.ObjectID]
			if !exists {
				c.order = append(c.order, obj.ObjectID)
				c.objects[obj.ObjectID] = obj
				continue
			}
			if !shrinkParts {
				obj.Parts = mergeParts(current.Parts, obj.Parts)
			}
			c.objects[obj.ObjectID] = obj
		}
		return nil
	})
	return nil
}

// mergeParts overwrites existing vectors by part id and appends new
// part ids, preserving existing order.
func mergeParts(existing, incoming []object.Part) []object.Part {
	merged := make([]object.Part, len(existing))
	copy(merged, existing)
	index := map[string]int{}
	for i, p := range merged {
		index[p.PartID] = i
	}
	for _, p := range incoming {
		if i, ok := index[p.PartID]; ok {
			merged[i] = p
		} else {
			index[p.PartID] = len(merged)
			merged = append(merged, p)
		}
	}
	return merged
}

// DeleteObjects stages removal of the given ids. Missing ids are a
// no-op, matching DELETE row-count semantics.
func (t *Tx) DeleteObjects(_ context.Context, collectionID string, objectIDs []string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return db.ErrTxDone
	}
	c, err := t.s.collection(collectionID)
	if err != nil {
		return err
	}
	ids := make([]string, len(objectIDs))
	copy(ids, objectIDs)
	t.staged = append(t.staged, func() error {
		drop := map[string]bool{}
		for _, id := range ids {
			if _, ok := c.objects[id]; ok {
				drop[id] = true
				delete(c.objects, id)
			}
		}
		if len(drop) == 0 {
			return nil
		}
		kept := c.order[:0]
		for _, id := range c.order {
			if !drop[id] {
				kept = append(kept, id)
			}
		}
		c.order = kept
		return nil
	})
	return nil
}

// Commit applies staged ops in order and releases locks.
func (t *Tx) Commit(_ context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return db.ErrTxDone
	}
	for _, op := range t.staged {
		if err := op(); err != nil {
			t.finish()
			return err
		}
	}
	t.finish()
	return nil
}

// Rollback discards staged ops and releases locks.
func (t *Tx) Rollback(_ context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

// finish releases row locks. Caller holds the store mutex.
func (t *Tx) finish() {
	for collectionID, ids := range t.locked {
		c, ok := t.s.collections[collectionID]
		if !ok {
			continue
		}
		for _, id := range ids {
			if c.locked[id] == t {
				delete(c.locked, id)
			}
		}
	}
	t.staged = nil
	t.done = true
}

func cloneObjects(objs []object.Object) []object.Object {
	out := make([]object.Object, len(objs))
	for i, o := range objs {
		out[i] = cloneObject(o)
	}
	return out
}
