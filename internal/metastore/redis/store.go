// Package redis implements metastore.Store on Redis 8+ with RedisJSON.
// One JSON document per collection plus one blue-pointer document per
// namespace; create-only semantics ride on JSON.SET NX.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/vectra/internal/metastore"
)

// Compile-time check: Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

const keyPrefix = "vectra:meta"

// Config holds connection parameters for the Redis metastore.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

// Store implements metastore.Store via rueidis.
type Store struct {
	client rueidis.Client
}

// NewStore creates a Redis metastore via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
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
			return fmt.Errorf("timeout waiting for metastore: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func collectionKey(namespace, collectionID string) string {
	return fmt.Sprintf("%s:%s:collection:%s", keyPrefix, namespace, collectionID)
}

func bluePointerKey(namespace string) string {
	return fmt.Sprintf("%s:%s:blue", keyPrefix, namespace)
}

// PutCollection creates the record with JSON.SET NX; the nil reply on
// an existing key maps to ErrDocExists.
func (s *Store) PutCollection(ctx context.Context, doc metastore.CollectionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal collection doc: %w", err)
	}
	key := collectionKey(doc.Namespace, doc.CollectionID)
	cmd := s.client.B().Arbitrary("JSON.SET").Keys(key).Args("$", string(data), "NX").Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return fmt.Errorf("collection %s: %w", doc.CollectionID, metastore.ErrDocExists)
		}
		return fmt.Errorf("put collection: %w", err)
	}
	return nil
}

// UpdateCollection overwrites the record with JSON.SET XX; the nil
// reply on a missing key maps to ErrDocNotFound.
func (s *Store) UpdateCollection(ctx context.Context, doc metastore.CollectionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal collection doc: %w", err)
	}
	key := collectionKey(doc.Namespace, doc.CollectionID)
	cmd := s.client.B().Arbitrary("JSON.SET").Keys(key).Args("$", string(data), "XX").Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return fmt.Errorf("collection %s: %w", doc.CollectionID, metastore.ErrDocNotFound)
		}
		return fmt.Errorf("update collection: %w", err)
	}
	return nil
}

// DeleteCollection removes the record. Missing keys are a no-op.
func (s *Store) DeleteCollection(ctx context.Context, namespace, collectionID string) error {
	cmd := s.client.B().Del().Key(collectionKey(namespace, collectionID)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// GetCollection returns one record.
func (s *Store) GetCollection(ctx context.Context, namespace, collectionID string) (metastore.CollectionDoc, error) {
	var doc metastore.CollectionDoc
	raw, err := s.jsonGet(ctx, collectionKey(namespace, collectionID))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("unmarshal collection doc: %w", err)
	}
	return doc, nil
}

// ListCollections scans the namespace's collection keys and fetches
// each document.
func (s *Store) ListCollections(ctx context.Context, namespace string) ([]metastore.CollectionDoc, error) {
	match := fmt.Sprintf("%s:%s:collection:*", keyPrefix, namespace)
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(match).Count(200).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan collections: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	docs := make([]metastore.CollectionDoc, 0, len(keys))
	for _, key := range keys {
		raw, err := s.jsonGet(ctx, key)
		if err != nil {
			// Deleted between scan and fetch.
			if errors.Is(err, metastore.ErrDocNotFound) {
				continue
			}
			return nil, err
		}
		var doc metastore.CollectionDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal collection doc %s: %w", key, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetBluePointer returns the namespace's blue pointer.
func (s *Store) GetBluePointer(ctx context.Context, namespace string) (metastore.BluePointerDoc, error) {
	var doc metastore.BluePointerDoc
	raw, err := s.jsonGet(ctx, bluePointerKey(namespace))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("unmarshal blue pointer: %w", err)
	}
	return doc, nil
}

// SetBluePointer overwrites the namespace's blue pointer.
func (s *Store) SetBluePointer(ctx context.Context, doc metastore.BluePointerDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal blue pointer: %w", err)
	}
	key := bluePointerKey(doc.Namespace)
	cmd := s.client.B().Arbitrary("JSON.SET").Keys(key).Args("$", string(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set blue pointer: %w", err)
	}
	return nil
}

func (s *Store) jsonGet(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Arbitrary("JSON.GET").Keys(key).Args("$").Build()
	raw, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("key %s: %w", key, metastore.ErrDocNotFound)
		}
		return nil, fmt.Errorf("json get %s: %w", key, err)
	}
	// JSON.GET with a $ path wraps the document in an array.
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	}
	if trimmed == "" {
		return nil, fmt.Errorf("key %s: %w", key, metastore.ErrDocNotFound)
	}
	return []byte(trimmed), nil
}
