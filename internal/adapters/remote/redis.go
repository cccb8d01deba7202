package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const upsertRetries = 5

// RedisStore keeps each collection in one hash, prefix:collection, with a
// JSON document per field.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisClient returns a lazily connecting client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// DialRedis connects to addr and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	client := NewRedisClient(addr, password, db)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", ClassifyRedis(err))
	}
	return client, nil
}

// NewRedisStore wraps client. The store owns the client and closes it.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + ":" + collection
}

func (s *RedisStore) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	fields, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, ClassifyRedis(err))
	}
	docs := make([]Document, 0, len(fields))
	for id, raw := range fields {
		// Undecodable bodies come back with nil Data for the caller to
		// quarantine.
		docs = append(docs, Document{ID: id, Data: decode([]byte(raw))})
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, ClassifyRedis(err))
	}
	return Document{ID: id, Data: decode(raw)}, true, nil
}

func (s *RedisStore) Upsert(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	key := s.key(collection)
	if !merge {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", id, err)
		}
		if err := s.client.HSet(ctx, key, id, raw).Err(); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, id, ClassifyRedis(err))
		}
		return nil
	}

	// Read-merge-write under WATCH so a concurrent writer forces a retry
	// instead of a lost update.
	txf := func(tx *redis.Tx) error {
		doc := map[string]any{}
		cur, err := tx.HGet(ctx, key, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if existing := decode(cur); existing != nil {
				doc = existing
			}
		}
		raw, err := json.Marshal(mergeFields(doc, data))
		if err != nil {
			return fmt.Errorf("encode document %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, raw)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < upsertRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, id, ClassifyRedis(err))
		}
		return nil
	}
	return fmt.Errorf("upsert %s/%s: %w", collection, id, ErrContention)
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.client.HDel(ctx, s.key(collection), id).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ClassifyRedis(err))
	}
	return nil
}

func (s *RedisStore) Probe(ctx context.Context, collection string) (ProbeResult, error) {
	err := ClassifyRedis(s.client.HLen(ctx, s.key(collection)).Err())
	switch {
	case err == nil:
		return ProbeOK, nil
	case errors.Is(err, ErrPermissionDenied):
		return ProbePermissionDenied, err
	default:
		return ProbeUnreachable, err
	}
}

func (s *RedisStore) Close() error { return s.client.Close() }
