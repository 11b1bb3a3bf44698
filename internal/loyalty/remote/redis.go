package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each collection in one hash named <prefix>:<collection>.
// Hash fields are document keys and values are JSON documents.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "loyalty"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) hashKey(collection string) string {
	return r.prefix + ":" + collection
}

// GetAll implements Store.
func (r *RedisStore) GetAll(ctx context.Context, collection string) ([]Document, error) {
	values, err := r.client.HGetAll(ctx, r.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(values))
	for key, raw := range values {
		fields, err := decodeFields([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, err)
		}
		docs = append(docs, Document{Key: key, Fields: fields})
	}
	sortDocuments(docs)
	return docs, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, collection, key string) (Document, error) {
	raw, err := r.client.HGet(ctx, r.hashKey(collection), key).Result()
	if errors.Is(err, redis.Nil) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
	}
	fields, err := decodeFields([]byte(raw))
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, err)
	}
	return Document{Key: key, Fields: fields}, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, collection, key string, fields schema.Fields) error {
	data, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.hashKey(collection), key, data).Err(); err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
