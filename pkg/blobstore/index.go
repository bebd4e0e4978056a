package blobstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// entry is what an Index stores per BytesKey: the URL handed back to
// callers plus the backend filename needed to delete the blob on purge.
type entry struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Index maps BytesKey to the blob written for it. The in-memory
// implementation is the default; RedisIndex shares the map across
// processes for deployments that run more than one engine instance against
// the same backend.
type Index interface {
	Get(ctx context.Context, key BytesKey) (entry, bool, error)
	Set(ctx context.Context, key BytesKey, e entry) error
	Delete(ctx context.Context, key BytesKey) error
	// Purge removes every entry and returns the filenames that were
	// indexed, so the caller can best-effort delete the backing blobs.
	Purge(ctx context.Context) ([]string, error)
}

// MemoryIndex is the default in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[BytesKey]entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[BytesKey]entry)}
}

func (m *MemoryIndex) Get(_ context.Context, key BytesKey) (entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryIndex) Set(_ context.Context, key BytesKey, e entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, key BytesKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryIndex) Purge(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filenames := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		filenames = append(filenames, e.Filename)
	}
	m.entries = make(map[BytesKey]entry)
	return filenames, nil
}

// RedisIndex is a Redis-backed Index, adapted from the teacher's
// key-prefixed Redis cache, for sharing the BytesKey -> URL map across
// engine processes fronting the same blob backend.
type RedisIndex struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// NewRedisIndex creates a Redis-backed Index.
func NewRedisIndex(client *redis.Client, keyPrefix string, defaultTTL time.Duration) *RedisIndex {
	if keyPrefix == "" {
		keyPrefix = "hlsplayer:blob:"
	}
	if defaultTTL == 0 {
		defaultTTL = 24 * time.Hour
	}
	return &RedisIndex{client: client, keyPrefix: keyPrefix, defaultTTL: defaultTTL}
}

func (r *RedisIndex) redisKey(key BytesKey) string {
	return r.keyPrefix + key.String()
}

func (r *RedisIndex) Get(ctx context.Context, key BytesKey) (entry, bool, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return entry{}, false, nil
		}
		return entry{}, false, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

func (r *RedisIndex) Set(ctx context.Context, key BytesKey, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.redisKey(key), data, r.defaultTTL).Err()
}

func (r *RedisIndex) Delete(ctx context.Context, key BytesKey) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

func (r *RedisIndex) Purge(ctx context.Context) ([]string, error) {
	pattern := r.keyPrefix + "*"
	var filenames []string

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if data, err := r.client.Get(ctx, k).Bytes(); err == nil {
			var e entry
			if json.Unmarshal(data, &e) == nil {
				filenames = append(filenames, e.Filename)
			}
		}
		r.client.Del(ctx, k)
	}

	return filenames, iter.Err()
}
