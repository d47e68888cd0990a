package fxrate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Quote is a rate together with where and when it was obtained.
type Quote struct {
	Rate      float64   `json:"rate"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store holds the latest Quote. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) (Quote, bool, error)
	Save(ctx context.Context, q Quote) error
}

// MemoryStore keeps the quote in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored quote, if any.
func (s *MemoryStore) Load(_ context.Context) (Quote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote, s.set, nil
}

// Save replaces the stored quote.
func (s *MemoryStore) Save(_ context.Context, q Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = q
	s.set = true
	return nil
}

// redisClient is the subset of go-redis used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// DefaultRedisKey is the key RedisStore uses when none is configured.
const DefaultRedisKey = "importduty:fxrate:usd_dop"

// RedisStore shares the quote between processes through Redis. Entries expire
// after ttl so a stale quote cannot outlive its freshness window by much.
type RedisStore struct {
	client redisClient
	key    string
	ttl    time.Duration
}

// NewRedisStore returns a store backed by client under key.
func NewRedisStore(client redisClient, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Load reads and decodes the quote. A missing key is not an error.
func (s *RedisStore) Load(ctx context.Context) (Quote, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, eris.Wrap(err, "fxrate: redis get")
	}

	var q Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return Quote{}, false, eris.Wrap(err, "fxrate: decode quote")
	}
	return q, true, nil
}

// Save encodes and writes the quote.
func (s *RedisStore) Save(ctx context.Context, q Quote) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return eris.Wrap(err, "fxrate: encode quote")
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return eris.Wrap(err, "fxrate: redis set")
	}
	return nil
}
