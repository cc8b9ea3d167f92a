package mpesa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const tokenFetchTimeout = 30 * time.Second

// TokenStore keeps a token until its TTL runs out.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

type tokenFetcher interface {
	Fetch(ctx context.Context) (*AccessToken, error)
}

// CachingTokenProvider reuses a token until margin before the expiry the
// gateway declared. Tokens without a declared expiry are never cached.
// Concurrent misses share a single fetch that is not bound to any one
// caller's context; each caller stops waiting when its own context ends.
type CachingTokenProvider struct {
	fetcher tokenFetcher
	store   TokenStore
	key     string
	margin  time.Duration
	group   singleflight.Group
}

func NewCachingTokenProvider(fetcher tokenFetcher, store TokenStore, consumerKey string, margin time.Duration) *CachingTokenProvider {
	return &CachingTokenProvider{
		fetcher: fetcher,
		store:   store,
		key:     TokenCacheKey(consumerKey),
		margin:  margin,
	}
}

// TokenCacheKey namespaces cached tokens per consumer key so that several
// apps can share one store. The hash keeps keys short and uniform; it is not
// a secrecy measure and the consumer key should be treated as recoverable.
func TokenCacheKey(consumerKey string) string {
	return fmt.Sprintf("mpesa:token:%016x", xxhash.Sum64String(consumerKey))
}

func (c *CachingTokenProvider) Token(ctx context.Context) (string, error) {
	tok, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		log.Printf("token cache read failed, fetching fresh token: %v", err)
	} else if ok {
		return tok, nil
	}

	ch := c.group.DoChan(c.key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()

		fresh, err := c.fetcher.Fetch(fctx)
		if err != nil {
			return "", err
		}
		if ttl := fresh.ExpiresIn - c.margin; ttl > 0 {
			if err := c.store.Set(fctx, c.key, fresh.Value, ttl); err != nil {
				log.Printf("token cache write failed: %v", err)
			}
		}
		return fresh.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type memoryEntry struct {
	token   string
	expires time.Time
}

type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryTokenStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.token, true, nil
}

func (m *MemoryTokenStore) Set(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{token: token, expires: m.now().Add(ttl)}
	return nil
}

// RedisTokenStore shares tokens between bridge replicas. Expiry is left to Redis.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(addr, password string, db int) *RedisTokenStore {
	return &RedisTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *RedisTokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	tok, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET error: %w", err)
	}
	return tok, true, nil
}

func (r *RedisTokenStore) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET error: %w", err)
	}
	return nil
}

func (r *RedisTokenStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}
