package mpesa

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qshop_backend/internal/domain"
	"qshop_backend/internal/mpesa/mpesatest"
)

type countingFetcher struct {
	mu        sync.Mutex
	calls     int
	expiresIn time.Duration
	err       error
}

func (f *countingFetcher) Fetch(ctx context.Context) (*AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &AccessToken{Value: "tok-" + string(rune('a'+f.calls-1)), ExpiresIn: f.expiresIn}, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCachingTokenProviderReusesUntilMargin(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	store.now = func() time.Time { return now }
	fetcher := &countingFetcher{expiresIn: 3599 * time.Second}
	p := NewCachingTokenProvider(fetcher, store, "consumer-key", time.Minute)
	ctx := context.Background()

	first, err := p.Token(ctx)
	require.NoError(t, err)
	second, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.Calls())

	// Inside the safety margin the cached token is no longer handed out.
	now = now.Add(3599*time.Second - time.Minute)
	third, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-b", third)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestCachingTokenProviderSkipsTokensWithoutExpiry(t *testing.T) {
	fetcher := &countingFetcher{}
	p := NewCachingTokenProvider(fetcher, NewMemoryTokenStore(), "consumer-key", time.Minute)

	for i := 0; i < 3; i++ {
		_, err := p.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fetcher.Calls())
}

func TestCachingTokenProviderPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	p := NewCachingTokenProvider(&countingFetcher{err: boom}, NewMemoryTokenStore(), "consumer-key", time.Minute)

	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCachingTokenProviderAgainstGateway(t *testing.T) {
	gw := mpesatest.NewGateway(t)
	cfg := testConfig(gw.URL())
	tokens := NewCachingTokenProvider(
		NewTokenProvider(cfg, NewTransport("token", cfg, nil)),
		NewMemoryTokenStore(), cfg.ConsumerKey, time.Minute,
	)
	c := NewClient(cfg, tokens, NewTransport("stkpush", cfg, nil))

	for i := 0; i < 3; i++ {
		_, err := c.Push(context.Background(), pushRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, gw.TokenCalls())
	assert.Equal(t, 3, gw.PushCalls())
}

func TestRedisTokenStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisTokenStore(mr.Addr(), "", 0)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	key := TokenCacheKey("consumer-key")

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, key, "shared-token", 30*time.Second))
	tok, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "shared-token", tok)

	mr.FastForward(31 * time.Second)
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *blockingFetcher) Fetch(ctx context.Context) (*AccessToken, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	select {
	case <-f.release:
		return &AccessToken{Value: "shared", ExpiresIn: time.Hour}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCachingTokenProviderCancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	p := NewCachingTokenProvider(f, NewMemoryTokenStore(), "consumer-key", time.Minute)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Token(short)
		firstErr <- err
	}()
	<-f.started

	type result struct {
		tok string
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := p.Token(context.Background())
		second <- result{tok, err}
	}()

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)

	time.Sleep(20 * time.Millisecond)
	close(f.release)
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, "shared", r.tok)
	assert.Equal(t, int32(1), f.calls.Load())

	// the shared fetch still populated the cache
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shared", tok)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCachingTokenProviderConcurrentMissesShareFetch(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	p := NewCachingTokenProvider(f, NewMemoryTokenStore(), "consumer-key", time.Minute)

	var wg sync.WaitGroup
	toks := make([]string, 5)
	errs := make([]error, 5)
	for i := range toks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = p.Token(context.Background())
		}(i)
	}
	<-f.started
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	for i := range toks {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", toks[i])
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestTokenCacheKeyNamespacesConsumerKey(t *testing.T) {
	key := TokenCacheKey("consumer-key")
	assert.NotContains(t, key, "consumer-key")
	assert.Equal(t, key, TokenCacheKey("consumer-key"))
	assert.NotEqual(t, key, TokenCacheKey("other-key"))
}

func pushRequest() domain.PaymentRequest {
	return domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 500}
}
