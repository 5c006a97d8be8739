// Package query loads remote collections into a cache.Store.
//
// Concurrent loads of one key share a single network call. Cached data is
// served while it is younger than the stale time and has not been
// invalidated; a failed load is retried once before it is reported.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/cache"
	"github.com/HerbHall/jump/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

var (
	// ErrUnknownKey is returned for a key with no registered fetcher.
	ErrUnknownKey = errors.New("no fetcher registered")
	// ErrSuperseded is returned to callers of a load that was cancelled or
	// invalidated before its result could be stored.
	ErrSuperseded = errors.New("fetch superseded")
)

const (
	// attempts is the number of tries a load gets: the first call and one retry.
	attempts = 2
	// rejoins bounds how often Fetch follows a superseded load.
	rejoins = 3
)

// Fetcher loads the full collection for one key.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Config holds query timing settings.
type Config struct {
	StaleTime  time.Duration `mapstructure:"stale_time"`  // Age after which cached data is refetched (default: 30s)
	RetryDelay time.Duration `mapstructure:"retry_delay"` // Pause before the single retry (0 = retry immediately)
}

// DefaultConfig returns the default query settings.
func DefaultConfig() Config {
	return Config{
		StaleTime:  30 * time.Second,
		RetryDelay: time.Second,
	}
}

// Coordinator owns the fetch side of a cache.Store.
type Coordinator[T any] struct {
	store  *cache.Store[T]
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	fetchers map[string]Fetcher[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator over store.
func New[T any](store *cache.Store[T], clk clock.Clock, cfg Config, logger *zap.Logger) *Coordinator[T] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultConfig().StaleTime
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		store:    store,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		fetchers: make(map[string]Fetcher[T]),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Store returns the cache the coordinator writes to.
func (c *Coordinator[T]) Store() *cache.Store[T] { return c.store }

// Register sets the fetcher used to load key.
func (c *Coordinator[T]) Register(key string, fn Fetcher[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = fn
}

// Fetch returns the collection for key, loading it when the cached copy is
// missing, stale or invalidated. On failure the returned collection holds
// whatever data survived, alongside the error. A load superseded while
// Fetch waits on it is followed by a fresh one.
func (c *Coordinator[T]) Fetch(ctx context.Context, key string) (cache.Collection[T], error) {
	if col, ok := c.fresh(key); ok {
		return col, nil
	}
	col, err := c.load(ctx, key)
	for i := 0; i < rejoins && errors.Is(err, ErrSuperseded); i++ {
		if fresh, ok := c.fresh(key); ok {
			return fresh, nil
		}
		col, err = c.load(ctx, key)
	}
	return col, err
}

// Refetch loads key from the service regardless of freshness. It still
// joins a load that is already in flight, and reports ErrSuperseded when
// that load is replaced by a newer one before it completes.
func (c *Coordinator[T]) Refetch(ctx context.Context, key string) (cache.Collection[T], error) {
	return c.load(ctx, key)
}

// Get returns the cached collection without blocking. If it is missing or
// stale a background load is started, so the next read sees fresh data.
func (c *Coordinator[T]) Get(key string) (cache.Collection[T], bool) {
	col, ok := c.store.Read(key)
	if _, fresh := c.fresh(key); !fresh {
		c.background(key)
	}
	return col, ok
}

// Prefetch starts a background load of key unless the cached copy is fresh.
func (c *Coordinator[T]) Prefetch(key string) {
	if _, ok := c.fresh(key); !ok {
		c.background(key)
	}
}

// Invalidate marks key stale. A load already in flight may have read the
// service before the change that caused the invalidation, so it is
// superseded. Observed keys are reloaded in the background; others reload
// on their next read.
func (c *Coordinator[T]) Invalidate(key string) {
	if col, _ := c.store.Read(key); col.Fetching {
		c.Cancel(key)
	}
	c.store.Invalidate(key)
	if c.store.Observed(key) {
		c.background(key)
	}
}

// Cancel supersedes any load in flight for key. Its result, when it
// arrives, is discarded, and later loads start a new network call.
func (c *Coordinator[T]) Cancel(key string) {
	gen := c.store.Cancel(key)
	c.group.Forget(key)
	c.logger.Debug("fetch cancelled", zap.String("key", key), zap.Uint64("generation", gen))
}

// Wait blocks until background loads started so far have finished.
func (c *Coordinator[T]) Wait() {
	c.wg.Wait()
}

// Close stops waiting on background loads and waits for them to return.
func (c *Coordinator[T]) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator[T]) fresh(key string) (cache.Collection[T], bool) {
	col, ok := c.store.Read(key)
	if !ok || col.Status != cache.StatusSuccess || col.Stale || col.Data == nil {
		return col, false
	}
	if c.clock.Since(col.FetchedAt) >= c.cfg.StaleTime {
		return col, false
	}
	return col, true
}

func (c *Coordinator[T]) fetcher(key string) (Fetcher[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.fetchers[key]
	return fn, ok
}

func (c *Coordinator[T]) background(key string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := c.load(c.ctx, key)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSuperseded) {
			c.logger.Warn("background fetch failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// load joins or starts the shared load for key. The shared load runs
// detached from ctx so one caller giving up does not fail the others.
func (c *Coordinator[T]) load(ctx context.Context, key string) (cache.Collection[T], error) {
	fn, ok := c.fetcher(key)
	if !ok {
		col, _ := c.store.Read(key)
		return col, fmt.Errorf("fetch %s: %w", key, ErrUnknownKey)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(context.WithoutCancel(ctx), key, fn)
	})

	select {
	case <-ctx.Done():
		col, _ := c.store.Read(key)
		return col, ctx.Err()
	case res := <-ch:
		col, _ := res.Val.(cache.Collection[T])
		return col, res.Err
	}
}

func (c *Coordinator[T]) run(ctx context.Context, key string, fn Fetcher[T]) (cache.Collection[T], error) {
	gen := c.store.BeginFetch(key)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.FetchRetriesTotal.WithLabelValues(key).Inc()
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		data, err := fn(ctx)
		if err == nil {
			col, _ := c.store.Read(key)
			if !c.store.ReplaceIfCurrent(key, gen, data) {
				metrics.FetchesTotal.WithLabelValues(key, "discarded").Inc()
				c.logger.Debug("discarded superseded fetch result",
					zap.String("key", key),
					zap.Uint64("generation", gen),
				)
				return col, fmt.Errorf("fetch %s: %w", key, ErrSuperseded)
			}
			metrics.FetchesTotal.WithLabelValues(key, "success").Inc()
			col, _ = c.store.Read(key)
			return col, nil
		}

		lastErr = err
		c.logger.Debug("fetch attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	err := &api.NetworkError{Op: "fetch " + key, Attempts: attempts, Err: lastErr}
	if !c.store.FailIfCurrent(key, gen, err) {
		metrics.FetchesTotal.WithLabelValues(key, "discarded").Inc()
		col, _ := c.store.Read(key)
		return col, fmt.Errorf("fetch %s: %w", key, ErrSuperseded)
	}
	metrics.FetchesTotal.WithLabelValues(key, "error").Inc()
	col, _ := c.store.Read(key)
	return col, err
}

func (c *Coordinator[T]) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
