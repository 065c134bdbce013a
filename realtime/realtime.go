// Package realtime wraps the core cache for callers that live in wall-clock
// time. It supplies every timestamp from a monotonic clock, expresses TTLs as
// time.Duration, and guards the single-threaded core with a mutex so the
// cache becomes safe for concurrent use.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/probecache/probecache/cache"
	"github.com/probecache/probecache/internal/singleflight"
	"github.com/probecache/probecache/internal/util"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
var ErrNoLoader = errors.New("realtime: no Loader provided")

// Clock provides time in nanoseconds; injectable for deterministic tests.
// Implementations must be monotonic: a reading may never be smaller than an
// earlier one.
type Clock interface{ NowUnixNano() int64 }

// monotonicClock measures time since construction. time.Since reads Go's
// monotonic clock, so readings never go backward even across wall-clock
// adjustments.
type monotonicClock struct{ start time.Time }

func (m monotonicClock) NowUnixNano() int64 { return int64(time.Since(m.start)) }

// Options configures the wrapper. MaxEntries and MaxLoadFactor are validated
// by the core; everything else has defaults:
//   - Tick <= 0             => 1ms per tick
//   - nil Clock             => monotonic clock started at construction
//   - DefaultTTL <= 0       => 1 minute (used by GetOrLoad inserts)
//   - SweepInterval <= 0    => no background sweeping
//   - SweepTargetRatio <= 0 => 0.25
type Options[K comparable, V any] struct {
	MaxEntries    int
	MaxLoadFactor float64

	// Tick is the cache's time unit: timestamps handed to the core count
	// ticks since construction, and TTLs are truncated to whole ticks, with
	// positive sub-tick TTLs raised to one tick.
	Tick time.Duration

	// Clock overrides the time source (tests).
	Clock Clock

	// Loader fetches a value on cache miss; used by GetOrLoad. Concurrent
	// loads for the same key are coalesced.
	Loader func(ctx context.Context, k K) (V, error)

	// DefaultTTL applies to entries inserted by GetOrLoad.
	DefaultTTL time.Duration

	// SweepInterval starts a background goroutine that actively removes
	// expired entries every interval. Close stops it.
	SweepInterval time.Duration
	// SweepTargetRatio is the expired ratio the background sweep drives the
	// cache down to on each run.
	SweepTargetRatio float64

	// Passed through to the core.
	Hash    func(K) uint64
	Metrics cache.Metrics
	OnEvict func(k K, v V, reason cache.EvictReason)
	Logger  *zap.Logger
}

// Cache is the concurrency-safe, wall-clock surface of the core cache.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu   sync.Mutex
	core cache.Cache[K, V]

	tick  time.Duration
	clock Clock
	epoch int64 // clock reading at construction

	loader     func(ctx context.Context, k K) (V, error)
	defaultTTL time.Duration
	sf         singleflight.Group[K, V]

	closed atomic.Bool

	// Hot counters live on their own cache lines; many goroutines bump them.
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64

	sweepEvery time.Duration
	sweepRatio float64
	done       chan struct{}
	wg         sync.WaitGroup
}

// Stats is a point-in-time snapshot of the wrapper's counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// New constructs the wrapper and its core, and starts the background sweeper
// when SweepInterval is set. Configuration errors wrap
// cache.ErrInvalidArgument: MaxEntries and MaxLoadFactor are validated by the
// core, a positive SweepTargetRatio below 0.01 by the wrapper.
func New[K comparable, V any](opt Options[K, V]) (*Cache[K, V], error) {
	core, err := cache.New[K, V](cache.Options[K, V]{
		MaxEntries:    opt.MaxEntries,
		MaxLoadFactor: opt.MaxLoadFactor,
		Hash:          opt.Hash,
		Metrics:       opt.Metrics,
		OnEvict:       opt.OnEvict,
		Logger:        opt.Logger,
	})
	if err != nil {
		return nil, err
	}

	tick := opt.Tick
	if tick <= 0 {
		tick = time.Millisecond
	}
	clk := opt.Clock
	if clk == nil {
		clk = monotonicClock{start: time.Now()}
	}
	defTTL := opt.DefaultTTL
	if defTTL <= 0 {
		defTTL = time.Minute
	}
	ratio := opt.SweepTargetRatio
	if ratio <= 0 {
		ratio = 0.25
	} else if ratio < 0.01 {
		return nil, fmt.Errorf("%w: SweepTargetRatio %v below 0.01", cache.ErrInvalidArgument, ratio)
	}

	c := &Cache[K, V]{
		core:       core,
		tick:       tick,
		clock:      clk,
		epoch:      clk.NowUnixNano(),
		loader:     opt.Loader,
		defaultTTL: defTTL,
		sweepEvery: opt.SweepInterval,
		sweepRatio: ratio,
		done:       make(chan struct{}),
	}
	if c.sweepEvery > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c, nil
}

// Get returns the value for k and a presence flag, refreshing k's recency.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	v, ok, err := c.core.Get(k, c.nowTicks())
	c.mu.Unlock()
	if err != nil {
		// The clock is monotonic and the lock serializes calls, so the core
		// can only fail on a bug.
		panic(fmt.Sprintf("realtime: core rejected timestamp: %v", err))
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Insert stores k→v for the given lifetime. Sub-tick lifetimes round up to
// one tick; a non-positive ttl is rejected with cache.ErrInvalidArgument.
func (c *Cache[K, V]) Insert(k K, v V, ttl time.Duration) error {
	ticks := c.ttlTicks(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.Insert(k, v, c.nowTicks(), ticks)
}

// RemoveExpired actively collects expired entries until the measured expired
// ratio drops to targetRatio.
func (c *Cache[K, V]) RemoveExpired(targetRatio float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.RemoveExpired(c.nowTicks(), targetRatio)
}

// GetOrLoad returns the value for k, loading it via Options.Loader on miss.
// Concurrent loads for the same key are coalesced; the loaded value is stored
// with DefaultTTL. Returns ErrNoLoader when no Loader was configured.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	return c.sf.Do(ctx, k, func() (V, error) {
		// Double-check after joining the flight: the leader may have already
		// stored the value before we were enqueued.
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.loader(ctx, k)
		if err == nil {
			if ierr := c.Insert(k, v, c.defaultTTL); ierr != nil {
				return v, ierr
			}
		}
		return v, err
	})
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.Len()
}

// Cap returns the core's slot count.
func (c *Cache[K, V]) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.Cap()
}

// LoadFactor returns the core's current load factor.
func (c *Cache[K, V]) LoadFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.LoadFactor()
}

// Stats returns hit/miss counters accumulated since construction.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close stops the background sweeper. The cache remains readable; Close only
// ends background work.
func (c *Cache[K, V]) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
		c.wg.Wait()
	}
	return nil
}

// sweepLoop periodically runs the active expiration pass. A ticker plus a
// stop channel keeps goroutine ownership inside the cache: Close is the only
// way the loop ends.
func (c *Cache[K, V]) sweepLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.mu.Lock()
			// sweepRatio is validated at construction; the only error the
			// core can return here would be a clock regression, a bug.
			if err := c.core.RemoveExpired(c.nowTicks(), c.sweepRatio); err != nil {
				c.mu.Unlock()
				panic(fmt.Sprintf("realtime: sweep failed: %v", err))
			}
			c.mu.Unlock()
		}
	}
}

// nowTicks converts the clock reading to whole ticks since construction.
// Callers hold mu, which also serializes timestamps into the core.
func (c *Cache[K, V]) nowTicks() int64 {
	return (c.clock.NowUnixNano() - c.epoch) / int64(c.tick)
}

// ttlTicks converts a lifetime to ticks, rounding positive sub-tick values up
// so they do not become dead on arrival. Non-positive input stays
// non-positive and lets the core reject it.
func (c *Cache[K, V]) ttlTicks(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ticks := int64(ttl / c.tick)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}
