// Package cache holds answered queries for a TTL and coalesces concurrent identical queries
// into a single computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// KeyPrefix namespaces query cache keys inside a shared store.
const KeyPrefix = "rag:query:"

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = time.Hour

// maxHandoffs bounds how often a waiter re-enters the flight after its leader was cancelled.
const maxHandoffs = 3

// Normalize lowercases the query, trims it and collapses inner whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key derives the cache key for a query and its retrieval parameters.
func Key(query string, topK int) string {
	sum := sha256.Sum256([]byte(Normalize(query) + "\x00" + strconv.Itoa(topK)))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Value is the cacheable part of an answer.
type Value struct {
	Answer  string
	Sources []models.Source
}

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) (Value, error)

// Stats are running counters since construction.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computes  int64 `json:"computes"`
	Coalesced int64 `json:"coalesced"`
	Degraded  int64 `json:"degraded"`
}

// Evictor is implemented by stores that can drop expired entries actively.
type Evictor interface {
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

type flightResult struct {
	value Value
	// fromStore is set when the leader found the entry already stored.
	fromStore bool
}

type QueryCache struct {
	store  core.CacheStore
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger arbor.ILogger

	// clearMu orders writes against Clear. generation counts clears.
	clearMu    sync.RWMutex
	generation atomic.Uint64

	hits, misses, computes, coalesced, degraded atomic.Int64
}

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) { c.now = now }
}

// New wraps store. A non-positive ttl falls back to DefaultTTL.
func New(store core.CacheStore, ttl time.Duration, logger arbor.ILogger, opts ...Option) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	c := &QueryCache{store: store, ttl: ttl, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default entry lifetime.
func (c *QueryCache) TTL() time.Duration { return c.ttl }

// Get returns a live entry for key. Expired entries and store failures read as a miss.
func (c *QueryCache) Get(ctx context.Context, key string) (Value, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.degraded.Add(1)
		c.logger.Warn().Err(err).Str("key", key).Msg("Query cache read failed, bypassing cache")
		return Value{}, false
	}
	if entry == nil || entry.Expired(c.now()) {
		return Value{}, false
	}
	return Value{Answer: entry.Answer, Sources: entry.Sources}, true
}

// GetOrCompute returns the stored value for key or runs fn to produce it.
//
// At most one fn runs per key at a time. Only the caller whose fn ran reports cached=false;
// callers that waited on it report cached=true. A failed fn is never stored and frees the key.
// When the running fn ends because its caller was cancelled, waiters that are still live
// retry and one of them becomes the new leader. A waiter's own cancellation only returns
// that waiter. A value computed across a Clear is returned to its callers but not stored,
// and calls made after a Clear never join a flight that started before it.
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) (Value, bool, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	for handoff := 0; ; handoff++ {
		if v, ok := c.Get(ctx, key); ok {
			c.hits.Add(1)
			return v, true, nil
		}

		gen := c.generation.Load()
		var executed bool
		ch := c.group.DoChan(key+"\x00"+strconv.FormatUint(gen, 10), func() (any, error) {
			executed = true
			// another flight may have stored the key between our read and acquiring it
			if v, ok := c.Get(ctx, key); ok {
				return flightResult{value: v, fromStore: true}, nil
			}
			c.computes.Add(1)
			v, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			c.put(ctx, key, v, ttl, gen)
			return flightResult{value: v}, nil
		})

		select {
		case <-ctx.Done():
			return Value{}, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if !executed && leaderCancelled(res.Err) && ctx.Err() == nil && handoff < maxHandoffs {
					c.logger.Debug().Str("key", key).Int("handoff", handoff+1).Msg("Query cache leader cancelled, retrying")
					continue
				}
				return Value{}, false, res.Err
			}

			fr := res.Val.(flightResult)
			switch {
			case executed && !fr.fromStore:
				c.misses.Add(1)
				return fr.value, false, nil
			case !executed:
				c.coalesced.Add(1)
			}
			c.hits.Add(1)
			return fr.value, true, nil
		}
	}
}

// leaderCancelled reports whether a flight failed because its own caller went away,
// as opposed to an upstream timeout surfaced as a provider error.
func leaderCancelled(err error) bool {
	if core.IsProviderError(err) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// put stores v unless the cache was cleared after gen was observed.
func (c *QueryCache) put(ctx context.Context, key string, v Value, ttl time.Duration, gen uint64) {
	c.clearMu.RLock()
	defer c.clearMu.RUnlock()
	if c.generation.Load() != gen {
		c.logger.Debug().Str("key", key).Msg("Query cache cleared during compute, answer not cached")
		return
	}
	entry := &models.CacheEntry{
		Key:       key,
		Answer:    v.Answer,
		Sources:   v.Sources,
		CreatedAt: c.now(),
		TTL:       ttl,
	}
	if err := c.store.Set(ctx, entry); err != nil {
		c.degraded.Add(1)
		c.logger.Warn().Err(err).Str("key", key).Msg("Query cache write failed, answer not cached")
	}
}

// Clear drops every query entry.
func (c *QueryCache) Clear(ctx context.Context) error {
	c.clearMu.Lock()
	defer c.clearMu.Unlock()
	c.generation.Add(1)
	if err := c.store.DeletePrefix(ctx, KeyPrefix); err != nil {
		return fmt.Errorf("clear query cache: %w", err)
	}
	c.logger.Info().Msg("Query cache cleared")
	return nil
}

// Stats returns a snapshot of the counters.
func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Computes:  c.computes.Load(),
		Coalesced: c.coalesced.Load(),
		Degraded:  c.degraded.Load(),
	}
}

// StartJanitor evicts expired entries every interval until ctx is done.
// It is a no-op for stores that only expire on read.
func (c *QueryCache) StartJanitor(ctx context.Context, interval time.Duration) {
	ev, ok := c.store.(Evictor)
	if !ok || interval <= 0 {
		return
	}
	common.SafeGo(c.logger, "query-cache-janitor", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ev.EvictExpired(ctx, c.now())
				if err != nil {
					c.logger.Warn().Err(err).Msg("Query cache eviction failed")
					continue
				}
				if n > 0 {
					c.logger.Debug().Int("evicted", n).Msg("Query cache evicted expired entries")
				}
			}
		}
	})
}

// Close releases the backing store.
func (c *QueryCache) Close() error {
	return c.store.Close()
}
