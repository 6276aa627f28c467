// Package cached decorates a PersistenceAdapter with a query-result
// cache. It is a one-way decorator, not a cyclic reference back into
// Memory Store, per the re-architecture guidance in SPEC_FULL.md §9.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/danja/semem/types"
)

// inner is the minimal surface cached.Store needs from the wrapped
// adapter; satisfied by memory.PersistenceAdapter (kept as a local
// interface to avoid importing the memory package here, which would
// create memory -> cached -> memory import cycle risk).
type inner interface {
	LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error)
	Append(ctx context.Context, interaction *types.Interaction) error
	Update(ctx context.Context, interaction *types.Interaction) error
	Query(ctx context.Context, predicate string) ([]byte, error)
	Flush(ctx context.Context) error
	Close() error
}

// Store wraps an inner adapter (normally the SPARQL backend) with a
// query-result cache backed by ristretto, bounded by entry count
// (cfg.MaxSize, each entry costing 1) and by a per-entry TTL. Which entry
// is dropped at capacity is decided by ristretto's own admission and
// eviction policy; entries are not evicted in least-recently-used order.
type Store struct {
	inner    inner
	endpoint string
	cfg      types.CacheConfig

	cache *ristretto.Cache

	mu   sync.Mutex // orders Clear() against concurrent Get() during invalidation
	done chan struct{}
}

// New wraps inner with a cache sized per cfg.
func New(inner inner, endpoint string, cfg types.CacheConfig) (*Store, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 3600
	}
	if cfg.CleanupIntervalSeconds <= 0 {
		cfg.CleanupIntervalSeconds = 300
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.MaxSize) * 10,
		MaxCost:     int64(cfg.MaxSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, types.Wrap(types.StorageUnavailable, "create query result cache", err)
	}

	s := &Store{
		inner:    inner,
		endpoint: endpoint,
		cfg:      cfg,
		cache:    c,
		done:     make(chan struct{}),
	}
	go s.sweepLoop(endpoint)
	return s, nil
}

func (s *Store) sweepLoop(endpoint string) {
	ticker := time.NewTicker(time.Duration(s.cfg.CleanupIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.cache.Wait() // blocks until ristretto's buffered writes are applied; removes no entries itself
			s.mu.Unlock()
			log.Printf("[CACHE] swept expired query results for %s", endpoint)
		case <-s.done:
			return
		}
	}
}

// LoadAll is not cached: it is only ever called once, at Init.
func (s *Store) LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error) {
	return s.inner.LoadAll(ctx)
}

// Append delegates, then invalidates every cached query result once the
// inner append has succeeded.
func (s *Store) Append(ctx context.Context, interaction *types.Interaction) error {
	if err := s.inner.Append(ctx, interaction); err != nil {
		return err
	}
	s.invalidateAll()
	return nil
}

// Update delegates, then invalidates every cached query result once the
// inner update has succeeded.
func (s *Store) Update(ctx context.Context, interaction *types.Interaction) error {
	if err := s.inner.Update(ctx, interaction); err != nil {
		return err
	}
	s.invalidateAll()
	return nil
}

// Query answers from the cache when the exact predicate was seen within
// TTL; otherwise it queries the inner adapter and caches the result.
func (s *Store) Query(ctx context.Context, predicate string) ([]byte, error) {
	key := cacheKey(s.endpoint, predicate)

	s.mu.Lock()
	if v, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return v.([]byte), nil
	}
	s.mu.Unlock()

	result, err := s.inner.Query(ctx, predicate)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.SetWithTTL(key, result, 1, time.Duration(s.cfg.TTLSeconds)*time.Second)
	s.cache.Wait() // ristretto's Set is async; wait so the entry is visible to the very next Get
	s.mu.Unlock()
	return result, nil
}

// Flush delegates; the cache itself has nothing durable to flush.
func (s *Store) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

// Close stops the sweeper and releases the cache before delegating.
func (s *Store) Close() error {
	close(s.done)
	s.cache.Close()
	return s.inner.Close()
}

func (s *Store) invalidateAll() {
	s.mu.Lock()
	s.cache.Clear()
	s.mu.Unlock()
}

// cacheKey hashes (endpoint URL, exact query text) per spec §4.3.3.
func cacheKey(endpoint, queryText string) string {
	sum := sha256.Sum256([]byte(endpoint + "\x00" + queryText))
	return hex.EncodeToString(sum[:])
}
