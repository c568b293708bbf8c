// Package cache implements the two-tier forecast cache: a fast in-process
// map in front of a durable on-disk tier. Reads prefer the fast tier, fall
// back to the durable tier (rehydrating the fast tier on a hit), and treat
// any durable-tier failure as a miss. Writes go to both tiers; a durable
// write failure is logged and swallowed, never surfaced to the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"impactweather/internal/types"
)

// Entry is the stored representation of a cached value. Expiry is absolute,
// checked lazily on read; no background sweeper exists.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Fresh reports whether the entry is still usable at the given instant.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// DurableTier is the persistence backend behind the in-process map. Get
// returns (nil, nil) on a missing key.
type DurableTier interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry Entry) error
	Close() error
}

// Store is the two-tier cache. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	fast    map[string]Entry
	durable DurableTier
	clock   types.Clock
	logger  *slog.Logger
}

// NewStore creates a Store over the given durable tier. The tier may be nil,
// in which case the store degrades to a single in-process tier.
func NewStore(durable DurableTier, clock types.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fast:    make(map[string]Entry),
		durable: durable,
		clock:   clock,
		logger:  logger,
	}
}

// Get returns the cached value for key, or (nil, false) on a miss. Expired
// entries are treated as misses and evicted from the fast tier. A durable
// tier hit rehydrates the fast tier.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	entry, ok := s.fast[key]
	s.mu.RUnlock()

	if ok {
		if entry.Fresh(now) {
			return entry.Value, true
		}
		s.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed
		// the entry.
		if cur, still := s.fast[key]; still && !cur.Fresh(now) {
			delete(s.fast, key)
		}
		s.mu.Unlock()
	}

	if s.durable == nil {
		return nil, false
	}

	durableEntry, err := s.durable.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "durable cache read failed", "key", key, "error", err)
		return nil, false
	}
	if durableEntry == nil || !durableEntry.Fresh(now) {
		return nil, false
	}

	s.mu.Lock()
	s.fast[key] = *durableEntry
	s.mu.Unlock()

	return durableEntry.Value, true
}

// Set stores value under key with the given TTL. The fast tier is updated
// first so readers in this process see the value even if the durable write
// fails.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	entry := Entry{
		Value:     value,
		ExpiresAt: s.clock.Now().Add(ttl),
	}

	s.mu.Lock()
	s.fast[key] = entry
	s.mu.Unlock()

	if s.durable == nil {
		return
	}
	if err := s.durable.Put(ctx, key, entry); err != nil {
		s.logger.WarnContext(ctx, "durable cache write failed", "key", key, "error", err)
	}
}

// ForecastKey derives the cache key for a forecast request. Coordinates are
// bucketed to 0.01 degrees and the time to the current UTC hour, so nearby
// requests within the same hour share one entry.
func ForecastKey(lat, lon float64, now time.Time) string {
	return fmt.Sprintf("forecast:%.2f,%.2f:h%d", lat, lon, now.Unix()/3600)
}
