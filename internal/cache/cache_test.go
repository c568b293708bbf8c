package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreSetGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(nil, clock, discardLogger())

	s.Set(context.Background(), "k", json.RawMessage(`{"a":1}`), 5*time.Minute)

	got, ok := s.Get(context.Background(), "k")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestStoreExpiryIsLazy(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(nil, clock, discardLogger())

	s.Set(context.Background(), "k", json.RawMessage(`1`), 5*time.Minute)

	clock.Advance(4 * time.Minute)
	_, ok := s.Get(context.Background(), "k")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = s.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestStoreMiss(t *testing.T) {
	s := NewStore(nil, &fakeClock{now: time.Now()}, discardLogger())

	_, ok := s.Get(context.Background(), "absent")
	assert.False(t, ok)
}

type recordingTier struct {
	entries map[string]Entry
	getErr  error
	putErr  error
	puts    int
}

func (f *recordingTier) Get(_ context.Context, key string) (*Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *recordingTier) Put(_ context.Context, key string, entry Entry) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	if f.entries == nil {
		f.entries = make(map[string]Entry)
	}
	f.entries[key] = entry
	return nil
}

func (f *recordingTier) Close() error { return nil }

func TestStoreRehydratesFromDurableTier(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tier := &recordingTier{entries: map[string]Entry{
		"k": {Value: json.RawMessage(`"v"`), ExpiresAt: clock.now.Add(time.Minute)},
	}}
	s := NewStore(tier, clock, discardLogger())

	got, ok := s.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, `"v"`, string(got))

	// The fast tier now holds the entry: clearing the durable tier must not
	// affect subsequent reads.
	tier.entries = nil
	_, ok = s.Get(context.Background(), "k")
	assert.True(t, ok)
}

func TestStoreDurableErrorsAreMisses(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tier := &recordingTier{getErr: assert.AnError, putErr: assert.AnError}
	s := NewStore(tier, clock, discardLogger())

	_, ok := s.Get(context.Background(), "k")
	assert.False(t, ok)

	// A failed durable write is swallowed; the fast tier still serves reads.
	s.Set(context.Background(), "k", json.RawMessage(`2`), time.Minute)
	assert.Equal(t, 1, tier.puts)

	got, ok := s.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, `2`, string(got))
}

func TestStoreExpiredDurableEntryIsMiss(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tier := &recordingTier{entries: map[string]Entry{
		"k": {Value: json.RawMessage(`1`), ExpiresAt: clock.now.Add(-time.Second)},
	}}
	s := NewStore(tier, clock, discardLogger())

	_, ok := s.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestForecastKeyBucketing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	k1 := ForecastKey(52.5219, 13.4132, now)
	k2 := ForecastKey(52.5244, 13.4098, now)
	assert.Equal(t, k1, k2, "coordinates within the same 0.01 degree bucket share a key")

	k3 := ForecastKey(52.53, 13.41, now)
	assert.NotEqual(t, k1, k3)

	sameHour := ForecastKey(52.5219, 13.4132, now.Add(20*time.Minute))
	assert.Equal(t, k1, sameHour, "requests within the same hour share a key")

	nextHour := ForecastKey(52.5219, 13.4132, now.Add(time.Hour))
	assert.NotEqual(t, k1, nextHour)
}

func TestForecastKeyFormat(t *testing.T) {
	now := time.Unix(3600*500_000, 0).UTC()
	assert.Equal(t, "forecast:52.52,13.41:h500000", ForecastKey(52.5219, 13.4132, now))
}
