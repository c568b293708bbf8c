package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"impactweather/internal/types"
)

// BadgerTier is a DurableTier backed by a badger key-value store. Entries
// are JSON-encoded and zstd-compressed; forecast payloads compress well and
// the disk footprint matters more than the marshal cost.
type BadgerTier struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBadgerTier opens (or creates) a badger store at dir. With inMemory set,
// nothing touches disk; used by tests and ephemeral deployments.
func NewBadgerTier(dir string, inMemory bool, logger *slog.Logger) (*BadgerTier, error) {
	opts := badger.DefaultOptions(dir).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "opening cache store", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "creating zstd encoder", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "creating zstd decoder", err)
	}

	return &BadgerTier{db: db, encoder: encoder, decoder: decoder}, nil
}

// Get retrieves and decodes the entry for key. A missing key is not an
// error: it returns (nil, nil).
func (t *BadgerTier) Get(_ context.Context, key string) (*Entry, error) {
	var raw []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "reading cache entry", err)
	}

	decoded, err := t.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "decompressing cache entry", err)
	}

	var entry Entry
	if err := json.Unmarshal(decoded, &entry); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "decoding cache entry", err)
	}
	return &entry, nil
}

// Put encodes, compresses, and stores the entry under key. The badger TTL
// mirrors the entry expiry so stale entries are eventually reclaimed without
// a sweeper.
func (t *BadgerTier) Put(_ context.Context, key string, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "encoding cache entry", err)
	}
	compressed := t.encoder.EncodeAll(encoded, nil)

	err = t.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), compressed)
		// Expiry is checked on read against the entry itself; the badger TTL
		// only reclaims space for entries nobody reads again.
		if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "writing cache entry", err)
	}
	return nil
}

// Close releases the badger store and the zstd codec state.
func (t *BadgerTier) Close() error {
	t.encoder.Close()
	t.decoder.Close()
	if err := t.db.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "closing cache store", err)
	}
	return nil
}
