// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package checkpoint persists closed-but-unflushed window aggregates to
// BadgerDB so a restart never loses a window that was closed but not yet
// durably committed. The reconciler saves a checkpoint when a window closes
// and deletes it once the durable store acknowledges the commit; startup
// loads whatever remains and hands it back to the aggregator.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/vidpulse/vidpulse/internal/aggregator"
)

// keyPrefix namespaces checkpoint entries inside the shared Badger instance.
const keyPrefix = "ckpt:window:"

// Store persists closed window aggregates across restarts.
type Store interface {
	Save(ctx context.Context, w *aggregator.WindowAggregate) error
	Delete(ctx context.Context, key aggregator.WindowKey) error
	LoadAll(ctx context.Context) ([]*aggregator.WindowAggregate, error)
}

// BadgerStore implements Store on a BadgerDB instance.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a checkpoint store on an already-open Badger DB.
// The store does not own the DB; the caller closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Open opens a BadgerDB at path with logging suppressed. An empty path
// selects an in-memory instance.
func Open(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger checkpoint db: %w", err)
	}
	return db, nil
}

func makeKey(key aggregator.WindowKey) []byte {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(key.VideoID)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(key.Start, 10))
	return []byte(b.String())
}

// Save writes one window aggregate, overwriting any previous checkpoint for
// the same window. Saving the full accumulated state keeps the checkpoint
// idempotent: re-saving after a late fold simply replaces the snapshot.
func (s *BadgerStore) Save(_ context.Context, w *aggregator.WindowAggregate) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal window checkpoint: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(w.Key()), data)
	})
}

// Delete removes a window's checkpoint after its durable commit was
// acknowledged. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(_ context.Context, key aggregator.WindowKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(makeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// LoadAll returns every checkpointed window. Entries that fail to decode are
// skipped rather than failing the whole recovery.
func (s *BadgerStore) LoadAll(ctx context.Context) ([]*aggregator.WindowAggregate, error) {
	var out []*aggregator.WindowAggregate

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := it.Item().Value(func(val []byte) error {
				var w aggregator.WindowAggregate
				if err := json.Unmarshal(val, &w); err != nil {
					return nil // skip corrupt entry
				}
				out = append(out, &w)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load window checkpoints: %w", err)
	}
	return out, nil
}
