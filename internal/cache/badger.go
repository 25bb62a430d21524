package cache

/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dnsdeny/internal/logging"
)

// BadgerConfig tunes the on-disk badger store backing the payload cache.
type BadgerConfig struct {
	Path           string
	MaxMemoryMB    int
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// BadgerStore implements Store on top of badger with a background value-log
// GC loop. Blocklist payloads are large-ish values that churn on every
// refresh, exactly what the value log GC is for.
type BadgerStore struct {
	db     *badger.DB
	config *BadgerConfig
	stopGC chan struct{}
}

// NewBadgerStore opens (or creates) the store at config.Path.
func NewBadgerStore(config *BadgerConfig) (*BadgerStore, error) {
	if config.GCInterval == 0 {
		config.GCInterval = 10 * time.Minute
	}
	if config.GCDiscardRatio == 0 {
		config.GCDiscardRatio = 0.5
	}

	opts := badger.DefaultOptions(config.Path)
	if config.MaxMemoryMB > 0 {
		opts = opts.WithMemTableSize(int64(config.MaxMemoryMB) << 20)
	}
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		config: config,
		stopGC: make(chan struct{}),
	}
	go store.runGC()
	return store, nil
}

// Get returns the cached payload for key, or ErrNotFound.
func (bs *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if item.IsDeletedOrExpired() {
			return badger.ErrKeyNotFound
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set stores a payload under key with an optional TTL.
func (bs *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes a key. Deleting an absent key is not an error.
func (bs *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close stops the GC loop and closes the database.
func (bs *BadgerStore) Close() error {
	close(bs.stopGC)
	return bs.db.Close()
}

func (bs *BadgerStore) runGC() {
	ticker := time.NewTicker(bs.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bs.performGC()
		case <-bs.stopGC:
			return
		}
	}
}

func (bs *BadgerStore) performGC() {
	startTime := time.Now()
	cycles := 0
	for {
		err := bs.db.RunValueLogGC(bs.config.GCDiscardRatio)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				if cycles > 0 {
					logging.Debugf("cache GC completed %d cycles in %v", cycles, time.Since(startTime))
				}
				break
			}
			logging.Warnf("cache GC error after %d cycles: %v", cycles, err)
			break
		}
		cycles++
	}
}
