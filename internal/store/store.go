// Package store wraps the embedded KV database. It exposes three logical
// trees (images, devices, groups) with atomic get/put/delete and an
// asynchronous flush: writes land in the page cache immediately and are
// fsynced by a periodic flusher or an explicit flush request.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/devlink-io/devlink/pkg/log"
)

// Tree names of the catalog namespaces.
const (
	TreeImages  = "images"
	TreeDevices = "devices"
	TreeGroups  = "groups"
)

// FlushInterval is the period of the background fsync tick.
const FlushInterval = 10 * time.Second

var treeNames = []string{TreeImages, TreeDevices, TreeGroups}

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("store: key not found")

// Store is an opened KV database. The handle is safe for concurrent use,
// although by convention only the catalog task writes.
type Store struct {
	db      *bolt.DB
	flushCh chan struct{}
	logger  log.Logger
}

// Open opens (creating if needed) the database at path and ensures the three
// trees exist. Durability is deferred to the flusher: the underlying engine
// runs with NoSync so commits do not block on fsync.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open kv database: %w", err)
	}
	db.NoSync = true

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range treeNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create trees: %w", err)
	}

	return &Store{
		db:      db,
		flushCh: make(chan struct{}, 1),
		logger:  log.WithName("store"),
	}, nil
}

// Tree returns a handle to one of the named trees.
func (s *Store) Tree(name string) *Tree {
	return &Tree{db: s.db, name: []byte(name)}
}

// Flush fsyncs the database file.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// RequestFlush asks the background flusher for an early fsync. It never
// blocks; a pending request is enough.
func (s *Store) RequestFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// RunFlusher fsyncs the database every FlushInterval and whenever a flush
// was requested, until ctx is cancelled. A final flush runs on shutdown.
func (s *Store) RunFlusher(ctx context.Context) error {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.logger.Error(err, "Final flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
		case <-s.flushCh:
		}

		if err := s.Flush(); err != nil {
			s.logger.Error(err, "Periodic flush failed")
		}
	}
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		s.logger.Error(err, "Flush on close failed")
	}
	return s.db.Close()
}

// Tree is one logical namespace of the store.
type Tree struct {
	db   *bolt.DB
	name []byte
}

// Get returns the value stored under key, or ErrNotFound.
func (t *Tree) Get(key string) ([]byte, error) {
	var val []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(t.name).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

// Has reports whether key exists.
func (t *Tree) Has(key string) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put stores value under key, overwriting any previous value.
func (t *Tree) Put(key string, value []byte) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.name).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting an absent key is a no-op.
func (t *Tree) Delete(key string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.name).Delete([]byte(key))
	})
}

// ForEach visits every key/value pair in key order. The callback must not
// retain the slices beyond the call.
func (t *Tree) ForEach(fn func(key string, value []byte) error) error {
	return t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(t.name).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Len returns the number of keys in the tree.
func (t *Tree) Len() (int, error) {
	n := 0
	err := t.ForEach(func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}
