// Package cache is a badger-backed key/value store for HTTP responses,
// album artwork and track thumbnails.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes. Each kind of entry lives under its own prefix so it can be
// listed or dropped independently.
const (
	prefixHTTP      = "http:"
	prefixArtwork   = "artwork:"
	prefixThumbnail = "thumb:"
)

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.CompactL0OnClose = true
	return open(opts)
}

// OpenInMemory opens a store that is never written to disk.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key. Expired entries are not returned.
func (s *Store) Get(key string) ([]byte, bool) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores data under key. A zero ttl keeps the entry until deleted.
func (s *Store) Set(key string, data []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys lists the keys under prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// PurgeHTTP drops every cached HTTP response.
func (s *Store) PurgeHTTP() error {
	return s.db.DropPrefix([]byte(prefixHTTP))
}

// HTTPKey is the key of a cached response body for url.
func HTTPKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return prefixHTTP + hex.EncodeToString(sum[:])
}

// ArtworkKey is the key of an album's cached artwork.
func ArtworkKey(album string) string {
	return prefixArtwork + strings.ToLower(strings.TrimSpace(album))
}

// ThumbnailKey is the key of a track's cached thumbnail.
func ThumbnailKey(trackID int64) string {
	return prefixThumbnail + strconv.FormatInt(trackID, 10)
}
