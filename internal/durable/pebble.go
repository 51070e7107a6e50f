package durable

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Key prefixes separating file contents from store metadata.
var (
	filePrefix = []byte("f/")
	metaPrefix = []byte("m/")
)

// PebbleStore keeps files in a Pebble LSM.
type PebbleStore struct {
	db *pebble.DB
}

func openPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func prefixed(prefix []byte, key string) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

// Get returns the contents stored under key.
func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := s.get(prefixed(filePrefix, key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, err
}

// Put overwrites key with data, synced to disk.
func (s *PebbleStore) Put(_ context.Context, key string, data []byte) error {
	if err := s.db.Set(prefixed(filePrefix, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PebbleStore) Delete(_ context.Context, key string) error {
	if err := s.db.Delete(prefixed(filePrefix, key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists all file keys in byte order.
func (s *PebbleStore) Keys(_ context.Context) ([]string, error) {
	upper := append(bytes.Clone(filePrefix[:len(filePrefix)-1]), filePrefix[len(filePrefix)-1]+1)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: filePrefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer it.Close()

	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()[len(filePrefix):]))
	}
	return keys, it.Error()
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) getMeta(_ context.Context, key string) (string, bool, error) {
	v, err := s.get(prefixed(metaPrefix, key))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *PebbleStore) putMeta(_ context.Context, key, value string) error {
	return s.db.Set(prefixed(metaPrefix, key), []byte(value), pebble.Sync)
}
