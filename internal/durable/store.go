// Package durable is the persistent key-value tier behind the virtual
// filesystem. Keys are file names, values are whole file contents.
package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/pkg/version"
)

// SchemaVersion is the layout version written into every store.
// Stores carrying any other version are refused rather than guessed at.
const SchemaVersion = version.StoreSchema

const (
	metaSchemaVersion = "schema_version"
	lockFileName      = ".annworker.lock"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("durable: key not found")

// Store is an overwrite-by-key blob store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// metaStore is implemented by backends to hold store-level metadata
// separately from file keys.
type metaStore interface {
	getMeta(ctx context.Context, key string) (string, bool, error)
	putMeta(ctx context.Context, key, value string) error
}

// Open opens the backend in dir, takes an exclusive process lock on the
// directory and verifies the schema version.
func Open(ctx context.Context, backend, dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, werrors.PersistenceFailure("failed to create store directory", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, werrors.PersistenceFailure("failed to lock store directory", err)
	}
	if !locked {
		return nil, werrors.New(werrors.ErrCodeStoreLocked,
			fmt.Sprintf("durable store %s is in use by another worker", dir), nil)
	}

	var inner interface {
		Store
		metaStore
	}
	switch strings.ToLower(backend) {
	case "", "sqlite":
		inner, err = openSQLite(filepath.Join(dir, "store.db"))
	case "pebble":
		inner, err = openPebble(filepath.Join(dir, "pebble"))
	default:
		err = fmt.Errorf("unknown durable backend %q", backend)
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, werrors.PersistenceFailure("failed to open durable store", err)
	}

	if err := ensureSchema(ctx, inner); err != nil {
		_ = inner.Close()
		_ = lock.Unlock()
		return nil, err
	}

	slog.Debug("durable_store_opened",
		slog.String("backend", backend),
		slog.String("dir", dir))

	return &lockedStore{Store: inner, lock: lock}, nil
}

func ensureSchema(ctx context.Context, m metaStore) error {
	v, ok, err := m.getMeta(ctx, metaSchemaVersion)
	if err != nil {
		return werrors.PersistenceFailure("failed to read schema version", err)
	}
	if !ok {
		if err := m.putMeta(ctx, metaSchemaVersion, SchemaVersion); err != nil {
			return werrors.PersistenceFailure("failed to write schema version", err)
		}
		return nil
	}
	if v != SchemaVersion {
		return werrors.New(werrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("durable store schema version %q, expected %q", v, SchemaVersion), nil).
			WithSuggestion("remove the store directory or migrate it")
	}
	return nil
}

// lockedStore releases the directory lock after closing the backend.
type lockedStore struct {
	Store
	lock *flock.Flock
}

func (s *lockedStore) Close() error {
	err := s.Store.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
