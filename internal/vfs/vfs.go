// Package vfs is the in-memory file view the index engine reads and writes.
// Nothing it holds is durable until SyncToDurable is called, and durable
// contents are only visible after SyncFromDurable.
package vfs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/Aman-CERP/annworker/internal/durable"
	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// FS is a flat, name-keyed in-memory filesystem mirrored to a durable store.
type FS struct {
	mu    sync.RWMutex
	files map[string][]byte

	// syncMu orders whole sync passes against each other.
	syncMu sync.Mutex
	store  durable.Store
}

// New returns an empty filesystem backed by store.
func New(store durable.Store) *FS {
	return &FS{
		files: make(map[string][]byte),
		store: store,
	}
}

// WriteFile replaces name with a copy of data.
func (f *FS) WriteFile(name string, data []byte) error {
	if name == "" {
		return werrors.InvalidArgument("file name is empty")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	f.mu.Lock()
	f.files[name] = buf
	f.mu.Unlock()
	return nil
}

// ReadFile returns a copy of name's contents, or os.ErrNotExist.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	data, ok := f.files[name]
	f.mu.RUnlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists reports whether name is present in memory.
func (f *FS) Exists(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.files[name]
	return ok
}

// Remove deletes name from memory. The durable copy goes on the next flush.
func (f *FS) Remove(name string) {
	f.mu.Lock()
	delete(f.files, name)
	f.mu.Unlock()
}

// List returns all file names, sorted.
func (f *FS) List() []string {
	f.mu.RLock()
	names := make([]string, 0, len(f.files))
	for n := range f.files {
		names = append(names, n)
	}
	f.mu.RUnlock()
	sort.Strings(names)
	return names
}

// SyncFromDurable replaces the in-memory view with the durable contents.
func (f *FS) SyncFromDurable(ctx context.Context) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	keys, err := f.store.Keys(ctx)
	if err != nil {
		return werrors.PersistenceFailure("failed to list durable files", err)
	}

	loaded := make(map[string][]byte, len(keys))
	for _, k := range keys {
		data, err := f.store.Get(ctx, k)
		if err != nil {
			return werrors.PersistenceFailure("failed to read durable file "+k, err)
		}
		loaded[k] = data
	}

	f.mu.Lock()
	f.files = loaded
	f.mu.Unlock()

	slog.Debug("vfs_synced_from_durable", slog.Int("files", len(loaded)))
	return nil
}

// SyncToDurable writes every in-memory file to the durable store and
// removes durable files no longer present in memory.
func (f *FS) SyncToDurable(ctx context.Context) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()
	return f.flushLocked(ctx)
}

// WriteAndSync writes name and flushes to durable storage as one sync pass,
// so a concurrent SyncFromDurable cannot drop the write before it is flushed.
// On a flush error the file stays in memory, ahead of durable storage.
func (f *FS) WriteAndSync(ctx context.Context, name string, data []byte) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	if err := f.WriteFile(name, data); err != nil {
		return err
	}
	return f.flushLocked(ctx)
}

// flushLocked requires syncMu.
func (f *FS) flushLocked(ctx context.Context) error {
	f.mu.RLock()
	snapshot := make(map[string][]byte, len(f.files))
	for k, v := range f.files {
		snapshot[k] = v
	}
	f.mu.RUnlock()

	for name, data := range snapshot {
		if err := f.store.Put(ctx, name, data); err != nil {
			return werrors.PersistenceFailure("failed to flush "+name, err)
		}
	}

	keys, err := f.store.Keys(ctx)
	if err != nil {
		return werrors.PersistenceFailure("failed to list durable files", err)
	}
	for _, k := range keys {
		if _, ok := snapshot[k]; ok {
			continue
		}
		if err := f.store.Delete(ctx, k); err != nil {
			return werrors.PersistenceFailure("failed to remove durable file "+k, err)
		}
	}

	slog.Debug("vfs_synced_to_durable", slog.Int("files", len(snapshot)))
	return nil
}

// ReadDurable reads name straight from the durable store, bypassing memory.
func (f *FS) ReadDurable(ctx context.Context, name string) ([]byte, error) {
	data, err := f.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, durable.ErrNotFound) {
			return nil, werrors.New(werrors.ErrCodeBlobNotFound, "no durable file named "+name, err)
		}
		return nil, werrors.PersistenceFailure("failed to read durable file "+name, err)
	}
	return data, nil
}
