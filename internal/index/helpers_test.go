package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/annworker/internal/durable"
	"github.com/Aman-CERP/annworker/internal/vfs"
)

// eventLog collects progress and status events.
type eventLog struct {
	mu       sync.Mutex
	progress []Progress
	status   []Status
}

func (l *eventLog) onProgress(p Progress) {
	l.mu.Lock()
	l.progress = append(l.progress, p)
	l.mu.Unlock()
}

func (l *eventLog) onStatus(s Status) {
	l.mu.Lock()
	l.status = append(l.status, s)
	l.mu.Unlock()
}

func openStore(t *testing.T, dir string) durable.Store {
	t.Helper()
	store, err := durable.Open(context.Background(), "sqlite", dir)
	require.NoError(t, err)
	return store
}

// newTestManager returns a manager with its engine loaded over a fresh store.
func newTestManager(t *testing.T) (*Manager, *vfs.FS, *eventLog) {
	t.Helper()
	store := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	return newManagerOn(t, store)
}

func newManagerOn(t *testing.T, store durable.Store) (*Manager, *vfs.FS, *eventLog) {
	t.Helper()
	fs := vfs.New(store)
	events := &eventLog{}
	m := NewManager(fs, Options{
		DefaultCapacity: 100,
		OnProgress:      events.onProgress,
		OnStatus:        events.onStatus,
	})
	_, err := m.LoadEngine(context.Background())
	require.NoError(t, err)
	return m, fs, events
}

func randomVector(r *rand.Rand) []float32 {
	v := make([]float32, Dimension)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func randomRecords(r *rand.Rand, prefix string, n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{ID: fmt.Sprintf("%s-%d", prefix, i), Vector: randomVector(r)}
	}
	return recs
}

func initGlobal(t *testing.T, m *Manager, capacity int, force bool) InitResult {
	t.Helper()
	res, err := m.Initialize(context.Background(), InitOptions{
		Name:         ContextGlobal,
		Capacity:     capacity,
		ForceRebuild: force,
		Persist:      true,
	})
	require.NoError(t, err)
	return res
}

// labels exposes the label map of the current context generation.
func labels(m *Manager, name string) []string {
	ic := m.current(name)
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	out := make([]string, len(ic.graph.labels))
	copy(out, ic.graph.labels)
	return out
}

var errInjected = errors.New("injected store failure")

// faultStore wraps a store with switchable failures and a gate on Keys.
type faultStore struct {
	durable.Store

	mu       sync.Mutex
	failPuts int
	failKeys int
	gate     *keysGate
}

// keysGate parks the next Keys call until release is closed.
type keysGate struct {
	entered chan struct{}
	release chan struct{}
}

func (s *faultStore) failNextPuts(n int) {
	s.mu.Lock()
	s.failPuts = n
	s.mu.Unlock()
}

func (s *faultStore) failNextKeys(n int) {
	s.mu.Lock()
	s.failKeys = n
	s.mu.Unlock()
}

func (s *faultStore) gateNextKeys() *keysGate {
	g := &keysGate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gate = g
	s.mu.Unlock()
	return g
}

func (s *faultStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	fail := s.failPuts > 0
	if fail {
		s.failPuts--
	}
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.Put(ctx, key, data)
}

func (s *faultStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	fail := s.failKeys > 0
	if fail {
		s.failKeys--
	}
	g := s.gate
	s.gate = nil
	s.mu.Unlock()

	if g != nil {
		close(g.entered)
		<-g.release
	}
	if fail {
		return nil, errInjected
	}
	return s.Store.Keys(ctx)
}

// newFaultManager returns a loaded manager over a fault-injecting store.
func newFaultManager(t *testing.T) (*Manager, *vfs.FS, *faultStore) {
	t.Helper()
	store := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	fstore := &faultStore{Store: store}
	m, fs, _ := newManagerOn(t, fstore)
	return m, fs, fstore
}
