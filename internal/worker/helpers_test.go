package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/annworker/internal/durable"
	"github.com/Aman-CERP/annworker/internal/embed"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/protocol"
	"github.com/Aman-CERP/annworker/internal/vfs"
)

// staticSource is a fixed record source.
type staticSource struct {
	records []index.Record
	err     error
}

func (s staticSource) Records(context.Context) ([]index.Record, error) {
	return s.records, s.err
}

type testWorker struct {
	d       *Dispatcher
	hub     *Hub
	state   *State
	metrics *metrics.Metrics
}

func newTestWorker(t *testing.T, source index.RecordSource) *testWorker {
	t.Helper()
	store, err := durable.Open(context.Background(), "sqlite", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	hub := NewHub(m)
	mgr := index.NewManager(vfs.New(store), index.Options{
		DefaultCapacity: 100,
		ProgressPercent: 25,
		OnProgress:      hub.IndexProgress,
		OnStatus:        hub.Status,
	})
	state := &State{
		Manager: mgr,
		Gateway: embed.NewGateway(embed.StaticLoader, embed.GatewayOptions{}),
		Source:  source,
	}
	return &testWorker{d: NewDispatcher(state, hub, m), hub: hub, state: state, metrics: m}
}

// call handles one request and returns the response.
func (w *testWorker) call(t *testing.T, reqType string, data any) protocol.Envelope {
	t.Helper()
	resp, err := w.d.Call(context.Background(), reqType, data)
	require.NoError(t, err)
	return resp
}

// mustCall handles one request, requires success and decodes the data into out.
func (w *testWorker) mustCall(t *testing.T, reqType string, data any, out any) {
	t.Helper()
	resp := w.call(t, reqType, data)
	require.True(t, resp.Succeeded(), "%s failed: %s", reqType, resp.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

func failureCode(t *testing.T, resp protocol.Envelope) string {
	t.Helper()
	require.NotNil(t, resp.Success)
	require.False(t, *resp.Success)
	var fd protocol.FailureData
	require.NoError(t, json.Unmarshal(resp.Data, &fd))
	return fd.Code
}

func randomPoints(r *rand.Rand, prefix string, n int) []map[string]any {
	points := make([]map[string]any, n)
	for i := range points {
		v := make([]float32, index.Dimension)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		points[i] = map[string]any{"id": fmt.Sprintf("%s-%d", prefix, i), "embedding": v}
	}
	return points
}

func randomRecords(r *rand.Rand, n int) []index.Record {
	recs := make([]index.Record, n)
	for i := range recs {
		v := make([]float32, index.Dimension)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		recs[i] = index.Record{ID: fmt.Sprintf("sku-%d", i), Vector: v}
	}
	return recs
}

// pipeConn is an in-memory Conn. Closing in yields io.EOF.
type pipeConn struct {
	in chan readItem

	mu      sync.Mutex
	written []protocol.Envelope
}

type readItem struct {
	env protocol.Envelope
	err error
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan readItem, 64)}
}

func (c *pipeConn) Read(ctx context.Context) (protocol.Envelope, error) {
	select {
	case item, ok := <-c.in:
		if !ok {
			return protocol.Envelope{}, io.EOF
		}
		return item.env, item.err
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *pipeConn) Write(_ context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	c.written = append(c.written, env)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) responses() map[string]protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]protocol.Envelope)
	for _, env := range c.written {
		if !env.IsEvent() {
			out[env.ID] = env
		}
	}
	return out
}

func (c *pipeConn) all() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.written...)
}
