package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// countingEmbedder counts Embed calls and returns fixed-size vectors.
type countingEmbedder struct {
	dims   int
	calls  atomic.Int32
	closed atomic.Bool
	fail   bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("backend down")
	}
	v := make([]float32, c.dims)
	v[len(text)%c.dims] = 1
	return v, nil
}

func (c *countingEmbedder) Dimensions() int   { return c.dims }
func (c *countingEmbedder) ModelName() string { return "counting" }
func (c *countingEmbedder) Close() error {
	c.closed.Store(true)
	return nil
}

// blockingLoader counts loads and waits for release before returning.
type blockingLoader struct {
	mu      sync.Mutex
	loads   int
	release chan struct{}
	started chan struct{}
	err     error
	dims    int
}

func newBlockingLoader() *blockingLoader {
	return &blockingLoader{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
		dims:    Dimensions,
	}
}

func (b *blockingLoader) load(_ context.Context, model string, progress ProgressFunc) (Embedder, error) {
	b.mu.Lock()
	b.loads++
	err := b.err
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release

	progress.report(LoadProgress{Model: model, Status: "ready", Percent: 100})
	if err != nil {
		return nil, err
	}
	return &countingEmbedder{dims: b.dims}, nil
}

func (b *blockingLoader) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// gatedEmbedder blocks every Embed until release is closed.
type gatedEmbedder struct {
	countingEmbedder
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		countingEmbedder: countingEmbedder{dims: Dimensions},
		entered:          make(chan struct{}, 16),
		release:          make(chan struct{}),
	}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	g.entered <- struct{}{}
	<-g.release
	if g.closed.Load() {
		return nil, errors.New("embedder used after close")
	}
	return g.countingEmbedder.Embed(ctx, text)
}
