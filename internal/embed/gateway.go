package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	DefaultModel string
	Dimensions   int
	CacheSize    int
}

// Gateway holds at most one loaded model. Concurrent loads of the same
// model share a single in-flight attempt; a failed load is retried by the
// next caller. A replaced model is closed once its last Embed returns.
type Gateway struct {
	loader Loader
	opts   GatewayOptions
	group  singleflight.Group

	mu      sync.Mutex
	current *loadedModel
}

// loadedModel is guarded by Gateway.mu.
type loadedModel struct {
	name     string
	embedder *CachedEmbedder
	refs     int
	retired  bool
}

// NewGateway creates a gateway that loads models with loader.
func NewGateway(loader Loader, opts GatewayOptions) *Gateway {
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = Dimensions
	}
	return &Gateway{loader: loader, opts: opts}
}

// LoadResult reports the loaded model.
type LoadResult struct {
	Model         string `json:"model"`
	Dimensions    int    `json:"dimensions"`
	AlreadyLoaded bool   `json:"alreadyLoaded"`
}

// Load makes model (or the default model) current.
func (g *Gateway) Load(ctx context.Context, model string, progress ProgressFunc) (LoadResult, error) {
	if model == "" {
		model = g.opts.DefaultModel
	}

	g.mu.Lock()
	if lm := g.current; lm != nil && lm.name == model {
		res := LoadResult{Model: model, Dimensions: lm.embedder.Dimensions(), AlreadyLoaded: true}
		g.mu.Unlock()
		return res, nil
	}
	g.mu.Unlock()

	// The load outlives any one caller; waiters share its result.
	loadCtx := context.WithoutCancel(ctx)
	v, err, shared := g.group.Do(model, func() (any, error) {
		return g.load(loadCtx, model, progress)
	})
	if err != nil {
		return LoadResult{}, err
	}
	res := v.(LoadResult)
	if shared {
		slog.Debug("model_load_shared", slog.String("model", model))
	}
	return res, nil
}

func (g *Gateway) load(ctx context.Context, model string, progress ProgressFunc) (LoadResult, error) {
	slog.Info("model_load_started", slog.String("model", model))

	inner, err := g.loader(ctx, model, progress)
	if err != nil {
		slog.Warn("model_load_failed", slog.String("model", model), slog.String("error", err.Error()))
		return LoadResult{}, werrors.ModelUnavailable(fmt.Sprintf("failed to load model %s", model), err)
	}
	if inner.Dimensions() != g.opts.Dimensions {
		dims := inner.Dimensions()
		_ = inner.Close()
		return LoadResult{}, werrors.ModelUnavailable(
			fmt.Sprintf("model %s produces %d dimensions, expected %d", model, dims, g.opts.Dimensions), nil)
	}

	cached := NewCachedEmbedder(inner, g.opts.CacheSize)

	g.mu.Lock()
	prev := g.current
	g.current = &loadedModel{name: model, embedder: cached}
	g.mu.Unlock()

	_ = g.retire(prev)

	slog.Info("model_loaded", slog.String("model", model), slog.Int("dimensions", inner.Dimensions()))
	return LoadResult{Model: model, Dimensions: inner.Dimensions()}, nil
}

// Embed returns the embedding of text, loading the default model first if
// none is loaded.
func (g *Gateway) Embed(ctx context.Context, text string, progress ProgressFunc) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, werrors.InvalidArgument("query text is empty")
	}

	lm := g.acquire()
	if lm == nil {
		if _, err := g.Load(ctx, "", progress); err != nil {
			return nil, err
		}
		if lm = g.acquire(); lm == nil {
			return nil, werrors.ModelUnavailable("model was unloaded during embedding", nil)
		}
	}
	defer g.release(lm)

	vec, err := lm.embedder.Embed(ctx, text)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}
	if len(vec) != g.opts.Dimensions {
		return nil, werrors.ModelUnavailable(
			fmt.Sprintf("model returned %d dimensions, expected %d", len(vec), g.opts.Dimensions), nil)
	}
	return vec, nil
}

// Loaded returns the current model name, or "" if none is loaded.
func (g *Gateway) Loaded() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ""
	}
	return g.current.name
}

// Close releases the loaded model. An Embed still running keeps it open
// until it returns.
func (g *Gateway) Close() error {
	g.mu.Lock()
	lm := g.current
	g.current = nil
	g.mu.Unlock()
	return g.retire(lm)
}

func (g *Gateway) acquire() *loadedModel {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		g.current.refs++
	}
	return g.current
}

func (g *Gateway) release(lm *loadedModel) {
	g.mu.Lock()
	lm.refs--
	closeNow := lm.retired && lm.refs == 0
	g.mu.Unlock()
	if closeNow {
		g.closeModel(lm)
	}
}

// retire marks lm replaced and closes it if no Embed holds it.
func (g *Gateway) retire(lm *loadedModel) error {
	if lm == nil {
		return nil
	}
	g.mu.Lock()
	lm.retired = true
	closeNow := lm.refs == 0
	g.mu.Unlock()
	if !closeNow {
		return nil
	}
	return g.closeModel(lm)
}

func (g *Gateway) closeModel(lm *loadedModel) error {
	err := lm.embedder.Close()
	if err != nil {
		slog.Warn("model_close_failed", slog.String("model", lm.name), slog.String("error", err.Error()))
	}
	return err
}
