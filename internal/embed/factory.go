package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/annworker/internal/config"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	ProviderStatic ProviderType = "static"
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider parses a provider name, defaulting to static.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	default:
		return ProviderStatic
	}
}

// Loader creates a ready embedder for model, reporting load progress.
type Loader func(ctx context.Context, model string, progress ProgressFunc) (Embedder, error)

// StaticLoader loads the hash embedder regardless of model name.
func StaticLoader(_ context.Context, _ string, progress ProgressFunc) (Embedder, error) {
	progress.report(LoadProgress{Model: "static", Status: "ready", Percent: 100})
	return NewStaticEmbedder(), nil
}

// OllamaLoader returns a loader that connects to host and pulls missing models.
func OllamaLoader(host string) Loader {
	return func(ctx context.Context, model string, progress ProgressFunc) (Embedder, error) {
		return NewOllamaEmbedder(ctx, OllamaConfig{Host: host, Model: model, Pull: true}, progress)
	}
}

// NewLoader returns the loader for the configured provider.
func NewLoader(cfg config.EmbeddingsConfig) (Loader, error) {
	switch ParseProvider(cfg.Provider) {
	case ProviderOllama:
		return OllamaLoader(cfg.OllamaHost), nil
	case ProviderStatic:
		return StaticLoader, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewGatewayFromConfig builds a gateway for the configured provider.
func NewGatewayFromConfig(cfg config.EmbeddingsConfig) (*Gateway, error) {
	loader, err := NewLoader(cfg)
	if err != nil {
		return nil, err
	}
	return NewGateway(loader, GatewayOptions{
		DefaultModel: cfg.Model,
		CacheSize:    cfg.CacheSize,
	}), nil
}
