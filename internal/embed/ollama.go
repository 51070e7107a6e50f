package embed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// Ollama API defaults.
const (
	DefaultOllamaHost = "http://localhost:11434"

	// OllamaRequestTimeout bounds a single embed request.
	OllamaRequestTimeout = 60 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Pull downloads the model when the server does not have it.
	Pull bool

	Timeout time.Duration
	Retry   werrors.RetryConfig
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaPullStatus struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// statusError is an HTTP error response; 5xx responses are retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// OllamaEmbedder generates embeddings with Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, makes sure the model is present
// (pulling it if allowed) and detects its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, progress ProgressFunc) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = OllamaRequestTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = werrors.DefaultRetryConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
	}

	progress.report(LoadProgress{Model: cfg.Model, Status: "connecting"})

	name, found, err := e.findModel(ctx)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	if !found {
		if !cfg.Pull {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("model %s is not installed in Ollama", cfg.Model)
		}
		if err := e.pull(ctx, progress); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to pull model %s: %w", cfg.Model, err)
		}
		name = cfg.Model
	}
	e.modelName = name

	vecs, err := e.embed(ctx, "dimension detection")
	if err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
	}
	e.dims = len(vecs)

	progress.report(LoadProgress{Model: name, Status: "ready", Percent: 100})
	slog.Info("ollama_model_ready", slog.String("model", name), slog.Int("dimensions", e.dims))
	return e, nil
}

// findModel looks the configured model up by full name, then by base name.
func (e *OllamaEmbedder) findModel(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var list ollamaModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range list.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return m.Name, true, nil
		}
	}
	return "", false, nil
}

// pull streams /api/pull status lines into progress events.
func (e *OllamaEmbedder) pull(ctx context.Context, progress ProgressFunc) error {
	body, err := json.Marshal(ollamaPullRequest{Model: e.config.Model, Stream: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return &statusError{code: resp.StatusCode, body: string(b)}
	}

	scanner := bufio.NewScanner(resp.Body)
	last := ""
	for scanner.Scan() {
		var st ollamaPullStatus
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			continue
		}
		if st.Error != "" {
			return fmt.Errorf("pull failed: %s", st.Error)
		}
		last = st.Status
		p := LoadProgress{Model: e.config.Model, Status: st.Status, Completed: st.Completed, Total: st.Total}
		if st.Total > 0 {
			p.Percent = int(st.Completed * 100 / st.Total)
		}
		progress.report(p)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last != "success" {
		return fmt.Errorf("pull ended with status %q", last)
	}
	return nil
}

// Embed returns the unit-length embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	return e.embed(ctx, text)
}

// embed calls /api/embed, retrying transport errors and 5xx responses.
func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	return werrors.RetryWithResult(ctx, e.config.Retry, func() ([]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vec, err := e.doEmbed(reqCtx, text)
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return nil, werrors.Permanent(err)
		}
		return vec, err
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &statusError{code: resp.StatusCode, body: string(b)}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	vec := make([]float32, len(result.Embeddings[0]))
	for i, v := range result.Embeddings[0] {
		vec[i] = float32(v)
	}
	return normalizeVector(vec), nil
}

// Dimensions returns the detected embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
