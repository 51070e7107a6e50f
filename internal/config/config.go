// Package config loads worker configuration from defaults, YAML files and
// ANNWORKER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Transports.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Config represents the complete worker configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// IndexConfig holds HNSW build defaults applied when a request omits them.
type IndexConfig struct {
	// M is the graph fan-out (max neighbors per node per layer).
	M int `yaml:"m" json:"m"`

	// EfConstruction is the build-time search breadth. Recorded with the
	// index; the graph library derives its build breadth from EfSearch.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`

	// EfSearch is the query-time search breadth.
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// DefaultCapacity sizes indexes rebuilt from source records.
	DefaultCapacity int `yaml:"default_capacity" json:"default_capacity"`

	// DefaultFilename is the blob name used when a global request has none.
	DefaultFilename string `yaml:"default_filename" json:"default_filename"`

	// ProgressPercent is the insertion progress event interval (1-100).
	ProgressPercent int `yaml:"progress_percent" json:"progress_percent"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	// Backend is "sqlite" (default) or "pebble".
	Backend string `yaml:"backend" json:"backend"`

	// Dir holds the durable store. Defaults to ~/.annworker/data.
	Dir string `yaml:"dir" json:"dir"`

	// CatalogPath is the SQLite catalog cache providing rebuild records.
	// Defaults to <dir>/catalog.db.
	CatalogPath string `yaml:"catalog_path" json:"catalog_path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (default, offline) or "ollama".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the model requested from the provider.
	Model string `yaml:"model" json:"model"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize is the number of query embeddings kept in the LRU (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the host transport.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Addr      string `yaml:"addr" json:"addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	Metrics   bool   `yaml:"metrics" json:"metrics"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			M:               16,
			EfConstruction:  200,
			EfSearch:        64,
			DefaultCapacity: 10000,
			DefaultFilename: "hnsw_index_global.dat",
			ProgressPercent: 5,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Dir:     defaultDataDir(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "all-minilm",
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Server: ServerConfig{
			Transport: TransportStdio,
			Addr:      "127.0.0.1:7701",
			LogLevel:  "info",
			Metrics:   true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".annworker", "data")
	}
	return filepath.Join(home, ".annworker", "data")
}

// ResolvedCatalogPath returns the catalog database path.
func (s StorageConfig) ResolvedCatalogPath() string {
	if s.CatalogPath != "" {
		return s.CatalogPath
	}
	return filepath.Join(s.Dir, "catalog.db")
}

// GetUserConfigPath returns ~/.config/annworker/config.yaml.
func GetUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "annworker", "config.yaml")
	}
	return filepath.Join(home, ".config", "annworker", "config.yaml")
}

// Load applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/annworker/config.yaml)
//  3. Project config (.annworker.yaml in dir)
//  4. Environment variables (ANNWORKER_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".annworker.yaml", ".annworker.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges non-zero values from a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeInt(&c.Index.M, other.Index.M)
	mergeInt(&c.Index.EfConstruction, other.Index.EfConstruction)
	mergeInt(&c.Index.EfSearch, other.Index.EfSearch)
	mergeInt(&c.Index.DefaultCapacity, other.Index.DefaultCapacity)
	mergeInt(&c.Index.ProgressPercent, other.Index.ProgressPercent)
	mergeString(&c.Index.DefaultFilename, other.Index.DefaultFilename)

	mergeString(&c.Storage.Backend, other.Storage.Backend)
	mergeString(&c.Storage.Dir, other.Storage.Dir)
	mergeString(&c.Storage.CatalogPath, other.Storage.CatalogPath)

	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	mergeString(&c.Server.Transport, other.Server.Transport)
	mergeString(&c.Server.Addr, other.Server.Addr)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	// Metrics is on by default; YAML can only turn it off through the env override.
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyEnvOverrides() {
	envString := map[string]*string{
		"ANNWORKER_STORAGE_BACKEND":  &c.Storage.Backend,
		"ANNWORKER_STORAGE_DIR":      &c.Storage.Dir,
		"ANNWORKER_CATALOG_PATH":     &c.Storage.CatalogPath,
		"ANNWORKER_EMBEDDER":         &c.Embeddings.Provider,
		"ANNWORKER_EMBEDDINGS_MODEL": &c.Embeddings.Model,
		"ANNWORKER_OLLAMA_HOST":      &c.Embeddings.OllamaHost,
		"ANNWORKER_TRANSPORT":        &c.Server.Transport,
		"ANNWORKER_ADDR":             &c.Server.Addr,
		"ANNWORKER_LOG_LEVEL":        &c.Server.LogLevel,
		"ANNWORKER_INDEX_FILENAME":   &c.Index.DefaultFilename,
	}
	for key, dst := range envString {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envInt := map[string]*int{
		"ANNWORKER_INDEX_M":               &c.Index.M,
		"ANNWORKER_INDEX_EF_CONSTRUCTION": &c.Index.EfConstruction,
		"ANNWORKER_INDEX_EF_SEARCH":       &c.Index.EfSearch,
		"ANNWORKER_INDEX_CAPACITY":        &c.Index.DefaultCapacity,
		"ANNWORKER_EMBED_CACHE_SIZE":      &c.Embeddings.CacheSize,
	}
	for key, dst := range envInt {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv("ANNWORKER_METRICS"); v != "" {
		c.Server.Metrics = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Index.M < 2 {
		return fmt.Errorf("index.m must be at least 2, got %d", c.Index.M)
	}
	if c.Index.EfConstruction <= 0 || c.Index.EfSearch <= 0 {
		return fmt.Errorf("index.ef_construction and index.ef_search must be positive")
	}
	if c.Index.DefaultCapacity <= 0 {
		return fmt.Errorf("index.default_capacity must be positive, got %d", c.Index.DefaultCapacity)
	}
	if c.Index.ProgressPercent < 1 || c.Index.ProgressPercent > 100 {
		return fmt.Errorf("index.progress_percent must be between 1 and 100, got %d", c.Index.ProgressPercent)
	}
	if c.Index.DefaultFilename == "" || strings.ContainsAny(c.Index.DefaultFilename, `/\`) {
		return fmt.Errorf("index.default_filename must be a bare file name, got %q", c.Index.DefaultFilename)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case BackendSQLite, BackendPebble:
	default:
		return fmt.Errorf("storage.backend must be 'sqlite' or 'pebble', got %s", c.Storage.Backend)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir must be set")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	switch strings.ToLower(c.Server.Transport) {
	case TransportStdio, TransportWebSocket:
	default:
		return fmt.Errorf("server.transport must be 'stdio' or 'websocket', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
