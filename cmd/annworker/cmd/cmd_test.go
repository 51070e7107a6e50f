package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/annworker/internal/catalog"
	"github.com/Aman-CERP/annworker/internal/config"
	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/worker"
	"github.com/Aman-CERP/annworker/pkg/version"
)

// isolate points config and storage at temporary directories.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("ANNWORKER_STORAGE_DIR", dataDir)
	projectDir = t.TempDir()
	return dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args, "--dir", projectDir))
	err := root.Execute()
	return buf.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "search", "rebuild", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCmd_Outputs(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "annworker")
	assert.Contains(t, out, "store schema: v1")

	out, err = execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "1", parsed["store_schema"])
	assert.Equal(t, version.Version, parsed["version"])
}

func TestConfigShow_ReflectsEnvironment(t *testing.T) {
	dataDir := isolate(t)
	t.Setenv("ANNWORKER_STORAGE_BACKEND", "pebble")

	out, err := execute(t, "config", "show", "--json")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.BackendPebble, cfg.Storage.Backend)
	assert.Equal(t, dataDir, cfg.Storage.Dir)
}

func TestConfigInit_WritesTemplateOnce(t *testing.T) {
	isolate(t)
	path := config.GetUserConfigPath()

	// Given no user config, when init runs
	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	// Then the template is written
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "embeddings:")

	// When init runs again without --force, the file is kept
	require.NoError(t, os.WriteFile(path, []byte("# edited\n"), 0o644))
	out, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "--force")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# edited\n", string(data))

	// And --force overwrites it
	_, err = execute(t, "config", "init", "--force")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "embeddings:")
}

func TestProfileFlags_WriteFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")

	// Given profile flags on any command
	_, err := execute(t, "version", "--short", "--profile-cpu", cpu, "--profile-mem", mem)
	require.NoError(t, err)

	// Then both profiles are written when the command finishes
	for _, p := range []string{cpu, mem} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
}

func TestServe_RejectsUnknownTransport(t *testing.T) {
	isolate(t)

	_, err := execute(t, "serve", "--transport", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func seedCatalog(t *testing.T, dataDir string, n int) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.Dir = dataDir
	src, err := catalog.Open(cfg.Storage.ResolvedCatalogPath())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	r := rand.New(rand.NewSource(5))
	recs := make([]index.Record, n)
	for i := range recs {
		v := make([]float32, index.Dimension)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		recs[i] = index.Record{ID: fmt.Sprintf("sku-%d", i), Vector: v}
	}
	require.NoError(t, src.Upsert(context.Background(), recs))
}

func TestSearch_RequiresPersistedIndex(t *testing.T) {
	isolate(t)

	_, err := execute(t, "search", "lamp")
	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeNotReady, werrors.GetCode(err))
}

func TestRebuildThenSearch(t *testing.T) {
	// Given: a catalog holding 30 product vectors
	dataDir := isolate(t)
	seedCatalog(t, dataDir, 30)

	// When: rebuilding the index
	out, err := execute(t, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "30 items")

	// Then: a search answers from the persisted index as JSON
	out, err = execute(t, "search", "oak", "dining", "table", "-n", "5")
	require.NoError(t, err)

	var res searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "oak dining table", res.Query)
	assert.Len(t, res.Neighbors, 5)
	assert.Len(t, res.Distances, 5)
}

func TestRebuildThenSearch_CatalogLargerThanDefaultCapacity(t *testing.T) {
	// Given: a default capacity smaller than the catalog
	dataDir := isolate(t)
	t.Setenv("ANNWORKER_INDEX_CAPACITY", "10")
	seedCatalog(t, dataDir, 25)

	// When: rebuilding
	out, err := execute(t, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "25 items")

	// Then: search opens the larger index instead of reporting it missing
	out, err = execute(t, "search", "walnut", "bookshelf", "-n", "20", "--json")
	require.NoError(t, err)

	var res searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Neighbors, 20)
}

func TestRebuild_EmptyCatalogFails(t *testing.T) {
	isolate(t)

	_, err := execute(t, "rebuild")
	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeNoSourceRecords, werrors.GetCode(err))
}

func TestCall_DecodesFailureCode(t *testing.T) {
	isolate(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	rt, err := worker.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	err = call(context.Background(), rt.Dispatcher, "noSuchRequest", nil, nil)
	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeUnknownMessageType, werrors.GetCode(err))
	assert.Equal(t, 1, strings.Count(err.Error(), werrors.ErrCodeUnknownMessageType))
}

func TestPrintSearch_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, printSearch(buf, searchOutput{
		Query: "chair", Model: "all-minilm",
		Neighbors: []string{"sku-1", "sku-2"}, Distances: []float32{0.1, 0.25},
	}))
	assert.Contains(t, buf.String(), "1. sku-1")
	assert.Contains(t, buf.String(), "0.2500")

	buf.Reset()
	require.NoError(t, printSearch(buf, searchOutput{Query: "chair"}))
	assert.Contains(t, buf.String(), "No results")
}
