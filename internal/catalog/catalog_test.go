package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/annworker/internal/index"
)

func openTestSource(t *testing.T) *SQLiteSource {
	t.Helper()
	src, err := Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestEmbeddingEncoding(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSQLiteSource_UpsertAndRecords(t *testing.T) {
	ctx := context.Background()
	src := openTestSource(t)

	// Given: two products, one updated
	require.NoError(t, src.Upsert(ctx, []index.Record{
		{ID: "sku-2", Vector: []float32{2, 2}},
		{ID: "sku-1", Vector: []float32{1, 1}},
	}))
	require.NoError(t, src.Upsert(ctx, []index.Record{{ID: "sku-2", Vector: []float32{9, 9}}}))

	// When
	recs, err := src.Records(ctx)
	require.NoError(t, err)

	// Then: ordered by id with the latest vector
	require.Len(t, recs, 2)
	assert.Equal(t, "sku-1", recs[0].ID)
	assert.Equal(t, "sku-2", recs[1].ID)
	assert.Equal(t, []float32{9, 9}, recs[1].Vector)

	n, err := src.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteSource_SkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	src := openTestSource(t)

	require.NoError(t, src.Upsert(ctx, []index.Record{{ID: "ok", Vector: []float32{1}}}))
	_, err := src.db.ExecContext(ctx,
		`INSERT INTO product_vectors (product_id, embedding, updated_at) VALUES ('bad', x'010203', 0)`)
	require.NoError(t, err)

	recs, err := src.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ok", recs[0].ID)
}

func TestSQLiteSource_EmptyID(t *testing.T) {
	src := openTestSource(t)
	err := src.Upsert(context.Background(), []index.Record{{Vector: []float32{1}}})
	assert.Error(t, err)
}

func TestSQLiteSource_Empty(t *testing.T) {
	recs, err := openTestSource(t).Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}
