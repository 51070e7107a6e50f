package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

func populatedGraph(t *testing.T, n, capacity int) (*Graph, []Record) {
	t.Helper()
	r := rand.New(rand.NewSource(int64(n)))
	g := NewGraph(capacity, BuildParams{M: 12, EfConstruction: 100, EfSearch: 40})
	recs := randomRecords(r, "sku", n)
	for _, rec := range recs {
		require.Equal(t, outcomeAdded, g.add(rec))
	}
	return g, recs
}

func TestBlob_RoundTrip(t *testing.T) {
	// Given: a populated graph
	g, recs := populatedGraph(t, 40, 64)

	// When: encoding and decoding with the stored capacity
	data, err := EncodeBlob(g)
	require.NoError(t, err)
	decoded, err := DecodeBlob(data, 0)
	require.NoError(t, err)

	// Then: labels, capacity and params survive and search still works
	assert.Equal(t, g.labels, decoded.labels)
	assert.Equal(t, 64, decoded.Capacity())
	assert.Equal(t, 12, decoded.Params().M)
	assert.Equal(t, 100, decoded.Params().EfConstruction)

	neighbors, _ := decoded.search(recs[9].Vector, 1)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "sku-9", neighbors[0])
}

func TestBlob_DecodeWithRequestedCapacity(t *testing.T) {
	g, _ := populatedGraph(t, 10, 20)
	data, err := EncodeBlob(g)
	require.NoError(t, err)

	decoded, err := DecodeBlob(data, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, decoded.Capacity())

	_, err = DecodeBlob(data, 5)
	assert.ErrorIs(t, err, werrors.ErrCorruptIndex)
}

func TestBlob_DecodeRejectsGarbage(t *testing.T) {
	g, _ := populatedGraph(t, 5, 10)
	good, err := EncodeBlob(g)
	require.NoError(t, err)

	badVersion := append([]byte{}, good...)
	badVersion[4] = 9

	tests := map[string][]byte{
		"empty":       {},
		"bad magic":   []byte("NOPE0000000000"),
		"bad version": badVersion,
		"truncated":   good[:len(good)/2],
		"header only": good[:12],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBlob(data, 0)
			require.Error(t, err)
			assert.Equal(t, werrors.ErrCodeCorruptIndex, werrors.GetCode(err))
		})
	}
}
