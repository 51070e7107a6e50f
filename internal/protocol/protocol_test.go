package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_InitIndex(t *testing.T) {
	// Given: an init request for the temporary context
	env := Envelope{
		ID:   "r1",
		Type: TypeInitIndex,
		Data: json.RawMessage(`{"maxElements":1000,"M":16,"efConstruction":200,"efSearch":50,
			"forceRebuild":true,"indexContext":"temporary","operationId":"op-7"}`),
	}

	// When: decoding
	req, err := Decode(env)
	require.NoError(t, err)

	// Then: every field arrives
	init, ok := req.(*InitIndex)
	require.True(t, ok)
	assert.Equal(t, 1000, init.MaxElements)
	assert.Equal(t, 16, init.M)
	assert.Equal(t, 200, init.EfConstruction)
	assert.Equal(t, 50, init.EfSearch)
	assert.True(t, init.ForceRebuild)
	assert.False(t, init.PersistIndex)
	assert.Equal(t, "temporary", init.IndexContext)
	assert.Equal(t, "op-7", init.OperationID)
	assert.Equal(t, TypeInitIndex, req.RequestType())
}

func TestDecode_AddPointsAcceptsStringAndNumberIDs(t *testing.T) {
	env := Envelope{
		ID:   "r2",
		Type: TypeAddPoints,
		Data: json.RawMessage(`{"indexContext":"global","points":[
			{"id":"sku-1","embedding":[0.1,0.2]},
			{"id":42,"embedding":[0.3]},
			{"id":1.5,"embedding":[0.4]}]}`),
	}

	req, err := Decode(env)
	require.NoError(t, err)

	add := req.(*AddPoints)
	require.Len(t, add.Points, 3)
	assert.Equal(t, PointID("sku-1"), add.Points[0].ID)
	assert.Equal(t, PointID("42"), add.Points[1].ID)
	assert.Equal(t, PointID("1.5"), add.Points[2].ID)
	assert.Equal(t, []float32{0.1, 0.2}, add.Points[0].Embedding)
}

func TestDecode_NullPointIDRejected(t *testing.T) {
	env := Envelope{
		ID:   "r3",
		Type: TypeAddPoints,
		Data: json.RawMessage(`{"points":[{"id":null,"embedding":[0.1]}]}`),
	}

	_, err := Decode(env)
	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeInvalidArgument, werrors.GetCode(err))
}

func TestDecode_EmptyDataUsesZeroValues(t *testing.T) {
	for _, typ := range KnownTypes {
		t.Run(typ, func(t *testing.T) {
			req, err := Decode(Envelope{ID: "x", Type: typ})
			require.NoError(t, err)
			assert.Equal(t, typ, req.RequestType())

			req, err = Decode(Envelope{ID: "x", Type: typ, Data: json.RawMessage("null")})
			require.NoError(t, err)
			assert.Equal(t, typ, req.RequestType())
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	req, err := Decode(Envelope{ID: "r4", Type: "compactIndex"})
	require.NoError(t, err)

	u, ok := req.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, "compactIndex", u.RequestType())
}

func TestDecode_WrongFieldTypeIsInvalidArgument(t *testing.T) {
	_, err := Decode(Envelope{
		ID:   "r5",
		Type: TypeSearch,
		Data: json.RawMessage(`{"queryEmbedding":"not-a-vector","limit":5}`),
	})
	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeInvalidArgument, werrors.GetCode(err))
	assert.Contains(t, err.Error(), TypeSearch)
}

func TestDecode_ImportIgnoresBinaryPayload(t *testing.T) {
	req, err := Decode(Envelope{
		ID:   "r6",
		Type: TypeImportIndex,
		Data: json.RawMessage(`{"filename":"hnsw_index_global.dat","hnswBinaryData":{"0":12,"1":255}}`),
	})
	require.NoError(t, err)

	imp := req.(*ImportIndex)
	assert.Equal(t, "hnsw_index_global.dat", imp.Filename)
	assert.NotEmpty(t, imp.HnswBinaryData)
}

func TestResult_AppendsSuffixAndMarksSuccess(t *testing.T) {
	env, err := Result("r7", TypeSearch, map[string]any{"neighbors": []string{"a"}})
	require.NoError(t, err)

	assert.Equal(t, "r7", env.ID)
	assert.Equal(t, "searchHnswResult", env.Type)
	assert.True(t, env.Succeeded())
	assert.False(t, env.IsEvent())
	assert.JSONEq(t, `{"neighbors":["a"]}`, string(env.Data))

	env, err = Result("r8", TypeSyncFS, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Data)
}

func TestFailure_CarriesCodeAndRetryable(t *testing.T) {
	// Given: a stale operation error (retryable)
	err := werrors.StaleOperation("temporary", "op-1")

	// When: building the failure envelope
	env := Failure("r9", TypeAddPoints, err)

	// Then: the host sees the code, retryable flag and message
	assert.Equal(t, "addPointsToHnswResult", env.Type)
	require.NotNil(t, env.Success)
	assert.False(t, *env.Success)
	assert.Contains(t, env.Error, "stale")

	var fd FailureData
	require.NoError(t, json.Unmarshal(env.Data, &fd))
	assert.Equal(t, werrors.ErrCodeStaleOperation, fd.Code)
	assert.True(t, fd.Retryable)
}

func TestFailure_PlainErrorBecomesInternal(t *testing.T) {
	env := Failure("", "", errors.New("boom"))

	assert.Equal(t, EventError, env.Type)
	var fd FailureData
	require.NoError(t, json.Unmarshal(env.Data, &fd))
	assert.Equal(t, werrors.ErrCodeInternal, fd.Code)
}

func TestEvent_HasNoIDOrSuccess(t *testing.T) {
	env := Event(EventIndexProgress, map[string]any{"percent": 50})

	assert.True(t, env.IsEvent())
	assert.Empty(t, env.ID)
	assert.Nil(t, env.Success)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "success")
	assert.NotContains(t, string(raw), `"error"`)
}

func TestNewRequest_AssignsFreshIDs(t *testing.T) {
	a, err := NewRequest(TypeEmbedQuery, EmbedQuery{Query: "red shoes"})
	require.NoError(t, err)
	b, err := NewRequest(TypeInitLib, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.JSONEq(t, `{"query":"red shoes"}`, string(a.Data))
	assert.Empty(t, b.Data)
}
