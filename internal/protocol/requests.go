package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// Request is one of the request variants below.
type Request interface {
	RequestType() string
}

// InitLib loads the ANN engine.
type InitLib struct{}

// InitIndex creates or loads an index context.
type InitIndex struct {
	MaxElements    int    `json:"maxElements"`
	M              int    `json:"M"`
	EfConstruction int    `json:"efConstruction"`
	EfSearch       int    `json:"efSearch"`
	Filename       string `json:"filename,omitempty"`
	ForceRebuild   bool   `json:"forceRebuild"`
	PersistIndex   bool   `json:"persistIndex"`
	IndexContext   string `json:"indexContext"`
	OperationID    string `json:"operationId,omitempty"`
}

// Point is one vector to insert.
type Point struct {
	ID        PointID   `json:"id"`
	Embedding []float32 `json:"embedding"`
}

// AddPoints inserts points into a context.
type AddPoints struct {
	Points       []Point `json:"points"`
	IndexContext string  `json:"indexContext"`
	OperationID  string  `json:"operationId,omitempty"`
}

// Search queries a context.
type Search struct {
	QueryEmbedding []float32 `json:"queryEmbedding"`
	Limit          int       `json:"limit"`
	IndexContext   string    `json:"indexContext,omitempty"`
}

// SaveIndex persists the global context.
type SaveIndex struct {
	Filename     string `json:"filename,omitempty"`
	IndexContext string `json:"indexContext"`
}

// SwitchContext changes the active context.
type SwitchContext struct {
	TargetContext string `json:"targetContext"`
	Filename      string `json:"filename,omitempty"`
}

// ExportIndex returns the persisted bytes of the global context.
type ExportIndex struct {
	Filename     string `json:"filename,omitempty"`
	IndexContext string `json:"indexContext,omitempty"`
}

// ImportIndex rebuilds the global context from source records. The binary
// payload is accepted for compatibility and never decoded.
type ImportIndex struct {
	Filename       string          `json:"filename"`
	HnswBinaryData json.RawMessage `json:"hnswBinaryData,omitempty"`
}

// SyncFS reloads the virtual filesystem from durable storage.
type SyncFS struct{}

// LoadModel loads the embedding model.
type LoadModel struct {
	ModelName string `json:"modelName,omitempty"`
}

// EmbedQuery embeds a query string.
type EmbedQuery struct {
	Query string `json:"query"`
}

// Unknown is any request whose type is not recognized.
type Unknown struct {
	Type string
}

func (InitLib) RequestType() string       { return TypeInitLib }
func (InitIndex) RequestType() string     { return TypeInitIndex }
func (AddPoints) RequestType() string     { return TypeAddPoints }
func (Search) RequestType() string        { return TypeSearch }
func (SaveIndex) RequestType() string     { return TypeSaveIndex }
func (SwitchContext) RequestType() string { return TypeSwitchContext }
func (ExportIndex) RequestType() string   { return TypeExportIndex }
func (ImportIndex) RequestType() string   { return TypeImportIndex }
func (SyncFS) RequestType() string        { return TypeSyncFS }
func (LoadModel) RequestType() string     { return TypeLoadModel }
func (EmbedQuery) RequestType() string    { return TypeEmbedQuery }
func (u Unknown) RequestType() string     { return u.Type }

// Decode turns an envelope into its request variant. Unrecognized types
// decode to Unknown without error; bad data is InvalidArgument.
func Decode(env Envelope) (Request, error) {
	var req Request
	switch env.Type {
	case TypeInitLib:
		req = &InitLib{}
	case TypeInitIndex:
		req = &InitIndex{}
	case TypeAddPoints:
		req = &AddPoints{}
	case TypeSearch:
		req = &Search{}
	case TypeSaveIndex:
		req = &SaveIndex{}
	case TypeSwitchContext:
		req = &SwitchContext{}
	case TypeExportIndex:
		req = &ExportIndex{}
	case TypeImportIndex:
		req = &ImportIndex{}
	case TypeSyncFS:
		req = &SyncFS{}
	case TypeLoadModel:
		req = &LoadModel{}
	case TypeEmbedQuery:
		req = &EmbedQuery{}
	default:
		return &Unknown{Type: env.Type}, nil
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return req, nil
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, werrors.InvalidArgument("invalid %s data: %v", env.Type, err)
	}
	return req, nil
}

// PointID is a caller identifier sent as a JSON string or number.
type PointID string

// UnmarshalJSON accepts "sku-1" and 42 alike.
func (p *PointID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("point id is null")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PointID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("point id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*p = PointID(strconv.FormatInt(i, 10))
		return nil
	}
	*p = PointID(n.String())
	return nil
}
