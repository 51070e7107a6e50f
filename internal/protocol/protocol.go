// Package protocol defines the worker's message envelope and the closed set
// of request variants carried in it.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Request types.
const (
	TypeInitLib       = "initHnswLib"
	TypeInitIndex     = "initHnswIndex"
	TypeAddPoints     = "addPointsToHnsw"
	TypeSearch        = "searchHnsw"
	TypeSaveIndex     = "saveHnswIndexFile"
	TypeSwitchContext = "switchHnswContext"
	TypeExportIndex   = "exportHnswFileData"
	TypeImportIndex   = "importHnswFileData"
	TypeSyncFS        = "syncIDBFS"
	TypeLoadModel     = "loadModel"
	TypeEmbedQuery    = "embedQuery"
)

// Event types. Events carry an empty id.
const (
	EventIndexProgress     = "indexProgress"
	EventModelLoadProgress = "modelLoadProgress"
	EventStatus            = "status"
	EventError             = "error"
)

// ResultSuffix is appended to a request type to form its response type.
const ResultSuffix = "Result"

// KnownTypes lists every request type in protocol order.
var KnownTypes = []string{
	TypeInitLib, TypeInitIndex, TypeAddPoints, TypeSearch, TypeSaveIndex,
	TypeSwitchContext, TypeExportIndex, TypeImportIndex, TypeSyncFS,
	TypeLoadModel, TypeEmbedQuery,
}

// ErrMalformedMessage marks input that is not a JSON envelope at all.
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the message shape in both directions.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsEvent reports whether e is an unsolicited event.
func (e Envelope) IsEvent() bool {
	return e.ID == "" && e.Success == nil
}

// Succeeded reports whether e is a successful response.
func (e Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// NewID returns a fresh request id.
func NewID() string {
	return uuid.NewString()
}

// NewRequest builds a request envelope with a fresh id.
func NewRequest(reqType string, data any) (Envelope, error) {
	env := Envelope{ID: NewID(), Type: reqType}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}
