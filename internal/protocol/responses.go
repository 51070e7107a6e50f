package protocol

import (
	"encoding/json"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
)

// FailureData accompanies a failed response so hosts can branch on the code.
type FailureData struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Result builds the successful response to a request.
func Result(id, reqType string, data any) (Envelope, error) {
	env := Envelope{ID: id, Type: reqType + ResultSuffix, Success: boolPtr(true)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

// Failure builds the failed response to a request.
func Failure(id, reqType string, err error) Envelope {
	if err == nil {
		err = werrors.InternalError("request failed without an error", nil)
	}
	we := werrors.AsWorkerError(err)
	t := EventError
	if reqType != "" {
		t = reqType + ResultSuffix
	}
	raw, _ := json.Marshal(FailureData{Code: we.Code, Retryable: we.Retryable})
	return Envelope{
		ID:      id,
		Type:    t,
		Data:    raw,
		Success: boolPtr(false),
		Error:   we.Error(),
	}
}

// Event builds an unsolicited event envelope.
func Event(eventType string, data any) Envelope {
	env := Envelope{Type: eventType}
	if raw, err := json.Marshal(data); err == nil {
		env.Data = raw
	}
	return env
}

func boolPtr(b bool) *bool { return &b }
