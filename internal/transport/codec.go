// Package transport carries protocol envelopes between a host and the
// worker dispatcher over stdio JSON lines or WebSocket.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/annworker/internal/protocol"
)

// decodeEnvelope parses one message. Anything that is not an envelope with
// an id and a type is reported as malformed.
func decodeEnvelope(b []byte) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", protocol.ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return protocol.Envelope{}, fmt.Errorf("%w: missing type", protocol.ErrMalformedMessage)
	}
	if env.ID == "" {
		return protocol.Envelope{}, fmt.Errorf("%w: missing id for %s", protocol.ErrMalformedMessage, env.Type)
	}
	return env, nil
}
