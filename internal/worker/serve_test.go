package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/protocol"
)

func TestServe_AnswersEveryRequestBeforeEOF(t *testing.T) {
	// Given: a connection carrying a burst of requests and then EOF
	w := newTestWorker(t, nil)
	conn := newPipeConn()

	conn.in <- readItem{env: protocol.Envelope{ID: "lib", Type: protocol.TypeInitLib}}
	for i := 0; i < 10; i++ {
		conn.in <- readItem{env: protocol.Envelope{
			ID:   fmt.Sprintf("embed-%d", i),
			Type: protocol.TypeEmbedQuery,
			Data: json.RawMessage(fmt.Sprintf(`{"query":"item %d"}`, i)),
		}}
	}
	conn.in <- readItem{env: protocol.Envelope{ID: "bogus", Type: "noSuchType"}}
	close(conn.in)

	// When: serving until the connection ends
	require.NoError(t, w.d.Serve(context.Background(), conn))

	// Then: each id got exactly one terminal response
	resp := conn.responses()
	require.Len(t, resp, 12)
	assert.True(t, resp["lib"].Succeeded())
	for i := 0; i < 10; i++ {
		r := resp[fmt.Sprintf("embed-%d", i)]
		assert.Equal(t, "embedQueryResult", r.Type)
		assert.True(t, r.Succeeded(), r.Error)
	}
	assert.Equal(t, werrors.ErrCodeUnknownMessageType, failureCode(t, resp["bogus"]))
}

func TestServe_MalformedMessageDoesNotStopLoop(t *testing.T) {
	w := newTestWorker(t, nil)
	conn := newPipeConn()

	conn.in <- readItem{err: fmt.Errorf("%w: unexpected end of JSON input", protocol.ErrMalformedMessage)}
	conn.in <- readItem{env: protocol.Envelope{ID: "after", Type: protocol.TypeInitLib}}
	close(conn.in)

	require.NoError(t, w.d.Serve(context.Background(), conn))

	var sawError bool
	for _, env := range conn.all() {
		if env.Type == protocol.EventError {
			sawError = true
			assert.Equal(t, werrors.ErrCodeInvalidArgument, failureCode(t, env))
		}
	}
	assert.True(t, sawError)
	assert.True(t, conn.responses()["after"].Succeeded())
}

func TestServe_ReadErrorIsReturned(t *testing.T) {
	w := newTestWorker(t, nil)
	conn := newPipeConn()
	boom := errors.New("connection reset")
	conn.in <- readItem{err: boom}

	err := w.d.Serve(context.Background(), conn)
	assert.ErrorIs(t, err, boom)
}

func TestServe_StopsOnCancel(t *testing.T) {
	w := newTestWorker(t, nil)
	conn := newPipeConn()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.d.Serve(ctx, conn) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestHub_DropsWhenSubscriberIsFull(t *testing.T) {
	w := newTestWorker(t, nil)
	events, unsubscribe := w.hub.Subscribe(1)

	w.hub.Publish(protocol.Event(protocol.EventStatus, map[string]string{"n": "1"}))
	w.hub.Publish(protocol.Event(protocol.EventStatus, map[string]string{"n": "2"}))

	first := <-events
	assert.JSONEq(t, `{"n":"1"}`, string(first.Data))
	assert.Empty(t, events)

	unsubscribe()
	unsubscribe()
	_, ok := <-events
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		w.hub.Publish(protocol.Event(protocol.EventStatus, nil))
	})
}
