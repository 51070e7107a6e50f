package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/protocol"
)

const (
	outBuffer   = 64
	eventBuffer = 256
)

// Conn is one host connection carrying envelopes in both directions.
// Read returns io.EOF when the host is gone and an error wrapping
// protocol.ErrMalformedMessage for input that is not an envelope.
type Conn interface {
	Read(ctx context.Context) (protocol.Envelope, error)
	Write(ctx context.Context, env protocol.Envelope) error
}

// Serve answers requests from conn until it reaches EOF or ctx is done.
// Each request runs on its own goroutine, so responses complete out of
// order; a single writer serializes responses and events onto conn.
// Requests still in flight at EOF are answered before Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn) error {
	events, unsubscribe := d.hub.Subscribe(eventBuffer)
	defer unsubscribe()

	out := make(chan protocol.Envelope, outBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case env, ok := <-out:
				if !ok {
					return nil
				}
				if err := conn.Write(gctx, env); err != nil {
					return err
				}
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if err := conn.Write(gctx, ev); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		var inflight sync.WaitGroup
		defer func() {
			inflight.Wait()
			close(out)
		}()

		send := func(env protocol.Envelope) {
			select {
			case out <- env:
			case <-gctx.Done():
			}
		}

		for {
			env, err := conn.Read(gctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					slog.Debug("connection_closed")
					return nil
				}
				if errors.Is(err, protocol.ErrMalformedMessage) {
					slog.Warn("malformed_message", slog.String("error", err.Error()))
					send(protocol.Failure("", "", werrors.InvalidArgument("%v", err)))
					continue
				}
				return err
			}

			inflight.Add(1)
			go func(env protocol.Envelope) {
				defer inflight.Done()
				send(d.Handle(gctx, env))
			}(env)
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
