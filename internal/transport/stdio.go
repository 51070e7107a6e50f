package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/Aman-CERP/annworker/internal/protocol"
)

// maxLineSize bounds one JSON line. An addPointsToHnsw batch of a few
// thousand 384-dim vectors fits comfortably.
const maxLineSize = 64 * 1024 * 1024

// StdioConn reads one envelope per line from r and writes one per line to w.
type StdioConn struct {
	lines    chan scanned
	done     chan struct{}
	scanned  chan struct{}
	closeOne sync.Once

	mu sync.Mutex
	w  io.Writer
}

type scanned struct {
	line []byte
	err  error
}

// NewStdioConn starts reading r in the background.
func NewStdioConn(r io.Reader, w io.Writer) *StdioConn {
	c := &StdioConn{
		lines:   make(chan scanned),
		done:    make(chan struct{}),
		scanned: make(chan struct{}),
		w:       w,
	}
	go c.scan(r)
	return c
}

// Close stops delivering input. The scanner exits after its current line.
func (c *StdioConn) Close() error {
	c.closeOne.Do(func() { close(c.done) })
	return nil
}

func (c *StdioConn) scan(r io.Reader) {
	defer close(c.scanned)
	defer close(c.lines)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !c.deliver(scanned{line: bytes.Clone(line)}) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.deliver(scanned{err: err})
	}
}

func (c *StdioConn) deliver(s scanned) bool {
	select {
	case c.lines <- s:
		return true
	case <-c.done:
		return false
	}
}

// Read returns the next envelope, io.EOF at end of input.
func (c *StdioConn) Read(ctx context.Context) (protocol.Envelope, error) {
	select {
	case s, ok := <-c.lines:
		if !ok {
			return protocol.Envelope{}, io.EOF
		}
		if s.err != nil {
			return protocol.Envelope{}, s.err
		}
		return decodeEnvelope(s.line)
	case <-c.done:
		return protocol.Envelope{}, io.EOF
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// Write emits env as a single line.
func (c *StdioConn) Write(_ context.Context, env protocol.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.w.Write(b)
	return err
}
