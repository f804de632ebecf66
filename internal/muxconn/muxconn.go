// Package muxconn adapts a message-oriented realtime/ws.Conn into the byte-stream
// io.ReadWriteCloser that hashicorp/yamux requires, by carrying binary websocket
// messages as an unframed byte stream (read buffers the current message; write sends one
// websocket binary frame per Write call).
package muxconn

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
)

// Conn adapts *ws.Conn to io.ReadWriteCloser for use as a yamux transport.
//
// Yamux never calls Read/Write concurrently from multiple goroutines for the same
// direction, but it does call Read and Write concurrently with each other; the
// underlying gorilla/websocket connection permits one concurrent reader and one
// concurrent writer, which this adapter preserves.
type Conn struct {
	c   *ws.Conn
	ctx context.Context

	readMu  sync.Mutex
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

// New wraps conn for use as a yamux session transport. ctx bounds every Read/Write call;
// callers typically derive it from the TunnelSession's lifetime context.
func New(ctx context.Context, c *ws.Conn) *Conn {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Conn{c: c, ctx: ctx}
}

func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		mt, b, err := c.c.ReadMessage(c.ctx)
		if err != nil {
			return 0, mapCloseErr(err)
		}
		if mt != websocket.BinaryMessage {
			// Control/text frames are not part of the byte-stream contract; skip them.
			continue
		}
		c.pending = b
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.c.WriteMessage(c.ctx, websocket.BinaryMessage, p); err != nil {
		return 0, mapCloseErr(err)
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}

// LocalAddr and RemoteAddr satisfy net.Conn, which yamux requires even though it never
// inspects either address.
func (c *Conn) LocalAddr() net.Addr  { return c.c.Underlying().LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.c.Underlying().RemoteAddr() }

// SetDeadline, SetReadDeadline, and SetWriteDeadline are no-ops: every Read/Write is
// already bounded by the context passed to New, which is how timeouts propagate through
// this adapter instead.
func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

var _ net.Conn = (*Conn)(nil)

func mapCloseErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*websocket.CloseError); ok {
		return io.EOF
	}
	return err
}
