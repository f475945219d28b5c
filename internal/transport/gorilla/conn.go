// Package gorilla provides a WebSocket client transport built on gorilla/websocket.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/toy-file-chat/internal/transport"
)

// Conn adapts a gorilla websocket.Conn to transport.Conn.
type Conn struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer.
	wmu sync.Mutex
}

// NewConn wraps an established gorilla connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dialer dials WebSocket endpoints with gorilla/websocket.
type Dialer struct {
	// Dialer is the underlying gorilla dialer. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial implements transport.Dialer.
func (d Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewConn(conn), nil
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.UnderlyingConn().SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", transport.ErrClosed, err)
		}
		return nil, err
	}
	return data, nil
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
