// Package ws provides the WebSocket transport built on gobwas/ws.
// It is used both by chat sessions (client side) and by the relay (server side).
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/toy-file-chat/internal/transport"
)

type side int

const (
	clientSide side = iota
	serverSide
)

// Conn adapts a gobwas/ws connection to transport.Conn.
// Messages are sent as text frames.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	side   side

	// wmu serializes frame writes, including pongs written while reading.
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// lockedWriter lets wsutil's control handler answer pings without
// interleaving with application writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

func newConn(conn net.Conn, br *bufio.Reader, s side) *Conn {
	c := &Conn{conn: conn, reader: conn, side: s}
	if br != nil {
		c.reader = br
	}
	return c
}

// Dialer dials WebSocket endpoints with gobwas/ws.
type Dialer struct {
	// Dialer is the underlying gobwas dialer. The zero value uses gws.DefaultDialer.
	Dialer *gws.Dialer
}

// Dial implements transport.Dialer.
func (d Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	dialer := gws.DefaultDialer
	if d.Dialer != nil {
		dialer = *d.Dialer
	}
	conn, br, _, err := dialer.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return newConn(conn, br, clientSide), nil
}

// Upgrade performs the server side handshake on rw and wraps conn.
// rw may buffer bytes already read from conn; reads continue through it.
func Upgrade(conn net.Conn, rw io.ReadWriter) (*Conn, error) {
	if _, err := gws.Upgrade(rw); err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	c := &Conn{conn: conn, reader: rw, side: serverSide}
	return c, nil
}

// Read implements transport.Conn.
// Reads a data frame, answering control frames along the way.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{c}}

	var (
		data []byte
		err  error
	)
	if c.side == clientSide {
		data, _, err = wsutil.ReadServerData(rw)
	} else {
		data, _, err = wsutil.ReadClientData(rw)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}
	return data, nil
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.side == clientSide {
		return wsutil.WriteClientText(c.conn, data)
	}
	return wsutil.WriteServerText(c.conn, data)
}

// Close implements transport.Conn.
// Sends a normal closure frame before closing the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		body := gws.NewCloseFrameBody(gws.StatusNormalClosure, "")
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.wmu.Lock()
		if c.side == clientSide {
			_ = wsutil.WriteClientMessage(c.conn, gws.OpClose, body)
		} else {
			_ = wsutil.WriteServerMessage(c.conn, gws.OpClose, body)
		}
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func classify(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return fmt.Errorf("%w: status %d %s", transport.ErrClosed, closed.Code, closed.Reason)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return err
}
