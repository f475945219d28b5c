package session_test

import (
	"context"
	"net"
	"sync"

	"github.com/omochice/toy-file-chat/internal/transport"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// mockConn is a transport.Conn driven by the test.
type mockConn struct {
	inbox     chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error

	// When set before use, Write signals writing and then blocks until
	// writeGate is closed.
	writing   chan struct{}
	writeGate chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		inbox:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbox:
		return data, nil
	case err := <-m.readErr:
		return nil, err
	case <-m.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeGate != nil {
		m.writing <- struct{}{}
		<-m.writeGate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// mockDialer hands out queued results, blocking until one is available.
type mockDialer struct {
	results chan dialResult

	mu        sync.Mutex
	addresses []string
}

type dialResult struct {
	conn transport.Conn
	err  error
}

func newMockDialer() *mockDialer {
	return &mockDialer{results: make(chan dialResult, 8)}
}

func (d *mockDialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.mu.Unlock()

	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *mockDialer) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// countingSaver records save-as actions.
type countingSaver struct {
	mu    sync.Mutex
	saved []protocol.File
}

func (c *countingSaver) Save(file protocol.File) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, file)
	return "/downloads/" + file.Filename, nil
}

var _ transport.Conn = (*mockConn)(nil)
var _ transport.Dialer = (*mockDialer)(nil)
