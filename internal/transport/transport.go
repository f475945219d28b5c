// Package transport defines the text-message socket used by chat sessions
// and relays, independent of the underlying protocol.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrClosed is returned by Conn.Read when the peer closed the connection in
// an orderly way. Any other read error is a connection failure.
var ErrClosed = errors.New("connection closed")

// ErrUnsupportedScheme is returned by Mux when no dialer is registered for the
// address scheme.
var ErrUnsupportedScheme = errors.New("unsupported address scheme")

// Conn abstracts a bidirectional text-message connection.
type Conn interface {
	// Read reads a single message frame.
	// Returns an error wrapping ErrClosed on orderly shutdown.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single message frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error
}

// Dialer opens a Conn to an address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

// Mux dispatches Dial calls by URL scheme.
type Mux struct {
	dialers map[string]Dialer
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{dialers: make(map[string]Dialer)}
}

// Handle registers d for the given schemes.
func (m *Mux) Handle(d Dialer, schemes ...string) *Mux {
	for _, s := range schemes {
		m.dialers[strings.ToLower(s)] = d
	}
	return m
}

// Dial implements Dialer.
func (m *Mux) Dial(ctx context.Context, address string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	d, ok := m.dialers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return d.Dial(ctx, address)
}
