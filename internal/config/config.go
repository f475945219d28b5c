// Package config holds the settings of the chat client and relay commands.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// WebSocket client implementations.
const (
	TransportGobwas  = "gobwas"
	TransportGorilla = "gorilla"
)

// Client configures cmd/chat-client.
type Client struct {
	// Server is the address connected to on startup. Empty means wait for
	// /connect.
	Server string
	// Name is the display name announced on connect.
	Name string
	// Transport selects the WebSocket implementation for ws:// and wss://.
	Transport string
	// Bytes selects how outgoing file data is written.
	Bytes string
	// DownloadDir is where received files are saved.
	DownloadDir string
	// LogLevel is a zerolog level name.
	LogLevel string
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		Transport:   TransportGobwas,
		Bytes:       protocol.BytesIntArray.String(),
		DownloadDir: ".",
		LogLevel:    zerolog.WarnLevel.String(),
	}
}

// Validate checks c.
func (c Client) Validate() error {
	if c.Server != "" && strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: --name is required with --server", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportGobwas, TransportGorilla:
	default:
		return fmt.Errorf("%w: unknown transport %q (want %s or %s)", ErrInvalidConfig, c.Transport, TransportGobwas, TransportGorilla)
	}
	if _, err := protocol.ParseByteEncoding(c.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("%w: download directory must not be empty", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ByteEncoding returns the parsed Bytes setting. Call Validate first.
func (c Client) ByteEncoding() protocol.ByteEncoding {
	enc, _ := protocol.ParseByteEncoding(c.Bytes)
	return enc
}

// Relay configures cmd/chat-relay.
type Relay struct {
	// Listen is the TCP address serving both WebSocket and line clients.
	Listen string
	// Bytes selects how relayed file data is written.
	Bytes    string
	LogLevel string
}

// DefaultRelay returns the relay defaults.
func DefaultRelay() Relay {
	return Relay{
		Listen:   ":8080",
		Bytes:    protocol.BytesIntArray.String(),
		LogLevel: zerolog.InfoLevel.String(),
	}
}

// Validate checks r.
func (r Relay) Validate() error {
	if r.Listen == "" {
		return fmt.Errorf("%w: listen address must not be empty", ErrInvalidConfig)
	}
	if _, err := protocol.ParseByteEncoding(r.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := zerolog.ParseLevel(r.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ByteEncoding returns the parsed Bytes setting. Call Validate first.
func (r Relay) ByteEncoding() protocol.ByteEncoding {
	enc, _ := protocol.ParseByteEncoding(r.Bytes)
	return enc
}
