package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-file-chat/internal/transport"
	"github.com/omochice/toy-file-chat/internal/transport/tcp"
	"github.com/omochice/toy-file-chat/internal/transport/ws"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

const (
	// handshakeTimeout bounds the time between accept and the identify frame.
	handshakeTimeout = 10 * time.Second
	outgoingBuffer   = 64
)

// httpMethods are the prefixes that mark a connection as HTTP (WebSocket).
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

// Server accepts WebSocket and TCP clients on a single port.
type Server struct {
	address  string
	listener net.Listener
	hub      *Hub
	codec    *protocol.Codec
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCodec sets the codec used to re-encode relayed messages.
func WithCodec(codec *protocol.Codec) Option {
	return func(s *Server) { s.codec = codec }
}

// NewServer creates a new Server listening on address once started.
func NewServer(address string, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address: address,
		codec:   &protocol.Codec{},
		logger:  zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

// Start binds the listener and serves in the background until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.logger.Info().Str("address", listener.Addr().String()).Msg("[relay] server started (TCP and WebSocket)")

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Stop closes the listener and every accepted connection, then waits for all
// handlers to return.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("[relay] server stopped")
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of identified clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("[relay] failed to accept connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection determines whether the connection is HTTP (WebSocket) or
// TCP and serves it.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()

	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	reader := bufio.NewReader(conn)
	prefix, err := reader.Peek(4)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", remote).Msg("[relay] failed to peek connection")
		conn.Close()
		return
	}

	var tc transport.Conn
	if isHTTP(prefix) {
		wc, err := ws.Upgrade(conn, &bufferedConn{Conn: conn, reader: reader})
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", remote).Msg("[relay] websocket upgrade failed")
			conn.Close()
			return
		}
		tc = wc
	} else {
		tc = tcp.NewConnWithReader(conn, reader)
	}
	s.serveClient(tc, conn, remote)
}

func isHTTP(prefix []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(prefix, m) {
			return true
		}
	}
	return false
}

// serveClient reads the identify frame, registers the client and relays its
// messages until the connection ends.
func (s *Server) serveClient(conn transport.Conn, raw net.Conn, remote string) {
	defer conn.Close()

	data, err := conn.Read(s.ctx)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", remote).Msg("[relay] connection closed before identify")
		return
	}
	id, err := s.codec.DecodeIdentify(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("[relay] invalid identify")
		return
	}
	if id.Name == "" || id.Name == protocol.SystemSender {
		s.logger.Warn().Str("remote", remote).Str("name", id.Name).Msg("[relay] reserved name")
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	client := &Client{
		Name:     id.Name,
		Addr:     remote,
		Outgoing: make(chan []byte, outgoingBuffer),
	}
	if err := s.hub.Register(client); err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("[relay] rejected client")
		return
	}
	s.logger.Info().Str("client", client.Name).Str("remote", remote).Strs("online", s.hub.Names()).Msg("[relay] client joined")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range client.Outgoing {
			if err := conn.Write(s.ctx, data); err != nil {
				s.logger.Warn().Err(err).Str("client", client.Name).Msg("[relay] failed to send message")
				return
			}
		}
	}()

	defer func() {
		s.hub.Unregister(client)
		close(client.Outgoing)
		<-writerDone
		s.logger.Info().Str("client", client.Name).Msg("[relay] client left")
	}()

	for {
		data, err := conn.Read(s.ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && s.ctx.Err() == nil {
				s.logger.Warn().Err(err).Str("client", client.Name).Msg("[relay] read error")
			}
			return
		}
		s.relay(client, data)
	}
}

func (s *Server) relay(client *Client, data []byte) {
	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("client", client.Name).Msg("[relay] failed to decode message")
		return
	}
	out, err := s.codec.EncodeInbound(protocol.Inbound{
		Destination: env.Destination,
		Sender:      client.Name,
		Content:     env.Content,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("client", client.Name).Msg("[relay] failed to encode message")
		return
	}

	n, err := s.hub.Route(out, client, env.Destination)
	if err != nil {
		s.logger.Warn().Err(err).Str("client", client.Name).Str("remote", client.Addr).Msg("[relay] dropped message")
		return
	}
	s.logger.Debug().
		Str("client", client.Name).
		Str("kind", string(env.Content.Kind())).
		Str("destination", env.Destination).
		Int("recipients", n).
		Msg("[relay] relayed message")
}

// track registers conn so Stop can close it. It reports false once the
// server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}
