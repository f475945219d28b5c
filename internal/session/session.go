// Package session manages the single connection of a chat client: its
// lifecycle, the identify handshake, outbound messages and the event log
// observed by the presentation layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/toy-file-chat/internal/eventlog"
	"github.com/omochice/toy-file-chat/internal/filetransfer"
	"github.com/omochice/toy-file-chat/internal/transport"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// ErrNotConnected is returned when sending while no connection is open.
var ErrNotConnected = errors.New("not connected to server")

// Session owns at most one live transport handle at a time.
// All transitions are applied under mu and only for the current handle, so
// events from a replaced handle are dropped.
type Session struct {
	dialer transport.Dialer
	codec  *protocol.Codec
	log    *eventlog.Log
	saver  filetransfer.Saver
	logger zerolog.Logger

	mu        sync.Mutex
	current   *handle
	nextID    uint64
	connected bool
	changed   chan struct{}
}

// handle is one connection attempt. Its fields are guarded by Session.mu,
// except wmu.
type handle struct {
	id      uint64
	address string
	name    string
	state   State
	conn    transport.Conn
	cancel  context.CancelFunc

	// wmu orders the identify write before the conn is closed.
	wmu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithCodec sets the wire codec.
func WithCodec(codec *protocol.Codec) Option {
	return func(s *Session) { s.codec = codec }
}

// WithLog sets the event log.
func WithLog(log *eventlog.Log) Option {
	return func(s *Session) { s.log = log }
}

// WithSaver sets where downloaded files go. The default saves into the
// working directory.
func WithSaver(saver filetransfer.Saver) Option {
	return func(s *Session) { s.saver = saver }
}

// New creates an idle Session that opens transports with dialer.
func New(dialer transport.Dialer, opts ...Option) *Session {
	s := &Session{
		dialer:  dialer,
		codec:   &protocol.Codec{},
		log:     eventlog.New(),
		saver:   filetransfer.DirSaver{Dir: "."},
		logger:  zerolog.Nop(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect replaces any existing connection with a new one to address and
// returns immediately. Exactly one open attempt is made; the outcome is
// reported through the event log and Connected. The connection lives until
// the next Connect, Close, or until ctx is done.
func (s *Session) Connect(ctx context.Context, address, displayName string) {
	hctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.setConnected(false)
	old := s.retire()
	s.nextID++
	h := &handle{
		id:      s.nextID,
		address: address,
		name:    displayName,
		state:   StateConnecting,
		cancel:  cancel,
	}
	s.current = h
	s.notice(fmt.Sprintf("Connecting to (%s)", address))
	s.mu.Unlock()

	old.close()

	s.logger.Info().Str("address", address).Str("name", displayName).Uint64("handle", h.id).Msg("[session] connecting")
	go s.run(hctx, h)
}

// Close closes the current connection, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	s.setConnected(false)
	old := s.retire()
	s.mu.Unlock()

	return old.close()
}

// Connected reports whether the current connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// State returns the state of the current handle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return StateIdle
	}
	return s.current.state
}

// Log returns the event log.
func (s *Session) Log() *eventlog.Log {
	return s.log
}

// Events returns a newest-first snapshot of the event log.
func (s *Session) Events() []eventlog.Entry {
	return s.log.Snapshot()
}

// Changed returns a channel closed on the next change of the connectivity
// flag or the event log.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// SendChat sends a chat message. An empty destination broadcasts.
func (s *Session) SendChat(ctx context.Context, text, destination string) error {
	return s.send(ctx, protocol.NewChat(text, destination))
}

// UploadFile reads the whole file and sends it. The message goes to
// whichever connection is current once the read completes. Read failures are
// also reported in the event log.
func (s *Session) UploadFile(ctx context.Context, file filetransfer.Handle, destination string) error {
	data, err := filetransfer.ToBytes(ctx, file)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", file.Name()).Msg("[session] upload read failed")
		s.mu.Lock()
		s.notice(fmt.Sprintf("Failed to read file (%s): %v", file.Name(), err))
		s.mu.Unlock()
		return err
	}
	return s.send(ctx, protocol.NewFile(file.Name(), data, destination))
}

// DownloadFile saves a received file with the configured saver and returns
// where it was written.
func (s *Session) DownloadFile(file protocol.File) (string, error) {
	path, err := s.saver.Save(file)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", file.Filename).Msg("[session] download failed")
		return "", err
	}
	s.logger.Info().Str("file", file.Filename).Str("path", path).Int("bytes", len(file.Data)).Msg("[session] file saved")
	return path, nil
}

func (s *Session) send(ctx context.Context, env protocol.Envelope) error {
	data, err := s.codec.Encode(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	h := s.current
	if h == nil || h.state != StateOpen {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := h.conn
	s.mu.Unlock()

	if err := conn.Write(ctx, data); err != nil {
		s.logger.Warn().Err(err).Uint64("handle", h.id).Msg("[session] send failed")
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.logger.Debug().Uint64("handle", h.id).Str("kind", string(env.Content.Kind())).Str("destination", env.Destination).Msg("[session] sent")
	return nil
}

// run drives one handle from Connecting until it becomes terminal.
func (s *Session) run(ctx context.Context, h *handle) {
	conn, err := s.dialer.Dial(ctx, h.address)
	if err != nil {
		if ctx.Err() != nil {
			s.closed(h)
		} else {
			s.fail(h, err)
		}
		return
	}
	if !s.attach(h, conn) {
		conn.Close()
		return
	}

	if err := s.identify(ctx, h, conn); err != nil {
		if !errors.Is(err, errRetired) {
			s.fail(h, err)
		}
		return
	}
	if !s.open(h) {
		return
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				s.closed(h)
			} else {
				s.fail(h, err)
			}
			return
		}
		s.receive(h, data)
	}
}

// errRetired means the handle was replaced or closed before identifying.
var errRetired = errors.New("handle retired")

// identify announces the display name on conn, unless h is no longer the
// current handle. Teardown waits on h.wmu, so once Connect or Close has
// retired h nothing more is written for it.
func (s *Session) identify(ctx context.Context, h *handle, conn transport.Conn) error {
	data, err := s.codec.EncodeIdentify(protocol.Identify{Name: h.name})
	if err != nil {
		return err
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	if !s.isCurrent(h, StateConnecting) {
		return errRetired
	}
	return conn.Write(ctx, data)
}

func (s *Session) isCurrent(h *handle, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == h && h.state == state
}

func (s *Session) attach(h *handle, conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != h || h.state != StateConnecting {
		return false
	}
	h.conn = conn
	return true
}

func (s *Session) open(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != h || h.state != StateConnecting {
		return false
	}
	h.state = StateOpen
	s.notice(fmt.Sprintf("Connected to (%s) as [%s]", h.address, h.name))
	s.setConnected(true)
	s.logger.Info().Str("address", h.address).Uint64("handle", h.id).Msg("[session] connected")
	return true
}

func (s *Session) closed(h *handle) {
	s.mu.Lock()
	if s.current != h || h.state.Terminal() {
		s.mu.Unlock()
		return
	}
	h.state = StateClosed
	s.notice(fmt.Sprintf("Disconnected from (%s)", h.address))
	s.setConnected(false)
	td := h.teardown()
	s.mu.Unlock()

	s.logger.Info().Str("address", h.address).Uint64("handle", h.id).Msg("[session] disconnected")
	td.close()
}

func (s *Session) fail(h *handle, err error) {
	s.mu.Lock()
	if s.current != h || h.state.Terminal() {
		s.mu.Unlock()
		return
	}
	h.state = StateErrored
	s.notice(fmt.Sprintf("Error in connection to (%s)", h.address))
	s.setConnected(false)
	td := h.teardown()
	s.mu.Unlock()

	s.logger.Warn().Err(err).Str("address", h.address).Uint64("handle", h.id).Msg("[session] connection error")
	td.close()
}

func (s *Session) receive(h *handle, data []byte) {
	msg, err := s.codec.DecodeInbound(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != h || h.state != StateOpen {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("address", h.address).Int("bytes", len(data)).Msg("[session] malformed message")
		s.notice(fmt.Sprintf("Malformed message from (%s): %v", h.address, err))
		return
	}
	s.log.Prepend(msg)
	s.bump()
}

// retire marks the current handle closed and returns what must be torn down
// once mu is released. Must be called with mu held.
func (s *Session) retire() teardown {
	h := s.current
	if h == nil || h.state.Terminal() {
		return teardown{}
	}
	if h.state == StateOpen {
		s.notice(fmt.Sprintf("Disconnected from (%s)", h.address))
	}
	h.state = StateClosed
	return h.teardown()
}

// notice appends a system message. Must be called with mu held.
func (s *Session) notice(text string) {
	s.log.Prepend(protocol.SystemNotice(text))
	s.bump()
}

// setConnected must be called with mu held.
func (s *Session) setConnected(v bool) {
	if s.connected == v {
		return
	}
	s.connected = v
	s.bump()
}

// bump wakes Changed waiters. Must be called with mu held.
func (s *Session) bump() {
	close(s.changed)
	s.changed = make(chan struct{})
}

type teardown struct {
	cancel context.CancelFunc
	conn   transport.Conn
	wmu    *sync.Mutex
}

// teardown must be called with Session.mu held.
func (h *handle) teardown() teardown {
	return teardown{cancel: h.cancel, conn: h.conn, wmu: &h.wmu}
}

func (t teardown) close() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn == nil {
		return nil
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.Close()
}
