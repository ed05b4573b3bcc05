// Package client implements the client-side protocol engine: the connect
// handshake, the dedicated receive loop, and bounded teardown. Decoded frames
// are dispatched outward through the UI capability interface; the engine
// calls the presentation layer, never the reverse.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"groupchat/internal/config"
	"groupchat/internal/logger"
	"groupchat/internal/wire"
)

// UI is the narrow capability set the presentation layer must implement.
// Methods are invoked from the engine's goroutines; implementations must be
// safe for concurrent use.
type UI interface {
	// ShowChatMessage displays one attributed chat line.
	ShowChatMessage(text string)
	// UpdateRoster replaces the displayed participant list.
	UpdateRoster(names []string)
	// Alert surfaces a disconnect or protocol diagnostic to the user.
	Alert(message string)
}

// Connect failure taxonomy. Errors returned by Connect wrap exactly one of
// these sentinels, so callers can classify with errors.Is.
var (
	// ErrNetwork covers dial, read, and write failures during the handshake.
	ErrNetwork = errors.New("network failure")
	// ErrDenied means the server rejected the connection at capacity.
	ErrDenied = errors.New("connection denied by server")
	// ErrProtocol means the server sent something other than the expected
	// handshake shape.
	ErrProtocol = errors.New("protocol violation")

	// Local pre-validation failures, surfaced before any network call.
	ErrEmptyAddress = errors.New("server address is empty")
	ErrEmptyName    = errors.New("display name is empty")
	ErrNameTooLong  = errors.New("display name too long")
)

// Engine is the client protocol engine. It owns its connection state
// explicitly; one Engine is one session slot, reusable after a disconnect.
// All methods are safe for concurrent use.
type Engine struct {
	cfg config.ClientConfig
	log logger.Logger
	ui  UI

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closing   bool
	wg        sync.WaitGroup
}

// NewEngine returns an Engine in the disconnected state.
func NewEngine(cfg config.ClientConfig, log logger.Logger, ui UI) *Engine {
	return &Engine{cfg: cfg, log: log, ui: ui}
}

// IsConnected reports whether the engine currently holds a live session.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Connect dials the server at address ("host:port"), performs the admission
// and name handshake, delivers the mandatory initial roster to the UI, and
// spawns the receive loop.
//
// Returns:
//   - nil on success; otherwise an error wrapping ErrNetwork, ErrDenied,
//     ErrProtocol, or one of the local validation sentinels
func (e *Engine) Connect(address, name string) error {
	if err := e.validate(address, name); err != nil {
		return err
	}

	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	e.mu.Unlock()

	conn, err := net.Dial("tcp", address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	buf := make([]byte, e.cfg.MaxMessageLength)

	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		_ = conn.Close()
		return fmt.Errorf("%w: reading admission: %v", ErrNetwork, err)
	}

	switch admission := wire.Decode(buf[:n]); admission.Kind {
	case wire.Accept:
	case wire.Deny:
		_ = conn.Close()
		return ErrDenied
	default:
		_ = conn.Close()
		return fmt.Errorf("%w: unexpected admission frame %q", ErrProtocol, buf[:n])
	}

	if _, err := conn.Write([]byte(name)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: sending name: %v", ErrNetwork, err)
	}

	// The first frame after the handshake must be the roster including us.
	n, err = conn.Read(buf)
	if err != nil || n == 0 {
		_ = conn.Close()
		return fmt.Errorf("%w: reading initial roster: %v", ErrNetwork, err)
	}

	roster := wire.Decode(buf[:n])
	if roster.Kind != wire.RosterUpdate {
		_ = conn.Close()
		return fmt.Errorf("%w: expected roster update, got %s", ErrProtocol, roster.Kind)
	}
	e.ui.UpdateRoster(roster.Names)

	e.mu.Lock()
	e.conn = conn
	e.connected = true
	e.closing = false
	e.mu.Unlock()

	e.log.Info("connected", logger.Field{Key: "addr", Value: address}, logger.Field{Key: "name", Value: name})

	e.wg.Add(1)
	go e.receiveLoop(conn)

	return nil
}

// validate applies the client-local pre-checks. The protocol itself trusts
// the handshake payload; this is the only place name length is enforced.
func (e *Engine) validate(address, name string) error {
	if address == "" {
		return ErrEmptyAddress
	}
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > e.cfg.MaxClientNameLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrNameTooLong, len(name), e.cfg.MaxClientNameLength)
	}

	return nil
}

// SendChat sends one chat line to the server. It is a no-op when the engine
// is not connected. Text over MaxChatContent is truncated before sending.
func (e *Engine) SendChat(text string) {
	e.mu.Lock()
	conn, connected := e.conn, e.connected
	e.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	if len(text) > e.cfg.MaxChatContent {
		text = text[:e.cfg.MaxChatContent]
	}

	if _, err := conn.Write(wire.Encode(wire.ChatFrame(text))); err != nil {
		e.log.Warn("chat send failed", logger.Field{Key: "error", Value: err})
	}
}

// Shutdown tears the session down: it announces the voluntary disconnect to
// the server when connected, closes the socket, and waits for the receive
// loop to terminate before returning. Idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	conn, connected := e.conn, e.connected
	e.closing = true
	e.mu.Unlock()

	if connected && conn != nil {
		if _, err := conn.Write(wire.Encode(wire.ShutdownFrame(wire.ReasonClientTerminated))); err != nil {
			e.log.Warn("shutdown send failed", logger.Field{Key: "error", Value: err})
		}
		_ = conn.Close()
	}

	e.wg.Wait()

	e.mu.Lock()
	e.conn = nil
	e.connected = false
	e.mu.Unlock()
}

// receiveLoop blocks on the socket and dispatches decoded frames to the UI
// until the session ends. It is the sole writer of the connected=false
// transition on the receiving side.
func (e *Engine) receiveLoop(conn net.Conn) {
	defer e.wg.Done()

	buf := make([]byte, e.cfg.MaxMessageLength)
	for {
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			if e.isClosing() {
				// Our own Shutdown closed the socket; nothing to report.
				e.disconnect("")
			} else {
				e.disconnect("Connection to the server was lost.")
			}
			return
		}

		switch f := wire.Decode(buf[:n]); f.Kind {
		case wire.Chat:
			e.ui.ShowChatMessage(f.Text)

		case wire.RosterUpdate:
			e.ui.UpdateRoster(f.Names)

		case wire.Shutdown:
			e.disconnect("The server has shut down. Sorry for the inconvenience, try chatting later!")
			return

		default:
			// Unlike the server, the client does not tolerate junk: a server
			// speaking an unknown dialect cannot be trusted for the session.
			e.disconnect("The server sent an unreadable message. Please reconnect.")
			return
		}
	}
}

// disconnect closes the socket (idempotently) and marks the engine
// disconnected, alerting the UI when there is something to say.
func (e *Engine) disconnect(message string) {
	e.mu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	e.mu.Unlock()

	if message != "" {
		e.ui.Alert(message)
	}
}

func (e *Engine) isClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closing
}
