// Package server implements the group chat relay: the accept loop, the
// per-connection admission/handshake/receive state machine, and graceful
// shutdown. One goroutine per connection performs blocking reads; the session
// registry is the only shared state.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"groupchat/internal/config"
	"groupchat/internal/logger"
	"groupchat/internal/registry"
	"groupchat/internal/wire"
)

// Server is the group chat relay. It accepts connections, admits them against
// the roster capacity, runs one receive goroutine per client, and fans chat
// and roster traffic out to everyone. Construct with New, then Start/Stop.
type Server struct {
	cfg         config.ServerConfig
	log         logger.Logger
	registry    *registry.Registry
	broadcaster *Broadcaster

	listener net.Listener
	running  atomic.Bool

	// admitMu makes the capacity check, the shutdown check, and the registry
	// insert one atomic admission decision.
	admitMu  sync.Mutex
	connWg   sync.WaitGroup
	acceptWg sync.WaitGroup
}

// New returns a Server for the given configuration. Nothing is bound until
// Start is called.
func New(cfg config.ServerConfig, log logger.Logger) *Server {
	reg := registry.NewRegistry()
	return &Server{
		cfg:         cfg,
		log:         log,
		registry:    reg,
		broadcaster: NewBroadcaster(reg, log),
	}
}

// Start binds the listener and begins accepting connections in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		s.log.Error("server already running")
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.log.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server failed to start: %w", err)
	}

	s.listener = ln
	s.running.Store(true)

	s.log.Info("server started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "max_clients", Value: s.cfg.MaxClients},
	)

	s.acceptWg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop performs the global shutdown: no new admissions, a ShutDown broadcast
// to every client, close of every registered session (which unblocks each
// receive goroutine), a join on all per-connection goroutines, and finally
// the listener close. Safe to call when the server is not running.
func (s *Server) Stop() {
	s.admitMu.Lock()
	if !s.running.Load() {
		s.admitMu.Unlock()
		s.log.Info("server not running")
		return
	}
	s.running.Store(false)
	s.admitMu.Unlock()

	s.log.Info("server shutting down")
	s.broadcaster.Broadcast(wire.ShutdownFrame(wire.ReasonServerTerminated))

	for _, sess := range s.registry.Snapshot() {
		s.registry.Remove(sess.ID())
		_ = sess.Close()
	}

	s.connWg.Wait()
	_ = s.listener.Close()
	s.acceptWg.Wait()

	s.log.Info("server stopped")
}

// acceptLoop accepts connections until the server is stopped. Each accepted
// connection gets its own goroutine for the whole admission/handshake/receive
// lifecycle.
func (s *Server) acceptLoop() {
	defer s.acceptWg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.log.Error("accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		// The Add is serialized with the shutdown flag flip so Stop's join
		// never races with a connection goroutine starting up.
		s.admitMu.Lock()
		if !s.running.Load() {
			s.admitMu.Unlock()
			_ = conn.Close()
			return
		}
		s.connWg.Add(1)
		s.admitMu.Unlock()

		go s.handleConn(conn)
	}
}

// handleConn drives one connection from admission to close.
func (s *Server) handleConn(conn net.Conn) {
	defer s.connWg.Done()

	addr := ""
	if remote := conn.RemoteAddr(); remote != nil {
		addr = remote.String()
	}
	s.log.Info("request received", logger.Field{Key: "addr", Value: addr})

	sess, ok := s.admit(conn)
	if !ok {
		return
	}

	if err := sess.Send(wire.Encode(wire.AcceptFrame())); err != nil {
		s.drop(sess)
		return
	}
	s.log.Info("request accepted", logger.Field{Key: "addr", Value: addr})

	buf := make([]byte, s.cfg.MaxMessageLength)

	// Handshake: exactly one raw read carrying the display name. The name is
	// trusted opaquely; length validation is the client's responsibility.
	n, err := sess.Read(buf)
	if err != nil || n == 0 {
		s.drop(sess)
		return
	}
	sess.SetName(string(buf[:n]))
	s.broadcaster.Broadcast(wire.RosterFrame(s.registry.Names()))

	s.receiveLoop(sess, buf)
}

// admit applies the capacity and shutdown checks and registers the session.
// On denial or shutdown the connection is closed immediately and nothing
// enters the roster.
func (s *Server) admit(conn net.Conn) (*registry.Session, bool) {
	s.admitMu.Lock()

	if !s.running.Load() {
		s.admitMu.Unlock()
		_ = conn.Close()
		return nil, false
	}

	if s.registry.Len() >= s.cfg.MaxClients {
		s.admitMu.Unlock()
		_, _ = conn.Write(wire.Encode(wire.DenyFrame()))
		_ = conn.Close()
		s.log.Info("request denied, max clients connected")
		return nil, false
	}

	sess := s.registry.Register(conn)
	s.admitMu.Unlock()
	return sess, true
}

// receiveLoop blocks on the session's socket and dispatches inbound frames
// until the client leaves, the connection drops, or the server shuts down.
func (s *Server) receiveLoop(sess *registry.Session, buf []byte) {
	log := s.log.With(
		logger.Field{Key: "session_id", Value: sess.ID()},
		logger.Field{Key: "addr", Value: sess.RemoteAddr()},
	)

	for {
		n, err := sess.Read(buf)
		if err != nil || n == 0 {
			// Abrupt disconnect, or our own shutdown closed the socket.
			// No roster broadcast on this path.
			s.drop(sess)
			return
		}

		switch f := wire.Decode(buf[:n]); f.Kind {
		case wire.Chat:
			s.broadcaster.Broadcast(wire.ChatFrame(sess.Name() + "> " + f.Text))

		case wire.Shutdown:
			s.drop(sess)
			s.broadcaster.Broadcast(wire.RosterFrame(s.registry.Names()))
			log.Info("client voluntarily disconnected")
			return

		default:
			// One junk frame does not cost a client its connection.
			log.Warn("junk message ignored", logger.Field{Key: "kind", Value: f.Kind.String()})
		}
	}
}

// drop removes the session from the roster and then closes it. Removal
// happens before close so no registered session ever receives a broadcast
// on a closed socket; close itself is idempotent.
func (s *Server) drop(sess *registry.Session) {
	s.registry.Remove(sess.ID())
	_ = sess.Close()
}
