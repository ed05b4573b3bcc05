package registry

import (
	"net"
	"sync"
)

// Session is the server-side record of one connected participant. It owns the
// socket for its lifetime: created at accept, named once during the handshake,
// and destroyed (removed from the registry, then closed) on disconnect or
// service shutdown. The per-connection receive goroutine holds a working
// reference; the registry entry is the owner.
type Session struct {
	id   uint32
	conn net.Conn
	addr string

	mu   sync.Mutex
	name string

	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn) *Session {
	addr := ""
	if remote := conn.RemoteAddr(); remote != nil {
		addr = remote.String()
	}

	return &Session{id: id, conn: conn, addr: addr}
}

// ID returns the session's unique identifier assigned at registration.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the remote address of the underlying connection.
func (s *Session) RemoteAddr() string {
	return s.addr
}

// SetName records the display name received during the handshake. The name is
// immutable once set; later calls are ignored.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == "" {
		s.name = name
	}
}

// Name returns the display name, or the empty string before the handshake
// completes.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Named reports whether the handshake has completed for this session.
func (s *Session) Named() bool {
	return s.Name() != ""
}

// Send writes one encoded frame to the connection. Sends are serialized per
// session so frames issued in sequence arrive in order for this recipient.
//
// Returns:
//   - An error if the write failed
func (s *Session) Send(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, err := s.conn.Write(data)
	return err
}

// Read blocks for the next chunk from the connection, reading at most
// len(buf) bytes. One read corresponds to one logical frame on this protocol.
func (s *Session) Read(buf []byte) (int, error) {
	return s.conn.Read(buf)
}

// Close closes the underlying connection. It is idempotent: the second and
// later calls are no-ops returning the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}
