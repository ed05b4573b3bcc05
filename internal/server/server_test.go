package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupchat/internal/config"
	"groupchat/internal/logger"
	"groupchat/internal/wire"
)

const readTimeout = 2 * time.Second

func startServer(t *testing.T, maxClients int) *Server {
	t.Helper()

	cfg := config.DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MaxClients = maxClients

	srv := New(cfg, logger.NewNopLogger())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

// testClient is a raw protocol peer used to drive the server from tests.
type testClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, buf: make([]byte, 1024)}
}

// readFrame blocks for the next frame, one read per logical frame.
func (c *testClient) readFrame() wire.Frame {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	n, err := c.conn.Read(c.buf)
	require.NoError(c.t, err)
	return wire.Decode(c.buf[:n])
}

func (c *testClient) send(data []byte) {
	c.t.Helper()

	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

func (c *testClient) sendRaw(s string) {
	c.send([]byte(s))
}

// join performs the full handshake and returns the roster announced for it.
func (c *testClient) join(name string) []string {
	c.t.Helper()

	admission := c.readFrame()
	require.Equal(c.t, wire.Accept, admission.Kind)
	c.sendRaw(name)

	roster := c.readFrame()
	require.Equal(c.t, wire.RosterUpdate, roster.Kind)
	return roster.Names
}

// expectClosed asserts the server side has closed the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	n, err := c.conn.Read(c.buf)
	if err == nil {
		require.Zero(c.t, n)
	}
}

func TestServer_singleClientJoin(t *testing.T) {
	// Scenario: first client connects to an empty server and is announced to itself.
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	names := alice.join("Alice")
	assert.Equal(t, []string{"Alice"}, names)
}

func TestServer_secondJoinAndChat(t *testing.T) {
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")

	bob := dialServer(t, srv)
	names := bob.join("Bob")
	assert.Equal(t, []string{"Alice", "Bob"}, names)

	// Alice receives the roster update announcing Bob.
	roster := alice.readFrame()
	require.Equal(t, wire.RosterUpdate, roster.Kind)
	assert.Equal(t, []string{"Alice", "Bob"}, roster.Names)

	// Chat is attributed and fanned out to everyone, sender included.
	alice.send(wire.Encode(wire.ChatFrame("hi")))
	for _, c := range []*testClient{alice, bob} {
		chat := c.readFrame()
		require.Equal(t, wire.Chat, chat.Kind)
		assert.Equal(t, "Alice> hi", chat.Text)
	}
}

func TestServer_chatWithDelimiterRoundTrips(t *testing.T) {
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")

	alice.send(wire.Encode(wire.ChatFrame(`tricky : text, with \ everything`)))
	chat := alice.readFrame()
	require.Equal(t, wire.Chat, chat.Kind)
	assert.Equal(t, `Alice> tricky : text, with \ everything`, chat.Text)
}

func TestServer_nameWithDelimiterIsListedVerbatim(t *testing.T) {
	srv := startServer(t, 5)

	weird := dialServer(t, srv)
	names := weird.join(`We:ird,Na\me`)
	assert.Equal(t, []string{`We:ird,Na\me`}, names)
}

func TestServer_capacity(t *testing.T) {
	t.Run("sequential overflow is denied", func(t *testing.T) {
		srv := startServer(t, 2)

		a := dialServer(t, srv)
		a.join("A")
		b := dialServer(t, srv)
		b.join("B")
		a.readFrame() // roster announcing B

		extra := dialServer(t, srv)
		admission := extra.readFrame()
		assert.Equal(t, wire.Deny, admission.Kind)
		extra.expectClosed()
	})

	t.Run("concurrent admissions never exceed capacity", func(t *testing.T) {
		const capacity = 3
		srv := startServer(t, capacity)

		const attempts = capacity + 4
		results := make([]wire.Kind, attempts)
		conns := make([]net.Conn, attempts)
		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func(idx int) {
				defer wg.Done()
				conn, err := net.Dial("tcp", srv.Addr())
				if err != nil {
					return
				}
				// Keep accepted connections open until every admission has
				// resolved, so freed slots cannot skew the count.
				conns[idx] = conn

				_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
				buf := make([]byte, 1024)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				results[idx] = wire.Decode(buf[:n]).Kind
			}(i)
		}
		wg.Wait()
		defer func() {
			for _, conn := range conns {
				if conn != nil {
					_ = conn.Close()
				}
			}
		}()

		accepted, denied := 0, 0
		for _, kind := range results {
			switch kind {
			case wire.Accept:
				accepted++
			case wire.Deny:
				denied++
			}
		}
		assert.Equal(t, capacity, accepted)
		assert.Equal(t, attempts-capacity, denied)
	})
}

func TestServer_voluntaryDisconnect(t *testing.T) {
	// Scenario: Bob leaves explicitly; only Alice gets the fresh roster and
	// Bob's socket is closed server-side.
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")
	bob := dialServer(t, srv)
	bob.join("Bob")
	alice.readFrame() // roster announcing Bob

	bob.send(wire.Encode(wire.ShutdownFrame(wire.ReasonClientTerminated)))

	roster := alice.readFrame()
	require.Equal(t, wire.RosterUpdate, roster.Kind)
	assert.Equal(t, []string{"Alice"}, roster.Names)

	bob.expectClosed()
}

func TestServer_abruptDisconnect(t *testing.T) {
	// An abrupt reset removes the session without a roster broadcast; the
	// survivors just keep chatting.
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")
	bob := dialServer(t, srv)
	bob.join("Bob")
	alice.readFrame() // roster announcing Bob

	require.NoError(t, bob.conn.Close())
	time.Sleep(50 * time.Millisecond)

	alice.send(wire.Encode(wire.ChatFrame("anyone there?")))
	chat := alice.readFrame()
	require.Equal(t, wire.Chat, chat.Kind)
	assert.Equal(t, "Alice> anyone there?", chat.Text)
}

func TestServer_junkFramesKeepConnectionAlive(t *testing.T) {
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")

	// Neither a malformed frame nor an unknown prefix costs the client its
	// connection on the server side.
	alice.sendRaw("no colon here")
	alice.sendRaw("Whisper:psst")
	alice.sendRaw("a:b:c")
	time.Sleep(50 * time.Millisecond)

	alice.send(wire.Encode(wire.ChatFrame("still here")))
	chat := alice.readFrame()
	require.Equal(t, wire.Chat, chat.Kind)
	assert.Equal(t, "Alice> still here", chat.Text)
}

func TestServer_stop(t *testing.T) {
	t.Run("broadcasts shutdown and closes every session", func(t *testing.T) {
		srv := startServer(t, 5)

		alice := dialServer(t, srv)
		alice.join("Alice")
		bob := dialServer(t, srv)
		bob.join("Bob")
		alice.readFrame() // roster announcing Bob

		srv.Stop()

		for _, c := range []*testClient{alice, bob} {
			f := c.readFrame()
			require.Equal(t, wire.Shutdown, f.Kind)
			assert.Equal(t, wire.ReasonServerTerminated, f.Reason)
			c.expectClosed()
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		srv := startServer(t, 5)
		srv.Stop()
		srv.Stop()
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		srv := New(config.ServerConfig{ListenAddr: "127.0.0.1:0", MaxClients: 1, MaxMessageLength: 1024}, logger.NewNopLogger())
		srv.Stop()
	})

	t.Run("refuses admissions once stopped", func(t *testing.T) {
		srv := startServer(t, 5)
		addr := srv.Addr()
		srv.Stop()

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return // listener already gone, equally fine
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err == nil && n > 0 {
			// A connection that squeezed in before the listener closed must
			// not have been admitted.
			assert.NotEqual(t, wire.Accept, wire.Decode(buf[:n]).Kind)
		}
	})
}

func TestServer_perSessionFrameOrder(t *testing.T) {
	srv := startServer(t, 5)

	alice := dialServer(t, srv)
	alice.join("Alice")
	bob := dialServer(t, srv)
	bob.join("Bob")
	alice.readFrame() // roster announcing Bob

	for _, text := range []string{"one", "two", "three"} {
		alice.send(wire.Encode(wire.ChatFrame(text)))
		for _, c := range []*testClient{alice, bob} {
			chat := c.readFrame()
			require.Equal(t, wire.Chat, chat.Kind)
			assert.Equal(t, "Alice> "+text, chat.Text)
		}
	}
}

func TestServer_startTwice(t *testing.T) {
	srv := startServer(t, 5)
	assert.Error(t, srv.Start())
}
