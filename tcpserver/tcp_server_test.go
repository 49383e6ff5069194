package tcpserver

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImprolabFIT/wrpserver/idgenerator"
	"github.com/ImprolabFIT/wrpserver/logger"
)

// echoSession echoes lines until the peer disconnects or Close is called.
type echoSession struct {
	id     uint32
	conn   net.Conn
	closed sync.Once
}

func (e *echoSession) ID() uint32 { return e.id }

func (e *echoSession) Handle() {
	defer e.Close()

	r := bufio.NewReader(e.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if _, err := e.conn.Write([]byte(line)); err != nil {
			return
		}
	}
}

func (e *echoSession) Close() error {
	var err error
	e.closed.Do(func() { err = e.conn.Close() })
	return err
}

func newTestServer(t *testing.T) *TCPServer {
	t.Helper()

	s := &TCPServer{
		Logger:      logger.NewNop(),
		Name:        "test",
		Addr:        "127.0.0.1:0",
		IdGenerator: idgenerator.NewIdGenerator(0),
		NewSession: func(id uint32, conn net.Conn) TCPServerSession {
			return &echoSession{id: id, conn: conn}
		},
	}
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *TCPServer) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", s.ListenAddr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestTCPServer_StartTwice(t *testing.T) {
	s := newTestServer(t)
	assert.True(t, s.Running())
	assert.Error(t, s.Start())
}

func TestTCPServer_StartBadAddr(t *testing.T) {
	s := &TCPServer{Logger: logger.NewNop(), Name: "bad", Addr: "256.0.0.1:bad"}
	assert.Error(t, s.Start())
	assert.False(t, s.Running())
	s.Stop()
}

func TestTCPServer_sessions(t *testing.T) {
	s := newTestServer(t)

	conn := dial(t, s)
	_, err := conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	t.Run("session is registered while connected", func(t *testing.T) {
		assert.Equal(t, 1, s.SessionCount())
		session, ok := s.GetSession(1)
		require.True(t, ok)
		assert.Equal(t, uint32(1), session.ID())
	})

	t.Run("session is removed after disconnect", func(t *testing.T) {
		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool { return s.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("next session gets the next id", func(t *testing.T) {
		dial(t, s)
		assert.Eventually(t, func() bool {
			_, ok := s.GetSession(2)
			return ok
		}, time.Second, 5*time.Millisecond)
	})
}

func TestTCPServer_StopClosesSessions(t *testing.T) {
	s := newTestServer(t)

	conns := []net.Conn{dial(t, s), dial(t, s)}
	assert.Eventually(t, func() bool { return s.SessionCount() == 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.Zero(t, s.SessionCount())

	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, err := conn.Read(make([]byte, 1))
		assert.Error(t, err)
	}

	s.Stop()
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
}
