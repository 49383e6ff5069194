// Package tcpserver accepts TCP connections and runs one session per
// connection, keeping a registry of live sessions for shutdown.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImprolabFIT/wrpserver/idgenerator"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/safemap"
)

const (
	// DefaultRelistenDelay is the pause before re-binding after the
	// listener failed.
	DefaultRelistenDelay = 10 * time.Second

	maxAcceptBackoff = time.Second
)

// NewSessionFunc creates the session for an accepted connection.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// TCPServer accepts connections on Addr and hands each one to a session
// built by NewSession. Configure the exported fields before Start.
type TCPServer struct {
	Logger        logger.Logger
	Name          string
	Addr          string
	NewSession    NewSessionFunc
	IdGenerator   *idgenerator.IdGenerator
	RelistenDelay time.Duration

	mu       sync.Mutex
	listener net.Listener
	sessions *safemap.SafeMap[uint32, TCPServerSession]
	running  atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or binding fails
func (s *TCPServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server %s already running", s.Name)
	}

	if s.IdGenerator == nil {
		s.IdGenerator = idgenerator.NewIdGenerator(0)
	}
	if s.RelistenDelay <= 0 {
		s.RelistenDelay = DefaultRelistenDelay
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.running.Store(false)
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.sessions = safemap.NewSafeMap[uint32, TCPServerSession]()
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return nil
}

// ListenAddr returns the bound address, useful when Addr used port 0.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener, closes every live session and waits for their
// Handle calls to return. Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	close(s.stop)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.sessions.Range(func(id uint32, session TCPServerSession) bool {
		if err := session.Close(); err != nil {
			s.Logger.Debug("session close failed", logger.Field{Key: "session_id", Value: id}, logger.Field{Key: "error", Value: err})
		}

		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Running reports whether the server is accepting connections.
func (s *TCPServer) Running() bool {
	return s.running.Load()
}

// GetSession returns the live session with the given id.
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	if s.sessions == nil {
		return nil, false
	}

	return s.sessions.Load(id)
}

// SessionCount returns the number of live sessions.
func (s *TCPServer) SessionCount() int {
	if s.sessions == nil {
		return 0
	}

	return s.sessions.Len()
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.Logger.Warn(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err}, logger.Field{Key: "retry_in", Value: backoff.String()})
				if !s.sleep(backoff) {
					return
				}
				continue
			}

			s.Logger.Error(fmt.Sprintf("%s server listener failed", s.Name), logger.Field{Key: "error", Value: err})
			if ln = s.relisten(ln); ln == nil {
				return
			}
			continue
		}

		backoff = 0
		s.serve(conn)
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	id := s.IdGenerator.Id()
	session := s.NewSession(id, conn)
	s.sessions.Store(id, session)

	s.Logger.Debug("session accepted", logger.Field{Key: "session_id", Value: id}, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sessions.Delete(id)
		session.Handle()
	}()

	// Stop may have run its Range before the Store above
	if !s.running.Load() {
		_ = session.Close()
	}
}

// relisten closes the failed listener and binds Addr again after
// RelistenDelay, repeating until it succeeds or the server stops.
func (s *TCPServer) relisten(failed net.Listener) net.Listener {
	_ = failed.Close()

	for {
		if !s.sleep(s.RelistenDelay) {
			return nil
		}

		ln, err := net.Listen("tcp", s.Addr)
		if err != nil {
			s.Logger.Error(fmt.Sprintf("%s server re-listen failed", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			_ = ln.Close()
			return nil
		}
		s.listener = ln
		s.mu.Unlock()

		s.Logger.Info(fmt.Sprintf("%s server listening again", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
		return ln
	}
}

// sleep waits for d and reports false if the server stopped meanwhile.
func (s *TCPServer) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.stop:
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return 5 * time.Millisecond
	}

	return min(cur*2, maxAcceptBackoff)
}
