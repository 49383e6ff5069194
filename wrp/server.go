// Package wrp implements the WRP protocol engine: the connection state
// machine, the per-connection session loop and the continuous grab worker
// that streams frames while a client is subscribed.
package wrp

import (
	"errors"
	"net"
	"sort"

	"github.com/ImprolabFIT/wrpserver/device"
	"github.com/ImprolabFIT/wrpserver/idgenerator"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/notify"
	"github.com/ImprolabFIT/wrpserver/safeset"
	"github.com/ImprolabFIT/wrpserver/tcpserver"
)

// DefaultName is the server name used in logs and events when none is set.
const DefaultName = "wrp"

// environment is what every session of a server shares.
type environment struct {
	name      string
	log       logger.Logger
	opts      Options
	directory device.Directory
	notifier  notify.Publisher
	streams   *safeset.SafeSet[uint32]
}

// Config describes a Server.
type Config struct {
	Name      string
	Addr      string
	Options   Options
	Directory device.Directory
	Notifier  notify.Publisher
	Logger    logger.Logger
}

// Server accepts WRP clients and runs a Session for each.
type Server struct {
	env *environment
	tcp *tcpserver.TCPServer
}

// NewServer validates cfg and builds a server. Nil Notifier and Logger
// default to no-ops.
//
// Parameters:
//   - cfg: Server configuration; Directory is required
//
// Returns:
//   - The server, ready to Start
func NewServer(cfg Config) (*Server, error) {
	if cfg.Directory == nil {
		return nil, errors.New("wrp: a device directory is required")
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewNop()
	}

	env := &environment{
		name:      cfg.Name,
		log:       cfg.Logger,
		opts:      cfg.Options.withDefaults(),
		directory: cfg.Directory,
		notifier:  cfg.Notifier,
		streams:   safeset.NewSafeSet[uint32](),
	}

	s := &Server{env: env}
	s.tcp = &tcpserver.TCPServer{
		Logger:      cfg.Logger,
		Name:        cfg.Name,
		Addr:        cfg.Addr,
		IdGenerator: idgenerator.NewIdGenerator(0),
		NewSession:  s.newSession,
	}

	return s, nil
}

func (s *Server) newSession(id uint32, conn net.Conn) tcpserver.TCPServerSession {
	return newSession(id, conn, s.env)
}

// Start begins accepting connections.
func (s *Server) Start() error {
	return s.tcp.Start()
}

// Stop closes the listener and every session, waiting for their teardown.
func (s *Server) Stop() {
	s.tcp.Stop()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	return s.tcp.SessionCount()
}

// Streaming returns the ids of sessions whose grab worker is running,
// ascending. A stream that ended on its own is no longer listed.
func (s *Server) Streaming() []uint32 {
	ids := s.env.streams.Values()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Options returns the effective session options.
func (s *Server) Options() Options {
	return s.env.opts
}
