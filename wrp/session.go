package wrp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/notify"
	"github.com/ImprolabFIT/wrpserver/wire"
)

var (
	// ErrProtocolViolation is returned when the client sent a message that
	// is not allowed in the current state or declared a wrong payload length.
	ErrProtocolViolation = errors.New("wrp: protocol violation")
	// ErrPanic wraps a panic recovered inside a handler.
	ErrPanic = errors.New("wrp: handler panicked")
)

// handler runs an action state and returns the state to continue in.
type handler func(s *Session) (State, error)

var handlers = map[State]handler{
	GetCameraList:           (*Session).handleGetCameraList,
	OpenCamera:              (*Session).handleOpenCamera,
	CloseCamera:             (*Session).handleCloseCamera,
	GetFrame:                (*Session).handleGetFrame,
	StartContinuousGrabbing: (*Session).handleStartGrabbing,
	StopContinuousGrabbing:  (*Session).handleStopGrabbing,
}

// Session is the server side of one client connection. Handle runs the
// protocol loop on the calling goroutine; state, header and camera binding
// belong to that goroutine alone.
type Session struct {
	id     uint32
	conn   net.Conn
	remote string
	log    logger.Logger
	env    *environment

	reader *wire.Reader
	out    *outbox
	buf    *wire.Buffer

	state  State
	header wire.Header
	camera *camera.Adapter
	worker *grabWorker

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	downOnce  sync.Once
	finished  chan struct{}
}

func newSession(id uint32, conn net.Conn, env *environment) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	remote := conn.RemoteAddr().String()

	return &Session{
		id:     id,
		conn:   conn,
		remote: remote,
		log: env.log.With(
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "remote", Value: remote},
		),
		env:      env,
		reader:   wire.NewReader(conn),
		out:      newOutbox(conn, env.opts.WriteTimeout),
		buf:      wire.NewBuffer(env.opts.OutputBufferSize),
		state:    Connected,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// ID implements tcpserver.TCPServerSession.
func (s *Session) ID() uint32 {
	return s.id
}

// State returns the current state. Only meaningful on the Handle goroutine
// or after Handle returned.
func (s *Session) State() State {
	return s.state
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Close ends the session from any goroutine: pending camera waits are
// cancelled and the blocked read fails, which makes Handle tear down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})

	return err
}

// Handle implements tcpserver.TCPServerSession.
func (s *Session) Handle() {
	defer s.teardown()

	s.log.Info("session started")
	s.publish(notify.Event{Kind: notify.SessionOpened})

	for {
		if err := s.step(); err != nil {
			s.logEnd(err)
			return
		}
	}
}

func (s *Session) logEnd(err error) {
	switch {
	case errors.Is(err, wire.ErrDisconnected), errors.Is(err, net.ErrClosed), s.ctx.Err() != nil:
		s.log.Info("client disconnected", logger.Field{Key: "state", Value: s.state.String()})
	case errors.Is(err, wire.ErrTimeout):
		s.log.Warn("client timed out", logger.Field{Key: "state", Value: s.state.String()}, logger.Field{Key: "error", Value: err.Error()})
	default:
		s.log.Error("session failed", logger.Field{Key: "state", Value: s.state.String()}, logger.Field{Key: "error", Value: err.Error()})
		s.publish(notify.Event{Kind: notify.ProtocolFailed, Reason: err.Error()})
	}
}

// step performs one iteration: read a header in a waiting state or run the
// handler of an action state.
func (s *Session) step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", logger.Field{Key: "panic", Value: fmt.Sprint(r)}, logger.Field{Key: "stack", Value: string(debug.Stack())})
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if s.state.Waiting() {
		return s.receive()
	}

	h, ok := handlers[s.state]
	if !ok {
		return fmt.Errorf("wrp: no handler for state %s", s.state)
	}

	next, err := h(s)
	if err != nil {
		return err
	}

	s.state = next
	return nil
}

// receive reads the next header and moves to the action state it selects.
func (s *Session) receive() error {
	idle := s.env.opts.IdleTimeout
	if s.state == ContinuousGrabbing {
		idle = 0
	}

	if err := s.reader.SetDeadline(idle); err != nil {
		return err
	}

	h, err := s.reader.ReadHeader()
	if err != nil {
		return err
	}

	s.header = h
	s.log.Debug("message received",
		logger.Field{Key: "state", Value: s.state.String()},
		logger.Field{Key: "type", Value: h.Type.String()},
		logger.Field{Key: "length", Value: h.Length},
	)

	if HandledInPlace(s.state, h.Type) {
		return s.handleAck()
	}

	next, ok := Next(s.state, h.Type)
	if !ok {
		return fmt.Errorf("%w: %s in state %s", ErrProtocolViolation, h.Type, s.state)
	}

	s.state = next
	return nil
}

// expectLength fails closed when the declared payload length is not n.
func (s *Session) expectLength(n uint32) error {
	if s.header.Length != n {
		return fmt.Errorf("%w: %s declared %d payload bytes, want %d", ErrProtocolViolation, s.header.Type, s.header.Length, n)
	}

	return nil
}

func (s *Session) payloadDeadline() error {
	return s.reader.SetDeadline(s.env.opts.PayloadTimeout)
}

// reply writes the message composed in s.buf.
func (s *Session) reply() error {
	return s.out.send(s.buf.Bytes())
}

func (s *Session) replyEmpty(t wire.MessageType) error {
	if err := wire.EncodeEmpty(s.buf, t); err != nil {
		return err
	}

	return s.reply()
}

func (s *Session) replyError(code wire.ErrorCode) error {
	s.log.Debug("replying error", logger.Field{Key: "code", Value: code.String()})
	if err := wire.EncodeError(s.buf, code); err != nil {
		return err
	}

	return s.reply()
}

func (s *Session) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.env.opts.RequestTimeout)
}

func (s *Session) serial() string {
	if s.camera == nil {
		return ""
	}

	return s.camera.Serial()
}

func (s *Session) publish(ev notify.Event) {
	ev.SessionID = s.id
	ev.Remote = s.remote
	if ev.Serial == "" {
		ev.Serial = s.serial()
	}
	if ev.Server == "" {
		ev.Server = s.env.name
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.env.notifier.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", logger.Field{Key: "kind", Value: string(ev.Kind)}, logger.Field{Key: "error", Value: err.Error()})
	}
}

// unbind releases the camera binding, if any.
func (s *Session) unbind() {
	if s.camera == nil {
		return
	}

	s.camera.Release()
	s.camera = nil
}

// teardown stops streaming, disconnects the camera and closes the
// connection. It runs once, at the end of Handle.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		// a worker blocked writing to a client that stopped reading only
		// returns once the socket is closed
		if s.worker != nil {
			s.worker.halt()
		}
		_ = s.Close()

		if s.worker != nil {
			s.worker.stop()
			s.worker = nil
			s.env.streams.Remove(s.id)
		}

		if s.camera != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.env.opts.RequestTimeout)
			if s.state == ContinuousGrabbing || s.state == StopContinuousGrabbing {
				if err := s.camera.StopAcquisition(ctx, s.env.opts.RequestTimeout); err != nil {
					s.log.Warn("stop acquisition on teardown failed", logger.Field{Key: "error", Value: err.Error()})
				}
			}
			if err := s.camera.Disconnect(ctx, s.env.opts.RequestTimeout); err != nil {
				s.log.Warn("disconnect on teardown failed", logger.Field{Key: "error", Value: err.Error()})
			}
			cancel()

			s.publish(notify.Event{Kind: notify.CameraClosed, Reason: "session closed"})
			s.unbind()
		}

		s.out.close()

		s.publish(notify.Event{Kind: notify.SessionClosed})
		s.log.Info("session closed")
		close(s.finished)
	})
}
