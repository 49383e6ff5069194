// Package wrpclient provides an event-driven WRP client. A background read
// loop decodes server messages: streamed frames go to the OnFrame handler
// while replies answer the pending requests in the order they were sent.
package wrpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/device"
	"github.com/ImprolabFIT/wrpserver/wire"
)

var (
	// ErrClosed is returned by requests on a closed client.
	ErrClosed = errors.New("wrpclient: client is closed")
	// ErrNotConnected is returned by requests before Connect succeeded.
	ErrNotConnected = errors.New("wrpclient: not connected")
	// ErrConnectionLost fails the requests still pending when the connection drops.
	ErrConnectionLost = errors.New("wrpclient: connection lost")
	// ErrUnexpectedReply is returned when the server answered with a message
	// the request does not accept.
	ErrUnexpectedReply = errors.New("wrpclient: unexpected reply")
	// ErrPayloadTooLarge is reported when the server declares a payload above
	// Config.MaxPayload.
	ErrPayloadTooLarge = errors.New("wrpclient: payload too large")
)

// ServerError is an ERROR reply.
type ServerError struct {
	Code wire.ErrorCode
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("wrpclient: server error %s", e.Code)
}

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Closed                              // Client has been closed and cannot reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// MessageEvent is emitted for every message that is not a streamed frame.
type MessageEvent struct {
	Header    wire.Header
	Payload   []byte
	Timestamp time.Time
}

// FrameEvent carries one streamed frame.
type FrameEvent struct {
	Frame     wire.FrameData
	Timestamp time.Time
}

// ErrorEvent is emitted when a read, write or decode error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is invoked from its own goroutine.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is invoked from its own goroutine.
type MessageHandler func(event MessageEvent)

// FrameHandler is invoked on the read goroutine, in arrival order. A slow
// handler delays every following message.
type FrameHandler func(event FrameEvent)

// ErrorHandler is invoked from its own goroutine.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" of the WRP server.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxPayload bounds the declared length of incoming messages.
	MaxPayload uint32
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s, MaxPayload 64MiB
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxPayload:        64 << 20,
	}
}

// reply is what the read loop hands to a waiting request.
type reply struct {
	header  wire.Header
	payload []byte
	err     error
}

type pendingRequest struct {
	msg    wire.MessageType
	result chan reply
}

// Client is a WRP client. It is safe for concurrent use; concurrent
// requests are pipelined and answered in the order they were written.
type Client struct {
	config Config
	conn   net.Conn
	state  ConnectionState

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler
	onFrame           FrameHandler
	onError           ErrorHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	pending []*pendingRequest
	closed  bool
	wg      sync.WaitGroup
}

// New creates a client in the Disconnected state; call Connect to dial.
func New(config Config) *Client {
	if config.MaxPayload == 0 {
		config.MaxPayload = DefaultConfig("").MaxPayload
	}

	return &Client{config: config, state: Disconnected}
}

// OnConnectionState registers the handler for connection state changes,
// replacing the previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the handler for replies and other non-frame messages.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnFrame registers the handler for streamed frames.
func (c *Client) OnFrame(handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = handler
}

// OnError registers the handler for connection and decode errors.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts the read loop.
//
// Returns:
//   - nil on success; ErrClosed, an "already connected" error or the dial error
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return errors.New("wrpclient: already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close shuts the connection, fails pending requests and waits for the read
// loop. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.wg.Wait()
	c.failPending(ErrClosed)
	c.setState(Closed, nil)

	return nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// GetCameraList requests the camera listing.
func (c *Client) GetCameraList(ctx context.Context) ([]camera.Info, error) {
	r, err := c.request(ctx, wire.GetCameraList, nil)
	if err != nil {
		return nil, err
	}

	if err := expect(r, wire.CameraList); err != nil {
		return nil, err
	}

	return device.ParseXML(string(r.payload))
}

// OpenCamera binds the connection to the camera with the given serial.
func (c *Client) OpenCamera(ctx context.Context, serial string) error {
	if len(serial) == 0 || len(serial) > wire.MaxSerialLength {
		return fmt.Errorf("wrpclient: serial must be 1..%d bytes", wire.MaxSerialLength)
	}

	r, err := c.request(ctx, wire.OpenCamera, func(b *wire.Buffer) error {
		return wire.EncodeASCII(b, wire.OpenCamera, serial)
	})
	if err != nil {
		return err
	}

	return expect(r, wire.OK)
}

// CloseCamera releases the bound camera.
func (c *Client) CloseCamera(ctx context.Context) error {
	return c.simple(ctx, wire.CloseCamera)
}

// GetFrame grabs a single frame from the bound camera.
func (c *Client) GetFrame(ctx context.Context) (wire.FrameData, error) {
	r, err := c.request(ctx, wire.GetFrame, nil)
	if err != nil {
		return wire.FrameData{}, err
	}

	if err := expect(r, wire.Frame); err != nil {
		return wire.FrameData{}, err
	}

	return wire.DecodeFramePayload(r.payload)
}

// StartContinuousGrabbing starts the stream. Frames arrive at the OnFrame
// handler, possibly before this call returns.
func (c *Client) StartContinuousGrabbing(ctx context.Context) error {
	return c.simple(ctx, wire.StartContinuousGrabbing)
}

// StopContinuousGrabbing stops the stream. No frame is delivered after it
// returned successfully.
func (c *Client) StopContinuousGrabbing(ctx context.Context) error {
	return c.simple(ctx, wire.StopContinuousGrabbing)
}

// Ack acknowledges streamed frames up to id. The server does not reply.
func (c *Client) Ack(id uint32) error {
	buf := wire.NewBuffer(wire.HeaderLen + wire.AckPayloadLen)
	if err := wire.EncodeUint32(buf, wire.AckContinuousGrabbing, id); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.write(buf.Bytes())
}

func (c *Client) simple(ctx context.Context, t wire.MessageType) error {
	r, err := c.request(ctx, t, nil)
	if err != nil {
		return err
	}

	return expect(r, wire.OK)
}

func expect(r reply, want wire.MessageType) error {
	switch r.header.Type {
	case want:
		return nil
	case wire.Error:
		if len(r.payload) != 1 {
			return fmt.Errorf("%w: ERROR with %d payload bytes", ErrUnexpectedReply, len(r.payload))
		}
		return &ServerError{Code: wire.ErrorCode(r.payload[0])}
	default:
		return fmt.Errorf("%w: %s, want %s", ErrUnexpectedReply, r.header.Type, want)
	}
}

// request writes one message and waits for its reply. If ctx ends first the
// connection is closed, since later replies could no longer be matched.
func (c *Client) request(ctx context.Context, t wire.MessageType, encode func(*wire.Buffer) error) (reply, error) {
	buf := wire.NewBuffer(wire.HeaderLen + wire.MaxSerialLength)
	if encode == nil {
		encode = func(b *wire.Buffer) error { return wire.EncodeEmpty(b, t) }
	}
	if err := encode(buf); err != nil {
		return reply{}, err
	}

	p := &pendingRequest{msg: t, result: make(chan reply, 1)}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return reply{}, ErrClosed
	}
	if c.state != Connected {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return reply{}, ErrNotConnected
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	err := c.write(buf.Bytes())
	c.writeMu.Unlock()
	if err != nil {
		return reply{}, err
	}

	select {
	case r := <-p.result:
		return r, r.err
	case <-ctx.Done():
		c.dropConnection(ctx.Err())
		return reply{}, ctx.Err()
	}
}

// write sends p; caller must hold writeMu. A failed write drops the
// connection, which fails every pending request.
func (c *Client) write(p []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(p); err != nil {
		c.emitError(err)
		c.dropConnection(err)
		return err
	}

	return nil
}

func (c *Client) dropConnection(cause error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.failPending(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	r := wire.NewReader(conn)
	err := c.readMessages(r)

	c.mu.Lock()
	closing := c.closed
	c.conn = nil
	c.mu.Unlock()

	if closing {
		return
	}

	_ = conn.Close()
	c.emitError(err)
	c.failPending(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	c.setState(Disconnected, err)
}

func (c *Client) readMessages(r *wire.Reader) error {
	for {
		h, err := r.ReadHeader()
		if err != nil {
			return err
		}

		if h.Length > c.config.MaxPayload {
			return fmt.Errorf("%w: %s declared %d bytes", ErrPayloadTooLarge, h.Type, h.Length)
		}

		payload, err := r.ReadBytes(int(h.Length))
		if err != nil {
			return err
		}

		now := time.Now()

		// a FRAME answers a pending GET_FRAME; any other FRAME is streamed
		head := c.head()
		if h.Type == wire.Frame && (head == nil || head.msg != wire.GetFrame) {
			frame, err := wire.DecodeFramePayload(payload)
			if err != nil {
				return err
			}

			c.emitFrame(FrameEvent{Frame: frame, Timestamp: now})
			continue
		}

		c.emitMessage(MessageEvent{Header: h, Payload: payload, Timestamp: now})

		if p := c.popPending(); p != nil {
			p.result <- reply{header: h, payload: payload}
		}
	}
}

func (c *Client) head() *pendingRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.pending) == 0 {
		return nil
	}

	return c.pending[0]
}

func (c *Client) popPending() *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}

	p := c.pending[0]
	c.pending = c.pending[1:]
	return p
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range pending {
		p.result <- reply{err: err}
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitMessage(event MessageEvent) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		go handler(event)
	}
}

func (c *Client) emitFrame(event FrameEvent) {
	c.mu.RLock()
	handler := c.onFrame
	c.mu.RUnlock()

	if handler != nil {
		handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
