package wrp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/camera/sim"
	"github.com/ImprolabFIT/wrpserver/device"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/notify"
	"github.com/ImprolabFIT/wrpserver/wire"
)

const (
	testSerial = "SIM-0001"
	testWidth  = 4
	testHeight = 3
)

func testOptions() Options {
	return Options{
		PayloadTimeout:         200 * time.Millisecond,
		WriteTimeout:           time.Second,
		RequestTimeout:         300 * time.Millisecond,
		FrameTimeout:           300 * time.Millisecond,
		MaxConsecutiveTimeouts: 1,
	}
}

func newTestCamera(serial string, faults sim.Faults) *sim.Camera {
	return sim.New(camera.Info{
		SerialNumber: serial,
		ModelName:    "Sim",
		Width:        testWidth,
		Height:       testHeight,
		MaxFPS:       100,
	}, sim.WithSeed(7), sim.WithFaults(faults))
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]notify.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}

	return out
}

type fixture struct {
	server *Server
	events *recorder
	cams   []*sim.Camera
}

func newFixture(t *testing.T, opts Options, cams ...*sim.Camera) *fixture {
	t.Helper()

	if len(cams) == 0 {
		cams = []*sim.Camera{newTestCamera(testSerial, sim.Faults{})}
	}

	caps := make([]camera.Capability, 0, len(cams))
	for _, c := range cams {
		caps = append(caps, c)
	}

	dir, err := device.NewStaticDirectory(caps...)
	require.NoError(t, err)

	events := &recorder{}
	srv, err := NewServer(Config{
		Name:      "test",
		Addr:      "127.0.0.1:0",
		Options:   opts,
		Directory: dir,
		Notifier:  events,
		Logger:    logger.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return &fixture{server: srv, events: events, cams: cams}
}

// client is a raw protocol peer.
type client struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
}

func (f *fixture) dial(t *testing.T) *client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", f.server.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &client{t: t, conn: conn, r: wire.NewReader(conn)}
}

func (c *client) sendRaw(p []byte) {
	c.t.Helper()
	_, err := c.conn.Write(p)
	require.NoError(c.t, err)
}

func (c *client) send(t wire.MessageType, payload []byte) {
	c.t.Helper()

	buf := wire.NewBuffer(wire.HeaderLen + len(payload))
	require.NoError(c.t, buf.BeginMessage(t))
	for _, b := range payload {
		require.NoError(c.t, buf.WriteByte(b))
	}
	require.NoError(c.t, buf.EndMessage())
	c.sendRaw(buf.Bytes())
}

func (c *client) sendUint32(t wire.MessageType, v uint32) {
	c.t.Helper()

	buf := wire.NewBuffer(wire.HeaderLen + 4)
	require.NoError(c.t, wire.EncodeUint32(buf, t, v))
	c.sendRaw(buf.Bytes())
}

// read returns the next message or the read error.
func (c *client) read(timeout time.Duration) (wire.Header, []byte, error) {
	if err := c.r.SetDeadline(timeout); err != nil {
		return wire.Header{}, nil, err
	}

	h, err := c.r.ReadHeader()
	if err != nil {
		return h, nil, err
	}

	p, err := c.r.ReadBytes(int(h.Length))
	return h, p, err
}

func (c *client) expect(want wire.MessageType) []byte {
	c.t.Helper()

	h, p, err := c.read(2 * time.Second)
	require.NoError(c.t, err)
	require.Equal(c.t, want, h.Type, "payload %v", p)
	return p
}

func (c *client) expectError(code wire.ErrorCode) {
	c.t.Helper()
	require.Equal(c.t, []byte{byte(code)}, c.expect(wire.Error))
}

// expectClosed asserts the server closes the connection without replying.
// Unread request bytes may turn the close into a reset, so any failure
// other than a timeout counts.
func (c *client) expectClosed() {
	c.t.Helper()

	h, _, err := c.read(2 * time.Second)
	require.Error(c.t, err, "unexpected %s", h.Type)
	require.NotErrorIs(c.t, err, wire.ErrTimeout)
}

func (c *client) open(serial string) {
	c.t.Helper()
	c.send(wire.OpenCamera, []byte(serial))
	c.expect(wire.OK)
}
