package wrpclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/camera/sim"
	"github.com/ImprolabFIT/wrpserver/device"
	"github.com/ImprolabFIT/wrpserver/wire"
	"github.com/ImprolabFIT/wrpserver/wrp"
)

const serial = "SIM-0001"

func startServer(t *testing.T, opts wrp.Options) string {
	t.Helper()

	cam := sim.New(camera.Info{SerialNumber: serial, Width: 8, Height: 6, MaxFPS: 100}, sim.WithSeed(1))
	dir, err := device.NewStaticDirectory(cam)
	require.NoError(t, err)

	srv, err := wrp.NewServer(wrp.Config{Addr: "127.0.0.1:0", Options: opts, Directory: dir})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv.Addr().String()
}

func connect(t *testing.T, addr string) *Client {
	t.Helper()

	c := New(DefaultConfig(addr))
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_requests(t *testing.T) {
	c := connect(t, startServer(t, wrp.Options{RequestTimeout: 500 * time.Millisecond}))
	ctx := ctxTimeout(t)

	infos, err := c.GetCameraList(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, serial, infos[0].SerialNumber)

	var serr *ServerError
	err = c.OpenCamera(ctx, "missing")
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, wire.CameraNotFound, serr.Code)

	require.NoError(t, c.OpenCamera(ctx, serial))

	frame, err := c.GetFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), frame.ID)
	assert.Equal(t, uint16(6), frame.Height)
	assert.Equal(t, uint16(8), frame.Width)
	assert.Len(t, frame.Temperatures, 48)

	require.NoError(t, c.CloseCamera(ctx))
	assert.Error(t, c.OpenCamera(ctx, ""))
}

func TestClient_streaming(t *testing.T) {
	c := connect(t, startServer(t, wrp.Options{RequestTimeout: 500 * time.Millisecond}))
	ctx := ctxTimeout(t)

	var (
		mu     sync.Mutex
		ids    []uint32
		closed bool
	)
	c.OnFrame(func(ev FrameEvent) {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, closed, "frame after stop")
		ids = append(ids, ev.Frame.ID)
	})

	require.NoError(t, c.OpenCamera(ctx, serial))
	require.NoError(t, c.StartContinuousGrabbing(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.StopContinuousGrabbing(ctx))
	mu.Lock()
	closed = true
	for i, id := range ids {
		assert.Equal(t, uint32(i+1), id)
	}
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	// the camera is selected again
	_, err := c.GetFrame(ctx)
	require.NoError(t, err)
}

func TestClient_ackWindow(t *testing.T) {
	c := connect(t, startServer(t, wrp.Options{RequestTimeout: 500 * time.Millisecond, AckWindow: 2}))
	ctx := ctxTimeout(t)

	frames := make(chan uint32, 16)
	c.OnFrame(func(ev FrameEvent) { frames <- ev.Frame.ID })

	require.NoError(t, c.OpenCamera(ctx, serial))
	require.NoError(t, c.StartContinuousGrabbing(ctx))

	assert.Equal(t, uint32(1), <-frames)
	assert.Equal(t, uint32(2), <-frames)
	select {
	case id := <-frames:
		t.Fatalf("frame %d beyond the window", id)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Ack(2))
	assert.Equal(t, uint32(3), <-frames)
	assert.Equal(t, uint32(4), <-frames)

	require.NoError(t, c.StopContinuousGrabbing(ctx))
}

// scriptedServer accepts one connection and hands it to fn.
func scriptedServer(t *testing.T, fn func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()

	return ln.Addr().String()
}

func TestClient_pipelinedReplies(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn) {
		r := wire.NewReader(conn)
		for range 2 {
			h, err := r.ReadHeader()
			if err != nil {
				return
			}
			_, _ = r.ReadBytes(int(h.Length))
		}

		buf := wire.NewBuffer(64)
		_ = wire.EncodeEmpty(buf, wire.OK)
		_, _ = conn.Write(buf.Bytes())
		_ = wire.EncodeError(buf, wire.CameraNotOpen)
		_, _ = conn.Write(buf.Bytes())
		time.Sleep(100 * time.Millisecond)
	})

	c := connect(t, addr)
	ctx := ctxTimeout(t)

	first := make(chan error, 1)
	go func() { first <- c.OpenCamera(ctx, serial) }()

	require.Eventually(t, func() bool { return c.head() != nil }, time.Second, time.Millisecond)
	err := c.CloseCamera(ctx)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, wire.CameraNotOpen, serr.Code)
	assert.NoError(t, <-first)
}

func TestClient_connectionLost(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn) {
		r := wire.NewReader(conn)
		_, _ = r.ReadHeader()
	})

	c := connect(t, addr)

	states := make(chan ConnectionState, 4)
	c.OnConnectionState(func(ev ConnectionStateEvent) { states <- ev.State })

	_, err := c.GetCameraList(ctxTimeout(t))
	assert.ErrorIs(t, err, ErrConnectionLost)

	assert.Eventually(t, func() bool { return c.GetState() == Disconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Disconnected, <-states)

	_, err = c.GetCameraList(ctxTimeout(t))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_unexpectedReply(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn) {
		r := wire.NewReader(conn)
		h, _ := r.ReadHeader()
		_, _ = r.ReadBytes(int(h.Length))

		buf := wire.NewBuffer(64)
		_ = wire.EncodeASCII(buf, wire.CameraList, "<Cameras></Cameras>")
		_, _ = conn.Write(buf.Bytes())
		time.Sleep(100 * time.Millisecond)
	})

	c := connect(t, addr)
	err := c.OpenCamera(ctxTimeout(t), serial)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestClient_requestTimeoutDropsConnection(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn) {
		time.Sleep(time.Second)
	})

	c := connect(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetCameraList(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestClient_lifecycle(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1:1"))

	_, err := c.GetCameraList(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "Disconnected", c.GetState().String())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.GetState())
	assert.ErrorIs(t, c.Connect(), ErrClosed)
}
