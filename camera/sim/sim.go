// Package sim is a software thermal camera implementing camera.Capability.
// It fires its events asynchronously like a real driver, synthesizes frames
// with a moving hot spot, and can be told to ignore requests to exercise
// timeout paths.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ImprolabFIT/wrpserver/camera"
)

// ErrNotConnected is returned by StartAcquisition on a disconnected camera.
var ErrNotConnected = errors.New("sim: camera not connected")

const defaultFPS = 9

// Faults selects requests the camera silently ignores. An ignored request
// returns nil but never fires its completion event.
type Faults struct {
	IgnoreConnect    bool
	IgnoreDisconnect bool
	IgnoreStart      bool
	IgnoreStop       bool
	StallFrames      bool // acquisition runs but produces no frames
}

// Option configures a Camera.
type Option func(*Camera)

// WithEventDelay delays control events (connected, started, ...) by d.
func WithEventDelay(d time.Duration) Option {
	return func(c *Camera) { c.eventDelay = d }
}

// WithSeed makes the synthesized noise deterministic.
func WithSeed(seed int64) Option {
	return func(c *Camera) { c.rng = rand.New(rand.NewSource(seed)) }
}

// WithFaults sets the initial fault configuration.
func WithFaults(f Faults) Option {
	return func(c *Camera) { c.faults = f }
}

// Camera is a simulated camera. It is safe for concurrent use.
type Camera struct {
	info       camera.Info
	period     time.Duration
	eventDelay time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	faults    Faults
	connected bool
	acquiring bool
	stopLoop  chan struct{}
	loopDone  chan struct{}
	latest    camera.Frame
	seq       uint64
	lastTS    uint64

	subMu  sync.RWMutex
	subs   map[int]func(camera.Event)
	nextID int
}

// New creates a camera described by info. Width and Height default to
// 160x120 and MaxFPS to 9 when unset.
func New(info camera.Info, opts ...Option) *Camera {
	if info.Width <= 0 {
		info.Width = 160
	}
	if info.Height <= 0 {
		info.Height = 120
	}
	if info.MaxFPS <= 0 {
		info.MaxFPS = defaultFPS
	}

	c := &Camera{
		info:   info,
		period: time.Duration(float64(time.Second) / info.MaxFPS),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		subs:   make(map[int]func(camera.Event)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetFaults replaces the fault configuration.
func (c *Camera) SetFaults(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// Info implements camera.Capability.
func (c *Camera) Info() camera.Info {
	return c.info
}

// Subscribe implements camera.Capability.
func (c *Camera) Subscribe(fn func(camera.Event)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Subscribers returns the number of registered event handlers.
func (c *Camera) Subscribers() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

func (c *Camera) emit(e camera.Event) {
	c.subMu.RLock()
	handlers := make([]func(camera.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}

func (c *Camera) emitLater(e camera.Event) {
	go func() {
		if c.eventDelay > 0 {
			time.Sleep(c.eventDelay)
		}
		c.emit(e)
	}()
}

// Connect implements camera.Capability.
func (c *Camera) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.faults.IgnoreConnect {
		return nil
	}

	c.connected = true
	c.emitLater(camera.Connected)
	return nil
}

// Disconnect implements camera.Capability. A running acquisition is stopped
// first.
func (c *Camera) Disconnect() error {
	c.mu.Lock()
	if c.faults.IgnoreDisconnect {
		c.mu.Unlock()
		return nil
	}

	done := c.haltLocked()
	c.connected = false
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.emitLater(camera.Disconnected)
	return nil
}

// IsConnected implements camera.Capability.
func (c *Camera) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// StartAcquisition implements camera.Capability.
func (c *Camera) StartAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	if c.faults.IgnoreStart {
		return nil
	}

	if !c.acquiring {
		c.acquiring = true
		c.stopLoop = make(chan struct{})
		c.loopDone = make(chan struct{})
		go c.acquire(c.stopLoop, c.loopDone)
	}

	c.emitLater(camera.AcquisitionStarted)
	return nil
}

// StopAcquisition implements camera.Capability.
func (c *Camera) StopAcquisition() error {
	c.mu.Lock()
	if c.faults.IgnoreStop {
		c.mu.Unlock()
		return nil
	}

	done := c.haltLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.emitLater(camera.AcquisitionStopped)
	return nil
}

// haltLocked signals the acquisition loop to exit and returns its done
// channel, or nil if it was not running. Caller must hold c.mu.
func (c *Camera) haltLocked() chan struct{} {
	if !c.acquiring {
		return nil
	}

	c.acquiring = false
	close(c.stopLoop)
	return c.loopDone
}

// Acquiring reports whether the acquisition loop is running.
func (c *Camera) Acquiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquiring
}

func (c *Camera) acquire(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.capture() {
				c.emit(camera.NewFrame)
			}
		}
	}
}

// capture synthesizes the next frame and reports whether one was produced.
func (c *Camera) capture() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.faults.StallFrames {
		return false
	}

	w, h := c.info.Width, c.info.Height
	c.seq++

	cx := float64(w) * (0.5 + 0.35*math.Sin(float64(c.seq)/15))
	cy := float64(h) * (0.5 + 0.35*math.Cos(float64(c.seq)/20))
	sigma := float64(min(w, h)) / 6
	if sigma == 0 {
		sigma = 1
	}

	temps := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			spot := 14 * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			temps[y*w+x] = float32(22 + spot + c.rng.NormFloat64()*0.15)
		}
	}

	ts := uint64(time.Now().UnixNano())
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts

	c.latest = camera.Frame{
		Timestamp:    ts,
		Height:       uint16(h),
		Width:        uint16(w),
		Temperatures: temps,
	}
	return true
}

// Snapshot implements camera.Snapshotter. Published frames are never
// mutated, so the returned samples may be shared.
func (c *Camera) Snapshot() camera.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Height implements camera.Capability.
func (c *Camera) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.latest.Height)
}

// Width implements camera.Capability.
func (c *Camera) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.latest.Width)
}

// ImageTimestamp implements camera.Capability.
func (c *Camera) ImageTimestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest.Timestamp
}

// TemperatureValues implements camera.Capability.
func (c *Camera) TemperatureValues() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest.Temperatures
}
