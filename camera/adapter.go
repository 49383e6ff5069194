package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ImprolabFIT/wrpserver/logger"
)

var (
	// ErrTimeout is returned when the awaited event did not fire in time.
	ErrTimeout = errors.New("camera: timed out waiting for event")
	// ErrBadFrame is returned when the capability reports inconsistent frame
	// properties.
	ErrBadFrame = errors.New("camera: inconsistent frame properties")
	// ErrNotAssigned is returned by an Adapter that was already released.
	ErrNotAssigned = errors.New("camera: no camera assigned")
)

// Adapter binds one Capability and exposes its operations as blocking calls.
// Every call clears the matching signal, issues the trigger, then waits for
// the event, the timeout or ctx cancellation, whichever comes first.
//
// Event callbacks only raise signals; they never touch caller state.
type Adapter struct {
	log logger.Logger

	mu          sync.RWMutex
	cam         Capability
	unsubscribe func()

	signals map[Event]chan struct{}
}

// NewAdapter subscribes to cam's events and returns an Adapter bound to it.
//
// Parameters:
//   - cam: The camera capability to drive
//   - log: Logger for event tracing
//
// Returns:
//   - A bound Adapter; call Release when the binding ends
func NewAdapter(cam Capability, log logger.Logger) *Adapter {
	a := &Adapter{
		log: log.With(logger.Field{Key: "serial", Value: cam.Info().SerialNumber}),
		cam: cam,
		signals: map[Event]chan struct{}{
			Connected:          make(chan struct{}, 1),
			Disconnected:       make(chan struct{}, 1),
			AcquisitionStarted: make(chan struct{}, 1),
			AcquisitionStopped: make(chan struct{}, 1),
			NewFrame:           make(chan struct{}, 1),
		},
	}
	a.unsubscribe = cam.Subscribe(a.onEvent)
	return a
}

// Serial returns the serial number of the bound camera, or "" once released.
func (a *Adapter) Serial() string {
	cam := a.camera()
	if cam == nil {
		return ""
	}

	return cam.Info().SerialNumber
}

// Release unsubscribes from the camera and unbinds it. Later calls fail with
// ErrNotAssigned. It is safe to call multiple times.
func (a *Adapter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}

	a.cam = nil
}

func (a *Adapter) camera() Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cam
}

func (a *Adapter) onEvent(e Event) {
	ch, ok := a.signals[e]
	if !ok {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (a *Adapter) reset(e Event) {
	select {
	case <-a.signals[e]:
	default:
	}
}

func (a *Adapter) wait(ctx context.Context, e Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.signals[e]:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, e, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) call(ctx context.Context, e Event, timeout time.Duration, name string, trigger func(Capability) error) error {
	cam := a.camera()
	if cam == nil {
		a.log.Warn("no camera assigned", logger.Field{Key: "op", Value: name})
		return ErrNotAssigned
	}

	a.reset(e)
	a.log.Debug("camera call", logger.Field{Key: "op", Value: name})
	if err := trigger(cam); err != nil {
		return fmt.Errorf("camera: %s: %w", name, err)
	}

	return a.wait(ctx, e, timeout)
}

// Connect connects the camera and waits for the Connected event.
//
// Parameters:
//   - ctx: Cancels the wait early
//   - timeout: Upper bound for the wait
//
// Returns:
//   - nil on success, ErrTimeout, ctx.Err(), ErrNotAssigned or the trigger error
func (a *Adapter) Connect(ctx context.Context, timeout time.Duration) error {
	return a.call(ctx, Connected, timeout, "connect", Capability.Connect)
}

// Disconnect disconnects the camera and waits for the Disconnected event.
func (a *Adapter) Disconnect(ctx context.Context, timeout time.Duration) error {
	return a.call(ctx, Disconnected, timeout, "disconnect", Capability.Disconnect)
}

// StartAcquisition starts acquisition and waits for AcquisitionStarted.
func (a *Adapter) StartAcquisition(ctx context.Context, timeout time.Duration) error {
	return a.call(ctx, AcquisitionStarted, timeout, "start acquisition", Capability.StartAcquisition)
}

// StopAcquisition stops acquisition and waits for AcquisitionStopped.
func (a *Adapter) StopAcquisition(ctx context.Context, timeout time.Duration) error {
	return a.call(ctx, AcquisitionStopped, timeout, "stop acquisition", Capability.StopAcquisition)
}

// NextFrame waits for a frame newer than the call and snapshots it. Frames
// that arrived before the call are not returned.
//
// Parameters:
//   - ctx: Cancels the wait early
//   - timeout: Upper bound for the wait
//
// Returns:
//   - The frame, or ErrTimeout, ErrBadFrame, ctx.Err() or ErrNotAssigned
func (a *Adapter) NextFrame(ctx context.Context, timeout time.Duration) (Frame, error) {
	cam := a.camera()
	if cam == nil {
		return Frame{}, ErrNotAssigned
	}

	a.reset(NewFrame)
	if err := a.wait(ctx, NewFrame, timeout); err != nil {
		return Frame{}, err
	}

	if snap, ok := cam.(Snapshotter); ok {
		f := snap.Snapshot()
		if len(f.Temperatures) != int(f.Height)*int(f.Width) {
			return Frame{}, fmt.Errorf("%w: %dx%d with %d samples", ErrBadFrame, f.Height, f.Width, len(f.Temperatures))
		}

		return f, nil
	}

	h, w := cam.Height(), cam.Width()
	if h < 0 || w < 0 || h > math.MaxUint16 || w > math.MaxUint16 {
		return Frame{}, fmt.Errorf("%w: dimensions %dx%d", ErrBadFrame, h, w)
	}

	temps := cam.TemperatureValues()
	if len(temps) != h*w {
		return Frame{}, fmt.Errorf("%w: %dx%d with %d samples", ErrBadFrame, h, w, len(temps))
	}

	return Frame{
		Timestamp:    cam.ImageTimestamp(),
		Height:       uint16(h),
		Width:        uint16(w),
		Temperatures: temps,
	}, nil
}
