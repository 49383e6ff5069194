// Package camera defines the thermal camera capability consumed by the WRP
// engine and an Adapter that turns its asynchronous events into ordinary
// blocking calls with a bounded worst-case latency.
package camera

import "fmt"

// Event is an asynchronous notification fired by a Capability.
type Event int

const (
	Connected Event = iota
	Disconnected
	AcquisitionStarted
	AcquisitionStopped
	NewFrame
)

// String returns a human-readable name for the event.
func (e Event) String() string {
	switch e {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case AcquisitionStarted:
		return "AcquisitionStarted"
	case AcquisitionStopped:
		return "AcquisitionStopped"
	case NewFrame:
		return "NewFrame"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Info describes a camera for device listings.
type Info struct {
	SerialNumber     string
	ModelName        string
	VendorName       string
	ManufacturerInfo string
	Version          string
	Width            int
	Height           int
	MaxFPS           float64
}

// Capability is the driver-side view of one physical camera. The trigger
// methods (Connect, Disconnect, StartAcquisition, StopAcquisition) return as
// soon as the request is issued; completion is reported later through the
// events delivered to subscribers, on the driver's own goroutines.
//
// The property getters describe the most recent frame and may be read after
// a NewFrame event.
type Capability interface {
	Info() Info

	Connect() error
	Disconnect() error
	StartAcquisition() error
	StopAcquisition() error
	IsConnected() bool

	Height() int
	Width() int
	ImageTimestamp() uint64
	TemperatureValues() []float32

	// Subscribe registers fn for every future event and returns a function
	// that removes the registration.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Frame is one reading taken from a Capability.
type Frame struct {
	Timestamp    uint64
	Height       uint16
	Width        uint16
	Temperatures []float32
}

// Snapshotter is implemented by capabilities that can report all properties
// of the latest frame atomically. The Adapter prefers it over the individual
// getters, which may observe two different frames.
type Snapshotter interface {
	Snapshot() Frame
}
