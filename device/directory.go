// Package device enumerates the cameras a server can hand out and renders
// the CAMERA_LIST document clients receive.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/safemap"
)

// ErrDuplicateSerial is returned when two cameras share a serial number.
var ErrDuplicateSerial = errors.New("device: duplicate serial number")

// Directory is the device lookup the protocol engine depends on.
type Directory interface {
	// ListXML renders all known cameras as an ASCII XML document.
	ListXML(ctx context.Context) (string, error)

	// FindBySerial returns the camera with the given serial number.
	FindBySerial(serial string) (camera.Capability, bool)
}

// StaticDirectory holds a fixed set of cameras registered at startup.
// Listing order is registration order.
type StaticDirectory struct {
	mu      sync.RWMutex
	order   []string
	cameras *safemap.SafeMap[string, camera.Capability]
}

// NewStaticDirectory creates a directory of cams.
//
// Parameters:
//   - cams: Cameras to register, in listing order
//
// Returns:
//   - The directory, or ErrDuplicateSerial if two cameras share a serial
func NewStaticDirectory(cams ...camera.Capability) (*StaticDirectory, error) {
	d := &StaticDirectory{cameras: safemap.NewSafeMap[string, camera.Capability]()}

	for _, cam := range cams {
		if err := d.Register(cam); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Register adds cam to the directory.
func (d *StaticDirectory) Register(cam camera.Capability) error {
	serial := cam.Info().SerialNumber

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, loaded := d.cameras.LoadOrStore(serial, cam); loaded {
		return fmt.Errorf("%w: %q", ErrDuplicateSerial, serial)
	}

	d.order = append(d.order, serial)
	return nil
}

// FindBySerial implements Directory.
func (d *StaticDirectory) FindBySerial(serial string) (camera.Capability, bool) {
	return d.cameras.Load(serial)
}

// Cameras returns the descriptions of all cameras in listing order.
func (d *StaticDirectory) Cameras() []camera.Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]camera.Info, 0, len(d.order))
	for _, serial := range d.order {
		if cam, ok := d.cameras.Load(serial); ok {
			infos = append(infos, cam.Info())
		}
	}

	return infos
}

// ListXML implements Directory.
func (d *StaticDirectory) ListXML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return RenderXML(d.Cameras())
}
