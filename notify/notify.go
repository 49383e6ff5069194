// Package notify publishes session lifecycle events (sessions opening and
// closing, cameras bound, streams started and ended) for external
// monitoring.
package notify

import (
	"context"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	SessionOpened  Kind = "session.opened"
	SessionClosed  Kind = "session.closed"
	CameraOpened   Kind = "camera.opened"
	CameraClosed   Kind = "camera.closed"
	StreamStarted  Kind = "stream.started"
	StreamStopped  Kind = "stream.stopped"
	StreamEnded    Kind = "stream.ended"
	ProtocolFailed Kind = "session.failed"
)

// Event is one lifecycle notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	Server    string    `json:"server"`
	SessionID uint32    `json:"session_id"`
	Remote    string    `json:"remote,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Frames    uint64    `json:"frames,omitempty"`
	Dropped   uint64    `json:"dropped,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher delivers events. Implementations must be safe for concurrent
// use and must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type nop struct{}

// NewNop returns a Publisher that drops every event.
func NewNop() Publisher {
	return nop{}
}

func (nop) Publish(context.Context, Event) error { return nil }

func (nop) Close() error { return nil }
