package wrp

import "time"

// Options tune a session. The zero value of a field means its default,
// except IdleTimeout, WriteTimeout and AckWindow where 0 disables the
// feature.
type Options struct {
	// OutputBufferSize is the capacity of each composing buffer. A FRAME
	// larger than this fails the session.
	OutputBufferSize int
	// PayloadTimeout bounds reading a payload whose header was received.
	PayloadTimeout time.Duration
	// IdleTimeout bounds waiting for the next header outside streaming.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration
	// RequestTimeout bounds connect, disconnect, start and stop calls.
	RequestTimeout time.Duration
	// FrameTimeout bounds waiting for one frame.
	FrameTimeout time.Duration
	// MaxConsecutiveTimeouts ends a stream after this many frame timeouts
	// in a row.
	MaxConsecutiveTimeouts int
	// AckWindow is the number of streamed frames that may be unacknowledged.
	AckWindow uint32
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		OutputBufferSize:       4 << 20,
		PayloadTimeout:         10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequestTimeout:         3 * time.Second,
		FrameTimeout:           time.Second,
		MaxConsecutiveTimeouts: 1,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.OutputBufferSize <= 0 {
		o.OutputBufferSize = def.OutputBufferSize
	}
	if o.PayloadTimeout <= 0 {
		o.PayloadTimeout = def.PayloadTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = def.FrameTimeout
	}
	if o.MaxConsecutiveTimeouts <= 0 {
		o.MaxConsecutiveTimeouts = def.MaxConsecutiveTimeouts
	}

	return o
}
