package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrOverflow is returned when a write does not fit in the remaining capacity.
	ErrOverflow = errors.New("wire: output buffer overflow")
	// ErrNotASCII is returned when a string field contains a byte >= 0x80.
	ErrNotASCII = errors.New("wire: non-ASCII byte in string field")
	// ErrNoMessage is returned by EndMessage when BeginMessage was not called.
	ErrNoMessage = errors.New("wire: no message in progress")
)

// Buffer is a fixed-capacity output buffer with a write cursor. Every write
// appends big-endian bytes at the cursor and advances it, or fails with
// ErrOverflow and leaves the buffer untouched.
//
// A Buffer is not safe for concurrent use; each writer composes into its own.
type Buffer struct {
	data    []byte
	pos     int
	msgOpen bool
}

// NewBuffer creates a Buffer able to hold capacity bytes.
//
// Parameters:
//   - capacity: Maximum number of bytes a composed message may occupy
//
// Returns:
//   - A new empty Buffer
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Reset moves the cursor back to zero. It must be called before composing a
// new message.
func (b *Buffer) Reset() {
	b.pos = 0
	b.msgOpen = false
}

// Len returns the number of bytes written since the last Reset.
func (b *Buffer) Len() int {
	return b.pos
}

// Cap returns the total capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Remaining returns how many more bytes fit before the buffer overflows.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.pos
}

// Bytes returns the written portion of the buffer. The slice aliases the
// buffer and is only valid until the next write or Reset.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.pos]
}

func (b *Buffer) reserve(n int) ([]byte, error) {
	if n < 0 || n > b.Remaining() {
		return nil, ErrOverflow
	}

	dst := b.data[b.pos : b.pos+n]
	b.pos += n
	return dst, nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) error {
	dst, err := b.reserve(1)
	if err != nil {
		return err
	}

	dst[0] = v
	return nil
}

// WriteUint16 appends v in big-endian order.
func (b *Buffer) WriteUint16(v uint16) error {
	dst, err := b.reserve(2)
	if err != nil {
		return err
	}

	binary.BigEndian.PutUint16(dst, v)
	return nil
}

// WriteUint32 appends v in big-endian order.
func (b *Buffer) WriteUint32(v uint32) error {
	dst, err := b.reserve(4)
	if err != nil {
		return err
	}

	binary.BigEndian.PutUint32(dst, v)
	return nil
}

// WriteUint64 appends v in big-endian order.
func (b *Buffer) WriteUint64(v uint64) error {
	dst, err := b.reserve(8)
	if err != nil {
		return err
	}

	binary.BigEndian.PutUint64(dst, v)
	return nil
}

// WriteFloat32s appends every value as a big-endian IEEE-754 single. The
// whole array is checked against the remaining capacity before anything is
// written.
//
// Parameters:
//   - values: The samples to append, in order
//
// Returns:
//   - ErrOverflow if the array does not fit; nothing is written in that case
func (b *Buffer) WriteFloat32s(values []float32) error {
	if len(values) > b.Remaining()/4 {
		return ErrOverflow
	}

	dst, err := b.reserve(len(values) * 4)
	if err != nil {
		return err
	}

	for i, v := range values {
		binary.BigEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}

	return nil
}

// WriteASCII appends the bytes of s without a length prefix.
//
// Parameters:
//   - s: The string to append; every byte must be below 0x80
//
// Returns:
//   - ErrNotASCII if s contains a non-ASCII byte, ErrOverflow if it does not fit
func (b *Buffer) WriteASCII(s string) error {
	if !IsASCII([]byte(s)) {
		return ErrNotASCII
	}

	dst, err := b.reserve(len(s))
	if err != nil {
		return err
	}

	copy(dst, s)
	return nil
}

// BeginMessage resets the buffer, writes the type tag and reserves the
// length prefix. The payload is then appended with the Write methods and the
// prefix is filled in by EndMessage.
func (b *Buffer) BeginMessage(t MessageType) error {
	b.Reset()
	if err := b.WriteByte(byte(t)); err != nil {
		return err
	}

	if err := b.WriteUint32(0); err != nil {
		b.Reset()
		return err
	}

	b.msgOpen = true
	return nil
}

// EndMessage patches the length prefix of the message started by
// BeginMessage with the number of payload bytes written since.
func (b *Buffer) EndMessage() error {
	if !b.msgOpen || b.pos < HeaderLen {
		return ErrNoMessage
	}

	binary.BigEndian.PutUint32(b.data[1:HeaderLen], uint32(b.pos-HeaderLen))
	b.msgOpen = false
	return nil
}

// IsASCII reports whether every byte of p is below 0x80.
func IsASCII(p []byte) bool {
	for _, c := range p {
		if c >= 0x80 {
			return false
		}
	}

	return true
}
