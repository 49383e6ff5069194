package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrFrameSize is returned when a FRAME payload length disagrees with the
// declared height and width.
var ErrFrameSize = errors.New("wire: frame payload size mismatch")

// FrameData is the content of a FRAME message.
type FrameData struct {
	ID           uint32
	Timestamp    uint64
	Height       uint16
	Width        uint16
	Temperatures []float32 // row-major, Height*Width samples
}

// PayloadLen returns the FRAME payload size for the given dimensions.
func PayloadLen(height, width uint16) int {
	return FrameHeaderLen + int(height)*int(width)*4
}

// EncodeFrame composes a complete FRAME message into buf, replacing whatever
// the buffer held.
//
// Parameters:
//   - buf: Destination buffer; reset before writing
//   - f: Frame to encode; len(f.Temperatures) must equal Height*Width
//
// Returns:
//   - ErrFrameSize if the sample count is wrong, ErrOverflow if the message
//     does not fit in buf
func EncodeFrame(buf *Buffer, f FrameData) error {
	if len(f.Temperatures) != int(f.Height)*int(f.Width) {
		return fmt.Errorf("%w: %dx%d with %d samples", ErrFrameSize, f.Height, f.Width, len(f.Temperatures))
	}

	if HeaderLen+PayloadLen(f.Height, f.Width) > buf.Cap() {
		buf.Reset()
		return ErrOverflow
	}

	if err := buf.BeginMessage(Frame); err != nil {
		return err
	}

	for _, write := range []func() error{
		func() error { return buf.WriteUint32(f.ID) },
		func() error { return buf.WriteUint64(f.Timestamp) },
		func() error { return buf.WriteUint16(f.Height) },
		func() error { return buf.WriteUint16(f.Width) },
		func() error { return buf.WriteFloat32s(f.Temperatures) },
	} {
		if err := write(); err != nil {
			buf.Reset()
			return err
		}
	}

	return buf.EndMessage()
}

// DecodeFramePayload parses the payload of a FRAME message.
//
// Parameters:
//   - p: The payload bytes, without the 5-byte message header
//
// Returns:
//   - The decoded frame, or ErrFrameSize if p is shorter than the fixed part
//     or its length disagrees with height*width
func DecodeFramePayload(p []byte) (FrameData, error) {
	if len(p) < FrameHeaderLen {
		return FrameData{}, fmt.Errorf("%w: %d bytes", ErrFrameSize, len(p))
	}

	f := FrameData{
		ID:        binary.BigEndian.Uint32(p[0:4]),
		Timestamp: binary.BigEndian.Uint64(p[4:12]),
		Height:    binary.BigEndian.Uint16(p[12:14]),
		Width:     binary.BigEndian.Uint16(p[14:16]),
	}

	if len(p) != PayloadLen(f.Height, f.Width) {
		return FrameData{}, fmt.Errorf("%w: %dx%d in %d bytes", ErrFrameSize, f.Height, f.Width, len(p))
	}

	samples := p[FrameHeaderLen:]
	f.Temperatures = make([]float32, len(samples)/4)
	for i := range f.Temperatures {
		f.Temperatures[i] = math.Float32frombits(binary.BigEndian.Uint32(samples[i*4:]))
	}

	return f, nil
}

// EncodeError composes an ERROR message carrying code.
func EncodeError(buf *Buffer, code ErrorCode) error {
	if err := buf.BeginMessage(Error); err != nil {
		return err
	}

	if err := buf.WriteByte(byte(code)); err != nil {
		buf.Reset()
		return err
	}

	return buf.EndMessage()
}

// EncodeEmpty composes a message of type t with an empty payload.
func EncodeEmpty(buf *Buffer, t MessageType) error {
	if err := buf.BeginMessage(t); err != nil {
		return err
	}

	return buf.EndMessage()
}

// EncodeASCII composes a message of type t whose payload is the ASCII string s.
func EncodeASCII(buf *Buffer, t MessageType, s string) error {
	if err := buf.BeginMessage(t); err != nil {
		return err
	}

	if err := buf.WriteASCII(s); err != nil {
		buf.Reset()
		return err
	}

	return buf.EndMessage()
}

// EncodeUint32 composes a message of type t whose payload is a single
// big-endian uint32.
func EncodeUint32(buf *Buffer, t MessageType, v uint32) error {
	if err := buf.BeginMessage(t); err != nil {
		return err
	}

	if err := buf.WriteUint32(v); err != nil {
		buf.Reset()
		return err
	}

	return buf.EndMessage()
}
