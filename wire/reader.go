package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

var (
	// ErrDisconnected is returned when the peer closed the stream before the
	// requested bytes arrived.
	ErrDisconnected = errors.New("wire: peer disconnected")
	// ErrTimeout is returned when the read deadline passed before the
	// requested bytes arrived.
	ErrTimeout = errors.New("wire: read timed out")
)

// Conn is the part of net.Conn the Reader needs.
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Reader decodes big-endian fields from a connection. Each read blocks until
// exactly the requested number of bytes arrived, the peer disconnected, the
// deadline expired or an I/O error occurred; the three failures are reported
// as ErrDisconnected, ErrTimeout and a wrapped I/O error respectively.
type Reader struct {
	conn Conn
	br   *bufio.Reader
}

// NewReader wraps conn in a buffered Reader.
func NewReader(conn Conn) *Reader {
	return &Reader{conn: conn, br: bufio.NewReader(conn)}
}

// SetDeadline bounds every following read; a zero timeout removes the bound.
//
// Parameters:
//   - timeout: How long subsequent reads may block, or 0 for no limit
//
// Returns:
//   - An error if the deadline could not be applied to the connection
func (r *Reader) SetDeadline(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return classify(err)
	}

	return nil
}

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	c, err := r.br.ReadByte()
	if err != nil {
		return 0, classify(err)
	}

	return c, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	var p [4]byte
	if _, err := io.ReadFull(r.br, p[:]); err != nil {
		return 0, classify(err)
	}

	return binary.BigEndian.Uint32(p[:]), nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	p := make([]byte, n)
	if n == 0 {
		return p, nil
	}

	if _, err := io.ReadFull(r.br, p); err != nil {
		return nil, classify(err)
	}

	return p, nil
}

// ReadASCII reads n bytes and returns them as a string.
//
// Returns:
//   - ErrNotASCII if any byte is >= 0x80, otherwise the read error if any
func (r *Reader) ReadASCII(n int) (string, error) {
	p, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}

	if !IsASCII(p) {
		return "", ErrNotASCII
	}

	return string(p), nil
}

// ReadHeader reads the type tag and the payload length of the next message.
func (r *Reader) ReadHeader() (Header, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}

	n, err := r.ReadUint32()
	if err != nil {
		return Header{}, err
	}

	return Header{Type: MessageType(t), Length: n}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrDisconnected
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}

	return fmt.Errorf("wire: read failed: %w", err)
}
