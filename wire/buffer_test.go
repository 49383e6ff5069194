package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Writes(t *testing.T) {
	t.Run("integers are appended big-endian", func(t *testing.T) {
		b := NewBuffer(32)
		require.NoError(t, b.WriteByte(0xAB))
		require.NoError(t, b.WriteUint16(0x0102))
		require.NoError(t, b.WriteUint32(0x03040506))
		require.NoError(t, b.WriteUint64(0x0708090A0B0C0D0E))

		assert.Equal(t, []byte{
			0xAB,
			0x01, 0x02,
			0x03, 0x04, 0x05, 0x06,
			0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E,
		}, b.Bytes())
		assert.Equal(t, 15, b.Len())
		assert.Equal(t, 17, b.Remaining())
	})

	t.Run("floats are appended as IEEE-754 big-endian", func(t *testing.T) {
		b := NewBuffer(8)
		require.NoError(t, b.WriteFloat32s([]float32{1.0, -2.5}))
		assert.Equal(t, []byte{0x3F, 0x80, 0x00, 0x00, 0xC0, 0x20, 0x00, 0x00}, b.Bytes())
	})

	t.Run("ascii string is appended without prefix", func(t *testing.T) {
		b := NewBuffer(8)
		require.NoError(t, b.WriteASCII("SN1"))
		assert.Equal(t, []byte("SN1"), b.Bytes())
	})

	t.Run("reset moves cursor to zero", func(t *testing.T) {
		b := NewBuffer(4)
		require.NoError(t, b.WriteUint32(1))
		b.Reset()
		assert.Equal(t, 0, b.Len())
		assert.Equal(t, 4, b.Remaining())
	})
}

func TestBuffer_Overflow(t *testing.T) {
	cases := []struct {
		name  string
		write func(b *Buffer) error
	}{
		{"byte", func(b *Buffer) error { return b.WriteByte(1) }},
		{"uint16", func(b *Buffer) error { return b.WriteUint16(1) }},
		{"uint32", func(b *Buffer) error { return b.WriteUint32(1) }},
		{"uint64", func(b *Buffer) error { return b.WriteUint64(1) }},
		{"floats", func(b *Buffer) error { return b.WriteFloat32s([]float32{1, 2}) }},
		{"ascii", func(b *Buffer) error { return b.WriteASCII("abcdefgh") }},
	}

	for _, tc := range cases {
		t.Run(tc.name+" overflow leaves buffer unchanged", func(t *testing.T) {
			b := NewBuffer(3)
			require.NoError(t, b.WriteByte(0xFF))
			require.NoError(t, b.WriteByte(0xEE))
			before := append([]byte(nil), b.Bytes()...)

			err := tc.write(b)
			if tc.name == "byte" {
				require.NoError(t, err)
				assert.ErrorIs(t, tc.write(b), ErrOverflow)
				assert.Equal(t, 3, b.Len())
				return
			}

			assert.ErrorIs(t, err, ErrOverflow)
			assert.Equal(t, before, b.Bytes())
		})
	}
}

func TestBuffer_WriteASCII_rejectsHighBytes(t *testing.T) {
	b := NewBuffer(16)
	err := b.WriteASCII("caf\xc3\xa9")
	assert.ErrorIs(t, err, ErrNotASCII)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_Message(t *testing.T) {
	t.Run("end message patches length", func(t *testing.T) {
		b := NewBuffer(32)
		require.NoError(t, b.BeginMessage(CameraList))
		require.NoError(t, b.WriteASCII("<Cameras/>"))
		require.NoError(t, b.EndMessage())

		out := b.Bytes()
		assert.Equal(t, byte(CameraList), out[0])
		assert.Equal(t, []byte{0, 0, 0, 10}, out[1:5])
		assert.Equal(t, "<Cameras/>", string(out[5:]))
	})

	t.Run("end message without begin fails", func(t *testing.T) {
		b := NewBuffer(32)
		assert.ErrorIs(t, b.EndMessage(), ErrNoMessage)
	})

	t.Run("begin message resets previous content", func(t *testing.T) {
		b := NewBuffer(32)
		require.NoError(t, b.WriteUint64(math.MaxUint64))
		require.NoError(t, EncodeEmpty(b, OK))
		assert.Equal(t, []byte{1, 0, 0, 0, 0}, b.Bytes())
	})

	t.Run("error message carries code", func(t *testing.T) {
		b := NewBuffer(32)
		require.NoError(t, EncodeError(b, CameraNotFound))
		assert.Equal(t, []byte{2, 0, 0, 0, 1, 1}, b.Bytes())
	})

	t.Run("header does not fit", func(t *testing.T) {
		b := NewBuffer(4)
		assert.ErrorIs(t, b.BeginMessage(OK), ErrOverflow)
		assert.Equal(t, 0, b.Len())
	})
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "GET_CAMERA_LIST", GetCameraList.String())
	assert.Equal(t, "ACK_CONTINUOUS_GRABBING", AckContinuousGrabbing.String())
	assert.Equal(t, "UNKNOWN(99)", MessageType(99).String())
	assert.Equal(t, "CAMERA_NOT_ACQUIRING", CameraNotAcquiring.String())
	assert.Equal(t, "UNKNOWN(42)", ErrorCode(42).String())
}
