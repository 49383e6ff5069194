package wire

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFrame(rng *rand.Rand, h, w uint16) FrameData {
	temps := make([]float32, int(h)*int(w))
	for i := range temps {
		temps[i] = rng.Float32()*120 - 20
	}

	return FrameData{
		ID:           rng.Uint32(),
		Timestamp:    rng.Uint64(),
		Height:       h,
		Width:        w,
		Temperatures: temps,
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sizes := [][2]uint16{{0, 0}, {0, 5}, {1, 1}, {3, 4}, {120, 160}, {480, 640}, {768, 1024}}

	for _, s := range sizes {
		f := randomFrame(rng, s[0], s[1])
		buf := NewBuffer(HeaderLen + PayloadLen(s[0], s[1]))

		require.NoError(t, EncodeFrame(buf, f))
		out := buf.Bytes()
		require.Equal(t, byte(Frame), out[0])
		require.Equal(t, uint32(PayloadLen(s[0], s[1])), binary.BigEndian.Uint32(out[1:5]))

		got, err := DecodeFramePayload(out[HeaderLen:])
		require.NoError(t, err)
		assert.Equal(t, f.ID, got.ID)
		assert.Equal(t, f.Timestamp, got.Timestamp)
		assert.Equal(t, f.Height, got.Height)
		assert.Equal(t, f.Width, got.Width)
		require.Len(t, got.Temperatures, len(f.Temperatures))
		for i := range f.Temperatures {
			if math.Float32bits(f.Temperatures[i]) != math.Float32bits(got.Temperatures[i]) {
				t.Fatalf("sample %d differs for %dx%d", i, s[0], s[1])
			}
		}
	}
}

func TestFrame_SpecialFloatsSurvive(t *testing.T) {
	f := FrameData{
		Height:       1,
		Width:        4,
		Temperatures: []float32{float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN()), float32(math.Copysign(0, -1))},
	}
	buf := NewBuffer(64)
	require.NoError(t, EncodeFrame(buf, f))

	got, err := DecodeFramePayload(buf.Bytes()[HeaderLen:])
	require.NoError(t, err)
	for i := range f.Temperatures {
		assert.Equal(t, math.Float32bits(f.Temperatures[i]), math.Float32bits(got.Temperatures[i]))
	}
}

func TestEncodeFrame_Errors(t *testing.T) {
	t.Run("sample count mismatch", func(t *testing.T) {
		buf := NewBuffer(1024)
		err := EncodeFrame(buf, FrameData{Height: 2, Width: 2, Temperatures: []float32{1}})
		assert.ErrorIs(t, err, ErrFrameSize)
	})

	t.Run("frame larger than buffer overflows", func(t *testing.T) {
		buf := NewBuffer(64)
		f := FrameData{Height: 10, Width: 10, Temperatures: make([]float32, 100)}
		assert.ErrorIs(t, EncodeFrame(buf, f), ErrOverflow)
		assert.Equal(t, 0, buf.Len())
	})
}

func TestDecodeFramePayload_Errors(t *testing.T) {
	t.Run("shorter than fixed part", func(t *testing.T) {
		_, err := DecodeFramePayload(make([]byte, 10))
		assert.ErrorIs(t, err, ErrFrameSize)
	})

	t.Run("length disagrees with dimensions", func(t *testing.T) {
		p := make([]byte, FrameHeaderLen+4)
		binary.BigEndian.PutUint16(p[12:14], 2)
		binary.BigEndian.PutUint16(p[14:16], 2)
		_, err := DecodeFramePayload(p)
		assert.ErrorIs(t, err, ErrFrameSize)
	})
}
