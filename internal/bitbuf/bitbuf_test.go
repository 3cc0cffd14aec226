package bitbuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBitsBigEndian(t *testing.T) {
	buf := New([]byte{0xA5, 0x3C, 0xFF})

	v, err := buf.GetBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xA), v)

	v, err = buf.GetBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x53), v)

	v, err = buf.GetBits(12)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xCFF), v)
	assert.Equal(t, 24, buf.Position())
	assert.Equal(t, 0, buf.RemainingBits())
}

func TestGetBitsLittleEndian(t *testing.T) {
	buf := New([]byte{0x34, 0x12, 0x78, 0x56})
	buf.SetByteOrder(LittleEndian)

	v, err := buf.GetBits(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)

	v, err = buf.GetBits(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5678), v)
}

func TestRoundTripAllOffsets(t *testing.T) {
	widths := []int{1, 7, 8, 12, 13, 31, 32, 33, 57, 63, 64}

	for _, order := range []ByteOrder{BigEndian, LittleEndian} {
		for _, width := range widths {
			for offset := 0; offset < 8; offset++ {
				values := []uint64{0, 1, Mask(width), Mask(width) >> 1, 0xDEADBEEFCAFEBABE & Mask(width)}
				for _, want := range values {
					data := make([]byte, 10)
					buf := New(data)
					buf.SetByteOrder(order)
					buf.SetPosition(offset)
					require.NoError(t, buf.PutBits(want, width))
					assert.Equal(t, offset+width, buf.Position())

					buf.SetPosition(offset)
					got, err := buf.GetBits(width)
					require.NoError(t, err)
					assert.Equal(t, want, got, "order=%s width=%d offset=%d", order, width, offset)
				}
			}
		}
	}
}

func TestPutBitsPreservesNeighbours(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF}
	buf := New(data)
	buf.SetPosition(5)
	require.NoError(t, buf.PutBits(0, 10))

	assert.Equal(t, []byte{0xF8, 0x01, 0xFF}, data)

	data = []byte{0x00, 0x00}
	buf = New(data)
	buf.SetByteOrder(LittleEndian)
	buf.SetPosition(3)
	require.NoError(t, buf.PutBits(0x1F, 5))
	assert.Equal(t, []byte{0xF8, 0x00}, data)
}

func TestSignConventions(t *testing.T) {
	tests := []struct {
		name string
		sign Signedness
		want int64
	}{
		{name: "unsigned", sign: Unsigned, want: 2048},
		{name: "twos complement", sign: TwosComplement, want: -2048},
		{name: "ones complement", sign: OnesComplement, want: -2047},
		{name: "sign magnitude", sign: SignMagnitude, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New([]byte{0x80, 0x00})
			v, err := buf.GetInt(12, tt.sign)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestSignedRoundTrip(t *testing.T) {
	for _, sign := range []Signedness{TwosComplement, OnesComplement, SignMagnitude} {
		for _, v := range []int64{-2047, -100, -1, 0, 1, 100, 2047} {
			data := make([]byte, 3)
			buf := New(data)
			buf.SetPosition(3)
			require.NoError(t, buf.PutInt(v, 12, sign))
			buf.SetPosition(3)
			got, err := buf.GetInt(12, sign)
			require.NoError(t, err)
			assert.Equal(t, v, got, "sign=%s", sign)
		}
	}

	data := make([]byte, 8)
	buf := New(data)
	require.NoError(t, buf.PutInt(-1<<63, 64, TwosComplement))
	buf.SetPosition(0)
	got, err := buf.GetInt(64, TwosComplement)
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<63), got)
}

func TestIntRange(t *testing.T) {
	lo, hi := IntRange(8, TwosComplement)
	assert.Equal(t, int64(-128), lo)
	assert.Equal(t, uint64(127), hi)

	lo, hi = IntRange(8, OnesComplement)
	assert.Equal(t, int64(-127), lo)
	assert.Equal(t, uint64(127), hi)

	lo, hi = IntRange(8, Unsigned)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, uint64(255), hi)

	lo, _ = IntRange(64, TwosComplement)
	assert.Equal(t, int64(-1<<63), lo)
}

func TestOutOfRange(t *testing.T) {
	buf := New([]byte{0x00, 0x00})

	_, err := buf.GetBits(0)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = buf.GetBits(65)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	buf.SetPosition(10)
	_, err = buf.GetBits(7)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Equal(t, 10, buf.Position(), "failed read must not move the cursor")

	buf.SetPosition(40)
	assert.Equal(t, 0, buf.RemainingBits())
	assert.ErrorIs(t, buf.PutBits(1, 1), ErrOutOfRange)
}

func TestBytes(t *testing.T) {
	buf := New([]byte{0x01, 0x02, 0x03, 0x04})

	_, err := buf.GetBits(4)
	require.NoError(t, err)
	_, err = buf.GetBytes(1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	buf.SetPosition(8)
	p, err := buf.GetBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, p)
	assert.Equal(t, 24, buf.Position())

	out := make([]byte, 3)
	w := New(out)
	require.NoError(t, w.PutBytes([]byte{0xAA, 0xBB}))
	assert.ErrorIs(t, w.PutBytes([]byte{0x01, 0x02}), ErrOutOfRange)
	assert.Equal(t, []byte{0xAA, 0xBB, 0x00}, out)
}
