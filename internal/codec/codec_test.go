package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

func TestDecodeIEEEFloatPacket(t *testing.T) {
	buf := bitbuf.New([]byte{0x3F, 0x80, 0x00, 0x00})
	v, err := Decode(&schema.FloatDataEncoding{Bits: 32, Encoding: schema.FloatIEEE754}, buf)
	require.NoError(t, err)
	assert.Equal(t, value.TypeFloat32, v.Type())
	assert.Equal(t, 1.0, v.Float64())
	assert.Equal(t, 32, buf.Position())
}

func TestIntegerSignConventions(t *testing.T) {
	tests := []struct {
		sign     bitbuf.Signedness
		expected int64
	}{
		{bitbuf.Unsigned, 2048},
		{bitbuf.TwosComplement, -2048},
		{bitbuf.OnesComplement, -2047},
		{bitbuf.SignMagnitude, 0},
	}
	for _, tt := range tests {
		t.Run(tt.sign.String(), func(t *testing.T) {
			buf := bitbuf.New([]byte{0x80, 0x00})
			v, err := Decode(&schema.IntegerDataEncoding{Bits: 12, Encoding: tt.sign}, buf)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.Int64())
			assert.Equal(t, tt.sign == bitbuf.Unsigned, v.IsUnsigned())
		})
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	signs := []bitbuf.Signedness{bitbuf.Unsigned, bitbuf.TwosComplement, bitbuf.OnesComplement, bitbuf.SignMagnitude}
	widths := []int{1, 7, 8, 13, 32, 33, 64}
	orders := []bitbuf.ByteOrder{bitbuf.BigEndian, bitbuf.LittleEndian}

	for _, sign := range signs {
		for _, width := range widths {
			if width == 1 && sign != bitbuf.Unsigned {
				continue
			}
			lo, hi := bitbuf.IntRange(width, sign)
			for _, order := range orders {
				enc := &schema.IntegerDataEncoding{Bits: width, Encoding: sign, ByteOrder: order}
				for offset := 0; offset < 8; offset++ {
					var samples []value.Value
					if sign == bitbuf.Unsigned {
						samples = []value.Value{value.Uint64(0), value.Uint64(hi), value.Uint64(hi / 3)}
					} else {
						samples = []value.Value{value.Int64(lo), value.Int64(int64(hi)), value.Int64(-1), value.Int64(0)}
					}
					for _, in := range samples {
						buf := bitbuf.New(make([]byte, 10))
						buf.SetPosition(offset)
						require.NoError(t, Encode(enc, buf, in), "%s %d bits offset %d", sign, width, offset)
						assert.Equal(t, offset+width, buf.Position())

						buf.SetPosition(offset)
						out, err := Decode(enc, buf)
						require.NoError(t, err)
						if sign == bitbuf.Unsigned {
							assert.Equal(t, in.Uint64(), out.Uint64(), "%s %d bits offset %d", sign, width, offset)
						} else {
							assert.Equal(t, in.Int64(), out.Int64(), "%s %d bits offset %d", sign, width, offset)
						}
					}
				}
			}
		}
	}
}

func TestDecodeIntegerKinds(t *testing.T) {
	buf := bitbuf.New(make([]byte, 16))
	v, err := Decode(&schema.IntegerDataEncoding{Bits: 32}, buf)
	require.NoError(t, err)
	assert.Equal(t, value.TypeUint32, v.Type())

	v, err = Decode(&schema.IntegerDataEncoding{Bits: 33, Encoding: bitbuf.TwosComplement}, buf)
	require.NoError(t, err)
	assert.Equal(t, value.TypeInt64, v.Type())
}

func TestEncodeIntegerOutOfRange(t *testing.T) {
	buf := bitbuf.New(make([]byte, 2))
	err := Encode(&schema.IntegerDataEncoding{Bits: 4}, buf, value.Uint64(16))
	assert.ErrorIs(t, err, ErrNotRepresentable)

	err = Encode(&schema.IntegerDataEncoding{Bits: 4, Encoding: bitbuf.TwosComplement}, buf, value.Int64(-9))
	assert.ErrorIs(t, err, ErrNotRepresentable)

	err = Encode(&schema.IntegerDataEncoding{Bits: 4}, buf, value.Int64(-1))
	assert.ErrorIs(t, err, ErrNotRepresentable)

	err = Encode(&schema.IntegerDataEncoding{Bits: 8}, buf, value.Float64(254.6))
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), buf.Bytes()[0])
}

func TestEncodePreservesNeighbours(t *testing.T) {
	buf := bitbuf.New([]byte{0xFF, 0xFF})
	buf.SetPosition(4)
	require.NoError(t, Encode(&schema.IntegerDataEncoding{Bits: 8}, buf, value.Uint32(0)))
	assert.Equal(t, []byte{0xF0, 0x0F}, buf.Bytes())
}

func TestFloatRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		enc   *schema.FloatDataEncoding
		input float64
	}{
		{"ieee16", &schema.FloatDataEncoding{Bits: 16}, -2.5},
		{"ieee32", &schema.FloatDataEncoding{Bits: 32}, 3.25},
		{"ieee64 little endian", &schema.FloatDataEncoding{Bits: 64, ByteOrder: bitbuf.LittleEndian}, math.Pi},
		{"1750a32", &schema.FloatDataEncoding{Bits: 32, Encoding: schema.FloatMILSTD1750A}, -12.5},
		{"1750a48", &schema.FloatDataEncoding{Bits: 48, Encoding: schema.FloatMILSTD1750A}, 1234.5678},
		{"string", &schema.FloatDataEncoding{Encoding: schema.FloatStringEncoded, StringEncoding: &schema.StringDataEncoding{
			SizeType: schema.SizeTerminationChar}}, 0.125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for offset := 0; offset < 8; offset += 3 {
				if tt.enc.Encoding == schema.FloatStringEncoded && offset%8 != 0 {
					continue
				}
				buf := bitbuf.New(make([]byte, 32))
				buf.SetPosition(offset)
				require.NoError(t, Encode(tt.enc, buf, value.Float64(tt.input)))
				end := buf.Position()

				buf.SetPosition(offset)
				out, err := Decode(tt.enc, buf)
				require.NoError(t, err)
				assert.InDelta(t, tt.input, out.Float64(), 1e-6)
				assert.Equal(t, end, buf.Position())
			}
		})
	}
}

func TestMilstd1750aLayout(t *testing.T) {
	tests := []struct {
		name  string
		bits  int
		input float64
		raw   uint64
	}{
		{"one", 32, 1.0, 0x40000001},
		{"half", 32, 0.5, 0x40000000},
		{"minus one", 32, -1.0, 0x80000000},
		{"zero", 32, 0, 0},
		{"extended one", 48, 1.0, 0x400000010000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := toMilstd1750a(tt.input, tt.bits-8)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, raw)

			if tt.bits == 32 {
				assert.Equal(t, tt.input, milstd1750a32(uint32(raw)))
			} else {
				assert.Equal(t, tt.input, milstd1750a48(raw))
			}
		})
	}

	_, err := toMilstd1750a(math.Ldexp(1, 200), 24)
	assert.ErrorIs(t, err, ErrNotRepresentable)
}

func TestHalfFloat(t *testing.T) {
	tests := []struct {
		half uint16
		f    float32
	}{
		{0x3C00, 1.0},
		{0xC000, -2.0},
		{0x7BFF, 65504},
		{0x0001, float32(math.Ldexp(1, -24))},
		{0x0000, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.f, halfToFloat32(tt.half))
		assert.Equal(t, tt.half, float32ToHalf(tt.f))
	}
	assert.True(t, math.IsInf(float64(halfToFloat32(float32ToHalf(1e6))), 1))
	assert.True(t, math.IsNaN(float64(halfToFloat32(float32ToHalf(float32(math.NaN()))))))
}

func TestStringEncodings(t *testing.T) {
	tests := []struct {
		name    string
		enc     *schema.StringDataEncoding
		encoded []byte
	}{
		{"fixed", &schema.StringDataEncoding{SizeType: schema.SizeFixed, Bits: 48}, []byte("abc\x00\x00\x00")},
		{"leading size", &schema.StringDataEncoding{SizeType: schema.SizeLeadingSize, SizeTagBits: 8}, []byte("\x03abc")},
		{"leading size 16", &schema.StringDataEncoding{SizeType: schema.SizeLeadingSize, SizeTagBits: 16}, []byte("\x00\x03abc")},
		{"terminated", &schema.StringDataEncoding{SizeType: schema.SizeTerminationChar}, []byte("abc\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bitbuf.New(make([]byte, len(tt.encoded)))
			require.NoError(t, Encode(tt.enc, buf, value.String("abc")))
			assert.Equal(t, tt.encoded, buf.Bytes())
			assert.Equal(t, len(tt.encoded)*8, SizeOf(tt.enc, value.String("abc")))

			buf.SetPosition(0)
			v, err := Decode(tt.enc, buf)
			require.NoError(t, err)
			assert.Equal(t, "abc", v.Text())
			assert.Equal(t, len(tt.encoded)*8, buf.Position())
		})
	}
}

func TestStringMisaligned(t *testing.T) {
	buf := bitbuf.New([]byte{0x00, 'a', 'b', 0x00})
	buf.SetPosition(3)
	_, err := Decode(&schema.StringDataEncoding{SizeType: schema.SizeFixed, Bits: 16}, buf)
	assert.ErrorIs(t, err, ErrMisaligned)
	assert.Equal(t, 3, buf.Position())
}

func TestTerminationScanUnaligned(t *testing.T) {
	// "hi" followed by the terminator, shifted right by 4 bits
	buf := bitbuf.New([]byte{0x06, 0x86, 0x90, 0x00})
	buf.SetPosition(4)
	v, err := Decode(&schema.StringDataEncoding{SizeType: schema.SizeTerminationChar}, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Text())
	assert.Equal(t, 28, buf.Position())
}

func TestTerminationScanBounded(t *testing.T) {
	buf := bitbuf.New([]byte("abcdef"))
	_, err := Decode(&schema.StringDataEncoding{SizeType: schema.SizeTerminationChar, MaxSizeInBits: 24}, buf)
	assert.ErrorIs(t, err, ErrNoTerminator)
	assert.Equal(t, 0, buf.Position())

	_, err = Decode(&schema.BinaryDataEncoding{SizeType: schema.SizeTerminationChar, TerminationChar: 'z'}, bitbuf.New([]byte("abc")))
	assert.ErrorIs(t, err, ErrNoTerminator)
}

func TestLeadingSizeExceedsBuffer(t *testing.T) {
	buf := bitbuf.New([]byte{0x09, 'a'})
	_, err := Decode(&schema.BinaryDataEncoding{SizeType: schema.SizeLeadingSize, SizeTagBits: 8}, buf)
	assert.ErrorIs(t, err, bitbuf.ErrOutOfRange)
}

func TestBinaryAndBoolean(t *testing.T) {
	buf := bitbuf.New(make([]byte, 4))
	require.NoError(t, Encode(&schema.BooleanDataEncoding{}, buf, value.Bool(true)))
	require.NoError(t, Encode(&schema.BinaryDataEncoding{SizeType: schema.SizeFixed, Bits: 8}, bitbuf.New(buf.Bytes()[1:2]), value.Binary([]byte{0xAB})))
	assert.Equal(t, []byte{0x80, 0xAB, 0x00, 0x00}, buf.Bytes())

	buf.SetPosition(0)
	v, err := Decode(&schema.BooleanDataEncoding{}, buf)
	require.NoError(t, err)
	assert.True(t, v.Bool())

	err = Encode(&schema.BinaryDataEncoding{SizeType: schema.SizeFixed, Bits: 8}, buf, value.String("x"))
	assert.ErrorIs(t, err, ErrNotRepresentable)
}

func TestTerminatedEncodeLeavesValueIntact(t *testing.T) {
	backing := []byte{1, 2, 3, 0xEE}
	v := value.Binary(backing[:3])
	enc := &schema.BinaryDataEncoding{SizeType: schema.SizeTerminationChar, TerminationChar: 'z'}

	buf := bitbuf.New(make([]byte, 4))
	require.NoError(t, Encode(enc, buf, v))
	assert.Equal(t, []byte{1, 2, 3, 'z'}, buf.Bytes())
	assert.Equal(t, []byte{1, 2, 3, 0xEE}, backing, "spare capacity of the value must not be written")
}
