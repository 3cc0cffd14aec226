// Package codec converts between encoded packet fields and raw values.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

var (
	// ErrMisaligned is returned when a byte oriented field does not start on
	// a byte boundary. The field is skipped, the packet is not.
	ErrMisaligned = errors.New("field is not byte aligned")
	// ErrUnsupported is returned for encodings without a decode path.
	ErrUnsupported = errors.New("unsupported encoding")
	// ErrNotRepresentable is returned when a value does not fit its encoding.
	ErrNotRepresentable = errors.New("value not representable")
	// ErrNoTerminator is returned when a termination scan reaches its bound.
	ErrNoTerminator = errors.New("termination character not found")
)

// Decode reads the field described by enc at the cursor position and
// returns its raw value. The cursor is advanced past the field.
func Decode(enc schema.DataEncoding, buf *bitbuf.Buffer) (value.Value, error) {
	switch e := enc.(type) {
	case *schema.IntegerDataEncoding:
		return decodeInteger(e, buf)
	case *schema.FloatDataEncoding:
		return decodeFloat(e, buf)
	case *schema.StringDataEncoding:
		b, err := decodeSized(e.SizeType, e.Bits, e.SizeTagBits, e.TerminationChar, e.MaxSizeInBits, buf)
		if err != nil {
			return value.None, err
		}
		if e.SizeType == schema.SizeFixed {
			b = bytes.TrimRight(b, "\x00")
		}
		return value.String(string(b)), nil
	case *schema.BinaryDataEncoding:
		b, err := decodeSized(e.SizeType, e.Bits, e.SizeTagBits, e.TerminationChar, e.MaxSizeInBits, buf)
		if err != nil {
			return value.None, err
		}
		return value.Binary(b), nil
	case *schema.BooleanDataEncoding:
		buf.SetByteOrder(e.ByteOrder)
		raw, err := buf.GetBits(e.SizeInBits())
		if err != nil {
			return value.None, err
		}
		return value.Bool(raw != 0), nil
	}
	return value.None, fmt.Errorf("%w: %T", ErrUnsupported, enc)
}

// Encode writes v at the cursor position using enc and advances the cursor.
// Bits of the buffer outside the field are preserved.
func Encode(enc schema.DataEncoding, buf *bitbuf.Buffer, v value.Value) error {
	switch e := enc.(type) {
	case *schema.IntegerDataEncoding:
		return encodeInteger(e, buf, v)
	case *schema.FloatDataEncoding:
		return encodeFloat(e, buf, v)
	case *schema.StringDataEncoding:
		var s string
		switch {
		case v.Type() == value.TypeString || v.Type() == value.TypeEnumerated:
			s = v.Text()
		case v.IsValid():
			s = v.String()
		default:
			return fmt.Errorf("%w: no value", ErrNotRepresentable)
		}
		return encodeSized(e.SizeType, e.Bits, e.SizeTagBits, e.TerminationChar, e.MaxSizeInBits, []byte(s), buf)
	case *schema.BinaryDataEncoding:
		if v.Type() != value.TypeBinary {
			return fmt.Errorf("%w: %s as binary", ErrNotRepresentable, v.Type())
		}
		return encodeSized(e.SizeType, e.Bits, e.SizeTagBits, e.TerminationChar, e.MaxSizeInBits, v.Bytes(), buf)
	case *schema.BooleanDataEncoding:
		var raw uint64
		switch {
		case v.Type() == value.TypeBool:
			if v.Bool() {
				raw = 1
			}
		case v.IsInteger():
			if v.Uint64() != 0 {
				raw = 1
			}
		default:
			return fmt.Errorf("%w: %s as boolean", ErrNotRepresentable, v.Type())
		}
		buf.SetByteOrder(e.ByteOrder)
		return buf.PutBits(raw, e.SizeInBits())
	}
	return fmt.Errorf("%w: %T", ErrUnsupported, enc)
}

func decodeInteger(e *schema.IntegerDataEncoding, buf *bitbuf.Buffer) (value.Value, error) {
	buf.SetByteOrder(e.ByteOrder)
	raw, err := buf.GetBits(e.Bits)
	if err != nil {
		return value.None, err
	}
	if e.Encoding == bitbuf.Unsigned {
		if e.Bits <= 32 {
			return value.Uint32(uint32(raw)), nil
		}
		return value.Uint64(raw), nil
	}
	v := bitbuf.Interpret(raw, e.Bits, e.Encoding)
	if e.Bits <= 32 {
		return value.Int32(int32(v)), nil
	}
	return value.Int64(v), nil
}

func encodeInteger(e *schema.IntegerDataEncoding, buf *bitbuf.Buffer, v value.Value) error {
	lo, hi := bitbuf.IntRange(e.Bits, e.Encoding)
	var raw uint64
	switch {
	case v.IsUnsigned():
		u := v.Uint64()
		if u > hi {
			return fmt.Errorf("%w: %d does not fit %d bits %s", ErrNotRepresentable, u, e.Bits, e.Encoding)
		}
		raw = u
	case v.IsFloat():
		f := math.Round(v.Float64())
		switch {
		case math.IsNaN(f) || f < float64(lo) || f > float64(hi):
			return fmt.Errorf("%w: %v does not fit %d bits %s", ErrNotRepresentable, v.Float64(), e.Bits, e.Encoding)
		case f >= 0 && e.Encoding == bitbuf.Unsigned:
			raw = uint64(f)
		default:
			raw = bitbuf.Represent(int64(f), e.Bits, e.Encoding)
		}
	case v.IsInteger() || v.Type() == value.TypeEnumerated || v.Type() == value.TypeBool:
		i := v.Int64()
		if i < lo || (i > 0 && uint64(i) > hi) {
			return fmt.Errorf("%w: %d does not fit %d bits %s", ErrNotRepresentable, i, e.Bits, e.Encoding)
		}
		raw = bitbuf.Represent(i, e.Bits, e.Encoding)
	default:
		return fmt.Errorf("%w: %s as integer", ErrNotRepresentable, v.Type())
	}
	buf.SetByteOrder(e.ByteOrder)
	return buf.PutBits(raw, e.Bits)
}

func decodeFloat(e *schema.FloatDataEncoding, buf *bitbuf.Buffer) (value.Value, error) {
	if e.Encoding == schema.FloatStringEncoded {
		sv, err := Decode(e.StringEncoding, buf)
		if err != nil {
			return value.None, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(sv.Text()), 64)
		if err != nil {
			return value.None, fmt.Errorf("invalid float text %q: %w", sv.Text(), err)
		}
		return value.Float64(f), nil
	}

	buf.SetByteOrder(e.ByteOrder)
	raw, err := buf.GetBits(e.Bits)
	if err != nil {
		return value.None, err
	}
	switch e.Encoding {
	case schema.FloatIEEE754:
		switch e.Bits {
		case 16:
			return value.Float32(halfToFloat32(uint16(raw))), nil
		case 32:
			return value.Float32(math.Float32frombits(uint32(raw))), nil
		case 64:
			return value.Float64(math.Float64frombits(raw)), nil
		}
	case schema.FloatMILSTD1750A:
		switch e.Bits {
		case 32:
			return value.Float32(float32(milstd1750a32(uint32(raw)))), nil
		case 48:
			return value.Float64(milstd1750a48(raw)), nil
		}
	}
	return value.None, fmt.Errorf("%w: %s float of %d bits", ErrUnsupported, e.Encoding, e.Bits)
}

func encodeFloat(e *schema.FloatDataEncoding, buf *bitbuf.Buffer, v value.Value) error {
	if !v.IsNumeric() {
		return fmt.Errorf("%w: %s as float", ErrNotRepresentable, v.Type())
	}
	f := v.Float64()
	if e.Encoding == schema.FloatStringEncoded {
		return Encode(e.StringEncoding, buf, value.String(strconv.FormatFloat(f, 'g', -1, 64)))
	}

	var raw uint64
	switch e.Encoding {
	case schema.FloatIEEE754:
		switch e.Bits {
		case 16:
			raw = uint64(float32ToHalf(float32(f)))
		case 32:
			raw = uint64(math.Float32bits(float32(f)))
		case 64:
			raw = math.Float64bits(f)
		default:
			return fmt.Errorf("%w: IEEE 754 float of %d bits", ErrUnsupported, e.Bits)
		}
	case schema.FloatMILSTD1750A:
		var err error
		switch e.Bits {
		case 32:
			raw, err = toMilstd1750a(f, 24)
		case 48:
			raw, err = toMilstd1750a(f, 40)
		default:
			return fmt.Errorf("%w: MIL-STD-1750A float of %d bits", ErrUnsupported, e.Bits)
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: float encoding %s", ErrUnsupported, e.Encoding)
	}
	buf.SetByteOrder(e.ByteOrder)
	return buf.PutBits(raw, e.Bits)
}

func decodeSized(kind schema.SizeKind, bits, tagBits int, term byte, maxBits int, buf *bitbuf.Buffer) ([]byte, error) {
	switch kind {
	case schema.SizeFixed:
		if !buf.IsByteAligned() {
			return nil, fmt.Errorf("%w: at bit %d", ErrMisaligned, buf.Position())
		}
		return buf.GetBytes(bits / 8)
	case schema.SizeLeadingSize:
		if !buf.IsByteAligned() {
			return nil, fmt.Errorf("%w: at bit %d", ErrMisaligned, buf.Position())
		}
		buf.SetByteOrder(bitbuf.BigEndian)
		n, err := buf.GetBits(tagBits)
		if err != nil {
			return nil, err
		}
		if maxBits > 0 && n*8 > uint64(maxBits) {
			return nil, fmt.Errorf("%w: leading size %d bytes exceeds %d bits", bitbuf.ErrOutOfRange, n, maxBits)
		}
		if n*8 > uint64(buf.RemainingBits()) {
			return nil, fmt.Errorf("%w: leading size %d bytes, %d bits left", bitbuf.ErrOutOfRange, n, buf.RemainingBits())
		}
		return buf.GetBytes(int(n))
	case schema.SizeTerminationChar:
		limit := buf.RemainingBits() / 8
		if maxBits > 0 && maxBits/8 < limit {
			limit = maxBits / 8
		}
		buf.SetByteOrder(bitbuf.BigEndian)
		start := buf.Position()
		var out []byte
		for i := 0; i < limit; i++ {
			c, err := buf.GetBits(8)
			if err != nil {
				return nil, err
			}
			if byte(c) == term {
				return out, nil
			}
			out = append(out, byte(c))
		}
		buf.SetPosition(start)
		return nil, fmt.Errorf("%w: scanned %d bytes", ErrNoTerminator, limit)
	}
	return nil, fmt.Errorf("%w: size type %s", ErrUnsupported, kind)
}

func encodeSized(kind schema.SizeKind, bits, tagBits int, term byte, maxBits int, p []byte, buf *bitbuf.Buffer) error {
	if maxBits > 0 && len(p)*8 > maxBits {
		return fmt.Errorf("%w: %d bytes exceed %d bits", ErrNotRepresentable, len(p), maxBits)
	}
	switch kind {
	case schema.SizeFixed:
		n := bits / 8
		if len(p) > n {
			return fmt.Errorf("%w: %d bytes exceed fixed size of %d", ErrNotRepresentable, len(p), n)
		}
		if !buf.IsByteAligned() {
			return fmt.Errorf("%w: at bit %d", ErrMisaligned, buf.Position())
		}
		padded := make([]byte, n)
		copy(padded, p)
		return buf.PutBytes(padded)
	case schema.SizeLeadingSize:
		if uint64(len(p)) > bitbuf.Mask(tagBits) {
			return fmt.Errorf("%w: %d bytes exceed a %d bit size tag", ErrNotRepresentable, len(p), tagBits)
		}
		if !buf.IsByteAligned() {
			return fmt.Errorf("%w: at bit %d", ErrMisaligned, buf.Position())
		}
		buf.SetByteOrder(bitbuf.BigEndian)
		if err := buf.PutBits(uint64(len(p)), tagBits); err != nil {
			return err
		}
		return buf.PutBytes(p)
	case schema.SizeTerminationChar:
		if bytes.IndexByte(p, term) >= 0 {
			return fmt.Errorf("%w: value contains the termination character 0x%02x", ErrNotRepresentable, term)
		}
		buf.SetByteOrder(bitbuf.BigEndian)
		for _, c := range p {
			if err := buf.PutBits(uint64(c), 8); err != nil {
				return err
			}
		}
		return buf.PutBits(uint64(term), 8)
	}
	return fmt.Errorf("%w: size type %s", ErrUnsupported, kind)
}

// SizeOf returns the number of bits v occupies once encoded with enc, or
// -1 when it cannot be known without encoding.
func SizeOf(enc schema.DataEncoding, v value.Value) int {
	if n := enc.SizeInBits(); n >= 0 {
		return n
	}
	switch e := enc.(type) {
	case *schema.StringDataEncoding:
		n := len(v.Text())
		switch e.SizeType {
		case schema.SizeLeadingSize:
			return e.SizeTagBits + n*8
		case schema.SizeTerminationChar:
			return (n + 1) * 8
		}
	case *schema.BinaryDataEncoding:
		n := len(v.Bytes())
		switch e.SizeType {
		case schema.SizeLeadingSize:
			return e.SizeTagBits + n*8
		case schema.SizeTerminationChar:
			return (n + 1) * 8
		}
	}
	return -1
}
