// Package bitbuf provides a bit addressable cursor over a byte slice.
//
// A Buffer reads and writes fields of 1 to 64 bits at an arbitrary bit
// position. Bit positions are counted from the start of the slice; in
// big-endian mode the first bit of a field is the most significant bit of
// the byte it starts in, in little-endian mode fields are assembled from the
// least significant bit of each byte upwards. For byte aligned fields of a
// whole number of bytes both modes match the usual byte orders.
//
// A Buffer is not safe for concurrent use. Each packet or command gets its
// own Buffer.
package bitbuf

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a field does not fit in the buffer or has
// an invalid width.
var ErrOutOfRange = errors.New("bit range out of buffer")

// ByteOrder selects how multi-byte fields are assembled.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// String returns the string representation of the byte order.
func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big_endian"
	case LittleEndian:
		return "little_endian"
	default:
		return "unknown"
	}
}

// Signedness selects how the top bit of an integer field is interpreted.
type Signedness int

const (
	Unsigned Signedness = iota
	TwosComplement
	OnesComplement
	SignMagnitude
)

// String returns the string representation of the sign convention.
func (s Signedness) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case TwosComplement:
		return "twos_complement"
	case OnesComplement:
		return "ones_complement"
	case SignMagnitude:
		return "sign_magnitude"
	default:
		return "unknown"
	}
}

// Buffer is a read/write bit cursor over a byte slice.
type Buffer struct {
	data     []byte
	position int // in bits
	order    ByteOrder
}

// New wraps data in a big-endian Buffer positioned at bit 0.
func New(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Reset rebinds the buffer to data and rewinds it.
func (b *Buffer) Reset(data []byte) {
	b.data = data
	b.position = 0
	b.order = BigEndian
}

// Bytes returns the underlying slice.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// SizeInBits returns the buffer length in bits.
func (b *Buffer) SizeInBits() int {
	return len(b.data) * 8
}

// Position returns the current bit position.
func (b *Buffer) Position() int {
	return b.position
}

// SetPosition moves the cursor to an absolute bit position. Positions past
// the end are accepted; the next read or write reports ErrOutOfRange.
func (b *Buffer) SetPosition(bitOffset int) {
	b.position = bitOffset
}

// Skip advances the cursor by n bits after checking they are available.
func (b *Buffer) Skip(n int) error {
	if n < 0 || b.position+n > b.SizeInBits() {
		return fmt.Errorf("%w: skip %d bits at position %d of %d", ErrOutOfRange, n, b.position, b.SizeInBits())
	}
	b.position += n
	return nil
}

// RemainingBits returns the number of bits between the cursor and the end.
func (b *Buffer) RemainingBits() int {
	r := b.SizeInBits() - b.position
	if r < 0 {
		return 0
	}
	return r
}

// ByteOrder returns the byte order used by GetBits and PutBits.
func (b *Buffer) ByteOrder() ByteOrder {
	return b.order
}

// SetByteOrder changes the byte order for subsequent fields.
func (b *Buffer) SetByteOrder(order ByteOrder) {
	b.order = order
}

// IsByteAligned reports whether the cursor sits on a byte boundary.
func (b *Buffer) IsByteAligned() bool {
	return b.position&7 == 0
}

func (b *Buffer) check(numBits int) error {
	if numBits <= 0 || numBits > 64 {
		return fmt.Errorf("%w: invalid field width %d", ErrOutOfRange, numBits)
	}
	if b.position < 0 || b.position+numBits > b.SizeInBits() {
		return fmt.Errorf("%w: %d bits at position %d exceed buffer of %d bits",
			ErrOutOfRange, numBits, b.position, b.SizeInBits())
	}
	return nil
}

// Mask returns a value with the low n bits set.
func Mask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// GetBits reads numBits bits as an unsigned value and advances the cursor.
func (b *Buffer) GetBits(numBits int) (uint64, error) {
	if err := b.check(numBits); err != nil {
		return 0, err
	}

	var r uint64
	pos := b.position
	n := numBits

	if b.order == BigEndian {
		for n > 0 {
			bitOff := pos & 7
			avail := 8 - bitOff
			take := min(avail, n)
			chunk := (uint64(b.data[pos>>3]) >> uint(avail-take)) & Mask(take)
			r = r<<uint(take) | chunk
			pos += take
			n -= take
		}
	} else {
		shift := 0
		for n > 0 {
			bitOff := pos & 7
			take := min(8-bitOff, n)
			chunk := (uint64(b.data[pos>>3]) >> uint(bitOff)) & Mask(take)
			r |= chunk << uint(shift)
			shift += take
			pos += take
			n -= take
		}
	}

	b.position = pos
	return r, nil
}

// PutBits writes the low numBits bits of value and advances the cursor.
// Bits of the buffer outside the field are preserved.
func (b *Buffer) PutBits(value uint64, numBits int) error {
	if err := b.check(numBits); err != nil {
		return err
	}

	pos := b.position
	n := numBits
	value &= Mask(numBits)

	if b.order == BigEndian {
		for n > 0 {
			bitOff := pos & 7
			avail := 8 - bitOff
			take := min(avail, n)
			chunk := (value >> uint(n-take)) & Mask(take)
			shift := uint(avail - take)
			idx := pos >> 3
			b.data[idx] = b.data[idx]&^byte(Mask(take)<<shift) | byte(chunk<<shift)
			pos += take
			n -= take
		}
	} else {
		for n > 0 {
			bitOff := pos & 7
			take := min(8-bitOff, n)
			chunk := value & Mask(take)
			idx := pos >> 3
			b.data[idx] = b.data[idx]&^byte(Mask(take)<<uint(bitOff)) | byte(chunk<<uint(bitOff))
			value >>= uint(take)
			pos += take
			n -= take
		}
	}

	b.position = pos
	return nil
}

// GetInt reads a numBits wide integer using the given sign convention.
func (b *Buffer) GetInt(numBits int, sign Signedness) (int64, error) {
	raw, err := b.GetBits(numBits)
	if err != nil {
		return 0, err
	}
	return Interpret(raw, numBits, sign), nil
}

// PutInt writes v as a numBits wide integer using the given sign convention.
// The caller is responsible for range checking v.
func (b *Buffer) PutInt(v int64, numBits int, sign Signedness) error {
	return b.PutBits(Represent(v, numBits, sign), numBits)
}

// Interpret converts the low numBits bits of raw to a signed value.
func Interpret(raw uint64, numBits int, sign Signedness) int64 {
	raw &= Mask(numBits)
	signBit := uint64(1) << uint(numBits-1)
	negative := raw&signBit != 0

	switch sign {
	case TwosComplement:
		if negative {
			return int64(raw | ^Mask(numBits))
		}
		return int64(raw)
	case OnesComplement:
		if negative {
			return -int64(^raw & Mask(numBits))
		}
		return int64(raw)
	case SignMagnitude:
		if negative {
			return -int64(raw & Mask(numBits-1))
		}
		return int64(raw)
	default:
		return int64(raw)
	}
}

// Represent converts v to its numBits wide bit pattern.
func Represent(v int64, numBits int, sign Signedness) uint64 {
	switch sign {
	case OnesComplement:
		if v < 0 {
			return ^uint64(-v) & Mask(numBits)
		}
	case SignMagnitude:
		if v < 0 {
			return (uint64(1) << uint(numBits-1)) | (uint64(-v) & Mask(numBits-1))
		}
	}
	return uint64(v) & Mask(numBits)
}

// IntRange returns the smallest and largest values representable in numBits
// bits with the given sign convention.
func IntRange(numBits int, sign Signedness) (lo int64, hi uint64) {
	if sign == Unsigned {
		return 0, Mask(numBits)
	}
	hi = Mask(numBits - 1)
	if sign == TwosComplement {
		return -int64(hi) - 1, hi
	}
	return -int64(hi), hi
}

// GetBytes copies n bytes starting at the cursor. The cursor must be byte
// aligned.
func (b *Buffer) GetBytes(n int) ([]byte, error) {
	if !b.IsByteAligned() {
		return nil, fmt.Errorf("%w: byte read at unaligned position %d", ErrOutOfRange, b.position)
	}
	start := b.position >> 3
	if n < 0 || start+n > len(b.data) {
		return nil, fmt.Errorf("%w: %d bytes at byte %d exceed buffer of %d bytes", ErrOutOfRange, n, start, len(b.data))
	}
	out := make([]byte, n)
	copy(out, b.data[start:start+n])
	b.position += n * 8
	return out, nil
}

// PutBytes copies p into the buffer at the cursor. The cursor must be byte
// aligned.
func (b *Buffer) PutBytes(p []byte) error {
	if !b.IsByteAligned() {
		return fmt.Errorf("%w: byte write at unaligned position %d", ErrOutOfRange, b.position)
	}
	start := b.position >> 3
	if start+len(p) > len(b.data) {
		return fmt.Errorf("%w: %d bytes at byte %d exceed buffer of %d bytes", ErrOutOfRange, len(p), start, len(b.data))
	}
	copy(b.data[start:], p)
	b.position += len(p) * 8
	return nil
}
