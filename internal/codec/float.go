package codec

import (
	"fmt"
	"math"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
)

// MIL-STD-1750A single precision: 24 bit two's complement mantissa
// followed by an 8 bit two's complement exponent. The mantissa is a
// fraction with the binary point after the sign bit.
func milstd1750a32(raw uint32) float64 {
	m := bitbuf.Interpret(uint64(raw>>8), 24, bitbuf.TwosComplement)
	e := int8(raw & 0xFF)
	return math.Ldexp(float64(m), int(e)-23)
}

// MIL-STD-1750A extended precision: the upper 24 mantissa bits, the 8 bit
// exponent, then the lower 16 mantissa bits.
func milstd1750a48(raw uint64) float64 {
	hi := (raw >> 24) & 0xFFFFFF
	e := int8((raw >> 16) & 0xFF)
	lo := raw & 0xFFFF
	m := bitbuf.Interpret(hi<<16|lo, 40, bitbuf.TwosComplement)
	return math.Ldexp(float64(m), int(e)-39)
}

// toMilstd1750a normalizes f into a mantissa of mantBits bits (24 or 40) and
// lays it out as the 32 or 48 bit word.
func toMilstd1750a(f float64, mantBits int) (uint64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v in MIL-STD-1750A", ErrNotRepresentable, f)
	}
	if f == 0 {
		return 0, nil
	}
	frac, exp := math.Frexp(f)
	scale := int64(1) << uint(mantBits-1)
	m := int64(math.Round(frac * float64(scale)))
	switch {
	case m == scale:
		m >>= 1
		exp++
	case m == -scale/2:
		m = -scale
		exp--
	}
	if exp > 127 {
		return 0, fmt.Errorf("%w: %v overflows MIL-STD-1750A", ErrNotRepresentable, f)
	}
	if exp < -128 {
		return 0, nil
	}
	mant := uint64(m) & bitbuf.Mask(mantBits)
	e := uint64(uint8(int8(exp)))
	if mantBits == 24 {
		return mant<<8 | e, nil
	}
	return (mant>>16)<<24 | e<<16 | mant&0xFFFF, nil
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF
	switch exp {
	case 0:
		f := float32(mant) * (1.0 / (1 << 24))
		if sign != 0 {
			return -f
		}
		return f
	case 0x1F:
		return math.Float32frombits(sign | 0x7F800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// float32ToHalf rounds to nearest even.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int((bits >> 23) & 0xFF)
	mant := bits & 0x7FFFFF

	if exp == 0xFF {
		if mant != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	}
	e := exp - 127 + 15
	if e >= 0x1F {
		return sign | 0x7C00
	}
	if e <= 0 {
		if e < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint(14 - e)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}
	half := uint16(e)<<10 | uint16(mant>>13)
	rem := mant & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return sign | half
}
