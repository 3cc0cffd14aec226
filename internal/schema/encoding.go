package schema

import (
	"github.com/resident-x/go-tmtc/internal/bitbuf"
)

// DataEncoding describes how bits in a packet become a raw value. The set of
// implementations is closed: IntegerDataEncoding, FloatDataEncoding,
// StringDataEncoding, BinaryDataEncoding and BooleanDataEncoding.
type DataEncoding interface {
	// SizeInBits returns the fixed size of the encoded field or -1 when the
	// size is only known while decoding.
	SizeInBits() int
	dataEncoding()
}

// FloatKind selects the float representation.
type FloatKind int

const (
	FloatIEEE754 FloatKind = iota
	FloatMILSTD1750A
	FloatStringEncoded
)

// String returns the string representation of the float kind.
func (k FloatKind) String() string {
	switch k {
	case FloatIEEE754:
		return "ieee754"
	case FloatMILSTD1750A:
		return "milstd1750a"
	case FloatStringEncoded:
		return "string"
	default:
		return "unknown"
	}
}

// SizeKind selects how the length of a string or binary field is found.
type SizeKind int

const (
	SizeFixed SizeKind = iota
	SizeLeadingSize
	SizeTerminationChar
)

// String returns the string representation of the size kind.
func (k SizeKind) String() string {
	switch k {
	case SizeFixed:
		return "fixed"
	case SizeLeadingSize:
		return "leading_size"
	case SizeTerminationChar:
		return "termination_char"
	default:
		return "unknown"
	}
}

// IntegerDataEncoding is a fixed width integer field.
type IntegerDataEncoding struct {
	Bits               int
	Encoding           bitbuf.Signedness
	ByteOrder          bitbuf.ByteOrder
	DefaultCalibrator  Calibrator
	ContextCalibrators []ContextCalibrator
}

func (e *IntegerDataEncoding) SizeInBits() int { return e.Bits }
func (*IntegerDataEncoding) dataEncoding()     {}

// FloatDataEncoding is a float field. StringEncoding is required for
// FloatStringEncoded and ignored otherwise.
type FloatDataEncoding struct {
	Bits               int
	Encoding           FloatKind
	ByteOrder          bitbuf.ByteOrder
	StringEncoding     *StringDataEncoding
	DefaultCalibrator  Calibrator
	ContextCalibrators []ContextCalibrator
}

func (e *FloatDataEncoding) SizeInBits() int {
	if e.Encoding == FloatStringEncoded {
		if e.StringEncoding == nil {
			return -1
		}
		return e.StringEncoding.SizeInBits()
	}
	return e.Bits
}
func (*FloatDataEncoding) dataEncoding() {}

// StringDataEncoding is a byte aligned character field.
type StringDataEncoding struct {
	SizeType        SizeKind
	Bits            int  // for SizeFixed
	SizeTagBits     int  // for SizeLeadingSize: 8, 16 or 32
	TerminationChar byte // for SizeTerminationChar
	// MaxSizeInBits bounds termination scans and leading sizes. Zero means
	// the rest of the packet.
	MaxSizeInBits int
}

func (e *StringDataEncoding) SizeInBits() int {
	if e.SizeType == SizeFixed {
		return e.Bits
	}
	return -1
}
func (*StringDataEncoding) dataEncoding() {}

// BinaryDataEncoding is a byte aligned opaque field.
type BinaryDataEncoding struct {
	SizeType        SizeKind
	Bits            int
	SizeTagBits     int
	TerminationChar byte
	MaxSizeInBits   int
}

func (e *BinaryDataEncoding) SizeInBits() int {
	if e.SizeType == SizeFixed {
		return e.Bits
	}
	return -1
}
func (*BinaryDataEncoding) dataEncoding() {}

// BooleanDataEncoding is a field where any non zero bit pattern is true.
type BooleanDataEncoding struct {
	Bits      int
	ByteOrder bitbuf.ByteOrder
}

func (e *BooleanDataEncoding) SizeInBits() int {
	if e.Bits == 0 {
		return 1
	}
	return e.Bits
}
func (*BooleanDataEncoding) dataEncoding() {}

// Calibrator converts numeric raw values to engineering values. The set of
// implementations is closed: PolynomialCalibrator and SplineCalibrator.
type Calibrator interface {
	calibrator()
}

// PolynomialCalibrator computes sum(Coefficients[i] * x^i).
type PolynomialCalibrator struct {
	Coefficients []float64
}

func (*PolynomialCalibrator) calibrator() {}

// SplinePoint is one breakpoint of a spline calibrator.
type SplinePoint struct {
	Raw        float64
	Calibrated float64
}

// SplineCalibrator interpolates linearly between breakpoints sorted by raw
// value and clamps outside them.
type SplineCalibrator struct {
	Points []SplinePoint
}

func (*SplineCalibrator) calibrator() {}

// ContextCalibrator applies Calibrator when Context holds.
type ContextCalibrator struct {
	Context    MatchCriteria
	Calibrator Calibrator
}

// Calibrators returns the default and context calibrators attached to a
// numeric encoding.
func Calibrators(enc DataEncoding) (Calibrator, []ContextCalibrator) {
	switch e := enc.(type) {
	case *IntegerDataEncoding:
		return e.DefaultCalibrator, e.ContextCalibrators
	case *FloatDataEncoding:
		return e.DefaultCalibrator, e.ContextCalibrators
	}
	return nil, nil
}
