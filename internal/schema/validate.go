package schema

import (
	"fmt"
)

// checkDataType rejects type and encoding combinations that cannot be
// decoded or encoded.
func checkDataType(dt DataType) error {
	switch t := dt.(type) {
	case *AggregateType:
		if len(t.Members) == 0 {
			return fmt.Errorf("%w: aggregate %s without members", ErrUnsupported, t.Name)
		}
		for _, m := range t.Members {
			if m.Type == nil {
				return fmt.Errorf("aggregate %s member %s has no type", t.Name, m.Name)
			}
			if err := checkDataType(m.Type); err != nil {
				return fmt.Errorf("aggregate %s member %s: %w", t.Name, m.Name, err)
			}
		}
		return nil
	case *ArrayType:
		if t.ElementType == nil {
			return fmt.Errorf("array %s has no element type", t.Name)
		}
		if len(t.Dimensions) == 0 {
			return fmt.Errorf("%w: array %s without dimensions", ErrUnsupported, t.Name)
		}
		return checkDataType(t.ElementType)
	}

	enc := dt.Base().Encoding
	if enc == nil {
		return fmt.Errorf("%w: type %s has no encoding", ErrUnsupported, dt.Base().Name)
	}
	if err := checkEncoding(enc); err != nil {
		return fmt.Errorf("type %s: %w", dt.Base().Name, err)
	}

	ok := false
	switch t := dt.(type) {
	case *IntegerType:
		if t.SizeInBits == 0 {
			t.SizeInBits = 64
			if b := enc.SizeInBits(); b > 0 && b <= 32 {
				t.SizeInBits = 32
			}
		}
		if t.SizeInBits != 32 && t.SizeInBits != 64 {
			return fmt.Errorf("%w: integer type %s of %d bits", ErrUnsupported, t.Name, t.SizeInBits)
		}
		ok = isNumericEncoding(enc)
	case *FloatType:
		if t.SizeInBits == 0 {
			t.SizeInBits = 64
		}
		if t.SizeInBits != 32 && t.SizeInBits != 64 {
			return fmt.Errorf("%w: float type %s of %d bits", ErrUnsupported, t.Name, t.SizeInBits)
		}
		ok = isNumericEncoding(enc)
	case *EnumeratedType:
		_, ok = enc.(*IntegerDataEncoding)
	case *BooleanType:
		switch enc.(type) {
		case *BooleanDataEncoding, *IntegerDataEncoding:
			ok = true
		}
	case *StringType:
		_, ok = enc.(*StringDataEncoding)
	case *BinaryType:
		_, ok = enc.(*BinaryDataEncoding)
	case *AbsoluteTimeType:
		switch enc.(type) {
		case *IntegerDataEncoding, *FloatDataEncoding:
			ok = true
		}
		if t.Scale == 0 {
			t.Scale = 1
		}
	}
	if !ok {
		return fmt.Errorf("%w: %T with %T", ErrUnsupported, dt, enc)
	}
	return nil
}

func isNumericEncoding(enc DataEncoding) bool {
	switch enc.(type) {
	case *IntegerDataEncoding, *FloatDataEncoding, *StringDataEncoding:
		return true
	}
	return false
}

func checkEncoding(enc DataEncoding) error {
	switch e := enc.(type) {
	case *IntegerDataEncoding:
		if e.Bits < 1 || e.Bits > 64 {
			return fmt.Errorf("%w: integer encoding of %d bits", ErrUnsupported, e.Bits)
		}
	case *FloatDataEncoding:
		switch e.Encoding {
		case FloatIEEE754:
			if e.Bits != 16 && e.Bits != 32 && e.Bits != 64 {
				return fmt.Errorf("%w: IEEE 754 float of %d bits", ErrUnsupported, e.Bits)
			}
		case FloatMILSTD1750A:
			if e.Bits != 32 && e.Bits != 48 {
				return fmt.Errorf("%w: MIL-STD-1750A float of %d bits", ErrUnsupported, e.Bits)
			}
		case FloatStringEncoded:
			if e.StringEncoding == nil {
				return fmt.Errorf("%w: string encoded float without string encoding", ErrUnsupported)
			}
			return checkEncoding(e.StringEncoding)
		default:
			return fmt.Errorf("%w: float encoding %d", ErrUnsupported, e.Encoding)
		}
	case *StringDataEncoding:
		return checkSized(e.SizeType, e.Bits, e.SizeTagBits)
	case *BinaryDataEncoding:
		return checkSized(e.SizeType, e.Bits, e.SizeTagBits)
	case *BooleanDataEncoding:
		if e.Bits < 0 || e.Bits > 64 {
			return fmt.Errorf("%w: boolean encoding of %d bits", ErrUnsupported, e.Bits)
		}
	default:
		return fmt.Errorf("%w: encoding %T", ErrUnsupported, enc)
	}
	return nil
}

func checkSized(kind SizeKind, bits, tagBits int) error {
	switch kind {
	case SizeFixed:
		if bits <= 0 || bits%8 != 0 {
			return fmt.Errorf("%w: fixed size of %d bits", ErrUnsupported, bits)
		}
	case SizeLeadingSize:
		if tagBits != 8 && tagBits != 16 && tagBits != 32 {
			return fmt.Errorf("%w: size tag of %d bits", ErrUnsupported, tagBits)
		}
	case SizeTerminationChar:
	default:
		return fmt.Errorf("%w: size type %d", ErrUnsupported, kind)
	}
	return nil
}
