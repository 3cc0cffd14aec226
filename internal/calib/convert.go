package calib

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

// Matcher decides whether a context condition holds for the packet being
// processed. A nil Matcher matches nothing.
type Matcher interface {
	Matches(mc schema.MatchCriteria) bool
}

// Select returns the calibrator applying to enc: the first context
// calibrator whose condition holds, else the default one.
func Select(enc schema.DataEncoding, m Matcher) schema.Calibrator {
	def, contexts := schema.Calibrators(enc)
	if m != nil {
		for _, cc := range contexts {
			if m.Matches(cc.Context) {
				return cc.Calibrator
			}
		}
	}
	return def
}

// ToEngineering converts a raw value to the engineering value of dt.
func ToEngineering(dt schema.DataType, raw value.Value, m Matcher) (value.Value, error) {
	switch t := dt.(type) {
	case *schema.AggregateType:
		if raw.Type() != value.TypeAggregate {
			return value.None, fmt.Errorf("%w: %s for aggregate %s", ErrType, raw.Type(), t.Name)
		}
		members := make([]value.Member, 0, len(t.Members))
		for i, rm := range raw.Members() {
			if i >= len(t.Members) {
				break
			}
			ev, err := ToEngineering(t.Members[i].Type, rm.Value, m)
			if err != nil {
				return value.None, fmt.Errorf("member %s: %w", rm.Name, err)
			}
			members = append(members, value.Member{Name: rm.Name, Value: ev})
		}
		return value.Aggregate(members), nil
	case *schema.ArrayType:
		if raw.Type() != value.TypeArray {
			return value.None, fmt.Errorf("%w: %s for array %s", ErrType, raw.Type(), t.Name)
		}
		elems := make([]value.Value, 0, len(raw.Elements()))
		for i, re := range raw.Elements() {
			ev, err := ToEngineering(t.ElementType, re, m)
			if err != nil {
				return value.None, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, ev)
		}
		return value.Array(elems), nil
	}

	if !raw.IsValid() {
		return value.None, fmt.Errorf("%w: no raw value", ErrType)
	}
	cal := Select(dt.Base().Encoding, m)

	switch t := dt.(type) {
	case *schema.IntegerType:
		if cal != nil {
			f, err := rawNumber(raw)
			if err != nil {
				return value.None, err
			}
			return integerFromFloat(t, Apply(cal, f))
		}
		return integerValue(t, raw)
	case *schema.FloatType:
		f, err := rawNumber(raw)
		if err != nil {
			return value.None, err
		}
		if cal != nil {
			f = Apply(cal, f)
		}
		if t.SizeInBits == 32 {
			return value.Float32(float32(f)), nil
		}
		return value.Float64(f), nil
	case *schema.EnumeratedType:
		if !raw.IsInteger() {
			return value.None, fmt.Errorf("%w: %s for enumeration %s", ErrType, raw.Type(), t.Name)
		}
		label, ok := t.LookupLabel(raw.Int64())
		if !ok {
			return value.None, fmt.Errorf("%w: %s has no label for %d", ErrNoLabel, t.Name, raw.Int64())
		}
		return value.Enumerated(raw.Int64(), label), nil
	case *schema.BooleanType:
		switch {
		case raw.Type() == value.TypeBool:
			return raw, nil
		case raw.IsInteger():
			return value.Bool(raw.Uint64() != 0), nil
		}
		return value.None, fmt.Errorf("%w: %s for boolean %s", ErrType, raw.Type(), t.Name)
	case *schema.StringType:
		if raw.Type() != value.TypeString {
			return value.None, fmt.Errorf("%w: %s for string %s", ErrType, raw.Type(), t.Name)
		}
		return raw, nil
	case *schema.BinaryType:
		if raw.Type() != value.TypeBinary {
			return value.None, fmt.Errorf("%w: %s for binary %s", ErrType, raw.Type(), t.Name)
		}
		return raw, nil
	case *schema.AbsoluteTimeType:
		f, err := rawNumber(raw)
		if err != nil {
			return value.None, err
		}
		if cal != nil {
			f = Apply(cal, f)
		}
		seconds := t.Offset + t.Scale*f
		return value.Timestamp(t.Epoch.Add(time.Duration(seconds * float64(time.Second)))), nil
	}
	return value.None, fmt.Errorf("%w: %T", schema.ErrUnsupported, dt)
}

// ToRaw converts an engineering value of dt to the raw value handed to the
// encoder.
func ToRaw(dt schema.DataType, eng value.Value, m Matcher) (value.Value, error) {
	switch t := dt.(type) {
	case *schema.AggregateType:
		if eng.Type() != value.TypeAggregate {
			return value.None, fmt.Errorf("%w: %s for aggregate %s", ErrType, eng.Type(), t.Name)
		}
		members := make([]value.Member, 0, len(t.Members))
		for _, tm := range t.Members {
			ev, ok := eng.Member(tm.Name)
			if !ok {
				return value.None, fmt.Errorf("%w: member %s missing", ErrType, tm.Name)
			}
			rv, err := ToRaw(tm.Type, ev, m)
			if err != nil {
				return value.None, fmt.Errorf("member %s: %w", tm.Name, err)
			}
			members = append(members, value.Member{Name: tm.Name, Value: rv})
		}
		return value.Aggregate(members), nil
	case *schema.ArrayType:
		if eng.Type() != value.TypeArray {
			return value.None, fmt.Errorf("%w: %s for array %s", ErrType, eng.Type(), t.Name)
		}
		elems := make([]value.Value, 0, len(eng.Elements()))
		for i, ee := range eng.Elements() {
			rv, err := ToRaw(t.ElementType, ee, m)
			if err != nil {
				return value.None, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, rv)
		}
		return value.Array(elems), nil
	}

	enc := dt.Base().Encoding
	cal := Select(enc, m)
	_, stringEncoded := enc.(*schema.StringDataEncoding)

	var raw value.Value
	switch t := dt.(type) {
	case *schema.IntegerType, *schema.FloatType:
		if !eng.IsNumeric() {
			return value.None, fmt.Errorf("%w: %s for %s", ErrType, eng.Type(), t.Base().Name)
		}
		raw = eng
		if cal != nil {
			f, err := Invert(cal, eng.Float64())
			if err != nil {
				return value.None, err
			}
			raw = value.Float64(f)
		}
	case *schema.EnumeratedType:
		label := eng.Label()
		if eng.Type() != value.TypeEnumerated && eng.Type() != value.TypeString {
			return value.None, fmt.Errorf("%w: %s for enumeration %s", ErrType, eng.Type(), t.Name)
		}
		v, ok := t.LookupValue(label)
		if !ok {
			return value.None, fmt.Errorf("%w: %s has no label %q", ErrNoLabel, t.Name, label)
		}
		raw = value.Int64(v)
	case *schema.BooleanType:
		if eng.Type() != value.TypeBool {
			return value.None, fmt.Errorf("%w: %s for boolean %s", ErrType, eng.Type(), t.Name)
		}
		raw = eng
	case *schema.StringType, *schema.BinaryType:
		raw = eng
	case *schema.AbsoluteTimeType:
		if eng.Type() != value.TypeTimestamp {
			return value.None, fmt.Errorf("%w: %s for time %s", ErrType, eng.Type(), t.Name)
		}
		seconds := eng.Time().Sub(t.Epoch).Seconds()
		f := (seconds - t.Offset) / t.Scale
		if cal != nil {
			var err error
			if f, err = Invert(cal, f); err != nil {
				return value.None, err
			}
		}
		raw = value.Float64(f)
	default:
		return value.None, fmt.Errorf("%w: %T", schema.ErrUnsupported, dt)
	}

	if stringEncoded && raw.Type() != value.TypeString {
		raw = value.String(raw.String())
	}
	return raw, nil
}

func rawNumber(raw value.Value) (float64, error) {
	switch {
	case raw.IsNumeric():
		return raw.Float64(), nil
	case raw.Type() == value.TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw.Text()), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrType, raw.Text())
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrType, raw.Type())
}

func integerValue(t *schema.IntegerType, raw value.Value) (value.Value, error) {
	switch {
	case raw.IsInteger():
	case raw.IsFloat():
		return integerFromFloat(t, raw.Float64())
	case raw.Type() == value.TypeString:
		s := strings.TrimSpace(raw.Text())
		if t.Signed {
			i, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return value.None, fmt.Errorf("%w: %q is not an integer", ErrType, s)
			}
			raw = value.Int64(i)
		} else {
			u, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return value.None, fmt.Errorf("%w: %q is not an unsigned integer", ErrType, s)
			}
			raw = value.Uint64(u)
		}
	default:
		return value.None, fmt.Errorf("%w: %s for integer %s", ErrType, raw.Type(), t.Name)
	}

	switch {
	case t.Signed && t.SizeInBits == 32:
		return value.Int32(int32(raw.Int64())), nil
	case t.Signed:
		return value.Int64(raw.Int64()), nil
	case t.SizeInBits == 32:
		return value.Uint32(uint32(raw.Uint64())), nil
	}
	return value.Uint64(raw.Uint64()), nil
}

// integerFromFloat truncates toward zero, saturating at the limits of the
// type.
func integerFromFloat(t *schema.IntegerType, f float64) (value.Value, error) {
	if math.IsNaN(f) {
		return value.None, fmt.Errorf("%w: NaN for integer %s", ErrType, t.Name)
	}
	f = math.Trunc(f)
	switch {
	case t.Signed && t.SizeInBits == 32:
		return value.Int32(int32(clamp(f, math.MinInt32, math.MaxInt32))), nil
	case t.Signed:
		if f >= math.MaxInt64 {
			return value.Int64(math.MaxInt64), nil
		}
		return value.Int64(int64(math.Max(f, math.MinInt64))), nil
	case t.SizeInBits == 32:
		return value.Uint32(uint32(clamp(f, 0, math.MaxUint32))), nil
	}
	if f >= math.MaxUint64 {
		return value.Uint64(math.MaxUint64), nil
	}
	return value.Uint64(uint64(math.Max(f, 0))), nil
}

func clamp(f, lo, hi float64) float64 {
	return math.Min(math.Max(f, lo), hi)
}
