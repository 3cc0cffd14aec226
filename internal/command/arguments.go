package command

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

var (
	// ErrInvalid is returned when an argument value cannot be parsed for
	// its type.
	ErrInvalid = errors.New("invalid value")
	// ErrOutOfRange is returned when an argument value lies outside the
	// valid or size range of its type.
	ErrOutOfRange = errors.New("value out of range")
)

// ParseValue converts the textual form of an argument to an engineering
// value of dt and checks it against the range constraints of the type.
//
// Aggregates are given as JSON objects and arrays as JSON arrays; their
// members and elements follow the same rules as top level values.
func ParseValue(dt schema.DataType, s string) (value.Value, error) {
	switch t := dt.(type) {
	case *schema.IntegerType:
		return parseInteger(t, strings.TrimSpace(s))
	case *schema.FloatType:
		s = strings.TrimSpace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.None, fmt.Errorf("%w: %q is not a number", ErrInvalid, s)
		}
		if t.ValidRange != nil && t.ValidRange.Check(f) != 0 {
			return value.None, fmt.Errorf("%w: %v outside %s", ErrOutOfRange, f, formatFloatRange(t.ValidRange))
		}
		if t.SizeInBits == 32 {
			return value.Float32(float32(f)), nil
		}
		return value.Float64(f), nil
	case *schema.StringType:
		if err := checkSize(t.SizeRange, utf8.RuneCountInString(s), "characters"); err != nil {
			return value.None, err
		}
		return value.String(s), nil
	case *schema.BinaryType:
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
		if err != nil {
			return value.None, fmt.Errorf("%w: %q is not hexadecimal", ErrInvalid, s)
		}
		if err := checkSize(t.SizeRange, len(b), "bytes"); err != nil {
			return value.None, err
		}
		return value.Binary(b), nil
	case *schema.EnumeratedType:
		label := strings.TrimSpace(s)
		raw, ok := t.LookupValue(label)
		if !ok {
			labels := make([]string, 0, len(t.Values))
			for _, e := range t.Values {
				labels = append(labels, e.Label)
			}
			return value.None, fmt.Errorf("%w: %q is not one of %s", ErrInvalid, label, strings.Join(labels, ", "))
		}
		return value.Enumerated(raw, label), nil
	case *schema.BooleanType, *schema.AbsoluteTimeType:
		v, err := schema.LiteralValue(dt, true, s)
		if err != nil {
			return value.None, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return v, nil
	case *schema.AggregateType:
		return parseAggregate(t, s)
	case *schema.ArrayType:
		return parseArray(t, s)
	}
	return value.None, fmt.Errorf("%w: %T", schema.ErrUnsupported, dt)
}

func parseInteger(t *schema.IntegerType, s string) (value.Value, error) {
	if t.Signed {
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return value.None, fmt.Errorf("%w: %q is not an integer", ErrInvalid, s)
		}
		if t.SizeInBits == 32 && (i < math.MinInt32 || i > math.MaxInt32) {
			return value.None, fmt.Errorf("%w: %d does not fit 32 bits", ErrOutOfRange, i)
		}
		if t.ValidRange != nil && !t.ValidRange.Contains(i) {
			return value.None, fmt.Errorf("%w: %d outside [%d, %d]", ErrOutOfRange, i, t.ValidRange.Min, t.ValidRange.Max)
		}
		if t.SizeInBits == 32 {
			return value.Int32(int32(i)), nil
		}
		return value.Int64(i), nil
	}

	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		if strings.HasPrefix(s, "-") {
			return value.None, fmt.Errorf("%w: %s is negative", ErrOutOfRange, s)
		}
		return value.None, fmt.Errorf("%w: %q is not an unsigned integer", ErrInvalid, s)
	}
	if t.SizeInBits == 32 && u > math.MaxUint32 {
		return value.None, fmt.Errorf("%w: %d does not fit 32 bits", ErrOutOfRange, u)
	}
	if r := t.ValidRange; r != nil && (u > math.MaxInt64 || !r.Contains(int64(u))) {
		return value.None, fmt.Errorf("%w: %d outside [%d, %d]", ErrOutOfRange, u, r.Min, r.Max)
	}
	if t.SizeInBits == 32 {
		return value.Uint32(uint32(u)), nil
	}
	return value.Uint64(u), nil
}

func checkSize(r *schema.IntegerRange, n int, unit string) error {
	if r != nil && !r.Contains(int64(n)) {
		return fmt.Errorf("%w: %d %s outside [%d, %d]", ErrOutOfRange, n, unit, r.Min, r.Max)
	}
	return nil
}

func formatFloatRange(r *schema.FloatRange) string {
	lo, hi := "[", "]"
	if !r.MinInclusive {
		lo = "("
	}
	if !r.MaxInclusive {
		hi = ")"
	}
	return fmt.Sprintf("%s%v, %v%s", lo, r.Min, r.Max, hi)
}

func parseAggregate(t *schema.AggregateType, s string) (value.Value, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return value.None, fmt.Errorf("%w: aggregate %s expects a JSON object: %v", ErrInvalid, t.Name, err)
	}
	members := make([]value.Member, 0, len(t.Members))
	for _, m := range t.Members {
		raw, ok := fields[m.Name]
		if !ok {
			return value.None, fmt.Errorf("%w: member %s missing", ErrInvalid, m.Name)
		}
		delete(fields, m.Name)
		v, err := ParseValue(m.Type, jsonText(raw))
		if err != nil {
			return value.None, fmt.Errorf("member %s: %w", m.Name, err)
		}
		members = append(members, value.Member{Name: m.Name, Value: v})
	}
	if len(fields) > 0 {
		extra := make([]string, 0, len(fields))
		for name := range fields {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return value.None, fmt.Errorf("%w: aggregate %s has no member %s", ErrInvalid, t.Name, strings.Join(extra, ", "))
	}
	return value.Aggregate(members), nil
}

func parseArray(t *schema.ArrayType, s string) (value.Value, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return value.None, fmt.Errorf("%w: array %s expects a JSON array: %v", ErrInvalid, t.Name, err)
	}
	if n, fixed := fixedLength(t); fixed && int64(len(items)) != n {
		return value.None, fmt.Errorf("%w: array %s needs %d elements, got %d", ErrInvalid, t.Name, n, len(items))
	}
	elems := make([]value.Value, 0, len(items))
	for i, raw := range items {
		v, err := ParseValue(t.ElementType, jsonText(raw))
		if err != nil {
			return value.None, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, v)
	}
	return value.Array(elems), nil
}

// fixedLength returns the element count of t when no dimension is dynamic.
func fixedLength(t *schema.ArrayType) (int64, bool) {
	n := int64(1)
	for _, d := range t.Dimensions {
		if d.IsDynamic() {
			return 0, false
		}
		n *= d.Fixed
	}
	return n, true
}

// jsonText returns JSON strings unquoted and anything else verbatim.
func jsonText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
