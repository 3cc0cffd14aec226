// Package value provides the tagged value type shared by raw and engineering
// values of parameters and arguments.
package value

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the tag of a Value.
type Type int

const (
	TypeNone Type = iota
	TypeInt32
	TypeInt64
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeString
	TypeBinary
	TypeEnumerated
	TypeTimestamp
	TypeAggregate
	TypeArray
)

// String returns the string representation of the value type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeEnumerated:
		return "enumerated"
	case TypeTimestamp:
		return "timestamp"
	case TypeAggregate:
		return "aggregate"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// Member is one named field of an aggregate value.
type Member struct {
	Name  string
	Value Value
}

// Value is a small tagged union. Numeric kinds are stored inline so that
// decoding scalar fields does not allocate.
type Value struct {
	typ     Type
	bits    uint64 // integers, float bits, bool, enumeration raw value
	str     string // string content, enumeration label
	bin     []byte
	ts      time.Time
	members []Member
	elems   []Value
}

// None is the invalid value.
var None = Value{}

func Int32(v int32) Value   { return Value{typ: TypeInt32, bits: uint64(int64(v))} }
func Int64(v int64) Value   { return Value{typ: TypeInt64, bits: uint64(v)} }
func Uint32(v uint32) Value { return Value{typ: TypeUint32, bits: uint64(v)} }
func Uint64(v uint64) Value { return Value{typ: TypeUint64, bits: v} }

func Float32(v float32) Value {
	return Value{typ: TypeFloat32, bits: uint64(math.Float32bits(v))}
}

func Float64(v float64) Value {
	return Value{typ: TypeFloat64, bits: math.Float64bits(v)}
}

func Bool(v bool) Value {
	if v {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

func String(v string) Value { return Value{typ: TypeString, str: v} }
func Binary(v []byte) Value { return Value{typ: TypeBinary, bin: v} }

// Enumerated holds the label of an enumeration together with its raw value.
func Enumerated(raw int64, label string) Value {
	return Value{typ: TypeEnumerated, bits: uint64(raw), str: label}
}

func Timestamp(t time.Time) Value { return Value{typ: TypeTimestamp, ts: t} }

func Aggregate(members []Member) Value { return Value{typ: TypeAggregate, members: members} }
func Array(elems []Value) Value        { return Value{typ: TypeArray, elems: elems} }

// Type returns the tag.
func (v Value) Type() Type { return v.typ }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.typ != TypeNone }

// IsInteger reports whether v holds one of the integer kinds.
func (v Value) IsInteger() bool {
	switch v.typ {
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64:
		return true
	}
	return false
}

// IsUnsigned reports whether v holds an unsigned integer.
func (v Value) IsUnsigned() bool {
	return v.typ == TypeUint32 || v.typ == TypeUint64
}

// IsFloat reports whether v holds a floating point number.
func (v Value) IsFloat() bool {
	return v.typ == TypeFloat32 || v.typ == TypeFloat64
}

// IsNumeric reports whether v is an integer or a float.
func (v Value) IsNumeric() bool {
	return v.IsInteger() || v.IsFloat()
}

// Int64 returns integer kinds as int64. Floats are truncated, booleans are 0
// or 1 and enumerations return their raw value.
func (v Value) Int64() int64 {
	switch v.typ {
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64, TypeBool, TypeEnumerated:
		return int64(v.bits)
	case TypeFloat32, TypeFloat64:
		return int64(v.Float64())
	}
	return 0
}

// Uint64 returns the integer bits unchanged.
func (v Value) Uint64() uint64 {
	switch v.typ {
	case TypeFloat32, TypeFloat64:
		return uint64(v.Float64())
	}
	return v.bits
}

// Float64 returns numeric kinds as float64.
func (v Value) Float64() float64 {
	switch v.typ {
	case TypeFloat32:
		return float64(math.Float32frombits(uint32(v.bits)))
	case TypeFloat64:
		return math.Float64frombits(v.bits)
	case TypeInt32, TypeInt64, TypeEnumerated:
		return float64(int64(v.bits))
	case TypeUint32, TypeUint64:
		return float64(v.bits)
	case TypeBool:
		return float64(v.bits)
	}
	return math.NaN()
}

// Bool returns the boolean content.
func (v Value) Bool() bool { return v.bits != 0 }

// Text returns string content, or the label of an enumeration.
func (v Value) Text() string { return v.str }

// Label returns the label of an enumeration.
func (v Value) Label() string { return v.str }

// Bytes returns binary content.
func (v Value) Bytes() []byte { return v.bin }

// Time returns timestamp content.
func (v Value) Time() time.Time { return v.ts }

// Members returns the members of an aggregate.
func (v Value) Members() []Member { return v.members }

// Member returns the aggregate member with the given name.
func (v Value) Member(name string) (Value, bool) {
	for _, m := range v.members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return None, false
}

// Elements returns the elements of an array.
func (v Value) Elements() []Value { return v.elems }

// Equal reports deep equality of two values, including their tag.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNone:
		return true
	case TypeString:
		return v.str == o.str
	case TypeEnumerated:
		return v.bits == o.bits && v.str == o.str
	case TypeBinary:
		return bytes.Equal(v.bin, o.bin)
	case TypeTimestamp:
		return v.ts.Equal(o.ts)
	case TypeAggregate:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Name != o.members[i].Name || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	case TypeArray:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	default:
		return v.bits == o.bits
	}
}

// String formats the value for logs and text output.
func (v Value) String() string {
	switch v.typ {
	case TypeNone:
		return "<none>"
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(int64(v.bits), 10)
	case TypeUint32, TypeUint64:
		return strconv.FormatUint(v.bits, 10)
	case TypeFloat32:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool())
	case TypeString, TypeEnumerated:
		return v.str
	case TypeBinary:
		return hex.EncodeToString(v.bin)
	case TypeTimestamp:
		return v.ts.UTC().Format(time.RFC3339Nano)
	case TypeAggregate:
		parts := make([]string, 0, len(v.members))
		for _, m := range v.members {
			parts = append(parts, fmt.Sprintf("%s: %s", m.Name, m.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeArray:
		parts := make([]string, 0, len(v.elems))
		for _, e := range v.elems {
			parts = append(parts, e.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "<unknown>"
}

// Native converts the value to plain Go types suitable for JSON encoding.
func (v Value) Native() interface{} {
	switch v.typ {
	case TypeInt32, TypeInt64:
		return int64(v.bits)
	case TypeUint32, TypeUint64:
		return v.bits
	case TypeFloat32, TypeFloat64:
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v.String()
		}
		return f
	case TypeBool:
		return v.Bool()
	case TypeString, TypeEnumerated:
		return v.str
	case TypeBinary:
		return hex.EncodeToString(v.bin)
	case TypeTimestamp:
		return v.ts.UTC().Format(time.RFC3339Nano)
	case TypeAggregate:
		m := make(map[string]interface{}, len(v.members))
		for _, member := range v.members {
			m[member.Name] = member.Value.Native()
		}
		return m
	case TypeArray:
		out := make([]interface{}, 0, len(v.elems))
		for _, e := range v.elems {
			out = append(out, e.Native())
		}
		return out
	}
	return nil
}
