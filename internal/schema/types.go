package schema

import (
	"math"
	"time"
)

// DataType is the type of a parameter or argument. The set of
// implementations is closed: IntegerType, FloatType, StringType, BinaryType,
// BooleanType, EnumeratedType, AbsoluteTimeType, AggregateType and ArrayType.
type DataType interface {
	Base() *BaseType
	dataType()
}

// BaseType holds the attributes common to every data type.
type BaseType struct {
	Name     string
	Unit     string
	Encoding DataEncoding
	// InitialValue is the intrinsic default used when a command argument
	// has no other value.
	InitialValue *string
}

func (b *BaseType) Base() *BaseType { return b }

// Initial returns the intrinsic default of the type.
func (b *BaseType) Initial() (string, bool) {
	if b.InitialValue == nil {
		return "", false
	}
	return *b.InitialValue, true
}

// IntegerRange is an inclusive integer interval.
type IntegerRange struct {
	Min int64
	Max int64
}

// Contains reports whether v lies in the range.
func (r IntegerRange) Contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

// FloatRange is a float interval. Unbounded sides use infinities.
type FloatRange struct {
	Min          float64
	Max          float64
	MinInclusive bool
	MaxInclusive bool
}

// NewFloatRange returns the inclusive range [lo, hi].
func NewFloatRange(lo, hi float64) *FloatRange {
	return &FloatRange{Min: lo, Max: hi, MinInclusive: true, MaxInclusive: true}
}

// Unbounded returns a range with no limits.
func Unbounded() *FloatRange {
	return NewFloatRange(math.Inf(-1), math.Inf(1))
}

// Check returns -1 when v lies below the range, 1 when it lies above and 0
// when it is inside.
func (r FloatRange) Check(v float64) int {
	if v < r.Min || (!r.MinInclusive && v == r.Min) {
		return -1
	}
	if v > r.Max || (!r.MaxInclusive && v == r.Max) {
		return 1
	}
	return 0
}

// IntegerType is a signed or unsigned integer with an engineering size of
// 32 or 64 bits.
type IntegerType struct {
	BaseType
	Signed        bool
	SizeInBits    int
	ValidRange    *IntegerRange
	DefaultAlarm  *NumericAlarm
	ContextAlarms []*NumericAlarm
}

func (*IntegerType) dataType() {}

// FloatType is a 32 or 64 bit float.
type FloatType struct {
	BaseType
	SizeInBits    int
	ValidRange    *FloatRange
	DefaultAlarm  *NumericAlarm
	ContextAlarms []*NumericAlarm
}

func (*FloatType) dataType() {}

// StringType is a character string. SizeRange bounds the length in
// characters of command arguments.
type StringType struct {
	BaseType
	SizeRange *IntegerRange
}

func (*StringType) dataType() {}

// BinaryType is an opaque byte string. SizeRange bounds the length in bytes.
type BinaryType struct {
	BaseType
	SizeRange *IntegerRange
}

func (*BinaryType) dataType() {}

// BooleanType is a boolean with optional textual forms.
type BooleanType struct {
	BaseType
	OneString  string
	ZeroString string
}

func (*BooleanType) dataType() {}

// Enumeration maps the raw values Value..MaxValue to Label.
type Enumeration struct {
	Value       int64
	MaxValue    int64
	Label       string
	Description string
}

// EnumeratedType maps integer raw values to labels.
type EnumeratedType struct {
	BaseType
	Values        []Enumeration
	DefaultAlarm  *EnumerationAlarm
	ContextAlarms []*EnumerationAlarm
}

func (*EnumeratedType) dataType() {}

// LookupLabel returns the first enumeration, in declaration order, whose
// range contains raw.
func (t *EnumeratedType) LookupLabel(raw int64) (string, bool) {
	for _, e := range t.Values {
		hi := e.MaxValue
		if hi < e.Value {
			hi = e.Value
		}
		if raw >= e.Value && raw <= hi {
			return e.Label, true
		}
	}
	return "", false
}

// LookupValue returns the raw value of label.
func (t *EnumeratedType) LookupValue(label string) (int64, bool) {
	for _, e := range t.Values {
		if e.Label == label {
			return e.Value, true
		}
	}
	return 0, false
}

// AbsoluteTimeType converts a numeric raw value to a time:
// Epoch + Offset + Scale*raw seconds.
type AbsoluteTimeType struct {
	BaseType
	Epoch  time.Time
	Scale  float64
	Offset float64
}

func (*AbsoluteTimeType) dataType() {}

// AggregateMember is one member of an aggregate type.
type AggregateMember struct {
	Name string
	Type DataType
}

// AggregateType is a record of members decoded one after the other. It has
// no encoding of its own.
type AggregateType struct {
	BaseType
	Members []AggregateMember
}

func (*AggregateType) dataType() {}

// ArrayType repeats ElementType. The number of elements is the product of
// the dimension sizes.
type ArrayType struct {
	BaseType
	ElementType DataType
	Dimensions  []IntegerValue
}

func (*ArrayType) dataType() {}

// AlarmLevel is the severity of an alarm range or enumeration state.
type AlarmLevel int

const (
	AlarmNormal AlarmLevel = iota
	AlarmWatch
	AlarmWarning
	AlarmDistress
	AlarmCritical
	AlarmSevere
)

// String returns the string representation of the alarm level.
func (l AlarmLevel) String() string {
	switch l {
	case AlarmNormal:
		return "normal"
	case AlarmWatch:
		return "watch"
	case AlarmWarning:
		return "warning"
	case AlarmDistress:
		return "distress"
	case AlarmCritical:
		return "critical"
	case AlarmSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// ParseAlarmLevel parses the lower case level name.
func ParseAlarmLevel(s string) (AlarmLevel, bool) {
	for l := AlarmNormal; l <= AlarmSevere; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return AlarmNormal, false
}

// AlarmProperties are forwarded unevaluated to the alarm server.
type AlarmProperties struct {
	MinViolations int
	AutoAck       bool
	Latching      bool
}

// AlarmRanges are the in-limits bands of a numeric alarm. A value outside
// a band violates that level.
type AlarmRanges struct {
	Watch    *FloatRange
	Warning  *FloatRange
	Distress *FloatRange
	Critical *FloatRange
	Severe   *FloatRange
}

// Range returns the band for level.
func (r *AlarmRanges) Range(level AlarmLevel) *FloatRange {
	switch level {
	case AlarmWatch:
		return r.Watch
	case AlarmWarning:
		return r.Warning
	case AlarmDistress:
		return r.Distress
	case AlarmCritical:
		return r.Critical
	case AlarmSevere:
		return r.Severe
	}
	return nil
}

// NumericAlarm is a numeric alarm definition. Context is nil for the default
// alarm of a type.
type NumericAlarm struct {
	AlarmProperties
	Context MatchCriteria
	Ranges  AlarmRanges
}

// EnumerationAlarmItem assigns a level to one label.
type EnumerationAlarmItem struct {
	Label string
	Level AlarmLevel
}

// EnumerationAlarm is an enumeration alarm definition. Labels without an
// item take DefaultLevel.
type EnumerationAlarm struct {
	AlarmProperties
	Context      MatchCriteria
	DefaultLevel AlarmLevel
	Items        []EnumerationAlarmItem
}

// LevelFor returns the alarm level of label.
func (a *EnumerationAlarm) LevelFor(label string) AlarmLevel {
	for _, it := range a.Items {
		if it.Label == label {
			return it.Level
		}
	}
	return a.DefaultLevel
}
