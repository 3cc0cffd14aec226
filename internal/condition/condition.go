// Package condition evaluates match criteria against the values of the
// packet being processed and the last value cache.
package condition

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

// Result is a three valued truth.
type Result int

const (
	// Undef means an operand was missing or the operands were not
	// comparable.
	Undef Result = iota
	OK
	NOK
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case NOK:
		return "NOK"
	default:
		return "UNDEF"
	}
}

// Evaluator creates per-packet evaluation contexts sharing one cache.
type Evaluator struct {
	cache  domain.ParameterCache
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator falling back to cache for parameters
// that are not part of the current delivery. cache may be nil.
func NewEvaluator(cache domain.ParameterCache) *Evaluator {
	return &Evaluator{
		cache:  cache,
		logger: log.With().Str("component", "condition").Logger(),
	}
}

// NewContext returns an empty context for one packet.
func (e *Evaluator) NewContext() *Context {
	return &Context{evaluator: e, latest: make(map[*schema.Parameter]*domain.ParameterValue)}
}

// Context holds the values delivered so far for one packet. It is not safe
// for concurrent use.
type Context struct {
	evaluator *Evaluator
	latest    map[*schema.Parameter]*domain.ParameterValue
}

// Add records a value of the current delivery. Later values of the same
// parameter replace earlier ones.
func (c *Context) Add(pv *domain.ParameterValue) {
	c.latest[pv.Parameter] = pv
}

// Lookup resolves a parameter reference. Instance 0 is the value of the
// current delivery if there is one, else the newest cached value. Negative
// instances count back through the cache, the current delivery being the
// newest instance when present.
func (c *Context) Lookup(ref *schema.ParameterInstanceRef) (*domain.ParameterValue, bool) {
	if ref.Instance > 0 {
		return nil, false
	}
	current, inDelivery := c.latest[ref.Parameter]
	if ref.Instance == 0 && inDelivery {
		return current, true
	}
	cache := c.evaluator.cache
	if cache == nil {
		return nil, false
	}
	instance := ref.Instance
	if inDelivery {
		instance++
	}
	return cache.GetInstance(ref.Parameter, instance)
}

// Value resolves a reference to its raw or engineering value.
func (c *Context) Value(ref *schema.ParameterInstanceRef) (value.Value, bool) {
	pv, ok := c.Lookup(ref)
	if !ok || pv.Status == domain.Invalid {
		return value.None, false
	}
	v := pv.Raw
	if ref.UseCalibrated {
		v = pv.Eng
	}
	return v, v.IsValid()
}

// Integer resolves a fixed or dynamic integer. Dynamic values must come
// from an integer, enumerated or boolean parameter value.
func (c *Context) Integer(iv schema.IntegerValue) (int64, bool) {
	if iv.Dynamic == nil {
		return iv.Fixed, true
	}
	v, ok := c.Value(iv.Dynamic)
	if !ok {
		return 0, false
	}
	switch {
	case v.IsInteger(), v.Type() == value.TypeEnumerated, v.Type() == value.TypeBool:
		return iv.Adjust(v.Int64()), true
	}
	return 0, false
}

// Matches reports whether mc evaluates to OK. A nil criteria matches.
func (c *Context) Matches(mc schema.MatchCriteria) bool {
	return c.Evaluate(mc) == OK
}

// Evaluate computes the truth of mc. A nil criteria is OK.
func (c *Context) Evaluate(mc schema.MatchCriteria) Result {
	switch m := mc.(type) {
	case nil:
		return OK
	case *schema.Comparison:
		return c.compare(m)
	case *schema.ANDedConditions:
		undef := false
		for _, sub := range m.Criteria {
			switch c.Evaluate(sub) {
			case NOK:
				return NOK
			case Undef:
				undef = true
			}
		}
		if undef {
			return Undef
		}
		return OK
	case *schema.ORedConditions:
		undef := false
		for _, sub := range m.Criteria {
			switch c.Evaluate(sub) {
			case OK:
				return OK
			case Undef:
				undef = true
			}
		}
		if undef {
			return Undef
		}
		return NOK
	}
	return Undef
}

func (c *Context) compare(cmp *schema.Comparison) Result {
	left, ok := c.Value(&cmp.Ref)
	if !ok {
		return Undef
	}
	right := cmp.Value
	if cmp.Right != nil {
		if right, ok = c.Value(cmp.Right); !ok {
			return Undef
		}
	}
	if !right.IsValid() {
		return Undef
	}

	order, ok := Compare(left, right)
	if !ok {
		c.evaluator.logger.Debug().
			Str("parameter", cmp.Ref.Parameter.Name).
			Str("left", left.Type().String()).
			Str("right", right.Type().String()).
			Msg("Incomparable operands")
		return Undef
	}
	if holds(order, cmp.Op) {
		return OK
	}
	return NOK
}

func holds(order int, op schema.Operator) bool {
	switch op {
	case schema.OpEqual:
		return order == 0
	case schema.OpNotEqual:
		return order != 0
	case schema.OpLess:
		return order < 0
	case schema.OpLessOrEqual:
		return order <= 0
	case schema.OpGreater:
		return order > 0
	case schema.OpGreaterOrEqual:
		return order >= 0
	}
	return false
}

// Compare orders two values. Integers compare as unsigned only when both
// are unsigned, integers and floats compare as floats, enumerations compare
// by label with strings and by raw value with numbers. ok is false when the
// kinds cannot be compared.
func Compare(a, b value.Value) (order int, ok bool) {
	switch {
	case a.Type() == value.TypeEnumerated && b.Type() == value.TypeEnumerated:
		return cmpInt(a.Int64(), b.Int64()), true
	case a.Type() == value.TypeEnumerated && b.Type() == value.TypeString:
		return strings.Compare(a.Label(), b.Text()), true
	case a.Type() == value.TypeString && b.Type() == value.TypeEnumerated:
		return strings.Compare(a.Text(), b.Label()), true
	}

	integer := func(v value.Value) bool { return v.IsInteger() || v.Type() == value.TypeEnumerated }
	switch {
	case integer(a) && integer(b):
		if a.IsUnsigned() && b.IsUnsigned() {
			return cmpUint(a.Uint64(), b.Uint64()), true
		}
		return cmpInt(a.Int64(), b.Int64()), true
	case (integer(a) || a.IsFloat()) && (integer(b) || b.IsFloat()):
		return cmpFloat(a.Float64(), b.Float64())
	case a.Type() != b.Type():
		return 0, false
	}

	switch a.Type() {
	case value.TypeString:
		return strings.Compare(a.Text(), b.Text()), true
	case value.TypeBinary:
		return bytes.Compare(a.Bytes(), b.Bytes()), true
	case value.TypeBool:
		return cmpInt(a.Int64(), b.Int64()), true
	case value.TypeTimestamp:
		return a.Time().Compare(b.Time()), true
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) (int, bool) {
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	case a == b:
		return 0, true
	}
	// NaN
	return 0, false
}
