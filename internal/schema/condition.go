package schema

import (
	"fmt"

	"github.com/resident-x/go-tmtc/internal/value"
)

// MatchCriteria is a boolean expression over parameter values. The set of
// implementations is closed: *Comparison, *ANDedConditions and
// *ORedConditions.
type MatchCriteria interface {
	matchCriteria()
}

// Operator is a comparison operator.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

// String returns the symbol of the operator.
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	default:
		return "?"
	}
}

// ParseOperator parses an operator symbol.
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "==", "=", "eq":
		return OpEqual, nil
	case "!=", "<>", "ne":
		return OpNotEqual, nil
	case "<", "lt":
		return OpLess, nil
	case "<=", "le":
		return OpLessOrEqual, nil
	case ">", "gt":
		return OpGreater, nil
	case ">=", "ge":
		return OpGreaterOrEqual, nil
	}
	return OpEqual, fmt.Errorf("unknown comparison operator %q", s)
}

// ParameterInstanceRef points at a value of a parameter. Instance 0 is the
// most recent value, negative instances go back in history.
type ParameterInstanceRef struct {
	Parameter     *Parameter
	Instance      int
	UseCalibrated bool
}

// Comparison compares a parameter value with a literal or, when Right is
// set, with another parameter value.
type Comparison struct {
	Ref     ParameterInstanceRef
	Op      Operator
	Literal string
	Right   *ParameterInstanceRef

	// Value is Literal converted to the type of Ref. It is filled in by
	// Database.Finalize.
	Value value.Value
}

func (*Comparison) matchCriteria() {}

// ANDedConditions holds when all its criteria hold.
type ANDedConditions struct {
	Criteria []MatchCriteria
}

func (*ANDedConditions) matchCriteria() {}

// ORedConditions holds when any of its criteria holds.
type ORedConditions struct {
	Criteria []MatchCriteria
}

func (*ORedConditions) matchCriteria() {}

// LinearAdjustment maps a dynamic value v to Intercept + Slope*v.
type LinearAdjustment struct {
	Slope     float64
	Intercept float64
}

// IntegerValue is either a fixed integer or the value of a parameter.
type IntegerValue struct {
	Fixed      int64
	Dynamic    *ParameterInstanceRef
	Adjustment *LinearAdjustment
}

// FixedInteger returns a fixed IntegerValue.
func FixedInteger(v int64) IntegerValue {
	return IntegerValue{Fixed: v}
}

// IsDynamic reports whether the value depends on a parameter.
func (v IntegerValue) IsDynamic() bool {
	return v.Dynamic != nil
}

// Adjust applies the linear adjustment to a dynamic value.
func (v IntegerValue) Adjust(x int64) int64 {
	if v.Adjustment == nil {
		return x
	}
	return int64(v.Adjustment.Intercept + v.Adjustment.Slope*float64(x))
}

// References returns every parameter reference appearing in mc.
func References(mc MatchCriteria) []*ParameterInstanceRef {
	var refs []*ParameterInstanceRef
	walkCriteria(mc, func(c *Comparison) {
		refs = append(refs, &c.Ref)
		if c.Right != nil {
			refs = append(refs, c.Right)
		}
	})
	return refs
}

func walkCriteria(mc MatchCriteria, fn func(*Comparison)) {
	switch c := mc.(type) {
	case nil:
	case *Comparison:
		fn(c)
	case *ANDedConditions:
		for _, sub := range c.Criteria {
			walkCriteria(sub, fn)
		}
	case *ORedConditions:
		for _, sub := range c.Criteria {
			walkCriteria(sub, fn)
		}
	}
}
