package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
	"github.com/resident-x/go-tmtc/mocks"
)

func param(name string) *schema.Parameter {
	return &schema.Parameter{Name: name}
}

func pv(p *schema.Parameter, raw, eng value.Value) *domain.ParameterValue {
	return &domain.ParameterValue{Parameter: p, Raw: raw, Eng: eng}
}

func cmp(p *schema.Parameter, op schema.Operator, v value.Value) *schema.Comparison {
	return &schema.Comparison{Ref: schema.ParameterInstanceRef{Parameter: p, UseCalibrated: true}, Op: op, Value: v}
}

func TestComparisonOperators(t *testing.T) {
	p := param("p")
	ctx := NewEvaluator(nil).NewContext()
	ctx.Add(pv(p, value.Uint32(5), value.Uint32(5)))

	tests := []struct {
		op       schema.Operator
		literal  value.Value
		expected Result
	}{
		{schema.OpEqual, value.Uint64(5), OK},
		{schema.OpNotEqual, value.Uint64(5), NOK},
		{schema.OpLess, value.Uint64(6), OK},
		{schema.OpLessOrEqual, value.Uint64(4), NOK},
		{schema.OpGreater, value.Int64(-1), OK},
		{schema.OpGreaterOrEqual, value.Float64(5.0), OK},
		{schema.OpEqual, value.String("5"), Undef},
	}
	for _, tt := range tests {
		t.Run(tt.op.String()+" "+tt.literal.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, ctx.Evaluate(cmp(p, tt.op, tt.literal)))
		})
	}
}

func TestUnsignedOrderingOnlyWhenBothUnsigned(t *testing.T) {
	big := value.Uint64(1 << 63)
	order, ok := Compare(big, value.Uint64(1))
	assert.True(t, ok)
	assert.Equal(t, 1, order)

	// a signed operand makes the comparison signed
	order, ok = Compare(big, value.Int64(1))
	assert.True(t, ok)
	assert.Equal(t, -1, order)
}

func TestCompareKinds(t *testing.T) {
	tests := []struct {
		name  string
		a, b  value.Value
		order int
		ok    bool
	}{
		{"int float promotion", value.Int32(2), value.Float64(2.5), -1, true},
		{"strings", value.String("b"), value.String("a"), 1, true},
		{"binary", value.Binary([]byte{1}), value.Binary([]byte{1}), 0, true},
		{"bools", value.Bool(true), value.Bool(true), 0, true},
		{"enumeration label", value.Enumerated(1, "RUN"), value.String("RUN"), 0, true},
		{"enumeration raw", value.Enumerated(1, "RUN"), value.Int64(0), 1, true},
		{"bool vs string", value.Bool(true), value.String("true"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, ok := Compare(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.order, order)
			}
		})
	}
}

func TestTriStateLogic(t *testing.T) {
	p := param("p")
	missing := param("missing")
	ctx := NewEvaluator(nil).NewContext()
	ctx.Add(pv(p, value.Uint32(1), value.Uint32(1)))

	ok := cmp(p, schema.OpEqual, value.Uint64(1))
	nok := cmp(p, schema.OpEqual, value.Uint64(2))
	undef := cmp(missing, schema.OpEqual, value.Uint64(1))

	tests := []struct {
		name     string
		criteria schema.MatchCriteria
		expected Result
	}{
		{"nil", nil, OK},
		{"and all ok", &schema.ANDedConditions{Criteria: []schema.MatchCriteria{ok, ok}}, OK},
		{"and nok wins over undef", &schema.ANDedConditions{Criteria: []schema.MatchCriteria{undef, nok}}, NOK},
		{"and undef", &schema.ANDedConditions{Criteria: []schema.MatchCriteria{ok, undef}}, Undef},
		{"or ok wins over undef", &schema.ORedConditions{Criteria: []schema.MatchCriteria{undef, ok}}, OK},
		{"or undef", &schema.ORedConditions{Criteria: []schema.MatchCriteria{nok, undef}}, Undef},
		{"or all nok", &schema.ORedConditions{Criteria: []schema.MatchCriteria{nok, nok}}, NOK},
		{"nested", &schema.ORedConditions{Criteria: []schema.MatchCriteria{
			nok, &schema.ANDedConditions{Criteria: []schema.MatchCriteria{ok, ok}},
		}}, OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ctx.Evaluate(tt.criteria))
		})
	}
	assert.False(t, ctx.Matches(undef))
}

func TestLookupFallsBackToCache(t *testing.T) {
	p := param("p")
	cache := mocks.NewMockParameterCache(t)
	cache.EXPECT().GetInstance(p, 0).Return(pv(p, value.Uint32(7), value.Uint32(70)), true)

	ctx := NewEvaluator(cache).NewContext()
	assert.Equal(t, OK, ctx.Evaluate(cmp(p, schema.OpEqual, value.Uint64(70))))

	raw := &schema.Comparison{Ref: schema.ParameterInstanceRef{Parameter: p}, Op: schema.OpEqual, Value: value.Uint64(7)}
	assert.Equal(t, OK, ctx.Evaluate(raw))
}

func TestHistoryInstances(t *testing.T) {
	p := param("p")
	cache := mocks.NewMockParameterCache(t)
	cache.EXPECT().GetInstance(p, 0).Return(pv(p, value.Uint32(2), value.Uint32(2)), true)
	cache.EXPECT().GetInstance(p, -1).Return(pv(p, value.Uint32(1), value.Uint32(1)), true)

	ctx := NewEvaluator(cache).NewContext()
	previous := &schema.ParameterInstanceRef{Parameter: p, Instance: -1, UseCalibrated: true}

	// not delivered yet: -1 is one step back in the cache
	v, ok := ctx.Value(previous)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), v.Uint64())

	// delivered: the current value is instance 0, so -1 is the newest cached value
	ctx.Add(pv(p, value.Uint32(3), value.Uint32(3)))
	v, ok = ctx.Value(previous)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v.Uint64())

	v, ok = ctx.Value(&schema.ParameterInstanceRef{Parameter: p, UseCalibrated: true})
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v.Uint64())
}

func TestInvalidValueIsUndef(t *testing.T) {
	p := param("p")
	ctx := NewEvaluator(nil).NewContext()
	ctx.Add(&domain.ParameterValue{Parameter: p, Raw: value.Uint32(1), Status: domain.Invalid})

	assert.Equal(t, Undef, ctx.Evaluate(cmp(p, schema.OpEqual, value.Uint64(1))))
}

func TestParameterToParameterComparison(t *testing.T) {
	a := param("a")
	b := param("b")
	ctx := NewEvaluator(nil).NewContext()
	ctx.Add(pv(a, value.Int32(-3), value.Int32(-3)))
	ctx.Add(pv(b, value.Float64(-2.5), value.Float64(-2.5)))

	c := &schema.Comparison{
		Ref:   schema.ParameterInstanceRef{Parameter: a, UseCalibrated: true},
		Op:    schema.OpLess,
		Right: &schema.ParameterInstanceRef{Parameter: b, UseCalibrated: true},
	}
	assert.Equal(t, OK, ctx.Evaluate(c))
}

func TestInteger(t *testing.T) {
	n := param("n")
	ctx := NewEvaluator(nil).NewContext()

	v, ok := ctx.Integer(schema.FixedInteger(4))
	assert.True(t, ok)
	assert.Equal(t, int64(4), v)

	dynamic := schema.IntegerValue{
		Dynamic:    &schema.ParameterInstanceRef{Parameter: n},
		Adjustment: &schema.LinearAdjustment{Slope: 2, Intercept: 1},
	}
	_, ok = ctx.Integer(dynamic)
	assert.False(t, ok)

	ctx.Add(pv(n, value.Uint32(3), value.Float64(3.5)))
	v, ok = ctx.Integer(dynamic)
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	dynamic.Dynamic.UseCalibrated = true
	_, ok = ctx.Integer(dynamic)
	assert.False(t, ok, "float values are not counts")
}
