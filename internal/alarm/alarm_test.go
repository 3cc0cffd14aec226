package alarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
	"github.com/resident-x/go-tmtc/mocks"
)

type matchAll bool

func (m matchAll) Matches(schema.MatchCriteria) bool { return bool(m) }

func symmetric(limit float64) *schema.FloatRange {
	return schema.NewFloatRange(-limit, limit)
}

func nestedAlarm() *schema.NumericAlarm {
	return &schema.NumericAlarm{
		AlarmProperties: schema.AlarmProperties{MinViolations: 1},
		Ranges: schema.AlarmRanges{
			Watch:    symmetric(10),
			Warning:  symmetric(20),
			Critical: symmetric(30),
			Severe:   symmetric(40),
		},
	}
}

func floatValue(dt schema.DataType, v float64) *domain.ParameterValue {
	p := &schema.Parameter{Name: "temp", Type: dt}
	return &domain.ParameterValue{Parameter: p, Raw: value.Float64(v), Eng: value.Float64(v)}
}

func TestSeverityOrdering(t *testing.T) {
	ft := &schema.FloatType{SizeInBits: 64, DefaultAlarm: nestedAlarm()}
	checker := NewChecker(nil)

	tests := []struct {
		value     float64
		expected  domain.MonitoringResult
		condition domain.RangeCondition
	}{
		{50, domain.Severe, domain.RangeHigh},
		{-35, domain.Critical, domain.RangeLow},
		{25, domain.Warning, domain.RangeHigh},
		{15, domain.Watch, domain.RangeHigh},
		{5, domain.InLimits, domain.RangeNone},
		{10, domain.InLimits, domain.RangeNone},
	}
	for _, tt := range tests {
		pv := floatValue(ft, tt.value)
		checker.CheckValue(context.Background(), pv, nil)
		assert.Equal(t, tt.expected, pv.Monitoring, "value %v", tt.value)
		assert.Equal(t, tt.condition, pv.RangeCondition, "value %v", tt.value)
	}
}

func TestViolatedRange(t *testing.T) {
	a := nestedAlarm()
	pv := floatValue(&schema.FloatType{SizeInBits: 64, DefaultAlarm: a}, 15)
	NewChecker(nil).CheckValue(context.Background(), pv, nil)
	assert.Same(t, a.Ranges.Watch, pv.ViolatedRange)
}

func TestExclusiveBound(t *testing.T) {
	a := &schema.NumericAlarm{Ranges: schema.AlarmRanges{
		Warning: &schema.FloatRange{Min: 0, Max: 100, MinInclusive: true},
	}}
	pv := floatValue(&schema.FloatType{SizeInBits: 64, DefaultAlarm: a}, 100)
	NewChecker(nil).CheckValue(context.Background(), pv, nil)
	assert.Equal(t, domain.Warning, pv.Monitoring)
	assert.Equal(t, domain.RangeHigh, pv.RangeCondition)
}

func TestContextAlarmSelection(t *testing.T) {
	contextual := &schema.NumericAlarm{
		Context: &schema.Comparison{},
		Ranges:  schema.AlarmRanges{Critical: symmetric(1)},
	}
	it := &schema.IntegerType{
		SizeInBits:    32,
		DefaultAlarm:  nestedAlarm(),
		ContextAlarms: []*schema.NumericAlarm{contextual},
	}
	p := &schema.Parameter{Name: "current", Type: it}
	checker := NewChecker(nil)

	pv := &domain.ParameterValue{Parameter: p, Raw: value.Int32(5), Eng: value.Int32(5)}
	checker.CheckValue(context.Background(), pv, matchAll(true))
	assert.Equal(t, domain.Critical, pv.Monitoring)

	checker.CheckValue(context.Background(), pv, matchAll(false))
	assert.Equal(t, domain.InLimits, pv.Monitoring)

	checker.CheckValue(context.Background(), pv, nil)
	assert.Equal(t, domain.InLimits, pv.Monitoring)
}

func TestEnumerationAlarm(t *testing.T) {
	et := &schema.EnumeratedType{
		Values: []schema.Enumeration{{Value: 0, Label: "SAFE"}, {Value: 1, Label: "RUN"}, {Value: 2, Label: "FAIL"}},
		DefaultAlarm: &schema.EnumerationAlarm{
			DefaultLevel: schema.AlarmWatch,
			Items: []schema.EnumerationAlarmItem{
				{Label: "RUN", Level: schema.AlarmNormal},
				{Label: "FAIL", Level: schema.AlarmCritical},
			},
		},
	}
	p := &schema.Parameter{Name: "mode", Type: et}
	checker := NewChecker(nil)

	tests := []struct {
		raw      int64
		label    string
		expected domain.MonitoringResult
	}{
		{1, "RUN", domain.InLimits},
		{2, "FAIL", domain.Critical},
		{0, "SAFE", domain.Watch},
	}
	for _, tt := range tests {
		pv := &domain.ParameterValue{Parameter: p, Raw: value.Uint32(uint32(tt.raw)), Eng: value.Enumerated(tt.raw, tt.label)}
		checker.CheckValue(context.Background(), pv, nil)
		assert.Equal(t, tt.expected, pv.Monitoring, tt.label)
	}
}

func TestNoAlarmDefinition(t *testing.T) {
	reporter := mocks.NewMockAlarmReporter(t)
	pv := floatValue(&schema.FloatType{SizeInBits: 64}, 1e9)
	NewChecker(reporter).CheckValue(context.Background(), pv, nil)
	assert.Equal(t, domain.MonitoringDisabled, pv.Monitoring)
	reporter.AssertNotCalled(t, "ReportAlarm", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidValueNotMonitored(t *testing.T) {
	reporter := mocks.NewMockAlarmReporter(t)
	pv := floatValue(&schema.FloatType{SizeInBits: 64, DefaultAlarm: nestedAlarm()}, 50)
	pv.Status = domain.Invalid

	NewChecker(reporter).CheckValue(context.Background(), pv, nil)
	assert.Equal(t, domain.MonitoringDisabled, pv.Monitoring)
}

func TestDebouncePassThrough(t *testing.T) {
	a := &schema.NumericAlarm{
		AlarmProperties: schema.AlarmProperties{MinViolations: 3, AutoAck: true},
		Ranges:          schema.AlarmRanges{Warning: symmetric(20)},
	}
	ft := &schema.FloatType{SizeInBits: 64, DefaultAlarm: a}

	reporter := mocks.NewMockAlarmReporter(t)
	var reported []domain.MonitoringResult
	reporter.EXPECT().
		ReportAlarm(mock.Anything, mock.Anything, schema.AlarmProperties{MinViolations: 3, AutoAck: true}).
		Run(func(_ context.Context, pv *domain.ParameterValue, _ schema.AlarmProperties) {
			reported = append(reported, pv.Monitoring)
		}).
		Times(3)

	checker := NewChecker(reporter)
	for _, v := range []float64{25, 30, 5} {
		checker.Check(context.Background(), []*domain.ParameterValue{floatValue(ft, v)}, nil)
	}

	// the first violation is reported as is, debouncing is left to the reporter
	assert.Equal(t, []domain.MonitoringResult{domain.Warning, domain.Warning, domain.InLimits}, reported)
}
