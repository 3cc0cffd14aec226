// Package alarm computes the instantaneous monitoring result of parameter
// values and hands them to an alarm reporter.
package alarm

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

// severities lists the numeric alarm levels from the most severe down.
var severities = []schema.AlarmLevel{
	schema.AlarmSevere,
	schema.AlarmCritical,
	schema.AlarmDistress,
	schema.AlarmWarning,
	schema.AlarmWatch,
}

// Matcher evaluates the context condition of an alarm.
type Matcher interface {
	Matches(mc schema.MatchCriteria) bool
}

// Checker applies the alarm definitions of parameter types.
type Checker struct {
	reporter domain.AlarmReporter
	logger   zerolog.Logger
}

// NewChecker creates a checker. reporter may be nil.
func NewChecker(reporter domain.AlarmReporter) *Checker {
	return &Checker{
		reporter: reporter,
		logger:   log.With().Str("component", "alarm").Logger(),
	}
}

// Check sets the monitoring result of every value and reports the monitored
// ones. m selects context alarms; when nil only default alarms apply.
func (c *Checker) Check(ctx context.Context, values []*domain.ParameterValue, m Matcher) {
	for _, pv := range values {
		c.CheckValue(ctx, pv, m)
	}
}

// CheckValue sets the monitoring result of pv. Values without an applicable
// alarm keep MonitoringDisabled and are not reported.
func (c *Checker) CheckValue(ctx context.Context, pv *domain.ParameterValue, m Matcher) {
	pv.Monitoring = domain.MonitoringDisabled
	pv.RangeCondition = domain.RangeNone
	pv.ViolatedRange = nil
	if pv.Status == domain.Invalid || !pv.Eng.IsValid() {
		return
	}

	var props schema.AlarmProperties
	switch t := pv.Parameter.Type.(type) {
	case *schema.IntegerType:
		a := selectNumeric(t.DefaultAlarm, t.ContextAlarms, m)
		if a == nil {
			return
		}
		checkNumeric(pv, a)
		props = a.AlarmProperties
	case *schema.FloatType:
		a := selectNumeric(t.DefaultAlarm, t.ContextAlarms, m)
		if a == nil {
			return
		}
		checkNumeric(pv, a)
		props = a.AlarmProperties
	case *schema.EnumeratedType:
		a := selectEnumeration(t.DefaultAlarm, t.ContextAlarms, m)
		if a == nil {
			return
		}
		if pv.Eng.Type() != value.TypeEnumerated {
			return
		}
		pv.Monitoring = domain.MonitoringFor(a.LevelFor(pv.Eng.Label()))
		props = a.AlarmProperties
	default:
		return
	}

	if pv.Monitoring != domain.InLimits {
		c.logger.Debug().
			Str("parameter", pv.Name()).
			Str("value", pv.Eng.String()).
			Str("monitoring", pv.Monitoring.String()).
			Str("range", pv.RangeCondition.String()).
			Msg("Out of limits")
	}
	if c.reporter != nil {
		c.reporter.ReportAlarm(ctx, pv, props)
	}
}

func selectNumeric(def *schema.NumericAlarm, contexts []*schema.NumericAlarm, m Matcher) *schema.NumericAlarm {
	if m != nil {
		for _, a := range contexts {
			if m.Matches(a.Context) {
				return a
			}
		}
	}
	return def
}

func selectEnumeration(def *schema.EnumerationAlarm, contexts []*schema.EnumerationAlarm, m Matcher) *schema.EnumerationAlarm {
	if m != nil {
		for _, a := range contexts {
			if m.Matches(a.Context) {
				return a
			}
		}
	}
	return def
}

// checkNumeric finds the most severe band the value falls out of.
func checkNumeric(pv *domain.ParameterValue, a *schema.NumericAlarm) {
	v := pv.Eng.Float64()
	for _, level := range severities {
		r := a.Ranges.Range(level)
		if r == nil {
			continue
		}
		switch r.Check(v) {
		case -1:
			pv.RangeCondition = domain.RangeLow
		case 1:
			pv.RangeCondition = domain.RangeHigh
		default:
			continue
		}
		pv.Monitoring = domain.MonitoringFor(level)
		pv.ViolatedRange = r
		return
	}
	pv.Monitoring = domain.InLimits
}
