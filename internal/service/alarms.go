package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
)

// AlarmEvent is published whenever an alarm is raised, changes severity or
// clears.
type AlarmEvent struct {
	Parameter  string                 `json:"parameter"`
	Severity   string                 `json:"severity"`
	Violations int                    `json:"violations"`
	Triggered  time.Time              `json:"triggered"`
	Updated    time.Time              `json:"updated"`
	Latched    bool                   `json:"latched,omitempty"`
	Value      *domain.ParameterValue `json:"value"`
}

type alarmState struct {
	violations int
	raised     bool
	severity   domain.MonitoringResult
	triggered  time.Time
	last       *domain.ParameterValue
	latched    bool
}

// AlarmMonitor is the alarm reporter of the processor. An alarm is raised
// after MinViolations consecutive out-of-limits values and cleared on the
// first in-limits value unless the definition is latching.
type AlarmMonitor struct {
	publisher domain.MessagePublisher
	topic     string

	mu     sync.Mutex
	states map[*schema.Parameter]*alarmState
	logger zerolog.Logger
}

// NewAlarmMonitor creates a monitor publishing events on topic. publisher
// may be nil.
func NewAlarmMonitor(publisher domain.MessagePublisher, topic string) *AlarmMonitor {
	return &AlarmMonitor{
		publisher: publisher,
		topic:     topic,
		states:    make(map[*schema.Parameter]*alarmState),
		logger:    log.With().Str("component", "alarms").Logger(),
	}
}

// ReportAlarm implements domain.AlarmReporter.
func (m *AlarmMonitor) ReportAlarm(ctx context.Context, pv *domain.ParameterValue, props schema.AlarmProperties) {
	event := m.update(pv, props)
	if event == nil || m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, m.topic, event); err != nil {
		m.logger.Error().Err(err).Str("parameter", event.Parameter).Msg("Failed to publish alarm")
	}
}

func (m *AlarmMonitor) update(pv *domain.ParameterValue, props schema.AlarmProperties) *AlarmEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[pv.Parameter]
	if !ok {
		st = &alarmState{}
		m.states[pv.Parameter] = st
	}
	st.last = pv

	if pv.Monitoring <= domain.InLimits {
		st.violations = 0
		if !st.raised || st.latched {
			return nil
		}
		st.raised = false
		m.logger.Info().Str("parameter", pv.Name()).Msg("Parameter back in limits")
		return st.event(pv, "CLEARED")
	}

	st.violations++
	minViolations := props.MinViolations
	if minViolations < 1 {
		minViolations = 1
	}
	if st.violations < minViolations {
		return nil
	}

	changed := !st.raised || pv.Monitoring != st.severity
	if !st.raised {
		st.triggered = pv.AcquisitionTime
	}
	st.raised = true
	st.latched = st.latched || props.Latching
	st.severity = pv.Monitoring
	if !changed {
		return nil
	}

	m.logger.Warn().
		Str("parameter", pv.Name()).
		Str("severity", pv.Monitoring.String()).
		Str("range", pv.RangeCondition.String()).
		Interface("value", pv.Eng.Native()).
		Int("violations", st.violations).
		Msg("Parameter out of limits")
	return st.event(pv, pv.Monitoring.String())
}

func (st *alarmState) event(pv *domain.ParameterValue, severity string) *AlarmEvent {
	return &AlarmEvent{
		Parameter:  pv.Name(),
		Severity:   severity,
		Violations: st.violations,
		Triggered:  st.triggered,
		Updated:    pv.AcquisitionTime,
		Latched:    st.latched,
		Value:      pv,
	}
}

// Active returns the raised alarms ordered by parameter name.
func (m *AlarmMonitor) Active() []*AlarmEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*AlarmEvent, 0)
	for _, st := range m.states {
		if st.raised {
			out = append(out, st.event(st.last, st.severity.String()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}
