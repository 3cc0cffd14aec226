// Package domain provides the per-packet result models and the interfaces
// connecting the processing engine to its collaborators.
package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

// AcquisitionStatus tells whether a parameter value can be trusted.
type AcquisitionStatus int

const (
	Acquired AcquisitionStatus = iota
	NotReceived
	Invalid
	Expired
)

// String returns the string representation of the acquisition status.
func (s AcquisitionStatus) String() string {
	switch s {
	case Acquired:
		return "ACQUIRED"
	case NotReceived:
		return "NOT_RECEIVED"
	case Invalid:
		return "INVALID"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// MonitoringResult is the instantaneous alarm severity. MonitoringDisabled
// means no alarm definition applied.
type MonitoringResult int

const (
	MonitoringDisabled MonitoringResult = iota
	InLimits
	Watch
	Warning
	Distress
	Critical
	Severe
)

// String returns the string representation of the monitoring result.
func (m MonitoringResult) String() string {
	switch m {
	case MonitoringDisabled:
		return ""
	case InLimits:
		return "IN_LIMITS"
	case Watch:
		return "WATCH"
	case Warning:
		return "WARNING"
	case Distress:
		return "DISTRESS"
	case Critical:
		return "CRITICAL"
	case Severe:
		return "SEVERE"
	default:
		return "UNKNOWN"
	}
}

// MonitoringFor maps a schema alarm level to a monitoring result.
func MonitoringFor(level schema.AlarmLevel) MonitoringResult {
	switch level {
	case schema.AlarmWatch:
		return Watch
	case schema.AlarmWarning:
		return Warning
	case schema.AlarmDistress:
		return Distress
	case schema.AlarmCritical:
		return Critical
	case schema.AlarmSevere:
		return Severe
	}
	return InLimits
}

// RangeCondition tells on which side of the violated range a value lies.
type RangeCondition int

const (
	RangeNone RangeCondition = iota
	RangeLow
	RangeHigh
)

// String returns the string representation of the range condition.
func (r RangeCondition) String() string {
	switch r {
	case RangeLow:
		return "LOW"
	case RangeHigh:
		return "HIGH"
	default:
		return ""
	}
}

// ParameterValue is one decoded occurrence of a parameter.
type ParameterValue struct {
	Parameter *schema.Parameter
	Raw       value.Value
	Eng       value.Value

	// position of the field in the packet
	BitOffset int
	BitSize   int

	AcquisitionTime time.Time
	GenerationTime  time.Time
	// Expiration is zero when the container has no expected interval.
	Expiration time.Duration

	Status         AcquisitionStatus
	Monitoring     MonitoringResult
	RangeCondition RangeCondition
	// ViolatedRange is the band the value fell out of, if any.
	ViolatedRange *schema.FloatRange
}

// Name returns the parameter name.
func (pv *ParameterValue) Name() string {
	return pv.Parameter.Name
}

// IsExpired reports whether the value is older than its expiration at now.
func (pv *ParameterValue) IsExpired(now time.Time) bool {
	return pv.Expiration > 0 && now.Sub(pv.AcquisitionTime) > pv.Expiration
}

type parameterValueJSON struct {
	Name           string      `json:"name"`
	Raw            interface{} `json:"raw,omitempty"`
	Eng            interface{} `json:"eng,omitempty"`
	BitOffset      int         `json:"bit_offset"`
	BitSize        int         `json:"bit_size"`
	Acquisition    time.Time   `json:"acquisition_time"`
	Generation     time.Time   `json:"generation_time"`
	ExpirationMs   int64       `json:"expiration_ms,omitempty"`
	Status         string      `json:"status"`
	Monitoring     string      `json:"monitoring,omitempty"`
	RangeCondition string      `json:"range_condition,omitempty"`
}

// MarshalJSON renders the value with plain JSON types.
func (pv *ParameterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(parameterValueJSON{
		Name:           pv.Parameter.Name,
		Raw:            pv.Raw.Native(),
		Eng:            pv.Eng.Native(),
		BitOffset:      pv.BitOffset,
		BitSize:        pv.BitSize,
		Acquisition:    pv.AcquisitionTime,
		Generation:     pv.GenerationTime,
		ExpirationMs:   pv.Expiration.Milliseconds(),
		Status:         pv.Status.String(),
		Monitoring:     pv.Monitoring.String(),
		RangeCondition: pv.RangeCondition.String(),
	})
}

// ArgumentValue is a resolved command argument.
type ArgumentValue struct {
	Argument *schema.Argument
	Raw      value.Value
	Eng      value.Value
}

// MarshalJSON renders the value with plain JSON types.
func (av *ArgumentValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string      `json:"name"`
		Raw  interface{} `json:"raw"`
		Eng  interface{} `json:"eng"`
	}{av.Argument.Name, av.Raw.Native(), av.Eng.Native()})
}

// ParameterCache gives access to previously received parameter values.
type ParameterCache interface {
	// Get returns the most recent value of p.
	Get(p *schema.Parameter) (*ParameterValue, bool)

	// GetInstance returns an older value of p: 0 is the most recent, -1
	// the one before, and so on.
	GetInstance(p *schema.Parameter, instance int) (*ParameterValue, bool)
}

// AlarmReporter receives every monitored parameter value together with the
// properties of the alarm definition that produced its severity. Debouncing,
// acknowledgement and latching are left to the reporter.
type AlarmReporter interface {
	ReportAlarm(ctx context.Context, pv *ParameterValue, props schema.AlarmProperties)
}

// MessagePublisher defines the interface for publishing processed data.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// StatsRegistry keeps track of received containers.
type StatsRegistry interface {
	// Record counts one reception of the named container
	Record(name string, reception, generation time.Time)

	// Get retrieves the statistics of a container
	Get(name string) (*ContainerStats, bool)

	// All returns the statistics of every container seen so far
	All() []*ContainerStats
}

// ContainerStats counts the receptions of one container.
type ContainerStats struct {
	Name           string    `json:"name"`
	Count          uint64    `json:"count"`
	LastReception  time.Time `json:"last_reception"`
	LastGeneration time.Time `json:"last_generation"`
}
