// Package metrics exposes packet processing and command counters to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resident-x/go-tmtc/internal/domain"
)

const namespace = "tmtc"

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests and embedded engines do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	packets        *prometheus.CounterVec
	packetErrors   *prometheus.CounterVec
	containers     *prometheus.CounterVec
	parameters     *prometheus.CounterVec
	alarms         *prometheus.CounterVec
	commands       *prometheus.CounterVec
	decodeDuration prometheus.Histogram
	packetBytes    prometheus.Histogram
	linkSessions   prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "packets_total",
			Help:      "Telemetry packets processed, by source.",
		}, []string{"source"}),
		packetErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "packet_errors_total",
			Help:      "Telemetry packets rejected, by reason.",
		}, []string{"reason"}),
		containers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "containers_total",
			Help:      "Containers matched while decoding packets.",
		}, []string{"container"}),
		parameters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "parameters_total",
			Help:      "Parameter values extracted, by acquisition status.",
		}, []string{"status"}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "out_of_limits_total",
			Help:      "Parameter values outside their limits, by severity.",
		}, []string{"severity"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tc",
			Name:      "commands_total",
			Help:      "Command builds, by command and outcome.",
		}, []string{"command", "success"}),
		decodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding, monitoring and publishing one packet.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		packetBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tm",
			Name:      "packet_size_bytes",
			Help:      "Size of the processed packets.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 14),
		}),
		linkSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "sessions",
			Help:      "Open TM link connections.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.packets, m.packetErrors, m.containers, m.parameters, m.alarms,
		m.commands, m.decodeDuration, m.packetBytes, m.linkSessions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPacket accounts for one processed packet.
func (m *Metrics) RecordPacket(source string, size int, containers []string, values []*domain.ParameterValue, elapsed time.Duration) {
	m.packets.WithLabelValues(source).Inc()
	m.packetBytes.Observe(float64(size))
	m.decodeDuration.Observe(elapsed.Seconds())
	for _, name := range containers {
		m.containers.WithLabelValues(name).Inc()
	}
	for _, pv := range values {
		m.parameters.WithLabelValues(pv.Status.String()).Inc()
		if pv.Monitoring > domain.InLimits {
			m.alarms.WithLabelValues(pv.Monitoring.String()).Inc()
		}
	}
}

// RecordPacketError counts a packet that could not be processed.
func (m *Metrics) RecordPacketError(reason string) {
	m.packetErrors.WithLabelValues(reason).Inc()
}

// RecordCommand counts one command build.
func (m *Metrics) RecordCommand(name string, success bool) {
	m.commands.WithLabelValues(name, strconv.FormatBool(success)).Inc()
}

// SessionOpened and SessionClosed track the open link connections.
func (m *Metrics) SessionOpened() { m.linkSessions.Inc() }

func (m *Metrics) SessionClosed() { m.linkSessions.Dec() }
