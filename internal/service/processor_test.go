package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/metrics"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/mocks"
)

const serviceSchema = `
root_container: ccsds
types:
  - name: uint11
    kind: integer
    encoding: {kind: integer, bits: 11}
  - name: uint8
    kind: integer
    encoding: {kind: integer, bits: 8}
  - name: temp
    kind: float
    unit: degC
    encoding:
      kind: integer
      bits: 16
      calibrator: {polynomial: [-50, 0.1]}
    default_alarm:
      warning: {min: -10, max: 40}
      critical: {min: -20, max: 60}
  - name: mode
    kind: enumerated
    encoding: {kind: integer, bits: 8}
    enumeration:
      - {value: 0, label: SAFE}
      - {value: 1, label: RUN}
parameters:
  - {name: apid, type: uint11}
  - {name: temperature, type: temp}
  - {name: mode, type: mode}
containers:
  - name: ccsds
    entries:
      - {fixed: {label: version, hex: "00", bits: 5}}
      - {parameter: apid}
  - name: hk
    base: ccsds
    restriction: {parameter: apid, value: "100", calibrated: false}
    entries:
      - {parameter: temperature}
      - {parameter: mode}
commands:
  - name: ping
    entries:
      - {fixed: {hex: "7F", bits: 8}}
  - name: set_mode
    arguments:
      - {name: mode, type: mode, initial_value: SAFE}
    entries:
      - {fixed: {hex: "01", bits: 8}}
      - {argument: mode}
`

var (
	// apid 100, temperature 20.0, RUN
	hkNominal = []byte{0x00, 0x64, 0x02, 0xBC, 0x01}
	// apid 100, temperature 50.0, RUN
	hkWarm = []byte{0x00, 0x64, 0x03, 0xE8, 0x01}
)

func loadServiceSchema(t *testing.T) *schema.Database {
	t.Helper()
	db, err := schema.Load(strings.NewReader(serviceSchema))
	require.NoError(t, err)
	return db
}

func newTestProcessor(t *testing.T, cfg *config.Config, publisher domain.MessagePublisher, m *metrics.Metrics) *Processor {
	t.Helper()
	p, err := NewProcessor(cfg, loadServiceSchema(t), publisher, m)
	require.NoError(t, err)
	return p
}

func parameter(t *testing.T, p *Processor, name string) *schema.Parameter {
	t.Helper()
	prm, ok := p.Database().Parameter(name)
	require.True(t, ok)
	return prm
}

func TestProcessDeliversValues(t *testing.T) {
	publisher := mocks.NewMockMessagePublisher(t)
	var published *Packet
	publisher.EXPECT().
		Publish(mock.Anything, "tmtc/packets", mock.AnythingOfType("*service.Packet")).
		Run(func(_ context.Context, _ string, data interface{}) {
			published = data.(*Packet)
		}).
		Return(nil).Once()

	m := metrics.New()
	p := newTestProcessor(t, config.DefaultConfig(), publisher, m)

	pkt, err := p.Process(context.Background(), SourceLink, hkNominal)
	require.NoError(t, err)
	assert.Same(t, pkt, published)

	assert.Equal(t, []string{"ccsds", "hk"}, pkt.Containers)
	assert.Equal(t, "hk", pkt.Container())
	assert.Equal(t, 5, pkt.SizeBytes)
	assert.Equal(t, 40, pkt.SizeBits)
	require.Len(t, pkt.Parameters, 3)

	temp, ok := p.Cache().Get(parameter(t, p, "temperature"))
	require.True(t, ok)
	assert.InDelta(t, 20.0, temp.Eng.Native(), 1e-9)
	assert.Equal(t, domain.InLimits, temp.Monitoring)

	stats, ok := p.Stats().Get("hk")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Count)

	assert.Contains(t, scrape(t, m), `tmtc_tm_packets_total{source="link"} 1`)
	assert.Contains(t, scrape(t, m), `tmtc_tm_containers_total{container="hk"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPublishTopicPerContainer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.Topic = "sat1"
	cfg.Processing.PublishTopicPerContainer = true

	publisher := mocks.NewMockMessagePublisher(t)
	publisher.EXPECT().Publish(mock.Anything, "sat1/packets/hk", mock.Anything).Return(nil).Once()

	p := newTestProcessor(t, cfg, publisher, nil)
	_, err := p.Process(context.Background(), SourceLink, hkNominal)
	require.NoError(t, err)
}

func TestPublishFailureDoesNotFailPacket(t *testing.T) {
	publisher := mocks.NewMockMessagePublisher(t)
	publisher.EXPECT().Publish(mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	p := newTestProcessor(t, config.DefaultConfig(), publisher, nil)
	_, err := p.Process(context.Background(), SourceLink, hkNominal)
	require.NoError(t, err)

	_, ok := p.Cache().Get(parameter(t, p, "apid"))
	assert.True(t, ok)
}

func TestOutOfLimitsRaisesAndClearsAlarm(t *testing.T) {
	publisher := mocks.NewMockMessagePublisher(t)
	var events []*AlarmEvent
	publisher.EXPECT().Publish(mock.Anything, "tmtc/packets", mock.Anything).Return(nil)
	publisher.EXPECT().
		Publish(mock.Anything, "tmtc/alarms", mock.AnythingOfType("*service.AlarmEvent")).
		Run(func(_ context.Context, _ string, data interface{}) {
			events = append(events, data.(*AlarmEvent))
		}).
		Return(nil)

	p := newTestProcessor(t, config.DefaultConfig(), publisher, nil)
	ctx := context.Background()

	pkt, err := p.Process(ctx, SourceLink, hkWarm)
	require.NoError(t, err)
	temp := pkt.Parameters[1]
	assert.Equal(t, "temperature", temp.Name())
	assert.Equal(t, domain.Warning, temp.Monitoring)
	assert.Equal(t, domain.RangeHigh, temp.RangeCondition)

	active := p.Alarms().Active()
	require.Len(t, active, 1)
	assert.Equal(t, "temperature", active[0].Parameter)
	assert.Equal(t, "WARNING", active[0].Severity)

	// same severity again: no new event
	_, err = p.Process(ctx, SourceLink, hkWarm)
	require.NoError(t, err)

	_, err = p.Process(ctx, SourceLink, hkNominal)
	require.NoError(t, err)
	assert.Empty(t, p.Alarms().Active())

	require.Len(t, events, 2)
	assert.Equal(t, "WARNING", events[0].Severity)
	assert.Equal(t, "CLEARED", events[1].Severity)
}

func TestDecodeLeavesStateUntouched(t *testing.T) {
	publisher := mocks.NewMockMessagePublisher(t)
	p := newTestProcessor(t, config.DefaultConfig(), publisher, nil)

	pkt, err := p.Decode(context.Background(), hkWarm, "")
	require.NoError(t, err)
	assert.Equal(t, "hk", pkt.Container())
	assert.Equal(t, domain.Warning, pkt.Parameters[1].Monitoring, "limits are still evaluated")

	_, ok := p.Cache().Get(parameter(t, p, "temperature"))
	assert.False(t, ok)
	assert.Empty(t, p.Stats().All())
	assert.Empty(t, p.Alarms().Active())
}

func TestDecodeFromNamedContainer(t *testing.T) {
	p := newTestProcessor(t, config.DefaultConfig(), nil, nil)

	// set_mode RUN decoded back through its command container
	res, err := p.BuildCommand("set_mode", map[string]string{"mode": "RUN"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01}, res.Binary)

	pkt, err := p.Decode(context.Background(), hkNominal, "hk")
	require.NoError(t, err)
	assert.Equal(t, []string{"ccsds", "hk"}, pkt.Containers)

	_, err = p.Decode(context.Background(), hkNominal, "nope")
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestBuildCommandCountsOutcome(t *testing.T) {
	m := metrics.New()
	p := newTestProcessor(t, config.DefaultConfig(), nil, m)

	res, err := p.BuildCommand("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7F}, res.Binary)

	_, err = p.BuildCommand("set_mode", map[string]string{"mode": "BOOST"})
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `tmtc_tc_commands_total{command="ping",success="true"} 1`)
	assert.Contains(t, body, `tmtc_tc_commands_total{command="set_mode",success="false"} 1`)
}

func TestUnknownRootContainer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.RootContainer = "missing"

	_, err := NewProcessor(cfg, loadServiceSchema(t), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestPacketTimestamps(t *testing.T) {
	p := newTestProcessor(t, config.DefaultConfig(), nil, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	pkt, err := p.Process(context.Background(), SourceAPI, hkNominal)
	require.NoError(t, err)
	assert.Equal(t, fixed, pkt.ReceivedAt)
	assert.Equal(t, SourceAPI, pkt.Source)
	for _, pv := range pkt.Parameters {
		assert.Equal(t, fixed, pv.AcquisitionTime)
		assert.Equal(t, fixed, pv.GenerationTime)
	}
}
