package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/domain"
)

func TestRecordPacket(t *testing.T) {
	m := New()
	values := []*domain.ParameterValue{
		{Status: domain.Acquired, Monitoring: domain.InLimits},
		{Status: domain.Acquired, Monitoring: domain.Critical},
		{Status: domain.Invalid},
	}

	m.RecordPacket("link", 64, []string{"ccsds", "hk"}, values, 3*time.Millisecond)
	m.RecordPacket("api", 32, []string{"ccsds"}, nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.packets.WithLabelValues("link")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packets.WithLabelValues("api")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.containers.WithLabelValues("ccsds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.containers.WithLabelValues("hk")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.parameters.WithLabelValues("ACQUIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parameters.WithLabelValues("INVALID")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alarms.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.alarms), "in-limits values are not counted")
	assert.Equal(t, 1, testutil.CollectAndCount(m.decodeDuration))
}

func TestCommandsAndSessions(t *testing.T) {
	m := New()
	m.RecordCommand("set_mode", true)
	m.RecordCommand("set_mode", false)
	m.RecordCommand("set_mode", true)
	m.RecordPacketError("checksum")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("set_mode", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("set_mode", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packetErrors.WithLabelValues("checksum")))

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linkSessions))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCommand("ping", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tmtc_tc_commands_total{command="ping",success="true"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordPacketError("short")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.packetErrors.WithLabelValues("short")))
}
