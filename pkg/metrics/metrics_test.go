package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-volt/pkg/protocol"
)

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.Tick()
	m.Reading("accepted")
	m.ObserveState("s", protocol.EnergyState{})
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SessionOpened()
	m.SessionClosed("s")
	m.Broadcast("tick")
	m.Reconnect()
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestCollectors(t *testing.T) {
	m := New()

	m.Tick()
	m.Tick()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))

	m.Reconnect()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))

	m.Reading("accepted")
	m.Reading("stale")
	m.Reading("stale")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readings.WithLabelValues("stale")))

	m.SessionOpened()
	m.ObserveState("alice", protocol.EnergyState{
		CurrentLevel:     42.5,
		StressMultiplier: 1.5,
		Status:           protocol.StatusDraining,
	})
	assert.Equal(t, 42.5, testutil.ToFloat64(m.level.WithLabelValues("alice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("alice", "DRAINING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues("alice", "IDLE")))

	m.SessionClosed("alice")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 0, testutil.CollectAndCount(m.level))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Tick()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "volt_ticks_total 1")
}
