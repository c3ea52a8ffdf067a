package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("api", "network-first", "network", time.Millisecond)
	m.RecordCacheWrite("dynamic-v1", nil)
	m.RecordReplay("synced")
	m.SetQueueDepth(3)
	m.RecordInstall(errors.New("boom"))
	m.RecordNotification("shown")
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("api", "network-first", "offline", 2*time.Millisecond)
	m.RecordCacheWrite("dynamic-v1", nil)
	m.RecordCacheWrite("dynamic-v1", errors.New("disk full"))
	m.RecordReplay("synced")
	m.SetQueueDepth(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("api", "network-first", "offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheWrites.WithLabelValues("dynamic-v1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheWrites.WithLabelValues("dynamic-v1", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues("synced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
