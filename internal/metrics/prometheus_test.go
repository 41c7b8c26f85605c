package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheck("web", "http", "up", 1, time.Second)
		m.ObserveStateChange("web", "up")
		m.ObserveCheckIn("ok")
		m.ObserveLoopPanic("web")
		m.ObserveCommit(nil, time.Second, 0)
		m.ObserveDropped("web", 3)
		m.ObservePurge(10, nil)
		m.SetSubscribers(1)
	})
	assert.Nil(t, m.Registry())
}

func TestObserveRecordsValues(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())

	m.ObserveCheck("web", "http", "down", 2, 10*time.Millisecond)
	m.ObserveCheck("web", "http", "down", 2, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("web", "down")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MonitorState.WithLabelValues("web")))

	m.ObserveCommit(errors.New("boom"), time.Millisecond, 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PendingEvents))

	m.ObservePurge(5, nil)
	m.ObservePurge(0, errors.New("locked"))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PurgedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PurgeErrors))
}

func TestNewIsRepeatable(t *testing.T) {
	// 每个实例使用独立 Registry，重复创建不应 panic
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
