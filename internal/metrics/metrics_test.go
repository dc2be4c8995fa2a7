package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TailRecorded(true)
	m.TailRecorded(true)
	m.TailRecorded(false)
	m.TailRejected("already_tailed")
	m.RanksRecalculated()
	m.BetsClosed(3)
	m.BetsClosed(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tailsRecorded.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tailsRecorded.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tailRejections.WithLabelValues("already_tailed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rankRecalcs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.betsClosed))
}

func TestObserveRequestRegistersSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("GET", "/api/v1/bets", 200, 15*time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "tailgate_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TailRecorded(true)
		m.TailRejected("closed")
		m.RanksRecalculated()
		m.BetsClosed(1)
		m.ObserveRequest("GET", "/", 200, time.Second)
	})
}
