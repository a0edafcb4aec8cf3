package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryMetricExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RouteRequestsTotal.WithLabelValues("gpt-test", "success").Inc()
	m.RouteLatencySeconds.WithLabelValues("gpt-test").Observe(0.05)
	m.BreakerStateChanges.WithLabelValues("gpt-test", "closed").Inc()
	m.BackendInFlight.WithLabelValues("gpt-test").Set(1)
	m.ChainExecutionsTotal.WithLabelValues("completed").Inc()
	m.ChainNodeLatency.WithLabelValues("llm").Observe(0.01)
	m.ChainCacheHitsTotal.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewPanicsOnDoubleRegistrationAgainstSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
