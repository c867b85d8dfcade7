package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		errorRate float64
		latency   time.Duration
		want      Health
	}{
		{"clean", 0, 100 * time.Millisecond, Healthy},
		{"edge healthy", 0.1, 500 * time.Millisecond, Healthy},
		{"slow", 0, 501 * time.Millisecond, Degraded},
		{"some errors", 0.3, 200 * time.Millisecond, Degraded},
		{"edge degraded", 0.5, time.Second, Degraded},
		{"very slow", 0, 1500 * time.Millisecond, Unhealthy},
		{"mostly failing", 0.6, 10 * time.Millisecond, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.errorRate, tt.latency))
		})
	}
}

func TestUpdateMetricsRunningAverage(t *testing.T) {
	m := NewHealthMonitor(nil)

	m.UpdateMetrics(origin, true, 100*time.Millisecond)
	m.UpdateMetrics(origin, true, 300*time.Millisecond)
	got := m.UpdateMetrics(origin, false, 200*time.Millisecond)

	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Successful)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 200*time.Millisecond, got.AverageLatency)
	assert.InDelta(t, 1.0/3, got.ErrorRate, 1e-9)
	assert.Equal(t, Degraded, got.Health)
}

func TestHealthChangesEmittedOnTransition(t *testing.T) {
	m := NewHealthMonitor(nil)
	changes := make(chan HealthChange, 8)
	defer m.SubscribeHealth(changes).Unsubscribe()

	assert.Equal(t, Healthy, m.Health("https://unknown.example"))

	m.UpdateMetrics(origin, true, 10*time.Millisecond)
	m.UpdateMetrics(origin, true, 10*time.Millisecond)
	m.UpdateMetrics(origin, false, 10*time.Millisecond)
	m.UpdateMetrics(origin, false, 10*time.Millisecond)
	m.UpdateMetrics(origin, false, 10*time.Millisecond)

	require.Len(t, changes, 3)
	first := <-changes
	assert.Equal(t, Health(""), first.Previous)
	assert.Equal(t, Healthy, first.Current)
	second := <-changes
	assert.Equal(t, Degraded, second.Current)
	third := <-changes
	assert.Equal(t, Degraded, third.Previous)
	assert.Equal(t, Unhealthy, third.Current)
	assert.Equal(t, Unhealthy, m.Health(origin))
}
