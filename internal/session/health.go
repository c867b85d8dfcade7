package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
)

type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// Metrics aggregates externally reported request outcomes for one origin.
type Metrics struct {
	Origin         string        `json:"origin"`
	Total          int           `json:"totalRequests"`
	Successful     int           `json:"successfulRequests"`
	Failed         int           `json:"failedRequests"`
	AverageLatency time.Duration `json:"averageLatency"`
	ErrorRate      float64       `json:"errorRate"`
	Health         Health        `json:"health"`
	LastUpdated    time.Time     `json:"lastUpdated"`
}

type HealthChange struct {
	Origin   string
	Previous Health
	Current  Health
}

func classify(errorRate float64, latency time.Duration) Health {
	switch {
	case errorRate <= 0.1 && latency <= 500*time.Millisecond:
		return Healthy
	case errorRate <= 0.5 && latency <= time.Second:
		return Degraded
	default:
		return Unhealthy
	}
}

type HealthMonitor struct {
	now func() time.Time

	mu      sync.Mutex
	metrics map[string]Metrics

	healthFeed  event.FeedOf[HealthChange]
	metricsFeed event.FeedOf[Metrics]
}

func NewHealthMonitor(now func() time.Time) *HealthMonitor {
	if now == nil {
		now = time.Now
	}
	return &HealthMonitor{now: now, metrics: make(map[string]Metrics)}
}

// SubscribeHealth delivers classification changes for every origin.
func (m *HealthMonitor) SubscribeHealth(ch chan<- HealthChange) event.Subscription {
	return m.healthFeed.Subscribe(ch)
}

// SubscribeMetrics delivers every metrics update.
func (m *HealthMonitor) SubscribeMetrics(ch chan<- Metrics) event.Subscription {
	return m.metricsFeed.Subscribe(ch)
}

// UpdateMetrics folds one outcome into origin's running averages.
func (m *HealthMonitor) UpdateMetrics(origin string, success bool, latency time.Duration) Metrics {
	m.mu.Lock()
	cur := m.metrics[origin]
	prev := cur.Health

	cur.Origin = origin
	cur.Total++
	if success {
		cur.Successful++
	} else {
		cur.Failed++
	}
	cur.AverageLatency += (latency - cur.AverageLatency) / time.Duration(cur.Total)
	cur.ErrorRate = float64(cur.Failed) / float64(cur.Total)
	cur.Health = classify(cur.ErrorRate, cur.AverageLatency)
	cur.LastUpdated = m.now()
	m.metrics[origin] = cur
	m.mu.Unlock()

	m.metricsFeed.Send(cur)
	if prev != cur.Health {
		m.healthFeed.Send(HealthChange{Origin: origin, Previous: prev, Current: cur.Health})
	}
	return cur
}

func (m *HealthMonitor) Metrics(origin string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.metrics[origin]
	return v, ok
}

// Health classifies origin; origins with no reports are healthy.
func (m *HealthMonitor) Health(origin string) Health {
	if v, ok := m.Metrics(origin); ok {
		return v.Health
	}
	return Healthy
}

func (m *HealthMonitor) All() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metrics, 0, len(m.metrics))
	for _, v := range m.metrics {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

func (m *HealthMonitor) Reset() {
	m.mu.Lock()
	clear(m.metrics)
	m.mu.Unlock()
}
