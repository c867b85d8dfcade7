// Package metrics exports wallet coordination activity to Prometheus.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantumauth-io/quantum-wallet/internal/permissions"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/tabs"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

const (
	namespace = "quantum_wallet"

	sourceLocal  = "local"
	sourceRemote = "remote"
)

// RequestBuckets covers in-process calls up to debounced network switches
// and RPC-backed balance lookups.
var RequestBuckets = []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Source is what Watch reads from; *wallet.Wallet satisfies it.
type Source interface {
	SubscribeRetry(ch chan<- wallet.RetryEvent) event.Subscription
	SubscribeNetworkChanged(ch chan<- wallet.NetworkChanged) event.Subscription
	SubscribeSessionUpdate(ch chan<- wallet.SessionUpdate) event.Subscription
	SubscribeLeadership(ch chan<- tabs.LeadershipEvent) event.Subscription
	SubscribeErrors(ch chan<- wallet.ErrorEvent) event.Subscription
	Sessions() *session.Authenticator
	PermissionStore() *permissions.Store
}

type Metrics struct {
	RetriesScheduled  *prometheus.CounterVec
	RetriesExhausted  *prometheus.CounterVec
	NetworkSwitches   *prometheus.CounterVec
	CurrentChain      *prometheus.GaugeVec
	Leader            prometheus.Gauge
	LeadershipEvents  *prometheus.CounterVec
	Sessions          *prometheus.CounterVec
	SessionHealth     *prometheus.GaugeVec
	PermissionGrants  prometheus.Counter
	PermissionRevokes prometheus.Counter
	Errors            *prometheus.CounterVec
	Requests          *prometheus.HistogramVec
}

// New registers the wallet metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RetriesScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Retries scheduled, by operation",
		}, []string{"operation"}),
		RetriesExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Retry chains that ran out of attempts, by operation",
		}, []string{"operation"}),
		NetworkSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "switches_total",
			Help:      "Committed network switches",
		}, []string{"chain_id", "source"}),
		CurrentChain: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "current",
			Help:      "1 for the chain this tab is on",
		}, []string{"chain_id"}),
		Leader: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tabs",
			Name:      "leader",
			Help:      "1 while this tab holds leadership",
		}),
		LeadershipEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tabs",
			Name:      "leadership_events_total",
			Help:      "Leadership transitions observed by this tab",
		}, []string{"kind"}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "authenticated_total",
			Help:      "Sessions authenticated locally or adopted from another tab",
		}, []string{"source"}),
		SessionHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "health",
			Help:      "Per-origin session health: 0 healthy, 1 degraded, 2 unhealthy",
		}, []string{"origin"}),
		PermissionGrants: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permissions",
			Name:      "granted_total",
			Help:      "Permission grants",
		}),
		PermissionRevokes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permissions",
			Name:      "revoked_total",
			Help:      "Permission revocations, explicit or by expiry",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed wallet operations",
		}, []string{"op"}),
		Requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "duration_seconds",
			Help:      "Inbound message handling time",
			Buckets:   RequestBuckets,
		}, []string{"type", "success"}),
	}
}

// ObserveRequest records one handled inbound message.
func (m *Metrics) ObserveRequest(typ string, success bool, d time.Duration) {
	ok := "false"
	if success {
		ok = "true"
	}
	m.Requests.WithLabelValues(typ, ok).Observe(d.Seconds())
}

// Watch subscribes to src and keeps the metrics current until the returned
// stop function is called.
func (m *Metrics) Watch(src Source) (stop func()) {
	var (
		retries    = make(chan wallet.RetryEvent, 64)
		networks   = make(chan wallet.NetworkChanged, 16)
		sessions   = make(chan wallet.SessionUpdate, 16)
		leadership = make(chan tabs.LeadershipEvent, 16)
		errs       = make(chan wallet.ErrorEvent, 64)
		health     = make(chan session.HealthChange, 16)
		granted    = make(chan permissions.Granted, 16)
		revoked    = make(chan permissions.Revoked, 16)
		quit       = make(chan struct{})
		done       = make(chan struct{})
		current    string
	)
	subs := event.JoinSubscriptions(
		src.SubscribeRetry(retries),
		src.SubscribeNetworkChanged(networks),
		src.SubscribeSessionUpdate(sessions),
		src.SubscribeLeadership(leadership),
		src.SubscribeErrors(errs),
		src.Sessions().Health().SubscribeHealth(health),
		src.PermissionStore().SubscribeGranted(granted),
		src.PermissionStore().SubscribeRevoked(revoked),
	)

	go func() {
		defer close(done)
		defer subs.Unsubscribe()
		for {
			select {
			case <-quit:
				return
			case ev := <-retries:
				op := operation(ev.Key)
				if ev.Exhausted {
					m.RetriesExhausted.WithLabelValues(op).Inc()
				} else {
					m.RetriesScheduled.WithLabelValues(op).Inc()
				}
			case ev := <-networks:
				m.NetworkSwitches.WithLabelValues(string(ev.ChainID), source(ev.Remote)).Inc()
				if current != "" {
					m.CurrentChain.WithLabelValues(current).Set(0)
				}
				current = string(ev.ChainID)
				m.CurrentChain.WithLabelValues(current).Set(1)
			case ev := <-sessions:
				m.Sessions.WithLabelValues(source(ev.Remote)).Inc()
			case ev := <-leadership:
				m.LeadershipEvents.WithLabelValues(string(ev.Kind)).Inc()
				switch {
				case ev.Kind == tabs.LeadershipAcquired:
					m.Leader.Set(1)
				case ev.Kind == tabs.LeadershipReleased:
					m.Leader.Set(0)
				case ev.LeaderID == ev.TabID:
					m.Leader.Set(1)
				default:
					m.Leader.Set(0)
				}
			case ev := <-errs:
				m.Errors.WithLabelValues(ev.Op).Inc()
			case ev := <-health:
				m.SessionHealth.WithLabelValues(ev.Origin).Set(healthValue(ev.Current))
			case <-granted:
				m.PermissionGrants.Inc()
			case <-revoked:
				m.PermissionRevokes.Inc()
			case <-subs.Err():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-done
	}
}

// operation strips the per-target suffix from a retry key so label
// cardinality stays bounded.
func operation(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

func source(remote bool) string {
	if remote {
		return sourceRemote
	}
	return sourceLocal
}

func healthValue(h session.Health) float64 {
	switch h {
	case session.Degraded:
		return 1
	case session.Unhealthy:
		return 2
	default:
		return 0
	}
}
