// Package metrics exposes Prometheus collectors for the event store and the authorization service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/642studio/Veridis/pkg/schema"
)

// Metrics holds Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	SystemStatus     *prometheus.GaugeVec
	UsersOnboarded   prometheus.Counter
	InvitesCreated   prometheus.Counter
	InviteRedeems    *prometheus.CounterVec
	PermissionChecks *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	PersistDuration  prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridis_events_ingested_total",
			Help: "Total number of events appended to the store, by normalized level",
		}, []string{"level"}),
		SystemStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veridis_system_status",
			Help: "1 for the current derived system status, 0 otherwise",
		}, []string{"status"}),
		UsersOnboarded: f.NewCounter(prometheus.CounterOpts{
			Name: "veridis_users_onboarded_total",
			Help: "Total number of onboard calls that were persisted",
		}),
		InvitesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "veridis_invite_codes_created_total",
			Help: "Total number of invite codes issued",
		}),
		InviteRedeems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridis_invite_redemptions_total",
			Help: "Invite redemption attempts by result",
		}, []string{"result"}),
		PermissionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veridis_permission_checks_total",
			Help: "Permission checks by resolved role and outcome",
		}, []string{"role", "allowed"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "veridis_authz_persist_failures_total",
			Help: "Failed writes of the authorization store",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veridis_authz_persist_duration_seconds",
			Help:    "Time spent writing the authorization store",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

// ObserveEvent records an appended event and the status it produced.
func (m *Metrics) ObserveEvent(level schema.Level, status schema.Status) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(string(level)).Inc()
	for _, s := range []schema.Status{schema.StatusIdle, schema.StatusProcessing, schema.StatusAlert} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.SystemStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) Onboarded() {
	if m == nil {
		return
	}
	m.UsersOnboarded.Inc()
}

func (m *Metrics) InviteCreated() {
	if m == nil {
		return
	}
	m.InvitesCreated.Inc()
}

// Redeemed records a redemption attempt; result is "ok" or an error code.
func (m *Metrics) Redeemed(result string) {
	if m == nil {
		return
	}
	m.InviteRedeems.WithLabelValues(result).Inc()
}

func (m *Metrics) PermissionChecked(role schema.Role, allowed bool) {
	if m == nil {
		return
	}
	m.PermissionChecks.WithLabelValues(string(role), strconv.FormatBool(allowed)).Inc()
}

// Persisted records one write of the authorization store.
func (m *Metrics) Persisted(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(d.Seconds())
	if err != nil {
		m.PersistFailures.Inc()
	}
}
