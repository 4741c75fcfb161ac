package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "dungeonbot_"

type metrics struct {
	capacity       *prometheus.GaugeVec
	rosterSize     *prometheus.GaugeVec
	waitlistSize   *prometheus.GaugeVec
	promotions     *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
}

// newMetrics registers the queue metrics on reg. A nil reg yields working
// but unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		capacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricNamePrefix + "room_capacity",
			Help: "Configured roster capacity per room",
		}, []string{"room"}),
		rosterSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricNamePrefix + "roster_members",
			Help: "Members currently in the roster per room",
		}, []string{"room"}),
		waitlistSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricNamePrefix + "waitlist_members",
			Help: "Members currently on the waitlist per room",
		}, []string{"room"}),
		promotions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "promotions_total",
			Help: "Waitlisted members promoted into the roster",
		}, []string{"room"}),
		notifyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "notify_failures_total",
			Help: "Promotion notifications that could not be delivered",
		}, []string{"room"}),
	}
}

// observe must be called with s.mu held.
func (m *metrics) observe(s *State) {
	if m == nil {
		return
	}
	m.rosterSize.WithLabelValues(s.room.Name).Set(float64(len(s.roster)))
	m.waitlistSize.WithLabelValues(s.room.Name).Set(float64(len(s.waitlist)))
}
