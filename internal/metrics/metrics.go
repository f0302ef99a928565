// Package metrics provides Prometheus metrics for the livesync daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts Send calls by result: delivered, duplicate, failed
	// or rejected.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_sends_total",
			Help: "Total number of send requests by result",
		},
		[]string{"result"},
	)

	// SendDuration tracks the time spent delivering a message.
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livesync_send_duration_seconds",
			Help:    "Duration of message delivery",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ChangesPublished counts change events put on the feed.
	ChangesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_changes_published_total",
			Help: "Total number of change events published",
		},
		[]string{"table", "op"},
	)

	// InboundTotal counts WhatsApp events consumed by the relay.
	InboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_inbound_events_total",
			Help: "Total number of inbound WhatsApp events by kind",
		},
		[]string{"kind"},
	)

	// ActiveSubscriptions tracks open change-feed streams.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_active_subscriptions",
			Help: "Number of currently open change feed subscriptions",
		},
	)

	// SubscriptionOverflows counts subscribers terminated for falling behind.
	SubscriptionOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_subscription_overflows_total",
			Help: "Total number of subscriptions closed because their buffer overflowed",
		},
	)
)

// RecordSend records the result of one Send call.
func RecordSend(result string) {
	SendsTotal.WithLabelValues(result).Inc()
}

// RecordChange records one published change event.
func RecordChange(table, op string) {
	ChangesPublished.WithLabelValues(table, op).Inc()
}

// RecordInbound records one consumed WhatsApp event.
func RecordInbound(kind string) {
	InboundTotal.WithLabelValues(kind).Inc()
}
