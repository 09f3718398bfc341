package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlistener_events_received_total",
			Help: "Total number of contract events classified",
		},
		[]string{"kind"},
	)

	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlistener_writes_total",
			Help: "Total number of item writes by table and outcome",
		},
		[]string{"table", "status"},
	)

	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventlistener_write_duration_seconds",
			Help:    "Duration of item writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventlistener_transport_errors_total",
			Help: "Total number of errors delivered by the event subscription",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventlistener_events_in_flight",
			Help: "Number of events currently being classified and written",
		},
	)

	SubscriptionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventlistener_subscription_state",
			Help: "Subscription state: 0 disconnected, 1 connecting, 2 subscribed",
		},
	)
)
