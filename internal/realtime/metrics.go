package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsReceived counts decoded row changes by table and type
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_received_total",
		Help: "Row change events received from PostgreSQL",
	}, []string{"table", "type"})

	// subscribersDropped counts subscriptions closed because they fell behind
	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_subscribers_dropped_total",
		Help: "Subscriptions dropped for not keeping up",
	})

	// activeSubscriptions tracks open subscriptions
	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_subscriptions",
		Help: "Currently open realtime subscriptions",
	})
)
