package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_mutations_total",
		Help: "Store mutations by store, operation and result",
	}, []string{"store", "op", "result"})

	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_rollbacks_total",
		Help: "Optimistic changes reverted after a failed remote write",
	}, []string{"store", "op"})

	saveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_doc_saves_total",
		Help: "Document saves by outcome",
	}, []string{"result"})

	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_realtime_events_applied_total",
		Help: "Row changes dispatched by the coordinator",
	}, []string{"table", "type"})

	handlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_realtime_handler_panics_total",
		Help: "Recovered panics while applying a row change",
	})

	resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_realtime_resubscribes_total",
		Help: "Subscriptions reopened after the broker dropped them",
	})
)

func countMutation(store, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mutations.WithLabelValues(store, op, result).Inc()
}
