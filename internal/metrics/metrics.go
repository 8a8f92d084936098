// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations counts pipeline mutations by operation and outcome.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance",
		Name:      "transaction_mutations_total",
		Help:      "Transaction mutations by operation and result.",
	}, []string{"op", "result"})

	// Conflicts counts updates annotated with a concurrent-edit conflict.
	Conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finance",
		Name:      "transaction_conflicts_total",
		Help:      "Updates that overlapped another user's edit.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance",
		Name:      "cache_lookups_total",
		Help:      "Read-through cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finance",
		Name:      "realtime_broadcasts_total",
		Help:      "Realtime events fanned out by event name.",
	}, []string{"event"})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finance",
		Name:      "realtime_dropped_messages_total",
		Help:      "Messages dropped because a client send buffer was full.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "finance",
		Name:      "realtime_connected_clients",
		Help:      "Currently connected websocket clients.",
	})
)
