package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleipnir",
		Subsystem: "engine",
		Name:      "orders_received_total",
		Help:      "Order events accepted into a product queue.",
	}, []string{"product", "op"})

	tradesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleipnir",
		Subsystem: "engine",
		Name:      "trades_matched_total",
		Help:      "Match logs produced by the book.",
	}, []string{"product"})

	logsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleipnir",
		Subsystem: "engine",
		Name:      "logs_emitted_total",
		Help:      "Log records of any type handed to handlers.",
	}, []string{"product"})

	snapshotsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleipnir",
		Subsystem: "engine",
		Name:      "snapshots_taken_total",
		Help:      "Snapshots persisted to the store.",
	}, []string{"product"})
)
