package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersCreated     *prometheus.CounterVec
	OrdersRejected    *prometheus.CounterVec
	OrdersCollected   prometheus.Counter
	OrdersPaid        prometheus.Counter
	WalkInIssued      prometheus.Counter
	RequestsDecided   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "orders_created_total",
			Help:      "Orders reserved, by settlement.",
		}, []string{"settlement"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "orders_rejected_total",
			Help:      "Order attempts refused, by error kind.",
		}, []string{"reason"}),
		OrdersCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "orders_collected_total",
			Help:      "Orders moved to collected.",
		}),
		OrdersPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "orders_paid_total",
			Help:      "Pending order payments settled from balance.",
		}),
		WalkInIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "walk_in_issued_total",
			Help:      "Meals issued without a reservation.",
		}),
		RequestsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "purchase_requests_decided_total",
			Help:      "Purchase requests decided, by decision.",
		}, []string{"decision"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canteen",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.OrdersRejected,
		m.OrdersCollected,
		m.OrdersPaid,
		m.WalkInIssued,
		m.RequestsDecided,
		m.OperationDuration,
	)
	return m
}

// ObserveSince records the elapsed time of operation.
func (m *Metrics) ObserveSince(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
