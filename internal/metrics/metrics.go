// Package metrics содержит счётчики Prometheus сервиса доставки.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesAssignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_assignments_total",
		Help: "Total number of orders successfully assigned to a courier.",
	})

	StatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_status_updates_total",
		Help: "Total number of delivery status updates by resulting status.",
	},
		[]string{"status"},
	)

	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_location_updates_total",
		Help: "Total number of courier location updates.",
	})

	ProofUploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_proof_uploads_total",
		Help: "Total number of proof of delivery uploads.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)
