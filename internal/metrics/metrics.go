package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the scheduling and attendance core, exported on /metrics.
var (
	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcampus_booking_conflicts_total",
		Help: "Booking requests rejected by the room conflict check.",
	})

	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcampus_reconciliations_total",
		Help: "Attendance reconciliation runs completed.",
	})

	CodeValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartcampus_code_validations_total",
		Help: "Remedial code validations by outcome.",
	}, []string{"outcome"})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcampus_notifications_queued_total",
		Help: "Notification events published to the delivery queue.",
	})
)
