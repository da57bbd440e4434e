package telemetry

// StoreTxBuckets for local SQLite transactions, including busy waits.
var StoreTxBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 5}

// Registry metrics
var (
	// SessionsRegisteredTotal counts register calls by outcome (created, resumed)
	SessionsRegisteredTotal CounterVec = noopCounterVec{}

	// SessionsUnregisteredTotal counts successful unregister calls
	SessionsUnregisteredTotal Counter = NoopStat{}

	// SessionsExpiredTotal counts sessions removed by the sweep by reason (dead_process, timeout)
	SessionsExpiredTotal CounterVec = noopCounterVec{}

	// ActiveSessions tracks the session count seen by the latest listing
	ActiveSessions Gauge = NoopStat{}
)

// Event log metrics
var (
	// EventsPublishedTotal counts published events by channel kind (all, session, repo, machine)
	EventsPublishedTotal CounterVec = noopCounterVec{}

	// EventsDeliveredTotal counts events returned by get_events
	EventsDeliveredTotal Counter = NoopStat{}

	// NotificationsTotal counts direct-message notifications by result (sent, skipped, failed)
	NotificationsTotal CounterVec = noopCounterVec{}
)

// Operation metrics
var (
	// OperationsTotal counts engine operations by name and result (ok, error code)
	OperationsTotal CounterVec = noopCounterVec{}

	// OperationDurationSeconds measures engine operation latency by name
	OperationDurationSeconds HistogramVec = noopHistogramVec{}
)

func registerMetrics() {
	SessionsRegisteredTotal = newCounterVec("sessions_registered_total",
		"Register calls by outcome", []string{"outcome"})
	SessionsUnregisteredTotal = newCounter("sessions_unregistered_total",
		"Sessions removed by unregister")
	SessionsExpiredTotal = newCounterVec("sessions_expired_total",
		"Sessions removed by the expiry sweep", []string{"reason"})
	ActiveSessions = newGauge("active_sessions",
		"Active sessions at the latest listing")

	EventsPublishedTotal = newCounterVec("events_published_total",
		"Events appended to the log by channel kind", []string{"kind"})
	EventsDeliveredTotal = newCounter("events_delivered_total",
		"Events returned to pollers")
	NotificationsTotal = newCounterVec("notifications_total",
		"Direct-message notifications by result", []string{"result"})

	OperationsTotal = newCounterVec("operations_total",
		"Engine operations by name and result", []string{"op", "result"})
	OperationDurationSeconds = newHistogramVec("operation_duration_seconds",
		"Engine operation latency", []string{"op"}, StoreTxBuckets)
}
