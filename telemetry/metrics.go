package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ObserverBuckets for observer execution including its transaction commit
	ObserverBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// WaitBuckets for admission backpressure waits
	WaitBuckets = []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30}

	// ScanBuckets for full notification scans
	ScanBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}
)

// Admission Metrics
var (
	// AdmissionsTotal counts admission attempts by result (admitted, duplicate, rejected)
	AdmissionsTotal CounterVec = noopCounterVec{}

	// AdmissionWaitSeconds measures time callers spend blocked on the byte budget
	AdmissionWaitSeconds Histogram = NoopStat{}

	// TrackedNotifications tracks notifications currently queued or running
	TrackedNotifications Gauge = NoopStat{}

	// TrackedBytes tracks the estimated size of tracked notifications
	TrackedBytes Gauge = NoopStat{}

	// RequeuesTotal counts notifications re-triggered under an existing admission
	RequeuesTotal Counter = NoopStat{}
)

// Execution Metrics
var (
	// NotificationsProcessedTotal counts task outcomes (processed, skipped, failed, cancelled)
	NotificationsProcessedTotal CounterVec = noopCounterVec{}

	// ObserverDurationSeconds measures observer execution latency by observer name
	ObserverDurationSeconds HistogramVec = noopHistogramVec{}
)

// Transaction Metrics
var (
	// TxnTotal counts transactions by result (committed, conflict, failed)
	TxnTotal CounterVec = noopCounterVec{}

	// NotificationDeletesRejectedTotal counts notification deletes dropped because a newer notification landed
	NotificationDeletesRejectedTotal Counter = NoopStat{}
)

// Discovery Metrics
var (
	// ScansTotal counts notification scans
	ScansTotal Counter = NoopStat{}

	// ScanDurationSeconds measures a full notification scan
	ScanDurationSeconds Histogram = NoopStat{}

	// ScannedNotificationsTotal counts notifications seen by scans, by result (admitted, skipped)
	ScannedNotificationsTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Admission Metrics
	AdmissionsTotal = NewCounterVec(
		"admissions_total",
		"Notification admission attempts by result",
		[]string{"result"},
	)
	AdmissionWaitSeconds = NewHistogramWithBuckets(
		"admission_wait_seconds",
		"Time spent blocked on the admission byte budget",
		WaitBuckets,
	)
	TrackedNotifications = NewGauge(
		"tracked_notifications",
		"Notifications currently queued or running",
	)
	TrackedBytes = NewGauge(
		"tracked_bytes",
		"Estimated size of tracked notifications in bytes",
	)
	RequeuesTotal = NewCounter(
		"requeues_total",
		"Notifications re-triggered under an existing admission",
	)

	// Execution Metrics
	NotificationsProcessedTotal = NewCounterVec(
		"notifications_processed_total",
		"Notification task outcomes",
		[]string{"result"},
	)
	ObserverDurationSeconds = NewHistogramVec(
		"observer_duration_seconds",
		"Observer execution duration in seconds",
		[]string{"observer"},
		ObserverBuckets,
	)

	// Transaction Metrics
	TxnTotal = NewCounterVec(
		"txn_total",
		"Transactions by result",
		[]string{"result"},
	)
	NotificationDeletesRejectedTotal = NewCounter(
		"notification_deletes_rejected_total",
		"Notification deletes rejected because a newer notification was committed",
	)

	// Discovery Metrics
	ScansTotal = NewCounter(
		"scans_total",
		"Total notification scans",
	)
	ScanDurationSeconds = NewHistogramWithBuckets(
		"scan_duration_seconds",
		"Notification scan duration in seconds",
		ScanBuckets,
	)
	ScannedNotificationsTotal = NewCounterVec(
		"scanned_notifications_total",
		"Notifications seen by scans by result",
		[]string{"result"},
	)
}
