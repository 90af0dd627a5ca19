package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics provides observability for the connection and task
// pipeline.
//
// This interface is optional - if not provided to the server, a no-op
// implementation is used with zero overhead.
type ServerMetrics interface {
	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordSessionStart increments the active session gauge.
	RecordSessionStart()

	// RecordSessionEnd decrements the active session gauge.
	RecordSessionEnd()

	// RecordAuthAttempt records a SIGNUP or LOGIN outcome.
	//
	// Parameters:
	//   - kind: "signup" or "login"
	//   - success: whether the attempt authenticated the session
	RecordAuthAttempt(kind string, success bool)

	// RecordTask records a completed task with its operation name,
	// duration, and outcome.
	//
	// Parameters:
	//   - op: operation name (e.g. "UPLOAD", "LIST")
	//   - duration: time taken to execute the task
	//   - success: whether the task completed successfully
	RecordTask(op string, duration time.Duration, success bool)

	// RecordBytesTransferred records file bytes moved through the server.
	//
	// Parameters:
	//   - direction: "upload" or "download"
	//   - bytes: number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRejection records a shed request.
	//
	// Parameters:
	//   - reason: "connection_queue_full", "task_queue_full" or "rate_limited"
	RecordRejection(reason string)
}

// serverMetrics is the Prometheus implementation of ServerMetrics.
type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeSessions      prometheus.Gauge
	authAttempts        *prometheus.CounterVec
	tasksTotal          *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
	rejections          *prometheus.CounterVec
}

// NewServerMetrics creates a new Prometheus-backed ServerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewServerMetrics() ServerMetrics {
	if !IsEnabled() {
		return &noopServerMetrics{}
	}

	reg := GetRegistry()

	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stashd_connections_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stashd_connections_closed_total",
				Help: "Total number of client connections closed",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stashd_active_sessions",
				Help: "Current number of sessions being served",
			},
		),
		authAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashd_auth_attempts_total",
				Help: "Total authentication attempts by kind and status",
			},
			[]string{"kind", "status"},
		),
		tasksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashd_tasks_total",
				Help: "Total number of executed tasks by operation and status",
			},
			[]string{"operation", "status"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "stashd_task_duration_seconds",
				Help: "Duration of task execution in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashd_bytes_transferred_total",
				Help: "Total file bytes transferred by direction",
			},
			[]string{"direction"}, // upload or download
		),
		rejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashd_rejections_total",
				Help: "Total requests shed by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordSessionStart() {
	m.activeSessions.Inc()
}

func (m *serverMetrics) RecordSessionEnd() {
	m.activeSessions.Dec()
}

func (m *serverMetrics) RecordAuthAttempt(kind string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.authAttempts.WithLabelValues(kind, status).Inc()
}

func (m *serverMetrics) RecordTask(op string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	m.tasksTotal.WithLabelValues(op, status).Inc()
	m.taskDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *serverMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *serverMetrics) RecordRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// noopServerMetrics is a no-op implementation of ServerMetrics with zero
// overhead.
type noopServerMetrics struct{}

func (noopServerMetrics) RecordConnectionAccepted()                                  {}
func (noopServerMetrics) RecordConnectionClosed()                                    {}
func (noopServerMetrics) RecordSessionStart()                                        {}
func (noopServerMetrics) RecordSessionEnd()                                          {}
func (noopServerMetrics) RecordAuthAttempt(kind string, success bool)                {}
func (noopServerMetrics) RecordTask(op string, duration time.Duration, success bool) {}
func (noopServerMetrics) RecordBytesTransferred(direction string, bytes int64)       {}
func (noopServerMetrics) RecordRejection(reason string)                              {}
