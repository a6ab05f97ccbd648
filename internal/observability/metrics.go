package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research trend service.
// Metrics are organized by subsystem: pipeline runs, task steps, the publication
// store, and bibliographic source requests. All collectors are registered via
// promauto with the default Prometheus registry.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RunsStarted counts pipeline runs started, including runs with nothing to do.
	RunsStarted prometheus.Counter

	// RunsCompleted counts pipeline runs that reached the end of the chain.
	RunsCompleted prometheus.Counter

	// RunsCancelled counts pipeline runs stopped by a cancellation request.
	RunsCancelled prometheus.Counter

	// TasksSkipped counts tasks passed over because they had no work, labeled by task.
	TasksSkipped *prometheus.CounterVec

	// StepsCompleted counts task steps that returned without error, labeled by task.
	StepsCompleted *prometheus.CounterVec

	// StepsFailed counts task steps that returned an error, labeled by task.
	StepsFailed *prometheus.CounterVec

	// StepDuration observes task step duration in seconds, labeled by task.
	StepDuration *prometheus.HistogramVec

	// PublicationsFetched counts publications returned by searches.
	PublicationsFetched prometheus.Counter

	// PublicationsStored counts publications newly inserted into the store.
	PublicationsStored prometheus.Counter

	// FrontierFetched counts referenced publications resolved from the citation frontier.
	FrontierFetched prometheus.Counter

	// StoreOperationDuration observes store operation duration in seconds, labeled by operation.
	StoreOperationDuration *prometheus.HistogramVec

	// SourceRequestsTotal counts HTTP requests to bibliographic sources, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to bibliographic sources in seconds.
	SourceRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_started_total",
			Help:      "Total number of pipeline runs that started a worker",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_completed_total",
			Help:      "Total number of pipeline runs that finished the chain",
		}),
		RunsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_cancelled_total",
			Help:      "Total number of pipeline runs cancelled",
		}),

		// Tasks
		TasksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_skipped_total",
			Help:      "Total number of tasks skipped because they had nothing to do",
		}, []string{"task"}),
		StepsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_steps_completed_total",
			Help:      "Total number of task steps completed",
		}, []string{"task"}),
		StepsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_steps_failed_total",
			Help:      "Total number of task steps that failed",
		}, []string{"task"}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_step_duration_seconds",
			Help:      "Duration of task steps in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"task"}),

		// Publications
		PublicationsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_fetched_total",
			Help:      "Total number of publications returned by searches",
		}),
		PublicationsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_stored_total",
			Help:      "Total number of publications newly stored",
		}),
		FrontierFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frontier_publications_fetched_total",
			Help:      "Total number of referenced publications resolved from the citation frontier",
		}),
		StoreOperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of publication store operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to bibliographic source APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to bibliographic source APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of bibliographic source API requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "endpoint"}),
	}
}

// RecordRunStarted records that a pipeline worker has started.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RecordRunCompleted records that a pipeline run reached the end of its chain.
func (m *Metrics) RecordRunCompleted() {
	if m == nil {
		return
	}
	m.RunsCompleted.Inc()
}

// RecordRunCancelled records that a pipeline run was cancelled.
func (m *Metrics) RecordRunCancelled() {
	if m == nil {
		return
	}
	m.RunsCancelled.Inc()
}

// RecordTaskSkipped records a task passed over without work.
func (m *Metrics) RecordTaskSkipped(task string) {
	if m == nil {
		return
	}
	m.TasksSkipped.WithLabelValues(task).Inc()
}

// RecordStep records a finished step and its outcome.
func (m *Metrics) RecordStep(task string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.StepsFailed.WithLabelValues(task).Inc()
	} else {
		m.StepsCompleted.WithLabelValues(task).Inc()
	}
	m.StepDuration.WithLabelValues(task).Observe(durationSeconds)
}

// RecordPublicationsFetched records publications returned by a search.
func (m *Metrics) RecordPublicationsFetched(count int) {
	if m == nil {
		return
	}
	m.PublicationsFetched.Add(float64(count))
}

// RecordPublicationsStored records newly inserted publications.
func (m *Metrics) RecordPublicationsStored(count int) {
	if m == nil {
		return
	}
	m.PublicationsStored.Add(float64(count))
}

// RecordFrontierFetched records publications resolved from the citation frontier.
func (m *Metrics) RecordFrontierFetched(count int) {
	if m == nil {
		return
	}
	m.FrontierFetched.Add(float64(count))
}

// RecordStoreOperation records the duration of a store operation.
func (m *Metrics) RecordStoreOperation(operation string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSourceRequest records a request to a bibliographic source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a bibliographic source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}
