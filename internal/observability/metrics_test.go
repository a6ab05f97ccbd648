package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_trends_new")

	assert.NotNil(t, m.RunsStarted)
	assert.NotNil(t, m.RunsCompleted)
	assert.NotNil(t, m.RunsCancelled)
	assert.NotNil(t, m.TasksSkipped)
	assert.NotNil(t, m.StepsCompleted)
	assert.NotNil(t, m.StepsFailed)
	assert.NotNil(t, m.StepDuration)
	assert.NotNil(t, m.PublicationsStored)
	assert.NotNil(t, m.StoreOperationDuration)
	assert.NotNil(t, m.SourceRequestsTotal)
}

func TestRecordRuns(t *testing.T) {
	m := NewMetrics("test_trends_runs")

	m.RecordRunStarted()
	m.RecordRunStarted()
	m.RecordRunCompleted()
	m.RecordRunCancelled()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsCancelled))
}

func TestRecordStep(t *testing.T) {
	m := NewMetrics("test_trends_steps")

	m.RecordStep("acquire", 0.5, nil)
	m.RecordStep("acquire", 1.5, errors.New("boom"))
	m.RecordTaskSkipped("predict")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StepsCompleted.WithLabelValues("acquire")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StepsFailed.WithLabelValues("acquire")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksSkipped.WithLabelValues("predict")))

	count, err := getHistogramSampleCount(m.StepDuration.WithLabelValues("acquire").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordPublications(t *testing.T) {
	m := NewMetrics("test_trends_publications")

	m.RecordPublicationsFetched(10)
	m.RecordPublicationsStored(7)
	m.RecordFrontierFetched(3)
	m.RecordStoreOperation("persist_fetch_result", 0.02)

	assert.Equal(t, float64(10), testutil.ToFloat64(m.PublicationsFetched))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.PublicationsStored))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.FrontierFetched))
}

func TestRecordSourceRequests(t *testing.T) {
	m := NewMetrics("test_trends_sources")

	m.RecordSourceRequest("openalex", "works", 0.3)
	m.RecordSourceRequestFailed("openalex", "works", "rate_limited")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("openalex", "works")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("openalex", "works", "rate_limited")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRunStarted()
		m.RecordRunCompleted()
		m.RecordRunCancelled()
		m.RecordTaskSkipped("x")
		m.RecordStep("x", 1, nil)
		m.RecordPublicationsFetched(1)
		m.RecordPublicationsStored(1)
		m.RecordFrontierFetched(1)
		m.RecordStoreOperation("x", 1)
		m.RecordSourceRequest("x", "y", 1)
		m.RecordSourceRequestFailed("x", "y", "z")
	})
}

// getHistogramSampleCount extracts the sample count from a histogram.
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	metric := &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}

	return metric.Histogram.GetSampleCount(), nil
}
