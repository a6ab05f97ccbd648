package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/task"
)

type eventLog struct {
	mu     sync.Mutex
	events []task.Event
}

func (l *eventLog) Report(e task.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last() task.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func newTestManager(t *testing.T, source *fakeSource) (*Manager, *eventLog) {
	t.Helper()
	db, err := database.Open(context.Background(), &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "trends.db"),
		MaxOpenConns: 1,
	}, zerolog.Nop())
	require.NoError(t, err)

	log := &eventLog{}
	loader := artifact.NewLoader(config.ArtifactConfig{}, zerolog.Nop())
	m := NewManager(db, source, loader, testParams(writeModel(t, 2, 1)), log, zerolog.Nop(), nil)
	t.Cleanup(func() {
		m.Finalize()
		_ = db.Close()
	})
	return m, log
}

func TestManager_Run(t *testing.T) {
	ctx := context.Background()
	m, log := newTestManager(t, newCorpusSource())

	status := m.Status()
	assert.Equal(t, "idle", status.State)
	assert.Nil(t, status.LastEvent)
	assert.NotNil(t, status.Failures)

	runID, err := m.Start(ctx, "Health;AI")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	m.Finalize()

	assert.Equal(t, task.LabelDone, log.last().Label)

	status = m.Status()
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, "health;ai", status.Keywords)
	assert.Equal(t, runID, status.RunID)
	require.NotNil(t, status.LastEvent)
	assert.Equal(t, task.LabelDone, status.LastEvent.Label)
	assert.Empty(t, status.Failures)
	assert.False(t, m.Busy())

	preds, err := m.Predictions(ctx, "health;ai", 2019)
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestManager_InvalidKeywords(t *testing.T) {
	m, _ := newTestManager(t, newCorpusSource())

	_, err := m.Start(context.Background(), "no groups")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.False(t, m.Busy())

	_, err = m.Predictions(context.Background(), "a;b;c", 2019)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestManager_BusyAndCancel(t *testing.T) {
	ctx := context.Background()
	source := newCorpusSource()
	source.gate = make(chan struct{})
	m, log := newTestManager(t, source)

	assert.False(t, m.Cancel(), "nothing to cancel while idle")

	_, err := m.Start(ctx, "ai;health")
	require.NoError(t, err)
	assert.True(t, m.Busy())
	assert.Equal(t, "running", m.Status().State)

	_, err = m.Start(ctx, "ai;law")
	assert.ErrorIs(t, err, domain.ErrRunnerBusy)

	require.True(t, m.Cancel())
	assert.Equal(t, "cancel_requested", m.Status().State)

	close(source.gate)
	m.Finalize()

	assert.False(t, m.Busy())
	assert.Equal(t, task.LabelCancelled, log.last().Label)
	assert.Equal(t, task.LabelCancelled, m.Status().LastEvent.Label)

	t.Run("resumes after cancellation", func(t *testing.T) {
		_, err := m.Start(ctx, "ai;health")
		require.NoError(t, err)
		m.Finalize()
		assert.Equal(t, task.LabelDone, log.last().Label)

		preds, err := m.Predictions(ctx, "ai;health", 2020)
		require.NoError(t, err)
		assert.Len(t, preds, 2)
	})
}
