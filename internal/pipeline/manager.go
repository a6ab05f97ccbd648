package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/papersources"
	"github.com/helixir/research-trend-service/internal/scope"
	"github.com/helixir/research-trend-service/internal/task"
)

// Status describes the manager's current or latest run.
type Status struct {
	State     string             `json:"state"`
	Keywords  string             `json:"keywords,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	LastEvent *task.Event        `json:"last_event,omitempty"`
	Failures  []task.StepFailure `json:"failures"`
}

// Manager owns at most one running chain per process. The HTTP API, the scheduler and
// the CLI start runs through it.
type Manager struct {
	db       *database.DB
	source   papersources.PublicationSource
	loader   *artifact.Loader
	params   Params
	reporter task.ProgressReporter
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	runner   *task.Runner
	keywords string
}

// NewManager creates a manager. reporter receives the progress of every run.
func NewManager(db *database.DB, source papersources.PublicationSource, loader *artifact.Loader, params Params, reporter task.ProgressReporter, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		db:       db,
		source:   source,
		loader:   loader,
		params:   params,
		reporter: reporter,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		metrics:  metrics,
	}
}

// Scope parses keywords into a scope bound to the manager's store.
func (m *Manager) Scope(keywords string) (*scope.ResearchScope, error) {
	return scope.Parse(m.db, keywords, scope.WithLogger(m.logger), scope.WithMetrics(m.metrics))
}

// Start registers the scope and starts its chain. It returns domain.ErrRunnerBusy
// while another run is active.
func (m *Manager) Start(ctx context.Context, keywords string) (string, error) {
	s, err := m.Scope(keywords)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runner != nil && m.runner.State() != task.StateIdle {
		return "", domain.ErrRunnerBusy
	}

	if err := s.EnsureStorable(ctx); err != nil {
		return "", err
	}
	if err := s.Register(ctx); err != nil {
		return "", err
	}

	if m.runner != nil {
		m.runner.Finalize()
	}
	m.runner = task.NewRunner(Build(m.params, s, m.source, m.loader, m.logger, m.metrics), m.reporter, m.logger, m.metrics)
	m.keywords = s.Keywords()

	return m.runner.Start(ctx), nil
}

// Cancel requests cancellation of the active run. It reports false when idle.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runner == nil {
		return false
	}
	return m.runner.Cancel()
}

// Busy reports whether a run is active.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runner != nil && m.runner.State() != task.StateIdle
}

// Status returns the state of the current or latest run.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:    task.StateIdle.String(),
		Failures: []task.StepFailure{},
	}
	if m.runner == nil {
		return status
	}

	status.State = m.runner.State().String()
	status.Keywords = m.keywords
	status.RunID = m.runner.RunID()
	if e, ok := m.runner.LastEvent(); ok {
		status.LastEvent = &e
	}
	if failures := m.runner.Failures(); len(failures) > 0 {
		status.Failures = failures
	}
	return status
}

// Finalize waits for the active run to end. Call it before closing the store.
func (m *Manager) Finalize() {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()

	if runner != nil {
		runner.Finalize()
	}
}

// Predictions returns the stored predictions of a scope year, highest score first.
func (m *Manager) Predictions(ctx context.Context, keywords string, year int) ([]domain.Prediction, error) {
	s, err := m.Scope(keywords)
	if err != nil {
		return nil, err
	}
	return NewPrediction(newBase(m.params, s, m.logger, m.metrics), nil).Load(ctx, year)
}
