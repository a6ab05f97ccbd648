package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/observability"
)

// Runner executes a fixed chain of tasks on a single background worker.
//
// Start skips leading tasks that are finished or have no steps without spawning a
// worker. The worker runs the remaining tasks step by step, reporting progress after
// every step and skipping later empty tasks without an event. Cancellation is observed
// only between steps: an in-flight step always completes, the run ends with a
// Cancelled event and the chain does not advance.
type Runner struct {
	tasks    []Task
	reporter ProgressReporter
	logger   zerolog.Logger
	metrics  *observability.Metrics

	// startMu serializes Start and Finalize.
	startMu sync.Mutex

	mu       sync.Mutex
	state    State
	runID    string
	cancel   context.CancelFunc
	done     chan struct{}
	last     *Event
	failures []StepFailure
}

// NewRunner creates a runner for tasks. A nil reporter discards progress events.
func NewRunner(tasks []Task, reporter ProgressReporter, logger zerolog.Logger, metrics *observability.Metrics) *Runner {
	if reporter == nil {
		reporter = ProgressFunc(func(Event) {})
	}
	return &Runner{
		tasks:    append([]Task(nil), tasks...),
		reporter: reporter,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start begins a run and returns its id. A worker left by an earlier run is joined first.
// The worker inherits the values of ctx but not its cancellation; use Cancel to stop it.
func (r *Runner) Start(ctx context.Context) string {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.finalize()

	runID := uuid.NewString()
	r.mu.Lock()
	r.runID = runID
	r.failures = nil
	r.last = nil
	r.mu.Unlock()

	ctx = observability.WithRunID(context.WithoutCancel(ctx), runID)
	logger := observability.WithRunContext(r.logger, runID)
	r.metrics.RecordRunStarted()
	logger.Info().Int("tasks", len(r.tasks)).Msg("pipeline run started")

	first, steps := r.nextRunnable(ctx, 0)
	if first == len(r.tasks) {
		r.report(runID, LabelDone, len(r.tasks), len(r.tasks), 100)
		r.metrics.RecordRunCompleted()
		logger.Info().Msg("pipeline run completed, nothing to do")
		return runID
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.state = StateRunning
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.work(runCtx, logger, runID, first, steps, done)
	return runID
}

// Cancel requests cancellation of the active run. It reports false when no worker is active.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning || r.cancel == nil {
		return false
	}
	r.state = StateCancelRequested
	r.cancel()
	r.logger.Info().Str("run_id", r.runID).Msg("pipeline cancellation requested")
	return true
}

// Finalize blocks until the active worker, if any, has exited and resets the runner.
// It is safe to call at any time and must be called before shutdown.
func (r *Runner) Finalize() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	r.finalize()
}

func (r *Runner) finalize() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = nil
	r.done = nil
	r.state = StateIdle
	r.mu.Unlock()
}

// State returns the runner state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunID returns the id of the latest run, or "" before the first Start.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// LastEvent returns the latest progress event of the current run.
func (r *Runner) LastEvent() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Event{}, false
	}
	return *r.last, true
}

// Failures returns the step failures of the latest run.
func (r *Runner) Failures() []StepFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepFailure(nil), r.failures...)
}

// Tasks returns the chain length.
func (r *Runner) Tasks() int {
	return len(r.tasks)
}

// nextRunnable returns the index of the first task at or after from that has pending
// steps, with its step count. It returns len(tasks) when none remains.
func (r *Runner) nextRunnable(ctx context.Context, from int) (int, int) {
	for i := from; i < len(r.tasks); i++ {
		t := r.tasks[i]
		if t.Finished(ctx) {
			r.metrics.RecordTaskSkipped(t.Name())
			continue
		}
		if n := t.NumSteps(ctx); n > 0 {
			return i, n
		}
		r.metrics.RecordTaskSkipped(t.Name())
	}
	return len(r.tasks), 0
}

func (r *Runner) work(ctx context.Context, logger zerolog.Logger, runID string, index, steps int, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
	}()

	// Steps see the run's values but never its cancellation.
	stepCtx := context.WithoutCancel(ctx)
	count := len(r.tasks)

	for index < count {
		t := r.tasks[index]
		taskLogger := observability.WithTaskContext(logger, t.Name(), index+1, count)
		taskLogger.Info().Int("steps", steps).Msg("task started")

		percent := 0
		for step := 0; step < steps; step++ {
			if ctx.Err() != nil {
				r.cancelled(taskLogger, runID, t.Name(), index+1, count, percent)
				return
			}

			start := time.Now()
			err := t.DoStep(stepCtx, step)
			r.metrics.RecordStep(t.Name(), time.Since(start).Seconds(), err)
			if err != nil {
				taskLogger.Error().Err(err).Int("step", step).Msg("task step failed")
				r.recordFailure(runID, t.Name(), step, err)
			}

			percent = 100 * (step + 1) / steps
			r.report(runID, t.Name(), index+1, count, percent)

			if ctx.Err() != nil {
				r.cancelled(taskLogger, runID, t.Name(), index+1, count, percent)
				return
			}
		}
		taskLogger.Info().Msg("task completed")

		index, steps = r.nextRunnable(stepCtx, index+1)
	}

	r.report(runID, LabelDone, count, count, 100)
	r.metrics.RecordRunCompleted()
	logger.Info().Int("failures", len(r.Failures())).Msg("pipeline run completed")
}

func (r *Runner) cancelled(logger zerolog.Logger, runID, task string, index, count, percent int) {
	r.report(runID, LabelCancelled, index, count, percent)
	r.metrics.RecordRunCancelled()
	logger.Info().Str("interrupted_task", task).Int("percent", percent).Msg("pipeline run cancelled")
}

func (r *Runner) report(runID, label string, index, count, percent int) {
	e := Event{
		RunID:     runID,
		Label:     label,
		Index:     index,
		Count:     count,
		Percent:   percent,
		Timestamp: time.Now().UTC(),
	}
	r.mu.Lock()
	r.last = &e
	r.mu.Unlock()
	r.reporter.Report(e)
}

func (r *Runner) recordFailure(runID, task string, step int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, StepFailure{
		RunID:     runID,
		Task:      task,
		Step:      step,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}
