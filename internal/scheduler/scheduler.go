// Package scheduler refreshes configured research scopes on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/domain"
)

// Runner starts pipeline runs. *pipeline.Manager implements it.
type Runner interface {
	Start(ctx context.Context, keywords string) (string, error)
	Busy() bool
	Finalize()
}

// Scheduler runs the pipeline of every configured scope on each cron tick, one scope
// after the other. A tick that finds a run in progress is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	scopes []string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a scheduler for spec, a standard five-field cron expression or a
// descriptor such as "@daily".
func New(spec string, scopes []string, runner Runner, logger zerolog.Logger) (*Scheduler, error) {
	if len(scopes) == 0 {
		return nil, domain.NewValidationError("schedule.scopes", "at least one scope is required")
	}

	logger = logger.With().Str("component", "scheduler").Logger()
	cronLogger := cronLogAdapter{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner: runner,
		scopes: append([]string(nil), scopes...),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.Tick); err != nil {
		cancel()
		return nil, domain.NewValidationError("schedule.cron", fmt.Sprintf("invalid cron expression %q: %v", spec, err))
	}
	return s, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.logger.Info().Int("scopes", len(s.scopes)).Msg("scheduler started")
	s.cron.Start()
}

// Stop prevents further ticks and stops a tick between two scopes. It blocks until the
// tick in progress, including the run it waits on, has returned.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("scheduler stopped")
	})
}

// Tick runs the pipeline for each configured scope in turn, waiting for each run to end.
func (s *Scheduler) Tick() {
	if s.runner.Busy() {
		s.logger.Info().Msg("pipeline run in progress, skipping scheduled refresh")
		return
	}

	for _, keywords := range s.scopes {
		if s.ctx.Err() != nil {
			return
		}

		logger := s.logger.With().Str("scope", keywords).Logger()
		runID, err := s.runner.Start(s.ctx, keywords)
		switch {
		case errors.Is(err, domain.ErrRunnerBusy):
			logger.Info().Msg("pipeline run started elsewhere, skipping remaining scopes")
			return
		case err != nil:
			logger.Error().Err(err).Msg("failed to start scheduled run")
			continue
		}

		logger.Info().Str("run_id", runID).Msg("scheduled run started")
		s.runner.Finalize()
	}
}

// cronLogAdapter routes cron's logging through zerolog.
type cronLogAdapter struct {
	logger zerolog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
