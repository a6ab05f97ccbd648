package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/domain"
)

type fakeRunner struct {
	mu        sync.Mutex
	busy      bool
	started   []string
	finalized int
	startErr  map[string]error
}

func (f *fakeRunner) Start(ctx context.Context, keywords string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[keywords]; err != nil {
		return "", err
	}
	f.started = append(f.started, keywords)
	return "run-" + keywords, nil
}

func (f *fakeRunner) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRunner) Finalize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
}

func (f *fakeRunner) startedScopes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("0 3 * * *", nil, &fakeRunner{}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = New("not a cron", []string{"a;b"}, &fakeRunner{}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	s, err := New("@daily", []string{"a;b"}, &fakeRunner{}, zerolog.Nop())
	require.NoError(t, err)
	s.Stop()
}

func TestTick_RunsScopesInOrder(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New("0 3 * * *", []string{"a;b", "c;d"}, runner, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Tick()

	assert.Equal(t, []string{"a;b", "c;d"}, runner.startedScopes())
	assert.Equal(t, 2, runner.finalized, "each run is awaited before the next starts")
}

func TestTick_SkipsWhenBusy(t *testing.T) {
	runner := &fakeRunner{busy: true}
	s, err := New("0 3 * * *", []string{"a;b"}, runner, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Tick()
	assert.Empty(t, runner.startedScopes())
}

func TestTick_StartErrors(t *testing.T) {
	runner := &fakeRunner{startErr: map[string]error{
		"bad":  domain.NewValidationError("keywords", "malformed"),
		"late": domain.ErrRunnerBusy,
	}}
	s, err := New("0 3 * * *", []string{"bad", "a;b", "late", "c;d"}, runner, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Tick()
	assert.Equal(t, []string{"a;b"}, runner.startedScopes(), "a failing scope is skipped and a busy runner ends the tick")
}

func TestStop_EndsTick(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New("0 3 * * *", []string{"a;b"}, runner, zerolog.Nop())
	require.NoError(t, err)

	s.Stop()
	s.Stop()
	s.Tick()
	assert.Empty(t, runner.startedScopes())
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New("@every 1s", []string{"a;b"}, runner, zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return len(runner.startedScopes()) > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()

	assert.Equal(t, "a;b", runner.startedScopes()[0])
}

func TestCronLogAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := cronLogAdapter{logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	a.Info("schedule", "entries", 1)
	a.Error(errors.New("boom"), "job panicked", "entry", 2)

	out := buf.String()
	assert.Contains(t, out, `"message":"schedule"`)
	assert.Contains(t, out, `"entries":1`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"entry":2`)
}
