package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
	"github.com/helixir/research-trend-service/internal/scope"
	"github.com/helixir/research-trend-service/internal/task"
)

// writeConfig writes a config file with acquisition disabled and a store under a temp dir.
func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "trendseer.db")
	cfgPath = filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`database:
  path: %s
logging:
  level: error
openalex:
  enabled: false
pipeline:
  year_from: 2018
  year_to: 2020
  window: 2
  horizon: 1
  biterms: 10
  candidates: 2
  model_uri: %s
`, dbPath, filepath.Join(dir, "missing_model.json"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dbPath
}

// seedCombination stores a fetch result for the first combination of keywords in 2019.
func seedCombination(t *testing.T, dbPath, keywords string) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, &config.DatabaseConfig{Path: dbPath, MaxOpenConns: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.EnsureSchema(db, zerolog.Nop()))

	s, err := scope.Parse(db, keywords)
	require.NoError(t, err)
	require.NoError(t, s.EnsureStorable(ctx))
	require.NoError(t, s.Register(ctx))
	require.NoError(t, s.PersistFetchResult(ctx, 0, 2019, []domain.Publication{
		{ID: 3, Year: 2019, Title: "neural networks diagnosis imaging", RefIDs: []uint64{1}},
		{ID: 4, Year: 2019, Title: "clinical records privacy", RefIDs: []uint64{1, 2}},
	}))
	_, err = s.StorePublications(ctx, []domain.Publication{{ID: 2, Year: 2018, Title: "neural networks clinical records"}})
	require.NoError(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_ThenScopes(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "run", "--keywords", "Health;AI")
	require.NoError(t, err)
	assert.Contains(t, out, `for "health;ai": Done`)

	out, err = execute(t, "--config", cfgPath, "scopes", "--format", "json")
	require.NoError(t, err)

	var scopes []repository.ScopeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &scopes))
	require.Len(t, scopes, 1)
	assert.Equal(t, "health;ai", scopes[0].Keywords)
	assert.Equal(t, "ai&health", scopes[0].Combinations)

	out, err = execute(t, "--config", cfgPath, "scopes")
	require.NoError(t, err)
	assert.Contains(t, out, "health;ai")
}

func TestRun_RequiresKeywords(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--keywords is required")

	_, err = execute(t, "--config", cfgPath, "run", "--keywords", "no groups")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestScopes_InvalidFormat(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "scopes", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestFrontierAndCached(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	seedCombination(t, dbPath, "ai;health")

	out, err := execute(t, "--config", cfgPath, "frontier", "--keywords", "ai;health", "--year", "2019")
	require.NoError(t, err)
	assert.Equal(t, "W1\n", out)

	out, err = execute(t, "--config", cfgPath, "cached", "--keywords", "ai;health", "--combination", "0", "--year", "2019")
	require.NoError(t, err)
	assert.Contains(t, out, "ai&health")
	assert.Contains(t, out, "W3")
	assert.Contains(t, out, "clinical records privacy")

	_, err = execute(t, "--config", cfgPath, "cached", "--keywords", "ai;health", "--year", "2020")
	assert.ErrorIs(t, err, domain.ErrQueryNotFound)

	_, err = execute(t, "--config", cfgPath, "frontier", "--keywords", "ai;health", "--combination", "1", "--year", "2019")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = execute(t, "--config", cfgPath, "frontier", "--keywords", "ai;health")
	require.Error(t, err, "--year is required")
}

func TestProgressBars(t *testing.T) {
	var buf bytes.Buffer
	bars := newProgressBars(&buf)

	bars.Report(task.Event{RunID: "r", Label: "Acquiring publications", Index: 1, Count: 5, Percent: 50})
	bars.Report(task.Event{RunID: "r", Label: "Weighting biterms", Index: 2, Count: 5, Percent: 10})

	bars.mu.Lock()
	require.Len(t, bars.trackers, 2)
	assert.True(t, bars.trackers[1].IsDone(), "a later task finishes earlier trackers")
	assert.False(t, bars.trackers[2].IsDone())
	assert.Equal(t, int64(10), bars.trackers[2].Value())
	bars.mu.Unlock()

	bars.Report(task.Event{RunID: "r", Label: task.LabelCancelled, Index: 2, Count: 5, Percent: 10})

	e := <-bars.Done()
	assert.Equal(t, task.LabelCancelled, e.Label)
	bars.mu.Lock()
	assert.True(t, bars.trackers[2].IsErrored())
	bars.mu.Unlock()
}

func TestProgressBars_DoneWithoutSteps(t *testing.T) {
	bars := newProgressBars(&bytes.Buffer{})
	bars.Report(task.Event{RunID: "r", Label: task.LabelDone, Index: 5, Count: 5, Percent: 100})
	bars.Report(task.Event{RunID: "r", Label: task.LabelDone, Index: 5, Count: 5, Percent: 100})

	e := <-bars.Done()
	assert.Equal(t, task.LabelDone, e.Label)
	assert.Empty(t, bars.trackers)
}
