package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
)

func TestOptions_Action(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "up", args: []string{"-up"}, want: "up"},
		{name: "negative steps", args: []string{"-steps", "-1"}, want: "steps"},
		{name: "force zero", args: []string{"-force", "0"}, want: "force"},
		{name: "drop", args: []string{"-drop"}, want: "drop"},
		{name: "none", args: nil, wantErr: "no action specified"},
		{name: "two", args: []string{"-up", "-drop"}, wantErr: "only one action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _, err := parseFlags(tt.args)
			require.NoError(t, err)

			got, err := opts.action()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_UpThenDrop(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "trendseer.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("database:\n  path: %s\nopenalex:\n  enabled: false\n", dbPath)), 0o600))

	require.NoError(t, run([]string{"-config", cfgPath, "-up"}))
	assert.Equal(t, 1, countTables(t, dbPath, "publications"))

	require.NoError(t, run([]string{"-config", cfgPath, "-drop"}))
	assert.Zero(t, countTables(t, dbPath, "publications"))

	assert.Error(t, run([]string{"-config", cfgPath, "-up", "-down"}))
}

func countTables(t *testing.T, path, name string) int {
	t.Helper()
	db, err := database.Open(context.Background(), &config.DatabaseConfig{Path: path}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n))
	return n
}
