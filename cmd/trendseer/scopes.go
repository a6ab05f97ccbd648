package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/research-trend-service/internal/repository"
	"github.com/helixir/research-trend-service/internal/scope"
)

func newScopesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "scopes",
		Short: "List registered research scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}

			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			scopes, err := scope.ListScopes(cmd.Context(), a.db)
			if err != nil {
				return err
			}

			if format == "json" {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(scopes)
			}
			outputScopes(cmd, scopes)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func outputScopes(cmd *cobra.Command, scopes []repository.ScopeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Keywords", "Combinations", "Updated"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: 60}})

	for _, s := range scopes {
		t.AppendRow(table.Row{
			s.Keywords,
			strings.ReplaceAll(s.Combinations, ",", "\n"),
			s.UpdateTime.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
