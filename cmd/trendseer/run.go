package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/papersources/openalex"
	"github.com/helixir/research-trend-service/internal/pipeline"
	"github.com/helixir/research-trend-service/internal/task"
)

func newRunCmd() *cobra.Command {
	var keywords string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trend pipeline for a research scope",
		Long: `Run acquires publications for every keyword combination of the scope and then
runs the analysis tasks that end in trend predictions. Work already stored is skipped.
Ctrl-C stops the run after the current step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if keywords == "" {
				keywords = a.cfg.Pipeline.Keywords
			}
			if keywords == "" {
				return errors.New("--keywords is required when pipeline.keywords is not configured")
			}

			bars := newProgressBars(cmd.OutOrStdout())
			manager := pipeline.NewManager(
				a.db,
				openalex.New(openalex.ConfigFrom(a.cfg.OpenAlex), a.logger, nil),
				artifact.NewLoader(a.cfg.Artifact, a.logger),
				pipeline.ParamsFromConfig(a.cfg),
				bars,
				a.logger,
				nil,
			)

			return runPipeline(ctx, cmd, manager, bars, keywords)
		},
	}

	cmd.Flags().StringVar(&keywords, "keywords", "", `Scope keywords, e.g. "ai,ml;health,law" (defaults to pipeline.keywords)`)
	return cmd
}

// runPipeline starts a run and waits for it to end. Cancelling ctx requests
// cancellation and waits for the run to stop at a step boundary.
func runPipeline(ctx context.Context, cmd *cobra.Command, manager *pipeline.Manager, bars *progressBars, keywords string) error {
	bars.Render()
	defer bars.Stop()

	runID, err := manager.Start(ctx, keywords)
	if err != nil {
		return err
	}

	select {
	case <-bars.Done():
	case <-ctx.Done():
		if manager.Cancel() {
			fmt.Fprintln(cmd.ErrOrStderr(), "cancelling after the current step...")
		}
	}
	manager.Finalize()
	bars.Stop()

	status := manager.Status()
	label := task.LabelDone
	if status.LastEvent != nil {
		label = status.LastEvent.Label
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s for %q: %s\n", runID, status.Keywords, label)
	printFailures(cmd, status.Failures)
	return nil
}

func printFailures(cmd *cobra.Command, failures []task.StepFailure) {
	if len(failures) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.SetTitle("Failed steps")
	t.AppendHeader(table.Row{"Task", "Step", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
	for _, f := range failures {
		t.AppendRow(table.Row{f.Task, f.Step, f.Error})
	}
	t.Render()
}
