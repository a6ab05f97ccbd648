package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/papersources/openalex"
)

// combinationFlags select one combination-year of a scope.
type combinationFlags struct {
	keywords    string
	combination int
	year        int
}

func (f *combinationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.keywords, "keywords", "", `Scope keywords, e.g. "ai,ml;health,law"`)
	cmd.Flags().IntVar(&f.combination, "combination", 0, "Combination index within the scope")
	cmd.Flags().IntVar(&f.year, "year", 0, "Publication year")
	_ = cmd.MarkFlagRequired("keywords")
	_ = cmd.MarkFlagRequired("year")
}

func newFrontierCmd() *cobra.Command {
	var flags combinationFlags

	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "List referenced publication ids missing from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.combinationScope(flags.keywords, flags.combination)
			if err != nil {
				return err
			}
			ids, err := s.MissingReferencedIds(cmd.Context(), flags.combination, flags.year)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), openalex.FormatWorkID(id))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newCachedCmd() *cobra.Command {
	var flags combinationFlags

	cmd := &cobra.Command{
		Use:   "cached",
		Short: "Show the cached publications of a combination and year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.combinationScope(flags.keywords, flags.combination)
			if err != nil {
				return err
			}
			pubs, err := s.LoadCached(cmd.Context(), flags.combination, flags.year)
			if err != nil {
				return err
			}
			outputPublications(cmd, s.CombinationAt(flags.combination), pubs)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func outputPublications(cmd *cobra.Command, combination string, pubs domain.PublicationSet) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.SetTitle(combination)
	t.AppendHeader(table.Row{"ID", "Year", "Title", "Refs"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 70}})

	for _, id := range pubs.IDs() {
		p := pubs[id]
		t.AppendRow(table.Row{openalex.FormatWorkID(p.ID), p.Year, p.Title, len(p.RefIDs)})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(pubs)})
	t.Render()
}
