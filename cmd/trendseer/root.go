package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "trendseer",
		Short:        "trendseer - research trend prediction from bibliographic data",
		Long:         "trendseer acquires publications for pairs of keyword groups and predicts research trends from them.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newScopesCmd())
	cmd.AddCommand(newFrontierCmd())
	cmd.AddCommand(newCachedCmd())
	return cmd
}
