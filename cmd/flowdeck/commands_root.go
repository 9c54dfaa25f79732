package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configFile string
	listenAddr string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "flowdeck",
	Short:         "Health and deployment control for flows across managed instances",
	Long:          "flowdeck resolves where each side of a logical flow lives, sweeps managed instances for flow health and deploys flow versions with interactive conflict resolution.",
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Human-readable debug logging")

	registerServeCommand(rootCmd)
	registerSweepCommand(rootCmd)
	registerResolveCommand(rootCmd)
	registerDeployCommand(rootCmd)
}
