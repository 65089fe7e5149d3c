// Package cmd wires the CLI: flag parsing, scenario loading, and the
// subcommands for running, validating, and introspecting scenarios.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "protosim",
	Short: "Deterministic discrete-event simulator for distributed protocols",
	Long: `protosim executes distributed protocols inside a deterministic
discrete-event simulation. A scenario file fixes the topology, the fault
schedule, and the seed; two runs of the same scenario and seed produce
identical event sequences.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Warnf("invalid log level %q, using info", logLevel)
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"log level: trace, debug, info, warn, error")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
