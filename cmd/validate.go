package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/protosim/protosim/sim"
	"github.com/protosim/protosim/sim/protocols"
)

var validateScenarioPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a scenario file without running it",
	Run: func(cmd *cobra.Command, args []string) {
		sc, err := loadScenarioFile(validateScenarioPath)
		if err != nil {
			logrus.Error(err)
			if errors.Is(err, sim.ErrScenarioInvalid) {
				os.Exit(sim.ExitScenarioInvalid)
			}
			os.Exit(1)
		}
		if _, err := protocols.Lookup(sc.Protocol); err != nil {
			logrus.Error(err)
			os.Exit(sim.ExitScenarioInvalid)
		}
		fmt.Printf("scenario ok: %d nodes, protocol %s, horizon %s, %d directives\n",
			sc.Nodes, sc.Protocol, sc.Horizon, len(sc.Actions))
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateScenarioPath, "scenario", "s", "", "path to the scenario YAML file (required)")
	_ = validateCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(validateCmd)
}
