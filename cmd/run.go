package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/protosim/protosim/sim"
	"github.com/protosim/protosim/sim/protocols"
	"github.com/protosim/protosim/sim/telemetry"
)

var (
	runScenarioPath string
	runSeedOverride uint64
	runSeedSet      bool
	runSnapshotCap  int
	runMetricsAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario to completion",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runScenario())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runScenarioPath, "scenario", "s", "", "path to the scenario YAML file (required)")
	runCmd.Flags().Uint64Var(&runSeedOverride, "seed", 0, "override the scenario seed")
	runCmd.Flags().IntVar(&runSnapshotCap, "snapshot-cap", 64, "bound on buffered world snapshots")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve final metrics over HTTP at this address after the run")
	_ = runCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(runCmd)
}

func runScenario() int {
	sc, err := loadScenarioFile(runScenarioPath)
	if err != nil {
		logrus.Error(err)
		if errors.Is(err, sim.ErrScenarioInvalid) {
			return sim.ExitScenarioInvalid
		}
		return 1
	}
	if runCmd.Flags().Changed("seed") {
		sc.Seed = runSeedOverride
	}

	factory, err := protocols.Lookup(sc.Protocol)
	if err != nil {
		logrus.Error(err)
		return sim.ExitScenarioInvalid
	}

	// SIGINT stops the run through the control channel, so the loop
	// finishes its current event and exits with the external stop code.
	control := make(chan sim.ControlMsg, 1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		control <- sim.ControlMsg{Stop: true, Reason: "signal"}
	}()

	s, err := sim.NewSimulation(sc, factory, sim.Options{
		Logger:          logrus.StandardLogger(),
		SnapshotChanCap: runSnapshotCap,
		Control:         control,
	})
	if err != nil {
		logrus.Error(err)
		return 1
	}

	reason := s.Run()
	printSummary(s, reason)

	if runMetricsAddr != "" {
		if err := serveMetrics(runMetricsAddr, s.Telemetry(), sigs); err != nil {
			logrus.Errorf("metrics endpoint: %v", err)
		}
	}
	return reason.ExitCode()
}

func printSummary(s *sim.Simulation, reason sim.StopReason) {
	fmt.Println("=== Run Summary ===")
	fmt.Printf("  Stop reason:        %s\n", reason)
	if detail := s.StopDetail(); detail != "" {
		fmt.Printf("  Detail:             %s\n", detail)
	}
	fmt.Printf("  Simulated time:     %s\n", s.Now())
	fmt.Printf("  Events executed:    %d\n", s.EventsRun())
	fmt.Printf("  Snapshots buffered: %d (dropped %d)\n",
		s.Telemetry().Snapshots().Len(), s.Telemetry().Snapshots().Dropped())

	fmt.Println("=== Metrics ===")
	for _, m := range s.Telemetry().Metrics() {
		switch m.Kind {
		case telemetry.KindHistogram:
			mean := 0.0
			if m.Count > 0 {
				mean = m.Sum / float64(m.Count)
			}
			fmt.Printf("  %s%s: count=%d min=%.0f mean=%.1f max=%.0f\n",
				m.Name, labelSuffix(m.Labels), m.Count, m.Min, mean, m.Max)
		default:
			fmt.Printf("  %s%s: %.0f\n", m.Name, labelSuffix(m.Labels), m.Value)
		}
	}
}

func labelSuffix(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + labels[k]
	}
	return out + "}"
}
