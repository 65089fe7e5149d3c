// Package testutil provides shared test infrastructure: scenario
// construction from inline YAML, silent run execution, and run
// fingerprinting for determinism comparisons across the sim/ and
// sim/protocols/ test packages.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/protosim/protosim/sim"
	"github.com/protosim/protosim/sim/protocols"
)

// MustScenario parses inline YAML into a validated scenario.
func MustScenario(t *testing.T, doc string) *sim.Scenario {
	t.Helper()
	sc, err := sim.LoadScenario([]byte(doc))
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	return sc
}

// SilentLogger returns a logger that discards everything, keeping test
// output readable.
func SilentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(discard{})
	log.SetLevel(logrus.PanicLevel)
	return log
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Run builds a simulation from the scenario and executes it to
// completion, resolving the protocol through the registry.
func Run(t *testing.T, sc *sim.Scenario) (*sim.Simulation, sim.StopReason) {
	t.Helper()
	factory, err := protocols.Lookup(sc.Protocol)
	if err != nil {
		t.Fatalf("protocol: %v", err)
	}
	return RunWith(t, sc, factory)
}

// RunWith is Run with an explicit protocol factory, for tests that host
// purpose-built probe protocols.
func RunWith(t *testing.T, sc *sim.Scenario, factory sim.ProtocolFactory) (*sim.Simulation, sim.StopReason) {
	t.Helper()
	s, err := sim.NewSimulation(sc, factory, sim.Options{Logger: SilentLogger()})
	if err != nil {
		t.Fatalf("build simulation: %v", err)
	}
	return s, s.Run()
}

// Fingerprint digests a run's full telemetry log plus its metric state.
// Two runs with identical behavior produce identical fingerprints.
func Fingerprint(s *sim.Simulation) string {
	h := sha256.New()
	for _, r := range s.Telemetry().Records() {
		fmt.Fprintf(h, "%d|%d|%s|%s|%d|%s\n", r.Seq, r.TimeNanos, r.Kind, r.Node, r.Trace, r.Msg)
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "  %s=%s\n", k, r.Fields[k])
		}
	}
	for _, m := range s.Telemetry().Metrics() {
		fmt.Fprintf(h, "metric %s kind=%d value=%v count=%d sum=%v\n", m.Name, m.Kind, m.Value, m.Count, m.Sum)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BaseScenarioYAML renders a minimal scenario document; extra directive
// stanzas can be appended by the caller.
func BaseScenarioYAML(protocol string, nodes int, seed uint64, horizonNs uint64, extra string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "seed: %d\n", seed)
	fmt.Fprintf(&sb, "horizon_ns: %d\n", horizonNs)
	fmt.Fprintf(&sb, "protocol: %s\n", protocol)
	fmt.Fprintf(&sb, "nodes: %d\n", nodes)
	sb.WriteString("link_defaults:\n  base_delay_ns: 1000000\n")
	if extra != "" {
		sb.WriteString(extra)
	}
	return sb.String()
}
