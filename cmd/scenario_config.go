package cmd

import (
	"fmt"
	"os"

	"github.com/protosim/protosim/sim"
)

// loadScenarioFile reads and validates a scenario document from disk.
func loadScenarioFile(path string) (*sim.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := sim.LoadScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}
