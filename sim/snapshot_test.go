package sim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protosim/protosim/sim"
	"github.com/protosim/protosim/sim/internal/testutil"
	"github.com/protosim/protosim/sim/protocols"
)

func mustLookup(t *testing.T, name string) sim.ProtocolFactory {
	t.Helper()
	factory, err := protocols.Lookup(name)
	require.NoError(t, err)
	return factory
}

func TestPeriodicSnapshotsCaptureWorldState(t *testing.T) {
	doc := `
seed: 1
horizon_ns: 1000000000
snapshot_period_ns: 200000000
protocol: ping
nodes: 2
link_defaults:
  base_delay_ns: 1000000
directives:
  - at_ns: 300000000
    action: {kind: partition, groups: [[0], [1]]}
`
	s, reason := testutil.Run(t, testutil.MustScenario(t, doc))
	require.Equal(t, sim.StopHorizon, reason)

	snaps := s.Telemetry().Snapshots().Drain()
	// Ticks at 200ms..1000ms plus the final capture at the horizon.
	require.GreaterOrEqual(t, len(snaps), 5)

	first := snaps[0]
	assert.Equal(t, uint64(200_000_000), first.TimeNanos)
	require.Len(t, first.Nodes, 2)
	assert.Equal(t, "0", first.Nodes[0].Node)
	assert.Equal(t, "1", first.Nodes[1].Node)
	assert.Equal(t, "running", first.Nodes[0].State)
	assert.Equal(t, uint64(1), first.Nodes[0].Incarnation)
	assert.Zero(t, first.SeveredPairs)
	// The ping state machine publishes its counters.
	assert.Contains(t, first.Nodes[0].Protocol, "pongs")

	last := snaps[len(snaps)-1]
	assert.Positive(t, last.SeveredPairs)
	assert.Equal(t, uint64(1_000_000_000), last.TimeNanos)
}

func TestSnapshotBufferSheddingIsCounted(t *testing.T) {
	doc := `
seed: 1
horizon_ns: 1000000000
snapshot_period_ns: 100000000
protocol: ping
nodes: 2
link_defaults:
  base_delay_ns: 1000000
`
	sc := testutil.MustScenario(t, doc)
	factory := mustLookup(t, sc.Protocol)
	s, err := sim.NewSimulation(sc, factory, sim.Options{
		Logger:          testutil.SilentLogger(),
		SnapshotChanCap: 2,
	})
	require.NoError(t, err)
	s.Run()

	assert.Equal(t, 2, s.Telemetry().Snapshots().Len())
	assert.Positive(t, s.Telemetry().Snapshots().Dropped())
}
