package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
seed: 1
horizon_ns: 1000000000
protocol: ping
nodes: 3
link_defaults:
  base_delay_ns: 1000000
`

func TestLoadScenarioMinimal(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sc.Seed)
	assert.Equal(t, TimeFromSeconds(1), sc.Horizon)
	assert.Equal(t, "ping", sc.Protocol)
	assert.Equal(t, uint32(3), sc.Nodes)
	assert.Equal(t, DefaultInboxCap, sc.InboxCap)
	assert.Equal(t, TimeFromMillis(1), sc.DefaultLink.BaseDelay)
}

func TestLoadScenarioRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not yaml", `{{{`},
		{"zero nodes", "seed: 1\nhorizon_ns: 10\nprotocol: ping\nnodes: 0\n"},
		{"zero horizon", "seed: 1\nhorizon_ns: 0\nprotocol: ping\nnodes: 2\n"},
		{"missing protocol", "seed: 1\nhorizon_ns: 10\nnodes: 2\n"},
		{
			"drop out of range",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\nlink_defaults:\n  drop: 1.5\n",
		},
		{
			"link override out of range",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\nlink_overrides:\n  - {src: 0, dst: 9}\n",
		},
		{
			"directive without schedule",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - action: {kind: heal}\n",
		},
		{
			"directive with two schedules",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, after_ns: 2, action: {kind: heal}}\n",
		},
		{
			"unknown action",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: meteor-strike}}\n",
		},
		{
			"crash without node",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: crash}}\n",
		},
		{
			"crash node out of range",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: crash, node: 7}}\n",
		},
		{
			"partition single group",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: partition, groups: [[0, 1]]}}\n",
		},
		{
			"partition empty group",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: partition, groups: [[0], []]}}\n",
		},
		{
			"partition overlapping groups",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 3\ndirectives:\n  - {at_ns: 1, action: {kind: partition, groups: [[0, 1], [1, 2]]}}\n",
		},
		{
			"byzantine bad hex",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {at_ns: 1, action: {kind: byzantine, payload_hex: zz}}\n",
		},
		{
			"every with zero period",
			"seed: 1\nhorizon_ns: 10\nprotocol: p\nnodes: 2\ndirectives:\n  - {every: {period_ns: 0, repeats: 3}, action: {kind: heal}}\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario([]byte(tc.doc))
			assert.ErrorIs(t, err, ErrScenarioInvalid)
		})
	}
}

func TestDirectiveLoweringAt(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - at_ns: 500
    action: {kind: heal}
  - after_ns: 700
    action: {kind: heal}
`))
	require.NoError(t, err)
	require.Len(t, sc.Actions, 2)
	assert.Equal(t, TimeFromNanos(500), sc.Actions[0].At)
	assert.Equal(t, TimeFromNanos(700), sc.Actions[1].At)
}

func TestDirectiveLoweringEvery(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - every: {start_ns: 100, period_ns: 50, repeats: 4}
    action: {kind: heal}
`))
	require.NoError(t, err)
	require.Len(t, sc.Actions, 4)
	want := []uint64{100, 150, 200, 250}
	for i, ns := range want {
		assert.Equal(t, TimeFromNanos(ns), sc.Actions[i].At)
	}
}

func TestDirectiveLoweringEveryClipsAtHorizon(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - every: {start_ns: 999999900, period_ns: 100, repeats: 10}
    action: {kind: heal}
`))
	require.NoError(t, err)
	// Only the repeats at or before the 1s horizon survive.
	assert.Len(t, sc.Actions, 2)
}

func TestCrashActionCarriesDuration(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - at_ns: 10
    action: {kind: crash, node: 1, duration_ns: 500}
`))
	require.NoError(t, err)
	require.Len(t, sc.Actions, 1)
	a := sc.Actions[0].Action
	assert.Equal(t, ActionCrash, a.Kind)
	assert.Equal(t, NodeID(1), a.Node)
	assert.Equal(t, TimeFromNanos(500), a.Duration)
}

func TestByzantineDefaultsToAllNodes(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - at_ns: 10
    action: {kind: byzantine, payload_hex: deadbeef}
`))
	require.NoError(t, err)
	require.Len(t, sc.Actions, 1)
	a := sc.Actions[0].Action
	assert.Equal(t, []NodeID{0, 1, 2}, a.Targets)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, a.Payload)
}

func TestLinkPatchAction(t *testing.T) {
	sc, err := LoadScenario([]byte(minimalScenario + `
directives:
  - at_ns: 10
    action:
      kind: link-patch
      src: 0
      dst: 1
      drop: 1.0
      base_delay_ns: 5000000
`))
	require.NoError(t, err)
	a := sc.Actions[0].Action
	require.NotNil(t, a.Patch.Drop)
	assert.Equal(t, ProbAlways, *a.Patch.Drop)
	require.NotNil(t, a.Patch.BaseDelay)
	assert.Equal(t, TimeFromMillis(5), *a.Patch.BaseDelay)
	assert.Nil(t, a.Patch.Duplicate)
}
