package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionedRNGStreamsAreIndependent(t *testing.T) {
	r := NewPartitionedRNG(1234)
	a := r.Stream("alpha")
	b := r.Stream("beta")

	var same int
	for i := 0; i < 64; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	assert.Zero(t, same, "distinct tags should not track each other")
}

func TestPartitionedRNGSameTagSameInstance(t *testing.T) {
	r := NewPartitionedRNG(1)
	assert.Same(t, r.Stream("x"), r.Stream("x"))
}

func TestPartitionedRNGReproducible(t *testing.T) {
	r1 := NewPartitionedRNG(99)
	r2 := NewPartitionedRNG(99)
	s1 := r1.Stream("net-drop")
	s2 := r2.Stream("net-drop")
	for i := 0; i < 100; i++ {
		require.Equal(t, s1.Uint64(), s2.Uint64())
	}
}

func TestPartitionedRNGSeedChangesStreams(t *testing.T) {
	s1 := NewPartitionedRNG(1).Stream("tag")
	s2 := NewPartitionedRNG(2).Stream("tag")
	assert.NotEqual(t, s1.Uint64(), s2.Uint64())
}

func TestNodeStreamDistinctPerNode(t *testing.T) {
	r := NewPartitionedRNG(5)
	assert.NotSame(t, r.NodeStream(0), r.NodeStream(1))
	assert.Same(t, r.NodeStream(3), r.NodeStream(3))
}

func TestTrialBoundaries(t *testing.T) {
	s := NewPartitionedRNG(7).Stream("trial")
	for i := 0; i < 1000; i++ {
		assert.False(t, s.Trial(ProbNever))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, s.Trial(ProbAlways))
	}
}

func TestTrialConsumesOneDrawPerCall(t *testing.T) {
	a := NewPartitionedRNG(11).Stream("t")
	b := NewPartitionedRNG(11).Stream("t")

	a.Trial(ProbNever)
	b.Uint64()
	// After one draw each, both streams must be at the same position.
	assert.Equal(t, a.Uint64(), b.Uint64())
}

func TestProbFromFloat(t *testing.T) {
	p, err := ProbFromFloat(0)
	require.NoError(t, err)
	assert.Equal(t, ProbNever, p)

	p, err = ProbFromFloat(1)
	require.NoError(t, err)
	assert.Equal(t, ProbAlways, p)

	p, err = ProbFromFloat(0.5)
	require.NoError(t, err)
	assert.InEpsilon(t, float64(1<<63), float64(p), 0.001)

	_, err = ProbFromFloat(-0.1)
	assert.Error(t, err)
	_, err = ProbFromFloat(1.1)
	assert.Error(t, err)
}

func TestIntNStaysInRange(t *testing.T) {
	s := NewPartitionedRNG(3).Stream("intn")
	for i := 0; i < 1000; i++ {
		v := s.IntN(10)
		assert.Less(t, v, uint64(10))
	}
	assert.Panics(t, func() { s.IntN(0) })
}

func TestDelaySpecSample(t *testing.T) {
	s := NewPartitionedRNG(8).Stream("delay")

	constant := DelaySpec{Kind: "const", Min: 500}
	assert.Equal(t, uint64(500), constant.Sample(s))

	uniform := DelaySpec{Kind: "uniform", Min: 100, Max: 200}
	for i := 0; i < 500; i++ {
		v := uniform.Sample(s)
		assert.GreaterOrEqual(t, v, uint64(100))
		assert.LessOrEqual(t, v, uint64(200))
	}

	degenerate := DelaySpec{Kind: "uniform", Min: 7, Max: 7}
	assert.Equal(t, uint64(7), degenerate.Sample(s))
}

func TestDelaySpecValidate(t *testing.T) {
	assert.NoError(t, DelaySpec{}.Validate())
	assert.NoError(t, DelaySpec{Kind: "const", Min: 1}.Validate())
	assert.NoError(t, DelaySpec{Kind: "uniform", Min: 1, Max: 2}.Validate())
	assert.Error(t, DelaySpec{Kind: "uniform", Min: 2, Max: 1}.Validate())
	assert.Error(t, DelaySpec{Kind: "gaussian"}.Validate())
}
