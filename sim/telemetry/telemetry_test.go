package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAssignsMonotonicSeq(t *testing.T) {
	b := NewBus(4)
	b.Log(Record{Kind: "a"})
	b.Log(Record{Kind: "b"})
	b.Log(Record{Kind: "a"})

	recs := b.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)
	assert.Equal(t, uint64(3), recs[2].Seq)

	assert.Len(t, b.RecordsOfKind("a"), 2)
	assert.Len(t, b.RecordsOfKind("b"), 1)
	assert.Empty(t, b.RecordsOfKind("c"))
}

func TestCounterAccumulates(t *testing.T) {
	b := NewBus(4)
	labels := map[string]string{"outcome": "ok"}
	b.AddCounter("sent", labels, 1)
	b.AddCounter("sent", labels, 2)
	b.AddCounter("sent", map[string]string{"outcome": "dropped"}, 5)

	m := b.Metric("sent", labels)
	require.NotNil(t, m)
	assert.Equal(t, KindCounter, m.Kind)
	assert.Equal(t, float64(3), m.Value)

	other := b.Metric("sent", map[string]string{"outcome": "dropped"})
	require.NotNil(t, other)
	assert.Equal(t, float64(5), other.Value)
}

func TestGaugeOverwrites(t *testing.T) {
	b := NewBus(4)
	b.SetGauge("depth", nil, 10)
	b.SetGauge("depth", nil, 3)
	m := b.Metric("depth", nil)
	require.NotNil(t, m)
	assert.Equal(t, KindGauge, m.Kind)
	assert.Equal(t, float64(3), m.Value)
}

func TestSeriesKeyIgnoresLabelInsertionOrder(t *testing.T) {
	b := NewBus(4)
	b.AddCounter("x", map[string]string{"a": "1", "b": "2"}, 1)
	b.AddCounter("x", map[string]string{"b": "2", "a": "1"}, 1)
	m := b.Metric("x", map[string]string{"b": "2", "a": "1"})
	require.NotNil(t, m)
	assert.Equal(t, float64(2), m.Value)
}

func TestSeriesCopiesCallerLabels(t *testing.T) {
	b := NewBus(4)
	labels := map[string]string{"k": "v"}
	b.AddCounter("x", labels, 1)
	labels["k"] = "mutated"
	m := b.Metric("x", map[string]string{"k": "v"})
	require.NotNil(t, m)
	assert.Equal(t, "v", m.Labels["k"])
}

func TestObserveTracksStatsAndBuckets(t *testing.T) {
	b := NewBus(4)
	b.Observe("lat", nil, 500)        // <= 1e3, bucket 0
	b.Observe("lat", nil, 5_000)      // <= 1e4, bucket 1
	b.Observe("lat", nil, 2e10)       // above all bounds, overflow bucket

	m := b.Metric("lat", nil)
	require.NotNil(t, m)
	assert.Equal(t, KindHistogram, m.Kind)
	assert.Equal(t, uint64(3), m.Count)
	assert.Equal(t, float64(500+5_000)+2e10, m.Sum)
	assert.Equal(t, float64(500), m.Min)
	assert.Equal(t, 2e10, m.Max)

	require.Len(t, m.Buckets, len(HistogramBounds)+1)
	assert.Equal(t, uint64(1), m.Buckets[0])
	assert.Equal(t, uint64(1), m.Buckets[1])
	assert.Equal(t, uint64(1), m.Buckets[len(HistogramBounds)])
}

func TestObserveBoundaryLandsInLowerBucket(t *testing.T) {
	b := NewBus(4)
	b.Observe("lat", nil, 1e3)
	m := b.Metric("lat", nil)
	assert.Equal(t, uint64(1), m.Buckets[0])
}

func TestMetricsSortedByKey(t *testing.T) {
	b := NewBus(4)
	b.AddCounter("zeta", nil, 1)
	b.AddCounter("alpha", nil, 1)
	b.AddCounter("alpha", map[string]string{"n": "1"}, 1)

	ms := b.Metrics()
	require.Len(t, ms, 3)
	assert.Equal(t, "alpha", ms[0].Name)
	assert.Empty(t, ms[0].Labels)
	assert.Equal(t, "alpha", ms[1].Name)
	assert.Equal(t, "1", ms[1].Labels["n"])
	assert.Equal(t, "zeta", ms[2].Name)
}

func TestMetricUnknownSeriesIsNil(t *testing.T) {
	b := NewBus(4)
	assert.Nil(t, b.Metric("nope", nil))
}

func TestSnapshotChanDropOldest(t *testing.T) {
	c := NewSnapshotChan(2)
	c.Offer(Snapshot{TimeNanos: 1})
	c.Offer(Snapshot{TimeNanos: 2})
	c.Offer(Snapshot{TimeNanos: 3})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Dropped())

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.TimeNanos)

	drained := c.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, uint64(2), drained[0].TimeNanos)
	assert.Equal(t, uint64(3), drained[1].TimeNanos)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Latest()
	assert.False(t, ok)
}

func TestSnapshotChanZeroCapFallsBackToOne(t *testing.T) {
	c := NewSnapshotChan(0)
	c.Offer(Snapshot{TimeNanos: 1})
	c.Offer(Snapshot{TimeNanos: 2})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), c.Dropped())
	latest, _ := c.Latest()
	assert.Equal(t, uint64(2), latest.TimeNanos)
}
