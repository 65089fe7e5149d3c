// Package telemetry is the deterministic observation substrate: an
// append-only record log, a metric store, and a bounded snapshot channel.
// Nothing here consumes simulation randomness or reads the wall clock, so
// observing a run never changes it.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// Record is one entry of the structured event log. TimeNanos is
// simulation time; Seq is the log's own monotonic sequence.
type Record struct {
	Seq       uint64
	TimeNanos uint64
	Kind      string
	Node      string
	Trace     uint64
	Msg       string
	Fields    map[string]string
}

// MetricKind distinguishes the three metric families.
type MetricKind uint8

const (
	KindCounter MetricKind = iota
	KindGauge
	KindHistogram
)

// Metric is the state of one (name, labels) series.
type Metric struct {
	Name   string
	Labels map[string]string
	Kind   MetricKind

	Value float64 // counter sum or gauge level
	// Histogram state.
	Count   uint64
	Sum     float64
	Min     float64
	Max     float64
	Buckets []uint64
}

// HistogramBounds are the fixed upper bounds, in the recorded unit, for
// histogram buckets. The final implicit bucket is unbounded.
var HistogramBounds = []float64{
	1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10,
}

// Bus collects records and metrics for one run.
type Bus struct {
	records []Record
	nextSeq uint64
	metrics map[string]*Metric

	snapshots *SnapshotChan
}

// NewBus returns an empty bus whose snapshot channel holds at most cap
// entries.
func NewBus(snapshotCap int) *Bus {
	return &Bus{
		metrics:   make(map[string]*Metric),
		snapshots: NewSnapshotChan(snapshotCap),
	}
}

// Log appends a record, assigning its sequence number.
func (b *Bus) Log(r Record) {
	b.nextSeq++
	r.Seq = b.nextSeq
	b.records = append(b.records, r)
}

// Records returns the full log in append order.
func (b *Bus) Records() []Record { return b.records }

// RecordsOfKind filters the log by kind.
func (b *Bus) RecordsOfKind(kind string) []Record {
	var out []Record
	for _, r := range b.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%s", k, labels[k])
	}
	return sb.String()
}

func (b *Bus) series(name string, labels map[string]string, kind MetricKind) *Metric {
	key := seriesKey(name, labels)
	m, ok := b.metrics[key]
	if !ok {
		cp := make(map[string]string, len(labels))
		for k, v := range labels {
			cp[k] = v
		}
		m = &Metric{Name: name, Labels: cp, Kind: kind}
		if kind == KindHistogram {
			m.Buckets = make([]uint64, len(HistogramBounds)+1)
		}
		b.metrics[key] = m
	}
	return m
}

// AddCounter adds delta to a counter series.
func (b *Bus) AddCounter(name string, labels map[string]string, delta float64) {
	b.series(name, labels, KindCounter).Value += delta
}

// SetGauge sets a gauge series to value.
func (b *Bus) SetGauge(name string, labels map[string]string, value float64) {
	b.series(name, labels, KindGauge).Value = value
}

// Observe records one histogram observation.
func (b *Bus) Observe(name string, labels map[string]string, value float64) {
	m := b.series(name, labels, KindHistogram)
	if m.Count == 0 || value < m.Min {
		m.Min = value
	}
	if m.Count == 0 || value > m.Max {
		m.Max = value
	}
	m.Count++
	m.Sum += value
	idx := len(HistogramBounds)
	for i, bound := range HistogramBounds {
		if value <= bound {
			idx = i
			break
		}
	}
	m.Buckets[idx]++
}

// Metric returns the series, or nil if it was never touched.
func (b *Bus) Metric(name string, labels map[string]string) *Metric {
	return b.metrics[seriesKey(name, labels)]
}

// Metrics returns every series sorted by key, for stable printing.
func (b *Bus) Metrics() []*Metric {
	keys := make([]string, 0, len(b.metrics))
	for k := range b.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Metric, len(keys))
	for i, k := range keys {
		out[i] = b.metrics[k]
	}
	return out
}

// Snapshots returns the bounded snapshot channel.
func (b *Bus) Snapshots() *SnapshotChan { return b.snapshots }
