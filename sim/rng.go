package sim

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"
	"math/rand/v2"
)

// Stream name tags. Every consumer of randomness draws from its own named
// sub-stream so that adding or removing one consumer never perturbs the
// draws seen by another.
const (
	StreamNetDrop      = "net-drop"
	StreamNetDup       = "net-dup"
	StreamNetDelay     = "net-delay"
	StreamNetCorrupt   = "net-corrupt"
	StreamNetReorder   = "net-reorder"
	StreamStoreLatency = "store-latency"
	StreamStoreFault   = "store-fault"
	StreamStoreCorrupt = "store-corrupt"
	StreamTimerJitter  = "timer-jitter"
	StreamProtoPrefix  = "proto-node-"
)

// Probability is a fixed-point probability: the chance of success is
// p / 2^64. ProbNever (0) never fires; ProbAlways never loses a trial.
// Using the full 64-bit range keeps the hot path free of floating point.
type Probability uint64

const (
	ProbNever  Probability = 0
	ProbAlways Probability = ^Probability(0)
)

// ProbFromFloat converts a [0,1] float to a Probability at configuration
// time. Conversion happens once at scenario load; simulation-time trials
// stay in integer arithmetic.
func ProbFromFloat(f float64) (Probability, error) {
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("probability %v out of range [0,1]", f)
	}
	if f >= 1 {
		return ProbAlways, nil
	}
	return Probability(f * (1 << 63) * 2), nil
}

// PartitionedRNG owns all randomness for one simulation. A single 64-bit
// master seed is expanded into a 256-bit key; each named sub-stream gets an
// independent ChaCha8 generator keyed by hashing the master key together
// with the stream tag. Streams are created lazily and cached, so the same
// tag always returns the same generator instance.
type PartitionedRNG struct {
	masterKey [32]byte
	streams   map[string]*Stream
}

// NewPartitionedRNG expands seed into the master key and returns an RNG
// with no streams instantiated yet.
func NewPartitionedRNG(seed uint64) *PartitionedRNG {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return &PartitionedRNG{
		masterKey: sha256.Sum256(buf[:]),
		streams:   make(map[string]*Stream),
	}
}

// Stream returns the sub-stream for tag, creating it on first use. The
// stream key is SHA-256(masterKey || tag), so distinct tags yield
// statistically independent sequences from the same master seed.
func (r *PartitionedRNG) Stream(tag string) *Stream {
	if s, ok := r.streams[tag]; ok {
		return s
	}
	h := sha256.New()
	h.Write(r.masterKey[:])
	h.Write([]byte(tag))
	var key [32]byte
	h.Sum(key[:0])
	s := &Stream{tag: tag, src: rand.NewChaCha8(key)}
	r.streams[tag] = s
	return s
}

// NodeStream returns the per-node protocol stream for id.
func (r *PartitionedRNG) NodeStream(id NodeID) *Stream {
	return r.Stream(fmt.Sprintf("%s%d", StreamProtoPrefix, id))
}

// Stream is a single named ChaCha8 sub-stream.
type Stream struct {
	tag string
	src *rand.ChaCha8
}

// Uint64 returns the next 64 uniformly random bits.
func (s *Stream) Uint64() uint64 { return s.src.Uint64() }

// Trial draws one value and reports whether it fell under p. Exactly one
// value is consumed per call regardless of outcome.
func (s *Stream) Trial(p Probability) bool {
	v := s.src.Uint64()
	return p == ProbAlways || v < uint64(p)
}

// IntN returns a uniform integer in [0, n). It uses the widening-multiply
// rejection method so no modulo bias is introduced.
func (s *Stream) IntN(n uint64) uint64 {
	if n == 0 {
		panic("IntN: n must be positive")
	}
	// Lemire's method: hi part of a 64x64 multiply, with rejection of the
	// short tail.
	for {
		v := s.src.Uint64()
		hi, lo := bits.Mul64(v, n)
		if lo >= -n%n {
			return hi
		}
	}
}

// DelaySpec describes a latency distribution in integer nanoseconds.
// Kind "const" ignores Max; "uniform" draws from [Min, Max] inclusive.
type DelaySpec struct {
	Kind string `yaml:"kind"`
	Min  uint64 `yaml:"min_ns"`
	Max  uint64 `yaml:"max_ns"`
}

// Validate reports whether the spec is well-formed.
func (d DelaySpec) Validate() error {
	switch d.Kind {
	case "", "const":
		return nil
	case "uniform":
		if d.Max < d.Min {
			return fmt.Errorf("uniform delay: max_ns %d < min_ns %d", d.Max, d.Min)
		}
		return nil
	default:
		return fmt.Errorf("unknown delay kind %q", d.Kind)
	}
}

// IsZero reports whether the spec describes a zero delay.
func (d DelaySpec) IsZero() bool {
	return (d.Kind == "" || d.Kind == "const") && d.Min == 0
}

// Sample draws one delay from the distribution using s. A "const" spec
// consumes no randomness.
func (d DelaySpec) Sample(s *Stream) uint64 {
	switch d.Kind {
	case "", "const":
		return d.Min
	case "uniform":
		span := d.Max - d.Min
		if span == 0 {
			return d.Min
		}
		return d.Min + s.IntN(span+1)
	default:
		panic(fmt.Sprintf("unvalidated delay kind %q", d.Kind))
	}
}
