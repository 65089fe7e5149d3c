package sim

import (
	"fmt"
	"math"
	"math/bits"

	"gopkg.in/yaml.v3"
)

// SimTime is an unsigned 128-bit count of nanoseconds since simulation
// epoch 0. It has no relationship to wall-clock time. Arithmetic saturates
// instead of wrapping, and comparison is total.
type SimTime struct {
	hi, lo uint64
}

// SimEpoch is the start of simulation time.
var SimEpoch = SimTime{}

// MaxSimTime is the largest representable simulation time.
var MaxSimTime = SimTime{hi: math.MaxUint64, lo: math.MaxUint64}

// TimeFromNanos converts a nanosecond count to a SimTime.
func TimeFromNanos(ns uint64) SimTime {
	return SimTime{lo: ns}
}

// TimeFromMicros converts a microsecond count to a SimTime.
func TimeFromMicros(us uint64) SimTime {
	return TimeFromNanos(us).MulSat(1_000)
}

// TimeFromMillis converts a millisecond count to a SimTime.
func TimeFromMillis(ms uint64) SimTime {
	return TimeFromNanos(ms).MulSat(1_000_000)
}

// TimeFromSeconds converts a second count to a SimTime.
func TimeFromSeconds(s uint64) SimTime {
	return TimeFromNanos(s).MulSat(1_000_000_000)
}

// Add returns t + d, saturating at MaxSimTime.
func (t SimTime) Add(d SimTime) SimTime {
	lo, carry := bits.Add64(t.lo, d.lo, 0)
	hi, carry := bits.Add64(t.hi, d.hi, carry)
	if carry != 0 {
		return MaxSimTime
	}
	return SimTime{hi: hi, lo: lo}
}

// AddNanos returns t + ns, saturating at MaxSimTime.
func (t SimTime) AddNanos(ns uint64) SimTime {
	return t.Add(TimeFromNanos(ns))
}

// Sub returns t - d, saturating at the epoch.
func (t SimTime) Sub(d SimTime) SimTime {
	lo, borrow := bits.Sub64(t.lo, d.lo, 0)
	hi, borrow := bits.Sub64(t.hi, d.hi, borrow)
	if borrow != 0 {
		return SimEpoch
	}
	return SimTime{hi: hi, lo: lo}
}

// MulSat returns t * k, saturating at MaxSimTime.
func (t SimTime) MulSat(k uint64) SimTime {
	hiCarry, lo := bits.Mul64(t.lo, k)
	hi2, hi := bits.Mul64(t.hi, k)
	hi, carry := bits.Add64(hi, hiCarry, 0)
	if hi2 != 0 || carry != 0 {
		return MaxSimTime
	}
	return SimTime{hi: hi, lo: lo}
}

// Compare returns -1, 0, or +1 as t is before, equal to, or after u.
func (t SimTime) Compare(u SimTime) int {
	switch {
	case t.hi != u.hi:
		if t.hi < u.hi {
			return -1
		}
		return 1
	case t.lo != u.lo:
		if t.lo < u.lo {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether t is strictly earlier than u.
func (t SimTime) Before(u SimTime) bool { return t.Compare(u) < 0 }

// After reports whether t is strictly later than u.
func (t SimTime) After(u SimTime) bool { return t.Compare(u) > 0 }

// IsZero reports whether t is the simulation epoch.
func (t SimTime) IsZero() bool { return t.hi == 0 && t.lo == 0 }

// Nanos returns the nanosecond count, saturating at math.MaxUint64 when the
// high word is in use. Practical horizons fit comfortably in 64 bits; the
// 128-bit representation exists so saturating arithmetic never wraps.
func (t SimTime) Nanos() uint64 {
	if t.hi != 0 {
		return math.MaxUint64
	}
	return t.lo
}

// String renders the time as nanoseconds since epoch.
func (t SimTime) String() string {
	if t.hi == 0 {
		return fmt.Sprintf("%dns", t.lo)
	}
	// Full 128-bit decimal rendering via repeated division by 1e19.
	hi, lo := t.hi, t.lo
	var out string
	for hi != 0 {
		var rem uint64
		hi, lo, rem = div128by(hi, lo, 10_000_000_000_000_000_000)
		out = fmt.Sprintf("%019d%s", rem, out)
	}
	return fmt.Sprintf("%d%sns", lo, out)
}

func div128by(hi, lo, d uint64) (qhi, qlo, rem uint64) {
	qhi = hi / d
	r := hi % d
	qlo, rem = bits.Div64(r, lo, d)
	return qhi, qlo, rem
}

// UnmarshalYAML decodes a SimTime from an integer nanosecond count.
func (t *SimTime) UnmarshalYAML(value *yaml.Node) error {
	var ns uint64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("sim time must be integer nanoseconds: %w", err)
	}
	*t = TimeFromNanos(ns)
	return nil
}

// MarshalYAML encodes a SimTime as its nanosecond count.
func (t SimTime) MarshalYAML() (interface{}, error) {
	if t.hi != 0 {
		return nil, fmt.Errorf("sim time %s exceeds 64-bit YAML range", t)
	}
	return t.lo, nil
}
