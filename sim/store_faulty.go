package sim

import (
	"fmt"
)

// StoreFaultProfile configures the fault behavior layered in front of a
// node's store. All probabilities default to never.
type StoreFaultProfile struct {
	Latency DelaySpec `yaml:"latency"`
	// WriteError, ReadError, SyncError fail the operation with a typed
	// error; the store image is untouched.
	WriteError Probability `yaml:"-"`
	ReadError  Probability `yaml:"-"`
	SyncError  Probability `yaml:"-"`
	// ReadCorrupt flips one bit in the value returned by Get. The durable
	// image is untouched; only the read is dirty.
	ReadCorrupt Probability `yaml:"-"`
	// TornWrite selects, at crash time, one staged write to survive as a
	// truncated prefix instead of vanishing with the rest.
	TornWrite Probability `yaml:"-"`
	// SyncLoss makes a Sync report success without making the staged
	// writes durable. The loss only becomes visible if the node crashes
	// before a later honest Sync.
	SyncLoss Probability `yaml:"-"`
}

// storeObserver receives one record per store operation, carrying the
// sampled latency and the outcome. The simulation forwards these to
// telemetry.
type storeObserver func(op string, latencyNanos uint64, err error)

// FaultyStore wraps a MemStore and injects the configured faults. Every
// operation consumes its fault trials and its latency draw in a fixed
// order, so the stream positions depend only on the operation sequence.
type FaultyStore struct {
	inner   *MemStore
	profile StoreFaultProfile
	faults  *Stream
	corrupt *Stream
	latency *Stream
	observe storeObserver

	// phantom tracks Syncs that lied. rollback holds the durable image as
	// of the last honest Sync; it is replayed over inner on crash.
	phantom  bool
	rollback *memImage

	// tornKey is the most recently staged write, the candidate for
	// tearing if the node crashes before the next Sync.
	tornKey string
}

type memImage struct {
	kv     map[string][]byte
	logLen uint64
}

// NewFaultyStore builds the decorator. The three streams come from the
// simulation's partitioned RNG under the store-fault, store-corrupt, and
// store-latency tags.
func NewFaultyStore(inner *MemStore, profile StoreFaultProfile, faults, corrupt, latency *Stream, observe storeObserver) *FaultyStore {
	return &FaultyStore{
		inner:   inner,
		profile: profile,
		faults:  faults,
		corrupt: corrupt,
		latency: latency,
		observe: observe,
	}
}

// SetProfile replaces the fault profile. Directives use this to arm and
// disarm faults mid-run.
func (f *FaultyStore) SetProfile(p StoreFaultProfile) { f.profile = p }

// Profile returns the active profile.
func (f *FaultyStore) Profile() StoreFaultProfile { return f.profile }

func (f *FaultyStore) drawLatency() uint64 {
	return f.profile.Latency.Sample(f.latency)
}

func (f *FaultyStore) report(op string, lat uint64, err error) error {
	if f.observe != nil {
		f.observe(op, lat, err)
	}
	return err
}

// Get reads a value, possibly failing or returning corrupted bytes.
func (f *FaultyStore) Get(key string) ([]byte, error) {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.ReadError) {
		return nil, f.report("get", lat, fmt.Errorf("get %q: %w", key, ErrStoreRead))
	}
	v, err := f.inner.Get(key)
	if err != nil {
		return nil, f.report("get", lat, err)
	}
	if f.corrupt.Trial(f.profile.ReadCorrupt) {
		flipPayloadBit(f.corrupt, v)
	}
	return v, f.report("get", lat, nil)
}

// Put stages a write, possibly failing.
func (f *FaultyStore) Put(key string, value []byte) error {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.WriteError) {
		return f.report("put", lat, fmt.Errorf("put %q: %w", key, ErrStoreWrite))
	}
	f.tornKey = key
	return f.report("put", lat, f.inner.Put(key, value))
}

// Delete stages a removal, possibly failing.
func (f *FaultyStore) Delete(key string) error {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.WriteError) {
		return f.report("delete", lat, fmt.Errorf("delete %q: %w", key, ErrStoreWrite))
	}
	return f.report("delete", lat, f.inner.Delete(key))
}

// Sync flushes staged writes, possibly failing or silently lying.
func (f *FaultyStore) Sync() error {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.SyncError) {
		return f.report("sync", lat, fmt.Errorf("sync: %w", ErrStoreSync))
	}
	if f.faults.Trial(f.profile.SyncLoss) {
		// Capture the honest image once, then let the sync proceed so
		// reads stay coherent. The capture is only consumed on crash.
		if !f.phantom {
			f.rollback = f.captureImage()
			f.phantom = true
		}
		f.tornKey = ""
		return f.report("sync", lat, f.inner.Sync())
	}
	f.phantom = false
	f.rollback = nil
	f.tornKey = ""
	return f.report("sync", lat, f.inner.Sync())
}

// Iter delegates to the inner store; iteration does not consume fault
// trials so that read-only scans never perturb fault positions.
func (f *FaultyStore) Iter(prefix string, fn func(key string, value []byte) bool) error {
	return f.inner.Iter(prefix, fn)
}

// AppendLog appends to the durable log, possibly failing.
func (f *FaultyStore) AppendLog(term uint64, data []byte) (uint64, error) {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.WriteError) {
		return 0, f.report("append-log", lat, fmt.Errorf("append log: %w", ErrStoreWrite))
	}
	idx, err := f.inner.AppendLog(term, data)
	return idx, f.report("append-log", lat, err)
}

// ReadLog reads a log entry, possibly failing.
func (f *FaultyStore) ReadLog(index uint64) (LogEntry, error) {
	lat := f.drawLatency()
	if f.faults.Trial(f.profile.ReadError) {
		return LogEntry{}, f.report("read-log", lat, fmt.Errorf("read log %d: %w", index, ErrStoreRead))
	}
	e, err := f.inner.ReadLog(index)
	return e, f.report("read-log", lat, err)
}

// LogLen returns the appended entry count.
func (f *FaultyStore) LogLen() uint64 { return f.inner.LogLen() }

// Crash applies the crash-durability rules: an armed torn write leaves a
// truncated prefix behind, the rest of the staged writes vanish, and a
// phantom sync is rolled back to the last honest image.
func (f *FaultyStore) Crash() {
	if f.tornKey != "" && f.faults.Trial(f.profile.TornWrite) {
		if w, ok := f.inner.staged[f.tornKey]; ok && !w.deleted && len(w.value) > 0 {
			offset := f.faults.IntN(uint64(len(w.value)))
			f.inner.tearStaged(f.tornKey, offset)
		}
	}
	f.inner.dropUnsynced()
	if f.phantom && f.rollback != nil {
		f.inner.durable = f.rollback.kv
		f.inner.log = f.inner.log[:min(uint64(len(f.inner.log)), f.rollback.logLen)]
		f.inner.logSynced = f.rollback.logLen
	}
	f.phantom = false
	f.rollback = nil
	f.tornKey = ""
}

func (f *FaultyStore) captureImage() *memImage {
	img := &memImage{kv: make(map[string][]byte, len(f.inner.durable)), logLen: f.inner.logSynced}
	for k, v := range f.inner.durable {
		img.kv[k] = append([]byte(nil), v...)
	}
	return img
}

var _ Store = (*FaultyStore)(nil)
var _ Store = (*MemStore)(nil)
