// Package sim provides the core deterministic discrete-event simulation
// engine for distributed protocols.
//
// # Where to start
//
// The kernel is three files:
//   - event.go: the Event variants that drive a run (Delivery, TimerFire, Lifecycle, ...)
//   - event_queue.go: stable-ordered min-priority queue with tombstone cancellation
//   - simulator.go: the run loop, clock advancement, and stop conditions
//
// # Layout
//
// The sim package owns the engine; implementations of cross-cutting concerns
// live in sub-packages:
//   - sim/telemetry/: structured event log, metric substrate, and snapshots
//   - sim/protocols/: the protocol registry and built-in protocols
//
// A Simulation exclusively owns a World and the event queue. The World owns
// one NodeRuntime per node plus the Network; each NodeRuntime owns its
// Store, timer table, and Protocol instance. All cross-component references
// are by ID.
//
// # Determinism
//
// For a fixed (seed, scenario) every run produces bit-identical event
// sequences. The engine is single-threaded; all randomness flows through a
// PartitionedRNG whose sub-streams are derived by domain tag, and
// probabilities are fixed-point fractions of 2^64 so no floating point is
// consulted on the hot path.
package sim
