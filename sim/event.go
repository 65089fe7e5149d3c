package sim

import (
	"fmt"
)

// Event is a scheduled state transition. Execute runs with exclusive access
// to the simulation; events never run concurrently.
type Event interface {
	// Time is the instant the event fires.
	Time() SimTime
	// Seq is the insertion sequence number, the tie-breaker among events
	// scheduled for the same instant.
	Seq() EventSeq
	// Execute applies the event to the simulation.
	Execute(s *Simulation)
}

// baseEvent carries the scheduling key shared by all concrete events.
type baseEvent struct {
	at  SimTime
	seq EventSeq
}

func (e baseEvent) Time() SimTime { return e.at }
func (e baseEvent) Seq() EventSeq { return e.seq }

// DeliveryEvent hands an envelope to its destination node.
type DeliveryEvent struct {
	baseEvent
	Env *Envelope
}

func (e *DeliveryEvent) Execute(s *Simulation) {
	s.world.deliver(s, e.Env)
}

func (e *DeliveryEvent) String() string {
	return fmt.Sprintf("Delivery(msg=%d %d->%d)", e.Env.Msg, e.Env.Src, e.Env.Dst)
}

// TimerFireEvent fires a timer on a node. The fire is a no-op if the timer
// was cancelled, superseded by a crash, or belongs to an earlier protocol
// incarnation.
type TimerFireEvent struct {
	baseEvent
	Node  NodeID
	Timer TimerID
}

func (e *TimerFireEvent) Execute(s *Simulation) {
	s.world.fireTimer(s, e.Node, e.Timer)
}

func (e *TimerFireEvent) String() string {
	return fmt.Sprintf("TimerFire(node=%d timer=%d)", e.Node, e.Timer)
}

// LifecycleKind enumerates node lifecycle transitions.
type LifecycleKind uint8

const (
	LifecycleStart LifecycleKind = iota
	LifecycleCrash
	LifecycleRestart
	LifecyclePause
	LifecycleResume
)

func (k LifecycleKind) String() string {
	switch k {
	case LifecycleStart:
		return "start"
	case LifecycleCrash:
		return "crash"
	case LifecycleRestart:
		return "restart"
	case LifecyclePause:
		return "pause"
	case LifecycleResume:
		return "resume"
	default:
		return fmt.Sprintf("lifecycle(%d)", uint8(k))
	}
}

// LifecycleEvent transitions a node between runtime states.
type LifecycleEvent struct {
	baseEvent
	Node NodeID
	Kind LifecycleKind
}

func (e *LifecycleEvent) Execute(s *Simulation) {
	s.world.lifecycle(s, e.Node, e.Kind)
}

func (e *LifecycleEvent) String() string {
	return fmt.Sprintf("Lifecycle(node=%d %s)", e.Node, e.Kind)
}

// NetDirectiveEvent applies a network fault directive at its scheduled time.
type NetDirectiveEvent struct {
	baseEvent
	Directive NetDirective
}

func (e *NetDirectiveEvent) Execute(s *Simulation) {
	s.applyNetDirective(e.Directive)
}

func (e *NetDirectiveEvent) String() string {
	return fmt.Sprintf("NetDirective(%s)", e.Directive.Kind)
}

// StoreDirectiveEvent applies a storage fault directive at its scheduled
// time.
type StoreDirectiveEvent struct {
	baseEvent
	Directive StoreDirective
}

func (e *StoreDirectiveEvent) Execute(s *Simulation) {
	s.applyStoreDirective(e.Directive)
}

func (e *StoreDirectiveEvent) String() string {
	return fmt.Sprintf("StoreDirective(node=%d %s)", e.Directive.Node, e.Directive.Kind)
}

// SnapshotTickEvent captures a world snapshot and reschedules itself at the
// configured cadence.
type SnapshotTickEvent struct {
	baseEvent
	Period SimTime
}

func (e *SnapshotTickEvent) Execute(s *Simulation) {
	s.takeSnapshot()
	if !e.Period.IsZero() {
		s.schedule(&SnapshotTickEvent{
			baseEvent: baseEvent{at: s.now.Add(e.Period), seq: s.ids.eventSeq()},
			Period:    e.Period,
		})
	}
}

func (e *SnapshotTickEvent) String() string { return "SnapshotTick" }

// HaltEvent stops the run immediately with the halt termination reason.
type HaltEvent struct {
	baseEvent
	Reason string
}

func (e *HaltEvent) Execute(s *Simulation) {
	s.halt(e.Reason)
}

func (e *HaltEvent) String() string { return fmt.Sprintf("Halt(%s)", e.Reason) }

// RawInjectEvent delivers fault-injected raw bytes to a set of nodes,
// bypassing the network transform.
type RawInjectEvent struct {
	baseEvent
	Targets []NodeID
	Payload []byte
}

func (e *RawInjectEvent) Execute(s *Simulation) {
	s.injectRaw(e.Targets, e.Payload)
}

func (e *RawInjectEvent) String() string {
	return fmt.Sprintf("RawInject(%d nodes, %d bytes)", len(e.Targets), len(e.Payload))
}
