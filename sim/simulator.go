package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/protosim/protosim/sim/telemetry"
)

// StopReason says why a run ended.
type StopReason string

const (
	StopHorizon   StopReason = "horizon"
	StopHalted    StopReason = "halted"
	StopQuiescent StopReason = "quiescent"
	StopExternal  StopReason = "external"
)

// ExitCode maps a stop reason to the process exit code contract.
func (r StopReason) ExitCode() int {
	switch r {
	case StopHorizon:
		return 0
	case StopHalted:
		return 1
	case StopExternal:
		return 2
	case StopQuiescent:
		return 3
	default:
		return 70
	}
}

// ExitScenarioInvalid is the exit code for scenario validation failures.
const ExitScenarioInvalid = 64

// ExitInvariantViolation is the exit code when the engine detects its own
// state is inconsistent.
const ExitInvariantViolation = 70

// ControlMsg is an externally injected command. The loop drains the
// control channel between events, so commands take effect at event
// granularity and never interrupt a handler.
type ControlMsg struct {
	// Stop ends the run with the external stop reason.
	Stop bool
	// Action, when non-nil, is injected as if it had been a scenario
	// directive scheduled at the current instant.
	Action *Action
	Reason string
}

// Options configure engine construction beyond the scenario itself.
type Options struct {
	Logger *logrus.Logger
	// SnapshotChanCap bounds the telemetry snapshot buffer.
	SnapshotChanCap int
	// Control, when non-nil, is drained between events.
	Control <-chan ControlMsg
}

// Simulation is one run: the clock, the queue, the world, the network, and
// the randomness, all owned by a single goroutine. Two Simulations built
// from the same scenario and seed produce identical event sequences.
type Simulation struct {
	now   SimTime
	ids   *idGen
	queue *eventQueue
	rng   *PartitionedRNG

	world *World
	net   *Network

	tele *telemetry.Bus
	log  *logrus.Logger

	scenario     *Scenario
	protoFactory ProtocolFactory

	control <-chan ControlMsg

	eventsRun uint64
	// pendingWork counts queued events other than snapshot ticks; lastWork
	// is the instant the most recent such event executed. Together they
	// drive quiescence detection: a queue holding nothing but
	// self-rescheduling ticks is never literally empty.
	pendingWork int
	lastWork    SimTime

	stopped    bool
	stopReason StopReason
	haltMsg    string
}

// NewSimulation builds a simulation from a validated scenario. factory
// constructs the protocol instance for each node; the registry in
// sim/protocols resolves scenario protocol names to factories.
func NewSimulation(sc *Scenario, factory ProtocolFactory, opts Options) (*Simulation, error) {
	if sc == nil {
		return nil, fmt.Errorf("nil scenario")
	}
	if factory == nil {
		return nil, fmt.Errorf("nil protocol factory")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	snapCap := opts.SnapshotChanCap
	if snapCap == 0 {
		snapCap = 64
	}

	ids := &idGen{}
	s := &Simulation{
		ids:          ids,
		queue:        newEventQueue(),
		rng:          NewPartitionedRNG(sc.Seed),
		world:        newWorld(),
		net:          NewNetwork(),
		tele:         telemetry.NewBus(snapCap),
		log:          log,
		scenario:     sc,
		protoFactory: factory,
		control:      opts.Control,
	}

	s.buildTopology(sc)

	// Node starts seed first so protocols observe a fully built world
	// before any directive fires.
	for _, id := range s.world.NodeIDs() {
		s.schedule(&LifecycleEvent{
			baseEvent: baseEvent{at: SimEpoch, seq: s.ids.eventSeq()},
			Node:      id, Kind: LifecycleStart,
		})
	}
	s.seedScenario(sc)
	if !sc.SnapshotPeriod.IsZero() {
		s.schedule(&SnapshotTickEvent{
			baseEvent: baseEvent{at: sc.SnapshotPeriod, seq: s.ids.eventSeq()},
			Period:    sc.SnapshotPeriod,
		})
	}
	return s, nil
}

// buildTopology creates the node runtimes and the full mesh of directed
// links, applying per-link overrides on top of the defaults.
func (s *Simulation) buildTopology(sc *Scenario) {
	for n := uint32(0); n < sc.Nodes; n++ {
		id := NodeID(n)
		runtime := &NodeRuntime{
			ID:       id,
			state:    NodeStarting,
			timers:   newTimerTable(),
			inboxCap: sc.InboxCap,
		}
		runtime.store = NewFaultyStore(
			NewMemStore(),
			StoreFaultProfile{},
			s.rng.Stream(StreamStoreFault),
			s.rng.Stream(StreamStoreCorrupt),
			s.rng.Stream(StreamStoreLatency),
			s.storeObserverFor(id),
		)
		s.world.addNode(runtime)
	}

	override := make(map[nodePair]LinkProps, len(sc.LinkOverrides))
	for _, o := range sc.LinkOverrides {
		override[nodePair{o.Src, o.Dst}] = o.Props
	}
	var nextLink LinkID
	for a := uint32(0); a < sc.Nodes; a++ {
		for b := uint32(0); b < sc.Nodes; b++ {
			if a == b {
				continue
			}
			pair := nodePair{NodeID(a), NodeID(b)}
			props := sc.DefaultLink
			if p, ok := override[pair]; ok {
				props = p
			}
			nextLink++
			s.net.AddLink(nextLink, pair.src, pair.dst, props)
		}
	}
}

func (s *Simulation) storeObserverFor(id NodeID) storeObserver {
	labels := map[string]string{"node": id.String()}
	return func(op string, latencyNanos uint64, err error) {
		opLabels := map[string]string{"node": labels["node"], "op": op}
		s.tele.Observe("store_op_latency_ns", opLabels, float64(latencyNanos))
		if err != nil {
			s.tele.AddCounter("store_op_errors", opLabels, 1)
		}
	}
}

// schedule inserts an event, asserting it is not in the past.
func (s *Simulation) schedule(e Event) {
	if e.Time().Before(s.now) {
		panic(fmt.Sprintf("scheduling into the past: event at %s, clock at %s", e.Time(), s.now))
	}
	if !isTick(e) {
		s.pendingWork++
	}
	s.queue.Push(e)
}

func isTick(e Event) bool {
	_, ok := e.(*SnapshotTickEvent)
	return ok
}

// Run executes events until a stop condition holds and returns the reason.
func (s *Simulation) Run() StopReason {
	for {
		if s.drainControl() {
			return s.finish(StopExternal)
		}
		if s.stopped {
			return s.finish(s.stopReason)
		}
		next := s.queue.Peek()
		if next == nil {
			return s.finish(StopQuiescent)
		}
		// Only periodic ticks left: the queue never empties on its own, so
		// quiescence is the silence window elapsing with no real work
		// pending.
		if s.pendingWork == 0 && next.Time().After(s.lastWork.Add(s.scenario.Quiescence)) {
			return s.finish(StopQuiescent)
		}
		if next.Time().After(s.scenario.Horizon) {
			s.now = s.scenario.Horizon
			return s.finish(StopHorizon)
		}
		e := s.queue.Pop()
		if e.Time().Before(s.now) {
			panic(fmt.Sprintf("clock went backwards: %s < %s", e.Time(), s.now))
		}
		s.now = e.Time()
		s.eventsRun++
		if !isTick(e) {
			s.pendingWork--
			s.lastWork = s.now
		}
		e.Execute(s)
	}
}

func (s *Simulation) drainControl() (stop bool) {
	if s.control == nil {
		return false
	}
	for {
		select {
		case msg, ok := <-s.control:
			if !ok {
				s.control = nil
				return false
			}
			if msg.Stop {
				s.haltMsg = msg.Reason
				return true
			}
			if msg.Action != nil {
				s.applyControlAction(*msg.Action)
			}
		default:
			return false
		}
	}
}

// applyControlAction injects one directive at the current instant.
func (s *Simulation) applyControlAction(a Action) {
	s.seedScenario(&Scenario{Actions: []TimedAction{{At: s.now, Action: a}}})
}

func (s *Simulation) finish(reason StopReason) StopReason {
	s.stopReason = reason
	s.takeSnapshot()
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      "run-end",
		Msg:       string(reason),
		Fields:    map[string]string{"events": fmt.Sprintf("%d", s.eventsRun)},
	})
	s.log.WithFields(logrus.Fields{
		"reason": reason,
		"events": s.eventsRun,
		"time":   s.now.String(),
	}).Info("run finished")
	return reason
}

// halt is invoked by a HaltEvent.
func (s *Simulation) halt(reason string) {
	s.stopped = true
	s.stopReason = StopHalted
	s.haltMsg = reason
}

// Now returns the master clock.
func (s *Simulation) Now() SimTime { return s.now }

// EventsRun returns the number of executed events.
func (s *Simulation) EventsRun() uint64 { return s.eventsRun }

// StopDetail returns the free-form halt or stop message, if any.
func (s *Simulation) StopDetail() string { return s.haltMsg }

// Telemetry exposes the run's bus.
func (s *Simulation) Telemetry() *telemetry.Bus { return s.tele }

// World exposes the node table for inspection after a run.
func (s *Simulation) World() *World { return s.world }

// Network exposes the link graph for inspection after a run.
func (s *Simulation) Network() *Network { return s.net }

// newCtx builds a fresh handler context for node.
func (s *Simulation) newCtx(n *NodeRuntime) *ProtoCtx {
	return &ProtoCtx{sim: s, node: n}
}

// Telemetry record helpers. These keep record shapes consistent across
// the call sites in the network, world, and fault layers.

func (s *Simulation) recordNet(env *Envelope, outcome sendOutcome) {
	var kind string
	switch outcome {
	case outcomeScheduled:
		kind = "net-scheduled"
	case outcomePartitioned:
		kind = "net-partitioned"
	case outcomeDropped:
		kind = "net-dropped"
	case outcomeNoRoute:
		kind = "net-no-route"
	case outcomeOversize:
		kind = "net-oversize"
	}
	s.tele.AddCounter("net_outcomes", map[string]string{"outcome": kind}, 1)
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      kind,
		Node:      env.Src.String(),
		Trace:     uint64(env.Trace),
		Msg:       fmt.Sprintf("msg %d to node %d", env.Msg, env.Dst),
	})
}

func (s *Simulation) recordDrop(env *Envelope, why string) {
	s.tele.AddCounter("deliveries_dropped", map[string]string{"why": why}, 1)
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      "delivery-dropped",
		Node:      env.Dst.String(),
		Trace:     uint64(env.Trace),
		Msg:       why,
	})
}

func (s *Simulation) recordLifecycle(id NodeID, kind LifecycleKind) {
	s.tele.AddCounter("lifecycle_transitions", map[string]string{"kind": kind.String()}, 1)
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      "lifecycle",
		Node:      id.String(),
		Msg:       kind.String(),
	})
}

func (s *Simulation) recordFault(kind string, fields map[string]string) {
	s.tele.AddCounter("faults_applied", map[string]string{"kind": kind}, 1)
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      "fault",
		Msg:       kind,
		Fields:    fields,
	})
}

func (s *Simulation) recordProtoLog(id NodeID, trace TraceID, msg string, fields map[string]string) {
	s.tele.Log(telemetry.Record{
		TimeNanos: s.now.Nanos(),
		Kind:      "proto",
		Node:      id.String(),
		Trace:     uint64(trace),
		Msg:       msg,
		Fields:    fields,
	})
}
