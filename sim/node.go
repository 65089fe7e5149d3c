package sim

import (
	"github.com/sirupsen/logrus"
)

// NodeState is the lifecycle state of a node.
type NodeState uint8

const (
	NodeStarting NodeState = iota
	NodeRunning
	NodePaused
	NodeCrashed
)

func (s NodeState) String() string {
	switch s {
	case NodeStarting:
		return "starting"
	case NodeRunning:
		return "running"
	case NodePaused:
		return "paused"
	case NodeCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// DefaultInboxCap bounds how many envelopes a paused node will buffer
// before the node starts shedding them.
const DefaultInboxCap = 1024

// NodeRuntime hosts one protocol instance together with everything the
// node owns: its store, its timer table, its paused-delivery buffer, and
// its clock skew. All mutation happens on the simulation goroutine.
type NodeRuntime struct {
	ID    NodeID
	state NodeState

	store  *FaultyStore
	timers *timerTable

	proto Protocol
	// incarnation increments on every protocol (re)instantiation. Timer
	// fires and deferred intents from earlier incarnations are void.
	incarnation uint64

	// inbox buffers deliveries that arrive while the node is paused.
	inbox    []*Envelope
	inboxCap int

	// skewNanos offsets the clock the protocol observes. Only ctx.Now()
	// is affected; scheduling stays on the master clock.
	skewNanos int64

	msgsReceived uint64
	msgsDropped  uint64
}

// State returns the current lifecycle state.
func (n *NodeRuntime) State() NodeState { return n.state }

// Store exposes the node's storage surface.
func (n *NodeRuntime) Store() Store { return n.store }

// SkewNanos returns the active clock skew.
func (n *NodeRuntime) SkewNanos() int64 { return n.skewNanos }

// skewedNow applies the node's clock skew to the master clock, flooring at
// the epoch for negative skews near zero.
func (n *NodeRuntime) skewedNow(now SimTime) SimTime {
	if n.skewNanos >= 0 {
		return now.AddNanos(uint64(n.skewNanos))
	}
	return now.Sub(TimeFromNanos(uint64(-n.skewNanos)))
}

// start instantiates the protocol and runs OnStart. recovery is true on
// restart after a crash, letting the protocol replay its durable state.
func (n *NodeRuntime) start(s *Simulation, recovery bool) {
	n.incarnation++
	n.proto = s.protoFactory(n.ID)
	n.state = NodeRunning
	ctx := s.newCtx(n)
	if recovery {
		n.proto.OnRecover(ctx)
	} else {
		n.proto.OnStart(ctx)
	}
	ctx.commit(s)
	s.log.WithFields(logrus.Fields{"node": n.ID, "recovery": recovery}).Debug("node started")
}

// crash wipes all volatile state. The durable store survives under the
// crash-durability rules; everything else is gone.
func (n *NodeRuntime) crash(s *Simulation) {
	n.state = NodeCrashed
	n.proto = nil
	n.timers.clear()
	n.inbox = nil
	n.store.Crash()
	s.log.WithField("node", n.ID).Debug("node crashed")
}

// pause suspends handler execution. Deliveries buffer in the inbox.
func (n *NodeRuntime) pause() {
	if n.state == NodeRunning {
		n.state = NodePaused
	}
}

// resume drains the paused inbox in arrival order, then returns the node
// to running.
func (n *NodeRuntime) resume(s *Simulation) {
	if n.state != NodePaused {
		return
	}
	n.state = NodeRunning
	buffered := n.inbox
	n.inbox = nil
	for _, env := range buffered {
		n.handleDelivery(s, env)
	}
}

// deliver routes an arriving envelope according to the node state:
// running nodes handle it, paused nodes buffer it, crashed and starting
// nodes drop it.
func (n *NodeRuntime) deliver(s *Simulation, env *Envelope) {
	switch n.state {
	case NodeRunning:
		n.handleDelivery(s, env)
	case NodePaused:
		if len(n.inbox) >= n.inboxCap {
			n.msgsDropped++
			s.recordDrop(env, "inbox-full")
			return
		}
		n.inbox = append(n.inbox, env)
	default:
		n.msgsDropped++
		s.recordDrop(env, "node-"+n.state.String())
	}
}

func (n *NodeRuntime) handleDelivery(s *Simulation, env *Envelope) {
	n.msgsReceived++
	ctx := s.newCtx(n)
	ctx.trace = env.Trace
	n.proto.OnMessage(ctx, env.Src, env.Payload, env.Meta)
	ctx.commit(s)
}

// fireTimer runs the protocol's timer handler if the timer is still live
// for the current incarnation.
func (n *NodeRuntime) fireTimer(s *Simulation, id TimerID) {
	name, ok := n.timers.consume(id, n.incarnation)
	if !ok {
		return
	}
	if n.state != NodeRunning {
		// Paused nodes shed timer fires rather than buffering them; the
		// protocol can re-arm on resume if it cares. The table entry is
		// consumed either way so the timer no longer counts as live.
		return
	}
	ctx := s.newCtx(n)
	n.proto.OnTimer(ctx, id, name)
	ctx.commit(s)
}

// snapshotProto asks the protocol for its state summary, or nil when the
// node has no live protocol.
func (n *NodeRuntime) snapshotProto() map[string]string {
	if n.proto == nil {
		return nil
	}
	return n.proto.Snapshot()
}
