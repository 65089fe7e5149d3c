package sim

import (
	"fmt"
	"sort"
)

// Network is the directed multigraph connecting nodes, plus the partition
// state. It owns the delivery transform: every non-loopback envelope a node
// sends passes through partition check, MTU check, drop trial, latency
// sampling, corruption trial, and bandwidth accounting before a delivery is
// scheduled, followed by one duplication trial.
type Network struct {
	links  map[LinkID]*Link
	// routes indexes links by (src, dst) in insertion order. Multiple links
	// between the same pair are legal; the first one registered carries all
	// traffic.
	routes map[nodePair][]LinkID
	// partitioned holds the directed pairs currently severed. It is
	// recomputed from group sets on every partition directive.
	partitioned map[nodePair]struct{}
}

type nodePair struct {
	src, dst NodeID
}

// NewNetwork builds an empty network. Links are added during topology
// construction; loopback delivery needs no link.
func NewNetwork() *Network {
	return &Network{
		links:       make(map[LinkID]*Link),
		routes:      make(map[nodePair][]LinkID),
		partitioned: make(map[nodePair]struct{}),
	}
}

// AddLink registers a directed link and returns it.
func (n *Network) AddLink(id LinkID, src, dst NodeID, props LinkProps) *Link {
	l := &Link{ID: id, Src: src, Dst: dst, base: props}
	n.links[id] = l
	pair := nodePair{src, dst}
	n.routes[pair] = append(n.routes[pair], id)
	return l
}

// LinkByID returns the link or nil.
func (n *Network) LinkByID(id LinkID) *Link { return n.links[id] }

// LinksBetween returns the link IDs from src to dst in insertion order.
func (n *Network) LinksBetween(src, dst NodeID) []LinkID {
	return n.routes[nodePair{src, dst}]
}

// SortedLinkIDs returns all link IDs in ascending order. Directives that
// apply to every link iterate this way so fault application order is
// stable.
func (n *Network) SortedLinkIDs() []LinkID {
	ids := make([]LinkID, 0, len(n.links))
	for id := range n.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Partition severs traffic between the groups: every directed pair whose
// endpoints fall in different groups is cut. Pairs inside a group keep
// flowing. The previous partition, if any, is replaced.
func (n *Network) Partition(groups [][]NodeID) {
	n.partitioned = make(map[nodePair]struct{})
	group := make(map[NodeID]int)
	for gi, g := range groups {
		for _, id := range g {
			group[id] = gi
		}
	}
	for a, ga := range group {
		for b, gb := range group {
			if a != b && ga != gb {
				n.partitioned[nodePair{a, b}] = struct{}{}
			}
		}
	}
}

// Heal removes the active partition entirely.
func (n *Network) Heal() {
	n.partitioned = make(map[nodePair]struct{})
}

// Partitioned reports whether src->dst is currently severed.
func (n *Network) Partitioned(src, dst NodeID) bool {
	_, cut := n.partitioned[nodePair{src, dst}]
	return cut
}

// sendOutcome records what the transform decided, for telemetry.
type sendOutcome uint8

const (
	outcomeScheduled sendOutcome = iota
	outcomePartitioned
	outcomeDropped
	outcomeNoRoute
	outcomeOversize
)

// Send runs the delivery transform for env at instant now and schedules
// zero, one, or two delivery events. Loopback (src == dst) bypasses the
// link model entirely and delivers at now with no fault trials.
func (n *Network) Send(s *Simulation, env *Envelope, now SimTime) {
	if env.Src == env.Dst {
		s.schedule(&DeliveryEvent{
			baseEvent: baseEvent{at: now, seq: s.ids.eventSeq()},
			Env:       env,
		})
		s.recordNet(env, outcomeScheduled)
		return
	}
	if n.Partitioned(env.Src, env.Dst) {
		s.recordNet(env, outcomePartitioned)
		return
	}
	route := n.routes[nodePair{env.Src, env.Dst}]
	if len(route) == 0 {
		s.recordNet(env, outcomeNoRoute)
		return
	}
	link := n.links[route[0]]
	props := link.Effective(now)

	if props.MTU != 0 && uint64(len(env.Payload)) > props.MTU {
		s.recordNet(env, outcomeOversize)
		return
	}
	if s.rng.Stream(StreamNetDrop).Trial(props.Drop) {
		s.recordNet(env, outcomeDropped)
		return
	}

	n.transmit(s, link, props, env, now)

	// Duplication is decided once per original send. The duplicate copy
	// runs its own latency and bandwidth draws but never re-rolls
	// duplication, so fan-out is bounded at two.
	if s.rng.Stream(StreamNetDup).Trial(props.Duplicate) {
		dup := env.clone(s.ids.msgID())
		dup.SetMeta(MetaDuplicate, "1")
		n.transmit(s, link, props, dup, now)
	}
}

// transmit samples latency, applies corruption and bandwidth accounting,
// and schedules the delivery.
func (n *Network) transmit(s *Simulation, link *Link, props LinkProps, env *Envelope, now SimTime) {
	delay := props.BaseDelay
	if !props.Jitter.IsZero() {
		jitter := TimeFromNanos(props.Jitter.Sample(s.rng.Stream(StreamNetDelay)))
		if s.rng.Stream(StreamNetReorder).Trial(props.Reorder) {
			// A reorder win subtracts the jitter instead of adding it,
			// floored so the envelope never arrives before it was sent.
			delay = delay.Sub(jitter)
		} else {
			delay = delay.Add(jitter)
		}
	}

	if s.rng.Stream(StreamNetCorrupt).Trial(props.Corrupt) {
		flipPayloadBit(s.rng.Stream(StreamNetCorrupt), env.Payload)
		env.SetMeta(MetaCorrupt, "1")
	}

	arrive := now.Add(delay)
	if props.Bandwidth != 0 {
		// Bandwidth queues behind the previous transmission: the envelope
		// arrives at max(send time + latency, link free) plus its own
		// transmission time, and the link is busy until then.
		if arrive.Before(link.nextAvailable) {
			arrive = link.nextAvailable
		}
		txNanos := transmissionNanos(uint64(len(env.Payload)), props.Bandwidth)
		arrive = arrive.AddNanos(txNanos)
		link.nextAvailable = arrive
	}
	s.schedule(&DeliveryEvent{
		baseEvent: baseEvent{at: arrive, seq: s.ids.eventSeq()},
		Env:       env,
	})
	s.recordNet(env, outcomeScheduled)
}

// transmissionNanos is ceil(size * 1e9 / bandwidth) without overflow for
// realistic sizes.
func transmissionNanos(size, bandwidth uint64) uint64 {
	const nanosPerSec = 1_000_000_000
	whole := size / bandwidth
	rem := size % bandwidth
	return whole*nanosPerSec + (rem*nanosPerSec+bandwidth-1)/bandwidth
}

// flipPayloadBit mutates one random bit in place. Empty payloads pass
// through untouched but still carry the corrupt flag.
func flipPayloadBit(s *Stream, payload []byte) {
	if len(payload) == 0 {
		return
	}
	bit := s.IntN(uint64(len(payload)) * 8)
	payload[bit/8] ^= 1 << (bit % 8)
}

func (n *Network) String() string {
	return fmt.Sprintf("network(%d links, %d severed pairs)", len(n.links), len(n.partitioned))
}
