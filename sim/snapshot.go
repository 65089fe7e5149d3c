package sim

import (
	"github.com/protosim/protosim/sim/telemetry"
)

// takeSnapshot captures the world into the bounded snapshot channel.
// Capture walks nodes in ascending ID order and reads state without
// mutating it, so a snapshot-heavy run and a snapshot-free run execute the
// same event sequence.
func (s *Simulation) takeSnapshot() {
	snap := telemetry.Snapshot{
		TimeNanos:    s.now.Nanos(),
		EventsRun:    s.eventsRun,
		QueueDepth:   s.queue.LiveLen(),
		SeveredPairs: len(s.net.partitioned),
	}
	for _, id := range s.world.NodeIDs() {
		n := s.world.node(id)
		ns := telemetry.NodeSnapshot{
			Node:        id.String(),
			State:       n.state.String(),
			Incarnation: n.incarnation,
			LiveTimers:  n.timers.count(),
			InboxDepth:  len(n.inbox),
			SkewNanos:   n.skewNanos,
			Protocol:    n.snapshotProto(),
			LogEntries:  n.store.LogLen(),
		}
		n.store.Iter("", func(string, []byte) bool {
			ns.StoreKeys++
			return true
		})
		snap.Nodes = append(snap.Nodes, ns)
	}
	s.tele.Snapshots().Offer(snap)
	s.tele.SetGauge("snapshot_queue_depth", nil, float64(s.queue.LiveLen()))
}
