package sim

import (
	"github.com/sirupsen/logrus"
)

// NetDirective is a network-scoped fault instruction carried by a
// scheduled NetDirectiveEvent.
type NetDirective struct {
	Kind     ActionKind
	Groups   [][]NodeID
	Src      NodeID
	Dst      NodeID
	AllLinks bool
	Patch    LinkPatch
	// Expires is the absolute instant the pushed frame stops applying;
	// zero means it stays until popped.
	Expires SimTime
}

// StoreDirective is a node-scoped fault instruction: either a storage
// fault profile swap or a clock skew change.
type StoreDirective struct {
	Kind      ActionKind
	Node      NodeID
	Profile   StoreFaultProfile
	SkewNanos int64
}

// seedScenario translates every lowered scenario action into its scheduled
// event. Actions at the same instant fire in scenario order because event
// sequence numbers are allocated in this loop's order.
func (s *Simulation) seedScenario(sc *Scenario) {
	for _, ta := range sc.Actions {
		at := ta.At
		a := ta.Action
		switch a.Kind {
		case ActionCrash:
			s.schedule(&LifecycleEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Node:      a.Node, Kind: LifecycleCrash,
			})
			if !a.Duration.IsZero() {
				s.schedule(&LifecycleEvent{
					baseEvent: baseEvent{at: at.Add(a.Duration), seq: s.ids.eventSeq()},
					Node:      a.Node, Kind: LifecycleRestart,
				})
			}
		case ActionRestart:
			s.schedule(&LifecycleEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Node:      a.Node, Kind: LifecycleRestart,
			})
		case ActionPause:
			s.schedule(&LifecycleEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Node:      a.Node, Kind: LifecyclePause,
			})
		case ActionResume:
			s.schedule(&LifecycleEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Node:      a.Node, Kind: LifecycleResume,
			})
		case ActionPartition, ActionHeal, ActionLinkPatch, ActionLinkPop:
			s.schedule(&NetDirectiveEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Directive: NetDirective{
					Kind: a.Kind, Groups: a.Groups,
					Src: a.Src, Dst: a.Dst, AllLinks: a.AllLinks,
					Patch: a.Patch, Expires: a.Expires,
				},
			})
		case ActionStoreFaults:
			s.schedule(&StoreDirectiveEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Directive: StoreDirective{Kind: a.Kind, Node: a.Node, Profile: a.StoreProfile},
			})
		case ActionClockSkew:
			s.schedule(&StoreDirectiveEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Directive: StoreDirective{Kind: a.Kind, Node: a.Node, SkewNanos: a.SkewNanos},
			})
		case ActionByzantine:
			s.schedule(&RawInjectEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Targets:   a.Targets,
				Payload:   a.Payload,
			})
		case ActionHalt:
			s.schedule(&HaltEvent{
				baseEvent: baseEvent{at: at, seq: s.ids.eventSeq()},
				Reason:    a.Reason,
			})
		}
	}
}

func (s *Simulation) applyNetDirective(d NetDirective) {
	switch d.Kind {
	case ActionPartition:
		s.net.Partition(d.Groups)
		s.log.WithField("groups", len(d.Groups)).Info("partition applied")
		s.recordFault("partition", map[string]string{"groups": itoa(len(d.Groups))})
	case ActionHeal:
		s.net.Heal()
		s.log.Info("partition healed")
		s.recordFault("heal", nil)
	case ActionLinkPatch:
		frame := modifierFrame{id: s.ids.frameID(), patch: d.Patch, expires: d.Expires}
		for _, id := range s.patchTargets(d) {
			s.net.LinkByID(id).PushFrame(frame)
		}
		s.recordFault("link-patch", nil)
	case ActionLinkPop:
		for _, id := range s.patchTargets(d) {
			s.net.LinkByID(id).PopFrame()
		}
		s.recordFault("link-pop", nil)
	}
}

func (s *Simulation) patchTargets(d NetDirective) []LinkID {
	if d.AllLinks {
		return s.net.SortedLinkIDs()
	}
	return s.net.LinksBetween(d.Src, d.Dst)
}

func (s *Simulation) applyStoreDirective(d StoreDirective) {
	node := s.world.node(d.Node)
	if node == nil {
		return
	}
	switch d.Kind {
	case ActionStoreFaults:
		node.store.SetProfile(d.Profile)
		s.log.WithField("node", d.Node).Info("store fault profile set")
		s.recordFault("store-faults", map[string]string{"node": d.Node.String()})
	case ActionClockSkew:
		node.skewNanos = d.SkewNanos
		s.log.WithFields(logrus.Fields{"node": d.Node, "skew_ns": d.SkewNanos}).Info("clock skew set")
		s.recordFault("clock-skew", map[string]string{"node": d.Node.String()})
	}
}

// injectRaw delivers fault-originated bytes to each target directly,
// bypassing the delivery transform. Crashed and starting targets drop the
// bytes like any other delivery.
func (s *Simulation) injectRaw(targets []NodeID, payload []byte) {
	for _, dst := range targets {
		env := &Envelope{
			Src:     FaultSourceNode,
			Dst:     dst,
			Created: s.now,
			Trace:   s.ids.traceID(),
			Msg:     s.ids.msgID(),
			Payload: append([]byte(nil), payload...),
		}
		env.SetMeta(MetaFaultInjected, "1")
		s.world.deliver(s, env)
	}
	s.recordFault("byzantine", map[string]string{"targets": itoa(len(targets))})
}
