package sim

// ProtoCtx is the capability surface handed to protocol handlers. Sends,
// broadcasts, and timer operations are intents: the context queues them
// during the handler and commits them in call order once the handler
// returns, so a handler that panics or crashes its node mid-flight leaves
// no half-applied effects. Store and RNG access is direct.
type ProtoCtx struct {
	sim  *Simulation
	node *NodeRuntime
	// trace propagates the causal trace of the triggering delivery; other
	// handler kinds get a fresh trace at first send.
	trace   TraceID
	intents []intent
}

type intentKind uint8

const (
	intentSend intentKind = iota
	intentBroadcast
	intentSetTimer
	intentCancelTimer
	intentLog
	intentMetric
)

type intent struct {
	kind    intentKind
	dst     NodeID
	payload []byte
	timer   TimerID
	name    string
	delay   SimTime
	fields  map[string]string
	metric  string
	value   float64
}

// NodeID returns the hosting node's identity.
func (c *ProtoCtx) NodeID() NodeID { return c.node.ID }

// Now returns the node-observed clock: the master clock plus the node's
// skew offset. Event scheduling always uses the master clock, so skew is
// visible to the protocol and nothing else.
func (c *ProtoCtx) Now() SimTime { return c.node.skewedNow(c.sim.now) }

// Store returns the node's storage surface. Operations take effect
// immediately, not at commit.
func (c *ProtoCtx) Store() Store { return c.node.store }

// RNG returns the node's private random stream.
func (c *ProtoCtx) RNG() *Stream { return c.sim.rng.NodeStream(c.node.ID) }

// Peers returns every node ID except the caller's, in ascending order.
func (c *ProtoCtx) Peers() []NodeID { return c.sim.world.peersOf(c.node.ID) }

// Send queues an envelope to dst.
func (c *ProtoCtx) Send(dst NodeID, payload []byte) {
	c.intents = append(c.intents, intent{
		kind:    intentSend,
		dst:     dst,
		payload: append([]byte(nil), payload...),
	})
}

// Broadcast queues one envelope to every peer.
func (c *ProtoCtx) Broadcast(payload []byte) {
	c.intents = append(c.intents, intent{
		kind:    intentBroadcast,
		payload: append([]byte(nil), payload...),
	})
}

// SetTimer queues a named timer that fires after delay. The ID is
// allocated immediately so the handler can retain it for cancellation.
func (c *ProtoCtx) SetTimer(name string, delay SimTime) TimerID {
	id := c.sim.ids.timerID()
	c.intents = append(c.intents, intent{
		kind:  intentSetTimer,
		timer: id,
		name:  name,
		delay: delay,
	})
	return id
}

// CancelTimer queues cancellation of a previously set timer.
func (c *ProtoCtx) CancelTimer(id TimerID) {
	c.intents = append(c.intents, intent{kind: intentCancelTimer, timer: id})
}

// Log queues a structured record into the telemetry log.
func (c *ProtoCtx) Log(msg string, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	c.intents = append(c.intents, intent{kind: intentLog, name: msg, fields: cp})
}

// Metric queues an increment of the named counter, labelled with this
// node's ID.
func (c *ProtoCtx) Metric(name string, delta float64) {
	c.intents = append(c.intents, intent{kind: intentMetric, metric: name, value: delta})
}

// commit applies the queued intents in the order the handler issued them.
// A node that crashed during its own handler commits nothing.
func (c *ProtoCtx) commit(s *Simulation) {
	if c.node.state == NodeCrashed {
		c.intents = nil
		return
	}
	for _, in := range c.intents {
		switch in.kind {
		case intentSend:
			c.emit(s, in.dst, in.payload)
		case intentBroadcast:
			for _, peer := range s.world.peersOf(c.node.ID) {
				c.emit(s, peer, in.payload)
			}
		case intentSetTimer:
			c.node.timers.arm(in.timer, in.name, c.node.incarnation)
			s.schedule(&TimerFireEvent{
				baseEvent: baseEvent{at: s.now.Add(in.delay), seq: s.ids.eventSeq()},
				Node:      c.node.ID,
				Timer:     in.timer,
			})
		case intentCancelTimer:
			if c.node.timers.cancel(in.timer) {
				s.tele.AddCounter("timers_cancelled", map[string]string{"node": c.node.ID.String()}, 1)
			}
		case intentLog:
			s.recordProtoLog(c.node.ID, c.traceOrNew(s), in.name, in.fields)
		case intentMetric:
			s.tele.AddCounter(in.metric, map[string]string{"node": c.node.ID.String()}, in.value)
		}
	}
	c.intents = nil
}

func (c *ProtoCtx) emit(s *Simulation, dst NodeID, payload []byte) {
	env := &Envelope{
		Src:     c.node.ID,
		Dst:     dst,
		Created: s.now,
		Trace:   c.traceOrNew(s),
		Msg:     s.ids.msgID(),
		Payload: append([]byte(nil), payload...),
	}
	s.net.Send(s, env, s.now)
}

func (c *ProtoCtx) traceOrNew(s *Simulation) TraceID {
	if c.trace == 0 {
		c.trace = s.ids.traceID()
	}
	return c.trace
}
