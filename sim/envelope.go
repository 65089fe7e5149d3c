package sim

// Metadata keys set by the network and fault layers.
const (
	// MetaCorrupt marks an envelope whose payload was mutated in transit.
	MetaCorrupt = "corrupt"
	// MetaDuplicate marks the extra copy produced by a duplication trial.
	MetaDuplicate = "duplicate"
	// MetaFaultInjected marks envelopes originating from the fault
	// injector rather than a peer protocol.
	MetaFaultInjected = "fault-injected"
)

// Envelope is one message in flight. The payload is opaque bytes; typed
// protocols marshal through their codec before the envelope is built.
type Envelope struct {
	Src     NodeID
	Dst     NodeID
	Created SimTime
	Trace   TraceID
	Msg     MsgID
	Payload []byte
	Meta    map[string]string
}

// SetMeta records a metadata flag, allocating the map on first use.
func (e *Envelope) SetMeta(key, val string) {
	if e.Meta == nil {
		e.Meta = make(map[string]string, 1)
	}
	e.Meta[key] = val
}

// HasMeta reports whether the flag is present.
func (e *Envelope) HasMeta(key string) bool {
	_, ok := e.Meta[key]
	return ok
}

// clone returns a deep copy with a fresh message ID. Used for duplication,
// where both copies share src, dst, trace, and payload bytes but must be
// distinguishable downstream.
func (e *Envelope) clone(id MsgID) *Envelope {
	cp := &Envelope{
		Src:     e.Src,
		Dst:     e.Dst,
		Created: e.Created,
		Trace:   e.Trace,
		Msg:     id,
		Payload: append([]byte(nil), e.Payload...),
	}
	for k, v := range e.Meta {
		cp.SetMeta(k, v)
	}
	return cp
}
