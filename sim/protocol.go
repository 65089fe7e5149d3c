package sim

// Protocol is the byte-level hosting contract. One instance runs per node;
// the engine re-instantiates it on restart and calls OnRecover instead of
// OnStart so the protocol can rebuild from its durable store.
//
// Handlers run to completion on the simulation goroutine. They must not
// retain the context past the call.
type Protocol interface {
	// Name identifies the protocol in telemetry and snapshots.
	Name() string
	// OnStart runs once when the node first enters the running state.
	OnStart(ctx *ProtoCtx)
	// OnMessage handles one delivered envelope.
	OnMessage(ctx *ProtoCtx, from NodeID, payload []byte, meta map[string]string)
	// OnTimer handles a timer fire for a timer this instance set.
	OnTimer(ctx *ProtoCtx, id TimerID, name string)
	// OnRecover runs instead of OnStart after a crash restart.
	OnRecover(ctx *ProtoCtx)
	// Snapshot returns a small, deterministic summary of protocol state
	// for world snapshots. Keys and values must not depend on map
	// iteration order.
	Snapshot() map[string]string
}

// ProtocolFactory constructs a fresh protocol instance for a node. The
// engine calls it at node start and again on every restart.
type ProtocolFactory func(node NodeID) Protocol
