package protocols

import (
	"strconv"

	"github.com/protosim/protosim/sim"
)

func init() {
	Register("ping", func(node sim.NodeID) sim.Protocol {
		return sim.Wrap[pingMsg](newPing(), sim.JSONCodec[pingMsg]{})
	})
}

const pingPeriod = 500 // milliseconds between ping rounds

type pingMsg struct {
	Kind string `json:"kind"` // "ping" or "pong"
	Seq  uint64 `json:"seq"`
}

// ping broadcasts a ping every period and counts the pongs that come
// back. It exercises timers, broadcast, and per-node metrics, and its
// round-trip counts make seed-stability regressions visible.
type ping struct {
	seq      uint64
	sent     uint64
	pongs    uint64
	garbage  uint64
	lastSeen map[sim.NodeID]uint64
}

func newPing() *ping {
	return &ping{lastSeen: make(map[sim.NodeID]uint64)}
}

func (p *ping) Name() string { return "ping" }

func (p *ping) sender(ctx *sim.ProtoCtx) sim.TypedSender[pingMsg] {
	return sim.NewTypedSender[pingMsg](ctx, sim.JSONCodec[pingMsg]{})
}

func (p *ping) OnStart(ctx *sim.ProtoCtx) {
	ctx.SetTimer("ping-round", sim.TimeFromMillis(pingPeriod))
}

func (p *ping) OnRecover(ctx *sim.ProtoCtx) {
	// Round state is volatile; recovery just resumes the cadence.
	ctx.SetTimer("ping-round", sim.TimeFromMillis(pingPeriod))
}

func (p *ping) OnTimer(ctx *sim.ProtoCtx, _ sim.TimerID, name string) {
	if name != "ping-round" {
		return
	}
	p.seq++
	p.sent++
	_ = p.sender(ctx).Broadcast(pingMsg{Kind: "ping", Seq: p.seq})
	ctx.Metric("ping_rounds", 1)
	ctx.SetTimer("ping-round", sim.TimeFromMillis(pingPeriod))
}

func (p *ping) OnMessage(ctx *sim.ProtoCtx, from sim.NodeID, msg pingMsg, _ map[string]string) {
	switch msg.Kind {
	case "ping":
		_ = p.sender(ctx).Send(from, pingMsg{Kind: "pong", Seq: msg.Seq})
	case "pong":
		p.pongs++
		p.lastSeen[from] = msg.Seq
		ctx.Metric("pongs_received", 1)
	}
}

func (p *ping) OnGarbage(ctx *sim.ProtoCtx, from sim.NodeID, _ []byte, _ error) {
	p.garbage++
	ctx.Metric("garbage_payloads", 1)
	ctx.Log("undecodable payload", map[string]string{"from": from.String()})
}

func (p *ping) Snapshot() map[string]string {
	return map[string]string{
		"seq":     strconv.FormatUint(p.seq, 10),
		"sent":    strconv.FormatUint(p.sent, 10),
		"pongs":   strconv.FormatUint(p.pongs, 10),
		"garbage": strconv.FormatUint(p.garbage, 10),
	}
}
