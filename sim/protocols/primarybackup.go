package protocols

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/protosim/protosim/sim"
)

func init() {
	Register("primarybackup", func(node sim.NodeID) sim.Protocol {
		return sim.Wrap[pbMsg](newPrimaryBackup(node), sim.JSONCodec[pbMsg]{})
	})
}

const (
	pbWritePeriod = 200 // milliseconds between synthetic client writes
	pbPrimary     = sim.NodeID(0)

	pbKeyNextIndex = "pb/next-index"
	pbKeyCommitted = "pb/committed"
	pbDataPrefix   = "pb/data/"
)

type pbMsg struct {
	Kind  string `json:"kind"` // "replicate" or "ack"
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
}

// primaryBackup replicates a KV stream from a fixed primary to every
// backup and commits a write once a majority acknowledged it. The
// committed index is durable; a restarted node resumes from its store
// rather than from zero.
type primaryBackup struct {
	self      sim.NodeID
	nextIndex uint64
	committed uint64
	acks      map[uint64]map[sim.NodeID]struct{}
	garbage   uint64
}

func newPrimaryBackup(self sim.NodeID) *primaryBackup {
	return &primaryBackup{
		self: self,
		acks: make(map[uint64]map[sim.NodeID]struct{}),
	}
}

func (p *primaryBackup) Name() string { return "primarybackup" }

func (p *primaryBackup) isPrimary() bool { return p.self == pbPrimary }

func (p *primaryBackup) sender(ctx *sim.ProtoCtx) sim.TypedSender[pbMsg] {
	return sim.NewTypedSender[pbMsg](ctx, sim.JSONCodec[pbMsg]{})
}

func (p *primaryBackup) OnStart(ctx *sim.ProtoCtx) {
	if p.isPrimary() {
		ctx.SetTimer("client-write", sim.TimeFromMillis(pbWritePeriod))
	}
}

func (p *primaryBackup) OnRecover(ctx *sim.ProtoCtx) {
	p.nextIndex = readCounter(ctx.Store(), pbKeyNextIndex)
	p.committed = readCounter(ctx.Store(), pbKeyCommitted)
	ctx.Log("recovered", map[string]string{
		"next_index": strconv.FormatUint(p.nextIndex, 10),
		"committed":  strconv.FormatUint(p.committed, 10),
	})
	if p.isPrimary() {
		ctx.SetTimer("client-write", sim.TimeFromMillis(pbWritePeriod))
	}
}

func (p *primaryBackup) OnTimer(ctx *sim.ProtoCtx, _ sim.TimerID, name string) {
	if name != "client-write" || !p.isPrimary() {
		return
	}
	index := p.nextIndex
	p.nextIndex++
	key := fmt.Sprintf("%s%08d", pbDataPrefix, index)
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, ctx.RNG().Uint64())

	store := ctx.Store()
	if err := p.applyWrite(store, index, key, value); err != nil {
		ctx.Log("local write failed", map[string]string{"err": err.Error()})
		ctx.Metric("write_errors", 1)
		p.nextIndex = index
	} else {
		p.ackFrom(ctx, index, p.self)
		_ = p.sender(ctx).Broadcast(pbMsg{Kind: "replicate", Index: index, Key: key, Value: value})
		ctx.Metric("writes_issued", 1)
	}
	ctx.SetTimer("client-write", sim.TimeFromMillis(pbWritePeriod))
}

func (p *primaryBackup) OnMessage(ctx *sim.ProtoCtx, from sim.NodeID, msg pbMsg, meta map[string]string) {
	if _, faulty := meta[sim.MetaFaultInjected]; faulty {
		ctx.Metric("fault_injected_msgs", 1)
		return
	}
	switch msg.Kind {
	case "replicate":
		if p.isPrimary() {
			return
		}
		if err := p.applyWrite(ctx.Store(), msg.Index, msg.Key, msg.Value); err != nil {
			ctx.Log("replicate failed", map[string]string{"err": err.Error()})
			ctx.Metric("write_errors", 1)
			return
		}
		_ = p.sender(ctx).Send(from, pbMsg{Kind: "ack", Index: msg.Index})
	case "ack":
		if !p.isPrimary() {
			return
		}
		p.ackFrom(ctx, msg.Index, from)
	}
}

// applyWrite stages the log entry and the KV write, then syncs. nextIndex
// only becomes durable with the data it covers.
func (p *primaryBackup) applyWrite(store sim.Store, index uint64, key string, value []byte) error {
	if _, err := store.AppendLog(0, value); err != nil {
		return err
	}
	if err := store.Put(key, value); err != nil {
		return err
	}
	if err := writeCounter(store, pbKeyNextIndex, index+1); err != nil {
		return err
	}
	if err := store.Sync(); err != nil {
		return err
	}
	if index >= p.nextIndex {
		p.nextIndex = index + 1
	}
	return nil
}

func (p *primaryBackup) ackFrom(ctx *sim.ProtoCtx, index uint64, from sim.NodeID) {
	if index < p.committed {
		return
	}
	set, ok := p.acks[index]
	if !ok {
		set = make(map[sim.NodeID]struct{})
		p.acks[index] = set
	}
	set[from] = struct{}{}
	quorum := (len(ctx.Peers())+1)/2 + 1
	if len(set) >= quorum && index >= p.committed {
		p.committed = index + 1
		delete(p.acks, index)
		if err := writeCounter(ctx.Store(), pbKeyCommitted, p.committed); err == nil {
			_ = ctx.Store().Sync()
		}
		ctx.Metric("writes_committed", 1)
		ctx.Log("committed", map[string]string{"index": strconv.FormatUint(index, 10)})
	}
}

func (p *primaryBackup) OnGarbage(ctx *sim.ProtoCtx, from sim.NodeID, _ []byte, _ error) {
	p.garbage++
	ctx.Metric("garbage_payloads", 1)
}

func (p *primaryBackup) Snapshot() map[string]string {
	role := "backup"
	if p.isPrimary() {
		role = "primary"
	}
	return map[string]string{
		"role":       role,
		"next_index": strconv.FormatUint(p.nextIndex, 10),
		"committed":  strconv.FormatUint(p.committed, 10),
		"garbage":    strconv.FormatUint(p.garbage, 10),
	}
}

func readCounter(store sim.Store, key string) uint64 {
	v, err := store.Get(key)
	if err != nil || len(v) != 8 {
		if err != nil && !errors.Is(err, sim.ErrKeyNotFound) {
			return 0
		}
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func writeCounter(store sim.Store, key string, n uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return store.Put(key, buf)
}
