package sim

import (
	"encoding/json"
	"fmt"
)

// Codec translates a protocol's typed message to and from the wire bytes
// carried by envelopes.
type Codec[M any] interface {
	Marshal(msg M) ([]byte, error)
	Unmarshal(data []byte) (M, error)
}

// JSONCodec encodes messages as JSON. encoding/json writes struct fields in
// declaration order and sorts map keys, so equal messages always produce
// identical bytes, which keeps payload sizes
// and corruption trials reproducible.
type JSONCodec[M any] struct{}

func (JSONCodec[M]) Marshal(msg M) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec[M]) Unmarshal(data []byte) (M, error) {
	var msg M
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// TypedProtocol is the generic SDK contract: the same lifecycle as
// Protocol but with decoded messages. Envelopes that fail to decode are
// reported through OnGarbage, which is where corrupted payloads surface.
type TypedProtocol[M any] interface {
	Name() string
	OnStart(ctx *ProtoCtx)
	OnMessage(ctx *ProtoCtx, from NodeID, msg M, meta map[string]string)
	// OnGarbage handles an envelope whose payload failed to decode.
	OnGarbage(ctx *ProtoCtx, from NodeID, payload []byte, err error)
	OnTimer(ctx *ProtoCtx, id TimerID, name string)
	OnRecover(ctx *ProtoCtx)
	Snapshot() map[string]string
}

// TypedSender wraps a context with a codec so typed protocols send
// messages instead of bytes.
type TypedSender[M any] struct {
	Ctx   *ProtoCtx
	codec Codec[M]
}

// NewTypedSender pairs a handler context with a codec.
func NewTypedSender[M any](ctx *ProtoCtx, codec Codec[M]) TypedSender[M] {
	return TypedSender[M]{Ctx: ctx, codec: codec}
}

// Send encodes msg and queues it to dst.
func (s TypedSender[M]) Send(dst NodeID, msg M) error {
	b, err := s.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode for node %d: %w", dst, err)
	}
	s.Ctx.Send(dst, b)
	return nil
}

// Broadcast encodes msg once and queues it to every peer.
func (s TypedSender[M]) Broadcast(msg M) error {
	b, err := s.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	s.Ctx.Broadcast(b)
	return nil
}

// Wrap adapts a typed protocol to the byte-level contract using codec.
func Wrap[M any](inner TypedProtocol[M], codec Codec[M]) Protocol {
	return &typedAdapter[M]{inner: inner, codec: codec}
}

type typedAdapter[M any] struct {
	inner TypedProtocol[M]
	codec Codec[M]
}

func (a *typedAdapter[M]) Name() string           { return a.inner.Name() }
func (a *typedAdapter[M]) OnStart(ctx *ProtoCtx)  { a.inner.OnStart(ctx) }
func (a *typedAdapter[M]) OnRecover(ctx *ProtoCtx) { a.inner.OnRecover(ctx) }

func (a *typedAdapter[M]) OnMessage(ctx *ProtoCtx, from NodeID, payload []byte, meta map[string]string) {
	msg, err := a.codec.Unmarshal(payload)
	if err != nil {
		a.inner.OnGarbage(ctx, from, payload, err)
		return
	}
	a.inner.OnMessage(ctx, from, msg, meta)
}

func (a *typedAdapter[M]) OnTimer(ctx *ProtoCtx, id TimerID, name string) {
	a.inner.OnTimer(ctx, id, name)
}

func (a *typedAdapter[M]) Snapshot() map[string]string { return a.inner.Snapshot() }
