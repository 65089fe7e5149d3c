package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handshake struct {
	Kind  string `json:"kind"`
	Round uint64 `json:"round"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[handshake]{}
	b, err := codec.Marshal(handshake{Kind: "hello", Round: 7})
	require.NoError(t, err)

	msg, err := codec.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, handshake{Kind: "hello", Round: 7}, msg)
}

func TestJSONCodecStableBytes(t *testing.T) {
	codec := JSONCodec[handshake]{}
	a, err := codec.Marshal(handshake{Kind: "x", Round: 1})
	require.NoError(t, err)
	b, err := codec.Marshal(handshake{Kind: "x", Round: 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// typedRecorder tracks which path the adapter routed each envelope down.
type typedRecorder struct {
	decoded []handshake
	garbage [][]byte
	errs    []error
}

func (r *typedRecorder) Name() string            { return "typed-recorder" }
func (r *typedRecorder) OnStart(*ProtoCtx)       {}
func (r *typedRecorder) OnRecover(*ProtoCtx)     {}
func (r *typedRecorder) OnTimer(*ProtoCtx, TimerID, string) {}
func (r *typedRecorder) Snapshot() map[string]string        { return nil }

func (r *typedRecorder) OnMessage(_ *ProtoCtx, _ NodeID, msg handshake, _ map[string]string) {
	r.decoded = append(r.decoded, msg)
}

func (r *typedRecorder) OnGarbage(_ *ProtoCtx, _ NodeID, payload []byte, err error) {
	r.garbage = append(r.garbage, payload)
	r.errs = append(r.errs, err)
}

func TestWrapRoutesDecodedMessages(t *testing.T) {
	rec := &typedRecorder{}
	p := Wrap[handshake](rec, JSONCodec[handshake]{})

	p.OnMessage(nil, 1, []byte(`{"kind":"hello","round":3}`), nil)
	require.Len(t, rec.decoded, 1)
	assert.Equal(t, handshake{Kind: "hello", Round: 3}, rec.decoded[0])
	assert.Empty(t, rec.garbage)
}

func TestWrapRoutesGarbageToOnGarbage(t *testing.T) {
	rec := &typedRecorder{}
	p := Wrap[handshake](rec, JSONCodec[handshake]{})

	corrupted := []byte(`{"kind":`)
	p.OnMessage(nil, 2, corrupted, nil)
	assert.Empty(t, rec.decoded)
	require.Len(t, rec.garbage, 1)
	assert.Equal(t, corrupted, rec.garbage[0])
	assert.Error(t, rec.errs[0])
}

func TestTypedSenderEncodesOnSend(t *testing.T) {
	sc := baseScenario(2, TimeFromSeconds(1))
	sc.DefaultLink = LinkProps{BaseDelay: TimeFromMillis(1)}
	events, _, _ := runRecorded(t, sc, func(ctx *ProtoCtx, r *recorder) {
		if r.id != 0 {
			return
		}
		sender := NewTypedSender[handshake](ctx, JSONCodec[handshake]{})
		require.NoError(t, sender.Send(1, handshake{Kind: "hi", Round: 1}))
		require.NoError(t, sender.Broadcast(handshake{Kind: "all", Round: 2}))
	})

	assert.Contains(t, events, `n1 msg from=0 payload={"kind":"hi","round":1}`)
	assert.Contains(t, events, `n1 msg from=0 payload={"kind":"all","round":2}`)
}
