package sim

import (
	"fmt"
)

// LinkProps are the effective properties of one directed link.
type LinkProps struct {
	BaseDelay SimTime
	Jitter    DelaySpec
	Drop      Probability
	Duplicate Probability
	Reorder   Probability
	Corrupt   Probability
	// Bandwidth in bytes per simulated second; zero means unlimited.
	Bandwidth uint64
	// MTU in bytes; zero means unlimited. Oversized envelopes are dropped
	// deterministically without consuming a drop trial.
	MTU uint64
}

// LinkPatch is a partial override of LinkProps. Nil fields keep the value
// beneath the frame.
type LinkPatch struct {
	BaseDelay *SimTime
	Jitter    *DelaySpec
	Drop      *Probability
	Duplicate *Probability
	Reorder   *Probability
	Corrupt   *Probability
	Bandwidth *uint64
	MTU       *uint64
}

func (p LinkPatch) applyTo(props *LinkProps) {
	if p.BaseDelay != nil {
		props.BaseDelay = *p.BaseDelay
	}
	if p.Jitter != nil {
		props.Jitter = *p.Jitter
	}
	if p.Drop != nil {
		props.Drop = *p.Drop
	}
	if p.Duplicate != nil {
		props.Duplicate = *p.Duplicate
	}
	if p.Reorder != nil {
		props.Reorder = *p.Reorder
	}
	if p.Corrupt != nil {
		props.Corrupt = *p.Corrupt
	}
	if p.Bandwidth != nil {
		props.Bandwidth = *p.Bandwidth
	}
	if p.MTU != nil {
		props.MTU = *p.MTU
	}
}

// modifierFrame is one entry on a link's override stack. Frames are pushed
// by fault directives and popped either explicitly or when their expiry
// passes; the effective link properties are the base properties with every
// live frame's patch applied bottom-up.
type modifierFrame struct {
	id      uint64
	patch   LinkPatch
	expires SimTime // zero means no expiry
}

// Link is one directed edge of the network multigraph.
type Link struct {
	ID     LinkID
	Src    NodeID
	Dst    NodeID
	base   LinkProps
	frames []modifierFrame
	// nextAvailable is the earliest instant the link can begin
	// transmitting the next envelope under the bandwidth model.
	nextAvailable SimTime
}

// Effective computes the link properties at instant now, dropping expired
// frames as a side effect.
func (l *Link) Effective(now SimTime) LinkProps {
	l.expireFrames(now)
	props := l.base
	for _, f := range l.frames {
		f.patch.applyTo(&props)
	}
	return props
}

func (l *Link) expireFrames(now SimTime) {
	live := l.frames[:0]
	for _, f := range l.frames {
		if f.expires.IsZero() || now.Before(f.expires) {
			live = append(live, f)
		}
	}
	l.frames = live
}

// PushFrame stacks a modifier frame.
func (l *Link) PushFrame(f modifierFrame) {
	l.frames = append(l.frames, f)
}

// PopFrame removes the most recently pushed frame still on the stack, even
// if it has expired; expired frames are otherwise pruned only by Effective.
// Popping an empty stack is harmless.
func (l *Link) PopFrame() {
	if n := len(l.frames); n > 0 {
		l.frames = l.frames[:n-1]
	}
}

func (l *Link) String() string {
	return fmt.Sprintf("link %d->%d", l.Src, l.Dst)
}
