package sim

// timerTable tracks the live timers of one node. A timer is live from
// SetTimer until it fires, is cancelled, or the node crashes. Fire events
// stay in the global queue after cancellation; the table is the source of
// truth and stale fires are dropped on arrival.
type timerTable struct {
	// live maps timer ID to the protocol incarnation that set it. A fire
	// whose incarnation does not match the node's current one belongs to
	// a pre-crash protocol instance and is ignored.
	live map[TimerID]uint64
	// names carries the protocol-chosen label for each live timer, handed
	// back on fire.
	names map[TimerID]string
}

func newTimerTable() *timerTable {
	return &timerTable{
		live:  make(map[TimerID]uint64),
		names: make(map[TimerID]string),
	}
}

// arm registers a timer under the given incarnation.
func (t *timerTable) arm(id TimerID, name string, incarnation uint64) {
	t.live[id] = incarnation
	t.names[id] = name
}

// cancel removes a timer and reports whether it was live. Cancelling an
// unknown or already-fired timer is harmless.
func (t *timerTable) cancel(id TimerID) bool {
	_, ok := t.live[id]
	delete(t.live, id)
	delete(t.names, id)
	return ok
}

// consume checks that the timer is live under the given incarnation and,
// if so, removes it and returns its name.
func (t *timerTable) consume(id TimerID, incarnation uint64) (string, bool) {
	inc, ok := t.live[id]
	if !ok || inc != incarnation {
		return "", false
	}
	name := t.names[id]
	t.cancel(id)
	return name, true
}

// clear drops every live timer. Called on crash.
func (t *timerTable) clear() {
	t.live = make(map[TimerID]uint64)
	t.names = make(map[TimerID]string)
}

// count returns the number of live timers.
func (t *timerTable) count() int { return len(t.live) }
