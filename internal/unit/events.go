package unit

// EventKind identifies a unit notification.
type EventKind int

const (
	// EventPhaseChanged fires on every phase transition.
	EventPhaseChanged EventKind = iota
	// EventLoaded fires when the unit becomes Loaded.
	EventLoaded
	// EventLoadFailed fires when a parse fails. Event.Err holds the cause.
	EventLoadFailed
	// EventUsed fires when the use count goes from 0 to 1.
	EventUsed
	// EventUnused fires when the use count drops to 0.
	EventUnused
)

func (k EventKind) String() string {
	switch k {
	case EventPhaseChanged:
		return "phase-changed"
	case EventLoaded:
		return "loaded"
	case EventLoadFailed:
		return "load-failed"
	case EventUsed:
		return "used"
	case EventUnused:
		return "unused"
	}
	return "unknown"
}

// Event is delivered to unit observers.
type Event struct {
	Unit  *Unit
	Kind  EventKind
	Phase Phase
	Err   error
}

// Watch registers fn to receive the unit's events and returns a function
// that unregisters it. fn runs synchronously on the goroutine that caused
// the event, never with the unit lock held.
func (u *Unit) Watch(fn func(Event)) (cancel func()) {
	u.listenersMu.Lock()
	defer u.listenersMu.Unlock()

	entry := &listener{fn: fn}
	u.listeners = append(u.listeners, entry)
	return func() {
		u.listenersMu.Lock()
		defer u.listenersMu.Unlock()
		for i, l := range u.listeners {
			if l == entry {
				u.listeners = append(u.listeners[:i:i], u.listeners[i+1:]...)
				return
			}
		}
	}
}

type listener struct {
	fn func(Event)
}

func (u *Unit) publish(ev Event) {
	ev.Unit = u

	u.listenersMu.RLock()
	ls := u.listeners
	u.listenersMu.RUnlock()

	for _, l := range ls {
		l.fn(ev)
	}
}
