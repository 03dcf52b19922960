package sentinel

import (
	"fmt"
	"runtime"
	"sync"

	"pkt.systems/logport"
)

// Event identifies a dispatchable event. Keys below reservedEventCeiling are
// reserved for built-ins (spec.md §3); user-defined events must use a
// distinct value at or above it.
type Event int

const reservedEventCeiling = 100

// Built-in events (spec.md §3).
const (
	EventError Event = iota
	EventSignal
	EventInit
	EventRun
	EventFork
	EventNewPID
	EventRestart
	EventShutdown
	EventOverrun
)

// Listener is a callback registered against an Event. args are whatever the
// dispatcher passes (e.g. the signal number for EventSignal).
type Listener func(args ...any)

// Handle is the opaque token On returns; pass it to Off to remove exactly
// the listener it names.
type Handle struct {
	event Event
	slot  int
}

// registeredListener pairs a Listener with the source location it was
// registered from, so a panic can be attributed to the call that installed
// the failing listener rather than to the bus's own dispatch internals.
type registeredListener struct {
	fn   Listener
	site string
}

// EventBus is a typed-event registry and dispatcher. Listener panics are
// recovered and logged; they never escape Dispatch or abort the remaining
// listeners (spec.md §4.3, §5).
type EventBus struct {
	log logport.Logger

	mu        sync.Mutex
	listeners map[Event]map[int]registeredListener
	nextSlot  map[Event]int
}

// NewEventBus returns an empty bus that logs listener failures through log.
func NewEventBus(log logport.Logger) *EventBus {
	return &EventBus{
		log:       log,
		listeners: make(map[Event]map[int]registeredListener),
		nextSlot:  make(map[Event]int),
	}
}

// On registers listener at the end of event's list, initializing the list
// on first registration, and returns a Handle for later removal. The
// immediate caller's file:line is captured as the listener's registration
// site for later panic attribution; called through OnUser, that is
// OnUser's own frame rather than OnUser's caller.
func (b *EventBus) On(event Event, listener Listener) Handle {
	_, file, line, _ := runtime.Caller(1)
	site := fmt.Sprintf("%s:%d", file, line)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[event] == nil {
		b.listeners[event] = make(map[int]registeredListener)
	}
	slot := b.nextSlot[event]
	b.nextSlot[event] = slot + 1
	b.listeners[event][slot] = registeredListener{fn: listener, site: site}
	return Handle{event: event, slot: slot}
}

// OnUser registers a listener for a user-defined event; it rejects keys in
// the reserved built-in range.
func (b *EventBus) OnUser(event Event, listener Listener) (Handle, error) {
	if event < reservedEventCeiling {
		return Handle{}, fmt.Errorf("%w: %d", ErrReservedEvent, event)
	}
	return b.On(event, listener), nil
}

// Off removes the listener named by h and returns it, or nil if h is stale
// (already removed, or never valid).
func (b *EventBus) Off(h Handle) Listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	slots := b.listeners[h.event]
	if slots == nil {
		return nil
	}
	l, ok := slots[h.slot]
	if !ok {
		return nil
	}
	delete(slots, h.slot)
	return l.fn
}

// Dispatch invokes every listener registered for event, in registration
// order, passing args through. A listener panic is recovered and logged
// with the event, slot, message, and caller location; dispatch continues.
func (b *EventBus) Dispatch(event Event, args ...any) {
	b.mu.Lock()
	slots := b.listeners[event]
	ordered := make([]int, 0, len(slots))
	for slot := range slots {
		ordered = append(ordered, slot)
	}
	b.mu.Unlock()

	// Registration order == ascending slot id, since slots only increase.
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j] < ordered[i] {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, slot := range ordered {
		b.mu.Lock()
		l, ok := b.listeners[event][slot]
		b.mu.Unlock()
		if !ok {
			continue
		}
		b.invoke(event, slot, l, args)
	}
}

// DispatchOne invokes exactly the listener named by h, if it still exists.
func (b *EventBus) DispatchOne(h Handle, args ...any) {
	b.mu.Lock()
	l, ok := b.listeners[h.event][h.slot]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.invoke(h.event, h.slot, l, args)
}

func (b *EventBus) invoke(event Event, slot int, l registeredListener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Error("listener panicked",
					"event", event, "slot", slot, "message", fmt.Sprint(r),
					"source", l.site)
			}
		}
	}()
	l.fn(args...)
}
