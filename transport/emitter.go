package transport

import "sync"

// Emitter fans events out to registered listeners. Sticky events are
// remembered once fired, so a listener that registers late still sees them.
type Emitter struct {
	lock      sync.Mutex
	listeners map[string][]*listener
	sticky    map[string]bool
	fired     map[string]Event
	nextId    uint64
}

type listener struct {
	id   uint64
	once bool
	fn   func(Event)
}

func NewEmitter(sticky ...string) *Emitter {
	e := &Emitter{
		listeners: map[string][]*listener{},
		sticky:    map[string]bool{},
		fired:     map[string]Event{},
	}
	for _, name := range sticky {
		e.sticky[name] = true
	}
	return e
}

// NewLifecycleEmitter is an Emitter with connect, error and close sticky.
func NewLifecycleEmitter() *Emitter {
	return NewEmitter(EventConnect, EventError, EventClose)
}

func (e *Emitter) On(event string, fn func(Event)) (off func()) {
	return e.add(event, fn, false)
}

func (e *Emitter) Once(event string, fn func(Event)) (off func()) {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn func(Event), once bool) func() {
	e.lock.Lock()
	ev, fired := e.fired[event]
	if fired && once {
		e.lock.Unlock()
		fn(ev)
		return func() {}
	}

	// registered before the replay so a repeat emit is never missed
	e.nextId++
	l := &listener{id: e.nextId, once: once, fn: fn}
	e.listeners[event] = append(e.listeners[event], l)
	e.lock.Unlock()

	if fired {
		fn(ev)
	}
	return func() { e.remove(event, l.id) }
}

func (e *Emitter) remove(event string, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls every listener for ev.Name outside the lock, dropping the
// one-shot ones first.
func (e *Emitter) Emit(ev Event) {
	e.lock.Lock()
	if e.sticky[ev.Name] {
		if _, ok := e.fired[ev.Name]; !ok {
			e.fired[ev.Name] = ev
		}
	}
	ls := e.listeners[ev.Name]
	calls := make([]func(Event), 0, len(ls))
	keep := ls[:0:0]
	for _, l := range ls {
		calls = append(calls, l.fn)
		if !l.once {
			keep = append(keep, l)
		}
	}
	e.listeners[ev.Name] = keep
	e.lock.Unlock()

	for _, fn := range calls {
		fn(ev)
	}
}

// Reset forgets every listener and every fired sticky event.
func (e *Emitter) Reset() {
	e.lock.Lock()
	defer e.lock.Unlock()
	clear(e.listeners)
	clear(e.fired)
}
