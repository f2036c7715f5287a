package actorcore

import "sync"

// Watchers holds the termination subscribers of a single address.
type Watchers struct {
	wl       sync.Mutex
	closed   bool
	next     int
	watchers map[int]func(Address)
}

// NewWatchers returns a new instance of Watchers.
func NewWatchers() *Watchers {
	return &Watchers{
		watchers: map[int]func(Address){},
	}
}

// AddWatcher adds giving function as subscription function, returning a
// cancel function. It returns false if the watched address already terminated.
func (w *Watchers) AddWatcher(fn func(Address)) (func(), bool) {
	w.wl.Lock()
	defer w.wl.Unlock()
	if w.closed {
		return nil, false
	}

	id := w.next
	w.next++
	w.watchers[id] = fn

	return func() {
		w.wl.Lock()
		delete(w.watchers, id)
		w.wl.Unlock()
	}, true
}

// Len returns the number of registered subscribers.
func (w *Watchers) Len() int {
	w.wl.Lock()
	defer w.wl.Unlock()
	return len(w.watchers)
}

// Inform delivers the terminated address to all registered subscribers
// once, refusing further subscriptions.
func (w *Watchers) Inform(addr Address) {
	w.wl.Lock()
	if w.closed {
		w.wl.Unlock()
		return
	}

	w.closed = true
	watchers := w.watchers
	w.watchers = map[int]func(Address){}
	w.wl.Unlock()

	for _, fn := range watchers {
		fn(addr)
	}
}
