package actorcore

import "github.com/gokit/errors"

// ErrUnhandledKind is returned by a Mux without handler for a message kind.
var ErrUnhandledKind = errors.New("no handler for message kind")

// HandlerFunc handles envelopes of one message kind.
type HandlerFunc func(*Context, Envelope) error

// Mux implements Behaviour by dispatching envelopes to handlers registered
// for the kind of their payload, as returned by KindOf.
type Mux struct {
	handlers map[string]HandlerFunc
	fallback HandlerFunc
}

// NewMux returns a new instance of Mux.
func NewMux() *Mux {
	return &Mux{handlers: map[string]HandlerFunc{}}
}

// Handle registers fn for messages of giving kind.
func (m *Mux) Handle(kind string, fn HandlerFunc) *Mux {
	m.handlers[kind] = fn
	return m
}

// HandleOf registers fn for messages of the same kind as sample.
func (m *Mux) HandleOf(sample interface{}, fn HandlerFunc) *Mux {
	return m.Handle(KindOf(sample), fn)
}

// Fallback registers fn for kinds without a handler. Without it such
// envelopes fault the actor with ErrUnhandledKind, except Terminate which
// stops the actor.
func (m *Mux) Fallback(fn HandlerFunc) *Mux {
	m.fallback = fn
	return m
}

// Receive implements the Behaviour interface.
func (m *Mux) Receive(ctx *Context, env Envelope) error {
	kind := KindOf(env.Data)
	if fn, ok := m.handlers[kind]; ok {
		return fn(ctx, env)
	}
	if m.fallback != nil {
		return m.fallback(ctx, env)
	}
	if _, ok := env.Data.(Terminate); ok {
		ctx.Stop()
		return nil
	}
	return errors.Wrap(ErrUnhandledKind, "kind %q from %s", kind, env.Sender)
}

//***********************************
//  Discard
//***********************************

// DiscardBehaviour drops every envelope it receives, stopping on Terminate.
type DiscardBehaviour struct{}

// Receive implements the Behaviour interface.
func (DiscardBehaviour) Receive(ctx *Context, env Envelope) error {
	if _, ok := env.Data.(Terminate); ok {
		ctx.Stop()
	}
	return nil
}
