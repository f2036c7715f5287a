package actorcore

//****************************************
// EventMailInvoker
//****************************************

// EventMailInvoker implements the MailInvoker interface and simply
// publishes events for all invocations received.
type EventMailInvoker struct {
	Events *Eventer
}

// InvokedFull emits a MailboxFull event.
func (em EventMailInvoker) InvokedFull(addr Address) {
	em.Events.Publish(MailboxFull{Addr: addr})
}

// InvokedDropped emits a EnvelopeDropped event.
func (em EventMailInvoker) InvokedDropped(addr Address, env Envelope) {
	em.Events.Publish(EnvelopeDropped{Addr: addr, Envelope: env})
}

// InvokedReceived emits a EnvelopeReceived event.
func (em EventMailInvoker) InvokedReceived(addr Address, env Envelope) {
	em.Events.Publish(EnvelopeReceived{Addr: addr, Envelope: env})
}

// InvokedDispatched emits a EnvelopeDispatched event.
func (em EventMailInvoker) InvokedDispatched(addr Address, env Envelope) {
	em.Events.Publish(EnvelopeDispatched{Addr: addr, Envelope: env})
}

//****************************************
// MailInvokers
//****************************************

// MailInvokers fans invocations out to a list of MailInvoker.
type MailInvokers []MailInvoker

// InvokedFull calls InvokedFull on every invoker.
func (m MailInvokers) InvokedFull(addr Address) {
	for _, in := range m {
		in.InvokedFull(addr)
	}
}

// InvokedDropped calls InvokedDropped on every invoker.
func (m MailInvokers) InvokedDropped(addr Address, env Envelope) {
	for _, in := range m {
		in.InvokedDropped(addr, env)
	}
}

// InvokedReceived calls InvokedReceived on every invoker.
func (m MailInvokers) InvokedReceived(addr Address, env Envelope) {
	for _, in := range m {
		in.InvokedReceived(addr, env)
	}
}

// InvokedDispatched calls InvokedDispatched on every invoker.
func (m MailInvokers) InvokedDispatched(addr Address, env Envelope) {
	for _, in := range m {
		in.InvokedDispatched(addr, env)
	}
}
