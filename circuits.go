package actorcore

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/errors"
)

var (
	// ErrOpenedCircuit is returned when circuit breaker is in opened state.
	ErrOpenedCircuit = errors.New("circuit is opened")

	// ErrOpAfterTimeout is returned when operation call executes longer than
	// timeout duration.
	ErrOpAfterTimeout = errors.New("operation finished after timeout")
)

//***********************************************************
// Circuit
//***********************************************************

// Circuit defines configuration values which will be used
// by CircuitBreaker for it's operations.
type Circuit struct {
	// Timeout sets giving timeout duration for execution of
	// giving operation. Zero means no timeout.
	Timeout time.Duration

	// MaxFailures sets giving maximum failure threshold allowed
	// before circuit enters open state.
	//
	// Defaults to 5.
	MaxFailures int64

	// HalfOpenSuccess sets giving minimum successfully calls to
	// circuit operation before entering closed state.
	//
	// Defaults to 1
	HalfOpenSuccess int64

	// MinCoolDown sets minimum time for circuit to be in open state
	// before we allow another attempt into half open state.
	//
	// Defaults to 15 seconds.
	MinCoolDown time.Duration

	// MaxCoolDown caps the cool down which grows with every failed
	// half open attempt.
	//
	// Defaults to 60 seconds.
	MaxCoolDown time.Duration

	// Now provides the current time.
	//
	// Defaults to time.Now().
	Now func() time.Time

	// CanTrigger reports if giving error counts against the circuit.
	//
	// Defaults to a function that always returns true.
	CanTrigger func(error) bool

	// OnTrip is called every time circuit is tripped into open state.
	OnTrip func(name string, lastError error)

	// OnClose is called when circuit enters closed state.
	OnClose func(name string, lastCoolDown time.Duration)

	// OnRun is called after every execution with its start and end time
	// and the error it returned or ErrOpAfterTimeout.
	OnRun func(name string, start time.Time, end time.Time, err error)

	// OnHalfOpen is called every time circuit enters half open state.
	OnHalfOpen func(name string, lastCoolDown time.Duration, lastOpenedTime time.Time)
}

func (cb *Circuit) init() {
	if cb.MaxFailures <= 0 {
		cb.MaxFailures = 5
	}

	if cb.Now == nil {
		cb.Now = time.Now
	}

	if cb.HalfOpenSuccess <= 0 {
		cb.HalfOpenSuccess = 1
	}

	if cb.MinCoolDown <= 0 {
		cb.MinCoolDown = 15 * time.Second
	}

	if cb.MaxCoolDown <= 0 {
		cb.MaxCoolDown = 60 * time.Second
	}

	if cb.MaxCoolDown < cb.MinCoolDown {
		cb.MaxCoolDown = cb.MinCoolDown
	}

	if cb.CanTrigger == nil {
		cb.CanTrigger = func(e error) bool {
			return true
		}
	}
}

//***********************************************************
// CircuitBreaker
//***********************************************************

// CircuitBreaker guards calls to a remote resource: after MaxFailures
// consecutive failures it opens and rejects calls with ErrOpenedCircuit
// till its cool down elapsed, then lets calls through half opened.
type CircuitBreaker struct {
	name         string
	circuit      Circuit
	nextCoolDown AtomicCounter

	ol         sync.Mutex
	lastOpened time.Time

	isOpened        AtomicBool
	currentFailures AtomicCounter

	halfOpenedPasses        AtomicCounter
	currentHalfOpenFailures AtomicCounter
}

// NewCircuitBreaker returns a new instance of CircuitBreaker.
func NewCircuitBreaker(name string, circuit Circuit) *CircuitBreaker {
	circuit.init()

	return &CircuitBreaker{
		name:    name,
		circuit: circuit,
	}
}

// Name returns the name of the breaker.
func (dm *CircuitBreaker) Name() string {
	return dm.name
}

// IsOpened returns true/false if circuit is in opened state.
func (dm *CircuitBreaker) IsOpened() bool {
	return dm.isOpened.IsTrue()
}

// Do will attempt to execute giving function with a timed function if CircuitBreaker provides
// a timeout.
//
// But the fallback if provided will be executed on the following rules:
//
// 1. The circuit is already opened, hence receiving a ErrOpenedCircuit error.
//
// 2. The function failed during execution with an error, which increases failed count and
// forces calling of fallback with received error.
//
func (dm *CircuitBreaker) Do(parentCtx context.Context, fn func(ctx context.Context) error, fallback func(context.Context, error) error) error {
	var cancel func()
	var ctx context.Context

	if dm.circuit.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, dm.circuit.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	if !dm.shouldTry() {
		if fallback == nil {
			return errors.WrapOnly(ErrOpenedCircuit)
		}
		return fallback(ctx, ErrOpenedCircuit)
	}

	if runErr := dm.run(ctx, parentCtx, fn); runErr != nil {
		if fallback != nil {
			return fallback(ctx, runErr)
		}
		return runErr
	}

	return nil
}

func (dm *CircuitBreaker) run(ctx context.Context, parentCtx context.Context, fn func(context.Context) error) error {
	start := dm.circuit.Now()
	runErr := fn(ctx)
	end := dm.circuit.Now()

	if runErr != nil {
		if dm.circuit.OnRun != nil {
			dm.circuit.OnRun(dm.name, start, end, runErr)
		}

		// a caller giving up is not a failure of the resource.
		if parentCtx.Err() != nil {
			return runErr
		}

		if dm.isOpened.IsTrue() {
			dm.recordHalfOpenFailure(runErr)
		} else {
			dm.recordFailure(runErr)
		}
		return runErr
	}

	if dm.circuit.Timeout > 0 && end.Sub(start) > dm.circuit.Timeout {
		if dm.circuit.OnRun != nil {
			dm.circuit.OnRun(dm.name, start, end, ErrOpAfterTimeout)
		}

		if dm.isOpened.IsTrue() {
			dm.recordHalfOpenFailure(ErrOpAfterTimeout)
		} else {
			dm.recordFailure(ErrOpAfterTimeout)
		}

		return errors.WrapOnly(ErrOpAfterTimeout)
	}

	if dm.isOpened.IsTrue() {
		dm.recordHalfOpenSuccess()
	} else {
		dm.currentFailures.Set(0)
	}

	if dm.circuit.OnRun != nil {
		dm.circuit.OnRun(dm.name, start, end, nil)
	}

	return nil
}

func (dm *CircuitBreaker) recordFailure(err error) {
	if !dm.circuit.CanTrigger(err) {
		return
	}

	if dm.currentFailures.Inc() < dm.circuit.MaxFailures {
		return
	}

	if !dm.isOpened.TurnOn() {
		return
	}

	dm.halfOpenedPasses.Set(0)
	dm.currentHalfOpenFailures.Set(0)
	dm.nextCoolDown.Set(dm.circuit.MinCoolDown.Nanoseconds())
	dm.setLastOpened(dm.circuit.Now())

	if dm.circuit.OnTrip != nil {
		dm.circuit.OnTrip(dm.name, err)
	}
}

func (dm *CircuitBreaker) recordHalfOpenSuccess() {
	if dm.halfOpenedPasses.Inc() < dm.circuit.HalfOpenSuccess {
		return
	}

	dm.isOpened.Off()

	if dm.circuit.OnClose != nil {
		dm.circuit.OnClose(dm.name, dm.nextCoolDown.GetDuration())
	}

	dm.currentFailures.Set(0)
	dm.halfOpenedPasses.Set(0)
	dm.currentHalfOpenFailures.Set(0)
	dm.nextCoolDown.Set(dm.circuit.MinCoolDown.Nanoseconds())
}

func (dm *CircuitBreaker) recordHalfOpenFailure(err error) {
	if !dm.circuit.CanTrigger(err) {
		return
	}

	failures := dm.currentHalfOpenFailures.Inc()
	dm.halfOpenedPasses.Set(0)
	dm.setLastOpened(dm.circuit.Now())

	nextCoolDown := dm.circuit.MinCoolDown * time.Duration(failures+1)
	if nextCoolDown > dm.circuit.MaxCoolDown {
		nextCoolDown = dm.circuit.MaxCoolDown
	}
	dm.nextCoolDown.Set(nextCoolDown.Nanoseconds())

	if dm.circuit.OnTrip != nil {
		dm.circuit.OnTrip(dm.name, err)
	}
}

func (dm *CircuitBreaker) shouldTry() bool {
	if !dm.isOpened.IsTrue() {
		return true
	}

	now := dm.circuit.Now()
	nextCool := dm.nextCoolDown.GetDuration()

	dm.ol.Lock()
	lastOpened := dm.lastOpened
	if now.Sub(lastOpened) < nextCool {
		dm.ol.Unlock()
		return false
	}
	dm.lastOpened = now
	dm.ol.Unlock()

	if dm.circuit.OnHalfOpen != nil {
		dm.circuit.OnHalfOpen(dm.name, nextCool, lastOpened)
	}
	return true
}

func (dm *CircuitBreaker) setLastOpened(t time.Time) {
	dm.ol.Lock()
	dm.lastOpened = t
	dm.ol.Unlock()
}
