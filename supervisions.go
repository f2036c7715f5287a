package actorcore

import (
	"context"
	"time"

	"github.com/gokit/actorcore/retries"
	"github.com/gokit/errors"
	"golang.org/x/sync/errgroup"
)

// defaults of supervisor configuration.
const (
	DefaultMinBackoff      = 50 * time.Millisecond
	DefaultMaxBackoff      = 5 * time.Second
	DefaultResetAfter      = 30 * time.Second
	DefaultMaxRestarts     = 3
	DefaultRestartWindow   = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

//***********************************
//  RestartPolicy
//***********************************

// RestartPolicy decides whether terminated children are restarted.
type RestartPolicy uint8

// constants of restart policies.
const (
	// OnFailure restarts children which faulted.
	OnFailure RestartPolicy = iota

	// Always restarts children which faulted or completed.
	Always

	// Never removes children once they terminate.
	Never
)

// String implements the Stringer interface.
func (r RestartPolicy) String() string {
	switch r {
	case Never:
		return "never"
	case OnFailure:
		return "on_failure"
	case Always:
		return "always"
	}
	return "unknown"
}

func (r RestartPolicy) restarts(kind ExitKind) bool {
	switch kind {
	case ExitFaulted:
		return r != Never
	case ExitCompleted:
		return r == Always
	}
	return false
}

//***********************************
//  TerminationPolicy
//***********************************

// TerminationPolicy decides how children of a group are told to stop.
type TerminationPolicy uint8

// constants of termination policies.
const (
	// Closing closes the mailbox of each child; queued envelopes are
	// drained within the child's grace.
	Closing TerminationPolicy = iota

	// Manually delivers a Terminate message and keeps the mailbox open
	// until the child calls Context.Stop. A child that has not stopped
	// once its grace elapses is stopped forcefully.
	Manually
)

// String implements the Stringer interface.
func (t TerminationPolicy) String() string {
	switch t {
	case Closing:
		return "closing"
	case Manually:
		return "manually"
	}
	return "unknown"
}

//***********************************
//  Backoff
//***********************************

// Backoff configures the delay before restarts of a failing child.
type Backoff struct {
	// Min is the delay before the first restart.
	Min time.Duration

	// Max caps the exponentially growing delay.
	Max time.Duration

	// ResetAfter is the healthy run time after which the failure
	// count and delay return to Min.
	ResetAfter time.Duration
}

// Interval returns the delay before the restart following giving number
// of consecutive failures.
func (b Backoff) Interval(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	return retries.RangeExponentialBackOff(b.Min, b.Max, failures-1)
}

func (b *Backoff) ensure() {
	if b.Min <= 0 {
		b.Min = DefaultMinBackoff
	}
	if b.Max < b.Min {
		b.Max = DefaultMaxBackoff
		if b.Max < b.Min {
			b.Max = b.Min
		}
	}
	if b.ResetAfter <= 0 {
		b.ResetAfter = DefaultResetAfter
	}
}

//***********************************
//  SupervisorConfig
//***********************************

// SupervisorConfig describes a supervised group and its subtree.
type SupervisorConfig struct {
	Name   string
	Policy RestartPolicy
	Backoff

	// MaxRestarts is the number of restarts of a single role allowed within
	// Window; the next fault escalates to the parent.
	MaxRestarts int
	Window      time.Duration

	// Router selects members for envelopes sent to the group address.
	// A RoundRobinRouter is used if nil.
	Router Router

	// ShutdownTimeout bounds the wait for children to stop.
	ShutdownTimeout time.Duration

	// Termination applies when the group stops its children.
	Termination TerminationPolicy

	Actors []ActorSpec
	Groups []SupervisorConfig
}

func (s *SupervisorConfig) ensure() {
	s.Backoff.ensure()
	if s.MaxRestarts <= 0 {
		s.MaxRestarts = DefaultMaxRestarts
	}
	if s.Window <= 0 {
		s.Window = DefaultRestartWindow
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.Router == nil {
		s.Router = NewRoundRobinRouter()
	}
	for i := range s.Actors {
		s.Actors[i].ensure()
	}
	for i := range s.Groups {
		s.Groups[i].ensure()
	}
}

func (s SupervisorConfig) validate() error {
	if s.Name == "" {
		return errors.New("supervisor requires a name")
	}

	seen := map[string]bool{}
	for _, spec := range s.Actors {
		if err := spec.validate(); err != nil {
			return errors.Wrap(err, "invalid actor in %q", s.Name)
		}
		if seen[spec.Role] {
			return errors.Wrap(ErrRoleExists, "role %q repeated in %q", spec.Role, s.Name)
		}
		seen[spec.Role] = true
	}

	for _, group := range s.Groups {
		if err := group.validate(); err != nil {
			return errors.Wrap(err, "invalid group in %q", s.Name)
		}
		if seen[group.Name] {
			return errors.Wrap(ErrRoleExists, "group %q repeated in %q", group.Name, s.Name)
		}
		seen[group.Name] = true
	}
	return nil
}

//***********************************
//  RestartStats
//***********************************

// RestartStats is a snapshot of the restart state of a role.
type RestartStats struct {
	Role        string
	Addr        Address
	State       ActorState
	Failures    int
	Restarts    int
	Backoff     time.Duration
	LastRestart time.Time
	StartedAt   time.Time
}

type restartState struct {
	failures    int
	restarts    int
	backoff     time.Duration
	lastRestart time.Time
	startedAt   time.Time
	window      []time.Time
}

// child is a supervised role: either an actor spec or a sub-supervisor.
type child struct {
	role    string
	spec    ActorSpec
	sub     *Supervisor
	current *actor
	state   ActorState
	removed bool
	timer   *time.Timer
	restart restartState
}

func (c *child) addr() Address {
	if c.sub != nil {
		return c.sub.addr
	}
	if c.current != nil && !c.current.exited() {
		return c.current.addr
	}
	return NullAddress
}

//***********************************
//  Supervisor
//***********************************

// Supervisor owns a named group of actors and sub-supervisors, restarting
// them by its policy and escalating to its parent once a role exhausts its
// restart budget. All supervisor state is owned by its control goroutine.
type Supervisor struct {
	config   SupervisorConfig
	path     string
	group    GroupNo
	addr     Address
	rt       *runtime
	escalate func(*Supervisor, error)

	control chan func()
	quit    chan struct{}
	done    chan struct{}
	stopped AtomicBool

	// owned by the control goroutine.
	children   map[string]*child
	order      []string
	halting    bool
	escalating bool
}

func newSupervisor(rt *runtime, parent string, config SupervisorConfig, escalate func(*Supervisor, error)) (*Supervisor, error) {
	group, err := rt.book.AllocateGroup()
	if err != nil {
		return nil, err
	}

	addr, err := rt.book.registerGroup(group, config.Router)
	if err != nil {
		return nil, err
	}

	path := config.Name
	if parent != "" {
		path = parent + "/" + config.Name
	}

	sup := &Supervisor{
		config:   config,
		path:     path,
		group:    group,
		addr:     addr,
		rt:       rt,
		escalate: escalate,
		control:  make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		children: map[string]*child{},
	}

	for _, spec := range config.Actors {
		sup.addChild(&child{role: spec.Role, spec: spec})
	}

	for _, gc := range config.Groups {
		sub, err := newSupervisor(rt, path, gc, sup.onEscalation)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create group %q", gc.Name)
		}
		sup.addChild(&child{role: gc.Name, sub: sub})
	}

	go sup.loop()
	return sup, nil
}

// Name returns the name of the supervisor.
func (s *Supervisor) Name() string {
	return s.config.Name
}

// Path returns the slash separated names from the root to this supervisor.
func (s *Supervisor) Path() string {
	return s.path
}

// Addr returns the group address, routing envelopes to live members.
func (s *Supervisor) Addr() Address {
	return s.addr
}

// Members returns addresses of live actors currently routed to.
func (s *Supervisor) Members() []Address {
	return s.config.Router.Members()
}

// Lookup returns the current address of giving role.
func (s *Supervisor) Lookup(role string) (Address, bool) {
	var addr Address
	var found bool
	s.call(func() {
		if ch, ok := s.children[role]; ok {
			addr = ch.addr()
			found = !addr.IsNull()
		}
	})
	return addr, found
}

// Child returns the sub-supervisor with giving name.
func (s *Supervisor) Child(name string) (*Supervisor, bool) {
	var sub *Supervisor
	s.call(func() {
		if ch, ok := s.children[name]; ok {
			sub = ch.sub
		}
	})
	return sub, sub != nil
}

// Roles returns the roles supervised in insertion order.
func (s *Supervisor) Roles() []string {
	var roles []string
	s.call(func() {
		roles = append(roles, s.order...)
	})
	return roles
}

// RestartStats returns the restart state of giving role.
func (s *Supervisor) RestartStats(role string) (RestartStats, bool) {
	var stats RestartStats
	var found bool
	s.call(func() {
		ch, ok := s.children[role]
		if !ok {
			return
		}

		found = true
		stats = RestartStats{
			Role:        role,
			Addr:        ch.addr(),
			State:       ch.state,
			Failures:    ch.restart.failures,
			Restarts:    ch.restart.restarts,
			Backoff:     ch.restart.backoff,
			LastRestart: ch.restart.lastRestart,
			StartedAt:   ch.restart.startedAt,
		}
	})
	return stats, found
}

// Spawn adds and starts a new role, returning its address once Starting
// completed. A failed start is returned as a *FaultError and handled by
// the restart policy.
func (s *Supervisor) Spawn(ctx context.Context, spec ActorSpec) (Address, error) {
	spec.ensure()
	if err := spec.validate(); err != nil {
		return NullAddress, err
	}

	var inst *actor
	var err error
	if cerr := s.call(func() {
		if s.halting {
			err = errors.Wrap(ErrSupervisorStopped, "spawn %q in %q", spec.Role, s.path)
			return
		}
		if _, ok := s.children[spec.Role]; ok {
			err = errors.Wrap(ErrRoleExists, "spawn %q in %q", spec.Role, s.path)
			return
		}

		ch := &child{role: spec.Role, spec: spec}
		s.addChild(ch)
		inst, err = s.startActor(ch)
	}); cerr != nil {
		return NullAddress, cerr
	}

	if err != nil {
		return NullAddress, err
	}
	return inst.addr, awaitStart(ctx, inst)
}

// AddGroup adds and starts a new sub-supervisor.
func (s *Supervisor) AddGroup(ctx context.Context, config SupervisorConfig) (*Supervisor, error) {
	config.ensure()
	if err := config.validate(); err != nil {
		return nil, err
	}

	var sub *Supervisor
	var err error
	if cerr := s.call(func() {
		if s.halting {
			err = errors.Wrap(ErrSupervisorStopped, "add group %q in %q", config.Name, s.path)
			return
		}
		if _, ok := s.children[config.Name]; ok {
			err = errors.Wrap(ErrRoleExists, "add group %q in %q", config.Name, s.path)
			return
		}

		sub, err = newSupervisor(s.rt, s.path, config, s.onEscalation)
		if err == nil {
			s.addChild(&child{role: config.Name, sub: sub, state: StateRunning})
		}
	}); cerr != nil {
		return nil, cerr
	}

	if err != nil {
		return nil, err
	}
	return sub, sub.start(ctx)
}

// Respawn starts a role which was removed after a graceful stop or under
// the Never policy, with a fresh restart state.
func (s *Supervisor) Respawn(ctx context.Context, role string) (Address, error) {
	var inst *actor
	var sub *Supervisor
	var err error
	if cerr := s.call(func() {
		ch, ok := s.children[role]
		if !ok {
			err = errors.Wrap(ErrRoleNotFound, "respawn %q in %q", role, s.path)
			return
		}
		if !ch.removed {
			err = errors.New("role %q in %q is still supervised", role, s.path)
			return
		}

		ch.removed = false
		ch.restart = restartState{}
		if ch.sub != nil {
			sub = ch.sub
			ch.state = StateRunning
			return
		}
		inst, err = s.startActor(ch)
	}); cerr != nil {
		return NullAddress, cerr
	}

	if err != nil {
		return NullAddress, err
	}
	if sub != nil {
		return sub.addr, sub.revive(ctx)
	}
	return inst.addr, awaitStart(ctx, inst)
}

// StopChild gracefully stops giving role, which stays removed until respawned.
func (s *Supervisor) StopChild(ctx context.Context, role string) error {
	var inst *actor
	var sub *Supervisor
	var err error
	if cerr := s.call(func() {
		ch, ok := s.children[role]
		if !ok {
			err = errors.Wrap(ErrRoleNotFound, "stop %q in %q", role, s.path)
			return
		}

		ch.removed = true
		ch.stopTimer()
		inst, sub = ch.current, ch.sub
	}); cerr != nil {
		return cerr
	}

	if err != nil {
		return err
	}
	if sub != nil {
		return sub.halt(ctx, false)
	}
	if inst != nil {
		return awaitStop(ctx, inst)
	}
	return nil
}

// Remove stops giving role and forgets it.
func (s *Supervisor) Remove(ctx context.Context, role string) error {
	if err := s.StopChild(ctx, role); err != nil {
		return err
	}

	var sub *Supervisor
	s.call(func() {
		if ch, ok := s.children[role]; ok {
			sub = ch.sub
			s.removeChild(role)
		}
	})

	if sub != nil {
		return sub.Stop(ctx)
	}
	return nil
}

// Stop stops all children top-down, waiting at most ShutdownTimeout for
// each, then releases the group address.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.stopped.TurnOn() {
		<-s.done
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.rt.book.closeGroup(s.addr)
	err := s.halt(ctx, true)

	close(s.quit)
	<-s.done
	s.rt.book.Deregister(s.addr)

	LogMsg("supervisor stopped").
		String("group", s.path).
		Err(err).
		Write(INFO, s.rt.logs)
	return err
}

// start starts every configured child, returning once all actors finished Starting.
func (s *Supervisor) start(ctx context.Context) error {
	var pending []*actor
	var subs []*Supervisor
	if err := s.call(func() {
		for _, role := range s.order {
			ch := s.children[role]
			if ch.sub != nil {
				ch.state = StateRunning
				subs = append(subs, ch.sub)
				continue
			}

			inst, err := s.startActor(ch)
			if err != nil {
				s.onStartFailure(ch, err)
				continue
			}
			pending = append(pending, inst)
		}
	}); err != nil {
		return err
	}

	for _, sub := range subs {
		if err := sub.start(ctx); err != nil {
			return err
		}
	}

	for _, inst := range pending {
		if err := awaitStart(ctx, inst); err != nil && !IsFaulted(err) {
			return err
		}
	}
	return nil
}

// halt stops all children without ending the control loop. When final is
// false the subtree can be revived later.
func (s *Supervisor) halt(ctx context.Context, final bool) error {
	var actors []*actor
	var subs []*Supervisor
	if err := s.call(func() {
		s.halting = true
		for _, role := range s.order {
			ch := s.children[role]
			ch.stopTimer()
			if ch.sub != nil {
				subs = append(subs, ch.sub)
				continue
			}
			if ch.current != nil {
				ch.current.halted = true
				actors = append(actors, ch.current)
			}
		}
	}); err != nil {
		return err
	}

	var group errgroup.Group
	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			if final {
				return sub.Stop(ctx)
			}
			return sub.halt(ctx, false)
		})
	}

	for _, inst := range actors {
		inst := inst
		group.Go(func() error {
			return awaitStop(ctx, inst)
		})
	}
	return group.Wait()
}

// revive restarts a halted subtree with fresh restart state.
func (s *Supervisor) revive(ctx context.Context) error {
	var subs []*Supervisor
	var pending []*actor
	if err := s.call(func() {
		s.halting = false
		s.escalating = false
		for _, role := range s.order {
			ch := s.children[role]
			if ch.removed {
				continue
			}

			ch.restart = restartState{}
			if ch.sub != nil {
				ch.state = StateRunning
				subs = append(subs, ch.sub)
				continue
			}

			// a halted actor may still be stopping; its late exit is
			// ignored once current moves on.
			if ch.current != nil && (ch.current.halted || ch.current.exited()) {
				ch.current = nil
			}
			if ch.current == nil {
				inst, err := s.startActor(ch)
				if err != nil {
					s.onStartFailure(ch, err)
					continue
				}
				pending = append(pending, inst)
			}
		}
	}); err != nil {
		return err
	}

	for _, sub := range subs {
		if err := sub.revive(ctx); err != nil {
			return err
		}
	}

	for _, inst := range pending {
		if err := awaitStart(ctx, inst); err != nil && !IsFaulted(err) {
			return err
		}
	}
	return nil
}

//***********************************
//  control loop
//***********************************

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.control:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn on the control loop without waiting for it.
func (s *Supervisor) post(fn func()) {
	select {
	case s.control <- fn:
	case <-s.done:
	}
}

// call runs fn on the control loop and waits for it to finish.
func (s *Supervisor) call(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.control <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.done:
		return errors.Wrap(ErrSupervisorStopped, "supervisor %q", s.path)
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return errors.Wrap(ErrSupervisorStopped, "supervisor %q", s.path)
	}
}

func (s *Supervisor) addChild(ch *child) {
	s.children[ch.role] = ch
	s.order = append(s.order, ch.role)
}

func (s *Supervisor) removeChild(role string) {
	delete(s.children, role)
	for i, r := range s.order {
		if r == role {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// startActor must run on the control loop.
func (s *Supervisor) startActor(ch *child) (*actor, error) {
	inst, err := newActor(s.rt, s, ch.spec)
	if err != nil {
		return nil, err
	}

	ch.current = inst
	ch.state = StateStarting
	go inst.run(s.onStarted(ch), s.onExit(ch))
	return inst, nil
}

func (s *Supervisor) onStarted(ch *child) func(*actor) {
	return func(inst *actor) {
		s.config.Router.Add(inst.addr)

		s.rt.events.Publish(ActorStarted{
			Addr:  inst.addr,
			Role:  ch.role,
			Group: s.path,
			Time:  time.Now(),
		})

		s.post(func() {
			if ch.current == inst && ch.state == StateStarting {
				ch.state = StateRunning
				ch.restart.startedAt = time.Now()
			}
		})
	}
}

func (s *Supervisor) onExit(ch *child) func(*actor, Exit) {
	return func(inst *actor, exit Exit) {
		s.config.Router.Remove(inst.addr)

		s.rt.events.Publish(ActorTerminated{
			Addr:  exit.Addr,
			Role:  exit.Role,
			Group: s.path,
			Exit:  exit.Kind,
			Cause: exit.Cause,
			Time:  exit.Time,
		})

		level := INFO
		if exit.Kind == ExitFaulted {
			level = ERROR
		}
		LogMsg("actor terminated").
			String("group", s.path).
			String("role", exit.Role).
			String("addr", exit.Addr.String()).
			String("exit", exit.Kind.String()).
			Err(exit.Cause).
			Write(level, s.rt.logs)

		s.post(func() {
			s.handleExit(ch, inst, exit)
		})
	}
}

// handleExit must run on the control loop.
func (s *Supervisor) handleExit(ch *child, inst *actor, exit Exit) {
	if ch.current != inst {
		return
	}

	ch.current = nil
	ch.state = StateTerminated

	if s.halting || s.escalating || ch.removed {
		return
	}

	if !s.config.Policy.restarts(exit.Kind) {
		ch.removed = true
		return
	}

	s.scheduleRestart(ch, exit.StartedAt, exit.Cause)
}

// onStartFailure must run on the control loop.
func (s *Supervisor) onStartFailure(ch *child, err error) {
	LogMsg("failed to start actor").
		String("group", s.path).
		String("role", ch.role).
		Err(err).
		Write(ERROR, s.rt.logs)

	ch.state = StateTerminated
	if s.config.Policy == Never {
		ch.removed = true
		return
	}
	s.scheduleRestart(ch, time.Time{}, err)
}

// onEscalation is the escalation target of sub-supervisors.
func (s *Supervisor) onEscalation(sub *Supervisor, cause error) {
	s.post(func() {
		ch, ok := s.children[sub.config.Name]
		if !ok || ch.sub != sub {
			return
		}

		ch.state = StateTerminated
		if s.halting || s.escalating || ch.removed {
			return
		}

		if s.config.Policy == Never {
			ch.removed = true
			return
		}
		s.scheduleRestart(ch, ch.restart.startedAt, cause)
	})
}

// scheduleRestart must run on the control loop.
func (s *Supervisor) scheduleRestart(ch *child, startedAt time.Time, cause error) {
	now := time.Now()
	rs := &ch.restart

	if !startedAt.IsZero() && now.Sub(startedAt) >= s.config.ResetAfter {
		rs.failures = 0
	}

	threshold := now.Add(-s.config.Window)
	kept := rs.window[:0]
	for _, at := range rs.window {
		if at.After(threshold) {
			kept = append(kept, at)
		}
	}
	rs.window = kept

	if len(rs.window) >= s.config.MaxRestarts {
		s.escalateRole(ch, cause)
		return
	}

	rs.failures++
	rs.restarts++
	rs.backoff = s.config.Backoff.Interval(rs.failures)
	rs.window = append(rs.window, now)
	ch.state = StateRestarting

	s.rt.events.Publish(RestartScheduled{
		Role:    ch.role,
		Group:   s.path,
		Attempt: rs.failures,
		Backoff: rs.backoff,
		Time:    now,
	})

	LogMsg("restart scheduled").
		String("group", s.path).
		String("role", ch.role).
		Int("attempt", rs.failures).
		Int64("backoff_ms", int64(rs.backoff/time.Millisecond)).
		Write(WARN, s.rt.logs)

	ch.timer = time.AfterFunc(rs.backoff, func() {
		s.post(func() {
			s.restartChild(ch)
		})
	})
}

// restartChild must run on the control loop.
func (s *Supervisor) restartChild(ch *child) {
	ch.timer = nil
	if s.halting || s.escalating || ch.removed {
		return
	}
	if _, ok := s.children[ch.role]; !ok {
		return
	}

	ch.restart.lastRestart = time.Now()

	if ch.sub != nil {
		ch.state = StateRunning
		ch.restart.startedAt = ch.restart.lastRestart
		sub := ch.sub
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
			defer cancel()
			if err := sub.revive(ctx); err != nil {
				LogMsg("failed to revive group").
					String("group", sub.path).
					Err(err).
					Write(ERROR, s.rt.logs)
			}
		}()
		return
	}

	if _, err := s.startActor(ch); err != nil {
		s.onStartFailure(ch, err)
	}
}

// escalateRole must run on the control loop. It halts the whole group and
// reports the supervisor as faulted to its parent.
func (s *Supervisor) escalateRole(ch *child, cause error) {
	if s.escalating {
		return
	}
	s.escalating = true
	ch.state = StateTerminated

	reason := errors.New("role %q exceeded %d restarts within %s", ch.role, s.config.MaxRestarts, s.config.Window)
	if cause != nil {
		reason = errors.Wrap(cause, "role %q exceeded %d restarts within %s", ch.role, s.config.MaxRestarts, s.config.Window)
	}
	fault := Faulted(s.config.Name, s.addr, reason)

	s.rt.events.Publish(SupervisorEscalated{
		Group: s.path,
		Role:  ch.role,
		Cause: fault,
		Time:  time.Now(),
	})

	LogMsg("supervisor escalating").
		String("group", s.path).
		String("role", ch.role).
		Err(cause).
		Write(ERROR, s.rt.logs)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.halt(ctx, false); err != nil {
			LogMsg("failed to halt escalating group").
				String("group", s.path).
				Err(err).
				Write(ERROR, s.rt.logs)
		}
		s.escalate(s, fault)
	}()
}

func (c *child) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.current == nil && c.state == StateRestarting {
		c.state = StateTerminated
	}
}

//***********************************
//  helpers
//***********************************

func awaitStart(ctx context.Context, inst *actor) error {
	select {
	case <-inst.ready:
		if inst.startErr != nil {
			return Faulted(inst.spec.Role, inst.addr, inst.startErr)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for %q to start", inst.spec.Role)
	}
}

func awaitStop(ctx context.Context, inst *actor) error {
	inst.terminate()
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		inst.cancel()
		return errors.Wrap(ctx.Err(), "waiting for %q at %s to stop", inst.spec.Role, inst.addr)
	}
}
