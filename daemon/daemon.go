// Package daemon contains the controller: the single-threaded event loop
// that owns the effective configuration, the schedule, the smoothing
// animator, and the backend driver, and that linearizes timer deadlines,
// config reloads, signals, and IPC commands into ordered state changes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/psi4j/sunsetr/backend"
	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/ipc"
	"github.com/psi4j/sunsetr/schedule"
	"github.com/psi4j/sunsetr/smoothing"
	"github.com/psi4j/sunsetr/timer"
)

// ErrRestart is returned by Run when a restart command asks the process to
// re-exec itself.
var ErrRestart = errors.New("restart requested")

// setColorRetryPause is how long to wait before the single retry of a
// failed backend apply.
const setColorRetryPause = 200 * time.Millisecond

// eventQueue bounds the controller's inbound event channel.
const eventQueue = 64

// Broadcaster fans an event out to IPC followers. *ipc.Server implements
// it; simulation and tests substitute recorders.
type Broadcaster interface {
	Broadcast(event any)
}

// Options wires a controller.
type Options struct {
	Store     *config.Store
	Config    config.Config
	Preset    string // initially active preset, empty for none
	Clock     timer.Clock
	Driver    backend.Driver
	DriverErr <-chan error
	Server    Broadcaster // nil disables broadcasts
	Logger    *slog.Logger
}

type testOverride struct {
	state color.State
	conn  uint64 // IPC connection that pinned it; 0 for CLI-internal
}

// Controller is the main loop. All fields are owned by Run's goroutine;
// other goroutines communicate exclusively through Events.
type Controller struct {
	store     *config.Store
	clock     timer.Clock
	driver    backend.Driver
	driverErr <-chan error
	server    Broadcaster
	logger    *slog.Logger
	caps      backend.Capabilities

	events chan Event

	cfg    config.Config
	preset string
	sched  *schedule.Schedule
	anim   *smoothing.Animator

	lastApplied color.State
	haveApplied bool
	lastPeriod  schedule.Period
	havePeriod  bool

	test          *testOverride
	pendingReload bool

	jumped   bool
	stopping bool
	restart  bool
	fatal    error
}

// New creates a controller around an already-loaded configuration.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		store:     opts.Store,
		clock:     opts.Clock,
		driver:    opts.Driver,
		driverErr: opts.DriverErr,
		server:    opts.Server,
		logger:    logger,
		caps:      opts.Driver.Capabilities(),
		events:    make(chan Event, eventQueue),
		cfg:       opts.Config,
		preset:    opts.Preset,
		anim:      smoothing.New(opts.Config.AdaptiveInterval),
	}
}

// Events is the channel event sources feed. Senders must never block the
// controller; the channel is bounded and sends from other goroutines should
// be direct (the channel is drained between every frame and every sleep).
func (c *Controller) Events() chan<- Event { return c.events }

// Run drives the loop until a stop request, a fatal backend error, or
// context cancellation. It applies the startup transition first and the
// shutdown transition before returning.
func (c *Controller) Run(ctx context.Context) error {
	if c.driverErr != nil {
		go func() {
			if err := <-c.driverErr; err != nil {
				select {
				case c.events <- BackendFault{Err: err}:
				case <-ctx.Done():
				}
			}
		}()
	}

	now := c.clock.Now()
	c.sched = schedule.Compute(c.cfg, now)
	c.logger.Info("starting",
		"mode", string(c.cfg.Mode),
		"preset", c.preset,
		"period", c.sched.At(now).Kind.String())

	// Startup: ease in from identity rather than snapping. haveApplied
	// stays false so the first target reaches the backend even when it
	// equals identity.
	c.lastApplied, c.haveApplied = color.Neutral, false
	c.moveTo(c.currentTarget(now), c.cfg.StartupDuration)

	for !c.stopping {
		c.animate(ctx)
		if c.stopping {
			break
		}

		now := c.clock.Now()
		if c.jumped || c.sched.Stale(now) {
			c.recompute(now, c.jumped)
			c.jumped = false
			continue
		}

		period := c.sched.At(now)
		c.notePeriod(period)
		if c.test == nil {
			c.apply(c.sched.Target(period))
		}

		wake, interrupted := c.wait(ctx, c.nextDeadline(now))
		if interrupted {
			continue
		}
		switch wake {
		case timer.WakeCancelled:
			c.stopping = true
		case timer.WakeJumped:
			c.jumped = true
		}
	}

	c.shutdown(ctx)
	if c.fatal != nil {
		return c.fatal
	}
	if c.restart {
		return ErrRestart
	}
	return nil
}

// animate runs the current smoothing animation to completion, draining
// events between frames so a new target can retarget mid-flight.
func (c *Controller) animate(ctx context.Context) {
	for c.anim.Active() && !c.stopping {
		c.apply(c.anim.Tick(c.clock.Now()))
		switch c.clock.Sleep(ctx, c.anim.Interval()) {
		case timer.WakeCancelled:
			c.stopping = true
			return
		case timer.WakeJumped:
			c.jumped = true
		}
		c.drainEvents()
	}
}

// wait sleeps until deadline while watching the event stream. It returns
// interrupted=true when events were handled; the caller then re-evaluates
// before sleeping again.
func (c *Controller) wait(ctx context.Context, deadline time.Time) (timer.Wake, bool) {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wakeCh := make(chan timer.Wake, 1)
	go func() {
		wakeCh <- c.clock.SleepUntil(sleepCtx, deadline)
	}()
	select {
	case ev := <-c.events:
		c.handle(ev)
		c.drainEvents()
		cancel()
		if wake := <-wakeCh; wake == timer.WakeJumped {
			c.jumped = true
		}
		return 0, true
	case wake := <-wakeCh:
		c.drainEvents()
		return wake, false
	}
}

func (c *Controller) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		default:
			return
		}
	}
}

// nextDeadline picks the sooner of the next schedule boundary and the
// regular update tick.
func (c *Controller) nextDeadline(now time.Time) time.Time {
	next := now.Add(c.cfg.UpdateInterval)
	if b, _, ok := c.sched.NextBoundary(now); ok && b.Before(next) {
		next = b
	}
	return next
}

// currentTarget is the state the display should show right now: a pinned
// test override, or whatever the schedule prescribes.
func (c *Controller) currentTarget(now time.Time) color.State {
	if c.test != nil {
		return c.test.state
	}
	return c.sched.Target(c.sched.At(now))
}

// recompute rebuilds the schedule (date rollover, config change, or clock
// jump) and snaps-then-smooths to the corrected state.
func (c *Controller) recompute(now time.Time, jump bool) {
	c.sched = schedule.Compute(c.cfg, now)
	if jump {
		c.logger.Info("wall clock jumped, recomputed schedule",
			"period", c.sched.At(now).Kind.String())
	}
	c.notePeriod(c.sched.At(now))
	if c.test == nil {
		c.moveTo(c.currentTarget(now), c.cfg.StartupDuration)
	}
}

// notePeriod broadcasts period_changed when the period kind crosses a
// boundary.
func (c *Controller) notePeriod(p schedule.Period) {
	if c.havePeriod && p.Kind != c.lastPeriod.Kind {
		c.logger.Info("period changed",
			"from", c.lastPeriod.Kind.String(), "to", p.Kind.String())
		c.broadcast(ipc.PeriodChanged{
			EventType:  "period_changed",
			FromPeriod: c.lastPeriod.Kind.String(),
			ToPeriod:   p.Kind.String(),
		})
	}
	c.lastPeriod, c.havePeriod = p, true
}

// moveTo drives the display toward target: animated when the backend wants
// our smoothing, instant otherwise.
func (c *Controller) moveTo(target color.State, duration time.Duration) {
	if c.haveApplied && target.Equal(c.lastApplied) && !c.anim.Active() {
		return
	}
	if !c.cfg.Smoothing || !c.caps.SupportsSmoothing || duration <= 0 {
		c.apply(target)
		return
	}
	if c.anim.Active() {
		c.anim.Retarget(target, duration, c.clock.Now())
		return
	}
	c.anim.Start(c.lastApplied, target, duration, c.clock.Now())
	if !c.anim.Active() { // degenerate animation completes immediately
		c.apply(target)
	}
}

// apply pushes a state to the backend and broadcasts it. A transient
// failure is retried once after a short pause, then logged; the loop keeps
// trying on later ticks.
func (c *Controller) apply(s color.State) {
	if c.haveApplied && c.lastApplied.Equal(s) {
		return
	}
	if err := c.driver.Set(s); err != nil {
		c.logger.Warn("backend apply failed, retrying", "error", err)
		c.clock.Sleep(context.Background(), setColorRetryPause)
		if err := c.driver.Set(s); err != nil {
			c.logger.Warn("backend apply failed", "error", err)
			return
		}
	}
	c.lastApplied, c.haveApplied = s, true
	if c.server != nil {
		c.broadcast(ipc.StateApplied{EventType: "state_applied", Status: *c.status(c.clock.Now())})
	}
}

func (c *Controller) broadcast(event any) {
	if c.server != nil {
		c.server.Broadcast(event)
	}
}

// status snapshots the externally visible state.
func (c *Controller) status(now time.Time) *ipc.Status {
	period := c.sched.At(now)
	st := "stable"
	if period.Kind.Transitioning() || c.anim.Active() {
		st = "transitioning"
	}
	target := c.currentTarget(now)
	s := &ipc.Status{
		Period:       period.Kind.String(),
		State:        st,
		Progress:     period.Progress,
		CurrentTemp:  c.lastApplied.Temperature,
		CurrentGamma: c.lastApplied.Gamma,
		TargetTemp:   target.Temperature,
		TargetGamma:  target.Gamma,
	}
	if c.preset != "" {
		name := c.preset
		s.ActivePreset = &name
	}
	if b, _, ok := c.sched.NextBoundary(now); ok {
		s.NextPeriod = b.Format(time.RFC3339)
	}
	return s
}

// shutdown eases back to identity and releases the backend.
func (c *Controller) shutdown(ctx context.Context) {
	c.logger.Info("shutting down")
	if c.fatal == nil && c.haveApplied && !c.lastApplied.Equal(color.Neutral) &&
		c.cfg.Smoothing && c.caps.SupportsSmoothing && c.cfg.ShutdownDuration > 0 {
		c.anim.Start(c.lastApplied, color.Neutral, c.cfg.ShutdownDuration, c.clock.Now())
		for c.anim.Active() {
			c.apply(c.anim.Tick(c.clock.Now()))
			if c.clock.Sleep(ctx, c.anim.Interval()) == timer.WakeCancelled {
				break
			}
		}
	}
	c.apply(color.Neutral)
	c.driver.Close()
}

// handle processes one event. Handlers are non-blocking and bounded; the
// only blocking waits in the controller are the clock sleeps.
func (c *Controller) handle(ev Event) {
	switch ev := ev.(type) {
	case ConfigChanged:
		if c.test != nil {
			// Reloads are deferred while a test override is pinned so the
			// tested values stay put.
			c.pendingReload = true
			return
		}
		c.reload()

	case SignalReceived:
		switch ev.Sig {
		case syscall.SIGHUP:
			if c.test != nil {
				c.pendingReload = true
				return
			}
			c.reload()
		case syscall.SIGUSR2:
			c.jumped = true
		case syscall.SIGINT, syscall.SIGTERM:
			c.stopping = true
		}

	case ResumeHint:
		c.jumped = true

	case CommandReceived:
		c.command(ev.Cmd)

	case BackendFault:
		c.logger.Error("backend connection failed", "error", ev.Err)
		c.fatal = fmt.Errorf("backend: %w", ev.Err)
		c.stopping = true
	}
}

// command dispatches one IPC command and sends its reply frame.
func (c *Controller) command(cmd ipc.Command) {
	if cmd.Closed {
		if c.test != nil && c.test.conn == cmd.ConnID {
			c.releaseTest()
		}
		return
	}
	reply := func(r ipc.Response) {
		if cmd.Reply != nil {
			cmd.Reply <- r
		}
	}
	fail := func(kind, format string, a ...any) {
		reply(ipc.Response{OK: false, Error: fmt.Sprintf(format, a...), Kind: kind})
	}

	switch cmd.Req.Cmd {
	case ipc.CmdStatusOnce, ipc.CmdStatusFollow:
		reply(ipc.Response{OK: true, Status: c.status(c.clock.Now())})

	case ipc.CmdReload:
		if c.test != nil {
			c.pendingReload = true
			reply(ipc.Response{OK: true})
			return
		}
		if err := c.reload(); err != nil {
			fail(ipc.KindConfig, "%v", err)
			return
		}
		reply(ipc.Response{OK: true})

	case ipc.CmdPreset:
		if cmd.Req.Name == nil {
			fail(ipc.KindIpc, "preset requires a name")
			return
		}
		if err := c.switchPreset(*cmd.Req.Name); err != nil {
			fail(ipc.KindConfig, "%v", err)
			return
		}
		reply(ipc.Response{OK: true, Status: c.status(c.clock.Now())})

	case ipc.CmdTest:
		if cmd.Req.Release != nil && *cmd.Req.Release {
			if c.test != nil {
				c.releaseTest()
			}
			reply(ipc.Response{OK: true})
			return
		}
		if cmd.Req.Temp == nil || cmd.Req.Gamma == nil {
			fail(ipc.KindIpc, "test requires temp and gamma")
			return
		}
		temp, gamma := *cmd.Req.Temp, *cmd.Req.Gamma
		if temp < config.MinTemp || temp > config.MaxTemp {
			fail(ipc.KindConfig, "temp %d out of range 1000-20000", temp)
			return
		}
		if gamma < config.MinGamma || gamma > config.MaxGamma {
			fail(ipc.KindConfig, "gamma %v out of range 10-200", gamma)
			return
		}
		c.test = &testOverride{state: color.State{Temperature: temp, Gamma: gamma}, conn: cmd.ConnID}
		c.moveTo(c.test.state, c.cfg.StartupDuration)
		reply(ipc.Response{OK: true})

	case ipc.CmdStop:
		reply(ipc.Response{OK: true})
		c.stopping = true

	case ipc.CmdRestart:
		reply(ipc.Response{OK: true})
		c.restart = true
		c.stopping = true
		if cmd.Req.Instant != nil && *cmd.Req.Instant {
			c.cfg.ShutdownDuration = 0
		}

	default:
		fail(ipc.KindIpc, "unknown command %q", cmd.Req.Cmd)
	}
}

// releaseTest unpins the test override, applies any reload deferred behind
// it, and eases back to the scheduled state.
func (c *Controller) releaseTest() {
	c.test = nil
	if c.pendingReload {
		c.pendingReload = false
		c.reload()
		return
	}
	c.moveTo(c.currentTarget(c.clock.Now()), c.cfg.StartupDuration)
}

// reload builds a candidate config and swaps it in if valid; on failure the
// running config is kept. A changed backend is never re-bound live.
func (c *Controller) reload() error {
	next, err := c.store.Load(c.preset)
	if err != nil {
		c.logger.Warn("config reload failed, keeping previous", "error", err)
		return err
	}
	if next.Backend != c.cfg.Backend {
		c.logger.Warn("backend change requires restart, keeping current backend",
			"configured", string(next.Backend), "active", string(c.cfg.Backend))
		next.Backend = c.cfg.Backend
	}
	if next == c.cfg {
		return nil
	}
	if !c.anim.Active() && next.AdaptiveInterval != c.cfg.AdaptiveInterval {
		c.anim = smoothing.New(next.AdaptiveInterval)
	}
	c.cfg = next
	now := c.clock.Now()
	c.sched = schedule.Compute(c.cfg, now)
	c.logger.Info("configuration reloaded", "mode", string(c.cfg.Mode))
	c.moveTo(c.currentTarget(now), c.cfg.StartupDuration)
	return nil
}

// switchPreset toggles the named overlay: selecting the active preset (or
// "default") returns to the base configuration.
func (c *Controller) switchPreset(name string) error {
	if name == "default" {
		name = ""
	}
	if name != "" && name == c.preset {
		name = ""
	}
	next, err := c.store.Load(name)
	if err != nil {
		return err
	}
	if next.Backend != c.cfg.Backend {
		c.logger.Warn("preset changes backend, which requires restart; keeping current backend",
			"configured", string(next.Backend))
		next.Backend = c.cfg.Backend
	}

	var from, to *string
	if c.preset != "" {
		v := c.preset
		from = &v
	}
	if name != "" {
		v := name
		to = &v
	}
	c.preset = name
	c.cfg = next
	if err := config.SaveActivePreset(name); err != nil {
		c.logger.Warn("persist active preset", "error", err)
	}

	now := c.clock.Now()
	c.sched = schedule.Compute(c.cfg, now)
	period := c.sched.At(now)
	target := c.sched.Target(period)
	c.logger.Info("preset changed", "from", orDefault(from), "to", orDefault(to))
	c.broadcast(ipc.PresetChanged{
		EventType:    "preset_changed",
		FromPreset:   from,
		ToPreset:     to,
		TargetPeriod: period.Kind.String(),
		TargetTemp:   target.Temperature,
		TargetGamma:  target.Gamma,
	})
	if c.test == nil {
		c.moveTo(target, c.cfg.StartupDuration)
	}
	return nil
}

func orDefault(name *string) string {
	if name == nil {
		return "default"
	}
	return *name
}
