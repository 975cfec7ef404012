package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/psi4j/sunsetr/backend"
	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/ipc"
	"github.com/psi4j/sunsetr/timer"
)

// recorder captures broadcast events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Broadcast(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) stateApplied() []ipc.StateApplied {
	var out []ipc.StateApplied
	for _, ev := range r.all() {
		if sa, ok := ev.(ipc.StateApplied); ok {
			out = append(out, sa)
		}
	}
	return out
}

// harness runs a controller on a fast-forward virtual clock and a recording
// backend.
type harness struct {
	ctrl   *Controller
	clock  *timer.Simulated
	driver *backend.Null
	events *recorder
	store  *config.Store
	done   chan error
	cancel context.CancelFunc
}

// newHarness fast-forwards virtual time; newPacedHarness runs it at a
// real-time multiple for tests that need to interleave external stimuli at
// a known virtual instant.
func newHarness(t *testing.T, cfg config.Config, start time.Time) *harness {
	return newPacedHarness(t, cfg, start, 0)
}

func newPacedHarness(t *testing.T, cfg config.Config, start time.Time, mult float64) *harness {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	root := t.TempDir()
	raw, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sunsetr.toml"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := config.NewStore(root)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		clock:  timer.NewSimulated(start, mult),
		driver: backend.NewNull(backend.Capabilities{SupportsSmoothing: true}),
		events: &recorder{},
		store:  store,
		done:   make(chan error, 1),
	}
	h.ctrl = New(Options{
		Store:  store,
		Config: cfg,
		Clock:  h.clock,
		Driver: h.driver,
		Server: h.events,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- h.ctrl.Run(ctx) }()
	return h
}

// stopWhen sends stop once cond holds (or the timeout passes) and waits for
// Run to return.
func (h *harness) stopWhen(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Log("condition not reached before timeout")
			break
		}
		time.Sleep(time.Millisecond)
	}
	h.ctrl.Events() <- SignalReceived{Sig: syscall.SIGTERM}
	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		h.cancel()
		<-h.done
	}
}

func (h *harness) virtualAfter(d time.Duration) func() bool {
	start := h.clock.Now()
	return func() bool { return h.clock.Now().Sub(start) >= d }
}

// sawApplied reports whether the driver has received want at any point.
func (h *harness) sawApplied(want color.State) func() bool {
	return func() bool {
		for _, s := range h.driver.Applied() {
			if s.Equal(want) {
				return true
			}
		}
		return false
	}
}

func geoChicagoConfig(t *testing.T) config.Config {
	if _, err := time.LoadLocation("America/Chicago"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cfg := config.Default()
	cfg.Mode = config.ModeGeo
	cfg.HasCoordinates = true
	cfg.Latitude, cfg.Longitude = 41.8500, -87.6501
	return cfg
}

// Geo sunset: stepping through the evening drives day values to night
// values, with eased intermediate progress visible over IPC.
func TestGeoSunsetScenario(t *testing.T) {
	cfg := geoChicagoConfig(t)
	loc, _ := time.LoadLocation("America/Chicago")
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, loc)

	h := newHarness(t, cfg, start)
	h.stopWhen(t, h.sawApplied(cfg.Night))

	applied := h.driver.Applied()
	if len(applied) == 0 {
		t.Fatal("nothing applied")
	}
	sawNight := false
	for _, s := range applied {
		if s.Temperature < cfg.Night.Temperature || s.Temperature > cfg.Day.Temperature {
			t.Errorf("applied temperature %d outside [night, day]", s.Temperature)
		}
		if s.Equal(cfg.Night) {
			sawNight = true
		}
	}
	if !sawNight {
		t.Error("never reached night endpoint")
	}

	sawMid := false
	for _, ev := range h.events.stateApplied() {
		if ev.Period == "sunset" && ev.Progress >= 0.45 && ev.Progress <= 0.55 {
			sawMid = true
			if ev.CurrentTemp <= cfg.Night.Temperature || ev.CurrentTemp >= cfg.Day.Temperature {
				t.Errorf("midpoint temp %d not strictly between endpoints", ev.CurrentTemp)
			}
		}
	}
	if !sawMid {
		t.Error("no state_applied event near transition midpoint")
	}
}

// finish_by: the sunset window is exactly [18:15, 19:00) and night values
// hold from the configured time.
func TestFinishByScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeFinishBy
	cfg.Sunset, _ = config.ParseClockTime("19:00:00")
	cfg.TransitionDuration = 45 * time.Minute
	start := time.Date(2025, 6, 21, 18, 0, 0, 0, time.UTC)

	h := newHarness(t, cfg, start)
	h.stopWhen(t, h.sawApplied(cfg.Night))

	for _, ev := range h.events.stateApplied() {
		if ev.Period == "sunset" {
			// finish_by anchors the window end on the configured time.
			at, err := time.Parse(time.RFC3339, ev.NextPeriod)
			if err != nil {
				t.Fatalf("bad next_period %q: %v", ev.NextPeriod, err)
			}
			if at.UTC().Hour() != 19 || at.Minute() != 0 || at.Second() != 0 {
				t.Errorf("sunset window must end at 19:00:00, next boundary %v", at)
			}
		}
	}
	if !h.sawApplied(cfg.Night)() {
		t.Error("night endpoint never applied")
	}
}

// Static: every applied event carries the static values.
func TestStaticScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	cfg.Static = color.State{Temperature: 4700, Gamma: 110}
	start := time.Date(2025, 6, 21, 3, 0, 0, 0, time.UTC)

	h := newHarness(t, cfg, start)
	h.stopWhen(t, h.virtualAfter(48*time.Hour))

	for _, ev := range h.events.stateApplied() {
		if ev.Period != "static" {
			t.Errorf("period %q, want static", ev.Period)
		}
		if ev.TargetTemp != 4700 || ev.TargetGamma != 110.0 {
			t.Errorf("target %d/%v, want 4700/110", ev.TargetTemp, ev.TargetGamma)
		}
	}
	// Shutdown eases back to identity afterwards, so check that the static
	// state was reached rather than the final one.
	if !h.sawApplied(cfg.Static)() {
		t.Errorf("static state %+v never applied: %v", cfg.Static, h.driver.Applied())
	}
}

// Preset toggle over IPC: switching to a preset and back restores the base
// configuration, with preset_changed broadcast both ways.
func TestPresetToggleScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	cfg.Static = color.State{Temperature: 6500, Gamma: 100}
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	h := newHarness(t, cfg, start)
	if err := os.MkdirAll(filepath.Join(h.store.Root(), "presets", "movie"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.store.Root(), "presets", "movie", "sunsetr.toml"),
		[]byte("static_temp = 4000\nstatic_gamma = 95.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	send := func(req ipc.Request) ipc.Response {
		reply := make(chan ipc.Response, 1)
		h.ctrl.Events() <- CommandReceived{Cmd: ipc.Command{Req: req, Reply: reply}}
		select {
		case resp := <-reply:
			return resp
		case <-time.After(5 * time.Second):
			t.Fatal("no reply")
			return ipc.Response{}
		}
	}

	name := "movie"
	if resp := send(ipc.Request{Cmd: ipc.CmdPreset, Name: &name}); !resp.OK {
		t.Fatalf("preset switch failed: %+v", resp)
	}
	waitFor(t, h.sawApplied(color.State{Temperature: 4000, Gamma: 95}))

	if resp := send(ipc.Request{Cmd: ipc.CmdPreset, Name: &name}); !resp.OK {
		t.Fatalf("preset toggle back failed: %+v", resp)
	}
	h.stopWhen(t, func() bool {
		last, ok := h.driver.Last()
		return ok && last.Equal(cfg.Static)
	})

	var changes []ipc.PresetChanged
	for _, ev := range h.events.all() {
		if pc, ok := ev.(ipc.PresetChanged); ok {
			changes = append(changes, pc)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("preset_changed events = %d, want 2", len(changes))
	}
	if changes[0].ToPreset == nil || *changes[0].ToPreset != "movie" || changes[0].TargetTemp != 4000 {
		t.Errorf("first change %+v", changes[0])
	}
	if changes[1].ToPreset != nil {
		t.Errorf("second change should return to default: %+v", changes[1])
	}
}

// Hot reload: retargeting night_temp mid-sunset redirects the transition
// without a visible jump.
func TestHotReloadScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeFinishBy
	cfg.Sunset, _ = config.ParseClockTime("19:00:00")
	cfg.TransitionDuration = 45 * time.Minute
	start := time.Date(2025, 6, 21, 18, 30, 0, 0, time.UTC) // mid-sunset

	h := newHarness(t, cfg, start)
	waitFor(t, func() bool {
		_, ok := h.driver.Last()
		return ok
	})

	next := cfg
	next.Night.Temperature = 2800
	raw, err := next.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.store.Root(), "sunsetr.toml"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Events() <- ConfigChanged{}

	h.stopWhen(t, h.sawApplied(color.State{Temperature: 2800, Gamma: cfg.Night.Gamma}))

	applied := h.driver.Applied()
	for i := 1; i < len(applied); i++ {
		delta := applied[i].Temperature - applied[i-1].Temperature
		if delta < -400 || delta > 400 {
			t.Errorf("discontinuity at %d: %d -> %d", i, applied[i-1].Temperature, applied[i].Temperature)
		}
	}
}

// Clock jump: a +8h jump across midnight during Day recomputes the schedule
// and converges on night values with one period_changed.
func TestClockJumpScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeFinishBy
	start := time.Date(2025, 6, 21, 17, 0, 0, 0, time.UTC) // day, before sunset window

	// Paced clock: the jump must land while the controller is still in Day.
	h := newPacedHarness(t, cfg, start, 600)
	waitFor(t, h.sawApplied(cfg.Day))

	h.clock.Jump(8 * time.Hour) // 01:00 next day
	h.stopWhen(t, h.sawApplied(cfg.Night))

	jumps := 0
	for _, ev := range h.events.all() {
		if pc, ok := ev.(ipc.PeriodChanged); ok && pc.FromPeriod == "day" && pc.ToPeriod == "night" {
			jumps++
		}
	}
	if jumps != 1 {
		t.Errorf("day->night period_changed events = %d, want 1", jumps)
	}
}

// Test override: pins the display, rejects out-of-range values, and releases
// back to the schedule when the pinning connection closes.
func TestTestOverrideScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	h := newHarness(t, cfg, start)
	send := func(req ipc.Request, conn uint64) ipc.Response {
		reply := make(chan ipc.Response, 1)
		h.ctrl.Events() <- CommandReceived{Cmd: ipc.Command{Req: req, Reply: reply, ConnID: conn}}
		select {
		case resp := <-reply:
			return resp
		case <-time.After(5 * time.Second):
			t.Fatal("no reply")
			return ipc.Response{}
		}
	}

	temp, gamma := 2000, 50.0
	if resp := send(ipc.Request{Cmd: ipc.CmdTest, Temp: &temp, Gamma: &gamma}, 7); !resp.OK {
		t.Fatalf("test command failed: %+v", resp)
	}
	waitFor(t, func() bool {
		last, ok := h.driver.Last()
		return ok && last.Equal(color.State{Temperature: 2000, Gamma: 50})
	})

	// Out-of-range values are rejected.
	bad := 25000
	if resp := send(ipc.Request{Cmd: ipc.CmdTest, Temp: &bad, Gamma: &gamma}, 7); resp.OK {
		t.Error("out-of-range test temp accepted")
	}

	// Disconnect of the pinning client releases the override.
	h.ctrl.Events() <- CommandReceived{Cmd: ipc.Command{ConnID: 7, Closed: true}}
	h.stopWhen(t, func() bool {
		last, ok := h.driver.Last()
		return ok && last.Equal(cfg.Static)
	})
}

// Changing the backend in config does not re-bind the driver until restart.
func TestBackendSwitchDeferred(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	cfg.Backend = config.BackendWayland
	start := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	h := newHarness(t, cfg, start)
	next := cfg
	next.Backend = config.BackendHyprland
	next.Static.Temperature = 5000
	raw, err := next.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.store.Root(), "sunsetr.toml"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Events() <- ConfigChanged{}

	h.stopWhen(t, func() bool {
		last, ok := h.driver.Last()
		return ok && last.Temperature == 5000
	})
	// The rest of the reload landed, but the running backend is unchanged.
	if h.ctrl.cfg.Backend != config.BackendWayland {
		t.Errorf("backend re-bound on reload: %v", h.ctrl.cfg.Backend)
	}
}

// Restart command makes Run return ErrRestart.
func TestRestartRequest(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	h := newHarness(t, cfg, time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC))

	reply := make(chan ipc.Response, 1)
	instant := true
	h.ctrl.Events() <- CommandReceived{Cmd: ipc.Command{
		Req:   ipc.Request{Cmd: ipc.CmdRestart, Instant: &instant},
		Reply: reply,
	}}
	select {
	case resp := <-reply:
		if !resp.OK {
			t.Fatalf("restart reply %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
	select {
	case err := <-h.done:
		if err != ErrRestart {
			t.Errorf("Run returned %v, want ErrRestart", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

// Shutdown restores identity.
func TestShutdownRestoresNeutral(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStatic
	cfg.Static = color.State{Temperature: 3000, Gamma: 80}
	h := newHarness(t, cfg, time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC))
	h.stopWhen(t, func() bool {
		last, ok := h.driver.Last()
		return ok && last.Equal(cfg.Static)
	})
	last, _ := h.driver.Last()
	if !last.Equal(color.Neutral) {
		t.Errorf("final state after shutdown %+v, want identity", last)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
