package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/ipc"
	"github.com/psi4j/sunsetr/solar"
)

// dial connects to the daemon serving this config root.
func dial(opts options) (*ipc.Client, error) {
	store, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	return ipc.Dial(store.Tag())
}

// cmdSimple sends one request and reports success.
func cmdSimple(opts options, req ipc.Request) int {
	client, err := dial(opts)
	if err != nil {
		return fail(err)
	}
	defer client.Close()
	if _, err := client.Roundtrip(req); err != nil {
		return fail(err)
	}
	return exitOK
}

// cmdTest pins a color state on the running daemon until interrupted; the
// daemon releases the override when this connection closes.
func cmdTest(opts options, args []string) int {
	if len(args) != 2 {
		return fail(fmt.Errorf("usage: sunsetr test <temp> <gamma>"))
	}
	temp, err := strconv.Atoi(args[0])
	if err != nil {
		return fail(fmt.Errorf("temp %q is not an integer", args[0]))
	}
	gamma, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fail(fmt.Errorf("gamma %q is not a number", args[1]))
	}

	client, err := dial(opts)
	if err != nil {
		return fail(err)
	}
	defer client.Close()
	if _, err := client.Roundtrip(ipc.Request{Cmd: ipc.CmdTest, Temp: &temp, Gamma: &gamma}); err != nil {
		return fail(err)
	}

	fmt.Printf("applied %dK / %.1f%% - press ctrl-c to restore\n", temp, gamma)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt
	return exitOK
}

// cmdGeo prints today's solar table for the configured coordinates.
func cmdGeo(opts options) int {
	store, err := newStore(opts)
	if err != nil {
		return fail(err)
	}
	preset, _ := config.ActivePreset()
	cfg, err := store.Load(preset)
	if err != nil {
		return fail(err)
	}
	if !cfg.HasCoordinates {
		return fail(fmt.Errorf("no coordinates configured (set latitude/longitude or geo.toml)"))
	}

	loc := solar.Location(cfg.Latitude, cfg.Longitude)
	now := time.Now()
	day := solar.Compute(cfg.Latitude, cfg.Longitude, now, loc)

	fmt.Printf("location: %.4f, %.4f (%s)\n", cfg.Latitude, cfg.Longitude, loc)
	switch day.Polar {
	case solar.PolarDay:
		fmt.Println("polar day: the sun stays above the transition threshold")
		return exitOK
	case solar.PolarNight:
		fmt.Println("polar night: the sun stays below the transition threshold")
		return exitOK
	}
	rows := []struct {
		label string
		at    time.Time
	}{
		{"civil dawn      (-6°)", day.CivilDawn},
		{"sunrise begins  (-2°)", day.SunriseStart},
		{"sunrise          (0°)", day.Sunrise},
		{"golden hour end (+6°)", day.SunriseGoldenEnd},
		{"sunrise ends   (+10°)", day.SunriseEnd},
		{"sunset begins  (+10°)", day.SunsetStart},
		{"golden hour     (+6°)", day.SunsetGoldenStart},
		{"sunset           (0°)", day.Sunset},
		{"sunset ends     (-2°)", day.SunsetEnd},
		{"civil dusk      (-6°)", day.CivilDusk},
	}
	for _, row := range rows {
		fmt.Printf("  %s  %s  (%s)\n", row.label,
			row.at.In(loc).Format("15:04:05"), humanize.Time(row.at))
	}
	return exitOK
}

// cmdPreset switches, lists, or prints presets.
func cmdPreset(opts options, args []string) int {
	if len(args) != 1 {
		return fail(fmt.Errorf("usage: sunsetr preset (<name>|active|list)"))
	}
	switch args[0] {
	case "active":
		name, err := config.ActivePreset()
		if err != nil {
			return fail(err)
		}
		if name == "" {
			name = "default"
		}
		fmt.Println(name)
		return exitOK
	case "list":
		store, err := newStore(opts)
		if err != nil {
			return fail(err)
		}
		names, err := store.Presets()
		if err != nil {
			return fail(err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return exitOK
	default:
		name := args[0]
		return cmdSimple(opts, ipc.Request{Cmd: ipc.CmdPreset, Name: &name})
	}
}

// cmdGet prints configuration fields from the effective config.
func cmdGet(opts options, args []string) int {
	var fields []string
	var asJSON bool
	target := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			asJSON = true
		case "--target":
			if i+1 >= len(args) {
				return fail(fmt.Errorf("--target requires a preset name"))
			}
			target = args[i+1]
			i++
		default:
			fields = append(fields, args[i])
		}
	}
	if len(fields) == 0 {
		return fail(fmt.Errorf("usage: sunsetr get (<field>...|all) [--json] [--target <name>]"))
	}

	store, err := newStore(opts)
	if err != nil {
		return fail(err)
	}
	if target == "" {
		target, _ = config.ActivePreset()
	}
	cfg, err := store.Load(target)
	if err != nil {
		return fail(err)
	}

	values := configFields(cfg)
	if len(fields) == 1 && fields[0] == "all" {
		fields = fieldOrder
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := values[f]
		if !ok {
			return fail(fmt.Errorf("unknown field %q", f))
		}
		out[f] = v
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		return exitOK
	}
	for _, f := range fields {
		fmt.Printf("%s = %v\n", f, out[f])
	}
	return exitOK
}

// fieldOrder matches the documented key table.
var fieldOrder = []string{
	"backend", "transition_mode", "smoothing", "startup_duration",
	"shutdown_duration", "adaptive_interval", "night_temp", "day_temp",
	"night_gamma", "day_gamma", "update_interval", "static_temp",
	"static_gamma", "sunset", "sunrise", "transition_duration",
	"latitude", "longitude",
}

func configFields(cfg config.Config) map[string]any {
	out := map[string]any{
		"backend":             string(cfg.Backend),
		"transition_mode":     string(cfg.Mode),
		"smoothing":           cfg.Smoothing,
		"startup_duration":    cfg.StartupDuration.Seconds(),
		"shutdown_duration":   cfg.ShutdownDuration.Seconds(),
		"adaptive_interval":   cfg.AdaptiveInterval.Milliseconds(),
		"night_temp":          cfg.Night.Temperature,
		"day_temp":            cfg.Day.Temperature,
		"night_gamma":         cfg.Night.Gamma,
		"day_gamma":           cfg.Day.Gamma,
		"update_interval":     int64(cfg.UpdateInterval.Seconds()),
		"static_temp":         cfg.Static.Temperature,
		"static_gamma":        cfg.Static.Gamma,
		"sunset":              cfg.Sunset.String(),
		"sunrise":             cfg.Sunrise.String(),
		"transition_duration": int64(cfg.TransitionDuration.Minutes()),
	}
	if cfg.HasCoordinates {
		out["latitude"] = cfg.Latitude
		out["longitude"] = cfg.Longitude
	} else {
		out["latitude"] = nil
		out["longitude"] = nil
	}
	return out
}

// cmdSet writes field=value pairs into the base or a preset file, then asks
// a running daemon to reload.
func cmdSet(opts options, args []string) int {
	fields := map[string]string{}
	target := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--target":
			if i+1 >= len(args) {
				return fail(fmt.Errorf("--target requires a preset name"))
			}
			target = args[i+1]
			i++
		default:
			key, val, ok := strings.Cut(args[i], "=")
			if !ok {
				return fail(fmt.Errorf("expected field=value, got %q", args[i]))
			}
			fields[key] = val
		}
	}
	if len(fields) == 0 {
		return fail(fmt.Errorf("usage: sunsetr set <field>=<value>... [--target <name>]"))
	}

	store, err := newStore(opts)
	if err != nil {
		return fail(err)
	}
	if err := store.SetFields(target, fields); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	// The daemon's file watcher picks the change up; a direct reload just
	// makes it immediate. Not running is fine.
	if client, err := dial(opts); err == nil {
		client.Roundtrip(ipc.Request{Cmd: ipc.CmdReload})
		client.Close()
	}
	return exitOK
}

// cmdStatus prints or streams the daemon state.
func cmdStatus(opts options, args []string) int {
	var asJSON, follow bool
	for _, arg := range args {
		switch arg {
		case "--json":
			asJSON = true
		case "--follow":
			follow = true
		}
	}

	client, err := dial(opts)
	if err != nil {
		return fail(err)
	}
	defer client.Close()

	cmd := ipc.CmdStatusOnce
	if follow {
		cmd = ipc.CmdStatusFollow
	}
	resp, err := client.Roundtrip(ipc.Request{Cmd: cmd})
	if err != nil {
		return fail(err)
	}
	printStatus(resp.Status, asJSON)
	if !follow {
		return exitOK
	}
	err = client.Follow(func(raw []byte) bool {
		if asJSON {
			fmt.Println(string(raw))
			return true
		}
		var ev ipc.StateApplied
		if json.Unmarshal(raw, &ev) == nil && ev.EventType == "state_applied" {
			printStatus(&ev.Status, false)
		}
		return true
	})
	if err != nil {
		return fail(err)
	}
	return exitOK
}

func printStatus(s *ipc.Status, asJSON bool) {
	if s == nil {
		return
	}
	if asJSON {
		raw, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(raw))
		return
	}
	preset := "default"
	if s.ActivePreset != nil {
		preset = *s.ActivePreset
	}
	fmt.Printf("preset: %s\nperiod: %s (%s)\n", preset, s.Period, s.State)
	if s.State == "transitioning" {
		fmt.Printf("progress: %.0f%%\n", s.Progress*100)
	}
	fmt.Printf("current: %dK / %.1f%%\ntarget: %dK / %.1f%%\n",
		s.CurrentTemp, s.CurrentGamma, s.TargetTemp, s.TargetGamma)
	if s.NextPeriod != "" {
		if at, err := time.Parse(time.RFC3339, s.NextPeriod); err == nil {
			fmt.Printf("next change: %s (%s)\n", at.Local().Format("15:04:05"), humanize.Time(at))
		}
	}
}

// cmdRestart asks the daemon to restart itself.
func cmdRestart(opts options, args []string) int {
	req := ipc.Request{Cmd: ipc.CmdRestart}
	for _, arg := range args {
		if arg == "--instant" {
			v := true
			req.Instant = &v
		}
		// --background is handled by the restarting daemon itself, which
		// re-execs with its original arguments.
	}
	return cmdSimple(opts, req)
}
