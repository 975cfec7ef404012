// Command sunsetr is a Wayland color temperature and gamma daemon: it
// drives displays between day and night setpoints on astronomical or fixed
// schedules, and exposes a control socket for status, presets, and live
// testing.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/instance"
	"github.com/psi4j/sunsetr/ipc"
)

// Exit codes.
const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
	exitNoIPC  = 3
	exitLocked = 4
)

// options holds the parsed global flags.
type options struct {
	background bool
	debug      bool
	configDir  string

	simulate bool
	simStart time.Time
	simEnd   time.Time
	simMult  float64 // 0 means fast-forward
	simLog   bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	var cmd string
	var rest []string

	i := 0
	for i < len(args) {
		switch arg := args[i]; arg {
		case "--background":
			opts.background = true
			i++
		case "--debug":
			opts.debug = true
			i++
		case "--log":
			opts.simLog = true
			i++
		case "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "[config] --config requires a directory")
				return exitConfig
			}
			opts.configDir = args[i+1]
			i += 2
		case "--simulate":
			if i+3 >= len(args) {
				fmt.Fprintln(os.Stderr, "[sim] --simulate requires <start> <end> (<mult>|--fast-forward)")
				return exitFail
			}
			if err := parseSimulate(&opts, args[i+1], args[i+2], args[i+3]); err != nil {
				fmt.Fprintf(os.Stderr, "[sim] %v\n", err)
				return exitFail
			}
			i += 4
		case "--help", "-h":
			printHelp(nil)
			return exitOK
		default:
			cmd = arg
			rest = args[i+1:]
			i = len(args)
		}
	}

	logger := newLogger(opts.debug)

	switch cmd {
	case "":
		return runDaemon(opts, logger)
	case "test":
		return cmdTest(opts, rest)
	case "geo":
		return cmdGeo(opts)
	case "preset":
		return cmdPreset(opts, rest)
	case "get":
		return cmdGet(opts, rest)
	case "set":
		return cmdSet(opts, rest)
	case "status":
		return cmdStatus(opts, rest)
	case "reload":
		return cmdSimple(opts, ipc.Request{Cmd: ipc.CmdReload})
	case "stop":
		return cmdSimple(opts, ipc.Request{Cmd: ipc.CmdStop})
	case "restart":
		return cmdRestart(opts, rest)
	case "help":
		printHelp(rest)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (see sunsetr help)\n", cmd)
		return exitFail
	}
}

// parseSimulate reads the three --simulate operands. Times accept RFC3339
// or "YYYY-MM-DD HH:MM:SS" in the local zone.
func parseSimulate(opts *options, start, end, speed string) error {
	var err error
	opts.simStart, err = parseSimTime(start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	opts.simEnd, err = parseSimTime(end)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if !opts.simEnd.After(opts.simStart) {
		return errors.New("end must be after start")
	}
	if speed == "--fast-forward" {
		opts.simMult = 0
	} else {
		opts.simMult, err = strconv.ParseFloat(speed, 64)
		if err != nil || opts.simMult <= 0 {
			return fmt.Errorf("multiplier %q must be a positive number or --fast-forward", speed)
		}
	}
	opts.simulate = true
	return nil
}

func parseSimTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newStore resolves the config root from --config, or the default root.
// Callers map its errors to exit codes.
func newStore(opts options) (*config.Store, error) {
	return config.NewStore(opts.configDir)
}

// exitFor maps an error to the documented exit codes.
func exitFor(err error) int {
	var running *instance.ErrRunning
	var remote *ipc.RemoteError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ipc.ErrNoDaemon):
		return exitNoIPC
	case errors.As(err, &running):
		return exitLocked
	case errors.As(err, &remote) && remote.Kind == ipc.KindConfig:
		return exitConfig
	default:
		return exitFail
	}
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return exitFor(err)
}

func printHelp(args []string) {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	if text, ok := helpTopics[topic]; ok {
		fmt.Print(text)
		return
	}
	fmt.Print(helpTopics[""])
}

var helpTopics = map[string]string{
	"": `sunsetr - automatic color temperature and gamma for Wayland

usage:
  sunsetr [--background] [--debug] [--config <dir>]
          [--simulate <start> <end> (<mult>|--fast-forward) [--log]]
  sunsetr <command> [args]

commands:
  test <temp> <gamma>     pin a color state until interrupted
  geo                     show today's solar schedule for the configured location
  preset (<name>|active|list)
                          switch the named preset overlay, or inspect presets
  get (<field>...|all) [--json] [--target <name>]
                          read configuration fields
  set <field>=<value>... [--target <name>]
                          write configuration fields
  status [--json] [--follow]
                          show (or stream) the daemon state
  reload                  re-read configuration
  restart [--instant] [--background]
                          restart the running daemon
  stop                    stop the running daemon
  help [<cmd>]            show help
`,
	"test": `usage: sunsetr test <temp> <gamma>

Applies the given temperature (1000-20000 K) and gamma (10-200 %) until the
command is interrupted, then restores the scheduled state.
`,
	"preset": `usage: sunsetr preset (<name>|active|list)

Switches the named configuration overlay on, or off when it is already
active. "active" prints the current overlay, "list" the stored ones.
`,
	"status": `usage: sunsetr status [--json] [--follow]

Prints the daemon state. With --follow, stays connected and streams state
events as they happen.
`,
}
