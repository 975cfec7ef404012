// Package backend drives display color for a Wayland session. Two adapters
// implement the driver contract: gamma ramps via wlr-gamma-control, and
// color transform matrices via Hyprland's CTM protocol. A null driver
// records applied states for simulation runs.
package backend

import (
	"errors"
	"log/slog"
	"os"

	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/config"
)

// ErrGammaDenied indicates another client holds exclusive gamma control for
// every output.
var ErrGammaDenied = errors.New("gamma control denied (is another color manager running?)")

// Capabilities describes what the controller can expect from a driver.
type Capabilities struct {
	// SupportsSmoothing is true when the controller should run its own
	// sub-second animation between targets.
	SupportsSmoothing bool

	// NativeAnimation is true when the compositor animates color changes
	// itself, so the controller sends endpoint targets only.
	NativeAnimation bool
}

// Driver applies color states to all outputs of one session. Set is
// synchronous and idempotent: applying an equal state twice produces no
// additional protocol traffic, and newly hotplugged outputs receive the
// current state automatically. Close restores identity and releases the
// connection.
type Driver interface {
	Set(color.State) error
	Capabilities() Capabilities
	Close()
}

// Open connects the configured driver. For auto, the compositor is detected
// from environment hints: on Hyprland the CTM adapter is preferred, falling
// back to gamma ramps when the CTM protocol is not advertised. The error
// channel reports fatal connection failures; after it fires the driver must
// be closed.
func Open(kind config.Backend, logger *slog.Logger) (Driver, <-chan error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch kind {
	case config.BackendWayland:
		return NewWLGamma("", logger)
	case config.BackendHyprland, config.BackendHyprsunset:
		if kind == config.BackendHyprsunset {
			logger.Warn("backend \"hyprsunset\" is a legacy alias, using the hyprland CTM protocol")
		}
		return NewHyprlandCTM("", logger)
	case config.BackendAuto, "":
		if os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" {
			probeHyprland(logger)
			d, errCh, err := NewHyprlandCTM("", logger)
			if err == nil {
				return d, errCh, nil
			}
			logger.Warn("hyprland CTM protocol unavailable, falling back to gamma ramps", "error", err)
		}
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			return NewWLGamma("", logger)
		}
		return nil, nil, errors.ErrUnsupported
	}
	return nil, nil, errors.ErrUnsupported
}
