//go:build unix

package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/tesselslate/wl"

	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/wayland"
	"github.com/psi4j/sunsetr/wayland/hyprctm"
)

// hyprCTM applies color states as 3x3 color transform matrices through
// hyprland-ctm-control-v1. Hyprland animates CTM changes itself at refresh
// rate, so the controller sends endpoint targets only.
type hyprCTM struct {
	conn   *wayland.Connection
	logger *slog.Logger
	errch  chan error

	manager *hyprctm.CtmControlManagerV1
	outputs map[uint32]wl.Output

	state color.State
	ok    bool
}

// NewHyprlandCTM connects to the given Wayland display (empty for the
// default) and manages CTMs for all current and future outputs.
func NewHyprlandCTM(display string, logger *slog.Logger) (Driver, <-chan error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := wayland.Connect(display)
	if err != nil {
		return nil, nil, fmt.Errorf("connect wayland display: %w", err)
	}

	d := &hyprCTM{
		conn:    conn,
		logger:  logger,
		errch:   make(chan error, 1),
		outputs: make(map[uint32]wl.Output),
	}
	conn.Registry(wl.RegistryListener{
		Global:       d.registryGlobal,
		GlobalRemove: d.registryGlobalRemove,
	})

	var missing bool
	if err := conn.Enqueue(func() error {
		missing = d.manager == nil
		return nil
	}); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if missing {
		conn.Close()
		return nil, nil, errors.New("compositor does not advertise hyprland_ctm_control_manager_v1")
	}

	go func() {
		if err := conn.Closed(); err != nil {
			d.errch <- err
		}
	}()
	return d, d.errch, nil
}

func (d *hyprCTM) Capabilities() Capabilities {
	return Capabilities{SupportsSmoothing: false, NativeAnimation: true}
}

func (d *hyprCTM) Set(s color.State) error {
	return d.conn.Enqueue(func() error {
		if d.ok && d.state.Equal(s) {
			return nil
		}
		d.state, d.ok = s, true
		return d.applyLocked()
	})
}

func (d *hyprCTM) Close() {
	d.conn.Close()
}

func (d *hyprCTM) registryGlobal(data any, self wl.Registry, name uint32, iface string, version uint32) error {
	return d.conn.Do(func() error {
		switch iface {
		case hyprctm.CtmControlManagerV1Interface.Name:
			manager := new(hyprctm.CtmControlManagerV1(self.Bind(name, &hyprctm.CtmControlManagerV1Interface, version)))
			manager.SetListener(hyprctm.CtmControlManagerV1Listener{
				Blocked: d.blocked,
			}, nil)
			d.manager = manager

		case wl.OutputInterface.Name:
			// defer it to ensure we've had the chance to initialize the manager first
			go d.conn.Enqueue(func() error {
				if d.manager == nil {
					return errors.New("no ctm control manager")
				}
				d.logger.Debug("output added", "name", name)
				d.outputs[name] = wl.Output(self.Bind(name, &wl.OutputInterface, version))
				if d.ok {
					return d.applyLocked()
				}
				return nil
			})
		}
		return nil
	})
}

func (d *hyprCTM) registryGlobalRemove(data any, self wl.Registry, name uint32) error {
	return d.conn.Do(func() error {
		if _, ok := d.outputs[name]; ok {
			d.logger.Debug("output removed", "name", name)
			delete(d.outputs, name)
		}
		return nil
	})
}

func (d *hyprCTM) blocked(data any, self hyprctm.CtmControlManagerV1) error {
	return d.conn.Do(func() error {
		select {
		case d.errch <- ErrGammaDenied:
		default:
		}
		return nil
	})
}

func (d *hyprCTM) applyLocked() error {
	if !d.ok || d.manager == nil || len(d.outputs) == 0 {
		return nil
	}
	mat := color.CTM(d.state)
	for _, output := range d.outputs {
		d.manager.SetCtmForOutput(wl.Object(output),
			mat[0], mat[1], mat[2],
			mat[3], mat[4], mat[5],
			mat[6], mat[7], mat[8])
	}
	d.manager.Commit()
	return nil
}
