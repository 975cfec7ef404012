//go:build unix

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"codeberg.org/tesselslate/wl"
	"golang.org/x/sys/unix"

	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/wayland"
	"github.com/psi4j/sunsetr/wayland/zwlr"
)

// wlGamma applies color states as gamma ramps through
// wlr-gamma-control-unstable-v1, one control object per output. Only one
// client may manage the ramps of an output at a time; the compositor reports
// a conflict per output through the failed event.
type wlGamma struct {
	conn   *wayland.Connection
	logger *slog.Logger
	errch  chan error

	manager *zwlr.GammaControlManagerV1
	outputs map[uint32]*gammaOutput

	state color.State
	ok    bool
}

// NewWLGamma connects to the given Wayland display (empty for the default)
// and manages gamma ramps for all current and future outputs.
func NewWLGamma(display string, logger *slog.Logger) (Driver, <-chan error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := wayland.Connect(display)
	if err != nil {
		return nil, nil, fmt.Errorf("connect wayland display: %w", err)
	}

	d := &wlGamma{
		conn:    conn,
		logger:  logger,
		errch:   make(chan error, 1),
		outputs: make(map[uint32]*gammaOutput),
	}
	conn.Registry(wl.RegistryListener{
		Global:       d.registryGlobal,
		GlobalRemove: d.registryGlobalRemove,
	})

	// Round-trip so the registry globals have been seen before we report
	// success; a compositor without the protocol is a startup error.
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
		return nil, nil, errors.New("compositor does not advertise zwlr_gamma_control_manager_v1")
	}

	go func() {
		if err := conn.Closed(); err != nil {
			d.errch <- err
		}
	}()
	return d, d.errch, nil
}

func (d *wlGamma) Capabilities() Capabilities {
	return Capabilities{SupportsSmoothing: true, NativeAnimation: false}
}

func (d *wlGamma) Set(s color.State) error {
	return d.conn.Enqueue(func() error {
		if d.ok && d.state.Equal(s) {
			return nil // unchanged ramps are not re-sent
		}
		d.state, d.ok = s, true
		return d.applyLocked()
	})
}

func (d *wlGamma) Close() {
	d.conn.Close()
}

func (d *wlGamma) registryGlobal(data any, self wl.Registry, name uint32, iface string, version uint32) error {
	return d.conn.Do(func() error {
		switch iface {
		case zwlr.GammaControlManagerV1Interface.Name:
			d.manager = new(zwlr.GammaControlManagerV1(self.Bind(name, &zwlr.GammaControlManagerV1Interface, version)))

		case wl.OutputInterface.Name:
			// defer it to ensure we've had the chance to initialize the manager first
			go d.conn.Enqueue(func() error {
				if d.manager == nil {
					return errors.New("no gamma control manager")
				}
				d.logger.Debug("output added", "name", name)
				out := newGammaOutput(d, wl.Output(self.Bind(name, &wl.OutputInterface, version)))
				if d.ok {
					if err := out.applyLocked(); err != nil {
						out.destroyLocked()
						return err
					}
				}
				d.outputs[name] = out
				return nil
			})
		}
		return nil
	})
}

func (d *wlGamma) registryGlobalRemove(data any, self wl.Registry, name uint32) error {
	return d.conn.Do(func() error {
		if out, ok := d.outputs[name]; ok {
			d.logger.Debug("output removed", "name", name)
			out.destroyLocked()
			delete(d.outputs, name)
		}
		return nil
	})
}

func (d *wlGamma) applyLocked() error {
	if !d.ok {
		return nil
	}
	for _, out := range d.outputs {
		if err := out.applyLocked(); err != nil {
			return err
		}
	}
	return nil
}

// deniedLocked reports whether every known output has lost its control
// object, which is what exclusive ownership by another client looks like.
func (d *wlGamma) deniedLocked() bool {
	if len(d.outputs) == 0 {
		return false
	}
	for _, out := range d.outputs {
		if out.control != nil {
			return false
		}
	}
	return true
}

// gammaOutput is the per-output protocol state: the control object and a
// sealed shared-memory ramp buffer sized by the compositor-advertised ramp
// size.
type gammaOutput struct {
	parent  *wlGamma
	output  wl.Output
	control *zwlr.GammaControlV1
	ramp    *gammaRamp
}

func newGammaOutput(parent *wlGamma, output wl.Output) *gammaOutput {
	out := &gammaOutput{
		parent:  parent,
		output:  output,
		control: new(parent.manager.GetGammaControl(output)),
	}
	out.control.SetListener(zwlr.GammaControlV1Listener{
		GammaSize: out.gammaSize,
		Failed:    out.failed,
	}, nil)
	return out
}

func (out *gammaOutput) destroyLocked() {
	if out.control != nil {
		out.control.Destroy()
	}
	*out = gammaOutput{}
}

func (out *gammaOutput) gammaSize(data any, self zwlr.GammaControlV1, size uint32) error {
	return out.parent.conn.Do(func() (err error) {
		out.ramp = nil
		if size == 0 {
			return nil
		}
		out.ramp, err = newGammaRamp(int(size))
		if err != nil {
			return fmt.Errorf("create gamma ramp: %w", err)
		}
		return out.applyLocked()
	})
}

func (out *gammaOutput) failed(data any, self zwlr.GammaControlV1) error {
	parent := out.parent
	return parent.conn.Do(func() error {
		parent.logger.Warn("gamma control revoked for output (output removed, or another client holds it)")
		out.control.Destroy()
		out.control = nil
		if parent.deniedLocked() {
			select {
			case parent.errch <- ErrGammaDenied:
			default:
			}
		}
		return nil
	})
}

func (out *gammaOutput) applyLocked() error {
	if !out.parent.ok || out.ramp == nil || out.control == nil {
		return nil
	}
	if err := out.ramp.set(out.parent.state); err != nil {
		return fmt.Errorf("set gamma ramp: %w", err)
	}
	return out.ramp.apply(*out.control)
}

// gammaRamp is the shared-memory blob holding the three channel ramps as
// successive arrays of 16-bit unsigned integers.
type gammaRamp struct {
	_    noCopy
	fd   int
	size int
}

func newGammaRamp(size int) (*gammaRamp, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid size")
	}
	fd, err := unix.MemfdCreate("sunsetr-gamma", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("allocate shared memory: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)*3*2); err != nil { // [3*size]uint16
		unix.Close(fd)
		return nil, fmt.Errorf("allocate shared memory: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("seal shared memory: %w", err)
	}
	r := &gammaRamp{
		fd:   fd,
		size: size,
	}
	runtime.SetFinalizer(r, func(r *gammaRamp) {
		unix.Close(r.fd)
	})
	return r, nil
}

func (r *gammaRamp) set(s color.State) error {
	rr := make([]uint16, r.size)
	rg := make([]uint16, r.size)
	rb := make([]uint16, r.size)
	color.Ramps(rr, rg, rb, s)
	_, err := unix.Pwritev(r.fd, [][]byte{
		unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(rr))), r.size*2),
		unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(rg))), r.size*2),
		unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(rb))), r.size*2),
	}, 0)
	return err
}

func (r *gammaRamp) apply(control zwlr.GammaControlV1) error {
	if _, err := unix.Seek(r.fd, 0, unix.SEEK_SET); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	control.SetGamma(r.fd) // note: if this fails, zwlr.GammaControlV1Listener.Failed will be called asynchronously
	return nil
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
