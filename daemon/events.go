package daemon

import (
	"os"

	"github.com/psi4j/sunsetr/ipc"
)

// Event is the single typed stream the controller linearizes: fs-watch
// notifications, signals, IPC commands, resume hints, and backend faults
// all arrive here. Correctness depends on this linearization, not on the
// transport each event came from.
type Event interface{ isEvent() }

// ConfigChanged is a debounced config-root modification.
type ConfigChanged struct{}

// SignalReceived carries a delivered process signal.
type SignalReceived struct {
	Sig os.Signal
}

// ResumeHint asks for a schedule recompute; the logind sleep watcher sends
// it on wake-up. SIGUSR2 arrives as a SignalReceived with the same effect.
type ResumeHint struct{}

// CommandReceived wraps an IPC command.
type CommandReceived struct {
	Cmd ipc.Command
}

// BackendFault is a fatal error from the backend connection.
type BackendFault struct {
	Err error
}

func (ConfigChanged) isEvent()   {}
func (SignalReceived) isEvent()  {}
func (ResumeHint) isEvent()      {}
func (CommandReceived) isEvent() {}
func (BackendFault) isEvent()    {}
