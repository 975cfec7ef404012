// Package ipc implements the daemon's Unix-socket control protocol:
// newline-delimited JSON frames carrying commands in, replies and broadcast
// events out. Multiple clients may follow the event stream; slow readers
// are disconnected rather than allowed to stall the daemon.
package ipc

import (
	"path/filepath"

	"github.com/psi4j/sunsetr/instance"
)

// Command names accepted over the socket.
const (
	CmdStatusOnce   = "status_once"
	CmdStatusFollow = "status_follow"
	CmdPreset       = "preset"
	CmdTest         = "test"
	CmdStop         = "stop"
	CmdRestart      = "restart"
	CmdReload       = "reload_signal"
)

// Error kinds carried in failure replies.
const (
	KindConfig   = "config"
	KindBackend  = "backend"
	KindIpc      = "ipc"
	KindLock     = "lock"
	KindSim      = "sim"
	KindInternal = "internal"
)

// Request is the envelope clients send, one JSON object per line.
type Request struct {
	Cmd string `json:"cmd"`

	// preset
	Name *string `json:"name,omitempty"`

	// test
	Temp    *int     `json:"temp,omitempty"`
	Gamma   *float64 `json:"gamma,omitempty"`
	Release *bool    `json:"release,omitempty"`

	// restart
	Instant *bool `json:"instant,omitempty"`
}

// Response is the reply to a single request.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`

	// status replies carry the current state inline
	*Status
}

// Status is the externally visible daemon state.
type Status struct {
	ActivePreset *string `json:"active_preset"`
	Period       string  `json:"period"`
	State        string  `json:"state"` // "stable" or "transitioning"
	Progress     float64 `json:"progress"`
	CurrentTemp  int     `json:"current_temp"`
	CurrentGamma float64 `json:"current_gamma"`
	TargetTemp   int     `json:"target_temp"`
	TargetGamma  float64 `json:"target_gamma"`
	NextPeriod   string  `json:"next_period"` // RFC3339, empty when none
}

// StateApplied is broadcast on every backend apply.
type StateApplied struct {
	EventType string `json:"event_type"` // "state_applied"
	Status
}

// PeriodChanged is broadcast when the schedule crosses a period boundary.
type PeriodChanged struct {
	EventType  string `json:"event_type"` // "period_changed"
	FromPeriod string `json:"from_period"`
	ToPeriod   string `json:"to_period"`
}

// PresetChanged is broadcast on a successful preset switch.
type PresetChanged struct {
	EventType    string  `json:"event_type"` // "preset_changed"
	FromPreset   *string `json:"from_preset"`
	ToPreset     *string `json:"to_preset"`
	TargetPeriod string  `json:"target_period"`
	TargetTemp   int     `json:"target_temp"`
	TargetGamma  float64 `json:"target_gamma"`
}

// SocketPath returns the event socket path for a config root tag.
func SocketPath(tag string) string {
	name := "sunsetr-events.sock"
	if tag != "" {
		name = "sunsetr-events-" + tag + ".sock"
	}
	return filepath.Join(instance.RuntimeDir(), name)
}
