package daemon

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// WatchSleep subscribes to logind's PrepareForSleep signal and injects a
// ResumeHint on wake-up, so the schedule is corrected immediately instead
// of waiting for the next timer sample to notice the jump. Absence of a
// system bus is not an error; the SIGUSR2 hook and the clock's own jump
// detection still cover resume.
func WatchSleep(ctx context.Context, events chan<- Event, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Debug("system bus unavailable, sleep watch disabled", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		logger.Debug("subscribe PrepareForSleep", "error", err)
		return
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if len(sig.Body) != 1 {
				continue
			}
			entering, ok := sig.Body[0].(bool)
			if !ok || entering {
				continue
			}
			logger.Debug("resumed from sleep")
			select {
			case events <- ResumeHint{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
