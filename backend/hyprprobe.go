//go:build unix

package backend

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// probeHyprland queries the Hyprland IPC socket for the compositor version
// and logs it. Failures are informational only; the CTM adapter speaks the
// Wayland protocol directly and does not need the IPC socket.
func probeHyprland(logger *slog.Logger) {
	signature := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if signature == "" || runtimeDir == "" {
		return
	}
	socket := filepath.Join(runtimeDir, "hypr", signature, ".socket.sock")
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		logger.Debug("hyprland ipc socket unavailable", "error", err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	if _, err := conn.Write([]byte("j/version")); err != nil {
		logger.Debug("hyprland version query failed", "error", err)
		return
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		logger.Debug("hyprland version query failed", "error", err)
		return
	}
	reply := gjson.ParseBytes(buf[:n])
	logger.Debug("detected hyprland",
		"version", reply.Get("version").String(),
		"tag", reply.Get("tag").String())
}
