//go:build unix

// Package instance enforces one running daemon per config root through an
// advisory file lock in the runtime directory, including reclaiming locks
// left behind by dead processes or prior login sessions.
package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrRunning is returned when a live daemon from the current login session
// already holds the lock.
type ErrRunning struct {
	PID int
}

func (e *ErrRunning) Error() string {
	return fmt.Sprintf("sunsetr is already running (pid %d)", e.PID)
}

// RuntimeDir returns the per-user runtime directory, falling back to /tmp
// when the session manager did not provide one.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return "/tmp"
}

// LockPath returns the lock file path for a config root tag (empty for the
// default root).
func LockPath(tag string) string {
	name := "sunsetr.lock"
	if tag != "" {
		name = "sunsetr-" + tag + ".lock"
	}
	return filepath.Join(RuntimeDir(), "sunsetr", name)
}

// Lock is a held singleton lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the singleton lock for the config root identified by tag.
// If the lock is held, the holder is verified: a dead PID or one from a
// prior login session is a zombie, whose lock file and stale socket are
// removed before retrying. A live same-session holder yields *ErrRunning.
// socketPath may be empty if there is no socket to clean up.
func Acquire(tag, configRoot, socketPath string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := LockPath(tag)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, err
		}
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			if err := writeHolder(f, configRoot); err != nil {
				f.Close()
				return nil, err
			}
			return &Lock{f: f, path: path}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}

		pid, holderSession := readHolder(f)
		f.Close()
		if pid > 0 && processAlive(pid) && holderSession == currentSession() {
			return nil, &ErrRunning{PID: pid}
		}

		// The holder is dead or belongs to a prior session; reclaim.
		logger.Warn("removing stale lock", "path", path, "pid", pid)
		os.Remove(path)
		if socketPath != "" {
			os.Remove(socketPath)
		}
	}
	return nil, fmt.Errorf("lock %s: still contended after stale cleanup", path)
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// writeHolder records pid, login session, and config root in the lock file.
func writeHolder(f *os.File, configRoot string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d\n%s\n%s\n", os.Getpid(), currentSession(), configRoot)
	if err != nil {
		return err
	}
	return f.Sync()
}

// readHolder parses the pid and session recorded by a previous holder.
func readHolder(f *os.File) (pid int, session string) {
	raw := make([]byte, 256)
	n, err := f.ReadAt(raw, 0)
	if n == 0 && err != nil {
		return 0, ""
	}
	lines := strings.Split(string(raw[:n]), "\n")
	if len(lines) > 0 {
		pid, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		session = strings.TrimSpace(lines[1])
	}
	return pid, session
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// currentSession identifies the login session of this process; audit
// session ids survive fork but not logout, which makes them a good zombie
// discriminator.
func currentSession() string {
	return sessionOf(os.Getpid())
}

func sessionOf(pid int) string {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/sessionid", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
