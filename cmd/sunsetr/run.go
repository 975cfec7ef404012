//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psi4j/sunsetr/backend"
	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/daemon"
	"github.com/psi4j/sunsetr/instance"
	"github.com/psi4j/sunsetr/ipc"
	"github.com/psi4j/sunsetr/timer"
)

// runDaemon brings the whole daemon up: config, singleton lock, backend,
// IPC server, auxiliary watchers, and the controller loop.
func runDaemon(opts options, logger *slog.Logger) int {
	if opts.background {
		if err := respawnBackground(); err != nil {
			fmt.Fprintf(os.Stderr, "[internal] background respawn: %v\n", err)
			return exitFail
		}
		return exitOK
	}

	store, err := newStore(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
		return exitConfig
	}
	if err := store.WriteDefault(); err != nil {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
		return exitConfig
	}

	preset, err := config.ActivePreset()
	if err != nil {
		logger.Warn("read active preset", "error", err)
	}
	cfg, err := store.Load(preset)
	if err != nil && preset != "" {
		logger.Warn("active preset failed to load, using base config", "preset", preset, "error", err)
		preset = ""
		cfg, err = store.Load("")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
		return exitConfig
	}

	socketPath := ipc.SocketPath(store.Tag())
	lock, err := instance.Acquire(store.Tag(), store.Root(), socketPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[lock] %v\n", err)
		return exitFor(err)
	}
	defer lock.Release()

	var clock timer.Clock = timer.System{}
	var driver backend.Driver
	var driverErr <-chan error
	if opts.simulate {
		sim := timer.NewSimulated(opts.simStart, opts.simMult)
		clock = sim
		driver = backend.NewNull(backend.Capabilities{SupportsSmoothing: true})
		if opts.simLog {
			path := fmt.Sprintf("simulation_%s.log", time.Now().Format("20060102_150405"))
			f, err := os.Create(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[sim] create log: %v\n", err)
				return exitFail
			}
			defer f.Close()
			logger = slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{Level: slog.LevelDebug}))
			logger.Info("simulation log", "path", path)
		}
		logger.Info("simulating",
			"start", opts.simStart.Format(time.RFC3339),
			"end", opts.simEnd.Format(time.RFC3339),
			"multiplier", opts.simMult)
	} else {
		driver, driverErr, err = backend.Open(cfg.Backend, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[backend] %v\n", err)
			return exitFail
		}
	}

	server, err := ipc.NewServer(socketPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ipc] %v\n", err)
		driver.Close()
		return exitFail
	}

	ctrl := daemon.New(daemon.Options{
		Store:     store,
		Config:    cfg,
		Preset:    preset,
		Clock:     clock,
		Driver:    driver,
		DriverErr: driverErr,
		Server:    server,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	// Signals.
	group.Go(func() error {
		sigCh := make(chan os.Signal, 4)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigCh:
				select {
				case ctrl.Events() <- daemon.SignalReceived{Sig: sig}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	// Config hot reload.
	group.Go(func() error {
		changed := make(chan struct{}, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-changed:
					select {
					case ctrl.Events() <- daemon.ConfigChanged{}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		if err := store.Watch(ctx, preset, changed, logger); err != nil {
			logger.Warn("config watcher failed, hot reload disabled", "error", err)
		}
		return nil
	})

	// IPC commands.
	group.Go(func() error {
		commands := make(chan ipc.Command, 16)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case cmd := <-commands:
					select {
					case ctrl.Events() <- daemon.CommandReceived{Cmd: cmd}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return server.Serve(ctx, commands)
	})

	// Suspend/resume hints from logind.
	if !opts.simulate {
		group.Go(func() error {
			daemon.WatchSleep(ctx, ctrl.Events(), logger)
			return nil
		})
	}

	// Simulation end-stop.
	if opts.simulate {
		group.Go(func() error {
			for {
				if !clock.Now().Before(opts.simEnd) {
					select {
					case ctrl.Events() <- daemon.SignalReceived{Sig: syscall.SIGTERM}:
					case <-ctx.Done():
					}
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(10 * time.Millisecond):
				}
			}
		})
	}

	runErr := ctrl.Run(ctx)
	cancel()
	group.Wait()
	lock.Release()

	switch {
	case errors.Is(runErr, daemon.ErrRestart):
		logger.Info("restarting")
		return reexec()
	case runErr != nil:
		logger.Error("daemon failed", "error", runErr)
		return exitFail
	}
	return exitOK
}

// respawnBackground re-runs the binary detached from the terminal, without
// the --background flag.
func respawnBackground() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := make([]string, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		if arg != "--background" {
			args = append(args, arg)
		}
	}
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// reexec replaces the process image with a fresh instance, preserving
// arguments; the new process re-acquires the lock the old one released.
func reexec() int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[internal] restart: %v\n", err)
		return exitFail
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "[internal] restart: %v\n", err)
		return exitFail
	}
	return exitOK
}
