package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// startServer runs a server with a controller stub that answers every
// command with reply.
func startServer(t *testing.T, reply func(Command) Response) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.sock")
	srv, err := NewServer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	commands := make(chan Command, 16)
	go srv.Serve(ctx, commands)
	go func() {
		for cmd := range commands {
			if cmd.Closed {
				continue
			}
			cmd.Reply <- reply(cmd)
		}
	}()
	return srv, path
}

func dialPath(t *testing.T, path string) *Client {
	t.Helper()
	// Dial resolves the socket from a tag; tests connect directly.
	c, err := dialSocket(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundtrip(t *testing.T) {
	_, path := startServer(t, func(cmd Command) Response {
		if cmd.Req.Cmd != CmdStatusOnce {
			t.Errorf("cmd = %q", cmd.Req.Cmd)
		}
		return Response{OK: true, Status: &Status{Period: "day", State: "stable", CurrentTemp: 6500, CurrentGamma: 100}}
	})
	c := dialPath(t, path)
	resp, err := c.Roundtrip(Request{Cmd: CmdStatusOnce})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status == nil || resp.Status.Period != "day" || resp.Status.CurrentTemp != 6500 {
		t.Errorf("status = %+v", resp.Status)
	}
}

func TestErrorReply(t *testing.T) {
	_, path := startServer(t, func(cmd Command) Response {
		return Response{OK: false, Error: "no such preset", Kind: KindConfig}
	})
	c := dialPath(t, path)
	_, err := c.Roundtrip(Request{Cmd: CmdPreset})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Kind != KindConfig {
		t.Fatalf("err = %v", err)
	}
}

func TestFollowReceivesBroadcasts(t *testing.T) {
	srv, path := startServer(t, func(cmd Command) Response {
		return Response{OK: true, Status: &Status{Period: "day", State: "stable"}}
	})
	c := dialPath(t, path)
	if _, err := c.Roundtrip(Request{Cmd: CmdStatusFollow}); err != nil {
		t.Fatal(err)
	}
	waitFollowers(t, srv, 1)

	srv.Broadcast(PeriodChanged{EventType: "period_changed", FromPeriod: "day", ToPeriod: "sunset"})

	got := make(chan PeriodChanged, 1)
	go c.Follow(func(raw []byte) bool {
		var ev PeriodChanged
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Errorf("bad frame %s: %v", raw, err)
			return false
		}
		got <- ev
		return false
	})
	select {
	case ev := <-got:
		if ev.EventType != "period_changed" || ev.ToPeriod != "sunset" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	srv, path := startServer(t, func(cmd Command) Response {
		return Response{OK: true, Status: &Status{}}
	})
	c := dialPath(t, path)
	if _, err := c.Roundtrip(Request{Cmd: CmdStatusFollow}); err != nil {
		t.Fatal(err)
	}
	waitFollowers(t, srv, 1)

	// The follower never reads; flooding past its queue must drop it
	// rather than block the broadcaster.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberQueue*64; i++ {
			srv.Broadcast(StateApplied{EventType: "state_applied"})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
	waitFollowers(t, srv, 0)
}

func waitFollowers(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Followers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("followers = %d, want %d", srv.Followers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
