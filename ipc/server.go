package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// requestTimeout bounds how long a client may take to deliver a command
// frame. Once promoted to a follower the read side only watches for EOF.
const requestTimeout = 5 * time.Second

// subscriberQueue is the per-follower outgoing frame budget; a follower
// that falls this far behind is dropped.
const subscriberQueue = 64

// Command is a decoded request handed to the controller, paired with the
// channel its single reply frame must be sent on.
type Command struct {
	Req    Request
	Reply  chan Response
	ConnID uint64

	// Closed marks a connection-gone notification rather than a request;
	// the controller uses it to release a test override pinned by that
	// connection. Reply is nil.
	Closed bool
}

// Server owns the listening socket and the follower set. Commands flow to
// the controller through a single channel; broadcasts fan out to followers
// with per-subscriber backpressure.
type Server struct {
	path     string
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	id   uint64
	conn net.Conn
	out  chan []byte
}

// NewServer binds the control socket, replacing any stale file, with
// owner-only permissions.
func NewServer(path string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, err
	}
	return &Server{
		path:     path,
		listener: listener,
		logger:   logger,
		subs:     make(map[uint64]*subscriber),
	}, nil
}

// Serve accepts connections until ctx is done, delivering decoded commands
// to the controller. The listener is closed on return and the socket file
// unlinked.
func (s *Server) Serve(ctx context.Context, commands chan<- Command) error {
	defer os.Remove(s.path)
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	s.logger.Debug("ipc listening", "socket", s.path)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("ipc accept", "error", err)
			continue
		}
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()
		go s.handle(ctx, conn, id, commands)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn, id uint64, commands chan<- Command) {
	defer func() {
		s.unsubscribe(id, "")
		conn.Close()
		// Notify the controller so a test override pinned by this
		// connection is released.
		select {
		case commands <- Command{ConnID: id, Closed: true}:
		case <-ctx.Done():
		}
	}()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)
	following := false
	pinned := false // holds a test override; EOF must release it
	for {
		if following || pinned {
			conn.SetReadDeadline(time.Time{})
		} else {
			conn.SetReadDeadline(time.Now().Add(requestTimeout))
		}
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(Response{OK: false, Error: "malformed request: " + err.Error(), Kind: KindIpc})
			continue
		}
		if following {
			// Followers only listen; further commands would interleave
			// with the event stream.
			continue
		}

		reply := make(chan Response, 1)
		select {
		case commands <- Command{Req: req, Reply: reply, ConnID: id}:
		case <-ctx.Done():
			return
		}
		var resp Response
		select {
		case resp = <-reply:
		case <-ctx.Done():
			return
		}
		if err := encoder.Encode(resp); err != nil {
			return
		}

		switch req.Cmd {
		case CmdStatusFollow:
			if resp.OK {
				s.subscribe(id, conn)
				following = true
			}
		case CmdTest:
			// Keep reading without a deadline so EOF releases the
			// override promptly.
			pinned = resp.OK && (req.Release == nil || !*req.Release)
		}
	}
}

func (s *Server) subscribe(id uint64, conn net.Conn) {
	sub := &subscriber{id: id, conn: conn, out: make(chan []byte, subscriberQueue)}
	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()
	go func() {
		for frame := range sub.out {
			if _, err := conn.Write(frame); err != nil {
				s.unsubscribe(id, "")
				return
			}
		}
	}()
}

func (s *Server) unsubscribe(id uint64, reason string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(sub.out)
	if reason != "" {
		s.logger.Warn("dropping ipc follower", "id", id, "reason", reason)
		sub.conn.Close()
	}
}

// Broadcast serializes an event once and enqueues it to every follower.
// A follower whose queue is full is dropped with the slow_consumer reason.
func (s *Server) Broadcast(event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event", "error", err)
		return
	}
	frame = append(frame, '\n')

	s.mu.Lock()
	var slow []uint64
	for id, sub := range s.subs {
		select {
		case sub.out <- frame:
		default:
			slow = append(slow, id)
		}
	}
	s.mu.Unlock()

	for _, id := range slow {
		s.unsubscribe(id, "slow_consumer")
	}
}

// Followers reports the number of connected followers.
func (s *Server) Followers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
