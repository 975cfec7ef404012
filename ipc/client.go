package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNoDaemon indicates no instance is listening on the control socket.
var ErrNoDaemon = errors.New("no running sunsetr instance (connection refused)")

// Client is one connection to a running daemon.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the daemon for the given config root tag.
func Dial(tag string) (*Client, error) {
	return dialSocket(SocketPath(tag))
}

func dialSocket(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDaemon, err)
	}
	return &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		encoder: json.NewEncoder(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Roundtrip sends one request and decodes its reply frame. A reply with
// ok=false is returned as an error carrying the reported kind.
func (c *Client) Roundtrip(req Request) (Response, error) {
	if err := c.encoder.Encode(req); err != nil {
		return Response{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(requestTimeout))
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, errors.New("daemon closed connection")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, &RemoteError{Kind: resp.Kind, Message: resp.Error}
	}
	return resp, nil
}

// Follow consumes broadcast frames after a successful status_follow,
// invoking fn with each raw event line until the connection closes or fn
// returns false.
func (c *Client) Follow(fn func(raw []byte) bool) error {
	c.conn.SetReadDeadline(time.Time{})
	for c.scanner.Scan() {
		line := make([]byte, len(c.scanner.Bytes()))
		copy(line, c.scanner.Bytes())
		if !fn(line) {
			return nil
		}
	}
	return c.scanner.Err()
}

// RemoteError is a failure reply from the daemon.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}
