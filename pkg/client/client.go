// Package client drives a bridge from the editor side: it sends commands and
// decodes the events the bridge relays back.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/msg"
)

// Client is one editor-side connection to a bridge. Send may be called from
// several goroutines.
type Client struct {
	out        *ipc.FrameWriter
	in         *ipc.FrameReader
	closeWrite func() error
	finish     func() error

	events  chan core.Event
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// New speaks the protocol over r (events from the bridge) and w (commands to
// the bridge). Closing the client closes w if it is an io.Closer.
func New(r io.Reader, w io.Writer) *Client {
	c := newClient(r, w)
	if wc, ok := w.(io.Closer); ok {
		c.closeWrite = wc.Close
	}
	go c.readLoop()
	return c
}

// Start runs the bridge binary at path and connects to its stdio. The bridge
// inherits stderr so its log stays visible.
func Start(ctx context.Context, path string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bridge: %w", err)
	}
	c := newClient(stdout, stdin)
	c.closeWrite = stdin.Close
	c.finish = cmd.Wait
	go c.readLoop()
	return c, nil
}

// Dial connects to a bridge serving a unix socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	c := newClient(conn, conn)
	c.closeWrite = conn.Close
	if uc, ok := conn.(*net.UnixConn); ok {
		c.closeWrite = uc.CloseWrite
		c.finish = uc.Close
	}
	go c.readLoop()
	return c, nil
}

func newClient(r io.Reader, w io.Writer) *Client {
	return &Client{
		out:     ipc.NewFrameWriter(w),
		in:      ipc.NewFrameReader(r, 0),
		events:  make(chan core.Event, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Send encodes cmd as one frame.
func (c *Client) Send(cmd core.Command) error {
	buf := msg.NewBuffer(256)
	core.EncodeCommand(buf, cmd)
	return c.out.WriteFrame(buf.Bytes())
}

// SendValue sends an arbitrary value, for commands this package does not
// model.
func (c *Client) SendValue(v msg.Value) error {
	return c.out.WriteFrame(msg.Encode(v))
}

// Events delivers relayed events in order. It is closed when the bridge
// closes its outbound stream.
func (c *Client) Events() <-chan core.Event {
	return c.events
}

// Err reports why the event stream ended, or nil for a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session: the bridge sees its inbound stream close, stops,
// and closes the event stream. Close waits for that to happen; events not yet
// received are discarded.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		if c.closeWrite != nil {
			err = c.closeWrite()
		}
		<-c.done
		if c.finish != nil {
			if ferr := c.finish(); err == nil {
				err = ferr
			}
		}
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		payload, err := c.in.ReadFrame()
		if err != nil {
			if !errors.Is(err, ipc.ErrClosed) {
				c.setErr(err)
			}
			return
		}
		v, err := msg.DecodeFrame(payload)
		if err != nil {
			c.setErr(err)
			return
		}
		ev, err := core.ParseEvent(v)
		if err != nil {
			c.setErr(err)
			return
		}
		select {
		case c.events <- ev:
		case <-c.closing:
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
