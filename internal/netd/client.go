// Package netd is a client of the netd network control plane. Every call
// dials the netd socket, sends one configuration document and reads one
// response. Response content is not interpreted.
package netd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/0xef53/hvd/hvd"
	"github.com/0xef53/hvd/internal/wire"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Socket       string
	DialAttempts uint
	DialDelay    time.Duration
	Timeout      time.Duration
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	if len(opts.Socket) == 0 {
		opts.Socket = hvd.DEFAULT_NETD_SOCKET
	}
	if opts.DialAttempts == 0 {
		opts.DialAttempts = 3
	}
	if opts.DialDelay == 0 {
		opts.DialDelay = 100 * time.Millisecond
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Client{opts: opts}
}

func (c *Client) Socket() string {
	return c.opts.Socket
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn

	err := retry.Do(
		func() (err error) {
			var d net.Dialer

			conn, err = d.DialContext(ctx, "unix", c.opts.Socket)

			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.DialAttempts),
		retry.Delay(c.opts.DialDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)

	return conn, err
}

// exchange sends the message and returns the raw response.
func (c *Client) exchange(ctx context.Context, msg string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return "", err
	}

	if err := wire.WriteMessage(conn, msg); err != nil {
		return "", err
	}

	return wire.ReadMessage(conn, wire.MaxResponseLen)
}

// Push sends the document to netd. The op is used in error messages.
func (c *Client) Push(ctx context.Context, op string, doc *Config) error {
	msg, err := doc.Encode()
	if err != nil {
		return &hvd.BackendError{Backend: "netd", Op: op, Err: err}
	}

	if len(msg) >= wire.MaxCommandLen {
		return &hvd.BackendError{Backend: "netd", Op: op, Err: fmt.Errorf("document is too large (%d bytes)", len(msg))}
	}

	resp, err := c.exchange(ctx, msg)
	if err != nil {
		return &hvd.BackendError{Backend: "netd", Op: op, Err: err}
	}

	log.WithField("op", op).Debugf("netd response: %q", resp)

	return nil
}

func (c *Client) ConfigureBridge(ctx context.Context, bridge string, fib uint32, physIface string) error {
	doc := NewConfig()

	doc.AddInterface(bridge, true, fib).Type = "bridge"

	if len(physIface) > 0 {
		doc.AddInterface(physIface, true, 0).MemberOf = bridge
	}

	return c.Push(ctx, "configure bridge "+bridge, doc)
}

func (c *Client) ConfigureTap(ctx context.Context, tap, bridge string, fib uint32) error {
	doc := NewConfig()

	iface := doc.AddInterface(tap, true, fib)
	iface.Type = "tap"
	iface.MemberOf = bridge

	return c.Push(ctx, "configure tap "+tap, doc)
}

func (c *Client) AddInterfaceAddress(ctx context.Context, iface string, fib uint32, prefix string) error {
	doc := NewConfig()

	if err := doc.AddInterface(iface, true, fib).AddAddress(prefix); err != nil {
		return err
	}

	return c.Push(ctx, "add address to "+iface, doc)
}

func (c *Client) AddStaticRoute(ctx context.Context, destination, gateway string, fib uint32, description string) error {
	doc := NewConfig()

	if err := doc.AddRoute(destination, gateway, fib, description); err != nil {
		return err
	}

	return c.Push(ctx, "add route "+destination, doc)
}

func (c *Client) RemoveTap(ctx context.Context, tap string) error {
	doc := NewConfig()

	doc.AddInterface(tap, false, 0)

	return c.Push(ctx, "remove tap "+tap, doc)
}

func (c *Client) RemoveBridge(ctx context.Context, bridge string) error {
	doc := NewConfig()

	doc.AddInterface(bridge, false, 0)

	return c.Push(ctx, "remove bridge "+bridge, doc)
}

// CheckAvailability verifies that the socket exists and an empty
// document makes the round trip.
func (c *Client) CheckAvailability(ctx context.Context) error {
	if _, err := os.Stat(c.opts.Socket); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &hvd.BackendError{Backend: "netd", Op: "availability check", Err: fmt.Errorf("socket not found: %s", c.opts.Socket)}
		}
		return &hvd.BackendError{Backend: "netd", Op: "availability check", Err: err}
	}

	return c.Push(ctx, "availability check", NewConfig())
}
