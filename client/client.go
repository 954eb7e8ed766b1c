// Package client implements the client side of the hvd command protocol.
package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/0xef53/hvd/internal/wire"
)

const ErrorPrefix = "ERROR: "

type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the daemon socket. The timeout bounds every exchange;
// zero means no timeout.
func Dial(ctx context.Context, socket string, timeout time.Duration) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, timeout: timeout}, nil
}

// Exec sends one command and returns the response text.
// Command failures are reported by the daemon in the response text,
// see IsError.
func (c *Client) Exec(line string) (string, error) {
	if len(line) >= wire.MaxCommandLen {
		return "", fmt.Errorf("command is too long: %d bytes (limit is %d)", len(line), wire.MaxCommandLen-1)
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", err
		}
	}

	if err := wire.WriteMessage(c.conn, line); err != nil {
		return "", err
	}

	return wire.ReadMessage(c.conn, wire.MaxResponseLen)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// IsError reports whether the response describes a failed command.
func IsError(resp string) bool {
	return strings.HasPrefix(resp, ErrorPrefix)
}
