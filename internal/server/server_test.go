package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0xef53/hvd/client"
	"github.com/0xef53/hvd/internal/wire"

	"github.com/stretchr/testify/require"
)

type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, line string) string {
	switch {
	case line == "big":
		return strings.Repeat("ж", wire.MaxResponseLen)
	case strings.HasPrefix(line, "fail"):
		return "ERROR: " + line
	}

	return "OK: " + line
}

func startServer(t *testing.T, conf ServerConf) (string, context.CancelFunc, chan error) {
	return startServerWith(t, conf, echoExecutor{})
}

func startServerWith(t *testing.T, conf ServerConf, exec Executor) (string, context.CancelFunc, chan error) {
	dir, err := os.MkdirTemp("", "hvd")
	require.NoError(t, err)

	t.Cleanup(func() { os.RemoveAll(dir) })

	conf.BindSocket = filepath.Join(dir, "hvd.sock")

	srv := NewServer(conf, exec)
	require.NotEmpty(t, srv.ID())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(cancel)

	return conf.BindSocket, cancel, done
}

func TestSocketMode(t *testing.T) {
	socket, _, _ := startServer(t, ServerConf{})

	st, err := os.Stat(socket)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0666), st.Mode().Perm())
}

func TestExchanges(t *testing.T) {
	socket, _, _ := startServer(t, ServerConf{})

	c, err := client.Dial(context.Background(), socket, time.Second)
	require.NoError(t, err)
	defer c.Close()

	// Many exchanges on one connection, errors do not close it
	for _, line := range []string{"list vm", "fail now", "show vm test"} {
		resp, err := c.Exec(line)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(resp, line))
	}

	resp, err := c.Exec("fail again")
	require.NoError(t, err)
	require.True(t, client.IsError(resp))

	resp, err = c.Exec("big")
	require.NoError(t, err)
	require.Less(t, len(resp), wire.MaxResponseLen)
	require.Equal(t, wire.MaxResponseLen-2, len(resp))

	_, err = c.Exec(strings.Repeat("x", wire.MaxCommandLen))
	require.Error(t, err)
}

func TestSequentialConnections(t *testing.T) {
	socket, _, _ := startServer(t, ServerConf{})

	first, err := client.Dial(context.Background(), socket, time.Second)
	require.NoError(t, err)

	_, err = first.Exec("hello")
	require.NoError(t, err)

	// The second client waits until the first one has gone
	second, err := client.Dial(context.Background(), socket, 200*time.Millisecond)
	require.NoError(t, err)

	_, err = second.Exec("hello")
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "got %v", err)

	first.Close()
	second.Close()

	third, err := client.Dial(context.Background(), socket, time.Second)
	require.NoError(t, err)
	defer third.Close()

	resp, err := third.Exec("hello")
	require.NoError(t, err)
	require.Equal(t, "OK: hello", resp)
}

func TestOversizedCommandClosesConnection(t *testing.T) {
	socket, _, _ := startServer(t, ServerConf{})

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	hdr := make([]byte, wire.HeaderSize)
	binary.LittleEndian.PutUint64(hdr, wire.MaxCommandLen)

	_, err = conn.Write(hdr)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, err = wire.ReadMessage(conn, wire.MaxResponseLen)
	require.ErrorIs(t, err, io.EOF)
}

func TestShutdown(t *testing.T) {
	socket, cancel, done := startServer(t, ServerConf{})

	c, err := client.Dial(context.Background(), socket, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Exec("hello")
	require.NoError(t, err)

	// A connected idle client does not block the shutdown
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(socket)
	require.True(t, os.IsNotExist(err))
}

func TestIdleTimeout(t *testing.T) {
	socket, _, _ := startServer(t, ServerConf{IdleTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)

	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

// blockingExecutor holds every request until released.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) Execute(ctx context.Context, line string) string {
	close(e.started)
	<-e.release

	return "OK: " + line
}

func TestShutdownDuringRequest(t *testing.T) {
	exec := &blockingExecutor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	socket, cancel, done := startServerWith(t, ServerConf{IdleTimeout: time.Minute}, exec)

	c, err := client.Dial(context.Background(), socket, 5*time.Second)
	require.NoError(t, err)
	defer c.Close()

	respc := make(chan string, 1)

	go func() {
		resp, _ := c.Exec("slow")
		respc <- resp
	}()

	<-exec.started

	cancel()
	close(exec.release)

	// The request in flight is answered and the idle timeout does not
	// delay the shutdown
	require.Equal(t, "OK: slow", <-respc)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
