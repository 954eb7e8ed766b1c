// Package server implements the daemon loop: a unix socket listener that
// serves one client connection at a time. Each connection carries any
// number of request/response exchanges.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/0xef53/hvd/internal/wire"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor runs a request line and returns the response text.
type Executor interface {
	Execute(ctx context.Context, line string) string
}

type ServerConf struct {
	BindSocket string
	SocketMode os.FileMode

	// IdleTimeout closes a connection that sent nothing for this long.
	// Zero means no timeout.
	IdleTimeout time.Duration
}

type Server struct {
	id   string
	conf ServerConf
	exec Executor

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(conf ServerConf, exec Executor) *Server {
	if conf.SocketMode == 0 {
		conf.SocketMode = 0666
	}

	return &Server{
		id:   uuid.New().String(),
		conf: conf,
		exec: exec,
	}
}

// ID returns the session id of the server instance.
func (s *Server) ID() string {
	return s.id
}

// Listen binds the socket. A stale socket file left by a previous
// instance is removed first.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("already listening on %s", s.conf.BindSocket)
	}

	if err := os.Remove(s.conf.BindSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	l, err := net.Listen("unix", s.conf.BindSocket)
	if err != nil {
		return err
	}

	if err := os.Chmod(s.conf.BindSocket, s.conf.SocketMode); err != nil {
		l.Close()
		return err
	}

	s.listener = l

	return nil
}

// Serve accepts and serves connections one by one until the context
// is cancelled. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	if l == nil {
		return fmt.Errorf("server is not listening")
	}

	logger := log.WithFields(log.Fields{"session": s.id, "socket": s.conf.BindSocket})

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()

		// Unblocks Accept
		return l.Close()
	})

	group.Go(func() error {
		logger.Info("Accepting connections")

		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return err
			}

			s.handle(ctx, conn)
		}
	})

	err := group.Wait()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	logger.Info("Server stopped")

	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := log.WithField("conn", uuid.New().String()[:8])

	logger.Debug("Client connected")

	// Cancelling the server context interrupts a blocked read
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if s.conf.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.conf.IdleTimeout))
		}

		// The deadline set on shutdown may have just been overwritten
		if ctx.Err() != nil {
			logger.Debug("Closing connection: server is shutting down")

			return
		}

		req, err := wire.ReadMessage(conn, wire.MaxCommandLen)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Client disconnected")
			case wire.IsMessageTooLargeError(err):
				logger.Warnf("Closing connection: %s", err)
			case ctx.Err() != nil:
				logger.Debug("Closing connection: server is shutting down")
			default:
				logger.Warnf("Closing connection: read failed: %s", err)
			}

			return
		}

		logger.Infof("Request: %s", req)

		resp := wire.Truncate(s.exec.Execute(ctx, req), wire.MaxResponseLen)

		if err := wire.WriteMessage(conn, resp); err != nil {
			logger.Warnf("Closing connection: write failed: %s", err)

			return
		}
	}
}
