// Package netdtest provides an in-process netd peer for tests.
package netdtest

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/0xef53/hvd/internal/wire"
)

// Server accepts framed documents on a unix socket, records them
// and answers every one with "OK".
type Server struct {
	Socket string

	mu   sync.Mutex
	docs []string

	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(t testing.TB) *Server {
	dir, err := os.MkdirTemp("", "netd")
	if err != nil {
		t.Fatal(err)
	}

	s := Server{Socket: filepath.Join(dir, "netd.sock")}

	ln, err := net.Listen("unix", s.Socket)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	s.ln = ln

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(dir)
	})

	return &s
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		func() {
			defer conn.Close()

			doc, err := wire.ReadMessage(conn, wire.MaxCommandLen)
			if err != nil {
				return
			}

			s.mu.Lock()
			s.docs = append(s.docs, doc)
			s.mu.Unlock()

			wire.WriteMessage(conn, "OK")
		}()
	}
}

// Docs returns the documents received so far.
func (s *Server) Docs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.docs...)
}

// Last returns the most recent document or an empty string.
func (s *Server) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.docs) == 0 {
		return ""
	}

	return s.docs[len(s.docs)-1]
}

// Close stops the peer. Subsequent pushes fail with a transport error.
func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}
