// Package task serializes operations on named objects. At most one
// operation per key runs at a time; a caller that finds its key busy
// waits for the running operation to finish.
package task

import (
	"context"
	"errors"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
)

type Pool struct {
	mu    sync.Mutex
	table map[string]chan struct{}

	wg       sync.WaitGroup
	isClosed bool
}

func NewPool() *Pool {
	return &Pool{
		table: make(map[string]chan struct{}),
	}
}

// acquire blocks until the key is free or the context is done.
func (p *Pool) acquire(ctx context.Context, key string) (func(), error) {
	for {
		p.mu.Lock()

		if p.isClosed {
			p.mu.Unlock()

			return nil, ErrPoolClosed
		}

		busy, found := p.table[key]
		if !found {
			done := make(chan struct{})

			p.table[key] = done
			p.wg.Add(1)

			p.mu.Unlock()

			return func() {
				p.mu.Lock()
				delete(p.table, key)
				p.mu.Unlock()

				close(done)

				p.wg.Done()
			}, nil
		}

		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-busy:
		}
	}
}

// RunFunc runs fn exclusively for the key. Waiting for the key honours
// the context, but fn itself is not interrupted once started.
func (p *Pool) RunFunc(ctx context.Context, key string, fn func(*log.Entry) error) error {
	release, err := p.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	return fn(log.WithField("task-key", key))
}

// List returns the keys of the running operations.
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.table))

	for key := range p.table {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// WaitAndClosePool rejects new operations and waits for the running ones.
func (p *Pool) WaitAndClosePool() {
	p.mu.Lock()
	p.isClosed = true
	p.mu.Unlock()

	p.wg.Wait()
}
