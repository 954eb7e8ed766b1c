package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errSuccessfullyFailed = errors.New("successfully failed")

func TestRunFuncSerializesKey(t *testing.T) {
	pool := NewPool()

	var (
		wg      sync.WaitGroup
		running int32
		maxSeen int32
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := pool.RunFunc(context.Background(), "vm/test", func(l *log.Entry) error {
				n := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)

				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}

				time.Sleep(5 * time.Millisecond)

				return nil
			})
			if err != nil {
				t.Errorf("got unexpected error: %s", err)
			}
		}()
	}

	wg.Wait()

	require.Equal(t, int32(1), maxSeen)
	require.Empty(t, pool.List())
}

func TestRunFuncDifferentKeys(t *testing.T) {
	pool := NewPool()

	started := make(chan struct{})
	release := make(chan struct{})

	go pool.RunFunc(context.Background(), "vm/a", func(*log.Entry) error {
		close(started)
		<-release
		return nil
	})

	<-started

	require.Equal(t, []string{"vm/a"}, pool.List())

	// Another key is not blocked by vm/a
	err := pool.RunFunc(context.Background(), "vm/b", func(*log.Entry) error {
		return errSuccessfullyFailed
	})
	require.ErrorIs(t, err, errSuccessfullyFailed)

	// The same key waits and gives up with the context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = pool.RunFunc(ctx, "vm/a", func(*log.Entry) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	pool.WaitAndClosePool()

	err = pool.RunFunc(context.Background(), "vm/a", func(*log.Entry) error { return nil })
	require.ErrorIs(t, err, ErrPoolClosed)
}
