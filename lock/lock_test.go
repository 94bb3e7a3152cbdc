package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/gofrs/flock"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fast = Options{Timeout: 200 * time.Millisecond, RetryDelay: 10 * time.Millisecond}

func TestAcquireBlocksConcurrentAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vid_abc.lock")

	g, err := Acquire(context.Background(), path, fast)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = Acquire(context.Background(), path, fast)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	g.Release()
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "sentinel must be removed on release")

	g2, err := Acquire(context.Background(), path, fast)
	require.NoError(t, err)
	g2.Release()
}

func TestAcquireHonoursCallerCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vid_abc.lock")
	g, err := Acquire(context.Background(), path, fast)
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, Options{Timeout: time.Minute, RetryDelay: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process_abc_1.lock")
	g, err := Acquire(context.Background(), path, fast)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		g.Release()
		close(released)
	}()

	g2, err := Acquire(context.Background(), path, Options{Timeout: 5 * time.Second, RetryDelay: 5 * time.Millisecond})
	require.NoError(t, err)
	<-released
	g2.Release()
}

func TestCriticalSectionsDoNotOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vid_abc.lock")
	opts := Options{Timeout: 10 * time.Second, RetryDelay: time.Millisecond}

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := Acquire(context.Background(), path, opts)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			// Unlock but keep the file so later waiters keep contending on
			// the same inode; Release's unlink is covered above.
			_ = g.fl.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestWaiterOnReplacedSentinelRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vid_abc.lock")

	// An old holder on the first inode.
	old := flock.New(path)
	ok, err := old.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan *Guard, 1)
	go func() {
		g, err := Acquire(context.Background(), path, Options{Timeout: 5 * time.Second, RetryDelay: 5 * time.Millisecond})
		if assert.NoError(t, err) {
			acquired <- g
		}
	}()
	time.Sleep(50 * time.Millisecond)

	// The sentinel is unlinked and a newcomer locks a fresh inode at the same
	// path before the old holder lets go.
	require.NoError(t, os.Remove(path))
	newcomer := flock.New(path)
	ok, err = newcomer.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, old.Unlock())
	require.NoError(t, old.Close())

	select {
	case g := <-acquired:
		g.Release()
		t.Fatal("waiter acquired an unlinked sentinel while the newcomer held the live one")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, newcomer.Unlock())
	require.NoError(t, newcomer.Close())
	select {
	case g := <-acquired:
		g.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the live sentinel")
	}
}

func TestRemoveIsQuietWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.lock")
	Remove(path)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	Remove(path)
	assert.NoFileExists(t, path)
}
