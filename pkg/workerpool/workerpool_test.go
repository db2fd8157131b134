package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(_ context.Context, n int) (int, error) { return n * n, nil }

func TestPoolResults(t *testing.T) {
	p := NewPool[int, int](3)
	defer p.Stop()

	var futures []*Future[int]
	for i := 1; i <= 10; i++ {
		futures = append(futures, p.Submit(Job[int, int]{Payload: i, Fn: square}))
	}
	for i, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, (i+1)*(i+1), v)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 2
	p := NewPool[int, bool](workers)
	defer p.Stop()

	var running, peak int32
	fn := func(context.Context, int) (bool, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return true, nil
	}
	var futures []*Future[bool]
	for i := 0; i < 8; i++ {
		futures = append(futures, p.Submit(Job[int, bool]{Payload: i, Fn: fn}))
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(workers))
}

func TestPoolNoRetry(t *testing.T) {
	p := NewPool[int, int](1)
	defer p.Stop()

	var calls int32
	boom := errors.New("boom")
	cleaned := make(chan struct{})
	f := p.Submit(Job[int, int]{
		Payload: 1,
		Fn: func(context.Context, int) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, boom
		},
		CleanupFunc: func() { close(cleaned) },
	})
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	<-cleaned
}

func TestPoolPanicBecomesError(t *testing.T) {
	p := NewPool[int, int](1)
	defer p.Stop()

	f := p.Submit(Job[int, int]{Fn: func(context.Context, int) (int, error) { panic("bad device") }})
	_, err := f.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad device")
}

func TestPoolCanceledJobDoesNotRun(t *testing.T) {
	p := NewPool[int, int](1)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	f := p.Submit(Job[int, int]{Ctx: ctx, Fn: func(context.Context, int) (int, error) {
		atomic.AddInt32(&ran, 1)
		return 1, nil
	}})
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&ran))
}

func TestFutureWaitHonorsContext(t *testing.T) {
	p := NewPool[int, int](1)
	release := make(chan struct{})
	f := p.Submit(Job[int, int]{Fn: func(context.Context, int) (int, error) {
		<-release
		return 1, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	p.Stop()
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool[int, int](2)
	p.Stop()
	p.Stop()

	_, err := p.Submit(Job[int, int]{Fn: square}).Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 2, p.MaxWorkers())
}
