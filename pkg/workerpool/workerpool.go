package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrej220/devbackup/internal/lg"
)

const TotalMaxWorkers = 10

// ErrStopped resolves futures of jobs the pool no longer accepts or runs.
var ErrStopped = errors.New("worker pool stopped")

type JobFunc[T, R any] func(context.Context, T) (R, error)

type Job[T, R any] struct {
	Payload     T
	Fn          JobFunc[T, R]
	Ctx         context.Context
	CleanupFunc func()
}

// Future is the pending result of a submitted job.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(v R, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finished or ctx is done.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

type queued[T, R any] struct {
	job    Job[T, R]
	future *Future[R]
}

// Pool runs jobs on a fixed number of workers. A failed job is not retried.
type Pool[T, R any] struct {
	jobs          chan queued[T, R]
	quit          chan struct{}
	wg            sync.WaitGroup
	activeWorkers int32
	maxWorkers    int

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func NewPool[T, R any](maxWorkers int) *Pool[T, R] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	p := &Pool[T, R]{
		jobs:       make(chan queued[T, R], maxWorkers),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
	}
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job and blocks while the queue is full. The future resolves
// with the job's context error when the context ends first.
func (p *Pool[T, R]) Submit(job Job[T, R]) *Future[R] {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	f := newFuture[R]()
	var zero R
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		f.resolve(zero, ErrStopped)
		return f
	}
	select {
	case p.jobs <- queued[T, R]{job: job, future: f}:
		lg.FromContext(job.Ctx).Debug("job submitted", lg.Any("job", job.Payload))
	case <-p.quit:
		f.resolve(zero, ErrStopped)
	case <-job.Ctx.Done():
		f.resolve(zero, job.Ctx.Err())
	}
	return f
}

func (p *Pool[T, R]) worker() {
	defer p.wg.Done()
	for {
		select {
		case q := <-p.jobs:
			p.run(q)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool[T, R]) run(q queued[T, R]) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	if q.job.CleanupFunc != nil {
		defer q.job.CleanupFunc()
	}
	logger := lg.FromContext(q.job.Ctx)

	var zero R
	if err := q.job.Ctx.Err(); err != nil {
		logger.Info("job canceled before start", lg.Any("job", q.job.Payload), lg.Err(err))
		q.future.resolve(zero, err)
		return
	}

	v, err := p.call(q.job)
	if err != nil {
		logger.Debug("job failed", lg.Any("job", q.job.Payload), lg.Err(err))
	}
	q.future.resolve(v, err)
}

func (p *Pool[T, R]) call(job Job[T, R]) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Fn(job.Ctx, job.Payload)
}

// Stop lets running jobs finish, then resolves every queued job with
// ErrStopped.
func (p *Pool[T, R]) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.wg.Wait()
		var zero R
		for {
			select {
			case q := <-p.jobs:
				q.future.resolve(zero, ErrStopped)
			default:
				return
			}
		}
	})
}

func (p *Pool[T, R]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}

func (p *Pool[T, R]) MaxWorkers() int { return p.maxWorkers }
