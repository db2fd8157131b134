// Package service turns run requests into task runs. It resolves the task
// and its settings through the backend, runs it and publishes the outcome.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/andrej220/devbackup/pkg/workerpool"
)

// DefaultConcurrentRuns bounds task runs started through Submit.
const DefaultConcurrentRuns = 4

// Runner runs one task. *task.Engine implements it.
type Runner interface {
	Run(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error)
}

// OutcomePublisher receives the outcome of every finished run.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o models.Outcome) error
}

type Service struct {
	backend   backend.Backend
	runner    Runner
	outcomes  OutcomePublisher
	log       lg.Logger
	pool      *workerpool.Pool[models.RunRequest, models.Outcome]
	cancelFns sync.Map // run id -> context.CancelFunc
}

type Option func(*Service)

func WithOutcomePublisher(p OutcomePublisher) Option { return func(s *Service) { s.outcomes = p } }

func WithLogger(l lg.Logger) Option { return func(s *Service) { s.log = l } }

// WithConcurrentRuns sets how many submitted runs execute at once.
func WithConcurrentRuns(n int) Option {
	return func(s *Service) { s.pool = workerpool.NewPool[models.RunRequest, models.Outcome](n) }
}

func New(b backend.Backend, r Runner, opts ...Option) *Service {
	s := &Service{backend: b, runner: r, log: lg.Discard}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = workerpool.NewPool[models.RunRequest, models.Outcome](DefaultConcurrentRuns)
	}
	return s
}

// Execute runs req to completion.
func (s *Service) Execute(ctx context.Context, req models.RunRequest) (models.Outcome, error) {
	if err := models.Validate(req); err != nil {
		return models.Outcome{}, err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	log := s.log.With(lg.String("run_id", req.RunID.String()), lg.String("task", req.TaskName))

	settings, err := s.backend.Settings(ctx)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("get settings: %w", err)
	}
	info, err := s.backend.Task(ctx, req.TaskName)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("get task %s: %w", req.TaskName, err)
	}
	coords, err := req.Coordinates(info)
	if err != nil {
		return models.Outcome{}, err
	}

	log.Info("run started", lg.String("type", string(coords.TaskType)))
	out, err := s.runner.Run(lg.Attach(ctx, log), coords, settings)
	if err != nil {
		log.Error("run failed", lg.Err(err))
	} else {
		log.Info("run finished",
			lg.Bool("success", out.Success),
			lg.Int("succeeded", out.Succeeded),
			lg.Int("failed", out.Failed))
	}

	if s.outcomes != nil {
		if perr := s.outcomes.PublishOutcome(context.WithoutCancel(ctx), out); perr != nil {
			log.Warn("can't publish outcome", lg.Err(perr))
		}
	}
	return out, err
}

// Submit starts req in the background under ctx and returns its run id.
// The run can be stopped with Cancel.
func (s *Service) Submit(ctx context.Context, req models.RunRequest) (uuid.UUID, error) {
	if err := models.Validate(req); err != nil {
		return uuid.Nil, err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFns.Store(req.RunID, cancel)

	f := s.pool.Submit(workerpool.Job[models.RunRequest, models.Outcome]{
		Payload: req,
		Ctx:     runCtx,
		Fn:      s.Execute,
	})
	// a job dropped by the pool never runs, so clean up on the future
	go func() {
		<-f.Done()
		if fn, ok := s.cancelFns.LoadAndDelete(req.RunID); ok {
			fn.(context.CancelFunc)()
		}
	}()
	return req.RunID, nil
}

// Cancel stops a submitted run. It reports false for unknown or finished
// runs.
func (s *Service) Cancel(id uuid.UUID) bool {
	fn, ok := s.cancelFns.LoadAndDelete(id)
	if !ok {
		return false
	}
	fn.(context.CancelFunc)()
	return true
}

// Stop cancels every submitted run and waits for the running ones.
func (s *Service) Stop() {
	s.cancelFns.Range(func(_, fn any) bool {
		fn.(context.CancelFunc)()
		return true
	})
	s.pool.Stop()
}
