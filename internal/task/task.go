// Package task runs one scheduled task: it expands the task into device
// workers, runs them on a bounded pool and tallies the outcome.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/transport"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/internal/worker"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/andrej220/devbackup/pkg/workerpool"
)

// Log action tags.
const (
	ActionStart     = "TASK START"
	ActionExecute   = "TASK EXECUTE"
	ActionVariables = "TASK GET CUSTOM VARIABLES"
	ActionNodes     = "TASK GET NODES"
	ActionSpawn     = "WORKER SPAWN"
	ActionWait      = "TASK GET WORKER RESPONSE"
	ActionFinish    = "TASK FINISH"
)

// Runner is one unit of pool work.
type Runner interface {
	Run(ctx context.Context) error
}

// Engine runs tasks. It is safe for concurrent use; every run gets its own
// pool.
type Engine struct {
	env  worker.Env
	dial transport.SNMPDialer
	now  func() time.Time
}

type Option func(*Engine)

// WithSNMPDialer replaces the SNMP dialer used by discovery.
func WithSNMPDialer(d transport.SNMPDialer) Option { return func(e *Engine) { e.dial = d } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(env worker.Env, opts ...Option) *Engine {
	e := &Engine{env: env, dial: transport.DialSNMP, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run dispatches on the task type.
func (e *Engine) Run(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	switch c.TaskType {
	case models.TaskSystem:
		return e.RunSystemTask(ctx, c, s)
	case models.TaskDiscovery:
		return e.RunDiscovery(ctx, c, s)
	case models.TaskNode:
		return e.RunNodeTask(ctx, c, s)
	case models.TaskConsole:
		return e.RunConsoleTask(ctx, c, s)
	default:
		run := e.begin(c, s)
		err := fmt.Errorf("%w: unknown task type %q", models.ErrValidation, c.TaskType)
		run.log.Node(ctx, models.LevelError, ActionExecute, "Task "+c.TaskName+" failed. Unknown task type: "+string(c.TaskType)+".")
		return run.outcome, err
	}
}

// run is the state of one task run.
type run struct {
	coords   models.Coordinates
	settings models.Settings
	log      *backend.LogHelper
	logger   lg.Logger
	outcome  models.Outcome
}

func (e *Engine) begin(c models.Coordinates, s models.Settings) *run {
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	if s.ThreadCount < 1 {
		s.ThreadCount = models.DefaultThreadCount
	}
	base := e.env.Logger
	if base == nil {
		base = lg.Discard
	}
	logger := base.With(
		lg.String("run_id", c.RunID.String()),
		lg.String("schedule_id", c.ScheduleID),
		lg.String("task", c.TaskName),
	)
	return &run{
		coords:   c,
		settings: s,
		log:      backend.NewLogHelper(e.env.Backend, s.LogLevel, c, logger),
		logger:   logger,
		outcome:  models.Outcome{RunID: c.RunID, TaskName: c.TaskName},
	}
}

func (r *run) text(format string, args ...any) string {
	return "Task " + r.coords.TaskName + " " + fmt.Sprintf(format, args...)
}

// fanOut runs every runner on a pool of threadCount workers and adds their
// results to the tally. When ctx ends while waiting, the tally so far is kept and the
// context error returned.
func (r *run) fanOut(ctx context.Context, runners []Runner) error {
	pool := workerpool.NewPool[Runner, struct{}](r.settings.ThreadCount)
	defer pool.Stop()

	jobCtx := lg.Attach(ctx, r.logger)
	futures := make([]*workerpool.Future[struct{}], 0, len(runners))
	for _, w := range runners {
		futures = append(futures, pool.Submit(workerpool.Job[Runner, struct{}]{
			Payload: w,
			Ctx:     jobCtx,
			Fn: func(ctx context.Context, w Runner) (struct{}, error) {
				return struct{}{}, w.Run(ctx)
			},
		}))
	}

	r.outcome.Total += len(runners)
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				r.log.NodeErr(ctx, models.LevelError, ActionWait, r.text("was interrupted while waiting for worker result."), ctx.Err())
				return ctx.Err()
			}
			r.outcome.Failed++
			continue
		}
		r.outcome.Succeeded++
	}
	return nil
}

func (r *run) finish(ctx context.Context, label string) models.Outcome {
	r.outcome.Success = r.outcome.Failed == 0
	r.log.Node(ctx, models.LevelInfo, ActionFinish,
		r.text("has been finished. Success: %d. %s: %d.", r.outcome.Succeeded, label, r.outcome.Failed))
	return r.outcome
}

// RunNodeTask runs the task's job batches on every assigned device, or on
// the single device named by RunOnNode.
func (e *Engine) RunNodeTask(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	r := e.begin(c, s)
	r.log.Node(ctx, models.LevelInfo, ActionStart, r.text("started."))

	custom, err := e.env.Backend.Variables(ctx, r.coords)
	if err != nil {
		r.log.SystemErr(ctx, models.LevelError, ActionVariables, "Can't get task variables from API.", err)
		return r.outcome, err
	}
	shared := variables.TaskVariables(custom, e.now())

	var nodes []models.NodeAssignment
	if c.RunOnNode != "" {
		nodes, err = e.env.Backend.WorkerByNode(ctx, r.coords, c.RunOnNode)
	} else {
		nodes, err = e.env.Backend.NodesByTask(ctx, r.coords)
	}
	if err != nil {
		r.log.NodeErr(ctx, models.LevelError, ActionNodes, r.text("can't get node list from API."), err)
		return r.outcome, err
	}

	runners := make([]Runner, 0, len(nodes))
	for _, a := range nodes {
		switch a.Protocol {
		case models.ProtocolSNMP, models.ProtocolTelnet, models.ProtocolSSH:
			runners = append(runners, worker.NewNode(e.env, a.Protocol, r.coords.ForNode(a), r.settings, shared, r.log))
		default:
			// counted as failed without spawning a worker
			r.outcome.Total++
			r.outcome.Failed++
			r.log.Node(ctx, models.LevelError, ActionSpawn, r.text("has unknown protocol %s. Node id: %s", a.Protocol, a.NodeID))
		}
	}

	if err := r.fanOut(ctx, runners); err != nil {
		return r.outcome, err
	}
	return r.finish(ctx, "Failed"), nil
}

// RunSystemTask asks the backend to perform the action named after the task.
func (e *Engine) RunSystemTask(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	r := e.begin(c, s)
	r.log.Node(ctx, models.LevelInfo, ActionStart, r.text("started."))

	ok, err := e.env.Backend.SystemTask(ctx, r.coords)
	if err != nil {
		r.log.SystemErr(ctx, models.LevelError, ActionExecute, "Can't get task result response.", err)
		return r.outcome, err
	}
	r.outcome.Total = 1
	r.outcome.Success = ok
	if ok {
		r.outcome.Succeeded = 1
		r.log.Node(ctx, models.LevelInfo, ActionFinish, r.text("has been finished successfully."))
	} else {
		r.outcome.Failed = 1
		r.log.Node(ctx, models.LevelError, ActionFinish, r.text("has been finished with errors."))
	}
	return r.outcome, nil
}

// RunConsoleTask starts the backend console command bound to the task.
func (e *Engine) RunConsoleTask(ctx context.Context, c models.Coordinates, s models.Settings) (models.Outcome, error) {
	r := e.begin(c, s)
	r.outcome.Total = 1
	if err := e.env.Backend.ConsoleCommand(ctx, r.coords); err != nil {
		r.outcome.Failed = 1
		r.log.NodeErr(ctx, models.LevelError, ActionExecute, r.text("can't run console command task. API response error."), err)
		return r.outcome, err
	}
	r.outcome.Succeeded = 1
	r.outcome.Success = true
	r.log.Node(ctx, models.LevelInfo, ActionExecute, r.text("console command successfully started."))
	return r.outcome, nil
}
