// Package worker runs the job batch of one device and hands its result to
// the backend.
package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/devbackup/internal/devicelock"
	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/protocol"
	"github.com/andrej220/devbackup/internal/variables"
	"github.com/andrej220/devbackup/internal/vendor"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/models"
	"github.com/andrej220/devbackup/pkg/persistence"
)

// Log action tags.
const (
	ActionCredentials = "NODE GET CREDENTIALS"
	ActionJobs        = "NODE GET JOBS"
	ActionFactory     = "WORKER FACTORY"
	ActionExecute     = "WORKER EXECUTE"
	ActionSendResult  = "WORKER SEND RESULT"
	ActionLock        = "WORKER LOCK"

	putDB = "db"
)

// Env is shared by all workers of an engine.
type Env struct {
	Backend  backend.Backend
	Registry *vendor.Registry
	Locker   devicelock.Locker
	// Archive, when set, keeps a local copy of every written result.
	Archive *persistence.Archive
	Logger  lg.Logger
}

func (e Env) logger() lg.Logger {
	if e.Logger == nil {
		return lg.Discard
	}
	return e.Logger
}

// Node is the worker for one device of a node task.
type Node struct {
	env      Env
	family   models.Protocol
	coords   models.Coordinates
	settings models.Settings
	shared   map[string]models.Variable
	log      *backend.LogHelper
}

func NewNode(env Env, family models.Protocol, c models.Coordinates, s models.Settings, shared map[string]models.Variable, log *backend.LogHelper) *Node {
	return &Node{env: env, family: family, coords: c, settings: s, shared: shared, log: log.For(c)}
}

func (w *Node) Coordinates() models.Coordinates { return w.coords }

// Run executes the device's batch. A nil error means the device counts as
// succeeded, including when its result was unchanged and not written.
func (w *Node) Run(ctx context.Context) error {
	c := w.coords
	if strings.TrimSpace(c.Vendor) == "" {
		return w.warn(ctx, ActionCredentials, fmt.Errorf("%w: empty device vendor", models.ErrValidation))
	}
	if strings.TrimSpace(c.Model) == "" {
		return w.warn(ctx, ActionCredentials, fmt.Errorf("%w: empty device model", models.ErrValidation))
	}

	if w.settings.DeviceLock && w.env.Locker != nil {
		release, err := w.env.Locker.Lock(ctx, c.NodeID)
		if err != nil {
			return w.fail(ctx, ActionLock, "can't lock device", err)
		}
		defer release()
	}

	creds, err := w.env.Backend.NodeCredentials(ctx, c)
	if err != nil {
		return w.fail(ctx, ActionCredentials, "can't get node credentials", err)
	}
	jobs, err := w.env.Backend.Jobs(ctx, c)
	if err != nil {
		return w.fail(ctx, ActionJobs, "can't get jobs", err)
	}
	if len(jobs) == 0 {
		return w.warn(ctx, ActionJobs, fmt.Errorf("%w: empty jobs list", models.ErrValidation))
	}

	drv, err := w.env.Registry.Driver(w.family, protocol.Params{
		Coords:      c,
		Settings:    w.settings,
		Credentials: creds,
		Jobs:        jobs,
		Vars:        variables.NewRunStore(c, w.shared),
		Logger:      w.runLogger(),
	})
	if err != nil {
		return w.fail(ctx, ActionFactory, fmt.Sprintf("can't build %s driver for %s %s", w.family, c.Vendor, c.Model), err)
	}
	result, err := drv.Execute(ctx)
	if err != nil {
		return w.fail(ctx, ActionExecute, "job execution failed", err)
	}

	if c.Put == "" {
		w.log.Node(ctx, models.LevelInfo, ActionSendResult, w.text("worker success. Result saving is not required."))
		return nil
	}
	hash := Hash(result.Data)
	old, err := w.env.Backend.Hash(ctx, c)
	if err != nil {
		return w.fail(ctx, ActionSendResult, "can't get old hash", err)
	}
	if old == hash {
		w.log.Node(ctx, models.LevelInfo, ActionSendResult, w.text("worker success. Result is unchanged, saving is not required."))
		return nil
	}
	return w.setResult(ctx, hash, result)
}

func (w *Node) setResult(ctx context.Context, hash string, result models.ProtocolResult) error {
	c := w.coords
	if c.Put == putDB && c.Table == "" {
		return w.warn(ctx, ActionSendResult, fmt.Errorf("%w: destination db table is not set", models.ErrValidation))
	}
	r := models.WorkerResult{
		Put:      c.Put,
		Table:    c.Table,
		DataPath: w.settings.DataPath,
		TaskName: c.TaskName,
		NodeID:   c.NodeID,
		Hash:     hash,
		Data:     result.Data,
	}
	if err := w.env.Backend.SetWorkerResult(ctx, c, r); err != nil {
		return w.fail(ctx, ActionSendResult, "set result via API is failed", err)
	}
	w.log.Node(ctx, models.LevelInfo, ActionSendResult, w.text("worker success. Result is successfully saved."))

	if w.env.Archive != nil {
		if _, err := w.env.Archive.Save(r); err != nil {
			w.runLogger().Warn("can't archive result", lg.Err(err))
		}
	}
	return nil
}

// Hash is the upper-case hex MD5 of the result values concatenated in field
// name order.
func Hash(data map[string]string) string {
	h := md5.New()
	for _, k := range models.SortedKeys(data) {
		h.Write([]byte(data[k]))
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func (w *Node) text(msg string) string {
	return fmt.Sprintf("Task %s, node %s: %s", w.coords.TaskName, w.coords.NodeID, msg)
}

func (w *Node) fail(ctx context.Context, action, msg string, err error) error {
	level := models.LevelError
	if errors.Is(err, context.Canceled) {
		level = models.LevelWarning
	}
	w.log.NodeErr(ctx, level, action, w.text(msg+"."), err)
	return fmt.Errorf("%s: %w", msg, err)
}

func (w *Node) warn(ctx context.Context, action string, err error) error {
	w.log.Node(ctx, models.LevelWarning, action, w.text(err.Error()+"."))
	return err
}

func (w *Node) runLogger() lg.Logger {
	return w.env.logger().With(runFields(w.coords)...)
}

func runFields(c models.Coordinates) []lg.Field {
	return []lg.Field{
		lg.String("schedule_id", c.ScheduleID),
		lg.String("task", c.TaskName),
		lg.String("node_id", c.NodeID),
		lg.String("worker_id", c.WorkerID),
		lg.String("run_id", c.RunID.String()),
	}
}
