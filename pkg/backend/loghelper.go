package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/models"
)

const none = "NONE"

// LogHelper writes run events to the backend log and mirrors them to the
// local logger. Entries below the configured level stay local.
type LogHelper struct {
	backend Backend
	level   models.Level
	coords  models.Coordinates
	log     lg.Logger
}

func NewLogHelper(b Backend, level models.Level, c models.Coordinates, log lg.Logger) *LogHelper {
	if log == nil {
		log = lg.Discard
	}
	return &LogHelper{backend: b, level: level, coords: c, log: log}
}

// For returns a helper bound to other coordinates.
func (h *LogHelper) For(c models.Coordinates) *LogHelper {
	cp := *h
	cp.coords = c
	return &cp
}

func (h *LogHelper) Coordinates() models.Coordinates { return h.coords }

// Node logs into the schedule log of the current run.
func (h *LogHelper) Node(ctx context.Context, level models.Level, action, msg string) {
	h.send(ctx, ScopeSchedule, level, action, msg, nil)
}

// NodeErr is Node with the error detail appended to the message.
func (h *LogHelper) NodeErr(ctx context.Context, level models.Level, action, msg string, err error) {
	h.send(ctx, ScopeSchedule, level, action, msg, err)
}

// System logs into the system log.
func (h *LogHelper) System(ctx context.Context, level models.Level, action, msg string) {
	h.send(ctx, ScopeSystem, level, action, msg, nil)
}

func (h *LogHelper) SystemErr(ctx context.Context, level models.Level, action, msg string, err error) {
	h.send(ctx, ScopeSystem, level, action, msg, err)
}

func (h *LogHelper) send(ctx context.Context, scope Scope, level models.Level, action, msg string, cause error) {
	h.local(level, action, msg, cause)
	if level < h.level || h.backend == nil {
		return
	}
	e := models.LogEntry{
		Severity:   level,
		Action:     action,
		Message:    Message(msg, h.coords, cause),
		ScheduleID: h.coords.ScheduleID,
		NodeID:     h.coords.NodeID,
	}
	if err := h.backend.Log(ctx, scope, e); err != nil {
		h.log.Warn("can't write backend log", lg.String("action", action), lg.Err(err))
	}
}

func (h *LogHelper) local(level models.Level, action, msg string, cause error) {
	fields := []lg.Field{
		lg.String("action", action),
		lg.String("severity", level.String()),
		lg.String("schedule_id", h.coords.ScheduleID),
		lg.String("task", h.coords.TaskName),
		lg.String("node_id", h.coords.NodeID),
		lg.String("worker_id", h.coords.WorkerID),
	}
	if cause != nil {
		fields = append(fields, lg.Err(cause))
	}
	switch {
	case level == models.LevelDebug:
		h.log.Debug(msg, fields...)
	case level <= models.LevelNotice:
		h.log.Info(msg, fields...)
	case level == models.LevelWarning:
		h.log.Warn(msg, fields...)
	default:
		h.log.Error(msg, fields...)
	}
}

// Message appends the error detail and the coordinates footer to header.
func Message(header string, c models.Coordinates, cause error) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	if cause != nil {
		var re *ResponseError
		if errors.As(cause, &re) {
			fmt.Fprintf(&b, "API method: %s\nResponse code: %d\nResponse: %s\n", re.Method, re.Code, re.Body)
		} else {
			fmt.Fprintf(&b, "Exception: %v\n", cause)
		}
	}
	fmt.Fprintf(&b, "Schedule id: %s\nTask name: %s\nNode id: %s\nWorker id: %s\n",
		orNone(c.ScheduleID), orNone(c.TaskName), orNone(c.NodeID), orNone(c.WorkerID))
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}
