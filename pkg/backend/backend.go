// Package backend talks to the management backend that owns devices, jobs,
// credentials, results and the schedule log.
package backend

import (
	"context"
	"fmt"

	"github.com/andrej220/devbackup/pkg/models"
)

// API method names, relative to the v1/core/ prefix.
const (
	MethodNodeCredentials    = "get-node-credentials"
	MethodJobs               = "get-jobs"
	MethodHash               = "get-hash"
	MethodSetWorkerResult    = "set-worker-result"
	MethodVariables          = "get-variables"
	MethodNodesByTask        = "get-nodes-workers-by-task"
	MethodWorkerByNode       = "get-worker-by-node-id"
	MethodNetworks           = "get-networks"
	MethodExclusions         = "get-exclusions"
	MethodSetDiscoveryResult = "set-discovery-result"
	MethodConsoleCommand     = "run-console-command"
	MethodScheduleLog        = "set-schedule-log"
	MethodSystemLog          = "set-system-log"
	MethodConfig             = "get-config"
	MethodTask               = "get-task"

	apiPrefix = "v1/core/"
)

// Backend is everything the engine asks of the management backend.
type Backend interface {
	NodeCredentials(ctx context.Context, c models.Coordinates) (models.Credentials, error)
	Jobs(ctx context.Context, c models.Coordinates) ([]models.Job, error)
	// Hash returns the hash of the last stored result, "" when none.
	Hash(ctx context.Context, c models.Coordinates) (string, error)
	SetWorkerResult(ctx context.Context, c models.Coordinates, r models.WorkerResult) error

	Variables(ctx context.Context, c models.Coordinates) (map[string]string, error)
	NodesByTask(ctx context.Context, c models.Coordinates) ([]models.NodeAssignment, error)
	WorkerByNode(ctx context.Context, c models.Coordinates, nodeID string) ([]models.NodeAssignment, error)

	Networks(ctx context.Context, c models.Coordinates) ([]models.Network, error)
	Exclusions(ctx context.Context, c models.Coordinates) ([]string, error)
	SetDiscoveryResult(ctx context.Context, c models.Coordinates, result map[string]string) error

	// SystemTask calls the backend action named after the task and reports
	// the boolean it answers with.
	SystemTask(ctx context.Context, c models.Coordinates) (bool, error)
	ConsoleCommand(ctx context.Context, c models.Coordinates) error

	Log(ctx context.Context, scope Scope, e models.LogEntry) error

	Settings(ctx context.Context) (models.Settings, error)
	Task(ctx context.Context, name string) (models.TaskInfo, error)
}

// Scope selects the log the entry is written to.
type Scope int

const (
	ScopeSchedule Scope = iota
	ScopeSystem
)

func (s Scope) method() string {
	if s == ScopeSystem {
		return MethodSystemLog
	}
	return MethodScheduleLog
}

// ResponseError is an answer with an unexpected status code.
type ResponseError struct {
	Method string
	Code   int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("backend %s: unexpected status %d: %s", e.Method, e.Code, e.Body)
}
