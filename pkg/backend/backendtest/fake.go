// Package backendtest provides an in-memory backend.Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/models"
)

// LogRecord is one captured log call.
type LogRecord struct {
	Scope backend.Scope
	Entry models.LogEntry
}

// Fake serves canned data keyed by node, worker or task. Fail maps a method
// name to the error it returns. It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	Credentials  map[string]models.Credentials // by node id
	JobsByWorker map[string][]models.Job
	Hashes       map[string]string // by task/node
	Vars         map[string]string
	Nodes        []models.NodeAssignment
	NetworkList  []models.Network
	Excluded     []string
	SystemOK     bool
	Config       models.Settings
	Tasks        map[string]models.TaskInfo
	Fail         map[string]error

	Results   []models.WorkerResult
	Discovery []map[string]string
	Consoles  []models.Coordinates
	Logs      []LogRecord
}

func New() *Fake {
	return &Fake{
		Credentials:  map[string]models.Credentials{},
		JobsByWorker: map[string][]models.Job{},
		Hashes:       map[string]string{},
		Vars:         map[string]string{},
		Tasks:        map[string]models.TaskInfo{},
		Fail:         map[string]error{},
	}
}

func HashKey(task, node string) string { return task + "/" + node }

func (f *Fake) fail(method string) error {
	return f.Fail[method]
}

func (f *Fake) NodeCredentials(_ context.Context, c models.Coordinates) (models.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodNodeCredentials); err != nil {
		return models.Credentials{}, err
	}
	cr, ok := f.Credentials[c.NodeID]
	if !ok {
		return cr, &backend.ResponseError{Method: backend.MethodNodeCredentials, Code: 404, Body: "no credentials"}
	}
	return cr, nil
}

func (f *Fake) Jobs(_ context.Context, c models.Coordinates) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodJobs); err != nil {
		return nil, err
	}
	return f.JobsByWorker[c.WorkerID], nil
}

func (f *Fake) Hash(_ context.Context, c models.Coordinates) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodHash); err != nil {
		return "", err
	}
	return f.Hashes[HashKey(c.TaskName, c.NodeID)], nil
}

func (f *Fake) SetWorkerResult(_ context.Context, _ models.Coordinates, r models.WorkerResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodSetWorkerResult); err != nil {
		return err
	}
	f.Results = append(f.Results, r)
	f.Hashes[HashKey(r.TaskName, r.NodeID)] = r.Hash
	return nil
}

func (f *Fake) Variables(context.Context, models.Coordinates) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodVariables); err != nil {
		return nil, err
	}
	return f.Vars, nil
}

func (f *Fake) NodesByTask(context.Context, models.Coordinates) ([]models.NodeAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodNodesByTask); err != nil {
		return nil, err
	}
	return f.Nodes, nil
}

func (f *Fake) WorkerByNode(_ context.Context, _ models.Coordinates, nodeID string) ([]models.NodeAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodWorkerByNode); err != nil {
		return nil, err
	}
	var out []models.NodeAssignment
	for _, n := range f.Nodes {
		if n.NodeID == nodeID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *Fake) Networks(context.Context, models.Coordinates) ([]models.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodNetworks); err != nil {
		return nil, err
	}
	return f.NetworkList, nil
}

func (f *Fake) Exclusions(context.Context, models.Coordinates) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodExclusions); err != nil {
		return nil, err
	}
	return f.Excluded, nil
}

func (f *Fake) SetDiscoveryResult(_ context.Context, _ models.Coordinates, result map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodSetDiscoveryResult); err != nil {
		return err
	}
	f.Discovery = append(f.Discovery, result)
	return nil
}

func (f *Fake) SystemTask(_ context.Context, c models.Coordinates) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.SystemTaskMethod(c.TaskName)); err != nil {
		return false, err
	}
	return f.SystemOK, nil
}

func (f *Fake) ConsoleCommand(_ context.Context, c models.Coordinates) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodConsoleCommand); err != nil {
		return err
	}
	f.Consoles = append(f.Consoles, c)
	return nil
}

func (f *Fake) Log(_ context.Context, scope backend.Scope, e models.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, LogRecord{Scope: scope, Entry: e})
	return nil
}

func (f *Fake) Settings(context.Context) (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodConfig); err != nil {
		return models.Settings{}, err
	}
	return f.Config, nil
}

func (f *Fake) Task(_ context.Context, name string) (models.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(backend.MethodTask); err != nil {
		return models.TaskInfo{}, err
	}
	t, ok := f.Tasks[name]
	if !ok {
		return t, fmt.Errorf("%w: task %q not found", models.ErrValidation, name)
	}
	return t, nil
}

// LogsWithAction returns the captured entries with the given action tag.
func (f *Fake) LogsWithAction(action string) []LogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []LogRecord
	for _, r := range f.Logs {
		if r.Entry.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// ResultCount is safe to call while workers still run.
func (f *Fake) ResultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Results)
}

var _ backend.Backend = (*Fake)(nil)
