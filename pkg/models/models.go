package models

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
)

type Protocol string

const (
	ProtocolSNMP   Protocol = "snmp"
	ProtocolTelnet Protocol = "telnet"
	ProtocolSSH    Protocol = "ssh"
)

type TaskType string

const (
	TaskSystem    TaskType = "system_task"
	TaskDiscovery TaskType = "discovery"
	TaskNode      TaskType = "node_task"
	TaskConsole   TaskType = "yii_console_task"
)

// Coordinates identify one run. A task run fills the task part; the task
// copies it per device and adds the node part before submitting a worker.
type Coordinates struct {
	RunID      uuid.UUID `json:"runId"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	TaskName   string    `json:"taskName" validate:"required"`
	TaskType   TaskType  `json:"taskType,omitempty"`
	Put        string    `json:"put,omitempty"`
	Table      string    `json:"table,omitempty"`
	RunOnNode  string    `json:"runOnNode,omitempty"`

	NodeID   string `json:"nodeId,omitempty"`
	NodeIP   string `json:"nodeIp,omitempty"`
	WorkerID string `json:"workerId,omitempty"`
	Vendor   string `json:"nodeVendor,omitempty"`
	Model    string `json:"nodeModel,omitempty"`
}

// ForNode returns a copy of c bound to one device.
func (c Coordinates) ForNode(a NodeAssignment) Coordinates {
	c.NodeID = a.NodeID
	c.NodeIP = a.IP
	c.WorkerID = a.WorkerID
	c.Vendor = a.Vendor
	c.Model = a.Model
	return c
}

// NodeAssignment is one row of the device to worker-protocol assignment list.
type NodeAssignment struct {
	NodeID   string   `json:"-"`
	WorkerID string   `json:"id"`
	IP       string   `json:"ip"`
	Vendor   string   `json:"vendor"`
	Model    string   `json:"model"`
	Protocol Protocol `json:"get"`
}

// Network is a discovery target: a CIDR and the SNMP access used to probe it.
type Network struct {
	CIDR        string `json:"-"`
	ID          string `json:"id"`
	SNMPRead    string `json:"snmp_read"`
	SNMPVersion string `json:"snmp_version"`
	SNMPPort    string `json:"port_snmp"`
}

// TaskInfo describes a task as stored by the backend.
type TaskInfo struct {
	Name  string   `json:"name"`
	Type  TaskType `json:"task_type"`
	Put   string   `json:"put,omitempty"`
	Table string   `json:"table,omitempty"`
}

// ProtocolResult is what a driver returns for one device.
type ProtocolResult struct {
	Success bool
	Data    map[string]string
}

func NewProtocolResult() ProtocolResult {
	return ProtocolResult{Data: make(map[string]string)}
}

// Keys returns the field names in the order results are hashed and stored.
func (r ProtocolResult) Keys() []string {
	return SortedKeys(r.Data)
}

// WorkerResult is posted to the backend after a device run succeeded.
type WorkerResult struct {
	Put      string            `json:"put"`
	Table    string            `json:"table"`
	DataPath string            `json:"dataPath"`
	TaskName string            `json:"taskName"`
	NodeID   string            `json:"nodeId"`
	Hash     string            `json:"hash"`
	Data     map[string]string `json:"data"`
}

// Outcome is the tally of one task run.
type Outcome struct {
	RunID     uuid.UUID `json:"runId"`
	TaskName  string    `json:"taskName"`
	Success   bool      `json:"success"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeName maps a vendor or model name onto a registry key.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "-", "__")
}

// LogEntry is one record of the backend's schedule or system log.
type LogEntry struct {
	Severity   Level  `json:"-"`
	Action     string `json:"action"`
	Message    string `json:"message"`
	ScheduleID string `json:"schedule_id,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
}

// MarshalJSON writes the severity by name.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	type plain LogEntry
	return json.Marshal(struct {
		Severity string `json:"severity"`
		plain
	}{Severity: e.Severity.String(), plain: plain(e)})
}
