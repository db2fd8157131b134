package models

import (
	"fmt"

	"github.com/google/uuid"
)

// RunRequest asks for one task run. It arrives over the trigger API, the
// request topic or the command line.
type RunRequest struct {
	RunID      uuid.UUID `json:"runId"`
	TaskName   string    `json:"taskName" validate:"required"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	RunOnNode  string    `json:"runOnNode,omitempty"`
	// TaskType, when set, must match the type the backend stores for the task.
	TaskType TaskType `json:"taskType,omitempty" validate:"omitempty,oneof=system_task discovery node_task yii_console_task"`
}

// Coordinates binds the request to the backend's description of the task.
func (r RunRequest) Coordinates(t TaskInfo) (Coordinates, error) {
	if r.TaskType != "" && r.TaskType != t.Type {
		return Coordinates{}, fmt.Errorf("%w: task %s is %s, not %s", ErrValidation, r.TaskName, t.Type, r.TaskType)
	}
	return Coordinates{
		RunID:      r.RunID,
		ScheduleID: r.ScheduleID,
		TaskName:   r.TaskName,
		TaskType:   t.Type,
		Put:        t.Put,
		Table:      t.Table,
		RunOnNode:  r.RunOnNode,
	}, nil
}
