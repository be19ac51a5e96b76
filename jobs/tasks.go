package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAdvanceSweep opens the round of the latest started event.
	TaskAdvanceSweep = "rounds:advance-sweep"
)

// SweepPayload selects the cycle to sweep. A nil CycleID means the current cycle.
type SweepPayload struct {
	CycleID *uuid.UUID `json:"cycleId,omitempty"`
}

// NewSweepTask constructs an Asynq task.
func NewSweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAdvanceSweep, data), nil
}
