package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsPrune deletes expired session records.
	TaskSessionsPrune = "sessions:prune"
)

// SessionsPrunePayload describes a prune run.
type SessionsPrunePayload struct {
	// Reason is logged only, e.g. "cron" or "manual".
	Reason string `json:"reason"`
}

// NewSessionsPruneTask constructs an Asynq task.
func NewSessionsPruneTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(SessionsPrunePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPrune, data, asynq.Queue(QueueDefault)), nil
}
