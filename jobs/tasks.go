package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPolicySync copies the authoritative policy into Redis.
	TaskPolicySync = "rbac:policy_sync"
)

// PolicySyncPayload tunes a single policy sync run.
type PolicySyncPayload struct {
	// DryRun validates the source without publishing.
	DryRun bool `json:"dry_run"`
}

// NewPolicySyncTask constructs an Asynq task.
func NewPolicySyncTask(payload PolicySyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPolicySync, data, asynq.Queue(QueueDefault)), nil
}
