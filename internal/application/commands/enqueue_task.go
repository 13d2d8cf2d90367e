package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
)

// EnqueueTask records a pipeline run for the worker to pick up. The HTTP
// layer answers immediately with the task id; progress lives on the site
// record and the task row.
type EnqueueTask struct {
	taskq interfaces.TaskRepo
}

func NewEnqueueTask(taskq interfaces.TaskRepo) *EnqueueTask {
	return &EnqueueTask{taskq: taskq}
}

func (c *EnqueueTask) Execute(ctx context.Context, taskType consts.TaskType, siteID *uint64, payload any) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling %v payload: %w", taskType, err)
	}
	return c.taskq.InsertTask(ctx, db.Task{
		Type:    taskType,
		SiteID:  siteID,
		Status:  consts.TaskStatusPending,
		Payload: raw,
	})
}
