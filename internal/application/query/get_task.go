package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
)

type GetTask struct {
	taskq interfaces.TaskRepo
}

func NewGetTask(taskq interfaces.TaskRepo) *GetTask {
	return &GetTask{taskq: taskq}
}

func (q *GetTask) Query(ctx context.Context, taskID uuid.UUID) (dto.TaskResponse, error) {
	task, err := q.taskq.GetTask(ctx, taskID)
	if err != nil {
		return dto.TaskResponse{}, err
	}
	return taskToResponse(task), nil
}

func (q *GetTask) QueryBySite(ctx context.Context, siteID uint64) ([]dto.TaskResponse, error) {
	taskRows, err := q.taskq.ListBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	resp := make([]dto.TaskResponse, 0, len(taskRows))
	for _, task := range taskRows {
		resp = append(resp, taskToResponse(task))
	}
	return resp, nil
}

func taskToResponse(task db.Task) dto.TaskResponse {
	resp := dto.TaskResponse{
		TaskID:       task.ID.String(),
		Type:         task.Type,
		SiteID:       task.SiteID,
		Status:       task.Status,
		ErrorMessage: task.Error,
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
	}
	if task.FinishedAt != nil {
		resp.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
