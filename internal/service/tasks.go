package service

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/model"
)

const (
	TaskTypeBuildDispatch    = "build:dispatch"
	TaskTypeProjectDecompile = "project:decompile"
	TaskTypeBuildReconcile   = "build:reconcile"

	QueueBuilds      = "builds"
	QueueProjects    = "projects"
	QueueMaintenance = "maintenance"
)

// Enqueuer is the part of *asynq.Client the services use.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewBuildDispatchTask carries the frozen job, configuration included.
func NewBuildDispatchTask(job *model.BuildJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBuildDispatch, data), nil
}

func NewDecompileTask(job *model.DecompileJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProjectDecompile, data), nil
}

func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskTypeBuildReconcile, nil)
}
