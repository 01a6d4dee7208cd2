package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
)

// ProjectService registers base APKs and schedules their decompilation.
type ProjectService struct {
	store       repository.Store
	queue       Enqueuer
	resolver    *BlobResolver
	sm          *StateMachine
	taskTimeout time.Duration
}

func NewProjectService(store repository.Store, queue Enqueuer, resolver *BlobResolver, sm *StateMachine, toolchainTimeout time.Duration) *ProjectService {
	return &ProjectService{
		store:       store,
		queue:       queue,
		resolver:    resolver,
		sm:          sm,
		taskTimeout: toolchainTimeout + 5*time.Minute,
	}
}

// Create stores a PENDING project and queues its decompilation. As with
// builds, a queue failure still returns the stored project.
func (s *ProjectService) Create(ctx context.Context, ownerID string, req *model.CreateProjectRequest) (*model.Project, error) {
	apkURL, err := s.resolver.ToRawLocation(req.ApkURL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &model.Project{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      req.Name,
		ApkURL:    apkURL,
		Status:    model.ProjectStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}

	if err := s.dispatch(ctx, p); err != nil {
		logging.Error().Err(err).Str("project_id", p.ID).Msg("project persisted but not queued")
		return p, err
	}

	logging.Info().Str("project_id", p.ID).Msg("project queued for decompilation")
	return p, nil
}

func (s *ProjectService) dispatch(ctx context.Context, p *model.Project) error {
	task, err := NewDecompileTask(&model.DecompileJobPayload{ProjectID: p.ID, ApkURL: p.ApkURL})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueProjects),
		asynq.MaxRetry(3),
		asynq.Timeout(s.taskTimeout),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// RetryDecompile resets a FAILED project and queues it again.
func (s *ProjectService) RetryDecompile(ctx context.Context, ownerID, id string) (*model.Project, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	p, err := s.sm.RestartProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *ProjectService) Get(ctx context.Context, ownerID, id string) (*model.Project, error) {
	p, err := s.store.GetProjectForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, ownerID string) ([]model.Project, error) {
	return s.store.ListProjects(ctx, ownerID)
}

func (s *ProjectService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	err := s.store.DeleteProject(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
