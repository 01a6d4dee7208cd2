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

// BuildService is the job dispatcher: it pins the current snapshot into a
// new QUEUED build and hands the frozen job to the queue.
type BuildService struct {
	store       repository.Store
	queue       Enqueuer
	resolver    *BlobResolver
	sm          *StateMachine
	taskTimeout time.Duration
}

func NewBuildService(store repository.Store, queue Enqueuer, resolver *BlobResolver, sm *StateMachine, toolchainTimeout time.Duration) *BuildService {
	return &BuildService{
		store:       store,
		queue:       queue,
		resolver:    resolver,
		sm:          sm,
		taskTimeout: toolchainTimeout + 5*time.Minute,
	}
}

// Enqueue creates a build for a flavor the caller owns. If the record was
// persisted but the queue refused the job, the build is returned together
// with an error wrapping ErrQueueUnavailable; the reconciler re-enqueues it.
func (s *BuildService) Enqueue(ctx context.Context, ownerID string, req *model.BuildStartRequest) (*model.Build, error) {
	if (req.SourceURL == "") != (req.SourceType == "") {
		return nil, fmt.Errorf("%w: sourceUrl and sourceType must be given together", ErrValidation)
	}

	flavor, err := s.store.GetFlavorForOwner(ctx, req.FlavorID, ownerID)
	if err != nil {
		return nil, storeErr(err)
	}
	project, err := s.store.GetProject(ctx, flavor.ProjectID)
	if err != nil {
		return nil, storeErr(err)
	}

	var versionID *string
	snapshot, err := s.store.LatestFlavorVersion(ctx, flavor.ID)
	switch {
	case err == nil:
		versionID = &snapshot.ID
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}

	sourceURL, sourceType := project.ApkURL, model.SourceTypeAPK
	if req.SourceURL != "" {
		raw, err := s.resolver.ToRawLocation(req.SourceURL)
		if err != nil {
			return nil, err
		}
		sourceURL, sourceType = raw, req.SourceType
	}

	now := time.Now().UTC()
	build := &model.Build{
		ID:               uuid.New().String(),
		FlavorID:         flavor.ID,
		FlavorVersionID:  versionID,
		SourceURL:        sourceURL,
		SourceType:       sourceType,
		BuildType:        req.BuildType,
		Status:           model.BuildStatusQueued,
		DispatchAttempts: 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to save build: %w", err)
	}

	job := &model.BuildJobPayload{
		BuildID:          build.ID,
		FlavorID:         flavor.ID,
		SourceURL:        sourceURL,
		SourceType:       sourceType,
		BuildType:        build.BuildType,
		ProjectSourceURL: project.SourceURL,
	}
	if snapshot != nil {
		job.Config = snapshot.Config
	}

	if err := s.dispatch(ctx, job); err != nil {
		logging.Error().Err(err).Str("build_id", build.ID).Msg("build persisted but not queued")
		return build, err
	}

	logging.Info().Str("build_id", build.ID).Str("flavor_id", flavor.ID).Msg("build queued")
	return build, nil
}

// Redispatch re-enqueues a QUEUED build from its pinned snapshot. The task id
// is the build id, so a task still waiting in the queue is not duplicated.
func (s *BuildService) Redispatch(ctx context.Context, b *model.Build) error {
	job, err := s.JobFor(ctx, b)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, job)
}

// JobFor rebuilds the frozen job for a build from the snapshot it pinned.
func (s *BuildService) JobFor(ctx context.Context, b *model.Build) (*model.BuildJobPayload, error) {
	job := &model.BuildJobPayload{
		BuildID:    b.ID,
		FlavorID:   b.FlavorID,
		SourceURL:  b.SourceURL,
		SourceType: b.SourceType,
		BuildType:  b.BuildType,
	}
	if b.FlavorVersionID != nil {
		v, err := s.store.GetFlavorVersion(ctx, b.FlavorID, *b.FlavorVersionID)
		if err != nil {
			return nil, storeErr(err)
		}
		job.Config = v.Config
	}
	if flavor, err := s.store.GetFlavor(ctx, b.FlavorID); err == nil {
		if project, err := s.store.GetProject(ctx, flavor.ProjectID); err == nil {
			job.ProjectSourceURL = project.SourceURL
		}
	}
	return job, nil
}

func (s *BuildService) dispatch(ctx context.Context, job *model.BuildJobPayload) error {
	task, err := NewBuildDispatchTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueBuilds),
		asynq.TaskID(job.BuildID),
		asynq.MaxRetry(3),
		asynq.Timeout(s.taskTimeout),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (s *BuildService) Get(ctx context.Context, ownerID, id string) (*model.Build, error) {
	b, err := s.store.GetBuildForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, storeErr(err)
	}
	return b, nil
}

func (s *BuildService) ListForFlavor(ctx context.Context, ownerID, flavorID string) ([]model.Build, error) {
	if _, err := s.store.GetFlavorForOwner(ctx, flavorID, ownerID); err != nil {
		return nil, storeErr(err)
	}
	return s.store.ListBuilds(ctx, flavorID)
}

// OpenArtifact streams the build's stored artifact.
func (s *BuildService) OpenArtifact(ctx context.Context, ownerID, id string) (*Blob, error) {
	b, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if b.DownloadURL == nil || *b.DownloadURL == "" {
		return nil, fmt.Errorf("%w: build has no artifact", ErrNotFound)
	}
	return s.resolver.StreamLocation(ctx, *b.DownloadURL)
}

func (s *BuildService) ClearLogs(ctx context.Context, ownerID, id string) (*model.Build, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.sm.ClearBuildLogs(ctx, id)
}

func (s *BuildService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	return storeErr(s.store.DeleteBuild(ctx, id))
}
