package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
	"github.com/qasim313/Unbrandit/internal/service"
)

// BuildWorker hands frozen build jobs to the external toolchain. Progress
// arrives separately through the internal callback API; this worker only
// covers the cases the toolchain cannot report itself.
type BuildWorker struct {
	toolchain client.Toolchain
	store     repository.Store
	sm        *service.StateMachine
	attempt   attemptFunc
}

// NewBuildWorker creates a new build worker
func NewBuildWorker(toolchain client.Toolchain, store repository.Store, sm *service.StateMachine) *BuildWorker {
	return &BuildWorker{
		toolchain: toolchain,
		store:     store,
		sm:        sm,
		attempt:   asynqAttempt,
	}
}

// ProcessTask handles build:dispatch tasks
func (w *BuildWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.BuildJobPayload
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal build job: %v: %w", err, asynq.SkipRetry)
	}
	log := logging.With("build_worker").With().Str("build_id", job.BuildID).Logger()

	b, err := w.store.GetBuild(ctx, job.BuildID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info().Msg("build deleted before dispatch, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load build: %w", err)
	}
	if b.Status != model.BuildStatusQueued {
		log.Info().Str("status", string(b.Status)).Msg("build already picked up, skipping task")
		return nil
	}

	log.Info().Str("build_type", string(job.BuildType)).Msg("dispatching build to toolchain")
	result, err := w.toolchain.Build(ctx, &job)
	if err != nil {
		return w.handleDispatchError(ctx, &job, err)
	}
	w.settle(ctx, job.BuildID, result)
	return nil
}

func (w *BuildWorker) handleDispatchError(ctx context.Context, job *model.BuildJobPayload, err error) error {
	log := logging.With("build_worker").With().Str("build_id", job.BuildID).Logger()

	var se *client.StatusError
	if errors.As(err, &se) {
		log.Warn().Int("status", se.StatusCode).Msg("toolchain rejected build")
		reason := fmt.Sprintf("Build worker returned status %d.\n", se.StatusCode)
		if _, ferr := w.sm.FailBuild(ctx, job.BuildID, reason); ferr != nil {
			log.Error().Err(ferr).Msg("failed to mark build as failed")
			return ferr
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	b, gerr := w.store.GetBuild(ctx, job.BuildID)
	if gerr != nil {
		return err
	}
	if b.Status != model.BuildStatusQueued {
		// The toolchain accepted the job and lost the connection afterwards;
		// the lease sweep owns the build from here.
		log.Warn().Err(err).Str("status", string(b.Status)).Msg("lost connection to toolchain mid-build")
		return nil
	}

	if !lastAttempt(ctx, w.attempt) {
		log.Warn().Err(err).Msg("toolchain unreachable, will retry")
		return err
	}

	log.Error().Err(err).Msg("toolchain unreachable, giving up")
	if _, ferr := w.sm.FailBuild(ctx, job.BuildID, "Build worker could not be reached. Marking as failed.\n"); ferr != nil {
		return ferr
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// settle records the synchronous answer when the toolchain's own callbacks
// did not already finish the build.
func (w *BuildWorker) settle(ctx context.Context, buildID string, result *client.BuildResult) {
	log := logging.With("build_worker").With().Str("build_id", buildID).Logger()

	b, err := w.store.GetBuild(ctx, buildID)
	if err != nil || b.Status.IsTerminal() {
		return
	}

	if !result.Succeeded() {
		if _, err := w.sm.FailBuild(ctx, buildID, "Build worker finished without reporting a result.\n"); err != nil {
			log.Error().Err(err).Msg("failed to mark build as failed")
		}
		return
	}

	if b.Status == model.BuildStatusQueued {
		running := model.BuildStatusRunning
		if _, err := w.sm.ReportBuild(ctx, buildID, &model.BuildProgressRequest{Status: &running}); err != nil && !errors.Is(err, service.ErrInvalidTransition) {
			log.Error().Err(err).Msg("failed to record build start")
			return
		}
	}

	success := model.BuildStatusSuccess
	downloadURL := result.DownloadURL
	_, err = w.sm.ReportBuild(ctx, buildID, &model.BuildProgressRequest{
		Append:      "Result recorded from worker response.\n",
		Status:      &success,
		DownloadURL: &downloadURL,
	})
	switch {
	case err == nil:
		log.Info().Msg("build result recorded from toolchain response")
	case errors.Is(err, service.ErrInvalidTransition):
	default:
		log.Error().Err(err).Msg("failed to record build result")
	}
}
