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

// DecompileWorker asks the toolchain to unpack a project's base APK.
type DecompileWorker struct {
	toolchain client.Toolchain
	store     repository.Store
	sm        *service.StateMachine
	attempt   attemptFunc
}

// NewDecompileWorker creates a new decompile worker
func NewDecompileWorker(toolchain client.Toolchain, store repository.Store, sm *service.StateMachine) *DecompileWorker {
	return &DecompileWorker{
		toolchain: toolchain,
		store:     store,
		sm:        sm,
		attempt:   asynqAttempt,
	}
}

// ProcessTask handles project:decompile tasks
func (w *DecompileWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.DecompileJobPayload
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal decompile job: %v: %w", err, asynq.SkipRetry)
	}
	log := logging.With("decompile_worker").With().Str("project_id", job.ProjectID).Logger()

	p, err := w.store.GetProject(ctx, job.ProjectID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info().Msg("project deleted before decompile, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	if p.Status != model.ProjectStatusPending {
		log.Info().Str("status", string(p.Status)).Msg("project not pending, skipping task")
		return nil
	}

	result, err := w.toolchain.Decompile(ctx, &job)
	if err != nil {
		var se *client.StatusError
		if !errors.As(err, &se) && !lastAttempt(ctx, w.attempt) {
			log.Warn().Err(err).Msg("toolchain unreachable, will retry")
			return err
		}
		log.Error().Err(err).Msg("decompile failed")
		if _, ferr := w.sm.FailProject(ctx, job.ProjectID, "Decompilation failed: the build worker did not complete the job.\n"); ferr != nil {
			return ferr
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.settle(ctx, job.ProjectID, result)
	return nil
}

func (w *DecompileWorker) settle(ctx context.Context, projectID string, result *client.DecompileResult) {
	log := logging.With("decompile_worker").With().Str("project_id", projectID).Logger()

	p, err := w.store.GetProject(ctx, projectID)
	if err != nil || p.Status.IsTerminal() {
		return
	}

	if !result.Succeeded() {
		if _, err := w.sm.FailProject(ctx, projectID, "Decompilation finished without a result.\n"); err != nil {
			log.Error().Err(err).Msg("failed to mark project as failed")
		}
		return
	}

	if p.Status == model.ProjectStatusPending {
		decompiling := model.ProjectStatusDecompiling
		if _, err := w.sm.ReportProject(ctx, projectID, &model.ProjectProgressRequest{Status: &decompiling}); err != nil && !errors.Is(err, service.ErrInvalidTransition) {
			log.Error().Err(err).Msg("failed to record decompile start")
			return
		}
	}

	ready := model.ProjectStatusReady
	metadata := result.Metadata
	_, err = w.sm.ReportProject(ctx, projectID, &model.ProjectProgressRequest{Status: &ready, Metadata: &metadata})
	if err != nil && !errors.Is(err, service.ErrInvalidTransition) {
		log.Error().Err(err).Msg("failed to record decompile result")
	}
}
