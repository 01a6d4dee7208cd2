package service

import (
	"context"
	"fmt"
	"time"

	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
)

// Reconciler sweeps builds whose lease (UpdatedAt) expired. Stale QUEUED
// builds are re-enqueued until they reach QueuedMaxAge, then failed; RUNNING
// builds without a callback for RunningCeiling are failed.
type Reconciler struct {
	store  repository.Store
	builds *BuildService
	sm     *StateMachine
	cfg    config.ReconcileConfig
	now    func() time.Time
}

type ReconcileReport struct {
	Requeued       int `json:"requeued"`
	ExpiredQueued  int `json:"expiredQueued"`
	ExpiredRunning int `json:"expiredRunning"`
	Errors         int `json:"errors"`
}

func NewReconciler(store repository.Store, builds *BuildService, sm *StateMachine, cfg config.ReconcileConfig) *Reconciler {
	return &Reconciler{
		store:  store,
		builds: builds,
		sm:     sm,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) Sweep(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := r.now()
	log := logging.With("reconciler")

	staleCutoff := now.Add(-r.cfg.QueuedStaleAfter)
	queued, err := r.store.ListBuildsByStatus(ctx, model.BuildStatusQueued, staleCutoff)
	if err != nil {
		return report, fmt.Errorf("list queued builds: %w", err)
	}
	for i := range queued {
		b := &queued[i]
		if now.Sub(b.CreatedAt) > r.cfg.QueuedMaxAge {
			reason := fmt.Sprintf("Build was not picked up by a worker within %s. Marking as failed.\n", r.cfg.QueuedMaxAge)
			failed, err := r.sm.ExpireBuild(ctx, b.ID, model.BuildStatusQueued, staleCutoff, reason)
			if err != nil {
				report.Errors++
				log.Error().Err(err).Str("build_id", b.ID).Msg("failed to expire queued build")
				continue
			}
			if failed {
				report.ExpiredQueued++
			}
			continue
		}

		if err := r.builds.Redispatch(ctx, b); err != nil {
			report.Errors++
			log.Warn().Err(err).Str("build_id", b.ID).Msg("re-enqueue failed")
			continue
		}
		note := fmt.Sprintf("Build re-queued (attempt %d).\n", b.DispatchAttempts+1)
		if _, err := r.sm.NoteRedispatch(ctx, b.ID, note); err != nil {
			report.Errors++
			log.Error().Err(err).Str("build_id", b.ID).Msg("failed to record re-enqueue")
			continue
		}
		report.Requeued++
	}

	runningCutoff := now.Add(-r.cfg.RunningCeiling)
	running, err := r.store.ListBuildsByStatus(ctx, model.BuildStatusRunning, runningCutoff)
	if err != nil {
		return report, fmt.Errorf("list running builds: %w", err)
	}
	for _, b := range running {
		reason := fmt.Sprintf("No progress reported for %s. Marking build as failed.\n", r.cfg.RunningCeiling)
		failed, err := r.sm.ExpireBuild(ctx, b.ID, model.BuildStatusRunning, runningCutoff, reason)
		if err != nil {
			report.Errors++
			log.Error().Err(err).Str("build_id", b.ID).Msg("failed to expire running build")
			continue
		}
		if failed {
			report.ExpiredRunning++
		}
	}

	if report.Requeued+report.ExpiredQueued+report.ExpiredRunning+report.Errors > 0 {
		log.Info().
			Int("requeued", report.Requeued).
			Int("expired_queued", report.ExpiredQueued).
			Int("expired_running", report.ExpiredRunning).
			Int("errors", report.Errors).
			Msg("reconcile sweep finished")
	}
	return report, nil
}
