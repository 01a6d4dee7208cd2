package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/service"
)

// ReconcileWorker runs the periodic lease sweep.
type ReconcileWorker struct {
	reconciler *service.Reconciler
}

func NewReconcileWorker(reconciler *service.Reconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler}
}

func (w *ReconcileWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := w.reconciler.Sweep(ctx)
	return err
}
