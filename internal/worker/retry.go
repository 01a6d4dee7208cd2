package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// attemptFunc reports how often the current task was retried and the limit.
type attemptFunc func(ctx context.Context) (retried, max int)

func asynqAttempt(ctx context.Context) (int, int) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return retried, retried
	}
	return retried, max
}

func lastAttempt(ctx context.Context, attempt attemptFunc) bool {
	retried, max := attempt(ctx)
	return retried >= max
}
