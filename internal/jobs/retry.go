package jobs

import (
	"context"
	"time"

	"ebbsync/internal/logger"
	"ebbsync/internal/status"

	"go.uber.org/zap"
)

const baseBackoff = 500 * time.Millisecond

// SubmitRetry runs one job through the pool, retrying transient failures with
// exponential backoff up to maxAttempts. RateLimited and TokenRefreshed
// outcomes grant a single extra attempt per call, whichever comes first.
func (p *Pool) SubmitRetry(ctx context.Context, spec Spec, maxAttempts int) (Result, error) {
	var result Result
	var err error

	attempts := maxAttempts
	backoff := baseBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = p.SubmitWait(ctx, spec)
		if err == nil {
			return result, nil
		}

		code := status.CodeOf(err)
		cause := status.CauseOf(err)
		if status.Classify(code, cause) != status.Retryable {
			return result, err
		}

		if status.ExtraAttempts(code) && attempts == maxAttempts {
			attempts++
		}

		if attempt == attempts {
			break
		}

		logger.Log.Warn("retrying job",
			zap.String("kind", spec.Kind.String()),
			zap.Int("attempt", attempt),
			zap.String("code", code.String()),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return result, status.Wrap(status.OperationCanceled, status.CauseNone, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	return result, err
}
