package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ebbsync/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	calls atomic.Int64
	fn    func(call int64, spec Spec) (Result, error)
}

func (r *stubRunner) Run(_ context.Context, spec Spec) (Result, error) {
	return r.fn(r.calls.Add(1), spec)
}

func TestSubmitRetrySucceedsAfterTransientFailures(t *testing.T) {
	runner := &stubRunner{fn: func(call int64, _ Spec) (Result, error) {
		if call < 3 {
			return Result{}, status.New(status.NetworkError, status.CauseNone)
		}
		return Result{SessionID: "ok"}, nil
	}}

	pool := NewPool(runner, 1, nil)
	defer pool.Close()

	result, err := pool.SubmitRetry(context.Background(), Spec{Kind: Upload}, 3)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.SessionID)
	assert.Equal(t, int64(3), runner.calls.Load())
}

func TestSubmitRetryDoesNotRetryFatalErrors(t *testing.T) {
	runner := &stubRunner{fn: func(int64, Spec) (Result, error) {
		return Result{}, status.New(status.SystemError, status.CauseFileAccessError)
	}}

	pool := NewPool(runner, 1, nil)
	defer pool.Close()

	_, err := pool.SubmitRetry(context.Background(), Spec{Kind: Upload}, 5)
	require.Error(t, err)
	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestSubmitRetryGrantsExtraAttemptWhenRateLimited(t *testing.T) {
	runner := &stubRunner{fn: func(int64, Spec) (Result, error) {
		return Result{}, status.New(status.RateLimited, status.CauseNone)
	}}

	pool := NewPool(runner, 1, nil)
	defer pool.Close()

	_, err := pool.SubmitRetry(context.Background(), Spec{Kind: Upload}, 2)
	require.Error(t, err)
	assert.Equal(t, status.RateLimited, status.CodeOf(err))
	assert.Equal(t, int64(3), runner.calls.Load())
}

func TestAbortFinishesJobWithOperationCanceled(t *testing.T) {
	started := make(chan struct{})
	runner := &stubRunner{fn: func(_ int64, _ Spec) (Result, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return Result{}, nil
	}}

	pool := NewPool(runner, 1, nil)
	defer pool.Close()

	h := pool.Submit(context.Background(), Spec{Kind: Download})
	<-started
	h.Abort()

	_, err := h.Result()
	require.Error(t, err)
	assert.Equal(t, status.OperationCanceled, status.CodeOf(err))
}

func TestTimeoutDetectorTripsAfterOutliers(t *testing.T) {
	d := NewTimeoutDetector(time.Millisecond, 3)

	d.Record(500 * time.Microsecond)
	assert.False(t, d.TimedOut())

	for i := 0; i < 3; i++ {
		d.Record(100 * time.Millisecond)
	}
	// Reaching the threshold is not enough; the count must exceed it.
	assert.False(t, d.TimedOut())

	d.Record(100 * time.Millisecond)
	assert.True(t, d.TimedOut())

	d.Reset()
	assert.False(t, d.TimedOut())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, status.Retryable, status.Classify(status.NetworkError, status.CauseNone))
	assert.Equal(t, status.Retryable, status.Classify(status.RateLimited, status.CauseNone))
	assert.Equal(t, status.Managed, status.Classify(status.BackError, status.CauseNotFound))
	assert.Equal(t, status.Fatal, status.Classify(status.BackError, status.CauseQuotaExceeded))
	assert.Equal(t, status.Fatal, status.Classify(status.SystemError, status.CauseNone))
	assert.Equal(t, status.Managed, status.Classify(status.OperationCanceled, status.CauseNone))
}
