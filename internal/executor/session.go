package executor

import (
	"context"
	"io"
	"os"

	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/status"

	"go.uber.org/zap"
)

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionStarted
	sessionFinished
	sessionCanceled
)

// uploadSession is the explicit state machine for a chunked upload:
// start, N chunks, finish, or cancel on any failure after the start. Each
// chunk fails and retries independently.
type uploadSession struct {
	pool       *jobs.Pool
	localPath  string
	name       string
	parentID   string
	remoteID   string
	size       int64
	chunkSize  int64
	maxRetries int

	state     sessionState
	sessionID string
}

func newUploadSession(pool *jobs.Pool, localPath, name, parentID, remoteID string, size, chunkSize int64, maxRetries int) *uploadSession {
	if chunkSize <= 0 {
		chunkSize = 10 << 20
	}

	return &uploadSession{
		pool:       pool,
		localPath:  localPath,
		name:       name,
		parentID:   parentID,
		remoteID:   remoteID,
		size:       size,
		chunkSize:  chunkSize,
		maxRetries: maxRetries,
	}
}

func (s *uploadSession) chunkCount() int64 {
	n := s.size / s.chunkSize
	if s.size%s.chunkSize != 0 || n == 0 {
		n++
	}

	return n
}

func (s *uploadSession) run(ctx context.Context) (jobs.Result, error) {
	f, err := os.Open(s.localPath)
	if err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	start, err := s.pool.SubmitRetry(ctx, jobs.Spec{
		Kind:       jobs.UploadSessionStart,
		Name:       s.name,
		ParentID:   s.parentID,
		RemoteID:   s.remoteID,
		Size:       s.size,
		ChunkCount: s.chunkCount(),
	}, s.maxRetries)
	if err != nil {
		return jobs.Result{}, err
	}

	s.state = sessionStarted
	s.sessionID = start.SessionID

	buf := make([]byte, s.chunkSize)
	for index := int64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			s.cancel()
			return jobs.Result{}, status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		n, readErr := io.ReadFull(f, buf)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			s.cancel()
			return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, readErr)
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		if _, err := s.pool.SubmitRetry(ctx, jobs.Spec{
			Kind:       jobs.UploadSessionChunk,
			SessionID:  s.sessionID,
			ChunkIndex: index,
			ChunkCount: s.chunkCount(),
			ChunkSize:  s.chunkSize,
			Data:       chunk,
		}, s.maxRetries); err != nil {
			logger.Log.Warn("upload chunk failed, canceling session",
				zap.Int64("chunk", index),
				zap.Error(err))
			s.cancel()
			return jobs.Result{}, err
		}

		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	result, err := s.pool.SubmitRetry(ctx, jobs.Spec{
		Kind:      jobs.UploadSessionFinish,
		SessionID: s.sessionID,
		Name:      s.name,
		ParentID:  s.parentID,
		RemoteID:  s.remoteID,
		Size:      s.size,
	}, s.maxRetries)
	if err != nil {
		s.cancel()
		return jobs.Result{}, err
	}

	s.state = sessionFinished
	return result, nil
}

// cancel tears the session down on the server; safe to call regardless of
// how far the session got.
func (s *uploadSession) cancel() {
	if s.state != sessionStarted {
		return
	}

	// The op is already failing or canceled, so a fresh context.
	_, _ = s.pool.SubmitWait(context.Background(), jobs.Spec{
		Kind:      jobs.UploadSessionCancel,
		SessionID: s.sessionID,
	})
	s.state = sessionCanceled
}
