package observer

import (
	"context"
	"fmt"
	"time"

	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/snapshot"

	"go.uber.org/zap"
)

// RemoteObserver keeps a live snapshot of the remote replica from the drive
// change feed: a full listing first, then cursor-based pages between long
// polls.
type RemoteObserver struct {
	pool     *jobs.Pool
	rootID   string
	snap     *snapshot.Snapshot
	interval time.Duration
	cursor   string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRemoteObserver(pool *jobs.Pool, rootID string, interval time.Duration) *RemoteObserver {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteObserver{
		pool:     pool,
		rootID:   rootID,
		snap:     snapshot.New(model.SideRemote, rootID),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (o *RemoteObserver) Snapshot() *snapshot.Snapshot { return o.snap }

func (o *RemoteObserver) Start() error {
	if err := o.rescan(); err != nil {
		return err
	}

	go o.poll()

	logger.Log.Info("remote observer started",
		zap.String("root_id", o.rootID))
	return nil
}

func (o *RemoteObserver) Stop() {
	o.cancel()
}

// Rescan rebuilds the live snapshot with a fresh full listing.
func (o *RemoteObserver) Rescan() error {
	o.snap.Reset()
	o.cursor = ""
	return o.rescan()
}

func (o *RemoteObserver) rescan() error {
	result, err := o.pool.SubmitWait(o.ctx, jobs.Spec{
		Kind:     jobs.GetFileList,
		RemoteID: o.rootID,
	})
	if err != nil {
		return fmt.Errorf("failed to list remote files: %w", err)
	}

	for _, item := range result.Items {
		o.snap.Upsert(toSnapshotItem(item))
	}

	o.cursor = result.Cursor
	o.snap.SetValid()
	return nil
}

func (o *RemoteObserver) poll() {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		// LongPoll returns when the server reports activity or its own
		// timeout elapses; the ticker is the floor between rounds.
		if _, err := o.pool.SubmitWait(o.ctx, jobs.Spec{Kind: jobs.LongPoll, Cursor: o.cursor}); err != nil {
			if o.ctx.Err() != nil {
				return
			}

			logger.Log.Warn("remote long poll failed",
				zap.Error(err))
		} else if err := o.fetchChanges(); err != nil {
			logger.Log.Warn("failed to fetch remote changes, snapshot invalidated",
				zap.Error(err))
			o.snap.Invalidate()
		}

		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *RemoteObserver) fetchChanges() error {
	for {
		result, err := o.pool.SubmitWait(o.ctx, jobs.Spec{
			Kind:     jobs.GetFileList,
			RemoteID: o.rootID,
			Cursor:   o.cursor,
		})
		if err != nil {
			return err
		}

		for _, change := range result.Changes {
			if change.Removed || change.Item == nil {
				o.snap.Remove(change.ID)
				continue
			}

			o.snap.Upsert(toSnapshotItem(*change.Item))
		}

		if result.Cursor == o.cursor || result.Cursor == "" {
			return nil
		}
		o.cursor = result.Cursor

		if len(result.Changes) == 0 {
			return nil
		}
	}
}

func toSnapshotItem(item jobs.RemoteItem) snapshot.Item {
	return snapshot.Item{
		ID:          item.ID,
		ParentID:    item.ParentID,
		Name:        item.Name,
		Type:        item.Type,
		Size:        item.Size,
		CreatedAt:   item.CreatedAt,
		ModifiedAt:  item.ModifiedAt,
		ContentHash: item.ContentHash,
		CanWrite:    item.CanWrite,
	}
}
