package executor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/util"
	"ebbsync/internal/vfs"

	"go.uber.org/zap"
)

type Config struct {
	RootID           uint
	RemoteRootID     string
	LocalRoot        string
	MoveToTrash      bool
	TrashDir         string
	MaxRetries       int
	BigFileThreshold int64
	ChunkSize        int64
}

// Executor applies the sorted operation list to both replicas, committing
// the DB after each successful operation. Operations run strictly in order;
// a failed operation aborts the remaining list and the supervisor restarts.
// There is no rollback: the database is authoritative and the next pass
// converges.
type Executor struct {
	cfg  Config
	pool *jobs.Pool
	repo *repository.NodeRepository
	hist *repository.HistoryRepository
	fs   vfs.Vfs

	// Remote ids of items created earlier in this run, so that children can
	// resolve parents the trees do not know yet.
	createdRemoteIDs map[string]string
	failed           *syncop.Op

	Progress func(done, total int)
}

// Failed returns the operation that aborted the pass, nil when none did.
func (e *Executor) Failed() *syncop.Op { return e.failed }

func New(cfg Config, pool *jobs.Pool, repo *repository.NodeRepository, hist *repository.HistoryRepository, fs vfs.Vfs) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if fs == nil {
		fs = vfs.Off{}
	}

	return &Executor{
		cfg:              cfg,
		pool:             pool,
		repo:             repo,
		hist:             hist,
		fs:               fs,
		createdRemoteIDs: make(map[string]string),
	}
}

func (e *Executor) Run(ctx context.Context, ops *syncop.List) error {
	total := ops.Len()

	for i, op := range ops.Ops() {
		if err := ctx.Err(); err != nil {
			return status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		err := e.execute(ctx, op)

		if e.hist != nil {
			if histErr := e.hist.Record(e.cfg.RootID, op.Kind, op.TargetSide, e.targetRelPath(op), err); histErr != nil {
				logger.Log.Warn("failed to record history",
					zap.Error(histErr))
			}
		}

		if err != nil {
			e.failed = op
			logger.Log.Error("operation failed, aborting pass",
				zap.String("kind", string(op.Kind)),
				zap.String("path", e.targetRelPath(op)),
				zap.Error(err))
			return err
		}

		if e.Progress != nil {
			e.Progress(i+1, total)
		}
	}

	return nil
}

func (e *Executor) execute(ctx context.Context, op *syncop.Op) error {
	logger.Log.Info("executing operation",
		zap.String("kind", string(op.Kind)),
		zap.String("target", string(op.TargetSide)),
		zap.String("path", e.targetRelPath(op)),
		zap.Bool("omit", op.Omit))

	// Pseudo-conflict and conflict-demoted operations touch the DB only.
	if op.Omit {
		return e.commit(op, nil)
	}

	var result *jobs.Result
	var err error

	switch op.Kind {
	case model.OpCreate:
		result, err = e.executeCreate(ctx, op)
	case model.OpEdit:
		result, err = e.executeEdit(ctx, op)
	case model.OpMove:
		result, err = e.executeMove(ctx, op)
	case model.OpDelete:
		err = e.executeDelete(ctx, op)
	default:
		err = status.New(status.DataError, status.CauseNone)
	}
	if err != nil {
		return err
	}

	return e.commit(op, result)
}

func (e *Executor) executeCreate(ctx context.Context, op *syncop.Op) (*jobs.Result, error) {
	if op.TargetSide == model.SideRemote {
		return e.createRemote(ctx, op)
	}

	return nil, e.createLocal(ctx, op)
}

func (e *Executor) createRemote(ctx context.Context, op *syncop.Op) (*jobs.Result, error) {
	node := op.Affected
	parentID, err := e.remoteParentID(node)
	if err != nil {
		return nil, err
	}

	if node.Type == model.TypeDirectory {
		result, err := e.pool.SubmitRetry(ctx, jobs.Spec{
			Kind:     jobs.CreateDir,
			ParentID: parentID,
			Name:     op.NewName,
		}, e.cfg.MaxRetries)
		if err != nil {
			return nil, err
		}

		e.rememberRemoteID(node.Path(), result.Item)
		return &result, nil
	}

	localPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(node.Path()))

	// Large uploads go through a chunked session that can retry each chunk
	// independently and is canceled as a whole on failure.
	if node.Size > e.cfg.BigFileThreshold {
		session := newUploadSession(e.pool, localPath, op.NewName, parentID, "", node.Size, e.cfg.ChunkSize, e.cfg.MaxRetries)
		result, err := session.run(ctx)
		if err != nil {
			return nil, err
		}

		e.rememberRemoteID(node.Path(), result.Item)
		return &result, nil
	}

	result, err := e.pool.SubmitRetry(ctx, jobs.Spec{
		Kind:      jobs.Upload,
		ParentID:  parentID,
		Name:      op.NewName,
		LocalPath: localPath,
		Size:      node.Size,
		ModTime:   node.ModifiedAt,
	}, e.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	e.rememberRemoteID(node.Path(), result.Item)
	return &result, nil
}

func (e *Executor) createLocal(ctx context.Context, op *syncop.Op) error {
	node := op.Affected
	relPath := path.Join(e.localParentRel(op), op.NewName)
	absPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(relPath))

	if node.Type == model.TypeDirectory {
		if err := os.MkdirAll(absPath, 0755); err != nil {
			return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
		}

		return nil
	}

	// Virtual mode materializes a placeholder instead of the bytes.
	if e.fs.Mode() != model.VfsOff {
		item := vfs.Item{
			RemoteID:   node.ID,
			Size:       node.Size,
			CreatedAt:  node.CreatedAt,
			ModifiedAt: node.ModifiedAt,
		}
		if err := e.fs.CreatePlaceholder(relPath, item); err != nil {
			return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
		}

		return nil
	}

	return e.download(ctx, node, absPath)
}

// download fetches the remote bytes to a temp path, verifies them and moves
// them into place atomically.
func (e *Executor) download(ctx context.Context, node *updatetree.Node, absPath string) error {
	tmpPath := absPath + util.TmpSuffix
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
		return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	_, err := e.pool.SubmitRetry(ctx, jobs.Spec{
		Kind:      jobs.Download,
		RemoteID:  node.ID,
		LocalPath: tmpPath,
		Size:      node.Size,
	}, e.cfg.MaxRetries)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}
	if info.Size() != node.Size {
		_ = os.Remove(tmpPath)
		return status.Wrap(status.DataError, status.CauseNone,
			fmt.Errorf("size mismatch after download: got %d, want %d", info.Size(), node.Size))
	}
	if node.ContentHash != "" {
		hash, err := util.FileHash(tmpPath)
		if err != nil {
			return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
		}
		if hash != node.ContentHash {
			_ = os.Remove(tmpPath)
			return status.Wrap(status.DataError, status.CauseNone,
				fmt.Errorf("hash mismatch after download"))
		}
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		_ = os.Remove(tmpPath)
		return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	if !node.ModifiedAt.IsZero() {
		_ = os.Chtimes(absPath, node.ModifiedAt, node.ModifiedAt)
	}

	return nil
}

func (e *Executor) executeEdit(ctx context.Context, op *syncop.Op) (*jobs.Result, error) {
	node := op.Affected

	if op.TargetSide == model.SideRemote {
		localPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(node.Path()))
		remoteID := op.Corresponding.ID

		if node.Size > e.cfg.BigFileThreshold {
			session := newUploadSession(e.pool, localPath, "", "", remoteID, node.Size, e.cfg.ChunkSize, e.cfg.MaxRetries)
			result, err := session.run(ctx)
			if err != nil {
				return nil, err
			}

			return &result, nil
		}

		result, err := e.pool.SubmitRetry(ctx, jobs.Spec{
			Kind:      jobs.Upload,
			RemoteID:  remoteID,
			LocalPath: localPath,
			Size:      node.Size,
			ModTime:   node.ModifiedAt,
		}, e.cfg.MaxRetries)
		if err != nil {
			return nil, err
		}

		return &result, nil
	}

	absPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(op.Corresponding.Path()))

	// In virtual mode a content change only refreshes the placeholder; the
	// bytes arrive on hydration.
	if e.fs.Mode() != model.VfsOff {
		if dehydrated, err := e.fs.IsDehydrated(absPath); err == nil && dehydrated {
			if err := e.fs.UpdateMetadata(absPath, node.CreatedAt, node.ModifiedAt, node.Size, node.ID); err != nil {
				return nil, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
			}

			return nil, nil
		}
	}

	return nil, e.download(ctx, node, absPath)
}

func (e *Executor) executeMove(ctx context.Context, op *syncop.Op) (*jobs.Result, error) {
	if op.TargetSide == model.SideRemote {
		target := op.Corresponding
		newParentID, newName, err := e.remoteMoveDestination(op)
		if err != nil {
			return nil, err
		}

		result, err := e.pool.SubmitRetry(ctx, jobs.Spec{
			Kind:     jobs.Move,
			RemoteID: target.ID,
			ParentID: newParentID,
			Name:     newName,
		}, e.cfg.MaxRetries)
		if err != nil {
			return nil, err
		}

		return &result, nil
	}

	// Local move: filesystem rename with a cross-device fallback.
	target := op.Corresponding
	srcAbs := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(target.Path()))
	dstAbs := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(e.targetRelPath(op)))

	if err := util.MoveFile(srcAbs, dstAbs); err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return nil, nil
}

func (e *Executor) executeDelete(ctx context.Context, op *syncop.Op) error {
	if op.TargetSide == model.SideRemote {
		_, err := e.pool.SubmitRetry(ctx, jobs.Spec{
			Kind:     jobs.Delete,
			RemoteID: op.Corresponding.ID,
		}, e.cfg.MaxRetries)
		if err != nil && status.CauseOf(err) != status.CauseNotFound {
			return err
		}

		return nil
	}

	absPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(op.Corresponding.Path()))

	// Dehydrated placeholders hold no bytes: delete directly, never trash.
	if dehydrated, err := e.fs.IsDehydrated(absPath); err == nil && dehydrated {
		if err := os.RemoveAll(absPath); err != nil {
			return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
		}

		return nil
	}

	if e.cfg.MoveToTrash {
		if err := e.moveToTrash(absPath); err != nil {
			logger.Log.Warn("move to trash failed, deleting directly",
				zap.String("path", absPath),
				zap.Error(err))
			if err := os.RemoveAll(absPath); err != nil {
				return status.Wrap(status.SystemError, status.CauseMoveToTrashFailed, err)
			}
		}

		return nil
	}

	if err := os.RemoveAll(absPath); err != nil {
		return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return nil
}

func (e *Executor) moveToTrash(absPath string) error {
	if e.cfg.TrashDir == "" {
		return fmt.Errorf("no trash directory configured")
	}

	if err := os.MkdirAll(e.cfg.TrashDir, 0755); err != nil {
		return err
	}

	dst := filepath.Join(e.cfg.TrashDir,
		fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), filepath.Base(absPath)))
	return util.MoveFile(absPath, dst)
}

// targetRelPath is the operation's destination path on the target side.
func (e *Executor) targetRelPath(op *syncop.Op) string {
	if op.Kind == model.OpMove || op.Kind == model.OpCreate {
		name := op.NewName
		if name == "" {
			name = op.Affected.Name
		}

		if op.NewParent != nil {
			return path.Join(op.NewParent.Path(), name)
		}
		if op.Kind == model.OpCreate {
			return path.Join(e.localParentRel(op), name)
		}
		if parent := op.Affected.Parent(); parent != nil {
			return path.Join(parent.Path(), name)
		}
		return name
	}

	if op.Corresponding != nil {
		return op.Corresponding.Path()
	}

	return op.Affected.Path()
}

func (e *Executor) localParentRel(op *syncop.Op) string {
	if op.NewParent != nil {
		return op.NewParent.Path()
	}
	if parent := op.Affected.Parent(); parent != nil {
		return parent.Path()
	}

	return "."
}

// remoteParentID resolves the remote id of a created node's parent: from the
// paired tree when it exists, from items created earlier in this run, from
// the DB as a last resort.
func (e *Executor) remoteParentID(node *updatetree.Node) (string, error) {
	parent := node.Parent()
	if parent == nil {
		return "", status.New(status.DataError, status.CauseNone)
	}
	if parent.IsRoot() {
		return e.cfg.RemoteRootID, nil
	}

	if parent.DbID != nil {
		row, err := e.repo.SelectNodeByDbID(*parent.DbID)
		if err != nil {
			return "", status.Wrap(status.SystemError, status.CauseNone, err)
		}
		if row != nil && row.RemoteID != "" {
			return row.RemoteID, nil
		}
	}

	if id, ok := e.createdRemoteIDs[parent.Path()]; ok {
		return id, nil
	}

	return "", status.Wrap(status.DataError, status.CauseNotFound,
		fmt.Errorf("remote parent unknown for %s", node.Path()))
}

func (e *Executor) remoteMoveDestination(op *syncop.Op) (string, string, error) {
	newName := op.NewName
	if newName == "" {
		newName = op.Affected.Name
	}

	var parent *updatetree.Node
	if op.NewParent != nil {
		parent = op.NewParent
	} else {
		parent = op.Affected.Parent()
	}
	if parent == nil {
		return "", "", status.New(status.DataError, status.CauseNone)
	}
	if parent.IsRoot() {
		return e.cfg.RemoteRootID, newName, nil
	}

	if parent.Side() == model.SideRemote && parent.ID != "" {
		return parent.ID, newName, nil
	}

	if parent.DbID != nil {
		row, err := e.repo.SelectNodeByDbID(*parent.DbID)
		if err != nil {
			return "", "", status.Wrap(status.SystemError, status.CauseNone, err)
		}
		if row != nil && row.RemoteID != "" {
			return row.RemoteID, newName, nil
		}
	}

	if id, ok := e.createdRemoteIDs[parent.Path()]; ok {
		return id, newName, nil
	}

	return "", "", status.Wrap(status.DataError, status.CauseNotFound,
		fmt.Errorf("remote destination unknown for %s", op.Affected.Path()))
}

func (e *Executor) rememberRemoteID(path string, item *jobs.RemoteItem) {
	if item != nil {
		e.createdRemoteIDs[path] = item.ID
	}
}
