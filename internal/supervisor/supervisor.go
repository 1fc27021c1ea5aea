package supervisor

import (
	"context"
	"sync"
	"time"

	"ebbsync/internal/compute"
	"ebbsync/internal/config"
	"ebbsync/internal/executor"
	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/observer"
	"ebbsync/internal/opgen"
	"ebbsync/internal/opsort"
	"ebbsync/internal/reconcile"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/vfs"

	"go.uber.org/zap"
)

// Step is the supervisor's position in the per-pass state machine.
type Step string

const (
	StepIdle            Step = "IDLE"
	StepChangeDetection Step = "CHANGE_DETECTION"
	StepTreeBuild       Step = "TREE_BUILD"
	StepReconcile       Step = "RECONCILE"
	StepExecute         Step = "EXECUTE"
	StepCommitOrRestart Step = "COMMIT_OR_RESTART"
)

// Supervisor drives one sync root through repeated passes of the pipeline.
// NeedRestart and DataError results discard the pass, reobserve and try
// again up to a bounded number of restarts; SystemError surfaces the error
// and pauses.
type Supervisor struct {
	root model.SyncRoot
	cfg  *config.Config

	pool         *jobs.Pool
	localObs     *observer.LocalObserver
	remoteObs    *observer.RemoteObserver
	remoteRootID string
	fs           vfs.Vfs

	repo      *repository.NodeRepository
	syncRepo  *repository.SyncNodeRepository
	errRepo   *repository.NodeErrorRepository
	hist      *repository.HistoryRepository
	blacklist *BlacklistManager

	mu        sync.RWMutex
	step      Step
	paused    bool
	restarts  int
	synced    int
	failed    int
	lastPass  *time.Time
	startedAt time.Time

	pauseCond *sync.Cond
	stopCh    chan struct{}
	cancel    context.CancelFunc
}

func New(root model.SyncRoot, cfg *config.Config, runner jobs.Runner, remoteRootID string, fs vfs.Vfs) (*Supervisor, error) {
	detector := jobs.NewTimeoutDetector(cfg.TimeoutPrecision, cfg.TimeoutThreshold)
	pool := jobs.NewPool(runner, cfg.Workers, detector)

	localObs, err := observer.NewLocalObserver(root.LocalPath, cfg.BufferSize, cfg.IgnoreList)
	if err != nil {
		pool.Close()
		return nil, err
	}

	if fs == nil {
		fs = vfs.Off{}
	}

	errRepo := repository.NewNodeErrorRepository(root.ID)
	syncRepo := repository.NewSyncNodeRepository(root.ID)
	blacklist, err := NewBlacklistManager(errRepo, syncRepo, cfg.BlacklistAfter, cfg.BlacklistPasses)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sv := &Supervisor{
		root:      root,
		cfg:       cfg,
		pool:      pool,
		localObs:  localObs,
		remoteObs:    observer.NewRemoteObserver(pool, remoteRootID, cfg.PollInterval),
		remoteRootID: remoteRootID,
		fs:           fs,
		repo:      repository.NewNodeRepository(root.ID),
		syncRepo:  syncRepo,
		errRepo:   errRepo,
		hist:      repository.NewHistoryRepository(),
		blacklist: blacklist,
		step:      StepIdle,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
	sv.pauseCond = sync.NewCond(&sv.mu)
	return sv, nil
}

func (s *Supervisor) Start() error {
	if err := s.localObs.Start(); err != nil {
		return err
	}
	if err := s.remoteObs.Start(); err != nil {
		s.localObs.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)

	logger.Log.Info("supervisor started",
		zap.Uint("root", s.root.ID),
		zap.String("local", s.root.LocalPath))
	return nil
}

func (s *Supervisor) Stop() {
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	s.Resume()

	s.localObs.Stop()
	s.remoteObs.Stop()
	s.pool.Close()
}

func (s *Supervisor) Pause() {
	s.setPaused(true)
}

func (s *Supervisor) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.pauseCond.Broadcast()
}

// waitIfPaused blocks at a stage boundary while the root is paused.
func (s *Supervisor) waitIfPaused(ctx context.Context) error {
	s.mu.Lock()
	for s.paused {
		if ctx.Err() != nil {
			break
		}
		s.pauseCond.Wait()
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return status.Wrap(status.OperationCanceled, status.CauseNone, err)
	}

	return nil
}

func (s *Supervisor) Snapshot() model.RootSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.root.Status
	if s.paused {
		st = model.RootStatusPaused
	}

	return model.RootSnapshot{
		RootID:    s.root.ID,
		LocalPath: s.root.LocalPath,
		Remote:    s.root.RemotePath,
		Status:    st,
		Step:      string(s.step),
		StartedAt: s.startedAt,
		Synced:    s.synced,
		Failed:    s.failed,
		LastPass:  s.lastPass,
	}
}

func (s *Supervisor) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	runNow := time.After(time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-runNow:
		case <-ticker.C:
		}

		if err := s.waitIfPaused(ctx); err != nil {
			return
		}

		restart := s.runPass(ctx)
		runNow = nil
		if restart {
			// Conflict resolution and discarded passes restart promptly.
			runNow = time.After(time.Second)
		}
	}
}

// runPass drives one pass and reports whether the next one should start
// without waiting for the poll interval.
func (s *Supervisor) runPass(ctx context.Context) bool {
	err := s.pass(ctx)
	now := time.Now()

	s.mu.Lock()
	s.lastPass = &now
	s.mu.Unlock()

	s.blacklist.TickPass()

	switch status.CodeOf(err) {
	case status.Ok:
		s.mu.Lock()
		s.restarts = 0
		s.mu.Unlock()
		s.setStep(StepIdle)
		return false

	case status.NeedRestart, status.DataError:
		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()

		if restarts > s.cfg.MaxRestarts {
			logger.Log.Error("restart budget exhausted",
				zap.Uint("root", s.root.ID),
				zap.Error(status.New(status.DataError, status.CauseInvalidSnapshot)))
			s.setPaused(true)
			return false
		}

		if status.CodeOf(err) == status.DataError {
			s.reobserve()
		}

		logger.Log.Info("pass discarded, restarting",
			zap.Uint("root", s.root.ID),
			zap.Int("restart", restarts))
		return true

	case status.OperationCanceled:
		return false

	default:
		logger.Log.Error("sync pass failed",
			zap.Uint("root", s.root.ID),
			zap.Error(err))
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		s.setPaused(true)
		return false
	}
}

func (s *Supervisor) reobserve() {
	if err := s.localObs.Rescan(); err != nil {
		logger.Log.Error("local rescan failed",
			zap.Error(err))
	}
	if err := s.remoteObs.Rescan(); err != nil {
		logger.Log.Error("remote rescan failed",
			zap.Error(err))
	}
}

// pass is one traversal of the pipeline, change detection through executor
// commit.
func (s *Supervisor) pass(ctx context.Context) error {
	s.setStep(StepChangeDetection)
	if err := s.waitIfPaused(ctx); err != nil {
		return err
	}

	localFrozen := s.localObs.Snapshot().Freeze()
	remoteFrozen := s.remoteObs.Snapshot().Freeze()

	localOps, err := compute.NewComputer(localFrozen, s.repo, s.blacklist.IsBlacklisted).Compute(ctx)
	if err != nil {
		return err
	}
	remoteOps, err := compute.NewComputer(remoteFrozen, s.repo, s.blacklist.IsBlacklisted).Compute(ctx)
	if err != nil {
		return err
	}

	if localOps.Len() == 0 && remoteOps.Len() == 0 {
		return nil
	}

	s.setStep(StepTreeBuild)
	if err := s.waitIfPaused(ctx); err != nil {
		return err
	}

	localTree := updatetree.NewTree(model.SideLocal, localFrozen.RootID, nil)
	remoteTree := updatetree.NewTree(model.SideRemote, remoteFrozen.RootID, nil)

	if err := updatetree.NewBuilder(localTree, localOps, s.repo).Build(ctx); err != nil {
		return err
	}
	if err := updatetree.NewBuilder(remoteTree, remoteOps, s.repo).Build(ctx); err != nil {
		return err
	}

	for _, issue := range reconcile.CheckTree(remoteTree) {
		s.blacklist.Blacklist(model.SideRemote, issue.NodeID, status.CauseInvalidName.String())
	}

	s.setStep(StepReconcile)
	if err := s.waitIfPaused(ctx); err != nil {
		return err
	}

	pair := reconcile.Pair{Local: localTree, Remote: remoteTree}
	queue, err := reconcile.NewFinder(pair).Find(ctx)
	if err != nil {
		return err
	}

	ops := syncop.NewList()
	restartAfter := false

	if !queue.Empty() {
		// Conflict resolution mutates the trees' semantics; only the
		// resolver's operations run this pass, then the pipeline restarts.
		resolver := reconcile.NewResolver(pair, queue, ops, s.repo, s.localObs.Root())
		solved, err := resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		restartAfter = solved
	} else {
		gen := opgen.NewGenerator(pair, ops, s.root.VfsMode, s.localObs.Root(), s.cfg.FreeSpaceFloor)
		if err := gen.Generate(ctx); err != nil {
			return err
		}
		restartAfter = gen.Restart
	}

	if ops.Len() == 0 {
		return nil
	}

	if err := opsort.NewSorter(ops).Sort(ctx); err != nil {
		return err
	}

	s.setStep(StepExecute)
	if err := s.waitIfPaused(ctx); err != nil {
		return err
	}

	exec := executor.New(executor.Config{
		RootID:           s.root.ID,
		RemoteRootID:     s.remoteRootID,
		LocalRoot:        s.localObs.Root(),
		MoveToTrash:      s.root.MoveToTrash,
		TrashDir:         s.trashDir(),
		MaxRetries:       s.cfg.MaxRetries,
		BigFileThreshold: s.cfg.BigFileThreshold,
		ChunkSize:        s.cfg.UploadChunkSize,
	}, s.pool, s.repo, s.hist, s.fs)

	exec.Progress = func(done, total int) {
		s.mu.Lock()
		s.synced++
		s.mu.Unlock()
	}

	execErr := exec.Run(ctx, ops)

	s.setStep(StepCommitOrRestart)

	if execErr != nil {
		if failedOp := exec.Failed(); failedOp != nil {
			s.blacklist.RecordError(failedOp.TargetSide, failedOp.Affected.ID,
				status.CauseOf(execErr).String())
		}
		return execErr
	}

	for _, op := range ops.Ops() {
		s.blacklist.RecordSuccess(op.TargetSide, op.Affected.ID)
	}

	if restartAfter {
		return status.New(status.NeedRestart, status.CauseNone)
	}

	return nil
}

func (s *Supervisor) trashDir() string {
	dir, err := config.Dir()
	if err != nil {
		return ""
	}

	return dir + "/trash"
}

func (s *Supervisor) setStep(step Step) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

func (s *Supervisor) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}
