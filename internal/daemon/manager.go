package daemon

import (
	"context"
	"fmt"
	"sync"

	"ebbsync/internal/config"
	"ebbsync/internal/jobs"
	"ebbsync/internal/jobs/dropbox"
	"ebbsync/internal/jobs/gdrive"
	"ebbsync/internal/jobs/memdrive"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/supervisor"
	"ebbsync/internal/vfs"

	"go.uber.org/zap"
)

// RootManager runs one supervisor per configured sync root.
type RootManager struct {
	mu       sync.RWMutex
	roots    map[uint]*supervisor.Supervisor
	cfg      *config.Config
	rootRepo *repository.RootRepository
}

func NewRootManager(cfg *config.Config) *RootManager {
	return &RootManager{
		roots:    make(map[uint]*supervisor.Supervisor),
		cfg:      cfg,
		rootRepo: repository.NewRootRepository(),
	}
}

func (m *RootManager) StartRoot(root model.SyncRoot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.roots[root.ID]; exists {
		return fmt.Errorf("sync root %d already running", root.ID)
	}

	runner, remoteRootID, err := m.newRunner(root)
	if err != nil {
		return err
	}

	var fs vfs.Vfs = vfs.Off{}

	sv, err := supervisor.New(root, m.cfg, runner, remoteRootID, fs)
	if err != nil {
		return err
	}

	if err := sv.Start(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	m.roots[root.ID] = sv

	logger.Log.Info("sync root started",
		zap.Uint("id", root.ID),
		zap.String("local", root.LocalPath),
		zap.String("remote", root.RemotePath))

	return nil
}

func (m *RootManager) newRunner(root model.SyncRoot) (jobs.Runner, string, error) {
	switch root.Provider {
	case model.ProviderGDrive:
		r, err := gdrive.NewRunner(context.Background(), root.RemotePath)
		if err != nil {
			return nil, "", err
		}
		return r, r.RootID(), nil

	case model.ProviderDropbox:
		r, err := dropbox.NewRunner(root.RemotePath)
		if err != nil {
			return nil, "", err
		}
		return r, r.RootID(), nil

	case model.ProviderMemory:
		d := memdrive.New()
		return d, d.RootID(), nil

	default:
		return nil, "", fmt.Errorf("unsupported provider: %s", root.Provider)
	}
}

func (m *RootManager) StopRoot(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sv, ok := m.roots[id]
	if !ok {
		return fmt.Errorf("sync root %d not running", id)
	}

	sv.Stop()
	delete(m.roots, id)

	logger.Log.Info("sync root stopped",
		zap.Uint("id", id))
	return nil
}

func (m *RootManager) PauseRoot(id uint) error {
	m.mu.RLock()
	sv, ok := m.roots[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("sync root %d not running", id)
	}

	sv.Pause()
	return m.rootRepo.UpdateStatus(id, model.RootStatusPaused)
}

func (m *RootManager) ResumeRoot(id uint) error {
	m.mu.RLock()
	sv, ok := m.roots[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("sync root %d not running", id)
	}

	sv.Resume()
	return m.rootRepo.UpdateStatus(id, model.RootStatusActive)
}

func (m *RootManager) Snapshots() []model.RootSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]model.RootSnapshot, 0, len(m.roots))
	for _, sv := range m.roots {
		snaps = append(snaps, sv.Snapshot())
	}

	return snaps
}

func (m *RootManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sv := range m.roots {
		sv.Stop()
		delete(m.roots, id)
	}
}
