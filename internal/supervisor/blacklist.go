package supervisor

import (
	"sync"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"

	"go.uber.org/zap"
)

type blacklistKey struct {
	side   model.ReplicaSide
	nodeID string
}

// BlacklistManager temporarily excludes nodes that keep failing: after K
// consecutive failures on one node id it is skipped for the next M passes.
// Counts persist per side so the exclusion survives daemon restarts.
type BlacklistManager struct {
	errRepo   *repository.NodeErrorRepository
	syncRepo  *repository.SyncNodeRepository
	after     int
	passes    int

	mu   sync.Mutex
	skip map[blacklistKey]int
}

func NewBlacklistManager(errRepo *repository.NodeErrorRepository, syncRepo *repository.SyncNodeRepository, after, passes int) (*BlacklistManager, error) {
	m := &BlacklistManager{
		errRepo:  errRepo,
		syncRepo: syncRepo,
		after:    after,
		passes:   passes,
		skip:     make(map[blacklistKey]int),
	}

	rows, err := errRepo.GetAll()
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.SkipPasses > 0 {
			m.skip[blacklistKey{row.Side, row.NodeID}] = row.SkipPasses
		}
	}

	return m, nil
}

func (m *BlacklistManager) IsBlacklisted(side model.ReplicaSide, nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.skip[blacklistKey{side, nodeID}] > 0
}

// RecordError bumps the node's failure count and blacklists it once the
// count reaches the threshold.
func (m *BlacklistManager) RecordError(side model.ReplicaSide, nodeID, cause string) {
	if nodeID == "" {
		return
	}

	row, err := m.errRepo.Increment(side, nodeID, cause)
	if err != nil {
		logger.Log.Warn("failed to persist node error",
			zap.Error(err))
		return
	}

	if row.Count < m.after {
		return
	}

	if err := m.errRepo.SetSkipPasses(side, nodeID, m.passes); err != nil {
		logger.Log.Warn("failed to persist blacklist",
			zap.Error(err))
	}
	_ = m.syncRepo.Add(model.SyncNodeTmpBlacklisted, side, nodeID)

	m.mu.Lock()
	m.skip[blacklistKey{side, nodeID}] = m.passes
	m.mu.Unlock()

	logger.Log.Warn("node temporarily blacklisted",
		zap.String("side", string(side)),
		zap.String("node_id", nodeID),
		zap.Int("passes", m.passes))
}

// RecordSuccess clears the failure count after a clean operation.
func (m *BlacklistManager) RecordSuccess(side model.ReplicaSide, nodeID string) {
	if nodeID == "" {
		return
	}

	_ = m.errRepo.Clear(side, nodeID)
}

// Blacklist excludes a node directly, without waiting for the threshold.
func (m *BlacklistManager) Blacklist(side model.ReplicaSide, nodeID, cause string) {
	if nodeID == "" {
		return
	}

	if _, err := m.errRepo.Increment(side, nodeID, cause); err == nil {
		_ = m.errRepo.SetSkipPasses(side, nodeID, m.passes)
	}
	_ = m.syncRepo.Add(model.SyncNodeTmpBlacklisted, side, nodeID)

	m.mu.Lock()
	m.skip[blacklistKey{side, nodeID}] = m.passes
	m.mu.Unlock()
}

// TickPass decrements every exclusion by one pass, releasing the expired
// ones.
func (m *BlacklistManager) TickPass() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, remaining := range m.skip {
		remaining--
		if remaining <= 0 {
			delete(m.skip, key)
			_ = m.errRepo.SetSkipPasses(key.side, key.nodeID, 0)
			_ = m.syncRepo.Remove(model.SyncNodeTmpBlacklisted, key.side, key.nodeID)
			continue
		}

		m.skip[key] = remaining
		_ = m.errRepo.SetSkipPasses(key.side, key.nodeID, remaining)
	}
}
