package repository

import (
	"errors"
	"fmt"
	"time"

	"ebbsync/internal/db"
	"ebbsync/internal/model"

	"gorm.io/gorm"
)

// NodeErrorRepository persists per-node failure counts so the temporary
// blacklist survives daemon restarts.
type NodeErrorRepository struct {
	rootID uint
}

func NewNodeErrorRepository(rootID uint) *NodeErrorRepository {
	return &NodeErrorRepository{rootID: rootID}
}

func (r *NodeErrorRepository) Get(side model.ReplicaSide, nodeID string) (*model.NodeErrorRow, error) {
	var row model.NodeErrorRow
	err := db.DB.
		Where("sync_root_id = ? AND side = ? AND node_id = ?", r.rootID, side, nodeID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select node error: %w", err)
	}

	return &row, nil
}

func (r *NodeErrorRepository) GetAll() ([]model.NodeErrorRow, error) {
	var rows []model.NodeErrorRow
	err := db.DB.
		Where("sync_root_id = ?", r.rootID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select node errors: %w", err)
	}

	return rows, nil
}

func (r *NodeErrorRepository) Increment(side model.ReplicaSide, nodeID, cause string) (*model.NodeErrorRow, error) {
	row, err := r.Get(side, nodeID)
	if err != nil {
		return nil, err
	}

	if row == nil {
		row = &model.NodeErrorRow{
			SyncRootID: r.rootID,
			Side:       side,
			NodeID:     nodeID,
		}
	}

	row.Count++
	row.LastErrorAt = time.Now()
	row.LastErrorCause = cause

	if err := db.DB.Save(row).Error; err != nil {
		return nil, fmt.Errorf("failed to save node error: %w", err)
	}

	return row, nil
}

func (r *NodeErrorRepository) SetSkipPasses(side model.ReplicaSide, nodeID string, passes int) error {
	err := db.DB.Model(&model.NodeErrorRow{}).
		Where("sync_root_id = ? AND side = ? AND node_id = ?", r.rootID, side, nodeID).
		Update("skip_passes", passes).Error
	if err != nil {
		return fmt.Errorf("failed to update node error: %w", err)
	}

	return nil
}

func (r *NodeErrorRepository) Clear(side model.ReplicaSide, nodeID string) error {
	err := db.DB.
		Where("sync_root_id = ? AND side = ? AND node_id = ?", r.rootID, side, nodeID).
		Delete(&model.NodeErrorRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete node error: %w", err)
	}

	return nil
}
