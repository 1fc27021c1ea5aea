package repository

import (
	"fmt"

	"ebbsync/internal/db"
	"ebbsync/internal/model"

	"gorm.io/gorm"
)

// SyncNodeRepository manages the DB-backed sync-node sets (blacklists and
// undecided items) for one sync root.
type SyncNodeRepository struct {
	rootID uint
}

func NewSyncNodeRepository(rootID uint) *SyncNodeRepository {
	return &SyncNodeRepository{rootID: rootID}
}

func (r *SyncNodeRepository) SelectAllSyncNodes(t model.SyncNodeType) (map[model.ReplicaSide]map[string]struct{}, error) {
	var rows []model.SyncNodeRow
	err := db.DB.
		Where("sync_root_id = ? AND type = ?", r.rootID, t).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select sync nodes: %w", err)
	}

	set := map[model.ReplicaSide]map[string]struct{}{
		model.SideLocal:  {},
		model.SideRemote: {},
	}
	for _, row := range rows {
		set[row.Side][row.NodeID] = struct{}{}
	}

	return set, nil
}

// UpdateAllSyncNodes replaces the whole set of the given type.
func (r *SyncNodeRepository) UpdateAllSyncNodes(t model.SyncNodeType, set map[model.ReplicaSide]map[string]struct{}) error {
	return db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("sync_root_id = ? AND type = ?", r.rootID, t).
			Delete(&model.SyncNodeRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear sync nodes: %w", err)
		}

		for side, ids := range set {
			for id := range ids {
				row := model.SyncNodeRow{
					SyncRootID: r.rootID,
					Type:       t,
					Side:       side,
					NodeID:     id,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to insert sync node: %w", err)
				}
			}
		}

		return nil
	})
}

func (r *SyncNodeRepository) Add(t model.SyncNodeType, side model.ReplicaSide, nodeID string) error {
	row := model.SyncNodeRow{
		SyncRootID: r.rootID,
		Type:       t,
		Side:       side,
		NodeID:     nodeID,
	}
	if err := db.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert sync node: %w", err)
	}

	return nil
}

func (r *SyncNodeRepository) Remove(t model.SyncNodeType, side model.ReplicaSide, nodeID string) error {
	err := db.DB.
		Where("sync_root_id = ? AND type = ? AND side = ? AND node_id = ?", r.rootID, t, side, nodeID).
		Delete(&model.SyncNodeRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete sync node: %w", err)
	}

	return nil
}
