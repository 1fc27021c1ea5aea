package repository

import (
	"errors"
	"fmt"
	"path"

	"ebbsync/internal/db"
	"ebbsync/internal/model"

	"gorm.io/gorm"
)

// NodeRepository is the narrow relational interface the pipeline reads and
// writes the node table through. All queries are scoped to one sync root.
type NodeRepository struct {
	rootID uint
	tx     *gorm.DB
}

func NewNodeRepository(rootID uint) *NodeRepository {
	return &NodeRepository{rootID: rootID}
}

func (r *NodeRepository) conn() *gorm.DB {
	if r.tx != nil {
		return r.tx
	}

	return db.DB
}

// Transaction runs fn with a repository bound to a single transaction.
func (r *NodeRepository) Transaction(fn func(tx *NodeRepository) error) error {
	return r.conn().Transaction(func(tx *gorm.DB) error {
		return fn(&NodeRepository{rootID: r.rootID, tx: tx})
	})
}

func (r *NodeRepository) sideColumn(side model.ReplicaSide) string {
	if side == model.SideLocal {
		return "local_id"
	}

	return "remote_id"
}

// SelectNodeByID finds the row whose node id on the given side matches.
// Returns nil without error when no such row exists.
func (r *NodeRepository) SelectNodeByID(side model.ReplicaSide, nodeID string) (*model.NodeRow, error) {
	if nodeID == "" {
		return nil, nil
	}

	var row model.NodeRow
	err := r.conn().
		Where("sync_root_id = ? AND "+r.sideColumn(side)+" = ?", r.rootID, nodeID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select node: %w", err)
	}

	return &row, nil
}

func (r *NodeRepository) SelectNodeByDbID(dbID uint) (*model.NodeRow, error) {
	var row model.NodeRow
	err := r.conn().
		Where("sync_root_id = ? AND db_id = ?", r.rootID, dbID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select node: %w", err)
	}

	return &row, nil
}

func (r *NodeRepository) SelectChildren(dbID uint) ([]model.NodeRow, error) {
	var rows []model.NodeRow
	err := r.conn().
		Where("sync_root_id = ? AND parent_db_id = ?", r.rootID, dbID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select children: %w", err)
	}

	return rows, nil
}

func (r *NodeRepository) SelectAll() ([]model.NodeRow, error) {
	var rows []model.NodeRow
	err := r.conn().
		Where("sync_root_id = ?", r.rootID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select nodes: %w", err)
	}

	return rows, nil
}

func (r *NodeRepository) InsertNode(row *model.NodeRow) error {
	row.SyncRootID = r.rootID
	if err := r.conn().Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}

	return nil
}

func (r *NodeRepository) UpdateNode(row *model.NodeRow) error {
	if err := r.conn().Save(row).Error; err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}

	return nil
}

// DeleteNode removes the row and every descendant row.
func (r *NodeRepository) DeleteNode(dbID uint) error {
	children, err := r.SelectChildren(dbID)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := r.DeleteNode(child.DbID); err != nil {
			return err
		}
	}

	if err := r.conn().
		Where("sync_root_id = ?", r.rootID).
		Delete(&model.NodeRow{}, dbID).Error; err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return nil
}

// Ancestor reports whether the node identified by parentID on the given side
// is an ancestor of the node identified by candidateID.
func (r *NodeRepository) Ancestor(side model.ReplicaSide, parentID, candidateID string) (bool, error) {
	parent, err := r.SelectNodeByID(side, parentID)
	if err != nil {
		return false, err
	}
	if parent == nil {
		return false, nil
	}

	row, err := r.SelectNodeByID(side, candidateID)
	if err != nil || row == nil {
		return false, err
	}

	for row.ParentDbID != nil {
		if *row.ParentDbID == parent.DbID {
			return true, nil
		}

		row, err = r.SelectNodeByDbID(*row.ParentDbID)
		if err != nil {
			return false, err
		}
		if row == nil {
			return false, nil
		}
	}

	return false, nil
}

// Path returns the slash-separated path of a node relative to the sync root.
func (r *NodeRepository) Path(dbID uint) (string, error) {
	row, err := r.SelectNodeByDbID(dbID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", fmt.Errorf("node %d not found", dbID)
	}

	if row.ParentDbID == nil {
		return row.Name, nil
	}

	parentPath, err := r.Path(*row.ParentDbID)
	if err != nil {
		return "", err
	}

	return path.Join(parentPath, row.Name), nil
}
