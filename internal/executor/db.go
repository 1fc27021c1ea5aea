package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"ebbsync/internal/jobs"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/util"
)

// commit writes the operation's outcome to the DB inside one transaction.
// An operation only becomes visible once this commit succeeds, which is what
// makes cancellation and partial failure safe.
func (e *Executor) commit(op *syncop.Op, result *jobs.Result) error {
	err := e.repo.Transaction(func(tx *repository.NodeRepository) error {
		switch op.Kind {
		case model.OpCreate:
			return e.commitCreate(tx, op, result)
		case model.OpEdit:
			return e.commitEdit(tx, op)
		case model.OpMove:
			return e.commitMove(tx, op)
		case model.OpDelete:
			return e.commitDelete(tx, op)
		default:
			return fmt.Errorf("unknown operation kind %s", op.Kind)
		}
	})
	if err != nil {
		if status.CodeOf(err) != status.Unknown {
			return err
		}
		return status.Wrap(status.SystemError, status.CauseNone, err)
	}

	return nil
}

func (e *Executor) commitCreate(tx *repository.NodeRepository, op *syncop.Op, result *jobs.Result) error {
	node := op.Affected

	row := &model.NodeRow{
		Name:           node.Name,
		Type:           node.Type,
		Size:           node.Size,
		CreatedAt:      node.CreatedAt,
		ModifiedLocal:  node.ModifiedAt,
		ModifiedRemote: node.ModifiedAt,
		ContentHash:    node.ContentHash,
	}

	parentRowID, err := e.rowIDForNode(tx, node.Parent())
	if err != nil {
		return err
	}
	row.ParentDbID = parentRowID

	switch {
	case op.Omit:
		// Identical create on both sides: record both identities.
		row.LocalID = localNodeOf(op).ID
		row.RemoteID = remoteNodeOf(op).ID

	case op.TargetSide == model.SideRemote:
		if result == nil || result.Item == nil {
			return status.New(status.DataError, status.CauseNone)
		}
		row.LocalID = node.ID
		row.RemoteID = result.Item.ID

	default:
		absPath := filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(e.targetRelPath(op)))
		info, err := os.Stat(absPath)
		if err != nil {
			return status.Wrap(status.SystemError, status.CauseFileAccessError, err)
		}
		row.LocalID = util.LocalNodeID(info)
		row.RemoteID = node.ID
		row.Name = op.NewName
	}

	return tx.InsertNode(row)
}

func (e *Executor) commitEdit(tx *repository.NodeRepository, op *syncop.Op) error {
	node := op.Affected

	row, err := e.rowForOp(tx, op)
	if err != nil {
		return err
	}

	// Content-replace: a delete+create collapsed onto the same path keeps
	// the db id and adopts the new node id.
	if node.PreviousID != "" {
		if node.Side() == model.SideLocal {
			row.LocalID = node.ID
		} else {
			row.RemoteID = node.ID
		}
	}

	row.Size = node.Size
	row.ContentHash = node.ContentHash
	row.ModifiedLocal = node.ModifiedAt
	row.ModifiedRemote = node.ModifiedAt

	return tx.UpdateNode(row)
}

func (e *Executor) commitMove(tx *repository.NodeRepository, op *syncop.Op) error {
	// A rename-aside drops the row instead: the renamed local copy must be
	// re-detected as a brand-new file on the next pass.
	if model.IsLocalRenameConflict(op.Conflict) {
		row, err := e.rowForOpLenient(tx, op)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}

		return tx.DeleteNode(row.DbID)
	}

	row, err := e.rowForOp(tx, op)
	if err != nil {
		return err
	}

	var parent *updatetree.Node
	if op.NewParent != nil {
		parent = op.NewParent
	} else {
		parent = op.Affected.Parent()
	}

	parentRowID, err := e.rowIDForNode(tx, parent)
	if err != nil {
		return err
	}

	row.ParentDbID = parentRowID
	if op.NewName != "" {
		row.Name = op.NewName
	} else {
		row.Name = op.Affected.Name
	}

	return tx.UpdateNode(row)
}

func (e *Executor) commitDelete(tx *repository.NodeRepository, op *syncop.Op) error {
	row, err := e.rowForOp(tx, op)
	if err != nil {
		return err
	}

	return tx.DeleteNode(row.DbID)
}

// rowForOpLenient is rowForOp for operations whose node may legitimately be
// missing from the DB (nodes created this pass).
func (e *Executor) rowForOpLenient(tx *repository.NodeRepository, op *syncop.Op) (*model.NodeRow, error) {
	row, err := e.rowForOp(tx, op)
	if err != nil {
		if status.CauseOf(err) == status.CauseNotFound {
			return nil, nil
		}
		return nil, err
	}

	return row, nil
}

func (e *Executor) rowForOp(tx *repository.NodeRepository, op *syncop.Op) (*model.NodeRow, error) {
	node := op.Affected
	if node.DbID != nil {
		row, err := tx.SelectNodeByDbID(*node.DbID)
		if err != nil {
			return nil, status.Wrap(status.SystemError, status.CauseNone, err)
		}
		if row != nil {
			return row, nil
		}
	}

	id := node.ID
	if node.PreviousID != "" {
		id = node.PreviousID
	}

	row, err := tx.SelectNodeByID(node.Side(), id)
	if err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseNone, err)
	}
	if row == nil {
		return nil, status.Wrap(status.DataError, status.CauseNotFound,
			fmt.Errorf("no db row for %s", node.Path()))
	}

	return row, nil
}

// rowIDForNode resolves the db row id backing a tree node, nil for the root.
func (e *Executor) rowIDForNode(tx *repository.NodeRepository, node *updatetree.Node) (*uint, error) {
	if node == nil || node.IsRoot() {
		return nil, nil
	}

	if node.DbID != nil {
		return node.DbID, nil
	}

	row, err := tx.SelectNodeByID(node.Side(), node.ID)
	if err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseNone, err)
	}
	if row == nil {
		return nil, status.Wrap(status.DataError, status.CauseNotFound,
			fmt.Errorf("no db row for parent %s", node.Path()))
	}

	return &row.DbID, nil
}

func localNodeOf(op *syncop.Op) *updatetree.Node {
	if op.Affected.Side() == model.SideLocal {
		return op.Affected
	}

	return op.Corresponding
}

func remoteNodeOf(op *syncop.Op) *updatetree.Node {
	if op.Affected.Side() == model.SideRemote {
		return op.Affected
	}

	return op.Corresponding
}
