package reconcile

import (
	"context"
	"path"
	"time"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/util"

	"go.uber.org/zap"
)

// Resolver pops conflicts off the queue and emits the sync operations that
// resolve each one. Conflicts solved by a local rename are batched within
// one pass; any other conflict is solved alone and drains the queue, because
// its resolution changes the semantics of the trees. The supervisor restarts
// the pipeline after the executor runs in either case.
type Resolver struct {
	pair      Pair
	queue     *Queue
	ops       *syncop.List
	repo      *repository.NodeRepository
	localRoot string
	device    string
	now       func() time.Time

	// Orphans registered while solving Move-Delete, keyed by db id; a later
	// Move-Move (Source) conflict consults this to pick the losing side.
	orphans map[uint]model.ReplicaSide
}

func NewResolver(pair Pair, queue *Queue, ops *syncop.List, repo *repository.NodeRepository, localRoot string) *Resolver {
	return &Resolver{
		pair:      pair,
		queue:     queue,
		ops:       ops,
		repo:      repo,
		localRoot: localRoot,
		device:    DeviceName(),
		now:       time.Now,
		orphans:   make(map[uint]model.ReplicaSide),
	}
}

// Resolve drains the queue as far as the per-type policy allows and reports
// whether any conflict was solved; if so the pipeline must restart after the
// executor commits these operations.
func (r *Resolver) Resolve(ctx context.Context) (bool, error) {
	solved := false

	for !r.queue.Empty() {
		if err := ctx.Err(); err != nil {
			return solved, status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		continueSolving, err := r.generateOps(r.queue.Top())
		if err != nil {
			return solved, err
		}

		solved = true
		if continueSolving {
			r.queue.Pop()
		} else {
			r.queue.Clear()
			break
		}
	}

	return solved, nil
}

func (r *Resolver) Orphans() map[uint]model.ReplicaSide { return r.orphans }

func (r *Resolver) generateOps(c Conflict) (bool, error) {
	logger.Log.Info("solving conflict",
		zap.String("type", string(c.Type)),
		zap.String("path", c.Node.Path()))

	switch c.Type {
	case model.ConflictCreateCreate, model.ConflictEditEdit,
		model.ConflictMoveCreate, model.ConflictMoveMoveDest:
		return r.solveByLocalRename(c)

	case model.ConflictEditDelete:
		return false, r.solveEditDelete(c)

	case model.ConflictMoveDelete:
		return r.solveMoveDelete(c)

	case model.ConflictMoveParentDelete:
		moveNode := c.Node
		if !moveNode.HasEvent(model.EventMove) {
			moveNode = c.Corresponding
		}
		return false, r.pushUndoMove(moveNode, c.Type)

	case model.ConflictCreateParentDelete:
		return false, r.solveCreateParentDelete(c)

	case model.ConflictMoveMoveSource:
		loser := c.LocalNode()
		if c.Node.DbID != nil {
			if side, ok := r.orphans[*c.Node.DbID]; ok {
				if side == model.SideLocal {
					loser = c.RemoteNode()
				} else {
					loser = c.LocalNode()
				}
			}
		}
		return false, r.pushUndoMove(loser, c.Type)

	case model.ConflictMoveMoveCycle:
		return false, r.pushUndoMove(c.LocalNode(), c.Type)

	default:
		return false, status.New(status.DataError, status.CauseNone)
	}
}

// solveByLocalRename keeps the remote version in place and renames the local
// copy aside; the renamed copy is also dropped from the DB so the next pass
// re-detects it as a new local file.
func (r *Resolver) solveByLocalRename(c Conflict) (bool, error) {
	op := &syncop.Op{
		Kind:          model.OpMove,
		Affected:      c.RemoteNode(),
		Corresponding: c.LocalNode(),
		TargetSide:    model.SideLocal,
		Conflict:      c.Type,
	}

	newName, fitsInPlace, err := r.conflictedName(c.LocalNode(), false)
	if err != nil {
		return false, err
	}
	if !fitsInPlace {
		op.NewParent = r.pair.Local.Root()
	}
	op.NewName = newName

	r.ops.Push(op)
	return IsLocalRenameConflict(c.Type), nil
}

// solveEditDelete makes the edit win. When the deleted side also deleted the
// parent, the edited file moves to the root under a conflict name; otherwise
// only the DB row is dropped so the next pass re-detects the file as new.
func (r *Resolver) solveEditDelete(c Conflict) error {
	deleteNode, editNode := c.Node, c.Corresponding
	if !deleteNode.HasEvent(model.EventDelete) {
		deleteNode, editNode = editNode, deleteNode
	}

	if parent := deleteNode.Parent(); parent != nil && parent.HasEvent(model.EventDelete) {
		newName, _, err := r.conflictedName(c.LocalNode(), false)
		if err != nil {
			return err
		}

		r.ops.Push(&syncop.Op{
			Kind:          model.OpMove,
			Affected:      deleteNode,
			Corresponding: editNode,
			TargetSide:    editNode.Side(),
			NewParent:     r.pair.Tree(deleteNode.Side()).Root(),
			NewName:       newName,
			Conflict:      c.Type,
		})
	}

	// Drop the row from the DB only; the surviving file is re-detected as a
	// create on the next pass and restored to the other side.
	r.ops.Push(&syncop.Op{
		Kind:          model.OpDelete,
		Affected:      editNode,
		Corresponding: deleteNode,
		TargetSide:    deleteNode.Side(),
		Omit:          true,
		Conflict:      c.Type,
	})

	return nil
}

// solveMoveDelete makes the move win. The deletion is applied to the DB
// only; descendants of the deleted subtree that were moved on the other side
// are preserved as orphans under the root and registered for the next pass.
func (r *Resolver) solveMoveDelete(c Conflict) (bool, error) {
	deleteNode, moveNode := c.Node, c.Corresponding
	if !deleteNode.HasEvent(model.EventDelete) {
		deleteNode, moveNode = moveNode, deleteNode
	}

	// A move inside a directory deleted on the other replica is handled by
	// the Move-ParentDelete conflict instead.
	if parent := r.pair.CorrespondingDirect(moveNode.Parent()); parent != nil &&
		parent.HasEvent(model.EventDelete) && r.queue.HasType(model.ConflictMoveParentDelete) {
		logger.Log.Info("move-delete deferred to move-parentdelete resolution")
		return true, nil
	}

	// The delete is demoted for the topmost deleted ancestor so the whole
	// subtree resolution stays consistent.
	deletionRoot := deleteNode
	for parent := deletionRoot.Parent(); parent != nil && parent.HasEvent(model.EventDelete); parent = parent.Parent() {
		deletionRoot = parent
	}

	if deletionRoot.Type == model.TypeDirectory && deletionRoot.DbID != nil {
		if err := r.registerOrphans(c, deletionRoot); err != nil {
			return false, err
		}
	}

	correspondingRoot := r.pair.CorrespondingDirect(deletionRoot)
	if correspondingRoot == nil {
		return false, status.New(status.DataError, status.CauseNone)
	}

	r.ops.Push(&syncop.Op{
		Kind:          model.OpDelete,
		Affected:      deletionRoot,
		Corresponding: correspondingRoot,
		TargetSide:    moveNode.Side(),
		Omit:          true,
		Conflict:      c.Type,
	})

	return false, nil
}

// registerOrphans walks the DB descendants of the deletion root and emits a
// DB-only move to the root, under an orphan name, for every descendant the
// other side moved. The registry entry lets the Move-Move (Source) conflict
// of the next pass pick the right loser.
func (r *Resolver) registerOrphans(c Conflict, deletionRoot *updatetree.Node) error {
	descendants, err := r.dbDescendants(*deletionRoot.DbID)
	if err != nil {
		return err
	}

	for _, dbID := range descendants {
		moveSideNode := r.pair.Tree(deletionRoot.Side().Other()).NodeByDbID(dbID)
		if moveSideNode == nil || !moveSideNode.HasEvent(model.EventMove) {
			continue
		}

		orphanNode := r.pair.Tree(deletionRoot.Side()).NodeByDbID(dbID)
		if orphanNode == nil {
			return status.New(status.DataError, status.CauseNone)
		}

		orphanNode.MoveOrigin = orphanNode.Path()
		newName, _, err := r.conflictedName(orphanNode, true)
		if err != nil {
			return err
		}

		r.ops.Push(&syncop.Op{
			Kind:          model.OpMove,
			Affected:      orphanNode,
			Corresponding: moveSideNode,
			TargetSide:    moveSideNode.Side(),
			NewParent:     r.pair.Tree(orphanNode.Side()).Root(),
			NewName:       newName,
			Omit:          true,
			Conflict:      c.Type,
		})

		r.orphans[dbID] = deletionRoot.Side()

		logger.Log.Warn("orphan node preserved",
			zap.String("path", orphanNode.Path()),
			zap.String("new_name", newName))
	}

	return nil
}

func (r *Resolver) dbDescendants(dbID uint) ([]uint, error) {
	children, err := r.repo.SelectChildren(dbID)
	if err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseNone, err)
	}

	var out []uint
	for _, child := range children {
		out = append(out, child.DbID)

		if child.Type == model.TypeDirectory {
			sub, err := r.dbDescendants(child.DbID)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}

	return out, nil
}

// solveCreateParentDelete lets the delete win: the created node's parent is
// removed on the creating side, taking the new subtree with it.
func (r *Resolver) solveCreateParentDelete(c Conflict) error {
	deleteNode := c.Corresponding
	correspondingNode := r.pair.CorrespondingDirect(deleteNode)
	if correspondingNode == nil {
		return status.New(status.DataError, status.CauseNone)
	}

	r.ops.Push(&syncop.Op{
		Kind:          model.OpDelete,
		Affected:      deleteNode,
		Corresponding: correspondingNode,
		TargetSide:    correspondingNode.Side(),
		Conflict:      c.Type,
	})

	return nil
}

// pushUndoMove reverts a move on the losing side: back to its origin when
// the origin slot is still free, to the root under a conflict name when not.
func (r *Resolver) pushUndoMove(moveNode *updatetree.Node, conflictType model.ConflictType) error {
	op, err := r.UndoMove(moveNode)
	if err != nil {
		return err
	}

	op.Conflict = conflictType
	r.ops.Push(op)
	return nil
}

// UndoMove builds the move operation that reverts moveNode to its origin
// path, falling back to a conflict-renamed slot under the root when the
// origin is gone or occupied.
func (r *Resolver) UndoMove(moveNode *updatetree.Node) (*syncop.Op, error) {
	if moveNode.MoveOrigin == "" {
		return nil, status.New(status.DataError, status.CauseNone)
	}

	tree := r.pair.Tree(moveNode.Side())
	originParent := tree.NodeByPath(path.Dir(moveNode.MoveOrigin))
	if originParent == nil {
		return nil, status.New(status.DataError, status.CauseNone)
	}

	undoPossible := true
	switch {
	case moveNode == originParent || moveNode.IsAncestorOf(originParent):
		undoPossible = false
	case originParent.HasEvent(model.EventDelete):
		undoPossible = false
	default:
		occupant := originParent.ChildExcept(path.Base(moveNode.MoveOrigin), model.EventDelete)
		if occupant != nil && occupant != moveNode &&
			(occupant.HasEvent(model.EventCreate) || occupant.HasEvent(model.EventMove)) {
			undoPossible = false
		}
	}

	op := &syncop.Op{
		Kind:          model.OpMove,
		Affected:      r.pair.CorrespondingDirect(moveNode),
		Corresponding: moveNode,
		TargetSide:    moveNode.Side(),
	}
	if op.Affected == nil {
		op.Affected = moveNode
	}

	if undoPossible {
		op.NewParent = originParent
		op.NewName = path.Base(moveNode.MoveOrigin)
	} else {
		newName, _, err := r.conflictedName(moveNode, false)
		if err != nil {
			return nil, err
		}

		op.NewParent = tree.Root()
		op.NewName = newName
	}

	return op, nil
}

// conflictedName generates the rename-aside name for node, unique within its
// directory. The second result is false when the renamed absolute path would
// exceed the local maximum and the node must additionally be reparented to
// the sync root.
func (r *Resolver) conflictedName(node *updatetree.Node, orphan bool) (string, bool, error) {
	base := node.FinalLocalName()
	name := ConflictName(base, r.device, r.now())
	if orphan {
		name = OrphanName(base, r.now())
	}

	parent := node.Parent()
	if parent == nil {
		parent = r.pair.Tree(node.Side()).Root()
	}

	name = Disambiguate(name, func(candidate string) bool {
		sibling := parent.ChildByName(candidate)
		return sibling != nil && sibling != node
	})

	parentAbs := path.Join(r.localRoot, parent.Path())
	if len(parentAbs)+1+len(name) <= util.MaxPathLen {
		return name, true, nil
	}

	// Too long in place: reparent under the sync root. Still too long there
	// means the name itself cannot be made legal.
	if len(r.localRoot)+1+len(name) > util.MaxPathLen {
		return "", false, status.New(status.SystemError, status.CauseInvalidName)
	}

	name = Disambiguate(name, func(candidate string) bool {
		sibling := r.pair.Tree(node.Side()).Root().ChildByName(candidate)
		return sibling != nil && sibling != node
	})

	return name, false, nil
}
