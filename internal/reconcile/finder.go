package reconcile

import (
	"context"
	"path"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/status"
	"ebbsync/internal/updatetree"

	"go.uber.org/zap"
)

// Finder walks the paired update trees and enumerates every conflict of the
// closed taxonomy. Same-intent changes on both sides are not conflicts; they
// reconcile as DB-only pseudo-conflicts in the operation generator.
type Finder struct {
	pair Pair
}

func NewFinder(pair Pair) *Finder {
	return &Finder{pair: pair}
}

func (f *Finder) Find(ctx context.Context) (*Queue, error) {
	var conflicts []Conflict

	add := func(t model.ConflictType, node, corresponding *updatetree.Node) {
		logger.Log.Info("conflict detected",
			zap.String("type", string(t)),
			zap.String("path", node.Path()),
			zap.String("side", string(node.Side())))
		conflicts = append(conflicts, Conflict{Type: t, Node: node, Corresponding: corresponding})
	}

	var walkErr error
	f.pair.Local.Walk(func(ln *updatetree.Node) {
		if walkErr != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			walkErr = status.Wrap(status.OperationCanceled, status.CauseNone, err)
			return
		}

		f.findIdentityConflicts(ln, add)
		f.findCreateConflicts(ln, add)
	})
	if walkErr != nil {
		return nil, walkErr
	}

	f.pair.Local.Walk(func(ln *updatetree.Node) {
		f.findParentDeleteConflicts(ln, add)
	})
	f.pair.Remote.Walk(func(rn *updatetree.Node) {
		f.findParentDeleteConflicts(rn, add)
		f.findRemoteMoveOntoCreate(rn, add)
	})

	f.findMoveDestAndCycles(add)

	return NewQueue(conflicts), nil
}

// findIdentityConflicts flags conflicts between events on the same db
// identity: Edit-Edit, Move-Move (Source), Edit-Delete and Move-Delete.
func (f *Finder) findIdentityConflicts(ln *updatetree.Node, add func(model.ConflictType, *updatetree.Node, *updatetree.Node)) {
	if ln.DbID == nil {
		return
	}

	rn := f.pair.Remote.NodeByDbID(*ln.DbID)
	if rn == nil {
		return
	}

	if ln.HasEvent(model.EventEdit) && rn.HasEvent(model.EventEdit) && !sameContent(ln, rn) {
		add(model.ConflictEditEdit, ln, rn)
	}

	if ln.HasEvent(model.EventMove) && rn.HasEvent(model.EventMove) && ln.Path() != rn.Path() {
		add(model.ConflictMoveMoveSource, ln, rn)
	}

	if (ln.HasEvent(model.EventEdit) && rn.HasEvent(model.EventDelete)) ||
		(ln.HasEvent(model.EventDelete) && rn.HasEvent(model.EventEdit)) {
		add(model.ConflictEditDelete, ln, rn)
	}

	if (ln.HasEvent(model.EventMove) && rn.HasEvent(model.EventDelete)) ||
		(ln.HasEvent(model.EventDelete) && rn.HasEvent(model.EventMove)) {
		add(model.ConflictMoveDelete, ln, rn)
	}
}

// findCreateConflicts flags Create-Create and local-move-onto-remote-create.
func (f *Finder) findCreateConflicts(ln *updatetree.Node, add func(model.ConflictType, *updatetree.Node, *updatetree.Node)) {
	if ln.HasEvent(model.EventCreate) {
		rn := f.pair.Remote.NodeByPath(ln.Path())
		if rn != nil && rn.HasEvent(model.EventCreate) && !identicalCreate(ln, rn) {
			add(model.ConflictCreateCreate, ln, rn)
		}
	}

	if ln.HasEvent(model.EventMove) {
		rn := f.pair.Remote.NodeByPath(ln.Path())
		if rn != nil && rn.HasEvent(model.EventCreate) {
			add(model.ConflictMoveCreate, ln, rn)
		}
	}
}

func (f *Finder) findRemoteMoveOntoCreate(rn *updatetree.Node, add func(model.ConflictType, *updatetree.Node, *updatetree.Node)) {
	if !rn.HasEvent(model.EventMove) {
		return
	}

	ln := f.pair.Local.NodeByPath(rn.Path())
	if ln != nil && ln.HasEvent(model.EventCreate) {
		add(model.ConflictMoveCreate, rn, ln)
	}
}

// findParentDeleteConflicts flags moves into, and creates under, a parent
// deleted on the other side.
func (f *Finder) findParentDeleteConflicts(n *updatetree.Node, add func(model.ConflictType, *updatetree.Node, *updatetree.Node)) {
	parent := n.Parent()
	if parent == nil {
		return
	}

	correspondingParent := f.pair.CorrespondingDirect(parent)
	if correspondingParent == nil || !correspondingParent.HasEvent(model.EventDelete) {
		return
	}

	// A rename inside the deleted directory did not enter it; that pairing
	// stays a Move-Delete conflict.
	if n.HasEvent(model.EventMove) && path.Dir(n.MoveOrigin) != parent.Path() {
		add(model.ConflictMoveParentDelete, n, f.pair.CorrespondingDirect(n))
	}

	if n.HasEvent(model.EventCreate) {
		add(model.ConflictCreateParentDelete, n, correspondingParent)
	}
}

// findMoveDestAndCycles flags pairs of moves that collide on a destination
// or that would produce a cycle.
func (f *Finder) findMoveDestAndCycles(add func(model.ConflictType, *updatetree.Node, *updatetree.Node)) {
	var movedLocal, movedRemote []*updatetree.Node
	f.pair.Local.Walk(func(n *updatetree.Node) {
		if n.HasEvent(model.EventMove) {
			movedLocal = append(movedLocal, n)
		}
	})
	f.pair.Remote.Walk(func(n *updatetree.Node) {
		if n.HasEvent(model.EventMove) {
			movedRemote = append(movedRemote, n)
		}
	})

	for _, ln := range movedLocal {
		for _, rn := range movedRemote {
			if ln.DbID == nil || rn.DbID == nil || *ln.DbID == *rn.DbID {
				continue
			}

			if ln.Path() == rn.Path() {
				add(model.ConflictMoveMoveDest, ln, rn)
			}

			otherLocal := f.pair.Local.NodeByDbID(*rn.DbID)
			otherRemote := f.pair.Remote.NodeByDbID(*ln.DbID)
			if otherLocal != nil && otherRemote != nil &&
				otherLocal.IsAncestorOf(ln) && otherRemote.IsAncestorOf(rn) {
				add(model.ConflictMoveMoveCycle, ln, otherRemote)
			}
		}
	}
}

func sameContent(a, b *updatetree.Node) bool {
	if a.ContentHash != "" && b.ContentHash != "" {
		return a.ContentHash == b.ContentHash
	}

	return a.Size == b.Size && a.ModifiedAt.Equal(b.ModifiedAt)
}

// identicalCreate reports a same-intent create on both sides: same name and,
// for files, same content. These are pseudo-conflicts, not conflicts.
func identicalCreate(a, b *updatetree.Node) bool {
	if a.Type != b.Type {
		return false
	}

	if a.Type == model.TypeDirectory {
		return true
	}

	return sameContent(a, b)
}
