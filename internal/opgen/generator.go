package opgen

import (
	"context"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/reconcile"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/util"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Generator walks both update trees breadth-first and emits one sync
// operation per change event on each node. Same-intent changes on both sides
// collapse to DB-only pseudo-conflict operations.
type Generator struct {
	pair           reconcile.Pair
	ops            *syncop.List
	vfsMode        model.VfsMode
	localRoot      string
	freeSpaceFloor int64

	bytesToDownload int64
	deletedNodes    map[string]struct{}

	// Restart is set when a pseudo-delete was reconciled; some sequences
	// (e.g. a directory deleted and re-created with the same name) only
	// surface their create events on the following pass.
	Restart bool
}

func NewGenerator(pair reconcile.Pair, ops *syncop.List, vfsMode model.VfsMode, localRoot string, freeSpaceFloor int64) *Generator {
	return &Generator{
		pair:           pair,
		ops:            ops,
		vfsMode:        vfsMode,
		localRoot:      localRoot,
		freeSpaceFloor: freeSpaceFloor,
		deletedNodes:   make(map[string]struct{}),
	}
}

func (g *Generator) Generate(ctx context.Context) error {
	g.bytesToDownload = 0
	g.Restart = false

	g.pair.Local.MarkAllUnprocessed()
	g.pair.Remote.MarkAllUnprocessed()

	queue := []*updatetree.Node{g.pair.Local.Root(), g.pair.Remote.Root()}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		node := queue[0]
		queue = queue[1:]

		// Children are explored even when the node itself is processed.
		for _, child := range node.Children() {
			queue = append(queue, child)
		}

		if node.Status == updatetree.Processed {
			continue
		}

		corresponding := g.pair.Corresponding(node)
		if corresponding == nil && !node.HasEvent(model.EventCreate) &&
			(node.HasEvent(model.EventDelete) || node.HasEvent(model.EventEdit) || node.HasEvent(model.EventMove)) {
			logger.Log.Error("no corresponding node",
				zap.String("path", node.Path()),
				zap.String("side", string(node.Side())))
			return status.New(status.DataError, status.CauseNone)
		}

		// Events are emitted in the order create, delete, edit, move.
		if node.HasEvent(model.EventCreate) {
			g.generateCreate(node, corresponding)
		}
		if node.HasEvent(model.EventDelete) {
			g.generateDelete(node, corresponding)
		}
		if node.HasEvent(model.EventEdit) {
			g.generateEdit(node, corresponding)
		}
		if node.HasEvent(model.EventMove) {
			g.generateMove(node, corresponding)
		}
	}

	if g.bytesToDownload > 0 {
		free := util.FreeDiskSpace(g.localRoot)
		if free >= 0 && free < g.bytesToDownload+g.freeSpaceFloor {
			logger.Log.Warn("not enough disk space for downloads",
				zap.String("free", humanize.IBytes(uint64(free))),
				zap.String("needed", humanize.IBytes(uint64(g.bytesToDownload))))
			return status.New(status.SystemError, status.CauseNotEnoughDiskSpace)
		}
	}

	return nil
}

func (g *Generator) generateCreate(node, corresponding *updatetree.Node) {
	op := &syncop.Op{
		Kind:       model.OpCreate,
		Affected:   node,
		TargetSide: node.Side().Other(),
	}

	if corresponding != nil && g.isPseudoConflict(node, corresponding) {
		op.Omit = true
		op.Corresponding = corresponding
		corresponding.Status = updatetree.Processed
		logger.Log.Debug("create pseudo-conflict, db-only",
			zap.String("path", node.Path()))
	}

	// The new parent may itself be created by this pass, so the parent node
	// is resolved at execution time, not here.
	op.NewName = node.Name
	if op.TargetSide == model.SideLocal {
		op.NewName = node.FinalLocalName()
	}

	node.Status = updatetree.Processed
	g.ops.Push(op)

	if !op.Omit && g.vfsMode == model.VfsOff &&
		op.TargetSide == model.SideLocal && node.Type == model.TypeFile {
		g.bytesToDownload += node.Size
	}
}

func (g *Generator) generateDelete(node, corresponding *updatetree.Node) {
	// The parent's delete subsumes the whole subtree.
	if parent := node.Parent(); parent != nil {
		if _, deleted := g.deletedNodes[parent.ID]; deleted {
			node.Status = updatetree.Processed
			return
		}
	}

	op := &syncop.Op{
		Kind:          model.OpDelete,
		Affected:      node,
		Corresponding: corresponding,
		TargetSide:    corresponding.Side(),
	}

	if corresponding.HasEvent(model.EventDelete) {
		op.Omit = true
		// Nothing changed on disk, but create events hidden behind the twin
		// delete (same-name re-create) only surface on the next pass.
		g.Restart = true
	}

	markSubtreeProcessed(node)
	markSubtreeProcessed(corresponding)
	g.ops.Push(op)

	g.deletedNodes[node.ID] = struct{}{}
}

func (g *Generator) generateEdit(node, corresponding *updatetree.Node) {
	op := &syncop.Op{
		Kind:          model.OpEdit,
		Affected:      node,
		Corresponding: corresponding,
		TargetSide:    corresponding.Side(),
	}

	if g.isPseudoConflict(node, corresponding) {
		op.Omit = true
		corresponding.Status = updatetree.Processed
		logger.Log.Debug("edit pseudo-conflict, db-only",
			zap.String("path", node.Path()))
	}

	if node.HasEvent(model.EventMove) && node.Status == updatetree.Unprocessed {
		node.Status = updatetree.PartiallyProcessed
	} else {
		node.Status = updatetree.Processed
	}
	g.ops.Push(op)

	if !op.Omit && g.vfsMode == model.VfsOff &&
		op.TargetSide == model.SideLocal && node.Type == model.TypeFile {
		g.bytesToDownload += node.Size - corresponding.Size
	}
}

func (g *Generator) generateMove(node, corresponding *updatetree.Node) {
	op := &syncop.Op{
		Kind:          model.OpMove,
		Affected:      node,
		Corresponding: corresponding,
		TargetSide:    corresponding.Side(),
	}

	if g.isPseudoConflict(node, corresponding) {
		op.Omit = true
		corresponding.Status = updatetree.Processed
		logger.Log.Debug("move pseudo-conflict, db-only",
			zap.String("path", node.Path()))
	}

	// A remote rename that lands exactly on the sanitized local name needs
	// no local rename, only the DB update.
	if node.Side() == model.SideRemote && corresponding.ValidName == "" &&
		node.ValidName == corresponding.Name {
		op.Omit = true
	}

	op.NewName = node.Name
	if op.TargetSide == model.SideLocal {
		op.NewName = node.FinalLocalName()
	}

	if node.HasEvent(model.EventEdit) && node.Status == updatetree.Unprocessed {
		node.Status = updatetree.PartiallyProcessed
	} else {
		node.Status = updatetree.Processed
	}
	g.ops.Push(op)
}

// isPseudoConflict reports a same-intent change on both sides: same place in
// both trees and, for files, same content.
func (g *Generator) isPseudoConflict(node, corresponding *updatetree.Node) bool {
	if node.Path() != corresponding.Path() {
		return false
	}

	if node.Type == model.TypeDirectory {
		return true
	}

	if node.ContentHash != "" && corresponding.ContentHash != "" {
		return node.ContentHash == corresponding.ContentHash
	}

	return node.Size == corresponding.Size
}

func markSubtreeProcessed(node *updatetree.Node) {
	node.Status = updatetree.Processed
	for _, child := range node.Children() {
		markSubtreeProcessed(child)
	}
}
