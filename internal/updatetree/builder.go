package updatetree

import (
	"context"
	"path"
	"sort"
	"strings"

	"ebbsync/internal/compute"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"

	"go.uber.org/zap"
)

// Builder folds one pass's operation set into the update tree. The eight
// steps run in a mandatory order: directory moves before file moves so file
// paths resolve against post-move parents, deletes before creates so a
// delete+create at one path collapses correctly, edits last so they observe
// the identity chosen by the earlier steps.
type Builder struct {
	tree *Tree
	ops  *compute.OpSet
	repo *repository.NodeRepository

	createFilesByPath map[string]compute.FSOperation
	consumedCreates   map[string]struct{}
}

func NewBuilder(tree *Tree, ops *compute.OpSet, repo *repository.NodeRepository) *Builder {
	return &Builder{
		tree:              tree,
		ops:               ops,
		repo:              repo,
		createFilesByPath: make(map[string]compute.FSOperation),
		consumedCreates:   make(map[string]struct{}),
	}
}

func (b *Builder) Build(ctx context.Context) error {
	if err := b.indexCreateFileOps(); err != nil {
		return err
	}

	steps := []func() error{
		b.step1MoveDirectories,
		b.step2MoveFiles,
		b.step3DeleteDirectories,
		b.step4DeleteFiles,
		b.step5CreateDirectories,
		b.step6CreateFiles,
		b.step7EditFiles,
		b.step8CompleteTree,
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		if err := step(); err != nil {
			return err
		}
	}

	if tmp := b.tree.TmpNodes(); len(tmp) > 0 {
		for _, n := range tmp {
			logger.Log.Error("temporary node left in update tree",
				zap.String("side", string(b.tree.Side)),
				zap.String("path", n.Path()))
		}

		return status.New(status.DataError, status.CauseInvalidSnapshot)
	}

	return nil
}

// indexCreateFileOps records file create operations by destination path, so
// that step 4 can detect delete+create pairs at one path. Two creates on the
// same path mean the snapshot is not trustworthy.
func (b *Builder) indexCreateFileOps() error {
	for _, op := range b.ops.Select(model.OpCreate, model.TypeFile) {
		if _, dup := b.createFilesByPath[op.AfterPath]; dup {
			logger.Log.Error("duplicate create path in operation set",
				zap.String("path", op.AfterPath))
			return status.New(status.DataError, status.CauseInvalidSnapshot)
		}

		b.createFilesByPath[op.AfterPath] = op
	}

	return nil
}

func (b *Builder) step1MoveDirectories() error {
	return b.createMoveNodes(model.TypeDirectory)
}

func (b *Builder) step2MoveFiles() error {
	return b.createMoveNodes(model.TypeFile)
}

func (b *Builder) createMoveNodes(nodeType model.NodeType) error {
	for _, op := range b.ops.Select(model.OpMove, nodeType) {
		row, err := b.repo.SelectNodeByID(b.tree.Side, op.NodeID)
		if err != nil {
			return status.Wrap(status.SystemError, status.CauseNone, err)
		}
		if row == nil {
			return status.New(status.DataError, status.CauseInvalidSnapshot)
		}

		parent, err := b.getOrCreateDir(path.Dir(op.AfterPath))
		if err != nil {
			return err
		}

		node := b.tree.NodeByID(op.NodeID)
		if node == nil {
			node = b.adoptOrCreate(parent, path.Base(op.AfterPath), op.NodeID, nodeType)
		} else {
			node.Name = path.Base(op.AfterPath)
			b.tree.Move(node, parent)
		}

		b.tree.SetDbID(node, row.DbID)
		node.Events.Add(model.EventMove)
		// The DB path predates every move of this pass, so it is the origin
		// before any ancestor move as well.
		node.MoveOrigin = op.BeforePath
		node.Size = op.Size
		node.ModifiedAt = op.ModifiedAt
	}

	return nil
}

func (b *Builder) step3DeleteDirectories() error {
	for _, op := range b.ops.Select(model.OpDelete, model.TypeDirectory) {
		node, err := b.locateDeleted(op)
		if err != nil {
			return err
		}

		// A directory moved then deleted carries both events.
		node.Events.Add(model.EventDelete)
	}

	return nil
}

func (b *Builder) step4DeleteFiles() error {
	for _, op := range b.ops.Select(model.OpDelete, model.TypeFile) {
		mapped := b.pathAfterMoves(op.BeforePath)

		// Delete+create at the same path by distinct ids collapses to an
		// edit on the creating node: content-replace semantics.
		if createOp, ok := b.createFilesByPath[mapped]; ok {
			row, err := b.repo.SelectNodeByID(b.tree.Side, op.NodeID)
			if err != nil {
				return status.Wrap(status.SystemError, status.CauseNone, err)
			}
			if row == nil {
				return status.New(status.DataError, status.CauseInvalidSnapshot)
			}

			parent, err := b.getOrCreateDir(path.Dir(mapped))
			if err != nil {
				return err
			}

			node := b.adoptOrCreate(parent, path.Base(mapped), createOp.NodeID, model.TypeFile)
			node.PreviousID = op.NodeID
			b.tree.SetDbID(node, row.DbID)
			node.Events.Add(model.EventEdit)
			node.Size = createOp.Size
			node.ModifiedAt = createOp.ModifiedAt
			node.ContentHash = createOp.ContentHash

			b.consumedCreates[createOp.NodeID] = struct{}{}
			continue
		}

		node, err := b.locateDeleted(op)
		if err != nil {
			return err
		}

		node.Events.Add(model.EventDelete)
	}

	return nil
}

func (b *Builder) locateDeleted(op compute.FSOperation) (*Node, error) {
	row, err := b.repo.SelectNodeByID(b.tree.Side, op.NodeID)
	if err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseNone, err)
	}
	if row == nil {
		return nil, status.New(status.DataError, status.CauseInvalidSnapshot)
	}

	node := b.tree.NodeByID(op.NodeID)
	if node == nil {
		mapped := b.pathAfterMoves(op.BeforePath)
		parent, err := b.getOrCreateDir(path.Dir(mapped))
		if err != nil {
			return nil, err
		}

		node = b.adoptOrCreate(parent, path.Base(mapped), op.NodeID, op.Type)
	}

	b.tree.SetDbID(node, row.DbID)
	return node, nil
}

func (b *Builder) step5CreateDirectories() error {
	for _, op := range b.ops.Select(model.OpCreate, model.TypeDirectory) {
		parent, err := b.getOrCreateDir(path.Dir(op.AfterPath))
		if err != nil {
			return err
		}

		node := b.adoptOrCreate(parent, path.Base(op.AfterPath), op.NodeID, model.TypeDirectory)
		node.Events.Add(model.EventCreate)
		node.CreatedAt = op.CreatedAt
		node.ModifiedAt = op.ModifiedAt
	}

	return nil
}

func (b *Builder) step6CreateFiles() error {
	for _, op := range b.ops.Select(model.OpCreate, model.TypeFile) {
		if _, consumed := b.consumedCreates[op.NodeID]; consumed {
			continue
		}

		parent, err := b.getOrCreateDir(path.Dir(op.AfterPath))
		if err != nil {
			return err
		}

		node := b.adoptOrCreate(parent, path.Base(op.AfterPath), op.NodeID, model.TypeFile)
		node.Events.Add(model.EventCreate)
		node.Size = op.Size
		node.CreatedAt = op.CreatedAt
		node.ModifiedAt = op.ModifiedAt
		node.ContentHash = op.ContentHash
	}

	return nil
}

func (b *Builder) step7EditFiles() error {
	for _, op := range b.ops.Select(model.OpEdit, model.TypeFile) {
		node := b.tree.NodeByID(op.NodeID)
		if node == nil {
			row, err := b.repo.SelectNodeByID(b.tree.Side, op.NodeID)
			if err != nil {
				return status.Wrap(status.SystemError, status.CauseNone, err)
			}
			if row == nil {
				return status.New(status.DataError, status.CauseInvalidSnapshot)
			}

			parent, err := b.getOrCreateDir(path.Dir(op.AfterPath))
			if err != nil {
				return err
			}

			node = b.adoptOrCreate(parent, path.Base(op.AfterPath), op.NodeID, model.TypeFile)
			b.tree.SetDbID(node, row.DbID)
		}

		node.Events.Add(model.EventEdit)
		node.Size = op.Size
		node.ModifiedAt = op.ModifiedAt
		node.ContentHash = op.ContentHash
	}

	return nil
}

// step8CompleteTree inserts every DB node not touched by this pass with no
// change event and merges the remaining temporary nodes with their real
// backing, matching (parent, name) against the DB.
func (b *Builder) step8CompleteTree() error {
	rows, err := b.repo.SelectAll()
	if err != nil {
		return status.Wrap(status.SystemError, status.CauseNone, err)
	}

	byDbID := make(map[uint]*model.NodeRow, len(rows))
	for i := range rows {
		byDbID[rows[i].DbID] = &rows[i]
	}

	depth := func(row *model.NodeRow) int {
		d := 0
		for cur := row; cur.ParentDbID != nil; {
			parent, ok := byDbID[*cur.ParentDbID]
			if !ok {
				break
			}
			d++
			cur = parent
		}
		return d
	}

	ordered := make([]*model.NodeRow, 0, len(rows))
	for i := range rows {
		ordered = append(ordered, &rows[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth(ordered[i]) < depth(ordered[j])
	})

	for _, row := range ordered {
		id := row.ID(b.tree.Side)
		if id == "" {
			return status.New(status.DataError, status.CauseInvalidSnapshot)
		}

		if node := b.tree.NodeByID(id); node != nil {
			if node.DbID == nil {
				b.tree.SetDbID(node, row.DbID)
			}
			b.fillMeta(node, row)
			continue
		}

		// A content-replace (delete+create collapsed to edit) already claims
		// this row under the creating node's id.
		if b.tree.NodeByDbID(row.DbID) != nil {
			continue
		}

		parent := b.tree.Root()
		if row.ParentDbID != nil {
			parent = b.tree.NodeByDbID(*row.ParentDbID)
			if parent == nil {
				return status.New(status.DataError, status.CauseInvalidSnapshot)
			}
		}

		node := b.adoptOrCreate(parent, row.Name, id, row.Type)
		b.tree.SetDbID(node, row.DbID)
		b.fillMeta(node, row)
	}

	// Remaining temporary nodes must have real counterparts now; merge them.
	for _, tmp := range b.tree.TmpNodes() {
		parent := tmp.Parent()
		if parent == nil || parent.DbID == nil {
			continue
		}

		children, err := b.repo.SelectChildren(*parent.DbID)
		if err != nil {
			return status.Wrap(status.SystemError, status.CauseNone, err)
		}

		for i := range children {
			row := &children[i]
			if row.Name != tmp.Name {
				continue
			}

			id := row.ID(b.tree.Side)
			if real := b.tree.NodeByID(id); real != nil && real != tmp {
				b.mergeTmpIntoReal(tmp, real)
			} else {
				b.tree.SetNodeID(tmp, id)
				b.tree.SetDbID(tmp, row.DbID)
				b.fillMeta(tmp, row)
			}
			break
		}
	}

	return nil
}

func (b *Builder) fillMeta(node *Node, row *model.NodeRow) {
	if node.Name == "" {
		node.Name = row.Name
	}
	if node.Size == 0 {
		node.Size = row.Size
	}
	if node.ModifiedAt.IsZero() {
		node.ModifiedAt = row.Modified(b.tree.Side)
	}
	if node.ContentHash == "" {
		node.ContentHash = row.ContentHash
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = row.CreatedAt
	}
}

// mergeTmpIntoReal moves the temporary node's children under the real node
// and drops the temporary node.
func (b *Builder) mergeTmpIntoReal(tmp, real *Node) {
	for _, child := range tmp.Children() {
		real.attach(child)
	}

	tmp.detach()
}

// adoptOrCreate finds the child of parent carrying name. A temporary child
// is promoted with the real id; a real child with a different id (the
// delete+create case) stays untouched and a sibling is created.
func (b *Builder) adoptOrCreate(parent *Node, name, id string, nodeType model.NodeType) *Node {
	if existing := parent.ChildByName(name); existing != nil {
		if existing.Tmp {
			b.tree.SetNodeID(existing, id)
			existing.Type = nodeType
			return existing
		}
		if existing.ID == id {
			return existing
		}
	}

	return b.tree.NewNode(id, name, nodeType, parent)
}

// getOrCreateDir walks the path from the root, materializing temporary
// directory nodes for the components not yet in the tree.
func (b *Builder) getOrCreateDir(p string) (*Node, error) {
	if p == "." || p == "" || p == "/" {
		return b.tree.Root(), nil
	}

	cur := b.tree.Root()
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}

		child := cur.ChildExcept(part, model.EventDelete)
		if child == nil {
			child = cur.ChildByName(part)
		}
		if child == nil {
			child = b.tree.NewNode("", part, model.TypeDirectory, cur)
		}

		cur = child
	}

	return cur, nil
}

// pathAfterMoves maps a DB path through the directory moves of this pass so
// it resolves against the tree built by steps 1 and 2.
func (b *Builder) pathAfterMoves(p string) string {
	moves := b.ops.Select(model.OpMove, model.TypeDirectory)

	// Bounded so that mutually swapped directories cannot loop forever.
	for pass, changed := 0, true; changed && pass <= len(moves); pass++ {
		changed = false
		for _, mv := range moves {
			if p == mv.BeforePath {
				p = mv.AfterPath
				changed = true
			} else if strings.HasPrefix(p, mv.BeforePath+"/") {
				p = mv.AfterPath + strings.TrimPrefix(p, mv.BeforePath)
				changed = true
			}
		}
	}

	return p
}
