package opgen

import (
	"context"
	"testing"

	"ebbsync/internal/model"
	"ebbsync/internal/reconcile"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trees() (reconcile.Pair, *updatetree.Tree, *updatetree.Tree) {
	local := updatetree.NewTree(model.SideLocal, "root", nil)
	remote := updatetree.NewTree(model.SideRemote, "r-root", nil)
	return reconcile.Pair{Local: local, Remote: remote}, local, remote
}

func generate(t *testing.T, pair reconcile.Pair) (*syncop.List, *Generator) {
	t.Helper()
	ops := syncop.NewList()
	gen := NewGenerator(pair, ops, model.VfsOff, t.TempDir(), 0)
	require.NoError(t, gen.Generate(context.Background()))
	return ops, gen
}

func link(tree *updatetree.Tree, node *updatetree.Node, dbID uint) {
	tree.SetDbID(node, dbID)
}

func TestGenerateCreateTargetsOtherSide(t *testing.T) {
	pair, local, _ := trees()
	file := local.NewNode("l-f", "f.txt", model.TypeFile, local.Root())
	file.Events.Add(model.EventCreate)
	file.Size = 10

	ops, _ := generate(t, pair)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpCreate, op.Kind)
	assert.Equal(t, model.SideRemote, op.TargetSide)
	assert.Equal(t, "f.txt", op.NewName)
	assert.False(t, op.Omit)
	assert.Equal(t, updatetree.Processed, file.Status)
}

func TestGeneratePseudoConflictEditIsDBOnly(t *testing.T) {
	pair, local, remote := trees()

	lf := local.NewNode("l-f", "f.txt", model.TypeFile, local.Root())
	lf.Events.Add(model.EventEdit)
	lf.ContentHash = "same"
	lf.Size = 7
	link(local, lf, 11)

	rf := remote.NewNode("r-f", "f.txt", model.TypeFile, remote.Root())
	rf.Events.Add(model.EventEdit)
	rf.ContentHash = "same"
	rf.Size = 7
	link(remote, rf, 11)

	ops, _ := generate(t, pair)

	// Both nodes collapse to one DB-only operation.
	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpEdit, op.Kind)
	assert.True(t, op.Omit)
}

func TestGenerateParentDeleteSubsumesChildren(t *testing.T) {
	pair, local, remote := trees()

	dir := local.NewNode("l-dir", "docs", model.TypeDirectory, local.Root())
	dir.Events.Add(model.EventDelete)
	link(local, dir, 1)
	child := local.NewNode("l-child", "a.txt", model.TypeFile, dir)
	child.Events.Add(model.EventDelete)
	link(local, child, 2)

	rDir := remote.NewNode("r-dir", "docs", model.TypeDirectory, remote.Root())
	link(remote, rDir, 1)
	rChild := remote.NewNode("r-child", "a.txt", model.TypeFile, rDir)
	link(remote, rChild, 2)

	ops, _ := generate(t, pair)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpDelete, op.Kind)
	assert.Equal(t, dir, op.Affected)
	assert.Equal(t, updatetree.Processed, child.Status)
	assert.Equal(t, updatetree.Processed, rChild.Status)
}

func TestGenerateMovePlusEditEmitsBothPartiallyProcessed(t *testing.T) {
	pair, local, remote := trees()

	node := local.NewNode("l-f", "b.txt", model.TypeFile, local.Root())
	node.Events.Add(model.EventMove)
	node.Events.Add(model.EventEdit)
	node.MoveOrigin = "a.txt"
	node.ContentHash = "new"
	link(local, node, 5)

	rNode := remote.NewNode("r-f", "a.txt", model.TypeFile, remote.Root())
	rNode.ContentHash = "old"
	link(remote, rNode, 5)

	ops, _ := generate(t, pair)

	require.Equal(t, 2, ops.Len())
	assert.Equal(t, model.OpEdit, ops.Ops()[0].Kind)
	assert.Equal(t, model.OpMove, ops.Ops()[1].Kind)
	assert.Equal(t, updatetree.Processed, node.Status)
	for _, op := range ops.Ops() {
		assert.False(t, op.Omit)
	}
}

func TestGenerateTwinDeleteIsDBOnlyAndRequestsRestart(t *testing.T) {
	pair, local, remote := trees()

	lf := local.NewNode("l-f", "f.txt", model.TypeFile, local.Root())
	lf.Events.Add(model.EventDelete)
	link(local, lf, 9)

	rf := remote.NewNode("r-f", "f.txt", model.TypeFile, remote.Root())
	rf.Events.Add(model.EventDelete)
	link(remote, rf, 9)

	ops, gen := generate(t, pair)

	require.Equal(t, 1, ops.Len())
	assert.True(t, ops.Ops()[0].Omit)
	assert.True(t, gen.Restart)
}
