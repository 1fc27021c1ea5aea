package reconcile

import (
	"context"
	"strings"
	"testing"

	"ebbsync/internal/db"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/syncop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, pair Pair, queue *Queue) (*Resolver, *syncop.List) {
	t.Helper()
	require.NoError(t, db.InitMemory())
	ops := syncop.NewList()
	repo := repository.NewNodeRepository(1)
	return NewResolver(pair, queue, ops, repo, t.TempDir()), ops
}

func TestResolveCreateCreateRenamesLocalAside(t *testing.T) {
	pair, local, remote := newPair()

	lf := local.NewNode("l-f", "report.pdf", model.TypeFile, local.Root())
	lf.Events.Add(model.EventCreate)
	lf.ContentHash = "local"
	rf := remote.NewNode("r-f", "report.pdf", model.TypeFile, remote.Root())
	rf.Events.Add(model.EventCreate)
	rf.ContentHash = "remote"

	queue := NewQueue([]Conflict{{Type: model.ConflictCreateCreate, Node: lf, Corresponding: rf}})
	resolver, ops := newResolver(t, pair, queue)

	solved, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpMove, op.Kind)
	assert.Equal(t, model.SideLocal, op.TargetSide)
	assert.Equal(t, rf, op.Affected)
	assert.Equal(t, lf, op.Corresponding)
	assert.True(t, strings.HasPrefix(op.NewName, "report (conflicting copy from "))
	assert.True(t, strings.HasSuffix(op.NewName, ").pdf"))
	// The remote copy keeps the original name in place.
	assert.Nil(t, op.NewParent)
}

func TestResolveMoveDeletePreservesOrphans(t *testing.T) {
	pair, local, remote := newPair()
	require.NoError(t, db.InitMemory())
	repo := repository.NewNodeRepository(1)

	// DB baseline /A/B/c.txt.
	rowA := &model.NodeRow{Name: "A", Type: model.TypeDirectory, LocalID: "l-A", RemoteID: "r-A"}
	require.NoError(t, repo.InsertNode(rowA))
	rowB := &model.NodeRow{ParentDbID: &rowA.DbID, Name: "B", Type: model.TypeDirectory, LocalID: "l-B", RemoteID: "r-B"}
	require.NoError(t, repo.InsertNode(rowB))
	rowC := &model.NodeRow{ParentDbID: &rowB.DbID, Name: "c.txt", Type: model.TypeFile, LocalID: "l-c", RemoteID: "r-c"}
	require.NoError(t, repo.InsertNode(rowC))

	// Local deletes the whole of /A; remote renames c.txt to /A/B/d.txt.
	la := local.NewNode("l-A", "A", model.TypeDirectory, local.Root())
	la.Events.Add(model.EventDelete)
	local.SetDbID(la, rowA.DbID)
	lb := local.NewNode("l-B", "B", model.TypeDirectory, la)
	lb.Events.Add(model.EventDelete)
	local.SetDbID(lb, rowB.DbID)
	lc := local.NewNode("l-c", "c.txt", model.TypeFile, lb)
	lc.Events.Add(model.EventDelete)
	local.SetDbID(lc, rowC.DbID)

	ra := remote.NewNode("r-A", "A", model.TypeDirectory, remote.Root())
	remote.SetDbID(ra, rowA.DbID)
	rb := remote.NewNode("r-B", "B", model.TypeDirectory, ra)
	remote.SetDbID(rb, rowB.DbID)
	rc := remote.NewNode("r-c", "d.txt", model.TypeFile, rb)
	rc.Events.Add(model.EventMove)
	rc.MoveOrigin = "A/B/c.txt"
	remote.SetDbID(rc, rowC.DbID)

	queue := find(t, pair)
	require.Equal(t, []model.ConflictType{model.ConflictMoveDelete}, func() []model.ConflictType {
		var out []model.ConflictType
		for _, c := range queue.conflicts {
			out = append(out, c.Type)
		}
		return out
	}())

	ops := syncop.NewList()
	resolver := NewResolver(pair, queue, ops, repo, t.TempDir())
	solved, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)

	require.Equal(t, 2, ops.Len())

	orphanOp := ops.Ops()[0]
	assert.Equal(t, model.OpMove, orphanOp.Kind)
	assert.True(t, orphanOp.Omit)
	assert.Equal(t, lc, orphanOp.Affected)
	assert.Equal(t, local.Root(), orphanOp.NewParent)
	assert.Contains(t, orphanOp.NewName, "(orphan ")

	deleteOp := ops.Ops()[1]
	assert.Equal(t, model.OpDelete, deleteOp.Kind)
	assert.True(t, deleteOp.Omit)
	assert.Equal(t, la, deleteOp.Affected)
	assert.Equal(t, model.SideRemote, deleteOp.TargetSide)

	// The orphan registry records the deletion side for the next pass.
	assert.Equal(t, model.SideLocal, resolver.Orphans()[rowC.DbID])
}

func TestResolveMoveParentDeleteUndoesMove(t *testing.T) {
	pair, local, remote := newPair()

	// Local deletes /D; remote moves X into /D.
	ld := local.NewNode("l-D", "D", model.TypeDirectory, local.Root())
	ld.Events.Add(model.EventDelete)
	local.SetDbID(ld, 1)
	lx := local.NewNode("l-X", "X", model.TypeFile, local.Root())
	local.SetDbID(lx, 2)

	rd := remote.NewNode("r-D", "D", model.TypeDirectory, remote.Root())
	remote.SetDbID(rd, 1)
	rx := remote.NewNode("r-X", "X", model.TypeFile, rd)
	rx.Events.Add(model.EventMove)
	rx.MoveOrigin = "X"
	remote.SetDbID(rx, 2)

	queue := NewQueue([]Conflict{{Type: model.ConflictMoveParentDelete, Node: rx, Corresponding: lx}})
	resolver, ops := newResolver(t, pair, queue)

	solved, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpMove, op.Kind)
	assert.Equal(t, model.SideRemote, op.TargetSide)
	assert.Equal(t, rx, op.Corresponding)
	assert.Equal(t, remote.Root(), op.NewParent)
	assert.Equal(t, "X", op.NewName)
}

func TestUndoMoveRoundTrip(t *testing.T) {
	pair, local, remote := newPair()

	lf := local.NewNode("l-f", "b.txt", model.TypeFile, local.Root())
	lf.Events.Add(model.EventMove)
	lf.MoveOrigin = "a.txt"
	local.SetDbID(lf, 1)
	rf := remote.NewNode("r-f", "a.txt", model.TypeFile, remote.Root())
	remote.SetDbID(rf, 1)

	queue := NewQueue(nil)
	resolver, _ := newResolver(t, pair, queue)

	op, err := resolver.UndoMove(lf)
	require.NoError(t, err)

	// The undo sends the node back to its origin slot.
	assert.Equal(t, local.Root(), op.NewParent)
	assert.Equal(t, "a.txt", op.NewName)
	assert.Equal(t, model.SideLocal, op.TargetSide)

	// Reapplying the original move restores the initial tree state.
	local.Move(lf, local.Root())
	lf.Name = op.NewName
	assert.Equal(t, "a.txt", lf.Path())
	lf.Name = "b.txt"
	assert.Equal(t, "b.txt", lf.Path())
}

func TestResolveEditDeleteDropsRowOnly(t *testing.T) {
	pair, local, remote := newPair()

	le := local.NewNode("l-e", "e.txt", model.TypeFile, local.Root())
	le.Events.Add(model.EventEdit)
	local.SetDbID(le, 1)
	re := remote.NewNode("r-e", "e.txt", model.TypeFile, remote.Root())
	re.Events.Add(model.EventDelete)
	remote.SetDbID(re, 1)

	queue := NewQueue([]Conflict{{Type: model.ConflictEditDelete, Node: le, Corresponding: re}})
	resolver, ops := newResolver(t, pair, queue)

	solved, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpDelete, op.Kind)
	assert.True(t, op.Omit)
	assert.Equal(t, le, op.Affected)
}

func TestResolveMoveMoveSourceUsesOrphanRegistry(t *testing.T) {
	pair, local, remote := newPair()

	ls := local.NewNode("l-s", "to-a.txt", model.TypeFile, local.Root())
	ls.Events.Add(model.EventMove)
	ls.MoveOrigin = "s.txt"
	local.SetDbID(ls, 7)
	rs := remote.NewNode("r-s", "to-b.txt", model.TypeFile, remote.Root())
	rs.Events.Add(model.EventMove)
	rs.MoveOrigin = "s.txt"
	remote.SetDbID(rs, 7)

	queue := NewQueue([]Conflict{{Type: model.ConflictMoveMoveSource, Node: ls, Corresponding: rs}})
	resolver, ops := newResolver(t, pair, queue)

	// The node was registered as an orphan of a local deletion, so the
	// remote side loses this time.
	resolver.orphans[7] = model.SideLocal

	solved, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)

	require.Equal(t, 1, ops.Len())
	op := ops.Ops()[0]
	assert.Equal(t, model.OpMove, op.Kind)
	assert.Equal(t, model.SideRemote, op.TargetSide)
	assert.Equal(t, rs, op.Corresponding)
}
