package reconcile

import (
	"context"
	"testing"

	"ebbsync/internal/model"
	"ebbsync/internal/updatetree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair() (Pair, *updatetree.Tree, *updatetree.Tree) {
	local := updatetree.NewTree(model.SideLocal, "root", nil)
	remote := updatetree.NewTree(model.SideRemote, "r-root", nil)
	return Pair{Local: local, Remote: remote}, local, remote
}

func find(t *testing.T, pair Pair) *Queue {
	t.Helper()
	queue, err := NewFinder(pair).Find(context.Background())
	require.NoError(t, err)
	return queue
}

func types(q *Queue) []model.ConflictType {
	var out []model.ConflictType
	for !q.Empty() {
		out = append(out, q.Top().Type)
		q.Pop()
	}
	return out
}

func TestFindCreateCreateDifferentContent(t *testing.T) {
	pair, local, remote := newPair()

	lf := local.NewNode("l-f", "report.pdf", model.TypeFile, local.Root())
	lf.Events.Add(model.EventCreate)
	lf.ContentHash = "local-hash"

	rf := remote.NewNode("r-f", "report.pdf", model.TypeFile, remote.Root())
	rf.Events.Add(model.EventCreate)
	rf.ContentHash = "remote-hash"

	assert.Equal(t, []model.ConflictType{model.ConflictCreateCreate}, types(find(t, pair)))
}

func TestFindCreateCreateIdenticalIsPseudo(t *testing.T) {
	pair, local, remote := newPair()

	lf := local.NewNode("l-f", "report.pdf", model.TypeFile, local.Root())
	lf.Events.Add(model.EventCreate)
	lf.ContentHash = "same"

	rf := remote.NewNode("r-f", "report.pdf", model.TypeFile, remote.Root())
	rf.Events.Add(model.EventCreate)
	rf.ContentHash = "same"

	assert.True(t, find(t, pair).Empty())
}

func TestFindEditEditAndEditDelete(t *testing.T) {
	pair, local, remote := newPair()

	le := local.NewNode("l-e", "e.txt", model.TypeFile, local.Root())
	le.Events.Add(model.EventEdit)
	le.ContentHash = "a"
	local.SetDbID(le, 1)
	re := remote.NewNode("r-e", "e.txt", model.TypeFile, remote.Root())
	re.Events.Add(model.EventEdit)
	re.ContentHash = "b"
	remote.SetDbID(re, 1)

	ld := local.NewNode("l-d", "d.txt", model.TypeFile, local.Root())
	ld.Events.Add(model.EventEdit)
	local.SetDbID(ld, 2)
	rd := remote.NewNode("r-d", "d.txt", model.TypeFile, remote.Root())
	rd.Events.Add(model.EventDelete)
	remote.SetDbID(rd, 2)

	got := types(find(t, pair))
	assert.Contains(t, got, model.ConflictEditEdit)
	assert.Contains(t, got, model.ConflictEditDelete)
	assert.Len(t, got, 2)
}

func TestFindMoveDelete(t *testing.T) {
	pair, local, remote := newPair()

	lc := local.NewNode("l-c", "c.txt", model.TypeFile, local.Root())
	lc.Events.Add(model.EventDelete)
	local.SetDbID(lc, 3)

	rc := remote.NewNode("r-c", "d.txt", model.TypeFile, remote.Root())
	rc.Events.Add(model.EventMove)
	rc.MoveOrigin = "c.txt"
	remote.SetDbID(rc, 3)

	assert.Equal(t, []model.ConflictType{model.ConflictMoveDelete}, types(find(t, pair)))
}

func TestFindMoveParentDelete(t *testing.T) {
	pair, local, remote := newPair()

	// Local deletes /D while remote moves X into /D.
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

	got := types(find(t, pair))
	assert.Contains(t, got, model.ConflictMoveParentDelete)
}

func TestFindCreateParentDelete(t *testing.T) {
	pair, local, remote := newPair()

	ld := local.NewNode("l-D", "D", model.TypeDirectory, local.Root())
	local.SetDbID(ld, 1)
	lnew := local.NewNode("l-new", "new.txt", model.TypeFile, ld)
	lnew.Events.Add(model.EventCreate)

	rd := remote.NewNode("r-D", "D", model.TypeDirectory, remote.Root())
	rd.Events.Add(model.EventDelete)
	remote.SetDbID(rd, 1)

	got := types(find(t, pair))
	assert.Contains(t, got, model.ConflictCreateParentDelete)
}

func TestFindMoveMoveSourceAndDest(t *testing.T) {
	pair, local, remote := newPair()

	// Same id moved to different destinations on both sides.
	ls := local.NewNode("l-s", "to-a.txt", model.TypeFile, local.Root())
	ls.Events.Add(model.EventMove)
	ls.MoveOrigin = "s.txt"
	local.SetDbID(ls, 1)
	rs := remote.NewNode("r-s", "to-b.txt", model.TypeFile, remote.Root())
	rs.Events.Add(model.EventMove)
	rs.MoveOrigin = "s.txt"
	remote.SetDbID(rs, 1)

	// Two different ids moved to the same destination.
	lm := local.NewNode("l-m", "dest.txt", model.TypeFile, local.Root())
	lm.Events.Add(model.EventMove)
	lm.MoveOrigin = "m1.txt"
	local.SetDbID(lm, 2)
	lo := local.NewNode("l-o", "o2.txt", model.TypeFile, local.Root())
	local.SetDbID(lo, 3)

	rm := remote.NewNode("r-m", "m1.txt", model.TypeFile, remote.Root())
	remote.SetDbID(rm, 2)
	ro := remote.NewNode("r-o", "dest.txt", model.TypeFile, remote.Root())
	ro.Events.Add(model.EventMove)
	ro.MoveOrigin = "o2.txt"
	remote.SetDbID(ro, 3)

	got := types(find(t, pair))
	assert.Contains(t, got, model.ConflictMoveMoveSource)
	assert.Contains(t, got, model.ConflictMoveMoveDest)
}

func TestFindMoveMoveCycle(t *testing.T) {
	pair, local, remote := newPair()

	// Locally A is moved under B; remotely B is moved under A.
	lb := local.NewNode("l-B", "B", model.TypeDirectory, local.Root())
	local.SetDbID(lb, 2)
	la := local.NewNode("l-A", "A", model.TypeDirectory, lb)
	la.Events.Add(model.EventMove)
	la.MoveOrigin = "A"
	local.SetDbID(la, 1)

	ra := remote.NewNode("r-A", "A", model.TypeDirectory, remote.Root())
	remote.SetDbID(ra, 1)
	rb := remote.NewNode("r-B", "B", model.TypeDirectory, ra)
	rb.Events.Add(model.EventMove)
	rb.MoveOrigin = "B"
	remote.SetDbID(rb, 2)

	got := types(find(t, pair))
	assert.Contains(t, got, model.ConflictMoveMoveCycle)
}

func TestQueueOrdersRenameConflictsFirst(t *testing.T) {
	queue := NewQueue([]Conflict{
		{Type: model.ConflictMoveDelete},
		{Type: model.ConflictCreateCreate},
		{Type: model.ConflictMoveMoveCycle},
		{Type: model.ConflictEditEdit},
	})

	assert.Equal(t, []model.ConflictType{
		model.ConflictCreateCreate,
		model.ConflictEditEdit,
		model.ConflictMoveDelete,
		model.ConflictMoveMoveCycle,
	}, types(queue))
}
