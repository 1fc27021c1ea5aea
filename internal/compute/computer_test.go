package compute

import (
	"context"
	"testing"
	"time"

	"ebbsync/internal/db"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/snapshot"
	"ebbsync/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *repository.NodeRepository {
	t.Helper()
	require.NoError(t, db.InitMemory())
	return repository.NewNodeRepository(1)
}

func seed(t *testing.T, repo *repository.NodeRepository, parent *uint, name string, nodeType model.NodeType, localID string, size int64, hash string) *model.NodeRow {
	t.Helper()
	row := &model.NodeRow{
		ParentDbID:  parent,
		Name:        name,
		Type:        nodeType,
		LocalID:     localID,
		RemoteID:    "r-" + localID,
		Size:        size,
		ContentHash: hash,
	}
	require.NoError(t, repo.InsertNode(row))
	return row
}

func frozen(snap *snapshot.Snapshot) *snapshot.Frozen {
	snap.SetValid()
	return snap.Freeze()
}

func kinds(set *OpSet) map[string]model.OpKind {
	out := make(map[string]model.OpKind)
	for _, op := range set.Ops() {
		out[op.NodeID] = op.Kind
	}
	return out
}

func TestComputeClassifiesEachKind(t *testing.T) {
	repo := setup(t)
	seed(t, repo, nil, "deleted.txt", model.TypeFile, "l-del", 1, "h1")
	seed(t, repo, nil, "moved.txt", model.TypeFile, "l-mov", 2, "h2")
	seed(t, repo, nil, "edited.txt", model.TypeFile, "l-edit", 3, "h3")
	seed(t, repo, nil, "same.txt", model.TypeFile, "l-same", 4, "h4")

	snap := snapshot.New(model.SideLocal, "root")
	snap.Upsert(snapshot.Item{ID: "l-mov", ParentID: "root", Name: "renamed.txt", Type: model.TypeFile, Size: 2, ContentHash: "h2"})
	snap.Upsert(snapshot.Item{ID: "l-edit", ParentID: "root", Name: "edited.txt", Type: model.TypeFile, Size: 30, ContentHash: "h3x"})
	snap.Upsert(snapshot.Item{ID: "l-same", ParentID: "root", Name: "same.txt", Type: model.TypeFile, Size: 4, ContentHash: "h4"})
	snap.Upsert(snapshot.Item{ID: "l-new", ParentID: "root", Name: "new.txt", Type: model.TypeFile, Size: 9, ContentHash: "h9"})

	set, err := NewComputer(frozen(snap), repo, nil).Compute(context.Background())
	require.NoError(t, err)

	got := kinds(set)
	assert.Equal(t, model.OpDelete, got["l-del"])
	assert.Equal(t, model.OpMove, got["l-mov"])
	assert.Equal(t, model.OpEdit, got["l-edit"])
	assert.Equal(t, model.OpCreate, got["l-new"])
	assert.NotContains(t, got, "l-same")
	assert.Equal(t, 4, set.Len())
}

func TestComputeMoveCarriesBothPaths(t *testing.T) {
	repo := setup(t)
	dir := seed(t, repo, nil, "docs", model.TypeDirectory, "l-docs", 0, "")
	seed(t, repo, &dir.DbID, "a.txt", model.TypeFile, "l-a", 5, "ha")

	snap := snapshot.New(model.SideLocal, "root")
	snap.Upsert(snapshot.Item{ID: "l-docs", ParentID: "root", Name: "docs", Type: model.TypeDirectory})
	snap.Upsert(snapshot.Item{ID: "l-a", ParentID: "root", Name: "b.txt", Type: model.TypeFile, Size: 5, ContentHash: "ha"})

	set, err := NewComputer(frozen(snap), repo, nil).Compute(context.Background())
	require.NoError(t, err)

	ops := set.ByID("l-a")
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpMove, ops[0].Kind)
	assert.Equal(t, "docs/a.txt", ops[0].BeforePath)
	assert.Equal(t, "b.txt", ops[0].AfterPath)
}

func TestComputeNewIDAtOldPathIsDeletePlusCreate(t *testing.T) {
	repo := setup(t)
	seed(t, repo, nil, "f.txt", model.TypeFile, "l-old", 1, "h-old")

	// Node ids are the identity: a fresh id at the same path must never be
	// classified as a move.
	snap := snapshot.New(model.SideLocal, "root")
	snap.Upsert(snapshot.Item{ID: "l-new", ParentID: "root", Name: "f.txt", Type: model.TypeFile, Size: 2, ContentHash: "h-new"})

	set, err := NewComputer(frozen(snap), repo, nil).Compute(context.Background())
	require.NoError(t, err)

	got := kinds(set)
	assert.Equal(t, model.OpDelete, got["l-old"])
	assert.Equal(t, model.OpCreate, got["l-new"])
	assert.Equal(t, 2, set.Len())
}

func TestComputeNeverEmitsDirectoryEdits(t *testing.T) {
	repo := setup(t)
	seed(t, repo, nil, "docs", model.TypeDirectory, "l-docs", 0, "")

	snap := snapshot.New(model.SideLocal, "root")
	snap.Upsert(snapshot.Item{
		ID: "l-docs", ParentID: "root", Name: "docs", Type: model.TypeDirectory,
		ModifiedAt: time.Now(),
	})

	set, err := NewComputer(frozen(snap), repo, nil).Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestComputeInvalidSnapshotIsDataError(t *testing.T) {
	repo := setup(t)

	snap := snapshot.New(model.SideLocal, "root")
	_, err := NewComputer(snap.Freeze(), repo, nil).Compute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.DataError, status.CodeOf(err))
	assert.Equal(t, status.CauseInvalidSnapshot, status.CauseOf(err))
}

func TestComputeSkipsBlacklistedNodes(t *testing.T) {
	repo := setup(t)
	seed(t, repo, nil, "f.txt", model.TypeFile, "l-f", 1, "h")

	snap := snapshot.New(model.SideLocal, "root")
	snap.Upsert(snapshot.Item{ID: "l-g", ParentID: "root", Name: "g.txt", Type: model.TypeFile})

	blacklisted := func(_ model.ReplicaSide, nodeID string) bool {
		return nodeID == "l-f" || nodeID == "l-g"
	}

	set, err := NewComputer(frozen(snap), repo, blacklisted).Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}
