package updatetree

import (
	"context"
	"testing"

	"ebbsync/internal/compute"
	"ebbsync/internal/db"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRootID = uint(1)

func setupRepo(t *testing.T) *repository.NodeRepository {
	t.Helper()
	require.NoError(t, db.InitMemory())
	return repository.NewNodeRepository(testRootID)
}

func seedNode(t *testing.T, repo *repository.NodeRepository, parent *uint, name string, nodeType model.NodeType, localID, remoteID string) *model.NodeRow {
	t.Helper()
	row := &model.NodeRow{
		ParentDbID: parent,
		Name:       name,
		Type:       nodeType,
		LocalID:    localID,
		RemoteID:   remoteID,
	}
	require.NoError(t, repo.InsertNode(row))
	return row
}

func buildTree(t *testing.T, repo *repository.NodeRepository, side model.ReplicaSide, ops *compute.OpSet) *Tree {
	t.Helper()
	tree := NewTree(side, "root", nil)
	require.NoError(t, NewBuilder(tree, ops, repo).Build(context.Background()))
	return tree
}

func TestBuildMoveCarriesOriginPath(t *testing.T) {
	repo := setupRepo(t)
	dir := seedNode(t, repo, nil, "docs", model.TypeDirectory, "l-docs", "r-docs")
	seedNode(t, repo, &dir.DbID, "a.txt", model.TypeFile, "l-a", "r-a")

	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:       model.OpMove,
		NodeID:     "l-a",
		Type:       model.TypeFile,
		BeforePath: "docs/a.txt",
		AfterPath:  "b.txt",
	})

	tree := buildTree(t, repo, model.SideLocal, ops)

	node := tree.NodeByID("l-a")
	require.NotNil(t, node)
	assert.True(t, node.HasEvent(model.EventMove))
	assert.Equal(t, "docs/a.txt", node.MoveOrigin)
	assert.Equal(t, "b.txt", node.Path())
}

func TestBuildMoveCompositionKeepsPreMoveOrigin(t *testing.T) {
	repo := setupRepo(t)
	dir := seedNode(t, repo, nil, "A", model.TypeDirectory, "l-A", "r-A")
	seedNode(t, repo, &dir.DbID, "x.txt", model.TypeFile, "l-x", "r-x")

	// The directory moves and the file moves within it in the same pass;
	// the file's origin must be its path before either move.
	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:       model.OpMove,
		NodeID:     "l-A",
		Type:       model.TypeDirectory,
		BeforePath: "A",
		AfterPath:  "B",
	})
	ops.Push(compute.FSOperation{
		Kind:       model.OpMove,
		NodeID:     "l-x",
		Type:       model.TypeFile,
		BeforePath: "A/x.txt",
		AfterPath:  "B/y.txt",
	})

	tree := buildTree(t, repo, model.SideLocal, ops)

	file := tree.NodeByID("l-x")
	require.NotNil(t, file)
	assert.Equal(t, "A/x.txt", file.MoveOrigin)
	assert.Equal(t, "B/y.txt", file.Path())
	assert.Equal(t, tree.NodeByID("l-A"), file.Parent())
}

func TestBuildDeleteCreateSamePathCollapsesToEdit(t *testing.T) {
	repo := setupRepo(t)
	seedNode(t, repo, nil, "f.txt", model.TypeFile, "l-old", "r-old")

	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:       model.OpDelete,
		NodeID:     "l-old",
		Type:       model.TypeFile,
		BeforePath: "f.txt",
	})
	ops.Push(compute.FSOperation{
		Kind:      model.OpCreate,
		NodeID:    "l-new",
		Type:      model.TypeFile,
		AfterPath: "f.txt",
		Size:      42,
	})

	tree := buildTree(t, repo, model.SideLocal, ops)

	node := tree.NodeByID("l-new")
	require.NotNil(t, node)
	assert.True(t, node.HasEvent(model.EventEdit))
	assert.False(t, node.HasEvent(model.EventCreate))
	assert.False(t, node.HasEvent(model.EventDelete))
	assert.Equal(t, "l-old", node.PreviousID)
	assert.NotNil(t, node.DbID)
}

func TestBuildDeleteRenameCollision(t *testing.T) {
	repo := setupRepo(t)
	seedNode(t, repo, nil, "File 6", model.TypeFile, "l-6", "r-6")
	seedNode(t, repo, nil, "File 6a", model.TypeFile, "l-6a", "r-6a")

	// Remote deletes "File 6a", renames "File 6" into the freed name and
	// creates a brand new "File 6".
	ops := compute.NewOpSet(model.SideRemote)
	ops.Push(compute.FSOperation{
		Kind:       model.OpDelete,
		NodeID:     "r-6a",
		Type:       model.TypeFile,
		BeforePath: "File 6a",
	})
	ops.Push(compute.FSOperation{
		Kind:       model.OpMove,
		NodeID:     "r-6",
		Type:       model.TypeFile,
		BeforePath: "File 6",
		AfterPath:  "File 6a",
	})
	ops.Push(compute.FSOperation{
		Kind:      model.OpCreate,
		NodeID:    "r-6b",
		Type:      model.TypeFile,
		AfterPath: "File 6",
	})

	tree := buildTree(t, repo, model.SideRemote, ops)

	renamed := tree.NodeByID("r-6")
	require.NotNil(t, renamed)
	assert.Equal(t, "File 6a", renamed.Name)
	assert.True(t, renamed.HasEvent(model.EventMove))

	deleted := tree.NodeByID("r-6a")
	require.NotNil(t, deleted)
	assert.True(t, deleted.HasEvent(model.EventDelete))

	created := tree.NodeByID("r-6b")
	require.NotNil(t, created)
	assert.Equal(t, "File 6", created.Name)
	assert.True(t, created.HasEvent(model.EventCreate))
}

func TestBuildCompletesTreeWithUnchangedNodes(t *testing.T) {
	repo := setupRepo(t)
	dir := seedNode(t, repo, nil, "docs", model.TypeDirectory, "l-docs", "r-docs")
	seedNode(t, repo, &dir.DbID, "kept.txt", model.TypeFile, "l-kept", "r-kept")

	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:      model.OpCreate,
		NodeID:    "l-new",
		Type:      model.TypeFile,
		AfterPath: "docs/new.txt",
	})

	tree := buildTree(t, repo, model.SideLocal, ops)

	kept := tree.NodeByID("l-kept")
	require.NotNil(t, kept)
	assert.True(t, kept.Events.Empty())
	assert.Equal(t, "docs/kept.txt", kept.Path())

	// The create's temporary parent merged with the real docs node.
	created := tree.NodeByID("l-new")
	require.NotNil(t, created)
	assert.Equal(t, tree.NodeByID("l-docs"), created.Parent())
	assert.Empty(t, tree.TmpNodes())
}

func TestBuildFailsWhenTemporaryNodeRemains(t *testing.T) {
	repo := setupRepo(t)

	// A create under a directory that exists in neither the ops nor the DB
	// leaves an unresolvable temporary parent.
	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:      model.OpCreate,
		NodeID:    "l-new",
		Type:      model.TypeFile,
		AfterPath: "ghost/new.txt",
	})

	tree := NewTree(model.SideLocal, "root", nil)
	err := NewBuilder(tree, ops, repo).Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.DataError, status.CodeOf(err))
	assert.Equal(t, status.CauseInvalidSnapshot, status.CauseOf(err))
}

func TestBuildMovedThenDeletedDirectoryKeepsBothEvents(t *testing.T) {
	repo := setupRepo(t)
	seedNode(t, repo, nil, "A", model.TypeDirectory, "l-A", "r-A")

	ops := compute.NewOpSet(model.SideLocal)
	ops.Push(compute.FSOperation{
		Kind:       model.OpMove,
		NodeID:     "l-A",
		Type:       model.TypeDirectory,
		BeforePath: "A",
		AfterPath:  "B",
	})
	ops.Push(compute.FSOperation{
		Kind:       model.OpDelete,
		NodeID:     "l-A",
		Type:       model.TypeDirectory,
		BeforePath: "A",
	})

	tree := buildTree(t, repo, model.SideLocal, ops)

	node := tree.NodeByID("l-A")
	require.NotNil(t, node)
	assert.True(t, node.HasEvent(model.EventMove))
	assert.True(t, node.HasEvent(model.EventDelete))
}
