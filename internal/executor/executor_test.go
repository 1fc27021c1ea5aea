package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ebbsync/internal/db"
	"ebbsync/internal/jobs"
	"ebbsync/internal/jobs/memdrive"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"
	"ebbsync/internal/updatetree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	drive     *memdrive.Drive
	pool      *jobs.Pool
	repo      *repository.NodeRepository
	exec      *Executor
	localRoot string
	local     *updatetree.Tree
	remote    *updatetree.Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, db.InitMemory())

	drive := memdrive.New()
	pool := jobs.NewPool(drive, 2, nil)
	t.Cleanup(pool.Close)

	repo := repository.NewNodeRepository(1)
	localRoot := t.TempDir()

	exec := New(Config{
		RootID:           1,
		RemoteRootID:     drive.RootID(),
		LocalRoot:        localRoot,
		MaxRetries:       3,
		BigFileThreshold: 1024,
		ChunkSize:        1024,
	}, pool, repo, nil, nil)

	return &fixture{
		drive:     drive,
		pool:      pool,
		repo:      repo,
		exec:      exec,
		localRoot: localRoot,
		local:     updatetree.NewTree(model.SideLocal, "root", nil),
		remote:    updatetree.NewTree(model.SideRemote, drive.RootID(), nil),
	}
}

func opsOf(ops ...*syncop.Op) *syncop.List {
	l := syncop.NewList()
	for _, op := range ops {
		l.Push(op)
	}
	return l
}

func TestExecuteUploadSmallFile(t *testing.T) {
	f := newFixture(t)

	content := []byte("hello remote")
	require.NoError(t, os.WriteFile(filepath.Join(f.localRoot, "f.txt"), content, 0644))

	node := f.local.NewNode("l-f", "f.txt", model.TypeFile, f.local.Root())
	node.Events.Add(model.EventCreate)
	node.Size = int64(len(content))

	op := &syncop.Op{Kind: model.OpCreate, Affected: node, TargetSide: model.SideRemote, NewName: "f.txt"}
	require.NoError(t, f.exec.Run(context.Background(), opsOf(op)))

	assert.Equal(t, 1, f.drive.Len())

	row, err := f.repo.SelectNodeByID(model.SideLocal, "l-f")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotEmpty(t, row.RemoteID)

	_, data, ok := f.drive.Item(row.RemoteID)
	require.True(t, ok)
	assert.Equal(t, content, data)
}

func TestExecuteChunkedUploadRetriesRateLimitedChunk(t *testing.T) {
	f := newFixture(t)

	content := make([]byte, 3000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.localRoot, "big.bin"), content, 0644))

	// Two rate-limit failures; the chunk retries with backoff and resumes.
	f.drive.Fail[jobs.UploadSessionChunk] = []error{
		status.New(status.RateLimited, status.CauseNone),
		status.New(status.RateLimited, status.CauseNone),
	}

	node := f.local.NewNode("l-big", "big.bin", model.TypeFile, f.local.Root())
	node.Events.Add(model.EventCreate)
	node.Size = int64(len(content))

	op := &syncop.Op{Kind: model.OpCreate, Affected: node, TargetSide: model.SideRemote, NewName: "big.bin"}
	require.NoError(t, f.exec.Run(context.Background(), opsOf(op)))

	row, err := f.repo.SelectNodeByID(model.SideLocal, "l-big")
	require.NoError(t, err)
	require.NotNil(t, row)

	_, data, ok := f.drive.Item(row.RemoteID)
	require.True(t, ok)
	assert.Equal(t, content, data)
	assert.Equal(t, 0, f.drive.OpenSessions())
}

func TestExecuteChunkedUploadCancelsSessionOnExhaustion(t *testing.T) {
	f := newFixture(t)

	content := make([]byte, 3000)
	require.NoError(t, os.WriteFile(filepath.Join(f.localRoot, "big.bin"), content, 0644))

	var failures []error
	for i := 0; i < 10; i++ {
		failures = append(failures, status.New(status.RateLimited, status.CauseNone))
	}
	f.drive.Fail[jobs.UploadSessionChunk] = failures

	node := f.local.NewNode("l-big", "big.bin", model.TypeFile, f.local.Root())
	node.Events.Add(model.EventCreate)
	node.Size = int64(len(content))

	op := &syncop.Op{Kind: model.OpCreate, Affected: node, TargetSide: model.SideRemote, NewName: "big.bin"}
	err := f.exec.Run(context.Background(), opsOf(op))
	require.Error(t, err)
	assert.Equal(t, status.RateLimited, status.CodeOf(err))

	// The session was canceled and nothing landed on the drive.
	assert.Equal(t, 0, f.drive.OpenSessions())
	assert.Equal(t, 0, f.drive.Len())
	assert.Equal(t, op, f.exec.Failed())
}

func TestExecuteDownloadCreatesLocalFile(t *testing.T) {
	f := newFixture(t)

	content := []byte("remote bytes")
	f.drive.Put(jobs.RemoteItem{
		ID:       "r-f",
		ParentID: f.drive.RootID(),
		Name:     "f.txt",
		Type:     model.TypeFile,
		Size:     int64(len(content)),
	}, content)

	node := f.remote.NewNode("r-f", "f.txt", model.TypeFile, f.remote.Root())
	node.Events.Add(model.EventCreate)
	node.Size = int64(len(content))

	op := &syncop.Op{Kind: model.OpCreate, Affected: node, TargetSide: model.SideLocal, NewName: "f.txt"}
	require.NoError(t, f.exec.Run(context.Background(), opsOf(op)))

	got, err := os.ReadFile(filepath.Join(f.localRoot, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	row, err := f.repo.SelectNodeByID(model.SideRemote, "r-f")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotEmpty(t, row.LocalID)
}

func TestExecuteOmitTouchesOnlyDB(t *testing.T) {
	f := newFixture(t)

	lf := f.local.NewNode("l-f", "same.txt", model.TypeFile, f.local.Root())
	lf.Events.Add(model.EventCreate)
	lf.ContentHash = "same"
	rf := f.remote.NewNode("r-f", "same.txt", model.TypeFile, f.remote.Root())
	rf.Events.Add(model.EventCreate)
	rf.ContentHash = "same"

	op := &syncop.Op{
		Kind:          model.OpCreate,
		Affected:      lf,
		Corresponding: rf,
		TargetSide:    model.SideRemote,
		NewName:       "same.txt",
		Omit:          true,
	}
	require.NoError(t, f.exec.Run(context.Background(), opsOf(op)))

	// No remote call, no local file: only the DB row appears.
	assert.Equal(t, 0, f.drive.Len())
	entries, err := os.ReadDir(f.localRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	row, err := f.repo.SelectNodeByID(model.SideLocal, "l-f")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "r-f", row.RemoteID)
}

func TestExecuteLocalMoveRenames(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, db.InitMemory())
	repo := repository.NewNodeRepository(1)
	f.exec.repo = repo

	require.NoError(t, os.WriteFile(filepath.Join(f.localRoot, "a.txt"), []byte("x"), 0644))

	row := &model.NodeRow{Name: "a.txt", Type: model.TypeFile, LocalID: "l-a", RemoteID: "r-a"}
	require.NoError(t, repo.InsertNode(row))

	rNode := f.remote.NewNode("r-a", "b.txt", model.TypeFile, f.remote.Root())
	rNode.Events.Add(model.EventMove)
	rNode.MoveOrigin = "a.txt"
	f.remote.SetDbID(rNode, row.DbID)

	lNode := f.local.NewNode("l-a", "a.txt", model.TypeFile, f.local.Root())
	f.local.SetDbID(lNode, row.DbID)

	op := &syncop.Op{
		Kind:          model.OpMove,
		Affected:      rNode,
		Corresponding: lNode,
		TargetSide:    model.SideLocal,
		NewName:       "b.txt",
	}
	require.NoError(t, f.exec.Run(context.Background(), opsOf(op)))

	_, err := os.Stat(filepath.Join(f.localRoot, "b.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.localRoot, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	updated, err := repo.SelectNodeByDbID(row.DbID)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", updated.Name)
}

func TestExecuteAbortsRemainingOpsOnFailure(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.localRoot, "ok.txt"), []byte("x"), 0644))

	f.drive.Fail[jobs.Upload] = []error{status.New(status.BackError, status.CauseQuotaExceeded)}

	failing := f.local.NewNode("l-fail", "ok.txt", model.TypeFile, f.local.Root())
	failing.Events.Add(model.EventCreate)
	failing.Size = 1

	second := f.local.NewNode("l-second", "ok.txt", model.TypeFile, f.local.Root())
	second.Events.Add(model.EventCreate)
	second.Size = 1

	first := &syncop.Op{Kind: model.OpCreate, Affected: failing, TargetSide: model.SideRemote, NewName: "ok.txt"}
	rest := &syncop.Op{Kind: model.OpCreate, Affected: second, TargetSide: model.SideRemote, NewName: "ok2.txt"}

	err := f.exec.Run(context.Background(), opsOf(first, rest))
	require.Error(t, err)
	assert.Equal(t, status.BackError, status.CodeOf(err))

	// The second operation never ran.
	assert.Equal(t, 0, f.drive.Len())
}
