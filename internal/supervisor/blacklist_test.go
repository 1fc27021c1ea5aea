package supervisor

import (
	"testing"

	"ebbsync/internal/db"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBlacklist(t *testing.T, after, passes int) *BlacklistManager {
	t.Helper()
	require.NoError(t, db.InitMemory())

	m, err := NewBlacklistManager(
		repository.NewNodeErrorRepository(1),
		repository.NewSyncNodeRepository(1),
		after, passes)
	require.NoError(t, err)
	return m
}

func TestBlacklistAfterConsecutiveFailures(t *testing.T) {
	m := newBlacklist(t, 3, 2)

	m.RecordError(model.SideLocal, "n1", "ApiErr")
	m.RecordError(model.SideLocal, "n1", "ApiErr")
	assert.False(t, m.IsBlacklisted(model.SideLocal, "n1"))

	m.RecordError(model.SideLocal, "n1", "ApiErr")
	assert.True(t, m.IsBlacklisted(model.SideLocal, "n1"))

	// The other side is unaffected.
	assert.False(t, m.IsBlacklisted(model.SideRemote, "n1"))
}

func TestBlacklistExpiresAfterPasses(t *testing.T) {
	m := newBlacklist(t, 1, 2)

	m.RecordError(model.SideRemote, "n2", "NetworkTimeout")
	assert.True(t, m.IsBlacklisted(model.SideRemote, "n2"))

	m.TickPass()
	assert.True(t, m.IsBlacklisted(model.SideRemote, "n2"))

	m.TickPass()
	assert.False(t, m.IsBlacklisted(model.SideRemote, "n2"))
}

func TestBlacklistPersistsAcrossManagers(t *testing.T) {
	require.NoError(t, db.InitMemory())
	errRepo := repository.NewNodeErrorRepository(1)
	syncRepo := repository.NewSyncNodeRepository(1)

	m, err := NewBlacklistManager(errRepo, syncRepo, 1, 5)
	require.NoError(t, err)
	m.RecordError(model.SideLocal, "n3", "ApiErr")
	require.True(t, m.IsBlacklisted(model.SideLocal, "n3"))

	// A fresh manager over the same database sees the exclusion.
	reloaded, err := NewBlacklistManager(errRepo, syncRepo, 1, 5)
	require.NoError(t, err)
	assert.True(t, reloaded.IsBlacklisted(model.SideLocal, "n3"))
}

func TestRecordSuccessClearsCount(t *testing.T) {
	m := newBlacklist(t, 2, 3)

	m.RecordError(model.SideLocal, "n4", "ApiErr")
	m.RecordSuccess(model.SideLocal, "n4")
	m.RecordError(model.SideLocal, "n4", "ApiErr")

	assert.False(t, m.IsBlacklisted(model.SideLocal, "n4"))
}
