package snapshot

import (
	"testing"

	"ebbsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated() *Snapshot {
	s := New(model.SideLocal, "root")
	s.Upsert(Item{ID: "dir", ParentID: "root", Name: "docs", Type: model.TypeDirectory})
	s.Upsert(Item{ID: "file", ParentID: "dir", Name: "a.txt", Type: model.TypeFile, Size: 5})
	s.SetValid()
	return s
}

func TestFreezeIsADeepCopy(t *testing.T) {
	s := populated()
	frozen := s.Freeze()

	// Mutations after the freeze do not leak into the copy.
	s.Upsert(Item{ID: "late", ParentID: "root", Name: "late.txt", Type: model.TypeFile})
	s.Remove("file")

	assert.True(t, frozen.Valid)
	_, ok := frozen.Get("file")
	assert.True(t, ok)
	_, ok = frozen.Get("late")
	assert.False(t, ok)
}

func TestFrozenPathResolution(t *testing.T) {
	frozen := populated().Freeze()

	p, ok := frozen.Path("file")
	require.True(t, ok)
	assert.Equal(t, "docs/a.txt", p)

	p, ok = frozen.Path("root")
	require.True(t, ok)
	assert.Equal(t, ".", p)
}

func TestRemoveDropsSubtree(t *testing.T) {
	s := populated()
	s.Remove("dir")

	_, ok := s.Get("dir")
	assert.False(t, ok)
	_, ok = s.Get("file")
	assert.False(t, ok)
}

func TestIDAtPath(t *testing.T) {
	s := populated()

	id, ok := s.IDAtPath("docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, "file", id)

	id, ok = s.IDAtPath(".")
	require.True(t, ok)
	assert.Equal(t, "root", id)

	_, ok = s.IDAtPath("docs/missing.txt")
	assert.False(t, ok)
}

func TestReparentUpdatesChildrenIndex(t *testing.T) {
	s := populated()
	s.Upsert(Item{ID: "file", ParentID: "root", Name: "a.txt", Type: model.TypeFile, Size: 5})

	id, ok := s.IDAtPath("a.txt")
	require.True(t, ok)
	assert.Equal(t, "file", id)

	_, ok = s.IDAtPath("docs/a.txt")
	assert.False(t, ok)
}
