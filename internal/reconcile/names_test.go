package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var stamp = time.Date(2024, 3, 17, 9, 30, 45, 0, time.UTC)

func TestConflictNameKeepsExtension(t *testing.T) {
	got := ConflictName("report.pdf", "DEVICE", stamp)
	assert.Equal(t, "report (conflicting copy from DEVICE 2024-03-17 09-30-45).pdf", got)
}

func TestConflictNameWithoutExtension(t *testing.T) {
	got := ConflictName("notes", "DEVICE", stamp)
	assert.Equal(t, "notes (conflicting copy from DEVICE 2024-03-17 09-30-45)", got)
}

func TestOrphanName(t *testing.T) {
	got := OrphanName("c.txt", stamp)
	assert.Equal(t, "c (orphan 2024-03-17 09-30-45).txt", got)
}

func TestDisambiguateAppendsCounter(t *testing.T) {
	taken := map[string]bool{
		"f (orphan 2024-03-17 09-30-45).txt":   true,
		"f (orphan 2024-03-17 09-30-45) 2.txt": true,
	}

	got := Disambiguate("f (orphan 2024-03-17 09-30-45).txt", func(name string) bool {
		return taken[name]
	})
	assert.Equal(t, "f (orphan 2024-03-17 09-30-45) 3.txt", got)
}

func TestDisambiguateLeavesFreeNameAlone(t *testing.T) {
	got := Disambiguate("free.txt", func(string) bool { return false })
	assert.Equal(t, "free.txt", got)
}

func TestSanitizeName(t *testing.T) {
	fixed, ok := sanitizeName("a<b>c.txt")
	assert.True(t, ok)
	assert.Equal(t, "a_b_c.txt", fixed)

	fixed, ok = sanitizeName("trailing. ")
	assert.True(t, ok)
	assert.Equal(t, "trailing", fixed)

	_, ok = sanitizeName("   ")
	assert.False(t, ok)
}
