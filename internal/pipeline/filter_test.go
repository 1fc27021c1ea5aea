package pipeline

import (
	"testing"
	"time"

	"ebbsync/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestShouldIgnore(t *testing.T) {
	ignore := []string{".git", "*.tmp", "**/build/*.o"}

	assert.True(t, ShouldIgnore("project/.git/config", ignore))
	assert.True(t, ShouldIgnore("notes.tmp", ignore))
	assert.True(t, ShouldIgnore("src/build/main.o", ignore))
	assert.False(t, ShouldIgnore("src/main.go", ignore))
	assert.False(t, ShouldIgnore("gitlog.txt", ignore))
}

func TestFilterDropsIgnoredEvents(t *testing.T) {
	in := make(chan model.FileEvent, 4)
	out := Filter(in, []string{"*.tmp"})

	in <- model.FileEvent{Type: model.EventTypeWrite, Path: "keep.txt"}
	in <- model.FileEvent{Type: model.EventTypeWrite, Path: "drop.tmp"}
	close(in)

	var got []string
	for event := range out {
		got = append(got, event.Path)
	}

	assert.Equal(t, []string{"keep.txt"}, got)
}

func TestDebounceCollapsesBursts(t *testing.T) {
	in := make(chan model.FileEvent, 8)
	out := Debounce(in, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		in <- model.FileEvent{Type: model.EventTypeWrite, Path: "f.txt"}
	}
	close(in)

	var got []model.FileEvent
	for event := range out {
		got = append(got, event)
	}

	assert.Len(t, got, 1)
	assert.Equal(t, "f.txt", got[0].Path)
}
