package pipeline

import (
	"path/filepath"
	"strings"

	"ebbsync/internal/model"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter drops events whose path matches one of the ignore patterns.
// Patterns match either a single path component or, with doublestar syntax,
// the whole relative path.
func Filter(inCh <-chan model.FileEvent, ignoreList []string) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if ShouldIgnore(event.Path, ignoreList) {
				continue
			}
			outCh <- event
		}
	}()

	return outCh
}

func ShouldIgnore(path string, ignoreList []string) bool {
	slashed := filepath.ToSlash(path)
	parts := strings.Split(slashed, "/")

	for _, pattern := range ignoreList {
		if strings.Contains(pattern, "/") {
			if matched, err := doublestar.Match(pattern, slashed); err == nil && matched {
				return true
			}
			continue
		}

		for _, part := range parts {
			if matched, err := doublestar.Match(pattern, part); err == nil && matched {
				return true
			}
		}
	}

	return false
}
