package reconcile

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
)

const conflictStampLayout = "2006-01-02 15-04-05"

// DeviceName returns the stable name embedded in conflict suffixes.
func DeviceName() string {
	if host, err := machineid.ProtectedID("ebbsync"); err == nil && len(host) >= 12 {
		return host[:12]
	}

	return "local"
}

// ConflictName inserts the conflict suffix before the final extension:
// "report.pdf" becomes "report (conflicting copy from DEVICE 2006-01-02 15-04-05).pdf".
// The exact form is part of the observable contract.
func ConflictName(name, device string, t time.Time) string {
	return suffixedName(name, fmt.Sprintf(" (conflicting copy from %s %s)", device, t.Format(conflictStampLayout)))
}

// OrphanName marks a node preserved out of a deleted subtree.
func OrphanName(name string, t time.Time) string {
	return suffixedName(name, fmt.Sprintf(" (orphan %s)", t.Format(conflictStampLayout)))
}

func suffixedName(name, suffix string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + suffix + ext
}

// Disambiguate appends a numeric counter until taken reports the name free.
// Renaming aside never produces the same name twice in one directory.
func Disambiguate(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", base, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}
