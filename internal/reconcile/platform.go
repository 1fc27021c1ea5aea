package reconcile

import (
	"strings"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/updatetree"
	"ebbsync/internal/util"

	"go.uber.org/zap"
)

// PlatformIssue marks a remote node whose name cannot be represented on the
// local filesystem at all; such nodes are temporarily blacklisted.
type PlatformIssue struct {
	NodeID string
	Path   string
}

const illegalNameRunes = "<>:\"\\|?*"

// CheckTree inspects the remote tree for names illegal on the local
// platform. Fixable names get a ValidName used for every local operation;
// unfixable ones are reported for blacklisting.
func CheckTree(tree *updatetree.Tree) []PlatformIssue {
	var issues []PlatformIssue

	tree.Walk(func(n *updatetree.Node) {
		if n.IsRoot() || !(n.HasEvent(model.EventCreate) || n.HasEvent(model.EventMove)) {
			return
		}

		fixed, ok := sanitizeName(n.Name)
		if !ok {
			issues = append(issues, PlatformIssue{NodeID: n.ID, Path: n.Path()})
			logger.Log.Warn("remote name cannot be represented locally",
				zap.String("path", n.Path()))
			return
		}

		if fixed == n.Name {
			return
		}

		parent := n.Parent()
		fixed = Disambiguate(fixed, func(candidate string) bool {
			sibling := parent.ChildByName(candidate)
			return sibling != nil && sibling != n
		})

		n.ValidName = fixed
		logger.Log.Info("remote name adjusted for local platform",
			zap.String("name", n.Name),
			zap.String("valid_name", fixed))
	})

	return issues
}

func sanitizeName(name string) (string, bool) {
	fixed := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(illegalNameRunes, r) {
			return '_'
		}
		return r
	}, name)

	fixed = strings.TrimRight(fixed, " .")
	if fixed == "" || len(fixed) > util.MaxNameLen {
		return "", false
	}

	return fixed, true
}
