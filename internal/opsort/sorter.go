package opsort

import (
	"context"
	"path"
	"sort"
	"strings"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/status"
	"ebbsync/internal/syncop"

	"go.uber.org/zap"
)

// Sorter orders the operation list so that every cross-operation dependency
// holds at execution time:
//
//  1. a create on a parent precedes any operation on its children,
//  2. a delete on a child precedes the delete on its parent,
//  3. a move into a path vacated by another operation runs after it,
//  4. an edit follows a same-pass move of the same node.
//
// Cycles among moves must have been broken by the conflict stage; finding
// one here is a data error.
type Sorter struct {
	ops *syncop.List
}

func NewSorter(ops *syncop.List) *Sorter {
	return &Sorter{ops: ops}
}

func (s *Sorter) Sort(ctx context.Context) error {
	ops := s.ops.Ops()
	n := len(ops)
	if n < 2 {
		return nil
	}

	succ := make([][]int, n)
	indegree := make([]int, n)
	addEdge := func(before, after int) {
		if before == after {
			return
		}
		succ[before] = append(succ[before], after)
		indegree[after]++
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}

		for j := 0; j < n; j++ {
			if i == j {
				continue
			}

			opI, opJ := ops[i], ops[j]

			// Rule 1: parent create before anything touching its subtree.
			if opI.Kind == model.OpCreate && isPathAncestor(affectedPath(opI), affectedPath(opJ)) {
				addEdge(i, j)
			}

			// Rule 2: child delete before parent delete.
			if opI.Kind == model.OpDelete && opJ.Kind == model.OpDelete &&
				isPathAncestor(affectedPath(opJ), affectedPath(opI)) {
				addEdge(i, j)
			}

			// Rule 3: a move lands on a path only after the op that vacates it.
			if opJ.Kind == model.OpMove && !opJ.Omit {
				if src := sourcePath(opI); src != "" && src == destinationPath(opJ) {
					addEdge(i, j)
				}
			}

			// Rule 4: edit after the same-pass move of the same node.
			if opI.Kind == model.OpMove && opJ.Kind == model.OpEdit && sameNode(opI, opJ) {
				addEdge(i, j)
			}
		}
	}

	// Stable Kahn: among ready operations the original order wins.
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	sorted := make([]*syncop.Op, 0, n)
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		sorted = append(sorted, ops[i])

		changed := false
		for _, j := range succ[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
				changed = true
			}
		}
		if changed {
			sort.Ints(ready)
		}
	}

	if len(sorted) != n {
		logger.Log.Error("cycle in operation dependencies",
			zap.Int("sorted", len(sorted)),
			zap.Int("total", n))
		return status.New(status.DataError, status.CauseNone)
	}

	s.ops.Replace(sorted)
	return nil
}

func affectedPath(op *syncop.Op) string {
	return op.Affected.Path()
}

// destinationPath is the path an operation occupies on the target side.
func destinationPath(op *syncop.Op) string {
	switch op.Kind {
	case model.OpCreate:
		return op.Affected.Path()
	case model.OpMove:
		if op.NewParent != nil {
			return path.Join(op.NewParent.Path(), op.NewName)
		}
		return op.Affected.Path()
	default:
		return ""
	}
}

// sourcePath is the path an operation vacates on the target side.
func sourcePath(op *syncop.Op) string {
	switch op.Kind {
	case model.OpMove:
		if op.Corresponding != nil && op.Corresponding != op.Affected {
			return op.Corresponding.Path()
		}
		return op.Affected.MoveOrigin
	case model.OpDelete:
		if op.Corresponding != nil {
			return op.Corresponding.Path()
		}
		return op.Affected.Path()
	default:
		return ""
	}
}

func sameNode(a, b *syncop.Op) bool {
	if a.Affected == b.Affected {
		return true
	}

	return a.Affected.DbID != nil && b.Affected.DbID != nil && *a.Affected.DbID == *b.Affected.DbID
}

func isPathAncestor(ancestor, descendant string) bool {
	if ancestor == "" || ancestor == "." || descendant == "" {
		return false
	}

	return strings.HasPrefix(descendant, ancestor+"/")
}
