package reconcile

import (
	"sort"

	"ebbsync/internal/model"
	"ebbsync/internal/updatetree"
)

// Conflict pairs two change events that touch the same logical entity on
// both replicas.
type Conflict struct {
	Type          model.ConflictType
	Node          *updatetree.Node
	Corresponding *updatetree.Node
}

func (c Conflict) LocalNode() *updatetree.Node {
	if c.Node.Side() == model.SideLocal {
		return c.Node
	}

	return c.Corresponding
}

func (c Conflict) RemoteNode() *updatetree.Node {
	if c.Node.Side() == model.SideRemote {
		return c.Node
	}

	return c.Corresponding
}

// conflictPriority orders the queue so that the conflicts solved by a local
// rename come first and can be batched within one pass; the structural
// conflicts follow, each of which forces a restart once solved.
var conflictPriority = map[model.ConflictType]int{
	model.ConflictCreateCreate:       0,
	model.ConflictEditEdit:           1,
	model.ConflictMoveCreate:         2,
	model.ConflictMoveMoveDest:       3,
	model.ConflictEditDelete:         4,
	model.ConflictMoveDelete:         5,
	model.ConflictMoveParentDelete:   6,
	model.ConflictCreateParentDelete: 7,
	model.ConflictMoveMoveSource:     8,
	model.ConflictMoveMoveCycle:      9,
}

// IsLocalRenameConflict reports whether the conflict is solved by renaming
// the local copy aside, letting the resolver batch same-kind conflicts.
func IsLocalRenameConflict(t model.ConflictType) bool {
	return model.IsLocalRenameConflict(t)
}

// Queue is the pass-scoped conflict queue, highest priority first.
type Queue struct {
	conflicts []Conflict
}

func NewQueue(conflicts []Conflict) *Queue {
	q := &Queue{conflicts: conflicts}
	sort.SliceStable(q.conflicts, func(i, j int) bool {
		return conflictPriority[q.conflicts[i].Type] < conflictPriority[q.conflicts[j].Type]
	})

	return q
}

func (q *Queue) Empty() bool { return len(q.conflicts) == 0 }

func (q *Queue) Len() int { return len(q.conflicts) }

func (q *Queue) Top() Conflict { return q.conflicts[0] }

func (q *Queue) Pop() {
	q.conflicts = q.conflicts[1:]
}

func (q *Queue) Clear() { q.conflicts = nil }

func (q *Queue) HasType(t model.ConflictType) bool {
	for _, c := range q.conflicts {
		if c.Type == t {
			return true
		}
	}

	return false
}
