package syncop

import (
	"ebbsync/internal/model"
	"ebbsync/internal/updatetree"
)

// Op is one operation to execute on a target replica. Omit means the op is
// a DB-only reconciliation: no remote call, no local filesystem call.
type Op struct {
	Kind          model.OpKind
	Affected      *updatetree.Node
	Corresponding *updatetree.Node
	TargetSide    model.ReplicaSide
	NewParent     *updatetree.Node
	NewName       string
	Omit          bool
	Conflict      model.ConflictType
}

// List is the ordered operation list of one pass.
type List struct {
	ops []*Op
}

func NewList() *List {
	return &List{}
}

func (l *List) Push(op *Op) {
	l.ops = append(l.ops, op)
}

func (l *List) Ops() []*Op { return l.ops }

func (l *List) Len() int { return len(l.ops) }

func (l *List) Clear() { l.ops = nil }

// Replace swaps the backing slice, used by the sorter.
func (l *List) Replace(ops []*Op) { l.ops = ops }
