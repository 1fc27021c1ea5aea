package reconcile

import (
	"ebbsync/internal/model"
	"ebbsync/internal/updatetree"
)

// Pair holds the two update trees of one pass.
type Pair struct {
	Local  *updatetree.Tree
	Remote *updatetree.Tree
}

func (p Pair) Tree(side model.ReplicaSide) *updatetree.Tree {
	if side == model.SideLocal {
		return p.Local
	}

	return p.Remote
}

// CorrespondingDirect returns the counterpart of n in the other tree by db
// id, nil when n has none or the other tree does not hold it.
func (p Pair) CorrespondingDirect(n *updatetree.Node) *updatetree.Node {
	if n == nil || n.DbID == nil {
		return nil
	}

	return p.Tree(n.Side().Other()).NodeByDbID(*n.DbID)
}

// Corresponding returns the counterpart of n in the other tree: by db id
// when n is backed, by path otherwise (nodes created this pass).
func (p Pair) Corresponding(n *updatetree.Node) *updatetree.Node {
	if n == nil {
		return nil
	}

	if n.DbID != nil {
		return p.Tree(n.Side().Other()).NodeByDbID(*n.DbID)
	}

	return p.Tree(n.Side().Other()).NodeByPath(n.Path())
}
