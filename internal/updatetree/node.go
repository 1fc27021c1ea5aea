package updatetree

import (
	"path"
	"time"

	"ebbsync/internal/model"
)

type NodeStatus int

const (
	Unprocessed NodeStatus = iota
	PartiallyProcessed
	Processed
)

// Node is one entry of an update tree. A node may carry several change
// events at once (e.g. move+edit). A temporary node is created bottom-up
// from a path before its DB backing is known; none may remain once the
// build completes.
type Node struct {
	key string

	DbID        *uint
	ID          string
	PreviousID  string
	Name        string
	Type        model.NodeType
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentHash string

	Events     model.EventSet
	MoveOrigin string
	Status     NodeStatus
	Tmp        bool

	// ValidName is the platform-legal local name when the original name is
	// illegal on the local filesystem; empty otherwise.
	ValidName string

	parent   *Node
	children map[string]*Node
	tree     *Tree
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) Side() model.ReplicaSide { return n.tree.Side }

func (n *Node) Tree() *Tree { return n.tree }

func (n *Node) IsRoot() bool { return n.parent == nil }

// Children returns the child set. Callers must not mutate it.
func (n *Node) Children() map[string]*Node { return n.children }

func (n *Node) HasEvent(e model.EventSet) bool { return n.Events.Has(e) }

// FinalLocalName is the name used on the local replica.
func (n *Node) FinalLocalName() string {
	if n.ValidName != "" {
		return n.ValidName
	}

	return n.Name
}

// Path returns the node's slash-separated path relative to the tree root.
func (n *Node) Path() string {
	if n.parent == nil {
		return "."
	}

	return path.Join(n.parent.Path(), n.Name)
}

// ChildByName returns the child carrying the given name, nil if none.
func (n *Node) ChildByName(name string) *Node {
	for _, child := range n.children {
		if child.Name == name {
			return child
		}
	}

	return nil
}

// ChildExcept returns the child carrying the given name that does not carry
// the given change event.
func (n *Node) ChildExcept(name string, e model.EventSet) *Node {
	for _, child := range n.children {
		if child.Name == name && !child.Events.Has(e) {
			return child
		}
	}

	return nil
}

// IsAncestorOf reports whether n is a strict ancestor of other in the tree.
func (n *Node) IsAncestorOf(other *Node) bool {
	for cur := other.parent; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}

	return false
}

func (n *Node) attach(child *Node) {
	if child.parent != nil {
		delete(child.parent.children, child.key)
	}

	child.parent = n
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[child.key] = child
}

func (n *Node) detach() {
	if n.parent != nil {
		delete(n.parent.children, n.key)
		n.parent = nil
	}
}
