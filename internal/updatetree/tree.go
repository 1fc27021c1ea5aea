package updatetree

import (
	"fmt"
	"strings"

	"ebbsync/internal/model"
)

// Tree is the annotated per-side tree built from one pass's operations.
// Parent/child edges form a tree by construction; children are indexed in
// the owning node, nodes by id in the tree container.
type Tree struct {
	Side model.ReplicaSide

	root   *Node
	byID   map[string]*Node
	byDbID map[uint]*Node
	tmpSeq int
}

func NewTree(side model.ReplicaSide, rootID string, rootDbID *uint) *Tree {
	t := &Tree{
		Side:   side,
		byID:   make(map[string]*Node),
		byDbID: make(map[uint]*Node),
	}

	t.root = &Node{
		key:  rootID,
		ID:   rootID,
		DbID: rootDbID,
		Name: ".",
		Type: model.TypeDirectory,
		tree: t,
	}
	t.byID[rootID] = t.root
	if rootDbID != nil {
		t.byDbID[*rootDbID] = t.root
	}

	return t
}

func (t *Tree) Root() *Node { return t.root }

func (t *Tree) NodeByID(id string) *Node { return t.byID[id] }

func (t *Tree) NodeByDbID(dbID uint) *Node { return t.byDbID[dbID] }

// NodeByPath resolves a slash-separated path relative to the root, nil when
// any component is missing.
func (t *Tree) NodeByPath(p string) *Node {
	if p == "." || p == "" {
		return t.root
	}

	cur := t.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}

		cur = cur.ChildByName(part)
		if cur == nil {
			return nil
		}
	}

	return cur
}

// NewNode creates a node attached under parent. An empty id makes a
// temporary node.
func (t *Tree) NewNode(id, name string, nodeType model.NodeType, parent *Node) *Node {
	n := &Node{
		ID:   id,
		Name: name,
		Type: nodeType,
		tree: t,
	}

	if id == "" {
		t.tmpSeq++
		n.key = fmt.Sprintf("tmp:%d", t.tmpSeq)
		n.Tmp = true
	} else {
		n.key = id
		t.byID[id] = n
	}

	parent.attach(n)
	return n
}

// SetNodeID assigns or replaces a node's id, keeping the indexes in sync.
func (t *Tree) SetNodeID(n *Node, id string) {
	if n.ID == id {
		return
	}

	if n.ID != "" {
		delete(t.byID, n.ID)
	}

	parent := n.parent
	if parent != nil {
		delete(parent.children, n.key)
	}

	n.ID = id
	n.key = id
	n.Tmp = id == ""
	t.byID[id] = n

	if parent != nil {
		parent.children[n.key] = n
	}
}

func (t *Tree) SetDbID(n *Node, dbID uint) {
	n.DbID = &dbID
	t.byDbID[dbID] = n
}

// Move reparents node under newParent.
func (t *Tree) Move(n *Node, newParent *Node) {
	newParent.attach(n)
}

// Remove detaches node and drops its whole subtree from the indexes.
func (t *Tree) Remove(n *Node) {
	n.detach()
	t.unindex(n)
}

func (t *Tree) unindex(n *Node) {
	if n.ID != "" {
		delete(t.byID, n.ID)
	}
	if n.DbID != nil {
		delete(t.byDbID, *n.DbID)
	}

	for _, child := range n.children {
		t.unindex(child)
	}
}

func (t *Tree) MarkAllUnprocessed() {
	t.walk(t.root, func(n *Node) {
		n.Status = Unprocessed
	})
}

// Walk visits every node depth-first, root included.
func (t *Tree) Walk(fn func(n *Node)) {
	t.walk(t.root, fn)
}

func (t *Tree) walk(n *Node, fn func(n *Node)) {
	fn(n)
	for _, child := range n.children {
		t.walk(child, fn)
	}
}

// TmpNodes returns the temporary nodes still present, for the integrity
// check after the build completes.
func (t *Tree) TmpNodes() []*Node {
	var tmp []*Node
	t.walk(t.root, func(n *Node) {
		if n.Tmp {
			tmp = append(tmp, n)
		}
	})

	return tmp
}
