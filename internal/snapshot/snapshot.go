package snapshot

import (
	"path"
	"strings"
	"sync"
	"time"

	"ebbsync/internal/model"
)

// Item is one filesystem object as seen by an observer.
type Item struct {
	ID          string
	ParentID    string
	Name        string
	Type        model.NodeType
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentHash string
	CanWrite    bool
}

// Snapshot is the live view of one replica, owned by its observer. It is
// guarded by a mutex; the pipeline only ever sees frozen copies.
type Snapshot struct {
	mu       sync.Mutex
	side     model.ReplicaSide
	rootID   string
	items    map[string]Item
	children map[string]map[string]struct{}
	valid    bool
}

func New(side model.ReplicaSide, rootID string) *Snapshot {
	s := &Snapshot{
		side:     side,
		rootID:   rootID,
		items:    make(map[string]Item),
		children: make(map[string]map[string]struct{}),
	}
	s.items[rootID] = Item{ID: rootID, Name: ".", Type: model.TypeDirectory, CanWrite: true}
	return s
}

func (s *Snapshot) Side() model.ReplicaSide { return s.side }

func (s *Snapshot) RootID() string { return s.rootID }

func (s *Snapshot) Upsert(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.items[item.ID]; ok && prev.ParentID != item.ParentID {
		s.unlink(prev.ParentID, item.ID)
	}

	s.items[item.ID] = item
	if item.ID != s.rootID {
		s.link(item.ParentID, item.ID)
	}
}

// Remove drops the item and its whole subtree.
func (s *Snapshot) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Snapshot) removeLocked(id string) {
	for childID := range s.children[id] {
		s.removeLocked(childID)
	}
	delete(s.children, id)

	if item, ok := s.items[id]; ok {
		s.unlink(item.ParentID, id)
		delete(s.items, id)
	}
}

func (s *Snapshot) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	return item, ok
}

// IDAtPath resolves a slash-separated path relative to the root.
func (s *Snapshot) IDAtPath(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idAtPathLocked(p)
}

func (s *Snapshot) idAtPathLocked(p string) (string, bool) {
	if p == "." || p == "" || p == "/" {
		return s.rootID, true
	}

	cur := s.rootID
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		found := ""
		for childID := range s.children[cur] {
			if s.items[childID].Name == part {
				found = childID
				break
			}
		}
		if found == "" {
			return "", false
		}
		cur = found
	}

	return cur, true
}

// Invalidate marks the snapshot untrustworthy; the next pass must rebuild it.
func (s *Snapshot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

func (s *Snapshot) SetValid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = true
}

func (s *Snapshot) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Reset drops everything but the root, for a full rebuild.
func (s *Snapshot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = map[string]Item{
		s.rootID: {ID: s.rootID, Name: ".", Type: model.TypeDirectory, CanWrite: true},
	}
	s.children = make(map[string]map[string]struct{})
	s.valid = false
}

// Freeze deep-copies the live snapshot for consumption by one sync pass.
func (s *Snapshot) Freeze() *Frozen {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make(map[string]Item, len(s.items))
	for id, item := range s.items {
		items[id] = item
	}

	children := make(map[string][]string, len(s.children))
	for id, set := range s.children {
		ids := make([]string, 0, len(set))
		for childID := range set {
			ids = append(ids, childID)
		}
		children[id] = ids
	}

	return &Frozen{
		Side:     s.side,
		RootID:   s.rootID,
		Items:    items,
		children: children,
		Valid:    s.valid,
	}
}

func (s *Snapshot) link(parentID, id string) {
	set, ok := s.children[parentID]
	if !ok {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	set[id] = struct{}{}
}

func (s *Snapshot) unlink(parentID, id string) {
	if set, ok := s.children[parentID]; ok {
		delete(set, id)
	}
}

// Frozen is an immutable copy of a snapshot handed to the pipeline.
type Frozen struct {
	Side     model.ReplicaSide
	RootID   string
	Items    map[string]Item
	children map[string][]string
	Valid    bool
}

func (f *Frozen) Get(id string) (Item, bool) {
	item, ok := f.Items[id]
	return item, ok
}

func (f *Frozen) Children(id string) []Item {
	ids := f.children[id]
	items := make([]Item, 0, len(ids))
	for _, childID := range ids {
		if item, ok := f.Items[childID]; ok {
			items = append(items, item)
		}
	}

	return items
}

// Path returns the slash-separated path of id relative to the root.
func (f *Frozen) Path(id string) (string, bool) {
	if id == f.RootID {
		return ".", true
	}

	item, ok := f.Items[id]
	if !ok {
		return "", false
	}

	parentPath, ok := f.Path(item.ParentID)
	if !ok {
		return "", false
	}

	return path.Join(parentPath, item.Name), true
}
