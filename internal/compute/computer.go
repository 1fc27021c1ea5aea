package compute

import (
	"context"
	"path"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"
	"ebbsync/internal/snapshot"
	"ebbsync/internal/status"

	"go.uber.org/zap"
)

// Computer diffs a frozen snapshot against the DB baseline for one side and
// produces the operation set of the pass: ops = snapshot - DB.
type Computer struct {
	snap        *snapshot.Frozen
	repo        *repository.NodeRepository
	blacklisted func(side model.ReplicaSide, nodeID string) bool
}

func NewComputer(snap *snapshot.Frozen, repo *repository.NodeRepository,
	blacklisted func(model.ReplicaSide, string) bool) *Computer {
	if blacklisted == nil {
		blacklisted = func(model.ReplicaSide, string) bool { return false }
	}

	return &Computer{snap: snap, repo: repo, blacklisted: blacklisted}
}

func (c *Computer) Compute(ctx context.Context) (*OpSet, error) {
	if !c.snap.Valid {
		return nil, status.New(status.DataError, status.CauseInvalidSnapshot)
	}

	rows, err := c.repo.SelectAll()
	if err != nil {
		return nil, status.Wrap(status.SystemError, status.CauseNone, err)
	}

	side := c.snap.Side
	byDbID := make(map[uint]*model.NodeRow, len(rows))
	bySideID := make(map[string]*model.NodeRow, len(rows))
	for i := range rows {
		row := &rows[i]
		byDbID[row.DbID] = row
		if id := row.ID(side); id != "" {
			bySideID[id] = row
		}
	}

	dbPaths := make(map[uint]string, len(rows))
	var dbPath func(dbID uint) string
	dbPath = func(dbID uint) string {
		if p, ok := dbPaths[dbID]; ok {
			return p
		}

		row := byDbID[dbID]
		p := row.Name
		if row.ParentDbID != nil {
			if _, ok := byDbID[*row.ParentDbID]; ok {
				p = path.Join(dbPath(*row.ParentDbID), row.Name)
			}
		}

		dbPaths[dbID] = p
		return p
	}

	set := NewOpSet(side)

	// Snapshot side: creates, moves, edits. Node ids are the identity, so a
	// new id at a deleted id's path yields delete+create, never a move.
	for id, item := range c.snap.Items {
		if err := ctx.Err(); err != nil {
			return nil, status.Wrap(status.OperationCanceled, status.CauseNone, err)
		}
		if id == c.snap.RootID || c.blacklisted(side, id) {
			continue
		}

		snapPath, ok := c.snap.Path(id)
		if !ok {
			return nil, status.New(status.DataError, status.CauseInvalidSnapshot)
		}

		row, known := bySideID[id]
		if !known {
			set.Push(FSOperation{
				Kind:        model.OpCreate,
				NodeID:      id,
				Type:        item.Type,
				AfterPath:   snapPath,
				Size:        item.Size,
				CreatedAt:   item.CreatedAt,
				ModifiedAt:  item.ModifiedAt,
				ContentHash: item.ContentHash,
			})
			continue
		}

		if c.moved(item, row, byDbID) {
			set.Push(FSOperation{
				Kind:       model.OpMove,
				NodeID:     id,
				Type:       item.Type,
				BeforePath: dbPath(row.DbID),
				AfterPath:  snapPath,
				Size:       item.Size,
				ModifiedAt: item.ModifiedAt,
			})
		}

		// Directories have no meaningful content, so no directory edits.
		if item.Type == model.TypeFile && c.edited(item, row) {
			set.Push(FSOperation{
				Kind:        model.OpEdit,
				NodeID:      id,
				Type:        item.Type,
				AfterPath:   snapPath,
				Size:        item.Size,
				ModifiedAt:  item.ModifiedAt,
				ContentHash: item.ContentHash,
			})
		}
	}

	// DB side: deletes.
	for i := range rows {
		row := &rows[i]
		id := row.ID(side)
		if id == "" || c.blacklisted(side, id) {
			continue
		}

		if _, ok := c.snap.Items[id]; !ok {
			set.Push(FSOperation{
				Kind:       model.OpDelete,
				NodeID:     id,
				Type:       row.Type,
				BeforePath: dbPath(row.DbID),
			})
		}
	}

	logger.Log.Debug("operations computed",
		zap.String("side", string(side)),
		zap.Int("count", set.Len()))

	return set, nil
}

// moved reports whether the snapshot places the node under a different
// (parent, name) than the DB.
func (c *Computer) moved(item snapshot.Item, row *model.NodeRow, byDbID map[uint]*model.NodeRow) bool {
	if item.Name != row.Name {
		return true
	}

	if row.ParentDbID == nil {
		return item.ParentID != c.snap.RootID
	}

	parentRow, ok := byDbID[*row.ParentDbID]
	if !ok {
		return false
	}

	return item.ParentID != parentRow.ID(c.snap.Side)
}

// edited reports whether the file content indicator deviates from the DB.
func (c *Computer) edited(item snapshot.Item, row *model.NodeRow) bool {
	if item.Size != row.Size {
		return true
	}

	if item.ContentHash != "" && row.ContentHash != "" {
		return item.ContentHash != row.ContentHash
	}

	return !item.ModifiedAt.Equal(row.Modified(c.snap.Side))
}
