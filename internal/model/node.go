package model

import "time"

// NodeRow is one logical object known to both replicas. The primary key is
// the dense db id; the per-side node ids are the invariant identity and never
// change across renames, moves or edits.
type NodeRow struct {
	DbID           uint     `gorm:"primaryKey;autoIncrement"`
	SyncRootID     uint     `gorm:"index;not null"`
	ParentDbID     *uint    `gorm:"index"`
	LocalID        string   `gorm:"index"`
	RemoteID       string   `gorm:"index"`
	Name           string   `gorm:"not null"`
	Type           NodeType `gorm:"not null"`
	Size           int64
	CreatedAt      time.Time
	ModifiedLocal  time.Time
	ModifiedRemote time.Time
	ContentHash    string
}

func (r *NodeRow) ID(side ReplicaSide) string {
	if side == SideLocal {
		return r.LocalID
	}

	return r.RemoteID
}

func (r *NodeRow) Modified(side ReplicaSide) time.Time {
	if side == SideLocal {
		return r.ModifiedLocal
	}

	return r.ModifiedRemote
}

// SyncNodeRow is one member of a DB-backed sync-node set.
type SyncNodeRow struct {
	ID         uint         `gorm:"primaryKey;autoIncrement"`
	SyncRootID uint         `gorm:"index;not null"`
	Type       SyncNodeType `gorm:"index;not null"`
	Side       ReplicaSide  `gorm:"not null"`
	NodeID     string       `gorm:"not null"`
}

// NodeErrorRow persists per-node failure counts across passes so that nodes
// failing repeatedly can be excluded for a while.
type NodeErrorRow struct {
	ID             uint        `gorm:"primaryKey;autoIncrement"`
	SyncRootID     uint        `gorm:"index;not null"`
	Side           ReplicaSide `gorm:"not null"`
	NodeID         string      `gorm:"index;not null"`
	Count          int         `gorm:"not null"`
	SkipPasses     int         `gorm:"not null"`
	LastErrorAt    time.Time
	LastErrorCause string
}
