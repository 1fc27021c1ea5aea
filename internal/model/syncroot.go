package model

import (
	"time"

	"gorm.io/gorm"
)

type RootStatus string

const (
	RootStatusActive  RootStatus = "ACTIVE"
	RootStatusPaused  RootStatus = "PAUSED"
	RootStatusStopped RootStatus = "STOPPED"
)

type ProviderType string

const (
	ProviderGDrive  ProviderType = "GDRIVE"
	ProviderDropbox ProviderType = "DROPBOX"
	ProviderMemory  ProviderType = "MEMORY"
)

// SyncRoot pairs a local subtree with a remote drive subtree.
type SyncRoot struct {
	gorm.Model
	LocalPath   string       `gorm:"not null"`
	RemotePath  string       `gorm:"not null"`
	Provider    ProviderType `gorm:"not null;default:'GDRIVE'"`
	Status      RootStatus   `gorm:"not null;default:'ACTIVE'"`
	VfsMode     VfsMode      `gorm:"not null;default:'OFF'"`
	MoveToTrash bool         `gorm:"not null;default:true"`
}

type PassOutcome string

const (
	PassSuccess PassOutcome = "SUCCESS"
	PassFailed  PassOutcome = "FAILED"
)

// History is one executed sync operation, kept for the history command.
type History struct {
	gorm.Model
	SyncRootID uint        `gorm:"index;not null"`
	OpKind     OpKind      `gorm:"not null"`
	TargetSide ReplicaSide `gorm:"not null"`
	Path       string      `gorm:"not null"`
	Outcome    PassOutcome `gorm:"not null"`
	ErrMsg     string
	SyncedAt   time.Time `gorm:"not null"`
}

// RootSnapshot is the status view of one running sync root.
type RootSnapshot struct {
	RootID    uint       `json:"root_id"`
	LocalPath string     `json:"local_path"`
	Remote    string     `json:"remote"`
	Status    RootStatus `json:"status"`
	Step      string     `json:"step"`
	StartedAt time.Time  `json:"started_at"`
	Synced    int        `json:"synced"`
	Failed    int        `json:"failed"`
	LastPass  *time.Time `json:"last_pass"`
}
