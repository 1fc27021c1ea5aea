package vfs

import (
	"time"

	"ebbsync/internal/model"
)

type PinState string

const (
	PinAlwaysLocal PinState = "ALWAYS_LOCAL"
	PinOnlineOnly  PinState = "ONLINE_ONLY"
	PinInherited   PinState = "INHERITED"
)

// Status describes a path's placeholder state.
type Status struct {
	Placeholder bool
	Hydrated    bool
	Syncing     bool
	Progress    int
}

// Item carries the metadata a placeholder needs without the file bytes.
type Item struct {
	RemoteID   string
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Vfs is the virtual-file capability consumed by the executor and observer.
// Implementations are platform-specific and injected at construction.
type Vfs interface {
	Mode() model.VfsMode
	CreatePlaceholder(relPath string, item Item) error
	ConvertToPlaceholder(path string, item Item) (needRestart bool, err error)
	Dehydrate(path string) error
	IsDehydrated(path string) (bool, error)
	Status(path string) (Status, error)
	SetPinState(relPath string, state PinState) error
	PinState(relPath string) (PinState, error)
	ForceStatus(path string, syncing bool, progress int, hydrated bool) error
	UpdateMetadata(path string, created, modified time.Time, size int64, remoteID string) error
}

// Off is the non-virtual variant: every operation trivially succeeds.
type Off struct{}

func (Off) Mode() model.VfsMode { return model.VfsOff }

func (Off) CreatePlaceholder(string, Item) error { return nil }

func (Off) ConvertToPlaceholder(string, Item) (bool, error) { return false, nil }

func (Off) Dehydrate(string) error { return nil }

func (Off) IsDehydrated(string) (bool, error) { return false, nil }

func (Off) Status(string) (Status, error) { return Status{Hydrated: true}, nil }

func (Off) SetPinState(string, PinState) error { return nil }

func (Off) PinState(string) (PinState, error) { return PinInherited, nil }

func (Off) ForceStatus(string, bool, int, bool) error { return nil }

func (Off) UpdateMetadata(string, time.Time, time.Time, int64, string) error { return nil }
