package model

import "time"

type EventType string

const (
	EventTypeCreate EventType = "CREATE"
	EventTypeWrite  EventType = "WRITE"
	EventTypeRemove EventType = "REMOVE"
	EventTypeRename EventType = "RENAME"
)

// FileEvent is one raw filesystem notification before it reaches a snapshot.
type FileEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}
