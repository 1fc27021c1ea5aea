package jobs

import (
	"context"
	"time"

	"ebbsync/internal/model"
)

// Kind enumerates the request variants the network layer supports.
type Kind int

const (
	CreateDir Kind = iota
	Upload
	UploadSessionStart
	UploadSessionChunk
	UploadSessionFinish
	UploadSessionCancel
	Download
	Move
	Rename
	Delete
	GetFileInfo
	GetFileList
	LongPoll
)

func (k Kind) String() string {
	switch k {
	case CreateDir:
		return "CreateDir"
	case Upload:
		return "Upload"
	case UploadSessionStart:
		return "UploadSessionStart"
	case UploadSessionChunk:
		return "UploadSessionChunk"
	case UploadSessionFinish:
		return "UploadSessionFinish"
	case UploadSessionCancel:
		return "UploadSessionCancel"
	case Download:
		return "Download"
	case Move:
		return "Move"
	case Rename:
		return "Rename"
	case Delete:
		return "Delete"
	case GetFileInfo:
		return "GetFileInfo"
	case GetFileList:
		return "GetFileList"
	case LongPoll:
		return "LongPoll"
	default:
		return "Unknown"
	}
}

// RemoteItem is one object as reported by the remote drive.
type RemoteItem struct {
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

// Change is one entry of a change feed page.
type Change struct {
	ID      string
	Removed bool
	Item    *RemoteItem
}

// Spec describes one request. Which fields matter depends on Kind.
type Spec struct {
	Kind     Kind
	Priority int

	RemoteID  string
	ParentID  string
	Name      string
	LocalPath string
	Size      int64
	ModTime   time.Time

	SessionID  string
	ChunkIndex int64
	ChunkCount int64
	ChunkSize  int64
	Data       []byte

	Cursor string
}

// Result is the typed outcome of a successful job.
type Result struct {
	Item      *RemoteItem
	Items     []RemoteItem
	Changes   []Change
	Cursor    string
	SessionID string
}

// Runner executes one request against a concrete drive backend. Errors carry
// a status code/cause pair; see the status package.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}
