package memdrive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"ebbsync/internal/jobs"
	"ebbsync/internal/model"
	"ebbsync/internal/status"
	"ebbsync/internal/util"
)

type entry struct {
	item jobs.RemoteItem
	data []byte
}

type session struct {
	name     string
	parentID string
	remoteID string
	size     int64
	chunks   map[int64][]byte
}

// Drive is an in-memory remote replica implementing the full job surface.
// It backs the executor tests and serves as a loopback target.
type Drive struct {
	mu       sync.Mutex
	seq      int
	entries  map[string]*entry
	sessions map[string]*session
	changes  []jobs.Change
	rootID   string

	// Fail lets tests inject one error per spec kind; each invocation pops
	// the front of the list.
	Fail map[jobs.Kind][]error
}

func New() *Drive {
	d := &Drive{
		entries:  make(map[string]*entry),
		sessions: make(map[string]*session),
		rootID:   "root",
		Fail:     make(map[jobs.Kind][]error),
	}
	d.entries[d.rootID] = &entry{item: jobs.RemoteItem{
		ID:       d.rootID,
		Name:     ".",
		Type:     model.TypeDirectory,
		CanWrite: true,
	}}

	return d
}

func (d *Drive) RootID() string { return d.rootID }

func (d *Drive) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

func (d *Drive) popFailure(kind jobs.Kind) error {
	if errs := d.Fail[kind]; len(errs) > 0 {
		err := errs[0]
		d.Fail[kind] = errs[1:]
		return err
	}

	return nil
}

func (d *Drive) Run(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Result{}, status.Wrap(status.OperationCanceled, status.CauseNone, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.popFailure(spec.Kind); err != nil {
		return jobs.Result{}, err
	}

	switch spec.Kind {
	case jobs.CreateDir:
		return d.createDir(spec)
	case jobs.Upload:
		return d.upload(spec)
	case jobs.UploadSessionStart:
		return d.sessionStart(spec)
	case jobs.UploadSessionChunk:
		return d.sessionChunk(spec)
	case jobs.UploadSessionFinish:
		return d.sessionFinish(spec)
	case jobs.UploadSessionCancel:
		delete(d.sessions, spec.SessionID)
		return jobs.Result{}, nil
	case jobs.Download:
		return d.download(spec)
	case jobs.Move, jobs.Rename:
		return d.move(spec)
	case jobs.Delete:
		return d.delete(spec)
	case jobs.GetFileInfo:
		return d.fileInfo(spec)
	case jobs.GetFileList:
		return d.fileList(spec)
	case jobs.LongPoll:
		return jobs.Result{Cursor: strconv.Itoa(len(d.changes))}, nil
	default:
		return jobs.Result{}, status.New(status.BackError, status.CauseApiErr)
	}
}

func (d *Drive) createDir(spec jobs.Spec) (jobs.Result, error) {
	if _, ok := d.entries[spec.ParentID]; !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	item := jobs.RemoteItem{
		ID:         d.nextID("dir"),
		ParentID:   spec.ParentID,
		Name:       spec.Name,
		Type:       model.TypeDirectory,
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
		CanWrite:   true,
	}
	d.put(item, nil)

	return jobs.Result{Item: &item}, nil
}

func (d *Drive) upload(spec jobs.Spec) (jobs.Result, error) {
	data, err := os.ReadFile(spec.LocalPath)
	if err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	if spec.RemoteID != "" {
		existing, ok := d.entries[spec.RemoteID]
		if !ok {
			return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
		}

		existing.data = data
		existing.item.Size = int64(len(data))
		existing.item.ModifiedAt = time.Now()
		d.recordChange(existing.item)
		item := existing.item
		return jobs.Result{Item: &item}, nil
	}

	item := jobs.RemoteItem{
		ID:         d.nextID("file"),
		ParentID:   spec.ParentID,
		Name:       spec.Name,
		Type:       model.TypeFile,
		Size:       int64(len(data)),
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
		CanWrite:   true,
	}
	d.put(item, data)

	return jobs.Result{Item: &item}, nil
}

func (d *Drive) sessionStart(spec jobs.Spec) (jobs.Result, error) {
	id := d.nextID("session")
	d.sessions[id] = &session{
		name:     spec.Name,
		parentID: spec.ParentID,
		remoteID: spec.RemoteID,
		size:     spec.Size,
		chunks:   make(map[int64][]byte),
	}

	return jobs.Result{SessionID: id}, nil
}

func (d *Drive) sessionChunk(spec jobs.Spec) (jobs.Result, error) {
	s, ok := d.sessions[spec.SessionID]
	if !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	s.chunks[spec.ChunkIndex] = spec.Data
	return jobs.Result{SessionID: spec.SessionID}, nil
}

func (d *Drive) sessionFinish(spec jobs.Spec) (jobs.Result, error) {
	s, ok := d.sessions[spec.SessionID]
	if !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}
	delete(d.sessions, spec.SessionID)

	var data []byte
	for i := int64(0); ; i++ {
		chunk, ok := s.chunks[i]
		if !ok {
			break
		}
		data = append(data, chunk...)
	}

	if int64(len(data)) != s.size {
		return jobs.Result{}, status.New(status.BackError, status.CauseApiErr)
	}

	return d.uploadAssembled(s, data)
}

func (d *Drive) uploadAssembled(s *session, data []byte) (jobs.Result, error) {
	if s.remoteID != "" {
		existing, ok := d.entries[s.remoteID]
		if !ok {
			return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
		}

		existing.data = data
		existing.item.Size = int64(len(data))
		existing.item.ModifiedAt = time.Now()
		d.recordChange(existing.item)
		item := existing.item
		return jobs.Result{Item: &item}, nil
	}

	item := jobs.RemoteItem{
		ID:         d.nextID("file"),
		ParentID:   s.parentID,
		Name:       s.name,
		Type:       model.TypeFile,
		Size:       int64(len(data)),
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
		CanWrite:   true,
	}
	d.put(item, data)

	return jobs.Result{Item: &item}, nil
}

func (d *Drive) download(spec jobs.Spec) (jobs.Result, error) {
	e, ok := d.entries[spec.RemoteID]
	if !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	d.mu.Unlock()
	err := util.AtomicWrite(spec.LocalPath, bytes.NewReader(e.data))
	d.mu.Lock()
	if err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	item := e.item
	return jobs.Result{Item: &item}, nil
}

func (d *Drive) move(spec jobs.Spec) (jobs.Result, error) {
	e, ok := d.entries[spec.RemoteID]
	if !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	if spec.ParentID != "" {
		if _, ok := d.entries[spec.ParentID]; !ok {
			return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
		}
		e.item.ParentID = spec.ParentID
	}
	if spec.Name != "" {
		e.item.Name = spec.Name
	}
	e.item.ModifiedAt = time.Now()
	d.recordChange(e.item)

	item := e.item
	return jobs.Result{Item: &item}, nil
}

func (d *Drive) delete(spec jobs.Spec) (jobs.Result, error) {
	if _, ok := d.entries[spec.RemoteID]; !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	d.deleteRecursive(spec.RemoteID)
	return jobs.Result{}, nil
}

func (d *Drive) deleteRecursive(id string) {
	for childID, e := range d.entries {
		if e.item.ParentID == id {
			d.deleteRecursive(childID)
		}
	}

	delete(d.entries, id)
	d.changes = append(d.changes, jobs.Change{ID: id, Removed: true})
}

func (d *Drive) fileInfo(spec jobs.Spec) (jobs.Result, error) {
	e, ok := d.entries[spec.RemoteID]
	if !ok {
		return jobs.Result{}, status.New(status.BackError, status.CauseNotFound)
	}

	item := e.item
	return jobs.Result{Item: &item}, nil
}

func (d *Drive) fileList(spec jobs.Spec) (jobs.Result, error) {
	cursor := strconv.Itoa(len(d.changes))

	if spec.Cursor == "" {
		var items []jobs.RemoteItem
		for id, e := range d.entries {
			if id == d.rootID {
				continue
			}
			items = append(items, e.item)
		}

		return jobs.Result{Items: items, Cursor: cursor}, nil
	}

	from, err := strconv.Atoi(spec.Cursor)
	if err != nil || from > len(d.changes) {
		return jobs.Result{}, status.New(status.BackError, status.CauseApiErr)
	}

	changes := make([]jobs.Change, len(d.changes[from:]))
	copy(changes, d.changes[from:])

	return jobs.Result{Changes: changes, Cursor: cursor}, nil
}

func (d *Drive) put(item jobs.RemoteItem, data []byte) {
	d.entries[item.ID] = &entry{item: item, data: data}
	d.recordChange(item)
}

func (d *Drive) recordChange(item jobs.RemoteItem) {
	copied := item
	d.changes = append(d.changes, jobs.Change{ID: item.ID, Item: &copied})
}

// Put seeds the drive directly, for tests.
func (d *Drive) Put(item jobs.RemoteItem, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(item, data)
}

// Item returns a copy of one entry, for tests.
func (d *Drive) Item(id string) (jobs.RemoteItem, []byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return jobs.RemoteItem{}, nil, false
	}

	return e.item, append([]byte(nil), e.data...), true
}

// OpenSessions reports how many upload sessions are live, for tests.
func (d *Drive) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Len reports how many entries exist besides the root, for tests.
func (d *Drive) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries) - 1
}

