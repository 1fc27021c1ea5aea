package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"ebbsync/internal/jobs"
	"ebbsync/internal/status"
	"ebbsync/internal/util"

	"google.golang.org/api/drive/v3"
)

// fileList serves the snapshot listing: with no cursor a full recursive
// listing under the sync folder plus a fresh change cursor, with a cursor
// the pages of the Drive changes feed since it.
func (r *Runner) fileList(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	if spec.Cursor == "" {
		return r.fullListing(ctx)
	}

	return r.changesSince(ctx, spec.Cursor)
}

func (r *Runner) fullListing(ctx context.Context) (jobs.Result, error) {
	start, err := r.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	var items []jobs.RemoteItem
	if err := r.listRecursive(ctx, r.rootID, &items); err != nil {
		return jobs.Result{}, err
	}

	return jobs.Result{Items: items, Cursor: start.StartPageToken}, nil
}

func (r *Runner) listRecursive(ctx context.Context, folderID string, out *[]jobs.RemoteItem) error {
	q := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	pageToken := ""

	for {
		call := r.svc.Files.List().Context(ctx).Q(q).
			Fields("nextPageToken, files(id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum, capabilities(canEdit))").
			PageSize(1000)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return classify(err)
		}

		for _, f := range list.Files {
			item := r.toItem(f, folderID)
			if folderID == r.rootID {
				item.ParentID = r.rootID
			}
			*out = append(*out, item)

			if f.MimeType == folderMimeType {
				if err := r.listRecursive(ctx, f.Id, out); err != nil {
					return err
				}
			}
		}

		if list.NextPageToken == "" {
			return nil
		}
		pageToken = list.NextPageToken
	}
}

func (r *Runner) changesSince(ctx context.Context, cursor string) (jobs.Result, error) {
	var changes []jobs.Change
	pageToken := cursor

	for {
		resp, err := r.svc.Changes.List(pageToken).Context(ctx).
			Fields("nextPageToken, newStartPageToken, changes(fileId, removed, file(id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum, trashed, capabilities(canEdit)))").
			Do()
		if err != nil {
			return jobs.Result{}, classify(err)
		}

		for _, change := range resp.Changes {
			changes = append(changes, r.toChange(change))
		}

		if resp.NextPageToken != "" {
			pageToken = resp.NextPageToken
			continue
		}

		return jobs.Result{Changes: changes, Cursor: resp.NewStartPageToken}, nil
	}
}

func (r *Runner) toChange(change *drive.Change) jobs.Change {
	if change.Removed || change.File == nil || change.File.Trashed {
		return jobs.Change{ID: change.FileId, Removed: true}
	}

	item := r.toItem(change.File, "")
	return jobs.Change{ID: change.FileId, Item: &item}
}

// Drive has no public chunk protocol at this SDK level, so an upload
// session spools chunks to a temp file and ships it whole on finish. Chunk
// retries and cancellation still behave as the executor expects.
type bufferedSession struct {
	path     string
	name     string
	parentID string
	remoteID string
	size     int64
}

var (
	sessionsMu sync.Mutex
	sessions   = make(map[string]*bufferedSession)
	sessionSeq int
)

func (r *Runner) sessionStart(spec jobs.Spec) (jobs.Result, error) {
	dir := filepath.Join(os.TempDir(), "ebbsync-upload")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	sessionsMu.Lock()
	sessionSeq++
	id := fmt.Sprintf("gdrive-session-%d", sessionSeq)
	s := &bufferedSession{
		path:     filepath.Join(dir, id),
		name:     spec.Name,
		parentID: spec.ParentID,
		remoteID: spec.RemoteID,
		size:     spec.Size,
	}
	sessions[id] = s
	sessionsMu.Unlock()

	if err := os.WriteFile(s.path, nil, 0600); err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return jobs.Result{SessionID: id}, nil
}

func (r *Runner) sessionChunk(spec jobs.Spec) (jobs.Result, error) {
	s, err := lookupSession(spec.SessionID)
	if err != nil {
		return jobs.Result{}, err
	}

	f, ferr := os.OpenFile(s.path, os.O_WRONLY, 0600)
	if ferr != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, ferr)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	full := spec.ChunkSize
	if full == 0 {
		full = int64(len(spec.Data))
	}

	if _, err := f.WriteAt(spec.Data, spec.ChunkIndex*full); err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return jobs.Result{SessionID: spec.SessionID}, nil
}

func (r *Runner) sessionFinish(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	s, err := lookupSession(spec.SessionID)
	if err != nil {
		return jobs.Result{}, err
	}

	defer func() {
		sessionsMu.Lock()
		delete(sessions, spec.SessionID)
		sessionsMu.Unlock()
		_ = os.Remove(s.path)
	}()

	return r.upload(ctx, jobs.Spec{
		Kind:      jobs.Upload,
		Name:      s.name,
		ParentID:  s.parentID,
		RemoteID:  s.remoteID,
		LocalPath: s.path,
		Size:      s.size,
	})
}

func (r *Runner) sessionCancel(spec jobs.Spec) (jobs.Result, error) {
	sessionsMu.Lock()
	s, ok := sessions[spec.SessionID]
	delete(sessions, spec.SessionID)
	sessionsMu.Unlock()

	if ok {
		_ = os.Remove(s.path)
	}

	return jobs.Result{}, nil
}

func lookupSession(id string) (*bufferedSession, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	s, ok := sessions[id]
	if !ok {
		return nil, status.New(status.BackError, status.CauseNotFound)
	}

	return s, nil
}

func writeFile(path string, r io.Reader) error {
	return util.AtomicWrite(path, r)
}
