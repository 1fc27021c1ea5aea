package dropbox

import (
	"path"
	"strings"

	"ebbsync/internal/jobs"
	"ebbsync/internal/status"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
)

// fileList serves the snapshot listing: a full recursive list_folder with a
// fresh cursor when none is given, list_folder/continue pages otherwise.
func (r *Runner) fileList(spec jobs.Spec) (jobs.Result, error) {
	if spec.Cursor == "" {
		return r.fullListing()
	}

	return r.changesSince(spec.Cursor)
}

func (r *Runner) fullListing() (jobs.Result, error) {
	arg := files.NewListFolderArg(r.folderPath)
	arg.Recursive = true

	res, err := r.client.ListFolder(arg)
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	var items []jobs.RemoteItem
	index := newPathIndex(r.folderPath, r.rootID)

	for {
		for _, meta := range res.Entries {
			if item, ok := index.toItem(meta); ok {
				items = append(items, item)
			}
		}

		if !res.HasMore {
			return jobs.Result{Items: items, Cursor: res.Cursor}, nil
		}

		res, err = r.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return jobs.Result{}, classify(err)
		}
	}
}

func (r *Runner) changesSince(cursor string) (jobs.Result, error) {
	var changes []jobs.Change
	index := newPathIndex(r.folderPath, r.rootID)

	res, err := r.client.ListFolderContinue(files.NewListFolderContinueArg(cursor))
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	for {
		for _, meta := range res.Entries {
			if deleted, ok := meta.(*files.DeletedMetadata); ok {
				changes = append(changes, jobs.Change{ID: deleted.PathLower, Removed: true})
				continue
			}

			if item, ok := index.toItem(meta); ok {
				copied := item
				changes = append(changes, jobs.Change{ID: item.ID, Item: &copied})
			}
		}

		if !res.HasMore {
			return jobs.Result{Changes: changes, Cursor: res.Cursor}, nil
		}

		res, err = r.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return jobs.Result{}, classify(err)
		}
	}
}

func (r *Runner) longPoll(spec jobs.Spec) (jobs.Result, error) {
	if spec.Cursor == "" {
		return jobs.Result{}, nil
	}

	arg := files.NewListFolderLongpollArg(spec.Cursor)
	arg.Timeout = 30

	if _, err := r.client.ListFolderLongpoll(arg); err != nil {
		return jobs.Result{}, classify(err)
	}

	return jobs.Result{Cursor: spec.Cursor}, nil
}

// pathIndex resolves parent ids from the lowercase paths Dropbox reports,
// folding listing order into an id-by-path map.
type pathIndex struct {
	rootPath string
	idByPath map[string]string
}

func newPathIndex(rootPath, rootID string) *pathIndex {
	return &pathIndex{
		rootPath: strings.ToLower(rootPath),
		idByPath: map[string]string{strings.ToLower(rootPath): rootID},
	}
}

func (x *pathIndex) toItem(meta files.IsMetadata) (jobs.RemoteItem, bool) {
	switch m := meta.(type) {
	case *files.FileMetadata:
		item := fileToItem(m, x.parentOf(m.PathLower))
		return item, true
	case *files.FolderMetadata:
		x.idByPath[m.PathLower] = m.Id
		item := folderToItem(m, x.parentOf(m.PathLower))
		return item, true
	default:
		return jobs.RemoteItem{}, false
	}
}

func (x *pathIndex) parentOf(lower string) string {
	parent := path.Dir(lower)
	if id, ok := x.idByPath[parent]; ok {
		return id
	}

	return ""
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not_found")
}

// classify maps a Dropbox API error onto the pipeline's (code, cause) pair.
func classify(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "too_many_requests") || strings.Contains(msg, "too_many_write_operations"):
		return status.Wrap(status.RateLimited, status.CauseNone, err)
	case strings.Contains(msg, "expired_access_token") || strings.Contains(msg, "invalid_access_token"):
		return status.Wrap(status.InvalidToken, status.CauseNone, err)
	case strings.Contains(msg, "not_found"):
		return status.Wrap(status.BackError, status.CauseNotFound, err)
	case strings.Contains(msg, "insufficient_space"):
		return status.Wrap(status.BackError, status.CauseQuotaExceeded, err)
	case strings.Contains(msg, "conflict"):
		return status.Wrap(status.BackError, status.CauseFileAlreadyExist, err)
	case strings.Contains(msg, "malformed_path") || strings.Contains(msg, "disallowed_name"):
		return status.Wrap(status.BackError, status.CauseInvalidName, err)
	default:
		return status.Wrap(status.NetworkError, status.CauseNone, err)
	}
}
