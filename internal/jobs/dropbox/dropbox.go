package dropbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"ebbsync/internal/auth"
	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/status"
	"ebbsync/internal/util"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"go.uber.org/zap"
)

// Runner executes jobs against Dropbox. Upload sessions map directly onto
// the Dropbox session API (start, append, finish, no-commit abandon); the
// change feed onto list_folder cursors with longpoll.
type Runner struct {
	client     files.Client
	folderPath string
	rootID     string
}

func NewRunner(folderPath string) (*Runner, error) {
	client, err := auth.Dropbox.NewClient()
	if err != nil {
		return nil, err
	}

	folderPath = normalizePath(folderPath)
	rootID, err := ensureFolder(client, folderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dropbox folder: %w", err)
	}

	logger.Log.Info("dropbox runner ready",
		zap.String("folder", folderPath),
		zap.String("folder_id", rootID))

	return &Runner{client: client, folderPath: folderPath, rootID: rootID}, nil
}

func (r *Runner) RootID() string { return r.rootID }

func (r *Runner) Run(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Result{}, status.Wrap(status.OperationCanceled, status.CauseNone, err)
	}

	switch spec.Kind {
	case jobs.CreateDir:
		return r.createDir(spec)
	case jobs.Upload:
		return r.upload(spec)
	case jobs.UploadSessionStart:
		return r.sessionStart()
	case jobs.UploadSessionChunk:
		return r.sessionChunk(spec)
	case jobs.UploadSessionFinish:
		return r.sessionFinish(spec)
	case jobs.UploadSessionCancel:
		// Dropbox sessions expire server-side when never finished; there is
		// nothing to tear down explicitly.
		return jobs.Result{}, nil
	case jobs.Download:
		return r.download(spec)
	case jobs.Move, jobs.Rename:
		return r.move(spec)
	case jobs.Delete:
		return r.delete(spec)
	case jobs.GetFileInfo:
		return r.fileInfo(spec)
	case jobs.GetFileList:
		return r.fileList(spec)
	case jobs.LongPoll:
		return r.longPoll(spec)
	default:
		return jobs.Result{}, status.New(status.BackError, status.CauseApiErr)
	}
}

func (r *Runner) createDir(spec jobs.Spec) (jobs.Result, error) {
	parentPath, err := r.pathOf(spec.ParentID)
	if err != nil {
		return jobs.Result{}, err
	}

	res, err := r.client.CreateFolderV2(files.NewCreateFolderArg(parentPath + "/" + spec.Name))
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := folderToItem(res.Metadata, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) upload(spec jobs.Spec) (jobs.Result, error) {
	f, err := os.Open(spec.LocalPath)
	if err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	target := spec.RemoteID
	if target == "" {
		parentPath, err := r.pathOf(spec.ParentID)
		if err != nil {
			return jobs.Result{}, err
		}
		target = parentPath + "/" + spec.Name
	}

	arg := files.NewUploadArg(target)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: "overwrite"}}
	arg.Autorename = false

	meta, err := r.client.Upload(arg, f)
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := fileToItem(meta, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) sessionStart() (jobs.Result, error) {
	res, err := r.client.UploadSessionStart(files.NewUploadSessionStartArg(), bytes.NewReader(nil))
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	return jobs.Result{SessionID: res.SessionId}, nil
}

func (r *Runner) sessionChunk(spec jobs.Spec) (jobs.Result, error) {
	full := spec.ChunkSize
	if full == 0 {
		full = int64(len(spec.Data))
	}

	cursor := files.NewUploadSessionCursor(spec.SessionID, uint64(spec.ChunkIndex*full))
	arg := files.NewUploadSessionAppendArg(cursor)

	if err := r.client.UploadSessionAppendV2(arg, bytes.NewReader(spec.Data)); err != nil {
		return jobs.Result{}, classify(err)
	}

	return jobs.Result{SessionID: spec.SessionID}, nil
}

func (r *Runner) sessionFinish(spec jobs.Spec) (jobs.Result, error) {
	target := spec.RemoteID
	if target == "" {
		parentPath, err := r.pathOf(spec.ParentID)
		if err != nil {
			return jobs.Result{}, err
		}
		target = parentPath + "/" + spec.Name
	}

	cursor := files.NewUploadSessionCursor(spec.SessionID, uint64(spec.Size))
	commit := files.NewCommitInfo(target)
	commit.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: "overwrite"}}
	commit.Autorename = false

	meta, err := r.client.UploadSessionFinish(files.NewUploadSessionFinishArg(cursor, commit), nil)
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := fileToItem(meta, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) download(spec jobs.Spec) (jobs.Result, error) {
	_, content, err := r.client.Download(files.NewDownloadArg(spec.RemoteID))
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	defer func(body interface{ Close() error }) {
		_ = body.Close()
	}(content)

	if err := util.AtomicWrite(spec.LocalPath, content); err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return jobs.Result{}, nil
}

func (r *Runner) move(spec jobs.Spec) (jobs.Result, error) {
	fromPath, err := r.pathOf(spec.RemoteID)
	if err != nil {
		return jobs.Result{}, err
	}

	toParent, err := r.pathOf(spec.ParentID)
	if err != nil {
		return jobs.Result{}, err
	}

	name := spec.Name
	if name == "" {
		parts := strings.Split(fromPath, "/")
		name = parts[len(parts)-1]
	}

	arg := files.NewRelocationArg(fromPath, toParent+"/"+name)
	res, err := r.client.MoveV2(arg)
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := metadataToItem(res.Metadata, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) delete(spec jobs.Spec) (jobs.Result, error) {
	target, err := r.pathOf(spec.RemoteID)
	if err != nil {
		return jobs.Result{}, err
	}

	if _, err := r.client.DeleteV2(files.NewDeleteArg(target)); err != nil {
		if isNotFound(err) {
			return jobs.Result{}, nil
		}

		return jobs.Result{}, classify(err)
	}

	return jobs.Result{}, nil
}

func (r *Runner) fileInfo(spec jobs.Spec) (jobs.Result, error) {
	meta, err := r.client.GetMetadata(files.NewGetMetadataArg(spec.RemoteID))
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := metadataToItem(meta, "")
	return jobs.Result{Item: &item}, nil
}

// pathOf resolves an id to its current display path; the sync root id maps
// to the configured folder.
func (r *Runner) pathOf(id string) (string, error) {
	if id == "" || id == r.rootID {
		return r.folderPath, nil
	}

	meta, err := r.client.GetMetadata(files.NewGetMetadataArg(id))
	if err != nil {
		return "", classify(err)
	}

	switch m := meta.(type) {
	case *files.FileMetadata:
		return m.PathDisplay, nil
	case *files.FolderMetadata:
		return m.PathDisplay, nil
	default:
		return "", status.New(status.BackError, status.CauseNotFound)
	}
}

func normalizePath(p string) string {
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return ""
	}

	return p
}

func ensureFolder(client files.Client, folderPath string) (string, error) {
	if folderPath == "" {
		return "", nil
	}

	meta, err := client.GetMetadata(files.NewGetMetadataArg(folderPath))
	if err == nil {
		if folder, ok := meta.(*files.FolderMetadata); ok {
			return folder.Id, nil
		}
		return "", fmt.Errorf("%s exists and is not a folder", folderPath)
	}

	res, err := client.CreateFolderV2(files.NewCreateFolderArg(folderPath))
	if err != nil {
		return "", classify(err)
	}

	return res.Metadata.Id, nil
}

func fileToItem(meta *files.FileMetadata, parentID string) jobs.RemoteItem {
	return jobs.RemoteItem{
		ID:          meta.Id,
		ParentID:    parentID,
		Name:        meta.Name,
		Type:        model.TypeFile,
		Size:        int64(meta.Size),
		ModifiedAt:  meta.ServerModified,
		CreatedAt:   meta.ClientModified,
		ContentHash: meta.ContentHash,
		CanWrite:    true,
	}
}

func folderToItem(meta *files.FolderMetadata, parentID string) jobs.RemoteItem {
	return jobs.RemoteItem{
		ID:       meta.Id,
		ParentID: parentID,
		Name:     meta.Name,
		Type:     model.TypeDirectory,
		CanWrite: true,
	}
}

func metadataToItem(meta files.IsMetadata, parentID string) jobs.RemoteItem {
	switch m := meta.(type) {
	case *files.FileMetadata:
		return fileToItem(m, parentID)
	case *files.FolderMetadata:
		return folderToItem(m, parentID)
	default:
		return jobs.RemoteItem{}
	}
}
