package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ebbsync/internal/auth"
	"ebbsync/internal/jobs"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/status"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Runner executes jobs against Google Drive. The change feed maps onto the
// Drive changes API with its page token as the cursor.
type Runner struct {
	svc      *drive.Service
	rootID   string
	metaCache *lru.Cache[string, *drive.File]
}

// NewRunner resolves (and creates if needed) the remote folder path and
// returns a runner rooted there.
func NewRunner(ctx context.Context, folderPath string) (*Runner, error) {
	svc, err := auth.GDrive.NewService(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, *drive.File](4096)
	if err != nil {
		return nil, err
	}

	r := &Runner{svc: svc, metaCache: cache}

	rootID, err := r.ensureFolderPath(folderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare gdrive folder: %w", err)
	}
	r.rootID = rootID

	logger.Log.Info("gdrive runner ready",
		zap.String("folder", folderPath),
		zap.String("folder_id", rootID))

	return r, nil
}

func (r *Runner) RootID() string { return r.rootID }

func (r *Runner) Run(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	switch spec.Kind {
	case jobs.CreateDir:
		return r.createDir(ctx, spec)
	case jobs.Upload:
		return r.upload(ctx, spec)
	case jobs.UploadSessionStart:
		return r.sessionStart(spec)
	case jobs.UploadSessionChunk:
		return r.sessionChunk(spec)
	case jobs.UploadSessionFinish:
		return r.sessionFinish(ctx, spec)
	case jobs.UploadSessionCancel:
		return r.sessionCancel(spec)
	case jobs.Download:
		return r.download(ctx, spec)
	case jobs.Move, jobs.Rename:
		return r.move(ctx, spec)
	case jobs.Delete:
		return r.delete(ctx, spec)
	case jobs.GetFileInfo:
		return r.fileInfo(ctx, spec)
	case jobs.GetFileList:
		return r.fileList(ctx, spec)
	case jobs.LongPoll:
		// The Drive API has no long poll; pacing comes from the observer.
		return jobs.Result{Cursor: spec.Cursor}, nil
	default:
		return jobs.Result{}, status.New(status.BackError, status.CauseApiErr)
	}
}

func (r *Runner) createDir(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	f := &drive.File{
		Name:     spec.Name,
		MimeType: folderMimeType,
		Parents:  []string{spec.ParentID},
	}

	created, err := r.svc.Files.Create(f).Context(ctx).
		Fields("id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum").Do()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := r.toItem(created, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) upload(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	f, err := os.Open(spec.LocalPath)
	if err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	fields := googleapi.Field("id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum")

	if spec.RemoteID != "" {
		updated, err := r.svc.Files.Update(spec.RemoteID, &drive.File{}).
			Context(ctx).Media(f).Fields(fields).Do()
		if err != nil {
			return jobs.Result{}, classify(err)
		}

		item := r.toItem(updated, "")
		return jobs.Result{Item: &item}, nil
	}

	created, err := r.svc.Files.Create(&drive.File{
		Name:    spec.Name,
		Parents: []string{spec.ParentID},
	}).Context(ctx).Media(f).Fields(fields).Do()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	item := r.toItem(created, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) download(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	resp, err := r.svc.Files.Get(spec.RemoteID).Context(ctx).Download()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	defer func(body interface{ Close() error }) {
		_ = body.Close()
	}(resp.Body)

	if err := writeFile(spec.LocalPath, resp.Body); err != nil {
		return jobs.Result{}, status.Wrap(status.SystemError, status.CauseFileAccessError, err)
	}

	return jobs.Result{}, nil
}

func (r *Runner) move(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	current, err := r.svc.Files.Get(spec.RemoteID).Context(ctx).Fields("parents").Do()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	call := r.svc.Files.Update(spec.RemoteID, &drive.File{Name: spec.Name}).Context(ctx).
		Fields("id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum")
	if spec.ParentID != "" {
		call = call.AddParents(spec.ParentID).RemoveParents(strings.Join(current.Parents, ","))
	}

	updated, err := call.Do()
	if err != nil {
		return jobs.Result{}, classify(err)
	}

	r.metaCache.Remove(spec.RemoteID)
	item := r.toItem(updated, spec.ParentID)
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) delete(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	if err := r.svc.Files.Delete(spec.RemoteID).Context(ctx).Do(); err != nil {
		return jobs.Result{}, classify(err)
	}

	r.metaCache.Remove(spec.RemoteID)
	return jobs.Result{}, nil
}

func (r *Runner) fileInfo(ctx context.Context, spec jobs.Spec) (jobs.Result, error) {
	f, err := r.getFile(ctx, spec.RemoteID)
	if err != nil {
		return jobs.Result{}, err
	}

	item := r.toItem(f, "")
	return jobs.Result{Item: &item}, nil
}

func (r *Runner) getFile(ctx context.Context, id string) (*drive.File, error) {
	if f, ok := r.metaCache.Get(id); ok {
		return f, nil
	}

	f, err := r.svc.Files.Get(id).Context(ctx).
		Fields("id, name, parents, mimeType, size, createdTime, modifiedTime, md5Checksum, capabilities(canEdit)").Do()
	if err != nil {
		return nil, classify(err)
	}

	r.metaCache.Add(id, f)
	return f, nil
}

func (r *Runner) ensureFolderPath(folderPath string) (string, error) {
	parts := splitPath(folderPath)
	if len(parts) == 0 {
		return "root", nil
	}

	parentID := "root"
	for _, part := range parts {
		id, err := r.findFolder(part, parentID)
		if err != nil {
			return "", err
		}

		if id == "" {
			f := &drive.File{
				Name:     part,
				MimeType: folderMimeType,
				Parents:  []string{parentID},
			}
			created, err := r.svc.Files.Create(f).Fields("id").Do()
			if err != nil {
				return "", fmt.Errorf("failed to create folder %s: %w", part, err)
			}
			id = created.Id
		}

		parentID = id
	}

	return parentID, nil
}

func (r *Runner) findFolder(name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		escapeName(name), parentID, folderMimeType)

	list, err := r.svc.Files.List().Q(q).Fields("files(id)").Do()
	if err != nil {
		return "", classify(err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}

	return list.Files[0].Id, nil
}

func (r *Runner) toItem(f *drive.File, parentID string) jobs.RemoteItem {
	if parentID == "" && len(f.Parents) > 0 {
		parentID = f.Parents[0]
	}

	item := jobs.RemoteItem{
		ID:          f.Id,
		ParentID:    parentID,
		Name:        f.Name,
		Type:        model.TypeFile,
		Size:        f.Size,
		ContentHash: f.Md5Checksum,
		CanWrite:    f.Capabilities == nil || f.Capabilities.CanEdit,
	}
	if f.MimeType == folderMimeType {
		item.Type = model.TypeDirectory
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		item.ModifiedAt = t
	}

	return item
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}

	return strings.Split(p, "/")
}

func escapeName(name string) string {
	return strings.ReplaceAll(name, "'", "\\'")
}

// classify maps a Drive API error onto the pipeline's (code, cause) pair.
func classify(err error) error {
	apiErr, ok := asType[*googleapi.Error](err)
	if !ok {
		return status.Wrap(status.NetworkError, status.CauseNone, err)
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return status.Wrap(status.InvalidToken, status.CauseNone, err)
	case http.StatusNotFound:
		return status.Wrap(status.BackError, status.CauseNotFound, err)
	case http.StatusTooManyRequests:
		return status.Wrap(status.RateLimited, status.CauseNone, err)
	case http.StatusForbidden:
		for _, e := range apiErr.Errors {
			if strings.Contains(e.Reason, "rateLimit") {
				return status.Wrap(status.RateLimited, status.CauseNone, err)
			}
			if strings.Contains(e.Reason, "quota") || strings.Contains(e.Reason, "storageQuota") {
				return status.Wrap(status.BackError, status.CauseQuotaExceeded, err)
			}
		}
		return status.Wrap(status.BackError, status.CauseApiErr, err)
	case http.StatusRequestEntityTooLarge:
		return status.Wrap(status.BackError, status.CauseFileTooBig, err)
	default:
		if apiErr.Code >= 500 {
			return status.Wrap(status.NetworkError, status.CauseNone, err)
		}
		return status.Wrap(status.BackError, status.CauseApiErr, err)
	}
}

// asType is a stand-in for errors.AsType (not yet available in this Go toolchain).
func asType[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
