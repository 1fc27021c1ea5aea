package observer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/pipeline"
	"ebbsync/internal/snapshot"
	"ebbsync/internal/util"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LocalObserver keeps a live snapshot of the local replica from fsnotify
// events, after an initial full scan.
type LocalObserver struct {
	root    string
	snap    *snapshot.Snapshot
	ignore  []string
	fw      *fsnotify.Watcher
	eventCh chan model.FileEvent
	doneCh  chan struct{}
}

func NewLocalObserver(root string, bufferSize int, ignore []string) (*LocalObserver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("sync root not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sync root is not a directory: %s", absRoot)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &LocalObserver{
		root:    absRoot,
		snap:    snapshot.New(model.SideLocal, util.LocalNodeID(info)),
		ignore:  ignore,
		fw:      fw,
		eventCh: make(chan model.FileEvent, bufferSize),
		doneCh:  make(chan struct{}),
	}, nil
}

func (o *LocalObserver) Snapshot() *snapshot.Snapshot { return o.snap }

func (o *LocalObserver) Root() string { return o.root }

func (o *LocalObserver) Start() error {
	if err := o.rescan(); err != nil {
		return err
	}

	go o.watch()
	go o.apply(pipeline.Filter(pipeline.Debounce(o.eventCh, 100*time.Millisecond), o.ignore))

	logger.Log.Info("local observer started",
		zap.String("root", o.root))
	return nil
}

func (o *LocalObserver) Stop() {
	close(o.doneCh)
	_ = o.fw.Close()
}

// Rescan rebuilds the live snapshot from scratch. Called by the supervisor
// after the snapshot was invalidated.
func (o *LocalObserver) Rescan() error {
	o.snap.Reset()
	return o.rescan()
}

func (o *LocalObserver) rescan() error {
	err := filepath.WalkDir(o.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(o.root, path)
		if relErr != nil {
			return relErr
		}
		if rel != "." && pipeline.ShouldIgnore(rel, o.ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if util.IsTmpFile(path) {
			return nil
		}

		if d.IsDir() {
			if err := o.fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}

		if rel == "." {
			return nil
		}

		return o.upsertPath(path)
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", o.root, err)
	}

	o.snap.SetValid()
	return nil
}

func (o *LocalObserver) watch() {
	defer close(o.eventCh)

	for {
		select {
		case <-o.doneCh:
			return

		case fsEvent, ok := <-o.fw.Events:
			if !ok {
				return
			}

			eventType := toEventType(fsEvent.Op)
			if eventType == "" || util.IsTmpFile(fsEvent.Name) {
				continue
			}

			if fsEvent.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
					if err := o.fw.Add(fsEvent.Name); err != nil {
						logger.Log.Warn("failed to watch new directory",
							zap.String("path", fsEvent.Name),
							zap.Error(err))
					}
				}
			}

			event := model.FileEvent{
				Type:      eventType,
				Path:      fsEvent.Name,
				Timestamp: time.Now(),
			}

			select {
			case o.eventCh <- event:
			default:
				logger.Log.Warn("event channel full, snapshot invalidated",
					zap.String("path", fsEvent.Name))
				o.snap.Invalidate()
			}

		case err, ok := <-o.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error, snapshot invalidated",
				zap.Error(err))
			o.snap.Invalidate()
		}
	}
}

func (o *LocalObserver) apply(inCh <-chan model.FileEvent) {
	for event := range inCh {
		switch event.Type {
		case model.EventTypeCreate, model.EventTypeWrite:
			if err := o.upsertPath(event.Path); err != nil {
				if os.IsNotExist(err) {
					o.removePath(event.Path)
					continue
				}

				logger.Log.Warn("failed to apply event, snapshot invalidated",
					zap.String("path", event.Path),
					zap.Error(err))
				o.snap.Invalidate()
			}

		case model.EventTypeRemove, model.EventTypeRename:
			// fsnotify reports only the old path of a rename; the new path
			// arrives as a separate create event.
			o.removePath(event.Path)
		}
	}
}

func (o *LocalObserver) upsertPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	parentInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return err
	}

	item := snapshot.Item{
		ID:         util.LocalNodeID(info),
		ParentID:   util.LocalNodeID(parentInfo),
		Name:       filepath.Base(path),
		Type:       model.TypeFile,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		CanWrite:   info.Mode().Perm()&0200 != 0,
	}
	if info.IsDir() {
		item.Type = model.TypeDirectory
		item.Size = 0
	} else {
		hash, err := util.FileHash(path)
		if err != nil {
			return err
		}
		item.ContentHash = hash
	}

	o.snap.Upsert(item)
	return nil
}

func (o *LocalObserver) removePath(path string) {
	rel, err := filepath.Rel(o.root, path)
	if err != nil {
		return
	}

	if id, ok := o.snap.IDAtPath(filepath.ToSlash(rel)); ok {
		o.snap.Remove(id)
	}
}

func toEventType(op fsnotify.Op) model.EventType {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventTypeCreate
	case op.Has(fsnotify.Write):
		return model.EventTypeWrite
	case op.Has(fsnotify.Remove):
		return model.EventTypeRemove
	case op.Has(fsnotify.Rename):
		return model.EventTypeRename
	default:
		return ""
	}
}

