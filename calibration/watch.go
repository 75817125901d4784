package calibration

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/logging"
)

// watchDebounce folds the burst of events a single save produces into one reload.
const watchDebounce = 50 * time.Millisecond

// Watch calls onChange whenever the file at path is written, created or renamed into place,
// which covers both in place edits and editors that save by replacing the file. The parent
// directory is watched so the file may not exist yet. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger logging.Logger, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot create calibration file watcher")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("error closing calibration file watcher", "error", err)
		}
	}()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "cannot watch %s", filepath.Dir(abs))
	}

	debounced := debounce.New(watchDebounce)
	defer debounced(func() {})
	reload := func() {
		if ctx.Err() == nil {
			onChange()
		}
	}

	const interesting = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&interesting == 0 {
				continue
			}
			logger.Debugw("calibration file changed", "path", abs, "op", event.Op.String())
			debounced(reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("calibration file watcher error", "error", err)
		}
	}
}

// WatchAndReload reloads c from its store every time path changes. See Reload for which
// changes are installed.
func (c *Calibrator) WatchAndReload(ctx context.Context, path string) error {
	return Watch(ctx, path, c.logger, func() {
		c.Reload(ctx)
	})
}
