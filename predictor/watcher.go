package predictor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads the predictor when its artifact changes on disk. It
// watches the parent directory so atomic rename-into-place is seen as a
// create of the target file.
type Watcher struct {
	predictor *Predictor
	logger    *zap.Logger
	debounce  time.Duration
}

func NewWatcher(p *Predictor, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		predictor: p,
		logger:    logger.Named("watcher"),
		debounce:  defaultDebounce,
	}
}

func (w *Watcher) String() string { return "model-watcher" }

// Serve blocks until ctx is done. Returning an error lets the supervisor
// restart the watcher.
func (w *Watcher) Serve(ctx context.Context) error {
	target, err := filepath.Abs(w.predictor.ModelPath())
	if err != nil {
		return fmt.Errorf("resolve model path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(target)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching model artifact", zap.String("path", target))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("model artifact changed", zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			// failures are logged and surfaced by Status
			_ = w.predictor.Reload()
		}
	}
}
