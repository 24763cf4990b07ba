// Package watch triggers rebuilds when project sources change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentx-labs/abt/internal/branding"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of editor saves into one rebuild.
const DefaultDebounce = 250 * time.Millisecond

// Watcher watches the kind directories and the config file of a project.
type Watcher struct {
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// New creates a Watcher for the project at root.
func New(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{root: root, debounce: debounce, fsw: fsw}
	if err := w.fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	for _, k := range source.ValidKinds {
		if err := w.addTree(filepath.Join(root, k.Dir())); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and every directory below it. A missing directory is
// skipped; it is picked up when created.
func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

// Run calls onChange after every debounced batch of relevant changes until
// ctx is done. It closes the underlying watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	defer w.fsw.Close()
	logger := logging.FromContext(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.inKindDir(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						logger.Warnw("Could not watch new directory.", "path", event.Name, "error", err)
					}
				}
			}
			if !w.relevant(event) {
				continue
			}
			logger.Debugw("Source changed.", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("File watcher error.", "error", err)
		case <-timer.C:
			onChange(ctx)
		}
	}
}

// relevant reports whether an event can change the build output.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if filepath.Dir(event.Name) == filepath.Clean(w.root) {
		return base == branding.ConfigName()+".yaml" || source.KindFromDir(base) != source.KindUnknown
	}
	if !w.inKindDir(event.Name) {
		return false
	}
	switch filepath.Ext(base) {
	case ".md", ".yaml", ".yml", ".json", "":
		return true
	}
	return false
}

func (w *Watcher) inKindDir(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return source.KindFromDir(first) != source.KindUnknown
}
