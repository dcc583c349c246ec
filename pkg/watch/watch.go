// Package watch feeds a directory tree into a project. Matching files
// are published once on startup and re-published whenever they change,
// with the relative path as the data key.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/parser"
)

// Publisher is the sink for file contents. Both the engine and the HTTP
// client satisfy it.
type Publisher interface {
	Publish(ctx context.Context, req engine.PublishRequest) (*engine.PublishResult, error)
}

// DefaultDebounce batches the event bursts editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// DefaultInclude covers the formats the parsers understand natively.
// Other files still publish when named by an explicit include glob.
var DefaultInclude = []string{
	"**/*.json",
	"**/*.yaml",
	"**/*.yml",
	"**/*.toml",
	"**/*.xml",
	"**/*.csv",
	"**/*.md",
	"**/*.txt",
}

// Watcher publishes files under a root directory to one project.
type Watcher struct {
	publisher Publisher
	projectID string
	root      string
	include   []string
	exclude   []string
	debounce  time.Duration
	onResult  func(dataKey string, res *engine.PublishResult, err error)

	mu      sync.Mutex
	pending map[string]struct{}
}

type Option func(*Watcher)

// WithInclude replaces the default include globs. Patterns match the
// slash-separated path relative to the root.
func WithInclude(globs ...string) Option {
	return func(w *Watcher) {
		if len(globs) > 0 {
			w.include = globs
		}
	}
}

// WithExclude drops files matching any of the globs even when an
// include glob matches them.
func WithExclude(globs ...string) Option {
	return func(w *Watcher) { w.exclude = globs }
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithOnResult installs a callback invoked after every publish attempt,
// successful or not. The CLI uses it to print progress.
func WithOnResult(fn func(dataKey string, res *engine.PublishResult, err error)) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// New validates the root and glob patterns and returns a watcher bound
// to one project.
func New(publisher Publisher, projectID, root string, opts ...Option) (*Watcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	w := &Watcher{
		publisher: publisher,
		projectID: projectID,
		root:      abs,
		include:   DefaultInclude,
		debounce:  DefaultDebounce,
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, pattern := range append(slices.Clone(w.include), w.exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}
	return w, nil
}

// Sync publishes every matching file under the root once, in path
// order, and returns how many publishes succeeded. Failures are logged
// and skipped so one bad file does not block the rest.
func (w *Watcher) Sync(ctx context.Context) (int, error) {
	var keys []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return relErr
		}
		if key := filepath.ToSlash(rel); w.matches(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, key := range keys {
		if err := w.publishFile(ctx, key); err != nil {
			slog.Warn("Publish failed", "project_id", w.projectID, "data_key", key, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

// Run syncs the tree, then watches it until the context is canceled.
// Change bursts are debounced and flushed in path order.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.Sync(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()
	if err := addTree(fsw, w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	slog.Info("Watching directory", "project_id", w.projectID, "root", w.root)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()
	flush := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watcher stopped", "project_id", w.projectID)
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch set so files created
			// inside them keep flowing.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if err := addTree(fsw, event.Name); err != nil {
						slog.Debug("Could not watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			rel, relErr := filepath.Rel(w.root, event.Name)
			if relErr != nil {
				continue
			}
			key := filepath.ToSlash(rel)
			if !w.matches(key) {
				continue
			}
			w.mu.Lock()
			w.pending[key] = struct{}{}
			w.mu.Unlock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case flush <- struct{}{}:
				default:
				}
			})

		case <-flush:
			w.flush(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.pending))
	for key := range w.pending {
		keys = append(keys, key)
	}
	clear(w.pending)
	w.mu.Unlock()

	slices.Sort(keys)
	for _, key := range keys {
		// The file may be gone by flush time; editors rename temp
		// files over targets and cleanups race the debounce window.
		if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(key))); err != nil {
			continue
		}
		if err := w.publishFile(ctx, key); err != nil {
			slog.Warn("Publish failed", "project_id", w.projectID, "data_key", key, "error", err)
		}
	}
}

func (w *Watcher) publishFile(ctx context.Context, key string) error {
	raw, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(key)))
	if err != nil {
		return err
	}
	res, err := w.publisher.Publish(ctx, engine.PublishRequest{
		ProjectID: w.projectID,
		DataKey:   key,
		Data:      string(raw),
		Format:    parser.HintForPath(key),
	})
	if w.onResult != nil {
		w.onResult(key, res, err)
	}
	if err != nil {
		return err
	}
	slog.Debug("Published file", "project_id", w.projectID, "data_key", key, "sequence", res.Sequence)
	return nil
}

// matches applies the hidden-path rule and the include/exclude globs to
// a slash-separated relative path.
func (w *Watcher) matches(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return false
		}
	}
	for _, pattern := range w.include {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
	}
	return false
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
