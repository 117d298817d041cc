// Package watch records the files a backend writes under the artifact root
// during a round, for backends whose output carries no action log.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/crossfix/internal/task"
)

// WatchTool is the tool name attached to actions reported by the recorder.
const WatchTool = "fs.write"

// DefaultIgnorePaths are directory and file names whose events are ignored.
var DefaultIgnorePaths = []string{".git", ".crossfix", "node_modules", "__pycache__", ".DS_Store"}

// Recorder watches a directory tree and collects written files
type Recorder struct {
	root    string
	watcher *fsnotify.Watcher

	// Paths to ignore (e.g., .git, .crossfix)
	ignorePaths []string

	// Relative paths written since Start, in first-seen order
	writes []string
	seen   map[string]bool

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// New creates a recorder for root
func New(root string) (*Recorder, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &Recorder{
		root:        abs,
		watcher:     watcher,
		ignorePaths: DefaultIgnorePaths,
		seen:        make(map[string]bool),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start adds the tree to the watcher and begins recording
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if err := r.watcher.Add(r.root); err != nil {
		return err
	}
	// fsnotify is not recursive; add every subdirectory
	r.watchDirRecursive(r.root)

	r.started = true
	go r.watchLoop()
	return nil
}

// Stop ends recording and returns one write action per file written, with
// targets relative to the root. It is safe to call more than once.
func (r *Recorder) Stop() []task.Action {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
		_ = r.watcher.Close()
	}
	started := r.started
	r.mu.Unlock()

	if started {
		<-r.doneCh
	}
	return r.actions()
}

// Writes returns the relative paths written so far.
func (r *Recorder) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *Recorder) actions() []task.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]task.Action, 0, len(r.writes))
	for _, w := range r.writes {
		out = append(out, task.Action{Kind: task.ActionWrite, Tool: WatchTool, Target: w})
	}
	return out
}

// watchDirRecursive adds all subdirectories to the watcher
func (r *Recorder) watchDirRecursive(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() {
			if path != root && r.ignored(path) {
				return filepath.SkipDir
			}
			_ = r.watcher.Add(path)
		}
		return nil
	})
}

// watchLoop processes filesystem events
func (r *Recorder) watchLoop() {
	defer close(r.doneCh)

	for {
		select {
		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			// Only care about write/create operations
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.handleFileEvent(event)

		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// handleFileEvent records a single file modification event
func (r *Recorder) handleFileEvent(event fsnotify.Event) {
	path := event.Name
	if r.ignored(path) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return // Temp files renamed away before we looked
	}
	if info.IsDir() {
		// New directories need their own watch
		if event.Op&fsnotify.Create != 0 {
			r.watchDirRecursive(path)
		}
		return
	}

	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[rel] {
		return
	}
	r.seen[rel] = true
	r.writes = append(r.writes, rel)
}

func (r *Recorder) ignored(path string) bool {
	sep := string(filepath.Separator)
	for _, ignore := range r.ignorePaths {
		if strings.Contains(path, sep+ignore+sep) ||
			strings.HasSuffix(path, sep+ignore) ||
			filepath.Base(path) == ignore {
			return true
		}
	}
	return false
}
