package vfs

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// rootWatcher monitors the real tree under the sandbox root and records
// paths that changed on disk after the overlay base was captured. It is
// advisory: the authoritative divergence check at commit time is the stored
// content fingerprint. The dirty set makes the divergence visible in status
// output before a commit is attempted.
type rootWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	root    string
	dirty   map[string]bool
	stop    chan struct{}
}

// StartWatcher begins monitoring the real tree for external modifications.
// Failure to establish the watcher is not fatal; the VFS works without it.
func (v *VFS) StartWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	rw := &rootWatcher{
		watcher: w,
		root:    v.root,
		dirty:   make(map[string]bool),
		stop:    make(chan struct{}),
	}

	// Watch the root and every subdirectory.
	filepath.WalkDir(v.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(p); addErr != nil {
				v.logg.Warn("failed to watch %s: %v", p, addErr)
			}
		}
		return nil
	})

	go rw.run(v)

	v.mu.Lock()
	v.watcher = rw
	v.mu.Unlock()
	return nil
}

func (rw *rootWatcher) run(v *VFS) {
	for {
		select {
		case <-rw.stop:
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(rw.root, event.Name)
			if err != nil {
				continue
			}
			rw.mu.Lock()
			rw.dirty[filepath.ToSlash(rel)] = true
			rw.mu.Unlock()

			// New directories need their own watch to see nested changes.
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = rw.watcher.Add(event.Name)
				}
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			v.logg.Error("filesystem watcher error: %v", err)
		}
	}
}

func (rw *rootWatcher) clear() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.dirty = make(map[string]bool)
}

// DirtyPaths returns the sorted set of real paths observed to change on disk
// since the last re-base. Empty when no watcher is running.
func (v *VFS) DirtyPaths() []string {
	v.mu.Lock()
	rw := v.watcher
	v.mu.Unlock()
	if rw == nil {
		return nil
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	out := make([]string, 0, len(rw.dirty))
	for p := range rw.dirty {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StopWatcher shuts down the external-change monitor.
func (v *VFS) StopWatcher() error {
	v.mu.Lock()
	rw := v.watcher
	v.watcher = nil
	v.mu.Unlock()
	if rw == nil {
		return nil
	}
	close(rw.stop)
	return rw.watcher.Close()
}
