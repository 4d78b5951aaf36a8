// Package vfs implements a copy-on-write overlay over a real directory tree.
// Operations never touch the real tree; Commit applies the accumulated
// overlay changes all-or-nothing, Discard throws them away.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/yksanjo/agent-sandbox/internal/logger"
)

// isNotExist also treats ENOTDIR as absence: a path under a regular file
// does not exist.
func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

// VFS is a copy-on-write view of the directory tree rooted at a sandbox
// root. All mutating operations are recorded in an append-only change log;
// snapshot identifiers are positions in that log.
type VFS struct {
	mu    sync.Mutex
	root  string
	nodes map[string]*Node
	base  map[string]*baseState
	log   []opRecord

	watcher *rootWatcher
	logg    *logger.Logger
}

// New creates a VFS over root. The root directory must exist.
func New(root string) (*VFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", abs)
	}

	return &VFS{
		root:  abs,
		nodes: make(map[string]*Node),
		base:  make(map[string]*baseState),
		logg:  logger.Global().WithPrefix("vfs"),
	}, nil
}

// Root returns the absolute sandbox root.
func (v *VFS) Root() string {
	return v.root
}

// normalize validates a path and converts it to the canonical slash-separated
// form relative to the sandbox root. Escapes via ".." or absolute paths
// outside the root fail with ErrOutOfScope.
func (v *VFS) normalize(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutOfScope, p)
		}
		p = rel
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, p)
	}
	if clean == "" {
		clean = "."
	}
	return clean, nil
}

func (v *VFS) realPath(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

// captureBase records the real-filesystem state of a path the first time it
// is consulted. Later changes to the real file are invisible to the session
// until the next re-base.
func (v *VFS) captureBase(rel string) (*baseState, error) {
	if st, ok := v.base[rel]; ok {
		return st, nil
	}

	st := &baseState{}
	real := v.realPath(rel)
	info, err := os.Lstat(real)
	switch {
	case err != nil && isNotExist(err):
		// absent
	case err != nil:
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	case info.Mode()&os.ModeSymlink != 0:
		st.existed = true
		st.isSymlink = true
		target, err := os.Readlink(real)
		if err != nil {
			return nil, fmt.Errorf("failed to read link %s: %w", rel, err)
		}
		st.linkTarget = target
		// Dir-ness and content follow the link.
		resolved, err := os.Stat(real)
		switch {
		case err != nil:
			st.broken = true
		case resolved.IsDir():
			st.isDir = true
		default:
			content, err := os.ReadFile(real)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", rel, err)
			}
			st.content = content
			st.fingerprint = Fingerprint(content)
		}
	case info.IsDir():
		st.existed = true
		st.isDir = true
	default:
		content, err := os.ReadFile(real)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}
		st.existed = true
		st.content = content
		st.fingerprint = Fingerprint(content)
	}

	v.base[rel] = st
	return st, nil
}

// Read returns the file content at path, overlay first, read-through to the
// real tree otherwise. The first real read is cached so repeated reads are
// stable even if the real file changes concurrently.
func (v *VFS) Read(p string) ([]byte, error) {
	rel, err := v.normalize(p)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if node, ok := v.nodes[rel]; ok {
		switch {
		case node.Provenance == ProvenanceDeleted:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		case node.Kind == KindDir:
			return nil, fmt.Errorf("%w: %s", ErrIsDirectory, rel)
		}
		return append([]byte(nil), node.Content...), nil
	}

	st, err := v.captureBase(rel)
	if err != nil {
		return nil, err
	}
	if !st.existed || st.broken {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if st.isDir {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}
	return append([]byte(nil), st.content...), nil
}

// Write creates or updates a file in the overlay. Missing parent directories
// are created in the overlay, mirroring standard filesystem semantics. The
// real tree is never touched.
func (v *VFS) Write(p string, data []byte) error {
	rel, err := v.normalize(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	st, err := v.captureBase(rel)
	if err != nil {
		return err
	}
	if node, ok := v.nodes[rel]; ok && node.Kind == KindDir && node.Provenance != ProvenanceDeleted {
		return fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}
	if st.existed && st.isDir {
		if node, ok := v.nodes[rel]; !ok || node.Provenance != ProvenanceDeleted {
			return fmt.Errorf("%w: %s", ErrIsDirectory, rel)
		}
	}

	if err := v.ensureParents(rel); err != nil {
		return err
	}

	prov := ProvenanceCreated
	if st.existed && !st.isDir {
		prov = ProvenanceModified
	}
	if node, ok := v.nodes[rel]; ok && node.Provenance == ProvenanceCreated {
		prov = ProvenanceCreated
	}

	content := append([]byte(nil), data...)
	v.nodes[rel] = &Node{
		Path:       rel,
		Kind:       KindFile,
		Provenance: prov,
		Content:    content,
	}
	v.log = append(v.log, opRecord{path: rel, kind: opWrite, content: content})
	v.logg.Debug("write %s (%d bytes, %s)", rel, len(content), prov)
	return nil
}

// Mkdir creates a directory in the overlay, including missing ancestors.
// Creating a directory that already exists is a no-op.
func (v *VFS) Mkdir(p string) error {
	rel, err := v.normalize(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	st, err := v.captureBase(rel)
	if err != nil {
		return err
	}
	node, hasNode := v.nodes[rel]
	if hasNode && node.Provenance != ProvenanceDeleted {
		if node.Kind != KindDir {
			return fmt.Errorf("%s exists and is not a directory", rel)
		}
		return nil
	}
	if !hasNode && st.existed {
		if !st.isDir {
			return fmt.Errorf("%s exists and is not a directory", rel)
		}
		return nil
	}

	if err := v.ensureParents(rel); err != nil {
		return err
	}
	v.nodes[rel] = &Node{Path: rel, Kind: KindDir, Provenance: ProvenanceCreated}
	v.log = append(v.log, opRecord{path: rel, kind: opMkdir})
	v.logg.Debug("mkdir %s", rel)
	return nil
}

// ensureParents creates overlay directory nodes for every missing ancestor.
func (v *VFS) ensureParents(rel string) error {
	parent := path.Dir(rel)
	var missing []string
	for parent != "." {
		st, err := v.captureBase(parent)
		if err != nil {
			return err
		}
		node, hasNode := v.nodes[parent]
		if hasNode && node.Provenance != ProvenanceDeleted {
			break
		}
		if !hasNode && st.existed && st.isDir {
			break
		}
		if !hasNode && st.existed && !st.isDir {
			return fmt.Errorf("parent %s is not a directory", parent)
		}
		missing = append(missing, parent)
		parent = path.Dir(parent)
	}
	// create outermost first
	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		v.nodes[dir] = &Node{Path: dir, Kind: KindDir, Provenance: ProvenanceCreated}
		v.log = append(v.log, opRecord{path: dir, kind: opMkdir})
	}
	return nil
}

// Delete tombstones path. Directories are tombstoned recursively, files
// first, so diffs report every removed entry. Deleting a nonexistent path
// fails with ErrNotFound.
func (v *VFS) Delete(p string) error {
	rel, err := v.normalize(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot delete sandbox root", ErrOutOfScope)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleteLocked(rel)
}

func (v *VFS) deleteLocked(rel string) error {
	st, err := v.captureBase(rel)
	if err != nil {
		return err
	}
	node, hasNode := v.nodes[rel]
	if hasNode && node.Provenance == ProvenanceDeleted {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if !hasNode && !st.existed {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	// Deleting a symlink removes the link itself, never its target, so a
	// link to a directory must not recurse.
	isLink := (hasNode && node.Kind == KindSymlink) || (!hasNode && st.isSymlink)
	isDir := !isLink && ((hasNode && node.Kind == KindDir) || (!hasNode && st.isDir))
	if isDir {
		children, err := v.listLocked(rel)
		if err != nil {
			return err
		}
		for _, name := range children {
			if err := v.deleteLocked(path.Join(rel, name)); err != nil {
				return err
			}
		}
	}

	tomb := &Node{Path: rel, Kind: KindFile, Provenance: ProvenanceDeleted}
	switch {
	case isLink:
		tomb.Kind = KindSymlink
		tomb.Target = st.linkTarget
	case isDir:
		tomb.Kind = KindDir
	}
	v.nodes[rel] = tomb
	v.log = append(v.log, opRecord{path: rel, kind: opDelete})
	v.logg.Debug("delete %s", rel)
	return nil
}

// Rename moves a file within the overlay, recorded as a write of the target
// followed by a delete of the source so the content fingerprint survives for
// rename detection.
func (v *VFS) Rename(src, dst string) error {
	content, err := v.Read(src)
	if err != nil {
		return err
	}
	if err := v.Write(dst, content); err != nil {
		return err
	}
	return v.Delete(src)
}

// List merges real directory entries with overlay creations and deletions
// for one directory. The overlay wins on conflicting existence. Returns
// sorted entry names.
func (v *VFS) List(dir string) ([]string, error) {
	rel, err := v.normalize(dir)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listLocked(rel)
}

func (v *VFS) listLocked(rel string) ([]string, error) {
	node, hasNode := v.nodes[rel]
	if hasNode && node.Provenance == ProvenanceDeleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	names := make(map[string]bool)
	realDir := false

	if rel == "." {
		realDir = true
	} else if st, err := v.captureBase(rel); err != nil {
		return nil, err
	} else if st.existed && st.isDir {
		realDir = true
	} else if !hasNode {
		if st.existed {
			return nil, fmt.Errorf("%s is not a directory", rel)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	} else if node.Kind != KindDir {
		return nil, fmt.Errorf("%s is not a directory", rel)
	}

	if realDir {
		entries, err := os.ReadDir(v.realPath(rel))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to list %s: %w", rel, err)
		}
		for _, e := range entries {
			names[e.Name()] = true
		}
	}

	for nodePath, n := range v.nodes {
		if path.Dir(nodePath) != rel || nodePath == rel {
			continue
		}
		name := path.Base(nodePath)
		if n.Provenance == ProvenanceDeleted {
			delete(names, name)
		} else {
			names[name] = true
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot returns an immutable reference to the current overlay state. It
// is a position in the change log, so taking one copies nothing.
func (v *VFS) Snapshot() SnapshotID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return SnapshotID(len(v.log))
}

// ChangedPaths returns the sorted unique paths touched between two
// snapshots.
func (v *VFS) ChangedPaths(from, to SnapshotID) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	if from < 0 {
		from = 0
	}
	if int(to) > len(v.log) {
		to = SnapshotID(len(v.log))
	}
	seen := make(map[string]bool)
	for _, rec := range v.log[from:to] {
		seen[rec.path] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StateAt resolves the state of one path as of a snapshot: the last change
// log entry at or before the snapshot wins, falling back to the captured
// base state.
func (v *VFS) StateAt(p string, snap SnapshotID) (State, error) {
	rel, err := v.normalize(p)
	if err != nil {
		return State{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if int(snap) > len(v.log) {
		snap = SnapshotID(len(v.log))
	}
	for i := int(snap) - 1; i >= 0; i-- {
		rec := v.log[i]
		if rec.path != rel {
			continue
		}
		switch rec.kind {
		case opWrite:
			return State{Exists: true, Content: append([]byte(nil), rec.content...), Fingerprint: Fingerprint(rec.content)}, nil
		case opDelete:
			return State{}, nil
		case opMkdir:
			return State{Exists: true, IsDir: true}, nil
		}
	}

	st, err := v.captureBase(rel)
	if err != nil {
		return State{}, err
	}
	if !st.existed {
		return State{}, nil
	}
	if st.isDir {
		return State{Exists: true, IsDir: true}, nil
	}
	return State{Exists: true, Content: append([]byte(nil), st.content...), Fingerprint: st.fingerprint}, nil
}

// PendingChanges counts overlay nodes that diverge from the base.
func (v *VFS) PendingChanges() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	count := 0
	for _, node := range v.nodes {
		if node.Provenance != ProvenanceUnmodified {
			count++
		}
	}
	return count
}

// TruncateTo drops every change recorded after the given snapshot, restoring
// the overlay to that point. Used to unwind the virtual effects of an action
// that will not be kept.
func (v *VFS) TruncateTo(snap SnapshotID) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if int(snap) >= len(v.log) {
		return
	}

	dropped := v.log[snap:]
	v.log = v.log[:snap]

	// Rebuild the affected nodes from the remaining log and base states.
	affected := make(map[string]bool)
	for _, rec := range dropped {
		affected[rec.path] = true
	}
	for p := range affected {
		v.rebuildNode(p)
	}
}

func (v *VFS) rebuildNode(rel string) {
	for i := len(v.log) - 1; i >= 0; i-- {
		rec := v.log[i]
		if rec.path != rel {
			continue
		}
		switch rec.kind {
		case opWrite:
			prov := ProvenanceCreated
			if st := v.base[rel]; st != nil && st.existed && !st.isDir {
				prov = ProvenanceModified
			}
			v.nodes[rel] = &Node{Path: rel, Kind: KindFile, Provenance: prov, Content: append([]byte(nil), rec.content...)}
		case opDelete:
			tomb := &Node{Path: rel, Kind: KindFile, Provenance: ProvenanceDeleted}
			if st := v.base[rel]; st != nil {
				switch {
				case st.isSymlink:
					tomb.Kind = KindSymlink
					tomb.Target = st.linkTarget
				case st.isDir:
					tomb.Kind = KindDir
				}
			}
			v.nodes[rel] = tomb
		case opMkdir:
			v.nodes[rel] = &Node{Path: rel, Kind: KindDir, Provenance: ProvenanceCreated}
		}
		return
	}
	delete(v.nodes, rel)
}

// Discard drops the overlay. The real filesystem is untouched because no
// operation before Commit ever writes to it. Captured base states are kept
// so read stability survives the discard.
func (v *VFS) Discard() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nodes = make(map[string]*Node)
	v.log = nil
	v.logg.Debug("overlay discarded")
}

// Reset discards the overlay and re-bases snapshot 0 on the current real
// filesystem. Idempotent.
func (v *VFS) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nodes = make(map[string]*Node)
	v.base = make(map[string]*baseState)
	v.log = nil
	if v.watcher != nil {
		v.watcher.clear()
	}
	v.logg.Debug("overlay reset, re-based on real tree")
}
