package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// commitBackup remembers the pre-commit state of one real path so a failed
// commit can be rolled back.
type commitBackup struct {
	path       string
	existed    bool
	isDir      bool
	isSymlink  bool
	linkTarget string
	content    []byte
	mode       os.FileMode
}

// Commit applies every change recorded since the overlay base onto the real
// filesystem: directory creations first in path order, then file writes,
// deletes last with children before parents. Deletes under a directory that
// a file write replaces are pulled ahead of the write so the replacement is
// applicable. If any targeted real file has diverged from its captured base
// fingerprint the commit fails with ErrConflict before anything is written.
// A mid-commit failure rolls back
// already-applied changes, so observers of the real tree see either the
// pre-commit or the fully-committed state.
//
// On success the overlay is re-based: the committed state becomes the new
// snapshot 0.
func (v *VFS) Commit() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var dirs, writes, deletes []string
	for p, node := range v.nodes {
		switch node.Provenance {
		case ProvenanceCreated, ProvenanceModified:
			if node.Kind == KindDir {
				dirs = append(dirs, p)
			} else {
				writes = append(writes, p)
			}
		case ProvenanceDeleted:
			deletes = append(deletes, p)
		}
	}
	if len(dirs)+len(writes)+len(deletes) == 0 {
		return nil
	}

	sort.Strings(dirs)
	sort.Strings(writes)

	// A write whose base was a directory replaces that directory: its
	// tombstoned children must come off disk before the file is staged, so
	// their deletes move ahead of the write phase. Symmetrically, a
	// directory whose base was a file has the file removed in the mkdir
	// phase.
	replaced := make(map[string]bool)
	for _, p := range writes {
		if st := v.base[p]; st != nil && st.existed && st.isDir {
			replaced[p] = true
		}
	}
	var earlyDeletes, lateDeletes []string
	for _, p := range deletes {
		if underAny(p, replaced) {
			earlyDeletes = append(earlyDeletes, p)
		} else {
			lateDeletes = append(lateDeletes, p)
		}
	}
	// children before parents
	sort.Sort(sort.Reverse(sort.StringSlice(earlyDeletes)))
	sort.Sort(sort.Reverse(sort.StringSlice(lateDeletes)))
	replacedDirs := make([]string, 0, len(replaced))
	for p := range replaced {
		replacedDirs = append(replacedDirs, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(replacedDirs)))

	conflictPaths := append(append([]string{}, writes...), deletes...)
	for _, p := range dirs {
		if st := v.base[p]; st != nil && st.existed && !st.isDir {
			conflictPaths = append(conflictPaths, p)
		}
	}
	if err := v.checkConflicts(conflictPaths); err != nil {
		return err
	}

	var backups []commitBackup
	rollback := func() {
		for i := len(backups) - 1; i >= 0; i-- {
			b := backups[i]
			switch {
			case !b.existed:
				os.RemoveAll(v.realPath(b.path))
			case b.isSymlink:
				os.Remove(v.realPath(b.path))
				os.Symlink(b.linkTarget, v.realPath(b.path))
			case b.isDir:
				os.MkdirAll(v.realPath(b.path), 0755)
			default:
				os.WriteFile(v.realPath(b.path), b.content, b.mode)
			}
		}
	}

	for _, p := range dirs {
		backup, err := v.snapshotReal(p)
		if err != nil {
			rollback()
			return err
		}
		backups = append(backups, backup)
		if st := v.base[p]; st != nil && st.existed && !st.isDir {
			if err := os.Remove(v.realPath(p)); err != nil && !os.IsNotExist(err) {
				rollback()
				return fmt.Errorf("commit: failed to replace %s: %w", p, err)
			}
		}
		if err := os.MkdirAll(v.realPath(p), 0755); err != nil {
			rollback()
			return fmt.Errorf("commit: failed to create directory %s: %w", p, err)
		}
	}

	for _, p := range earlyDeletes {
		backup, err := v.snapshotReal(p)
		if err != nil {
			rollback()
			return err
		}
		backups = append(backups, backup)
		if err := os.Remove(v.realPath(p)); err != nil && !os.IsNotExist(err) {
			rollback()
			return fmt.Errorf("commit: failed to delete %s: %w", p, err)
		}
	}

	// The replaced directories carry no tombstone of their own; remove them
	// once their tracked children are gone. An entry the overlay never saw
	// keeps the directory non-empty, which is a conflict.
	for _, p := range replacedDirs {
		backup, err := v.snapshotReal(p)
		if err != nil {
			rollback()
			return err
		}
		backups = append(backups, backup)
		if err := os.Remove(v.realPath(p)); err != nil && !os.IsNotExist(err) {
			rollback()
			return fmt.Errorf("%w: %s: %v", ErrConflict, p, err)
		}
	}

	for _, p := range writes {
		backup, err := v.snapshotReal(p)
		if err != nil {
			rollback()
			return err
		}
		backups = append(backups, backup)
		node := v.nodes[p]
		if err := v.writeRealAtomic(p, node.Content); err != nil {
			rollback()
			return fmt.Errorf("commit: failed to write %s: %w", p, err)
		}
	}

	for _, p := range lateDeletes {
		backup, err := v.snapshotReal(p)
		if err != nil {
			rollback()
			return err
		}
		backups = append(backups, backup)
		if err := os.Remove(v.realPath(p)); err != nil && !os.IsNotExist(err) {
			rollback()
			return fmt.Errorf("commit: failed to delete %s: %w", p, err)
		}
	}

	v.logg.Info("commit applied: %d dirs, %d writes, %d deletes", len(dirs), len(writes), len(deletes))

	// Re-base on the committed state.
	v.nodes = make(map[string]*Node)
	v.base = make(map[string]*baseState)
	v.log = nil
	if v.watcher != nil {
		v.watcher.clear()
	}
	return nil
}

// underAny reports whether p is one of the given directories or inside one.
func underAny(p string, dirs map[string]bool) bool {
	for d := range dirs {
		if p == d || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

// checkConflicts verifies that every targeted real path still matches the
// base captured when the overlay first touched it.
func (v *VFS) checkConflicts(paths []string) error {
	for _, p := range paths {
		st, ok := v.base[p]
		if !ok {
			// Created without ever consulting the base; the target must not
			// have appeared on disk in the meantime.
			st = &baseState{}
		}

		info, err := os.Lstat(v.realPath(p))
		existsNow := err == nil
		if err != nil && !isNotExist(err) {
			return fmt.Errorf("commit: failed to stat %s: %w", p, err)
		}

		if existsNow != st.existed {
			return fmt.Errorf("%w: %s", ErrConflict, p)
		}
		if !existsNow {
			continue
		}
		if st.isSymlink {
			if info.Mode()&os.ModeSymlink == 0 {
				return fmt.Errorf("%w: %s", ErrConflict, p)
			}
			current, err := os.Readlink(v.realPath(p))
			if err != nil {
				return fmt.Errorf("commit: failed to read link %s: %w", p, err)
			}
			if current != st.linkTarget {
				return fmt.Errorf("%w: %s", ErrConflict, p)
			}
			continue
		}
		if st.isDir {
			continue
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s", ErrConflict, p)
		}
		current, err := os.ReadFile(v.realPath(p))
		if err != nil {
			return fmt.Errorf("commit: failed to read %s: %w", p, err)
		}
		if Fingerprint(current) != st.fingerprint {
			return fmt.Errorf("%w: %s", ErrConflict, p)
		}
	}
	return nil
}

func (v *VFS) snapshotReal(p string) (commitBackup, error) {
	b := commitBackup{path: p}
	info, err := os.Lstat(v.realPath(p))
	if err != nil {
		if isNotExist(err) {
			return b, nil
		}
		return b, fmt.Errorf("commit: failed to stat %s: %w", p, err)
	}
	b.existed = true
	b.mode = info.Mode().Perm()
	if info.Mode()&os.ModeSymlink != 0 {
		b.isSymlink = true
		target, err := os.Readlink(v.realPath(p))
		if err != nil {
			return b, fmt.Errorf("commit: failed to back up link %s: %w", p, err)
		}
		b.linkTarget = target
		return b, nil
	}
	if info.IsDir() {
		b.isDir = true
		return b, nil
	}
	content, err := os.ReadFile(v.realPath(p))
	if err != nil {
		return b, fmt.Errorf("commit: failed to back up %s: %w", p, err)
	}
	b.content = content
	return b, nil
}

// writeRealAtomic stages the content in a temp file next to the target and
// renames it into place, so a disk error never leaves a half-written file.
func (v *VFS) writeRealAtomic(p string, content []byte) error {
	target := v.realPath(p)
	tmp, err := os.CreateTemp(filepath.Dir(target), ".staged-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
