// Package diffengine computes structured change sets between two snapshots
// of the virtual filesystem. Computation is a pure function of the snapshot
// pair: no real I/O happens here.
package diffengine

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/yksanjo/agent-sandbox/internal/vfs"
)

// ChangeKind classifies one diff entry.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Modified
	Renamed
)

// String returns string representation of a change kind
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Entry is one changed path between two snapshots.
type Entry struct {
	Path string
	Kind ChangeKind
	// OldPath is set for Renamed entries only.
	OldPath string
	IsDir   bool
	// OldContent is absent for Added, NewContent absent for Removed.
	OldContent []byte
	NewContent []byte
	// SizeDelta is len(new) - len(old) in bytes.
	SizeDelta int64
	// Binary marks content that is not valid UTF-8 text; binary entries
	// carry no unified diff.
	Binary bool
	// Unified holds the rendered unified diff for text content.
	Unified      string
	LinesAdded   int
	LinesRemoved int
}

// Diff is an ordered change set, lexicographic by path, deterministic for a
// given snapshot pair.
type Diff []Entry

// Source is the snapshot store the engine reads from. The VFS satisfies it.
type Source interface {
	ChangedPaths(from, to vfs.SnapshotID) []string
	StateAt(path string, snap vfs.SnapshotID) (vfs.State, error)
}

// Compute walks the paths touched between the two snapshots and classifies
// each by its state transition. Paths whose content ends up identical
// produce no entry. A delete and a create carrying the same content
// fingerprint within the pair are folded into one Renamed entry; this is a
// best-effort heuristic, not guaranteed rename detection.
func Compute(src Source, from, to vfs.SnapshotID) (Diff, error) {
	var entries []Entry

	for _, p := range src.ChangedPaths(from, to) {
		before, err := src.StateAt(p, from)
		if err != nil {
			return nil, fmt.Errorf("diff: failed to resolve %s at %d: %w", p, from, err)
		}
		after, err := src.StateAt(p, to)
		if err != nil {
			return nil, fmt.Errorf("diff: failed to resolve %s at %d: %w", p, to, err)
		}

		entry, changed := classify(p, before, after)
		if changed {
			entries = append(entries, entry)
		}
	}

	entries = foldRenames(entries)

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	for i := range entries {
		render(&entries[i])
	}
	return entries, nil
}

func classify(p string, before, after vfs.State) (Entry, bool) {
	switch {
	case !before.Exists && !after.Exists:
		return Entry{}, false
	case !before.Exists:
		return Entry{
			Path:       p,
			Kind:       Added,
			IsDir:      after.IsDir,
			NewContent: after.Content,
			SizeDelta:  int64(len(after.Content)),
		}, true
	case !after.Exists:
		return Entry{
			Path:       p,
			Kind:       Removed,
			IsDir:      before.IsDir,
			OldContent: before.Content,
			SizeDelta:  -int64(len(before.Content)),
		}, true
	case before.IsDir && after.IsDir:
		return Entry{}, false
	case before.Fingerprint == after.Fingerprint:
		return Entry{}, false
	default:
		return Entry{
			Path:       p,
			Kind:       Modified,
			OldContent: before.Content,
			NewContent: after.Content,
			SizeDelta:  int64(len(after.Content)) - int64(len(before.Content)),
		}, true
	}
}

// foldRenames pairs a Removed with an Added entry when both carry identical
// non-empty content. Each entry participates in at most one pairing.
func foldRenames(entries []Entry) []Entry {
	removedByHash := make(map[uint64]int)
	for i, e := range entries {
		if e.Kind == Removed && !e.IsDir && len(e.OldContent) > 0 {
			hash := vfs.Fingerprint(e.OldContent)
			if _, taken := removedByHash[hash]; !taken {
				removedByHash[hash] = i
			}
		}
	}

	consumed := make(map[int]bool)
	var out []Entry
	for i, e := range entries {
		if e.Kind != Added || e.IsDir || len(e.NewContent) == 0 {
			continue
		}
		hash := vfs.Fingerprint(e.NewContent)
		ri, ok := removedByHash[hash]
		if !ok || consumed[ri] {
			continue
		}
		consumed[ri] = true
		consumed[i] = true
		out = append(out, Entry{
			Path:       e.Path,
			Kind:       Renamed,
			OldPath:    entries[ri].Path,
			OldContent: entries[ri].OldContent,
			NewContent: e.NewContent,
		})
	}

	for i, e := range entries {
		if !consumed[i] {
			out = append(out, e)
		}
	}
	return out
}

// isText reports whether content should be diffed line-by-line. NUL bytes or
// invalid UTF-8 mark it as binary.
func isText(content []byte) bool {
	if !utf8.Valid(content) {
		return false
	}
	for _, b := range content {
		if b == 0 {
			return false
		}
	}
	return true
}

func render(e *Entry) {
	if e.IsDir || e.Kind == Renamed {
		return
	}
	if !isText(e.OldContent) || !isText(e.NewContent) {
		e.Binary = true
		return
	}

	unified, added, removed := unifiedDiff(e.Path, e.Kind, string(e.OldContent), string(e.NewContent))
	e.Unified = unified
	e.LinesAdded = added
	e.LinesRemoved = removed
}

// Empty reports whether the change set has no entries.
func (d Diff) Empty() bool {
	return len(d) == 0
}

// Stats sums line additions and removals over all text entries.
func (d Diff) Stats() (added, removed int) {
	for _, e := range d {
		added += e.LinesAdded
		removed += e.LinesRemoved
	}
	return added, removed
}

// Summary renders a one-line-per-entry overview.
func (d Diff) Summary() string {
	if len(d) == 0 {
		return "no changes\n"
	}
	out := ""
	for _, e := range d {
		switch e.Kind {
		case Renamed:
			out += fmt.Sprintf("R  %s -> %s\n", e.OldPath, e.Path)
		case Added:
			out += fmt.Sprintf("A  %s\n", e.Path)
		case Removed:
			out += fmt.Sprintf("D  %s\n", e.Path)
		case Modified:
			out += fmt.Sprintf("M  %s\n", e.Path)
		}
	}
	added, removed := d.Stats()
	out += fmt.Sprintf("+%d -%d\n", added, removed)
	return out
}

// Format renders the full change set: summary plus per-file unified diffs.
func (d Diff) Format() string {
	out := d.Summary()
	for _, e := range d {
		if e.Unified != "" {
			out += e.Unified
		} else if e.Binary {
			out += fmt.Sprintf("Binary file %s (%+d bytes)\n", e.Path, e.SizeDelta)
		}
	}
	return out
}
