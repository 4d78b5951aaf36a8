package vfs

import "github.com/cespare/xxhash/v2"

// Provenance describes how an overlay node relates to the real filesystem.
type Provenance int

const (
	// ProvenanceUnmodified means the node mirrors a real file (read-through).
	ProvenanceUnmodified Provenance = iota
	// ProvenanceCreated means the node exists only in the overlay.
	ProvenanceCreated
	// ProvenanceModified means the node shadows a real file with new content.
	ProvenanceModified
	// ProvenanceDeleted means the node is a tombstone for a real path.
	ProvenanceDeleted
)

// String returns string representation of a provenance tag
func (p Provenance) String() string {
	switch p {
	case ProvenanceUnmodified:
		return "unmodified"
	case ProvenanceCreated:
		return "created"
	case ProvenanceModified:
		return "modified"
	case ProvenanceDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Kind is the filesystem entry type of a node.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Node is one filesystem entry in the overlay. The VFS owns all nodes;
// callers only see copies of content.
type Node struct {
	Path       string
	Kind       Kind
	Provenance Provenance
	// Content holds the owned buffer for files.
	Content []byte
	// Target holds the link target for symlinks.
	Target string
}

// baseState is the real-filesystem state of a path, captured the first time
// an operation touches it. It never changes afterwards, so reads stay stable
// within a session and Commit can detect divergence.
type baseState struct {
	existed   bool
	isDir     bool
	isSymlink bool
	// linkTarget is the raw readlink value for symlinks; broken marks a
	// link whose target does not resolve.
	linkTarget  string
	broken      bool
	content     []byte
	fingerprint uint64
}

// opKind classifies one entry in the overlay change log.
type opKind int

const (
	opWrite opKind = iota
	opDelete
	opMkdir
)

// opRecord is one entry in the append-only change log. The log position
// doubles as the snapshot identifier: SnapshotID n covers log[:n].
type opRecord struct {
	path    string
	kind    opKind
	content []byte
}

// SnapshotID is an immutable reference into the overlay change log.
type SnapshotID int

// State is the resolved state of one path at a given snapshot.
type State struct {
	Exists      bool
	IsDir       bool
	Content     []byte
	Fingerprint uint64
}

// Fingerprint hashes a content buffer. The same function is used for commit
// conflict detection and rename matching so the two always agree.
func Fingerprint(content []byte) uint64 {
	return xxhash.Sum64(content)
}
