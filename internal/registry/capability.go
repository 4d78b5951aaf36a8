// Package registry catalogs known commands and the access rights they need.
// The permission gate consults it to turn a bare command line into the
// capability set the command would exercise.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// CapabilityKind enumerates the discrete access right classes.
type CapabilityKind int

const (
	KindFsRead CapabilityKind = iota
	KindFsWrite
	KindNetworkConnect
	KindProcessSpawn
)

// String returns string representation of a capability kind
func (k CapabilityKind) String() string {
	switch k {
	case KindFsRead:
		return "fs-read"
	case KindFsWrite:
		return "fs-write"
	case KindNetworkConnect:
		return "network"
	case KindProcessSpawn:
		return "process-spawn"
	default:
		return "unknown"
	}
}

// ParseCapabilityKind maps the catalog's string form back to a kind.
func ParseCapabilityKind(s string) (CapabilityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fs-read", "fsread", "read":
		return KindFsRead, nil
	case "fs-write", "fswrite", "write":
		return KindFsWrite, nil
	case "network", "network-connect", "net":
		return KindNetworkConnect, nil
	case "process-spawn", "spawn", "exec":
		return KindProcessSpawn, nil
	default:
		return 0, fmt.Errorf("unknown capability kind %q", s)
	}
}

// Capability is one required access right. Scope is a path prefix for
// filesystem kinds and a host pattern for network; process spawn carries no
// scope.
type Capability struct {
	Kind  CapabilityKind
	Scope string
}

func FsRead(pathPrefix string) Capability {
	return Capability{Kind: KindFsRead, Scope: pathPrefix}
}

func FsWrite(pathPrefix string) Capability {
	return Capability{Kind: KindFsWrite, Scope: pathPrefix}
}

func NetworkConnect(hostPattern string) Capability {
	return Capability{Kind: KindNetworkConnect, Scope: hostPattern}
}

func ProcessSpawn() Capability {
	return Capability{Kind: KindProcessSpawn}
}

// String returns string representation of a capability
func (c Capability) String() string {
	if c.Scope == "" {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Scope)
}

// Set is an unordered capability collection with set semantics.
type Set []Capability

// NewSet builds a set from the given capabilities, collapsing duplicates.
func NewSet(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s = s.Add(c)
	}
	return s
}

// Add returns the set with c included; duplicates are collapsed.
func (s Set) Add(c Capability) Set {
	for _, have := range s {
		if have == c {
			return s
		}
	}
	return append(s, c)
}

// Contains reports whether the exact capability is in the set.
func (s Set) Contains(c Capability) bool {
	for _, have := range s {
		if have == c {
			return true
		}
	}
	return false
}

// HasKind reports whether any capability of the given kind is in the set.
func (s Set) HasKind(k CapabilityKind) bool {
	for _, have := range s {
		if have.Kind == k {
			return true
		}
	}
	return false
}

// String renders the set sorted for stable log and error output.
func (s Set) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
