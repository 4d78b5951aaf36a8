package registry

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/yksanjo/agent-sandbox/internal/logger"
)

// Entry describes one cataloged command.
type Entry struct {
	// Name is the exact command name; Pattern, when set, is a glob matched
	// against the full command line (e.g. "npm *"). One of the two selects
	// the entry.
	Name         string
	Pattern      string
	Capabilities Set
	// RequiresApproval forces an AskUser round even when policy would
	// otherwise allow the command.
	RequiresApproval bool
	Description      string
}

// Registry resolves command lines to capability sets. Entries are loaded at
// session start; lookups are read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	exact map[string]Entry
	// globs keep registration order; the first matching pattern wins.
	globs []Entry
	root  string
	logg  *logger.Logger
}

// New returns a registry over the given sandbox root preloaded with the
// builtin catalog.
func New(root string) *Registry {
	r := NewEmpty(root)
	for _, e := range builtinCatalog(root) {
		r.Register(e)
	}
	return r
}

// NewEmpty returns a registry with no entries; unknown commands still
// resolve to the conservative default.
func NewEmpty(root string) *Registry {
	return &Registry{
		exact: make(map[string]Entry),
		root:  root,
		logg:  logger.Global().WithPrefix("registry"),
	}
}

// Register adds or replaces an entry. Exact names shadow glob patterns.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Pattern != "" {
		for i, have := range r.globs {
			if have.Pattern == e.Pattern {
				r.globs[i] = e
				return
			}
		}
		r.globs = append(r.globs, e)
		return
	}
	r.exact[e.Name] = e
}

// Lookup finds the entry for a command line: exact name first, then glob
// patterns in registration order. ok is false for unknown commands.
func (r *Registry) Lookup(name string, argv []string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.exact[name]; ok {
		return e, true
	}

	line := name
	if len(argv) > 0 {
		line = name + " " + strings.Join(argv, " ")
	}
	for _, e := range r.globs {
		if matched, err := path.Match(e.Pattern, line); err == nil && matched {
			return e, true
		}
	}
	return Entry{}, false
}

// CapabilitiesFor resolves the capability set a command line requires.
// Unknown commands get the conservative default: write access to the whole
// sandbox root, unrestricted network, process spawn. Over-declaring an
// unknown command's risk is deliberate; the gate then requires explicit
// permission instead of letting it slip through.
func (r *Registry) CapabilitiesFor(name string, argv []string) Set {
	if e, ok := r.Lookup(name, argv); ok {
		return e.Capabilities
	}
	r.logg.Debug("unknown command %q, using conservative default", name)
	return conservativeDefault(r.root)
}

// Known reports whether the command resolves to a cataloged entry.
func (r *Registry) Known(name string, argv []string) bool {
	_, ok := r.Lookup(name, argv)
	return ok
}

// Names returns the exact command names in the catalog, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exact))
	for n := range r.exact {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entries returns all entries, exact names sorted first, then glob patterns
// in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.exact)+len(r.globs))
	for _, n := range sortedKeys(r.exact) {
		out = append(out, r.exact[n])
	}
	out = append(out, r.globs...)
	return out
}

func sortedKeys(m map[string]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func conservativeDefault(root string) Set {
	return NewSet(FsWrite(root), NetworkConnect("*"), ProcessSpawn())
}

// builtinCatalog is the default command catalog. It errs toward declaring
// more access than common invocations use; the gate narrows from here.
func builtinCatalog(root string) []Entry {
	return []Entry{
		{Name: "git", Capabilities: NewSet(FsRead(root), FsWrite(root), NetworkConnect("*"), ProcessSpawn()), RequiresApproval: true, Description: "version control"},
		{Name: "npm", Capabilities: NewSet(FsRead(root), FsWrite(root), NetworkConnect("registry.npmjs.org"), ProcessSpawn()), Description: "node package manager"},
		{Name: "yarn", Capabilities: NewSet(FsRead(root), FsWrite(root), NetworkConnect("registry.yarnpkg.com"), ProcessSpawn()), Description: "node package manager"},
		{Name: "go", Capabilities: NewSet(FsRead(root), FsWrite(root), NetworkConnect("proxy.golang.org"), ProcessSpawn()), Description: "go toolchain"},
		{Name: "make", Capabilities: NewSet(FsRead(root), FsWrite(root), ProcessSpawn()), Description: "build runner"},
		{Name: "curl", Capabilities: NewSet(NetworkConnect("*")), Description: "network client"},
		{Name: "wget", Capabilities: NewSet(NetworkConnect("*"), FsWrite(root)), Description: "network downloader"},

		{Name: "cat", Capabilities: NewSet(FsRead(root)), Description: "read files"},
		{Name: "ls", Capabilities: NewSet(FsRead(root)), Description: "list directories"},
		{Name: "head", Capabilities: NewSet(FsRead(root)), Description: "read file prefix"},
		{Name: "tail", Capabilities: NewSet(FsRead(root)), Description: "read file suffix"},
		{Name: "grep", Capabilities: NewSet(FsRead(root)), Description: "search files"},
		{Name: "find", Capabilities: NewSet(FsRead(root)), Description: "walk tree"},

		{Name: "echo", Capabilities: NewSet(FsWrite(root)), Description: "print, possibly redirected"},
		{Name: "touch", Capabilities: NewSet(FsWrite(root)), Description: "create empty files"},
		{Name: "mkdir", Capabilities: NewSet(FsWrite(root)), Description: "create directories"},
		{Name: "cp", Capabilities: NewSet(FsRead(root), FsWrite(root)), Description: "copy files"},
		{Name: "mv", Capabilities: NewSet(FsRead(root), FsWrite(root)), Description: "move files"},
		{Name: "tee", Capabilities: NewSet(FsWrite(root)), Description: "duplicate output to files"},

		{Name: "rm", Capabilities: NewSet(FsWrite(root)), RequiresApproval: true, Description: "delete files"},
		{Name: "chmod", Capabilities: NewSet(FsWrite(root)), RequiresApproval: true, Description: "change permissions"},
		{Name: "sudo", Capabilities: NewSet(FsWrite(root), NetworkConnect("*"), ProcessSpawn()), RequiresApproval: true, Description: "privilege escalation"},

		{Pattern: "python*", Capabilities: NewSet(FsRead(root), FsWrite(root), ProcessSpawn()), Description: "python interpreter"},
		{Pattern: "node *", Capabilities: NewSet(FsRead(root), FsWrite(root), NetworkConnect("*"), ProcessSpawn()), Description: "node interpreter"},
	}
}
