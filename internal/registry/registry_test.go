package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetSemantics(t *testing.T) {
	s := NewSet(FsRead("."), FsRead("."), FsWrite("."), ProcessSpawn())
	if len(s) != 3 {
		t.Errorf("duplicates should collapse, got %d entries: %s", len(s), s)
	}
	if !s.Contains(FsRead(".")) {
		t.Error("set should contain fs-read(.)")
	}
	if s.Contains(NetworkConnect("*")) {
		t.Error("set should not contain network capability")
	}
	if !s.HasKind(KindProcessSpawn) {
		t.Error("set should report process-spawn kind")
	}
}

func TestLookupExactBeforeGlob(t *testing.T) {
	r := NewEmpty(".")
	r.Register(Entry{Pattern: "git *", Capabilities: NewSet(NetworkConnect("*"))})
	r.Register(Entry{Name: "git", Capabilities: NewSet(FsRead("."))})

	e, ok := r.Lookup("git", []string{"push"})
	if !ok {
		t.Fatal("git should be found")
	}
	if !e.Capabilities.Contains(FsRead(".")) {
		t.Errorf("exact entry should win over glob, got %s", e.Capabilities)
	}
}

func TestLookupGlobFirstMatchWins(t *testing.T) {
	r := NewEmpty(".")
	r.Register(Entry{Pattern: "npm install*", Capabilities: NewSet(NetworkConnect("registry.npmjs.org"))})
	r.Register(Entry{Pattern: "npm *", Capabilities: NewSet(ProcessSpawn())})

	e, ok := r.Lookup("npm", []string{"install", "left-pad"})
	if !ok {
		t.Fatal("npm install should match a glob")
	}
	if !e.Capabilities.Contains(NetworkConnect("registry.npmjs.org")) {
		t.Errorf("first registered matching glob should win, got %s", e.Capabilities)
	}

	e, ok = r.Lookup("npm", []string{"run", "test"})
	if !ok || !e.Capabilities.Contains(ProcessSpawn()) {
		t.Errorf("npm run should fall through to the broader glob, got %s", e.Capabilities)
	}
}

func TestUnknownCommandConservativeDefault(t *testing.T) {
	r := NewEmpty("/work")
	caps := r.CapabilitiesFor("mystery-binary", nil)

	if !caps.Contains(FsWrite("/work")) {
		t.Errorf("unknown command should require sandbox-wide write, got %s", caps)
	}
	if !caps.Contains(NetworkConnect("*")) {
		t.Errorf("unknown command should require unrestricted network, got %s", caps)
	}
	if !caps.Contains(ProcessSpawn()) {
		t.Errorf("unknown command should require process spawn, got %s", caps)
	}
	if r.Known("mystery-binary", nil) {
		t.Error("Known should be false for uncataloged commands")
	}
}

func TestBuiltinCatalog(t *testing.T) {
	r := New("/work")

	tests := []struct {
		name     string
		want     Capability
		approval bool
	}{
		{"cat", FsRead("/work"), false},
		{"curl", NetworkConnect("*"), false},
		{"rm", FsWrite("/work"), true},
		{"git", NetworkConnect("*"), true},
		{"sudo", ProcessSpawn(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := r.Lookup(tt.name, nil)
			if !ok {
				t.Fatalf("%s missing from builtin catalog", tt.name)
			}
			if !e.Capabilities.Contains(tt.want) {
				t.Errorf("%s capabilities = %s, want %s included", tt.name, e.Capabilities, tt.want)
			}
			if e.RequiresApproval != tt.approval {
				t.Errorf("%s RequiresApproval = %v, want %v", tt.name, e.RequiresApproval, tt.approval)
			}
		})
	}

	if !r.CapabilitiesFor("python3", []string{"gen.py"}).Contains(ProcessSpawn()) {
		t.Error("python3 should match the python* pattern")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New(".")
	names := r.Names()
	if len(names) == 0 {
		t.Fatal("builtin catalog should have names")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %s before %s", names[i-1], names[i])
		}
	}
}

func TestLoadCatalog(t *testing.T) {
	catalog := `
commands:
  - name: terraform
    capabilities:
      - kind: fs-write
        scope: .
      - kind: network
        scope: "*.hashicorp.com"
      - kind: process-spawn
    requires_approval: true
  - pattern: "docker *"
    capabilities:
      - kind: process-spawn
  - name: rm
    capabilities:
      - kind: fs-read
`
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	r := New("/work")
	if err := r.LoadCatalog(path); err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	t.Run("new entry with scope defaulting", func(t *testing.T) {
		e, ok := r.Lookup("terraform", nil)
		if !ok {
			t.Fatal("terraform should be loaded")
		}
		if !e.Capabilities.Contains(FsWrite("/work")) {
			t.Errorf("scope '.' should resolve to sandbox root, got %s", e.Capabilities)
		}
		if !e.Capabilities.Contains(NetworkConnect("*.hashicorp.com")) {
			t.Errorf("host scope should be preserved, got %s", e.Capabilities)
		}
		if !e.RequiresApproval {
			t.Error("requires_approval should carry over")
		}
	})

	t.Run("glob entry", func(t *testing.T) {
		if !r.Known("docker", []string{"build", "."}) {
			t.Error("docker build should match loaded glob")
		}
	})

	t.Run("override builtin", func(t *testing.T) {
		e, _ := r.Lookup("rm", nil)
		if e.Capabilities.Contains(FsWrite("/work")) {
			t.Errorf("loaded rm entry should replace the builtin, got %s", e.Capabilities)
		}
		if !e.Capabilities.Contains(FsRead("/work")) {
			t.Errorf("loaded rm entry should be read-only, got %s", e.Capabilities)
		}
	})
}

func TestLoadCatalogErrors(t *testing.T) {
	r := New(".")
	if err := r.LoadCatalog("/does/not/exist.yaml"); err == nil {
		t.Error("missing file should error")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("commands:\n  - capabilities: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.LoadCatalog(bad); err == nil {
		t.Error("entry without name or pattern should error")
	}
}
