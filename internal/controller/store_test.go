package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yksanjo/agent-sandbox/internal/policy"
	"github.com/yksanjo/agent-sandbox/internal/registry"
	"github.com/yksanjo/agent-sandbox/internal/vfs"
)

func TestStoreHistoryRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if recs, err := s.LoadHistory(); err != nil || len(recs) != 0 {
		t.Fatalf("fresh store history = %v, %v", recs, err)
	}

	first := HistoryRecord{ID: "a", Command: "echo", Mode: "run", State: "committed", Decision: "allow", ExecutedAt: time.Now().UTC()}
	second := HistoryRecord{ID: "b", Command: "rm", Mode: "run", State: "discarded", Decision: "deny", Error: "permission denied"}
	if err := s.AppendHistory(first); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := s.AppendHistory(second); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	recs, err := s.LoadHistory()
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a" || recs[1].ID != "b" {
		t.Errorf("history = %+v", recs)
	}
	if recs[1].Error != "permission denied" {
		t.Errorf("error not persisted: %+v", recs[1])
	}
}

func TestStorePending(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	desc := ActionDescriptor{Command: "rm", Argv: []string{"secret.key"}, TargetPaths: []string{"secret.key"}}
	if err := s.SavePending("id-1", desc); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	pending, err := s.LoadPending()
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	got, ok := pending["id-1"]
	if !ok || got.Command != "rm" || len(got.Argv) != 1 {
		t.Errorf("pending = %+v", pending)
	}

	ids, err := s.PendingIDs()
	if err != nil || len(ids) != 1 || ids[0] != "id-1" {
		t.Errorf("ids = %v, %v", ids, err)
	}

	if err := s.RemovePending("id-1"); err != nil {
		t.Fatalf("RemovePending: %v", err)
	}
	if err := s.RemovePending("id-1"); err != nil {
		t.Errorf("removing absent id should be a no-op: %v", err)
	}
	if ids, _ := s.PendingIDs(); len(ids) != 0 {
		t.Errorf("ids after removal = %v", ids)
	}
}

func TestStoreClear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.AppendHistory(HistoryRecord{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePending("y", ActionDescriptor{Command: "echo"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if recs, _ := s.LoadHistory(); len(recs) != 0 {
		t.Error("history should be empty after clear")
	}
	if ids, _ := s.PendingIDs(); len(ids) != 0 {
		t.Error("pending should be empty after clear")
	}
	if _, err := os.Stat(filepath.Join(dir, "pending")); err != nil {
		t.Errorf("pending dir should be recreated: %v", err)
	}
}

func TestControllerPersistsAcrossSessions(t *testing.T) {
	stateDir := t.TempDir()
	root := t.TempDir()

	// First session: an unresolved ask-user queues the action.
	sb1 := newStoredSandbox(t, root, stateDir)
	out, err := sb1.ctl.Submit(context.Background(), mustParse(t, "echo x > f.txt"))
	if err == nil {
		t.Fatal("expected unresolved ask-user error")
	}

	// Second session: the pending action is visible and approvable.
	sb2 := newStoredSandbox(t, root, stateDir)
	ids := sb2.ctl.Pending()
	if len(ids) != 1 || ids[0] != out.ID {
		t.Fatalf("pending across sessions = %v, want [%s]", ids, out.ID)
	}

	approved, err := sb2.ctl.Approve(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.State != StateCommitted {
		t.Errorf("state = %s, want committed", approved.State)
	}
	if _, err := os.Stat(filepath.Join(root, "f.txt")); err != nil {
		t.Errorf("approved commit missing: %v", err)
	}

	store, err := NewStore(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := store.LoadHistory()
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("history should span both sessions, got %d records", len(recs))
	}
	if recs[0].State != "aborted" || recs[1].State != "committed" {
		t.Errorf("history states = %s, %s", recs[0].State, recs[1].State)
	}
}

func newStoredSandbox(t *testing.T, root, stateDir string) *sandbox {
	t.Helper()
	fs, err := vfs.New(root)
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	store, err := NewStore(stateDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	gate := policy.NewGate(nil, false)
	ctl := New(fs, registry.New("."), gate, Options{Mode: ModeRun, Store: store})
	return &sandbox{root: root, fs: fs, gate: gate, ctl: ctl}
}
