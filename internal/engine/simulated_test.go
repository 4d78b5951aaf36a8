package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
)

// fakeHandler is a map-backed syscall handler for interpreter tests.
type fakeHandler struct {
	files   map[string][]byte
	dirs    map[string]bool
	denied  map[string]bool
	spawned []string
	dialed  []string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		files:  make(map[string][]byte),
		dirs:   make(map[string]bool),
		denied: make(map[string]bool),
	}
}

var errDenied = errors.New("denied")

func (f *fakeHandler) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeHandler) WriteFile(path string, data []byte) error {
	if f.denied[path] {
		return errDenied
	}
	f.files[path] = data
	return nil
}

func (f *fakeHandler) Remove(path string) error {
	if f.denied[path] {
		return errDenied
	}
	if _, ok := f.files[path]; !ok {
		return errors.New("not found")
	}
	delete(f.files, path)
	return nil
}

func (f *fakeHandler) Mkdir(path string) error {
	f.dirs[path] = true
	return nil
}

func (f *fakeHandler) Rename(oldPath, newPath string) error {
	data, ok := f.files[oldPath]
	if !ok {
		return errors.New("not found")
	}
	f.files[newPath] = data
	delete(f.files, oldPath)
	return nil
}

func (f *fakeHandler) List(string) ([]string, error) {
	var names []string
	for p := range f.files {
		names = append(names, p)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeHandler) Connect(host string) error {
	if f.denied[host] {
		return errDenied
	}
	f.dialed = append(f.dialed, host)
	return nil
}

func (f *fakeHandler) Spawn(command string, argv []string) error {
	if f.denied[command] {
		return errDenied
	}
	f.spawned = append(f.spawned, command)
	return nil
}

func TestSimulatedEcho(t *testing.T) {
	e := NewSimulatedEngine()
	h := newFakeHandler()

	t.Run("to stdout", func(t *testing.T) {
		res, err := e.Execute(context.Background(), Action{Command: "echo", Argv: []string{"hello", "world"}}, h)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.ExitCode != 0 || res.Stdout != "hello world\n" {
			t.Errorf("got exit=%d stdout=%q", res.ExitCode, res.Stdout)
		}
	})

	t.Run("redirected", func(t *testing.T) {
		res, err := e.Execute(context.Background(), Action{Command: "echo", Argv: []string{"content", ">", "out.txt"}}, h)
		if err != nil || res.ExitCode != 0 {
			t.Fatalf("got exit=%d err=%v", res.ExitCode, err)
		}
		if string(h.files["out.txt"]) != "content\n" {
			t.Errorf("out.txt = %q", h.files["out.txt"])
		}
	})

	t.Run("joined redirect", func(t *testing.T) {
		if _, err := e.Execute(context.Background(), Action{Command: "echo", Argv: []string{"x", ">joined.txt"}}, h); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if string(h.files["joined.txt"]) != "x\n" {
			t.Errorf("joined.txt = %q", h.files["joined.txt"])
		}
	})

	t.Run("denied write fails the command", func(t *testing.T) {
		h.denied["locked.txt"] = true
		res, err := e.Execute(context.Background(), Action{Command: "echo", Argv: []string{"x", ">", "locked.txt"}}, h)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.ExitCode != 1 || !strings.Contains(res.Stderr, "locked.txt") {
			t.Errorf("got exit=%d stderr=%q", res.ExitCode, res.Stderr)
		}
	})
}

func TestSimulatedFileCommands(t *testing.T) {
	e := NewSimulatedEngine()
	ctx := context.Background()

	t.Run("rm", func(t *testing.T) {
		h := newFakeHandler()
		h.files["doomed.txt"] = []byte("x")
		res, err := e.Execute(ctx, Action{Command: "rm", Argv: []string{"doomed.txt"}}, h)
		if err != nil || res.ExitCode != 0 {
			t.Fatalf("exit=%d err=%v", res.ExitCode, err)
		}
		if _, ok := h.files["doomed.txt"]; ok {
			t.Error("file should be removed")
		}
	})

	t.Run("rm missing fails without -f", func(t *testing.T) {
		h := newFakeHandler()
		res, _ := e.Execute(ctx, Action{Command: "rm", Argv: []string{"absent.txt"}}, h)
		if res.ExitCode != 1 {
			t.Errorf("exit=%d, want 1", res.ExitCode)
		}
		res, _ = e.Execute(ctx, Action{Command: "rm", Argv: []string{"-f", "absent.txt"}}, h)
		if res.ExitCode != 0 {
			t.Errorf("rm -f should tolerate missing file, exit=%d", res.ExitCode)
		}
	})

	t.Run("mv", func(t *testing.T) {
		h := newFakeHandler()
		h.files["a.txt"] = []byte("payload")
		res, _ := e.Execute(ctx, Action{Command: "mv", Argv: []string{"a.txt", "b.txt"}}, h)
		if res.ExitCode != 0 {
			t.Fatalf("exit=%d stderr=%q", res.ExitCode, res.Stderr)
		}
		if string(h.files["b.txt"]) != "payload" {
			t.Errorf("b.txt = %q", h.files["b.txt"])
		}
	})

	t.Run("cp", func(t *testing.T) {
		h := newFakeHandler()
		h.files["src.txt"] = []byte("payload")
		res, _ := e.Execute(ctx, Action{Command: "cp", Argv: []string{"src.txt", "dst.txt"}}, h)
		if res.ExitCode != 0 {
			t.Fatalf("exit=%d stderr=%q", res.ExitCode, res.Stderr)
		}
		if string(h.files["src.txt"]) != "payload" || string(h.files["dst.txt"]) != "payload" {
			t.Error("cp should leave source intact and create destination")
		}
	})

	t.Run("touch preserves existing content", func(t *testing.T) {
		h := newFakeHandler()
		h.files["kept.txt"] = []byte("keep me")
		res, _ := e.Execute(ctx, Action{Command: "touch", Argv: []string{"kept.txt", "new.txt"}}, h)
		if res.ExitCode != 0 {
			t.Fatalf("exit=%d", res.ExitCode)
		}
		if string(h.files["kept.txt"]) != "keep me" {
			t.Error("touch must not truncate existing files")
		}
		if _, ok := h.files["new.txt"]; !ok {
			t.Error("touch should create missing files")
		}
	})

	t.Run("mkdir", func(t *testing.T) {
		h := newFakeHandler()
		res, _ := e.Execute(ctx, Action{Command: "mkdir", Argv: []string{"-p", "a/b"}}, h)
		if res.ExitCode != 0 || !h.dirs["a/b"] {
			t.Errorf("exit=%d dirs=%v", res.ExitCode, h.dirs)
		}
	})

	t.Run("cat concatenates", func(t *testing.T) {
		h := newFakeHandler()
		h.files["one"] = []byte("1\n")
		h.files["two"] = []byte("2\n")
		res, _ := e.Execute(ctx, Action{Command: "cat", Argv: []string{"one", "two"}}, h)
		if res.Stdout != "1\n2\n" {
			t.Errorf("stdout = %q", res.Stdout)
		}
	})

	t.Run("ls", func(t *testing.T) {
		h := newFakeHandler()
		h.files["z"] = nil
		h.files["a"] = nil
		res, _ := e.Execute(ctx, Action{Command: "ls", Argv: nil}, h)
		if res.Stdout != "a\nz\n" {
			t.Errorf("stdout = %q", res.Stdout)
		}
	})
}

func TestSimulatedUnknownCommand(t *testing.T) {
	e := NewSimulatedEngine()
	h := newFakeHandler()
	res, err := e.Execute(context.Background(), Action{Command: "terraform", Argv: []string{"apply"}}, h)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("unknown command should succeed with no effect, exit=%d", res.ExitCode)
	}
	if len(h.files) != 0 {
		t.Error("unknown command must not predict file changes")
	}
}

func TestSimulatedFaults(t *testing.T) {
	e := NewSimulatedEngine()

	if _, err := e.Execute(context.Background(), Action{Command: "echo"}, nil); !errors.Is(err, ErrEngineFault) {
		t.Errorf("nil handler should be an engine fault, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Execute(ctx, Action{Command: "echo"}, newFakeHandler()); err == nil {
		t.Error("cancelled context should error")
	}
}

func TestWazeroEngineFaults(t *testing.T) {
	e := NewWazeroEngine()

	if _, err := e.Execute(context.Background(), Action{Command: "prog"}, newFakeHandler()); !errors.Is(err, ErrEngineFault) {
		t.Errorf("missing image should be an engine fault, got %v", err)
	}
	if _, err := e.Execute(context.Background(), Action{Command: "prog", Image: []byte{1}}, nil); !errors.Is(err, ErrEngineFault) {
		t.Errorf("nil handler should be an engine fault, got %v", err)
	}
	if _, err := e.Execute(context.Background(), Action{Command: "prog", Image: []byte("not wasm")}, newFakeHandler()); !errors.Is(err, ErrEngineFault) {
		t.Errorf("bad image should be an engine fault, got %v", err)
	}
}
