package controller

import (
	"fmt"

	"github.com/yksanjo/agent-sandbox/internal/policy"
	"github.com/yksanjo/agent-sandbox/internal/vfs"
)

// overlayHandler forwards a running program's syscalls to the VFS overlay.
// Filesystem calls always land in the overlay, whatever the permission
// decision was; the decision only governs whether the overlay later commits.
// Network and spawn calls are refused outright unless the action was
// allowed, because they cannot be virtualized and undone.
type overlayHandler struct {
	fs       *vfs.VFS
	decision policy.Decision
}

func (o *overlayHandler) ReadFile(path string) ([]byte, error) {
	return o.fs.Read(path)
}

func (o *overlayHandler) WriteFile(path string, data []byte) error {
	return o.fs.Write(path, data)
}

func (o *overlayHandler) Remove(path string) error {
	return o.fs.Delete(path)
}

func (o *overlayHandler) Mkdir(path string) error {
	return o.fs.Mkdir(path)
}

func (o *overlayHandler) Rename(oldPath, newPath string) error {
	return o.fs.Rename(oldPath, newPath)
}

func (o *overlayHandler) List(path string) ([]string, error) {
	return o.fs.List(path)
}

func (o *overlayHandler) Connect(host string) error {
	if o.decision.Effect != policy.Allow {
		return fmt.Errorf("connect to %s: %w (%s)", host, policy.ErrPermissionDenied, o.decision.Reason)
	}
	return nil
}

func (o *overlayHandler) Spawn(command string, argv []string) error {
	if o.decision.Effect != policy.Allow {
		return fmt.Errorf("spawn %s: %w (%s)", command, policy.ErrPermissionDenied, o.decision.Reason)
	}
	return nil
}
