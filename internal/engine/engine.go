// Package engine runs agent-submitted programs. Engines never touch the real
// filesystem: every filesystem effect goes through the SyscallHandler the
// controller supplies, and network/process access is refused unless the
// handler grants it.
package engine

import (
	"context"
	"errors"
)

// ErrEngineFault marks an internal failure of the execution engine. It is
// fatal to the action, not the session.
var ErrEngineFault = errors.New("execution engine fault")

// Action is one program to run: a command line and, for the WASI engine, a
// compiled program image.
type Action struct {
	Command string
	Argv    []string
	// Image is the WASI program to run. The simulated engine ignores it.
	Image []byte
	// Stdin is fed to the program, when the engine supports it.
	Stdin []byte
}

// Result is the observable outcome of one execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SyscallHandler bridges program syscalls to the virtual filesystem and the
// permission decision. Filesystem methods operate on sandbox-relative paths.
// Connect and Spawn return an error when the capability was denied; the
// engine must then refuse the operation and keep running or fail the
// program, never bypass the handler.
type SyscallHandler interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Remove(path string) error
	Mkdir(path string) error
	Rename(oldPath, newPath string) error
	List(path string) ([]string, error)
	Connect(host string) error
	Spawn(command string, argv []string) error
}

// Engine executes one action against a syscall handler.
type Engine interface {
	Execute(ctx context.Context, action Action, h SyscallHandler) (Result, error)
}
