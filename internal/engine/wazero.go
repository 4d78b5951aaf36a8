package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/yksanjo/agent-sandbox/internal/logger"
)

// WazeroEngine runs WASI program images in an in-process wazero runtime.
// The guest reaches the outside world only through the host functions
// registered on the "env" module, all of which forward to the controller's
// syscall handler. Host-level filesystem mounts are never configured, so a
// guest cannot bypass the overlay.
type WazeroEngine struct {
	logg *logger.Logger
}

func NewWazeroEngine() *WazeroEngine {
	return &WazeroEngine{logg: logger.Global().WithPrefix("wazero")}
}

// Execute compiles and runs the action's program image. The program's
// _start is invoked; a sys.ExitError carries the guest exit code. Compile
// and instantiation failures are engine faults.
func (e *WazeroEngine) Execute(ctx context.Context, action Action, h SyscallHandler) (Result, error) {
	if len(action.Image) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("%w: no program image for %s", ErrEngineFault, action.Command)
	}
	if h == nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: no syscall handler", ErrEngineFault)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	if err := e.instantiateHostModule(ctx, r, h); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: host module: %v", ErrEngineFault, err)
	}

	mod, err := r.CompileModule(ctx, action.Image)
	if err != nil {
		e.logg.Debug("compilation failed for %s: %v", action.Command, err)
		return Result{ExitCode: -1}, fmt.Errorf("%w: compile %s: %v", ErrEngineFault, action.Command, err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName(action.Command).
		WithArgs(append([]string{action.Command}, action.Argv...)...).
		WithStdin(bytes.NewReader(action.Stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithSysWalltime().
		WithSysNanotime()

	inst, err := r.InstantiateModule(ctx, mod, config)
	if err != nil {
		// Some guests call proc_exit during _start; that surfaces here.
		if exitErr, ok := err.(*sys.ExitError); ok {
			return Result{ExitCode: int(exitErr.ExitCode()), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return Result{ExitCode: -1, Stderr: stderr.String()}, fmt.Errorf("%w: instantiate %s: %v", ErrEngineFault, action.Command, err)
	}
	defer inst.Close(ctx)

	startFn := inst.ExportedFunction("_start")
	if startFn == nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s exports no _start", ErrEngineFault, action.Command)
	}

	resultChan := make(chan error, 1)
	exitCode := 0
	go func() {
		_, callErr := startFn.Call(ctx)
		if exitErr, ok := callErr.(*sys.ExitError); ok {
			exitCode = int(exitErr.ExitCode())
			callErr = nil
		}
		resultChan <- callErr
	}()

	select {
	case err := <-resultChan:
		if err != nil {
			return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()},
				fmt.Errorf("%w: %s: %v", ErrEngineFault, action.Command, err)
		}
	case <-ctx.Done():
		e.logg.Warn("killing %s: %v", action.Command, ctx.Err())
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}

	return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// instantiateHostModule registers the syscall surface the guest imports
// from module "env". Status convention: >= 0 success (byte count where one
// applies), -1 failure, -2 permission refused.
func (e *WazeroEngine) instantiateHostModule(ctx context.Context, r wazero.Runtime, h SyscallHandler) error {
	const (
		statusErr    = -1
		statusDenied = -2
	)

	readStr := func(m api.Module, ptr, length uint32) (string, bool) {
		b, ok := m.Memory().Read(ptr, length)
		if !ok {
			return "", false
		}
		return string(b), true
	}

	builder := r.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, pathPtr, pathLen, bufPtr, bufCap uint32) int32 {
			p, ok := readStr(m, pathPtr, pathLen)
			if !ok {
				return statusErr
			}
			data, err := h.ReadFile(p)
			if err != nil {
				return statusErr
			}
			if uint32(len(data)) > bufCap {
				data = data[:bufCap]
			}
			if !m.Memory().Write(bufPtr, data) {
				return statusErr
			}
			return int32(len(data))
		}).
		Export("read_file")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, pathPtr, pathLen, dataPtr, dataLen uint32) int32 {
			p, ok := readStr(m, pathPtr, pathLen)
			if !ok {
				return statusErr
			}
			var data []byte
			if dataLen > 0 {
				data, ok = m.Memory().Read(dataPtr, dataLen)
				if !ok {
					return statusErr
				}
			}
			if err := h.WriteFile(p, data); err != nil {
				return statusErr
			}
			return int32(dataLen)
		}).
		Export("write_file")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
			p, ok := readStr(m, pathPtr, pathLen)
			if !ok {
				return statusErr
			}
			if err := h.Remove(p); err != nil {
				return statusErr
			}
			return 0
		}).
		Export("remove_path")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, pathPtr, pathLen uint32) int32 {
			p, ok := readStr(m, pathPtr, pathLen)
			if !ok {
				return statusErr
			}
			if err := h.Mkdir(p); err != nil {
				return statusErr
			}
			return 0
		}).
		Export("make_dir")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, oldPtr, oldLen, newPtr, newLen uint32) int32 {
			oldPath, ok := readStr(m, oldPtr, oldLen)
			if !ok {
				return statusErr
			}
			newPath, ok := readStr(m, newPtr, newLen)
			if !ok {
				return statusErr
			}
			if err := h.Rename(oldPath, newPath); err != nil {
				return statusErr
			}
			return 0
		}).
		Export("rename_path")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, pathPtr, pathLen, bufPtr, bufCap uint32) int32 {
			p, ok := readStr(m, pathPtr, pathLen)
			if !ok {
				return statusErr
			}
			names, err := h.List(p)
			if err != nil {
				return statusErr
			}
			joined := []byte(strings.Join(names, "\n"))
			if uint32(len(joined)) > bufCap {
				joined = joined[:bufCap]
			}
			if !m.Memory().Write(bufPtr, joined) {
				return statusErr
			}
			return int32(len(joined))
		}).
		Export("list_dir")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, hostPtr, hostLen uint32) int32 {
			host, ok := readStr(m, hostPtr, hostLen)
			if !ok {
				return statusErr
			}
			if err := h.Connect(host); err != nil {
				e.logg.Info("refused connect to %s: %v", host, err)
				return statusDenied
			}
			return 0
		}).
		Export("net_connect")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, cmdPtr, cmdLen uint32) int32 {
			line, ok := readStr(m, cmdPtr, cmdLen)
			if !ok {
				return statusErr
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				return statusErr
			}
			if err := h.Spawn(parts[0], parts[1:]); err != nil {
				e.logg.Info("refused spawn of %s: %v", parts[0], err)
				return statusDenied
			}
			return 0
		}).
		Export("spawn")

	_, err := builder.Instantiate(ctx)
	return err
}
