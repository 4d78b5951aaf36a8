package engine

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/yksanjo/agent-sandbox/internal/logger"
)

// SimulatedEngine interprets a small set of well-known shell commands purely
// through the syscall handler. It exists so simulate and diff modes can
// predict filesystem effects without a program image; anything it does not
// understand is reported as having no filesystem effect.
type SimulatedEngine struct {
	logg *logger.Logger
}

func NewSimulatedEngine() *SimulatedEngine {
	return &SimulatedEngine{logg: logger.Global().WithPrefix("sim")}
}

// Execute interprets the action's command line. Exit code 0 means the
// interpretation succeeded; 1 means the command itself failed (missing
// operand, denied syscall, absent source file). Engine-internal failures
// return ErrEngineFault.
func (e *SimulatedEngine) Execute(ctx context.Context, action Action, h SyscallHandler) (Result, error) {
	if h == nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: no syscall handler", ErrEngineFault)
	}
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	argv, redirect := splitRedirect(action.Argv)

	switch action.Command {
	case "echo":
		return e.echo(argv, redirect, h)
	case "touch":
		return e.touch(argv, h)
	case "mkdir":
		return e.mkdir(argv, h)
	case "rm":
		return e.remove(argv, h)
	case "mv":
		return e.move(argv, h)
	case "cp":
		return e.copy(argv, h)
	case "cat":
		return e.cat(argv, redirect, h)
	case "ls":
		return e.list(argv, h)
	default:
		e.logg.Debug("no interpretation for %q, reporting no filesystem effect", action.Command)
		return Result{
			ExitCode: 0,
			Stdout:   fmt.Sprintf("[simulated] %s: no filesystem effect predicted\n", action.Command),
		}, nil
	}
}

// splitRedirect strips a trailing "> target" (or ">target") from argv.
func splitRedirect(argv []string) ([]string, string) {
	for i, a := range argv {
		if a == ">" && i+1 < len(argv) {
			return argv[:i], argv[i+1]
		}
		if strings.HasPrefix(a, ">") && len(a) > 1 {
			out := append([]string{}, argv[:i]...)
			return append(out, argv[i+1:]...), strings.TrimPrefix(a, ">")
		}
	}
	return argv, ""
}

// flagsAndOperands separates leading dash-flags from operands.
func flagsAndOperands(argv []string) (map[string]bool, []string) {
	flags := map[string]bool{}
	var ops []string
	for _, a := range argv {
		if strings.HasPrefix(a, "-") && a != "-" {
			for _, r := range strings.TrimPrefix(a, "-") {
				flags[string(r)] = true
			}
			continue
		}
		ops = append(ops, a)
	}
	return flags, ops
}

func (e *SimulatedEngine) echo(argv []string, redirect string, h SyscallHandler) (Result, error) {
	text := strings.Join(argv, " ") + "\n"
	if redirect == "" {
		return Result{ExitCode: 0, Stdout: text}, nil
	}
	if err := h.WriteFile(redirect, []byte(text)); err != nil {
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("echo: %s: %v\n", redirect, err)}, nil
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) touch(argv []string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	if len(ops) == 0 {
		return Result{ExitCode: 1, Stderr: "touch: missing file operand\n"}, nil
	}
	for _, p := range ops {
		if _, err := h.ReadFile(p); err == nil {
			// Exists already; content is unchanged.
			continue
		}
		if err := h.WriteFile(p, nil); err != nil {
			return Result{ExitCode: 1, Stderr: fmt.Sprintf("touch: %s: %v\n", p, err)}, nil
		}
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) mkdir(argv []string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	if len(ops) == 0 {
		return Result{ExitCode: 1, Stderr: "mkdir: missing operand\n"}, nil
	}
	for _, p := range ops {
		if err := h.Mkdir(p); err != nil {
			return Result{ExitCode: 1, Stderr: fmt.Sprintf("mkdir: %s: %v\n", p, err)}, nil
		}
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) remove(argv []string, h SyscallHandler) (Result, error) {
	flags, ops := flagsAndOperands(argv)
	if len(ops) == 0 {
		return Result{ExitCode: 1, Stderr: "rm: missing operand\n"}, nil
	}
	var errs []string
	for _, p := range ops {
		if err := h.Remove(p); err != nil {
			if flags["f"] {
				continue
			}
			errs = append(errs, fmt.Sprintf("rm: %s: %v", p, err))
		}
	}
	if len(errs) > 0 {
		return Result{ExitCode: 1, Stderr: strings.Join(errs, "\n") + "\n"}, nil
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) move(argv []string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	if len(ops) != 2 {
		return Result{ExitCode: 1, Stderr: "mv: expected source and destination\n"}, nil
	}
	if err := h.Rename(ops[0], ops[1]); err != nil {
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("mv: %v\n", err)}, nil
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) copy(argv []string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	if len(ops) != 2 {
		return Result{ExitCode: 1, Stderr: "cp: expected source and destination\n"}, nil
	}
	data, err := h.ReadFile(ops[0])
	if err != nil {
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("cp: %s: %v\n", ops[0], err)}, nil
	}
	dst := ops[1]
	if strings.HasSuffix(dst, "/") {
		dst = path.Join(dst, path.Base(ops[0]))
	}
	if err := h.WriteFile(dst, data); err != nil {
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("cp: %s: %v\n", dst, err)}, nil
	}
	return Result{ExitCode: 0}, nil
}

func (e *SimulatedEngine) cat(argv []string, redirect string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	var out strings.Builder
	for _, p := range ops {
		data, err := h.ReadFile(p)
		if err != nil {
			return Result{ExitCode: 1, Stderr: fmt.Sprintf("cat: %s: %v\n", p, err)}, nil
		}
		out.Write(data)
	}
	if redirect != "" {
		if err := h.WriteFile(redirect, []byte(out.String())); err != nil {
			return Result{ExitCode: 1, Stderr: fmt.Sprintf("cat: %s: %v\n", redirect, err)}, nil
		}
		return Result{ExitCode: 0}, nil
	}
	return Result{ExitCode: 0, Stdout: out.String()}, nil
}

func (e *SimulatedEngine) list(argv []string, h SyscallHandler) (Result, error) {
	_, ops := flagsAndOperands(argv)
	dir := "."
	if len(ops) > 0 {
		dir = ops[0]
	}
	names, err := h.List(dir)
	if err != nil {
		return Result{ExitCode: 1, Stderr: fmt.Sprintf("ls: %s: %v\n", dir, err)}, nil
	}
	if len(names) == 0 {
		return Result{ExitCode: 0}, nil
	}
	return Result{ExitCode: 0, Stdout: strings.Join(names, "\n") + "\n"}, nil
}
