package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yksanjo/agent-sandbox/internal/config"
	"github.com/yksanjo/agent-sandbox/internal/controller"
	"github.com/yksanjo/agent-sandbox/internal/logger"
	"github.com/yksanjo/agent-sandbox/internal/policy"
	"github.com/yksanjo/agent-sandbox/internal/registry"
	"github.com/yksanjo/agent-sandbox/internal/sessionlock"
	"github.com/yksanjo/agent-sandbox/internal/vfs"
)

// session bundles the wired-up core for one CLI invocation.
type session struct {
	cfg  *config.Config
	fs   *vfs.VFS
	reg  *registry.Registry
	gate *policy.Gate
	ctl  *controller.Controller
	lock *sessionlock.Lock
}

// newSession loads config, applies flag overrides, and wires the VFS,
// registry, gate and controller for the given mode.
func newSession(cmd *cobra.Command, mode controller.Mode) (*session, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if workingDir, _ := flags.GetString("working-dir"); workingDir != "" && workingDir != "." {
		cfg.SandboxRoot = workingDir
	}
	if catalog, _ := flags.GetString("catalog"); catalog != "" {
		cfg.RegistryPath = catalog
	}
	if allow, _ := flags.GetStringSlice("allow"); len(allow) > 0 {
		cfg.AllowCommands = append(cfg.AllowCommands, allow...)
	}
	if deny, _ := flags.GetStringSlice("deny"); len(deny) > 0 {
		cfg.DenyCommands = append(cfg.DenyCommands, deny...)
	}
	if denyPaths, _ := flags.GetStringSlice("deny-path"); len(denyPaths) > 0 {
		cfg.DenyPaths = append(cfg.DenyPaths, denyPaths...)
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
	}

	fs, err := vfs.New(cfg.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox root: %w", err)
	}
	if err := fs.StartWatcher(); err != nil {
		logger.Global().Warn("external-change watcher unavailable: %v", err)
	}

	reg := registry.New(cfg.SandboxRoot)
	if cfg.RegistryPath != "" {
		if err := reg.LoadCatalog(cfg.RegistryPath); err != nil {
			return nil, err
		}
	}

	allowAll, _ := flags.GetBool("allow-all")
	gate := policy.NewGate(cfg.AllowCommands, allowAll)
	for _, name := range cfg.DenyCommands {
		gate.DenyCommand(name)
	}
	for _, p := range cfg.DenyPaths {
		gate.DenyPath(p)
	}

	stateDir := config.GetStateDir()
	lock, err := sessionlock.Acquire(stateDir)
	if err != nil {
		return nil, err
	}

	store, err := controller.NewStore(stateDir)
	if err != nil {
		lock.Release()
		return nil, err
	}

	var confirmer policy.Confirmer
	if nonInteractive, _ := flags.GetBool("non-interactive"); !nonInteractive {
		confirmer = &promptConfirmer{}
	}

	ctl := controller.New(fs, reg, gate, controller.Options{
		Mode:       mode,
		Confirmer:  confirmer,
		AskTimeout: time.Duration(cfg.AskUserTimeoutSeconds) * time.Second,
		Store:      store,
	})

	return &session{cfg: cfg, fs: fs, reg: reg, gate: gate, ctl: ctl, lock: lock}, nil
}

func (s *session) close() {
	if err := s.fs.StopWatcher(); err != nil {
		logger.Global().Warn("failed to stop watcher: %v", err)
	}
	if err := s.lock.Release(); err != nil {
		logger.Global().Warn("failed to release session lock: %v", err)
	}
}

// promptConfirmer asks the terminal user to approve an action. It reads a
// single y/n line from stdin; context expiry denies.
type promptConfirmer struct{}

func (p *promptConfirmer) Confirm(ctx context.Context, command, reason string) (bool, error) {
	fmt.Printf("%s\nAllow %q? [y/N] ", reason, command)

	answers := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			answers <- ""
			return
		}
		answers <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case answer := <-answers:
		return answer == "y" || answer == "yes", nil
	case <-ctx.Done():
		fmt.Println()
		return false, ctx.Err()
	}
}

// printOutcome renders one terminal outcome for the CLI.
func printOutcome(out *controller.Outcome, showUnified bool) {
	fmt.Printf("[%s] %s  decision=%s  state=%s\n",
		out.ID[:8], out.Descriptor.CommandLine(), out.Decision.Effect, out.State)
	if out.Decision.Reason != "" {
		fmt.Printf("  reason: %s\n", out.Decision.Reason)
	}
	if out.Result.Stdout != "" {
		fmt.Print(out.Result.Stdout)
	}
	if out.Result.Stderr != "" {
		fmt.Fprint(os.Stderr, out.Result.Stderr)
	}

	if showUnified {
		fmt.Print(out.Diff.Format())
	} else {
		fmt.Print(out.Diff.Summary())
	}

	for _, f := range out.Secrets {
		fmt.Fprintf(os.Stderr, "warning: possible secret: %s\n", f)
	}
}
