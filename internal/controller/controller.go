// Package controller orchestrates one agent action end to end: capability
// resolution, permission decision, execution against the virtual filesystem
// overlay, diff computation, and the final commit-or-discard step. Actions
// are processed strictly one at a time per controller.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-sandbox/internal/diffengine"
	"github.com/yksanjo/agent-sandbox/internal/engine"
	"github.com/yksanjo/agent-sandbox/internal/logger"
	"github.com/yksanjo/agent-sandbox/internal/policy"
	"github.com/yksanjo/agent-sandbox/internal/registry"
	"github.com/yksanjo/agent-sandbox/internal/secretscan"
	"github.com/yksanjo/agent-sandbox/internal/vfs"
)

// Mode selects what happens to the overlay after execution.
type Mode int

const (
	// ModeRun commits allowed actions onto the real filesystem.
	ModeRun Mode = iota
	// ModeSimulate executes in the overlay and always discards.
	ModeSimulate
	// ModeDiff executes in the overlay, reports the diff, and discards.
	ModeDiff
)

// String returns string representation of a mode
func (m Mode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModeSimulate:
		return "simulate"
	case ModeDiff:
		return "diff"
	default:
		return "unknown"
	}
}

// ParseMode maps the CLI's mode names onto Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "run", "live", "":
		return ModeRun, nil
	case "sim", "simulate", "simulation":
		return ModeSimulate, nil
	case "diff", "preview":
		return ModeDiff, nil
	default:
		return ModeRun, fmt.Errorf("unknown mode %q", s)
	}
}

// State is a position in the action state machine. Terminal states are
// Committed, Discarded and Aborted.
type State int

const (
	StateIdle State = iota
	StateCapabilityResolved
	StatePermissionDecided
	StateExecuted
	StateCommitted
	StateDiscarded
	StateAborted
)

// String returns string representation of a state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapabilityResolved:
		return "capability-resolved"
	case StatePermissionDecided:
		return "permission-decided"
	case StateExecuted:
		return "executed"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ActionDescriptor is the immutable unit of work submitted to the
// controller.
type ActionDescriptor struct {
	Command        string
	Argv           []string
	TargetPaths    []string
	NetworkTargets []string
	// Image is the WASI program for engine-executed actions; empty means
	// the simulated interpreter handles the command.
	Image []byte
}

// ParseAction builds a descriptor from a raw command line, inferring target
// paths and network endpoints from the arguments.
func ParseAction(line string) (ActionDescriptor, error) {
	words, err := SplitCommandLine(line)
	if err != nil {
		return ActionDescriptor{}, fmt.Errorf("failed to parse command line: %w", err)
	}
	if len(words) == 0 {
		return ActionDescriptor{}, errors.New("empty command")
	}
	paths, hosts := inferTargets(words[1:])
	return ActionDescriptor{
		Command:        words[0],
		Argv:           words[1:],
		TargetPaths:    paths,
		NetworkTargets: hosts,
	}, nil
}

// CommandLine reassembles the descriptor for display.
func (d ActionDescriptor) CommandLine() string {
	line := d.Command
	for _, a := range d.Argv {
		line += " " + a
	}
	return line
}

// Outcome is the terminal record of one action. Every outcome carries the
// diff between the pre- and post-action snapshots, whatever the terminal
// state was.
type Outcome struct {
	ID           string
	Descriptor   ActionDescriptor
	State        State
	Decision     policy.Decision
	Capabilities registry.Set
	Result       engine.Result
	Diff         diffengine.Diff
	// Secrets holds advisory findings from scanning the diff's new
	// content. They never change the terminal state.
	Secrets    []secretscan.Finding
	Err        error
	ExecutedAt time.Time
}

// Status is a pure read of controller and overlay state.
type Status struct {
	Mode                Mode
	PendingChangesCount int
	PendingApprovals    int
	HistoryCount        int
	LastDecision        string
	DirtyRealPaths      []string
}

// Controller wires the registry, gate, VFS, diff engine and execution
// engine together.
type Controller struct {
	mu        sync.Mutex
	fs        *vfs.VFS
	reg       *registry.Registry
	gate      *policy.Gate
	eng       engine.Engine
	confirmer policy.Confirmer
	// askTimeout bounds a confirmation round; on expiry the action is
	// denied, never allowed.
	askTimeout time.Duration
	mode       Mode

	history []Outcome
	pending map[string]ActionDescriptor
	// store, when set, persists history and pending approvals across
	// sessions.
	store *Store

	lastDecision string
	scanner      *secretscan.Scanner
	logg         *logger.Logger
}

// Options configures a controller. Zero-value fields get defaults;
// Confirmer may stay nil for non-interactive sessions.
type Options struct {
	Mode       Mode
	Engine     engine.Engine
	Confirmer  policy.Confirmer
	AskTimeout time.Duration
	Store      *Store
}

// New builds a controller over an existing VFS, registry and gate.
func New(fs *vfs.VFS, reg *registry.Registry, gate *policy.Gate, opts Options) *Controller {
	eng := opts.Engine
	if eng == nil {
		eng = engine.NewSimulatedEngine()
	}
	timeout := opts.AskTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Controller{
		fs:         fs,
		reg:        reg,
		gate:       gate,
		eng:        eng,
		confirmer:  opts.Confirmer,
		askTimeout: timeout,
		mode:       opts.Mode,
		pending:    make(map[string]ActionDescriptor),
		store:      opts.Store,
		scanner:    secretscan.NewScanner(),
		logg:       logger.Global().WithPrefix("controller"),
	}
}

// Mode returns the session mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Submit processes one action to completion. The returned outcome is always
// non-nil and terminal; the error mirrors Outcome.Err for callers that
// prefer error flow.
func (c *Controller) Submit(ctx context.Context, desc ActionDescriptor) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processLocked(ctx, desc, nil)
}

// processLocked runs the state machine. forced, when non-nil, substitutes
// the permission decision (used by Approve).
func (c *Controller) processLocked(ctx context.Context, desc ActionDescriptor, forced *policy.Decision) (*Outcome, error) {
	out := &Outcome{
		ID:         uuid.NewString(),
		Descriptor: desc,
		ExecutedAt: time.Now(),
	}

	// Idle -> CapabilityResolved
	out.Capabilities = c.reg.CapabilitiesFor(desc.Command, desc.Argv)
	entry, known := c.reg.Lookup(desc.Command, desc.Argv)

	// CapabilityResolved -> PermissionDecided
	req := policy.Request{
		Command:          desc.Command,
		Argv:             desc.Argv,
		Capabilities:     out.Capabilities,
		TargetPaths:      desc.TargetPaths,
		NetworkTargets:   desc.NetworkTargets,
		RequiresApproval: known && entry.RequiresApproval,
	}
	if forced != nil {
		out.Decision = *forced
	} else {
		out.Decision = c.gate.Decide(req)
	}

	if out.Decision.Effect == policy.AskUser {
		resolved, err := c.resolveAskUser(ctx, req, out)
		if err != nil {
			// Aborted terminal: queue for later approval, no VFS mutation.
			c.finishLocked(out, StateAborted, err)
			c.pending[out.ID] = desc
			if c.store != nil {
				if serr := c.store.SavePending(out.ID, desc); serr != nil {
					c.logg.Warn("failed to persist pending action %s: %v", out.ID, serr)
				}
			}
			c.logg.Info("action %s queued for approval: %s", out.ID, desc.CommandLine())
			return out, err
		}
		out.Decision = resolved
	}

	// PermissionDecided -> Executed. The action always runs in the overlay,
	// even when denied, so the diff shows what was attempted.
	pre := c.fs.Snapshot()
	result, execErr := c.eng.Execute(ctx, engine.Action{
		Command: desc.Command,
		Argv:    desc.Argv,
		Image:   desc.Image,
	}, &overlayHandler{fs: c.fs, decision: out.Decision})
	out.Result = result

	post := c.fs.Snapshot()
	diff, diffErr := diffengine.Compute(c.fs, pre, post)
	if diffErr != nil {
		c.logg.Error("diff computation failed: %v", diffErr)
	}
	out.Diff = diff
	out.Secrets = c.scanDiff(diff)

	if execErr != nil {
		// Engine fault is fatal to the action only; unwind its overlay
		// effects and return to idle for the next action.
		c.fs.TruncateTo(pre)
		c.finishLocked(out, StateAborted, fmt.Errorf("%w: %v", engine.ErrEngineFault, execErr))
		return out, out.Err
	}

	// Executed -> terminal
	switch {
	case c.mode == ModeRun && out.Decision.Effect == policy.Allow:
		if err := c.fs.Commit(); err != nil {
			if errors.Is(err, vfs.ErrConflict) {
				// Overlay stays intact so the caller can re-diff against
				// the new real state and retry.
				c.finishLocked(out, StateExecuted, err)
				return out, err
			}
			c.fs.TruncateTo(pre)
			c.finishLocked(out, StateAborted, err)
			return out, err
		}
		c.finishLocked(out, StateCommitted, nil)

	case c.mode == ModeRun:
		// Deny in run mode: virtual effects are thrown away and the denial
		// is reported, never silently swallowed.
		c.fs.TruncateTo(pre)
		c.finishLocked(out, StateDiscarded, fmt.Errorf("%s: %w (%s)", desc.Command, policy.ErrPermissionDenied, out.Decision.Reason))

	default:
		// Simulate and diff modes never commit.
		c.fs.TruncateTo(pre)
		c.finishLocked(out, StateDiscarded, nil)
	}

	return out, out.Err
}

// resolveAskUser puts an AskUser decision to the confirmer under the
// session timeout. In simulate and diff modes the decision cannot lead to a
// commit, so an unresolved AskUser degrades to Deny instead of aborting.
func (c *Controller) resolveAskUser(ctx context.Context, req policy.Request, out *Outcome) (policy.Decision, error) {
	if c.confirmer == nil {
		if c.mode == ModeRun {
			return policy.Decision{}, fmt.Errorf("%s: %w", req.Command, policy.ErrAskUserUnresolved)
		}
		return policy.Decision{Effect: policy.Deny, Reason: out.Decision.Reason + " (no confirmer, denied fail-closed)"}, nil
	}

	askCtx, cancel := context.WithTimeout(ctx, c.askTimeout)
	defer cancel()
	resolved, err := c.gate.ResolveAskUser(askCtx, c.confirmer, req, out.Decision.Reason)
	if err != nil {
		return policy.Decision{}, err
	}
	return resolved, nil
}

// scanDiff runs the secret scanner over the new content of every changed
// file and logs what it finds.
func (c *Controller) scanDiff(diff diffengine.Diff) []secretscan.Finding {
	var findings []secretscan.Finding
	for _, entry := range diff {
		if entry.Kind == diffengine.Removed || entry.IsDir || entry.Binary {
			continue
		}
		findings = append(findings, c.scanner.ScanContent(entry.Path, entry.NewContent)...)
	}
	for _, f := range findings {
		c.logg.Warn("possible secret in pending change: %s", f)
	}
	return findings
}

func (c *Controller) finishLocked(out *Outcome, state State, err error) {
	out.State = state
	out.Err = err
	c.lastDecision = fmt.Sprintf("%s: %s (%s)", out.Descriptor.Command, out.Decision.Effect, state)
	c.history = append(c.history, *out)
	if c.store != nil {
		rec := HistoryRecord{
			ID:          out.ID,
			Command:     out.Descriptor.Command,
			Argv:        out.Descriptor.Argv,
			Mode:        c.mode.String(),
			State:       state.String(),
			Decision:    out.Decision.Effect.String(),
			Reason:      out.Decision.Reason,
			ExitCode:    out.Result.ExitCode,
			DiffSummary: out.Diff.Summary(),
			ExecutedAt:  out.ExecutedAt,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if serr := c.store.AppendHistory(rec); serr != nil {
			c.logg.Warn("failed to persist history: %v", serr)
		}
	}
	c.logg.Info("action %s -> %s (decision=%s, %d diff entries)",
		out.Descriptor.Command, state, out.Decision.Effect, len(out.Diff))
}

// Approve re-runs a previously queued action with an Allow decision. The id
// is the outcome id reported when the action was queued.
func (c *Controller) Approve(ctx context.Context, id string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.pending[id]
	if !ok && c.store != nil {
		stored, err := c.store.LoadPending()
		if err != nil {
			return nil, err
		}
		desc, ok = stored[id]
	}
	if !ok {
		return nil, fmt.Errorf("no pending action %s", id)
	}
	delete(c.pending, id)
	if c.store != nil {
		if err := c.store.RemovePending(id); err != nil {
			c.logg.Warn("failed to remove pending action %s: %v", id, err)
		}
	}

	allow := policy.Decision{Effect: policy.Allow, Reason: fmt.Sprintf("approved pending action %s", id)}
	return c.processLocked(ctx, desc, &allow)
}

// Pending returns the queued approval ids, sorted for stable output.
func (c *Controller) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(c.pending))
	for id := range c.pending {
		seen[id] = true
	}
	if c.store != nil {
		if stored, err := c.store.LoadPending(); err == nil {
			for id := range stored {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PendingDescriptor returns the descriptor queued under id.
func (c *Controller) PendingDescriptor(id string) (ActionDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.pending[id]
	return d, ok
}

// History returns a copy of the completed outcomes, oldest first.
func (c *Controller) History() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.history))
	copy(out, c.history)
	return out
}

// Status reports the session state without side effects.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:                c.mode,
		PendingChangesCount: c.fs.PendingChanges(),
		PendingApprovals:    len(c.pending),
		HistoryCount:        len(c.history),
		LastDecision:        c.lastDecision,
		DirtyRealPaths:      c.fs.DirtyPaths(),
	}
}

// Reset discards all overlay state, re-bases the filesystem on the current
// real tree, and clears history and pending approvals. Idempotent.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fs.Reset()
	c.history = nil
	c.pending = make(map[string]ActionDescriptor)
	c.lastDecision = ""
	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logg.Warn("failed to clear persisted state: %v", err)
		}
	}
	c.logg.Info("sandbox reset")
}
