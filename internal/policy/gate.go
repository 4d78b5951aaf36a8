package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/yksanjo/agent-sandbox/internal/logger"
	"github.com/yksanjo/agent-sandbox/internal/registry"
)

// Request carries everything the gate evaluates for one action.
type Request struct {
	Command      string
	Argv         []string
	Capabilities registry.Set
	// TargetPaths are the paths the action declares it will touch; scoped
	// rules match against them as well as against capability scopes.
	TargetPaths    []string
	NetworkTargets []string
	// RequiresApproval escalates a default-allow to AskUser. Explicit rules
	// are not affected.
	RequiresApproval bool
}

// Decision is the gate's verdict with the reason citing the governing rule
// or default.
type Decision struct {
	Effect Effect
	Reason string
}

// Gate evaluates policy rules over capability requests. Rules are
// append-only within a session.
type Gate struct {
	mu    sync.RWMutex
	rules []Rule
	// allowList is the session's --allow set; when non-empty, listed
	// commands default to Allow and unlisted ones to AskUser.
	allowList map[string]bool
	// allowAll makes the session default Allow for every command.
	allowAll bool
	nextID   int
	logg     *logger.Logger
}

// NewGate builds a gate with the session defaults. allowList may be nil.
func NewGate(allowList []string, allowAll bool) *Gate {
	g := &Gate{
		allowList: make(map[string]bool),
		allowAll:  allowAll,
		logg:      logger.Global().WithPrefix("policy"),
	}
	for _, name := range allowList {
		g.allowList[name] = true
	}
	return g
}

// AddRule appends a rule. An empty ID is assigned a sequential one.
func (g *Gate) AddRule(r Rule) Rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	if r.ID == "" {
		r.ID = fmt.Sprintf("r%d", g.nextID)
	}
	g.rules = append(g.rules, r)
	return r
}

// AllowCommand appends an explicit allow rule for a command name or glob.
func (g *Gate) AllowCommand(subject string) Rule {
	return g.AddRule(Rule{Subject: subject, Effect: Allow})
}

// DenyCommand appends an explicit deny rule for a command name or glob.
func (g *Gate) DenyCommand(subject string) Rule {
	return g.AddRule(Rule{Subject: subject, Effect: Deny})
}

// DenyPath appends a deny rule for any command touching the given path
// prefix.
func (g *Gate) DenyPath(pathPrefix string) Rule {
	return g.AddRule(Rule{Subject: "*", Scope: pathPrefix, Effect: Deny})
}

// Rules returns a copy of the current rule list.
func (g *Gate) Rules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Decide evaluates the request. Explicit deny rules are checked first, then
// explicit allow rules, then the session default. The gate never blocks; an
// AskUser decision is resolved separately by the caller.
func (g *Gate) Decide(req Request) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if r, ok := g.firstMatch(req, Deny); ok {
		d := Decision{Effect: Deny, Reason: r.String()}
		g.logg.Info("deny %s: %s", req.Command, d.Reason)
		return d
	}
	if r, ok := g.firstMatch(req, Allow); ok {
		return Decision{Effect: Allow, Reason: r.String()}
	}

	switch {
	case g.allowAll:
		if req.RequiresApproval {
			return Decision{Effect: AskUser, Reason: fmt.Sprintf("command %s requires approval", req.Command)}
		}
		return Decision{Effect: Allow, Reason: "session default: allow all"}
	case len(g.allowList) > 0 && g.allowList[req.Command]:
		if req.RequiresApproval {
			return Decision{Effect: AskUser, Reason: fmt.Sprintf("command %s requires approval", req.Command)}
		}
		return Decision{Effect: Allow, Reason: fmt.Sprintf("command %s on session allow-list", req.Command)}
	case len(g.allowList) > 0:
		return Decision{Effect: AskUser, Reason: fmt.Sprintf("command %s not on session allow-list", req.Command)}
	default:
		return Decision{Effect: AskUser, Reason: "no applicable rule and no session allow-list"}
	}
}

// firstMatch scans for the first rule with the wanted effect matching the
// request's subject and any of its scopes. Conjunctive denial follows from
// checking every capability and target: one scoped match suffices.
func (g *Gate) firstMatch(req Request, effect Effect) (Rule, bool) {
	for _, r := range g.rules {
		if r.Effect != effect || !r.matchesSubject(req.Command) {
			continue
		}
		if r.Scope == "" {
			return r, true
		}
		for _, c := range req.Capabilities {
			if c.Scope != "" && r.matchesScope(c.Scope) {
				return r, true
			}
		}
		for _, p := range req.TargetPaths {
			if r.matchesScope(p) {
				return r, true
			}
		}
		for _, h := range req.NetworkTargets {
			if r.matchesScope(h) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// Confirmer resolves an AskUser decision synchronously. Implementations must
// honor ctx cancellation; the gate supplies no timeout of its own.
type Confirmer interface {
	Confirm(ctx context.Context, command string, reason string) (bool, error)
}

// ResolveAskUser puts an AskUser decision to the confirmer. A nil confirmer
// returns ErrAskUserUnresolved. Timeout or confirmer failure resolves to
// Deny, never Allow.
func (g *Gate) ResolveAskUser(ctx context.Context, c Confirmer, req Request, reason string) (Decision, error) {
	if c == nil {
		return Decision{Effect: Deny, Reason: reason}, fmt.Errorf("cannot confirm %s: %w", req.Command, ErrAskUserUnresolved)
	}

	ok, err := c.Confirm(ctx, req.Command, reason)
	if err != nil {
		g.logg.Warn("confirmation for %s failed, denying: %v", req.Command, err)
		return Decision{Effect: Deny, Reason: fmt.Sprintf("confirmation failed (%v), denied fail-closed", err)}, nil
	}
	if !ok {
		return Decision{Effect: Deny, Reason: "user declined"}, nil
	}
	return Decision{Effect: Allow, Reason: "user approved"}, nil
}
