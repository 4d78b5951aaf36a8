// Package policy decides whether a capability-bearing action may touch real
// resources. Precedence is fixed: explicit deny beats explicit allow beats
// the session default, and a multi-capability action is denied as a whole if
// any one capability is denied.
package policy

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrPermissionDenied marks a Deny decision surfaced as an error.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAskUserUnresolved marks an AskUser decision that could not be put
	// to anyone.
	ErrAskUserUnresolved = errors.New("user confirmation unavailable")
)

// Effect is the outcome class of a policy evaluation.
type Effect int

const (
	Allow Effect = iota
	Deny
	AskUser
)

// String returns string representation of an effect
func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case AskUser:
		return "ask-user"
	default:
		return "unknown"
	}
}

// Rule is one allow or deny entry. Subject matches the command name, exact
// or glob. Scope narrows the rule to capabilities whose scope falls under a
// path prefix or matches a host pattern; empty scope matches any.
type Rule struct {
	ID      string
	Subject string
	Scope   string
	Effect  Effect
}

// String renders the rule for decision reasons and logs.
func (r Rule) String() string {
	scope := r.Scope
	if scope == "" {
		scope = "*"
	}
	return fmt.Sprintf("rule %s: %s %s scope=%s", r.ID, r.Effect, r.Subject, scope)
}

func (r Rule) matchesSubject(command string) bool {
	if r.Subject == command {
		return true
	}
	matched, err := path.Match(r.Subject, command)
	return err == nil && matched
}

// matchesScope reports whether the rule's scope covers a capability scope.
// Path prefixes match on segment boundaries; host patterns match as globs.
func (r Rule) matchesScope(capScope string) bool {
	if r.Scope == "" || r.Scope == "*" {
		return true
	}
	if capScope == r.Scope {
		return true
	}
	if strings.HasPrefix(capScope, strings.TrimSuffix(r.Scope, "/")+"/") {
		return true
	}
	matched, err := path.Match(r.Scope, capScope)
	return err == nil && matched
}
