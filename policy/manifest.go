// Package policy evaluates requested agent actions against capability
// manifests. Manifests arrive from an external loader as fully resolved
// structures; this package compiles them once and evaluates requests
// with a deterministic first-match rule. Evaluation never fails:
// malformed patterns are rejected at compile time.
package policy

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
)

// ActionKind is the closed set of action shapes a grant can cover.
type ActionKind string

const (
	// ActionToolVerb covers a tool/verb pair, e.g. files/write.
	ActionToolVerb ActionKind = "tool_verb"
	// ActionToolVerbQualifier adds a qualifier, e.g. git/push/force.
	ActionToolVerbQualifier ActionKind = "tool_verb_qualifier"
	// ActionExec covers a literal shell command.
	ActionExec ActionKind = "exec"
)

// Action is a tool/verb or shell-command literal, both in requests and
// in grants.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Tool      string     `json:"tool,omitempty"`
	Verb      string     `json:"verb,omitempty"`
	Qualifier string     `json:"qualifier,omitempty"`
	Command   string     `json:"command,omitempty"`
}

// Validate rejects actions outside the closed kind set.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionToolVerb:
		if a.Tool == "" || a.Verb == "" {
			return fmt.Errorf("tool_verb action requires tool and verb")
		}
	case ActionToolVerbQualifier:
		if a.Tool == "" || a.Verb == "" || a.Qualifier == "" {
			return fmt.Errorf("tool_verb_qualifier action requires tool, verb, and qualifier")
		}
	case ActionExec:
		if a.Command == "" {
			return fmt.Errorf("exec action requires a command literal")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Matches reports whether a granted action covers a requested one.
// Matching is exact per kind; there is no wildcarding on the action
// side, only on the resource pattern.
func (a Action) Matches(req Action) bool {
	if a.Kind != req.Kind {
		return false
	}
	switch a.Kind {
	case ActionToolVerb:
		return a.Tool == req.Tool && a.Verb == req.Verb
	case ActionToolVerbQualifier:
		return a.Tool == req.Tool && a.Verb == req.Verb && a.Qualifier == req.Qualifier
	case ActionExec:
		return a.Command == req.Command
	}
	return false
}

func (a Action) String() string {
	switch a.Kind {
	case ActionToolVerb:
		return a.Tool + "/" + a.Verb
	case ActionToolVerbQualifier:
		return a.Tool + "/" + a.Verb + "/" + a.Qualifier
	case ActionExec:
		return "exec: " + a.Command
	}
	return string(a.Kind)
}

// Grant is one entry in a capability manifest. Grants are immutable
// once issued; usage accounting lives in the compiled form. When two
// grants match the same request with different effects, the first in
// manifest order wins.
type Grant struct {
	Action    Action    `json:"action"`
	Pattern   string    `json:"pattern"`
	Effect    Outcome   `json:"effect,omitempty"`     // empty means allow
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero means no time bound
	Budget    int64     `json:"budget,omitempty"`     // 0 means unlimited uses
}

// effect normalizes the grant's effect, defaulting to allow.
func (g Grant) effect() Outcome {
	if g.Effect == "" {
		return OutcomeAllow
	}
	return g.Effect
}

// Manifest is the ordered set of grants issued per agent/goal. Default
// posture is deny: absence of a matching grant denies the request.
type Manifest struct {
	AgentID       string   `json:"agent_id"`
	Goal          string   `json:"goal,omitempty"`
	Grants        []Grant  `json:"grants"`
	EscalateVerbs []string `json:"escalate_verbs,omitempty"`
}

// ManifestError reports a grant rejected at compile time.
type ManifestError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("grant %d (pattern %q): %v", e.Index, e.Pattern, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// compiledGrant pairs a grant with its compiled pattern and remaining
// budget. remaining is -1 for unlimited grants.
type compiledGrant struct {
	grant     Grant
	scheme    string
	matcher   glob.Glob
	remaining atomic.Int64
}

func (cg *compiledGrant) expired(now time.Time) (bool, string) {
	if !cg.grant.ExpiresAt.IsZero() && now.After(cg.grant.ExpiresAt) {
		return true, "time bound exceeded"
	}
	if cg.remaining.Load() == 0 {
		return true, "budget exhausted"
	}
	return false, ""
}

// consume decrements the budget for an authorized use.
func (cg *compiledGrant) consume() {
	if cg.remaining.Load() > 0 {
		cg.remaining.Add(-1)
	}
}

// matchesURI applies scheme-scoped glob rules: the pattern scheme must
// equal the target scheme, then the rest is matched with '/' as the
// segment separator so `*` stays within a segment and `**` recurses.
func (cg *compiledGrant) matchesURI(scheme, rest string) bool {
	return cg.scheme == scheme && cg.matcher.Match(rest)
}

// CompiledManifest is a manifest validated and prepared for evaluation.
type CompiledManifest struct {
	manifest Manifest
	grants   []*compiledGrant
	escalate map[string]bool
}

// Compile validates every grant and compiles its resource pattern.
// This is the only place a malformed manifest can be rejected.
func Compile(m Manifest) (*CompiledManifest, error) {
	cm := &CompiledManifest{
		manifest: m,
		grants:   make([]*compiledGrant, 0, len(m.Grants)),
		escalate: make(map[string]bool, len(m.EscalateVerbs)),
	}

	for i, g := range m.Grants {
		if err := g.Action.Validate(); err != nil {
			return nil, &ManifestError{Index: i, Pattern: g.Pattern, Err: err}
		}

		switch g.effect() {
		case OutcomeAllow, OutcomeDeny, OutcomeRequireApproval:
		default:
			return nil, &ManifestError{Index: i, Pattern: g.Pattern, Err: fmt.Errorf("unknown grant effect %q", g.Effect)}
		}

		scheme, rest, ok := strings.Cut(g.Pattern, "://")
		if !ok || scheme == "" {
			return nil, &ManifestError{Index: i, Pattern: g.Pattern, Err: fmt.Errorf("resource pattern must be scheme-qualified")}
		}

		matcher, err := glob.Compile(rest, '/')
		if err != nil {
			return nil, &ManifestError{Index: i, Pattern: g.Pattern, Err: fmt.Errorf("invalid glob: %w", err)}
		}

		cg := &compiledGrant{grant: g, scheme: scheme, matcher: matcher}
		if g.Budget > 0 {
			cg.remaining.Store(g.Budget)
		} else {
			cg.remaining.Store(-1)
		}
		cm.grants = append(cm.grants, cg)
	}

	for _, verb := range m.EscalateVerbs {
		cm.escalate[verb] = true
	}

	return cm, nil
}

// AgentID returns the agent the manifest was issued to.
func (cm *CompiledManifest) AgentID() string {
	return cm.manifest.AgentID
}

// Grant returns the immutable grant at index, or nil if out of range.
func (cm *CompiledManifest) Grant(index int) *Grant {
	if index < 0 || index >= len(cm.grants) {
		return nil
	}
	g := cm.grants[index].grant
	return &g
}

// escalatedVerb reports whether the manifest marks the request's verb
// class as requiring approval even when a grant allows it. Exec
// requests escalate under the "exec" class.
func (cm *CompiledManifest) escalatedVerb(a Action) bool {
	if a.Kind == ActionExec {
		return cm.escalate["exec"]
	}
	return cm.escalate[a.Verb]
}
