package policy

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftgate/draftgate/audit"
	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
)

// Outcome is the tagged result of a policy evaluation.
type Outcome string

const (
	OutcomeAllow           Outcome = "allow"
	OutcomeDeny            Outcome = "deny"
	OutcomeRequireApproval Outcome = "require_approval"
)

// Request is one action an agent wants to take against a resource.
type Request struct {
	AgentID string            `json:"agent_id"`
	Action  Action            `json:"action"`
	Target  types.ResourceURI `json:"target"`
}

// ConsideredGrant records why one grant was accepted or rejected during
// evaluation, in manifest order.
type ConsideredGrant struct {
	Index   int    `json:"index"`
	Matched bool   `json:"matched"`
	Expired bool   `json:"expired"`
	Reason  string `json:"reason"`
}

// EvaluationTrace is the full record of what was considered and why.
// Identical manifest and request always produce an identical trace.
type EvaluationTrace struct {
	Request    Request           `json:"request"`
	Considered []ConsideredGrant `json:"considered"`
	Outcome    Outcome           `json:"outcome"`
	GrantIndex int               `json:"grant_index"`
	Reason     string            `json:"reason"`
}

// Decision is the outcome plus the matching grant, if any.
type Decision struct {
	Outcome    Outcome `json:"outcome"`
	GrantIndex int     `json:"grant_index"`
	Grant      *Grant  `json:"grant,omitempty"`
	Reason     string  `json:"reason"`
}

// Engine evaluates requests against compiled manifests and writes every
// decision to the audit log. The log handle is passed in explicitly;
// there is no ambient global state.
type Engine struct {
	log       *audit.Log
	escalator *Escalator
	logger    *telemetry.Logger
	tracer    trace.Tracer
}

// NewEngine creates a policy engine writing to log. escalator may be
// nil when no Rego escalation policies are loaded.
func NewEngine(log *audit.Log, escalator *Escalator) *Engine {
	return &Engine{
		log:       log,
		escalator: escalator,
		logger:    telemetry.NewLogger("policy-engine"),
		tracer:    otel.Tracer("policy-engine"),
	}
}

// decisionEvent is the audit payload for one evaluation.
type decisionEvent struct {
	Decision Decision        `json:"decision"`
	Trace    EvaluationTrace `json:"trace"`
}

// Evaluate walks the manifest's grants in order; the first grant whose
// action and scheme-scoped pattern both match determines the outcome.
// Expired grants are skipped but still recorded as considered. With no
// match the outcome is Deny. The evaluation itself cannot fail; the
// only returned error is an audit append failure, which is fatal to the
// call per the audit contract.
func (e *Engine) Evaluate(ctx context.Context, req Request, man *CompiledManifest) (Decision, EvaluationTrace, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("request.action", req.Action.String()),
			attribute.String("request.target", req.Target.String())))
	defer span.End()

	decision, evalTrace := e.match(ctx, req, man)

	span.SetAttributes(attribute.String("decision.outcome", string(decision.Outcome)))
	e.logger.LogDecision(ctx, req.AgentID, req.Target.String(), string(decision.Outcome), len(evalTrace.Considered))
	telemetry.CountEvaluation(ctx, string(decision.Outcome))

	if _, err := e.log.Append(audit.KindPolicyDecision, decisionEvent{Decision: decision, Trace: evalTrace}); err != nil {
		e.logger.LogAuditError(ctx, "append_decision", err)
		return decision, evalTrace, fmt.Errorf("failed to record policy decision: %w", err)
	}
	telemetry.CountAuditAppend(ctx, string(audit.KindPolicyDecision))

	return decision, evalTrace, nil
}

// match runs the first-match-wins walk and builds the trace.
func (e *Engine) match(ctx context.Context, req Request, man *CompiledManifest) (Decision, EvaluationTrace) {
	evalTrace := EvaluationTrace{
		Request:    req,
		Considered: make([]ConsideredGrant, 0, len(man.grants)),
		GrantIndex: -1,
	}

	scheme := req.Target.Scheme()
	rest := req.Target.Rest()
	now := time.Now()

	for i, cg := range man.grants {
		step := ConsideredGrant{Index: i}

		if !cg.grant.Action.Matches(req.Action) {
			step.Reason = "action does not match"
			evalTrace.Considered = append(evalTrace.Considered, step)
			continue
		}
		if !cg.matchesURI(scheme, rest) {
			step.Reason = "resource pattern does not match"
			evalTrace.Considered = append(evalTrace.Considered, step)
			continue
		}

		if expired, why := cg.expired(now); expired {
			step.Expired = true
			step.Reason = "considered, expired: " + why
			evalTrace.Considered = append(evalTrace.Considered, step)
			continue
		}

		step.Matched = true
		step.Reason = "action and pattern match"
		evalTrace.Considered = append(evalTrace.Considered, step)

		outcome, reason := e.resolveOutcome(ctx, req, man, cg.grant)
		if outcome == OutcomeAllow {
			// Budget counts authorizations, not matches. A denied or
			// escalated evaluation leaves it untouched.
			cg.consume()
		}
		evalTrace.Outcome = outcome
		evalTrace.GrantIndex = i
		evalTrace.Reason = reason

		return Decision{
			Outcome:    outcome,
			GrantIndex: i,
			Grant:      man.Grant(i),
			Reason:     reason,
		}, evalTrace
	}

	evalTrace.Outcome = OutcomeDeny
	evalTrace.Reason = "no matching grant"
	return Decision{Outcome: OutcomeDeny, GrantIndex: -1, Reason: "no matching grant"}, evalTrace
}

// resolveOutcome starts from the grant's own effect, then upgrades
// Allow to RequireApproval when the manifest marks the verb class as
// escalated or a loaded Rego policy demands it. Escalation only ever
// tightens the outcome.
func (e *Engine) resolveOutcome(ctx context.Context, req Request, man *CompiledManifest, g Grant) (Outcome, string) {
	switch g.effect() {
	case OutcomeDeny:
		return OutcomeDeny, "denied by grant"
	case OutcomeRequireApproval:
		return OutcomeRequireApproval, "grant requires approval"
	}
	if man.escalatedVerb(req.Action) {
		return OutcomeRequireApproval, "verb class requires approval"
	}
	if e.escalator != nil {
		if escalate, reason := e.escalator.ShouldEscalate(ctx, req); escalate {
			return OutcomeRequireApproval, reason
		}
	}
	return OutcomeAllow, "granted"
}
