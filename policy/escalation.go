package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/draftgate/draftgate/telemetry"
)

// Escalator evaluates optional Rego escalation policies. A policy can
// upgrade an allowed request to RequireApproval; it can never downgrade
// a deny. Policies are compiled once at load time, so evaluation cannot
// fail on malformed input.
type Escalator struct {
	logger  *telemetry.Logger
	queries map[string]rego.PreparedEvalQuery
}

// NewEscalator creates an escalator with no policies loaded.
func NewEscalator() *Escalator {
	return &Escalator{
		logger:  telemetry.NewLogger("escalator"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego module. Policies live under the
// data.draftgate namespace and set `escalate` (bool) plus an optional
// `reason` (string).
func (es *Escalator) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	query := rego.New(
		rego.Query("data.draftgate"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile escalation policy %s: %w", name, err)
	}

	es.queries[name] = prepared

	es.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("escalation policy loaded")

	return nil
}

// escalationInput is the document handed to Rego.
type escalationInput struct {
	AgentID string `json:"agent_id"`
	Action  Action `json:"action"`
	Target  string `json:"target"`
}

// ShouldEscalate runs every loaded policy in name order, so the
// winning reason is the same for identical requests no matter how many
// policies escalate. A policy evaluation error is logged and skipped
// rather than failing the request, since escalation is advisory
// tightening only.
func (es *Escalator) ShouldEscalate(ctx context.Context, req Request) (bool, string) {
	if len(es.queries) == 0 {
		return false, ""
	}

	input := escalationInput{
		AgentID: req.AgentID,
		Action:  req.Action,
		Target:  req.Target.String(),
	}

	names := make([]string, 0, len(es.queries))
	for name := range es.queries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		results, err := es.queries[name].Eval(ctx, rego.EvalInput(input))
		if err != nil {
			es.logger.WithContext(ctx).Error().
				Err(err).
				Str("policy_name", name).
				Msg("escalation policy evaluation failed")
			continue
		}

		if escalate, reason := parseEscalation(results); escalate {
			if reason == "" {
				reason = fmt.Sprintf("escalation policy %s requires approval", name)
			}
			return true, reason
		}
	}

	return false, ""
}

// parseEscalation digs the escalate/reason pair out of the OPA result
// set. OPA returns arbitrary JSON shapes, so this is the one place the
// package touches map[string]interface{}.
func parseEscalation(results rego.ResultSet) (bool, string) {
	for _, res := range results {
		for _, expr := range res.Expressions {
			doc, ok := expr.Value.(map[string]interface{})
			if !ok {
				continue
			}
			escalate, _ := doc["escalate"].(bool)
			if !escalate {
				continue
			}
			reason, _ := doc["reason"].(string)
			return true, reason
		}
	}
	return false, ""
}
