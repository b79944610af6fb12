// Package review resolves reviewer dispositions over a draft and
// applies approved artifacts back to the live source tree.
package review

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/draftgate/draftgate/types"
)

// Wildcard selection patterns.
const (
	PatternAll  = "all"
	PatternRest = "rest"
)

// Rule binds one selection pattern to the disposition it assigns.
type Rule struct {
	Pattern     string
	Disposition types.Disposition
}

// ParseRule parses "pattern=disposition", e.g. "src/**=approved" or
// "rest=discuss".
func ParseRule(raw string) (Rule, error) {
	pattern, disposition, ok := strings.Cut(raw, "=")
	if !ok || pattern == "" {
		return Rule{}, fmt.Errorf("selection rule %q must be pattern=disposition", raw)
	}
	rule := Rule{Pattern: pattern, Disposition: types.Disposition(disposition)}
	if !types.ValidDisposition(rule.Disposition) {
		return Rule{}, fmt.Errorf("selection rule %q has unknown disposition %q", raw, disposition)
	}
	return rule, nil
}

// ParseRules parses an ordered list of raw rules.
func ParseRules(raw []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rule, err := ParseRule(r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ResolveSelection walks rules in order and assigns each artifact the
// disposition of the first rule that claims it. "all" and "rest" claim
// every artifact earlier rules left unclaimed; any other pattern is a
// glob matched against the artifact URI and its workspace-relative
// path. Artifacts no rule claims keep their current disposition.
func ResolveSelection(draft *types.DraftPackage, rules []Rule) error {
	claimed := make([]bool, len(draft.Artifacts))

	for i, rule := range rules {
		if !types.ValidDisposition(rule.Disposition) {
			return fmt.Errorf("selection rule %d has unknown disposition %q", i, rule.Disposition)
		}

		switch rule.Pattern {
		case PatternAll, PatternRest:
			for j := range draft.Artifacts {
				if claimed[j] {
					continue
				}
				draft.Artifacts[j].Disposition = rule.Disposition
				claimed[j] = true
			}

		default:
			matcher, err := glob.Compile(rule.Pattern, '/')
			if err != nil {
				return fmt.Errorf("selection rule %d has invalid pattern %q: %w", i, rule.Pattern, err)
			}
			matched := false
			for j := range draft.Artifacts {
				if claimed[j] {
					continue
				}
				uri := draft.Artifacts[j].URI
				if !matcher.Match(string(uri)) && !matcher.Match(uri.Path()) {
					continue
				}
				draft.Artifacts[j].Disposition = rule.Disposition
				claimed[j] = true
				matched = true
			}
			if !matched {
				return fmt.Errorf("selection rule %d pattern %q matched no artifact", i, rule.Pattern)
			}
		}
	}
	return nil
}
