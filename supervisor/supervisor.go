// Package supervisor validates cross-artifact coupling before
// selective apply. Dependency edges are agent-declared and untrusted:
// cycles and dangling references are expected inputs, not exceptional
// cases. Validation produces warnings, never errors. The human
// reviewer keeps final authority, but overriding a coupling warning
// must be explicit.
package supervisor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/draftgate/draftgate/types"
)

// WarningKind classifies a coupling problem.
type WarningKind string

const (
	// WarnCycle - a dependency cycle that cannot be applied in any order.
	WarnCycle WarningKind = "cycle"
	// WarnSelfDependency - an artifact declaring a dependency on itself.
	WarnSelfDependency WarningKind = "self_dependency"
	// WarnCoupledRejection - an artifact kept while a dependency of it
	// is rejected; applying it would reference content that will not
	// exist.
	WarnCoupledRejection WarningKind = "coupled_rejection"
	// WarnDanglingDependency - a declared dependency on a URI not in
	// the draft. Reported but not fatal: the agent may be referencing
	// an already-applied prior artifact.
	WarnDanglingDependency WarningKind = "dangling_dependency"
)

// Warning names one coupling inconsistency.
type Warning struct {
	Kind    WarningKind         `json:"kind"`
	URIs    []types.ResourceURI `json:"uris"`
	Message string              `json:"message"`
}

// Blocking reports whether this warning requires an explicit override
// before apply may proceed. Dangling references are informational.
func (w Warning) Blocking() bool {
	return w.Kind != WarnDanglingDependency
}

// Validate builds the directed dependency graph from the draft's
// artifacts and reports every coupling inconsistency. The result is
// deterministic: artifacts are visited in URI order regardless of
// insertion order.
func Validate(draft *types.DraftPackage) []Warning {
	g := buildGraph(draft)

	var warnings []Warning
	warnings = append(warnings, g.selfDependencies()...)
	warnings = append(warnings, g.cycles()...)
	warnings = append(warnings, g.coupledRejections()...)
	warnings = append(warnings, g.danglingDependencies()...)
	return warnings
}

// HasBlocking reports whether any warning demands an explicit override.
func HasBlocking(warnings []Warning) bool {
	for _, w := range warnings {
		if w.Blocking() {
			return true
		}
	}
	return false
}

// graph is the plain edge-list view the validators walk.
type graph struct {
	order    []types.ResourceURI
	present  map[types.ResourceURI]*types.Artifact
	edges    map[types.ResourceURI][]types.ResourceURI
	external map[types.ResourceURI][]types.ResourceURI
}

func buildGraph(draft *types.DraftPackage) *graph {
	g := &graph{
		present:  make(map[types.ResourceURI]*types.Artifact, len(draft.Artifacts)),
		edges:    make(map[types.ResourceURI][]types.ResourceURI),
		external: make(map[types.ResourceURI][]types.ResourceURI),
	}

	for i := range draft.Artifacts {
		a := &draft.Artifacts[i]
		g.present[a.URI] = a
		g.order = append(g.order, a.URI)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })

	for _, uri := range g.order {
		for _, dep := range g.present[uri].DependsOn {
			if _, inDraft := g.present[dep]; inDraft {
				g.edges[uri] = append(g.edges[uri], dep)
			} else {
				g.external[uri] = append(g.external[uri], dep)
			}
		}
	}
	return g
}

func (g *graph) selfDependencies() []Warning {
	var warnings []Warning
	for _, uri := range g.order {
		for _, dep := range g.edges[uri] {
			if dep == uri {
				warnings = append(warnings, Warning{
					Kind:    WarnSelfDependency,
					URIs:    []types.ResourceURI{uri},
					Message: fmt.Sprintf("%s declares a dependency on itself", uri),
				})
				break
			}
		}
	}
	return warnings
}

// cycles runs a coloring DFS from every node in URI order, with an
// explicit stack so agent-declared chains of any depth cannot blow the
// goroutine stack. Each cycle is reported once, from its lowest-ordered
// entry point.
func (g *graph) cycles() []Warning {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[types.ResourceURI]int, len(g.order))

	type frame struct {
		uri  types.ResourceURI
		next int
	}

	var warnings []Warning
	var stack []frame
	var path []types.ResourceURI

	for _, root := range g.order {
		if color[root] != white {
			continue
		}
		color[root] = grey
		stack = append(stack, frame{uri: root})
		path = append(path, root)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.edges[top.uri]

			if top.next >= len(deps) {
				color[top.uri] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}

			dep := deps[top.next]
			top.next++
			if dep == top.uri {
				continue // reported as self-dependency
			}
			switch color[dep] {
			case white:
				color[dep] = grey
				stack = append(stack, frame{uri: dep})
				path = append(path, dep)
			case grey:
				warnings = append(warnings, cycleWarning(path, dep))
			}
		}
	}
	return warnings
}

func cycleWarning(stack []types.ResourceURI, entry types.ResourceURI) Warning {
	start := 0
	for i, uri := range stack {
		if uri == entry {
			start = i
			break
		}
	}
	cycle := append(append([]types.ResourceURI{}, stack[start:]...), entry)

	parts := make([]string, len(cycle))
	for i, uri := range cycle {
		parts[i] = uri.String()
	}
	return Warning{
		Kind:    WarnCycle,
		URIs:    cycle,
		Message: "dependency cycle cannot be applied in any order: " + strings.Join(parts, " -> "),
	}
}

// coupledRejections flags artifacts that would land while a dependency
// they declared is rejected.
func (g *graph) coupledRejections() []Warning {
	var warnings []Warning
	for _, uri := range g.order {
		a := g.present[uri]
		if a.Disposition == types.DispositionRejected {
			continue
		}
		for _, dep := range g.edges[uri] {
			if g.present[dep].Disposition == types.DispositionRejected {
				warnings = append(warnings, Warning{
					Kind: WarnCoupledRejection,
					URIs: []types.ResourceURI{uri, dep},
					Message: fmt.Sprintf("%s depends on rejected %s; applying it would reference content that will not exist",
						uri, dep),
				})
			}
		}
	}
	return warnings
}

func (g *graph) danglingDependencies() []Warning {
	var warnings []Warning
	for _, uri := range g.order {
		for _, dep := range g.external[uri] {
			warnings = append(warnings, Warning{
				Kind:    WarnDanglingDependency,
				URIs:    []types.ResourceURI{uri, dep},
				Message: fmt.Sprintf("%s depends on %s, which is not part of this draft", uri, dep),
			})
		}
	}
	return warnings
}
