package agent

import "fmt"

// dependencyGraph tracks declared dependencies between registered tools, as
// spec.md §4.5/§9 require: registration rejects a dependency set that would
// introduce a cycle, and unregistering a tool other tools still depend on
// fails unless the caller asks to cascade. Callers are expected to hold
// whatever lock guards the owning ToolRegistry; none of this type's methods
// lock on their own.
type dependencyGraph struct {
	// dependsOn[name] is the set of tool names name declares it needs.
	dependsOn map[string]map[string]bool
	// dependents[name] is the set of tool names that declare name as a
	// dependency — the reverse edge, kept in sync with dependsOn.
	dependents map[string]map[string]bool
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		dependsOn:  make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
}

// add records that name depends on deps, rejecting the registration if doing
// so would introduce a cycle. A tool may be (re-)registered with no
// dependencies at any time.
func (g *dependencyGraph) add(name string, deps []string) error {
	pending := make(map[string]bool, len(deps))
	for _, d := range deps {
		if d == name {
			return fmt.Errorf("tool %q cannot depend on itself", name)
		}
		pending[d] = true
	}
	for d := range pending {
		if g.reaches(d, name) {
			return fmt.Errorf("registering %q with dependency %q would create a cycle", name, d)
		}
	}

	g.clearDependsOn(name)
	g.dependsOn[name] = pending
	for d := range pending {
		if g.dependents[d] == nil {
			g.dependents[d] = make(map[string]bool)
		}
		g.dependents[d][name] = true
	}
	return nil
}

// clearDependsOn drops name's outgoing edges (its own dependency list)
// without touching who depends on name.
func (g *dependencyGraph) clearDependsOn(name string) {
	for d := range g.dependsOn[name] {
		if g.dependents[d] != nil {
			delete(g.dependents[d], name)
		}
	}
	delete(g.dependsOn, name)
}

// reaches reports whether there is a dependency path from -> to by walking
// dependsOn edges.
func (g *dependencyGraph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	var walk func(n string) bool
	walk = func(n string) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		for d := range g.dependsOn[n] {
			if d == to || walk(d) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// remove drops name from the graph and reports the names of tools that
// still declare it as a dependency. A non-empty return means the caller's
// removal was refused and the graph is unchanged.
func (g *dependencyGraph) remove(name string) []string {
	if blockers, ok := g.dependents[name]; ok && len(blockers) > 0 {
		out := make([]string, 0, len(blockers))
		for b := range blockers {
			out = append(out, b)
		}
		return out
	}
	g.clearDependsOn(name)
	delete(g.dependents, name)
	return nil
}

// removeCascade drops name and every tool that (transitively) depends on
// it, returning the full set of removed names.
func (g *dependencyGraph) removeCascade(name string) []string {
	var removed []string
	var walk func(n string)
	walk = func(n string) {
		for d := range g.dependents[n] {
			walk(d)
		}
		g.clearDependsOn(n)
		delete(g.dependents, n)
		removed = append(removed, n)
	}
	walk(name)
	return removed
}
