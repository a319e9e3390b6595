package resolver

import (
	"fmt"

	"github.com/cirelab/recipeforge/internal/recipe"
	"github.com/cirelab/recipeforge/internal/registry"
)

// Resolution records the outcome for one dependency entry of one phase.
type Resolution struct {
	Phase  string
	Dep    recipe.Dep
	Entry  *registry.Entry // nil when unresolved
	Reason string          // populated when unresolved
}

// Report is the full resolution result for a recipe. Every phase is checked
// so the report names all misses, not just the first.
type Report struct {
	Recipe     string
	Resolved   []Resolution
	Unresolved []Resolution
}

func (r Report) OK() bool {
	return len(r.Unresolved) == 0
}

// Err returns a single error summarizing the unresolved dependencies, or
// nil when resolution succeeded.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	first := r.Unresolved[0]
	if len(r.Unresolved) == 1 {
		return fmt.Errorf("unresolved dependency %s (%s): %s", first.Dep, first.Phase, first.Reason)
	}
	return fmt.Errorf("unresolved dependency %s (%s): %s (and %d more)",
		first.Dep, first.Phase, first.Reason, len(r.Unresolved)-1)
}

// Resolve checks every phase's dependency list against the archive index.
// Malformed entries surface as unresolved with the parse error as reason,
// so a lint miss cannot slip through resolution.
func Resolve(r *recipe.Recipe, index registry.Index) Report {
	report := Report{Recipe: r.Package.Name}

	phases := []struct {
		name    string
		entries []string
	}{
		{"build", r.Requirements.Build},
		{"run", r.Requirements.Run},
		{"test", r.Requirements.Test},
	}

	for _, phase := range phases {
		for _, entry := range phase.entries {
			dep, err := recipe.ParseDep(entry)
			if err != nil {
				report.Unresolved = append(report.Unresolved, Resolution{
					Phase:  phase.name,
					Dep:    recipe.Dep{Name: entry},
					Reason: err.Error(),
				})
				continue
			}
			report.add(resolveOne(phase.name, dep, index))
		}
	}

	return report
}

func resolveOne(phase string, dep recipe.Dep, index registry.Index) Resolution {
	candidate, ok := index[dep.Name]
	if !ok {
		return Resolution{
			Phase:  phase,
			Dep:    dep,
			Reason: "not present in any channel index",
		}
	}
	if !dep.Constraint.Matches(candidate.Version) {
		return Resolution{
			Phase: phase,
			Dep:   dep,
			Reason: fmt.Sprintf("available version %s does not satisfy %s%s",
				candidate.Version, dep.Constraint.Op, dep.Constraint.Version),
		}
	}
	return Resolution{Phase: phase, Dep: dep, Entry: &candidate}
}

func (r *Report) add(res Resolution) {
	if res.Entry == nil {
		r.Unresolved = append(r.Unresolved, res)
		return
	}
	r.Resolved = append(r.Resolved, res)
}
