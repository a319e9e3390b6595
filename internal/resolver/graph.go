package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cirelab/recipeforge/internal/recipe"
)

// BuildOrder topologically orders a recipe set so that any recipe appearing
// in another's build or run requirements is built first. Dependencies on
// packages outside the set are the archive's problem and are ignored here.
// A cycle is an error and the cycle path is named.
func BuildOrder(recipes []*recipe.Recipe) ([]*recipe.Recipe, error) {
	byName := make(map[string]*recipe.Recipe, len(recipes))
	for _, r := range recipes {
		if _, dup := byName[r.Package.Name]; dup {
			return nil, fmt.Errorf("duplicate recipe for package %q", r.Package.Name)
		}
		byName[r.Package.Name] = r
	}

	// edges[a] holds the in-set packages a depends on.
	edges := make(map[string][]string, len(recipes))
	indegree := make(map[string]int, len(recipes))
	for _, r := range recipes {
		indegree[r.Package.Name] += 0
		deps := append(recipe.DepNames(r.Requirements.Build), recipe.DepNames(r.Requirements.Run)...)
		seen := map[string]bool{}
		for _, dep := range deps {
			if dep == r.Package.Name || seen[dep] {
				continue
			}
			if _, inSet := byName[dep]; !inSet {
				continue
			}
			seen[dep] = true
			edges[dep] = append(edges[dep], r.Package.Name)
			indegree[r.Package.Name]++
		}
	}

	// Kahn's algorithm with a sorted ready list for deterministic output.
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]*recipe.Recipe, 0, len(recipes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		var unlocked []string
		for _, next := range edges[name] {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(ordered) != len(recipes) {
		return nil, fmt.Errorf("dependency cycle: %s", cyclePath(byName, indegree))
	}
	return ordered, nil
}

// Waves groups an ordered recipe set into stages: every recipe in a wave
// depends only on recipes in earlier waves, so a wave can build in parallel.
func Waves(recipes []*recipe.Recipe) ([][]*recipe.Recipe, error) {
	ordered, err := BuildOrder(recipes)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*recipe.Recipe, len(ordered))
	for _, r := range ordered {
		byName[r.Package.Name] = r
	}

	level := make(map[string]int, len(ordered))
	maxLevel := 0
	for _, r := range ordered {
		deps := append(recipe.DepNames(r.Requirements.Build), recipe.DepNames(r.Requirements.Run)...)
		l := 0
		for _, dep := range deps {
			if dep == r.Package.Name {
				continue
			}
			if _, inSet := byName[dep]; !inSet {
				continue
			}
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[r.Package.Name] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]*recipe.Recipe, maxLevel+1)
	for _, r := range ordered {
		l := level[r.Package.Name]
		waves[l] = append(waves[l], r)
	}
	return waves, nil
}

func mergeSorted(a []string, b []string) []string {
	out := append(a, b...)
	sort.Strings(out)
	return out
}

// cyclePath walks the unprocessed remainder of the graph to name one cycle.
func cyclePath(byName map[string]*recipe.Recipe, indegree map[string]int) string {
	remaining := make(map[string]bool)
	for name, deg := range indegree {
		if deg > 0 {
			remaining[name] = true
		}
	}

	var names []string
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, start := range names {
		path := []string{start}
		onPath := map[string]int{start: 0}
		current := start
		for {
			next := nextRemainingDep(byName[current], remaining)
			if next == "" {
				break
			}
			if at, ok := onPath[next]; ok {
				return strings.Join(append(path[at:], next), " -> ")
			}
			onPath[next] = len(path)
			path = append(path, next)
			current = next
		}
	}
	return strings.Join(names, ", ")
}

func nextRemainingDep(r *recipe.Recipe, remaining map[string]bool) string {
	deps := append(recipe.DepNames(r.Requirements.Build), recipe.DepNames(r.Requirements.Run)...)
	sort.Strings(deps)
	for _, dep := range deps {
		if dep != r.Package.Name && remaining[dep] {
			return dep
		}
	}
	return ""
}
