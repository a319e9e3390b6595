package recipe

import (
	"fmt"
	"strings"

	debversion "pault.ag/go/debian/version"
)

// Dep is a single dependency entry: a package name with an optional
// version constraint.
type Dep struct {
	Name       string
	Constraint *Constraint
}

// Constraint restricts acceptable versions of a dependency. Versions are
// ordered by Debian policy rules, which the archive declares for its
// version strings.
type Constraint struct {
	Op      string // ">=", "<=", ">", "<", "=", "!="
	Version string
}

var constraintOps = []string{">=", "<=", "!=", ">", "<", "="}

// ParseDep parses a requirements entry like "numpy >=1.24" or "pint".
// The constraint may be separated from the name by whitespace or attached
// directly ("numpy>=1.24").
func ParseDep(entry string) (Dep, error) {
	s := strings.TrimSpace(entry)
	if s == "" {
		return Dep{}, fmt.Errorf("empty dependency entry")
	}

	opIdx := -1
	var op string
	for _, candidate := range constraintOps {
		if idx := strings.Index(s, candidate); idx >= 0 && (opIdx < 0 || idx < opIdx) {
			opIdx = idx
			op = candidate
		}
	}

	if opIdx < 0 {
		if strings.ContainsAny(s, " \t") {
			return Dep{}, fmt.Errorf("malformed dependency entry %q", entry)
		}
		return Dep{Name: s}, nil
	}

	name := strings.TrimSpace(s[:opIdx])
	version := strings.TrimSpace(s[opIdx+len(op):])
	if name == "" {
		return Dep{}, fmt.Errorf("dependency entry %q has no name", entry)
	}
	if version == "" {
		return Dep{}, fmt.Errorf("dependency entry %q has no version after %q", entry, op)
	}
	return Dep{Name: name, Constraint: &Constraint{Op: op, Version: version}}, nil
}

// ParseDeps parses a whole phase list, collecting every malformed entry
// rather than stopping at the first.
func ParseDeps(entries []string) ([]Dep, []error) {
	deps := make([]Dep, 0, len(entries))
	var errs []error
	for _, entry := range entries {
		dep, err := ParseDep(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deps = append(deps, dep)
	}
	return deps, errs
}

// Matches reports whether a candidate version satisfies the constraint.
// Unparseable versions never match, so a bad registry entry cannot satisfy
// a pinned requirement by accident.
func (c *Constraint) Matches(candidate string) bool {
	if c == nil {
		return true
	}
	left, err := debversion.Parse(candidate)
	if err != nil {
		return false
	}
	right, err := debversion.Parse(c.Version)
	if err != nil {
		return false
	}
	cmp := debversion.Compare(left, right)
	switch c.Op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	}
	return false
}

func (d Dep) String() string {
	if d.Constraint == nil {
		return d.Name
	}
	return d.Name + " " + d.Constraint.Op + d.Constraint.Version
}
