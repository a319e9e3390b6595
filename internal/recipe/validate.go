package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Severity distinguishes violations that fail a recipe from advisories.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is a single validation finding against a recipe field.
type Problem struct {
	Field    string
	Severity Severity
	Message  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: %s", p.Severity, p.Field, p.Message)
}

// ValidateOptions carry context the recipe alone does not have: the
// resolved source tree and the version reported by the project's own
// metadata query.
type ValidateOptions struct {
	SourceRoot     string
	ProjectVersion string
}

var packageNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// interpreterDeps are toolchain entries that never correspond to an
// importable module, so the run-deps-covered-by-test-imports advisory
// skips them.
var interpreterDeps = map[string]bool{
	"python": true,
	"pip":    true,
}

// Validate checks the structural and configuration invariants of a recipe:
// well-formed name, version matching the project metadata, a resolvable
// license file, parseable dependency entries, and a declared build script.
func Validate(r *Recipe, opts ValidateOptions) []Problem {
	var problems []Problem
	add := func(field string, severity Severity, format string, args ...any) {
		problems = append(problems, Problem{
			Field:    field,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if r.Package.Name == "" {
		add("package.name", SeverityError, "name is required")
	} else if !packageNameRe.MatchString(r.Package.Name) {
		add("package.name", SeverityError, "%q is not a valid package name", r.Package.Name)
	}

	switch {
	case r.Package.Version == "":
		add("package.version", SeverityError, "version is required")
	case IsTemplated(r.Package.Version):
		add("package.version", SeverityError, "unexpanded template token in %q", r.Package.Version)
	case opts.ProjectVersion != "" && r.Package.Version != opts.ProjectVersion:
		add("package.version", SeverityError,
			"version %q does not match project metadata %q", r.Package.Version, opts.ProjectVersion)
	}

	validateSource(r, add)

	if strings.TrimSpace(r.Build.Script) == "" {
		add("build.script", SeverityError, "build script is required")
	}
	if r.Build.Number < 0 {
		add("build.number", SeverityError, "build number must not be negative")
	}

	validatePhase("requirements.build", r.Requirements.Build, add)
	runDeps := validatePhase("requirements.run", r.Requirements.Run, add)
	validatePhase("requirements.test", r.Requirements.Test, add)

	validateLicense(r, opts, add)

	// Every run dependency should be exercised by the test-phase imports;
	// a run dep nothing imports is either unused or untested.
	if len(r.Test.Imports) > 0 {
		imported := make(map[string]bool, len(r.Test.Imports))
		for _, mod := range r.Test.Imports {
			imported[normalizeModule(mod)] = true
		}
		for _, dep := range runDeps {
			if interpreterDeps[dep.Name] {
				continue
			}
			if !imported[normalizeModule(dep.Name)] {
				add("test.imports", SeverityWarning,
					"run dependency %q has no matching test import", dep.Name)
			}
		}
	}

	return problems
}

func validateSource(r *Recipe, add func(string, Severity, string, ...any)) {
	switch {
	case r.Source.Path != "" && r.Source.URL != "":
		add("source", SeverityError, "path and url are mutually exclusive")
	case r.Source.Path == "" && r.Source.URL == "":
		add("source", SeverityError, "either path or url is required")
	case r.Source.URL != "":
		if IsTemplated(r.Source.URL) {
			add("source.url", SeverityError, "unexpanded template token in %q", r.Source.URL)
		}
		if !sha256Re.MatchString(r.Source.SHA256) {
			add("source.sha256", SeverityError, "url sources require a sha256 checksum")
		}
	case r.Source.SHA256 != "":
		add("source.sha256", SeverityWarning, "sha256 is ignored for path sources")
	}
}

var sha256Re = regexp.MustCompile(`^[0-9a-f]{64}$`)

func validatePhase(field string, entries []string, add func(string, Severity, string, ...any)) []Dep {
	deps, errs := ParseDeps(entries)
	for _, err := range errs {
		add(field, SeverityError, "%v", err)
	}

	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if seen[dep.Name] {
			add(field, SeverityError, "duplicate dependency %q", dep.Name)
		}
		seen[dep.Name] = true
	}
	return deps
}

func validateLicense(r *Recipe, opts ValidateOptions, add func(string, Severity, string, ...any)) {
	if r.About.License == "" {
		add("about.license", SeverityWarning, "no license declared")
	}
	if r.About.LicenseFile == "" {
		return
	}
	if opts.SourceRoot == "" {
		// Cannot resolve without a source tree; check deferred to build time.
		return
	}
	path := filepath.Join(opts.SourceRoot, filepath.FromSlash(r.About.LicenseFile))
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		add("about.license_file", SeverityError, "license file %q not found in source tree", r.About.LicenseFile)
	}
}

// HasErrors reports whether any finding is fatal.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

// normalizeModule maps a package name to the module name it would be
// imported as: dashes become underscores, case folds down.
func normalizeModule(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}
