package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validRecipe() *Recipe {
	return &Recipe{
		Package: Package{Name: "pypbomb", Version: "1.0.1"},
		Source:  Source{Path: ".."},
		Build:   Build{Script: "python -m pip install . -vv"},
		Requirements: Requirements{
			Build: []string{"python", "pip"},
			Run:   []string{"python", "numpy >=1.24", "pint"},
			Test:  []string{"pytest"},
		},
		Test: Test{
			Imports:  []string{"pypbomb", "numpy", "pint"},
			Commands: []string{"pytest --pyargs pypbomb"},
		},
		About: About{License: "BSD-3-Clause"},
	}
}

func findProblem(problems []Problem, field string) *Problem {
	for i := range problems {
		if problems[i].Field == field {
			return &problems[i]
		}
	}
	return nil
}

func TestValidateCleanRecipe(t *testing.T) {
	problems := Validate(validRecipe(), ValidateOptions{ProjectVersion: "1.0.1"})
	if HasErrors(problems) {
		t.Fatalf("unexpected errors: %v", problems)
	}
}

func TestValidateVersionMismatch(t *testing.T) {
	r := validRecipe()
	problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.2"})
	p := findProblem(problems, "package.version")
	if p == nil || p.Severity != SeverityError {
		t.Fatalf("expected version mismatch error, got %v", problems)
	}
	if !strings.Contains(p.Message, "1.0.2") {
		t.Errorf("message should name the project version: %q", p.Message)
	}
}

func TestValidateUnexpandedTemplate(t *testing.T) {
	r := validRecipe()
	r.Package.Version = "{{ project.version }}"
	problems := Validate(r, ValidateOptions{})
	if findProblem(problems, "package.version") == nil {
		t.Fatalf("expected template error, got %v", problems)
	}
}

func TestValidatePackageName(t *testing.T) {
	for _, name := range []string{"", "UPPER", "-leading", "has space"} {
		r := validRecipe()
		r.Package.Name = name
		problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.1"})
		if findProblem(problems, "package.name") == nil {
			t.Errorf("name %q: expected problem", name)
		}
	}
}

func TestValidateSourceVariants(t *testing.T) {
	sha := strings.Repeat("0f", 32)
	tests := []struct {
		name      string
		source    Source
		wantField string
	}{
		{"both", Source{Path: "..", URL: "https://x"}, "source"},
		{"neither", Source{}, "source"},
		{"url without sha", Source{URL: "https://x"}, "source.sha256"},
		{"url with short sha", Source{URL: "https://x", SHA256: "abcd"}, "source.sha256"},
		{"url ok", Source{URL: "https://x", SHA256: sha}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecipe()
			r.Source = tt.source
			problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.1"})
			if tt.wantField == "" {
				if HasErrors(problems) {
					t.Fatalf("unexpected errors: %v", problems)
				}
				return
			}
			p := findProblem(problems, tt.wantField)
			if p == nil || p.Severity != SeverityError {
				t.Fatalf("expected error on %s, got %v", tt.wantField, problems)
			}
		})
	}
}

func TestValidateLicenseFile(t *testing.T) {
	dir := t.TempDir()
	r := validRecipe()
	r.About.LicenseFile = "LICENSE"

	problems := Validate(r, ValidateOptions{SourceRoot: dir, ProjectVersion: "1.0.1"})
	if findProblem(problems, "about.license_file") == nil {
		t.Fatal("expected missing license file error")
	}

	if err := os.WriteFile(filepath.Join(dir, "LICENSE"), []byte("BSD"), 0o644); err != nil {
		t.Fatal(err)
	}
	problems = Validate(r, ValidateOptions{SourceRoot: dir, ProjectVersion: "1.0.1"})
	if findProblem(problems, "about.license_file") != nil {
		t.Fatalf("license file present, got %v", problems)
	}
}

func TestValidateDuplicateDeps(t *testing.T) {
	r := validRecipe()
	r.Requirements.Run = append(r.Requirements.Run, "numpy")
	problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.1"})
	p := findProblem(problems, "requirements.run")
	if p == nil || !strings.Contains(p.Message, "duplicate") {
		t.Fatalf("expected duplicate error, got %v", problems)
	}
}

func TestValidateRunDepWithoutTestImport(t *testing.T) {
	r := validRecipe()
	r.Requirements.Run = append(r.Requirements.Run, "pandas")
	problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.1"})
	p := findProblem(problems, "test.imports")
	if p == nil || p.Severity != SeverityWarning {
		t.Fatalf("expected test.imports warning, got %v", problems)
	}
	// python/pip never produce import warnings
	for _, prob := range problems {
		if prob.Field == "test.imports" && strings.Contains(prob.Message, `"python"`) {
			t.Errorf("interpreter dep flagged: %v", prob)
		}
	}
}

func TestValidateDashedDepMatchesUnderscoredImport(t *testing.T) {
	r := validRecipe()
	r.Requirements.Run = append(r.Requirements.Run, "scipy-stubs")
	r.Test.Imports = append(r.Test.Imports, "scipy_stubs")
	problems := Validate(r, ValidateOptions{ProjectVersion: "1.0.1"})
	if p := findProblem(problems, "test.imports"); p != nil {
		t.Fatalf("dashed name should match underscored import: %v", p)
	}
}
