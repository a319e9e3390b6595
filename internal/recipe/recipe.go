package recipe

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recipe is a declarative build recipe for a single package. It carries no
// logic of its own; it is authored once per release and consumed by the
// build pipeline.
type Recipe struct {
	Package      Package      `yaml:"package"`
	Source       Source       `yaml:"source,omitempty"`
	Build        Build        `yaml:"build"`
	Requirements Requirements `yaml:"requirements"`
	Test         Test         `yaml:"test,omitempty"`
	About        About        `yaml:"about,omitempty"`

	// Path is the file the recipe was loaded from, "" for parsed buffers.
	Path string `yaml:"-"`
}

type Package struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Source names where the project tree comes from: either a local path
// relative to the recipe file, or a fetchable archive with its checksum.
type Source struct {
	Path   string `yaml:"path,omitempty"`
	URL    string `yaml:"url,omitempty"`
	SHA256 string `yaml:"sha256,omitempty"`
}

type Build struct {
	Number int    `yaml:"number"`
	Script string `yaml:"script"`
}

// Requirements holds the per-phase dependency lists. Entries are package
// names with an optional version constraint, e.g. "numpy >=1.24".
type Requirements struct {
	Build []string `yaml:"build,omitempty"`
	Run   []string `yaml:"run,omitempty"`
	Test  []string `yaml:"test,omitempty"`
}

type Test struct {
	Imports  []string `yaml:"imports,omitempty"`
	Commands []string `yaml:"commands,omitempty"`
}

type About struct {
	License     string `yaml:"license,omitempty"`
	LicenseFile string `yaml:"license_file,omitempty"`
	Summary     string `yaml:"summary,omitempty"`
	Home        string `yaml:"home,omitempty"`
}

// Load reads and parses a recipe file. Template tokens are left in place;
// callers expand them with Expand once project metadata is known.
func Load(path string) (*Recipe, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	r, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	r.Path = path
	return r, nil
}

// Parse decodes a recipe document. Unknown fields are rejected so typos in
// section names fail loudly instead of being silently dropped.
func Parse(raw []byte) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	return &r, nil
}

var templateToken = regexp.MustCompile(`\{\{\s*([a-z]+\.[a-z_]+)\s*\}\}`)

// ProjectInfo is the template context for recipe expansion. Version is the
// value reported by the project's own metadata query.
type ProjectInfo struct {
	Version string
}

// Expand substitutes template tokens in the recipe using the project
// metadata and the recipe's own package section. Unknown tokens are left
// untouched so validation can report them.
func (r *Recipe) Expand(project ProjectInfo) {
	expand := func(s string) string {
		return templateToken.ReplaceAllStringFunc(s, func(match string) string {
			key := templateToken.FindStringSubmatch(match)[1]
			switch key {
			case "project.version":
				if project.Version != "" {
					return project.Version
				}
			case "package.name":
				if r.Package.Name != "" {
					return r.Package.Name
				}
			case "package.version":
				if r.Package.Version != "" && !IsTemplated(r.Package.Version) {
					return r.Package.Version
				}
			}
			return match
		})
	}

	r.Package.Version = expand(r.Package.Version)
	r.Source.URL = expand(r.Source.URL)
	r.Build.Script = expand(r.Build.Script)
	for i, cmd := range r.Test.Commands {
		r.Test.Commands[i] = expand(cmd)
	}
}

// IsTemplated reports whether a field still contains an unexpanded token.
func IsTemplated(s string) bool {
	return templateToken.MatchString(s)
}

// DepNames returns the bare package names of a phase list, constraints
// stripped. Unparseable entries are skipped; validation reports them.
func DepNames(entries []string) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		dep, err := ParseDep(entry)
		if err != nil {
			continue
		}
		names = append(names, dep.Name)
	}
	return names
}

func (r *Recipe) String() string {
	return strings.TrimSpace(r.Package.Name + " " + r.Package.Version)
}
