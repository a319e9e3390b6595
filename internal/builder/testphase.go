package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/cirelab/recipeforge/internal/recipe"
)

// RunTests executes the recipe's test phase: first the import checks, then
// the test commands. The first non-zero exit marks the package build failed.
// The accumulated output is returned either way for the build record.
func (b *Builder) RunTests(ctx context.Context, r *recipe.Recipe, sourceDir string, prefix string) (string, error) {
	var log strings.Builder
	env := b.phaseEnv(r, sourceDir, prefix)

	for _, module := range r.Test.Imports {
		if b.Logger != nil {
			b.Logger.Debug("import check", "package", r.Package.Name, "module", module)
		}
		script := b.Interpreter + " -c " + shellQuote("import "+module)
		fmt.Fprintf(&log, "$ %s\n", script)
		output, err := b.runShell(ctx, script, sourceDir, env)
		log.WriteString(output)
		if err != nil {
			return log.String(), &PhaseError{
				Phase:  "test",
				Err:    fmt.Errorf("import %s: %w", module, err),
				Output: log.String(),
			}
		}
	}

	for _, command := range r.Test.Commands {
		if b.Logger != nil {
			b.Logger.Info("running test command", "package", r.Package.Name, "command", command)
		}
		fmt.Fprintf(&log, "$ %s\n", command)
		output, err := b.runShell(ctx, command, sourceDir, env)
		log.WriteString(output)
		if err != nil {
			return log.String(), &PhaseError{
				Phase:  "test",
				Err:    fmt.Errorf("test command %q: %w", command, err),
				Output: log.String(),
			}
		}
	}

	return log.String(), nil
}

// shellQuote single-quotes a string for sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
