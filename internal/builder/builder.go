package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cirelab/recipeforge/internal/recipe"
)

const defaultBuildTimeout = 30 * time.Minute

// Builder runs recipe phases by delegating to external tools. It performs
// no recovery of its own: a non-zero exit from the install script or test
// command fails the phase, and the tool's output is surfaced verbatim.
type Builder struct {
	Interpreter string
	MetadataCmd []string
	Env         map[string]string
	Timeout     time.Duration
	Logger      *slog.Logger
}

func New(interpreter string, metadataCmd []string) *Builder {
	if interpreter == "" {
		interpreter = "python3"
	}
	if len(metadataCmd) == 0 {
		metadataCmd = []string{interpreter, "setup.py", "--version"}
	}
	return &Builder{
		Interpreter: interpreter,
		MetadataCmd: metadataCmd,
		Timeout:     defaultBuildTimeout,
	}
}

// PhaseError wraps a build or test phase failure so callers can distinguish
// recipe failures (non-fatal to a multi-recipe run) from pipeline errors.
type PhaseError struct {
	Phase  string
	Err    error
	Output string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// ProbeVersion runs the project's own metadata query in the source tree and
// returns the reported version.
func (b *Builder) ProbeVersion(ctx context.Context, sourceDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.MetadataCmd[0], b.MetadataCmd[1:]...)
	cmd.Dir = sourceDir
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("metadata query: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	version := strings.TrimSpace(stdout.String())
	if version == "" {
		return "", fmt.Errorf("metadata query %q reported no version", strings.Join(b.MetadataCmd, " "))
	}
	// Some metadata backends print deprecation noise before the value.
	lines := strings.Split(version, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// RunBuild executes the recipe's build script with the phase environment.
// The combined output is returned for the build record even on failure.
func (b *Builder) RunBuild(ctx context.Context, r *recipe.Recipe, sourceDir string, prefix string) (string, error) {
	if strings.TrimSpace(r.Build.Script) == "" {
		return "", &PhaseError{Phase: "build", Err: fmt.Errorf("recipe has no build script")}
	}

	if b.Logger != nil {
		b.Logger.Info("running build script", "package", r.Package.Name, "version", r.Package.Version)
	}

	output, err := b.runShell(ctx, r.Build.Script, sourceDir, b.phaseEnv(r, sourceDir, prefix))
	if err != nil {
		return output, &PhaseError{Phase: "build", Err: err, Output: output}
	}
	return output, nil
}

func (b *Builder) phaseEnv(r *recipe.Recipe, sourceDir string, prefix string) []string {
	env := os.Environ()
	env = append(env,
		"PREFIX="+prefix,
		"SRC_DIR="+sourceDir,
		"PKG_NAME="+r.Package.Name,
		"PKG_VERSION="+r.Package.Version,
		fmt.Sprintf("PKG_BUILDNUM=%d", r.Build.Number),
	)
	for key, value := range b.Env {
		env = append(env, key+"="+value)
	}
	return env
}

func (b *Builder) runShell(ctx context.Context, script string, dir string, env []string) (string, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultBuildTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = 10 * time.Second

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, lastLine(output))
	}
	return string(output), nil
}

func lastLine(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return "(no output)"
	}
	lines := strings.Split(trimmed, "\n")
	return lines[len(lines)-1]
}
