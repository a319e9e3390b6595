package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cirelab/recipeforge/internal/builder"
	"github.com/cirelab/recipeforge/internal/manifest"
	"github.com/cirelab/recipeforge/internal/metrics"
	"github.com/cirelab/recipeforge/internal/recipe"
	"github.com/cirelab/recipeforge/internal/registry"
	"github.com/cirelab/recipeforge/internal/resolver"
	"github.com/cirelab/recipeforge/internal/store"
	"github.com/cirelab/recipeforge/internal/workspace"
)

// Runner drives a full pipeline run: load recipes, resolve against the
// archive, build and test each recipe in dependency order, record results.
type Runner struct {
	Registry    *registry.Client
	Builder     *builder.Builder
	Extractor   *builder.SourceExtractor
	Workspace   *workspace.Workspace
	Recorder    *store.Recorder
	Manifest    *manifest.Generator
	Logger      *slog.Logger
	WorkDir     string
	FailuresDir string
	Channel     string
	Concurrency int
	ForceBuild  bool

	mu       sync.Mutex
	status   RunStatus
	failures []string
	records  []manifest.PackageRecord
}

// Run executes the pipeline over the given recipe files. Per-recipe
// failures (validation, resolution, install script or test exits) are
// recorded and do not abort the rest of the run; infrastructure errors do.
func (r *Runner) Run(ctx context.Context, recipePaths []string) error {
	if r.Registry == nil || r.Builder == nil || r.Workspace == nil {
		return errors.New("pipeline runner missing dependencies")
	}

	r.mu.Lock()
	r.status = RunStatus{Stage: "resolving", Total: len(recipePaths)}
	if r.FailuresDir != "" {
		r.status.FailuresPath = filepath.Join(r.FailuresDir, "build-failures.log")
	}
	failPath := r.status.FailuresPath
	r.mu.Unlock()

	// Create the failure log up front so users can tail it during the run.
	if failPath != "" {
		_ = os.MkdirAll(filepath.Dir(failPath), 0o755)
		_ = os.WriteFile(failPath, nil, 0o644)
	}

	recipes := r.loadRecipes(recipePaths)

	if r.Logger != nil {
		r.Logger.Info("fetching archive index", "recipes", len(recipes))
	}
	index, err := r.Registry.FetchIndex(ctx)
	if err != nil {
		r.setStage("error")
		return fmt.Errorf("fetch archive index: %w", err)
	}

	waves, err := resolver.Waves(recipes)
	if err != nil {
		r.setStage("error")
		return fmt.Errorf("order recipes: %w", err)
	}

	r.setStage("building")

	var firstErr error
	for _, wave := range waves {
		g, gctx := errgroup.WithContext(ctx)
		if r.Concurrency > 0 {
			g.SetLimit(r.Concurrency)
		}
		for _, rec := range wave {
			g.Go(func() error {
				err := r.processRecipe(gctx, rec, index)
				r.mu.Lock()
				r.status.Done++
				r.mu.Unlock()

				var re *RecipeError
				if errors.As(err, &re) {
					r.recordFailure(re.Package, re.Err)
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			firstErr = err
			break
		}
	}

	if r.Recorder != nil {
		if err := r.Recorder.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close build recorder: %w", err)
		}
	}

	if r.Manifest != nil {
		r.mu.Lock()
		records := append([]manifest.PackageRecord(nil), r.records...)
		r.mu.Unlock()
		if err := r.Manifest.Generate(ctx, records); err != nil && r.Logger != nil {
			r.Logger.Error("manifest generation failed", "error", err)
			// Non-fatal: don't fail the entire run for a manifest error.
		}
	}

	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	if s.Errors > 0 && r.Logger != nil {
		r.Logger.Warn("run completed with failures", "count", s.Errors, "log", s.FailuresPath)
	}
	if firstErr != nil {
		r.setStage("error")
		return firstErr
	}
	r.setStage("done")
	return nil
}

// Status returns a snapshot of run progress, including the per-recipe
// failure messages so far.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Failures = append([]string(nil), r.failures...)
	return s
}

func (r *Runner) setStage(stage string) {
	r.mu.Lock()
	r.status.Stage = stage
	r.mu.Unlock()
}

// loadRecipes parses every recipe file. A file that fails to parse is
// recorded as a failure and dropped from the run.
func (r *Runner) loadRecipes(paths []string) []*recipe.Recipe {
	recipes := make([]*recipe.Recipe, 0, len(paths))
	for _, path := range paths {
		rec, err := recipe.Load(path)
		if err != nil {
			r.recordFailure(filepath.Base(path), err)
			r.mu.Lock()
			r.status.Done++
			r.mu.Unlock()
			continue
		}
		recipes = append(recipes, rec)
	}
	return recipes
}

func (r *Runner) processRecipe(ctx context.Context, rec *recipe.Recipe, index registry.Index) error {
	name := rec.Package.Name
	if name == "" {
		name = filepath.Base(rec.Path)
	}
	if r.Logger != nil {
		r.Logger.Info("processing recipe", "package", name, "path", rec.Path)
	}

	raw, err := os.ReadFile(rec.Path)
	if err != nil {
		return fmt.Errorf("reread recipe %s: %w", rec.Path, err)
	}

	// Bind the recipe to its source: expand template tokens and work out
	// the fingerprint identity before anything is downloaded or built.
	var (
		sourceDir     string
		sourceID      string
		probedVersion string
	)
	if rec.Source.Path != "" {
		sourceDir = filepath.Join(filepath.Dir(rec.Path), filepath.FromSlash(rec.Source.Path))
		probedVersion, err = r.Builder.ProbeVersion(ctx, sourceDir)
		if err != nil {
			return &RecipeError{Package: name, Err: err}
		}
		rec.Expand(recipe.ProjectInfo{Version: probedVersion})
		sourceID = "path:" + sourceDir + ":" + probedVersion
	} else {
		rec.Expand(recipe.ProjectInfo{})
		sourceID = "url:" + rec.Source.URL + ":" + rec.Source.SHA256
	}

	problems := recipe.Validate(rec, recipe.ValidateOptions{
		SourceRoot:     sourceDir,
		ProjectVersion: probedVersion,
	})
	for _, p := range problems {
		if p.Severity == recipe.SeverityWarning && r.Logger != nil {
			r.Logger.Warn("recipe warning", "package", name, "field", p.Field, "message", p.Message)
		}
	}
	if recipe.HasErrors(problems) {
		return r.failBuild(ctx, rec, problemsLog(problems), fmt.Errorf("recipe validation failed"))
	}

	fingerprint := workspace.Fingerprint(raw, sourceID)
	if !r.ForceBuild && r.Workspace.CheckCache(name, fingerprint) {
		if r.Logger != nil {
			r.Logger.Debug("skipping unchanged recipe", "package", name)
		}
		r.mu.Lock()
		r.status.Skipped++
		r.records = append(r.records, manifest.PackageRecord{
			Name:        name,
			Version:     rec.Package.Version,
			BuildNumber: rec.Build.Number,
			Status:      store.StatusSkipped,
			License:     rec.About.License,
			BuiltAt:     time.Now().UTC(),
		})
		r.mu.Unlock()
		return nil
	}

	report := resolver.Resolve(rec, index)
	if !report.OK() {
		metrics.ResolutionFailures.Inc()
		return r.failBuild(ctx, rec, resolutionLog(report), report.Err())
	}

	// url sources are only fetched once we know the build will run.
	if rec.Source.URL != "" {
		recipeWork := filepath.Join(r.WorkDir, name)
		artifactPath, err := r.Registry.FetchArtifact(ctx, rec.Source.URL, rec.Source.SHA256, recipeWork)
		if err != nil {
			return &RecipeError{Package: name, Err: fmt.Errorf("fetch source: %w", err)}
		}
		defer func() { _ = os.Remove(artifactPath) }()

		dir, cleanup, err := r.Extractor.Extract(ctx, artifactPath)
		if err != nil {
			return &RecipeError{Package: name, Err: fmt.Errorf("extract source: %w", err)}
		}
		defer func() { _ = cleanup() }()
		sourceDir = dir

		// The pre-fetch validation pass had no source tree, so checks that
		// need one (the license file) were deferred to here.
		problems := recipe.Validate(rec, recipe.ValidateOptions{SourceRoot: sourceDir})
		if recipe.HasErrors(problems) {
			return r.failBuild(ctx, rec, problemsLog(problems), fmt.Errorf("recipe validation failed"))
		}
	}

	prefix, err := r.Workspace.Prefix(name)
	if err != nil {
		return fmt.Errorf("prepare prefix for %s: %w", name, err)
	}

	start := time.Now()
	buildOut, err := r.Builder.RunBuild(ctx, rec, sourceDir, prefix)
	if err != nil {
		return r.failBuild(ctx, rec, buildOut, err)
	}

	testOut, err := r.Builder.RunTests(ctx, rec, sourceDir, prefix)
	logText := buildOut + testOut
	if err != nil {
		return r.failBuild(ctx, rec, logText, err)
	}
	duration := time.Since(start)

	if _, err := r.Workspace.WriteLog(ctx, name, []byte(logText)); err != nil {
		return fmt.Errorf("write log for %s: %w", name, err)
	}

	if r.Recorder != nil {
		_, err = r.Recorder.Record(ctx, store.Build{
			Package:  name,
			Version:  rec.Package.Version,
			Channel:  r.Channel,
			Status:   store.StatusSucceeded,
			Duration: duration,
			Log:      logText,
		})
		if err != nil {
			return fmt.Errorf("record build for %s: %w", name, err)
		}
	}

	if err := r.Workspace.WriteCache(ctx, name, fingerprint); err != nil {
		return fmt.Errorf("write cache for %s: %w", name, err)
	}

	metrics.BuildsTotal.WithLabelValues(store.StatusSucceeded).Inc()
	metrics.BuildDuration.Observe(duration.Seconds())

	r.mu.Lock()
	r.records = append(r.records, manifest.PackageRecord{
		Name:        name,
		Version:     rec.Package.Version,
		BuildNumber: rec.Build.Number,
		Status:      store.StatusSucceeded,
		License:     rec.About.License,
		BuiltAt:     time.Now().UTC(),
	})
	r.mu.Unlock()

	if r.Logger != nil {
		r.Logger.Info("recipe built", "package", name, "version", rec.Package.Version, "duration", duration)
	}
	return nil
}

// failBuild records a failed build outcome and returns the non-fatal error
// for the runner loop.
func (r *Runner) failBuild(ctx context.Context, rec *recipe.Recipe, logText string, cause error) error {
	name := rec.Package.Name

	if r.Recorder != nil {
		_, err := r.Recorder.Record(ctx, store.Build{
			Package:  name,
			Version:  rec.Package.Version,
			Channel:  r.Channel,
			Status:   store.StatusFailed,
			Duration: 0,
			Log:      logText,
		})
		if err != nil {
			return fmt.Errorf("record failed build for %s: %w", name, err)
		}
	}
	if logText != "" {
		if _, err := r.Workspace.WriteLog(ctx, name, []byte(logText)); err != nil && r.Logger != nil {
			r.Logger.Warn("write failure log", "package", name, "error", err)
		}
	}

	metrics.BuildsTotal.WithLabelValues(store.StatusFailed).Inc()

	r.mu.Lock()
	r.records = append(r.records, manifest.PackageRecord{
		Name:        name,
		Version:     rec.Package.Version,
		BuildNumber: rec.Build.Number,
		Status:      store.StatusFailed,
		License:     rec.About.License,
		BuiltAt:     time.Now().UTC(),
	})
	r.mu.Unlock()

	return &RecipeError{Package: name, Err: cause}
}

func (r *Runner) recordFailure(pkg string, err error) {
	message := strings.TrimSpace(fmt.Sprintf("%s: %v", pkg, err))
	r.mu.Lock()
	r.failures = append(r.failures, message)
	r.status.Errors++
	failPath := r.status.FailuresPath
	r.mu.Unlock()

	// Append to the failure log immediately so users can tail it.
	if failPath != "" {
		f, ferr := os.OpenFile(failPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr == nil {
			_, _ = fmt.Fprintln(f, message)
			_ = f.Close()
		}
	}

	if r.Logger != nil {
		r.Logger.Warn("recipe failed", "package", pkg, "error", err)
	}
}

func problemsLog(problems []recipe.Problem) string {
	var b strings.Builder
	for _, p := range problems {
		fmt.Fprintln(&b, p.String())
	}
	return b.String()
}

func resolutionLog(report resolver.Report) string {
	var b strings.Builder
	for _, res := range report.Unresolved {
		fmt.Fprintf(&b, "unresolved (%s): %s: %s\n", res.Phase, res.Dep, res.Reason)
	}
	return b.String()
}
