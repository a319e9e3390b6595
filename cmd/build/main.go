package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/cirelab/recipeforge/internal/builder"
	"github.com/cirelab/recipeforge/internal/config"
	"github.com/cirelab/recipeforge/internal/logging"
	"github.com/cirelab/recipeforge/internal/manifest"
	"github.com/cirelab/recipeforge/internal/pipeline"
	"github.com/cirelab/recipeforge/internal/registry"
	"github.com/cirelab/recipeforge/internal/store"
	"github.com/cirelab/recipeforge/internal/workspace"
)

func main() {
	// Local overrides for archive credentials and interpreter paths.
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath(), "Path to config JSON")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	recipes := flag.String("recipes", "", "Comma-separated list of recipe files (default: discover under recipes_dir)")
	workdir := flag.String("workdir", "", "Working directory for downloads/extraction")
	force := flag.Bool("force", false, "Force rebuild of all recipes (ignore build cache)")
	output := flag.String("output", "", "Override output directory")
	jobs := flag.Int("jobs", 2, "Maximum concurrent builds within a stage")
	watch := flag.Bool("watch", false, "Watch recipes_dir and rebuild on change")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel, "build")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.OutputDir = *output
	}

	// Resolved inside the closure so watched rebuilds pick up recipes
	// created or deleted since the previous run.
	runOnce := func() error {
		paths, err := resolveRecipes(cfg, *recipes)
		if err != nil {
			return fmt.Errorf("resolve recipes: %w", err)
		}
		if len(paths) == 0 {
			return fmt.Errorf("no recipes found under %s", cfg.RecipesDir)
		}
		return build(logger, cfg, paths, *workdir, *force, *jobs)
	}

	if *watch {
		if err := watchAndBuild(logger, cfg.RecipesDir, runOnce); err != nil {
			logger.Error("watch failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runOnce(); err != nil {
		logger.Error("build failed", "error", err)
		os.Exit(1)
	}
}

func build(logger *slog.Logger, cfg *config.Config, paths []string, workDir string, force bool, jobs int) error {
	var err error
	if workDir == "" {
		if workDir = cfg.WorkDir; workDir == "" {
			workDir, err = os.MkdirTemp("", "recipeforge-build-")
			if err != nil {
				return fmt.Errorf("create work dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(workDir) }()
		}
	}
	logger.Info("using work directory", "path", workDir)

	client := registry.New(cfg.ArchiveURL(), cfg.Channels, cfg.Platforms)
	client.Logger = logger

	b := builder.New(cfg.InterpreterBinary(), cfg.MetadataArgs())
	b.Env = cfg.BuildEnv
	b.Logger = logger

	recorder, err := store.NewRecorder(cfg.StatePath())
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Registry:  client,
		Builder:   b,
		Extractor: &builder.SourceExtractor{WorkDir: workDir},
		Workspace: workspace.New(cfg.OutputDir),
		Recorder:  recorder,
		Manifest: &manifest.Generator{
			Root:    cfg.OutputDir,
			Archive: cfg.ArchiveURL(),
			Logger:  logger,
		},
		Logger:      logger,
		WorkDir:     workDir,
		FailuresDir: cfg.OutputDir,
		Channel:     publishChannel(cfg),
		Concurrency: jobs,
		ForceBuild:  force,
	}

	if err := runner.Run(context.Background(), paths); err != nil {
		return err
	}

	status := runner.Status()
	logger.Info("run finished",
		"recipes", status.Total,
		"built", status.Done-status.Skipped-status.Errors,
		"skipped", status.Skipped,
		"failed", status.Errors,
	)
	if status.Errors > 0 {
		return fmt.Errorf("%d recipe(s) failed, see %s", status.Errors, status.FailuresPath)
	}
	return nil
}

// publishChannel is the channel built packages are recorded against: the
// first configured channel, which is the highest priority one.
func publishChannel(cfg *config.Config) string {
	if len(cfg.Channels) > 0 {
		return cfg.Channels[0]
	}
	return ""
}

// resolveRecipes returns the recipe files for a run: an explicit
// comma-separated list, or every recipe.yaml discovered under recipes_dir.
func resolveRecipes(cfg *config.Config, recipeList string) ([]string, error) {
	if strings.TrimSpace(recipeList) != "" {
		paths := strings.Split(recipeList, ",")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
			if paths[i] == "" {
				return nil, fmt.Errorf("empty entry in recipe list")
			}
			if _, err := os.Stat(paths[i]); err != nil {
				return nil, fmt.Errorf("recipe %s: %w", paths[i], err)
			}
		}
		return paths, nil
	}
	return discoverRecipes(cfg.RecipesDir)
}

func discoverRecipes(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "recipe.yaml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover recipes: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// watchAndBuild runs an initial build, then reruns whenever a recipe file
// changes. Events are debounced because editors fire several per save.
func watchAndBuild(logger *slog.Logger, recipesDir string, runOnce func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	err = filepath.WalkDir(recipesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", recipesDir, err)
	}

	if err := runOnce(); err != nil {
		logger.Error("build failed", "error", err)
	}
	logger.Info("watching for recipe changes", "dir", recipesDir)

	const debounce = 2 * time.Second
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories need watching too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			logger.Debug("recipe change", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.AfterFunc(debounce, func() { pending <- struct{}{} })
			} else {
				timer.Reset(debounce)
			}
		case <-pending:
			timer = nil
			if err := runOnce(); err != nil {
				logger.Error("build failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		}
	}
}
