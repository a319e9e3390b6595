package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/cirelab/recipeforge/internal/builder"
	"github.com/cirelab/recipeforge/internal/config"
	"github.com/cirelab/recipeforge/internal/logging"
	"github.com/cirelab/recipeforge/internal/recipe"
	"github.com/cirelab/recipeforge/internal/registry"
	"github.com/cirelab/recipeforge/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath(), "Path to config JSON")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	recipePath := flag.String("recipe", "", "Recipe file to check (required)")
	offline := flag.Bool("offline", false, "Skip dependency resolution against the archive")
	flag.Parse()

	logger := logging.BuildLogger(*logLevel, "check")

	if *recipePath == "" {
		fmt.Fprintf(os.Stderr, "Usage: check -recipe <path>\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := check(logger, *configPath, *recipePath, *offline); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// check validates one recipe and resolves its dependencies, reporting every
// finding on stdout. A failing recipe exits non-zero so CI can gate on it.
func check(logger *slog.Logger, configPath, recipePath string, offline bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rec, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}

	b := builder.New(cfg.InterpreterBinary(), cfg.MetadataArgs())
	b.Env = cfg.BuildEnv
	b.Logger = logger

	ctx := context.Background()

	var (
		sourceDir      string
		projectVersion string
	)
	if rec.Source.Path != "" {
		sourceDir = filepath.Join(filepath.Dir(rec.Path), filepath.FromSlash(rec.Source.Path))
		projectVersion, err = b.ProbeVersion(ctx, sourceDir)
		if err != nil {
			return err
		}
		logger.Info("project metadata", "version", projectVersion)
		rec.Expand(recipe.ProjectInfo{Version: projectVersion})
	} else {
		rec.Expand(recipe.ProjectInfo{})
	}

	problems := recipe.Validate(rec, recipe.ValidateOptions{
		SourceRoot:     sourceDir,
		ProjectVersion: projectVersion,
	})
	for _, p := range problems {
		fmt.Println(p)
	}
	if recipe.HasErrors(problems) {
		return fmt.Errorf("recipe %s is invalid", rec)
	}

	if offline {
		fmt.Printf("%s: recipe OK (resolution skipped)\n", rec)
		return nil
	}

	client := registry.New(cfg.ArchiveURL(), cfg.Channels, cfg.Platforms)
	client.Logger = logger

	index, err := client.FetchIndex(ctx)
	if err != nil {
		return fmt.Errorf("fetch archive index: %w", err)
	}
	logger.Info("archive index fetched", "packages", len(index))

	report := resolver.Resolve(rec, index)
	for _, res := range report.Resolved {
		fmt.Printf("resolved (%s): %s -> %s %s [%s]\n",
			res.Phase, res.Dep, res.Entry.Name, res.Entry.Version, res.Entry.Channel)
	}
	for _, res := range report.Unresolved {
		fmt.Printf("unresolved (%s): %s: %s\n", res.Phase, res.Dep, res.Reason)
	}
	if !report.OK() {
		return report.Err()
	}

	fmt.Printf("%s: recipe OK, %d dependencies resolved\n", rec, len(report.Resolved))
	return nil
}
