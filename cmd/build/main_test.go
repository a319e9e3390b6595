package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cirelab/recipeforge/internal/config"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("package:\n  name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Discovery must reflect the recipe tree at call time: watched rebuilds
// re-resolve the set, so recipes added or removed between runs are seen.
func TestDiscoverRecipesReflectsCurrentTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha", "recipe.yaml"))

	paths, err := discoverRecipes(dir)
	if err != nil {
		t.Fatalf("discoverRecipes: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("paths = %v", paths)
	}

	writeFile(t, filepath.Join(dir, "beta", "recipe.yaml"))
	paths, err = discoverRecipes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("new recipe not discovered: %v", paths)
	}

	if err := os.RemoveAll(filepath.Join(dir, "alpha")); err != nil {
		t.Fatal(err)
	}
	paths, err = discoverRecipes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || filepath.Base(filepath.Dir(paths[0])) != "beta" {
		t.Fatalf("deleted recipe still discovered: %v", paths)
	}
}

func TestDiscoverRecipesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		writeFile(t, filepath.Join(dir, name, "recipe.yaml"))
	}
	paths, err := discoverRecipes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v", paths)
	}
	for i := 1; i < len(paths); i++ {
		if paths[i-1] >= paths[i] {
			t.Fatalf("paths not sorted: %v", paths)
		}
	}
}

func TestResolveRecipesExplicitList(t *testing.T) {
	dir := t.TempDir()
	recipePath := filepath.Join(dir, "recipe.yaml")
	writeFile(t, recipePath)

	cfg := &config.Config{RecipesDir: dir}
	paths, err := resolveRecipes(cfg, recipePath)
	if err != nil {
		t.Fatalf("resolveRecipes: %v", err)
	}
	if len(paths) != 1 || paths[0] != recipePath {
		t.Fatalf("paths = %v", paths)
	}

	if _, err := resolveRecipes(cfg, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing recipe file")
	}
}
