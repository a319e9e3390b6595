package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"archive": "https://archive.example.com/",
		"channels": ["main", "testing"],
		"platforms": ["linux-64"],
		"recipes_dir": "/srv/recipes",
		"output_dir": "/srv/output"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveURL() != "https://archive.example.com" {
		t.Errorf("ArchiveURL = %q, want trailing slash stripped", cfg.ArchiveURL())
	}
	if got := cfg.StatePath(); got != "/srv/output/builds.db" {
		t.Errorf("StatePath = %q, want output-dir default", got)
	}
	if got := cfg.InterpreterBinary(); got != "python3" {
		t.Errorf("InterpreterBinary = %q, want python3 default", got)
	}
}

func TestLoadMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no archive", `{"channels":["main"],"platforms":["linux-64"],"recipes_dir":"/r","output_dir":"/o"}`},
		{"no channels", `{"archive":"https://a","platforms":["linux-64"],"recipes_dir":"/r","output_dir":"/o"}`},
		{"no platforms", `{"archive":"https://a","channels":["main"],"recipes_dir":"/r","output_dir":"/o"}`},
		{"no recipes dir", `{"archive":"https://a","channels":["main"],"platforms":["linux-64"],"output_dir":"/o"}`},
		{"no output dir", `{"archive":"https://a","channels":["main"],"platforms":["linux-64"],"recipes_dir":"/r"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMetadataArgsDefault(t *testing.T) {
	cfg := &Config{Interpreter: "python3.12"}
	args := cfg.MetadataArgs()
	if len(args) != 3 || args[0] != "python3.12" || args[1] != "setup.py" {
		t.Fatalf("MetadataArgs = %v", args)
	}

	cfg.MetadataCommand = []string{"cat", "VERSION"}
	if got := cfg.MetadataArgs(); got[0] != "cat" {
		t.Fatalf("MetadataArgs override = %v", got)
	}
}

func TestChannelNamesSorted(t *testing.T) {
	cfg := &Config{Channels: []string{"testing", "main"}}
	names := cfg.ChannelNames()
	if len(names) != 2 || names[0] != "main" || names[1] != "testing" {
		t.Fatalf("ChannelNames = %v", names)
	}
	// the configured priority order must be untouched
	if cfg.Channels[0] != "testing" {
		t.Errorf("Channels mutated: %v", cfg.Channels)
	}
}

func TestDefaultPathEnvOverride(t *testing.T) {
	t.Setenv("RECIPEFORGE_CONFIG_FILE", "/tmp/other.json")
	if got := DefaultPath(); got != "/tmp/other.json" {
		t.Fatalf("DefaultPath = %q", got)
	}
}
