package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.World.Width != 80 || cfg.World.Height != 60 {
		t.Fatalf("default world size = %dx%d, want 80x60", cfg.World.Width, cfg.World.Height)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("default driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Clock.TimeScale != 60 {
		t.Fatalf("default time scale = %v, want 60", cfg.Clock.TimeScale)
	}
	if cfg.API.Port != 8080 {
		t.Fatalf("default port = %d, want 8080", cfg.API.Port)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixelvale.yaml")
	body := `
world:
  width: 40
  height: 30
  seed: 99
social:
  invite_timeout: 45s
trees:
  wood_max: 7
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 40 || cfg.World.Height != 30 {
		t.Fatalf("world size = %dx%d, want 40x30", cfg.World.Width, cfg.World.Height)
	}
	if cfg.World.Seed != 99 {
		t.Fatalf("seed = %d, want 99", cfg.World.Seed)
	}
	if cfg.Social.InviteTimeout != 45*time.Second {
		t.Fatalf("invite timeout = %v, want 45s", cfg.Social.InviteTimeout)
	}
	if cfg.Trees.WoodMax != 7 {
		t.Fatalf("wood max = %d, want 7", cfg.Trees.WoodMax)
	}
	// Untouched sections keep their defaults.
	if cfg.Building.WoodRequired != 50 {
		t.Fatalf("wood required = %d, want default 50", cfg.Building.WoodRequired)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsBadWorldSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("world:\n  width: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative world width")
	}
}

func TestLoadRejectsInvertedWoodRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("trees:\n  wood_min: 5\n  wood_max: 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for wood_max < wood_min")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIXELVALE_PORT", "9999")
	t.Setenv("PIXELVALE_DB", "/tmp/other.db")
	t.Setenv("PIXELVALE_KEY", "hunter2")
	t.Setenv("PIXELVALE_SEED", "1234")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Fatalf("port = %d, want 9999", cfg.API.Port)
	}
	if cfg.Store.Path != "/tmp/other.db" {
		t.Fatalf("db path = %q", cfg.Store.Path)
	}
	if cfg.API.SharedKey != "hunter2" {
		t.Fatalf("shared key = %q", cfg.API.SharedKey)
	}
	if cfg.World.Seed != 1234 {
		t.Fatalf("seed = %d, want 1234", cfg.World.Seed)
	}
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("PIXELVALE_PORT", "not-a-port")
	t.Setenv("PIXELVALE_SEED", "not-a-seed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Fatalf("port = %d, want default 8080", cfg.API.Port)
	}
	if cfg.World.Seed != 0 {
		t.Fatalf("seed = %d, want default 0", cfg.World.Seed)
	}
}
