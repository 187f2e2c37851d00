package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenNoConfigFilePresent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prefix != "/usr" {
		t.Errorf("Prefix = %q, want /usr default", cfg.Prefix)
	}
	if cfg.ToolPrefix != "/tools" {
		t.Errorf("ToolPrefix = %q, want /tools default", cfg.ToolPrefix)
	}
	if cfg.Jobs <= 0 {
		t.Errorf("Jobs = %d, want a positive default", cfg.Jobs)
	}
	if cfg.ControllerAddr != "127.0.0.1:7770" {
		t.Errorf("ControllerAddr = %q, want 127.0.0.1:7770 default", cfg.ControllerAddr)
	}
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "morph.yaml")
	contents := "prefix: /opt\narch: armv7\njobs: 3\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prefix != "/opt" {
		t.Errorf("Prefix = %q, want /opt", cfg.Prefix)
	}
	if cfg.Arch != "armv7" {
		t.Errorf("Arch = %q, want armv7", cfg.Arch)
	}
	if cfg.Jobs != 3 {
		t.Errorf("Jobs = %d, want 3", cfg.Jobs)
	}
}

func TestLoadEnvironmentVariableOverridesDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)
	t.Setenv("MORPH_CACHE_DIR", "/srv/morph-cache")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/srv/morph-cache" {
		t.Errorf("CacheDir = %q, want /srv/morph-cache from MORPH_CACHE_DIR", cfg.CacheDir)
	}
}
