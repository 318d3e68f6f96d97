package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("ENV")
	os.Unsetenv("INPUT_DIR")
	os.Unsetenv("OUTPUT_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected default ENV to be 'development', got %q", cfg.Env)
	}
	if cfg.InputDir != "./data/in" {
		t.Errorf("expected default INPUT_DIR, got %q", cfg.InputDir)
	}
	if cfg.OutputDir != "./data/out" {
		t.Errorf("expected default OUTPUT_DIR, got %q", cfg.OutputDir)
	}
	if cfg.LOINCSystem != "http://loinc.org" {
		t.Errorf("expected default LOINC system URI, got %q", cfg.LOINCSystem)
	}
	if cfg.ABHASystem != "https://healthid.ndhm.gov.in" {
		t.Errorf("expected default ABHA system URI, got %q", cfg.ABHASystem)
	}
	if cfg.VLMTimeout != 30*time.Second {
		t.Errorf("expected default VLM timeout 30s, got %s", cfg.VLMTimeout)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Setenv("INPUT_DIR", "/tmp/custom-in")
	os.Setenv("OUTPUT_DIR", "/tmp/custom-out")
	defer os.Unsetenv("INPUT_DIR")
	defer os.Unsetenv("OUTPUT_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InputDir != "/tmp/custom-in" {
		t.Errorf("expected overridden INPUT_DIR, got %q", cfg.InputDir)
	}
	if cfg.OutputDir != "/tmp/custom-out" {
		t.Errorf("expected overridden OUTPUT_DIR, got %q", cfg.OutputDir)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}
	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestValidate_RequiresPaths(t *testing.T) {
	c := &Config{OutputDir: "./out", VLMTimeout: time.Second}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when InputDir is empty")
	}

	c = &Config{InputDir: "./in", VLMTimeout: time.Second}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when OutputDir is empty")
	}
}

func TestValidate_RequiresPositiveVLMTimeout(t *testing.T) {
	c := &Config{InputDir: "./in", OutputDir: "./out", VLMTimeout: 0}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when VLMTimeout is zero")
	}
}

func TestValidate_OK(t *testing.T) {
	c := &Config{InputDir: "./in", OutputDir: "./out", VLMTimeout: 30 * time.Second}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected Validate() error: %v", err)
	}
}
