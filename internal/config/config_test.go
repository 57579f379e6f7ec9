package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Preprocess.Manufacturers) != 10 {
		t.Errorf("expected 10 manufacturers, got %d", len(cfg.Preprocess.Manufacturers))
	}

	if cfg.Preprocess.NeutralThreshold != 4.0 {
		t.Errorf("expected neutral threshold 4.0, got %v", cfg.Preprocess.NeutralThreshold)
	}

	if cfg.Site.WaitTimeout != 10*time.Second {
		t.Errorf("expected wait timeout 10s, got %v", cfg.Site.WaitTimeout)
	}

	if cfg.Classifier.MaxLen != 100 {
		t.Errorf("expected max_len 100, got %d", cfg.Classifier.MaxLen)
	}

	if cfg.Preprocess.DefaultDistributor != "Official" {
		t.Errorf("expected default distributor 'Official', got %q", cfg.Preprocess.DefaultDistributor)
	}
}

func TestDefaultYAMLMatchesDefault(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}
	def := Default()

	if cfg.Selectors != def.Selectors {
		t.Errorf("embedded selectors differ from Default():\n%+v\n%+v", cfg.Selectors, def.Selectors)
	}
	if cfg.Site != def.Site {
		t.Errorf("embedded site differs from Default():\n%+v\n%+v", cfg.Site, def.Site)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
site:
  wait_timeout: 3s
preprocess:
  neutral_threshold: 3.5
  manufacturers: [ASUS]
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Site.WaitTimeout != 3*time.Second {
		t.Errorf("expected wait timeout 3s, got %v", cfg.Site.WaitTimeout)
	}
	if cfg.Preprocess.NeutralThreshold != 3.5 {
		t.Errorf("expected threshold 3.5, got %v", cfg.Preprocess.NeutralThreshold)
	}
	if len(cfg.Preprocess.Manufacturers) != 1 || cfg.Preprocess.Manufacturers[0] != "ASUS" {
		t.Errorf("expected manufacturers to be replaced, got %v", cfg.Preprocess.Manufacturers)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Selectors.ReviewItem == "" {
		t.Error("expected default review item selector")
	}
	if len(cfg.Preprocess.Distributors) != 2 {
		t.Errorf("expected default distributors, got %v", cfg.Preprocess.Distributors)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero timeout", "site:\n  wait_timeout: 0s\n", "wait_timeout"},
		{"missing placeholder", "site:\n  search_url: https://example.com/\n", "{query}"},
		{"empty selector", "selectors:\n  review_item: \"\"\n", "selectors.review_item"},
		{"bad max_len", "classifier:\n  max_len: 0\n", "max_len"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Preprocess.Distributors) == 0 {
		t.Error("expected distributors to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
