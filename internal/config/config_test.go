package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/ocr"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.yaml")
	configYAML := `
snapshot:
  path: data/catalog.json
  autosave_interval_seconds: 30
assets:
  dir: /var/assets
source:
  home_url: https://example.test/
  site: example
  provenance_tags: ["_source=example"]
  tag_aliases:
    Series: TV
  skip_ocr_categories: ["4"]
  update_mode: true
http:
  attempts: 2
  rate_limit_rps: 0.5
ocr:
  enabled: false
  region:
    y: 10
  batches:
    - name: umi.zh-CN
      path: umi.jsonl
remote:
  host: http://127.0.0.1:41595
  token: tok
  folder_path: [".import", ".src"]
  create_delay_ms: 0
pubsub:
  project_id: proj
  topic_name: events
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir, "harvester.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Snapshot.Path != filepath.Join(dir, "data", "catalog.json") {
		t.Fatalf("expected snapshot path relative to workdir, got %q", cfg.Snapshot.Path)
	}
	if cfg.Assets.Dir != "/var/assets" {
		t.Fatalf("expected absolute assets dir to be kept, got %q", cfg.Assets.Dir)
	}
	if got := cfg.AutosaveInterval(); got != 30*time.Second {
		t.Fatalf("expected autosave 30s, got %v", got)
	}
	if cfg.Source.HomeURL != "https://example.test/" || !cfg.Source.UpdateMode {
		t.Fatalf("expected source overrides to apply: %+v", cfg.Source.Config)
	}
	if cfg.Source.ListingURL != "https://example.test/search/index.html?cid={id}&page_size=500" {
		t.Fatalf("expected listing url default derived from home, got %q", cfg.Source.ListingURL)
	}
	if cfg.Source.TagAliases["series"] != "TV" {
		t.Fatalf("expected tag alias to load: %+v", cfg.Source.TagAliases)
	}
	if len(cfg.OCR.Batches) != 1 || cfg.OCR.Batches[0].Name != "umi.zh-CN" {
		t.Fatalf("expected one batch source: %+v", cfg.OCR.Batches)
	}
	if cfg.OCR.Region.Y != 10 || cfg.OCR.Region.Width != 730 {
		t.Fatalf("expected region merge of file and defaults: %+v", cfg.OCR.Region)
	}
	if cfg.OCR.BatchDir != dir {
		t.Fatalf("expected batch dir to default to workdir, got %q", cfg.OCR.BatchDir)
	}
	if len(cfg.Remote.FolderPath) != 2 || cfg.CreateDelay() != 0 {
		t.Fatalf("expected remote overrides: %+v", cfg.Remote)
	}
	if cfg.HTTP.Attempts != 2 || cfg.HTTP.TimeoutSeconds != 30 {
		t.Fatalf("expected http attempts override with default timeout: %+v", cfg.HTTP)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Snapshot.Path != filepath.Join(dir, "catalog.json") {
		t.Fatalf("unexpected snapshot path %q", cfg.Snapshot.Path)
	}
	if cfg.Assets.Extension != ".jpg" {
		t.Fatalf("expected .jpg extension, got %q", cfg.Assets.Extension)
	}
	if !cfg.Remote.SaveAfterCreate || cfg.Remote.FolderPath[0] != ".import" {
		t.Fatalf("unexpected remote defaults: %+v", cfg.Remote)
	}
	if cfg.FetchRetryDelay() != time.Second || cfg.RemoteTimeout() != 30*time.Second {
		t.Fatalf("unexpected duration defaults")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_REMOTE_TOKEN", "from-env")
	t.Setenv("HARVESTER_HTTP_ATTEMPTS", "7")

	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.Token != "from-env" {
		t.Fatalf("expected token from env, got %q", cfg.Remote.Token)
	}
	if cfg.HTTP.Attempts != 7 {
		t.Fatalf("expected attempts from env, got %d", cfg.HTTP.Attempts)
	}
}

func TestLoadRequiresWorkdir(t *testing.T) {
	if _, err := Load("  ", ""); err == nil {
		t.Fatal("expected error without workdir")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir(), "missing.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Snapshot: SnapshotConfig{Path: "catalog.json"},
			Assets:   AssetsConfig{Dir: "assets"},
			HTTP:     HTTPConfig{TimeoutSeconds: 1, Attempts: 1},
			Remote:   RemoteConfig{Attempts: 1, FolderPath: []string{".import"}},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"snapshot", func(c *Config) { c.Snapshot.Path = "" }, "snapshot.path"},
		{"attempts", func(c *Config) { c.HTTP.Attempts = 0 }, "http.attempts"},
		{"folders", func(c *Config) { c.Remote.FolderPath = nil }, "remote.folder_path"},
		{"reserved batch", func(c *Config) {
			c.OCR.Batches = append(c.OCR.Batches, ocr.BatchSource{Name: "local", Path: "x"})
		}, "reserved"},
		{"repeated batch", func(c *Config) {
			c.OCR.Batches = append(c.OCR.Batches,
				ocr.BatchSource{Name: "a", Path: "x"}, ocr.BatchSource{Name: "a", Path: "y"})
		}, "repeated"},
		{"pubsub pair", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub"},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled = true }, "metrics.addr"},
		{"source pattern", func(c *Config) {
			c.Source.HomeURL = "http://x"
			c.Source.CategoryIDPattern = "("
		}, "source."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
