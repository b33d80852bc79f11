// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-harvester/internal/discover"
	"github.com/JakeFAU/catalog-harvester/internal/ocr"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SnapshotConfig locates the catalog snapshot and its autosave cadence.
type SnapshotConfig struct {
	Path                string `mapstructure:"path"`
	AutosaveIntervalSec int    `mapstructure:"autosave_interval_seconds"`
}

// AssetsConfig controls where downloaded assets live.
type AssetsConfig struct {
	Dir       string `mapstructure:"dir"`
	Extension string `mapstructure:"extension"`
}

// SourceConfig describes the harvested site.
type SourceConfig struct {
	discover.Config `mapstructure:",squash"`

	// Site is the provenance name used in generated tags.
	Site              string            `mapstructure:"site"`
	ProvenanceTags    []string          `mapstructure:"provenance_tags"`
	TagAliases        map[string]string `mapstructure:"tag_aliases"`
	SkipOCRCategories []string          `mapstructure:"skip_ocr_categories"`
}

// HTTPConfig configures source fetching.
type HTTPConfig struct {
	UserAgent       string  `mapstructure:"user_agent"`
	RandomUserAgent bool    `mapstructure:"random_user_agent"`
	Proxy           string  `mapstructure:"proxy"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	Attempts        int     `mapstructure:"attempts"`
	RetryDelayMs    int     `mapstructure:"retry_delay_ms"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
}

// OCRConfig selects the local recognizer and the imported batches.
type OCRConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Binary   string            `mapstructure:"binary"`
	Language string            `mapstructure:"language"`
	Region   ocr.Region        `mapstructure:"region"`
	BatchDir string            `mapstructure:"batch_dir"`
	Batches  []ocr.BatchSource `mapstructure:"batches"`
}

// RemoteConfig points at the asset service.
type RemoteConfig struct {
	Host            string   `mapstructure:"host"`
	Token           string   `mapstructure:"token"`
	Proxy           string   `mapstructure:"proxy"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	Attempts        int      `mapstructure:"attempts"`
	RetryDelayMs    int      `mapstructure:"retry_delay_ms"`
	FolderPath      []string `mapstructure:"folder_path"`
	FolderSummary   string   `mapstructure:"folder_summary"`
	CreateDelayMs   int      `mapstructure:"create_delay_ms"`
	SaveAfterCreate bool     `mapstructure:"save_after_create"`
}

// StorageConfig enables the optional GCS mirror of downloaded assets.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the health and metrics server that runs beside a pass.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from the settings file and environment. A relative
// path is resolved against workdir, as are the relative paths inside it.
func Load(workdir, path string) (Config, error) {
	if strings.TrimSpace(workdir) == "" {
		return Config{}, errors.New("workdir is required")
	}
	workdir, err := filepath.Abs(workdir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve workdir: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(resolve(workdir, path))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults()
	cfg.Snapshot.Path = resolve(workdir, cfg.Snapshot.Path)
	cfg.Assets.Dir = resolve(workdir, cfg.Assets.Dir)
	cfg.OCR.BatchDir = resolve(workdir, cfg.OCR.BatchDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(workdir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workdir, p)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snapshot.path", "catalog.json")
	v.SetDefault("snapshot.autosave_interval_seconds", 60)
	v.SetDefault("assets.dir", "assets")
	v.SetDefault("assets.extension", ".jpg")
	v.SetDefault("source.home_url", "")
	v.SetDefault("source.site", "")
	v.SetDefault("source.root_title", "Home")
	v.SetDefault("source.update_mode", false)
	v.SetDefault("source.provenance_tags", []string{"_source=harvester"})
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.random_user_agent", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.attempts", 4)
	v.SetDefault("http.retry_delay_ms", 1000)
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.region.width", 730)
	v.SetDefault("ocr.region.height", 24)
	v.SetDefault("ocr.batch_dir", ".")
	v.SetDefault("remote.host", "http://localhost:41595")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.proxy", "")
	v.SetDefault("remote.timeout_seconds", 30)
	v.SetDefault("remote.attempts", 4)
	v.SetDefault("remote.retry_delay_ms", 1000)
	v.SetDefault("remote.folder_path", []string{".import"})
	v.SetDefault("remote.folder_summary", "")
	v.SetDefault("remote.create_delay_ms", 200)
	v.SetDefault("remote.save_after_create", true)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "assets")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// applySourceDefaults fills the site layout from the home URL for every
// template or selector left empty.
func (c *Config) applySourceDefaults() {
	if c.Source.HomeURL == "" {
		return
	}
	def := discover.DefaultConfig(c.Source.HomeURL)
	s := &c.Source.Config
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.CategoryPageURL, def.CategoryPageURL)
	fill(&s.ListingURL, def.ListingURL)
	fill(&s.CategoryListSelector, def.CategoryListSelector)
	fill(&s.CategoryNavSelector, def.CategoryNavSelector)
	fill(&s.PaginationSelector, def.PaginationSelector)
	fill(&s.PageCountSelector, def.PageCountSelector)
	fill(&s.ImageSelector, def.ImageSelector)
	fill(&s.CategoryIDPattern, def.CategoryIDPattern)
	fill(&s.RootTitle, def.RootTitle)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Snapshot.Path == "" {
		errs = append(errs, errors.New("snapshot.path is required"))
	}
	if c.Snapshot.AutosaveIntervalSec < 0 {
		errs = append(errs, errors.New("snapshot.autosave_interval_seconds must be >= 0"))
	}
	if c.Assets.Dir == "" {
		errs = append(errs, errors.New("assets.dir is required"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.Attempts <= 0 {
		errs = append(errs, errors.New("http.attempts must be > 0"))
	}
	if c.HTTP.RetryDelayMs < 0 || c.Remote.RetryDelayMs < 0 || c.Remote.CreateDelayMs < 0 {
		errs = append(errs, errors.New("delays must be >= 0"))
	}
	if c.Remote.Attempts <= 0 {
		errs = append(errs, errors.New("remote.attempts must be > 0"))
	}
	if len(c.Remote.FolderPath) == 0 {
		errs = append(errs, errors.New("remote.folder_path must name at least one folder"))
	}
	if c.Source.HomeURL != "" {
		if err := c.Source.Config.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	seen := make(map[string]struct{}, len(c.OCR.Batches))
	for _, b := range c.OCR.Batches {
		switch {
		case b.Name == "" || b.Path == "":
			errs = append(errs, errors.New("ocr.batches entries need a name and a path"))
		case b.Name == ocr.SourceLocal:
			errs = append(errs, fmt.Errorf("ocr.batches name %q is reserved", b.Name))
		default:
			if _, dup := seen[b.Name]; dup {
				errs = append(errs, fmt.Errorf("ocr.batches name %q is repeated", b.Name))
			}
			seen[b.Name] = struct{}{}
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// AutosaveInterval returns the snapshot checkpoint interval.
func (c Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Snapshot.AutosaveIntervalSec) * time.Second
}

// FetchTimeout returns the per-request timeout for source fetches.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FetchRetryDelay returns the fixed pause between fetch attempts.
func (c Config) FetchRetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelayMs) * time.Millisecond
}

// RemoteTimeout returns the per-request timeout for the asset service.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// RemoteRetryDelay returns the fixed pause between asset service attempts.
func (c Config) RemoteRetryDelay() time.Duration {
	return time.Duration(c.Remote.RetryDelayMs) * time.Millisecond
}

// CreateDelay returns the pause after each remote create.
func (c Config) CreateDelay() time.Duration {
	return time.Duration(c.Remote.CreateDelayMs) * time.Millisecond
}
