package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "REPLY_SCANNER_CONFIG"
	apiKeyEnv     = "REPLY_SCANNER_API_KEY"
	apiBaseEnv    = "REPLY_SCANNER_API_BASE_URL"
	modelEnv      = "REPLY_SCANNER_MODEL"
	feedURLEnv    = "REPLY_SCANNER_FEED_URL"
	storagePthEnv = "REPLY_SCANNER_DB"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	Reference ReferenceConfig `yaml:"reference"`
	Matching  MatchingConfig  `yaml:"matching"`
	Models    ModelsConfig    `yaml:"models"`
	Storage   StorageConfig   `yaml:"storage"`
	Detector  DetectorConfig  `yaml:"detector"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// LoggingConfig tunes slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// APIConfig defines how to contact the external scoring API.
type APIConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxAttempts    int    `yaml:"maxAttempts"`
}

// Timeout resolves the request timeout.
func (a APIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ReferenceConfig points at the reference feed and its cache TTL.
type ReferenceConfig struct {
	FeedURL    string `yaml:"feedUrl"`
	TTLMinutes int    `yaml:"ttlMinutes"`
}

// TTL resolves the corpus time-to-live.
func (r ReferenceConfig) TTL() time.Duration {
	if r.TTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(r.TTLMinutes) * time.Minute
}

// MatchingConfig selects the strategy and presentation threshold.
type MatchingConfig struct {
	Strategy      string   `yaml:"strategy"`
	Threshold     float64  `yaml:"threshold"`
	StyleExamples []string `yaml:"styleExamples"`
	HeatCheck     bool     `yaml:"heatCheck"`
}

// ModelsConfig constrains the model registry.
type ModelsConfig struct {
	RefreshMinutes  int      `yaml:"refreshMinutes"`
	MaxPricePerMTok float64  `yaml:"maxPricePerMTok"`
	MaxAgeDays      int      `yaml:"maxAgeDays"`
	AllowedVendors  []string `yaml:"allowedVendors"`
	ExcludePatterns []string `yaml:"excludePatterns"`
}

// RefreshTTL resolves the registry refresh cadence.
func (m ModelsConfig) RefreshTTL() time.Duration {
	if m.RefreshMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(m.RefreshMinutes) * time.Minute
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DetectorConfig tunes the change detector timers.
type DetectorConfig struct {
	DebounceMs     int `yaml:"debounceMs"`
	ScrollSettleMs int `yaml:"scrollSettleMs"`
}

// Debounce resolves the batch quiet period.
func (d DetectorConfig) Debounce() time.Duration {
	return time.Duration(d.DebounceMs) * time.Millisecond
}

// ScrollSettle resolves the rescan quiet period.
func (d DetectorConfig) ScrollSettle() time.Duration {
	return time.Duration(d.ScrollSettleMs) * time.Millisecond
}

// SourceConfig describes a single site handled by the timeline adapter.
type SourceConfig struct {
	Name           string   `yaml:"name"`
	Hosts          []string `yaml:"hosts"`
	FeedPathPrefix string   `yaml:"feedPathPrefix"`
	PermalinkBase  string   `yaml:"permalinkBase"`
	PageURL        string   `yaml:"pageUrl"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(apiKeyEnv); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(apiBaseEnv); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(modelEnv); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv(feedURLEnv); v != "" {
		c.Reference.FeedURL = v
	}
	if v := os.Getenv(storagePthEnv); v != "" {
		c.Storage.Path = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.API.BaseURL != "" {
		base.API.BaseURL = override.API.BaseURL
	}
	if override.API.APIKey != "" {
		base.API.APIKey = override.API.APIKey
	}
	if override.API.Model != "" {
		base.API.Model = override.API.Model
	}
	if override.API.TimeoutSeconds > 0 {
		base.API.TimeoutSeconds = override.API.TimeoutSeconds
	}
	if override.API.MaxAttempts > 0 {
		base.API.MaxAttempts = override.API.MaxAttempts
	}

	if override.Reference.FeedURL != "" {
		base.Reference.FeedURL = override.Reference.FeedURL
	}
	if override.Reference.TTLMinutes > 0 {
		base.Reference.TTLMinutes = override.Reference.TTLMinutes
	}

	if override.Matching.Strategy != "" {
		base.Matching.Strategy = override.Matching.Strategy
	}
	if override.Matching.Threshold > 0 {
		base.Matching.Threshold = override.Matching.Threshold
	}
	if len(override.Matching.StyleExamples) > 0 {
		base.Matching.StyleExamples = override.Matching.StyleExamples
	}
	if override.Matching.HeatCheck {
		base.Matching.HeatCheck = true
	}

	if override.Models.RefreshMinutes > 0 {
		base.Models.RefreshMinutes = override.Models.RefreshMinutes
	}
	if override.Models.MaxPricePerMTok > 0 {
		base.Models.MaxPricePerMTok = override.Models.MaxPricePerMTok
	}
	if override.Models.MaxAgeDays > 0 {
		base.Models.MaxAgeDays = override.Models.MaxAgeDays
	}
	if len(override.Models.AllowedVendors) > 0 {
		base.Models.AllowedVendors = override.Models.AllowedVendors
	}
	if len(override.Models.ExcludePatterns) > 0 {
		base.Models.ExcludePatterns = override.Models.ExcludePatterns
	}

	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}

	if override.Detector.DebounceMs > 0 {
		base.Detector.DebounceMs = override.Detector.DebounceMs
	}
	if override.Detector.ScrollSettleMs > 0 {
		base.Detector.ScrollSettleMs = override.Detector.ScrollSettleMs
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		API: APIConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
			MaxAttempts:    4,
		},
		Reference: ReferenceConfig{
			FeedURL:    "https://blog.example.org/feed.xml",
			TTLMinutes: 60,
		},
		Matching: MatchingConfig{
			Strategy:  "lexical",
			Threshold: 0.3,
		},
		Models: ModelsConfig{
			RefreshMinutes: 60,
		},
		Storage: StorageConfig{Path: "replyscanner.db"},
		Detector: DetectorConfig{
			DebounceMs:     300,
			ScrollSettleMs: 200,
		},
		Sources: []SourceConfig{
			{
				Name:           "timeline",
				Hosts:          []string{"timeline.example.com"},
				FeedPathPrefix: "/feed",
				PermalinkBase:  "https://timeline.example.com/posts",
				PageURL:        "https://timeline.example.com/feed",
			},
		},
	}
}
