// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trendwire/ingest/internal/signal"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   []signal.Source `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HTTPConfig configures outbound fetch behavior.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	PerHostBurst     int     `mapstructure:"per_host_burst"`
}

// SchedulerConfig governs the polite crawl scheduler.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	MaxPerOrigin  int `mapstructure:"max_per_origin"`
	MinDelayMs    int `mapstructure:"min_delay_ms"`
}

// DedupConfig controls duplicate detection.
type DedupConfig struct {
	SimhashDistance int `mapstructure:"simhash_distance"`
	LookbackHours   int `mapstructure:"lookback_hours"`
	MaxCandidates   int `mapstructure:"max_candidates"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// FreshnessConfig controls decay scoring and lifecycle thresholds.
type FreshnessConfig struct {
	StaleThreshold  float64            `mapstructure:"stale_threshold"`
	ExpireThreshold float64            `mapstructure:"expire_threshold"`
	HalfLifeHours   map[string]float64 `mapstructure:"half_life_hours"`
	DefaultHalfLife float64            `mapstructure:"default_half_life_hours"`
}

// ClusterConfig controls trend clustering.
type ClusterConfig struct {
	Count       int `mapstructure:"count"`
	MinDocs     int `mapstructure:"min_docs"`
	Iterations  int `mapstructure:"iterations"`
	LabelTokens int `mapstructure:"label_tokens"`
}

// QuotaConfig sets the soft daily caps.
type QuotaConfig struct {
	PerSourcePerDay  int `mapstructure:"per_source_per_day"`
	PerClusterPerDay int `mapstructure:"per_cluster_per_day"`
}

// IngestConfig governs the per-run item loop.
type IngestConfig struct {
	MaxItemsPerSource  int     `mapstructure:"max_items_per_source"`
	MaxDocChars        int     `mapstructure:"max_doc_chars"`
	RequestDelayMs     int     `mapstructure:"request_delay_ms"`
	DefaultLanguage    string  `mapstructure:"default_language"`
	DefaultReliability float64 `mapstructure:"default_reliability"`
	DataDir            string  `mapstructure:"data_dir"`
	HazardAPIKey       string  `mapstructure:"hazard_api_key"`
}

// DBConfig controls access to the relational document store. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	applySourceDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("http.user_agent", "trendwire-ingest/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 600)
	v.SetDefault("http.backoff_max_ms", 4000)
	v.SetDefault("http.per_host_rps", 2.0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("scheduler.max_concurrent", 6)
	v.SetDefault("scheduler.max_per_origin", 2)
	v.SetDefault("scheduler.min_delay_ms", 800)
	v.SetDefault("dedup.simhash_distance", 3)
	v.SetDefault("dedup.lookback_hours", 96)
	v.SetDefault("dedup.max_candidates", 1500)
	v.SetDefault("dedup.cache_ttl_seconds", 300)
	v.SetDefault("freshness.stale_threshold", 0.22)
	v.SetDefault("freshness.expire_threshold", 0.08)
	v.SetDefault("freshness.default_half_life_hours", 72)
	v.SetDefault("freshness.half_life_hours", map[string]float64{
		"breaking_market":       36,
		"macro_regulatory":      168,
		"environmental_outlook": 720,
		"energy_inventory":      240,
		"environmental_hazard":  72,
		"shipping_disruption":   96,
	})
	v.SetDefault("cluster.count", 8)
	v.SetDefault("cluster.min_docs", 3)
	v.SetDefault("cluster.iterations", 6)
	v.SetDefault("cluster.label_tokens", 4)
	v.SetDefault("quota.per_source_per_day", 30)
	v.SetDefault("quota.per_cluster_per_day", 12)
	v.SetDefault("ingest.max_items_per_source", 40)
	v.SetDefault("ingest.max_doc_chars", 50000)
	v.SetDefault("ingest.request_delay_ms", 350)
	v.SetDefault("ingest.default_language", "en")
	v.SetDefault("ingest.default_reliability", 0.7)
	v.SetDefault("ingest.data_dir", "data/ingest")
	v.SetDefault("logging.development", true)
}

func applySourceDefaults(cfg *Config) {
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.MaxItems <= 0 {
			src.MaxItems = cfg.Ingest.MaxItemsPerSource
		}
		if src.Language == "" {
			src.Language = cfg.Ingest.DefaultLanguage
		}
		if src.Reliability <= 0 {
			src.Reliability = cfg.Ingest.DefaultReliability
		}
		if src.Category == "" {
			src.Category = "breaking_market"
		}
	}
}

// Validate enforces required values and reasonable limits. Configuration
// errors fail fast at this boundary.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be > 0")
	}
	if c.Scheduler.MaxPerOrigin <= 0 {
		return fmt.Errorf("scheduler.max_per_origin must be > 0")
	}
	if c.Dedup.SimhashDistance < 0 || c.Dedup.SimhashDistance > 64 {
		return fmt.Errorf("dedup.simhash_distance must be in [0,64]")
	}
	if c.Freshness.StaleThreshold <= c.Freshness.ExpireThreshold {
		return fmt.Errorf("freshness.stale_threshold must be > expire_threshold")
	}
	if c.Cluster.Count <= 0 || c.Cluster.Iterations <= 0 {
		return fmt.Errorf("cluster.count and cluster.iterations must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("source id must be set")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.URL == "" {
			return fmt.Errorf("source %q: url must be set", src.ID)
		}
		if src.Reliability < 0 || src.Reliability > 1 {
			return fmt.Errorf("source %q: reliability must be in [0,1]", src.ID)
		}
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// HalfLifeFor resolves the decay half-life for a category.
func (c Config) HalfLifeFor(category string) float64 {
	if hl, ok := c.Freshness.HalfLifeHours[category]; ok && hl > 0 {
		return hl
	}
	if c.Freshness.DefaultHalfLife > 0 {
		return c.Freshness.DefaultHalfLife
	}
	return 72
}

// EnabledSources filters the configured sources, optionally restricted to an
// explicit ID subset.
func (c Config) EnabledSources(ids []string) []signal.Source {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]signal.Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[src.ID]; !ok {
				continue
			}
		}
		out = append(out, src)
	}
	return out
}
