// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Analyze   AnalyzeConfig   `mapstructure:"analyze"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BackendConfig points at the analysis API and bounds the retry policy.
type BackendConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffStepSec int    `mapstructure:"backoff_step_seconds"`
	SyntheticSeed  int64  `mapstructure:"synthetic_seed"`
}

// CacheConfig sets the result cache horizons.
type CacheConfig struct {
	FreshMinutes  int `mapstructure:"fresh_minutes"`
	RetainMinutes int `mapstructure:"retain_minutes"`
}

// HistoryConfig bounds the analysis history.
type HistoryConfig struct {
	Capacity         int `mapstructure:"capacity"`
	AnalysisCapacity int `mapstructure:"analysis_capacity"`
	DedupMinutes     int `mapstructure:"dedup_minutes"`
}

// NotifyConfig sets the follow-up cascade offsets.
type NotifyConfig struct {
	BiasDelaySeconds        int `mapstructure:"bias_delay_seconds"`
	FactCheckDelaySeconds   int `mapstructure:"fact_check_delay_seconds"`
	CredibilityDelaySeconds int `mapstructure:"credibility_delay_seconds"`
}

// AnalyzeConfig governs the orchestrator.
type AnalyzeConfig struct {
	AutoIntervalSeconds int `mapstructure:"auto_interval_seconds"`
}

// StorageConfig selects the durable key-value provider.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// AnalyticsConfig selects the product event sink.
type AnalyticsConfig struct {
	// Driver is "log" or "pubsub".
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ExportConfig selects the history export destination.
type ExportConfig struct {
	// Driver is "memory", "local" or "gcs".
	Driver    string `mapstructure:"driver"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSIGHT")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("backend.endpoint", "http://localhost:3000/api/analyze")
	v.SetDefault("backend.timeout_seconds", 10)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("backend.backoff_step_seconds", 2)
	v.SetDefault("backend.synthetic_seed", 0)
	v.SetDefault("cache.fresh_minutes", 5)
	v.SetDefault("cache.retain_minutes", 60)
	v.SetDefault("history.capacity", 1000)
	v.SetDefault("history.analysis_capacity", 100)
	v.SetDefault("history.dedup_minutes", 60)
	v.SetDefault("notify.bias_delay_seconds", 10)
	v.SetDefault("notify.fact_check_delay_seconds", 15)
	v.SetDefault("notify.credibility_delay_seconds", 20)
	v.SetDefault("analyze.auto_interval_seconds", 30)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("analytics.driver", "log")
	v.SetDefault("export.driver", "memory")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint must be set")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must be >= 0")
	}
	if c.Cache.FreshMinutes <= 0 || c.Cache.RetainMinutes <= 0 {
		return fmt.Errorf("cache horizons must be > 0")
	}
	if c.Cache.RetainMinutes < c.Cache.FreshMinutes {
		return fmt.Errorf("cache.retain_minutes must be >= cache.fresh_minutes")
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be > 0")
	}
	if c.History.AnalysisCapacity > c.History.Capacity {
		return fmt.Errorf("history.analysis_capacity must be <= history.capacity")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Analytics.Driver {
	case "log":
	case "pubsub":
		if c.Analytics.ProjectID == "" || c.Analytics.TopicName == "" {
			return fmt.Errorf("analytics.project_id and analytics.topic_name must be set for the pubsub driver")
		}
	default:
		return fmt.Errorf("unknown analytics.driver %q", c.Analytics.Driver)
	}
	switch c.Export.Driver {
	case "memory":
	case "local":
		if c.Export.Dir == "" {
			return fmt.Errorf("export.dir must be set for the local driver")
		}
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown export.driver %q", c.Export.Driver)
	}
	return nil
}

// BackendTimeout converts the configured timeout into a duration.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// BackoffStep converts the configured backoff step into a duration.
func (c Config) BackoffStep() time.Duration {
	return time.Duration(c.Backend.BackoffStepSec) * time.Second
}

// CacheFreshFor converts the fresh horizon into a duration.
func (c Config) CacheFreshFor() time.Duration {
	return time.Duration(c.Cache.FreshMinutes) * time.Minute
}

// CacheRetainFor converts the retention horizon into a duration.
func (c Config) CacheRetainFor() time.Duration {
	return time.Duration(c.Cache.RetainMinutes) * time.Minute
}

// DedupWindow converts the history dedup window into a duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.History.DedupMinutes) * time.Minute
}

// AutoInterval converts the automatic-analysis spacing into a duration.
func (c Config) AutoInterval() time.Duration {
	return time.Duration(c.Analyze.AutoIntervalSeconds) * time.Second
}

// CascadeDelays converts the notify offsets into durations.
func (c Config) CascadeDelays() (bias, factCheck, credibility time.Duration) {
	return time.Duration(c.Notify.BiasDelaySeconds) * time.Second,
		time.Duration(c.Notify.FactCheckDelaySeconds) * time.Second,
		time.Duration(c.Notify.CredibilityDelaySeconds) * time.Second
}
