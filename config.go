package storyloom

import (
	"fmt"
	"os"
	"time"

	"github.com/storyloom-ai/storyloom/guardrail"
	"github.com/storyloom-ai/storyloom/story"
	"gopkg.in/yaml.v3"
)

// Config holds the engine's tunable policy. Zero values are filled with
// production defaults by Validate, so a partially specified YAML file works.
type Config struct {
	// AutoRejectOnHardFail routes threads with aggregated hard violations to
	// the auto-rejected terminal instead of human review.
	AutoRejectOnHardFail *bool `yaml:"auto_reject_on_hard_fail"`

	// MediaRetryMax is the number of regeneration attempts after a media
	// guardrail hard violation. Values above 1 multiply media spend and are
	// strongly discouraged.
	MediaRetryMax int `yaml:"media_retry_max"`

	// Thresholds bundle the guardrail scoring cutoffs per age group.
	Thresholds guardrail.Thresholds `yaml:"thresholds"`

	// ReviewDeadline is how long a suspended thread waits for a reviewer
	// before the sweeper rejects it.
	ReviewDeadline time.Duration `yaml:"review_deadline"`

	// WorkerPoolSize bounds concurrently running handlers across all
	// threads served by the engine.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// StatusTTL is the expiry applied by cache-backed status recorders.
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	autoReject := true
	return &Config{
		AutoRejectOnHardFail: &autoReject,
		MediaRetryMax:        1,
		Thresholds:           guardrail.DefaultThresholds(),
		ReviewDeadline:       3 * 24 * time.Hour,
		WorkerPoolSize:       8,
		StatusTTL:            time.Hour,
	}
}

// Validate fills unset fields with defaults and rejects nonsensical values.
func (c *Config) Validate() error {
	defaults := DefaultConfig()
	if c.AutoRejectOnHardFail == nil {
		c.AutoRejectOnHardFail = defaults.AutoRejectOnHardFail
	}
	if c.MediaRetryMax == 0 {
		c.MediaRetryMax = defaults.MediaRetryMax
	}
	if c.MediaRetryMax < 0 {
		return fmt.Errorf("media_retry_max must be >= 0")
	}
	if c.Thresholds.FearByAge == nil {
		c.Thresholds = defaults.Thresholds
	}
	for _, age := range story.ValidAgeGroups {
		if _, ok := c.Thresholds.FearByAge[age]; !ok {
			return fmt.Errorf("missing fear threshold for age group %s", age)
		}
		if _, ok := c.Thresholds.ViolenceHardByAge[age]; !ok {
			return fmt.Errorf("missing violence threshold for age group %s", age)
		}
	}
	if c.ReviewDeadline == 0 {
		c.ReviewDeadline = defaults.ReviewDeadline
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1")
	}
	if c.StatusTTL == 0 {
		c.StatusTTL = defaults.StatusTTL
	}
	return nil
}

// AutoReject reports the effective auto-reject policy.
func (c *Config) AutoReject() bool {
	return c.AutoRejectOnHardFail == nil || *c.AutoRejectOnHardFail
}

// UnmarshalYAML parses duration fields from strings like "72h".
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AutoRejectOnHardFail *bool                `yaml:"auto_reject_on_hard_fail"`
		MediaRetryMax        int                  `yaml:"media_retry_max"`
		Thresholds           guardrail.Thresholds `yaml:"thresholds"`
		ReviewDeadline       string               `yaml:"review_deadline"`
		WorkerPoolSize       int                  `yaml:"worker_pool_size"`
		StatusTTL            string               `yaml:"status_ttl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.AutoRejectOnHardFail = raw.AutoRejectOnHardFail
	c.MediaRetryMax = raw.MediaRetryMax
	c.Thresholds = raw.Thresholds
	c.WorkerPoolSize = raw.WorkerPoolSize
	if raw.ReviewDeadline != "" {
		deadline, err := time.ParseDuration(raw.ReviewDeadline)
		if err != nil {
			return fmt.Errorf("invalid review_deadline: %w", err)
		}
		c.ReviewDeadline = deadline
	}
	if raw.StatusTTL != "" {
		ttl, err := time.ParseDuration(raw.StatusTTL)
		if err != nil {
			return fmt.Errorf("invalid status_ttl: %w", err)
		}
		c.StatusTTL = ttl
	}
	return nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
