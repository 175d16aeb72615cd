package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded once at startup from
// YAML with environment overrides for connection settings.
type Config struct {
	Database  DatabaseConfig            `yaml:"database"`
	Redis     RedisConfig               `yaml:"redis"`
	HTTP      HTTPConfig                `yaml:"http"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Detection DetectionConfig           `yaml:"detection"`
	Routing   RoutingConfig             `yaml:"routing"`
	Customers map[string]CustomerConfig `yaml:"customers"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// Timeout is the per-query timeout applied by repositories.
func (d DatabaseConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// RedisConfig holds the optional cooldown fast-path cache settings. When Addr
// is empty the cache is disabled and dedup relies on the database alone.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// HTTPConfig holds the observability server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerConfig drives the periodic all-customer computation loop.
type SchedulerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	IntervalMinutes int      `yaml:"interval_minutes"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	Customers       []string `yaml:"customers"`
}

// Interval returns the loop cadence.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// DetectionConfig holds drift-detection thresholds. Everything here is
// tunable per customer via the customers section; nothing is a hidden global.
type DetectionConfig struct {
	BaselinePeriods      int     `yaml:"baseline_periods"`
	MinBaselinePeriods   int     `yaml:"min_baseline_periods"`
	MinCurrentSample     int     `yaml:"min_current_sample"`
	MinPairVolume        int     `yaml:"min_pair_volume"`
	SignificanceLevel    float64 `yaml:"significance_level"`
	HighSeverityRatio    float64 `yaml:"high_severity_ratio"`
	MediumSeverityRatio  float64 `yaml:"medium_severity_ratio"`
	TrendDayThreshold    float64 `yaml:"trend_day_threshold"`
	SlowdownRatio        float64 `yaml:"slowdown_ratio"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
	JudgmentLookbackDays int     `yaml:"judgment_lookback_days"`
	NoiseThreshold       int     `yaml:"noise_threshold"`
}

// CooldownWindow is the minimum spacing between alerts sharing a fingerprint.
func (d DetectionConfig) CooldownWindow() time.Duration {
	return time.Duration(d.CooldownMinutes) * time.Minute
}

// JudgmentLookback is how far back noise suppression looks for judgments.
func (d DetectionConfig) JudgmentLookback() time.Duration {
	return time.Duration(d.JudgmentLookbackDays) * 24 * time.Hour
}

// RoutingConfig holds tier thresholds and recipient lists. Impact thresholds
// are in cents. Compliance-sensitive categories are NOT configurable; see
// routing.Classifier.
type RoutingConfig struct {
	Tier1MinConfidence    float64  `yaml:"tier1_min_confidence"`
	Tier2MinConfidence    float64  `yaml:"tier2_min_confidence"`
	Tier1MaxImpactCents   int64    `yaml:"tier1_max_impact_cents"`
	Tier3MinImpactCents   int64    `yaml:"tier3_min_impact_cents"`
	AutoAckCategories     []string `yaml:"auto_ack_categories"`
	DigestRecipients      []string `yaml:"digest_recipients"`
	ReviewQueueRecipients []string `yaml:"review_queue_recipients"`
	EscalationRecipients  []string `yaml:"escalation_recipients"`
	DigestPerMinute       float64  `yaml:"digest_per_minute"`
}

// CustomerConfig overrides detection and routing settings for one customer.
// Zero-valued fields fall back to the global defaults.
type CustomerConfig struct {
	Detection DetectionConfig `yaml:"detection"`
	Routing   RoutingConfig   `yaml:"routing"`
}

// Load reads configuration from a YAML file (optional), applies environment
// overrides, then defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PW_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "payerwatch"
	}
	if c.Database.User == "" {
		c.Database.User = "payerwatch"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.TimeoutSeconds == 0 {
		c.Database.TimeoutSeconds = 10
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Scheduler.IntervalMinutes == 0 {
		c.Scheduler.IntervalMinutes = 60
	}
	if c.Scheduler.MaxConcurrent == 0 {
		c.Scheduler.MaxConcurrent = 4
	}
	c.Detection = c.Detection.withDefaults()
	c.Routing = c.Routing.withDefaults()
}

func (d DetectionConfig) withDefaults() DetectionConfig {
	if d.BaselinePeriods == 0 {
		d.BaselinePeriods = 13
	}
	if d.MinBaselinePeriods == 0 {
		d.MinBaselinePeriods = 8
	}
	if d.MinCurrentSample == 0 {
		d.MinCurrentSample = 10
	}
	if d.MinPairVolume == 0 {
		d.MinPairVolume = 10
	}
	if d.SignificanceLevel == 0 {
		d.SignificanceLevel = 0.05
	}
	if d.HighSeverityRatio == 0 {
		d.HighSeverityRatio = 1.5
	}
	if d.MediumSeverityRatio == 0 {
		d.MediumSeverityRatio = 1.25
	}
	if d.TrendDayThreshold == 0 {
		d.TrendDayThreshold = 7
	}
	if d.SlowdownRatio == 0 {
		d.SlowdownRatio = 1.3
	}
	if d.CooldownMinutes == 0 {
		d.CooldownMinutes = 240
	}
	if d.JudgmentLookbackDays == 0 {
		d.JudgmentLookbackDays = 30
	}
	if d.NoiseThreshold == 0 {
		d.NoiseThreshold = 2
	}
	return d
}

func (r RoutingConfig) withDefaults() RoutingConfig {
	if r.Tier1MinConfidence == 0 {
		r.Tier1MinConfidence = 0.95
	}
	if r.Tier2MinConfidence == 0 {
		r.Tier2MinConfidence = 0.70
	}
	if r.Tier1MaxImpactCents == 0 {
		r.Tier1MaxImpactCents = 100_000 // $1,000
	}
	if r.Tier3MinImpactCents == 0 {
		r.Tier3MinImpactCents = 2_500_000 // $25,000
	}
	if len(r.AutoAckCategories) == 0 {
		r.AutoAckCategories = []string{"denial_review", "payment_followup"}
	}
	if len(r.ReviewQueueRecipients) == 0 {
		r.ReviewQueueRecipients = []string{"review-queue"}
	}
	if len(r.EscalationRecipients) == 0 {
		r.EscalationRecipients = []string{"oncall-revenue"}
	}
	if r.DigestPerMinute == 0 {
		r.DigestPerMinute = 6
	}
	return r
}

// Validate rejects configurations that would make detection thresholds
// nonsensical.
func (c *Config) Validate() error {
	d := c.Detection
	if d.MinBaselinePeriods > d.BaselinePeriods {
		return fmt.Errorf("min_baseline_periods %d exceeds baseline_periods %d",
			d.MinBaselinePeriods, d.BaselinePeriods)
	}
	if d.SignificanceLevel <= 0 || d.SignificanceLevel >= 1 {
		return fmt.Errorf("significance_level must be in (0,1), got %v", d.SignificanceLevel)
	}
	if d.MediumSeverityRatio > d.HighSeverityRatio {
		return fmt.Errorf("medium_severity_ratio %v exceeds high_severity_ratio %v",
			d.MediumSeverityRatio, d.HighSeverityRatio)
	}
	r := c.Routing
	if r.Tier2MinConfidence > r.Tier1MinConfidence {
		return fmt.Errorf("tier2_min_confidence %v exceeds tier1_min_confidence %v",
			r.Tier2MinConfidence, r.Tier1MinConfidence)
	}
	return nil
}

// ForCustomer resolves the effective configuration for one customer: the
// customer's overrides where set, global defaults everywhere else. There are
// no hidden globals that override customer settings.
func (c *Config) ForCustomer(customerID string) CustomerConfig {
	eff := CustomerConfig{Detection: c.Detection, Routing: c.Routing}
	override, ok := c.Customers[customerID]
	if !ok {
		return eff
	}
	eff.Detection = mergeDetection(c.Detection, override.Detection)
	eff.Routing = mergeRouting(c.Routing, override.Routing)
	return eff
}

func mergeDetection(base, o DetectionConfig) DetectionConfig {
	if o.BaselinePeriods != 0 {
		base.BaselinePeriods = o.BaselinePeriods
	}
	if o.MinBaselinePeriods != 0 {
		base.MinBaselinePeriods = o.MinBaselinePeriods
	}
	if o.MinCurrentSample != 0 {
		base.MinCurrentSample = o.MinCurrentSample
	}
	if o.MinPairVolume != 0 {
		base.MinPairVolume = o.MinPairVolume
	}
	if o.SignificanceLevel != 0 {
		base.SignificanceLevel = o.SignificanceLevel
	}
	if o.HighSeverityRatio != 0 {
		base.HighSeverityRatio = o.HighSeverityRatio
	}
	if o.MediumSeverityRatio != 0 {
		base.MediumSeverityRatio = o.MediumSeverityRatio
	}
	if o.TrendDayThreshold != 0 {
		base.TrendDayThreshold = o.TrendDayThreshold
	}
	if o.SlowdownRatio != 0 {
		base.SlowdownRatio = o.SlowdownRatio
	}
	if o.CooldownMinutes != 0 {
		base.CooldownMinutes = o.CooldownMinutes
	}
	if o.JudgmentLookbackDays != 0 {
		base.JudgmentLookbackDays = o.JudgmentLookbackDays
	}
	if o.NoiseThreshold != 0 {
		base.NoiseThreshold = o.NoiseThreshold
	}
	return base
}

func mergeRouting(base, o RoutingConfig) RoutingConfig {
	if o.Tier1MinConfidence != 0 {
		base.Tier1MinConfidence = o.Tier1MinConfidence
	}
	if o.Tier2MinConfidence != 0 {
		base.Tier2MinConfidence = o.Tier2MinConfidence
	}
	if o.Tier1MaxImpactCents != 0 {
		base.Tier1MaxImpactCents = o.Tier1MaxImpactCents
	}
	if o.Tier3MinImpactCents != 0 {
		base.Tier3MinImpactCents = o.Tier3MinImpactCents
	}
	if len(o.AutoAckCategories) != 0 {
		base.AutoAckCategories = o.AutoAckCategories
	}
	if len(o.DigestRecipients) != 0 {
		base.DigestRecipients = o.DigestRecipients
	}
	if len(o.ReviewQueueRecipients) != 0 {
		base.ReviewQueueRecipients = o.ReviewQueueRecipients
	}
	if len(o.EscalationRecipients) != 0 {
		base.EscalationRecipients = o.EscalationRecipients
	}
	if o.DigestPerMinute != 0 {
		base.DigestPerMinute = o.DigestPerMinute
	}
	return base
}
