package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Platforms  PlatformsConfig  `mapstructure:"platforms"`
	Assessment AssessmentConfig `mapstructure:"assessment"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Path            string        `mapstructure:"path"`   // sqlite only
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type SyncConfig struct {
	RetentionDays      int           `mapstructure:"retention_days"`
	MaxPostsPerAccount int           `mapstructure:"max_posts_per_account"`
	MaxScanPosts       int           `mapstructure:"max_scan_posts"`
	MaxLookbackDays    int           `mapstructure:"max_lookback_days"`
	MinRequestDelay    time.Duration `mapstructure:"min_request_delay"`
	MaxRequestDelay    time.Duration `mapstructure:"max_request_delay"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	SpreadWindow       time.Duration `mapstructure:"spread_window"`
	JobMaxAttempts     int           `mapstructure:"job_max_attempts"`
	JobClaimBatch      int           `mapstructure:"job_claim_batch"`
	Workers            int           `mapstructure:"workers"`
	CatalogLockTTL     time.Duration `mapstructure:"catalog_lock_ttl"`
	SweepLockTTL       time.Duration `mapstructure:"sweep_lock_ttl"`
	SweepBatchSize     int           `mapstructure:"sweep_batch_size"`
	SweepBatchRetries  int           `mapstructure:"sweep_batch_retries"`
}

type PlatformsConfig struct {
	X         XConfig         `mapstructure:"x"`
	Farcaster FarcasterConfig `mapstructure:"farcaster"`
}

// XCredentials is one credential set for X login. Two sets are supported with
// randomized primary selection and automatic fallback to the alternate.
type XCredentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Email    string `mapstructure:"email"`
}

type XConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	SessionDir  string        `mapstructure:"session_dir"`
	Primary     XCredentials  `mapstructure:"primary"`
	Secondary   XCredentials  `mapstructure:"secondary"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type FarcasterConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type AssessmentConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type CatalogConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	AuthToken   string        `mapstructure:"auth_token"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	PageSize    int           `mapstructure:"page_size"`
}

// ScoreWeights holds the weight of each score component. The weights must sum
// to exactly 1.0; an invalid configuration aborts startup.
type ScoreWeights struct {
	ProjectUpdateRecency float64 `mapstructure:"project_update_recency"`
	SocialPostRecency    float64 `mapstructure:"social_post_recency"`
	SocialPostFrequency  float64 `mapstructure:"social_post_frequency"`
	GivPowerRank         float64 `mapstructure:"giv_power_rank"`
	SocialContentQuality float64 `mapstructure:"social_content_quality"`
	RelevanceToCause     float64 `mapstructure:"relevance_to_cause"`
	EvidenceOfImpact     float64 `mapstructure:"evidence_of_impact"`
	ProjectInfoQuality   float64 `mapstructure:"project_info_quality"`
}

// Sum returns the total of all component weights.
func (w *ScoreWeights) Sum() float64 {
	return w.ProjectUpdateRecency + w.SocialPostRecency + w.SocialPostFrequency +
		w.GivPowerRank + w.SocialContentQuality + w.RelevanceToCause +
		w.EvidenceOfImpact + w.ProjectInfoQuality
}

type ScoringConfig struct {
	Weights                ScoreWeights `mapstructure:"weights"`
	UpdateHalfLifeDays     float64      `mapstructure:"update_half_life_days"`
	PostHalfLifeDays       float64      `mapstructure:"post_half_life_days"`
	FrequencyWindowDays    int          `mapstructure:"frequency_window_days"`
	MinPostsForFullScore   int          `mapstructure:"min_posts_for_full_score"`
	MaxConcurrentCauses    int          `mapstructure:"max_concurrent_causes"`
	MaxConcurrentProjects  int          `mapstructure:"max_concurrent_projects"`
	RecentPostsPerPlatform int          `mapstructure:"recent_posts_per_platform"`
}

const weightTolerance = 1e-6

// Validate checks invariants that must hold before the process may serve
// traffic. A weight sum away from 1.0 is a configuration-fatal error, not a
// runtime fallback.
func (c *Config) Validate() error {
	sum := c.Scoring.Weights.Sum()
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	if c.Scoring.UpdateHalfLifeDays <= 0 || c.Scoring.PostHalfLifeDays <= 0 {
		return fmt.Errorf("scoring half-lives must be positive")
	}
	if c.Scoring.MinPostsForFullScore <= 0 {
		return fmt.Errorf("scoring min_posts_for_full_score must be positive")
	}
	if c.Sync.MinRequestDelay > c.Sync.MaxRequestDelay {
		return fmt.Errorf("sync min_request_delay must not exceed max_request_delay")
	}
	return nil
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/causescore.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("sync.retention_days", 90)
	v.SetDefault("sync.max_posts_per_account", 50)
	v.SetDefault("sync.max_scan_posts", 200)
	v.SetDefault("sync.max_lookback_days", 90)
	v.SetDefault("sync.min_request_delay", 2*time.Second)
	v.SetDefault("sync.max_request_delay", 6*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_base_delay", 2*time.Second)
	v.SetDefault("sync.spread_window", time.Hour)
	v.SetDefault("sync.job_max_attempts", 3)
	v.SetDefault("sync.job_claim_batch", 20)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.catalog_lock_ttl", 4*time.Hour)
	v.SetDefault("sync.sweep_lock_ttl", time.Hour)
	v.SetDefault("sync.sweep_batch_size", 100)
	v.SetDefault("sync.sweep_batch_retries", 2)

	v.SetDefault("platforms.x.enabled", true)
	v.SetDefault("platforms.x.base_url", "https://api.x.com")
	v.SetDefault("platforms.x.session_dir", "./data/sessions")
	v.SetDefault("platforms.x.http_timeout", 15*time.Second)
	v.SetDefault("platforms.farcaster.enabled", true)
	v.SetDefault("platforms.farcaster.base_url", "https://api.farcaster.xyz")
	v.SetDefault("platforms.farcaster.http_timeout", 10*time.Second)

	v.SetDefault("assessment.enabled", true)
	v.SetDefault("assessment.model", "gpt-4o-mini")
	v.SetDefault("assessment.base_url", "https://api.openai.com/v1")
	v.SetDefault("assessment.temperature", 0.2)
	v.SetDefault("assessment.max_tokens", 600)
	v.SetDefault("assessment.http_timeout", 30*time.Second)

	v.SetDefault("catalog.endpoint", "http://localhost:4000/graphql")
	v.SetDefault("catalog.http_timeout", 2*time.Minute)
	v.SetDefault("catalog.page_size", 50)

	v.SetDefault("scoring.weights.project_update_recency", 0.10)
	v.SetDefault("scoring.weights.social_post_recency", 0.15)
	v.SetDefault("scoring.weights.social_post_frequency", 0.15)
	v.SetDefault("scoring.weights.giv_power_rank", 0.00)
	v.SetDefault("scoring.weights.social_content_quality", 0.20)
	v.SetDefault("scoring.weights.relevance_to_cause", 0.20)
	v.SetDefault("scoring.weights.evidence_of_impact", 0.10)
	v.SetDefault("scoring.weights.project_info_quality", 0.10)
	v.SetDefault("scoring.update_half_life_days", 30.0)
	v.SetDefault("scoring.post_half_life_days", 14.0)
	v.SetDefault("scoring.frequency_window_days", 30)
	v.SetDefault("scoring.min_posts_for_full_score", 8)
	v.SetDefault("scoring.max_concurrent_causes", 3)
	v.SetDefault("scoring.max_concurrent_projects", 3)
	v.SetDefault("scoring.recent_posts_per_platform", 10)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("platforms.x.primary.username", "X_USERNAME")
	v.BindEnv("platforms.x.primary.password", "X_PASSWORD")
	v.BindEnv("platforms.x.primary.email", "X_EMAIL")
	v.BindEnv("platforms.x.secondary.username", "X_USERNAME_2")
	v.BindEnv("platforms.x.secondary.password", "X_PASSWORD_2")
	v.BindEnv("platforms.x.secondary.email", "X_EMAIL_2")
	v.BindEnv("platforms.farcaster.api_key", "FARCASTER_API_KEY")
	v.BindEnv("assessment.api_key", "OPENAI_API_KEY")
	v.BindEnv("assessment.base_url", "OPENAI_BASE_URL")
	v.BindEnv("assessment.model", "ASSESSMENT_MODEL")
	v.BindEnv("catalog.endpoint", "CATALOG_ENDPOINT")
	v.BindEnv("catalog.auth_token", "CATALOG_AUTH_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
