package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"kpi/internal/domain/scoring"
)

type Config struct {
	Addr                    string        `mapstructure:"app_addr"`
	DatabaseURL             string        `mapstructure:"database_url"`
	JWTSecret               string        `mapstructure:"jwt_secret"`
	Environment             string        `mapstructure:"app_env"`
	MigrationsDir           string        `mapstructure:"migrations_dir"`
	RunMigrations           bool          `mapstructure:"run_migrations"`
	MaxBodyBytes            int64         `mapstructure:"max_body_bytes"`
	RateLimitPerMinute      int           `mapstructure:"rate_limit_per_minute"`
	MetricsEnabled          bool          `mapstructure:"metrics_enabled"`
	EmailFrom               string        `mapstructure:"email_from"`
	LogLevel                string        `mapstructure:"log_level"`
	LogFormat               string        `mapstructure:"log_format"`
	CalcConcurrency         int           `mapstructure:"calc_concurrency"`
	LowPerformanceThreshold float64       `mapstructure:"low_performance_threshold"`
	DefaultRollupMethod     string        `mapstructure:"default_rollup_method"`
	BoundaryFile            string        `mapstructure:"boundary_file"`
	JobQueueSize            int           `mapstructure:"job_queue_size"`
	RecalcInterval          time.Duration `mapstructure:"recalc_interval"`
	SeedTenantName          string        `mapstructure:"seed_tenant_name"`
	IdempotencyTTL          time.Duration `mapstructure:"idempotency_ttl"`
	PermissionCacheTTL      time.Duration `mapstructure:"permission_cache_ttl"`
}

var keys = []string{
	"app_addr", "database_url", "jwt_secret", "app_env", "migrations_dir", "run_migrations",
	"max_body_bytes", "rate_limit_per_minute", "metrics_enabled", "email_from", "log_level",
	"log_format", "calc_concurrency", "low_performance_threshold", "default_rollup_method",
	"boundary_file", "job_queue_size", "recalc_interval", "seed_tenant_name",
	"idempotency_ttl", "permission_cache_ttl",
}

// Load reads the environment and, when CONFIG_FILE is set, a YAML file whose
// keys are the lower-case environment names. Environment values win.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	v.SetDefault("app_addr", ":8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("run_migrations", true)
	v.SetDefault("max_body_bytes", 1048576)
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("email_from", "no-reply@example.com")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("calc_concurrency", 8)
	v.SetDefault("low_performance_threshold", 60.0)
	v.SetDefault("default_rollup_method", string(scoring.RollupAverage))
	v.SetDefault("job_queue_size", 128)
	v.SetDefault("recalc_interval", time.Duration(0))
	v.SetDefault("seed_tenant_name", "Default Tenant")
	v.SetDefault("idempotency_ttl", 24*time.Hour)
	v.SetDefault("permission_cache_ttl", 30*time.Second)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, eris.Wrapf(err, "config: read %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.CalcConcurrency <= 0 {
		return fmt.Errorf("CALC_CONCURRENCY must be positive")
	}
	if c.LowPerformanceThreshold < 0 || c.LowPerformanceThreshold > scoring.FullScore {
		return fmt.Errorf("LOW_PERFORMANCE_THRESHOLD must be between 0 and 100")
	}
	if _, err := scoring.ParseRollupMethod(c.DefaultRollupMethod); err != nil {
		return fmt.Errorf("DEFAULT_ROLLUP_METHOD: %w", err)
	}
	if c.JobQueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive")
	}
	return nil
}
