package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/libreviews/revdal/internal/schema"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the whole configuration of the migrate and rollback commands.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Log           LogConfig           `yaml:"log"`
	Source        SourceConfig        `yaml:"source"`
	Target        TargetConfig        `yaml:"target"`
	Migration     MigrationConfig     `yaml:"migration"`
	Redis         RedisConfig         `yaml:"redis"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Storage       StorageConfig       `yaml:"storage"`
}

type AppConfig struct {
	Env string `yaml:"env" validate:"oneof=local development staging production test"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// SourceConfig selects the document store. Driver "surrealdb" reads a live
// database, "dump" reads <table>.ndjson files from DumpDir.
type SourceConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=surrealdb dump"`
	URL       string `yaml:"url" validate:"required_if=Driver surrealdb"`
	Namespace string `yaml:"namespace" validate:"required_if=Driver surrealdb"`
	Database  string `yaml:"database" validate:"required_if=Driver surrealdb"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DumpDir   string `yaml:"dump_dir" validate:"required_if=Driver dump"`
	Seed      int64  `yaml:"seed"`
	Timeout   int    `yaml:"timeout" validate:"gte=0"` // seconds per call
}

type TargetConfig struct {
	DSN             string `yaml:"dsn"`
	Host            string `yaml:"host" validate:"required_without=DSN"`
	Port            int    `yaml:"port" validate:"omitempty,gt=0,lte=65535"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname" validate:"required_without=DSN"`
	SSLMode         string `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	TablePrefix     string `yaml:"table_prefix"`
	MaxOpenConns    int    `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int    `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	SlowQueryMS     int    `yaml:"slow_query_ms" validate:"gte=0"`
	ConnectTimeout  int    `yaml:"connect_timeout" validate:"gte=0"` // seconds
	QueryTimeout    int    `yaml:"query_timeout" validate:"gte=0"`   // seconds per statement or batch
}

// GetDSN returns the Postgres connection string.
func (c TargetConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	if c.ConnectTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", c.ConnectTimeout)
	}
	return dsn
}

type MigrationConfig struct {
	BatchSize     int     `yaml:"batch_size" validate:"gt=0"`
	SampleSize    int     `yaml:"sample_size" validate:"gte=0"`
	JoinWarnRatio float64 `yaml:"join_warn_ratio" validate:"gte=0,lte=1"`
	ReportDir     string  `yaml:"report_dir" validate:"required"`
	ApplySchema   bool    `yaml:"apply_schema"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" validate:"required_if=Enabled true"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	LockTTL  int    `yaml:"lock_ttl"` // seconds
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addresses   []string `yaml:"addresses" validate:"required_if=Enabled true,dive,url"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"index_prefix"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job"`
}

type StorageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	BasePath        string `yaml:"base_path"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// Default returns the configuration used for every value a file leaves unset.
func Default() *Config {
	return &Config{
		App: AppConfig{Env: "local"},
		Log: LogConfig{Level: "info"},
		Source: SourceConfig{
			Driver:    "surrealdb",
			URL:       "ws://localhost:8000/rpc",
			Namespace: "libreviews",
			Database:  "libreviews",
			Seed:      1,
			Timeout:   30,
		},
		Target: TargetConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "libreviews",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			SlowQueryMS:     500,
			ConnectTimeout:  10,
			QueryTimeout:    120,
		},
		Migration: MigrationConfig{
			BatchSize:     1000,
			SampleSize:    20,
			JoinWarnRatio: 0.05,
			ReportDir:     "reports",
			ApplySchema:   true,
		},
		Redis:   RedisConfig{Host: "localhost", Port: 6379, PoolSize: 4, LockTTL: 7200},
		Metrics: MetricsConfig{Job: "revdal"},
		Storage: StorageConfig{Region: "auto", BasePath: "revdal/"},
	}
}

// Load reads a YAML file over the defaults. ${VAR} references are expanded
// from the environment before parsing. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks every section.
func (c *Config) Validate() error {
	if err := schema.Validate("config", c); err != nil {
		return err
	}
	// the prefix is spliced into DDL unquoted
	if p := c.Target.TablePrefix; p != "" && !prefixPattern.MatchString(p) {
		return fmt.Errorf("config: target.table_prefix %q must match %s", p, prefixPattern)
	}
	return nil
}

// IsDevelopment reports whether the app runs locally.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "local" || c.App.Env == "development"
}

// LockTTL returns the run lock lifetime.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTL) * time.Second
}

// SourceTimeout bounds each document store call.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.Timeout) * time.Second
}

// QueryTimeout bounds each target statement or batch transaction.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Target.QueryTimeout) * time.Second
}

// LogResolved logs the effective, non-secret configuration.
func LogResolved(cfg *Config, log zerolog.Logger) {
	log.Info().
		Str("env", cfg.App.Env).
		Str("source_driver", cfg.Source.Driver).
		Str("source_url", cfg.Source.URL).
		Str("source_dump_dir", cfg.Source.DumpDir).
		Str("target_host", cfg.Target.Host).
		Str("target_db", cfg.Target.DBName).
		Str("table_prefix", cfg.Target.TablePrefix).
		Int("batch_size", cfg.Migration.BatchSize).
		Dur("source_timeout", cfg.SourceTimeout()).
		Dur("query_timeout", cfg.QueryTimeout()).
		Str("report_dir", cfg.Migration.ReportDir).
		Bool("redis", cfg.Redis.Enabled).
		Bool("elasticsearch", cfg.Elasticsearch.Enabled).
		Bool("storage", cfg.Storage.Enabled).
		Bool("metrics_push", cfg.Metrics.PushgatewayURL != "").
		Msg("config resolved")
}
