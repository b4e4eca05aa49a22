package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Config holds all configuration for opsctl
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Unipile  UnipileConfig  `mapstructure:"unipile"`
	N8N      N8NConfig      `mapstructure:"n8n"`
	Airtable AirtableConfig `mapstructure:"airtable"`
	Outreach OutreachConfig `mapstructure:"outreach"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	SnapshotDir    string        `mapstructure:"snapshot_dir"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN returns the connection string, preferring an explicit url.
func (p PostgresConfig) DSN() (string, error) {
	if u := strings.TrimSpace(p.URL); u != "" {
		return u, nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return "", fmt.Errorf("storage.postgres.url or host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "require"
		if isLocalHost(p.Host) {
			ssl = "disable"
		}
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}

func (p PostgresConfig) Validate() error {
	_, err := p.DSN()
	return err
}

func isLocalHost(h string) bool {
	switch strings.ToLower(strings.TrimSpace(h)) {
	case "localhost", "127.0.0.1", "::1", "postgres", "db":
		return true
	}
	return false
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Host) != ""
}

// Options builds go-redis options from url or host/port.
func (r RedisConfig) Options() (*redis.Options, error) {
	if u := strings.TrimSpace(r.URL); u != "" {
		opts, err := redis.ParseURL(u)
		if err != nil {
			return nil, fmt.Errorf("storage.redis.url: %w", err)
		}
		if r.Timeout > 0 {
			opts.DialTimeout = r.Timeout
		}
		return opts, nil
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &redis.Options{
		Addr:        net.JoinHostPort(r.Host, r.Port),
		Password:    r.Password,
		DB:          r.DB,
		DialTimeout: r.Timeout,
	}, nil
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.URL) != "" {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// S3Config contains object storage configuration for backup snapshots.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Enabled reports whether snapshots should be archived to a bucket.
func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

func (s S3Config) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" && strings.TrimSpace(s.Bucket) == "" {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket required when endpoint is provided")
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("storage.s3.access_key_id and secret_access_key must be set together")
	}
	return nil
}

// SupabaseConfig configures the auth admin API of the hosted platform.
type SupabaseConfig struct {
	URL            string        `mapstructure:"url"`
	ServiceRoleKey string        `mapstructure:"service_role_key"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (s SupabaseConfig) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("supabase.url required")
	}
	if strings.TrimSpace(s.ServiceRoleKey) == "" && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("supabase.service_role_key or supabase.jwt_secret required")
	}
	return nil
}

// UnipileConfig configures the social-outreach integration API.
type UnipileConfig struct {
	DSN       string        `mapstructure:"dsn"`
	APIKey    string        `mapstructure:"api_key"`
	AccountID string        `mapstructure:"account_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
}

func (u UnipileConfig) Validate() error {
	if strings.TrimSpace(u.DSN) == "" {
		return fmt.Errorf("unipile.dsn required")
	}
	if strings.TrimSpace(u.APIKey) == "" {
		return fmt.Errorf("unipile.api_key required")
	}
	if u.Retries < 0 {
		return fmt.Errorf("unipile.retries cannot be negative")
	}
	return nil
}

// N8NConfig configures the workflow runner webhooks.
type N8NConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	CampaignPath string        `mapstructure:"campaign_path"`
	HeaderName   string        `mapstructure:"header_name"`
	HeaderValue  string        `mapstructure:"header_value"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (n N8NConfig) Validate() error {
	if strings.TrimSpace(n.WebhookURL) == "" {
		return fmt.Errorf("n8n.webhook_url required")
	}
	if _, err := url.ParseRequestURI(n.WebhookURL); err != nil {
		return fmt.Errorf("n8n.webhook_url: %w", err)
	}
	if (n.HeaderName == "") != (n.HeaderValue == "") {
		return fmt.Errorf("n8n.header_name and header_value must be set together")
	}
	return nil
}

// AirtableConfig configures the spreadsheet backup service.
type AirtableConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseID  string        `mapstructure:"base_id"`
	BaseURL string        `mapstructure:"base_url"`
	Rate    float64       `mapstructure:"requests_per_second"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (a AirtableConfig) Validate() error {
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("airtable.api_key required")
	}
	if strings.TrimSpace(a.BaseID) == "" {
		return fmt.Errorf("airtable.base_id required")
	}
	return nil
}

// OutreachConfig controls connection-request dispatch pacing.
type OutreachConfig struct {
	InviteDelay time.Duration `mapstructure:"invite_delay"`
	DailyLimit  int           `mapstructure:"daily_limit"`
	BatchSize   int           `mapstructure:"batch_size"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	DedupTTL    time.Duration `mapstructure:"dedup_ttl"`
}

// Normalize applies defaults for unset outreach values.
func (c OutreachConfig) Normalize() OutreachConfig {
	if c.InviteDelay <= 0 {
		c.InviteDelay = 30 * time.Second
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 80
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Hour
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 30 * 24 * time.Hour
	}
	return c
}

// AuditConfig tunes the consistency checks.
type AuditConfig struct {
	StaleApprovalAfter time.Duration `mapstructure:"stale_approval_after"`
	SampleLimit        int           `mapstructure:"sample_limit"`
}

func (c AuditConfig) Normalize() AuditConfig {
	if c.StaleApprovalAfter <= 0 {
		c.StaleApprovalAfter = 7 * 24 * time.Hour
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 5
	}
	return c
}

// MetricsConfig controls where run metrics are pushed.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig contains the optional hook server settings.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	HookSecret    string `mapstructure:"hook_secret"`
	AuditSchedule string `mapstructure:"audit_schedule"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.HookSecret) == "" {
		return fmt.Errorf("server.hook_secret required")
	}
	return nil
}

// legacyEnv maps the flat variable names used by the old scripts.
var legacyEnv = map[string][]string{
	"storage.postgres.url":      {"DATABASE_URL"},
	"storage.redis.url":         {"REDIS_URL"},
	"supabase.url":              {"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"},
	"supabase.service_role_key": {"SUPABASE_SERVICE_ROLE_KEY"},
	"supabase.jwt_secret":       {"SUPABASE_JWT_SECRET"},
	"unipile.dsn":               {"UNIPILE_DSN"},
	"unipile.api_key":           {"UNIPILE_API_KEY"},
	"unipile.account_id":        {"UNIPILE_ACCOUNT_ID"},
	"n8n.webhook_url":           {"N8N_WEBHOOK_URL"},
	"airtable.api_key":          {"AIRTABLE_API_KEY"},
	"airtable.base_id":          {"AIRTABLE_BASE_ID"},
}

// configKeys lists every key so env-only values survive Unmarshal.
var configKeys = []string{
	"general.log_level", "general.default_timeout", "general.snapshot_dir",
	"storage.postgres.url", "storage.postgres.host", "storage.postgres.port",
	"storage.postgres.user", "storage.postgres.password", "storage.postgres.dbname",
	"storage.postgres.sslmode", "storage.postgres.timeout",
	"storage.redis.url", "storage.redis.host", "storage.redis.port",
	"storage.redis.password", "storage.redis.db", "storage.redis.timeout",
	"storage.s3.endpoint", "storage.s3.region", "storage.s3.bucket", "storage.s3.prefix",
	"storage.s3.access_key_id", "storage.s3.secret_access_key",
	"supabase.url", "supabase.service_role_key", "supabase.jwt_secret", "supabase.timeout",
	"unipile.dsn", "unipile.api_key", "unipile.account_id", "unipile.timeout", "unipile.retries",
	"n8n.webhook_url", "n8n.campaign_path", "n8n.header_name", "n8n.header_value", "n8n.timeout",
	"airtable.api_key", "airtable.base_id", "airtable.base_url", "airtable.requests_per_second", "airtable.timeout",
	"outreach.invite_delay", "outreach.daily_limit", "outreach.batch_size", "outreach.lock_ttl", "outreach.dedup_ttl",
	"audit.stale_approval_after", "audit.sample_limit",
	"metrics.pushgateway_url", "metrics.job",
	"server.address", "server.hook_secret", "server.audit_schedule",
}

// EnvName returns the prefixed environment variable for a config key.
// DefaultServerAddress is where `opsctl serve` listens when server.address
// is unset.
const DefaultServerAddress = ":10002"

func EnvName(key string) string {
	return "OPSCTL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads the optional config file and environment. A missing file is
// not an error: most runs are configured purely from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("opsctl")
	v.SetConfigType("json")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("general.snapshot_dir", "backups")
	v.SetDefault("n8n.campaign_path", "campaign-outreach")
	v.SetDefault("airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("airtable.requests_per_second", 5.0)
	v.SetDefault("metrics.job", "opsctl")
	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("unipile.retries", 2)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("OPSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		names := append([]string{key, EnvName(key)}, legacyEnv[key]...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Outreach = cfg.Outreach.Normalize()
	cfg.Audit = cfg.Audit.Normalize()

	if err := cfg.Storage.S3.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequirePostgres returns a DSN or an error naming the missing settings.
func (c *Config) RequirePostgres() (string, error) {
	return c.Storage.Postgres.DSN()
}

func (c *Config) RequireSupabase() error { return c.Supabase.Validate() }

func (c *Config) RequireUnipile() error { return c.Unipile.Validate() }

func (c *Config) RequireN8N() error { return c.N8N.Validate() }

func (c *Config) RequireAirtable() error { return c.Airtable.Validate() }
