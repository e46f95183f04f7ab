package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"notice_ingest/internal/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	LogLevel string            `yaml:"log_level"`
	Log      LogConfig         `yaml:"log"`
	Storage  StorageConfig     `yaml:"storage"`
	Database DatabaseConfig    `yaml:"database"`
	RabbitMQ RabbitMQConfig    `yaml:"rabbitmq"`
	Fetch    FetchConfig       `yaml:"fetch"`
	Ingest   IngestConfig      `yaml:"ingest"`
	Scoring  ScoringConfig     `yaml:"scoring"`
	Feeds    []FeedGroupConfig `yaml:"feeds"`
}

// LogConfig enables rotated file output next to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// Enabled reports whether incidents should be published.
func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type IngestConfig struct {
	Workers     int           `yaml:"workers"`
	Interval    time.Duration `yaml:"interval"`
	PassTimeout time.Duration `yaml:"pass_timeout"`
	Timezone    string        `yaml:"timezone"`
}

// ScoringConfig adds keywords to the built-in severity tiers, keyed by
// severity (1, 3, 4 or 5). Tier 1 is empty unless configured here.
type ScoringConfig struct {
	Keywords map[int][]string `yaml:"keywords"`
}

type FeedGroupConfig struct {
	Slug            string `yaml:"slug"`
	Name            string `yaml:"name"`
	Format          string `yaml:"format"`
	Category        string `yaml:"category"`
	PrimaryLanguage string `yaml:"primary_language"`
	Pairing         string `yaml:"pairing"`
	Timezone        string `yaml:"timezone"`
	Active          *bool  `yaml:"active"`
	URLEn           string `yaml:"url_en"`
	URLZhTW         string `yaml:"url_zh_TW"`
	URLZhCN         string `yaml:"url_zh_CN"`
}

func (f FeedGroupConfig) urls() map[domain.Language]string {
	urls := make(map[domain.Language]string, 3)
	if f.URLEn != "" {
		urls[domain.LangEnglish] = f.URLEn
	}
	if f.URLZhTW != "" {
		urls[domain.LangTraditionalChinese] = f.URLZhTW
	}
	if f.URLZhCN != "" {
		urls[domain.LangSimplifiedChinese] = f.URLZhCN
	}
	return urls
}

func (f FeedGroupConfig) active() bool {
	return f.Active == nil || *f.Active
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "notice_ingest.db"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "notice_ingest"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "incidents"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "incidents"
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 15 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "notice-ingest/1.0"
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = 10 << 20
	}
	if c.Fetch.Retry.MaxAttempts == 0 {
		c.Fetch.Retry.MaxAttempts = 3
	}
	if c.Fetch.Retry.InitialBackoff == 0 {
		c.Fetch.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Fetch.Retry.MaxBackoff == 0 {
		c.Fetch.Retry.MaxBackoff = 10 * time.Second
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = 5 * time.Minute
	}
	if c.Ingest.PassTimeout == 0 {
		c.Ingest.PassTimeout = 5 * time.Minute
	}
	if c.Ingest.Timezone == "" {
		c.Ingest.Timezone = "Asia/Hong_Kong"
	}
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.Format == "" {
			f.Format = domain.FormatRSS
		}
		if f.PrimaryLanguage == "" {
			f.PrimaryLanguage = string(domain.LangEnglish)
		}
		if f.Pairing == "" {
			f.Pairing = domain.PairingTitle
		}
		if f.Timezone == "" {
			f.Timezone = c.Ingest.Timezone
		}
		if f.Name == "" {
			f.Name = f.Slug
		}
	}
}

var (
	knownFormats  = map[string]bool{domain.FormatRSS: true, domain.FormatGovXML: true}
	knownPairings = map[string]bool{
		domain.PairingTitle:   true,
		domain.PairingLink:    true,
		domain.PairingOrdinal: true,
		domain.PairingDay:     true,
	}
	knownDrivers = map[string]bool{DriverPostgres: true, DriverSQLite: true, DriverMemory: true}
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if !knownDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be positive"))
	}
	if c.Fetch.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("fetch.retry.max_attempts must be positive"))
	}
	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("ingest.timezone: %w", err))
	}
	for sev := range c.Scoring.Keywords {
		if sev < 1 || sev > 5 || sev == 2 {
			errs = append(errs, fmt.Errorf("scoring.keywords: no keyword tier for severity %d", sev))
		}
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		prefix := fmt.Sprintf("feeds[%d]", i)
		if f.Slug == "" {
			errs = append(errs, fmt.Errorf("%s: slug is required", prefix))
		} else if seen[f.Slug] {
			errs = append(errs, fmt.Errorf("%s: duplicate slug %q", prefix, f.Slug))
		}
		seen[f.Slug] = true

		if !knownFormats[f.Format] {
			errs = append(errs, fmt.Errorf("%s: unknown format %q", prefix, f.Format))
		}
		if !knownPairings[f.Pairing] {
			errs = append(errs, fmt.Errorf("%s: unknown pairing %q", prefix, f.Pairing))
		}
		if !domain.Language(f.PrimaryLanguage).Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown primary language %q", prefix, f.PrimaryLanguage))
		}
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("%s: timezone: %w", prefix, err))
		}
		if f.active() && len(f.urls()) == 0 {
			errs = append(errs, fmt.Errorf("%s: active feed group has no url", prefix))
		}
	}

	return errors.Join(errs...)
}

// FeedGroups converts every configured group, active or not.
func (c *Config) FeedGroups() ([]domain.FeedGroup, error) {
	groups := make([]domain.FeedGroup, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("feed %s: load timezone: %w", f.Slug, err)
		}
		groups = append(groups, domain.FeedGroup{
			Slug:     f.Slug,
			Name:     f.Name,
			Format:   f.Format,
			Category: f.Category,
			URLs:     f.urls(),
			Active:   f.active(),
			Primary:  domain.Language(f.PrimaryLanguage),
			Pairing:  f.Pairing,
			Location: loc,
		})
	}
	return groups, nil
}

// ActiveFeedGroups returns the groups with active set, in file order.
func (c *Config) ActiveFeedGroups(ctx context.Context) ([]domain.FeedGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := c.FeedGroups()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, g := range all {
		if g.Active {
			active = append(active, g)
		}
	}
	return active, nil
}
