package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "surveyledger.config"

// EnvPrefix prefixes every environment override, e.g. SURVEYLEDGER_BIND_ADDR.
const EnvPrefix = "surveyledger"

const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	BindAddr        string        `yaml:"bindAddr"        split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	Debug           bool          `yaml:"debug"`

	Storage       string `yaml:"storage"`
	SnapshotPath  string `yaml:"snapshotPath"  split_words:"true"`
	SqlitePath    string `yaml:"sqlitePath"    split_words:"true"`
	DatabaseURL   string `yaml:"databaseUrl"   envconfig:"DATABASE_URL"`
	MigrationsDir string `yaml:"migrationsDir" split_words:"true"`

	JWTSecret   string   `yaml:"jwtSecret"   envconfig:"JWT_SECRET"`
	Locales     []string `yaml:"locales"`
	CORSOrigins []string `yaml:"corsOrigins" envconfig:"CORS_ORIGINS"`
	RateLimit   float64  `yaml:"rateLimit"   split_words:"true"`
	RateBurst   int      `yaml:"rateBurst"   split_words:"true"`

	MetricsEnabled bool `yaml:"metricsEnabled" split_words:"true"`
	TracingEnabled bool `yaml:"tracingEnabled" split_words:"true"`

	BulkConcurrency  int    `yaml:"bulkConcurrency"  split_words:"true"`
	ConflictRetries  int    `yaml:"conflictRetries"  split_words:"true"`
	PassPrice        int    `yaml:"passPrice"        split_words:"true"`
	MinCommerceShare string `yaml:"minCommerceShare" split_words:"true"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		Storage:          StorageMemory,
		SqlitePath:       "data/surveyledger.db",
		Locales:          []string{"en", "zh"},
		CORSOrigins:      []string{"*"},
		RateLimit:        5,
		RateBurst:        10,
		MetricsEnabled:   true,
		BulkConcurrency:  8,
		ConflictRetries:  5,
		PassPrice:        100,
		MinCommerceShare: "0.10",
	}
}

// LoadConfig reads the YAML file at path, when given, over the defaults and
// then applies SURVEYLEDGER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.SqlitePath == "" {
			errs = append(errs, errors.New("sqlitePath is required for sqlite storage"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("databaseUrl is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q (want memory, sqlite or postgres)", c.Storage))
	}
	if c.BulkConcurrency < 1 {
		errs = append(errs, errors.New("bulkConcurrency must be at least 1"))
	}
	if c.ConflictRetries < 1 {
		errs = append(errs, errors.New("conflictRetries must be at least 1"))
	}
	if c.PassPrice < 1 {
		errs = append(errs, errors.New("passPrice must be at least 1"))
	}
	if _, err := c.CommerceShare(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CommerceShare parses MinCommerceShare.
func (c *Config) CommerceShare() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.MinCommerceShare)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("minCommerceShare must be a positive decimal, got %q", c.MinCommerceShare)
	}
	return d, nil
}
