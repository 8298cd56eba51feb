// Package config loads runtime configuration from the environment and the
// broker account file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fernet/fernet-go"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/validation"
)

// encryptedPrefix marks an account secret stored as a fernet token.
const encryptedPrefix = "fernet:"

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Log      LogConfig
	Snapshot SnapshotConfig
	FX       FXConfig

	// SecretsKey decrypts fernet-encrypted account secrets. Comma-separated
	// keys are tried in order, so keys can be rotated.
	SecretsKey []string `env:"SECRETS_KEY"`

	// Accounts is read from Snapshot.AccountsFile, not the environment.
	Accounts []AccountConfig `env:"-"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string `env:"SERVER_PORT" envDefault:"5001"`
	Host string `env:"SERVER_HOST" envDefault:"localhost"`
	Addr string `env:"-"` // Combined host:port for convenience
	// APIKey guards the mutating endpoints. Empty rejects them.
	APIKey string `env:"INTERNAL_API_KEY"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string `env:"DB_PATH" envDefault:"./data/portfolio_snapshot.db"`
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost" envSeparator:","`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// SnapshotConfig controls capture runs.
type SnapshotConfig struct {
	BaseCurrency         string        `env:"BASE_CURRENCY" envDefault:"EUR"`
	AccountsFile         string        `env:"SNAPSHOT_ACCOUNTS_FILE" envDefault:"./accounts.yaml"`
	Concurrency          int           `env:"SNAPSHOT_CONCURRENCY" envDefault:"4"`
	PerBrokerConcurrency int           `env:"SNAPSHOT_PER_BROKER_CONCURRENCY" envDefault:"2"`
	FetchTimeout         time.Duration `env:"SNAPSHOT_FETCH_TIMEOUT" envDefault:"60s"`
	RetryAttempts        int           `env:"SNAPSHOT_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay       time.Duration `env:"SNAPSHOT_RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay        time.Duration `env:"SNAPSHOT_RETRY_MAX_DELAY" envDefault:"30s"`
	// RewriteWindow is how long after its as-of time a snapshot's values may
	// still change. Zero disables the check.
	RewriteWindow time.Duration `env:"SNAPSHOT_REWRITE_WINDOW" envDefault:"168h"`
	// Schedule is a cron spec (optional leading seconds field or a descriptor
	// such as "@daily"); empty disables the scheduler.
	Schedule string `env:"SNAPSHOT_SCHEDULE"`
}

// FXConfig selects the external exchange-rate provider.
type FXConfig struct {
	// Provider is "yahoo", or "none" to use stored rates only.
	Provider string `env:"FX_PROVIDER" envDefault:"yahoo"`
}

// AccountConfig is one entry of the broker account file.
type AccountConfig struct {
	Broker       string        `yaml:"broker"`
	AccountID    string        `yaml:"account_id"`
	DisplayName  string        `yaml:"display_name"`
	BaseCurrency string        `yaml:"base_currency"`
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	QueryID      string        `yaml:"query_id"`
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	Paper        bool          `yaml:"paper"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// Settings converts the entry into adapter connection settings.
func (a AccountConfig) Settings() broker.Settings {
	return broker.Settings{
		Broker:      a.Broker,
		AccountID:   a.AccountID,
		BaseURL:     a.BaseURL,
		Token:       a.Token,
		QueryID:     a.QueryID,
		APIKey:      a.APIKey,
		APISecret:   a.APISecret,
		Paper:       a.Paper,
		HTTPTimeout: a.HTTPTimeout,
	}
}

type accountFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// Load reads configuration from environment variables, the .env file and
// the broker account file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFrom(nil)
}

// LoadFrom parses configuration from environ instead of the process
// environment when environ is non-nil.
func LoadFrom(environ map[string]string) (*Config, error) {
	config := &Config{}
	if err := env.ParseWithOptions(config, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	config.Snapshot.BaseCurrency = strings.ToUpper(strings.TrimSpace(config.Snapshot.BaseCurrency))
	config.FX.Provider = strings.ToLower(strings.TrimSpace(config.FX.Provider))
	if config.FX.Provider == "none" {
		config.FX.Provider = ""
	}

	accounts, err := LoadAccounts(config.Snapshot.AccountsFile)
	if err != nil {
		return nil, err
	}
	config.Accounts = accounts

	if err := config.resolveAccounts(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadAccounts reads the broker account file. A missing file yields no
// accounts; runs then fail fast until accounts are configured.
func LoadAccounts(path string) ([]AccountConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account file %s: %w", path, err)
	}

	var file accountFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse account file %s: %w", path, err)
	}
	return file.Accounts, nil
}

// resolveAccounts applies defaults and decrypts fernet-encrypted secrets.
func (c *Config) resolveAccounts() error {
	keys, err := c.secretKeys()
	if err != nil {
		return err
	}

	for i := range c.Accounts {
		acct := &c.Accounts[i]
		acct.Broker = strings.ToLower(strings.TrimSpace(acct.Broker))
		acct.AccountID = strings.TrimSpace(acct.AccountID)
		acct.BaseCurrency = strings.ToUpper(strings.TrimSpace(acct.BaseCurrency))
		if acct.BaseCurrency == "" {
			acct.BaseCurrency = c.Snapshot.BaseCurrency
		}
		if acct.DisplayName == "" {
			acct.DisplayName = acct.AccountID
		}

		for _, secret := range []*string{&acct.Token, &acct.APIKey, &acct.APISecret} {
			plain, err := decryptSecret(*secret, keys)
			if err != nil {
				return fmt.Errorf("account %s/%s: %w", acct.Broker, acct.AccountID, err)
			}
			*secret = plain
		}
	}
	return nil
}

func (c *Config) secretKeys() ([]*fernet.Key, error) {
	if len(c.SecretsKey) == 0 {
		return nil, nil
	}
	keys, err := fernet.DecodeKeys(c.SecretsKey...)
	if err != nil {
		return nil, fmt.Errorf("invalid SECRETS_KEY: %w", err)
	}
	return keys, nil
}

func decryptSecret(value string, keys []*fernet.Key) (string, error) {
	token, ok := strings.CutPrefix(value, encryptedPrefix)
	if !ok {
		return value, nil
	}
	if len(keys) == 0 {
		return "", errors.New("encrypted secret requires SECRETS_KEY")
	}
	// ttl 0: secrets at rest do not expire
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, keys)
	if plain == nil {
		return "", errors.New("failed to decrypt secret: invalid token or key")
	}
	return string(plain), nil
}

// Validate checks value ranges and currency codes.
func (c *Config) Validate() error {
	fields := make(map[string]string)

	if err := fx.ValidateCurrency(c.Snapshot.BaseCurrency); err != nil {
		fields["BASE_CURRENCY"] = err.Error()
	}
	if c.Snapshot.Concurrency < 1 {
		fields["SNAPSHOT_CONCURRENCY"] = "must be at least 1"
	}
	if c.Snapshot.PerBrokerConcurrency < 1 {
		fields["SNAPSHOT_PER_BROKER_CONCURRENCY"] = "must be at least 1"
	}
	if c.Snapshot.FetchTimeout <= 0 {
		fields["SNAPSHOT_FETCH_TIMEOUT"] = "must be positive"
	}
	if c.Snapshot.RetryAttempts < 1 {
		fields["SNAPSHOT_RETRY_ATTEMPTS"] = "must be at least 1"
	}
	if c.Snapshot.RetryMaxDelay > 0 && c.Snapshot.RetryMaxDelay < c.Snapshot.RetryBaseDelay {
		fields["SNAPSHOT_RETRY_MAX_DELAY"] = "must not be below SNAPSHOT_RETRY_BASE_DELAY"
	}
	if c.Snapshot.RewriteWindow < 0 {
		fields["SNAPSHOT_REWRITE_WINDOW"] = "must not be negative"
	}
	if c.FX.Provider != "" && c.FX.Provider != "yahoo" {
		fields["FX_PROVIDER"] = fmt.Sprintf("unknown provider %q", c.FX.Provider)
	}

	seen := make(map[string]bool)
	for i, acct := range c.Accounts {
		prefix := fmt.Sprintf("accounts[%d]", i)
		if acct.Broker == "" {
			fields[prefix+".broker"] = "is required"
		}
		if acct.AccountID == "" {
			fields[prefix+".account_id"] = "is required"
		}
		if err := fx.ValidateCurrency(acct.BaseCurrency); err != nil {
			fields[prefix+".base_currency"] = err.Error()
		}
		key := acct.Broker + "/" + acct.AccountID
		if seen[key] {
			fields[prefix] = fmt.Sprintf("duplicate account %s", key)
		}
		seen[key] = true
	}

	if len(fields) > 0 {
		return &validation.Error{Fields: fields}
	}
	return nil
}

// Policy returns the adapter retry policy.
func (c *Config) Policy() broker.Policy {
	return broker.Policy{
		Attempts:     c.Snapshot.RetryAttempts,
		BaseDelay:    c.Snapshot.RetryBaseDelay,
		MaxDelay:     c.Snapshot.RetryMaxDelay,
		FetchTimeout: c.Snapshot.FetchTimeout,
	}
}
