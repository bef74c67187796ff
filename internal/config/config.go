// Package config loads the engine configuration from YAML with defaults,
// environment overrides for credentials, and validation up front, so a bad
// configuration fails at startup instead of mid-session.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/marketdata"
	"github.com/helio-lab/helio-trading/internal/oracle"
	"github.com/helio-lab/helio-trading/internal/risk"
	"github.com/helio-lab/helio-trading/internal/store/graph"
	"github.com/helio-lab/helio-trading/internal/store/semantic"
	"github.com/helio-lab/helio-trading/internal/syncer"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Duration wraps time.Duration so YAML accepts "5s" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AccountConfig holds account-level settings.
type AccountConfig struct {
	StartingBalance float64 `yaml:"starting_balance" default:"10000" validate:"gt=0"`
}

// OracleConfig holds decision oracle settings.
type OracleConfig struct {
	// Timeout bounds every oracle call; past it the setup is skipped.
	Timeout Duration          `yaml:"timeout" validate:"gt=0"`
	Rule    oracle.RuleConfig `yaml:"rule"`
}

// SyncConfig holds the outbox drain settings.
type SyncConfig struct {
	PollInterval Duration `yaml:"poll_interval" validate:"gt=0"`
	BatchSize    int      `yaml:"batch_size" default:"50" validate:"gt=0"`
	MaxAttempts  int      `yaml:"max_attempts" default:"8" validate:"gt=0"`
	BackoffMin   Duration `yaml:"backoff_min" validate:"gt=0"`
	BackoffMax   Duration `yaml:"backoff_max" validate:"gt=0"`
}

// Syncer converts to the syncer package's configuration.
func (c SyncConfig) Syncer() syncer.Config {
	return syncer.Config{
		PollInterval: c.PollInterval.Std(),
		BatchSize:    c.BatchSize,
		MaxAttempts:  c.MaxAttempts,
		BackoffMin:   c.BackoffMin.Std(),
		BackoffMax:   c.BackoffMax.Std(),
	}
}

// StoresConfig holds the persistence settings.
type StoresConfig struct {
	// PrimaryPath is the DuckDB database file; ":memory:" for ephemeral runs.
	PrimaryPath string          `yaml:"primary_path" default:"helio.db" validate:"required"`
	Semantic    semantic.Config `yaml:"semantic"`
	Graph       graph.Config    `yaml:"graph"`
}

// MarketDataConfig selects the bar source.
type MarketDataConfig struct {
	Provider marketdata.ProviderType `yaml:"provider" default:"replay" validate:"required,oneof=websocket replay"`
	// Source is the WebSocket URL or the replay CSV path.
	Source string `yaml:"source" validate:"required"`
}

// PairConfig declares one traded (instrument, scenario) pair.
type PairConfig struct {
	Symbol     string              `yaml:"symbol" validate:"required"`
	Scenario   string              `yaml:"scenario" validate:"required"`
	Timeframe  types.Timeframe     `yaml:"timeframe" default:"M5" validate:"required"`
	Instrument risk.InstrumentSpec `yaml:"instrument"`
}

// Config is the full engine configuration.
type Config struct {
	Account    AccountConfig            `yaml:"account"`
	Risk       risk.Config              `yaml:"risk"`
	Features   feature.Config           `yaml:"features"`
	Regime     feature.RegimeThresholds `yaml:"regime"`
	Oracle     OracleConfig             `yaml:"oracle"`
	Sync       SyncConfig               `yaml:"sync"`
	Stores     StoresConfig             `yaml:"stores"`
	MarketData MarketDataConfig         `yaml:"market_data"`
	Pairs      []PairConfig             `yaml:"pairs" validate:"required,min=1,dive"`
}

// Load reads, defaults, overrides and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}
	return Parse(raw)
}

// Parse builds a configuration from YAML bytes.
func Parse(raw []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}
	if err := defaults.Set(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to apply config defaults", err)
	}
	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills duration defaults that the struct tags cannot express.
func (c *Config) applyDefaults() {
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = Duration(5 * time.Second)
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = Duration(time.Second)
	}
	if c.Sync.BackoffMin == 0 {
		c.Sync.BackoffMin = Duration(500 * time.Millisecond)
	}
	if c.Sync.BackoffMax == 0 {
		c.Sync.BackoffMax = Duration(5 * time.Minute)
	}
}

// applyEnv overlays credentials and endpoints from the environment, so
// secrets stay out of the config file.
func (c *Config) applyEnv() {
	if addr := os.Getenv("HELIO_REDIS_ADDR"); addr != "" {
		c.Stores.Semantic.Addr = addr
	}
	if password := os.Getenv("HELIO_REDIS_PASSWORD"); password != "" {
		c.Stores.Semantic.Password = password
	}
	if db := os.Getenv("HELIO_REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil {
			c.Stores.Semantic.DB = parsed
		}
	}
	if uri := os.Getenv("HELIO_GRAPH_URI"); uri != "" {
		c.Stores.Graph.URI = uri
	}
	if username := os.Getenv("HELIO_GRAPH_USERNAME"); username != "" {
		c.Stores.Graph.Username = username
	}
	if password := os.Getenv("HELIO_GRAPH_PASSWORD"); password != "" {
		c.Stores.Graph.Password = password
	}
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	if err := c.Oracle.Rule.Validate(); err != nil {
		return err
	}
	syncConfig := c.Sync.Syncer()
	if err := syncConfig.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Pairs))
	for _, pair := range c.Pairs {
		key := pair.Symbol + "/" + pair.Scenario
		if seen[key] {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate pair %s", key)
		}
		seen[key] = true
		if pair.Instrument.Symbol != pair.Symbol {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "instrument spec symbol %q does not match pair symbol %q", pair.Instrument.Symbol, pair.Symbol)
		}
	}
	return nil
}

// InstrumentSpecs returns the distinct instrument specs across all pairs.
func (c *Config) InstrumentSpecs() []risk.InstrumentSpec {
	seen := make(map[string]bool, len(c.Pairs))
	specs := make([]risk.InstrumentSpec, 0, len(c.Pairs))
	for _, pair := range c.Pairs {
		if seen[pair.Symbol] {
			continue
		}
		seen[pair.Symbol] = true
		specs = append(specs, pair.Instrument)
	}
	return specs
}

// Symbols returns the distinct symbols across all pairs.
func (c *Config) Symbols() []string {
	seen := make(map[string]bool, len(c.Pairs))
	symbols := make([]string, 0, len(c.Pairs))
	for _, pair := range c.Pairs {
		if seen[pair.Symbol] {
			continue
		}
		seen[pair.Symbol] = true
		symbols = append(symbols, pair.Symbol)
	}
	return symbols
}
