// Package config provides configuration types and defaults for ticketbay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config holds all configuration options for ticketbay.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Market    MarketConfig    `mapstructure:"market"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" (default) or "sqlite".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite store file. Default: ~/.ticketbay/escrow.db
	Path string `mapstructure:"path"`
	// LedgerPath is the SQLite funds ledger file. Default: next to Path as ledger.db
	LedgerPath string `mapstructure:"ledger_path"`
}

// DirectoryConfig is the genesis for the authorization directory.
type DirectoryConfig struct {
	Owner       string   `mapstructure:"owner"`
	Marketplace string   `mapstructure:"marketplace"`
	Admins      []string `mapstructure:"admins"`
}

// AdminIdentities returns the configured admins as identities.
func (d DirectoryConfig) AdminIdentities() []types.Identity {
	out := make([]types.Identity, 0, len(d.Admins))
	for _, a := range d.Admins {
		out = append(out, types.Identity(strings.TrimSpace(a)))
	}
	return out
}

// MarketConfig holds escrow engine settings.
type MarketConfig struct {
	// FeeBps seeds the treasury before the first fee update. Default: 250 (2.5%)
	FeeBps int `mapstructure:"fee_bps"`
	// ConfirmationPeriod is how long after purchase anyone may auto-release. Default: 168h
	ConfirmationPeriod time.Duration `mapstructure:"confirmation_period"`
}

// RegistryConfig holds asset registry settings.
type RegistryConfig struct {
	// OpenMinting lets any identity mint. When false only admins may mint.
	OpenMinting bool `mapstructure:"open_minting"`
}

// CacheConfig holds read cache settings.
type CacheConfig struct {
	// TTL for cached asset views. A negative value disables the cache.
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/ticketbay/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName is reported as the OpenTelemetry service.name resource.
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig controls the debug log.
type LogConfig struct {
	// Path of the log file. Empty means ticketbay.log in the working directory.
	Path string `mapstructure:"path"`
	// Level is the minimum level written: debug, info, warn or error.
	Level string `mapstructure:"level"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/ticketbay/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ticketbay", "traces", "traces.jsonl")
}

// DefaultStorePath returns ~/.ticketbay/escrow.db or empty string if home dir unavailable.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ticketbay", "escrow.db")
}

// ResolvedLedgerPath returns LedgerPath, or ledger.db beside the store file.
func (s StoreConfig) ResolvedLedgerPath() string {
	if s.LedgerPath != "" {
		return s.LedgerPath
	}
	return filepath.Join(filepath.Dir(s.Path), "ledger.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   DefaultStorePath(),
		},
		Directory: DirectoryConfig{
			Owner:       "owner",
			Marketplace: "marketplace",
		},
		Market: MarketConfig{
			FeeBps:             int(types.DefaultFeeBps),
			ConfirmationPeriod: 7 * 24 * time.Hour,
		},
		Registry: RegistryConfig{
			OpenMinting: true,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "ticketbay",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := ValidateStore(c.Store); err != nil {
		return err
	}
	if err := ValidateDirectory(c.Directory); err != nil {
		return err
	}
	if err := ValidateMarket(c.Market); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return ValidateLog(c.Log)
}

// ValidateStore checks store configuration for errors.
func ValidateStore(s StoreConfig) error {
	switch s.Driver {
	case "", DriverMemory:
		return nil
	case DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required when driver is %q", DriverSQLite)
		}
		if s.LedgerPath != "" && filepath.Clean(s.LedgerPath) == filepath.Clean(s.Path) {
			return fmt.Errorf("store.ledger_path must differ from store.path")
		}
		return nil
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverMemory, DriverSQLite, s.Driver)
	}
}

// ValidateDirectory checks the genesis identities.
func ValidateDirectory(d DirectoryConfig) error {
	owner := types.Identity(d.Owner)
	if owner.IsZero() {
		return fmt.Errorf("directory.owner is required")
	}
	market := types.Identity(d.Marketplace)
	if market.IsZero() {
		return fmt.Errorf("directory.marketplace is required")
	}
	if market == owner {
		return fmt.Errorf("directory.marketplace must differ from directory.owner")
	}
	for i, a := range d.AdminIdentities() {
		if a.IsZero() {
			return fmt.Errorf("directory.admins[%d] is empty", i)
		}
	}
	return nil
}

// ValidateMarket checks fee and timing settings.
func ValidateMarket(m MarketConfig) error {
	if m.FeeBps < 0 || m.FeeBps > int(types.MaxFeeBps) {
		return fmt.Errorf("market.fee_bps must be between 0 and %d, got %d", types.MaxFeeBps, m.FeeBps)
	}
	if m.ConfirmationPeriod < 0 {
		return fmt.Errorf("market.confirmation_period must not be negative, got %s", m.ConfirmationPeriod)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// ValidateLog checks the log level.
func ValidateLog(l LogConfig) error {
	if _, err := log.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Ticketbay Configuration

# Persistence backend
store:
  driver: memory          # memory (default) or sqlite
  # path: ~/.ticketbay/escrow.db
  # ledger_path: ~/.ticketbay/ledger.db   # default: ledger.db next to path

# Authorization directory genesis
directory:
  owner: owner            # super-admin: manages admins, fees and treasury
  marketplace: marketplace  # the only identity allowed to lock, unlock and force transfers
  # admins:
  #   - carol

# Escrow engine
market:
  fee_bps: 250                 # initial fee in basis points (max 1000)
  confirmation_period: 168h    # auto-release becomes available after this long

# Asset registry
registry:
  open_minting: true      # false restricts minting to admins

# Asset view cache
cache:
  ttl: 5m                 # negative disables caching
  cleanup_interval: 10m

# Distributed tracing configuration
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/ticketbay/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#   service_name: ticketbay

# Debug log (only written with --debug or TICKETBAY_DEBUG=1)
log:
  # path: ticketbay.log
  level: debug            # debug, info, warn or error; reloaded when this file changes
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
