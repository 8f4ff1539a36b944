package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/zjrosen/ticketbay/internal/log"
)

// SetDefaults registers Defaults() on v so unset keys decode to default values.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.ledger_path", d.Store.LedgerPath)
	v.SetDefault("directory.owner", d.Directory.Owner)
	v.SetDefault("directory.marketplace", d.Directory.Marketplace)
	v.SetDefault("directory.admins", d.Directory.Admins)
	v.SetDefault("market.fee_bps", d.Market.FeeBps)
	v.SetDefault("market.confirmation_period", d.Market.ConfirmationPeriod)
	v.SetDefault("registry.open_minting", d.Registry.OpenMinting)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

// Load reads the configured file (if any), decodes it over the defaults and validates it.
// A missing config file is not an error.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file found, using defaults")
	} else {
		log.Debug(log.CatConfig, "Loaded config", "path", v.ConfigFileUsed())
	}

	return Decode(v)
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config file whenever it changes on disk and passes each
// valid result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			log.Warn(log.CatConfig, "Ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		log.Info(log.CatConfig, "Config reloaded", "path", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

// ApplyLogLevel sets the logger's minimum level from cfg.
func ApplyLogLevel(cfg LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return
	}
	log.SetMinLevel(level)
}
