package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "STAKING"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// Clock sources.
const (
	ClockSystem = "system"
	ClockChain  = "chain"
	ClockNTP    = "ntp"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Backend        string
	DataDir        string
	PGDSN          string
	Journal        string
	Clock          string
	At             string
	RPCURL         string
	NTPServer      string
	MaxRetries     int
	RetryBackoff   time.Duration
	AllowClose     bool
	ForfeitOnStake bool
	Decimals       int
	MetricsFile    string
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("backend", BackendLevelDB)
	v.SetDefault("data-dir", "./data/ledger")
	v.SetDefault("journal", "./data/journal.jsonl")
	v.SetDefault("clock", ClockSystem)
	v.SetDefault("ntp-server", "pool.ntp.org")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("allow-close", true)
	v.SetDefault("forfeit-on-stake", false)
	v.SetDefault("decimals", -1)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Backend:        strings.ToLower(v.GetString("backend")),
		DataDir:        v.GetString("data-dir"),
		PGDSN:          v.GetString("pg-dsn"),
		Journal:        v.GetString("journal"),
		Clock:          strings.ToLower(v.GetString("clock")),
		At:             v.GetString("at"),
		RPCURL:         v.GetString("rpc"),
		NTPServer:      v.GetString("ntp-server"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		AllowClose:     v.GetBool("allow-close"),
		ForfeitOnStake: v.GetBool("forfeit-on-stake"),
		Decimals:       v.GetInt("decimals"),
		MetricsFile:    v.GetString("metrics-file"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, cfg.Validate()
}

// Validate checks that the selected backend and clock have what they need.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if c.DataDir == "" {
			return fmt.Errorf("data-dir is required for the leveldb backend")
		}
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Clock {
	case ClockSystem, ClockNTP:
	case ClockChain:
		if c.RPCURL == "" {
			return fmt.Errorf("rpc url is required for the chain clock")
		}
	default:
		return fmt.Errorf("unknown clock %q", c.Clock)
	}

	if c.Decimals > 255 {
		return fmt.Errorf("decimals must be at most 255")
	}
	return nil
}

func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
