// Package config loads the indexer document from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"logscope/internal/store"
)

// ErrConfigInvalid marks configuration that cannot produce a runnable unit.
var ErrConfigInvalid = errors.New("invalid config")

const (
	defaultBatchSize     = uint64(2000)
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultShutdownGrace = 10 * time.Second
)

// Config is the whole document.
type Config struct {
	Name       string           `mapstructure:"name"`
	LogLevel   string           `mapstructure:"log-level"`
	Server     ServerConfig     `mapstructure:"server"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Indexers   []IndexerConfig  `mapstructure:"indexer"`
}

// ServerConfig configures the query server. An empty ServerURL disables it.
type ServerConfig struct {
	ServerURL             string `mapstructure:"server-url"`
	StoreConnectionTarget string `mapstructure:"store-connection-target"`
}

type SupervisorConfig struct {
	FailFast      bool          `mapstructure:"fail-fast"`
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`
}

// IndexerConfig is one indexing unit as written in the document.
type IndexerConfig struct {
	StreamName            string        `mapstructure:"stream-name"`
	ChainKind             string        `mapstructure:"chain-kind"`
	RPCEndpoint           string        `mapstructure:"rpc-endpoint"`
	ContractAddress       string        `mapstructure:"contract-address"`
	EventSignature        string        `mapstructure:"event-signature"`
	StartBlock            uint64        `mapstructure:"start-block"`
	StoreConnectionTarget string        `mapstructure:"store-connection-target"`
	BatchSize             uint64        `mapstructure:"batch-size"`
	MaxRetries            int           `mapstructure:"max-retries"`
	RetryBackoff          time.Duration `mapstructure:"retry-backoff"`
	RPCRateLimit          float64       `mapstructure:"rpc-rate-limit"`
	ABI                   *ABIConfig    `mapstructure:"abi"`
}

// ABIConfig declares the event layout used for decoding.
type ABIConfig struct {
	Indexed []FieldConfig `mapstructure:"indexed"`
	Body    []FieldConfig `mapstructure:"body"`
}

type FieldConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

// Load merges config file, environment variables, and flags into Config and
// validates the result.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode document: %v", ErrConfigInvalid, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "logscope")
	v.SetDefault("log-level", "info")
	v.SetDefault("server.server-url", "")
	v.SetDefault("server.store-connection-target", "")
	v.SetDefault("supervisor.fail-fast", false)
	v.SetDefault("supervisor.shutdown-grace", defaultShutdownGrace)

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log-level", f); err != nil {
				return nil, fmt.Errorf("bind flags: %w", err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func (c *Config) applyDefaults() {
	if c.Supervisor.ShutdownGrace == 0 {
		c.Supervisor.ShutdownGrace = defaultShutdownGrace
	}
	for i := range c.Indexers {
		idx := &c.Indexers[i]
		if idx.BatchSize == 0 {
			idx.BatchSize = defaultBatchSize
		}
		if idx.RetryBackoff == 0 {
			idx.RetryBackoff = defaultRetryBackoff
		}
		idx.StreamName = strings.TrimSpace(idx.StreamName)
	}
}

// Validate checks the whole document. Every failure wraps ErrConfigInvalid.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level %q: %v", c.LogLevel, err)
	}
	if c.Supervisor.ShutdownGrace < 0 {
		return invalid("supervisor.shutdown-grace must not be negative")
	}
	if len(c.Indexers) == 0 && c.Server.ServerURL == "" {
		return invalid("nothing to run: no indexer units and no server")
	}
	if c.Server.ServerURL != "" {
		if err := checkTarget(c.Server.StoreConnectionTarget); err != nil {
			return invalid("server.store-connection-target: %v", err)
		}
	}

	seen := make(map[string]struct{}, len(c.Indexers))
	for i, idx := range c.Indexers {
		if _, err := idx.Resolve(); err != nil {
			return fmt.Errorf("indexer[%d]: %w", i, err)
		}
		if _, dup := seen[idx.StreamName]; dup {
			return invalid("indexer[%d]: duplicate stream-name %q", i, idx.StreamName)
		}
		seen[idx.StreamName] = struct{}{}
	}
	return nil
}

// Indexer returns the unit config for stream.
func (c Config) Indexer(stream string) (IndexerConfig, bool) {
	for _, idx := range c.Indexers {
		if idx.StreamName == stream {
			return idx, true
		}
	}
	return IndexerConfig{}, false
}

func checkTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("store connection target is required")
	}
	_, err := store.Scheme(target)
	return err
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}
