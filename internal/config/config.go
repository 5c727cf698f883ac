// Package config loads and validates the gate's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Limiter LimiterConfig `mapstructure:"limiter"`
	Store   StoreConfig   `mapstructure:"store"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
	Logging LoggingConfig `mapstructure:"logging"`
	Debug   bool          `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// LimiterConfig selects the decision algorithm and its parameters.
type LimiterConfig struct {
	// Algorithm is one of: token_bucket, leaky_bucket, fixed_window,
	// sliding_window_log, sliding_window_counter.
	Algorithm string `mapstructure:"algorithm"`

	// Capacity is the token budget per caller.
	Capacity int64 `mapstructure:"capacity"`

	// RefillRate is tokens per second (bucket algorithms).
	RefillRate int64 `mapstructure:"refill_rate"`

	// WindowMs is the window size in milliseconds (window algorithms).
	WindowMs int64 `mapstructure:"window_ms"`

	// TTLMs overrides how long idle caller records live in the backend.
	TTLMs int64 `mapstructure:"ttl_ms"`

	// Dark observes and logs deny verdicts without enforcing them.
	Dark bool `mapstructure:"dark"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	// Backend is one of: memory, postgres, redis.
	Backend string `mapstructure:"backend"`

	// RedisURL is required for the redis backend,
	// e.g. redis://localhost:6379/0.
	RedisURL string `mapstructure:"redis_url"`

	// PostgresURL is required for the postgres backend.
	PostgresURL string `mapstructure:"postgres_url"`
}

// GraphQLConfig contains schema and analysis settings.
type GraphQLConfig struct {
	// SchemaFile is the path to the SDL schema the weight table is built
	// from.
	SchemaFile string `mapstructure:"schema_file"`

	// DepthLimit rejects operations nested deeper than this. Zero
	// disables the check.
	DepthLimit int `mapstructure:"depth_limit"`

	// EnforceBoundedLists rejects list fields with no size-bounding
	// argument.
	EnforceBoundedLists bool `mapstructure:"enforce_bounded_lists"`

	// Type weights applied during table construction.
	MutationWeight   int64 `mapstructure:"mutation_weight"`
	ObjectWeight     int64 `mapstructure:"object_weight"`
	ScalarWeight     int64 `mapstructure:"scalar_weight"`
	ConnectionWeight int64 `mapstructure:"connection_weight"`

	// PaginationArgs extends the recognized list-bounding argument names
	// (first, last, limit).
	PaginationArgs []string `mapstructure:"pagination_args"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var validAlgorithms = map[string]bool{
	"token_bucket":           true,
	"leaky_bucket":           true,
	"fixed_window":           true,
	"sliding_window_log":     true,
	"sliding_window_counter": true,
}

var bucketAlgorithms = map[string]bool{
	"token_bucket": true,
	"leaky_bucket": true,
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got: %d", c.Server.Port)
	}

	if !validAlgorithms[c.Limiter.Algorithm] {
		return fmt.Errorf("unknown limiter algorithm: %q", c.Limiter.Algorithm)
	}
	if c.Limiter.Capacity <= 0 {
		return fmt.Errorf("limiter capacity must be positive, got: %d", c.Limiter.Capacity)
	}
	if bucketAlgorithms[c.Limiter.Algorithm] {
		if c.Limiter.RefillRate <= 0 {
			return fmt.Errorf("limiter refill_rate must be positive for %s, got: %d", c.Limiter.Algorithm, c.Limiter.RefillRate)
		}
	} else if c.Limiter.WindowMs <= 0 {
		return fmt.Errorf("limiter window_ms must be positive for %s, got: %d", c.Limiter.Algorithm, c.Limiter.WindowMs)
	}

	switch c.Store.Backend {
	case "memory", "":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.GraphQL.SchemaFile == "" {
		return fmt.Errorf("graphql schema_file is required")
	}
	if c.GraphQL.DepthLimit < 0 {
		return fmt.Errorf("graphql depth_limit cannot be negative, got: %d", c.GraphQL.DepthLimit)
	}

	return nil
}

// Load reads configuration from an optional YAML file, environment
// variables with the GRAPHQLGATE prefix, and built-in defaults.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("No .env file found - using environment variables and defaults")
	}

	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRAPHQLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./graphqlgate.yaml",
		"./graphqlgate.yml",
		"./config/graphqlgate.yaml",
		"./config/graphqlgate.yml",
		"/etc/graphqlgate/graphqlgate.yaml",
		"/etc/graphqlgate/graphqlgate.yml",
	}

	var configLoaded bool
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", configPath).Msg("Config file found but could not be parsed, using environment variables and defaults")
			} else {
				log.Info().Str("file", configPath).Msg("Config file loaded")
				configLoaded = true
			}
			break
		}
	}

	if !configLoaded {
		log.Info().Msg("No config file found, using environment variables and defaults")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from a .env file.
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 4000)
	viper.SetDefault("server.metrics_path", "/metrics")

	viper.SetDefault("limiter.algorithm", "token_bucket")
	viper.SetDefault("limiter.capacity", 100)
	viper.SetDefault("limiter.refill_rate", 10)
	viper.SetDefault("limiter.window_ms", 60000)
	viper.SetDefault("limiter.dark", false)

	viper.SetDefault("store.backend", "memory")

	viper.SetDefault("graphql.schema_file", "./schema.graphql")
	viper.SetDefault("graphql.depth_limit", 0)
	viper.SetDefault("graphql.enforce_bounded_lists", false)
	viper.SetDefault("graphql.mutation_weight", 10)
	viper.SetDefault("graphql.object_weight", 1)
	viper.SetDefault("graphql.scalar_weight", 0)
	viper.SetDefault("graphql.connection_weight", 2)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)
}
