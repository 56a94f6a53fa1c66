// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (database paths, encoding, scoring, search, build, record source,
// Kafka, Redis, cache, logging and metrics).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Encoding EncodingConfig `yaml:"encoding"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Search   SearchConfig   `yaml:"search"`
	Build    BuildConfig    `yaml:"build"`
	Source   SourceConfig   `yaml:"source"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit caps requests per client IP per minute; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
}

// DatabaseConfig locates the raw input list and the formatted store/index.
// When StorePath or IndexPath is empty they are derived from Input the way
// the formatter names them: <dir>/<base>.fmt and <dir>/<base>.idx.
type DatabaseConfig struct {
	Input     string `yaml:"input"`
	StorePath string `yaml:"storePath"`
	IndexPath string `yaml:"indexPath"`
}

// Paths returns the store and index paths for this database.
func (d DatabaseConfig) Paths() (store string, index string) {
	store, index = d.StorePath, d.IndexPath
	if d.Input == "" {
		return store, index
	}
	derivedStore, derivedIndex := DerivePaths(d.Input)
	if store == "" {
		store = derivedStore
	}
	if index == "" {
		index = derivedIndex
	}
	return store, index
}

// DerivePaths names the formatted store and index after the input file,
// dropping everything after the first dot of its base name.
func DerivePaths(input string) (store string, index string) {
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return filepath.Join(dir, base+".fmt"), filepath.Join(dir, base+".idx")
}

// EncodingConfig selects the notation of the raw structures.
type EncodingConfig struct {
	Notation string `yaml:"notation"`
}

// ScoringConfig holds the local-alignment parameters. MatrixFile, when set,
// points at a YAML substitution table; otherwise BLOSUM62 is used.
type ScoringConfig struct {
	MatrixFile string  `yaml:"matrixFile"`
	GapPenalty float64 `yaml:"gapPenalty"`
}

// SearchConfig controls query execution limits and parallelism.
type SearchConfig struct {
	DefaultTopK int           `yaml:"defaultTopK"`
	MaxTopK     int           `yaml:"maxTopK"`
	Workers     int           `yaml:"workers"`
	ChunkSize   int           `yaml:"chunkSize"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BuildConfig controls database formatting.
type BuildConfig struct {
	Workers     int           `yaml:"workers"`
	BatchSize   int           `yaml:"batchSize"`
	Limit       int           `yaml:"limit"`
	LockTimeout time.Duration `yaml:"lockTimeout"`
}

// SourceConfig selects a relational record source instead of a file.
type SourceConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Query           string        `yaml:"query"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing and consumption.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DatabaseRebuilt string `yaml:"databaseRebuilt"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// CacheConfig controls the search result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that no component can run with.
func (c *Config) Validate() error {
	switch c.Encoding.Notation {
	case "smiles", "symbols":
	default:
		return fmt.Errorf("encoding.notation must be smiles or symbols, got %q", c.Encoding.Notation)
	}
	if c.Scoring.GapPenalty > 0 {
		return fmt.Errorf("scoring.gapPenalty must be <= 0, got %g", c.Scoring.GapPenalty)
	}
	if c.Search.DefaultTopK < 1 {
		return fmt.Errorf("search.defaultTopK must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.maxTopK (%d) is below search.defaultTopK (%d)", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	switch c.Cache.Backend {
	case "lru", "redis":
	default:
		return fmt.Errorf("cache.backend must be lru or redis, got %q", c.Cache.Backend)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local use.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Encoding: EncodingConfig{
			Notation: "smiles",
		},
		Scoring: ScoringConfig{
			GapPenalty: -4,
		},
		Search: SearchConfig{
			DefaultTopK: 10,
			MaxTopK:     1000,
			Workers:     runtime.NumCPU(),
			ChunkSize:   256,
			Timeout:     30 * time.Second,
		},
		Build: BuildConfig{
			Workers:     runtime.NumCPU(),
			BatchSize:   512,
			Limit:       -1,
			LockTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			Query:           "SELECT id, smiles FROM molecules ORDER BY id",
			MaxOpenConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "chemblast-searchers",
			Topics: KafkaTopics{
				DatabaseRebuilt: "chemblast.database-rebuilt",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "lru",
			Size:    1000,
			TTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CB_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CB_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("CB_DATABASE_INPUT"); v != "" {
		cfg.Database.Input = v
	}
	if v := os.Getenv("CB_DATABASE_STORE_PATH"); v != "" {
		cfg.Database.StorePath = v
	}
	if v := os.Getenv("CB_DATABASE_INDEX_PATH"); v != "" {
		cfg.Database.IndexPath = v
	}
	if v := os.Getenv("CB_ENCODING_NOTATION"); v != "" {
		cfg.Encoding.Notation = v
	}
	if v := os.Getenv("CB_SCORING_MATRIX_FILE"); v != "" {
		cfg.Scoring.MatrixFile = v
	}
	if v := os.Getenv("CB_SCORING_GAP_PENALTY"); v != "" {
		if gap, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.GapPenalty = gap
		}
	}
	if v := os.Getenv("CB_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.Workers = n
		}
	}
	if v := os.Getenv("CB_BUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.Workers = n
		}
	}
	if v := os.Getenv("CB_SOURCE_DRIVER"); v != "" {
		cfg.Source.Driver = v
	}
	if v := os.Getenv("CB_SOURCE_DSN"); v != "" {
		cfg.Source.DSN = v
	}
	if v := os.Getenv("CB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CB_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CB_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
