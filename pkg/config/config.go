package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"FinFeat/internal/services/features"
)

const (
	StorageCSV        = "csv"
	StorageSQLite     = "sqlite"
	StorageClickHouse = "clickhouse"
	SinkXLSX          = "xlsx"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Logging     struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout" validate:"required"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"finfeat.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"20" validate:"gt=0"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5" validate:"gt=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Symbols   []string `yaml:"symbols" default:"[\"SPY\",\"QQQ\",\"AAPL\",\"MSFT\",\"TSLA\"]" validate:"min=1,dive,required,max=16"`
	DateRange struct {
		Start string `yaml:"start" default:"2024-01-01" validate:"datetime=2006-01-02"`
		End   string `yaml:"end" default:"2025-02-09" validate:"datetime=2006-01-02"`
	} `yaml:"date_range"`

	Pipeline features.Config `yaml:"pipeline"`

	Storage struct {
		Bars       string   `yaml:"bars" default:"csv" validate:"oneof=csv sqlite clickhouse"`
		DataDir    string   `yaml:"data_dir" default:"data"`
		SQLitePath string   `yaml:"sqlite_path" default:"data/finfeat.db"`
		Sinks      []string `yaml:"sinks" default:"[\"csv\"]" validate:"unique,dive,oneof=csv xlsx clickhouse"`
		OutputDir  string   `yaml:"output_dir" default:"data/features"`
	} `yaml:"storage"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finfeat"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		Compress         bool          `yaml:"compress" default:"true"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Host       string        `yaml:"host" default:"localhost"`
		Port       int           `yaml:"port" default:"6379"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		PoolSize   int           `yaml:"pool_size" default:"10" validate:"gte=1"`
		Prefix     string        `yaml:"prefix" default:"finfeat"`
		CacheTTL   time.Duration `yaml:"cache_ttl" default:"1h"`
		MemorySize int           `yaml:"memory_size" default:"256" validate:"gte=1"`
		MemoryTTL  time.Duration `yaml:"memory_ttl" default:"1m"`
	} `yaml:"redis"`

	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		MaxDelay   time.Duration `yaml:"max_delay" default:"5m"`
	} `yaml:"queue"`

	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		FeaturesTopic string   `yaml:"features_topic" default:"finfeat.features"`
		BuildTopic    string   `yaml:"build_topic" default:"finfeat.build_requests"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
		Compression   string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"finfeat-builder"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"finfeat.build_requests.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
			Debounce   time.Duration `yaml:"debounce" default:"30s"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Finnhub struct {
		APIKey            string        `yaml:"api_key"`
		BaseURL           string        `yaml:"base_url" default:"https://finnhub.io/api/v1" validate:"url"`
		RequestsPerSecond float64       `yaml:"requests_per_second" default:"1" validate:"gt=0"`
		Burst             float64       `yaml:"burst" default:"5" validate:"gte=1"`
		Timeout           time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"finnhub"`

	Batch struct {
		Workers int `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	} `yaml:"batch"`
}

// envOverrides are applied after the file. FINFEAT_-prefixed names win; the
// unprefixed names are accepted as fallbacks.
type envOverrides struct {
	Environment   string   `envconfig:"ENVIRONMENT"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	Symbols       []string `envconfig:"SYMBOLS"`
	FinnhubAPIKey string   `envconfig:"FINNHUB_API_KEY"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD"`
	CHPassword    string   `envconfig:"CLICKHOUSE_PASSWORD"`
	Bars          string   `envconfig:"STORAGE_BARS"`
	DataDir       string   `envconfig:"DATA_DIR"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates.
// An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process("FINFEAT", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	c.applyEnv(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.Environment != "" {
		c.Environment = env.Environment
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if len(env.Symbols) > 0 {
		c.Symbols = env.Symbols
	}
	if env.FinnhubAPIKey != "" {
		c.Finnhub.APIKey = env.FinnhubAPIKey
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.CHPassword != "" {
		c.ClickHouse.Password = env.CHPassword
	}
	if env.Bars != "" {
		c.Storage.Bars = env.Bars
	}
	if env.DataDir != "" {
		c.Storage.DataDir = env.DataDir
	}
}

// Validate checks field rules and the cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, _, err := c.Range(); err != nil {
		return err
	}
	if c.UsesClickHouse() && c.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse.database is required when clickhouse storage is used")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis.enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.consumer requires kafka.enabled")
	}
	return nil
}

// Range returns the configured [start, end) session range.
func (c *Config) Range() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", c.DateRange.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.start: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.DateRange.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.end: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.start %s must be before end %s", c.DateRange.Start, c.DateRange.End)
	}
	return start, end, nil
}

// UsesClickHouse reports whether any configured component needs ClickHouse.
func (c *Config) UsesClickHouse() bool {
	if c.Storage.Bars == StorageClickHouse {
		return true
	}
	return c.HasSink(StorageClickHouse)
}

func (c *Config) HasSink(name string) bool {
	for _, s := range c.Storage.Sinks {
		if s == name {
			return true
		}
	}
	return false
}
