package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"PatternScan/internal/domain/errs"
	pkgkafka "PatternScan/pkg/kafka"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		// CORS governs browser access from other origins.
		CORS struct {
			Enabled      bool          `yaml:"enabled" default:"true"`
			AllowOrigins []string      `yaml:"allow_origins" default:"[\"*\"]" validate:"dive,required"`
			AllowMethods []string      `yaml:"allow_methods" default:"[\"GET\",\"POST\",\"DELETE\",\"OPTIONS\"]" validate:"dive,oneof=GET POST DELETE OPTIONS HEAD"`
			AllowHeaders []string      `yaml:"allow_headers" default:"[\"Origin\",\"Content-Type\",\"Accept\",\"Authorization\"]"`
			MaxAge       time.Duration `yaml:"max_age" default:"10m"`
		} `yaml:"cors"`
		SlowRequest time.Duration `yaml:"slow_request" default:"2s"`
		// RateLimit throttles the scan and validation endpoints per client.
		RateLimit struct {
			Enabled      bool    `yaml:"enabled" default:"true"`
			Burst        float64 `yaml:"burst" default:"10" validate:"gte=1"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"2" validate:"gt=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logger struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout" validate:"oneof=stdout stderr"`
		TimeFormat string `yaml:"time_format"`
		Digest     struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"1m"`
			MaxUnique int           `yaml:"max_unique" default:"200" validate:"gte=1"`
			Topic     string        `yaml:"topic" default:"patternscan.log-digest"`
		} `yaml:"digest"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Library struct {
		Backend     string `yaml:"backend" default:"file" validate:"oneof=file redis memory"`
		Path        string `yaml:"path" default:"data/library.json"`
		Key         string `yaml:"key" default:"library:default"`
		LoadOnStart bool   `yaml:"load_on_start" default:"true"`
	} `yaml:"library"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		Prefix   string `yaml:"prefix" default:"patternscan"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool                    `yaml:"enabled"`
		Brokers      []string                `yaml:"brokers"`
		Topic        string                  `yaml:"topic" default:"patternscan.detections"`
		RequiredAcks int                     `yaml:"required_acks" default:"-1"`
		Compression  string                  `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     pkgkafka.WriterSettings `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"patternscan"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		InitSchema       bool          `yaml:"init_schema" default:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		StatusTTL  time.Duration `yaml:"status_ttl" default:"24h"`
	} `yaml:"queue"`

	Preprocessing struct {
		Normalization string `yaml:"normalization" default:"zscore" validate:"oneof=zscore minmax"`
		Source        string `yaml:"source" default:"close" validate:"oneof=close hlc3 ohlc4"`
	} `yaml:"preprocessing"`
	DTW struct {
		Variant          string  `yaml:"variant" default:"derivative" validate:"oneof=derivative standard"`
		Constraint       string  `yaml:"constraint" default:"sakoe_chiba" validate:"oneof=sakoe_chiba adtw none"`
		SakoeChibaWindow float64 `yaml:"sakoe_chiba_window" default:"0.15" validate:"gte=0,lte=1"`
		AmercingPenalty  float64 `yaml:"amercing_penalty" default:"0.5" validate:"gte=0"`
	} `yaml:"dtw"`
	KNN struct {
		K            int    `yaml:"k" default:"5" validate:"gte=1"`
		OnStaleIndex string `yaml:"on_stale_index" default:"rebuild" validate:"oneof=rebuild fail"`
		EarlyAbandon bool   `yaml:"early_abandon" default:"true"`
	} `yaml:"knn"`
	Confidence struct {
		Weights struct {
			Closeness  float64 `yaml:"closeness" default:"0.35" validate:"gte=0"`
			Consensus  float64 `yaml:"consensus" default:"0.30" validate:"gte=0"`
			Separation float64 `yaml:"separation" default:"0.20" validate:"gte=0"`
			Quality    float64 `yaml:"quality" default:"0.15" validate:"gte=0"`
		} `yaml:"weights"`
		MinThreshold float64 `yaml:"min_threshold" default:"0.7" validate:"gte=0,lte=1"`
	} `yaml:"confidence"`
	Scanner struct {
		Step       int           `yaml:"step" default:"1" validate:"gte=1"`
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		MaxWindows int           `yaml:"max_windows" validate:"gte=0"`
		Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
		Dedupe     string        `yaml:"dedupe" default:"none" validate:"oneof=none nms"`
		MaxOverlap float64       `yaml:"max_overlap" default:"0.5" validate:"gte=0,lte=1"`
	} `yaml:"scanner"`
	Validation struct {
		Folds            int       `yaml:"folds" validate:"gte=0"`
		Seed             int64     `yaml:"seed" default:"42"`
		ExcludeAugmented bool      `yaml:"exclude_augmented" default:"true"`
		Thresholds       []float64 `yaml:"thresholds" default:"[0.5,0.6,0.7,0.8,0.9]" validate:"dive,gte=0,lte=1"`
		Objective        string    `yaml:"objective" default:"f1" validate:"oneof=f1 precision recall accuracy"`
	} `yaml:"validation"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides deployment settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PATTERNSCAN_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("LIBRARY_PATH"); v != "" {
		c.Library.Path = v
	}
}

// Validate checks if the configuration is valid. Every failure wraps
// errs.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return errs.Configurationf("config.validate", "%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()).
				WithParam("field", fe.Namespace()).
				WithParam("value", fe.Value())
		}
		return errs.Configuration("config.validate", err.Error())
	}
	w := c.Confidence.Weights
	if sum := w.Closeness + w.Consensus + w.Separation + w.Quality; math.Abs(sum-1) > 1e-6 {
		return errs.Configurationf("config.validate", "confidence weights must sum to 1, got %g", sum).
			WithParam("sum", sum)
	}
	if c.Library.Backend == "redis" && !c.Redis.Enabled {
		return errs.Configuration("config.validate", "library.backend redis requires redis.enabled")
	}
	if c.Library.Backend == "file" && c.Library.Path == "" {
		return errs.Configuration("config.validate", "library.path is required for the file backend")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errs.Configuration("config.validate", "kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return errs.Configuration("config.validate", "clickhouse.host is required when clickhouse is enabled")
	}
	if c.Logger.Digest.Enabled && !c.Kafka.Enabled {
		return errs.Configuration("config.validate", "logger.digest requires kafka.enabled")
	}
	return nil
}
