package kafka

import (
	"fmt"
	"slices"
	"time"

	"github.com/creasty/defaults"
)

// WriterSettings are the batching and delivery knobs of a producer. The
// service config embeds them under kafka.producer, so the tag defaults here
// are the service defaults as well.
type WriterSettings struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	Linger       time.Duration `yaml:"linger" default:"1s" validate:"gte=0"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576" validate:"gte=1"`
	BatchSize    int           `yaml:"batch_size" default:"100" validate:"gte=1"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s" validate:"gte=0"`
	Async        bool          `yaml:"async"`
}

// DefaultWriterSettings returns the tag defaults.
func DefaultWriterSettings() WriterSettings {
	var s WriterSettings
	if err := defaults.Set(&s); err != nil {
		panic(fmt.Sprintf("kafka: writer defaults: %v", err))
	}
	return s
}

var compressions = []string{"gzip", "snappy", "lz4", "zstd"}

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig is everything NewProducer needs to build its writer.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	HashByKey    bool
	WriterSettings
}

// DefaultProducerConfig waits for all replicas and gzips batches.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		RequiredAcks:   -1,
		Compression:    "gzip",
		WriterSettings: DefaultWriterSettings(),
	}
}

// Validate reports the first setting the writer cannot run with.
func (c ProducerConfig) Validate() error {
	switch {
	case len(c.Brokers) == 0:
		return fmt.Errorf("brokers are required")
	case c.RequiredAcks < -1 || c.RequiredAcks > 1:
		return fmt.Errorf("required_acks must be -1, 0 or 1, got %d", c.RequiredAcks)
	case !slices.Contains(compressions, c.Compression):
		return fmt.Errorf("unknown compression %q", c.Compression)
	case c.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	case c.BatchSize < 1 || c.BatchBytes < 1:
		return fmt.Errorf("batch_size and batch_bytes must be positive")
	}
	return nil
}

// WithBrokers sets Kafka brokers.
func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Brokers = brokers
	}
}

// WithCompression sets compression type.
func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Compression = compression
	}
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
	}
}

// WithSettings replaces the batching and delivery settings wholesale.
func WithSettings(s WriterSettings) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriterSettings = s
	}
}

// WithHashByKey routes messages by key so one symbol stays on one partition.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) {
		c.HashByKey = hash
	}
}
