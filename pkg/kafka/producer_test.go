package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)
}

func TestDefaultProducerConfig(t *testing.T) {
	c := DefaultProducerConfig()
	assert.Equal(t, -1, c.RequiredAcks)
	assert.Equal(t, "gzip", c.Compression)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, time.Second, c.Linger)
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, 1048576, c.BatchBytes)
	assert.Equal(t, 10*time.Second, c.WriteTimeout)
	assert.False(t, c.Async)

	assert.Error(t, c.Validate())
	c.Brokers = []string{"localhost:9092"}
	assert.NoError(t, c.Validate())
}

func TestProducerConfigValidate(t *testing.T) {
	cases := map[string]func(*ProducerConfig){
		"acks":        func(c *ProducerConfig) { c.RequiredAcks = 2 },
		"compression": func(c *ProducerConfig) { c.Compression = "brotli" },
		"attempts":    func(c *ProducerConfig) { c.MaxAttempts = 0 },
		"batch":       func(c *ProducerConfig) { c.BatchSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultProducerConfig()
			c.Brokers = []string{"localhost:9092"}
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewProducerAppliesSettings(t *testing.T) {
	s := DefaultWriterSettings()
	s.BatchSize = 25
	s.Linger = 200 * time.Millisecond
	s.MaxAttempts = 5
	s.Async = true

	p, err := NewProducer(
		WithBrokers([]string{"localhost:9092"}),
		WithCompression("zstd"),
		WithRequiredAcks(1),
		WithSettings(s),
		WithHashByKey(true),
	)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 25, p.writer.BatchSize)
	assert.Equal(t, 200*time.Millisecond, p.writer.BatchTimeout)
	assert.Equal(t, 5, p.writer.MaxAttempts)
	assert.True(t, p.writer.Async)
	assert.Equal(t, kafka.RequireOne, p.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, "zstd", p.comp)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	b, err := encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(b))

	b, err = encode(map[string]int{"k": 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":5}`, string(b))

	_, err = encode(func() {})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression("unknown"))
}
