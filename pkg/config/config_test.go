package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PatternScan/internal/domain/errs"
	pkgkafka "PatternScan/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "zscore", c.Preprocessing.Normalization)
	assert.Equal(t, "derivative", c.DTW.Variant)
	assert.Equal(t, "sakoe_chiba", c.DTW.Constraint)
	assert.Equal(t, 0.15, c.DTW.SakoeChibaWindow)
	assert.Equal(t, 5, c.KNN.K)
	assert.True(t, c.KNN.EarlyAbandon)
	assert.Equal(t, 0.7, c.Confidence.MinThreshold)
	assert.Equal(t, []float64{0.5, 0.6, 0.7, 0.8, 0.9}, c.Validation.Thresholds)
	assert.Equal(t, int64(42), c.Validation.Seed)
	assert.True(t, c.Validation.ExcludeAugmented)
	assert.Equal(t, 30*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, pkgkafka.DefaultWriterSettings(), c.Kafka.Producer)
	assert.True(t, c.Server.CORS.Enabled)
	assert.Equal(t, []string{"*"}, c.Server.CORS.AllowOrigins)
	assert.Equal(t, []string{"GET", "POST", "DELETE", "OPTIONS"}, c.Server.CORS.AllowMethods)
	assert.Equal(t, 10*time.Minute, c.Server.CORS.MaxAge)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
dtw:
  constraint: adtw
  amercing_penalty: 1.5
knn:
  k: 3
  on_stale_index: fail
validation:
  exclude_augmented: false
  thresholds: [0.6, 0.8]
scanner:
  timeout: 30s
  workers: 4
server:
  cors:
    allow_origins: ["https://*.charts.io"]
    allow_methods: [GET, POST]
`))
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, "adtw", c.DTW.Constraint)
	assert.Equal(t, 1.5, c.DTW.AmercingPenalty)
	assert.Equal(t, 3, c.KNN.K)
	assert.Equal(t, "fail", c.KNN.OnStaleIndex)
	assert.False(t, c.Validation.ExcludeAugmented)
	assert.Equal(t, []float64{0.6, 0.8}, c.Validation.Thresholds)
	assert.Equal(t, 30*time.Second, c.Scanner.Timeout)
	assert.Equal(t, 4, c.Scanner.Workers)
	assert.Equal(t, []string{"https://*.charts.io"}, c.Server.CORS.AllowOrigins)
	assert.Equal(t, []string{"GET", "POST"}, c.Server.CORS.AllowMethods)
	// untouched sections keep defaults
	assert.Equal(t, "derivative", c.DTW.Variant)
	assert.True(t, c.Server.CORS.Enabled)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"constraint": "dtw:\n  constraint: itakura\n",
		"window":     "dtw:\n  sakoe_chiba_window: 1.5\n",
		"k":          "knn:\n  k: 0\n",
		"weights":    "confidence:\n  weights:\n    closeness: 0.5\n",
		"threshold":  "validation:\n  thresholds: [0.5, 1.2]\n",
		"backend":    "library:\n  backend: redis\n",
		"kafka":      "kafka:\n  enabled: true\n",
		"cors":       "server:\n  cors:\n    allow_methods: [PUT]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("dtw: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrConfiguration)
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o644))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LIBRARY_PATH", "/var/lib/patternscan/library.json")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.Environment)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "/var/lib/patternscan/library.json", c.Library.Path)

	_, err = LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{"REDIS_ADDR": "redis:6379", "CLICKHOUSE_HOST": "ch", "PATTERNSCAN_ENV": "prod"}
	c.ApplyEnv(func(k string) string { return env[k] })
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.True(t, c.ClickHouse.Enabled)
	assert.Equal(t, "ch", c.ClickHouse.Host)
	assert.Equal(t, "prod", c.Environment)
}
