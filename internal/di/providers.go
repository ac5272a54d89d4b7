package di

import (
	"context"
	"fmt"
	"time"

	"PatternScan/internal/domain/repository"
	"PatternScan/internal/handler/api"
	internalrepo "PatternScan/internal/repository"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/dtw"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	"PatternScan/internal/services/preprocess"
	"PatternScan/internal/services/scanner"
	"PatternScan/internal/services/validation"
	"PatternScan/internal/usecase"
	"PatternScan/pkg/cache"
	pkgch "PatternScan/pkg/clickhouse"
	"PatternScan/pkg/config"
	pkgkafka "PatternScan/pkg/kafka"
	applogger "PatternScan/pkg/logger"
	"PatternScan/pkg/metrics"
	"PatternScan/pkg/queue"
	"PatternScan/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when
// metrics are disabled.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return repository.NopMetrics{}
	}
	return metrics.New()
}

func ProvidePreprocessor(cfg *config.Config) *preprocess.Preprocessor {
	return preprocess.New(
		preprocess.WithNormalization(preprocess.Normalization(cfg.Preprocessing.Normalization)),
		preprocess.WithSource(preprocess.Source(cfg.Preprocessing.Source)),
	)
}

func ProvideLibrary(pre *preprocess.Preprocessor, l *applogger.Logger) *library.Library {
	return library.New(pre, library.WithLogger(l))
}

// ProvideMatcher maps the dtw and knn sections onto matcher options.
func ProvideMatcher(cfg *config.Config, lib *library.Library, rec repository.Metrics, l *applogger.Logger) (*matcher.Matcher, error) {
	m, err := matcher.New(lib,
		matcher.WithOptions(matcher.Options{
			K: cfg.KNN.K,
			DTW: dtw.Options{
				Variant:    dtw.Variant(cfg.DTW.Variant),
				Constraint: dtw.Constraint(cfg.DTW.Constraint),
				Window:     cfg.DTW.SakoeChibaWindow,
				Penalty:    cfg.DTW.AmercingPenalty,
			},
			OnStaleIndex: matcher.StalePolicy(cfg.KNN.OnStaleIndex),
			EarlyAbandon: cfg.KNN.EarlyAbandon,
		}),
		matcher.WithLogger(l),
		matcher.WithMetrics(rec),
	)
	if err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}
	return m, nil
}

func ProvideScorer(cfg *config.Config) (*confidence.Scorer, error) {
	w := cfg.Confidence.Weights
	s, err := confidence.NewScorer(confidence.Weights{
		Closeness:  w.Closeness,
		Consensus:  w.Consensus,
		Separation: w.Separation,
		Quality:    w.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	return s, nil
}

func ProvideScanner(m *matcher.Matcher, s *confidence.Scorer, rec repository.Metrics, l *applogger.Logger) *scanner.Scanner {
	return scanner.New(m, s, scanner.WithLogger(l), scanner.WithMetrics(rec))
}

func ProvideValidator(cfg *config.Config, lib *library.Library, m *matcher.Matcher, s *confidence.Scorer, l *applogger.Logger) *validation.Validator {
	return validation.New(lib, m, s,
		validation.WithOptions(validation.Options{
			Folds:            cfg.Validation.Folds,
			Seed:             cfg.Validation.Seed,
			ExcludeAugmented: cfg.Validation.ExcludeAugmented,
		}),
		validation.WithLogger(l),
	)
}

// ProvideRedisCache connects to Redis when enabled. It returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideLibraryStore selects the persistence backend of the library.
func ProvideLibraryStore(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) (repository.LibraryStore, error) {
	switch cfg.Library.Backend {
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("library store: redis backend without a redis connection")
		}
		s := internalrepo.NewCacheLibraryStore(rc, cfg.Library.Key)
		s.SetLogger(l)
		return s, nil
	case "memory":
		s := internalrepo.NewCacheLibraryStore(cache.NewMemoryCache(), cfg.Library.Key)
		s.SetLogger(l)
		return s, nil
	default:
		s := internalrepo.NewFileLibraryStore(cfg.Library.Path)
		s.SetLogger(l)
		return s, nil
	}
}

// ProvideClickHouseClient connects to ClickHouse and creates the bars table
// when enabled. It returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.BarsSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideSeriesStore returns nil without ClickHouse.
func ProvideSeriesStore(ch *pkgch.Client, l *applogger.Logger) *internalrepo.CHSeriesStore {
	if ch == nil {
		return nil
	}
	s := internalrepo.NewCHSeriesStore(ch)
	s.SetLogger(l)
	return s
}

// ProvideKafkaProducer creates a Kafka producer when enabled. It returns nil
// otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithSettings(cfg.Kafka.Producer),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDetectionPublisher publishes detections to Kafka, or drops them
// when Kafka is disabled.
func ProvideDetectionPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) repository.DetectionPublisher {
	if producer == nil {
		return internalrepo.NopDetectionPublisher{}
	}
	p := internalrepo.NewKafkaDetectionPublisher(producer, cfg.Kafka.Topic)
	p.SetLogger(l)
	return p
}

// ProvidePatternEngine assembles the engine. Nil adapters stay nil
// interfaces so the engine reports them as unconfigured.
func ProvidePatternEngine(
	cfg *config.Config,
	lib *library.Library,
	m *matcher.Matcher,
	s *confidence.Scorer,
	sc *scanner.Scanner,
	v *validation.Validator,
	store repository.LibraryStore,
	series *internalrepo.CHSeriesStore,
	pub repository.DetectionPublisher,
	rec repository.Metrics,
	l *applogger.Logger,
) *usecase.PatternEngine {
	deps := usecase.EngineDeps{
		Library:   lib,
		Matcher:   m,
		Scorer:    s,
		Scanner:   sc,
		Validator: v,
		Store:     store,
		Publisher: pub,
		Metrics:   rec,
		Logger:    l,
	}
	if series != nil {
		deps.Series = series
		deps.Writer = series
	}
	thresholds := cfg.Validation.Thresholds
	return usecase.NewPatternEngine(deps, usecase.EngineDefaults{
		MinConfidence: cfg.Confidence.MinThreshold,
		Scan: scanner.Params{
			Step:       cfg.Scanner.Step,
			Workers:    cfg.Scanner.Workers,
			MaxWindows: cfg.Scanner.MaxWindows,
			Timeout:    cfg.Scanner.Timeout,
			Dedupe:     scanner.Dedupe(cfg.Scanner.Dedupe),
			MaxOverlap: cfg.Scanner.MaxOverlap,
		},
		Thresholds: thresholds,
		Objective:  validation.Objective(cfg.Validation.Objective),
	})
}

// ProvideScanQueue creates the Redis job queue with the scan job
// registered. It returns nil without Redis.
func ProvideScanQueue(cfg *config.Config, rc *cache.RedisCache, engine *usecase.PatternEngine, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		StatusTTL:  cfg.Queue.StatusTTL,
	}, rc.Client(),
		queue.WithKeyPrefix(cache.Key(cfg.Redis.Prefix, "queue")),
		queue.WithStatusStore(rc),
	)
	q.RegisterJob(usecase.NewScanJob(engine, l))
	return q
}

func ProvideScanScheduler(q *queue.RedisQueue) *usecase.ScanScheduler {
	if q == nil {
		return nil
	}
	return usecase.NewScanScheduler(q)
}

func ProvideHandler(cfg *config.Config, l *applogger.Logger, engine *usecase.PatternEngine, sched *usecase.ScanScheduler) *api.PatternsEchoHandler {
	opts := []api.HandlerOption{api.WithScheduler(sched)}
	if cfg.Server.RateLimit.Enabled {
		opts = append(opts, api.WithRateLimit(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.RefillPerSec))
	}
	return api.NewPatternsEchoHandler(l, engine, opts...)
}

// ProvideApp creates the application server. The log digest is attached
// here because it needs the Kafka producer.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.PatternEngine,
	handler *api.PatternsEchoHandler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	if cfg.Logger.Digest.Enabled && producer != nil {
		l.AttachDigest(&applogger.DigestConfig{
			Interval:  cfg.Logger.Digest.Interval,
			MaxUnique: cfg.Logger.Digest.MaxUnique,
			Topic:     cfg.Logger.Digest.Topic,
			Publisher: producer,
		})
	}
	return server.New(cfg, l, engine, handler, q, producer, chClient, rc)
}
