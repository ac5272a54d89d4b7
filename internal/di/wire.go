//go:build wireinject
// +build wireinject

package di

import (
	"PatternScan/pkg/config"
	"PatternScan/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Engine services
		ProvidePreprocessor,
		ProvideLibrary,
		ProvideMatcher,
		ProvideScorer,
		ProvideScanner,
		ProvideValidator,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideLibraryStore,
		ProvideSeriesStore,
		ProvideDetectionPublisher,

		// Use cases
		ProvidePatternEngine,
		ProvideScanQueue,
		ProvideScanScheduler,

		// Transport and application server
		ProvideHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
