//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"KSHPull/pkg/config"
	"KSHPull/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideCache,
		ProvideHTTPClient,

		// Repositories
		ProvideTidyStore,
		ProvideTidyPublisher,
		ProvideTableLoader,
		ProvideExporter,

		// Use cases
		ProvideRecordProcessor,
		ProvideDatasetService,
		ProvideForecastEngine,
		ProvideForecastPipeline,
		ProvideJobQueue,
		ProvideForecastRunner,
		ProvideRefreshScheduler,
		ProvideRecordPipeline,
		ProvideKafkaConsumer,
		ProvideKafkaTidyHandler,

		// HTTP
		ProvideRateLimiter,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
