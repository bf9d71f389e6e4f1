//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinFeat/pkg/config"
	"FinFeat/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvidePipeline,
	ProvideClickHouseClient,
	ProvideBarStore,
	ProvideFeatureSinks,
	ProvideFeaturePublisher,
	ProvideRedisCache,
	ProvideFeatureCache,
)

// InitializeApp wires up the long-running service.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,

		// Use cases
		ProvideHub,
		ProvideFeatureBuilder,
		ProvideBatchRunner,
		ProvideBarsUseCase,
		ProvideJobQueue,
		ProvideRebuildThrottle,

		// Transport
		ProvideKafkaConsumer,
		ProvideKafkaBuildHandler,
		ProvideFeaturesHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeBatch wires up the one-shot featurize tool.
func InitializeBatch(cfg *config.Config) (*Batch, func(), error) {
	wire.Build(
		infraSet,
		ProvideBatchFeatureBuilder,
		ProvideBatchRunner,
		ProvideFinnhubClient,
		ProvideBarCollector,
		ProvideBatch,
	)
	return nil, nil, nil
}
