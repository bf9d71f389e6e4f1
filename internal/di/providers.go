package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"FinFeat/internal/domain/repository"
	"FinFeat/internal/handler/api"
	mid "FinFeat/internal/middleware"
	internalrepo "FinFeat/internal/repository"
	"FinFeat/internal/service/broadcast"
	"FinFeat/internal/service/finnhub"
	stagemetrics "FinFeat/internal/service/metrics"
	"FinFeat/internal/service/ratelimit"
	"FinFeat/internal/services/features"
	"FinFeat/internal/usecase"
	"FinFeat/pkg/cache"
	pkgch "FinFeat/pkg/clickhouse"
	"FinFeat/pkg/config"
	xhttp "FinFeat/pkg/http"
	pkgkafka "FinFeat/pkg/kafka"
	applogger "FinFeat/pkg/logger"
	"FinFeat/pkg/metrics"
	"FinFeat/pkg/queue"
	"FinFeat/pkg/server"
)

// ProvideLogger creates the application logger. When the collector is enabled
// and Kafka is available, aggregated logs are shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if !cfg.Logging.Collector.Enabled || producer == nil {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		Service:        "finfeat-" + cfg.Environment,
		TimeInterval:   cfg.Logging.Collector.Interval,
		CountThreshold: cfg.Logging.Collector.CountThreshold,
		Topic:          cfg.Logging.Collector.Topic,
		Publisher:      producer,
		OnPublishError: func(err error) {
			l.Warn("log batch not shipped", applogger.String("topic", cfg.Logging.Collector.Topic), applogger.Error(err))
		},
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder and registers the
// per-stage pipeline collectors.
func ProvideMetrics() repository.Metrics {
	stagemetrics.Register()
	return metrics.New()
}

// ProvidePipeline validates the pipeline section once.
func ProvidePipeline(cfg *config.Config) (*features.Pipeline, error) {
	return features.NewPipeline(cfg.Pipeline)
}

// ProvideClickHouseClient connects to ClickHouse when bars or sinks need it.
// Returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithAuth(ch.Database, ch.User, ch.Password),
		pkgch.WithPool(10, 5, 0),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithCompression(ch.Compress),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideBarStore selects the bar store named by storage.bars.
func ProvideBarStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.BarStore, func(), error) {
	var (
		store repository.BarStore
		err   error
	)
	switch cfg.Storage.Bars {
	case config.StorageCSV:
		store = internalrepo.NewCSVBarStore(cfg.Storage.DataDir, l)
	case config.StorageSQLite:
		store, err = internalrepo.NewSQLiteBarStore(cfg.Storage.SQLitePath, l)
	case config.StorageClickHouse:
		store = internalrepo.NewCHBarStore(ch, l)
	default:
		err = fmt.Errorf("unknown bar storage %q", cfg.Storage.Bars)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("bar store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideFeatureSinks builds one sink per storage.sinks entry.
func ProvideFeatureSinks(cfg *config.Config, ch *pkgch.Client, pipeline *features.Pipeline, l *applogger.Logger) []repository.FeatureSink {
	sinks := make([]repository.FeatureSink, 0, len(cfg.Storage.Sinks))
	for _, name := range cfg.Storage.Sinks {
		switch name {
		case config.StorageCSV:
			sinks = append(sinks, internalrepo.NewCSVFeatureWriter(cfg.Storage.OutputDir, l))
		case config.SinkXLSX:
			sinks = append(sinks, internalrepo.NewXLSXFeatureWriter(cfg.Storage.OutputDir, l))
		case config.StorageClickHouse:
			sinks = append(sinks, internalrepo.NewCHFeatureStore(ch, pipeline.Fingerprint(), l))
		}
	}
	return sinks
}

// ProvideKafkaProducer creates a Kafka producer when kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	opts := []pkgkafka.ProducerOption{
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkgkafka.WithProducerRegisterer(prometheus.DefaultRegisterer))
	}
	producer, err := pkgkafka.NewProducer(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideFeaturePublisher streams rows to the features topic. Nil without Kafka.
func ProvideFeaturePublisher(cfg *config.Config, producer *pkgkafka.Producer, pipeline *features.Pipeline) repository.FeaturePublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaFeaturePublisher(producer, cfg.Kafka.FeaturesTopic, pipeline.Fingerprint())
}

// ProvideRedisCache connects to Redis when enabled. Returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port))),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideFeatureCache layers an in-process LRU over Redis, or uses the LRU
// alone when Redis is disabled.
func ProvideFeatureCache(cfg *config.Config, rc *cache.RedisCache) (cache.Service, func(), error) {
	if rc == nil {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemorySize))
		return mc, func() { _ = mc.Close() }, nil
	}
	lc := cache.NewLayeredCache(rc, cfg.Redis.MemorySize, cfg.Redis.MemoryTTL)
	// the redis client itself is closed by ProvideRedisCache's cleanup
	return lc, func() { _ = lc.Close() }, nil
}

// ProvideHub creates the websocket run stream hub.
func ProvideHub(l *applogger.Logger) *broadcast.Hub {
	return broadcast.NewHub(l)
}

// ProvideFeatureBuilder assembles the build use case for the service.
func ProvideFeatureBuilder(
	bars repository.BarStore,
	pipeline *features.Pipeline,
	metrics repository.Metrics,
	sinks []repository.FeatureSink,
	publisher repository.FeaturePublisher,
	fc cache.Service,
	hub *broadcast.Hub,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.FeatureBuilder {
	opts := []usecase.BuilderOption{
		usecase.WithSinks(sinks...),
		usecase.WithCache(fc, cfg.Redis.CacheTTL),
		usecase.WithStageObserver(stagemetrics.ObserveStage),
		usecase.WithBuilderLogger(l),
	}
	if publisher != nil {
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	if hub != nil {
		opts = append(opts, usecase.WithNotifier(hub))
	}
	return usecase.NewFeatureBuilder(bars, pipeline, metrics, opts...)
}

// ProvideBatchRunner runs builds across symbols with the configured range as default.
func ProvideBatchRunner(builder *usecase.FeatureBuilder, cfg *config.Config, l *applogger.Logger) (*usecase.BatchRunner, error) {
	from, to, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	return usecase.NewBatchRunner(builder, cfg.Batch.Workers, usecase.DateWindow{From: from, To: to}, l), nil
}

func ProvideBarsUseCase(bars repository.BarStore) *usecase.BarsUseCase {
	return usecase.NewBarsUseCase(bars)
}

// ProvideJobQueue creates the Redis job queue with the featurize job. Nil when
// the queue is disabled.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, runner *usecase.BatchRunner, metrics repository.Metrics, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(rc.Client(), queue.Config{
		Prefix:     cfg.Redis.Prefix + ":queue",
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		MaxDelay:   cfg.Queue.MaxDelay,
	}, l, queue.WithObserver(func(msgType string, elapsed time.Duration, err error) {
		metrics.RecordLatency("job_"+msgType, elapsed.Seconds())
		if err != nil {
			metrics.RecordError("job_" + msgType)
		}
	}))
	q.RegisterJob(usecase.NewFeaturizeJob(runner))
	return q
}

// ProvideRebuildThrottle guards the batch runner against bursts of build requests.
func ProvideRebuildThrottle(runner *usecase.BatchRunner, metrics repository.Metrics, cfg *config.Config) *mid.RebuildThrottle {
	return mid.NewRebuildThrottle(runner, metrics,
		mid.WithDebounce(cfg.Kafka.Consumer.Debounce),
		mid.WithBufferSize(cfg.Kafka.Consumer.BufferSize),
		mid.WithRetryBackoff(cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
	)
}

// ProvideKafkaConsumer creates the build-request consumer. Nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, metrics repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	hooks := pkgkafka.NewHookChain(
		pkgkafka.TimingHook{Observe: func(topic string, elapsed time.Duration, _ error) {
			metrics.RecordLatency("consume_"+topic, elapsed.Seconds())
		}},
		pkgkafka.LoggingHook{Log: l},
		pkgkafka.HookFuncs{Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, _ error) {
			metrics.RecordError("consume_" + topic)
		}},
	)
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerHook(hooks),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkgkafka.WithConsumerRegisterer(prometheus.DefaultRegisterer))
	}
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaBuildHandler(cfg *config.Config, throttle *mid.RebuildThrottle, metrics repository.Metrics) *usecase.KafkaBuildHandler {
	return usecase.NewKafkaBuildHandler(cfg.Kafka.BuildTopic, throttle, metrics)
}

// ProvideFeaturesHandler wires the HTTP API.
func ProvideFeaturesHandler(
	cfg *config.Config,
	l *applogger.Logger,
	builder *usecase.FeatureBuilder,
	runner *usecase.BatchRunner,
	bars *usecase.BarsUseCase,
	pipeline *features.Pipeline,
	jobs *queue.RedisQueue,
	hub *broadcast.Hub,
) *api.FeaturesEchoHandler {
	opts := []api.FeaturesOption{
		api.WithRunStream(hub),
		api.WithRateLimit(ratelimit.New(), api.RateLimit{
			Capacity:     cfg.Server.RateLimit.Capacity,
			RefillPerSec: cfg.Server.RateLimit.RefillPerSec,
		}),
	}
	if jobs != nil {
		opts = append(opts, api.WithJobQueue(jobs, jobs))
	} else {
		opts = append(opts, api.WithAsyncRunner(runner))
	}
	return api.NewFeaturesEchoHandler(l, builder, bars, pipeline, runner.Defaults(), opts...)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.FeaturesEchoHandler, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.Path),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	hub *broadcast.Hub,
	jobs *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBuildHandler,
	throttle *mid.RebuildThrottle,
) *server.App {
	if consumer == nil {
		return server.New(cfg, l, srv, hub, jobs, nil, nil, nil)
	}
	return server.New(cfg, l, srv, hub, jobs, consumer, kh, throttle)
}

// ProvideFinnhubClient creates the market data provider used for acquisition.
func ProvideFinnhubClient(cfg *config.Config, l *applogger.Logger) *finnhub.Client {
	hc := xhttp.NewClient(xhttp.WithTimeout(cfg.Finnhub.Timeout), xhttp.WithUserAgent("finfeat/1.0"))
	return finnhub.New(finnhub.Config{
		APIKey:            cfg.Finnhub.APIKey,
		BaseURL:           cfg.Finnhub.BaseURL,
		RequestsPerSecond: cfg.Finnhub.RequestsPerSecond,
		Burst:             cfg.Finnhub.Burst,
	}, hc, ratelimit.New(), l)
}

// The collector invalidates the builder's cached tables for every symbol it refreshes.
func ProvideBarCollector(provider *finnhub.Client, bars repository.BarStore, metrics repository.Metrics, builder *usecase.FeatureBuilder, cfg *config.Config, l *applogger.Logger) *usecase.BarCollector {
	return usecase.NewBarCollector(provider, bars, metrics, cfg.Batch.Workers, l).InvalidateOnSave(builder)
}

// ProvideBatchFeatureBuilder is ProvideFeatureBuilder without the run stream.
func ProvideBatchFeatureBuilder(
	bars repository.BarStore,
	pipeline *features.Pipeline,
	metrics repository.Metrics,
	sinks []repository.FeatureSink,
	publisher repository.FeaturePublisher,
	fc cache.Service,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.FeatureBuilder {
	return ProvideFeatureBuilder(bars, pipeline, metrics, sinks, publisher, fc, nil, cfg, l)
}

// Batch is the one-shot tool assembled for cmd/featurize.
type Batch struct {
	Logger    *applogger.Logger
	Runner    *usecase.BatchRunner
	Collector *usecase.BarCollector
}

func ProvideBatch(l *applogger.Logger, runner *usecase.BatchRunner, collector *usecase.BarCollector) *Batch {
	return &Batch{Logger: l, Runner: runner, Collector: collector}
}
