package di

import (
	"context"
	"fmt"
	"time"

	"KSHPull/internal/domain/repository"
	domsvc "KSHPull/internal/domain/service"
	"KSHPull/internal/handler/api"
	mid "KSHPull/internal/middleware"
	internalrepo "KSHPull/internal/repository"
	"KSHPull/internal/service/ratelimit"
	"KSHPull/internal/services/analytics"
	"KSHPull/internal/services/forecast"
	"KSHPull/internal/usecase"
	"KSHPull/pkg/cache"
	pkgch "KSHPull/pkg/clickhouse"
	"KSHPull/pkg/config"
	xhttp "KSHPull/pkg/http"
	pkgkafka "KSHPull/pkg/kafka"
	applogger "KSHPull/pkg/logger"
	"KSHPull/pkg/metrics"
	"KSHPull/pkg/queue"
	"KSHPull/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func needsClickHouse(cfg *config.Config) bool {
	return cfg.Backend.Type == usecase.BackendClickHouse || cfg.Kafka.Consumer.Enabled
}

// ProvideClickHouseClient creates a ClickHouse client and its schema. It
// returns nil when nothing writes to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !needsClickHouse(cfg) {
		return nil, nil
	}
	client, err := pkgch.NewClient(pkgch.ClientConfig{
		Host:         cfg.ClickHouse.Host,
		Port:         cfg.ClickHouse.Port,
		Database:     cfg.ClickHouse.Database,
		User:         cfg.ClickHouse.User,
		Password:     cfg.ClickHouse.Password,
		MaxOpenConns: cfg.ClickHouse.MaxOpenConns,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		ReadTimeout:  cfg.ClickHouse.ReadTimeout,
		UseHTTP:      cfg.ClickHouse.UseHTTP,
		AsyncInsert:  cfg.ClickHouse.AsyncInsert,
		WaitForAsync: cfg.ClickHouse.WaitForAsync,
		MaxExecTime:  cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideTidyStore creates the ClickHouse tidy store, or nil without a client.
func ProvideTidyStore(client *pkgch.Client, l *applogger.Logger) repository.Storage {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseTidyStore(client, l)
}

// ProvideKafkaProducer creates a Kafka producer, or nil without brokers.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		ReadTimeout:  cfg.Kafka.Producer.ReadTimeout,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchBytes:   cfg.Kafka.Producer.BatchBytes,
		BatchTimeout: cfg.Kafka.Producer.Linger,
		Async:        cfg.Kafka.Producer.Async,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTidyPublisher creates the Kafka publisher, or nil without a producer.
func ProvideTidyPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTidyPublisher(producer, cfg.Kafka.Topic, cfg.Backend.BatchSize)
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers memory over Redis, or uses memory alone.
func ProvideCache(rc *cache.RedisCache, cfg *config.Config) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL))
}

// ProvideHTTPClient creates the rate-limited client used to fetch KSH tables.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(
		xhttp.WithTimeout(cfg.Loader.Timeout),
		xhttp.WithUserAgent(cfg.Loader.UserAgent),
		xhttp.WithRateLimit(cfg.Loader.RatePerSecond, cfg.Loader.Burst),
		xhttp.WithRetry(3, 500*time.Millisecond),
	)
}

// ProvideTableLoader routes by format and caches fetched tables.
func ProvideTableLoader(client *xhttp.Client, c cache.Service, cfg *config.Config, l *applogger.Logger) repository.TableLoader {
	formats := internalrepo.NewFormatLoader(
		internalrepo.NewHTMLTableLoader(client, l),
		internalrepo.NewXLSXTableLoader(client, l),
	)
	return internalrepo.NewCachedTableLoader(formats, c, cfg.Cache.TableTTL, l)
}

// ProvideExporter creates the workbook exporter when export is enabled.
func ProvideExporter(cfg *config.Config, l *applogger.Logger) repository.Exporter {
	if !cfg.Export.Enabled {
		return nil
	}
	return internalrepo.NewXLSXExporter(cfg.Export.Dir, l)
}

// ProvideRecordProcessor creates the backend router.
func ProvideRecordProcessor(pub repository.Publisher, store repository.Storage, m repository.Metrics, cfg *config.Config) *usecase.RecordProcessor {
	return usecase.NewRecordProcessor(pub, store, m, cfg.Backend.Type, cfg.Backend.BatchSize)
}

// ProvideDatasetService builds one transformer per configured dataset.
func ProvideDatasetService(
	loader repository.TableLoader,
	proc *usecase.RecordProcessor,
	store repository.Storage,
	exporter repository.Exporter,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) (*usecase.DatasetService, error) {
	defs := make([]usecase.DatasetDef, 0, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		src := d.TableSource()
		if src.Encoding == "" {
			src.Encoding = cfg.Loader.Encoding
		}
		defs = append(defs, usecase.DatasetDef{Source: src, Tidy: d.Tidy})
	}

	opts := []usecase.DatasetOption{usecase.WithDatasetLogger(l)}
	if store != nil {
		opts = append(opts, usecase.WithReader(store))
	}
	if exporter != nil {
		opts = append(opts, usecase.WithExporter(exporter))
	}
	return usecase.NewDatasetService(loader, proc, m, defs, opts...)
}

// ProvideForecastEngine creates the engine; the remote strategy calls the
// analytics service.
func ProvideForecastEngine(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *forecast.Engine {
	opts := []forecast.Option{
		forecast.WithLogger(l),
		forecast.WithMetrics(m),
		forecast.WithWorkers(cfg.Forecast.Workers),
		forecast.WithFitTimeout(cfg.Forecast.FitTimeout),
	}
	if cfg.Analytics.ServiceURL != "" {
		opts = append(opts, forecast.WithRemote(func(p forecast.RemoteParams) (domsvc.Model, error) {
			return analytics.NewHTTPForecaster(cfg.Analytics.ServiceURL, p.Model, cfg.Analytics.Timeout, p.Attempts)
		}))
	}
	return forecast.NewEngine(opts...)
}

// ProvideForecastPipeline wires the jobs with report cache, store and export.
func ProvideForecastPipeline(
	datasets *usecase.DatasetService,
	engine *forecast.Engine,
	c cache.Service,
	proc *usecase.RecordProcessor,
	exporter repository.Exporter,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) (*usecase.ForecastPipeline, error) {
	jobs := make([]usecase.JobDef, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		jobs = append(jobs, usecase.JobDef{
			Name:      j.Name,
			Dataset:   j.Dataset,
			Aggregate: j.Aggregate,
			Model:     j.Model,
			Horizon:   j.Horizon,
		})
	}
	opts := []usecase.ForecastOption{
		usecase.WithForecastLogger(l),
		usecase.WithReportCache(internalrepo.NewCacheReportStore(c, cfg.Cache.ReportTTL)),
		usecase.WithReportStore(proc),
		usecase.WithJobLock(c, 0),
	}
	if exporter != nil {
		opts = append(opts, usecase.WithReportExporter(exporter))
	}
	return usecase.NewForecastPipeline(datasets, engine, m, jobs, opts...)
}

// ProvideJobQueue creates the Redis forecast queue, or nil without Redis.
func ProvideJobQueue(rc *cache.RedisCache, pipeline *usecase.ForecastPipeline, cfg *config.Config, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	mode := queue.ModeProducerConsumer
	if cfg.Forecast.ProduceOnly {
		mode = queue.ModeProducerOnly
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Forecast.Consumers,
		RetryLimit: cfg.Forecast.RetryLimit,
		RetryDelay: cfg.Forecast.RetryDelay,
	}, rc.Client(), mode, queue.WithKeyPrefix(cfg.Redis.Prefix+cfg.Forecast.Queue))
	q.RegisterJob(usecase.NewForecastJob(pipeline))
	return q
}

// ProvideForecastRunner queues runs through Redis when available.
func ProvideForecastRunner(pipeline *usecase.ForecastPipeline, q *queue.RedisQueue, cfg *config.Config, l *applogger.Logger) *usecase.ForecastRunner {
	var enq usecase.Enqueuer
	if q != nil {
		enq = q
	}
	return usecase.NewForecastRunner(pipeline, enq, cfg.Forecast.MaxInFlight, l)
}

// ProvideRefreshScheduler creates the periodic refresh, or nil when disabled.
func ProvideRefreshScheduler(datasets *usecase.DatasetService, pipeline *usecase.ForecastPipeline, cfg *config.Config, l *applogger.Logger) *usecase.RefreshScheduler {
	if !cfg.Schedule.Enabled {
		return nil
	}
	return usecase.NewRefreshScheduler(datasets, pipeline, cfg.Schedule.Interval, !cfg.Schedule.SkipJobs, l)
}

// ProvideRecordPipeline creates the batching sink behind the Kafka consumer.
func ProvideRecordPipeline(store repository.Storage, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *mid.RecordPipeline {
	if store == nil || !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	return mid.NewRecordPipeline(store, m,
		mid.WithBatchSize(cfg.Backend.BatchSize),
		mid.WithFlushInterval(cfg.Backend.BatchTimeout),
		mid.WithMaxPending(cfg.Kafka.Consumer.BufferSize*20),
		mid.WithPipelineLogger(l),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cfg.Kafka.Consumer.GroupID,
		Workers:    cfg.Kafka.Consumer.Workers,
		QueueSize:  cfg.Kafka.Consumer.BufferSize,
		RetryMax:   cfg.Kafka.Consumer.RetryMax,
		BackoffMin: cfg.Kafka.Consumer.BackoffMin,
		BackoffMax: cfg.Kafka.Consumer.BackoffMax,
		DLQTopic:   cfg.Kafka.Consumer.DLQTopic,
		MinBytes:   cfg.Kafka.Consumer.MinBytes,
		MaxBytes:   cfg.Kafka.Consumer.MaxBytes,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.Use(pkgkafka.RequireHeaders(internalrepo.DatasetHeader))
	return consumer, nil
}

// ProvideKafkaTidyHandler creates the handler for the tidy topic.
func ProvideKafkaTidyHandler(pipe *mid.RecordPipeline, m repository.Metrics, cfg *config.Config) *usecase.KafkaTidyHandler {
	if pipe == nil {
		return nil
	}
	return usecase.NewKafkaTidyHandler(cfg.Kafka.Topic, pipe, m)
}

// ProvideRateLimiter limits forecast triggers per client.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.Server.ForecastRPS <= 0 {
		return nil
	}
	return ratelimit.New(cfg.Server.ForecastRPS, cfg.Server.ForecastBurst)
}

// ProvideHTTPHandler creates the API handler.
func ProvideHTTPHandler(
	l *applogger.Logger,
	datasets *usecase.DatasetService,
	pipeline *usecase.ForecastPipeline,
	runner *usecase.ForecastRunner,
	limiter *ratelimit.Limiter,
) *api.Handler {
	return api.NewHandler(l, datasets, pipeline, runner, limiter)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.Handler,
	datasets *usecase.DatasetService,
	pipeline *usecase.ForecastPipeline,
	runner *usecase.ForecastRunner,
	scheduler *usecase.RefreshScheduler,
	proc *usecase.RecordProcessor,
	recordPipe *mid.RecordPipeline,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTidyHandler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	c cache.Service,
) *server.App {
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
			IgnoreFields:   []string{"elapsed", "run_id"},
		})
	}
	return server.New(cfg, l, server.Components{
		Handler:    handler,
		Datasets:   datasets,
		Pipeline:   pipeline,
		Runner:     runner,
		Scheduler:  scheduler,
		Processor:  proc,
		RecordPipe: recordPipe,
		Consumer:   consumer,
		TidyKafka:  kh,
		Queue:      q,
		ClickHouse: chClient,
		Cache:      c,
	})
}
