package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/fake"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/httpadapter"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/rediscache"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/bootstrap"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/database"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/lock"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/metrics"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/mq"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/nacos"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/redis"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/tracing"
	eligibilityApp "github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/application"
	eligibilityDomain "github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
	eligibilityInfra "github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/infrastructure"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/infrastructure/rule"
	eligibilityHTTP "github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/interfaces"
	offerApp "github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application/saga"
	offerDomain "github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
	offerInfra "github.com/SircoGeji/samoc-server-sub003/internal/service/offer/infrastructure"
	offerHTTP "github.com/SircoGeji/samoc-server-sub003/internal/service/offer/interfaces"
	"github.com/SircoGeji/samoc-server-sub003/internal/zookeeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the build result consumer",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	logger.Init(cfg.Service.Name, cfg.Log.Level, cfg.Log.Format)

	ctx := cmd.Context()
	app, err := assemble(ctx, cfg)
	if err != nil {
		app.close(context.Background())
		return err
	}
	if app.consumer != nil {
		if err := app.consumer.Start(ctx); err != nil {
			app.close(context.Background())
			return err
		}
		app.onClose(app.consumer.Stop)
	}

	return bootstrap.StartService(ctx, bootstrap.AppInfo{
		Config:   cfg,
		Nacos:    app.nacos,
		Registry: app.registry,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			app.offers.RegisterRoutes(appCtx.Router)
			app.filters.RegisterRoutes(appCtx.Router)
		},
		Cleanup: app.cleanup,
	})
}

// application 是组装完成的服务组件。
type application struct {
	registry *prometheus.Registry
	nacos    *nacos.Client
	offers   *offerHTTP.OfferHandler
	filters  *eligibilityHTTP.FilterHandler
	consumer *offerHTTP.BuildResultConsumer
	cleanup  []func(ctx context.Context) error
}

func (a *application) onClose(fn func(ctx context.Context) error) {
	a.cleanup = append(a.cleanup, fn)
}

// close 按注册的逆序释放资源，只在启动失败时使用；正常关停由 StartService 执行 cleanup。
func (a *application) close(ctx context.Context) {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			logger.L().Error().Err(err).Msg("cleanup failed")
		}
	}
}

// assemble 是服务的"组装根" (Composition Root)：创建并连接所有依赖项。
// 出错时已经创建的资源都登记在 app.cleanup 中。
func assemble(ctx context.Context, cfg *bootstrap.Config) (*application, error) {
	app := &application{registry: prometheus.NewRegistry()}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sagaMetrics := metrics.NewSaga(app.registry)

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(cfg.Service.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.SampleRatio)
	if err != nil {
		return app, errors.Wrap(err, "init tracer provider")
	}
	app.onClose(tp.Shutdown)
	tracer := tp.Tracer(cfg.Service.Name)

	if cfg.Nacos.Enabled {
		if app.nacos, err = nacos.NewNacosClient(cfg.Nacos.Addrs, cfg.Nacos.Namespace, cfg.Nacos.Group); err != nil {
			return app, err
		}
	}

	locker, err := newLocker(app, cfg)
	if err != nil {
		return app, err
	}

	// 2. 仓储与协作方
	offerRepo, filterRepo, err := newRepositories(ctx, app, cfg)
	if err != nil {
		return app, err
	}
	ports, err := newCollaborators(ctx, app, cfg, tracer)
	if err != nil {
		return app, err
	}

	var events offerDomain.EventPublisher = offerInfra.LogEventPublisher{}
	if cfg.Kafka.Brokers != "" {
		writer := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.StatusEventTopic)
		app.onClose(func(context.Context) error { return writer.Close() })
		events = offerInfra.NewKafkaEventPublisher(writer)
	}

	// 3. 应用服务
	dbRetry := database.RetryPolicy(cfg.Saga.DBRetryAttempts, cfg.Saga.DBRetryBackoff)
	offers := offerApp.NewOfferSaga(offerApp.Deps{
		Repo:    offerRepo,
		Ports:   ports,
		Locker:  locker,
		Events:  events,
		Tracer:  tracer,
		Metrics: sagaMetrics,
		DBRetry: dbRetry,
	})
	campaigns := offerApp.NewCampaignSaga(offers, offerRepo, ports.Cache, cfg.Saga.CampaignConcurrency)

	cel, err := rule.NewCELAdapter()
	if err != nil {
		return app, errors.Wrap(err, "init condition environment")
	}
	filters := eligibilityApp.NewFilterService(eligibilityApp.Deps{
		Repo:      filterRepo,
		Targeting: ports.Targeting,
		Cache:     ports.Cache,
		Validator: cel,
		Locker:    locker,
		Tracer:    tracer,
		Metrics:   sagaMetrics,
		DBRetry:   dbRetry,
	})

	// 4. 驱动适配器
	app.offers = offerHTTP.NewOfferHandler(offers, campaigns)
	app.filters = eligibilityHTTP.NewFilterHandler(filters, cel)
	if cfg.Kafka.Brokers != "" && cfg.Kafka.BuildResultTopic != "" {
		reader := mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.BuildResultTopic, cfg.Kafka.GroupID)
		var failure *mq.FailureHandler
		if cfg.Kafka.DeadLetterTopic != "" {
			dlt := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic)
			app.onClose(func(context.Context) error { return dlt.Close() })
			failure = mq.NewFailureHandler(dlt)
		}
		app.consumer = offerHTTP.NewBuildResultConsumer(reader, cfg.Kafka.BuildResultTopic, offers, failure)
	}
	return app, nil
}

// newLocker 在配置了 zookeeper 时返回分布式锁，否则返回进程内锁。
func newLocker(app *application, cfg *bootstrap.Config) (lock.Locker, error) {
	if len(cfg.Zookeeper.Servers) == 0 {
		logger.L().Warn().Msg("⚠️ zookeeper not configured, using in-process locks")
		return lock.NewLocal(), nil
	}
	conn, err := zookeeper.Connect(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) error {
		conn.Close()
		return nil
	})
	logger.L().Info().Strs("servers", cfg.Zookeeper.Servers).Msg("✅ Connected to Zookeeper.")
	return zookeeper.NewLocker(conn, cfg.Zookeeper.LockTimeout), nil
}

// newRepositories 在配置了 DSN 时使用 MySQL，否则使用内存仓储。
func newRepositories(ctx context.Context, app *application, cfg *bootstrap.Config) (offerDomain.Repository, eligibilityDomain.FilterRepository, error) {
	if cfg.MySQL.DSN == "" {
		logger.L().Warn().Msg("⚠️ mysql dsn not set, using in-memory repositories")
		return offerInfra.NewMemoryRepository(), eligibilityInfra.NewMemoryFilterRepository(), nil
	}
	db, err := database.Open(cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		app.onClose(func(context.Context) error { return sqlDB.Close() })
	}

	offers := offerInfra.NewGormRepository(db)
	if err := offers.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	filters := eligibilityInfra.NewGormFilterRepository(db)
	if err := filters.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	return offers, filters, nil
}

// newCollaborators 按模式创建外部协作方。fake 模式下全部使用进程内实现。
func newCollaborators(ctx context.Context, app *application, cfg *bootstrap.Config, tracer trace.Tracer) (saga.Collaborators, error) {
	if cfg.Collaborators.Mode == bootstrap.CollaboratorModeFake {
		logger.L().Warn().Msg("⚠️ collaborators running in fake mode")
		targeting := fake.NewTargeting()
		return saga.Collaborators{
			Billing:   fake.NewBilling(),
			Content:   fake.NewContent(),
			Targeting: targeting,
			Verifier:  &fake.Verifier{Targeting: targeting},
			Cache:     collaborator.NewRetryingCache(&fake.Cache{}, cfg.Saga.CacheClearAttempts, cfg.Saga.IgnoreCacheErrors),
			Build:     &fake.Build{},
		}, nil
	}

	var resolver httpclient.Resolver = httpclient.StaticResolver(cfg.Collaborators.Endpoints)
	if app.nacos != nil {
		resolver = app.nacos
	}
	client := httpclient.NewClient(tracer, resolver)
	client.HTTPClient.Timeout = cfg.Collaborators.Timeout

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return saga.Collaborators{}, err
	}
	app.onClose(func(context.Context) error { return rdb.Close() })

	return saga.Collaborators{
		Billing:   httpadapter.NewBillingAdapter(client),
		Content:   httpadapter.NewContentAdapter(client),
		Targeting: httpadapter.NewTargetingAdapter(client),
		Verifier:  rediscache.NewVerifier(rdb, cfg.Saga.PropagationTimeout),
		Cache:     collaborator.NewRetryingCache(httpadapter.NewCacheAdapter(client), cfg.Saga.CacheClearAttempts, cfg.Saga.IgnoreCacheErrors),
		Build:     httpadapter.NewBuildAdapter(client),
	}, nil
}
