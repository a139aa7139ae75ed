package application

import (
	"context"
	"fmt"

	"progress/internal/application/common"
	"progress/internal/application/entity"
	"progress/internal/application/repo"
	"progress/internal/application/service"
	use_cases "progress/internal/application/use-cases"
	"progress/internal/controllers/cron"
	"progress/internal/controllers/handler"
	"progress/internal/controllers/listener"
	"progress/internal/transport/catalog"
	"progress/internal/transport/directory"
	"progress/internal/transport/producer"
	"progress/internal/transport/sender"
	"progress/pkg/broker"
	"progress/pkg/cache"
	"progress/pkg/config"
	"progress/pkg/db"
	"progress/pkg/httpclient"
	"progress/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type App struct {
	ctx            context.Context
	conf           *config.Config
	logger         *zap.SugaredLogger
	postgres       *db.Postgres
	httpServer     *fiber.App
	kafka          *broker.KafkaBroker
	cronController *cron.Controller
}

func NewApp(
	ctx context.Context,
	conf *config.Config,
	logger *zap.SugaredLogger,
	postgres *db.Postgres,
	httpServer *fiber.App,
	kafkaBroker *broker.KafkaBroker,
	redis *cache.Cache,
	m *metrics.Metrics) *App {
	//Логируем версию приложения
	logger.Infof("Запуск Progress Pipeline версии: %s", common.Version)

	go func() {
		<-ctx.Done()
		logger.Info("закрытие kafka broker")
		kafkaBroker.Close()
		logger.Info("закрытие kafka broker: done")
	}()

	store := repo.NewRepo(postgres, logger)
	tx := repo.NewTransactions(store, logger)
	kafkaProducer := producer.NewProducer(kafkaBroker, logger, conf.Broker.Kafka.MaxAttempts, m)

	// внешние HTTP-коллабораторы ходят через retry-клиент
	httpClient := httpclient.NewRetryClient(httpclient.NewClient(conf.HTTPClient), conf.HTTPClient.MaxRetries, logger)
	courseCatalog := catalog.NewClient(conf.Catalog, httpClient, redis, logger)
	contactDirectory := directory.NewClient(conf.Directory, httpClient, redis, logger)

	senders := map[entity.Channel]sender.Sender{
		entity.ChannelEmail: sender.NewEmailSender(conf.Senders.SMTP, logger),
		entity.ChannelSMS:   sender.NewSMSSender(conf.Senders.SMS, httpClient, logger),
		entity.ChannelPush:  sender.NewPushSender(conf.Senders.Push, httpClient, logger),
	}

	srv := service.NewService(store, tx, kafkaProducer, senders, courseCatalog, contactDirectory, redis, logger, conf, m)
	uc := use_cases.NewUseCase(srv, logger, conf)
	h := handler.NewPipelineHandler(uc, logger)
	r := handler.NewRouter(h, httpServer, conf, logger)

	// Инициализация cron контроллера
	cronController := cron.NewController(ctx, logger)
	if err := cronController.RegisterPurgeRecordsJob(uc, conf.Cron); err != nil {
		logger.Fatalf("не удалось зарегистрировать cron задачу: %v", err)
	}
	cronController.Start()

	// фоновые циклы пайплайна
	go uc.RunIntentRouter(ctx)
	go uc.RunRetryRelay(ctx)

	r.RegisterRouter()

	app := &App{
		ctx:            ctx,
		conf:           conf,
		logger:         logger,
		postgres:       postgres,
		httpServer:     httpServer,
		kafka:          kafkaBroker,
		cronController: cronController,
	}

	app.runConsumers(ctx, logger, uc, kafkaBroker, m)

	return app
}

func (a *App) Run() error {
	return a.httpServer.Listen(fmt.Sprintf(":%s", a.conf.Server.Port))
}

func (a *App) Shutdown() error {
	// Останавливаем cron задачи
	if a.cronController != nil {
		a.cronController.Stop()
	}
	return a.httpServer.Shutdown()
}

// runConsumers поднимает consumer входящих событий и по одному consumer'у
// на каждый канал доставки.
func (a *App) runConsumers(ctx context.Context, logger *zap.SugaredLogger, usecase use_cases.UseCaser, kafkaBroker *broker.KafkaBroker, m *metrics.Metrics) {
	logger.Infof("🚀 Запуск consumer для топика: %s", kafkaBroker.ProgressTopic)
	progressListener := listener.NewProgressListener(kafkaBroker.ProgressGroupName(), usecase, logger, m)
	go listener.Run(ctx, kafkaBroker.ProgressGroup, []string{kafkaBroker.ProgressTopic}, progressListener, logger)

	for ch, group := range kafkaBroker.WorkerGroups {
		topic := kafkaBroker.ChannelTopic(ch)
		logger.Infof("🚀 Запуск %s-воркеров для топика: %s", ch, topic)
		taskListener := listener.NewTaskListener(kafkaBroker.WorkerGroupName(ch), ch, usecase, logger, m)
		go listener.Run(ctx, group, []string{topic}, taskListener, logger)
	}
}
