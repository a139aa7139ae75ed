package service

import (
	"context"
	"encoding/json"
	"fmt"

	"progress/internal/application/entity"
	"progress/internal/application/repo"
	"progress/internal/transport/catalog"
	"progress/internal/transport/directory"
	"progress/internal/transport/producer"
	"progress/internal/transport/sender"
	"progress/pkg/cache"
	"progress/pkg/config"
	"progress/pkg/metrics"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type Service interface {
	// Конвейер
	ApplyProgressEvent(ctx context.Context, event *entity.ProgressEvent) error
	ReportMalformed(ctx context.Context, raw []byte, reason error)
	RouteIntentsRun(ctx context.Context)
	ProcessDeliveryTask(ctx context.Context, channel entity.Channel, raw []byte) error
	RetryRelayRun(ctx context.Context)

	// Операционная поверхность
	GetProgress(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error)
	GetDeliveryStatus(ctx context.Context, intentID uuid.UUID) (*DeliveryStatus, error)
	GetTaskRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error)
	PurgeOldDeliveryRecords(ctx context.Context, days *int)

	HealthCheck(ctx context.Context) (dbHealthy, kafkaHealthy, redisHealthy bool, err error)
}

// DeliveryStatus — аудит-срез: интент и судьба его задач по каналам.
type DeliveryStatus struct {
	Intent *entity.NotificationIntent `json:"intent"`
	Tasks  []entity.DeliveryTask      `json:"tasks"`
}

type ServiceImpl struct {
	repo          repo.Repo
	transactions  repo.Transactions
	kafkaProducer producer.Producer
	senders       map[entity.Channel]sender.Sender
	catalog       catalog.Catalog
	directory     directory.Directory
	cache         *cache.Cache
	logger        *zap.SugaredLogger
	conf          *config.Config
	m             *metrics.Metrics

	// Семафоры на канал: ограничивают число одновременных отправок,
	// размер пула задаётся конфигом воркеров.
	sendSlots map[entity.Channel]chan struct{}
}

func NewService(
	repo repo.Repo,
	transactions repo.Transactions,
	kafkaProducer producer.Producer,
	senders map[entity.Channel]sender.Sender,
	catalog catalog.Catalog,
	directory directory.Directory,
	cache *cache.Cache,
	logger *zap.SugaredLogger,
	conf *config.Config,
	m *metrics.Metrics,
) *ServiceImpl {
	return &ServiceImpl{
		repo:          repo,
		transactions:  transactions,
		kafkaProducer: kafkaProducer,
		senders:       senders,
		catalog:       catalog,
		directory:     directory,
		cache:         cache,
		logger:        logger,
		conf:          conf,
		m:             m,
		sendSlots: map[entity.Channel]chan struct{}{
			entity.ChannelEmail: make(chan struct{}, conf.Workers.EmailPool),
			entity.ChannelSMS:   make(chan struct{}, conf.Workers.SMSPool),
			entity.ChannelPush:  make(chan struct{}, conf.Workers.PushPool),
		},
	}
}

func (s *ServiceImpl) channelTopic(ch entity.Channel) string {
	return s.conf.Broker.Kafka.ChannelTopicPrefix + "." + string(ch)
}

// HealthCheck проверяет доступность БД, Kafka и Redis
func (s *ServiceImpl) HealthCheck(ctx context.Context) (dbHealthy, kafkaHealthy, redisHealthy bool, err error) {
	dbErr := s.repo.HealthCheck(ctx)
	dbHealthy = dbErr == nil

	kafkaErr := s.kafkaProducer.HealthCheck(ctx)
	kafkaHealthy = kafkaErr == nil

	var redisErr error
	if s.cache != nil {
		redisErr = s.cache.HealthCheck(ctx)
	}
	redisHealthy = redisErr == nil

	// Возвращаем ошибку только если все проверки провалились
	if !dbHealthy && !kafkaHealthy {
		return dbHealthy, kafkaHealthy, redisHealthy, fmt.Errorf("database: %v, kafka: %v, redis: %v", dbErr, kafkaErr, redisErr)
	}

	return dbHealthy, kafkaHealthy, redisHealthy, nil
}

// GetProgress — горячее чтение агрегата: сначала Redis, затем БД.
func (s *ServiceImpl) GetProgress(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error) {
	s.logger.Debugf("[learner: %s, course: %s] GetProgress started", learnerID, courseID)

	key := progressCacheKey(learnerID, courseID)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var agg entity.ProgressAggregate
			if err := json.Unmarshal(raw, &agg); err == nil {
				return &agg, nil
			}
		}
	}

	agg, err := s.repo.GetAggregate(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(agg); err == nil {
			_ = s.cache.Set(ctx, key, raw)
		}
	}

	return agg, nil
}

func (s *ServiceImpl) GetDeliveryStatus(ctx context.Context, intentID uuid.UUID) (*DeliveryStatus, error) {
	s.logger.Debugf("[intent: %s] GetDeliveryStatus started", intentID)

	intent, err := s.repo.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.GetTasksByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return &DeliveryStatus{Intent: intent, Tasks: tasks}, nil
}

func (s *ServiceImpl) GetTaskRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error) {
	s.logger.Debugf("[task: %s] GetTaskRecords started", taskID)

	return s.repo.GetRecords(ctx, taskID)
}

func (s *ServiceImpl) PurgeOldDeliveryRecords(ctx context.Context, days *int) {
	d := 0
	if days != nil {
		d = *days
	}
	s.logger.Debugf("[days: %d] PurgeOldDeliveryRecords started", d)

	deleted, err := s.repo.PurgeOldRecords(ctx, d)
	if err != nil {
		s.logger.Errorf("purge old delivery records failed: %v", err)
		return
	}
	if deleted > 0 {
		s.logger.Infof("purged %d delivery records older than %d days", deleted, d)
	}
}

func progressCacheKey(learnerID, courseID uuid.UUID) string {
	return "progress:" + learnerID.String() + ":" + courseID.String()
}
