package use_cases

import (
	"context"
	"encoding/json"
	"fmt"

	"progress/internal/appers"
	"progress/internal/application/entity"
	"progress/internal/application/service"
	"progress/pkg/config"
	"progress/pkg/validator"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type UseCaser interface {
	// Конвейер: вызываются консьюмерами и фоновыми циклами.
	HandleProgressMessage(ctx context.Context, raw []byte) error
	HandleDeliveryTask(ctx context.Context, channel entity.Channel, raw []byte) error
	RunIntentRouter(ctx context.Context)
	RunRetryRelay(ctx context.Context)

	// Операционная поверхность: HTTP и cron.
	GetProgress(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error)
	GetDeliveryStatus(ctx context.Context, intentID uuid.UUID) (*service.DeliveryStatus, error)
	GetTaskRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error)
	PurgeOldDeliveryRecords(ctx context.Context)

	HealthCheck(ctx context.Context) (dbHealthy, kafkaHealthy, redisHealthy bool, err error)
}

type UseCase struct {
	service service.Service
	logger  *zap.SugaredLogger
	conf    *config.Config
}

func NewUseCase(service service.Service, logger *zap.SugaredLogger, conf *config.Config) *UseCase {
	return &UseCase{
		service: service,
		logger:  logger,
		conf:    conf,
	}
}

func (u *UseCase) HealthCheck(ctx context.Context) (dbHealthy, kafkaHealthy, redisHealthy bool, err error) {
	return u.service.HealthCheck(ctx)
}

// HandleProgressMessage — граница валидации входящего лога. Нечитаемое или
// структурно битое событие уходит в poison topic и подтверждается (nil):
// яд не должен останавливать партицию. Ошибка наружу — только на сбоях
// инфраструктуры, когда передоставка осмысленна.
func (u *UseCase) HandleProgressMessage(ctx context.Context, raw []byte) error {
	var e entity.ProgressEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		u.service.ReportMalformed(ctx, raw, fmt.Errorf("%w: unmarshal: %v", appers.ErrMalformedEvent, err))
		return nil
	}
	if err := validator.Validate.Struct(&e); err != nil {
		u.service.ReportMalformed(ctx, raw, fmt.Errorf("%w: validate: %v", appers.ErrMalformedEvent, err))
		return nil
	}
	if err := e.CheckShape(); err != nil {
		u.service.ReportMalformed(ctx, raw, fmt.Errorf("%w: shape: %v", appers.ErrMalformedEvent, err))
		return nil
	}

	return u.service.ApplyProgressEvent(ctx, &e)
}

func (u *UseCase) HandleDeliveryTask(ctx context.Context, channel entity.Channel, raw []byte) error {
	return u.service.ProcessDeliveryTask(ctx, channel, raw)
}

func (u *UseCase) RunIntentRouter(ctx context.Context) {
	u.logger.Debug("intent router starting")
	u.service.RouteIntentsRun(ctx)
}

func (u *UseCase) RunRetryRelay(ctx context.Context) {
	u.logger.Debug("retry relay starting")
	u.service.RetryRelayRun(ctx)
}

func (u *UseCase) GetProgress(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error) {
	u.logger.Debugf("[learner: %s, course: %s] GetProgress started", learnerID, courseID)
	return u.service.GetProgress(ctx, learnerID, courseID)
}

func (u *UseCase) GetDeliveryStatus(ctx context.Context, intentID uuid.UUID) (*service.DeliveryStatus, error) {
	u.logger.Debugf("[intent: %s] GetDeliveryStatus started", intentID)
	return u.service.GetDeliveryStatus(ctx, intentID)
}

func (u *UseCase) GetTaskRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error) {
	u.logger.Debugf("[task: %s] GetTaskRecords started", taskID)
	return u.service.GetTaskRecords(ctx, taskID)
}

func (u *UseCase) PurgeOldDeliveryRecords(ctx context.Context) {
	days := u.conf.Cron.RecordRetentionDays
	u.logger.Infof("PurgeOldDeliveryRecords called with retentionDays=%d", days)
	u.service.PurgeOldDeliveryRecords(ctx, &days)
}
