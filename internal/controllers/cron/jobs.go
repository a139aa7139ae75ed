package cron

import (
	"context"

	use_cases "progress/internal/application/use-cases"

	"go.uber.org/zap"
)

// PurgeRecordsJob - задача для очистки старых записей аудита доставки.
// Сами задачи и интенты не трогаем: аудит-хвост delivery_record растёт
// быстрее всего.
type PurgeRecordsJob struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewPurgeRecordsJob(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *PurgeRecordsJob {
	return &PurgeRecordsJob{
		usecase: usecase,
		logger:  logger,
	}
}

// Run выполняет очистку устаревших записей доставки
func (j *PurgeRecordsJob) Run(ctx context.Context) {
	j.logger.Info("Запуск задачи очистки записей доставки")

	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorf("Паника при выполнении задачи очистки записей: %v", r)
		}
	}()

	j.usecase.PurgeOldDeliveryRecords(ctx)
	j.logger.Info("Задача очистки записей доставки завершена")
}
