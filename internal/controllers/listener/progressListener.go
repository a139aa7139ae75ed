package listener

import (
	"context"
	"time"

	use_cases "progress/internal/application/use-cases"
	"progress/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ProgressListener читает топик событий прогресса. Контракт offset'а:
// MarkMessage вызывается только после того, как применение события
// закоммичено в БД (или событие уведено в poison). Упали между — событие
// передоставится, идемпотентность агрегата делает повтор безопасным.
type ProgressListener struct {
	group   string
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
	m       *metrics.Metrics
}

func NewProgressListener(group string, usecase use_cases.UseCaser, logger *zap.SugaredLogger, m *metrics.Metrics) *ProgressListener {
	return &ProgressListener{
		group:   group,
		usecase: usecase,
		logger:  logger,
		m:       m,
	}
}

func (k *ProgressListener) Setup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("progress consumer setup success")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues(k.group, "setup").Inc()
	}
	return nil
}

func (k *ProgressListener) Cleanup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("progress consumer cleanup success")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues(k.group, "cleanup").Inc()
	}
	return nil
}

func (k *ProgressListener) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	topic := claim.Topic()

	for msg := range claim.Messages() {
		if k.m != nil {
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Inc()
		}
		start := time.Now()
		k.logger.Debugf("message topic:%q partition:%d offset:%d", msg.Topic, msg.Partition, msg.Offset)

		err := k.usecase.HandleProgressMessage(session.Context(), msg.Value)

		if k.m != nil {
			k.m.Kafka.ConsumerMessagesTotal.WithLabelValues(topic).Inc()
			k.m.Kafka.ConsumerProcessDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Dec()
		}

		if err != nil {
			// Offset не двигаем и выходим из claim: mark более позднего
			// сообщения закоммитил бы и этот offset. После переподключения
			// событие придёт снова.
			k.logger.Errorf("handle progress message failed (partition %d, offset %d): %v", msg.Partition, msg.Offset, err)
			return err
		}

		session.MarkMessage(msg, "")
	}

	return nil
}

// Run гоняет цикл Consume до отмены контекста: выход из Consume без ошибки
// означает ребаланс, а не завершение.
func Run(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler, logger *zap.SugaredLogger) {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			logger.Errorf("consumer group error (topics %v): %v", topics, err)
		}
		if ctx.Err() != nil {
			logger.Infow("consumer loop stopping", "topics", topics)
			return
		}
	}
}
