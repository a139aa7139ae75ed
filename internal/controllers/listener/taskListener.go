package listener

import (
	"time"

	"progress/internal/application/entity"
	use_cases "progress/internal/application/use-cases"
	"progress/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// TaskListener читает канальный топик задач доставки. Один listener на
// канал, consumer group воркеров общая. MarkMessage только при nil от
// обработчика: транзиентный инфраструктурный сбой откладывает offset,
// а бизнес-исходы (ретрай, dead-letter) подтверждаются — их судьба
// уже записана в БД.
type TaskListener struct {
	group   string
	channel entity.Channel
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
	m       *metrics.Metrics
}

func NewTaskListener(group string, channel entity.Channel, usecase use_cases.UseCaser, logger *zap.SugaredLogger, m *metrics.Metrics) *TaskListener {
	return &TaskListener{
		group:   group,
		channel: channel,
		usecase: usecase,
		logger:  logger,
		m:       m,
	}
}

func (k *TaskListener) Setup(session sarama.ConsumerGroupSession) error {
	k.logger.Infof("%s task consumer setup success", k.channel)
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues(k.group, "setup").Inc()
	}
	return nil
}

func (k *TaskListener) Cleanup(session sarama.ConsumerGroupSession) error {
	k.logger.Infof("%s task consumer cleanup success", k.channel)
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues(k.group, "cleanup").Inc()
	}
	return nil
}

func (k *TaskListener) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	topic := claim.Topic()

	for msg := range claim.Messages() {
		if k.m != nil {
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Inc()
		}
		start := time.Now()

		err := k.usecase.HandleDeliveryTask(session.Context(), k.channel, msg.Value)

		if k.m != nil {
			k.m.Kafka.ConsumerMessagesTotal.WithLabelValues(topic).Inc()
			k.m.Kafka.ConsumerProcessDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Dec()
		}

		if err != nil {
			// Выходим из claim, чтобы mark следующих конвертов не закоммитил
			// этот offset; конверт передоставится.
			k.logger.Errorf("handle %s task failed (offset %d): %v", k.channel, msg.Offset, err)
			return err
		}

		session.MarkMessage(msg, "")
	}

	return nil
}
