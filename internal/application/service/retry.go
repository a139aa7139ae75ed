package service

import (
	"context"
	"encoding/json"
	"time"

	"progress/internal/application/entity"
)

// RetryRelayRun возвращает отложенные повторы в канальные топики.
// Kafka не умеет отложенную доставку, поэтому backoff живёт в БД
// (next_attempt_at), а релей публикует дозревшие задачи заново.
// Тем же механизмом переподнимаются задачи упавших воркеров:
// IN_FLIGHT с истёкшим lease считается брошенной.
func (s *ServiceImpl) RetryRelayRun(ctx context.Context) {
	c := s.conf.Workers
	s.logger.Infow("retry relay started", "batch", c.RetryBatchSize, "lease", c.RetryLease.String(), "poll", c.RetryPollPeriod.String())

	ticker := time.NewTicker(c.RetryPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("retry relay stopping")
			return
		case <-ticker.C:
			tasks, err := s.transactions.GetDueTaskRetries(ctx, c.RetryLease, c.RetryBatchSize)
			if err != nil {
				continue
			}

			for _, t := range tasks {
				s.republishTask(ctx, t)
			}
		}
	}
}

func (s *ServiceImpl) republishTask(ctx context.Context, t entity.DeliveryTask) {
	env := entity.TaskEnvelope{
		TaskID:    t.ID,
		IntentID:  t.IntentID,
		Channel:   t.Channel,
		Recipient: t.Recipient,
		Payload:   t.Payload,
		Attempt:   t.Attempt,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		s.logger.Errorf("[task: %s] marshal envelope failed: %v", t.ID, err)
		return
	}

	if err := s.kafkaProducer.Publish(ctx, s.channelTopic(t.Channel), t.IntentID.String(), raw); err != nil {
		// Резервирование уже сдвинуло next_attempt_at на lease вперёд,
		// следующий цикл попробует снова.
		s.logger.Errorf("[task: %s] republish to %s failed: %v", t.ID, t.Channel, err)
		return
	}

	s.logger.Infof("[task: %s] retry republished to %s, attempt %d", t.ID, t.Channel, t.Attempt)
}
