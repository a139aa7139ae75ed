package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"progress/internal/application/common"
	"progress/internal/application/entity"
	"progress/internal/transport/sender"
)

// ProcessDeliveryTask обрабатывает один конверт из канального топика.
// Возврат nil означает "подтвердить offset"; ошибка — передоставку.
// Нечитаемый конверт подтверждаем сразу: повтор его не вылечит,
// а задача в БД останется и уйдёт в retry-relay по lease.
func (s *ServiceImpl) ProcessDeliveryTask(ctx context.Context, channel entity.Channel, raw []byte) error {
	var env entity.TaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Errorf("[channel: %s] malformed task envelope skipped: %v", channel, err)
		return nil
	}
	s.logger.Debugf("[task: %s] delivery started, channel: %s, attempt: %d", env.TaskID, channel, env.Attempt)

	snd, ok := s.senders[channel]
	if !ok {
		s.logger.Errorf("[task: %s] no sender for channel %q", env.TaskID, channel)
		return nil
	}

	if slots, ok := s.sendSlots[channel]; ok && cap(slots) > 0 {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Lease IN_FLIGHT перекрывает таймаут отправки: упавший воркер
	// не блокирует задачу дольше, чем retry-relay сможет её переподнять.
	lease := s.conf.Workers.SendTimeout + s.conf.Workers.RetryLease
	task, taken, err := s.transactions.BeginTaskAttempt(ctx, env.TaskID, lease)
	if err != nil {
		return fmt.Errorf("[task: %s] begin attempt: %w", env.TaskID, err)
	}
	if !taken {
		// Дубликат конверта или гонка с другим воркером — молча уступаем.
		s.logger.Debugf("[task: %s] attempt not taken (status %s)", env.TaskID, task.Status)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.conf.Workers.SendTimeout)
	start := time.Now()
	sendErr := snd.Send(sendCtx, task.Recipient, task.Payload)
	cancel()

	permanent := errors.Is(sendErr, sender.ErrPermanent)

	if s.m != nil {
		result := "ok"
		switch {
		case sendErr == nil:
		case permanent:
			result = "permanent"
		default:
			result = "transient"
		}
		s.m.Dispatch.SendLatencySeconds.WithLabelValues(string(channel), result).Observe(time.Since(start).Seconds())
	}

	if sendErr == nil {
		if err := s.transactions.FinishTaskAttempt(ctx, task, entity.TaskDelivered, "", time.Time{}); err != nil {
			// Отправка состоялась; повторно слать нельзя. Статус добьётся
			// при передоставке конверта: BeginTaskAttempt увидит IN_FLIGHT.
			return fmt.Errorf("[task: %s] mark delivered: %w", task.ID, err)
		}
		if s.m != nil {
			s.m.Dispatch.TasksDelivered.WithLabelValues(string(channel)).Inc()
		}
		s.logger.Infof("[task: %s] delivered via %s, attempt %d", task.ID, channel, task.Attempt)
		return nil
	}

	exhausted := task.Attempt >= s.conf.Workers.MaxAttempts
	if permanent || exhausted {
		return s.deadLetter(ctx, task, env, sendErr, permanent)
	}

	backoff := common.BackoffWithJitter(s.conf.Workers.BaseBackoff, s.conf.Workers.MaxBackoff, task.Attempt)
	next := time.Now().UTC().Add(backoff)
	if err := s.transactions.FinishTaskAttempt(ctx, task, entity.TaskFailed, sendErr.Error(), next); err != nil {
		return fmt.Errorf("[task: %s] mark failed: %w", task.ID, err)
	}
	if s.m != nil {
		s.m.Dispatch.TasksRetriedTotal.WithLabelValues(string(channel)).Inc()
	}
	s.logger.Warnf("[task: %s] transient failure, retry in %s (attempt %d/%d): %v",
		task.ID, backoff.Round(time.Millisecond), task.Attempt, s.conf.Workers.MaxAttempts, sendErr)
	return nil
}

// deadLetter закрывает задачу навсегда и уводит конверт в dead-letter topic.
// Публикация best-effort: терминальный статус в БД первичен, аудит-запись
// фиксирует причину независимо от судьбы сообщения.
func (s *ServiceImpl) deadLetter(ctx context.Context, task *entity.DeliveryTask, env entity.TaskEnvelope, cause error, permanent bool) error {
	reason := fmt.Sprintf("attempts exhausted (%d): %v", task.Attempt, cause)
	if permanent {
		reason = fmt.Sprintf("permanent failure: %v", cause)
	}

	if err := s.transactions.FinishTaskAttempt(ctx, task, entity.TaskDeadLettered, reason, time.Time{}); err != nil {
		return fmt.Errorf("[task: %s] mark dead-lettered: %w", task.ID, err)
	}
	if s.m != nil {
		s.m.Dispatch.TasksDeadLetteredTotal.WithLabelValues(string(task.Channel)).Inc()
	}

	env.Attempt = task.Attempt
	if raw, err := json.Marshal(env); err == nil {
		if err := s.kafkaProducer.Publish(ctx, s.conf.Broker.Kafka.DeadLetterTopic, task.IntentID.String(), raw); err != nil {
			s.logger.Errorf("[task: %s] dead-letter publish failed: %v", task.ID, err)
		}
	}

	s.logger.Errorf("[task: %s] dead-lettered: %s", task.ID, reason)
	return nil
}
