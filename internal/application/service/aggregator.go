package service

import (
	"context"
	"errors"
	"fmt"

	"progress/internal/appers"
	"progress/internal/application/common"
	"progress/internal/application/entity"
)

// ApplyProgressEvent — единица работы ингест-пайплайна: прочитать агрегат,
// применить событие, в одной транзакции записать CAS-обновление и интенты
// milestone'ов. Ошибка наружу означает "не подтверждать offset" — событие
// будет передоставлено, повтор безопасен благодаря правилам идемпотентности.
func (s *ServiceImpl) ApplyProgressEvent(ctx context.Context, e *entity.ProgressEvent) error {
	s.logger.Debugf("[event: %s, kind: %s] ApplyProgressEvent started", e.EventID, e.Kind)

	course, err := s.catalog.Course(ctx, e.CourseID)
	if err != nil {
		return fmt.Errorf("resolve course %s: %w", e.CourseID, err)
	}

	retries := s.conf.Aggregator.CASRetries
	for attempt := 0; ; attempt++ {
		agg, err := s.repo.GetAggregate(ctx, e.LearnerID, e.CourseID)
		if err != nil {
			return err
		}
		readVersion := agg.Version

		res := agg.Apply(e, course.LessonCount, s.conf.Aggregator.Thresholds)
		if res.Stale {
			s.logger.Infof("[event: %s] %v: seq=%d (key %s)",
				e.EventID, appers.ErrStaleSequence, e.SequenceNumber, e.PartitionKey())
			if s.m != nil {
				s.m.Pipeline.EventsRejectedTotal.WithLabelValues("stale_seq").Inc()
			}
			return nil
		}
		if res.Duplicate {
			s.logger.Infof("[event: %s] duplicate delivery skipped (key %s)", e.EventID, e.PartitionKey())
			if s.m != nil {
				s.m.Pipeline.EventsDuplicateTotal.WithLabelValues(string(e.Kind)).Inc()
			}
			return nil
		}
		if !res.Applied {
			s.logger.Warnf("[event: %s] unknown event kind %q, skipped", e.EventID, e.Kind)
			return nil
		}

		intents := make([]entity.NotificationIntent, 0, len(res.Milestones))
		for _, m := range res.Milestones {
			intents = append(intents, DeriveIntent(e.LearnerID, e.CourseID, m, course))
		}

		inserted, err := s.transactions.ApplyAggregate(ctx, agg, readVersion, intents)
		if errors.Is(err, appers.ErrCASConflict) {
			if attempt >= retries {
				return fmt.Errorf("[event: %s] apply aggregate: %w after %d retries", e.EventID, err, retries)
			}
			s.logger.Debugf("[event: %s] CAS conflict, retry %d", e.EventID, attempt+1)
			if err := common.SleepCtx(ctx, common.BackoffWithJitter(s.conf.Workers.BaseBackoff, s.conf.Workers.MaxBackoff, attempt)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("[event: %s] apply aggregate: %w", e.EventID, err)
		}

		if s.cache != nil {
			// агрегат изменился — горячее чтение не должно отдать старьё
			_ = s.cache.Invalidate(ctx, progressCacheKey(e.LearnerID, e.CourseID))
		}

		if s.m != nil {
			s.m.Pipeline.EventsConsumedTotal.WithLabelValues(string(e.Kind)).Inc()
			s.m.Pipeline.AggregatesUpdated.Inc()
			if inserted > 0 {
				for _, in := range intents {
					s.m.Pipeline.MilestonesEmitted.WithLabelValues(string(in.MilestoneKind)).Inc()
				}
			}
		}

		s.logger.Infof("[event: %s] applied: percent=%d%%, milestones=%d",
			e.EventID, agg.PercentComplete, len(res.Milestones))
		return nil
	}
}

// ReportMalformed отправляет нечитаемое событие в poison topic. Offset
// подтверждается в любом случае: яд не должен блокировать партицию.
func (s *ServiceImpl) ReportMalformed(ctx context.Context, raw []byte, reason error) {
	s.logger.Warnf("malformed event routed to poison: %v", reason)
	if s.m != nil {
		s.m.Pipeline.EventsRejectedTotal.WithLabelValues("malformed").Inc()
	}

	if err := s.kafkaProducer.Publish(ctx, s.conf.Broker.Kafka.PoisonTopic, "", raw); err != nil {
		// Сообщение уже залогировано; потерянный яд не критичен для прогресса
		s.logger.Errorf("poison publish failed: %v", err)
	}
}
