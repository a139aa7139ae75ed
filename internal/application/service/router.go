package service

import (
	"context"
	"encoding/json"
	"time"

	"progress/internal/application/common"
	"progress/internal/application/entity"

	"github.com/gofrs/uuid"
)

// RouteIntentsRun — роутер-релей: периодически резервирует батч NEW/FAILED
// интентов (SKIP LOCKED + lease) и раздаёт их воркерам. Доставка интента
// в канальные топики идемпотентна: задачи защищены UNIQUE(intent_id, channel),
// а повторная публикация конверта безопасна для воркеров.
func (s *ServiceImpl) RouteIntentsRun(ctx context.Context) {
	c := s.conf.Router
	s.logger.Infow("intent router started", "workers", c.Workers, "batch", c.BatchSize, "lease", c.Lease.String())

	jobs := make(chan entity.NotificationIntent, c.BatchSize*2)

	for i := 0; i < c.Workers; i++ {
		go s.routeWorker(ctx, i, jobs)
	}

	ticker := time.NewTicker(c.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("intent router stopping")
			return
		case <-ticker.C:
			intents, err := s.transactions.GetIntentsForRouting(ctx, c)
			if err != nil {
				continue
			}

			s.logger.Debugf("len jobs: %d, len intents: %d", len(jobs), len(intents))
			for _, in := range intents {
				select {
				case jobs <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *ServiceImpl) routeWorker(ctx context.Context, id int, jobs <-chan entity.NotificationIntent) {
	s.logger.Infow("route worker started", "id", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("route worker stopping", "id", id)
			return
		case in := <-jobs:
			s.RouteOne(ctx, id, in)
		}
	}
}

// RouteOne разворачивает один интент в задачи доставки: резолвит контакты,
// создаёт задачу на канал и публикует конверт в канальный топик.
// Частичный успех допустим: уже опубликованные каналы не страдают от
// повторного прохода — вставка задачи станет no-op, конверт — дубликатом,
// который воркер отобьёт по статусу.
func (s *ServiceImpl) RouteOne(ctx context.Context, wid int, in entity.NotificationIntent) {
	s.logger.Debugf("[intent: %s] route started, workerID: %d", in.ID, wid)

	points, err := s.resolveContacts(ctx, in.LearnerID)
	if err != nil {
		s.logger.Errorf("[intent: %s] resolve contacts failed: %v", in.ID, err)
		_ = s.markIntentFailedOrGaveUp(context.Background(), in, common.NextBackoffWithJitter(in.Attempts))
		return
	}
	if len(points) == 0 {
		// Нет ни одного пригодного канала — интенту некуда жить.
		s.logger.Warnf("[intent: %s] no usable contact points, giving up", in.ID)
		_ = s.repo.MarkIntentGaveUp(ctx, in.ID)
		return
	}

	failed := false
	for _, p := range points {
		if err := s.dispatchToChannel(ctx, in, p.Channel, p.Recipient); err != nil {
			s.logger.Errorf("[intent: %s] dispatch to %s failed: %v", in.ID, p.Channel, err)
			failed = true
		}
	}
	if failed {
		_ = s.markIntentFailedOrGaveUp(context.Background(), in, common.NextBackoffWithJitter(in.Attempts))
		return
	}

	if err := s.repo.MarkIntentRouted(ctx, in.ID); err != nil {
		// Задачи уже созданы и опубликованы; статус добьёт следующий цикл,
		// а дубликаты отфильтруются на уникальном ключе задач.
		s.logger.Errorf("[intent: %s] mark routed failed: %v", in.ID, err)
		return
	}

	s.logger.Infof("[intent: %s] routed to %d channel(s)", in.ID, len(points))
}

// dispatchToChannel — задача + конверт для одного канала.
func (s *ServiceImpl) dispatchToChannel(ctx context.Context, in entity.NotificationIntent, ch entity.Channel, recipient string) error {
	if _, known := s.senders[ch]; !known {
		s.logger.Warnf("[intent: %s] channel %q has no sender, skipped", in.ID, ch)
		return nil
	}

	taskID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	task := entity.DeliveryTask{
		ID:        taskID,
		IntentID:  in.ID,
		Channel:   ch,
		Recipient: recipient,
		Payload:   in.Payload,
		Status:    entity.TaskPending,
	}

	// next_attempt_at свежей задачи сдвинут на lease вперёд, чтобы
	// retry-relay не гонялся с прямой публикацией ниже.
	inserted, err := s.repo.InsertTask(ctx, &task, s.conf.Router.Lease)
	if err != nil {
		return err
	}
	if !inserted {
		// Интент уже разворачивали в этот канал (повторный проход роутера).
		// Задачу подберёт retry-relay, когда истечёт её next_attempt_at.
		s.logger.Debugf("[intent: %s] task for %s already exists", in.ID, ch)
		return nil
	}

	env := entity.TaskEnvelope{
		TaskID:    task.ID,
		IntentID:  task.IntentID,
		Channel:   task.Channel,
		Recipient: task.Recipient,
		Payload:   task.Payload,
		Attempt:   task.Attempt,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	key := in.LearnerID.String() + "|" + in.CourseID.String()
	if err := s.kafkaProducer.Publish(ctx, s.channelTopic(ch), key, raw); err != nil {
		// Задача в БД осталась, публикацию повторит retry-relay; двигаем
		// next_attempt_at ближе, чтобы не ждать полный recovery-lease.
		_ = s.repo.RescheduleTaskPending(context.Background(), task.ID, err.Error(),
			time.Now().UTC().Add(common.NextBackoffWithJitter(0)))
		return err
	}

	if s.m != nil {
		s.m.Dispatch.TasksDispatchedTotal.WithLabelValues(string(ch)).Inc()
	}
	return nil
}

// resolveContacts — директория предпочтений с fallback на каналы по умолчанию.
func (s *ServiceImpl) resolveContacts(ctx context.Context, learnerID uuid.UUID) ([]directoryPoint, error) {
	points, err := s.directory.Resolve(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	out := make([]directoryPoint, 0, len(points))
	allowed := map[entity.Channel]bool{}
	for _, ch := range s.conf.Router.DefaultChannels {
		allowed[entity.Channel(ch)] = true
	}
	for _, p := range points {
		if len(allowed) > 0 && !allowed[p.Channel] {
			continue
		}
		out = append(out, directoryPoint{Channel: p.Channel, Recipient: p.Recipient})
	}
	return out, nil
}

type directoryPoint struct {
	Channel   entity.Channel
	Recipient string
}

func (s *ServiceImpl) markIntentFailedOrGaveUp(ctx context.Context, in entity.NotificationIntent, backoff time.Duration) error {
	if in.Attempts+1 >= s.conf.Router.MaxAttempts {
		return s.repo.MarkIntentGaveUp(ctx, in.ID)
	}
	return s.repo.MarkIntentFailedWithBackoff(ctx, in.ID, time.Now().UTC().Add(backoff))
}
