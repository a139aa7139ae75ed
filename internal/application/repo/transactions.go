package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progress/internal/application/common"
	"progress/internal/application/entity"
	"progress/pkg/config"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type Transactions interface {
	// ApplyAggregate атомарно пишет CAS-обновление агрегата и интенты
	// эмитированных milestone: milestone никогда не эмитится без
	// закоммиченного изменения состояния и не теряется, если оно закоммичено.
	// Возвращает число реально вставленных интентов (дубликаты — no-op).
	ApplyAggregate(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64, intents []entity.NotificationIntent) (int, error)

	GetIntentsForRouting(ctx context.Context, c config.RouterConfig) ([]entity.NotificationIntent, error)

	// BeginTaskAttempt переводит задачу PENDING/FAILED -> IN_FLIGHT с
	// инкрементом attempt и аудит-записью. ok=false — задача уже в
	// терминальном статусе или захвачена другим воркером.
	BeginTaskAttempt(ctx context.Context, taskID uuid.UUID, lease time.Duration) (*entity.DeliveryTask, bool, error)

	// FinishTaskAttempt закрывает попытку: IN_FLIGHT -> to, плюс аудит-запись.
	FinishTaskAttempt(ctx context.Context, t *entity.DeliveryTask, to entity.TaskStatus, lastErr string, nextAttemptAt time.Time) error

	GetDueTaskRetries(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error)
}

type TransactionsImpl struct {
	repo   *RepoImpl
	logger *zap.SugaredLogger
}

func NewTransactions(repo *RepoImpl, logger *zap.SugaredLogger) *TransactionsImpl {
	return &TransactionsImpl{repo: repo, logger: logger}
}

func (t *TransactionsImpl) ApplyAggregate(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64, intents []entity.NotificationIntent) (int, error) {
	inserted := 0
	err := t.repo.db.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := t.repo.SaveAggregateCAS(ctx, agg, readVersion); err != nil {
			return err
		}

		for i := range intents {
			ok, err := t.repo.InsertIntent(ctx, &intents[i])
			if err != nil {
				t.logger.Errorf("[intent: %s] insert intent failed: %v", intents[i].ID, err)
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (t *TransactionsImpl) GetIntentsForRouting(ctx context.Context, c config.RouterConfig) ([]entity.NotificationIntent, error) {
	var intents []entity.NotificationIntent
	err := t.repo.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		intents, err = t.repo.ReserveIntentBatch(txCtx, c.Lease, c.BatchSize, c.MaxAttempts)
		return err
	})
	if err != nil {
		t.logger.Errorw("reserve intent batch failed", "err", err)
		return nil, err
	}
	return intents, nil
}

func (t *TransactionsImpl) BeginTaskAttempt(ctx context.Context, taskID uuid.UUID, lease time.Duration) (*entity.DeliveryTask, bool, error) {
	var task entity.DeliveryTask
	taken := false

	err := t.repo.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var channel, status string
		err := t.repo.db.QueryRow(ctx, getTaskForUpdateSQL, taskID).Scan(
			&task.ID, &task.IntentID, &channel, &task.Recipient, &task.Payload, &task.Attempt,
			&status, &task.LastError, &task.NextAttemptAt, &task.CreatedAt, &task.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task %s not found: %w", taskID, pgx.ErrNoRows)
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		task.Channel = entity.Channel(channel)
		task.Status = entity.TaskStatus(status)

		// Повторный конверт той же задачи (redelivery, гонка с relay):
		// терминальные и уже захваченные попытки молча уступаем.
		if task.Status != entity.TaskPending && task.Status != entity.TaskFailed {
			return nil
		}

		from := task.Status
		if err := t.repo.db.QueryRow(ctx, markTaskInFlightSQL, taskID, common.PgInterval(lease)).Scan(&task.Attempt); err != nil {
			return fmt.Errorf("mark task in_flight: %w", err)
		}
		task.Status = entity.TaskInFlight

		if err := t.repo.AppendRecord(ctx, &entity.DeliveryRecord{
			TaskID:     task.ID,
			FromStatus: from,
			ToStatus:   entity.TaskInFlight,
			Attempt:    task.Attempt,
		}); err != nil {
			return err
		}

		taken = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &task, taken, nil
}

func (t *TransactionsImpl) FinishTaskAttempt(ctx context.Context, task *entity.DeliveryTask, to entity.TaskStatus, lastErr string, nextAttemptAt time.Time) error {
	return t.repo.db.WithinTransaction(ctx, func(ctx context.Context) error {
		result, err := t.repo.db.Exec(ctx, finishTaskSQL, task.ID, string(to), lastErr, nextAttemptAt)
		if err != nil {
			return fmt.Errorf("finish task attempt: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("[task %s] not found", task.ID)
		}

		if err := t.repo.AppendRecord(ctx, &entity.DeliveryRecord{
			TaskID:     task.ID,
			FromStatus: entity.TaskInFlight,
			ToStatus:   to,
			Attempt:    task.Attempt,
			Error:      lastErr,
		}); err != nil {
			return err
		}

		task.Status = to
		task.LastError = lastErr
		return nil
	})
}

func (t *TransactionsImpl) GetDueTaskRetries(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error) {
	var tasks []entity.DeliveryTask
	err := t.repo.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		tasks, err = t.repo.ReserveDueTasks(txCtx, lease, limit)
		return err
	})
	if err != nil {
		t.logger.Errorw("reserve due tasks failed", "err", err)
		return nil, err
	}
	return tasks, nil
}
