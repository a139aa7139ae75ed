package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progress/internal/application/common"
	"progress/internal/application/entity"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertTask создаёт задачу доставки. Уникальный индекс (intent_id, channel)
// делает повтор роутинга безопасным no-op: возвращается false без ошибки.
func (r *RepoImpl) InsertTask(ctx context.Context, t *entity.DeliveryTask, recoveryDelay time.Duration) (bool, error) {
	r.logger.Debugf("[task: %s, channel: %s] InsertTask started", t.ID, t.Channel)

	var insertedID uuid.UUID
	err := r.db.QueryRow(ctx, insertTaskSQL,
		t.ID, t.IntentID, string(t.Channel), t.Recipient, []byte(t.Payload),
		string(entity.TaskPending), common.PgInterval(recoveryDelay),
	).Scan(&insertedID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows), isDuplicateKeyError(err):
		r.logger.Infof("[intent: %s, channel: %s] idempotent hit: task already exists", t.IntentID, t.Channel)
		return false, nil
	default:
		return false, fmt.Errorf("insert delivery_task: %w", err)
	}
}

func (r *RepoImpl) GetTask(ctx context.Context, id uuid.UUID) (*entity.DeliveryTask, error) {
	var t entity.DeliveryTask
	var channel, status string
	err := r.db.QueryRow(ctx, getTaskSQL, id).Scan(
		&t.ID, &t.IntentID, &channel, &t.Recipient, &t.Payload, &t.Attempt,
		&status, &t.LastError, &t.NextAttemptAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Channel = entity.Channel(channel)
	t.Status = entity.TaskStatus(status)
	return &t, nil
}

func (r *RepoImpl) GetTasksByIntent(ctx context.Context, intentID uuid.UUID) ([]entity.DeliveryTask, error) {
	rows, err := r.db.Query(ctx, getTasksByIntentSQL, intentID)
	if err != nil {
		return nil, fmt.Errorf("get tasks by intent: %w", err)
	}
	defer rows.Close()

	var res []entity.DeliveryTask
	for rows.Next() {
		var t entity.DeliveryTask
		var channel, status string
		if err := rows.Scan(
			&t.ID, &t.IntentID, &channel, &t.Recipient, &t.Payload, &t.Attempt,
			&status, &t.LastError, &t.NextAttemptAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Channel = entity.Channel(channel)
		t.Status = entity.TaskStatus(status)
		res = append(res, t)
	}
	return res, rows.Err()
}

// RescheduleTaskPending откатывает свежесозданную задачу в переигрываемое
// PENDING-состояние после неудачного enqueue: сирота "IN_FLIGHT" не остаётся,
// retry-relay подберёт задачу по next_attempt_at.
func (r *RepoImpl) RescheduleTaskPending(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	_, err := r.db.Exec(ctx, rollbackTaskPendingSQL, id, lastErr, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("reschedule task pending: %w", err)
	}
	return nil
}

// ReserveDueTasks забирает просроченные задачи для retry-relay: отложенные
// повторы и зависшие IN_FLIGHT (воркер умер, лизинг истёк). Лизинг
// сдвигается, чтобы вторая реплика relay не забрала ту же пачку.
func (r *RepoImpl) ReserveDueTasks(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error) {
	r.logger.Debugf("[lease: %s, limit: %d] ReserveDueTasks started", lease, limit)

	rows, err := r.db.Query(ctx, reserveDueTasksSQL, common.PgInterval(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("reserve due tasks: %w", err)
	}
	defer rows.Close()

	var res []entity.DeliveryTask
	for rows.Next() {
		var t entity.DeliveryTask
		var channel, status string
		if err := rows.Scan(
			&t.ID, &t.IntentID, &channel, &t.Recipient, &t.Payload, &t.Attempt,
			&status, &t.LastError, &t.NextAttemptAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reserved task: %w", err)
		}
		t.Channel = entity.Channel(channel)
		t.Status = entity.TaskStatus(status)
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reserve rows err: %w", err)
	}

	return res, nil
}

func (r *RepoImpl) AppendRecord(ctx context.Context, rec *entity.DeliveryRecord) error {
	_, err := r.db.Exec(ctx, insertRecordSQL,
		rec.TaskID, string(rec.FromStatus), string(rec.ToStatus), rec.Attempt, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("append delivery_record: %w", err)
	}
	return nil
}

func (r *RepoImpl) GetRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error) {
	rows, err := r.db.Query(ctx, getRecordsSQL, taskID)
	if err != nil {
		return nil, fmt.Errorf("get delivery records: %w", err)
	}
	defer rows.Close()

	var res []entity.DeliveryRecord
	for rows.Next() {
		var rec entity.DeliveryRecord
		var from, to string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &from, &to, &rec.Attempt, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		rec.FromStatus = entity.TaskStatus(from)
		rec.ToStatus = entity.TaskStatus(to)
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r *RepoImpl) PurgeOldRecords(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		r.logger.Warnf("recordRetentionDays is 0, skipping purge to prevent deleting the whole audit")
		return 0, nil
	}

	r.logger.Infof("start purging delivery records older than %d days", days)

	result, err := r.db.Exec(ctx, purgeOldRecordsSQL, days)
	if err != nil {
		return 0, fmt.Errorf("purge delivery records: %w", err)
	}
	return result.RowsAffected(), nil
}
