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

// InsertIntent кладёт интент с детерминированным id; повторная деривация
// того же milestone даёт конфликт по PK и молчаливый no-op.
// Возвращает true, если вставка реально произошла.
func (r *RepoImpl) InsertIntent(ctx context.Context, in *entity.NotificationIntent) (bool, error) {
	r.logger.Debugf("[intent: %s] InsertIntent started", in.ID)

	var insertedID uuid.UUID
	err := r.db.QueryRow(ctx, insertIntentSQL,
		in.ID, in.LearnerID, in.CourseID, string(in.MilestoneKind), []byte(in.Payload), string(in.Status),
	).Scan(&insertedID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows), isDuplicateKeyError(err):
		r.logger.Infof("[intent: %s] idempotent hit: intent already derived", in.ID)
		return false, nil
	default:
		return false, fmt.Errorf("insert notification_intent: %w", err)
	}
}

func (r *RepoImpl) GetIntent(ctx context.Context, id uuid.UUID) (*entity.NotificationIntent, error) {
	var in entity.NotificationIntent
	var kind, status string
	err := r.db.QueryRow(ctx, getIntentSQL, id).Scan(
		&in.ID, &in.LearnerID, &in.CourseID, &kind, &in.Payload,
		&status, &in.Attempts, &in.NextAttemptAt, &in.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get intent %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	in.MilestoneKind = entity.MilestoneKind(kind)
	in.Status = entity.IntentStatus(status)
	return &in, nil
}

func (r *RepoImpl) ReserveIntentBatch(ctx context.Context, lease time.Duration, limit, maxAttempts int) ([]entity.NotificationIntent, error) {
	r.logger.Debugf("[lease: %s, limit: %d, maxAttempts: %d] ReserveIntentBatch started", lease, limit, maxAttempts)

	rows, err := r.db.Query(ctx, reserveIntentBatchSQL, common.PgInterval(lease), limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("reserve intent batch: %w", err)
	}
	defer rows.Close()

	var res []entity.NotificationIntent
	for rows.Next() {
		var in entity.NotificationIntent
		var kind, status string
		if err := rows.Scan(
			&in.ID, &in.LearnerID, &in.CourseID, &kind, &in.Payload,
			&status, &in.Attempts, &in.NextAttemptAt, &in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reserved intent: %w", err)
		}
		in.MilestoneKind = entity.MilestoneKind(kind)
		in.Status = entity.IntentStatus(status)
		res = append(res, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reserve rows err: %w", err)
	}

	return res, nil
}

func (r *RepoImpl) MarkIntentRouted(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, markIntentRoutedSQL, id, entity.IntentRouted)
	if err != nil {
		return fmt.Errorf("intent mark routed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("[intent %s] not found", id)
	}
	return nil
}

func (r *RepoImpl) MarkIntentFailedWithBackoff(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	_, err := r.db.Exec(ctx, markIntentFailedSQL, id, entity.IntentFailed, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("intent mark failed: %w", err)
	}
	return nil
}

func (r *RepoImpl) MarkIntentGaveUp(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, markIntentGaveUpSQL, id, entity.IntentGaveUp)
	if err != nil {
		return fmt.Errorf("intent mark gave_up: %w", err)
	}
	return nil
}
