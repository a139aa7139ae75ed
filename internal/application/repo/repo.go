package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"progress/internal/appers"
	"progress/internal/application/entity"
	"progress/pkg/db"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type Repo interface {
	GetAggregate(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error)
	SaveAggregateCAS(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64) error

	InsertIntent(ctx context.Context, in *entity.NotificationIntent) (bool, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*entity.NotificationIntent, error)
	ReserveIntentBatch(ctx context.Context, lease time.Duration, limit, maxAttempts int) ([]entity.NotificationIntent, error)
	MarkIntentRouted(ctx context.Context, id uuid.UUID) error
	MarkIntentFailedWithBackoff(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	MarkIntentGaveUp(ctx context.Context, id uuid.UUID) error

	InsertTask(ctx context.Context, t *entity.DeliveryTask, recoveryDelay time.Duration) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (*entity.DeliveryTask, error)
	GetTasksByIntent(ctx context.Context, intentID uuid.UUID) ([]entity.DeliveryTask, error)
	RescheduleTaskPending(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error
	ReserveDueTasks(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error)

	AppendRecord(ctx context.Context, rec *entity.DeliveryRecord) error
	GetRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error)
	PurgeOldRecords(ctx context.Context, days int) (int64, error)

	HealthCheck(ctx context.Context) error
}

type RepoImpl struct {
	db     db.DB
	logger *zap.SugaredLogger
}

func NewRepo(db db.DB, logger *zap.SugaredLogger) *RepoImpl {
	return &RepoImpl{db: db, logger: logger}
}

func (r *RepoImpl) HealthCheck(ctx context.Context) error {
	// Проверяем доступность БД через простой запрос
	var result int
	err := r.db.QueryRow(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// GetAggregate возвращает агрегат пары (learner, course) либо свежий
// нулевой агрегат с version=0: его сохранение пойдёт через INSERT-ветку CAS.
func (r *RepoImpl) GetAggregate(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error) {
	r.logger.Debugf("[learner: %s, course: %s] start getting aggregate", learnerID, courseID)

	var (
		agg       entity.ProgressAggregate
		completed []byte
		applied   []byte
		status    string
	)
	err := r.db.QueryRow(ctx, getAggregateSQL, learnerID, courseID).Scan(
		&agg.LearnerID, &agg.CourseID, &completed, &applied,
		&agg.TotalTimeSpentSeconds, &agg.LastAppliedSeq, &agg.PercentComplete,
		&status, &agg.Version, &agg.UpdatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return entity.NewProgressAggregate(learnerID, courseID), nil
	case err != nil:
		return nil, fmt.Errorf("get aggregate: %w", err)
	}

	agg.Status = entity.AggregateStatus(status)
	if err := json.Unmarshal(completed, &agg.CompletedLessonIDs); err != nil {
		return nil, fmt.Errorf("decode completed_lesson_ids: %w", err)
	}
	if err := json.Unmarshal(applied, &agg.AppliedEventIDs); err != nil {
		return nil, fmt.Errorf("decode applied_event_ids: %w", err)
	}

	return &agg, nil
}

// SaveAggregateCAS пишет агрегат строго поверх прочитанной версии.
// readVersion == 0 означает INSERT нового ряда; проигранная гонка в обоих
// случаях возвращает appers.ErrCASConflict, вызывающий перечитывает и повторяет.
func (r *RepoImpl) SaveAggregateCAS(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64) error {
	r.logger.Debugf("[learner: %s, course: %s] start CAS save, readVersion=%d", agg.LearnerID, agg.CourseID, readVersion)

	completed, err := json.Marshal(agg.CompletedLessonIDs)
	if err != nil {
		return fmt.Errorf("encode completed_lesson_ids: %w", err)
	}
	applied, err := json.Marshal(agg.AppliedEventIDs)
	if err != nil {
		return fmt.Errorf("encode applied_event_ids: %w", err)
	}

	if readVersion == 0 {
		var insertedVersion int64
		err = r.db.QueryRow(ctx, insertAggregateSQL,
			agg.LearnerID, agg.CourseID, completed, applied,
			agg.TotalTimeSpentSeconds, agg.LastAppliedSeq, agg.PercentComplete, string(agg.Status),
		).Scan(&insertedVersion)
		switch {
		case err == nil:
			agg.Version = insertedVersion
			return nil
		case errors.Is(err, pgx.ErrNoRows), isDuplicateKeyError(err):
			// кто-то успел создать ряд первым
			return appers.ErrCASConflict
		default:
			return fmt.Errorf("insert aggregate: %w", err)
		}
	}

	result, err := r.db.Exec(ctx, updateAggregateCASSQL,
		agg.LearnerID, agg.CourseID, completed, applied,
		agg.TotalTimeSpentSeconds, agg.LastAppliedSeq, agg.PercentComplete, string(agg.Status),
		readVersion,
	)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	if result.RowsAffected() == 0 {
		return appers.ErrCASConflict
	}
	agg.Version = readVersion + 1

	return nil
}

// isDuplicateKeyError проверяет, является ли ошибка ошибкой дубликата ключа (SQLSTATE 23505)
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
