package service

import (
	"context"
	"errors"
	"testing"

	"progress/internal/application/entity"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func progressEvent(kind entity.EventKind) *entity.ProgressEvent {
	id, _ := uuid.NewV4()
	learner, _ := uuid.NewV4()
	course, _ := uuid.NewV4()
	lesson, _ := uuid.NewV4()
	return &entity.ProgressEvent{
		EventID:    id,
		Kind:       kind,
		LearnerID:  learner,
		CourseID:   course,
		LessonID:   lesson,
		OccurredAt: "2026-08-30T10:00:00Z",
	}
}

func TestApplyProgressEvent_PersistsAggregateAndIntent(t *testing.T) {
	env := newTestEnv()
	e := progressEvent(entity.KindLessonCompleted)

	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), e))

	agg, err := env.repo.GetAggregate(context.Background(), e.LearnerID, e.CourseID)
	require.NoError(t, err)
	require.Equal(t, 25, agg.PercentComplete) // 1 из 4 уроков
	require.Equal(t, int64(1), agg.Version)

	// lesson_completed на 25% даёт lesson-milestone и streak(25)
	require.Len(t, env.store.intents, 2)
}

func TestApplyProgressEvent_RedeliveryInsertsNothing(t *testing.T) {
	env := newTestEnv()
	e := progressEvent(entity.KindLessonCompleted)

	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), e))
	intentsAfterFirst := len(env.store.intents)

	// то же событие ещё раз: агрегат и интенты не меняются
	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), e))

	agg, err := env.repo.GetAggregate(context.Background(), e.LearnerID, e.CourseID)
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.Version)
	require.Len(t, env.store.intents, intentsAfterFirst)
}

func TestApplyProgressEvent_StaleSeqCountedAsRejection(t *testing.T) {
	env := newTestEnv()

	fresh := progressEvent(entity.KindTimeSpent)
	fresh.SequenceNumber = 5
	fresh.TimeSpentSeconds = 120
	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), fresh))

	stale := progressEvent(entity.KindTimeSpent)
	stale.LearnerID, stale.CourseID = fresh.LearnerID, fresh.CourseID
	stale.SequenceNumber = 5
	stale.TimeSpentSeconds = 60
	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), stale))

	agg, err := env.repo.GetAggregate(context.Background(), fresh.LearnerID, fresh.CourseID)
	require.NoError(t, err)
	require.Equal(t, int64(120), agg.TotalTimeSpentSeconds)

	// устаревший seq — отказ stale_seq, а не дубликат
	require.Equal(t, 1.0, testutil.ToFloat64(env.m.Pipeline.EventsRejectedTotal.WithLabelValues("stale_seq")))
	require.Equal(t, 0.0, testutil.ToFloat64(env.m.Pipeline.EventsDuplicateTotal.WithLabelValues(string(entity.KindTimeSpent))))
}

func TestApplyProgressEvent_RetriesCASConflict(t *testing.T) {
	env := newTestEnv()
	env.store.casConflicts = 2 // первые две попытки проигрывают гонку
	e := progressEvent(entity.KindLessonCompleted)

	require.NoError(t, env.svc.ApplyProgressEvent(context.Background(), e))

	agg, err := env.repo.GetAggregate(context.Background(), e.LearnerID, e.CourseID)
	require.NoError(t, err)
	require.Equal(t, 25, agg.PercentComplete)
}

func TestApplyProgressEvent_GivesUpAfterRetryBudget(t *testing.T) {
	env := newTestEnv()
	env.store.casConflicts = 100
	e := progressEvent(entity.KindLessonCompleted)

	err := env.svc.ApplyProgressEvent(context.Background(), e)
	require.Error(t, err)
}

func TestApplyProgressEvent_CatalogFailurePropagates(t *testing.T) {
	env := newTestEnv()
	env.catalog.err = errors.New("catalog unavailable")
	e := progressEvent(entity.KindLessonCompleted)

	// ошибка наружу — событие не подтверждается и придёт снова
	require.Error(t, env.svc.ApplyProgressEvent(context.Background(), e))
	require.Empty(t, env.store.intents)
}

func TestReportMalformed_PublishesToPoisonTopic(t *testing.T) {
	env := newTestEnv()

	env.svc.ReportMalformed(context.Background(), []byte(`{"broken`), errors.New("unexpected EOF"))

	poison := env.producer.byTopic(env.conf.Broker.Kafka.PoisonTopic)
	require.Len(t, poison, 1)
	require.Equal(t, []byte(`{"broken`), poison[0].Value)
}
