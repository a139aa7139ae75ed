package entity

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type EventKind string

const (
	KindLessonStarted   EventKind = "lesson.started"
	KindLessonCompleted EventKind = "lesson.completed"
	KindCourseCompleted EventKind = "course.completed"
	KindTimeSpent       EventKind = "lesson.time_spent"
)

// ProgressEvent — входящее событие прогресса из Kafka.
// Producer назначает eventId; событие никогда не мутируется,
// доставка at-least-once.
type ProgressEvent struct {
	EventID   uuid.UUID `json:"eventId" validate:"required"`
	Kind      EventKind `json:"eventType" validate:"required,oneof=lesson.started lesson.completed course.completed lesson.time_spent"`
	LearnerID uuid.UUID `json:"learnerId" validate:"required"`
	CourseID  uuid.UUID `json:"courseId" validate:"required"`
	LessonID  uuid.UUID `json:"lessonId,omitempty"`

	// Для TimeSpent: дельта не идемпотентна сама по себе, поэтому producer
	// проставляет монотонный sequenceNumber на partition key.
	TimeSpentSeconds int64 `json:"timeSpentSeconds,omitempty" validate:"omitempty,min=0"`
	SequenceNumber   int64 `json:"sequenceNumber,omitempty" validate:"omitempty,min=1"`

	OccurredAt string `json:"occurredAt" validate:"required,rfc3339"`

	// Конверт события (общие поля всех событий платформы)
	Service       string `json:"service,omitempty"`
	Version       string `json:"version,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// PartitionKey — ключ упорядочивания в логе: события одной пары
// (learner, course) идут строго по порядку.
func (e *ProgressEvent) PartitionKey() string {
	return e.LearnerID.String() + "|" + e.CourseID.String()
}

func (e *ProgressEvent) OccurredTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.OccurredAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CheckShape валидирует kind-специфичные требования, которые не выразить
// тегами: урочные события обязаны нести lessonId, TimeSpent — sequenceNumber.
func (e *ProgressEvent) CheckShape() error {
	switch e.Kind {
	case KindLessonStarted, KindLessonCompleted:
		if e.LessonID == uuid.Nil {
			return fmt.Errorf("%s: lessonId is required", e.Kind)
		}
	case KindTimeSpent:
		if e.SequenceNumber <= 0 {
			return fmt.Errorf("%s: sequenceNumber is required", e.Kind)
		}
		if e.TimeSpentSeconds <= 0 {
			return fmt.Errorf("%s: timeSpentSeconds must be positive", e.Kind)
		}
	case KindCourseCompleted:
		// без дополнительных полей
	}
	return nil
}
