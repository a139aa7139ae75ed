package entity

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

type IntentStatus string

const (
	IntentNew    IntentStatus = "NEW"
	IntentRouted IntentStatus = "ROUTED"
	IntentFailed IntentStatus = "FAILED"
	IntentGaveUp IntentStatus = "GAVE_UP"
)

// Namespace для детерминированной генерации intentId (uuid v5).
// Менять нельзя: идентичность интентов между перезапусками и репликами
// держится на этом значении.
var IntentNamespace = uuid.Must(uuid.FromString("7b8a1c2e-45f0-4d9b-9e33-d2a6f1c0b581"))

// NotificationIntent — канало-независимое "что сказать, кому и почему".
// Неизменяем после создания; intentId детерминирован от агрегата и вида
// milestone, поэтому повторная деривация даёт байт-в-байт тот же id.
type NotificationIntent struct {
	ID            uuid.UUID       `db:"id"`
	LearnerID     uuid.UUID       `db:"learner_id"`
	CourseID      uuid.UUID       `db:"course_id"`
	MilestoneKind MilestoneKind   `db:"milestone_kind"`
	Payload       json.RawMessage `db:"payload"`
	Status        IntentStatus    `db:"status"`
	Attempts      int             `db:"attempts"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	CreatedAt     time.Time       `db:"created_at"`
}

// IntentPayload — человекочитаемые факты для каналов: готовые title/message
// плюс сырьё, из которого они собраны.
type IntentPayload struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	CourseTitle string `json:"courseTitle,omitempty"`
	LessonTitle string `json:"lessonTitle,omitempty"`
	LessonID    string `json:"lessonId,omitempty"`
	Percent     int    `json:"percent"`
	Threshold   int    `json:"threshold,omitempty"`
}
