package entity

import (
	"time"

	"github.com/gofrs/uuid"
)

type AggregateStatus string

const (
	StatusNotStarted AggregateStatus = "NOT_STARTED"
	StatusInProgress AggregateStatus = "IN_PROGRESS"
	StatusCompleted  AggregateStatus = "COMPLETED"
)

type MilestoneKind string

const (
	MilestoneLessonCompleted MilestoneKind = "lesson_completed"
	MilestoneCourseCompleted MilestoneKind = "course_completed"
	MilestoneStreak          MilestoneKind = "streak_milestone"
)

// ProgressAggregate — одна строка на пару (learner, course).
// Store является системой записи; мутация сериализуется через CAS по version.
type ProgressAggregate struct {
	LearnerID uuid.UUID `db:"learner_id"`
	CourseID  uuid.UUID `db:"course_id"`

	// Набор завершённых уроков. Union-семантика — идемпотентно по природе.
	CompletedLessonIDs map[string]bool `db:"completed_lesson_ids"`

	// lastAppliedEventId на каждый урок: повтор того же eventId — no-op.
	AppliedEventIDs map[string]string `db:"applied_event_ids"`

	TotalTimeSpentSeconds int64 `db:"total_time_spent_seconds"`

	// Отсекает redelivery дельт TimeSpent: событие с seq <= LastAppliedSeq
	// не применяется.
	LastAppliedSeq int64 `db:"last_applied_seq"`

	PercentComplete int             `db:"percent_complete"`
	Status          AggregateStatus `db:"status"`
	Version         int64           `db:"version"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// Milestone — факт пересечения уровня прогресса, достойный нотификации.
type Milestone struct {
	Kind      MilestoneKind
	LessonID  uuid.UUID // для lesson_completed
	Threshold int       // для streak_milestone: 25/50/75
	Percent   int       // percentComplete после применения
}

func NewProgressAggregate(learnerID, courseID uuid.UUID) *ProgressAggregate {
	return &ProgressAggregate{
		LearnerID:          learnerID,
		CourseID:           courseID,
		CompletedLessonIDs: map[string]bool{},
		AppliedEventIDs:    map[string]string{},
		Status:             StatusNotStarted,
	}
}

// ApplyResult — исход чистого применения события к агрегату.
type ApplyResult struct {
	Applied    bool // false => дубликат либо устаревший seq
	Duplicate  bool
	Stale      bool // дельта TimeSpent с seq <= last_applied_seq
	Milestones []Milestone
}

// Apply применяет событие к агрегату in-memory. Чистая функция состояния:
// ни БД, ни I/O. lessonCount — число уроков курса (из каталога),
// thresholds — проценты для streak milestone, по возрастанию.
func (a *ProgressAggregate) Apply(e *ProgressEvent, lessonCount int, thresholds []int) ApplyResult {
	switch e.Kind {
	case KindTimeSpent:
		if e.SequenceNumber <= a.LastAppliedSeq {
			return ApplyResult{Duplicate: true, Stale: true}
		}
		a.LastAppliedSeq = e.SequenceNumber
		a.TotalTimeSpentSeconds += e.TimeSpentSeconds
		a.markStarted()
		return ApplyResult{Applied: true}

	case KindLessonStarted:
		if a.seenForLesson(e) {
			return ApplyResult{Duplicate: true}
		}
		a.AppliedEventIDs[e.LessonID.String()] = e.EventID.String()
		a.markStarted()
		return ApplyResult{Applied: true}

	case KindLessonCompleted:
		if a.seenForLesson(e) {
			return ApplyResult{Duplicate: true}
		}
		a.AppliedEventIDs[e.LessonID.String()] = e.EventID.String()
		a.markStarted()

		lesson := e.LessonID.String()
		if a.CompletedLessonIDs[lesson] {
			// событие новое, но урок уже в наборе — set union, состояние не меняется
			return ApplyResult{Applied: true}
		}

		before := a.PercentComplete
		a.CompletedLessonIDs[lesson] = true
		a.recalc(lessonCount)

		ms := []Milestone{{Kind: MilestoneLessonCompleted, LessonID: e.LessonID, Percent: a.PercentComplete}}
		ms = append(ms, a.crossings(before, thresholds)...)
		return ApplyResult{Applied: true, Milestones: ms}

	case KindCourseCompleted:
		if a.Status == StatusCompleted {
			return ApplyResult{Duplicate: true}
		}
		before := a.PercentComplete
		a.Status = StatusCompleted
		a.PercentComplete = 100
		ms := a.crossings(before, thresholds)
		return ApplyResult{Applied: true, Milestones: ms}
	}

	return ApplyResult{}
}

func (a *ProgressAggregate) seenForLesson(e *ProgressEvent) bool {
	return a.AppliedEventIDs[e.LessonID.String()] == e.EventID.String()
}

func (a *ProgressAggregate) markStarted() {
	if a.Status == StatusNotStarted {
		a.Status = StatusInProgress
	}
}

// recalc — percentComplete есть чистая функция от набора завершённых уроков
// и числа уроков курса.
func (a *ProgressAggregate) recalc(lessonCount int) {
	if lessonCount <= 0 {
		return
	}
	a.PercentComplete = len(a.CompletedLessonIDs) * 100 / lessonCount
	if a.PercentComplete >= 100 {
		a.PercentComplete = 100
		a.Status = StatusCompleted
	}
}

// crossings возвращает milestone'ы порогов, пересечённых переходом
// before -> a.PercentComplete. Порог 100% покрыт CourseCompleted и
// streak-дубликата не даёт.
func (a *ProgressAggregate) crossings(before int, thresholds []int) []Milestone {
	var ms []Milestone
	after := a.PercentComplete
	if after >= 100 && before < 100 {
		ms = append(ms, Milestone{Kind: MilestoneCourseCompleted, Percent: 100})
	}
	for _, th := range thresholds {
		if th >= 100 {
			continue
		}
		if before < th && after >= th {
			ms = append(ms, Milestone{Kind: MilestoneStreak, Threshold: th, Percent: after})
		}
	}
	return ms
}
