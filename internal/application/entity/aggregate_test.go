package entity

import (
	"testing"

	"github.com/gofrs/uuid"
)

func mustV4(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}

func lessonCompleted(t *testing.T, lessonID uuid.UUID) *ProgressEvent {
	t.Helper()
	return &ProgressEvent{
		EventID:  mustV4(t),
		Kind:     KindLessonCompleted,
		LessonID: lessonID,
	}
}

func TestApply_LessonCompletedRecalculatesPercent(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))

	// курс из 10 уроков, завершаем 6-й после пяти готовых
	for i := 0; i < 5; i++ {
		res := agg.Apply(lessonCompleted(t, mustV4(t)), 10, []int{25, 50, 75})
		if !res.Applied {
			t.Fatalf("lesson %d: expected applied", i)
		}
	}
	if agg.PercentComplete != 50 {
		t.Fatalf("expected 50%%, got %d%%", agg.PercentComplete)
	}

	res := agg.Apply(lessonCompleted(t, mustV4(t)), 10, []int{25, 50, 75})
	if agg.PercentComplete != 60 {
		t.Fatalf("expected 60%%, got %d%%", agg.PercentComplete)
	}
	if len(res.Milestones) != 1 || res.Milestones[0].Kind != MilestoneLessonCompleted {
		t.Fatalf("expected single LessonCompleted milestone, got %+v", res.Milestones)
	}
	if agg.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", agg.Status)
	}
}

func TestApply_DuplicateEventIsNoOp(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))
	e := lessonCompleted(t, mustV4(t))

	first := agg.Apply(e, 4, nil)
	if !first.Applied || first.Duplicate {
		t.Fatalf("first apply: %+v", first)
	}
	percent := agg.PercentComplete

	second := agg.Apply(e, 4, nil)
	if !second.Duplicate {
		t.Fatalf("redelivery must be reported as duplicate: %+v", second)
	}
	if agg.PercentComplete != percent {
		t.Fatalf("duplicate mutated percent: %d -> %d", percent, agg.PercentComplete)
	}
	if len(second.Milestones) != 0 {
		t.Fatalf("duplicate emitted milestones: %+v", second.Milestones)
	}
}

func TestApply_NewEventForAlreadyCompletedLesson(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))
	lesson := mustV4(t)

	agg.Apply(lessonCompleted(t, lesson), 4, nil)
	percent := agg.PercentComplete

	// другой eventId на тот же урок: union не меняет набор
	res := agg.Apply(lessonCompleted(t, lesson), 4, nil)
	if !res.Applied || res.Duplicate {
		t.Fatalf("distinct event must apply: %+v", res)
	}
	if agg.PercentComplete != percent {
		t.Fatalf("set union mutated percent: %d -> %d", percent, agg.PercentComplete)
	}
	if len(res.Milestones) != 0 {
		t.Fatalf("no-op completion emitted milestones: %+v", res.Milestones)
	}
}

func TestApply_TimeSpentStaleSequenceRejected(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))

	fresh := &ProgressEvent{EventID: mustV4(t), Kind: KindTimeSpent, SequenceNumber: 7, TimeSpentSeconds: 120}
	if res := agg.Apply(fresh, 10, nil); !res.Applied || res.Stale {
		t.Fatalf("fresh seq must apply: %+v", res)
	}
	if agg.TotalTimeSpentSeconds != 120 {
		t.Fatalf("expected 120s, got %d", agg.TotalTimeSpentSeconds)
	}

	stale := &ProgressEvent{EventID: mustV4(t), Kind: KindTimeSpent, SequenceNumber: 7, TimeSpentSeconds: 60}
	if res := agg.Apply(stale, 10, nil); !res.Duplicate || !res.Stale {
		t.Fatalf("stale seq must be rejected as stale: %+v", res)
	}
	if agg.TotalTimeSpentSeconds != 120 {
		t.Fatalf("stale delta applied: %d", agg.TotalTimeSpentSeconds)
	}
}

func TestApply_StreakThresholdCrossedOnce(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))
	thresholds := []int{25, 50, 75}

	// 2 из 4 уроков: 25% и 50% пересекаются одним событием (0 -> 50)
	agg.Apply(lessonCompleted(t, mustV4(t)), 4, thresholds)
	res := agg.Apply(lessonCompleted(t, mustV4(t)), 4, thresholds)

	var streaks []int
	for _, m := range res.Milestones {
		if m.Kind == MilestoneStreak {
			streaks = append(streaks, m.Threshold)
		}
	}
	if len(streaks) != 1 || streaks[0] != 50 {
		t.Fatalf("25%% пересечён раньше, ожидали только 50: %v", streaks)
	}
}

func TestApply_CourseCompletedEmittedExactlyOnce(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))
	thresholds := []int{25, 50, 75, 100}

	var courseDone int
	for i := 0; i < 10; i++ {
		res := agg.Apply(lessonCompleted(t, mustV4(t)), 10, thresholds)
		for _, m := range res.Milestones {
			if m.Kind == MilestoneCourseCompleted {
				courseDone++
			}
			if m.Kind == MilestoneStreak && m.Threshold >= 100 {
				t.Fatalf("порог 100 обязан покрываться CourseCompleted, не streak")
			}
		}
	}

	if courseDone != 1 {
		t.Fatalf("expected exactly one CourseCompleted, got %d", courseDone)
	}
	if agg.Status != StatusCompleted || agg.PercentComplete != 100 {
		t.Fatalf("final state: %s %d%%", agg.Status, agg.PercentComplete)
	}

	// явный CourseCompleted после фактического завершения — дубликат
	res := agg.Apply(&ProgressEvent{EventID: mustV4(t), Kind: KindCourseCompleted}, 10, thresholds)
	if !res.Duplicate {
		t.Fatalf("explicit completion after 100%% must be duplicate: %+v", res)
	}
}

func TestApply_ExplicitCourseCompletedOverridesPercent(t *testing.T) {
	agg := NewProgressAggregate(mustV4(t), mustV4(t))
	thresholds := []int{25, 50, 75}

	agg.Apply(lessonCompleted(t, mustV4(t)), 10, thresholds) // 10%

	res := agg.Apply(&ProgressEvent{EventID: mustV4(t), Kind: KindCourseCompleted}, 10, thresholds)
	if !res.Applied {
		t.Fatalf("explicit completion must apply: %+v", res)
	}
	if agg.PercentComplete != 100 || agg.Status != StatusCompleted {
		t.Fatalf("state after explicit completion: %s %d%%", agg.Status, agg.PercentComplete)
	}

	var kinds []MilestoneKind
	for _, m := range res.Milestones {
		kinds = append(kinds, m.Kind)
	}
	// 10 -> 100: CourseCompleted плюс все промежуточные streak-пороги
	if len(res.Milestones) != 4 {
		t.Fatalf("expected CourseCompleted + 3 streaks, got %v", kinds)
	}
	if res.Milestones[0].Kind != MilestoneCourseCompleted {
		t.Fatalf("expected CourseCompleted first, got %v", kinds)
	}
}

func TestApply_OrderAcrossLessonsDoesNotMatter(t *testing.T) {
	l1, l2, l3 := mustV4(t), mustV4(t), mustV4(t)

	forward := NewProgressAggregate(mustV4(t), mustV4(t))
	backward := NewProgressAggregate(mustV4(t), mustV4(t))

	for _, l := range []uuid.UUID{l1, l2, l3} {
		forward.Apply(lessonCompleted(t, l), 3, nil)
	}
	for _, l := range []uuid.UUID{l3, l2, l1} {
		backward.Apply(lessonCompleted(t, l), 3, nil)
	}

	if forward.PercentComplete != backward.PercentComplete || forward.Status != backward.Status {
		t.Fatalf("порядок уроков повлиял на итог: %d%%/%s vs %d%%/%s",
			forward.PercentComplete, forward.Status, backward.PercentComplete, backward.Status)
	}
}
