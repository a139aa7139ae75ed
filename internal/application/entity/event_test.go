package entity

import (
	"testing"

	"github.com/gofrs/uuid"
)

func TestCheckShape_LessonEventsRequireLessonID(t *testing.T) {
	e := &ProgressEvent{EventID: mustV4(t), Kind: KindLessonCompleted}
	if err := e.CheckShape(); err == nil {
		t.Fatal("lesson.completed без lessonId должен отклоняться")
	}

	e.LessonID = mustV4(t)
	if err := e.CheckShape(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestCheckShape_TimeSpentRequiresSequence(t *testing.T) {
	e := &ProgressEvent{EventID: mustV4(t), Kind: KindTimeSpent, TimeSpentSeconds: 30}
	if err := e.CheckShape(); err == nil {
		t.Fatal("time_spent без sequenceNumber должен отклоняться")
	}

	e.SequenceNumber = 1
	if err := e.CheckShape(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	e.TimeSpentSeconds = 0
	if err := e.CheckShape(); err == nil {
		t.Fatal("нулевая дельта времени должна отклоняться")
	}
}

func TestCheckShape_CourseCompletedNeedsNoExtras(t *testing.T) {
	e := &ProgressEvent{EventID: mustV4(t), Kind: KindCourseCompleted}
	if err := e.CheckShape(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestPartitionKey(t *testing.T) {
	learner, _ := uuid.FromString("11111111-1111-1111-1111-111111111111")
	course, _ := uuid.FromString("22222222-2222-2222-2222-222222222222")
	e := &ProgressEvent{LearnerID: learner, CourseID: course}

	want := "11111111-1111-1111-1111-111111111111|22222222-2222-2222-2222-222222222222"
	if got := e.PartitionKey(); got != want {
		t.Fatalf("got %q", got)
	}
}
