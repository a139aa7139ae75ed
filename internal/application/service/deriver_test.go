package service

import (
	"encoding/json"
	"testing"

	"progress/internal/application/entity"
	"progress/internal/transport/catalog"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestDeriveIntent_DeterministicID(t *testing.T) {
	learner, _ := uuid.NewV4()
	course, _ := uuid.NewV4()
	lesson, _ := uuid.NewV4()
	info := &catalog.CourseInfo{Title: "Distributed Systems", LessonCount: 10}

	m := entity.Milestone{Kind: entity.MilestoneLessonCompleted, LessonID: lesson, Percent: 30}

	first := DeriveIntent(learner, course, m, info)
	second := DeriveIntent(learner, course, m, info)

	// повторная деривация того же milestone — байт-в-байт тот же id
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, entity.IntentNew, first.Status)
}

func TestDeriveIntent_DistinctMilestonesGetDistinctIDs(t *testing.T) {
	learner, _ := uuid.NewV4()
	course, _ := uuid.NewV4()
	l1, _ := uuid.NewV4()
	l2, _ := uuid.NewV4()
	info := &catalog.CourseInfo{Title: "Algorithms", LessonCount: 4}

	a := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneLessonCompleted, LessonID: l1, Percent: 25}, info)
	b := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneLessonCompleted, LessonID: l2, Percent: 50}, info)
	require.NotEqual(t, a.ID, b.ID)

	s25 := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneStreak, Threshold: 25, Percent: 25}, info)
	s50 := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneStreak, Threshold: 50, Percent: 50}, info)
	require.NotEqual(t, s25.ID, s50.ID)

	done := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneCourseCompleted, Percent: 100}, info)
	require.NotEqual(t, a.ID, done.ID)
	require.NotEqual(t, s25.ID, done.ID)
}

func TestDeriveIntent_PayloadCarriesCourseFacts(t *testing.T) {
	learner, _ := uuid.NewV4()
	course, _ := uuid.NewV4()
	lesson, _ := uuid.NewV4()
	info := &catalog.CourseInfo{
		Title:        "Databases",
		LessonCount:  5,
		LessonTitles: map[string]string{lesson.String(): "Indexes"},
	}

	in := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneLessonCompleted, LessonID: lesson, Percent: 40}, info)

	var p entity.IntentPayload
	require.NoError(t, json.Unmarshal(in.Payload, &p))
	require.Equal(t, "Databases", p.CourseTitle)
	require.Equal(t, "Indexes", p.LessonTitle)
	require.Equal(t, 40, p.Percent)
	require.NotEmpty(t, p.Title)
	require.Contains(t, p.Message, "Indexes")
}

func TestDeriveIntent_StreakMentionsThreshold(t *testing.T) {
	learner, _ := uuid.NewV4()
	course, _ := uuid.NewV4()
	info := &catalog.CourseInfo{Title: "Networking", LessonCount: 8}

	in := DeriveIntent(learner, course, entity.Milestone{Kind: entity.MilestoneStreak, Threshold: 75, Percent: 75}, info)

	var p entity.IntentPayload
	require.NoError(t, json.Unmarshal(in.Payload, &p))
	require.Equal(t, 75, p.Threshold)
	require.Contains(t, p.Message, "Networking")
}
