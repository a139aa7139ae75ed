package service

import (
	"encoding/json"
	"fmt"
	"strconv"

	"progress/internal/application/entity"
	"progress/internal/transport/catalog"

	"github.com/gofrs/uuid"
)

// DeriveIntent — чистая деривация интента из milestone. Ключевое свойство
// корректности: intentId детерминирован (uuid v5 от имени milestone), так что
// повторная деривация после передоставки события даёт байт-идентичный id и
// дедупликация ниже по конвейеру становится структурной, а не временной.
func DeriveIntent(learnerID, courseID uuid.UUID, m entity.Milestone, course *catalog.CourseInfo) entity.NotificationIntent {
	id := uuid.NewV5(entity.IntentNamespace, intentName(learnerID, courseID, m))

	payload := entity.IntentPayload{
		Percent:     m.Percent,
		Threshold:   m.Threshold,
		CourseTitle: course.Title,
	}

	switch m.Kind {
	case entity.MilestoneLessonCompleted:
		payload.LessonID = m.LessonID.String()
		payload.LessonTitle = course.LessonTitles[m.LessonID.String()]
		payload.Title = "Lesson completed"
		payload.Message = fmt.Sprintf("You finished %q in %q. Course progress: %d%%.",
			orLessonID(payload.LessonTitle, payload.LessonID), course.Title, m.Percent)
	case entity.MilestoneCourseCompleted:
		payload.Title = "Course completed"
		payload.Message = fmt.Sprintf("Congratulations! You completed %q.", course.Title)
	case entity.MilestoneStreak:
		payload.Title = fmt.Sprintf("%d%% of the course behind you", m.Threshold)
		payload.Message = fmt.Sprintf("You crossed %d%% of %q. Keep going!", m.Threshold, course.Title)
	}

	raw, _ := json.Marshal(payload)

	return entity.NotificationIntent{
		ID:            id,
		LearnerID:     learnerID,
		CourseID:      courseID,
		MilestoneKind: m.Kind,
		Payload:       raw,
		Status:        entity.IntentNew,
	}
}

// intentName — каноническое имя milestone для uuid v5. Для lesson_completed
// и streak идентичность включает урок/порог: у одного агрегата их много.
func intentName(learnerID, courseID uuid.UUID, m entity.Milestone) string {
	name := learnerID.String() + "|" + courseID.String() + "|" + string(m.Kind)
	switch m.Kind {
	case entity.MilestoneLessonCompleted:
		name += "|" + m.LessonID.String()
	case entity.MilestoneStreak:
		name += "|" + strconv.Itoa(m.Threshold)
	}
	return name
}

func orLessonID(title, id string) string {
	if title != "" {
		return title
	}
	return id
}
