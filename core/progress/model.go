package progress

import (
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/irsalhamdi/coursestream/stream/progress"
)

type Progress struct {
	UserID         string     `json:"userId" db:"user_id"`
	CourseID       string     `json:"courseId" db:"course_id"`
	CompletionRate float64    `json:"completionRate" db:"completion_rate"`
	CurrentSection int        `json:"currentSection" db:"current_section"`
	StudyMinutes   int        `json:"studyMinutes" db:"study_minutes"`
	LastAccessed   time.Time  `json:"lastAccessed" db:"last_accessed"`
	CompletedAt    *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

type TestScore struct {
	ID             string    `json:"id" db:"score_id"`
	UserID         string    `json:"userId" db:"user_id"`
	CourseID       string    `json:"courseId" db:"course_id"`
	AssessmentID   string    `json:"assessmentId" db:"assessment_id"`
	Score          float64   `json:"score" db:"score"`
	MaxScore       float64   `json:"maxScore" db:"max_score"`
	CompletionTime int       `json:"completionTime" db:"completion_time"`
	TakenAt        time.Time `json:"takenAt" db:"taken_at"`
}

type Interaction struct {
	ID            string         `db:"interaction_id"`
	UserID        string         `db:"user_id"`
	CourseID      string         `db:"course_id"`
	Kind          string         `db:"kind"`
	SectionID     string         `db:"section_id"`
	VideoPosition *float64       `db:"video_position"`
	Payload       types.JSONText `db:"payload"`
	OccurredAt    time.Time      `db:"occurred_at"`
}

type CompletionUp struct {
	CompletionRate *float64   `json:"completionRate" validate:"required"`
	CompletedAt    *time.Time `json:"completedAt"`
}

type SectionUp struct {
	Section *int `json:"section" validate:"required,gte=0"`
}

type StudyTimeNew struct {
	Minutes int `json:"minutes" validate:"gt=0"`
}

type InteractionsNew struct {
	Interactions []progress.InteractionSample `json:"interactions" validate:"required,dive"`
}

// Record converts p and its scores to the tracker's model.
func (p Progress) Record(scores []TestScore) progress.Record {
	r := progress.Record{
		UserID:         p.UserID,
		CourseID:       p.CourseID,
		CompletionRate: p.CompletionRate,
		CurrentSection: p.CurrentSection,
		StudyMinutes:   p.StudyMinutes,
		LastAccessed:   p.LastAccessed,
		CompletedAt:    p.CompletedAt,
		TestScores:     make([]progress.TestScore, 0, len(scores)),
	}
	for _, s := range scores {
		r.TestScores = append(r.TestScores, progress.TestScore{
			AssessmentID:   s.AssessmentID,
			Score:          s.Score,
			MaxScore:       s.MaxScore,
			CompletionTime: s.CompletionTime,
			TakenAt:        s.TakenAt,
		})
	}
	return r
}

func clamp(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 100:
		return 100
	default:
		return rate
	}
}
