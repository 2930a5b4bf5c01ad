package progress

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by a Store when the user has never opened
// the course.
var ErrRecordNotFound = errors.New("progress record not found")

// Record is the persisted progress of one user in one course.
type Record struct {
	UserID         string      `json:"userId"`
	CourseID       string      `json:"courseId"`
	CompletionRate float64     `json:"completionRate"`
	CurrentSection int         `json:"currentSection"`
	StudyMinutes   int         `json:"studyMinutes"`
	LastAccessed   time.Time   `json:"lastAccessed"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	TestScores     []TestScore `json:"testScores"`
}

// TestScore is one assessment result. CompletionTime is in seconds.
type TestScore struct {
	AssessmentID   string    `json:"assessmentId" validate:"required"`
	Score          float64   `json:"score" validate:"gte=0"`
	MaxScore       float64   `json:"maxScore" validate:"gt=0"`
	CompletionTime int       `json:"completionTime" validate:"gte=0"`
	TakenAt        time.Time `json:"takenAt"`
}

// Passed reports whether the score reaches threshold (a share of MaxScore).
func (s TestScore) Passed(threshold float64) bool {
	if s.MaxScore <= 0 {
		return false
	}
	return s.Score >= threshold*s.MaxScore
}

func (r Record) clone() Record {
	out := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.TestScores = make([]TestScore, len(r.TestScores))
	copy(out.TestScores, r.TestScores)
	return out
}

// Store is the persistence collaborator. All calls may fail; failures are
// reported and retried by the next natural update.
type Store interface {
	FetchProgress(ctx context.Context, userID, courseID string) (Record, error)
	UpdateCompletionRate(ctx context.Context, userID, courseID string, rate float64, completedAt *time.Time) error
	UpdateCurrentSection(ctx context.Context, userID, courseID string, section int) error
	AddStudyMinutes(ctx context.Context, userID, courseID string, minutes int) error
	AddTestScore(ctx context.Context, userID, courseID string, score TestScore) error
}

// InteractionRecorder is implemented by stores that keep flushed
// interaction samples.
type InteractionRecorder interface {
	RecordInteractions(ctx context.Context, userID, courseID string, samples []InteractionSample) error
}

// AnalyticsMirror receives copies of the analytics snapshot on flush.
type AnalyticsMirror interface {
	MirrorAnalytics(ctx context.Context, userID, courseID string, a Analytics) error
}
