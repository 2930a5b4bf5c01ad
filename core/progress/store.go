package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/irsalhamdi/coursestream/database"
)

var ErrNotFound = errors.New("progress not found")

const selectProgress = `
	SELECT user_id, course_id, completion_rate, current_section, study_minutes,
		last_accessed, completed_at, created_at, updated_at
	FROM progress
	WHERE user_id = $1 AND course_id = $2`

// ensure creates an empty row for the pair unless one exists.
func ensure(ctx context.Context, db sqlx.ExtContext, userID, courseID string, now time.Time) error {
	const q = `
	INSERT INTO progress
		(user_id, course_id, last_accessed, created_at, updated_at)
	VALUES
		($1, $2, $3, $3, $3)
	ON CONFLICT (user_id, course_id) DO NOTHING`

	if _, err := db.ExecContext(ctx, q, userID, courseID, now); err != nil {
		return fmt.Errorf("creating progress: %w", database.NormalizeError(err))
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, userID, courseID string) (Progress, error) {
	var p Progress
	if err := sqlx.GetContext(ctx, db, &p, selectProgress, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, ErrNotFound
		}
		return Progress{}, fmt.Errorf("selecting progress: %w", err)
	}
	return p, nil
}

// FetchOrCreate returns the record, creating an empty one on first access.
func FetchOrCreate(ctx context.Context, db *sqlx.DB, userID, courseID string, now time.Time) (Progress, error) {
	if err := ensure(ctx, db, userID, courseID, now); err != nil {
		return Progress{}, err
	}
	return Fetch(ctx, db, userID, courseID)
}

func FetchTestScores(ctx context.Context, db sqlx.QueryerContext, userID, courseID string) ([]TestScore, error) {
	const q = `
	SELECT score_id, user_id, course_id, assessment_id, score, max_score, completion_time, taken_at
	FROM progress_test_scores
	WHERE user_id = $1 AND course_id = $2
	ORDER BY taken_at, score_id`

	ss := []TestScore{}
	if err := sqlx.SelectContext(ctx, db, &ss, q, userID, courseID); err != nil {
		return nil, fmt.Errorf("selecting test scores: %w", err)
	}
	return ss, nil
}

// UpdateCompletion stores the clamped rate. completed_at is written only
// while it is still null.
func UpdateCompletion(ctx context.Context, db sqlx.ExtContext, userID, courseID string, rate float64, completedAt *time.Time, now time.Time) error {
	rate = clamp(rate)
	if completedAt == nil && rate >= 100 {
		completedAt = &now
	}

	const q = `
	INSERT INTO progress
		(user_id, course_id, completion_rate, last_accessed, completed_at, created_at, updated_at)
	VALUES
		($1, $2, $3, $4, $5, $4, $4)
	ON CONFLICT (user_id, course_id) DO UPDATE SET
		completion_rate = EXCLUDED.completion_rate,
		completed_at = COALESCE(progress.completed_at, EXCLUDED.completed_at),
		last_accessed = EXCLUDED.last_accessed,
		updated_at = EXCLUDED.updated_at`

	if _, err := db.ExecContext(ctx, q, userID, courseID, rate, now, completedAt); err != nil {
		return fmt.Errorf("updating completion: %w", database.NormalizeError(err))
	}
	return nil
}

func UpdateSection(ctx context.Context, db sqlx.ExtContext, userID, courseID string, section int, now time.Time) error {
	const q = `
	INSERT INTO progress
		(user_id, course_id, current_section, last_accessed, created_at, updated_at)
	VALUES
		($1, $2, $3, $4, $4, $4)
	ON CONFLICT (user_id, course_id) DO UPDATE SET
		current_section = EXCLUDED.current_section,
		last_accessed = EXCLUDED.last_accessed,
		updated_at = EXCLUDED.updated_at`

	if _, err := db.ExecContext(ctx, q, userID, courseID, section, now); err != nil {
		return fmt.Errorf("updating section: %w", database.NormalizeError(err))
	}
	return nil
}

func AddStudyMinutes(ctx context.Context, db sqlx.ExtContext, userID, courseID string, minutes int, now time.Time) error {
	const q = `
	INSERT INTO progress
		(user_id, course_id, study_minutes, last_accessed, created_at, updated_at)
	VALUES
		($1, $2, $3, $4, $4, $4)
	ON CONFLICT (user_id, course_id) DO UPDATE SET
		study_minutes = progress.study_minutes + EXCLUDED.study_minutes,
		last_accessed = EXCLUDED.last_accessed,
		updated_at = EXCLUDED.updated_at`

	if _, err := db.ExecContext(ctx, q, userID, courseID, minutes, now); err != nil {
		return fmt.Errorf("adding study minutes: %w", database.NormalizeError(err))
	}
	return nil
}

func AddTestScore(ctx context.Context, db sqlx.ExtContext, s TestScore) error {
	if err := ensure(ctx, db, s.UserID, s.CourseID, s.TakenAt); err != nil {
		return err
	}

	const q = `
	INSERT INTO progress_test_scores
		(score_id, user_id, course_id, assessment_id, score, max_score, completion_time, taken_at)
	VALUES
		(:score_id, :user_id, :course_id, :assessment_id, :score, :max_score, :completion_time, :taken_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, s); err != nil {
		return fmt.Errorf("inserting test score: %w", database.NormalizeError(err))
	}
	return nil
}

func AddInteractions(ctx context.Context, db sqlx.ExtContext, userID, courseID string, is []Interaction, now time.Time) error {
	if len(is) == 0 {
		return nil
	}
	if err := ensure(ctx, db, userID, courseID, now); err != nil {
		return err
	}

	const q = `
	INSERT INTO progress_interactions
		(interaction_id, user_id, course_id, kind, section_id, video_position, payload, occurred_at)
	VALUES
		(:interaction_id, :user_id, :course_id, :kind, :section_id, :video_position, :payload, :occurred_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, is); err != nil {
		return fmt.Errorf("inserting interactions: %w", database.NormalizeError(err))
	}
	return nil
}

func CountInteractions(ctx context.Context, db sqlx.QueryerContext, userID, courseID string) (int, error) {
	const q = `SELECT count(*) FROM progress_interactions WHERE user_id = $1 AND course_id = $2`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, userID, courseID); err != nil {
		return 0, fmt.Errorf("counting interactions: %w", err)
	}
	return n, nil
}
