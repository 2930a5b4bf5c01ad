package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/irsalhamdi/coursestream/api/web"
	"github.com/irsalhamdi/coursestream/api/weberr"
	"github.com/irsalhamdi/coursestream/cache"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/stream/progress"
	"github.com/irsalhamdi/coursestream/validate"
)

func owner(r *http.Request) (userID, courseID string) {
	return web.Param(r, "user_id"), web.Param(r, "course_id")
}

// writeError maps store errors onto responses.
func writeError(err error, userID, courseID string) error {
	if errors.Is(err, database.ErrDBMissingParent) || errors.Is(err, course.ErrNotFound) {
		return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{
			"user_id":   userID,
			"course_id": courseID,
		}))
	}
	return err
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		if _, err := course.Fetch(ctx, db, courseID); err != nil {
			return writeError(err, userID, courseID)
		}

		p, err := FetchOrCreate(ctx, db, userID, courseID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("fetching progress of user[%s] in course[%s]: %w", userID, courseID, writeError(err, userID, courseID))
		}

		scores, err := FetchTestScores(ctx, db, userID, courseID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, p.Record(scores), http.StatusOK)
	}
}

func HandleUpdateCompletion(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		var up CompletionUp
		if err := web.DecodeValid(w, r, &up); err != nil {
			return err
		}

		err := UpdateCompletion(ctx, db, userID, courseID, *up.CompletionRate, up.CompletedAt, time.Now().UTC())
		if err != nil {
			return writeError(err, userID, courseID)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleUpdateSection(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		var up SectionUp
		if err := web.DecodeValid(w, r, &up); err != nil {
			return err
		}

		if err := UpdateSection(ctx, db, userID, courseID, *up.Section, time.Now().UTC()); err != nil {
			return writeError(err, userID, courseID)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleAddStudyTime(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		var sn StudyTimeNew
		if err := web.DecodeValid(w, r, &sn); err != nil {
			return err
		}

		if err := AddStudyMinutes(ctx, db, userID, courseID, sn.Minutes, time.Now().UTC()); err != nil {
			return writeError(err, userID, courseID)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleAddTestScore(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		var in progress.TestScore
		if err := web.DecodeValid(w, r, &in); err != nil {
			return err
		}

		s := newTestScore(userID, courseID, in, time.Now().UTC())
		err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			return AddTestScore(ctx, tx, s)
		})
		if err != nil {
			return writeError(err, userID, courseID)
		}

		return web.Respond(ctx, w, s, http.StatusCreated)
	}
}

func HandleAddInteractions(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		var in InteractionsNew
		if err := web.DecodeValid(w, r, &in); err != nil {
			return err
		}

		now := time.Now().UTC()
		is, err := newInteractions(userID, courseID, in.Interactions, now)
		if err != nil {
			return weberr.BadRequest(err)
		}

		err = database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			return AddInteractions(ctx, tx, userID, courseID, is, now)
		})
		if err != nil {
			return writeError(err, userID, courseID)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleShowAnalytics serves the last mirrored analytics snapshot.
func HandleShowAnalytics(m *cache.Mirror) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		userID, courseID := owner(r)

		a, err := m.Analytics(ctx, userID, courseID)
		if err != nil {
			if errors.Is(err, cache.ErrNotCached) {
				return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{
					"user_id":   userID,
					"course_id": courseID,
				}))
			}
			return err
		}

		return web.Respond(ctx, w, a, http.StatusOK)
	}
}

func newTestScore(userID, courseID string, in progress.TestScore, now time.Time) TestScore {
	taken := in.TakenAt
	if taken.IsZero() {
		taken = now
	}
	return TestScore{
		ID:             validate.GenerateID(),
		UserID:         userID,
		CourseID:       courseID,
		AssessmentID:   in.AssessmentID,
		Score:          in.Score,
		MaxScore:       in.MaxScore,
		CompletionTime: in.CompletionTime,
		TakenAt:        taken.UTC(),
	}
}

func newInteractions(userID, courseID string, samples []progress.InteractionSample, now time.Time) ([]Interaction, error) {
	out := make([]Interaction, 0, len(samples))
	for _, s := range samples {
		payload, err := json.Marshal(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload of %s interaction: %w", s.Kind, err)
		}

		at := s.Timestamp
		if at.IsZero() {
			at = now
		}

		out = append(out, Interaction{
			ID:            validate.GenerateID(),
			UserID:        userID,
			CourseID:      courseID,
			Kind:          string(s.Kind),
			SectionID:     s.SectionID,
			VideoPosition: s.VideoPosition,
			Payload:       payload,
			OccurredAt:    at.UTC(),
		})
	}
	return out, nil
}
