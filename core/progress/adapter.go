package progress

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/stream/progress"
)

// Store serves progress managers running in this process straight from
// the database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FetchProgress(ctx context.Context, userID, courseID string) (progress.Record, error) {
	p, err := Fetch(ctx, s.db, userID, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return progress.Record{}, progress.ErrRecordNotFound
		}
		return progress.Record{}, err
	}

	scores, err := FetchTestScores(ctx, s.db, userID, courseID)
	if err != nil {
		return progress.Record{}, err
	}
	return p.Record(scores), nil
}

func (s *Store) UpdateCompletionRate(ctx context.Context, userID, courseID string, rate float64, completedAt *time.Time) error {
	return UpdateCompletion(ctx, s.db, userID, courseID, rate, completedAt, s.now())
}

func (s *Store) UpdateCurrentSection(ctx context.Context, userID, courseID string, section int) error {
	return UpdateSection(ctx, s.db, userID, courseID, section, s.now())
}

func (s *Store) AddStudyMinutes(ctx context.Context, userID, courseID string, minutes int) error {
	return AddStudyMinutes(ctx, s.db, userID, courseID, minutes, s.now())
}

func (s *Store) AddTestScore(ctx context.Context, userID, courseID string, score progress.TestScore) error {
	ts := newTestScore(userID, courseID, score, s.now())
	return database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		return AddTestScore(ctx, tx, ts)
	})
}

func (s *Store) RecordInteractions(ctx context.Context, userID, courseID string, samples []progress.InteractionSample) error {
	now := s.now()
	is, err := newInteractions(userID, courseID, samples, now)
	if err != nil {
		return err
	}
	return database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		return AddInteractions(ctx, tx, userID, courseID, is, now)
	})
}
