package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irsalhamdi/coursestream/database"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("course not found")

func Create(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	INSERT INTO courses
		(course_id, name, description, image_url, created_at, updated_at, version)
	VALUES
		(:course_id, :name, :description, :image_url, :created_at, :updated_at, :version)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting course: %w", database.NormalizeError(err))
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	UPDATE courses SET
		name = :name,
		description = :description,
		image_url = :image_url,
		updated_at = :updated_at,
		version = version + 1
	WHERE course_id = :course_id AND version = :version`

	res, err := sqlx.NamedExecContext(ctx, db, q, c)
	if err != nil {
		return fmt.Errorf("updating course[%s]: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating course[%s]: version conflict", c.ID)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (Course, error) {
	const q = `
	SELECT course_id, name, description, image_url, created_at, updated_at, version
	FROM courses
	WHERE course_id = $1`

	var c Course
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}
	return c, nil
}

func FetchAll(ctx context.Context, db sqlx.QueryerContext) ([]Course, error) {
	const q = `
	SELECT course_id, name, description, image_url, created_at, updated_at, version
	FROM courses
	ORDER BY created_at, course_id`

	cs := []Course{}
	if err := sqlx.SelectContext(ctx, db, &cs, q); err != nil {
		return nil, fmt.Errorf("selecting courses: %w", err)
	}
	return cs, nil
}
