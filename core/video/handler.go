package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/coursestream/api/web"
	"github.com/irsalhamdi/coursestream/api/weberr"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/validate"
	"github.com/jmoiron/sqlx"
)

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var vn VideoNew
		if err := web.Decode(w, r, &vn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(vn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if _, err := course.Fetch(ctx, db, vn.CourseID); err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", vn.CourseID, err)
		}

		now := time.Now().UTC()
		a := Asset{
			Video: Video{
				ID:          validate.GenerateID(),
				CourseID:    vn.CourseID,
				Index:       vn.Index,
				Name:        vn.Name,
				Description: vn.Description,
				ImageURL:    vn.ImageURL,
				CreatedAt:   now,
				UpdatedAt:   now,
				Version:     1,
				Metadata:    vn.Metadata,
			},
			Tracks:    vn.Tracks,
			Qualities: vn.Qualities,
			Chapters:  vn.Chapters,
		}

		err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			return Create(ctx, tx, a)
		})
		if err != nil {
			if errors.Is(err, database.ErrDBDuplicatedEntry) {
				return weberr.NewError(err, "video index, quality label or chapter id already taken", http.StatusConflict)
			}
			return fmt.Errorf("creating video: %w", err)
		}

		return web.Respond(ctx, w, a.VideoAsset(), http.StatusCreated)
	}
}

// HandleShow responds with the playable asset.
func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")

		a, err := FetchAsset(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching video[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, a.VideoAsset(), http.StatusOK)
	}
}

func HandleListByCourse(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		courseID := web.Param(r, "course_id")

		if _, err := course.Fetch(ctx, db, courseID); err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", courseID, err)
		}

		vs, err := FetchByCourse(ctx, db, courseID)
		if err != nil {
			return fmt.Errorf("fetching videos: %w", err)
		}

		return web.Respond(ctx, w, vs, http.StatusOK)
	}
}
