package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/stream"
	"github.com/irsalhamdi/coursestream/stream/chapter"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("video not found")

const selectVideo = `
	SELECT video_id, course_id, position, name, description, image_url,
		codec, container, duration, upload_status, transcode_status,
		created_at, updated_at, version
	FROM videos`

// Create inserts the video of a with its tracks, ladder and chapters.
func Create(ctx context.Context, tx sqlx.ExtContext, a Asset) error {
	const q = `
	INSERT INTO videos
		(video_id, course_id, position, name, description, image_url,
		codec, container, duration, upload_status, transcode_status,
		created_at, updated_at, version)
	VALUES
		(:video_id, :course_id, :position, :name, :description, :image_url,
		:codec, :container, :duration, :upload_status, :transcode_status,
		:created_at, :updated_at, :version)`

	if _, err := sqlx.NamedExecContext(ctx, tx, q, a.Video); err != nil {
		return fmt.Errorf("inserting video: %w", database.NormalizeError(err))
	}

	for i, t := range a.Tracks {
		const q = `
		INSERT INTO video_tracks (video_id, position, transport, url, quality, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)`

		if _, err := tx.ExecContext(ctx, q, a.ID, i, t.Transport, t.URL, t.Quality, t.MimeType); err != nil {
			return fmt.Errorf("inserting track %d: %w", i, err)
		}
	}

	for _, ql := range a.Qualities {
		const q = `
		INSERT INTO video_qualities (video_id, label, width, height, bitrate)
		VALUES ($1, $2, $3, $4, $5)`

		if _, err := tx.ExecContext(ctx, q, a.ID, ql.Label, ql.Width, ql.Height, ql.Bitrate); err != nil {
			return fmt.Errorf("inserting quality[%s]: %w", ql.Label, database.NormalizeError(err))
		}
	}

	for _, c := range a.Chapters {
		const q = `
		INSERT INTO video_chapters (chapter_id, video_id, start_time, title, description, thumbnail, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

		if _, err := tx.ExecContext(ctx, q, c.ID, a.ID, c.Start, c.Title, c.Description, c.Thumbnail, c.Kind); err != nil {
			return fmt.Errorf("inserting chapter[%s]: %w", c.ID, database.NormalizeError(err))
		}
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (Video, error) {
	q := selectVideo + ` WHERE video_id = $1`

	var v Video
	if err := sqlx.GetContext(ctx, db, &v, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Video{}, ErrNotFound
		}
		return Video{}, fmt.Errorf("selecting video[%s]: %w", id, err)
	}
	return v, nil
}

func FetchByCourse(ctx context.Context, db sqlx.QueryerContext, courseID string) ([]Video, error) {
	q := selectVideo + ` WHERE course_id = $1 ORDER BY position`

	vs := []Video{}
	if err := sqlx.SelectContext(ctx, db, &vs, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting videos of course[%s]: %w", courseID, err)
	}
	return vs, nil
}

// FetchAsset loads the video with its tracks, ladder and chapters.
func FetchAsset(ctx context.Context, db sqlx.QueryerContext, id string) (Asset, error) {
	v, err := Fetch(ctx, db, id)
	if err != nil {
		return Asset{}, err
	}

	a := Asset{Video: v}

	const qt = `
	SELECT transport, url, quality, mime_type
	FROM video_tracks
	WHERE video_id = $1
	ORDER BY position`
	a.Tracks = []stream.Track{}
	if err := sqlx.SelectContext(ctx, db, &a.Tracks, qt, id); err != nil {
		return Asset{}, fmt.Errorf("selecting tracks of video[%s]: %w", id, err)
	}

	const qq = `
	SELECT label, width, height, bitrate
	FROM video_qualities
	WHERE video_id = $1
	ORDER BY bitrate`
	a.Qualities = []stream.Quality{}
	if err := sqlx.SelectContext(ctx, db, &a.Qualities, qq, id); err != nil {
		return Asset{}, fmt.Errorf("selecting qualities of video[%s]: %w", id, err)
	}

	const qc = `
	SELECT chapter_id, start_time, title, description, thumbnail, kind
	FROM video_chapters
	WHERE video_id = $1
	ORDER BY start_time`
	a.Chapters = []chapter.Marker{}
	if err := sqlx.SelectContext(ctx, db, &a.Chapters, qc, id); err != nil {
		return Asset{}, fmt.Errorf("selecting chapters of video[%s]: %w", id, err)
	}

	return a, nil
}
