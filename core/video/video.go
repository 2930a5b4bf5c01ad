package video

import (
	"sort"
	"time"

	"github.com/irsalhamdi/coursestream/stream"
	"github.com/irsalhamdi/coursestream/stream/chapter"
)

type Video struct {
	ID          string    `json:"id" db:"video_id"`
	CourseID    string    `json:"courseId" db:"course_id"`
	Index       int       `json:"index" db:"position"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	ImageURL    string    `json:"imageUrl" db:"image_url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
	Version     int       `json:"-" db:"version"`

	stream.Metadata
}

type VideoNew struct {
	CourseID    string           `json:"courseId" validate:"required"`
	Index       int              `json:"index" validate:"gte=0"`
	Name        string           `json:"name" validate:"required"`
	Description string           `json:"description"`
	ImageURL    string           `json:"imageUrl" validate:"omitempty,url"`
	Tracks      []stream.Track   `json:"tracks" validate:"required,min=1,dive"`
	Qualities   []stream.Quality `json:"qualities" validate:"dive"`
	Chapters    []chapter.Marker `json:"chapters" validate:"dive"`
	Metadata    stream.Metadata  `json:"metadata"`
}

// Asset is a video with everything a player needs.
type Asset struct {
	Video
	Tracks    []stream.Track
	Qualities []stream.Quality
	Chapters  []chapter.Marker
}

// VideoAsset converts a to the playback model. Chapters come out sorted
// by start time and qualities by ascending bitrate.
func (a Asset) VideoAsset() stream.VideoAsset {
	chapters := make([]chapter.Marker, len(a.Chapters))
	copy(chapters, a.Chapters)
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Start < chapters[j].Start })

	tracks := make([]stream.Track, len(a.Tracks))
	copy(tracks, a.Tracks)

	return stream.VideoAsset{
		ID:        a.ID,
		Title:     a.Name,
		Tracks:    tracks,
		Qualities: stream.SortByBitrate(a.Qualities),
		Chapters:  chapters,
		Metadata:  a.Metadata,
	}
}
