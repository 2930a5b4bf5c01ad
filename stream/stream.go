// Package stream holds the media types shared by the playback components.
package stream

import (
	"sort"

	"github.com/irsalhamdi/coursestream/stream/chapter"
)

// Transport is the delivery method of a track.
type Transport string

const (
	TransportHLS         Transport = "hls"
	TransportDASH        Transport = "dash"
	TransportProgressive Transport = "progressive"
)

// AutoLabel is the label of the synthetic adaptive rung.
const AutoLabel = "Auto"

// Quality is one rung of the ladder. Bitrate is in kbps.
type Quality struct {
	Label   string `json:"label" db:"label" validate:"required"`
	Width   int    `json:"width" db:"width" validate:"gte=0"`
	Height  int    `json:"height" db:"height" validate:"gte=0"`
	Bitrate int    `json:"bitrate" db:"bitrate" validate:"gte=0"`
}

// AutoQuality re-enables adaptive switching when selected.
var AutoQuality = Quality{Label: AutoLabel}

// IsAuto reports whether q is the synthetic adaptive rung.
func (q Quality) IsAuto() bool {
	return q.Bitrate == 0 && q.Label == AutoLabel
}

// Track is one way of delivering the asset.
type Track struct {
	Transport Transport `json:"transport" db:"transport" validate:"required,oneof=hls dash progressive"`
	URL       string    `json:"url" db:"url" validate:"required,url"`
	Quality   string    `json:"quality" db:"quality"`
	MimeType  string    `json:"mimeType,omitempty" db:"mime_type"`
}

type Metadata struct {
	Codec           string  `json:"codec" db:"codec"`
	Container       string  `json:"container" db:"container"`
	Duration        float64 `json:"duration" db:"duration" validate:"gte=0"`
	UploadStatus    string  `json:"uploadStatus" db:"upload_status"`
	TranscodeStatus string  `json:"transcodeStatus" db:"transcode_status"`
}

// VideoAsset is one playable media item. It is not modified after loading.
type VideoAsset struct {
	ID        string           `json:"id" validate:"required"`
	Title     string           `json:"title"`
	Tracks    []Track          `json:"tracks" validate:"required,min=1,dive"`
	Qualities []Quality        `json:"qualities" validate:"dive"`
	Chapters  []chapter.Marker `json:"chapters,omitempty" validate:"dive"`
	Metadata  Metadata         `json:"metadata"`
}

// Track returns the first track using transport t.
func (a VideoAsset) Track(t Transport) (Track, bool) {
	for _, tr := range a.Tracks {
		if tr.Transport == t {
			return tr, true
		}
	}
	return Track{}, false
}

// TrackFor returns the track using transport t tagged with the quality label.
func (a VideoAsset) TrackFor(t Transport, label string) (Track, bool) {
	for _, tr := range a.Tracks {
		if tr.Transport == t && tr.Quality == label {
			return tr, true
		}
	}
	return Track{}, false
}

// Quality looks up a rung by label.
func (a VideoAsset) Quality(label string) (Quality, bool) {
	for _, q := range a.Qualities {
		if q.Label == label {
			return q, true
		}
	}
	return Quality{}, false
}

// SortByBitrate returns the non-auto rungs in ascending bitrate order.
func SortByBitrate(qualities []Quality) []Quality {
	out := make([]Quality, 0, len(qualities))
	for _, q := range qualities {
		if q.IsAuto() {
			continue
		}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bitrate < out[j].Bitrate
	})
	return out
}
