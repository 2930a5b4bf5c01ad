package player

// EventKind names a media element event.
type EventKind string

const (
	EventLoadedMetadata   EventKind = "loadedmetadata"
	EventDurationChange   EventKind = "durationchange"
	EventTimeUpdate       EventKind = "timeupdate"
	EventPlay             EventKind = "play"
	EventPlaying          EventKind = "playing"
	EventPause            EventKind = "pause"
	EventWaiting          EventKind = "waiting"
	EventEnded            EventKind = "ended"
	EventVolumeChange     EventKind = "volumechange"
	EventRateChange       EventKind = "ratechange"
	EventFullscreenChange EventKind = "fullscreenchange"
	EventPiPChange        EventKind = "pipchange"
	EventError            EventKind = "error"
)

// MediaEvent carries the element state that came with an event. Only the
// fields relevant to Kind are read.
type MediaEvent struct {
	Kind         EventKind
	CurrentTime  float64
	Duration     float64
	Volume       float64
	Muted        bool
	PlaybackRate float64
	Active       bool // fullscreen or picture-in-picture on
	ErrorCode    int
	ErrorMessage string
}

// PlaybackSession is the ephemeral state of one mounted player. It is
// changed only by media events.
type PlaybackSession struct {
	CurrentTime      float64      `json:"currentTime"`
	Duration         float64      `json:"duration"`
	Playing          bool         `json:"playing"`
	Paused           bool         `json:"paused"`
	Buffering        bool         `json:"buffering"`
	Volume           float64      `json:"volume"`
	Muted            bool         `json:"muted"`
	PlaybackRate     float64      `json:"playbackRate"`
	Fullscreen       bool         `json:"fullscreen"`
	PictureInPicture bool         `json:"pictureInPicture"`
	LastError        *PlayerError `json:"lastError,omitempty"`
}

func newSession() PlaybackSession {
	return PlaybackSession{Paused: true, Volume: 1, PlaybackRate: 1}
}

func (s *PlaybackSession) apply(ev MediaEvent) {
	switch ev.Kind {
	case EventLoadedMetadata, EventDurationChange:
		s.Duration = ev.Duration
	case EventTimeUpdate:
		s.CurrentTime = ev.CurrentTime
	case EventPlay:
		s.Paused = false
	case EventPlaying:
		s.Playing = true
		s.Paused = false
		s.Buffering = false
	case EventPause:
		s.Playing = false
		s.Paused = true
	case EventWaiting:
		s.Buffering = true
	case EventEnded:
		s.Playing = false
		s.Paused = true
		s.CurrentTime = s.Duration
	case EventVolumeChange:
		s.Volume = ev.Volume
		s.Muted = ev.Muted
	case EventRateChange:
		s.PlaybackRate = ev.PlaybackRate
	case EventFullscreenChange:
		s.Fullscreen = ev.Active
	case EventPiPChange:
		s.PictureInPicture = ev.Active
	}
}
