package progress

import "time"

type InteractionKind string

const (
	InteractionBookmark     InteractionKind = "bookmark"
	InteractionNote         InteractionKind = "note"
	InteractionQuizAttempt  InteractionKind = "quiz_attempt"
	InteractionQuizComplete InteractionKind = "quiz_complete"
	InteractionSeek         InteractionKind = "seek"
	InteractionPlay         InteractionKind = "play"
	InteractionPause        InteractionKind = "pause"
	InteractionSpeedChange  InteractionKind = "speed_change"
	InteractionQualityPick  InteractionKind = "quality_change"
	InteractionChapterJump  InteractionKind = "chapter_jump"
)

// PlaybackEvent is a sub-event observed while a watch sample accrued.
type PlaybackEvent struct {
	Kind      string    `json:"kind"`
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// WatchSample is a chunk of watched time inside one section.
type WatchSample struct {
	SectionID      string          `json:"sectionId" validate:"required"`
	WatchedSeconds float64         `json:"watchedSeconds" validate:"gte=0"`
	TotalSeconds   float64         `json:"totalSeconds" validate:"gte=0"`
	Timestamp      time.Time       `json:"timestamp"`
	PlaybackRate   float64         `json:"playbackRate,omitempty" validate:"gte=0"`
	Events         []PlaybackEvent `json:"events,omitempty"`
}

// InteractionSample is one learner action.
type InteractionSample struct {
	Kind          InteractionKind `json:"kind" validate:"required"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       map[string]any  `json:"payload,omitempty"`
	SectionID     string          `json:"sectionId,omitempty"`
	VideoPosition *float64        `json:"videoPosition,omitempty"`
}

// passed reads a quiz result from the payload: either a "passed" flag or
// "score" and "maxScore".
func (s InteractionSample) passed(threshold float64) bool {
	if v, ok := s.Payload["passed"].(bool); ok {
		return v
	}

	score, ok1 := number(s.Payload["score"])
	max, ok2 := number(s.Payload["maxScore"])
	if !ok1 || !ok2 || max <= 0 {
		return false
	}
	return score >= threshold*max
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
