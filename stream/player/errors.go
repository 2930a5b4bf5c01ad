package player

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDestroyed         = errors.New("player destroyed")
	ErrNoAsset           = errors.New("no video loaded")
	ErrNoMedia           = errors.New("no media element bound")
	ErrNoPlayableTrack   = errors.New("asset has no playable track")
	ErrUnknownQuality    = errors.New("unknown quality")
	ErrEngineUnavailable = errors.New("streaming engine unavailable")
)

const CodeLoad = "LOAD_ERROR"

// Native media error codes as reported by the host element.
const (
	MediaErrAborted        = 1
	MediaErrNetwork        = 2
	MediaErrDecode         = 3
	MediaErrSrcUnsupported = 4
)

// PlayerError is the single error shape reported to error listeners.
type PlayerError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Err         error     `json:"-"`
}

func (e *PlayerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PlayerError) Unwrap() error { return e.Err }

// ErrorListener receives normalized player errors.
type ErrorListener func(*PlayerError)

func loadError(err error, now time.Time) *PlayerError {
	return &PlayerError{
		Code:        CodeLoad,
		Message:     err.Error(),
		Timestamp:   now,
		Recoverable: true,
		Suggestions: []string{
			"Check your internet connection",
			"Refresh the page and try again",
		},
		Err: err,
	}
}

// engineError maps an engine failure to e.g. HLS_NETWORK_ERROR.
func engineError(prefix string, ee EngineError, now time.Time) *PlayerError {
	typ := strings.ToUpper(strings.TrimSuffix(strings.ToLower(ee.Type), "error"))
	typ = strings.Trim(strings.ReplaceAll(typ, " ", "_"), "_")
	if typ == "" {
		typ = "UNKNOWN"
	}

	msg := ee.Details
	if msg == "" {
		msg = fmt.Sprintf("%s %s error", prefix, strings.ToLower(typ))
	}

	pe := &PlayerError{
		Code:        fmt.Sprintf("%s_%s_ERROR", prefix, typ),
		Message:     msg,
		Timestamp:   now,
		Recoverable: !ee.Fatal,
	}

	switch typ {
	case "NETWORK":
		pe.Suggestions = []string{"Check your internet connection", "Try a lower quality"}
	case "MEDIA":
		pe.Suggestions = []string{"Try a different quality", "Refresh the page"}
	default:
		pe.Suggestions = []string{"Refresh the page"}
	}
	if ee.Fatal {
		pe.Suggestions = append(pe.Suggestions, "Contact support if the problem persists")
	}
	return pe
}

// mediaError maps a native media element error code.
func mediaError(code int, message string, now time.Time) *PlayerError {
	pe := &PlayerError{Timestamp: now, Message: message}

	switch code {
	case MediaErrAborted:
		pe.Code = "MEDIA_ABORTED_ERROR"
		pe.Recoverable = true
		pe.Suggestions = []string{"Press play to resume"}
	case MediaErrNetwork:
		pe.Code = "MEDIA_NETWORK_ERROR"
		pe.Recoverable = true
		pe.Suggestions = []string{"Check your internet connection", "Try a lower quality"}
	case MediaErrDecode:
		pe.Code = "MEDIA_DECODE_ERROR"
		pe.Suggestions = []string{"Try a different quality", "Update your browser"}
	case MediaErrSrcUnsupported:
		pe.Code = "MEDIA_SRC_NOT_SUPPORTED_ERROR"
		pe.Suggestions = []string{"Try a different browser"}
	default:
		pe.Code = "MEDIA_UNKNOWN_ERROR"
		pe.Suggestions = []string{"Refresh the page"}
	}

	if pe.Message == "" {
		pe.Message = strings.ToLower(strings.ReplaceAll(pe.Code, "_", " "))
	}
	return pe
}
