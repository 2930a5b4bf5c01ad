package player

import "github.com/irsalhamdi/coursestream/stream"

// AutoLevel tells an engine to switch bitrate on its own.
const AutoLevel = -1

// MediaElement is the host media element the player drives.
type MediaElement interface {
	SetSource(url string)
	CurrentTime() float64
	SetCurrentTime(t float64)
	Paused() bool
	Play() error
	Pause()

	// CanPlayType reports native support for a MIME type.
	CanPlayType(mime string) bool
}

// EngineError is raised by a streaming engine. Type is the engine's own
// classification, e.g. "network", "media", "mux".
type EngineError struct {
	Type    string
	Details string
	Fatal   bool
}

// Engine is an adaptive streaming engine bound to one media element.
type Engine interface {
	Attach(media MediaElement, manifestURL string) error

	// Levels lists the renditions found in the manifest.
	Levels() []stream.Quality

	// SetLevel pins a rendition by index, AutoLevel restores switching.
	SetLevel(index int)

	// CurrentLevel returns the playing rendition index, or -1 when unknown.
	CurrentLevel() int

	// Reload restarts loading of the current manifest.
	Reload() error

	OnError(func(EngineError))
	Destroy()
}

// EngineProvider reports which engines the host offers and builds them.
type EngineProvider interface {
	IsHLSAvailable() bool
	IsDASHAvailable() bool
	NewHLS() (Engine, error)
	NewDASH() (Engine, error)
}

// NoEngines is a provider for hosts without streaming engines.
type NoEngines struct{}

func (NoEngines) IsHLSAvailable() bool { return false }

func (NoEngines) IsDASHAvailable() bool { return false }

func (NoEngines) NewHLS() (Engine, error) { return nil, ErrEngineUnavailable }

func (NoEngines) NewDASH() (Engine, error) { return nil, ErrEngineUnavailable }
