// Package player plays a VideoAsset through the best transport the host
// offers: an HLS engine, native HLS, a DASH engine, or progressive files.
package player

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/irsalhamdi/coursestream/stream"
	"github.com/irsalhamdi/coursestream/stream/bandwidth"
	"github.com/sirupsen/logrus"
)

const hlsMime = "application/vnd.apple.mpegurl"

type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateHLS         State = "hls"
	StateDASH        State = "dash"
	StateProgressive State = "progressive"
	StateError       State = "error"
	StateDestroyed   State = "destroyed"
)

type Config struct {
	Media     MediaElement
	Engines   EngineProvider
	Bandwidth *bandwidth.Monitor
	Log       logrus.FieldLogger
	Now       func() time.Time
}

type restorePoint struct {
	time    float64
	playing bool
}

// Player binds one media element to at most one transport at a time.
type Player struct {
	media   MediaElement
	engines EngineProvider
	bw      *bandwidth.Monitor
	log     logrus.FieldLogger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	gen       int
	asset     *stream.VideoAsset
	engine    Engine
	native    bool
	source    string
	pinned    string
	reloaded  bool
	pending   *restorePoint
	session   PlaybackSession
	listeners []ErrorListener
}

func New(cfg Config) *Player {
	p := Player{
		media:   cfg.Media,
		engines: cfg.Engines,
		bw:      cfg.Bandwidth,
		log:     cfg.Log,
		now:     cfg.Now,
		state:   StateIdle,
		session: newSession(),
	}

	if p.engines == nil {
		p.engines = NoEngines{}
	}
	if p.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.log = l
	}
	if p.bw == nil {
		p.bw = bandwidth.New(p.log, nil)
	}
	if p.now == nil {
		p.now = time.Now
	}

	return &p
}

// OnError registers an error listener.
func (p *Player) OnError(l ErrorListener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateDestroyed {
		return
	}
	p.listeners = append(p.listeners, l)
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the playback session.
func (p *Player) Session() PlaybackSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// LoadVideo tears down the current transport and binds the asset to the
// first usable one: HLS, then DASH, then progressive. It returns once the
// transport is attached; readiness arrives later as media events.
func (p *Player) LoadVideo(asset stream.VideoAsset) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}

	old := p.engine
	p.gen++
	gen := p.gen
	p.state = StateLoading
	p.asset = &asset
	p.engine = nil
	p.native = false
	p.source = ""
	p.pinned = ""
	p.reloaded = false
	p.pending = nil
	p.session.CurrentTime = 0
	p.session.Duration = asset.Metadata.Duration
	p.session.LastError = nil
	p.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	log := p.log.WithField("asset", asset.ID)

	state, eng, source, err := p.bind(gen, asset, log)
	if err != nil {
		pe := loadError(err, p.now())
		log.WithField("error", err).Error("loading video")

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return pe
		}
		p.state = StateError
		p.session.LastError = pe
		listeners := p.snapshotListeners()
		p.mu.Unlock()

		notify(listeners, pe)
		return pe
	}

	p.mu.Lock()
	if p.gen != gen || p.state == StateDestroyed {
		p.mu.Unlock()
		if eng != nil {
			eng.Destroy()
		}
		return ErrDestroyed
	}
	p.state = state
	p.engine = eng
	p.native = state == StateHLS && eng == nil
	p.source = source
	p.mu.Unlock()

	log.WithField("transport", state).Info("video attached")
	return nil
}

func (p *Player) bind(gen int, asset stream.VideoAsset, log logrus.FieldLogger) (State, Engine, string, error) {
	if p.media == nil {
		return "", nil, "", ErrNoMedia
	}
	if tr, ok := asset.Track(stream.TransportHLS); ok {
		if p.engines.IsHLSAvailable() {
			eng, err := p.attachEngine(gen, "HLS", p.engines.NewHLS, tr.URL)
			if err == nil {
				return StateHLS, eng, tr.URL, nil
			}
			log.WithField("error", err).Warn("hls engine failed, trying other transports")
		}
		if p.media.CanPlayType(hlsMime) {
			p.media.SetSource(tr.URL)
			return StateHLS, nil, tr.URL, nil
		}
	}

	if tr, ok := asset.Track(stream.TransportDASH); ok && p.engines.IsDASHAvailable() {
		eng, err := p.attachEngine(gen, "DASH", p.engines.NewDASH, tr.URL)
		if err == nil {
			return StateDASH, eng, tr.URL, nil
		}
		log.WithField("error", err).Warn("dash engine failed, falling back to progressive")
	}

	tr, ok := p.progressiveTrack(asset)
	if !ok {
		return "", nil, "", ErrNoPlayableTrack
	}
	p.media.SetSource(tr.URL)
	return StateProgressive, nil, tr.URL, nil
}

func (p *Player) attachEngine(gen int, prefix string, build func() (Engine, error), url string) (Engine, error) {
	eng, err := build()
	if err != nil {
		return nil, fmt.Errorf("creating %s engine: %w", strings.ToLower(prefix), err)
	}

	eng.OnError(func(ee EngineError) {
		p.handleEngineError(gen, eng, prefix, ee)
	})

	if err := eng.Attach(p.media, url); err != nil {
		eng.Destroy()
		return nil, fmt.Errorf("attaching %s engine: %w", strings.ToLower(prefix), err)
	}
	return eng, nil
}

// progressiveTrack maps the bandwidth pick to its track, falling back to
// the first progressive track.
func (p *Player) progressiveTrack(asset stream.VideoAsset) (stream.Track, bool) {
	if q, ok := p.bw.OptimalQuality(asset.Qualities); ok {
		if tr, ok := asset.TrackFor(stream.TransportProgressive, q.Label); ok {
			return tr, true
		}
	}
	return asset.Track(stream.TransportProgressive)
}

func (p *Player) handleEngineError(gen int, eng Engine, prefix string, ee EngineError) {
	p.mu.Lock()
	if p.gen != gen || p.state == StateDestroyed {
		p.mu.Unlock()
		return
	}

	pe := engineError(prefix, ee, p.now())

	retry := false
	if ee.Fatal {
		p.state = StateError
	} else if !p.reloaded {
		p.reloaded = true
		retry = true
	}
	p.session.LastError = pe
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"code":        pe.Code,
		"recoverable": pe.Recoverable,
		"retry":       retry,
	}).Warn("streaming engine error")

	// A retried error surfaces only if the reload itself fails.
	if retry {
		err := eng.Reload()
		if err == nil {
			return
		}
		p.log.WithField("error", err).Error("reloading stream")
	}

	notify(listeners, pe)
}

// HandleEvent feeds a media element event into the player.
func (p *Player) HandleEvent(ev MediaEvent) {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return
	}

	p.session.apply(ev)

	var restore *restorePoint
	var pe *PlayerError
	var listeners []ErrorListener
	reloadSource := ""

	switch ev.Kind {
	case EventLoadedMetadata:
		restore = p.pending
		p.pending = nil

	case EventPlaying:
		p.reloaded = false

	case EventError:
		pe = mediaError(ev.ErrorCode, ev.ErrorMessage, p.now())
		p.session.LastError = pe
		if !pe.Recoverable {
			p.state = StateError
		} else if !p.reloaded && p.engine == nil && p.source != "" {
			p.reloaded = true
			reloadSource = p.source
			p.pending = &restorePoint{time: p.session.CurrentTime, playing: !p.session.Paused}
		}
		if reloadSource == "" {
			listeners = p.snapshotListeners()
		}
	}
	p.mu.Unlock()

	if restore != nil {
		p.media.SetCurrentTime(restore.time)
		if restore.playing {
			if err := p.media.Play(); err != nil {
				p.log.WithField("error", err).Warn("resuming playback")
			}
		}
	}

	if reloadSource != "" {
		p.media.SetSource(reloadSource)
	}

	if pe != nil {
		p.log.WithFields(logrus.Fields{
			"code":        pe.Code,
			"recoverable": pe.Recoverable,
		}).Warn("media element error")
		notify(listeners, pe)
	}
}

// SetQuality pins a rung by label, or restores adaptive switching for
// "auto". For progressive playback "auto" does nothing: there is no
// engine to hand control back to.
func (p *Player) SetQuality(label string) error {
	p.mu.Lock()

	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.asset == nil {
		p.mu.Unlock()
		return ErrNoAsset
	}

	if strings.EqualFold(label, stream.AutoLabel) {
		p.pinned = ""
		eng := p.engine
		p.mu.Unlock()

		if eng != nil {
			eng.SetLevel(AutoLevel)
		}
		return nil
	}

	q, ok := p.asset.Quality(label)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuality, label)
	}

	if eng := p.engine; eng != nil {
		idx := levelIndex(eng.Levels(), q)
		if idx < 0 {
			p.mu.Unlock()
			return fmt.Errorf("%w: %s not in manifest", ErrUnknownQuality, label)
		}
		p.pinned = q.Label
		p.mu.Unlock()

		eng.SetLevel(idx)
		return nil
	}

	if p.native {
		p.mu.Unlock()
		return fmt.Errorf("native hls quality control: %w", ErrEngineUnavailable)
	}

	tr, ok := p.asset.TrackFor(stream.TransportProgressive, q.Label)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: no progressive track for %s", ErrUnknownQuality, label)
	}

	p.pending = &restorePoint{time: p.media.CurrentTime(), playing: !p.media.Paused()}
	p.pinned = q.Label
	p.source = tr.URL
	p.mu.Unlock()

	p.media.SetSource(tr.URL)
	return nil
}

// AvailableQualities returns the auto rung followed by the asset's ladder.
func (p *Player) AvailableQualities() []stream.Quality {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []stream.Quality{stream.AutoQuality}
	if p.asset != nil {
		out = append(out, p.asset.Qualities...)
	}
	return out
}

// CurrentQuality returns the pinned rung label, or Auto when nothing is
// pinned or the engine cannot say what it plays.
func (p *Player) CurrentQuality() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pinned == "" {
		return stream.AutoLabel
	}
	if p.engine == nil {
		return p.pinned
	}

	levels := p.engine.Levels()
	idx := p.engine.CurrentLevel()
	if idx < 0 || idx >= len(levels) {
		return stream.AutoLabel
	}

	lvl := levels[idx]
	for _, q := range p.asset.Qualities {
		if q.Label == lvl.Label || (lvl.Height > 0 && q.Height == lvl.Height) {
			return q.Label
		}
	}
	if lvl.Label != "" {
		return lvl.Label
	}
	return stream.AutoLabel
}

// Destroy tears down the active engine and drops all listeners. It is
// safe to call more than once.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return
	}

	eng := p.engine
	p.engine = nil
	p.state = StateDestroyed
	p.gen++
	p.listeners = nil
	p.pending = nil
	p.mu.Unlock()

	if eng != nil {
		eng.Destroy()
	}
}

// snapshotListeners expects p.mu to be held.
func (p *Player) snapshotListeners() []ErrorListener {
	out := make([]ErrorListener, len(p.listeners))
	copy(out, p.listeners)
	return out
}

func notify(listeners []ErrorListener, pe *PlayerError) {
	for _, l := range listeners {
		l(pe)
	}
}

func levelIndex(levels []stream.Quality, q stream.Quality) int {
	for i, l := range levels {
		if l.Label == q.Label {
			return i
		}
	}
	for i, l := range levels {
		if q.Height > 0 && l.Height == q.Height {
			return i
		}
	}
	for i, l := range levels {
		if q.Bitrate > 0 && l.Bitrate == q.Bitrate {
			return i
		}
	}
	return -1
}
