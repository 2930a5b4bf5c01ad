// Package progress tracks a learner's progress through one course: the
// persisted record, a derived analytics snapshot, buffered samples and a
// queue of store writes drained in the background.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotActive is returned by operations on a manager that is not
	// initialized or already destroyed.
	ErrNotActive = errors.New("progress manager is not active")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("progress manager already initialized")

	errWatchStopped = errors.New("watch session stopped")
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config configures a Manager. Zero durations and limits take the defaults.
type Config struct {
	UserID   string
	CourseID string
	Store    Store
	Mirror   AnalyticsMirror
	Log      logrus.FieldLogger

	SyncInterval  time.Duration
	FlushInterval time.Duration
	WatchTick     time.Duration
	SyncThrottle  time.Duration
	WatchLimit    int
	InteractLimit int
	PassThreshold float64
	Now           func() time.Time
}

const (
	DefaultSyncInterval  = 10 * time.Second
	DefaultFlushInterval = 30 * time.Second
	DefaultWatchTick     = time.Second
	DefaultSyncThrottle  = 5 * time.Second
	DefaultWatchLimit    = 10
	DefaultInteractLimit = 20
	DefaultPassThreshold = 0.7
)

func (c *Config) defaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.WatchTick <= 0 {
		c.WatchTick = DefaultWatchTick
	}
	if c.SyncThrottle <= 0 {
		c.SyncThrottle = DefaultSyncThrottle
	}
	if c.WatchLimit <= 0 {
		c.WatchLimit = DefaultWatchLimit
	}
	if c.InteractLimit <= 0 {
		c.InteractLimit = DefaultInteractLimit
	}
	if c.PassThreshold <= 0 {
		c.PassThreshold = DefaultPassThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.Log = l
	}
}

type updateOptions struct {
	skipSync       bool
	skipEngagement bool
}

// UpdateOption tunes a single update call.
type UpdateOption func(*updateOptions)

// WithoutSync applies the update locally without queueing a store write.
func WithoutSync() UpdateOption {
	return func(o *updateOptions) { o.skipSync = true }
}

// SkipEngagement leaves the engagement score untouched.
func SkipEngagement() UpdateOption {
	return func(o *updateOptions) { o.skipEngagement = true }
}

// Manager owns the progress of one user in one course. All methods are
// safe for concurrent use.
type Manager struct {
	cfg Config
	log logrus.FieldLogger

	mu          sync.Mutex
	state       State
	record      Record
	analytics   Analytics
	watchBuf    []WatchSample
	interactBuf []InteractionSample
	sections    map[string]struct{}
	persisted   int
	subs        []subscriber
	nextSub     int
	base        context.Context
	stopTimers  context.CancelFunc
	stopWatch   chan struct{}

	queue syncQueue
}

// New returns an uninitialized manager.
func New(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg: cfg,
		log: cfg.Log.WithFields(logrus.Fields{
			"user_id":   cfg.UserID,
			"course_id": cfg.CourseID,
		}),
		sections: make(map[string]struct{}),
	}
}

// Initialize loads the record, or starts a fresh one when the store has
// none, derives the initial analytics and starts the periodic timers. The
// timers outlive ctx; they stop on Destroy.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.state = StateInitializing
	m.mu.Unlock()

	now := m.cfg.Now()
	rec, err := m.cfg.Store.FetchProgress(ctx, m.cfg.UserID, m.cfg.CourseID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		rec = Record{}
	case err != nil:
		m.mu.Lock()
		m.state = StateUninitialized
		m.mu.Unlock()
		return fmt.Errorf("loading progress: %w", err)
	}
	rec.UserID = m.cfg.UserID
	rec.CourseID = m.cfg.CourseID
	rec.CompletionRate = clamp(rec.CompletionRate)

	analytics := initialAnalytics(rec, now, m.cfg.PassThreshold)
	rec.LastAccessed = now

	base := context.WithoutCancel(ctx)
	timers, cancel := context.WithCancel(base)

	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		cancel()
		return ErrNotActive
	}
	m.record = rec
	m.analytics = analytics
	m.persisted = rec.StudyMinutes
	m.base = base
	m.stopTimers = cancel
	m.state = StateActive
	m.mu.Unlock()

	go m.runTimers(timers)

	m.log.WithFields(logrus.Fields{
		"completion_rate": rec.CompletionRate,
		"section":         rec.CurrentSection,
	}).Info("progress manager initialized")
	return nil
}

func (m *Manager) runTimers(ctx context.Context) {
	syncTicker := time.NewTicker(m.cfg.SyncInterval)
	defer syncTicker.Stop()
	flushTicker := time.NewTicker(m.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			if err := m.drain(ctx, false); err != nil {
				m.log.WithError(err).Warn("periodic sync failed")
			}
		case <-flushTicker.C:
			if m.flushBuffers() > 0 {
				m.kick()
			}
		}
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress returns a copy of the current record.
func (m *Manager) Progress() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.clone()
}

// Analytics returns the current snapshot.
func (m *Manager) Analytics() Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analytics
}

// Pending returns the number of queued store writes.
func (m *Manager) Pending() int {
	return m.queue.len()
}

// Subscribe registers l for every event. The returned func removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: l})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// UpdateCompletionRate sets the completion rate, clamped to [0,100]. The
// first time it reaches 100 the completion time is stamped and a
// course_completed event fires.
func (m *Manager) UpdateCompletionRate(rate float64, opts ...UpdateOption) error {
	o := options(opts)

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	now := m.cfg.Now()
	prev := m.record.CompletionRate
	rate = clamp(rate)
	m.record.CompletionRate = rate
	m.record.LastAccessed = now

	var events []Event
	if prev < 100 && rate >= 100 && m.record.CompletedAt == nil {
		stamp := now
		m.record.CompletedAt = &stamp
		events = append(events, m.event(CourseCompleted{CompletedAt: stamp}, now))
	}
	if !o.skipEngagement {
		m.recomputeEngagement()
	}
	events = append(events, m.event(ProgressUpdated{CompletionRate: rate, PreviousRate: prev}, now))

	var completedAt *time.Time
	if m.record.CompletedAt != nil {
		t := *m.record.CompletedAt
		completedAt = &t
	}
	m.mu.Unlock()

	if !o.skipSync {
		m.enqueue(syncOp{
			name: "update_completion_rate",
			run: func(ctx context.Context) error {
				return m.cfg.Store.UpdateCompletionRate(ctx, m.cfg.UserID, m.cfg.CourseID, rate, completedAt)
			},
		})
	}
	m.emit(events)
	return nil
}

// UpdateCurrentSection moves the learner to section. Moving forward emits
// section_completed for the section left behind.
func (m *Manager) UpdateCurrentSection(section int, opts ...UpdateOption) error {
	o := options(opts)

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	now := m.cfg.Now()
	prev := m.record.CurrentSection
	m.record.CurrentSection = section
	m.record.LastAccessed = now

	var events []Event
	if section > prev {
		events = append(events, m.event(SectionCompleted{CompletedSection: prev, CurrentSection: section}, now))
	}
	m.mu.Unlock()

	if !o.skipSync {
		m.enqueue(syncOp{
			name: "update_current_section",
			run: func(ctx context.Context) error {
				return m.cfg.Store.UpdateCurrentSection(ctx, m.cfg.UserID, m.cfg.CourseID, section)
			},
		})
	}
	m.emit(events)
	return nil
}

// TrackWatchTime buffers s and folds it into the analytics. A sample
// without a section counts toward the current one. A full buffer is
// flushed and synced immediately.
func (m *Manager) TrackWatchTime(s WatchSample) error {
	return m.trackWatch(s, nil)
}

// trackWatch drops samples from a watch ticker that is no longer the
// running one.
func (m *Manager) trackWatch(s WatchSample, ticker chan struct{}) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	if ticker != nil && m.stopWatch != ticker {
		m.mu.Unlock()
		return errWatchStopped
	}

	now := m.cfg.Now()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	if s.SectionID == "" {
		s.SectionID = strconv.Itoa(m.record.CurrentSection)
	}
	m.watchBuf = append(m.watchBuf, s)

	a := &m.analytics
	a.TotalWatchTime += s.WatchedSeconds
	m.record.StudyMinutes = int(math.Floor(a.TotalWatchTime / 60))
	m.record.LastAccessed = now

	if s.SectionID != "" {
		m.sections[s.SectionID] = struct{}{}
	}
	if n := len(m.sections); n > 0 {
		a.AverageWatchTime = a.TotalWatchTime / float64(n)
	}
	if v, ok := LearningVelocity(m.record.CompletionRate, a.TotalWatchTime); ok {
		a.LearningVelocity = v
	}
	m.recomputeEngagement()

	full := len(m.watchBuf) >= m.cfg.WatchLimit
	ev := m.event(AnalyticsUpdated{Analytics: m.analytics}, now)
	m.mu.Unlock()

	m.emit([]Event{ev})
	if full {
		m.flushAndSync()
	}
	return nil
}

// TrackInteraction buffers s and updates the counters it affects.
func (m *Manager) TrackInteraction(s InteractionSample) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	now := m.cfg.Now()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	m.interactBuf = append(m.interactBuf, s)

	a := &m.analytics
	a.InteractionCount++
	switch s.Kind {
	case InteractionBookmark:
		a.BookmarkCount++
	case InteractionNote:
		a.NoteCount++
	case InteractionQuizAttempt:
		a.QuizAttempts++
	case InteractionQuizComplete:
		if a.QuizAttempts == 0 {
			a.QuizAttempts = 1
		}
		a.QuizSuccessRate = BlendSuccessRate(a.QuizSuccessRate, a.QuizAttempts, s.passed(m.cfg.PassThreshold))
	}
	m.record.LastAccessed = now
	m.recomputeEngagement()

	full := len(m.interactBuf) >= m.cfg.InteractLimit
	ev := m.event(AnalyticsUpdated{Analytics: m.analytics}, now)
	m.mu.Unlock()

	m.emit([]Event{ev})
	if full {
		m.flushAndSync()
	}
	return nil
}

// AddTestScore appends score to the record and counts it as a quiz
// attempt.
func (m *Manager) AddTestScore(score TestScore, opts ...UpdateOption) error {
	o := options(opts)

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	now := m.cfg.Now()
	if score.TakenAt.IsZero() {
		score.TakenAt = now
	}
	m.record.TestScores = append(m.record.TestScores, score)
	m.record.LastAccessed = now

	a := &m.analytics
	a.QuizAttempts++
	a.QuizSuccessRate = BlendSuccessRate(a.QuizSuccessRate, a.QuizAttempts, score.Passed(m.cfg.PassThreshold))
	if !o.skipEngagement {
		m.recomputeEngagement()
	}
	ev := m.event(AnalyticsUpdated{Analytics: m.analytics}, now)
	m.mu.Unlock()

	if !o.skipSync {
		m.enqueue(syncOp{
			name: "add_test_score",
			run: func(ctx context.Context) error {
				return m.cfg.Store.AddTestScore(ctx, m.cfg.UserID, m.cfg.CourseID, score)
			},
		})
	}
	m.emit([]Event{ev})
	return nil
}

// RecomputeQuizSuccessRate replaces the running estimate with the exact
// rate over the recorded test scores and resets the attempt count to
// match.
func (m *Manager) RecomputeQuizSuccessRate() (float64, error) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return 0, ErrNotActive
	}

	a := &m.analytics
	a.QuizSuccessRate = ExactQuizSuccessRate(m.record.TestScores, m.cfg.PassThreshold)
	a.QuizAttempts = len(m.record.TestScores)
	m.recomputeEngagement()
	rate := a.QuizSuccessRate
	ev := m.event(AnalyticsUpdated{Analytics: m.analytics}, m.cfg.Now())
	m.mu.Unlock()

	m.emit([]Event{ev})
	return rate, nil
}

// StartWatchSession records one second of watch time in the current
// section every tick until StopWatchSession. Starting twice is a no-op.
func (m *Manager) StartWatchSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return ErrNotActive
	}
	if m.stopWatch != nil {
		return nil
	}

	stop := make(chan struct{})
	m.stopWatch = stop
	go m.watch(stop)
	return nil
}

func (m *Manager) watch(stop chan struct{}) {
	t := time.NewTicker(m.cfg.WatchTick)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			err := m.trackWatch(WatchSample{
				WatchedSeconds: 1,
				TotalSeconds:   1,
				PlaybackRate:   1,
			}, stop)
			if err != nil {
				return
			}
		}
	}
}

// StopWatchSession stops the ticker and flushes the buffers.
func (m *Manager) StopWatchSession() {
	m.mu.Lock()
	if m.stopWatch != nil {
		close(m.stopWatch)
		m.stopWatch = nil
	}
	active := m.state == StateActive
	m.mu.Unlock()

	if active && m.flushBuffers() > 0 {
		m.kick()
	}
}

// WatchSessionActive reports whether the watch ticker runs.
func (m *Manager) WatchSessionActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopWatch != nil
}

// ForceSync flushes the buffers and drains the queue, waiting for any
// drain already in progress. It returns the first store error.
func (m *Manager) ForceSync(ctx context.Context) error {
	if m.State() != StateActive {
		return ErrNotActive
	}

	m.flushBuffers()
	return m.drain(ctx, true)
}

// Destroy stops all timers, drops listeners and discards pending writes.
// It is idempotent.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateDestroyed
	m.subs = nil
	if m.stopWatch != nil {
		close(m.stopWatch)
		m.stopWatch = nil
	}
	if m.stopTimers != nil {
		m.stopTimers()
	}
	m.mu.Unlock()

	m.queue.clear()
	m.log.Info("progress manager destroyed")
}

// flushBuffers converts buffered samples into queued writes and returns
// the number of writes queued. It does not start a drain.
func (m *Manager) flushBuffers() int {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return 0
	}

	watched := len(m.watchBuf)
	interactions := m.interactBuf
	m.watchBuf = nil
	m.interactBuf = nil

	delta := m.record.StudyMinutes - m.persisted
	if delta > 0 {
		m.persisted = m.record.StudyMinutes
	}
	snapshot := m.analytics
	m.mu.Unlock()

	if watched == 0 && len(interactions) == 0 {
		return 0
	}

	var n int
	if delta > 0 {
		n++
		m.queue.push(syncOp{
			name: "add_study_minutes",
			run: func(ctx context.Context) error {
				return m.cfg.Store.AddStudyMinutes(ctx, m.cfg.UserID, m.cfg.CourseID, delta)
			},
		})
	}

	if rec, ok := m.cfg.Store.(InteractionRecorder); ok && len(interactions) > 0 {
		n++
		m.queue.push(syncOp{
			name: "record_interactions",
			run: func(ctx context.Context) error {
				return rec.RecordInteractions(ctx, m.cfg.UserID, m.cfg.CourseID, interactions)
			},
		})
	}

	if m.cfg.Mirror != nil {
		n++
		m.queue.push(syncOp{
			name: "mirror_analytics",
			run: func(ctx context.Context) error {
				return m.cfg.Mirror.MirrorAnalytics(ctx, m.cfg.UserID, m.cfg.CourseID, snapshot)
			},
		})
	}

	m.log.WithFields(logrus.Fields{
		"watch_samples":       watched,
		"interaction_samples": len(interactions),
		"study_minutes":       delta,
	}).Debug("progress buffers flushed")
	return n
}

// flushAndSync flushes and starts a drain regardless of the throttle.
func (m *Manager) flushAndSync() {
	m.flushBuffers()

	m.mu.Lock()
	ctx := m.base
	m.mu.Unlock()

	go func() {
		if err := m.drain(ctx, false); err != nil {
			m.log.WithError(err).Warn("buffer sync failed")
		}
	}()
}

// enqueue queues op and kicks a drain.
func (m *Manager) enqueue(op syncOp) {
	m.queue.push(op)
	m.kick()
}

// kick starts a background drain unless one ran within the throttle
// window.
func (m *Manager) kick() {
	if m.queue.throttled(m.cfg.Now(), m.cfg.SyncThrottle) {
		return
	}

	m.mu.Lock()
	ctx := m.base
	m.mu.Unlock()

	go func() {
		if err := m.drain(ctx, false); err != nil {
			m.log.WithError(err).Warn("sync failed")
		}
	}()
}

// drain runs every queued op concurrently. With wait false it gives up if
// another drain holds the lock. An empty queue emits nothing.
func (m *Manager) drain(ctx context.Context, wait bool) error {
	if wait {
		m.queue.drainMu.Lock()
	} else if !m.queue.drainMu.TryLock() {
		return nil
	}
	defer m.queue.drainMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if !wait && m.State() != StateActive {
		return nil
	}

	start := m.cfg.Now()
	ops := m.queue.take(start)
	if len(ops) == 0 {
		return nil
	}

	m.emit([]Event{m.eventNow(SyncStarted{Operations: len(ops)})})

	var g errgroup.Group
	for _, op := range ops {
		op := op
		g.Go(func() error {
			if err := op.run(ctx); err != nil {
				m.log.WithFields(logrus.Fields{
					"operation": op.name,
					"message":   err,
				}).Warn("progress sync operation failed")
				return fmt.Errorf("%s: %w", op.name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.emit([]Event{m.eventNow(SyncFailed{Operations: len(ops), Error: err.Error(), Err: err})})
		return fmt.Errorf("syncing progress: %w", err)
	}

	m.emit([]Event{m.eventNow(SyncCompleted{Operations: len(ops), Duration: m.cfg.Now().Sub(start)})})
	return nil
}

// recomputeEngagement must be called with mu held.
func (m *Manager) recomputeEngagement() {
	a := &m.analytics
	a.EngagementScore = EngagementScore(a.TotalWatchTime, a.InteractionCount, a.QuizSuccessRate)
}

func (m *Manager) event(p Payload, now time.Time) Event {
	return Event{
		Type:      p.eventType(),
		Payload:   p,
		Timestamp: now,
		UserID:    m.cfg.UserID,
		CourseID:  m.cfg.CourseID,
	}
}

func (m *Manager) eventNow(p Payload) Event {
	return m.event(p, m.cfg.Now())
}

// emit delivers events outside the lock so listeners may call back into
// the manager.
func (m *Manager) emit(events []Event) {
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func options(opts []UpdateOption) updateOptions {
	var o updateOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func clamp(rate float64) float64 {
	switch {
	case math.IsNaN(rate), rate < 0:
		return 0
	case rate > 100:
		return 100
	default:
		return rate
	}
}
