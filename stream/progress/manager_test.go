package progress

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu           sync.Mutex
	record       Record
	fetchErr     error
	writeErr     error
	completion   []float64
	completedAt  []*time.Time
	sections     []int
	minutes      []int
	scores       []TestScore
	interactions int

	// Optional hooks, set before the manager starts writing.
	sectionErr      error
	completionEntry chan struct{}
	completionGate  chan struct{}
}

func (s *fakeStore) FetchProgress(ctx context.Context, userID, courseID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return Record{}, s.fetchErr
	}
	return s.record, nil
}

func (s *fakeStore) UpdateCompletionRate(ctx context.Context, userID, courseID string, rate float64, completedAt *time.Time) error {
	if s.completionGate != nil {
		s.completionEntry <- struct{}{}
		<-s.completionGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.completion = append(s.completion, rate)
	s.completedAt = append(s.completedAt, completedAt)
	return s.writeErr
}

func (s *fakeStore) UpdateCurrentSection(ctx context.Context, userID, courseID string, section int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections = append(s.sections, section)
	if s.sectionErr != nil {
		return s.sectionErr
	}
	return s.writeErr
}

func (s *fakeStore) AddStudyMinutes(ctx context.Context, userID, courseID string, minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minutes = append(s.minutes, minutes)
	return s.writeErr
}

func (s *fakeStore) AddTestScore(ctx context.Context, userID, courseID string, score TestScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, score)
	return s.writeErr
}

func (s *fakeStore) RecordInteractions(ctx context.Context, userID, courseID string, samples []InteractionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions += len(samples)
	return s.writeErr
}

func (s *fakeStore) totalMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.minutes {
		n += m
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func newTestManager(t *testing.T, store *fakeStore) (*Manager, *recorder) {
	t.Helper()

	m := New(Config{
		UserID:   "user-1",
		CourseID: "course-1",
		Store:    store,
		Now:      func() time.Time { return epoch },
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing: %s", err)
	}
	t.Cleanup(m.Destroy)

	rec := &recorder{}
	m.Subscribe(rec.listen)
	return m, rec
}

// holdSync keeps enqueued writes from draining on their own so a test can
// observe them through ForceSync.
func holdSync(m *Manager) {
	m.queue.mu.Lock()
	m.queue.lastDrain = m.cfg.Now()
	m.queue.mu.Unlock()
}

func TestInitializeMissingRecord(t *testing.T) {
	store := &fakeStore{fetchErr: ErrRecordNotFound}
	m, _ := newTestManager(t, store)

	got := m.Progress()
	exp := Record{
		UserID:       "user-1",
		CourseID:     "course-1",
		LastAccessed: epoch,
		TestScores:   []TestScore{},
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if m.State() != StateActive {
		t.Fatalf("expected active, got %s", m.State())
	}
}

func TestInitializeFailure(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("boom")}
	m := New(Config{UserID: "u", CourseID: "c", Store: store})

	if err := m.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", m.State())
	}
	if err := m.UpdateCompletionRate(10); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestInitializeTwice(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})
	if err := m.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitialAnalytics(t *testing.T) {
	store := &fakeStore{record: Record{
		CompletionRate: 50,
		CurrentSection: 2,
		StudyMinutes:   120,
		LastAccessed:   epoch.Add(-2 * time.Hour),
		TestScores: []TestScore{
			{AssessmentID: "a", Score: 8, MaxScore: 10},
			{AssessmentID: "b", Score: 5, MaxScore: 10},
		},
	}}
	m, _ := newTestManager(t, store)

	got := m.Analytics()
	exp := Analytics{
		TotalWatchTime:   7200,
		AverageWatchTime: 3600,
		QuizAttempts:     2,
		QuizSuccessRate:  50,
		EngagementScore:  27,
		LearningVelocity: 2.5,
		ConsistencyScore: 100,
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("analytics mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateCompletionRateClamps(t *testing.T) {
	tests := []struct {
		in  float64
		exp float64
	}{
		{in: -5, exp: 0},
		{in: 42.5, exp: 42.5},
		{in: 150, exp: 100},
	}

	for _, tc := range tests {
		m, _ := newTestManager(t, &fakeStore{})
		if err := m.UpdateCompletionRate(tc.in, WithoutSync()); err != nil {
			t.Fatalf("updating: %s", err)
		}
		if got := m.Progress().CompletionRate; got != tc.exp {
			t.Errorf("rate %v: expected %v, got %v", tc.in, tc.exp, got)
		}
	}
}

func TestCourseCompletedOnce(t *testing.T) {
	m, rec := newTestManager(t, &fakeStore{})

	for _, r := range []float64{60, 100, 100, 80, 100} {
		if err := m.UpdateCompletionRate(r, WithoutSync()); err != nil {
			t.Fatalf("updating: %s", err)
		}
	}

	if n := rec.count(EventCourseCompleted); n != 1 {
		t.Fatalf("expected one course_completed, got %d", n)
	}
	if n := rec.count(EventProgressUpdated); n != 5 {
		t.Fatalf("expected five progress_updated, got %d", n)
	}

	p := m.Progress()
	if p.CompletedAt == nil || !p.CompletedAt.Equal(epoch) {
		t.Fatalf("expected completion stamp %v, got %v", epoch, p.CompletedAt)
	}

	ev, _ := rec.last(EventProgressUpdated)
	exp := ProgressUpdated{CompletionRate: 100, PreviousRate: 80}
	if diff := cmp.Diff(Payload(exp), ev.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestCourseCompletedOrder(t *testing.T) {
	m, rec := newTestManager(t, &fakeStore{})

	if err := m.UpdateCompletionRate(100, WithoutSync()); err != nil {
		t.Fatalf("updating: %s", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 {
		t.Fatalf("expected two events, got %d", len(rec.events))
	}
	if rec.events[0].Type != EventCourseCompleted || rec.events[1].Type != EventProgressUpdated {
		t.Fatalf("unexpected order: %s, %s", rec.events[0].Type, rec.events[1].Type)
	}
}

func TestSectionCompleted(t *testing.T) {
	m, rec := newTestManager(t, &fakeStore{})

	for _, s := range []int{1, 3, 2, 2} {
		if err := m.UpdateCurrentSection(s, WithoutSync()); err != nil {
			t.Fatalf("updating: %s", err)
		}
	}

	if n := rec.count(EventSectionCompleted); n != 2 {
		t.Fatalf("expected two section_completed, got %d", n)
	}
	ev, _ := rec.last(EventSectionCompleted)
	exp := SectionCompleted{CompletedSection: 1, CurrentSection: 3}
	if diff := cmp.Diff(Payload(exp), ev.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if got := m.Progress().CurrentSection; got != 2 {
		t.Fatalf("expected section 2, got %d", got)
	}
}

func TestWatchBufferFlush(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(t, store)
	holdSync(m)

	for i := 0; i < 10; i++ {
		if err := m.TrackWatchTime(WatchSample{SectionID: "s1", WatchedSeconds: 30, TotalSeconds: 30}); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}

	m.mu.Lock()
	buffered := len(m.watchBuf)
	m.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("expected empty buffer after ten samples, got %d", buffered)
	}

	if err := m.TrackWatchTime(WatchSample{SectionID: "s2", WatchedSeconds: 30, TotalSeconds: 30}); err != nil {
		t.Fatalf("tracking: %s", err)
	}
	m.mu.Lock()
	buffered = len(m.watchBuf)
	m.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("expected one buffered sample, got %d", buffered)
	}

	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}

	// 330 seconds watched.
	if got := store.totalMinutes(); got != 5 {
		t.Fatalf("expected 5 persisted minutes, got %d", got)
	}
	a := m.Analytics()
	if a.TotalWatchTime != 330 {
		t.Fatalf("expected 330s watched, got %v", a.TotalWatchTime)
	}
	if a.AverageWatchTime != 165 {
		t.Fatalf("expected 165s average, got %v", a.AverageWatchTime)
	}
	if got := m.Progress().StudyMinutes; got != 5 {
		t.Fatalf("expected 5 study minutes, got %d", got)
	}
}

func TestInteractionBufferFlush(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(t, store)
	holdSync(m)

	kinds := []InteractionKind{InteractionBookmark, InteractionNote, InteractionSeek, InteractionPause}
	for i := 0; i < 20; i++ {
		if err := m.TrackInteraction(InteractionSample{Kind: kinds[i%len(kinds)]}); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}

	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}

	store.mu.Lock()
	got := store.interactions
	store.mu.Unlock()
	if got != 20 {
		t.Fatalf("expected 20 recorded interactions, got %d", got)
	}

	a := m.Analytics()
	if a.InteractionCount != 20 || a.BookmarkCount != 5 || a.NoteCount != 5 {
		t.Fatalf("unexpected counters: %+v", a)
	}
}

func TestQuizSuccessBlend(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})

	if err := m.AddTestScore(TestScore{AssessmentID: "q1", Score: 8, MaxScore: 10}, WithoutSync()); err != nil {
		t.Fatalf("adding score: %s", err)
	}
	if got := m.Analytics().QuizSuccessRate; got != 100 {
		t.Fatalf("expected 100 after a pass, got %v", got)
	}

	if err := m.AddTestScore(TestScore{AssessmentID: "q2", Score: 5, MaxScore: 10}, WithoutSync()); err != nil {
		t.Fatalf("adding score: %s", err)
	}
	a := m.Analytics()
	if a.QuizSuccessRate != 50 || a.QuizAttempts != 2 {
		t.Fatalf("expected 50%% over 2 attempts, got %v over %d", a.QuizSuccessRate, a.QuizAttempts)
	}
	if n := len(m.Progress().TestScores); n != 2 {
		t.Fatalf("expected two scores, got %d", n)
	}
}

func TestQuizInteractions(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})

	samples := []InteractionSample{
		{Kind: InteractionQuizAttempt},
		{Kind: InteractionQuizComplete, Payload: map[string]any{"passed": true}},
		{Kind: InteractionQuizAttempt},
		{Kind: InteractionQuizComplete, Payload: map[string]any{"score": 3.0, "maxScore": 10.0}},
	}
	for _, s := range samples {
		if err := m.TrackInteraction(s); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}

	a := m.Analytics()
	if a.QuizAttempts != 2 || a.QuizSuccessRate != 50 {
		t.Fatalf("expected 50%% over 2 attempts, got %v over %d", a.QuizSuccessRate, a.QuizAttempts)
	}
}

func TestQuizCompleteWithoutAttempt(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})

	err := m.TrackInteraction(InteractionSample{Kind: InteractionQuizComplete, Payload: map[string]any{"passed": true}})
	if err != nil {
		t.Fatalf("tracking: %s", err)
	}

	a := m.Analytics()
	if a.QuizAttempts != 1 || a.QuizSuccessRate != 100 {
		t.Fatalf("expected 100%% over 1 attempt, got %v over %d", a.QuizSuccessRate, a.QuizAttempts)
	}
}

func TestRecomputeQuizSuccessRate(t *testing.T) {
	store := &fakeStore{record: Record{TestScores: []TestScore{
		{AssessmentID: "a", Score: 9, MaxScore: 10},
		{AssessmentID: "b", Score: 9, MaxScore: 10},
		{AssessmentID: "c", Score: 1, MaxScore: 10},
	}}}
	m, _ := newTestManager(t, store)

	// Drift the estimate with an attempt that has no recorded score.
	if err := m.TrackInteraction(InteractionSample{Kind: InteractionQuizComplete, Payload: map[string]any{"passed": false}}); err != nil {
		t.Fatalf("tracking: %s", err)
	}

	rate, err := m.RecomputeQuizSuccessRate()
	if err != nil {
		t.Fatalf("recomputing: %s", err)
	}
	if want := 200.0 / 3; math.Abs(rate-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, rate)
	}
	if a := m.Analytics(); a.QuizAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", a.QuizAttempts)
	}
}

func TestEngagementScore(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})

	// One hour watched, ten interactions, half the quizzes passed:
	// .3*20 + .4*20 + .3*50 = 29.
	for i := 0; i < 4; i++ {
		if err := m.TrackWatchTime(WatchSample{SectionID: "s1", WatchedSeconds: 900, TotalSeconds: 900}); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}

	samples := []InteractionSample{
		{Kind: InteractionQuizAttempt},
		{Kind: InteractionQuizComplete, Payload: map[string]any{"passed": true}},
		{Kind: InteractionQuizAttempt},
		{Kind: InteractionQuizComplete, Payload: map[string]any{"passed": false}},
	}
	for i := 0; i < 6; i++ {
		samples = append(samples, InteractionSample{Kind: InteractionSeek})
	}
	for _, s := range samples {
		if err := m.TrackInteraction(s); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}

	a := m.Analytics()
	if a.InteractionCount != 10 || a.QuizSuccessRate != 50 {
		t.Fatalf("unexpected analytics: %+v", a)
	}
	if a.EngagementScore != 29 {
		t.Fatalf("expected 29, got %v", a.EngagementScore)
	}
}

func TestEngagementFormula(t *testing.T) {
	tests := []struct {
		name  string
		watch float64
		inter int
		quiz  float64
		exp   float64
	}{
		{name: "empty", exp: 0},
		{name: "mixed", watch: 3600, inter: 10, quiz: 50, exp: 29},
		{name: "saturated", watch: 36000, inter: 100, quiz: 100, exp: 100},
	}

	for _, tc := range tests {
		if got := EngagementScore(tc.watch, tc.inter, tc.quiz); got != tc.exp {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.exp, got)
		}
	}
}

func TestLearningVelocity(t *testing.T) {
	if _, ok := LearningVelocity(50, 0); ok {
		t.Fatal("expected no velocity without watch time")
	}
	v, ok := LearningVelocity(50, 18000)
	if !ok || v != 1 {
		t.Fatalf("expected velocity 1, got %v", v)
	}
}

func TestForceSyncDrainsQueue(t *testing.T) {
	store := &fakeStore{}
	m, rec := newTestManager(t, store)
	holdSync(m)

	if err := m.UpdateCompletionRate(40); err != nil {
		t.Fatalf("updating: %s", err)
	}
	if err := m.UpdateCurrentSection(2); err != nil {
		t.Fatalf("updating: %s", err)
	}
	if err := m.AddTestScore(TestScore{AssessmentID: "q", Score: 1, MaxScore: 1}); err != nil {
		t.Fatalf("adding score: %s", err)
	}
	if n := m.Pending(); n != 3 {
		t.Fatalf("expected 3 pending writes, got %d", n)
	}

	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}
	if n := m.Pending(); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.completion) != 1 || len(store.sections) != 1 || len(store.scores) != 1 {
		t.Fatalf("unexpected writes: %+v", store)
	}
	if rec.count(EventSyncStarted) != 1 || rec.count(EventSyncCompleted) != 1 {
		t.Fatal("expected one sync_started and one sync_completed")
	}
}

func TestForceSyncEmptyQueue(t *testing.T) {
	m, rec := newTestManager(t, &fakeStore{})

	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}
	if rec.count(EventSyncStarted) != 0 {
		t.Fatal("expected no sync events for an empty queue")
	}
}

func TestForceSyncFailure(t *testing.T) {
	store := &fakeStore{writeErr: errors.New("db down")}
	m, rec := newTestManager(t, store)
	holdSync(m)

	if err := m.UpdateCompletionRate(40); err != nil {
		t.Fatalf("updating: %s", err)
	}

	if err := m.ForceSync(context.Background()); !errors.Is(err, store.writeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	ev, ok := rec.last(EventSyncFailed)
	if !ok {
		t.Fatal("expected sync_failed")
	}
	if p := ev.Payload.(SyncFailed); p.Operations != 1 {
		t.Fatalf("expected one operation, got %d", p.Operations)
	}

	// The failed write is not retried.
	if n := m.Pending(); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestDrainKeepsLateWrites(t *testing.T) {
	store := &fakeStore{
		completionEntry: make(chan struct{}),
		completionGate:  make(chan struct{}),
	}
	m, rec := newTestManager(t, store)
	holdSync(m)

	if err := m.UpdateCompletionRate(40); err != nil {
		t.Fatalf("updating: %s", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.ForceSync(context.Background()) }()

	select {
	case <-store.completionEntry:
	case <-time.After(5 * time.Second):
		t.Fatal("drain never reached the store")
	}

	if err := m.UpdateCurrentSection(2); err != nil {
		t.Fatalf("updating: %s", err)
	}
	close(store.completionGate)

	if err := <-done; err != nil {
		t.Fatalf("syncing: %s", err)
	}

	if n := m.Pending(); n != 1 {
		t.Fatalf("expected the late write to stay queued, got %d pending", n)
	}
	store.mu.Lock()
	sections := len(store.sections)
	store.mu.Unlock()
	if sections != 0 {
		t.Fatalf("expected no section write in the first drain, got %d", sections)
	}
	ev, ok := rec.last(EventSyncCompleted)
	if !ok || ev.Payload.(SyncCompleted).Operations != 1 {
		t.Fatalf("expected a one-operation drain, got %+v", ev)
	}

	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.sections) != 1 || store.sections[0] != 2 {
		t.Fatalf("expected the section write in the next drain, got %v", store.sections)
	}
}

func TestDrainPartialFailure(t *testing.T) {
	boom := errors.New("boom")
	store := &fakeStore{sectionErr: boom}
	m, rec := newTestManager(t, store)
	holdSync(m)

	if err := m.UpdateCompletionRate(40); err != nil {
		t.Fatalf("updating: %s", err)
	}
	if err := m.UpdateCurrentSection(2); err != nil {
		t.Fatalf("updating: %s", err)
	}

	err := m.ForceSync(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the section error, got %v", err)
	}

	store.mu.Lock()
	completions := len(store.completion)
	store.mu.Unlock()
	if completions != 1 {
		t.Fatalf("expected the completion write to land, got %d", completions)
	}

	if n := rec.count(EventSyncFailed); n != 1 {
		t.Fatalf("expected one sync_failed, got %d", n)
	}
	if n := rec.count(EventSyncCompleted); n != 0 {
		t.Fatalf("expected no sync_completed, got %d", n)
	}
	ev, _ := rec.last(EventSyncFailed)
	p := ev.Payload.(SyncFailed)
	if p.Operations != 2 || !errors.Is(p.Err, boom) {
		t.Fatalf("unexpected sync_failed payload %+v", p)
	}
}

func TestUnsubscribe(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{})

	var calls int
	unsubscribe := m.Subscribe(func(Event) { calls++ })
	if err := m.UpdateCurrentSection(1, WithoutSync()); err != nil {
		t.Fatalf("updating: %s", err)
	}
	unsubscribe()
	if err := m.UpdateCurrentSection(2, WithoutSync()); err != nil {
		t.Fatalf("updating: %s", err)
	}

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWatchSession(t *testing.T) {
	store := &fakeStore{}
	m := New(Config{
		UserID:    "u",
		CourseID:  "c",
		Store:     store,
		WatchTick: 5 * time.Millisecond,
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing: %s", err)
	}
	defer m.Destroy()

	if err := m.StartWatchSession(); err != nil {
		t.Fatalf("starting: %s", err)
	}
	if err := m.StartWatchSession(); err != nil {
		t.Fatalf("second start: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Analytics().TotalWatchTime < 3 {
		if time.Now().After(deadline) {
			t.Fatal("watch ticker did not record time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.StopWatchSession()
	if m.WatchSessionActive() {
		t.Fatal("expected watch session to stop")
	}
	m.mu.Lock()
	buffered := len(m.watchBuf)
	m.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("expected flushed buffer, got %d", buffered)
	}
}

func TestDestroy(t *testing.T) {
	m, rec := newTestManager(t, &fakeStore{})
	holdSync(m)

	if err := m.UpdateCompletionRate(10); err != nil {
		t.Fatalf("updating: %s", err)
	}
	before := len(rec.events)

	m.Destroy()
	m.Destroy()

	if m.State() != StateDestroyed {
		t.Fatalf("expected destroyed, got %s", m.State())
	}
	if n := m.Pending(); n != 0 {
		t.Fatalf("expected pending writes dropped, got %d", n)
	}
	if err := m.UpdateCompletionRate(20); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if err := m.ForceSync(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if len(rec.events) != before {
		t.Fatal("expected no events after destroy")
	}
}

// A learner opens a fresh course, watches, completes a section, passes a
// quiz, finishes the course and syncs.
func TestLearnerScenario(t *testing.T) {
	store := &fakeStore{fetchErr: ErrRecordNotFound}
	m, rec := newTestManager(t, store)
	holdSync(m)

	for i := 0; i < 4; i++ {
		if err := m.TrackWatchTime(WatchSample{SectionID: "1", WatchedSeconds: 60, TotalSeconds: 60}); err != nil {
			t.Fatalf("tracking: %s", err)
		}
	}
	if err := m.UpdateCurrentSection(1); err != nil {
		t.Fatalf("updating section: %s", err)
	}
	if err := m.AddTestScore(TestScore{AssessmentID: "final", Score: 9, MaxScore: 10, CompletionTime: 300}); err != nil {
		t.Fatalf("adding score: %s", err)
	}
	if err := m.UpdateCompletionRate(100); err != nil {
		t.Fatalf("updating rate: %s", err)
	}
	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}

	if rec.count(EventSectionCompleted) != 1 || rec.count(EventCourseCompleted) != 1 {
		t.Fatal("expected section and course completion events")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if diff := cmp.Diff([]float64{100}, store.completion); diff != "" {
		t.Fatalf("completion writes mismatch (-want +got):\n%s", diff)
	}
	if store.completedAt[0] == nil || !store.completedAt[0].Equal(epoch) {
		t.Fatalf("expected completion stamp, got %v", store.completedAt[0])
	}
	if diff := cmp.Diff([]int{4}, store.minutes); diff != "" {
		t.Fatalf("minute writes mismatch (-want +got):\n%s", diff)
	}

	if a := m.Analytics(); a.QuizSuccessRate != 100 || a.QuizAttempts != 1 {
		t.Fatalf("unexpected analytics: %+v", a)
	}
}
