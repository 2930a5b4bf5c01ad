// Package chapter maps playback time to chapter markers.
package chapter

import (
	"sort"
	"sync"
)

type Kind string

const (
	KindLesson   Kind = "lesson"
	KindExercise Kind = "exercise"
	KindQuiz     Kind = "quiz"
	KindSummary  Kind = "summary"
)

// Marker is a chapter start point inside a video. Start is in seconds.
type Marker struct {
	ID          string  `json:"id" db:"chapter_id" validate:"required"`
	Start       float64 `json:"startTime" db:"start_time" validate:"gte=0"`
	Title       string  `json:"title" db:"title" validate:"required"`
	Description string  `json:"description,omitempty" db:"description"`
	Thumbnail   string  `json:"thumbnail,omitempty" db:"thumbnail"`
	Kind        Kind    `json:"kind" db:"kind"`
}

// Listener receives the new current chapter, nil when playback is before
// the first marker.
type Listener func(current *Marker)

// Manager tracks the current chapter. It has no clock of its own:
// CurrentChapter must be called on every time update.
type Manager struct {
	mu        sync.Mutex
	chapters  []Marker
	current   *Marker
	listeners []Listener
}

func NewManager() *Manager {
	return &Manager{}
}

// SetChapters replaces the chapter set with a time-sorted copy of list.
func (m *Manager) SetChapters(list []Marker) {
	sorted := make([]Marker, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	m.mu.Lock()
	m.chapters = sorted
	m.mu.Unlock()
}

// Chapters returns a copy of the sorted chapter set.
func (m *Manager) Chapters() []Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Marker, len(m.chapters))
	copy(out, m.chapters)
	return out
}

// OnChange registers a change listener.
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// CurrentChapter returns the last chapter starting at or before t, or nil.
// Listeners are notified once when the result differs from the previous call.
func (m *Manager) CurrentChapter(t float64) *Marker {
	m.mu.Lock()
	idx := m.indexAt(t)

	var next *Marker
	if idx >= 0 {
		c := m.chapters[idx]
		next = &c
	}

	changed := !sameChapter(m.current, next)
	m.current = next

	var listeners []Listener
	if changed {
		listeners = make([]Listener, len(m.listeners))
		copy(listeners, m.listeners)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(copyMarker(next))
	}

	return copyMarker(next)
}

// NextChapter returns the first chapter starting after t, or nil.
func (m *Manager) NextChapter(t float64) *Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.chapters {
		if m.chapters[i].Start > t {
			return copyMarker(&m.chapters[i])
		}
	}
	return nil
}

// PreviousChapter returns the chapter before the current one at t, or nil.
func (m *Manager) PreviousChapter(t float64) *Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexAt(t)
	if idx <= 0 {
		return nil
	}
	return copyMarker(&m.chapters[idx-1])
}

// SeekToChapter looks up a chapter by id. Moving playback is up to the caller.
func (m *Manager) SeekToChapter(id string) *Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.chapters {
		if m.chapters[i].ID == id {
			return copyMarker(&m.chapters[i])
		}
	}
	return nil
}

// indexAt expects m.mu to be held.
func (m *Manager) indexAt(t float64) int {
	// first chapter starting strictly after t
	i := sort.Search(len(m.chapters), func(i int) bool {
		return m.chapters[i].Start > t
	})
	return i - 1
}

func sameChapter(a, b *Marker) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Start == b.Start
}

func copyMarker(c *Marker) *Marker {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
