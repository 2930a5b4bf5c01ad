// Package session hosts viewing sessions: one progress manager per open
// session, fed over HTTP and streamed back over websockets.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/irsalhamdi/coursestream/config"
	"github.com/irsalhamdi/coursestream/metrics"
	"github.com/irsalhamdi/coursestream/random"
	"github.com/irsalhamdi/coursestream/stream/progress"
	"github.com/irsalhamdi/coursestream/validate"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session hub is shut down")
)

// Config configures a Hub. CourseCheck, when set, must return an error
// for courses that do not exist.
type Config struct {
	Log         logrus.FieldLogger
	Store       progress.Store
	Mirror      progress.AnalyticsMirror
	Progress    config.Progress
	CourseCheck func(ctx context.Context, courseID string) error
}

type Session struct {
	ID        string
	UserID    string
	CourseID  string
	CreatedAt time.Time

	mgr         *progress.Manager
	unsubscribe func()

	mu      sync.Mutex
	clients map[*client]struct{}
}

// View is the JSON representation of a session.
type View struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	CourseID           string             `json:"courseId"`
	State              string             `json:"state"`
	WatchSessionActive bool               `json:"watchSessionActive"`
	PendingWrites      int                `json:"pendingWrites"`
	CreatedAt          time.Time          `json:"createdAt"`
	Progress           progress.Record    `json:"progress"`
	Analytics          progress.Analytics `json:"analytics"`
}

func (s *Session) Manager() *progress.Manager {
	return s.mgr
}

func (s *Session) View() View {
	return View{
		ID:                 s.ID,
		UserID:             s.UserID,
		CourseID:           s.CourseID,
		State:              s.mgr.State().String(),
		WatchSessionActive: s.mgr.WatchSessionActive(),
		PendingWrites:      s.mgr.Pending(),
		CreatedAt:          s.CreatedAt,
		Progress:           s.mgr.Progress(),
		Analytics:          s.mgr.Analytics(),
	}
}

// broadcast hands ev to every attached client. Clients whose buffer is
// full miss the event.
func (s *Session) broadcast(ev progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// attach returns false once the session is closed.
func (s *Session) attach(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients == nil {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Session) detach(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Session) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		close(c.send)
	}
	s.clients = nil
}

// Hub owns the live sessions of the process.
type Hub struct {
	cfg Config
	log logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func NewHub(cfg Config) *Hub {
	if cfg.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Log = l
	}
	return &Hub{
		cfg:      cfg,
		log:      cfg.Log,
		sessions: make(map[string]*Session),
	}
}

// Open initializes a progress manager for the user in the course and
// registers it under a new session id.
func (h *Hub) Open(ctx context.Context, userID, courseID string) (*Session, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}

	if h.cfg.CourseCheck != nil {
		if err := h.cfg.CourseCheck(ctx, courseID); err != nil {
			return nil, err
		}
	}

	id := validate.GenerateID()
	p := h.cfg.Progress

	mgr := progress.New(progress.Config{
		UserID:        userID,
		CourseID:      courseID,
		Store:         h.cfg.Store,
		Mirror:        h.cfg.Mirror,
		Log:           h.log.WithField("session_id", id),
		SyncInterval:  random.Jitter(p.SyncInterval, p.SyncJitter),
		FlushInterval: p.FlushInterval,
		WatchTick:     p.WatchTick,
		SyncThrottle:  p.SyncThrottle,
		WatchLimit:    p.WatchLimit,
		InteractLimit: p.InteractLimit,
		PassThreshold: p.PassThreshold,
	})

	s := &Session{
		ID:        id,
		UserID:    userID,
		CourseID:  courseID,
		CreatedAt: time.Now().UTC(),
		mgr:       mgr,
		clients:   make(map[*client]struct{}),
	}
	s.unsubscribe = mgr.Subscribe(func(ev progress.Event) {
		metrics.ObserveProgress(ev)
		s.broadcast(ev)
	})

	if err := mgr.Initialize(ctx); err != nil {
		s.unsubscribe()
		return nil, fmt.Errorf("opening session: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		mgr.Destroy()
		return nil, ErrClosed
	}
	h.sessions[id] = s
	h.mu.Unlock()

	metrics.ActiveSessions.Inc()
	h.log.WithFields(logrus.Fields{
		"session_id": id,
		"user_id":    userID,
		"course_id":  courseID,
	}).Info("session opened")

	return s, nil
}

func (h *Hub) Get(id string) (*Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Remove unregisters the session. The caller must Finish it.
func (h *Hub) Remove(id string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(h.sessions, id)
	return s, nil
}

// Finish stops the watch ticker, syncs everything pending and destroys
// the session's manager. The manager is destroyed even when the sync
// fails.
func (h *Hub) Finish(ctx context.Context, s *Session) error {
	log := h.log.WithField("session_id", s.ID)

	s.mgr.StopWatchSession()
	err := s.mgr.ForceSync(ctx)
	if errors.Is(err, progress.ErrNotActive) {
		err = nil
	}

	s.unsubscribe()
	s.mgr.Destroy()
	s.closeClients()
	metrics.ActiveSessions.Dec()

	if err != nil {
		log.WithField("message", err).Warn("final sync failed")
		return fmt.Errorf("closing session[%s]: %w", s.ID, err)
	}
	log.Info("session closed")
	return nil
}

// Close removes and finishes the session.
func (h *Hub) Close(ctx context.Context, id string) error {
	s, err := h.Remove(id)
	if err != nil {
		return err
	}
	return h.Finish(ctx, s)
}

// Shutdown refuses new sessions and finishes every live one. It returns
// the first failure.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	h.log.WithField("sessions", len(sessions)).Info("shutting down sessions")

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			return h.Finish(ctx, s)
		})
	}
	return g.Wait()
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
