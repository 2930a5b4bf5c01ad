package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/api/background"
	"github.com/irsalhamdi/coursestream/api/web"
	"github.com/irsalhamdi/coursestream/api/weberr"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/stream/progress"
)

type SessionNew struct {
	UserID   string `json:"userId" validate:"required"`
	CourseID string `json:"courseId" validate:"required"`
}

type InteractionsNew struct {
	Interactions []progress.InteractionSample `json:"interactions" validate:"required,min=1,dive"`
}

type CompletionUp struct {
	CompletionRate *float64 `json:"completionRate" validate:"required"`
}

type SectionUp struct {
	Section *int `json:"section" validate:"required,gte=0"`
}

type WatchSessionUp struct {
	Active *bool `json:"active" validate:"required"`
}

// lookup returns the session named by the {id} route variable.
func lookup(hub *Hub, r *http.Request) (*Session, error) {
	id := web.Param(r, "id")
	s, err := hub.Get(id)
	if err != nil {
		return nil, weberr.NotFound(err, weberr.WithFields(map[string]interface{}{
			"session_id": id,
		}))
	}
	return s, nil
}

// managerError maps progress manager errors onto responses.
func managerError(err error) error {
	if errors.Is(err, progress.ErrNotActive) {
		return weberr.Conflict(err)
	}
	return err
}

func HandleCreate(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var sn SessionNew
		if err := web.DecodeValid(w, r, &sn); err != nil {
			return err
		}

		s, err := hub.Open(ctx, sn.UserID, sn.CourseID)
		switch {
		case errors.Is(err, course.ErrNotFound):
			return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{
				"course_id": sn.CourseID,
			}))
		case errors.Is(err, ErrClosed):
			return weberr.Unavailable(err)
		case err != nil:
			return weberr.BadGateway(err)
		}

		return web.Respond(ctx, w, s.View(), http.StatusCreated)
	}
}

func HandleShow(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleWatch(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var ws progress.WatchSample
		if err := web.DecodeValid(w, r, &ws); err != nil {
			return err
		}

		if err := s.mgr.TrackWatchTime(ws); err != nil {
			return managerError(err)
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleInteractions(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var in InteractionsNew
		if err := web.DecodeValid(w, r, &in); err != nil {
			return err
		}

		for _, is := range in.Interactions {
			if err := s.mgr.TrackInteraction(is); err != nil {
				return managerError(err)
			}
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleCompletion(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var up CompletionUp
		if err := web.DecodeValid(w, r, &up); err != nil {
			return err
		}

		if err := s.mgr.UpdateCompletionRate(*up.CompletionRate); err != nil {
			return managerError(err)
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleSection(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var up SectionUp
		if err := web.DecodeValid(w, r, &up); err != nil {
			return err
		}

		if err := s.mgr.UpdateCurrentSection(*up.Section); err != nil {
			return managerError(err)
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleTestScore(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var ts progress.TestScore
		if err := web.DecodeValid(w, r, &ts); err != nil {
			return err
		}
		if ts.TakenAt.IsZero() {
			ts.TakenAt = time.Now().UTC()
		}

		if err := s.mgr.AddTestScore(ts); err != nil {
			return managerError(err)
		}
		return web.Respond(ctx, w, s.View(), http.StatusCreated)
	}
}

func HandleWatchSession(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		var up WatchSessionUp
		if err := web.DecodeValid(w, r, &up); err != nil {
			return err
		}

		if *up.Active {
			if err := s.mgr.StartWatchSession(); err != nil {
				return managerError(err)
			}
		} else {
			s.mgr.StopWatchSession()
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

func HandleSync(hub *Hub) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		if err := s.mgr.ForceSync(ctx); err != nil {
			if errors.Is(err, progress.ErrNotActive) {
				return managerError(err)
			}
			return weberr.BadGateway(err, weberr.WithFields(map[string]interface{}{
				"session_id": s.ID,
			}))
		}
		return web.Respond(ctx, w, s.View(), http.StatusOK)
	}
}

// HandleDelete unregisters the session at once and runs its final sync
// in the background, bounded by timeout.
func HandleDelete(hub *Hub, bg *background.Background, timeout time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		s, err := hub.Remove(id)
		if err != nil {
			return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{
				"session_id": id,
			}))
		}

		finish := func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = hub.Finish(ctx, s)
		}
		if err := bg.Add(finish); err != nil {
			finish()
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleEvents upgrades the request to a websocket carrying every event
// of the session as JSON until either side closes.
func HandleEvents(hub *Hub, origin string) web.Handler {
	upgrader := newUpgrader(origin)

	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := lookup(hub, r)
		if err != nil {
			return err
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already replied.
			hub.log.WithFields(logrus.Fields{
				"session_id": s.ID,
				"message":    err,
			}).Warn("websocket upgrade failed")
			return nil
		}

		c := &client{
			conn: conn,
			send: make(chan progress.Event, sendBuffer),
			log:  hub.log.WithField("session_id", s.ID),
		}
		if !s.attach(c) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return conn.Close()
		}

		go c.writePump()
		go func() {
			c.readPump()
			s.detach(c)
		}()

		return nil
	}
}
