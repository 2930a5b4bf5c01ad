package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/api/background"
	"github.com/irsalhamdi/coursestream/api/middleware"
	"github.com/irsalhamdi/coursestream/api/web"
	"github.com/irsalhamdi/coursestream/api/weberr"
	"github.com/irsalhamdi/coursestream/cache"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/core/progress"
	"github.com/irsalhamdi/coursestream/core/session"
	"github.com/irsalhamdi/coursestream/core/video"
	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/rate"
)

// APIConfig carries the dependencies of the routes. Mirror and Limiter
// are optional.
type APIConfig struct {
	CorsOrigin     string
	Log            logrus.FieldLogger
	DB             *sqlx.DB
	Sessions       *session.Hub
	Background     *background.Background
	Mirror         *cache.Mirror
	Limiter        *rate.Limiter
	SessionTimeout time.Duration
	MetricsPath    string
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	if cfg.Limiter != nil {
		a.mw = append(a.mw, middleware.RateLimit(cfg.Limiter))
	}

	if cfg.MetricsPath != "" {
		a.Router.Handle(cfg.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	a.Handle(http.MethodGet, "/health", handleHealth(cfg.DB))

	a.Handle(http.MethodGet, "/courses/{course_id}/videos", video.HandleListByCourse(cfg.DB))
	a.Handle(http.MethodGet, "/courses/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses", course.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/courses", course.HandleCreate(cfg.DB))
	a.Handle(http.MethodPut, "/courses/{id}", course.HandleUpdate(cfg.DB))

	a.Handle(http.MethodGet, "/videos/{id}", video.HandleShow(cfg.DB))
	a.Handle(http.MethodPost, "/videos", video.HandleCreate(cfg.DB))

	const pp = "/users/{user_id}/courses/{course_id}/progress"
	a.Handle(http.MethodGet, pp, progress.HandleShow(cfg.DB))
	a.Handle(http.MethodPut, pp+"/completion", progress.HandleUpdateCompletion(cfg.DB))
	a.Handle(http.MethodPut, pp+"/section", progress.HandleUpdateSection(cfg.DB))
	a.Handle(http.MethodPost, pp+"/study-time", progress.HandleAddStudyTime(cfg.DB))
	a.Handle(http.MethodPost, pp+"/test-scores", progress.HandleAddTestScore(cfg.DB))
	a.Handle(http.MethodPost, pp+"/interactions", progress.HandleAddInteractions(cfg.DB))
	if cfg.Mirror != nil {
		a.Handle(http.MethodGet, "/users/{user_id}/courses/{course_id}/analytics", progress.HandleShowAnalytics(cfg.Mirror))
	}

	if cfg.Sessions != nil {
		hub := cfg.Sessions
		a.Handle(http.MethodPost, "/sessions", session.HandleCreate(hub))
		a.Handle(http.MethodGet, "/sessions/{id}", session.HandleShow(hub))
		a.Handle(http.MethodDelete, "/sessions/{id}", session.HandleDelete(hub, cfg.Background, cfg.SessionTimeout))
		a.Handle(http.MethodGet, "/sessions/{id}/events", session.HandleEvents(hub, cfg.CorsOrigin))
		a.Handle(http.MethodPost, "/sessions/{id}/watch", session.HandleWatch(hub))
		a.Handle(http.MethodPost, "/sessions/{id}/interactions", session.HandleInteractions(hub))
		a.Handle(http.MethodPut, "/sessions/{id}/completion", session.HandleCompletion(hub))
		a.Handle(http.MethodPut, "/sessions/{id}/section", session.HandleSection(hub))
		a.Handle(http.MethodPost, "/sessions/{id}/test-scores", session.HandleTestScore(hub))
		a.Handle(http.MethodPost, "/sessions/{id}/watch-session", session.HandleWatchSession(hub))
		a.Handle(http.MethodPost, "/sessions/{id}/sync", session.HandleSync(hub))
	}

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

func handleHealth(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if err := database.StatusCheck(ctx, db); err != nil {
			return weberr.Unavailable(err)
		}

		status := struct {
			Status string `json:"status"`
		}{Status: "ok"}
		return web.Respond(ctx, w, status, http.StatusOK)
	}
}
