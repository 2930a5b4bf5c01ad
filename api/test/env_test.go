package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/api"
	"github.com/irsalhamdi/coursestream/api/background"
	"github.com/irsalhamdi/coursestream/config"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/core/progress"
	"github.com/irsalhamdi/coursestream/core/session"
	"github.com/irsalhamdi/coursestream/database"
)

// TestEnv is a running API backed by a throwaway postgres container.
type TestEnv struct {
	*httptest.Server
	DB  *sqlx.DB
	Hub *session.Hub
	Log *logrus.Logger
}

// NewTestEnv starts postgres, migrates it and serves the API. It skips the
// test when docker is unavailable.
func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	res, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=postgres",
		"POSTGRES_PASSWORD=postgres",
		"POSTGRES_DB=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres: %w", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(res); err != nil {
			t.Logf("purging postgres: %v", err)
		}
	})

	cfg := config.DB{
		User:         "postgres",
		Password:     "postgres",
		Host:         "localhost:" + res.GetPort("5432/tcp"),
		Name:         name,
		MaxIdleConns: 2,
		DisableTLS:   true,
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	t.Cleanup(func() { db.Close() })

	pool.MaxWait = time.Minute
	if err := pool.Retry(func() error {
		return db.Ping()
	}); err != nil {
		return nil, fmt.Errorf("waiting for postgres: %w", err)
	}

	if err := database.Migrate(db, name); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	hub := session.NewHub(session.Config{
		Log:   log,
		Store: progress.NewStore(db),
		Progress: config.Progress{
			SyncInterval:  time.Hour,
			FlushInterval: time.Hour,
			WatchTick:     time.Second,
			SyncThrottle:  time.Hour,
		},
		CourseCheck: func(ctx context.Context, courseID string) error {
			_, err := course.Fetch(ctx, db, courseID)
			return err
		},
	})
	bg := background.New(log)

	srv := httptest.NewServer(api.APIMux(api.APIConfig{
		Log:            log,
		DB:             db,
		Sessions:       hub,
		Background:     bg,
		SessionTimeout: 5 * time.Second,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Close()
		if err := hub.Shutdown(ctx); err != nil {
			t.Logf("shutting down sessions: %v", err)
		}
		if err := bg.Shutdown(ctx); err != nil {
			t.Logf("shutting down background tasks: %v", err)
		}
	})

	return &TestEnv{
		Server: srv,
		DB:     db,
		Hub:    hub,
		Log:    log,
	}, nil
}

// do sends in as JSON and decodes the response into out when it is not nil.
func (env *TestEnv) do(t *testing.T, method, path string, in, out any, status int) {
	t.Helper()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}

	r, err := http.NewRequest(method, env.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if in != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != status {
		msg, _ := io.ReadAll(w.Body)
		t.Fatalf("%s %s: expected status %d, got %s: %s", method, path, status, w.Status, msg)
	}

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
}
