package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/irsalhamdi/coursestream/stream/progress"
)

type fakeAPI struct {
	mu       sync.Mutex
	record   *progress.Record
	minutes  int
	sections []int
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	const base = "/users/u1/courses/c1/progress"
	switch r.Method + " " + r.URL.Path {
	case "GET " + base:
		if f.record == nil {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(f.record)
	case "POST " + base + "/study-time":
		var in struct {
			Minutes int `json:"minutes"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		f.minutes += in.Minutes
		w.WriteHeader(http.StatusNoContent)
	case "PUT " + base + "/section":
		var in struct {
			Section int `json:"section"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		f.sections = append(f.sections, in.Section)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestFetchProgress(t *testing.T) {
	api := fakeAPI{record: &progress.Record{
		UserID:         "u1",
		CourseID:       "c1",
		CompletionRate: 40,
		CurrentSection: 2,
		StudyMinutes:   30,
		LastAccessed:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TestScores:     []progress.TestScore{{AssessmentID: "q1", Score: 7, MaxScore: 10}},
	}}
	srv := httptest.NewServer(&api)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", BreakerName: "fetch-test"})
	got, err := c.FetchProgress(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("fetching: %s", err)
	}
	if diff := cmp.Diff(*api.record, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchProgressNotFound(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerName: "notfound-test"})
	_, err := c.FetchProgress(context.Background(), "u1", "c1")
	if !errors.Is(err, progress.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestWrites(t *testing.T) {
	api := fakeAPI{}
	srv := httptest.NewServer(&api)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerName: "write-test"})
	ctx := context.Background()

	if err := c.AddStudyMinutes(ctx, "u1", "c1", 3); err != nil {
		t.Fatalf("adding minutes: %s", err)
	}
	if err := c.AddStudyMinutes(ctx, "u1", "c1", 2); err != nil {
		t.Fatalf("adding minutes: %s", err)
	}
	if err := c.UpdateCurrentSection(ctx, "u1", "c1", 4); err != nil {
		t.Fatalf("updating section: %s", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.minutes != 5 {
		t.Fatalf("expected 5 minutes, got %d", api.minutes)
	}
	if diff := cmp.Diff([]int{4}, api.sections); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{status: http.StatusBadRequest})
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerName: "status-test"})
	err := c.UpdateCurrentSection(context.Background(), "u1", "c1", 1)

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
}

func TestBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{status: http.StatusServiceUnavailable})
	defer srv.Close()

	c := New(Config{
		BaseURL:     srv.URL,
		BreakerName: "open-test",
		MinRequests: 3,
		OpenTimeout: time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.AddStudyMinutes(ctx, "u1", "c1", 1); err == nil {
			t.Fatal("expected failure")
		}
	}
	if c.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", c.State())
	}

	err := c.AddStudyMinutes(ctx, "u1", "c1", 1)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
}

func TestClientErrorsKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{status: http.StatusUnprocessableEntity})
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerName: "closed-test", MinRequests: 2})
	for i := 0; i < 5; i++ {
		c.UpdateCurrentSection(context.Background(), "u1", "c1", i)
	}
	if c.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", c.State())
	}
}

// The client satisfies the manager's store end to end.
func TestManagerOverRemote(t *testing.T) {
	api := fakeAPI{}
	srv := httptest.NewServer(&api)
	defer srv.Close()

	m := progress.New(progress.Config{
		UserID:   "u1",
		CourseID: "c1",
		Store:    New(Config{BaseURL: srv.URL, BreakerName: "manager-test"}),
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing: %s", err)
	}
	defer m.Destroy()

	if err := m.UpdateCurrentSection(3); err != nil {
		t.Fatalf("updating: %s", err)
	}
	if err := m.ForceSync(context.Background()); err != nil {
		t.Fatalf("syncing: %s", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if diff := cmp.Diff([]int{3}, api.sections); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}
