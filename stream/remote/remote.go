// Package remote implements the progress store over the service's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/irsalhamdi/coursestream/metrics"
	"github.com/irsalhamdi/coursestream/stream/progress"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Client  *http.Client
	Log     logrus.FieldLogger

	// Breaker thresholds. Zero values take the defaults.
	BreakerName     string
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	CountInterval   time.Duration
	HalfOpenAllowed uint32
}

// Client is a progress.Store and progress.InteractionRecorder backed by
// HTTP.
type Client struct {
	base string
	http *http.Client
	log  logrus.FieldLogger
	name string
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// New returns a Client whose calls all pass through one circuit breaker.
func New(cfg Config) *Client {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Log = l
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "progress-api"
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.CountInterval <= 0 {
		cfg.CountInterval = time.Minute
	}
	if cfg.HalfOpenAllowed == 0 {
		cfg.HalfOpenAllowed = 3
	}

	c := Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: cfg.Client,
		log:  cfg.Log,
		name: cfg.BreakerName,
	}
	metrics.CircuitBreakerState.WithLabelValues(c.name).Set(0)

	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.HalfOpenAllowed,
		Interval:    cfg.CountInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		// Client errors say nothing about the health of the API.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func progressPath(userID, courseID string) string {
	return fmt.Sprintf("/users/%s/courses/%s/progress", url.PathEscape(userID), url.PathEscape(courseID))
}

// FetchProgress implements progress.Store. A 404 is reported as
// progress.ErrRecordNotFound.
func (c *Client) FetchProgress(ctx context.Context, userID, courseID string) (progress.Record, error) {
	body, err := c.do(ctx, http.MethodGet, progressPath(userID, courseID), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return progress.Record{}, progress.ErrRecordNotFound
		}
		return progress.Record{}, err
	}

	var rec progress.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return progress.Record{}, fmt.Errorf("decoding progress: %w", err)
	}
	return rec, nil
}

// UpdateCompletionRate implements progress.Store.
func (c *Client) UpdateCompletionRate(ctx context.Context, userID, courseID string, rate float64, completedAt *time.Time) error {
	req := struct {
		CompletionRate float64    `json:"completionRate"`
		CompletedAt    *time.Time `json:"completedAt,omitempty"`
	}{rate, completedAt}

	_, err := c.do(ctx, http.MethodPut, progressPath(userID, courseID)+"/completion", req)
	return err
}

// UpdateCurrentSection implements progress.Store.
func (c *Client) UpdateCurrentSection(ctx context.Context, userID, courseID string, section int) error {
	req := struct {
		Section int `json:"section"`
	}{section}

	_, err := c.do(ctx, http.MethodPut, progressPath(userID, courseID)+"/section", req)
	return err
}

// AddStudyMinutes implements progress.Store.
func (c *Client) AddStudyMinutes(ctx context.Context, userID, courseID string, minutes int) error {
	req := struct {
		Minutes int `json:"minutes"`
	}{minutes}

	_, err := c.do(ctx, http.MethodPost, progressPath(userID, courseID)+"/study-time", req)
	return err
}

// AddTestScore implements progress.Store.
func (c *Client) AddTestScore(ctx context.Context, userID, courseID string, score progress.TestScore) error {
	_, err := c.do(ctx, http.MethodPost, progressPath(userID, courseID)+"/test-scores", score)
	return err
}

// RecordInteractions implements progress.InteractionRecorder.
func (c *Client) RecordInteractions(ctx context.Context, userID, courseID string, samples []progress.InteractionSample) error {
	req := struct {
		Interactions []progress.InteractionSample `json:"interactions"`
	}{samples}

	_, err := c.do(ctx, http.MethodPost, progressPath(userID, courseID)+"/interactions", req)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in)
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var r io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
