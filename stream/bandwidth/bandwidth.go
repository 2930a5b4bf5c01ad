// Package bandwidth estimates available throughput from periodic samples and
// picks the quality rung that fits it.
package bandwidth

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/irsalhamdi/coursestream/random"
	"github.com/irsalhamdi/coursestream/stream"
	"github.com/sirupsen/logrus"
)

const (
	// Capacity is the number of samples kept.
	Capacity = 10

	// FallbackKbps is reported when there are no samples.
	FallbackKbps = 1000

	// SafetyMargin is the share of the estimate a rung may use.
	SafetyMargin = 0.8

	recencyFactor = 1.2
)

// Monitor keeps a recency weighted throughput estimate in kbps.
type Monitor struct {
	mu      sync.Mutex
	samples []float64
	log     logrus.FieldLogger
	client  *http.Client
}

// New returns an empty monitor. A nil log discards output and a nil client
// uses http.DefaultClient.
func New(log logrus.FieldLogger, client *http.Client) *Monitor {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Monitor{
		samples: make([]float64, 0, Capacity),
		log:     log,
		client:  client,
	}
}

// AddMeasurement appends a sample, evicting the oldest once full. Values
// are not validated.
func (m *Monitor) AddMeasurement(kbps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == Capacity {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:Capacity-1]
	}
	m.samples = append(m.samples, kbps)
}

// CurrentBandwidth returns the weighted average of the buffered samples,
// the i-th oldest sample weighing 1.2^i.
func (m *Monitor) CurrentBandwidth() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return FallbackKbps
	}

	var sum, weights float64
	for i, s := range m.samples {
		w := math.Pow(recencyFactor, float64(i))
		sum += s * w
		weights += w
	}
	return sum / weights
}

// OptimalQuality returns the highest rung whose bitrate fits in 80% of the
// current estimate, or the lowest rung when none fits. The auto rung is
// ignored. ok is false when there is no concrete rung.
func (m *Monitor) OptimalQuality(qualities []stream.Quality) (q stream.Quality, ok bool) {
	return Select(qualities, m.CurrentBandwidth())
}

// Select applies the safety margin to kbps and picks a rung from qualities.
func Select(qualities []stream.Quality, kbps float64) (stream.Quality, bool) {
	sorted := stream.SortByBitrate(qualities)
	if len(sorted) == 0 {
		return stream.Quality{}, false
	}

	budget := kbps * SafetyMargin
	best := sorted[0]
	for _, q := range sorted {
		if float64(q.Bitrate) <= budget {
			best = q
		}
	}
	return best, true
}

// Probe fetches probeURL once, times the transfer and records the result.
// Any failure records FallbackKbps instead; the probe only warms the
// estimate.
func (m *Monitor) Probe(ctx context.Context, probeURL string) float64 {
	kbps, err := m.measure(ctx, probeURL)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"url":   probeURL,
			"error": err,
		}).Warn("bandwidth probe failed, using fallback estimate")
		kbps = FallbackKbps
	}

	m.AddMeasurement(kbps)
	return kbps
}

func (m *Monitor) measure(ctx context.Context, probeURL string) (float64, error) {
	u, err := url.Parse(probeURL)
	if err != nil {
		return 0, fmt.Errorf("parsing probe url: %w", err)
	}

	q := u.Query()
	q.Set("cb", random.String(8))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe returned status %s", resp.Status)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading probe body: %w", err)
	}

	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0, fmt.Errorf("probe too small to time: %d bytes", n)
	}

	return float64(n) * 8 / elapsed / 1000, nil
}
