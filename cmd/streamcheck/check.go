package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/stream"
	"github.com/irsalhamdi/coursestream/stream/bandwidth"
	"github.com/irsalhamdi/coursestream/stream/chapter"
	"github.com/irsalhamdi/coursestream/stream/player"
	"github.com/irsalhamdi/coursestream/validate"
)

type report struct {
	AssetID      string           `json:"assetId"`
	Title        string           `json:"title"`
	Tracks       []stream.Track   `json:"tracks"`
	Qualities    []stream.Quality `json:"qualities"`
	Chapters     []chapter.Marker `json:"chapters"`
	EstimateKbps float64          `json:"estimateKbps"`
	BudgetKbps   float64          `json:"budgetKbps"`
	Transport    player.State     `json:"transport"`
	Source       string           `json:"source"`
	Rung         string           `json:"rung,omitempty"`
}

// validateAsset lists every problem of the manifest. Beyond the struct
// rules, quality labels and chapter ids must be unique, and chapters must
// start inside the video when its duration is known.
func validateAsset(a stream.VideoAsset) []string {
	var problems []string

	fields := validate.CheckAll(a)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		problems = append(problems, fields[k])
	}

	labels := make(map[string]bool)
	for _, q := range a.Qualities {
		if labels[q.Label] {
			problems = append(problems, fmt.Sprintf("quality %q is listed twice", q.Label))
		}
		labels[q.Label] = true
	}

	ids := make(map[string]bool)
	for _, c := range a.Chapters {
		if ids[c.ID] {
			problems = append(problems, fmt.Sprintf("chapter %q is listed twice", c.ID))
		}
		ids[c.ID] = true

		if d := a.Metadata.Duration; d > 0 && c.Start >= d {
			problems = append(problems, fmt.Sprintf("chapter %q starts at %.1fs, after the end of the video (%.1fs)", c.ID, c.Start, d))
		}
	}

	return problems
}

// check loads the asset into a headless player driven by mon.
func check(a stream.VideoAsset, mon *bandwidth.Monitor, native []string, log logrus.FieldLogger) (report, error) {
	media := newHeadless(native)
	p := player.New(player.Config{
		Media:     media,
		Bandwidth: mon,
		Log:       log,
	})
	defer p.Destroy()

	if err := p.LoadVideo(a); err != nil {
		return report{}, fmt.Errorf("loading asset: %w", err)
	}

	cm := chapter.NewManager()
	cm.SetChapters(a.Chapters)

	rep := report{
		AssetID:      a.ID,
		Title:        a.Title,
		Tracks:       a.Tracks,
		Qualities:    stream.SortByBitrate(a.Qualities),
		Chapters:     cm.Chapters(),
		EstimateKbps: mon.CurrentBandwidth(),
		Transport:    p.State(),
		Source:       media.source,
	}
	rep.BudgetKbps = rep.EstimateKbps * bandwidth.SafetyMargin

	if rep.Transport == player.StateProgressive {
		if q, ok := mon.OptimalQuality(a.Qualities); ok {
			rep.Rung = q.Label
		}
	}

	return rep, nil
}

func (r report) print(out io.Writer) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "asset\t%s\t%s\n", r.AssetID, r.Title)
	fmt.Fprintf(tw, "bandwidth\t%.0f kbps\tbudget %.0f kbps\n", r.EstimateKbps, r.BudgetKbps)
	fmt.Fprintf(tw, "transport\t%s\t%s\n", r.Transport, r.Source)
	if r.Rung != "" {
		fmt.Fprintf(tw, "rung\t%s\t\n", r.Rung)
	}

	for _, q := range r.Qualities {
		fmt.Fprintf(tw, "quality\t%s\t%dx%d %d kbps\n", q.Label, q.Width, q.Height, q.Bitrate)
	}
	for _, c := range r.Chapters {
		fmt.Fprintf(tw, "chapter\t%s\t%.1fs %s\n", c.ID, c.Start, c.Title)
	}
}

// headless is a media element that only records its source.
type headless struct {
	native map[string]bool
	source string
	time   float64
	paused bool
}

func newHeadless(native []string) *headless {
	h := &headless{native: make(map[string]bool), paused: true}
	for _, m := range native {
		h.native[m] = true
	}
	return h
}

func (h *headless) SetSource(url string)         { h.source = url }
func (h *headless) CurrentTime() float64         { return h.time }
func (h *headless) SetCurrentTime(t float64)     { h.time = t }
func (h *headless) Paused() bool                 { return h.paused }
func (h *headless) Play() error                  { h.paused = false; return nil }
func (h *headless) Pause()                       { h.paused = true }
func (h *headless) CanPlayType(mime string) bool { return h.native[mime] }
