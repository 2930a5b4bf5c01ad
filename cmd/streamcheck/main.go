// Command streamcheck validates a video asset manifest, measures the
// bandwidth to a probe URL and reports how a player without streaming
// engines would play the asset.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/stream"
	"github.com/irsalhamdi/coursestream/stream/bandwidth"
)

type config struct {
	Asset    string        `conf:"required,help:path of the JSON asset manifest"`
	ProbeURL string        `conf:"help:URL fetched to measure bandwidth; empty keeps the fallback estimate"`
	Samples  int           `conf:"default:3,help:number of probes"`
	Timeout  time.Duration `conf:"default:10s,help:deadline of each probe"`
	Native   []string      `conf:"help:MIME types the simulated media element plays natively"`
	JSON     bool          `conf:"help:print the report as JSON"`
}

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if err := run(log, os.Stdout); err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			return
		}
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger, out io.Writer) error {
	var cfg config
	help, err := conf.Parse("STREAMCHECK", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Fprintln(out, help)
			return err
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	asset, err := loadAsset(cfg.Asset)
	if err != nil {
		return err
	}

	mon := bandwidth.New(log, &http.Client{Timeout: cfg.Timeout})
	if cfg.ProbeURL != "" {
		for i := 0; i < cfg.Samples; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			kbps := mon.Probe(ctx, cfg.ProbeURL)
			cancel()
			log.WithFields(logrus.Fields{"sample": i + 1, "kbps": kbps}).Debug("probe")
		}
	}

	rep, err := check(asset, mon, cfg.Native, log)
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	rep.print(out)
	return nil
}

func loadAsset(path string) (stream.VideoAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return stream.VideoAsset{}, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	return decodeAsset(f)
}

// decodeAsset reads and validates a manifest.
func decodeAsset(r io.Reader) (stream.VideoAsset, error) {
	var a stream.VideoAsset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return stream.VideoAsset{}, fmt.Errorf("decoding manifest: %w", err)
	}

	if problems := validateAsset(a); len(problems) > 0 {
		return stream.VideoAsset{}, &invalidError{problems: problems}
	}
	return a, nil
}

type invalidError struct {
	problems []string
}

func (e *invalidError) Error() string {
	return "invalid manifest:\n  " + strings.Join(e.problems, "\n  ")
}
