package player

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectCapabilities(t *testing.T) {
	env := Environment{
		ScreenWidth:      1920,
		ScreenHeight:     1080,
		PixelRatio:       2,
		TextTracks:       true,
		Fullscreen:       true,
		PictureInPicture: true,
		CanPlayType: func(mime string) bool {
			return strings.Contains(mime, "avc1") || strings.Contains(mime, "mp4a") || strings.Contains(mime, "vp9")
		},
	}

	got := DetectCapabilities(env, &fakeProvider{dash: true})
	exp := Capabilities{
		HLS:              false,
		DASH:             true,
		WebVTT:           true,
		PictureInPicture: true,
		Fullscreen:       true,
		Keyboard:         true,
		Touch:            false,
		MaxResolution:    "2160p",
		Codecs:           []string{"h264", "vp9", "aac"},
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("capabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectCapabilitiesMobile(t *testing.T) {
	env := Environment{
		ScreenWidth:    390,
		ScreenHeight:   844,
		PixelRatio:     3,
		MaxTouchPoints: 5,
		CanPlayType: func(mime string) bool {
			return mime == hlsMime
		},
	}

	got := DetectCapabilities(env, nil)
	if !got.HLS {
		t.Fatal("expected native hls support")
	}
	if !got.Touch || got.Keyboard {
		t.Fatalf("expected touch without keyboard, got %+v", got)
	}
	if got.MaxResolution != "1080p" {
		t.Fatalf("expected 1080p, got %s", got.MaxResolution)
	}
	if len(got.Codecs) != 0 {
		t.Fatalf("expected no codecs, got %v", got.Codecs)
	}
}

func TestMaxResolutionUnknownScreen(t *testing.T) {
	if got := maxResolution(Environment{}); got != "1080p" {
		t.Fatalf("expected default 1080p, got %s", got)
	}
	if got := maxResolution(Environment{ScreenWidth: 1280, ScreenHeight: 720}); got != "720p" {
		t.Fatalf("expected 720p, got %s", got)
	}
	if got := maxResolution(Environment{ScreenWidth: 800, ScreenHeight: 600}); got != "480p" {
		t.Fatalf("expected 480p, got %s", got)
	}
}
