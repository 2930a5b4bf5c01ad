package random

import (
	"strings"
	"testing"
	"time"
)

func TestString(t *testing.T) {
	s := String(16)
	if len(s) != 16 {
		t.Fatalf("expected 16 characters, got %d", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(charset, r) {
			t.Fatalf("unexpected character %q", r)
		}
	}
	if String(0) != "" {
		t.Fatal("expected empty string")
	}
}

func TestJitter(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 100; i++ {
		got := Jitter(d, 0.2)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("jitter out of range: %s", got)
		}
	}
	if got := Jitter(d, 0); got != d {
		t.Fatalf("expected %s unchanged, got %s", d, got)
	}
}
