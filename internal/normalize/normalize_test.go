package normalize

import (
	"errors"
	"testing"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	sw, err := Normalize(SwipeFields{Credential: " 5F3C7A9E1B ", Intent: "Break"}, cfg, "rest")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sw.Credential != "5F3C7A9E1B" || sw.Intent != model.IntentBreak || sw.ReaderID != "unknown" || sw.Source != "rest" {
		t.Fatalf("unexpected swipe: %+v", sw)
	}
	if !sw.Timestamp.IsZero() {
		t.Fatalf("missing timestamp must stay zero so the engine stamps it")
	}
	if _, err := Normalize(SwipeFields{}, cfg, "rest"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestParseTimestampUsesParserZone(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts, err := ParseTimestamp("2026-03-02 09:00:00", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ts.UTC())
	}
	ts, err = ParseTimestamp("2026-03-02T09:00:00Z", loc)
	if err != nil || ts.UTC().Hour() != 9 {
		t.Fatalf("explicit zone must win: %v %v", ts, err)
	}
	ms, err := ParseTimestamp("1772442000000", loc)
	if err != nil || ms.Unix() != 1772442000 {
		t.Fatalf("unix millis: %v %v", ms, err)
	}
}

func TestParseIntent(t *testing.T) {
	for value, want := range map[string]model.Intent{
		"":      model.IntentNone,
		"in":    model.IntentNone,
		"break": model.IntentBreak,
		"LUNCH": model.IntentBreak,
	} {
		if got := ParseIntent(value); got != want {
			t.Fatalf("%q: expected %q, got %q", value, want, got)
		}
	}
}
