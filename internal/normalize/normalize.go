package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

var (
	ErrMissingCredential = errors.New("swipe has no credential")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
)

// SwipeFields is a swipe as parsed from the wire, before validation.
type SwipeFields struct {
	Timestamp  string
	ReaderID   string
	Credential string
	Intent     string
	Extras     map[string]string
	Raw        string
}

func Normalize(fields SwipeFields, cfg *config.Config, source string) (model.Swipe, error) {
	credential := strings.TrimSpace(fields.Credential)
	if credential == "" {
		return model.Swipe{}, ErrMissingCredential
	}
	reader := strings.TrimSpace(fields.ReaderID)
	if reader == "" {
		reader = cfg.Ingest.Parser.DefaultReaderID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	var ts time.Time
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Swipe{}, fmt.Errorf("%w: %w", ErrInvalidTimestamp, err)
		}
		ts = parsed.UTC()
	}

	return model.Swipe{
		Timestamp:  ts,
		Credential: credential,
		Intent:     ParseIntent(fields.Intent),
		ReaderID:   reader,
		Source:     source,
		Raw:        fields.Raw,
	}, nil
}

// ParseIntent maps terminal action names onto swipe intents. Anything that is
// not a break request is a plain swipe.
func ParseIntent(value string) model.Intent {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "break", "break_start", "break_end", "breakstart", "pause", "lunch":
		return model.IntentBreak
	}
	return model.IntentNone
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

// ParseTimestamp accepts RFC 3339, common log layouts and unix seconds or
// milliseconds. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
