package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendguard/internal/model"
)

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, []model.Alert) error {
	f.calls++
	return errors.New("broker down")
}

func TestBuildEveryCandidateBecomesOneAlert(t *testing.T) {
	em := NewEmitter(nil)
	fixed := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	em.now = func() time.Time { return fixed }
	cands := []model.Candidate{
		{Kind: model.KindExtendedBreak, Severity: model.SeverityLow, Description: "a"},
		{Kind: model.KindExtendedBreak, Severity: model.SeverityLow, Description: "a"},
	}
	list := em.BuildAll(7, "swipe-1", cands)
	if len(list) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(list))
	}
	for _, a := range list {
		if a.EmployeeID != 7 || a.Resolved || !a.Timestamp.Equal(fixed) || a.SwipeID != "swipe-1" {
			t.Fatalf("unexpected alert: %+v", a)
		}
	}
}

func TestPublishContinuesPastFailingSink(t *testing.T) {
	bad := &failingSink{}
	feed := NewStore(10)
	em := NewEmitter(nil, bad, feed)
	err := em.Publish(context.Background(), []model.Alert{{Kind: model.KindLateArrival}})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if bad.calls != 1 || len(feed.List(0)) != 1 {
		t.Fatalf("expected both sinks to be called")
	}
}

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore(2)
	for i := 1; i <= 3; i++ {
		s.Add(model.Alert{ID: int64(i)})
	}
	list := s.List(0)
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 3 {
		t.Fatalf("unexpected ring contents: %+v", list)
	}
}
