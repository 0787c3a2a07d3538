package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"attendguard/internal/config"
	"attendguard/internal/engine"
	"attendguard/internal/model"
	"attendguard/internal/storage"
)

func newTestREST(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ingest.RedeliveryWindow = 0
	cfg.Ingest.MaxFutureSkew = 0
	cfg.AccessControl.Enabled = true
	cfg.AccessControl.Revoked = []string{"DEADBEEF"}
	store := storage.NewMemory()
	if _, err := store.SaveEmployee(context.Background(), model.Employee{Code: "EMP001", Credential: "5F3C7A9E1B", Name: "John Smith"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng, err := engine.NewEngine(cfg, nil, engine.Deps{Store: store})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return NewRESTServer(config.NewStaticManager(cfg), eng, nil).Handler()
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s response: %v (%s)", path, err, rec.Body.String())
	}
	return rec, out
}

func TestSwipeStatusCodes(t *testing.T) {
	h := newTestREST(t)
	cases := []struct {
		body   string
		code   int
		status string
	}{
		{`{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T09:00:00Z"}`, http.StatusCreated, "checked_in"},
		{`{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T12:00:00Z","action":"break"}`, http.StatusOK, "break_started"},
		{`{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T12:15:00Z"}`, http.StatusOK, "break_ended"},
		{`{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T17:00:00Z"}`, http.StatusOK, "checked_out"},
		{`{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T17:30:00Z"}`, http.StatusConflict, "already_checked_out"},
	}
	for _, tc := range cases {
		rec, out := post(t, h, "/swipe", tc.body)
		if rec.Code != tc.code || out["status"] != tc.status {
			t.Fatalf("%s: expected %d %s, got %d %v", tc.body, tc.code, tc.status, rec.Code, out["status"])
		}
	}
}

func TestSwipeErrors(t *testing.T) {
	h := newTestREST(t)
	if rec, _ := post(t, h, "/swipe", `{"rfid_tag":"0000000000"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown credential: expected 404, got %d", rec.Code)
	}
	if rec, _ := post(t, h, "/swipe", `{"rfid_tag":"deadbeef"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("revoked credential: expected 403, got %d", rec.Code)
	}
	if rec, _ := post(t, h, "/swipe", `{"timestamp":"2026-03-02T09:00:00Z"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing credential: expected 400, got %d", rec.Code)
	}
	if rec, _ := post(t, h, "/swipe", `{"rfid_tag":"5F3C7A9E1B","timestamp":"yesterday"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: expected 400, got %d", rec.Code)
	}
}

func TestBatchSwipes(t *testing.T) {
	h := newTestREST(t)
	rec, out := post(t, h, "/swipes", `[
		{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T09:00:00Z"},
		{"rfid_tag":"0000000000","timestamp":"2026-03-02T09:01:00Z"},
		{"rfid_tag":"5F3C7A9E1B","timestamp":"2026-03-02T17:00:00Z"}
	]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out["accepted"] != float64(2) || out["failed"] != float64(1) {
		t.Fatalf("unexpected batch counts: %v", out)
	}
}
