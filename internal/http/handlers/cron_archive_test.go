package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubArchive struct {
	prunePrefix string
	pruneCutoff time.Time
	pruneCount  int
	pruneErr    error

	objects map[string][]byte
}

func (s *stubArchive) PruneBefore(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	s.prunePrefix = prefix
	s.pruneCutoff = cutoff
	return s.pruneCount, s.pruneErr
}

func (s *stubArchive) GetObject(ctx context.Context, key string) ([]byte, error) {
	if payload, ok := s.objects[key]; ok {
		return payload, nil
	}
	return nil, errors.New("no such key")
}

func TestCronArchivePrune(t *testing.T) {
	archive := &stubArchive{pruneCount: 7}
	h := &Handler{Logger: zap.NewNop(), Archive: archive}

	recorder := httptest.NewRecorder()
	h.CronArchivePrune(recorder, httptest.NewRequest(http.MethodPost, "/api/cron/archive/prune", strings.NewReader(`{}`)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if archive.prunePrefix != "webhooks/" {
		t.Fatalf("expected webhook prefix, got %q", archive.prunePrefix)
	}
	expected := time.Now().AddDate(0, 0, -defaultArchiveRetentionDays)
	if diff := expected.Sub(archive.pruneCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected default retention cutoff near %v, got %v", expected, archive.pruneCutoff)
	}

	var body struct {
		Data struct {
			Deleted int `json:"deleted"`
		} `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if body.Data.Deleted != 7 {
		t.Fatalf("expected 7 deleted, got %d", body.Data.Deleted)
	}
}

func TestCronArchivePruneRetentionOverride(t *testing.T) {
	archive := &stubArchive{}
	h := &Handler{Logger: zap.NewNop(), Archive: archive}

	recorder := httptest.NewRecorder()
	h.CronArchivePrune(recorder, httptest.NewRequest(http.MethodPost, "/api/cron/archive/prune", strings.NewReader(`{"olderThanDays":30}`)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	expected := time.Now().AddDate(0, 0, -30)
	if diff := expected.Sub(archive.pruneCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected 30-day cutoff near %v, got %v", expected, archive.pruneCutoff)
	}
}

func TestCronArchivePruneRejectsNegativeRetention(t *testing.T) {
	h := &Handler{Logger: zap.NewNop(), Archive: &stubArchive{}}
	recorder := httptest.NewRecorder()
	h.CronArchivePrune(recorder, httptest.NewRequest(http.MethodPost, "/api/cron/archive/prune", strings.NewReader(`{"olderThanDays":-1}`)))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCronArchivePruneDisabled(t *testing.T) {
	h := &Handler{Logger: zap.NewNop()}
	recorder := httptest.NewRecorder()
	h.CronArchivePrune(recorder, httptest.NewRequest(http.MethodPost, "/api/cron/archive/prune", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when archive not configured, got %d", recorder.Code)
	}
}

func TestCronArchivePayloadFromColdCopy(t *testing.T) {
	archive := &stubArchive{objects: map[string][]byte{
		"webhooks/square/evt-1.json": []byte(`{"event_id":"evt-1"}`),
	}}
	h := &Handler{Logger: zap.NewNop(), Archive: archive}

	recorder := httptest.NewRecorder()
	h.CronArchivePayload(recorder, httptest.NewRequest(http.MethodGet, "/api/cron/archive/payload?provider=square&eventId=evt-1", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"event_id":"evt-1"}` {
		t.Fatalf("unexpected payload %q", recorder.Body.String())
	}
}

func TestCronArchivePayloadMissing(t *testing.T) {
	h := &Handler{Logger: zap.NewNop(), Archive: &stubArchive{}}
	recorder := httptest.NewRecorder()
	h.CronArchivePayload(recorder, httptest.NewRequest(http.MethodGet, "/api/cron/archive/payload?provider=square&eventId=evt-gone", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestCronArchivePayloadUnknownProvider(t *testing.T) {
	h := &Handler{Logger: zap.NewNop(), Archive: &stubArchive{}}
	recorder := httptest.NewRecorder()
	h.CronArchivePayload(recorder, httptest.NewRequest(http.MethodGet, "/api/cron/archive/payload?provider=bogus&eventId=evt-1", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}
