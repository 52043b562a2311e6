package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestLoadFixtures_Sequence(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "legal.json", `{"verdict":"base"}`)
	writeFixture(t, dir, "legal.2.json", `{"verdict":"second"}`)
	writeFixture(t, dir, "legal.1.json", `{"verdict":"first"}`)
	writeFixture(t, dir, "econom.json", `{"verdict":"other"}`)

	seq, err := loadFixtures(dir, "legal")
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(seq) != 3 {
		t.Fatalf("len(seq) = %d, want 3", len(seq))
	}
	if !strings.Contains(seq[0], "first") || !strings.Contains(seq[1], "second") || !strings.Contains(seq[2], "base") {
		t.Errorf("sequence out of order: %v", seq)
	}
}

func TestLoadFixtures_MissingParticipant(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "econom.json", `{}`)

	if _, err := loadFixtures(dir, "legal"); err == nil {
		t.Fatal("expected error for missing participant fixtures")
	}
}

func TestLoadFixtures_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "legal.json", `{broken`)

	if _, err := loadFixtures(dir, "legal"); err == nil {
		t.Fatal("expected error for invalid fixture JSON")
	}
}

func analyzeCall(t *testing.T, s *server, taskID string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"task_id":"` + taskID + `","filename":"c.md","sections":{}}`
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleAnalyze(rec, req)
	return rec
}

func TestHandleAnalyze_SequentialFixtures(t *testing.T) {
	s := &server{
		name:     "legal",
		fixtures: []string{`{"call":1}`, `{"call":2}`},
	}

	for i, want := range []string{`{"call":1}`, `{"call":2}`, `{"call":2}`} {
		rec := analyzeCall(t, s, "t1")
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d", i+1, rec.Code)
		}
		if rec.Body.String() != want {
			t.Errorf("call %d: body = %q, want %q", i+1, rec.Body.String(), want)
		}
	}
}

func TestHandleAnalyze_FailureInjection(t *testing.T) {
	s := &server{
		name:       "legal",
		fixtures:   []string{`{}`},
		failStatus: http.StatusInternalServerError,
	}

	rec := analyzeCall(t, s, "t1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleRequests_Filters(t *testing.T) {
	s := &server{name: "legal", fixtures: []string{`{}`}}
	analyzeCall(t, s, "t1")
	analyzeCall(t, s, "t2")

	req := httptest.NewRequest(http.MethodGet, "/requests?task=t2", nil)
	rec := httptest.NewRecorder()
	s.handleRequests(rec, req)

	var body struct {
		Requests []capturedRequest `json:"requests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Requests) != 1 || body.Requests[0].TaskID != "t2" {
		t.Fatalf("requests = %+v, want single t2 entry", body.Requests)
	}
}
