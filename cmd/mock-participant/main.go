// Package main implements a mock participant service for e2e testing.
// It serves POST /analyze responses from JSON fixture files, routing by a
// -name flag, so the full pipeline can run fast, deterministic, and offline.
//
// Usage:
//
//	mock-participant -name legal -fixtures /path/to/fixtures -port 9101
//
// Fixture files are JSON named by participant (e.g., "legal.json"). The file
// content is returned verbatim as the analysis verdict.
//
// Sequential fixtures: If numbered files exist (e.g., "legal.1.json",
// "legal.2.json"), the Nth call returns the Nth fixture. After exhausting
// numbered fixtures, the base "legal.json" repeats. This enables testing
// redelivery and duplicate-result handling.
//
// Failure injection: -delay holds every response for the given duration so
// adapter timeouts can be exercised, and -fail-status short-circuits every
// call with that HTTP status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// analyzeRequest mirrors the body the adapter posts to participants.
type analyzeRequest struct {
	TaskID   string          `json:"task_id"`
	Filename string          `json:"filename"`
	Sections json.RawMessage `json:"sections"`
}

// capturedRequest stores the key fields of an incoming request for test
// verification through the /requests endpoint.
type capturedRequest struct {
	TaskID    string          `json:"task_id"`
	Filename  string          `json:"filename"`
	Sections  json.RawMessage `json:"sections"`
	CallIndex int             `json:"call_index"` // 1-indexed
	Timestamp int64           `json:"timestamp"`
}

type server struct {
	name       string
	fixtures   []string // ordered fixture contents (sequential)
	delay      time.Duration
	failStatus int

	calls atomic.Int64

	requests   []capturedRequest
	requestsMu sync.Mutex
}

func main() {
	name := flag.String("name", "legal", "participant name, selects the fixture set")
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 9101, "port to listen on")
	delay := flag.Duration("delay", 0, "hold every response for this long")
	failStatus := flag.Int("fail-status", 0, "respond to every call with this HTTP status")
	flag.Parse()

	if envDir := os.Getenv("MOCK_PARTICIPANT_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir, *name)
	if err != nil {
		log.Fatalf("Failed to load fixtures for %s from %s: %v", *name, *fixtureDir, err)
	}
	log.Printf("Loaded %d fixture(s) for participant %s", len(fixtures), *name)

	s := &server{
		name:       *name,
		fixtures:   fixtures,
		delay:      *delay,
		failStatus: *failStatus,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock participant %s listening on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "participant": s.name})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	log.Printf("[call %d] task=%s file=%s", callNum, req.TaskID, req.Filename)

	s.capture(req, int(callNum))

	if s.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.delay):
		}
	}

	if s.failStatus != 0 {
		log.Printf("[call %d] injecting failure status %d", callNum, s.failStatus)
		http.Error(w, "injected failure", s.failStatus)
		return
	}

	// 0-indexed into the sequence, repeating the last fixture once exhausted.
	idx := int(callNum) - 1
	if idx >= len(s.fixtures) {
		idx = len(s.fixtures) - 1
	}
	content := s.fixtures[idx]

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(content))
	log.Printf("[call %d] responded with %d bytes", callNum, len(content))
}

func (s *server) capture(req analyzeRequest, callIndex int) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()
	s.requests = append(s.requests, capturedRequest{
		TaskID:    req.TaskID,
		Filename:  req.Filename,
		Sections:  req.Sections,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"participant": s.name,
		"total_calls": s.calls.Load(),
	})
}

// handleRequests returns captured request bodies for test assertions.
// Query params:
//   - task: filter by task ID (optional)
//   - call: filter by call index, 1-indexed (optional)
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	taskFilter := r.URL.Query().Get("task")
	callFilter := r.URL.Query().Get("call")

	s.requestsMu.Lock()
	var result []capturedRequest
	for _, req := range s.requests {
		if taskFilter != "" && req.TaskID != taskFilter {
			continue
		}
		if callFilter != "" {
			callIdx, err := strconv.Atoi(callFilter)
			if err == nil && req.CallIndex != callIdx {
				continue
			}
		}
		result = append(result, req)
	}
	s.requestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"participant": s.name,
		"requests":    result,
	})
}

// numberedFileRe matches files like "legal.1.json", "econom.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files for one participant and returns the ordered
// content sequence:
//  1. Numbered files (name.1.json, name.2.json, ...) in numeric order
//  2. Base file (name.json) appended as the final fallback
func loadFixtures(dir, name string) ([]string, error) {
	var base string
	var haveBase bool
	numbered := make(map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		var index int
		if matches := numberedFileRe.FindStringSubmatch(info.Name()); matches != nil {
			if matches[1] != name {
				return nil
			}
			index, _ = strconv.Atoi(matches[2])
		} else if strings.TrimSuffix(info.Name(), ".json") != name {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		if index > 0 {
			numbered[index] = string(data)
		} else {
			base = string(data)
			haveBase = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(numbered))
	for idx := range numbered {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var seq []string
	for _, idx := range indices {
		seq = append(seq, numbered[idx])
	}
	if haveBase {
		seq = append(seq, base)
	}

	if len(seq) == 0 {
		return nil, fmt.Errorf("no fixture files for %s in %s", name, dir)
	}
	return seq, nil
}
