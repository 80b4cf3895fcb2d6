package server_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/go-voice-assistant/internal/assistant"
	"github.com/example/go-voice-assistant/internal/server"
	"github.com/example/go-voice-assistant/internal/watch"
)

type stubAssistant struct {
	submitErr error
	state     assistant.TurnState
	ready     *watch.Value[bool]
	status    *watch.Value[string]
	events    *watch.Feed[assistant.StatusEvent]

	mu        sync.Mutex
	submitted []string
}

func newStubAssistant() *stubAssistant {
	return &stubAssistant{
		ready:  watch.NewValue(true),
		status: watch.NewValue("Ready"),
		events: watch.NewFeed[assistant.StatusEvent](0),
		state:  assistant.TurnState{Phase: assistant.Ready},
	}
}

func (s *stubAssistant) SubmitUtterance(text string) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	if strings.TrimSpace(text) == "" {
		return assistant.ErrEmptyUtterance
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, text)
	return nil
}

func (s *stubAssistant) State() assistant.TurnState          { return s.state }
func (s *stubAssistant) Ready() *watch.Value[bool]           { return s.ready }
func (s *stubAssistant) StatusMessage() *watch.Value[string] { return s.status }

func (s *stubAssistant) Events() (<-chan assistant.StatusEvent, func()) {
	return s.events.Subscribe()
}

func postUtterance(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/utterance", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestUtterance_Accepted(t *testing.T) {
	a := newStubAssistant()
	h := server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithAssistant(a))

	rec := postUtterance(h, `{"text":"what time is it"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(a.submitted) != 1 || a.submitted[0] != "what time is it" {
		t.Errorf("submitted = %q", a.submitted)
	}
}

func TestUtterance_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"not initialized", assistant.ErrNotInitialized, `{"text":"hi"}`, http.StatusServiceUnavailable},
		{"closed", assistant.ErrClosed, `{"text":"hi"}`, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), `{"text":"hi"}`, http.StatusInternalServerError},
		{"empty", nil, `{"text":"  "}`, http.StatusBadRequest},
		{"bad json", nil, `{"text":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newStubAssistant()
			a.submitErr = tt.err
			h := server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithAssistant(a))

			if rec := postUtterance(h, tt.body); rec.Code != tt.want {
				t.Fatalf("want %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAssistantRoutesAbsentWithoutAssistant(t *testing.T) {
	h := newTestHandler(&stubSynthesizer{}, &stubVoiceLister{})

	for _, path := range []string{"/utterance", "/status", "/status/stream", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: want 404, got %d", path, rec.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	a := newStubAssistant()
	a.state = assistant.TurnState{
		Phase:     assistant.Error,
		TurnID:    "turn-1",
		Utterance: "hi",
		Response:  "hello",
		Err:       errors.New("device busy"),
	}
	a.status.Set("Playback Error: device busy")

	h := server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithAssistant(a))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"ready":     true,
		"phase":     "error",
		"message":   "Playback Error: device busy",
		"turn_id":   "turn-1",
		"utterance": "hi",
		"response":  "hello",
		"error":     "device busy",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestHealth_ReportsReadiness(t *testing.T) {
	a := newStubAssistant()
	a.ready.Set(false)
	h := server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithAssistant(a))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestStatusStream_SendsEventsInOrder(t *testing.T) {
	a := newStubAssistant()
	srv := httptest.NewServer(server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithAssistant(a)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Headers arrive after the handler subscribed.
	phases := []assistant.Phase{assistant.Thinking, assistant.Speaking, assistant.Ready}
	for i, p := range phases {
		a.events.Publish(assistant.StatusEvent{Seq: uint64(i + 1), Phase: p, Message: p.String()})
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	for i, p := range phases {
		select {
		case data, ok := <-lines:
			if !ok {
				t.Fatal("stream ended early")
			}
			var ev struct {
				Seq   uint64 `json:"seq"`
				Phase string `json:"phase"`
			}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Seq != uint64(i+1) || ev.Phase != p.String() {
				t.Errorf("event %d = %+v", i, ev)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	a.events.Close()

	select {
	case _, ok := <-lines:
		if ok {
			t.Error("unexpected extra event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the feed closed")
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	h := server.NewHandler(&stubSynthesizer{}, &stubVoiceLister{}, server.WithMetrics(metrics))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics\n" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
