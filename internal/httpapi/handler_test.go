package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crowdmagic/platebot/internal/orchestrator"
	"github.com/crowdmagic/platebot/internal/session"
	"github.com/crowdmagic/platebot/internal/store"
	"github.com/crowdmagic/platebot/internal/workflow"
)

type stubSubmitter struct {
	result *session.Result
	err    error
}

func (s *stubSubmitter) Submit(context.Context, workflow.SubmitRequest) (*session.Result, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore(time.Minute)
	orch := orchestrator.New(mem, &stubSubmitter{result: &session.Result{
		EnhancedMediaRef: "https://cdn.example/enhanced.jpg",
		Caption:          "Golden hour on a plate.",
	}}, nil)

	mux := http.NewServeMux()
	NewHandler(orch, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mem
}

func postEvent(t *testing.T, srv *httptest.Server, payload map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/events", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewPhotoCreatesSession(t *testing.T) {
	srv, mem := newTestServer(t)

	resp, body := postEvent(t, srv, map[string]any{
		"userId":      "u1",
		"channelId":   "c1",
		"newPhotoRef": "https://cdn.example/plate.jpg",
		"eventParams": map[string]any{"restaurantName": "Trattoria Sole"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected a sessionId, got %v", body)
	}
	if _, ok := body["promptText"]; !ok {
		t.Error("expected a promptText in the first render")
	}
	actions, _ := body["availableActions"].([]any)
	if len(actions) != 2 {
		t.Errorf("expected add/skip actions, got %v", body["availableActions"])
	}

	s, _ := mem.Get(context.Background(), sessionID)
	if s == nil || s.State != session.StateAwaitingReferenceChoice {
		t.Errorf("expected stored session in awaiting_reference_choice, got %+v", s)
	}
	if s.RestaurantName != "Trattoria Sole" {
		t.Errorf("restaurant name not carried, got %q", s.RestaurantName)
	}
}

func TestFullFlowOverHTTP(t *testing.T) {
	srv, mem := newTestServer(t)

	_, body := postEvent(t, srv, map[string]any{
		"userId":      "u1",
		"channelId":   "c1",
		"newPhotoRef": "https://cdn.example/plate.jpg",
	})
	id := body["sessionId"].(string)

	steps := []map[string]any{
		{"sessionId": id, "userId": "u1", "channelId": "c1", "eventType": "skip_references"},
		{"sessionId": id, "userId": "u1", "channelId": "c1", "eventType": "style_chosen",
			"eventParams": map[string]any{"style": "dinner"}},
		{"sessionId": id, "userId": "u1", "channelId": "c1", "eventType": "angle_chosen",
			"eventParams": map[string]any{"angle": "45deg"}},
	}
	var last map[string]any
	for _, step := range steps {
		resp, decoded := postEvent(t, srv, step)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("step %v: expected 200, got %d (%v)", step["eventType"], resp.StatusCode, decoded)
		}
		last = decoded
	}

	if last["resultMedia"] != "https://cdn.example/enhanced.jpg" {
		t.Errorf("expected the enhanced media in the final render, got %v", last["resultMedia"])
	}
	if last["resultText"] != "Golden hour on a plate." {
		t.Errorf("expected the caption in the final render, got %v", last["resultText"])
	}

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StateAwaitingOutcomeFeedback {
		t.Errorf("expected awaiting_outcome_feedback, got %s", s.State)
	}
}

func TestExpiredSessionIsSoft(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postEvent(t, srv, map[string]any{
		"sessionId": "sess-gone",
		"userId":    "u1",
		"channelId": "c1",
		"eventType": "approve",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("domain errors must stay 200, got %d", resp.StatusCode)
	}
	if body["error"] != "session_not_found" {
		t.Errorf("expected session_not_found, got %v", body["error"])
	}
	if body["promptText"] == "" {
		t.Error("expected a user-facing prompt")
	}
}

func TestInvalidActionIsSoft(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := postEvent(t, srv, map[string]any{
		"userId":      "u1",
		"channelId":   "c1",
		"newPhotoRef": "https://cdn.example/plate.jpg",
	})
	id := body["sessionId"].(string)

	// Approve is not legal straight after session creation.
	resp, body := postEvent(t, srv, map[string]any{
		"sessionId": id,
		"userId":    "u1",
		"channelId": "c1",
		"eventType": "approve",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("domain errors must stay 200, got %d", resp.StatusCode)
	}
	if body["error"] != "invalid_action" {
		t.Errorf("expected invalid_action, got %v", body["error"])
	}
}

func TestUnknownStyleIsRejectedAtParse(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := postEvent(t, srv, map[string]any{
		"userId":      "u1",
		"channelId":   "c1",
		"newPhotoRef": "https://cdn.example/plate.jpg",
	})
	id := body["sessionId"].(string)

	postEvent(t, srv, map[string]any{
		"sessionId": id, "userId": "u1", "channelId": "c1", "eventType": "skip_references",
	})

	resp, _ := postEvent(t, srv, map[string]any{
		"sessionId": id, "userId": "u1", "channelId": "c1", "eventType": "style_chosen",
		"eventParams": map[string]any{"style": "cyberpunk"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unparseable style should be a 400, got %d", resp.StatusCode)
	}
}

func TestMissingIdentityIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postEvent(t, srv, map[string]any{
		"sessionId": "sess-1",
		"eventType": "approve",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without userId/channelId, got %d", resp.StatusCode)
	}
}

func TestUnknownEventTypeIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postEvent(t, srv, map[string]any{
		"sessionId": "sess-1",
		"userId":    "u1",
		"channelId": "c1",
		"eventType": "launch_missiles",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown event type, got %d", resp.StatusCode)
	}
}

func TestPhotoBytesRejectedWithoutMediaStore(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postEvent(t, srv, map[string]any{
		"userId":       "u1",
		"channelId":    "c1",
		"newPhotoData": "aGVsbG8=",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 when no media store is configured, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}
