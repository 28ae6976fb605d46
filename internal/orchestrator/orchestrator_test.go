package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/crowdmagic/platebot/internal/activity"
	"github.com/crowdmagic/platebot/internal/session"
	"github.com/crowdmagic/platebot/internal/store"
	"github.com/crowdmagic/platebot/internal/workflow"
)

// fakeSubmitter returns scripted outcomes in order and records every
// request it receives.
type fakeSubmitter struct {
	mu       sync.Mutex
	requests []workflow.SubmitRequest
	results  []*session.Result
	errs     []error

	// beforeReturn, when set, runs after the request is recorded and
	// before the outcome is returned. Used to simulate eviction while a
	// request is in flight.
	beforeReturn func()
}

func (f *fakeSubmitter) Submit(_ context.Context, req workflow.SubmitRequest) (*session.Result, error) {
	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.beforeReturn != nil {
		f.beforeReturn()
	}

	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], f.errs[idx]
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recordingActivity captures best-effort activity writes.
type recordingActivity struct {
	mu      sync.Mutex
	entries []activity.Entry
	patches map[string]activity.Patch
}

func newRecordingActivity() *recordingActivity {
	return &recordingActivity{patches: make(map[string]activity.Patch)}
}

func (r *recordingActivity) Log(_ context.Context, e activity.Entry) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return "act-test"
}

func (r *recordingActivity) Update(_ context.Context, id string, p activity.Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches[id] = p
}

func okResult() *session.Result {
	return &session.Result{EnhancedMediaRef: "X", Caption: "Y"}
}

func newTestOrch(t *testing.T, sub Submitter) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore(time.Minute)
	return New(mem, sub, nil, WithCleanupDelay(time.Hour)), mem
}

// startSession creates a session and returns its id.
func startSession(t *testing.T, o *Orchestrator) string {
	t.Helper()
	render, err := o.HandleNewPhoto(context.Background(), "u1", "c1", "Trattoria Sole", "photo.jpg")
	if err != nil {
		t.Fatalf("new photo: %v", err)
	}
	return render.SessionID
}

// apply sends an event and fails the test on error.
func apply(t *testing.T, o *Orchestrator, ev session.Event) *Render {
	t.Helper()
	render, err := o.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("event %s: %v", ev.Type, err)
	}
	return render
}

// driveToResult walks a fresh session to AwaitingOutcomeFeedback.
func driveToResult(t *testing.T, o *Orchestrator) string {
	t.Helper()
	id := startSession(t, o)
	apply(t, o, session.Event{Type: session.EventSkipReferences, SessionID: id})
	apply(t, o, session.Event{Type: session.EventStyleChosen, SessionID: id, Style: session.StyleDinner})
	apply(t, o, session.Event{Type: session.EventAngleChosen, SessionID: id, Angle: session.Angle45Deg})
	return id
}

func TestHappyPath(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := startSession(t, o)
	apply(t, o, session.Event{Type: session.EventSkipReferences, SessionID: id})
	apply(t, o, session.Event{Type: session.EventStyleChosen, SessionID: id, Style: session.StyleDinner})
	render := apply(t, o, session.Event{Type: session.EventAngleChosen, SessionID: id, Angle: session.Angle45Deg})

	if render.ResultMedia != "X" || render.ResultText != "Y" {
		t.Errorf("render should carry the result, got media=%q text=%q", render.ResultMedia, render.ResultText)
	}

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StateAwaitingOutcomeFeedback {
		t.Errorf("expected awaiting_outcome_feedback, got %s", s.State)
	}
	if s.LastResult == nil || s.LastResult.EnhancedMediaRef != "X" {
		t.Errorf("expected lastResult X, got %+v", s.LastResult)
	}
	if s.AttemptCount != 1 {
		t.Errorf("expected attemptCount 1, got %d", s.AttemptCount)
	}

	req := sub.requests[0]
	if req.Theme != "dinner" || req.Angle != "45deg" {
		t.Errorf("unexpected request choices: theme=%q angle=%q", req.Theme, req.Angle)
	}
	if req.Variation {
		t.Error("first attempt should not set the variation flag")
	}
	if req.AttemptNumber != 1 {
		t.Errorf("expected attemptNumber 1, got %d", req.AttemptNumber)
	}
	if req.CorrelationID != id {
		t.Errorf("correlation id should be the session id")
	}
	if req.HasDecorReference {
		t.Error("skipped references should not set hasDecorReference")
	}
}

func TestDecorRefsNeverExceedCap(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := startSession(t, o)
	apply(t, o, session.Event{Type: session.EventAddReferences, SessionID: id})

	for i := 0; i < 6; i++ {
		apply(t, o, session.Event{Type: session.EventReferencePhoto, SessionID: id, PhotoRef: "decor.jpg"})
	}

	s, _ := mem.Get(context.Background(), id)
	if len(s.DecorRefs) != session.MaxDecorRefs {
		t.Errorf("expected %d decor refs, got %d", session.MaxDecorRefs, len(s.DecorRefs))
	}
	if s.State != session.StateCollectingReferences {
		t.Errorf("over-cap photos must not change state, got %s", s.State)
	}
}

func TestInvalidEventLeavesSessionUnchanged(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := startSession(t, o)
	before, _ := mem.Get(context.Background(), id)

	// "approve" is nowhere near legal in awaiting_reference_choice.
	_, err := o.HandleEvent(context.Background(), session.Event{Type: session.EventApprove, SessionID: id})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	after, _ := mem.Get(context.Background(), id)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("session mutated by invalid event:\nbefore %+v\nafter  %+v", before, after)
	}
	if sub.calls() != 0 {
		t.Error("invalid event must not reach the workflow client")
	}
}

func TestDuplicateApproveIsIdempotent(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	rec := newRecordingActivity()
	mem := store.NewMemoryStore(time.Minute)
	o := New(mem, sub, rec, WithCleanupDelay(time.Hour))

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventAcceptResult, SessionID: id})
	apply(t, o, session.Event{Type: session.EventApprove, SessionID: id})

	_, err := o.HandleEvent(context.Background(), session.Event{Type: session.EventApprove, SessionID: id})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on duplicate approve, got %v", err)
	}

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StateApproved {
		t.Errorf("state should remain approved, got %s", s.State)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.patches) != 1 {
		t.Errorf("expected exactly one activity patch, got %d", len(rec.patches))
	}
}

func TestFailedAttemptReturnsToStyleSelection(t *testing.T) {
	failure := &workflow.Error{Kind: workflow.FailureUpstream5xx, Attempts: 3, Err: errors.New("exhausted")}
	sub := &fakeSubmitter{
		results: []*session.Result{nil, okResult()},
		errs:    []error{failure, nil},
	}
	o, mem := newTestOrch(t, sub)

	id := driveToResult(t, o)

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StateAwaitingStyle {
		t.Fatalf("failure must recover to awaiting_style, got %s", s.State)
	}
	if s.AttemptCount != 1 {
		t.Errorf("failed attempt still counts: expected 1, got %d", s.AttemptCount)
	}
	if s.Style != "" || s.Angle != "" {
		t.Errorf("failure should clear choices, got style=%q angle=%q", s.Style, s.Angle)
	}
	if s.LastResult != nil {
		t.Error("no result should be recorded for a failed attempt")
	}
	if s.PrimaryMediaRef != "photo.jpg" {
		t.Error("original photo must be preserved across failures")
	}

	// The user retries with new choices and succeeds.
	apply(t, o, session.Event{Type: session.EventStyleChosen, SessionID: id, Style: session.StyleDessert})
	apply(t, o, session.Event{Type: session.EventAngleChosen, SessionID: id, Angle: session.AngleCloseup})

	s, _ = mem.Get(context.Background(), id)
	if s.AttemptCount != 2 {
		t.Errorf("expected attemptCount 2 after retry, got %d", s.AttemptCount)
	}
	if s.State != session.StateAwaitingOutcomeFeedback {
		t.Errorf("expected awaiting_outcome_feedback, got %s", s.State)
	}
	if sub.requests[1].AttemptNumber != 2 {
		t.Errorf("expected attemptNumber 2, got %d", sub.requests[1].AttemptNumber)
	}
}

func TestVariationRetryKeepsChoices(t *testing.T) {
	sub := &fakeSubmitter{
		results: []*session.Result{okResult(), {EnhancedMediaRef: "X2", Caption: "Y2"}},
		errs:    []error{nil, nil},
	}
	o, mem := newTestOrch(t, sub)

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventRetryVariation, SessionID: id})

	if sub.calls() != 2 {
		t.Fatalf("expected 2 workflow calls, got %d", sub.calls())
	}
	second := sub.requests[1]
	if !second.Variation {
		t.Error("variation retry must set the variation flag")
	}
	if second.Theme != "dinner" || second.Angle != "45deg" {
		t.Errorf("variation retry must keep choices, got theme=%q angle=%q", second.Theme, second.Angle)
	}

	s, _ := mem.Get(context.Background(), id)
	if s.AttemptCount != 2 {
		t.Errorf("expected attemptCount 2, got %d", s.AttemptCount)
	}
	if s.LastResult.EnhancedMediaRef != "X2" {
		t.Errorf("lastResult should be overwritten, got %s", s.LastResult.EnhancedMediaRef)
	}
}

func TestRetryNewStyleClearsOnlyStyle(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventRetryNewStyle, SessionID: id})

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StateAwaitingStyle {
		t.Errorf("expected awaiting_style, got %s", s.State)
	}
	if s.Style != "" {
		t.Errorf("style should be cleared, got %q", s.Style)
	}
	if s.Angle != session.Angle45Deg {
		t.Errorf("angle should be kept, got %q", s.Angle)
	}
	if s.AttemptCount != 1 {
		t.Errorf("retry selection must not change attemptCount, got %d", s.AttemptCount)
	}
}

func TestModifyCaptionIsLocal(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventAcceptResult, SessionID: id})
	render := apply(t, o, session.Event{Type: session.EventModifyCaption, SessionID: id, RemixTag: "intensify"})

	if render.ResultText == "Y" {
		t.Error("remix should have changed the caption")
	}

	s, _ := mem.Get(context.Background(), id)
	if s.State != session.StatePendingDecision {
		t.Errorf("modify keeps the decision state, got %s", s.State)
	}
	if s.AttemptCount != 1 {
		t.Errorf("modify must not change attemptCount, got %d", s.AttemptCount)
	}
	if sub.calls() != 1 {
		t.Errorf("modify must not call the workflow client, got %d calls", sub.calls())
	}
}

func TestOneCollectingSessionPerUser(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, _ := newTestOrch(t, sub)

	first := startSession(t, o)
	apply(t, o, session.Event{Type: session.EventAddReferences, SessionID: first})

	second := startSession(t, o)
	_, err := o.HandleEvent(context.Background(), session.Event{Type: session.EventAddReferences, SessionID: second})
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while another session is collecting, got %v", err)
	}

	// Finishing the first session's collection frees the slot.
	apply(t, o, session.Event{Type: session.EventReferencesDone, SessionID: first})
	apply(t, o, session.Event{Type: session.EventAddReferences, SessionID: second})
}

func TestExpiredSessionYieldsNotFound(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	mem := store.NewMemoryStore(20 * time.Millisecond)
	o := New(mem, sub, nil)

	id := startSession(t, o)
	time.Sleep(40 * time.Millisecond)

	_, err := o.HandleEvent(context.Background(), session.Event{Type: session.EventSkipReferences, SessionID: id})
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInFlightResultDiscardedAfterEviction(t *testing.T) {
	mem := store.NewMemoryStore(time.Minute)
	var o *Orchestrator
	var id string

	sub := &fakeSubmitter{
		results: []*session.Result{okResult()},
		errs:    []error{nil},
		beforeReturn: func() {
			// The session is evicted while the request is in flight.
			if err := mem.Delete(context.Background(), id); err != nil {
				t.Errorf("delete: %v", err)
			}
		},
	}
	o = New(mem, sub, nil)

	id = startSession(t, o)
	apply(t, o, session.Event{Type: session.EventSkipReferences, SessionID: id})
	apply(t, o, session.Event{Type: session.EventStyleChosen, SessionID: id, Style: session.StyleDinner})

	_, err := o.HandleEvent(context.Background(), session.Event{Type: session.EventAngleChosen, SessionID: id, Angle: session.Angle45Deg})
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for a discarded result, got %v", err)
	}

	s, _ := mem.Get(context.Background(), id)
	if s != nil {
		t.Error("discarded result must not resurrect the session")
	}
}

func TestApproveSchedulesCleanup(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	mem := store.NewMemoryStore(time.Minute)
	o := New(mem, sub, nil, WithCleanupDelay(20*time.Millisecond))

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventAcceptResult, SessionID: id})
	apply(t, o, session.Event{Type: session.EventApprove, SessionID: id})

	s, _ := mem.Get(context.Background(), id)
	if s == nil || s.State != session.StateApproved {
		t.Fatalf("expected approved session to linger, got %+v", s)
	}

	time.Sleep(60 * time.Millisecond)
	s, _ = mem.Get(context.Background(), id)
	if s != nil {
		t.Error("approved session should be cleaned up after the delay")
	}
}

func TestActivityLogging(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	rec := newRecordingActivity()
	mem := store.NewMemoryStore(time.Minute)
	o := New(mem, sub, rec, WithCleanupDelay(time.Hour))

	id := driveToResult(t, o)
	apply(t, o, session.Event{Type: session.EventAcceptResult, SessionID: id})
	apply(t, o, session.Event{Type: session.EventApprove, SessionID: id})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 activity entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Status != "generated" || e.Caption != "Y" || e.SessionID != id {
		t.Errorf("unexpected activity entry: %+v", e)
	}
	if p, ok := rec.patches["act-test"]; !ok || p.Status != "approved" {
		t.Errorf("expected approved patch, got %+v", rec.patches)
	}
}

func TestConcurrentDecorPhotosStayCapped(t *testing.T) {
	sub := &fakeSubmitter{results: []*session.Result{okResult()}, errs: []error{nil}}
	o, mem := newTestOrch(t, sub)

	id := startSession(t, o)
	apply(t, o, session.Event{Type: session.EventAddReferences, SessionID: id})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.HandleEvent(context.Background(), session.Event{
				Type: session.EventReferencePhoto, SessionID: id, PhotoRef: "decor.jpg",
			})
		}()
	}
	wg.Wait()

	s, _ := mem.Get(context.Background(), id)
	if len(s.DecorRefs) != session.MaxDecorRefs {
		t.Errorf("expected %d decor refs under concurrency, got %d", session.MaxDecorRefs, len(s.DecorRefs))
	}
}
