// Package orchestrator drives a content-creation session through its
// state machine. It is the only component that mutates sessions: the
// presentation adapter hands it typed events, it validates them against
// the current state, invokes the workflow client on the terminal
// selection step, and records outcomes back into the session store.
//
// Events for the same session are serialized behind a per-session lock;
// events for different sessions run fully in parallel. The lock is
// released while the workflow request is in flight so the session can
// still expire underneath it; a completed request whose session is gone
// is discarded as a normal outcome.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/activity"
	"github.com/crowdmagic/platebot/internal/caption"
	"github.com/crowdmagic/platebot/internal/session"
	"github.com/crowdmagic/platebot/internal/store"
	"github.com/crowdmagic/platebot/internal/workflow"
)

// defaultCleanupDelay is how long a terminal session lingers before its
// record is deleted, so a duplicate button press still gets a coherent
// "already decided" rejection instead of "session not found".
const defaultCleanupDelay = 5 * time.Minute

// Submitter is the workflow client dependency. *workflow.Client
// satisfies it; tests substitute a scripted fake.
type Submitter interface {
	Submit(ctx context.Context, req workflow.SubmitRequest) (*session.Result, error)
}

// Orchestrator applies events to sessions.
type Orchestrator struct {
	store    store.Store
	client   Submitter
	activity activity.Logger

	cleanupDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCleanupDelay overrides how long terminal sessions linger before
// deletion.
func WithCleanupDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.cleanupDelay = d }
}

// New creates an orchestrator. A nil activityLogger disables activity
// recording.
func New(s store.Store, client Submitter, activityLogger activity.Logger, opts ...Option) *Orchestrator {
	if activityLogger == nil {
		activityLogger = activity.Noop{}
	}
	o := &Orchestrator{
		store:        s,
		client:       client,
		activity:     activityLogger,
		cleanupDelay: defaultCleanupDelay,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lockFor returns the serialization lock for a session id.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// releaseLock drops a session's lock entry once the session is gone.
func (o *Orchestrator) releaseLock(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.locks, id)
}

// HandleNewPhoto creates a session for a freshly submitted primary
// photo and returns the first prompt of the flow.
func (o *Orchestrator) HandleNewPhoto(ctx context.Context, userID, channelID, restaurantName, photoRef string) (*Render, error) {
	s := session.New(userID, channelID, restaurantName, photoRef)
	if err := o.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info().
		Str("sessionId", s.ID).
		Str("userId", userID).
		Msg("Session created for new photo")
	return renderReferenceChoice(s), nil
}

// HandleEvent validates an event against the session's current state
// and applies it. Invalid events return session.ErrInvalidTransition
// with the stored session untouched; unknown or expired session ids
// return session.ErrSessionNotFound. Both are normal outcomes the
// adapter turns into soft user prompts.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev session.Event) (*Render, error) {
	lock := o.lockFor(ev.SessionID)
	lock.Lock()

	s, err := o.store.Get(ctx, ev.SessionID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("load session %s: %w", ev.SessionID, err)
	}
	if s == nil {
		lock.Unlock()
		return nil, session.ErrSessionNotFound
	}

	// The two processing triggers release the lock around the outbound
	// call; everything else completes under it.
	if ev.Type == session.EventAngleChosen || ev.Type == session.EventRetryVariation {
		return o.startProcessing(ctx, lock, s, ev)
	}

	defer lock.Unlock()
	return o.applyLocal(ctx, s, ev)
}

// applyLocal handles every transition that does not invoke the workflow
// client. The session is only persisted after the transition has fully
// applied; an invalid event leaves the record byte-for-byte unchanged.
func (o *Orchestrator) applyLocal(ctx context.Context, s *session.Session, ev session.Event) (*Render, error) {
	switch {
	case s.State == session.StateAwaitingReferenceChoice && ev.Type == session.EventAddReferences:
		other, err := o.store.FindCollecting(ctx, s.UserID)
		if err != nil {
			return nil, fmt.Errorf("check collecting sessions for user %s: %w", s.UserID, err)
		}
		if other != nil && other.ID != s.ID {
			log.Debug().
				Str("sessionId", s.ID).
				Str("collectingSessionId", other.ID).
				Msg("User already has a collecting session")
			return nil, session.ErrInvalidTransition
		}
		s.State = session.StateCollectingReferences
		return o.persist(ctx, s, renderCollecting(s))

	case s.State == session.StateAwaitingReferenceChoice && ev.Type == session.EventSkipReferences:
		s.State = session.StateAwaitingStyle
		return o.persist(ctx, s, renderStylePrompt(s))

	case s.State == session.StateCollectingReferences && ev.Type == session.EventReferencePhoto:
		if len(s.DecorRefs) >= session.MaxDecorRefs {
			// Over the cap: ignore the photo, keep the stored record
			// untouched, and nudge the user toward "done".
			return renderDecorLimit(s), nil
		}
		s.DecorRefs = append(s.DecorRefs, ev.PhotoRef)
		return o.persist(ctx, s, renderCollecting(s))

	case s.State == session.StateCollectingReferences && ev.Type == session.EventReferencesDone:
		s.State = session.StateAwaitingStyle
		return o.persist(ctx, s, renderStylePrompt(s))

	case s.State == session.StateAwaitingStyle && ev.Type == session.EventStyleChosen:
		if !ev.Style.ValidChoice() {
			return nil, session.ErrUnknownStyle
		}
		s.Style = ev.Style
		s.State = session.StateAwaitingAngle
		return o.persist(ctx, s, renderAnglePrompt(s))

	case s.State == session.StateAwaitingOutcomeFeedback && ev.Type == session.EventAcceptResult:
		s.State = session.StatePendingDecision
		return o.persist(ctx, s, renderDecision(s))

	case s.State == session.StateAwaitingOutcomeFeedback && ev.Type == session.EventRetryNewStyle:
		s.Style = ""
		s.State = session.StateAwaitingStyle
		return o.persist(ctx, s, renderStylePrompt(s))

	case s.State == session.StateAwaitingOutcomeFeedback && ev.Type == session.EventRetryNewAngle:
		s.Angle = ""
		s.State = session.StateAwaitingAngle
		return o.persist(ctx, s, renderAnglePrompt(s))

	case s.State == session.StatePendingDecision && ev.Type == session.EventModifyCaption:
		tag, ok := caption.ParseRemixTag(ev.RemixTag)
		if !ok {
			return nil, session.ErrInvalidTransition
		}
		s.LastResult.Caption = caption.Remix(s.LastResult.Caption, tag)
		return o.persist(ctx, s, renderDecision(s))

	case s.State == session.StatePendingDecision && ev.Type == session.EventApprove:
		s.State = session.StateApproved
		render, err := o.persist(ctx, s, renderApproved(s))
		if err != nil {
			return nil, err
		}
		o.activity.Update(ctx, s.ActivityID, activity.Patch{Status: "approved"})
		o.scheduleCleanup(s.ID)
		log.Info().Str("sessionId", s.ID).Int("attempts", s.AttemptCount).Msg("Session approved")
		return render, nil

	case s.State == session.StatePendingDecision && ev.Type == session.EventReject:
		s.State = session.StateRejected
		render, err := o.persist(ctx, s, renderRejected(s))
		if err != nil {
			return nil, err
		}
		o.activity.Update(ctx, s.ActivityID, activity.Patch{Status: "rejected"})
		o.scheduleCleanup(s.ID)
		log.Info().Str("sessionId", s.ID).Int("attempts", s.AttemptCount).Msg("Session rejected")
		return render, nil
	}

	log.Debug().
		Str("sessionId", s.ID).
		Str("state", string(s.State)).
		Str("event", string(ev.Type)).
		Msg("Event not valid for current state")
	return nil, session.ErrInvalidTransition
}

// startProcessing commits the Processing state, releases the session
// lock for the duration of the outbound call, then applies the outcome.
func (o *Orchestrator) startProcessing(ctx context.Context, lock *sync.Mutex, s *session.Session, ev session.Event) (*Render, error) {
	variation := false
	switch {
	case s.State == session.StateAwaitingAngle && ev.Type == session.EventAngleChosen:
		if !ev.Angle.ValidChoice() {
			lock.Unlock()
			return nil, session.ErrUnknownAngle
		}
		s.Angle = ev.Angle
	case s.State == session.StateAwaitingOutcomeFeedback && ev.Type == session.EventRetryVariation:
		variation = true
	default:
		lock.Unlock()
		return nil, session.ErrInvalidTransition
	}

	s.State = session.StateProcessing
	if err := o.store.Update(ctx, s); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("persist session %s: %w", s.ID, err)
	}

	req := workflow.SubmitRequest{
		ImageURL:          s.PrimaryMediaRef,
		UserID:            s.UserID,
		ChatID:            s.ChannelID,
		RestaurantName:    s.RestaurantName,
		Theme:             string(s.Style),
		Angle:             string(s.Angle),
		DecorPhotos:       s.DecorRefs,
		HasDecorReference: len(s.DecorRefs) > 0,
		Variation:         variation,
		AttemptNumber:     s.AttemptCount + 1,
		CorrelationID:     s.ID,
	}
	lock.Unlock()

	start := time.Now()
	result, submitErr := o.client.Submit(ctx, req)
	elapsed := time.Since(start)

	lock.Lock()
	defer lock.Unlock()
	return o.finishProcessing(ctx, s.ID, result, submitErr, elapsed)
}

// finishProcessing merges a completed workflow call back into the
// session. If the session expired while the call was in flight, the
// result is discarded without error noise.
func (o *Orchestrator) finishProcessing(ctx context.Context, sessionID string, result *session.Result, submitErr error, elapsed time.Duration) (*Render, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session %s: %w", sessionID, err)
	}
	if s == nil || s.State != session.StateProcessing {
		log.Info().
			Str("sessionId", sessionID).
			Bool("expired", s == nil).
			Msg("Workflow result discarded — session no longer processing")
		return nil, session.ErrSessionNotFound
	}

	// One completed round trip, success or failure. Retries inside the
	// workflow client do not count.
	s.AttemptCount++

	if submitErr != nil {
		// Deterministic recovery target: back to style selection with
		// the photo and decor references preserved.
		s.Style = ""
		s.Angle = ""
		s.State = session.StateAwaitingStyle
		s.ActivityID = o.activity.Log(ctx, activity.Entry{
			UserID:           s.UserID,
			ChannelID:        s.ChannelID,
			SessionID:        s.ID,
			Status:           "failed",
			ProcessingTimeMs: elapsed.Milliseconds(),
		})
		render, err := o.persist(ctx, s, renderProcessingFailed(s))
		if err != nil {
			return nil, err
		}
		log.Warn().
			Err(submitErr).
			Str("sessionId", s.ID).
			Int("attemptCount", s.AttemptCount).
			Msg("Processing attempt failed — returning to style selection")
		return render, nil
	}

	s.LastResult = result
	s.State = session.StateAwaitingOutcomeFeedback
	s.ActivityID = o.activity.Log(ctx, activity.Entry{
		UserID:           s.UserID,
		ChannelID:        s.ChannelID,
		SessionID:        s.ID,
		Status:           "generated",
		Caption:          result.Caption,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
	render, err := o.persist(ctx, s, renderResult(s))
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("sessionId", s.ID).
		Int("attemptCount", s.AttemptCount).
		Dur("processingTime", elapsed).
		Bool("fallback", result.Fallback).
		Msg("Processing attempt succeeded")
	return render, nil
}

// persist writes the mutated session and returns the prepared render.
func (o *Orchestrator) persist(ctx context.Context, s *session.Session, render *Render) (*Render, error) {
	if err := o.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return render, nil
}

// scheduleCleanup deletes a terminal session after the configured delay.
func (o *Orchestrator) scheduleCleanup(sessionID string) {
	time.AfterFunc(o.cleanupDelay, func() {
		if err := o.store.Delete(context.Background(), sessionID); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Terminal session cleanup failed")
			return
		}
		o.releaseLock(sessionID)
		log.Debug().Str("sessionId", sessionID).Msg("Terminal session cleaned up")
	})
}
