// Package session defines the domain model for a content-creation
// session: the session record itself, the state and event enumerations,
// the typed event payloads produced by the presentation adapter, and the
// error taxonomy shared by the orchestrator and its callers.
//
// A session tracks one user photo from submission through decor-reference
// collection, style/angle selection, external processing, and the final
// approve/modify/reject loop. Sessions are mutated exclusively by the
// orchestrator; this package holds no behavior beyond construction,
// validation, and copying.
package session

import (
	"time"

	"github.com/google/uuid"
)

// MaxDecorRefs is the hard cap on secondary reference photos per session.
// Reference photos delivered beyond the cap are ignored.
const MaxDecorRefs = 3

// State identifies where a session is in the content-creation flow.
type State string

const (
	StateAwaitingReferenceChoice State = "awaiting_reference_choice"
	StateCollectingReferences    State = "collecting_references"
	StateAwaitingStyle           State = "awaiting_style"
	StateAwaitingAngle           State = "awaiting_angle"
	StateProcessing              State = "processing"
	StateAwaitingOutcomeFeedback State = "awaiting_outcome_feedback"
	StatePendingDecision         State = "pending_decision"
	StateApproved                State = "approved"
	StateRejected                State = "rejected"
)

// allStates is the closed set of legal state values.
var allStates = map[State]bool{
	StateAwaitingReferenceChoice: true,
	StateCollectingReferences:    true,
	StateAwaitingStyle:           true,
	StateAwaitingAngle:           true,
	StateProcessing:              true,
	StateAwaitingOutcomeFeedback: true,
	StatePendingDecision:         true,
	StateApproved:                true,
	StateRejected:                true,
}

// Valid reports whether s is a defined state value.
func (s State) Valid() bool { return allStates[s] }

// Terminal reports whether the session has reached its final decision.
// Terminal sessions accept no further events and are scheduled for cleanup.
func (s State) Terminal() bool { return s == StateApproved || s == StateRejected }

// Style is a thematic preset applied to a processing request.
type Style string

const (
	StyleBreakfast Style = "breakfast"
	StyleBrunch    Style = "brunch"
	StyleLunch     Style = "lunch"
	StyleDinner    Style = "dinner"
	StyleDessert   Style = "dessert"
	StyleDrinks    Style = "drinks"
	StyleFestive   Style = "festive"
)

// Styles returns the selectable style presets in display order.
func Styles() []Style {
	return []Style{
		StyleBreakfast, StyleBrunch, StyleLunch, StyleDinner,
		StyleDessert, StyleDrinks, StyleFestive,
	}
}

// ValidChoice reports whether s is one of the selectable presets.
func (s Style) ValidChoice() bool {
	_, err := ParseStyle(string(s))
	return err == nil
}

// ParseStyle validates a raw style choice against the enumerated set.
func ParseStyle(raw string) (Style, error) {
	for _, s := range Styles() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", ErrUnknownStyle
}

// Angle is a camera-angle preset applied to a processing request.
type Angle string

const (
	AngleOverhead Angle = "overhead"
	Angle45Deg    Angle = "45deg"
	AngleCloseup  Angle = "closeup"
	AngleEyeLevel Angle = "eye-level"
)

// Angles returns the selectable angle presets in display order.
func Angles() []Angle {
	return []Angle{AngleOverhead, Angle45Deg, AngleCloseup, AngleEyeLevel}
}

// ValidChoice reports whether a is one of the selectable presets.
func (a Angle) ValidChoice() bool {
	_, err := ParseAngle(string(a))
	return err == nil
}

// ParseAngle validates a raw angle choice against the enumerated set.
func ParseAngle(raw string) (Angle, error) {
	for _, a := range Angles() {
		if string(a) == raw {
			return a, nil
		}
	}
	return "", ErrUnknownAngle
}

// Result is the artifact produced by a successful processing attempt.
// It is overwritten on each new success and absent before the first one.
type Result struct {
	EnhancedMediaRef string   `json:"enhancedMediaRef" dynamodbav:"enhancedMediaRef"`
	Caption          string   `json:"caption" dynamodbav:"caption"`
	Hashtags         []string `json:"hashtags,omitempty" dynamodbav:"hashtags,omitempty"`
	Analysis         string   `json:"analysis,omitempty" dynamodbav:"analysis,omitempty"`

	// Fallback marks a result whose enhanced media reference is the
	// original unprocessed photo because enhancement degraded out.
	Fallback bool `json:"fallback,omitempty" dynamodbav:"fallback,omitempty"`
}

// Session is one user's in-progress content-creation conversation.
// All fields except DecorRefs, Style, Angle, State, AttemptCount,
// LastResult, ActivityID, and UpdatedAt are immutable after creation.
type Session struct {
	ID             string `json:"id" dynamodbav:"-"`
	UserID         string `json:"userId" dynamodbav:"userId"`
	ChannelID      string `json:"channelId" dynamodbav:"channelId"`
	RestaurantName string `json:"restaurantName,omitempty" dynamodbav:"restaurantName,omitempty"`

	PrimaryMediaRef string   `json:"primaryMediaRef" dynamodbav:"primaryMediaRef"`
	DecorRefs       []string `json:"decorRefs,omitempty" dynamodbav:"decorRefs,omitempty"`

	Style Style `json:"style,omitempty" dynamodbav:"style,omitempty"`
	Angle Angle `json:"angle,omitempty" dynamodbav:"angle,omitempty"`

	State        State   `json:"state" dynamodbav:"state"`
	AttemptCount int     `json:"attemptCount" dynamodbav:"attemptCount"`
	LastResult   *Result `json:"lastResult,omitempty" dynamodbav:"lastResult,omitempty"`

	// ActivityID is the best-effort activity-log entry id for the most
	// recent attempt, used to patch status on approve/reject.
	ActivityID string `json:"activityId,omitempty" dynamodbav:"activityId,omitempty"`

	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// New creates a session for a freshly submitted primary photo.
// The session starts in AwaitingReferenceChoice.
func New(userID, channelID, restaurantName, primaryMediaRef string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		ChannelID:       channelID,
		RestaurantName:  restaurantName,
		PrimaryMediaRef: primaryMediaRef,
		State:           StateAwaitingReferenceChoice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the session. Stores hand out clones so
// callers can never mutate shared records in place.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.DecorRefs != nil {
		cp.DecorRefs = make([]string, len(s.DecorRefs))
		copy(cp.DecorRefs, s.DecorRefs)
	}
	if s.LastResult != nil {
		r := *s.LastResult
		if s.LastResult.Hashtags != nil {
			r.Hashtags = make([]string, len(s.LastResult.Hashtags))
			copy(r.Hashtags, s.LastResult.Hashtags)
		}
		cp.LastResult = &r
	}
	return &cp
}
