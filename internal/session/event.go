package session

// EventType enumerates the inbound events the orchestrator understands.
// The presentation adapter parses raw platform callbacks into exactly one
// of these; callback strings are never re-parsed downstream.
type EventType string

const (
	// AwaitingReferenceChoice
	EventAddReferences  EventType = "add_references"
	EventSkipReferences EventType = "skip_references"

	// CollectingReferences
	EventReferencePhoto EventType = "reference_photo"
	EventReferencesDone EventType = "references_done"

	// Selection steps
	EventStyleChosen EventType = "style_chosen"
	EventAngleChosen EventType = "angle_chosen"

	// AwaitingOutcomeFeedback
	EventAcceptResult   EventType = "accept_result"
	EventRetryVariation EventType = "retry_variation"
	EventRetryNewStyle  EventType = "retry_new_style"
	EventRetryNewAngle  EventType = "retry_new_angle"

	// PendingDecision
	EventApprove       EventType = "approve"
	EventModifyCaption EventType = "modify_caption"
	EventReject        EventType = "reject"
)

// Event is a validated, typed event for one session. Exactly the fields
// relevant to the event type are set; the rest are zero.
type Event struct {
	Type      EventType
	SessionID string

	// PhotoRef carries the media reference for EventReferencePhoto.
	PhotoRef string

	// Style is set for EventStyleChosen, Angle for EventAngleChosen.
	Style Style
	Angle Angle

	// RemixTag carries the caption remix choice for EventModifyCaption
	// (intensify, soften, shorten, elaborate).
	RemixTag string
}
