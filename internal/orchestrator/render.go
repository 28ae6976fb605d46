package orchestrator

import (
	"fmt"

	"github.com/crowdmagic/platebot/internal/caption"
	"github.com/crowdmagic/platebot/internal/session"
)

// Action is one button the presentation adapter should offer. The
// adapter maps a press straight back to an Event of the same type with
// Value as its parameter; no string splitting anywhere downstream.
type Action struct {
	Type  session.EventType `json:"eventType"`
	Label string            `json:"label"`
	Value string            `json:"value,omitempty"`
}

// Render is the orchestrator's output for one applied event: the prompt
// to show, the actions to offer, and the result artifact when one is
// ready to present.
type Render struct {
	SessionID   string   `json:"sessionId"`
	Prompt      string   `json:"promptText"`
	ResultMedia string   `json:"resultMedia,omitempty"`
	ResultText  string   `json:"resultText,omitempty"`
	Actions     []Action `json:"availableActions"`
}

func renderReferenceChoice(s *session.Session) *Render {
	return &Render{
		SessionID: s.ID,
		Prompt:    "Got your photo! Want to add decor reference photos to guide the look?",
		Actions: []Action{
			{Type: session.EventAddReferences, Label: "Add references"},
			{Type: session.EventSkipReferences, Label: "Skip"},
		},
	}
}

func renderCollecting(s *session.Session) *Render {
	return &Render{
		SessionID: s.ID,
		Prompt: fmt.Sprintf("Send up to %d decor photos (%d/%d so far), then tap Done.",
			session.MaxDecorRefs, len(s.DecorRefs), session.MaxDecorRefs),
		Actions: []Action{
			{Type: session.EventReferencesDone, Label: "Done"},
		},
	}
}

func renderDecorLimit(s *session.Session) *Render {
	return &Render{
		SessionID: s.ID,
		Prompt:    fmt.Sprintf("That's the maximum of %d reference photos — tap Done to continue.", session.MaxDecorRefs),
		Actions: []Action{
			{Type: session.EventReferencesDone, Label: "Done"},
		},
	}
}

func renderStylePrompt(s *session.Session) *Render {
	actions := make([]Action, 0, len(session.Styles()))
	for _, style := range session.Styles() {
		actions = append(actions, Action{
			Type:  session.EventStyleChosen,
			Label: string(style),
			Value: string(style),
		})
	}
	return &Render{
		SessionID: s.ID,
		Prompt:    "Pick a style for your photo.",
		Actions:   actions,
	}
}

func renderAnglePrompt(s *session.Session) *Render {
	actions := make([]Action, 0, len(session.Angles()))
	for _, angle := range session.Angles() {
		actions = append(actions, Action{
			Type:  session.EventAngleChosen,
			Label: string(angle),
			Value: string(angle),
		})
	}
	return &Render{
		SessionID: s.ID,
		Prompt:    "Pick a camera angle.",
		Actions:   actions,
	}
}

func renderResult(s *session.Session) *Render {
	prompt := "Here's your enhanced photo and caption. How does it look?"
	if s.LastResult.Fallback {
		prompt = "Enhancement wasn't available this time, so here's your original photo with a fresh caption. How does it look?"
	}
	return &Render{
		SessionID:   s.ID,
		Prompt:      prompt,
		ResultMedia: s.LastResult.EnhancedMediaRef,
		ResultText:  s.LastResult.Caption,
		Actions: []Action{
			{Type: session.EventAcceptResult, Label: "Looks good"},
			{Type: session.EventRetryVariation, Label: "Try a variation"},
			{Type: session.EventRetryNewStyle, Label: "Different style"},
			{Type: session.EventRetryNewAngle, Label: "Different angle"},
		},
	}
}

func renderProcessingFailed(s *session.Session) *Render {
	return &Render{
		SessionID: s.ID,
		Prompt:    "Sorry — processing didn't work this time. Pick a style to try again with the same photo.",
		Actions:   renderStylePrompt(s).Actions,
	}
}

func renderDecision(s *session.Session) *Render {
	actions := []Action{
		{Type: session.EventApprove, Label: "Approve"},
	}
	for _, tag := range caption.RemixTags() {
		actions = append(actions, Action{
			Type:  session.EventModifyCaption,
			Label: string(tag),
			Value: string(tag),
		})
	}
	actions = append(actions, Action{Type: session.EventReject, Label: "Reject"})
	return &Render{
		SessionID:   s.ID,
		Prompt:      "Ready to post? Approve, tweak the caption, or reject.",
		ResultMedia: s.LastResult.EnhancedMediaRef,
		ResultText:  s.LastResult.Caption,
		Actions:     actions,
	}
}

func renderApproved(s *session.Session) *Render {
	return &Render{
		SessionID:   s.ID,
		Prompt:      "Approved! Your content is ready to post.",
		ResultMedia: s.LastResult.EnhancedMediaRef,
		ResultText:  s.LastResult.Caption,
	}
}

func renderRejected(s *session.Session) *Render {
	return &Render{
		SessionID: s.ID,
		Prompt:    "No problem — send a new photo whenever you're ready.",
	}
}
