// Package httpapi is the presentation adapter boundary. The messaging
// platform bridge posts inbound events here; the handler parses each
// raw payload exactly once into a typed session event, hands it to the
// orchestrator, and returns the render (prompt, actions, result) the
// bridge turns into messages and buttons.
//
// Domain errors are soft outcomes: an expired session or an illegal
// button press produces a 200 response with a user-facing prompt, never
// a 5xx.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/media"
	"github.com/crowdmagic/platebot/internal/orchestrator"
	"github.com/crowdmagic/platebot/internal/session"
)

// maxBodySize caps inbound event payloads (12 MB: a base64-encoded
// photo plus envelope).
const maxBodySize = 12 << 20

// Handler serves the inbound event API.
type Handler struct {
	orch       *orchestrator.Orchestrator
	mediaStore *media.Store // nil when photo URLs are passed through
}

// NewHandler creates the adapter handler. mediaStore may be nil.
func NewHandler(orch *orchestrator.Orchestrator, mediaStore *media.Store) *Handler {
	return &Handler{orch: orch, mediaStore: mediaStore}
}

// Register attaches the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/events", h.handleEvent)
	mux.HandleFunc("/healthz", handleHealth)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// inboundEvent is the wire shape posted by the platform bridge. Either
// NewPhotoRef/NewPhotoData (session creation) or SessionID + EventType
// is set.
type inboundEvent struct {
	SessionID string `json:"sessionId,omitempty"`
	EventType string `json:"eventType,omitempty"`

	NewPhotoRef  string `json:"newPhotoRef,omitempty"`
	NewPhotoData string `json:"newPhotoData,omitempty"` // base64, used with a media store

	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`

	EventParams struct {
		PhotoRef       string `json:"photoRef,omitempty"`
		PhotoData      string `json:"photoData,omitempty"` // base64
		Filename       string `json:"filename,omitempty"`
		ContentType    string `json:"contentType,omitempty"`
		Style          string `json:"style,omitempty"`
		Angle          string `json:"angle,omitempty"`
		Remix          string `json:"remix,omitempty"`
		RestaurantName string `json:"restaurantName,omitempty"`
	} `json:"eventParams"`
}

// softResponse is the 200 payload for recoverable domain errors.
type softResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error"`
	Prompt    string `json:"promptText"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var in inboundEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.UserID == "" || in.ChannelID == "" {
		httpError(w, http.StatusBadRequest, "userId and channelId are required")
		return
	}

	if in.NewPhotoRef != "" || in.NewPhotoData != "" {
		h.handleNewPhoto(w, r, in)
		return
	}

	if in.SessionID == "" || in.EventType == "" {
		httpError(w, http.StatusBadRequest, "sessionId and eventType are required")
		return
	}

	ev, err := h.parseEvent(r, in)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	render, err := h.orch.HandleEvent(r.Context(), ev)
	if err != nil {
		h.respondDomainError(w, in.SessionID, err)
		return
	}
	respondJSON(w, http.StatusOK, render)
}

// handleNewPhoto creates a session from a freshly submitted photo,
// storing the payload first when the bridge sends bytes.
func (h *Handler) handleNewPhoto(w http.ResponseWriter, r *http.Request, in inboundEvent) {
	photoRef := in.NewPhotoRef
	if in.NewPhotoData != "" {
		ref, err := h.storePhoto(r, "primary", in.UserID, in.NewPhotoData, in.EventParams.Filename, in.EventParams.ContentType)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		photoRef = ref
	}

	render, err := h.orch.HandleNewPhoto(r.Context(), in.UserID, in.ChannelID, in.EventParams.RestaurantName, photoRef)
	if err != nil {
		log.Error().Err(err).Str("userId", in.UserID).Msg("Session creation failed")
		httpError(w, http.StatusInternalServerError, "could not start a session")
		return
	}
	respondJSON(w, http.StatusOK, render)
}

// parseEvent maps the wire event onto a typed session event. This is
// the only place raw event strings are interpreted.
func (h *Handler) parseEvent(r *http.Request, in inboundEvent) (session.Event, error) {
	ev := session.Event{
		Type:      session.EventType(in.EventType),
		SessionID: in.SessionID,
	}

	switch ev.Type {
	case session.EventAddReferences, session.EventSkipReferences,
		session.EventReferencesDone, session.EventAcceptResult,
		session.EventRetryVariation, session.EventRetryNewStyle,
		session.EventRetryNewAngle, session.EventApprove,
		session.EventReject:
		// No parameters.

	case session.EventReferencePhoto:
		ev.PhotoRef = in.EventParams.PhotoRef
		if in.EventParams.PhotoData != "" {
			ref, err := h.storePhoto(r, in.SessionID, in.UserID, in.EventParams.PhotoData, in.EventParams.Filename, in.EventParams.ContentType)
			if err != nil {
				return session.Event{}, err
			}
			ev.PhotoRef = ref
		}
		if ev.PhotoRef == "" {
			return session.Event{}, fmt.Errorf("reference_photo requires a photoRef or photoData")
		}

	case session.EventStyleChosen:
		style, err := session.ParseStyle(in.EventParams.Style)
		if err != nil {
			return session.Event{}, err
		}
		ev.Style = style

	case session.EventAngleChosen:
		angle, err := session.ParseAngle(in.EventParams.Angle)
		if err != nil {
			return session.Event{}, err
		}
		ev.Angle = angle

	case session.EventModifyCaption:
		ev.RemixTag = in.EventParams.Remix

	default:
		return session.Event{}, fmt.Errorf("unknown eventType %q", in.EventType)
	}
	return ev, nil
}

// storePhoto decodes a base64 payload into the media store and returns
// a presigned reference.
func (h *Handler) storePhoto(r *http.Request, scope, userID, data, filename, contentType string) (string, error) {
	if h.mediaStore == nil {
		return "", fmt.Errorf("photo payloads are not accepted — send a photo URL")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("invalid photo payload encoding")
	}
	if filename == "" {
		filename = "photo.jpg"
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	// Unique object names keep repeated uploads from clobbering each other.
	filename = uuid.NewString() + "-" + filename
	key, err := h.mediaStore.Put(r.Context(), scope+"-"+userID, filename, contentType, raw)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Photo upload failed")
		return "", fmt.Errorf("could not store photo")
	}
	url, err := h.mediaStore.PresignGet(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Photo presign failed")
		return "", fmt.Errorf("could not store photo")
	}
	return url, nil
}

// respondDomainError turns orchestrator errors into soft user prompts.
// Only storage-level failures become 5xx.
func (h *Handler) respondDomainError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondJSON(w, http.StatusOK, softResponse{
			SessionID: sessionID,
			Error:     "session_not_found",
			Prompt:    "That session has expired — please resubmit your photo to start again.",
		})
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrUnknownStyle),
		errors.Is(err, session.ErrUnknownAngle):
		respondJSON(w, http.StatusOK, softResponse{
			SessionID: sessionID,
			Error:     "invalid_action",
			Prompt:    "That action isn't available right now — use the buttons on the latest message.",
		})
	default:
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Event handling failed")
		httpError(w, http.StatusInternalServerError, "something went wrong — please try again")
	}
}
