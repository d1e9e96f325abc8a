package practitioners

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/kine-assistant/internal/http/respond"
	"github.com/wolfman30/kine-assistant/internal/identity"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// Sessions opens practitioner sessions with a fixed onboarding grant.
type Sessions struct {
	store       Store
	freeCredits int
}

func NewSessions(store Store, freeCredits int) *Sessions {
	if freeCredits < 0 {
		freeCredits = DefaultFreeCredits
	}
	return &Sessions{store: store, freeCredits: freeCredits}
}

func (s *Sessions) Open(ctx context.Context, practitionerID string) (Session, error) {
	return Open(ctx, s.store, practitionerID, s.freeCredits)
}

// Handler serves the signed-in practitioner's profile.
type Handler struct {
	sessions *Sessions
	logger   *logging.Logger
}

func NewHandler(sessions *Sessions, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// MeResponse is what the dashboard needs to render the quota indicator.
type MeResponse struct {
	Profile          Profile `json:"profile"`
	Plan             Plan    `json:"plan"`
	RemainingCredits int     `json:"remainingCredits"`
	Paywall          bool    `json:"paywall"`
}

func meResponse(s Session) MeResponse {
	return MeResponse{
		Profile:          s.Profile(),
		Plan:             s.Plan,
		RemainingCredits: s.RemainingCredits,
		Paywall:          s.Paywalled(),
	}
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, meResponse(sess))
}

// Refresh handles POST /me/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}
	sess, err := sess.Refresh(r.Context())
	if err != nil {
		h.logger.Error("failed to refresh profile", "error", err, "practitioner_id", sess.PractitionerID)
		respond.Error(w, http.StatusBadGateway, "failed to refresh profile")
		return
	}
	respond.JSON(w, http.StatusOK, meResponse(sess))
}

// UpdateDisplay handles PUT /me with the profile printed on documents.
func (h *Handler) UpdateDisplay(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}
	var d Display
	if err := respond.Decode(w, r, 64<<10, &d); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := sess.Store().UpdateDisplay(r.Context(), sess.PractitionerID, d); err != nil {
		if errors.Is(err, ErrInvalidDisplay) {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to update display profile", "error", err, "practitioner_id", sess.PractitionerID)
		respond.Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	sess, err := sess.Refresh(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "failed to reload profile")
		return
	}
	respond.JSON(w, http.StatusOK, meResponse(sess))
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) (Session, bool) {
	id, ok := identity.PractitionerFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "missing practitioner")
		return Session{}, false
	}
	sess, err := h.sessions.Open(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to open practitioner session", "error", err, "practitioner_id", id)
		respond.Error(w, http.StatusBadGateway, "profile unavailable")
		return Session{}, false
	}
	return sess, true
}
