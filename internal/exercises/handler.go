package exercises

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/kine-assistant/internal/http/respond"
	"github.com/wolfman30/kine-assistant/internal/identity"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const maxBody = 64 << 10

// Handler exposes the assistant over HTTP.
type Handler struct {
	assistant *Assistant
	sessions  *practitioners.Sessions
	logger    *logging.Logger
}

func NewHandler(assistant *Assistant, sessions *practitioners.Sessions, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{assistant: assistant, sessions: sessions, logger: logger}
}

// OutcomeResponse is returned by generate and adapt.
type OutcomeResponse struct {
	Status    OutcomeKind `json:"status"`
	Session   *Session    `json:"session,omitempty"`
	Message   string      `json:"message,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// Start handles POST /exercise-sessions.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	s, err := h.assistant.StartSession(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, s)
}

// Get handles GET /exercise-sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	s, err := h.assistant.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

// Generate handles POST /exercise-sessions/{id}/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var form QuickForm
	if err := respond.Decode(w, r, maxBody, &form); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.assistant.Generate(r.Context(), owner, chi.URLParam(r, "id"), form)
	h.writeOutcome(w, out, err)
}

// SendMessage handles POST /exercise-sessions/{id}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := respond.Decode(w, r, maxBody, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.assistant.Adapt(r.Context(), owner, chi.URLParam(r, "id"), req.Message, nil)
	h.writeOutcome(w, out, err)
}

// AdaptExercise handles POST /exercise-sessions/{id}/exercises/{exID}/adapt.
func (h *Handler) AdaptExercise(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		Type AdaptationType `json:"type"`
	}
	if err := respond.Decode(w, r, maxBody, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.assistant.RequestAdaptation(r.Context(), owner, chi.URLParam(r, "id"), chi.URLParam(r, "exID"), req.Type)
	h.writeOutcome(w, out, err)
}

// ToggleSelect handles POST /exercise-sessions/{id}/exercises/{exID}/select.
func (h *Handler) ToggleSelect(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	s, err := h.assistant.ToggleSelect(r.Context(), owner, chi.URLParam(r, "id"), chi.URLParam(r, "exID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

// ToggleLock handles POST /exercise-sessions/{id}/exercises/{exID}/lock.
func (h *Handler) ToggleLock(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	s, err := h.assistant.ToggleLock(r.Context(), owner, chi.URLParam(r, "id"), chi.URLParam(r, "exID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

// ToggleFormTag handles POST /exercise-sessions/{id}/form/toggle.
func (h *Handler) ToggleFormTag(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := respond.Decode(w, r, maxBody, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.assistant.ToggleFormTag(r.Context(), owner, chi.URLParam(r, "id"), req.Field, req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

// Export handles POST /exercise-sessions/{id}/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req ExportRequest
	if err := respond.Decode(w, r, maxBody, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.sessions.Open(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to open practitioner session", "error", err, "practitioner_id", owner)
		respond.JSON(w, http.StatusBadGateway, map[string]any{"error": "profile unavailable", "retryable": true})
		return
	}
	out, err := h.assistant.Export(r.Context(), sess, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	switch out.Kind {
	case OutcomeReady:
		respond.JSON(w, http.StatusOK, map[string]any{
			"status":    out.Kind,
			"pdfUrl":    out.Document.URL,
			"expiresAt": out.Document.ExpiresAt,
			"emailSent": out.EmailSent,
		})
	case OutcomeInvalid:
		respond.Error(w, http.StatusBadRequest, out.Message)
	default:
		respond.JSON(w, http.StatusBadGateway, map[string]any{
			"status":    out.Kind,
			"error":     out.Message,
			"retryable": out.Retryable,
		})
	}
}

func (h *Handler) writeOutcome(w http.ResponseWriter, out Outcome, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := OutcomeResponse{Status: out.Kind, Message: out.Message, Retryable: out.Retryable}
	if out.Session.ID != "" {
		resp.Session = &out.Session
	}
	status := http.StatusOK
	switch out.Kind {
	case OutcomeInvalid:
		status = http.StatusBadRequest
	case OutcomeFailed:
		status = http.StatusBadGateway
	}
	respond.JSON(w, status, resp)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := identity.PractitionerFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "missing practitioner")
		return "", false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		respond.Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrUnknownExercise):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrProgramMissing), errors.Is(err, ErrInvalidAdaptType), errors.Is(err, ErrInvalidForm):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExerciseLocked), errors.Is(err, inflight.ErrInFlight):
		respond.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("exercise assistant request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}
