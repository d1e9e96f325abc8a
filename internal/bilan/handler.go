package bilan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/kine-assistant/internal/http/respond"
	"github.com/wolfman30/kine-assistant/internal/identity"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const maxNotesBody = 256 << 10

// Handler exposes the bilan workflow over HTTP.
type Handler struct {
	workflow *Workflow
	sessions *practitioners.Sessions
	logger   *logging.Logger
}

func NewHandler(workflow *Workflow, sessions *practitioners.Sessions, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{workflow: workflow, sessions: sessions, logger: logger}
}

// SubmitRequest is the body of POST /bilans.
type SubmitRequest struct {
	Notes     string `json:"notes"`
	PatientID string `json:"patientId,omitempty"`
}

// SubmitResponse carries every outcome of a submission.
type SubmitResponse struct {
	Status           OutcomeKind `json:"status"`
	Record           *Record     `json:"record,omitempty"`
	Markdown         string      `json:"markdown,omitempty"`
	RemainingCredits *int        `json:"remainingCredits,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Findings         []string    `json:"findings,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	Message          string      `json:"message,omitempty"`
	Paywall          bool        `json:"paywall,omitempty"`
	Retryable        bool        `json:"retryable,omitempty"`
}

// Submit handles POST /bilans.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := respond.Decode(w, r, maxNotesBody, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.workflow.SubmitNotes(r.Context(), sess, req.Notes, req.PatientID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := SubmitResponse{Status: out.Kind, Message: out.Message}
	status := http.StatusOK
	switch out.Kind {
	case OutcomeStructured:
		status = http.StatusCreated
		resp.Record = &out.Record
		resp.Markdown = out.Markdown
		resp.RemainingCredits = &out.RemainingCredits
	case OutcomeRejected:
		status = http.StatusUnprocessableEntity
		resp.Reason = "PII_DETECTED"
		resp.Findings = out.Findings
		resp.Notes = out.Notes
	case OutcomeQuotaExhausted:
		status = http.StatusPaymentRequired
		resp.Paywall = true
	case OutcomeInvalid:
		status = http.StatusBadRequest
	case OutcomeFailed:
		status = http.StatusBadGateway
		resp.Retryable = out.Retryable
	}
	respond.JSON(w, status, resp)
}

// List handles GET /bilans.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit, offset := 50, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	records, err := h.workflow.List(r.Context(), owner, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// Get handles GET /bilans/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	d, err := h.workflow.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// EditFieldRequest is the body of PATCH /bilans/{id}/fields.
type EditFieldRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// EditField handles PATCH /bilans/{id}/fields.
func (h *Handler) EditField(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req EditFieldRequest
	if err := respond.Decode(w, r, 64<<10, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := ParsePath(req.Path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	d, err := h.workflow.EditField(r.Context(), owner, chi.URLParam(r, "id"), path, req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// ToggleRegion handles POST /bilans/{id}/regions/toggle.
func (h *Handler) ToggleRegion(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		Region string `json:"region"`
	}
	if err := respond.Decode(w, r, 4<<10, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.workflow.ToggleRegion(r.Context(), owner, chi.URLParam(r, "id"), req.Region)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// Save handles POST /bilans/{id}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	rec, err := h.workflow.SaveRecord(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

// Export handles POST /bilans/{id}/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := h.workflow.RequestExport(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if out.Kind != OutcomeExported {
		respond.JSON(w, http.StatusBadGateway, map[string]any{
			"status":    out.Kind,
			"error":     out.Message,
			"retryable": out.Retryable,
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"status":   out.Kind,
		"record":   out.Record,
		"document": out.Record.Document,
	})
}

// Document handles GET /bilans/{id}/document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	doc, err := h.workflow.Document(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, doc)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := identity.PractitionerFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "missing practitioner")
		return "", false
	}
	return id, true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (practitioners.Session, bool) {
	id, ok := h.owner(w, r)
	if !ok {
		return practitioners.Session{}, false
	}
	sess, err := h.sessions.Open(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to open practitioner session", "error", err, "practitioner_id", id)
		respond.JSON(w, http.StatusBadGateway, map[string]any{"error": "profile unavailable", "retryable": true})
		return practitioners.Session{}, false
	}
	return sess, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		respond.Error(w, http.StatusNotFound, "bilan not found")
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidValue):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDocumentExpired):
		respond.Error(w, http.StatusGone, err.Error())
	case errors.Is(err, inflight.ErrInFlight):
		respond.Error(w, http.StatusConflict, "request already in progress")
	case errors.Is(err, ErrRecordConflict):
		respond.Error(w, http.StatusConflict, "bilan was modified elsewhere; reload it before saving")
	case errors.Is(err, ErrOwnerRequired):
		respond.Error(w, http.StatusUnauthorized, "missing practitioner")
	default:
		h.logger.Error("bilan request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}
