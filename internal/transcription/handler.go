package transcription

import (
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/wolfman30/kine-assistant/internal/http/respond"
	"github.com/wolfman30/kine-assistant/internal/identity"
	"github.com/wolfman30/kine-assistant/internal/usage"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// base64 inflates the payload by 4/3; leave room for the JSON envelope.
const maxRequestBody = MaxAudioBytes/3*4 + 64<<10

// Handler serves POST /transcriptions.
type Handler struct {
	transcriber Transcriber
	usage       usage.Logger
	logger      *logging.Logger
}

func NewHandler(transcriber Transcriber, usageLogger usage.Logger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if usageLogger == nil {
		usageLogger = usage.NopLogger{}
	}
	return &Handler{transcriber: transcriber, usage: usageLogger, logger: logger}
}

type transcribeBody struct {
	AudioBase64     string  `json:"audioBase64"`
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// TranscribeResponse mirrors Result on the wire.
type TranscribeResponse struct {
	Status     Kind   `json:"status"`
	Transcript string `json:"transcript,omitempty"`
	Warning    bool   `json:"warning,omitempty"`
	Message    string `json:"message,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity.PractitionerFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "missing practitioner")
		return
	}

	var body transcribeBody
	if err := respond.Decode(w, r, maxRequestBody, &body); err != nil {
		if errors.Is(err, respond.ErrBodyTooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, ErrAudioTooLarge.Error())
			return
		}
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	audio, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "audioBase64 is not valid base64")
		return
	}
	if body.DurationSeconds < 0 || math.IsNaN(body.DurationSeconds) {
		respond.Error(w, http.StatusBadRequest, "durationSeconds must be positive")
		return
	}

	req := Request{
		Audio:    audio,
		UserID:   owner,
		Format:   Format(body.Format),
		Duration: time.Duration(body.DurationSeconds * float64(time.Second)),
	}
	if f, err := ParseFormat(body.Format); err == nil {
		req.Format = f
	}

	res, err := h.transcriber.Transcribe(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrAudioTooLarge):
			respond.Error(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, ErrAudioEmpty), errors.Is(err, ErrAudioTooLong), errors.Is(err, ErrUnsupportedFormat):
			respond.Error(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("transcription request failed", "error", err, "practitioner_id", owner)
			respond.Error(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if res.Kind == KindFailed {
		respond.JSON(w, http.StatusBadGateway, TranscribeResponse{Status: res.Kind, Message: res.Message, Retryable: true})
		return
	}

	if err := h.usage.Log(r.Context(), usage.NewEvent(owner, usage.ActionAudioTranscribed, map[string]any{
		"format":           string(req.Format),
		"duration_seconds": int(req.Duration.Seconds()),
		"warning":          res.Warning,
	})); err != nil {
		h.logger.Warn("failed to log usage", "error", err, "action", string(usage.ActionAudioTranscribed))
	}
	respond.JSON(w, http.StatusOK, TranscribeResponse{Status: res.Kind, Transcript: res.Transcript, Warning: res.Warning})
}
