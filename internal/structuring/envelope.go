package structuring

import (
	"encoding/json"
	"strings"
)

const (
	msgUnavailable = "Le service de structuration est momentanément indisponible. Veuillez réessayer."
	msgInvalid     = "Réponse invalide du service de structuration."
	msgFailed      = "La structuration du bilan a échoué."
)

// envelope is the response body shared by the webhook and the model prompt.
type envelope struct {
	Success  *bool           `json:"success"`
	Data     json.RawMessage `json:"data"`
	Markdown string          `json:"markdown"`
	Error    string          `json:"error"`
	Details  []string        `json:"details"`
	Message  string          `json:"message"`
}

// decodeEnvelope classifies a response body. It never fails: anything that is
// not a success or a PII rejection is a service error.
func decodeEnvelope(body []byte) Result {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Success == nil {
		return ServiceError(msgInvalid)
	}

	if !*env.Success {
		if env.Error == ReasonPIIDetected {
			return Rejected(env.Details, env.Message)
		}
		if msg := strings.TrimSpace(env.Message); msg != "" {
			return ServiceError(msg)
		}
		return ServiceError(msgFailed)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ServiceError("incomplete structured response: missing data")
	}
	var fields Fields
	if err := json.Unmarshal(env.Data, &fields); err != nil {
		return ServiceError(msgInvalid)
	}
	if missing := fields.Missing(); len(missing) > 0 {
		return ServiceError("incomplete structured response: missing " + strings.Join(missing, ", "))
	}
	return Structured(fields.normalized(), env.Markdown)
}
