package structuring

import (
	"context"
	"errors"

	"github.com/wolfman30/kine-assistant/internal/llm"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const structuringSystemPrompt = `Tu es un assistant de structuration de bilans de kinésithérapie.
Tu reçois des notes de consultation brutes et tu réponds UNIQUEMENT par un objet JSON.

Si les notes contiennent des informations identifiantes (nom, prénom, date de naissance,
téléphone, adresse, email, numéro de sécurité sociale), réponds :
{"success": false, "error": "PII_DETECTED", "details": ["<fragment>", ...], "message": "<explication courte>"}
où details liste chaque fragment identifiant tel qu'il apparaît dans les notes, dans l'ordre.

Sinon réponds :
{"success": true, "markdown": "<bilan rédigé en markdown>", "data": {
  "medicalContext": {"diagnosis": "", "history": ""},
  "clinicalData": {"bio": {"patientComplaint": "", "painAssessment": ""}, "lifeHabits": {"sleepDietActivity": ""}},
  "environment": {"livingWorkSituation": ""},
  "psychoFactors": {"anxiety": false, "fearOfMovement": false, "moodDisorders": false, "kinesiophobia": false},
  "targetRegions": ["<région>"],
  "objectivesPlan": {"patientGoals": "", "treatmentGoals": "", "treatmentMeans": ""},
  "summary": ""
}}
clinicalData.bio.patientComplaint et summary sont obligatoires. N'invente aucune information absente des notes.`

// LLMStructurer structures notes with a hosted model. The model answers the
// same envelope as the webhook.
type LLMStructurer struct {
	client    llm.Client
	maxTokens int32
	logger    *logging.Logger
}

func NewLLMStructurer(client llm.Client, logger *logging.Logger) *LLMStructurer {
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMStructurer{client: client, maxTokens: 4096, logger: logger}
}

func (s *LLMStructurer) Structure(ctx context.Context, req Request) (Result, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		System:      []string{structuringSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Notes}},
		MaxTokens:   s.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ServiceError("La requête a été annulée."), nil
		}
		s.logger.Warn("llm structuring failed", "error", err, "practitioner_id", req.PractitionerID)
		return ServiceError(msgUnavailable), nil
	}
	body, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		s.logger.Warn("llm structuring returned no json", "stop_reason", resp.StopReason)
		return ServiceError(msgInvalid), nil
	}
	return decodeEnvelope([]byte(body)), nil
}
