package exercises

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/internal/llm"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// Action tags a generation request.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionAdapt    Action = "adapt"
)

// GenerationRequest is the full context sent on every call. Locked ids are
// always included: the service must return those exercises untouched.
type GenerationRequest struct {
	SessionID               string        `json:"sessionId"`
	KineID                  string        `json:"kineId"`
	Mode                    Mode          `json:"mode"`
	RequestedExercisesCount int           `json:"requestedExercisesCount"`
	QuickForm               QuickForm     `json:"quickForm"`
	ChatHistory             []ChatMessage `json:"chatHistory"`
	CurrentProgram          *Program      `json:"currentProgram"`
	LockedExerciseIDs       []string      `json:"lockedExerciseIds"`
	SelectedExerciseIDs     []string      `json:"selectedExerciseIds"`
	Action                  Action        `json:"action"`
	UserMessage             string        `json:"userMessage,omitempty"`
	Adaptation              *Adaptation   `json:"adaptation,omitempty"`
}

// Generation is a successful answer.
type Generation struct {
	Program          Program
	AssistantMessage string
}

// Generator is implemented by HTTPGenerator and LLMGenerator.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
}

// ErrGeneration wraps every failure reported by a generator.
var ErrGeneration = errors.New("exercises: generation failed")

type generationEnvelope struct {
	Success          *bool        `json:"success"`
	Message          string       `json:"message"`
	Error            string       `json:"error"`
	AssistantMessage string       `json:"assistantMessage"`
	Program          *Program     `json:"program"`
	Exercises        []Suggestion `json:"exercises"`
}

// decodeGeneration accepts {program, assistantMessage} or a bare program.
func decodeGeneration(body []byte) (Generation, error) {
	var env generationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Generation{}, fmt.Errorf("%w: invalid response: %v", ErrGeneration, err)
	}
	if env.Success != nil && !*env.Success {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = env.Error
		}
		return Generation{}, fmt.Errorf("%w: %s", ErrGeneration, msg)
	}
	if env.Program == nil && env.Exercises != nil {
		var bare Program
		if err := json.Unmarshal(body, &bare); err == nil {
			env.Program = &bare
		}
	}
	if env.Program == nil {
		return Generation{}, fmt.Errorf("%w: response has no program", ErrGeneration)
	}
	return Generation{Program: *env.Program, AssistantMessage: strings.TrimSpace(env.AssistantMessage)}, nil
}

// HTTPGenerator calls the exercise generation webhook.
type HTTPGenerator struct {
	gw     *gateway.Client
	logger *logging.Logger
}

func NewHTTPGenerator(gw *gateway.Client, logger *logging.Logger) *HTTPGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPGenerator{gw: gw, logger: logger}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (Generation, error) {
	resp, err := g.gw.PostJSON(ctx, "", req)
	if err != nil {
		return Generation{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		g.logger.Warn("generation service rejected request", "status", resp.StatusCode, "session_id", req.SessionID)
		if _, err := decodeGeneration(resp.Body); err != nil {
			return Generation{}, err
		}
		return Generation{}, fmt.Errorf("%w: status %d", ErrGeneration, resp.StatusCode)
	}
	return decodeGeneration(resp.Body)
}

const generationSystemPrompt = `Tu es un assistant de création de programmes d'exercices pour kinésithérapeutes.
Tu reçois un objet JSON décrivant la demande (quickForm, chatHistory, currentProgram, action, userMessage, adaptation)
et tu réponds UNIQUEMENT par un objet JSON :
{"assistantMessage": "<phrase courte>", "program": {"mode": "quick_session|home_program", "summary": "", "exercises": [
  {"id": "", "titre": "", "descriptionPro": "", "descriptionPatient": "", "region": "", "utilisationClinique": "",
   "positionExecution": "", "phase": "", "difficulte": 1, "contraintesExclues": [], "materiel": [],
   "gamificationPossible": false, "consignesSecurite": "", "variantesProgression": "", "mediaUrl": null,
   "selected": true, "locked": false}
]}}
Règles :
- Les exercices dont l'id figure dans lockedExerciseIds doivent être renvoyés strictement identiques, à la même position.
- Les ids sont uniques ; conserve l'id d'un exercice que tu modifies.
- difficulte est un entier de 1 à 5.
- Pour action "generate", propose requestedExercisesCount exercices.`

// LLMGenerator builds programs with a hosted model.
type LLMGenerator struct {
	client    llm.Client
	maxTokens int32
	logger    *logging.Logger
}

func NewLLMGenerator(client llm.Client, logger *logging.Logger) *LLMGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMGenerator{client: client, maxTokens: 8192, logger: logger}
}

func (g *LLMGenerator) Generate(ctx context.Context, req GenerationRequest) (Generation, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Generation{}, fmt.Errorf("exercises: encode request: %w", err)
	}
	resp, err := g.client.Complete(ctx, llm.Request{
		System:      []string{generationSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: string(payload)}},
		MaxTokens:   g.maxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		g.logger.Warn("llm generation failed", "error", err, "session_id", req.SessionID)
		return Generation{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	body, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return Generation{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return decodeGeneration([]byte(body))
}
