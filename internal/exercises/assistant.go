package exercises

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/kine-assistant/internal/archive"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/notify"
	"github.com/wolfman30/kine-assistant/internal/observability/metrics"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/usage"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// OutcomeKind is the terminal state of an assistant call.
type OutcomeKind string

const (
	OutcomeReady   OutcomeKind = "ready"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeInvalid OutcomeKind = "invalid"
)

const lockStripes = 64

const (
	guardGenerate = "exercises.generate"
	guardExport   = "exercises.export"
)

const (
	msgGenerationFailed = "Impossible de mettre à jour le programme. Veuillez réessayer."
	msgExportFailed     = "La génération du PDF a échoué. Veuillez réessayer."
	msgAdapted          = "J'ai adapté les exercices selon votre demande."
)

// Outcome is the result of Generate and Adapt. Session is the state after
// the call, including the user message on failure.
type Outcome struct {
	Kind      OutcomeKind
	Session   Session
	Message   string
	Retryable bool
}

// ExportRequest carries the per-exercise dosage comments and an optional
// patient address to send the link to.
type ExportRequest struct {
	Comments     map[string]string `json:"comments"`
	PatientEmail string            `json:"patientEmail,omitempty"`
}

// ExportOutcome is the result of Export.
type ExportOutcome struct {
	Kind      OutcomeKind
	Document  render.Document
	EmailSent bool
	Message   string
	Retryable bool
}

// AssistantConfig lists the assistant collaborators. Archive, Mailer, Usage
// and Metrics are optional.
type AssistantConfig struct {
	Sessions  SessionStore
	Generator Generator
	Renderer  render.Renderer
	Guard     inflight.Guard
	Archive   *archive.Store
	Mailer    *notify.ProgramMailer
	Usage     usage.Logger
	Metrics   *metrics.WorkflowMetrics
	Logger    *logging.Logger
}

// Assistant drives the exercise-program conversation.
type Assistant struct {
	sessions  SessionStore
	generator Generator
	renderer  render.Renderer
	guard     inflight.Guard
	archive   *archive.Store
	mailer    *notify.ProgramMailer
	usage     usage.Logger
	metrics   *metrics.WorkflowMetrics
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string

	// Short read-modify-write sections on a session; never held across a
	// network call. Sessions share stripes so the set stays fixed.
	locks [lockStripes]sync.Mutex
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.Sessions == nil || cfg.Generator == nil || cfg.Renderer == nil {
		panic("exercises: assistant requires a session store, a generator and a renderer")
	}
	if cfg.Guard == nil {
		cfg.Guard = inflight.NewMemoryGuard()
	}
	if cfg.Usage == nil {
		cfg.Usage = usage.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Assistant{
		sessions:  cfg.Sessions,
		generator: cfg.Generator,
		renderer:  cfg.Renderer,
		guard:     cfg.Guard,
		archive:   cfg.Archive,
		mailer:    cfg.Mailer,
		usage:     cfg.Usage,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func stripe(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % lockStripes)
}

func (a *Assistant) lock(id string) func() {
	mu := &a.locks[stripe(id)]
	mu.Lock()
	return mu.Unlock
}

// update applies fn to the stored session under the session lock and saves
// the result.
func (a *Assistant) update(ctx context.Context, ownerID, id string, fn func(*Session) error) (Session, error) {
	unlock := a.lock(id)
	defer unlock()
	s, err := a.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return Session{}, err
	}
	if err := fn(&s); err != nil {
		return s, err
	}
	s.UpdatedAt = a.now()
	if err := a.sessions.Save(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (a *Assistant) message(role Role, content string) ChatMessage {
	return ChatMessage{ID: a.newID(), Role: role, Content: content, CreatedAt: a.now()}
}

// StartSession opens an empty assistant session.
func (a *Assistant) StartSession(ctx context.Context, ownerID string) (Session, error) {
	if ownerID == "" {
		return Session{}, errors.New("exercises: practitioner id required")
	}
	now := a.now()
	s := Session{ID: a.newID(), PractitionerID: ownerID, Chat: []ChatMessage{}, CreatedAt: now, UpdatedAt: now}
	if err := a.sessions.Save(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session owned by ownerID.
func (a *Assistant) Get(ctx context.Context, ownerID, id string) (Session, error) {
	return a.sessions.Get(ctx, ownerID, id)
}

// Generate builds a new program from the quick form, replacing any previous
// program.
func (a *Assistant) Generate(ctx context.Context, ownerID, id string, form QuickForm) (Outcome, error) {
	form = form.Normalized()
	if err := form.Validate(); err != nil {
		return Outcome{Kind: OutcomeInvalid, Message: err.Error()}, nil
	}
	return a.run(ctx, ownerID, id, call{
		action:      ActionGenerate,
		userMessage: form.generateMessage(),
		form:        &form,
	})
}

// Adapt asks the service to rework the program from a free-text instruction
// or a targeted adaptation. Locked exercises cannot be targeted.
func (a *Assistant) Adapt(ctx context.Context, ownerID, id, message string, adaptation *Adaptation) (Outcome, error) {
	message = strings.TrimSpace(message)
	if message == "" && adaptation == nil {
		return Outcome{Kind: OutcomeInvalid, Message: "message required"}, nil
	}
	if adaptation != nil && !adaptation.Type.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidAdaptType, adaptation.Type)
	}
	return a.run(ctx, ownerID, id, call{
		action:      ActionAdapt,
		userMessage: message,
		adaptation:  adaptation,
	})
}

// RequestAdaptation is the easier/harder/fun shortcut on one exercise.
func (a *Assistant) RequestAdaptation(ctx context.Context, ownerID, id, exerciseID string, t AdaptationType) (Outcome, error) {
	if !t.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidAdaptType, t)
	}
	s, err := a.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return Outcome{}, err
	}
	if s.Program == nil {
		return Outcome{}, ErrProgramMissing
	}
	ex, ok := s.Program.Find(exerciseID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownExercise, exerciseID)
	}
	return a.Adapt(ctx, ownerID, id, adaptationMessage(ex.Title, t), &Adaptation{ExerciseID: exerciseID, Type: t})
}

type call struct {
	action      Action
	userMessage string
	form        *QuickForm
	adaptation  *Adaptation
}

func (a *Assistant) run(ctx context.Context, ownerID, id string, c call) (Outcome, error) {
	release, err := a.guard.Acquire(ctx, inflight.Key(ownerID, guardGenerate))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	var req GenerationRequest
	var issued Program
	sess, err := a.update(ctx, ownerID, id, func(s *Session) error {
		if c.action == ActionAdapt {
			if s.Program == nil {
				return ErrProgramMissing
			}
			if c.adaptation != nil {
				ex, ok := s.Program.Find(c.adaptation.ExerciseID)
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownExercise, c.adaptation.ExerciseID)
				}
				if ex.Locked {
					return ErrExerciseLocked
				}
			}
		}
		if c.form != nil {
			s.QuickForm = c.form
		}
		s.Chat = append(s.Chat, a.message(RoleUser, c.userMessage))
		req = buildRequest(*s, c)
		if s.Program != nil {
			issued = *s.Program
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	logger := a.logger.With("practitioner_id", ownerID, "session_id", id, "action", string(c.action))

	gen, err := a.generator.Generate(ctx, req)
	if err == nil {
		err = gen.Program.Validate()
	}
	if err != nil {
		logger.Warn("program generation failed", "error", err)
		a.metrics.ObserveGeneration(string(c.action), "failed")
		return Outcome{Kind: OutcomeFailed, Session: sess, Message: msgGenerationFailed, Retryable: true}, nil
	}
	if badID, ok := checkLocks(issued, gen.Program); !ok {
		logger.Error("generation service altered a locked exercise", "exercise_id", badID)
		a.metrics.ObserveLockViolation()
		a.metrics.ObserveGeneration(string(c.action), "failed")
		return Outcome{
			Kind:      OutcomeFailed,
			Session:   sess,
			Message:   fmt.Sprintf("generation service altered locked exercise %s", badID),
			Retryable: true,
		}, nil
	}

	reply := gen.AssistantMessage
	if reply == "" {
		reply = msgAdapted
		if c.action == ActionGenerate {
			reply = fmt.Sprintf("Voici une première proposition de programme avec %d exercices adaptés à votre demande.", len(gen.Program.Exercises))
		}
	}

	sess, err = a.update(ctx, ownerID, id, func(s *Session) error {
		next := gen.Program
		if s.Program != nil {
			next = withLocalFlags(*s.Program, next)
		}
		s.Program = &next
		s.Chat = append(s.Chat, a.message(RoleAssistant, reply))
		return nil
	})
	if err != nil {
		logger.Error("failed to save generated program", "error", err)
		a.metrics.ObserveGeneration(string(c.action), "failed")
		return Outcome{Kind: OutcomeFailed, Message: msgGenerationFailed, Retryable: true}, nil
	}
	a.metrics.ObserveGeneration(string(c.action), "succeeded")

	action := usage.ActionProgramGenerated
	if c.action == ActionAdapt {
		action = usage.ActionProgramAdapted
	}
	a.logUsage(ctx, usage.NewEvent(ownerID, action, map[string]any{
		"session_id": id,
		"exercises":  len(sess.Program.Exercises),
		"locked":     len(sess.Program.LockedIDs()),
	}, string(sess.Program.Mode)))

	return Outcome{Kind: OutcomeReady, Session: sess}, nil
}

func buildRequest(s Session, c call) GenerationRequest {
	req := GenerationRequest{
		SessionID:           s.ID,
		KineID:              s.PractitionerID,
		ChatHistory:         append([]ChatMessage(nil), s.Chat...),
		LockedExerciseIDs:   []string{},
		SelectedExerciseIDs: []string{},
		Action:              c.action,
		UserMessage:         c.userMessage,
		Adaptation:          c.adaptation,
	}
	if s.QuickForm != nil {
		req.QuickForm = *s.QuickForm
		req.Mode = s.QuickForm.Mode
		req.RequestedExercisesCount = s.QuickForm.RequestedExercisesCount
	}
	if s.Program != nil {
		current := s.clone().Program
		req.CurrentProgram = current
		req.LockedExerciseIDs = current.LockedIDs()
		req.SelectedExerciseIDs = current.SelectedIDs()
		if req.Mode == "" {
			req.Mode = current.Mode
		}
	}
	return req
}

// ToggleSelect flips the selection of one exercise. No network call.
func (a *Assistant) ToggleSelect(ctx context.Context, ownerID, id, exerciseID string) (Session, error) {
	return a.toggle(ctx, ownerID, id, func(p Program) (Program, error) { return p.ToggleSelect(exerciseID) })
}

// ToggleLock pins or unpins one exercise. No network call.
func (a *Assistant) ToggleLock(ctx context.Context, ownerID, id, exerciseID string) (Session, error) {
	return a.toggle(ctx, ownerID, id, func(p Program) (Program, error) { return p.ToggleLock(exerciseID) })
}

func (a *Assistant) toggle(ctx context.Context, ownerID, id string, fn func(Program) (Program, error)) (Session, error) {
	return a.update(ctx, ownerID, id, func(s *Session) error {
		if s.Program == nil {
			return ErrProgramMissing
		}
		next, err := fn(*s.Program)
		if err != nil {
			return err
		}
		s.Program = &next
		return nil
	})
}

// Quick-form tag fields, named as in the form payload.
const (
	FormObjectives  = "objectifs"
	FormConstraints = "contraintes"
	FormEquipment   = "materiel"
)

// ToggleFormTag adds or removes one chip of the quick form before
// generation. No network call.
func (a *Assistant) ToggleFormTag(ctx context.Context, ownerID, id, field, value string) (Session, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Session{}, fmt.Errorf("%w: empty tag", ErrInvalidForm)
	}
	var toggle func(QuickForm, string) QuickForm
	switch field {
	case FormObjectives:
		toggle = QuickForm.ToggleObjective
	case FormConstraints:
		toggle = QuickForm.ToggleConstraint
	case FormEquipment:
		toggle = QuickForm.ToggleEquipment
	default:
		return Session{}, fmt.Errorf("%w: unknown field %q", ErrInvalidForm, field)
	}
	return a.update(ctx, ownerID, id, func(s *Session) error {
		var form QuickForm
		if s.QuickForm != nil {
			form = *s.QuickForm
		}
		form = toggle(form, value)
		s.QuickForm = &form
		return nil
	})
}

type exerciseWithComment struct {
	Suggestion
	Comment string `json:"comment,omitempty"`
}

type programForPDF struct {
	Mode      Mode                  `json:"mode"`
	Summary   string                `json:"summary"`
	Exercises []exerciseWithComment `json:"exercises"`
}

// Export sends the selected exercises with their comments to the renderer.
// The session is never modified.
func (a *Assistant) Export(ctx context.Context, sess practitioners.Session, id string, req ExportRequest) (ExportOutcome, error) {
	ownerID := sess.PractitionerID
	s, err := a.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return ExportOutcome{}, err
	}
	if s.Program == nil {
		return ExportOutcome{}, ErrProgramMissing
	}
	if req.PatientEmail != "" {
		if err := notify.ValidateRecipient(req.PatientEmail); err != nil {
			return ExportOutcome{Kind: OutcomeInvalid, Message: err.Error()}, nil
		}
	}

	program := programForPDF{Mode: s.Program.Mode, Summary: s.Program.Summary}
	for _, ex := range s.Program.Exercises {
		if ex.Selected {
			program.Exercises = append(program.Exercises, exerciseWithComment{
				Suggestion: ex,
				Comment:    strings.TrimSpace(req.Comments[ex.ID]),
			})
		}
	}
	if len(program.Exercises) == 0 {
		return ExportOutcome{Kind: OutcomeInvalid, Message: ErrNothingSelected.Error()}, nil
	}

	release, err := a.guard.Acquire(ctx, inflight.Key(ownerID, guardExport))
	if err != nil {
		return ExportOutcome{}, err
	}
	defer release()

	logger := a.logger.With("practitioner_id", ownerID, "session_id", id)
	payload := render.ProgramPayload{
		SessionID: s.ID,
		KineID:    ownerID,
		Therapist: render.TherapistFromProfile(sess.Profile()),
		Program:   program,
	}
	doc, err := a.renderer.RenderProgram(ctx, payload)
	if err != nil {
		logger.Error("program render failed", "error", err)
		a.metrics.ObserveExport(string(archive.KindProgram), false)
		return ExportOutcome{Kind: OutcomeFailed, Message: msgExportFailed, Retryable: true}, nil
	}
	a.metrics.ObserveExport(string(archive.KindProgram), true)

	if a.archive.Enabled() {
		if err := a.archive.Archive(ctx, archive.KindProgram, s.ID, ownerID, doc.URL, payload); err != nil {
			logger.Warn("failed to archive program snapshot", "error", err)
		}
	}

	out := ExportOutcome{Kind: OutcomeReady, Document: doc}
	if req.PatientEmail != "" && a.mailer != nil {
		p := sess.Profile()
		err := a.mailer.SendProgramLink(ctx, notify.ProgramLink{
			PatientEmail:   req.PatientEmail,
			TherapistName:  strings.TrimSpace(p.FirstName + " " + p.LastName),
			TherapistEmail: p.Email,
			DocumentURL:    doc.URL,
			ExpiresAt:      doc.ExpiresAt,
		})
		if err != nil {
			logger.Warn("failed to email program link", "error", err)
		} else {
			out.EmailSent = true
		}
	}

	a.logUsage(ctx, usage.NewEvent(ownerID, usage.ActionProgramExported, map[string]any{
		"session_id": s.ID,
		"exercises":  len(program.Exercises),
		"emailed":    out.EmailSent,
	}, string(program.Mode)))
	return out, nil
}

func (a *Assistant) logUsage(ctx context.Context, event usage.Event) {
	if err := a.usage.Log(ctx, event); err != nil {
		a.logger.Warn("failed to log usage", "error", err, "action", string(event.Action))
	}
}
