package exercises

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/notify"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/usage"
)

const kine = "kine-1"

// scriptedGenerator answers with a function of the request so tests can
// model a well-behaved or a misbehaving service.
type scriptedGenerator struct {
	mu       sync.Mutex
	requests []GenerationRequest
	answer   func(GenerationRequest) (Generation, error)
}

func (g *scriptedGenerator) Generate(_ context.Context, req GenerationRequest) (Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.answer(req)
}

func (g *scriptedGenerator) last() GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// wellBehaved returns n exercises on generate and, on adapt, lowers the
// difficulty of every unlocked exercise.
func wellBehaved(req GenerationRequest) (Generation, error) {
	if req.CurrentProgram == nil {
		p := sampleProgram()
		p.Exercises = p.Exercises[:req.RequestedExercisesCount]
		return Generation{Program: p}, nil
	}
	locked := make(map[string]bool)
	for _, id := range req.LockedExerciseIDs {
		locked[id] = true
	}
	p := *req.CurrentProgram
	p.Exercises = append([]Suggestion(nil), p.Exercises...)
	for i := range p.Exercises {
		p.Exercises[i].Locked = false
		if !locked[p.Exercises[i].ID] {
			p.Exercises[i].DescriptionPatient += " Version simplifiée."
			p.Exercises[i].Selected = true
		}
	}
	return Generation{Program: p}, nil
}

type fakeRenderer struct {
	doc      render.Document
	err      error
	payloads []render.ProgramPayload
}

func (f *fakeRenderer) RenderBilan(context.Context, render.BilanPayload) (render.Document, error) {
	return render.Document{}, errors.New("not used")
}

func (f *fakeRenderer) RenderProgram(_ context.Context, p render.ProgramPayload) (render.Document, error) {
	f.payloads = append(f.payloads, p)
	return f.doc, f.err
}

type recordingUsage struct {
	events []usage.Event
}

func (r *recordingUsage) Log(_ context.Context, e usage.Event) error {
	r.events = append(r.events, e)
	return nil
}

type recordingSender struct {
	sent []notify.EmailMessage
}

func (r *recordingSender) Send(_ context.Context, msg notify.EmailMessage) error {
	r.sent = append(r.sent, msg)
	return nil
}

type assistantFixture struct {
	assistant *Assistant
	generator *scriptedGenerator
	renderer  *fakeRenderer
	usage     *recordingUsage
	mail      *recordingSender
	guard     *inflight.MemoryGuard
}

func newAssistantFixture(t *testing.T) *assistantFixture {
	t.Helper()
	f := &assistantFixture{
		generator: &scriptedGenerator{answer: wellBehaved},
		renderer:  &fakeRenderer{doc: render.Document{URL: "https://docs.example/prog.pdf", ExpiresAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}},
		usage:     &recordingUsage{},
		mail:      &recordingSender{},
		guard:     inflight.NewMemoryGuard(),
	}
	f.assistant = NewAssistant(AssistantConfig{
		Sessions:  NewMemorySessionStore(),
		Generator: f.generator,
		Renderer:  f.renderer,
		Guard:     f.guard,
		Mailer:    notify.NewProgramMailer(f.mail),
		Usage:     f.usage,
	})
	return f
}

func (f *assistantFixture) generated(t *testing.T) Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.assistant.StartSession(ctx, kine)
	require.NoError(t, err)
	out, err := f.assistant.Generate(ctx, kine, s.ID, QuickForm{
		Mode:                    ModeQuickSession,
		Region:                  "cheville",
		Phase:                   "subaigue",
		Level:                   "intermédiaire",
		RequestedExercisesCount: 3,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeReady, out.Kind)
	return out.Session
}

func TestGenerate(t *testing.T) {
	f := newAssistantFixture(t)
	s := f.generated(t)

	require.NotNil(t, s.Program)
	assert.Len(t, s.Program.Exercises, 3)
	require.Len(t, s.Chat, 2)
	assert.Equal(t, "Générer un programme pour la séance : région cheville, phase subaigue, niveau intermédiaire.", s.Chat[0].Content)
	assert.Equal(t, "Voici une première proposition de programme avec 3 exercices adaptés à votre demande.", s.Chat[1].Content)
	assert.Equal(t, RoleAssistant, s.Chat[1].Role)

	req := f.generator.last()
	assert.Equal(t, ActionGenerate, req.Action)
	assert.Equal(t, s.ID, req.SessionID)
	assert.Equal(t, kine, req.KineID)
	assert.Nil(t, req.CurrentProgram)
	assert.Len(t, req.ChatHistory, 1)

	require.Len(t, f.usage.events, 1)
	assert.Equal(t, usage.ActionProgramGenerated, f.usage.events[0].Action)
}

func TestGenerate_InvalidFormMakesNoCall(t *testing.T) {
	f := newAssistantFixture(t)
	s, err := f.assistant.StartSession(context.Background(), kine)
	require.NoError(t, err)

	out, err := f.assistant.Generate(context.Background(), kine, s.ID, QuickForm{Mode: ModeQuickSession, Region: "genou"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, out.Kind)
	assert.Empty(t, f.generator.requests)
}

func TestLockedExerciseSurvivesAdaptation(t *testing.T) {
	ctx := context.Background()
	f := newAssistantFixture(t)
	s := f.generated(t)

	s, err := f.assistant.ToggleLock(ctx, kine, s.ID, "ex-002")
	require.NoError(t, err)
	before, _ := s.Program.Find("ex-002")

	out, err := f.assistant.RequestAdaptation(ctx, kine, s.ID, "ex-001", AdaptEasier)
	require.NoError(t, err)
	require.Equal(t, OutcomeReady, out.Kind)

	req := f.generator.last()
	assert.Equal(t, ActionAdapt, req.Action)
	assert.Equal(t, []string{"ex-002"}, req.LockedExerciseIDs)
	assert.Equal(t, &Adaptation{ExerciseID: "ex-001", Type: AdaptEasier}, req.Adaptation)
	assert.Equal(t, `Rends l'exercice "Montées sur pointe de pied" plus facile`, req.UserMessage)

	after, ok := out.Session.Program.Find("ex-002")
	require.True(t, ok)
	assert.Equal(t, before, after, "locked exercise is byte-for-byte unchanged")
	assert.True(t, after.Locked, "lock flag restored from local state")
	adapted, _ := out.Session.Program.Find("ex-001")
	assert.Contains(t, adapted.DescriptionPatient, "Version simplifiée.")

	chat := out.Session.Chat
	assert.Equal(t, "J'ai adapté les exercices selon votre demande.", chat[len(chat)-1].Content)
}

func TestAdapt_LockViolationKeepsProgram(t *testing.T) {
	ctx := context.Background()
	f := newAssistantFixture(t)
	s := f.generated(t)
	s, err := f.assistant.ToggleLock(ctx, kine, s.ID, "ex-002")
	require.NoError(t, err)
	program := *s.Program

	f.generator.answer = func(req GenerationRequest) (Generation, error) {
		p := *req.CurrentProgram
		p.Exercises = append([]Suggestion(nil), p.Exercises...)
		p.Exercises[1].Difficulty = 5
		return Generation{Program: p}, nil
	}
	out, err := f.assistant.Adapt(ctx, kine, s.ID, "Plus de renforcement", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Message, "ex-002")

	got, err := f.assistant.Get(ctx, kine, s.ID)
	require.NoError(t, err)
	assert.Equal(t, program, *got.Program)
	assert.Equal(t, "Plus de renforcement", got.Chat[len(got.Chat)-1].Content, "the sent message stays in the log")
}

func TestAdapt_Failures(t *testing.T) {
	ctx := context.Background()
	f := newAssistantFixture(t)

	empty, err := f.assistant.StartSession(ctx, kine)
	require.NoError(t, err)
	_, err = f.assistant.Adapt(ctx, kine, empty.ID, "plus facile", nil)
	assert.ErrorIs(t, err, ErrProgramMissing)

	s := f.generated(t)
	s, err = f.assistant.ToggleLock(ctx, kine, s.ID, "ex-003")
	require.NoError(t, err)
	calls := len(f.generator.requests)

	_, err = f.assistant.RequestAdaptation(ctx, kine, s.ID, "ex-003", AdaptFun)
	assert.ErrorIs(t, err, ErrExerciseLocked)
	_, err = f.assistant.RequestAdaptation(ctx, kine, s.ID, "ex-404", AdaptFun)
	assert.ErrorIs(t, err, ErrUnknownExercise)
	_, err = f.assistant.RequestAdaptation(ctx, kine, s.ID, "ex-001", "boring")
	assert.ErrorIs(t, err, ErrInvalidAdaptType)
	assert.Len(t, f.generator.requests, calls)

	f.generator.answer = func(GenerationRequest) (Generation, error) { return Generation{}, ErrGeneration }
	out, err := f.assistant.Adapt(ctx, kine, s.ID, "plus ludique", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)
	assert.Equal(t, *s.Program, *out.Session.Program)

	release, err := f.guard.Acquire(ctx, inflight.Key(kine, guardGenerate))
	require.NoError(t, err)
	_, err = f.assistant.Adapt(ctx, kine, s.ID, "encore", nil)
	assert.ErrorIs(t, err, inflight.ErrInFlight)
	release()

	_, err = f.assistant.Get(ctx, "kine-2", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newAssistantFixture(t)
	s := f.generated(t)
	s, err := f.assistant.ToggleSelect(ctx, kine, s.ID, "ex-002")
	require.NoError(t, err)

	store := practitioners.NewInMemoryStore()
	store.Put(practitioners.Profile{ID: kine, Plan: practitioners.PlanFree, FirstName: "Léa", LastName: "Martin", RPPSNumber: "10001234567"})
	sess, err := practitioners.Open(ctx, store, kine, 2)
	require.NoError(t, err)

	out, err := f.assistant.Export(ctx, sess, s.ID, ExportRequest{
		Comments:     map[string]string{"ex-001": " 3 x 15, tous les jours "},
		PatientEmail: "patient@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeReady, out.Kind)
	assert.Equal(t, "https://docs.example/prog.pdf", out.Document.URL)
	assert.True(t, out.EmailSent)
	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Body, "Léa Martin")

	require.Len(t, f.renderer.payloads, 1)
	payload := f.renderer.payloads[0]
	assert.Equal(t, "10001234567", payload.Therapist.RPPSNumber)
	program := payload.Program.(programForPDF)
	require.Len(t, program.Exercises, 2)
	assert.Equal(t, "ex-001", program.Exercises[0].ID)
	assert.Equal(t, "3 x 15, tous les jours", program.Exercises[0].Comment)
	assert.Equal(t, "ex-003", program.Exercises[1].ID)

	f.renderer.err = render.ErrMissingDocument
	failed, err := f.assistant.Export(ctx, sess, s.ID, ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, failed.Kind)
	after, err := f.assistant.Get(ctx, kine, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Program, after.Program)

	invalid, err := f.assistant.Export(ctx, sess, s.ID, ExportRequest{PatientEmail: "nope"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, invalid.Kind)

	for _, id := range []string{"ex-001", "ex-003"} {
		_, err = f.assistant.ToggleSelect(ctx, kine, s.ID, id)
		require.NoError(t, err)
	}
	none, err := f.assistant.Export(ctx, sess, s.ID, ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, none.Kind)
}

func TestToggleFormTag(t *testing.T) {
	ctx := context.Background()
	f := newAssistantFixture(t)
	s, err := f.assistant.StartSession(ctx, kine)
	require.NoError(t, err)

	s, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, FormObjectives, " Force ")
	require.NoError(t, err)
	s, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, FormEquipment, "Élastique")
	require.NoError(t, err)
	s, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, FormConstraints, "pas de saut")
	require.NoError(t, err)
	require.NotNil(t, s.QuickForm)
	assert.Equal(t, []string{"force"}, s.QuickForm.Objectives)
	assert.Equal(t, []string{"élastique"}, s.QuickForm.Equipment)
	assert.Equal(t, []string{"pas de saut"}, s.QuickForm.Constraints)

	s, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, FormObjectives, "force")
	require.NoError(t, err)
	assert.Empty(t, s.QuickForm.Objectives)

	_, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, "region", "genou")
	assert.ErrorIs(t, err, ErrInvalidForm)
	_, err = f.assistant.ToggleFormTag(ctx, kine, s.ID, FormObjectives, "  ")
	assert.ErrorIs(t, err, ErrInvalidForm)
	_, err = f.assistant.ToggleFormTag(ctx, "kine-2", s.ID, FormObjectives, "force")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, f.generator.requests)
}

func TestSessionLocksAreStriped(t *testing.T) {
	assert.Equal(t, stripe("session-a"), stripe("session-a"))
	for i := 0; i < 1000; i++ {
		n := stripe(fmt.Sprintf("session-%d", i))
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, lockStripes)
	}

	ctx := context.Background()
	f := newAssistantFixture(t)
	ids := make([]string, 8)
	for i := range ids {
		s, err := f.assistant.StartSession(ctx, kine)
		require.NoError(t, err)
		ids[i] = s.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(id string, j int) {
				defer wg.Done()
				_, err := f.assistant.ToggleFormTag(ctx, kine, id, FormObjectives, fmt.Sprintf("objectif-%02d", j))
				assert.NoError(t, err)
			}(id, j)
		}
	}
	wg.Wait()

	for _, id := range ids {
		s, err := f.assistant.Get(ctx, kine, id)
		require.NoError(t, err)
		assert.Len(t, s.QuickForm.Objectives, 10, "no toggle lost on %s", id)
	}
}
