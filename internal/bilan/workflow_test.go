package bilan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/kine-assistant/internal/identity"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/structuring"
	"github.com/wolfman30/kine-assistant/internal/usage"
)

const kine = "kine-1"

type fakeStructurer struct {
	mu     sync.Mutex
	calls  int
	result structuring.Result
	err    error
}

func (f *fakeStructurer) Structure(_ context.Context, _ structuring.Request) (structuring.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeStructurer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	doc      render.Document
	err      error
	payloads []render.BilanPayload
}

func (f *fakeRenderer) RenderBilan(_ context.Context, p render.BilanPayload) (render.Document, error) {
	f.payloads = append(f.payloads, p)
	return f.doc, f.err
}

func (f *fakeRenderer) RenderProgram(context.Context, render.ProgramPayload) (render.Document, error) {
	return render.Document{}, errors.New("not used")
}

type countingRepo struct {
	*InMemoryRepository
	updates   int
	createErr error
}

func (r *countingRepo) Create(ctx context.Context, rec Record) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.InMemoryRepository.Create(ctx, rec)
}

func (r *countingRepo) Update(ctx context.Context, rec Record) error {
	r.updates++
	return r.InMemoryRepository.Update(ctx, rec)
}

// cancellingRepo fails Create the way a cancelled request does.
type cancellingRepo struct {
	*InMemoryRepository
	cancel context.CancelFunc
}

func (r cancellingRepo) Create(ctx context.Context, _ Record) error {
	r.cancel()
	return ctx.Err()
}

// ctxStore honours cancellation like a database-backed store.
type ctxStore struct {
	*practitioners.InMemoryStore
}

func (s ctxStore) RefundCredit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.InMemoryStore.RefundCredit(ctx, id)
}

type recordingUsage struct {
	events []usage.Event
}

func (r *recordingUsage) Log(_ context.Context, e usage.Event) error {
	r.events = append(r.events, e)
	return nil
}

func structuredResult() structuring.Result {
	var f structuring.Fields
	f.ClinicalData.Bio.PatientComplaint = "Douleur lombaire depuis 3 semaines"
	f.Summary = "Lombalgie commune sans signe de gravité"
	f.TargetRegions = []string{"lombaires"}
	f.PsychoFactors.FearOfMovement = true
	return structuring.Structured(f, "# Bilan")
}

type fixture struct {
	workflow   *Workflow
	repo       *countingRepo
	store      *practitioners.InMemoryStore
	structurer *fakeStructurer
	renderer   *fakeRenderer
	usage      *recordingUsage
	guard      *inflight.MemoryGuard
}

func newFixture(t *testing.T, credits int, plan practitioners.Plan) *fixture {
	t.Helper()
	f := &fixture{
		repo:       &countingRepo{InMemoryRepository: NewInMemoryRepository()},
		store:      practitioners.NewInMemoryStore(),
		structurer: &fakeStructurer{result: structuredResult()},
		renderer: &fakeRenderer{doc: render.Document{
			URL:       "https://docs.example/bilan.pdf",
			ExpiresAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		}},
		usage: &recordingUsage{},
		guard: inflight.NewMemoryGuard(),
	}
	f.store.Put(practitioners.Profile{ID: kine, Plan: plan, CreditsFree: credits, FirstName: "Léa", LastName: "Martin"})
	f.workflow = NewWorkflow(WorkflowConfig{
		Repo:       f.repo,
		Structurer: f.structurer,
		Renderer:   f.renderer,
		Guard:      f.guard,
		Usage:      f.usage,
	})
	f.workflow.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) session(t *testing.T) practitioners.Session {
	t.Helper()
	sess, err := practitioners.Open(context.Background(), f.store, kine, practitioners.DefaultFreeCredits)
	require.NoError(t, err)
	return sess
}

func (f *fixture) credits(t *testing.T) int {
	t.Helper()
	p, err := f.store.Get(context.Background(), kine)
	require.NoError(t, err)
	return p.CreditsFree
}

func (f *fixture) submit(t *testing.T) SubmitOutcome {
	t.Helper()
	out, err := f.workflow.SubmitNotes(context.Background(), f.session(t), "Patient de 45 ans, lombalgie depuis 3 semaines.", "")
	require.NoError(t, err)
	return out
}

func TestSubmitNotes_StructuredConsumesOneCredit(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)

	out := f.submit(t)
	require.Equal(t, OutcomeStructured, out.Kind)
	assert.Equal(t, 1, out.RemainingCredits)
	assert.Equal(t, 1, f.credits(t))
	assert.Equal(t, "# Bilan", out.Markdown)

	rec := out.Record
	assert.Equal(t, kine, rec.OwnerID)
	assert.Equal(t, StatusDraft, rec.Status)
	assert.NotEmpty(t, rec.RawNotesText)
	assert.True(t, rec.PsychoFactors.FearOfMovement)
	assert.Equal(t, "", rec.Identity.LastName)

	stored, err := f.repo.Get(context.Background(), kine, rec.ID)
	require.NoError(t, err)
	assert.True(t, SameContent(rec, stored))

	require.Len(t, f.usage.events, 1)
	assert.Equal(t, usage.ActionBilanStructured, f.usage.events[0].Action)
	assert.NotContains(t, string(f.usage.events[0].Details), "lombalgie")
}

func TestSubmitNotes_PIIRejectedWithoutNetworkOrQuota(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)
	f.workflow.structurer = structuring.NewScreeningStructurer(f.structurer, structuring.NewPIIScreen())

	notes := "M. Jean Dupont, né le 12/03/1978, lombalgie."
	out, err := f.workflow.SubmitNotes(context.Background(), f.session(t), notes, "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, []string{"Jean Dupont", "12/03/1978"}, out.Findings)
	assert.Equal(t, notes, out.Notes)
	assert.Equal(t, 0, f.structurer.Calls())
	assert.Equal(t, 2, f.credits(t))

	records, err := f.repo.ListByOwner(context.Background(), kine, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubmitNotes_QuotaExhaustedBeforeAnyCall(t *testing.T) {
	f := newFixture(t, 0, practitioners.PlanFree)

	out := f.submit(t)
	assert.Equal(t, OutcomeQuotaExhausted, out.Kind)
	assert.Equal(t, 0, f.structurer.Calls())
	assert.Equal(t, 0, f.credits(t))
}

func TestSubmitNotes_PremiumKeepsCredits(t *testing.T) {
	f := newFixture(t, 0, practitioners.PlanPremium)

	out := f.submit(t)
	assert.Equal(t, OutcomeStructured, out.Kind)
	assert.Equal(t, 0, f.credits(t))
}

func TestSubmitNotes_InvalidNotes(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)

	for _, notes := range []string{"   ", strings.Repeat("é", structuring.DefaultMaxNotesChars+1)} {
		out, err := f.workflow.SubmitNotes(context.Background(), f.session(t), notes, "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalid, out.Kind)
	}
	assert.Equal(t, 0, f.structurer.Calls())
	assert.Equal(t, 2, f.credits(t))
}

func TestSubmitNotes_ServiceErrorKeepsQuota(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)
	f.structurer.result = structuring.ServiceError("Service indisponible")

	out := f.submit(t)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)
	assert.Equal(t, "Service indisponible", out.Message)
	assert.Equal(t, 2, f.credits(t))
	assert.Empty(t, f.usage.events)
}

func TestSubmitNotes_PersistenceFailureRefundsCredit(t *testing.T) {
	f := newFixture(t, 1, practitioners.PlanFree)
	f.repo.createErr = errors.New("connection reset")

	out := f.submit(t)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, 1, f.credits(t))
	assert.Empty(t, f.usage.events)
}

func TestSubmitNotes_CancelledRequestStillRefundsCredit(t *testing.T) {
	f := newFixture(t, 1, practitioners.PlanFree)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.workflow.repo = cancellingRepo{InMemoryRepository: NewInMemoryRepository(), cancel: cancel}

	sess, err := practitioners.Open(ctx, ctxStore{f.store}, kine, practitioners.DefaultFreeCredits)
	require.NoError(t, err)
	out, err := f.workflow.SubmitNotes(ctx, sess, "Lombalgie depuis 3 semaines.", "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, f.credits(t), "credit returned although the request context was cancelled")
}

func TestSubmitNotes_ServiceRejectionKeepsQuota(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)
	f.structurer.result = structuring.Rejected([]string{"Mme Bernard", " ", "Mme Bernard", "06 12 34 56 78"}, "Données identifiantes détectées")

	notes := "Mme Bernard, joignable au 06 12 34 56 78, cervicalgie."
	out, err := f.workflow.SubmitNotes(context.Background(), f.session(t), notes, "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, []string{"Mme Bernard", "06 12 34 56 78"}, out.Findings)
	assert.Equal(t, "Données identifiantes détectées", out.Message)
	assert.Equal(t, notes, out.Notes)
	assert.Equal(t, 1, f.structurer.Calls())
	assert.Equal(t, 2, f.credits(t))
	assert.Empty(t, f.usage.events)

	records, err := f.repo.ListByOwner(context.Background(), kine, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubmitNotes_InFlightDuplicateRefused(t *testing.T) {
	f := newFixture(t, 2, practitioners.PlanFree)
	release, err := f.guard.Acquire(context.Background(), inflight.Key(kine, actionSubmit))
	require.NoError(t, err)
	defer release()

	_, err = f.workflow.SubmitNotes(context.Background(), f.session(t), "lombalgie", "")
	assert.ErrorIs(t, err, inflight.ErrInFlight)
	assert.Equal(t, 0, f.structurer.Calls())
}

func TestEditAndSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record

	d, err := f.workflow.EditField(ctx, kine, rec.ID, PathIdentityLastName, "Durand")
	require.NoError(t, err)
	assert.True(t, d.Unsaved)
	d, err = f.workflow.ToggleRegion(ctx, kine, rec.ID, " Genou ")
	require.NoError(t, err)
	assert.Equal(t, []string{"genou", "lombaires"}, d.Record.TargetRegions)

	stored, err := f.repo.Get(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.Identity.LastName, "edits stay local until saved")

	saved, err := f.workflow.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, saved.Status)
	assert.Equal(t, "Durand", saved.Identity.LastName)
	assert.Empty(t, saved.RawNotesText)
	assert.Equal(t, 1, f.repo.updates)

	f.workflow.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	again, err := f.workflow.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.updates, "unchanged save must not write")
	assert.Equal(t, saved.UpdatedAt, again.UpdatedAt)

	d, err = f.workflow.Get(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.False(t, d.Unsaved)
}

func TestEditField_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record

	_, err := f.workflow.EditField(ctx, kine, rec.ID, PathIdentityLastName, true)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = f.workflow.EditField(ctx, kine, rec.ID, Path("identity.ssn"), "x")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = f.workflow.EditField(ctx, "kine-2", rec.ID, PathIdentityLastName, "x")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRequestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record
	_, err := f.workflow.EditField(ctx, kine, rec.ID, PathSummary, "Lombalgie mécanique")
	require.NoError(t, err)

	f.renderer.err = errors.New("renderer down")
	out, err := f.workflow.RequestExport(ctx, f.session(t), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)
	stored, err := f.repo.Get(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, stored.Status, "pending edits are saved before rendering")
	assert.Equal(t, "Lombalgie mécanique", stored.Summary)
	_, err = f.workflow.Document(ctx, kine, rec.ID)
	assert.ErrorIs(t, err, ErrDocumentExpired)

	f.renderer.err = nil
	out, err = f.workflow.RequestExport(ctx, f.session(t), rec.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeExported, out.Kind)
	assert.Equal(t, StatusExported, out.Record.Status)
	last := f.renderer.payloads[len(f.renderer.payloads)-1]
	assert.Equal(t, "Martin", last.Therapist.LastName)

	doc, err := f.workflow.Document(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example/bilan.pdf", doc.URL)

	f.workflow.now = func() time.Time { return time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) }
	_, err = f.workflow.Document(ctx, kine, rec.ID)
	assert.ErrorIs(t, err, ErrDocumentExpired)

	saved, err := f.workflow.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExported, saved.Status, "status never regresses")

	require.Len(t, f.usage.events, 2)
	assert.Equal(t, usage.ActionBilanExported, f.usage.events[1].Action)
}

func TestStaleWorkingCopyCannotOverwriteExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record

	other := NewWorkflow(WorkflowConfig{Repo: f.repo, Structurer: f.structurer, Renderer: f.renderer})
	other.now = f.workflow.now
	_, err := other.Get(ctx, kine, rec.ID)
	require.NoError(t, err)

	out, err := f.workflow.RequestExport(ctx, f.session(t), rec.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeExported, out.Kind)
	assert.Zero(t, f.workflow.drafts.Len(), "exported draft without pending edits is evicted")

	_, err = other.EditField(ctx, kine, rec.ID, PathSummary, "Édition concurrente")
	require.NoError(t, err)
	_, err = other.SaveRecord(ctx, kine, rec.ID)
	assert.ErrorIs(t, err, ErrRecordConflict)

	stored, err := f.repo.Get(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExported, stored.Status)
	require.NotNil(t, stored.Document)
	assert.Equal(t, "https://docs.example/bilan.pdf", stored.Document.URL)
	assert.Equal(t, 3, stored.Version)

	d, err := other.Get(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExported, d.Record.Status, "conflict reloads the stored record")
	assert.False(t, d.Unsaved)

	_, err = other.EditField(ctx, kine, rec.ID, PathSummary, "Édition après rechargement")
	require.NoError(t, err)
	saved, err := other.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExported, saved.Status)
	assert.Equal(t, 4, saved.Version)
	require.NotNil(t, saved.Document)
}

func TestStaleWorkingCopyRefusesExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record

	other := NewWorkflow(WorkflowConfig{Repo: f.repo, Structurer: f.structurer, Renderer: f.renderer})
	_, err := other.EditField(ctx, kine, rec.ID, PathSummary, "Édition concurrente")
	require.NoError(t, err)

	_, err = f.workflow.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)

	renders := len(f.renderer.payloads)
	_, err = other.RequestExport(ctx, f.session(t), rec.ID)
	assert.ErrorIs(t, err, ErrRecordConflict)
	assert.Len(t, f.renderer.payloads, renders, "nothing is rendered from a stale copy")
}

func TestDraftStoreEvictsIdleDrafts(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, sampleRecord("b1", kine, base)))

	store := NewDraftStore(time.Hour)
	clock := base
	store.now = func() time.Time { return clock }

	_, err := store.load(ctx, repo, kine, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	clock = clock.Add(30 * time.Minute)
	store.put(sampleRecord("b2", kine, clock))
	assert.Equal(t, 2, store.Len(), "recently used drafts survive")

	clock = clock.Add(45 * time.Minute)
	store.put(sampleRecord("b3", kine, clock))
	assert.Equal(t, 2, store.Len(), "b1 idle for 75 minutes is dropped")

	d, err := store.load(ctx, repo, kine, "b1")
	require.NoError(t, err)
	working, _ := d.snapshot()
	assert.Equal(t, "b1", working.ID, "evicted drafts reload from the repository")
}

func TestHandlerSubmitOutcomes(t *testing.T) {
	f := newFixture(t, 1, practitioners.PlanFree)
	h := NewHandler(f.workflow, practitioners.NewSessions(f.store, 2), nil)
	r := chi.NewRouter()
	r.Post("/bilans", h.Submit)
	r.Get("/bilans/{id}", h.Get)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/bilans", strings.NewReader(body))
		req = req.WithContext(identity.WithPractitioner(req.Context(), kine))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"notes":"lombalgie depuis 3 semaines"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.RemainingCredits)
	assert.Equal(t, 0, *created.RemainingCredits)

	rec = post(`{"notes":"lombalgie"}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paywall":true`)

	rec = post(`{"notes":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/bilans/"+created.Record.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req = req.WithContext(identity.WithPractitioner(req.Context(), "kine-2"))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandlerSaveConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, practitioners.PlanFree)
	rec := f.submit(t).Record

	other := NewWorkflow(WorkflowConfig{Repo: f.repo, Structurer: f.structurer, Renderer: f.renderer})
	_, err := other.EditField(ctx, kine, rec.ID, PathSummary, "Édition concurrente")
	require.NoError(t, err)
	_, err = f.workflow.SaveRecord(ctx, kine, rec.ID)
	require.NoError(t, err)

	h := NewHandler(other, practitioners.NewSessions(f.store, 2), nil)
	r := chi.NewRouter()
	r.Post("/bilans/{id}/save", h.Save)

	save := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/bilans/"+rec.ID+"/save", nil)
		req = req.WithContext(identity.WithPractitioner(req.Context(), kine))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	resp := save()
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "modified elsewhere")

	resp = save()
	assert.Equal(t, http.StatusOK, resp.Code, "the reloaded copy saves cleanly")
}
