package bilan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/kine-assistant/internal/archive"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/internal/observability/metrics"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/structuring"
	"github.com/wolfman30/kine-assistant/internal/usage"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// OutcomeKind is the terminal state of a workflow call.
type OutcomeKind string

const (
	OutcomeStructured     OutcomeKind = "structured"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeQuotaExhausted OutcomeKind = "quota_exhausted"
	OutcomeFailed         OutcomeKind = "failed"
	OutcomeInvalid        OutcomeKind = "invalid"
	OutcomeExported       OutcomeKind = "exported"
)

const (
	actionSubmit = "bilan.submit"
	actionExport = "bilan.export"
)

// refundTimeout bounds the credit refund, which runs detached from the
// request so a cancelled request still gets its credit back.
const refundTimeout = 5 * time.Second

const (
	msgQuotaExhausted = "Vous avez utilisé vos bilans gratuits. Passez à l'offre Premium pour continuer."
	msgQuotaCheck     = "Impossible de vérifier votre quota pour le moment. Veuillez réessayer."
	msgSaveFailed     = "L'enregistrement du bilan a échoué. Veuillez réessayer."
	msgExportFailed   = "La génération du PDF a échoué. Veuillez réessayer."
	msgStructureError = "Le service de structuration est indisponible. Veuillez réessayer."
)

// SubmitOutcome is the result of SubmitNotes. Only the fields matching Kind
// are set.
type SubmitOutcome struct {
	Kind             OutcomeKind
	Record           Record
	Markdown         string
	RemainingCredits int
	Findings         []string
	Notes            string
	Message          string
	Retryable        bool
}

// ExportOutcome is the result of RequestExport.
type ExportOutcome struct {
	Kind      OutcomeKind
	Record    Record
	Message   string
	Retryable bool
}

// WorkflowConfig lists the workflow collaborators. Archive, Usage and
// Metrics are optional.
type WorkflowConfig struct {
	Repo          Repository
	Drafts        *DraftStore
	Structurer    structuring.Structurer
	Renderer      render.Renderer
	Guard         inflight.Guard
	Archive       *archive.Store
	Usage         usage.Logger
	Metrics       *metrics.WorkflowMetrics
	Logger        *logging.Logger
	MaxNotesChars int
}

// Workflow drives a bilan from notes to exported PDF.
type Workflow struct {
	repo       Repository
	drafts     *DraftStore
	structurer structuring.Structurer
	renderer   render.Renderer
	guard      inflight.Guard
	archive    *archive.Store
	usage      usage.Logger
	metrics    *metrics.WorkflowMetrics
	logger     *logging.Logger
	maxNotes   int
	now        func() time.Time
	newID      func() string
}

func NewWorkflow(cfg WorkflowConfig) *Workflow {
	if cfg.Repo == nil || cfg.Structurer == nil || cfg.Renderer == nil {
		panic("bilan: workflow requires a repository, a structurer and a renderer")
	}
	if cfg.Drafts == nil {
		cfg.Drafts = NewDraftStore(DefaultDraftTTL)
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
	return &Workflow{
		repo:       cfg.Repo,
		drafts:     cfg.Drafts,
		structurer: cfg.Structurer,
		renderer:   cfg.Renderer,
		guard:      cfg.Guard,
		archive:    cfg.Archive,
		usage:      cfg.Usage,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		maxNotes:   cfg.MaxNotesChars,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:      uuid.NewString,
	}
}

// SubmitNotes structures free-text notes into a new draft record. At most
// one credit is consumed, and only when a record is actually created.
func (w *Workflow) SubmitNotes(ctx context.Context, sess practitioners.Session, notes, patientID string) (SubmitOutcome, error) {
	if sess.PractitionerID == "" {
		return SubmitOutcome{}, ErrOwnerRequired
	}
	if err := structuring.ValidateNotes(notes, w.maxNotes); err != nil {
		return SubmitOutcome{Kind: OutcomeInvalid, Notes: notes, Message: err.Error()}, nil
	}

	release, err := w.guard.Acquire(ctx, inflight.Key(sess.PractitionerID, actionSubmit))
	if err != nil {
		return SubmitOutcome{}, err
	}
	defer release()

	logger := w.logger.With("practitioner_id", sess.PractitionerID)

	sess, err = sess.Refresh(ctx)
	if err != nil {
		logger.Error("failed to load quota", "error", err)
		return SubmitOutcome{Kind: OutcomeFailed, Notes: notes, Message: msgQuotaCheck, Retryable: true}, nil
	}
	if sess.Paywalled() {
		logger.Info("structuring refused: free quota exhausted")
		w.metrics.ObserveQuotaRefusal()
		return SubmitOutcome{Kind: OutcomeQuotaExhausted, Notes: notes, Message: msgQuotaExhausted}, nil
	}

	res, err := w.structurer.Structure(ctx, structuring.Request{Notes: notes, PractitionerID: sess.PractitionerID})
	if err != nil {
		logger.Error("structuring call failed", "error", err)
		w.metrics.ObserveStructuring("failed")
		return SubmitOutcome{Kind: OutcomeFailed, Notes: notes, Message: msgStructureError, Retryable: true}, nil
	}

	switch res.Kind {
	case structuring.KindRejected:
		logger.Info("notes rejected by privacy screen", "findings", len(res.Findings))
		w.metrics.ObserveStructuring("rejected")
		return SubmitOutcome{Kind: OutcomeRejected, Findings: res.Findings, Notes: notes, Message: res.Message}, nil
	case structuring.KindStructured:
	default:
		logger.Warn("structuring service error", "message", res.Message)
		w.metrics.ObserveStructuring("failed")
		return SubmitOutcome{Kind: OutcomeFailed, Notes: notes, Message: res.Message, Retryable: true}, nil
	}

	rec := fromStructured(w.newID(), sess.PractitionerID, patientID, notes, res, w.now())

	store := sess.Store()
	remaining, err := store.ConsumeCredit(ctx, sess.PractitionerID)
	if err != nil {
		if errors.Is(err, practitioners.ErrNoCredits) {
			logger.Info("structuring refused: credit taken concurrently")
			w.metrics.ObserveQuotaRefusal()
			return SubmitOutcome{Kind: OutcomeQuotaExhausted, Notes: notes, Message: msgQuotaExhausted}, nil
		}
		logger.Error("failed to consume credit", "error", err)
		return SubmitOutcome{Kind: OutcomeFailed, Notes: notes, Message: msgQuotaCheck, Retryable: true}, nil
	}

	if err := w.repo.Create(ctx, rec); err != nil {
		logger.Error("failed to persist structured record", "error", err, "record_id", rec.ID)
		if refundErr := refund(ctx, store, sess.PractitionerID); refundErr != nil {
			logger.Error("failed to refund credit", "error", refundErr)
		}
		w.metrics.ObserveStructuring("failed")
		return SubmitOutcome{Kind: OutcomeFailed, Notes: notes, Message: msgSaveFailed, Retryable: true}, nil
	}
	w.drafts.put(rec)
	w.metrics.ObserveStructuring("structured")

	w.logUsage(ctx, usage.NewEvent(sess.PractitionerID, usage.ActionBilanStructured, map[string]any{
		"record_id":   rec.ID,
		"notes_chars": len([]rune(notes)),
		"plan":        string(sess.Plan),
	}, rec.TargetRegions...))

	logger.Info("bilan structured", "record_id", rec.ID, "remaining_credits", remaining)
	return SubmitOutcome{
		Kind:             OutcomeStructured,
		Record:           rec,
		Markdown:         res.Markdown,
		RemainingCredits: remaining,
	}, nil
}

// Get returns the working copy of a record.
func (w *Workflow) Get(ctx context.Context, ownerID, id string) (Draft, error) {
	d, err := w.load(ctx, ownerID, id)
	if err != nil {
		return Draft{}, err
	}
	return d.view(), nil
}

// List returns the owner's persisted records, most recent first.
func (w *Workflow) List(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	return w.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// EditField sets one leaf of the working copy. Nothing is persisted.
func (w *Workflow) EditField(ctx context.Context, ownerID, id string, path Path, value any) (Draft, error) {
	d, err := w.load(ctx, ownerID, id)
	if err != nil {
		return Draft{}, err
	}
	return d.edit(func(r Record) (Record, error) {
		return SetField(r, path, value)
	})
}

// ToggleRegion adds or removes a target region on the working copy.
func (w *Workflow) ToggleRegion(ctx context.Context, ownerID, id, tag string) (Draft, error) {
	d, err := w.load(ctx, ownerID, id)
	if err != nil {
		return Draft{}, err
	}
	return d.edit(func(r Record) (Record, error) {
		return r.ToggleRegion(tag), nil
	})
}

// SaveRecord persists the latest working copy and validates it. Saving an
// unchanged, already validated record writes nothing.
func (w *Workflow) SaveRecord(ctx context.Context, ownerID, id string) (Record, error) {
	d, err := w.load(ctx, ownerID, id)
	if err != nil {
		return Record{}, err
	}
	return w.save(ctx, d)
}

func (w *Workflow) save(ctx context.Context, d *draft) (Record, error) {
	working, persisted := d.snapshot()
	next := working.Advance(StatusValidated)
	if persisted.Status != StatusDraft && SameContent(next, persisted) {
		return persisted, nil
	}
	next.Version = persisted.Version + 1
	next.UpdatedAt = w.now()
	if err := w.write(ctx, d, next); err != nil {
		return Record{}, fmt.Errorf("bilan: save record: %w", err)
	}
	d.commit(next)
	return next, nil
}

// write persists rec. A version conflict drops the cached draft so the next
// access reloads the stored record.
func (w *Workflow) write(ctx context.Context, d *draft, rec Record) error {
	err := w.repo.Update(ctx, rec)
	if errors.Is(err, ErrRecordConflict) {
		w.drafts.evict(d)
		w.logger.Warn("stale working copy discarded", "practitioner_id", rec.OwnerID, "record_id", rec.ID, "version", rec.Version-1)
	}
	return err
}

// RequestExport saves pending edits, renders the record and marks it
// exported. A failed render leaves the status unchanged.
func (w *Workflow) RequestExport(ctx context.Context, sess practitioners.Session, id string) (ExportOutcome, error) {
	ownerID := sess.PractitionerID
	d, err := w.load(ctx, ownerID, id)
	if err != nil {
		return ExportOutcome{}, err
	}

	release, err := w.guard.Acquire(ctx, inflight.Key(ownerID, actionExport))
	if err != nil {
		return ExportOutcome{}, err
	}
	defer release()

	logger := w.logger.With("practitioner_id", ownerID, "record_id", id)

	saved, err := w.save(ctx, d)
	if errors.Is(err, ErrRecordConflict) {
		return ExportOutcome{}, err
	}
	if err != nil {
		logger.Error("failed to save before export", "error", err)
		return ExportOutcome{Kind: OutcomeFailed, Message: msgSaveFailed, Retryable: true}, nil
	}

	payload := render.BilanPayload{
		RecordID:  saved.ID,
		KineID:    ownerID,
		Therapist: render.TherapistFromProfile(sess.Profile()),
		Bilan:     saved,
		Markdown:  saved.Markdown,
	}
	doc, err := w.renderer.RenderBilan(ctx, payload)
	if err != nil {
		logger.Error("bilan render failed", "error", err)
		w.metrics.ObserveExport(string(archive.KindBilan), false)
		return ExportOutcome{Kind: OutcomeFailed, Record: saved, Message: msgExportFailed, Retryable: true}, nil
	}

	exported := saved.Advance(StatusExported)
	exported.Document = &DocumentRef{URL: doc.URL, ExpiresAt: doc.ExpiresAt.UTC()}
	exported.Version = saved.Version + 1
	exported.UpdatedAt = w.now()
	if err := w.write(ctx, d, exported); err != nil {
		w.metrics.ObserveExport(string(archive.KindBilan), false)
		if errors.Is(err, ErrRecordConflict) {
			return ExportOutcome{}, err
		}
		logger.Error("failed to record export", "error", err)
		return ExportOutcome{Kind: OutcomeFailed, Record: saved, Message: msgSaveFailed, Retryable: true}, nil
	}
	if unsaved := d.commit(exported); !unsaved {
		w.drafts.evict(d)
	}
	w.metrics.ObserveExport(string(archive.KindBilan), true)

	if w.archive.Enabled() {
		if err := w.archive.Archive(ctx, archive.KindBilan, exported.ID, ownerID, doc.URL, payload); err != nil {
			logger.Warn("failed to archive bilan snapshot", "error", err)
		}
	}
	w.logUsage(ctx, usage.NewEvent(ownerID, usage.ActionBilanExported, map[string]any{"record_id": exported.ID}))

	logger.Info("bilan exported")
	return ExportOutcome{Kind: OutcomeExported, Record: exported}, nil
}

// Document returns the exported PDF link while it is still valid.
func (w *Workflow) Document(ctx context.Context, ownerID, id string) (DocumentRef, error) {
	if ownerID == "" {
		return DocumentRef{}, ErrOwnerRequired
	}
	rec, err := w.repo.Get(ctx, ownerID, id)
	if err != nil {
		return DocumentRef{}, err
	}
	if rec.Document.Expired(w.now()) {
		return DocumentRef{}, ErrDocumentExpired
	}
	return *rec.Document, nil
}

func (w *Workflow) load(ctx context.Context, ownerID, id string) (*draft, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	return w.drafts.load(ctx, w.repo, ownerID, id)
}

func refund(ctx context.Context, store practitioners.Store, practitionerID string) error {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()
	return store.RefundCredit(refundCtx, practitionerID)
}

func (w *Workflow) logUsage(ctx context.Context, event usage.Event) {
	if err := w.usage.Log(ctx, event); err != nil {
		w.logger.Warn("failed to log usage", "error", err, "action", string(event.Action))
	}
}
