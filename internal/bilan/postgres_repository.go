package bilan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxDB is satisfied by *pgxpool.Pool and pgxmock pools.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores records in the bilans table. Clinical content
// lives in a JSONB column; lifecycle and document columns are relational.
type PostgresRepository struct {
	db pgxDB
}

func NewPostgresRepository(db pgxDB) *PostgresRepository {
	if db == nil {
		panic("bilan: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

// recordContent is the JSONB body of a record.
type recordContent struct {
	Identity       *Identity       `json:"identity"`
	MedicalContext *MedicalContext `json:"medicalContext"`
	ClinicalData   *ClinicalData   `json:"clinicalData"`
	Environment    *Environment    `json:"environment"`
	PsychoFactors  *PsychoFactors  `json:"psychoFactors"`
	TargetRegions  []string        `json:"targetRegions"`
	ObjectivesPlan *ObjectivesPlan `json:"objectivesPlan"`
	Summary        string          `json:"summary"`
}

const selectRecordColumns = `
	SELECT id::text, owner_id, COALESCE(patient_id, ''), status, version, content_json,
	       COALESCE(raw_notes_text, ''), COALESCE(markdown, ''), COALESCE(document_url, ''),
	       document_expires_at, created_at, updated_at
	FROM bilans`

// validID keeps malformed ids away from the uuid column, where they would
// fail with 22P02 instead of matching nothing.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec Record) error {
	content, err := marshalContent(rec)
	if err != nil {
		return err
	}
	rec = rec.Normalized()
	docURL, docExpiry := documentColumns(rec.Document)
	query := `
		INSERT INTO bilans (id, owner_id, patient_id, status, version, content_json, raw_notes_text,
		                    markdown, document_url, document_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.OwnerID,
		nullIfEmpty(rec.PatientID),
		string(rec.Status),
		rec.Version,
		content,
		nullIfEmpty(rec.RawNotesText),
		nullIfEmpty(rec.Markdown),
		docURL,
		docExpiry,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRecordExists
		}
		return fmt.Errorf("bilan: insert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (Record, error) {
	if !validID(id) {
		return Record{}, ErrRecordNotFound
	}
	row := r.db.QueryRow(ctx, selectRecordColumns+` WHERE id = $1 AND owner_id = $2`, id, ownerID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("bilan: select failed: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return ErrRecordNotFound
	}
	content, err := marshalContent(rec)
	if err != nil {
		return err
	}
	docURL, docExpiry := documentColumns(rec.Document)
	query := `
		UPDATE bilans
		SET patient_id = $3, status = $4, content_json = $5, raw_notes_text = $6,
		    markdown = $7, document_url = $8, document_expires_at = $9, updated_at = $10,
		    version = $11
		WHERE id = $1 AND owner_id = $2 AND version = $11 - 1
	`
	tag, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.OwnerID,
		nullIfEmpty(rec.PatientID),
		string(rec.Status),
		content,
		nullIfEmpty(rec.RawNotesText),
		nullIfEmpty(rec.Markdown),
		docURL,
		docExpiry,
		rec.UpdatedAt,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("bilan: update failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bilans WHERE id = $1 AND owner_id = $2)`,
		rec.ID, rec.OwnerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("bilan: update check failed: %w", err)
	}
	if exists {
		return ErrRecordConflict
	}
	return ErrRecordNotFound
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, selectRecordColumns+` WHERE owner_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bilan: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("bilan: scan failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		status    string
		content   []byte
		docURL    string
		docExpiry *time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.PatientID,
		&status,
		&rec.Version,
		&content,
		&rec.RawNotesText,
		&rec.Markdown,
		&docURL,
		&docExpiry,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}

	var body recordContent
	if err := json.Unmarshal(content, &body); err != nil {
		return Record{}, fmt.Errorf("bilan: decode content: %w", err)
	}
	rec.Identity = body.Identity
	rec.MedicalContext = body.MedicalContext
	rec.ClinicalData = body.ClinicalData
	rec.Environment = body.Environment
	rec.PsychoFactors = body.PsychoFactors
	rec.TargetRegions = body.TargetRegions
	rec.ObjectivesPlan = body.ObjectivesPlan
	rec.Summary = body.Summary
	rec.Status = Status(status)
	if docURL != "" {
		rec.Document = &DocumentRef{URL: docURL}
		if docExpiry != nil {
			rec.Document.ExpiresAt = docExpiry.UTC()
		}
	}
	return rec.Normalized(), nil
}

func marshalContent(rec Record) ([]byte, error) {
	rec = rec.Normalized()
	data, err := json.Marshal(recordContent{
		Identity:       rec.Identity,
		MedicalContext: rec.MedicalContext,
		ClinicalData:   rec.ClinicalData,
		Environment:    rec.Environment,
		PsychoFactors:  rec.PsychoFactors,
		TargetRegions:  rec.TargetRegions,
		ObjectivesPlan: rec.ObjectivesPlan,
		Summary:        rec.Summary,
	})
	if err != nil {
		return nil, fmt.Errorf("bilan: encode content: %w", err)
	}
	return data, nil
}

func documentColumns(doc *DocumentRef) (any, *time.Time) {
	if doc == nil || doc.URL == "" {
		return nil, nil
	}
	if doc.ExpiresAt.IsZero() {
		return doc.URL, nil
	}
	expiry := doc.ExpiresAt
	return doc.URL, &expiry
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
