package practitioners

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps profiles in the profiles table. Credit changes are
// single conditional statements so concurrent submissions cannot overdraw.
type PostgresStore struct {
	db pgxDB
}

func NewPostgresStore(db pgxDB) *PostgresStore {
	if db == nil {
		panic("practitioners: pgx pool required")
	}
	return &PostgresStore{db: db}
}

const selectProfile = `
	SELECT id, plan, credits_free, first_name, last_name, email, rpps_number,
	       phone, clinic_address, logo_url, created_at
	FROM profiles
	WHERE id = $1`

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p    Profile
		plan string
	)
	if err := row.Scan(
		&p.ID,
		&plan,
		&p.CreditsFree,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.RPPSNumber,
		&p.Phone,
		&p.ClinicAddress,
		&p.LogoURL,
		&p.CreatedAt,
	); err != nil {
		return Profile{}, err
	}
	p.Plan = Plan(plan)
	return p, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, selectProfile, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("practitioners: select failed: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Ensure(ctx context.Context, id string, credits int) (Profile, error) {
	query := `
		INSERT INTO profiles (id, plan, credits_free)
		VALUES ($1, 'free', $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, id, credits); err != nil {
		return Profile{}, fmt.Errorf("practitioners: ensure failed: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) ConsumeCredit(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE profiles SET credits_free = credits_free - 1
		WHERE id = $1 AND plan = 'free' AND credits_free > 0
		RETURNING credits_free
	`
	var remaining int
	err := s.db.QueryRow(ctx, query, id).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("practitioners: consume credit failed: %w", err)
	}

	// Nothing decremented: premium, exhausted, or unknown.
	p, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if p.Plan == PlanPremium {
		return p.CreditsFree, nil
	}
	return 0, ErrNoCredits
}

func (s *PostgresStore) RefundCredit(ctx context.Context, id string) error {
	query := `UPDATE profiles SET credits_free = credits_free + 1 WHERE id = $1 AND plan = 'free'`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("practitioners: refund credit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDisplay(ctx context.Context, id string, d Display) (Profile, error) {
	if err := d.Validate(); err != nil {
		return Profile{}, err
	}
	clean := Profile{}.withDisplay(d)
	query := `
		UPDATE profiles
		SET first_name = $2, last_name = $3, email = $4, rpps_number = $5,
		    phone = $6, clinic_address = $7, logo_url = $8
		WHERE id = $1
		RETURNING id, plan, credits_free, first_name, last_name, email, rpps_number,
		          phone, clinic_address, logo_url, created_at
	`
	p, err := scanProfile(s.db.QueryRow(ctx, query,
		id,
		clean.FirstName,
		clean.LastName,
		clean.Email,
		clean.RPPSNumber,
		clean.Phone,
		clean.ClinicAddress,
		clean.LogoURL,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("practitioners: update display failed: %w", err)
	}
	return p, nil
}
