package practitioners

import (
	"context"
	"errors"
)

// Session is the explicit per-request view of the signed-in practitioner.
// Every workflow operation receives one instead of reading ambient state.
type Session struct {
	PractitionerID   string
	Plan             Plan
	RemainingCredits int

	profile Profile
	store   Store
}

// Open loads the practitioner's profile, provisioning a free one with
// freeCredits on first sight.
func Open(ctx context.Context, store Store, practitionerID string, freeCredits int) (Session, error) {
	if practitionerID == "" {
		return Session{}, errors.New("practitioners: practitioner id required")
	}
	p, err := store.Ensure(ctx, practitionerID, freeCredits)
	if err != nil {
		return Session{}, err
	}
	return newSession(store, p), nil
}

func newSession(store Store, p Profile) Session {
	return Session{
		PractitionerID:   p.ID,
		Plan:             p.Plan,
		RemainingCredits: p.CreditsFree,
		profile:          p,
		store:            store,
	}
}

// Refresh reloads the profile from the store.
func (s Session) Refresh(ctx context.Context) (Session, error) {
	if s.store == nil {
		return s, errors.New("practitioners: session has no store")
	}
	p, err := s.store.Get(ctx, s.PractitionerID)
	if err != nil {
		return s, err
	}
	return newSession(s.store, p), nil
}

// Profile returns the profile as of the last load.
func (s Session) Profile() Profile {
	return s.profile
}

// Paywalled reports whether structuring is blocked until upgrade.
func (s Session) Paywalled() bool {
	return !s.profile.CanStructure()
}

// Store returns the backing store.
func (s Session) Store() Store {
	return s.store
}
