package practitioners

import "errors"

var (
	// ErrProfileNotFound is returned when no profile exists for the id.
	ErrProfileNotFound = errors.New("practitioners: profile not found")
	// ErrNoCredits is returned when a free profile has no credit left.
	ErrNoCredits = errors.New("practitioners: no free credits remaining")
	// ErrInvalidDisplay is returned for an incomplete display profile.
	ErrInvalidDisplay = errors.New("practitioners: first and last name required, rpps must be numeric")
)
