package bilan

import "errors"

var (
	// ErrRecordNotFound is returned when a record does not exist for the owner.
	ErrRecordNotFound = errors.New("bilan: record not found")

	// ErrInvalidPath is returned for a field path that names no editable leaf.
	ErrInvalidPath = errors.New("bilan: invalid field path")

	// ErrInvalidValue is returned when a value does not match the leaf kind.
	ErrInvalidValue = errors.New("bilan: invalid field value")

	// ErrDocumentExpired is returned when the exported document is missing or
	// expired and must be regenerated.
	ErrDocumentExpired = errors.New("bilan: document missing or expired")

	// ErrOwnerRequired is returned when no practitioner owns the operation.
	ErrOwnerRequired = errors.New("bilan: practitioner id required")

	// ErrRecordExists is returned when creating a record whose id is taken.
	ErrRecordExists = errors.New("bilan: record already exists")

	// ErrRecordConflict is returned when a write is based on a version that
	// is no longer the stored one.
	ErrRecordConflict = errors.New("bilan: record changed since it was loaded")
)
