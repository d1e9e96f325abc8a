package structuring

import "errors"

var (
	// ErrNotesEmpty is returned for blank notes.
	ErrNotesEmpty = errors.New("structuring: notes are empty")
	// ErrNotesTooLong is returned when notes exceed the character cap.
	ErrNotesTooLong = errors.New("structuring: notes exceed the character limit")
)
