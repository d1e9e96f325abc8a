package structuring

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxNotesChars is the notes cap when none is configured.
const DefaultMaxNotesChars = 5000

// ValidateNotes checks notes before any network call. The cap counts
// characters, not bytes.
func ValidateNotes(notes string, maxChars int) error {
	if maxChars <= 0 {
		maxChars = DefaultMaxNotesChars
	}
	if strings.TrimSpace(notes) == "" {
		return ErrNotesEmpty
	}
	if n := utf8.RuneCountInString(notes); n > maxChars {
		return fmt.Errorf("%w: %d > %d", ErrNotesTooLong, n, maxChars)
	}
	return nil
}
