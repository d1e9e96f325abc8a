// Package usage records what practitioners do with the assistant so the
// product can bill, audit and analyse it.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of usage being logged.
type Action string

const (
	ActionBilanStructured  Action = "bilan_structured"
	ActionBilanExported    Action = "bilan_exported"
	ActionProgramGenerated Action = "program_generated"
	ActionProgramAdapted   Action = "program_adapted"
	ActionProgramExported  Action = "program_exported"
	ActionAudioTranscribed Action = "audio_transcribed"
)

// Event is one immutable usage record. Details never carry clinical text.
type Event struct {
	ID             string          `json:"id"`
	PractitionerID string          `json:"practitionerId"`
	Action         Action          `json:"action"`
	Details        json.RawMessage `json:"details,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(practitionerID string, action Action, details map[string]any, tags ...string) Event {
	var raw json.RawMessage
	if len(details) > 0 {
		raw, _ = json.Marshal(details)
	}
	return Event{
		ID:             uuid.NewString(),
		PractitionerID: practitionerID,
		Action:         action,
		Details:        raw,
		Tags:           tags,
		CreatedAt:      time.Now().UTC(),
	}
}

// Logger appends usage events.
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) error { return nil }

// MultiLogger fans an event out to every logger and joins their errors.
type MultiLogger []Logger

func (m MultiLogger) Log(ctx context.Context, event Event) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
