// Package exercises runs the exercise-program assistant: a quick form seeds
// a generated program that the practitioner then refines by chat, with
// locked exercises kept out of reach of every regeneration.
package exercises

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is where the program is meant to be performed.
type Mode string

const (
	ModeQuickSession Mode = "quick_session"
	ModeHomeProgram  Mode = "home_program"
)

func (m Mode) Valid() bool {
	return m == ModeQuickSession || m == ModeHomeProgram
}

// Suggestion is one exercise as exchanged with the generation service.
type Suggestion struct {
	ID                    string   `json:"id"`
	Title                 string   `json:"titre"`
	DescriptionPro        string   `json:"descriptionPro"`
	DescriptionPatient    string   `json:"descriptionPatient"`
	Region                string   `json:"region"`
	ClinicalUse           string   `json:"utilisationClinique"`
	ExecutionPosition     string   `json:"positionExecution"`
	Phase                 string   `json:"phase"`
	Difficulty            int      `json:"difficulte"`
	ExcludedConstraints   []string `json:"contraintesExclues"`
	Equipment             []string `json:"materiel"`
	FunAdaptationPossible bool     `json:"gamificationPossible"`
	SafetyInstructions    string   `json:"consignesSecurite"`
	ProgressionVariants   string   `json:"variantesProgression"`
	MediaURL              *string  `json:"mediaUrl"`
	Selected              bool     `json:"selected"`
	Locked                bool     `json:"locked"`
}

// Program is the ordered list of exercises currently proposed.
type Program struct {
	Mode      Mode         `json:"mode"`
	Summary   string       `json:"summary"`
	Exercises []Suggestion `json:"exercises"`
}

// Validate checks a program received from the generation service.
func (p Program) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidProgram, p.Mode)
	}
	seen := make(map[string]struct{}, len(p.Exercises))
	for i, ex := range p.Exercises {
		if strings.TrimSpace(ex.ID) == "" {
			return fmt.Errorf("%w: exercise %d has no id", ErrInvalidProgram, i)
		}
		if _, dup := seen[ex.ID]; dup {
			return fmt.Errorf("%w: duplicate exercise id %q", ErrInvalidProgram, ex.ID)
		}
		seen[ex.ID] = struct{}{}
		if strings.TrimSpace(ex.Title) == "" {
			return fmt.Errorf("%w: exercise %q has no title", ErrInvalidProgram, ex.ID)
		}
		if ex.Difficulty < 1 || ex.Difficulty > 5 {
			return fmt.Errorf("%w: exercise %q difficulty %d out of range", ErrInvalidProgram, ex.ID, ex.Difficulty)
		}
	}
	return nil
}

func (p Program) index(id string) int {
	for i, ex := range p.Exercises {
		if ex.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the exercise with the given id.
func (p Program) Find(id string) (Suggestion, bool) {
	if i := p.index(id); i >= 0 {
		return p.Exercises[i], true
	}
	return Suggestion{}, false
}

func (p Program) toggle(id string, flip func(*Suggestion)) (Program, error) {
	i := p.index(id)
	if i < 0 {
		return p, fmt.Errorf("%w: %s", ErrUnknownExercise, id)
	}
	exercises := make([]Suggestion, len(p.Exercises))
	copy(exercises, p.Exercises)
	flip(&exercises[i])
	p.Exercises = exercises
	return p, nil
}

// ToggleSelect flips the selected flag of one exercise.
func (p Program) ToggleSelect(id string) (Program, error) {
	return p.toggle(id, func(s *Suggestion) { s.Selected = !s.Selected })
}

// ToggleLock flips the locked flag of one exercise.
func (p Program) ToggleLock(id string) (Program, error) {
	return p.toggle(id, func(s *Suggestion) { s.Locked = !s.Locked })
}

// LockedIDs lists locked exercise ids in display order.
func (p Program) LockedIDs() []string {
	ids := []string{}
	for _, ex := range p.Exercises {
		if ex.Locked {
			ids = append(ids, ex.ID)
		}
	}
	return ids
}

// SelectedIDs lists selected exercise ids in display order.
func (p Program) SelectedIDs() []string {
	ids := []string{}
	for _, ex := range p.Exercises {
		if ex.Selected {
			ids = append(ids, ex.ID)
		}
	}
	return ids
}

// Locked returns the locked exercises keyed by id.
func (p Program) Locked() map[string]Suggestion {
	out := make(map[string]Suggestion)
	for _, ex := range p.Exercises {
		if ex.Locked {
			out[ex.ID] = ex
		}
	}
	return out
}

// sameContent compares two exercises on their canonical JSON form, ignoring
// the client-only flags.
func sameContent(a, b Suggestion) bool {
	a.Selected, b.Selected = false, false
	a.Locked, b.Locked = false, false
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// checkLocks verifies that every exercise locked in prev comes back
// unchanged in next. It returns the first offending id.
func checkLocks(prev, next Program) (string, bool) {
	for _, id := range prev.LockedIDs() {
		before, _ := prev.Find(id)
		after, ok := next.Find(id)
		if !ok || !sameContent(before, after) {
			return id, false
		}
	}
	return "", true
}

// withLocalFlags restores selected/locked from prev for exercises that
// survived the call. New exercises keep the flags the service sent.
func withLocalFlags(prev, next Program) Program {
	exercises := make([]Suggestion, len(next.Exercises))
	for i, ex := range next.Exercises {
		if old, ok := prev.Find(ex.ID); ok {
			ex.Selected = old.Selected
			ex.Locked = old.Locked
		}
		exercises[i] = ex
	}
	next.Exercises = exercises
	return next
}
