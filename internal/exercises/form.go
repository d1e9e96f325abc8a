package exercises

import (
	"fmt"
	"strings"

	"github.com/wolfman30/kine-assistant/internal/tagset"
)

const (
	DefaultExerciseCount = 3
	MaxExerciseCount     = 5
)

// QuickForm holds the generation parameters entered by the practitioner.
type QuickForm struct {
	Mode                    Mode     `json:"mode"`
	Region                  string   `json:"region"`
	Pathology               string   `json:"pathologie"`
	Phase                   string   `json:"phase"`
	Irritability            string   `json:"irritabilite"`
	Level                   string   `json:"niveau"`
	Objectives              []string `json:"objectifs"`
	Constraints             []string `json:"contraintes"`
	Equipment               []string `json:"materiel"`
	Comments                string   `json:"commentaires"`
	RequestedExercisesCount int      `json:"requestedExercisesCount"`
}

// Normalized applies defaults and canonical set form.
func (f QuickForm) Normalized() QuickForm {
	if f.RequestedExercisesCount == 0 {
		f.RequestedExercisesCount = DefaultExerciseCount
	}
	f.Region = strings.TrimSpace(f.Region)
	f.Phase = strings.TrimSpace(f.Phase)
	f.Level = strings.TrimSpace(f.Level)
	f.Objectives = tagset.From(f.Objectives)
	f.Constraints = tagset.From(f.Constraints)
	f.Equipment = tagset.From(f.Equipment)
	return f
}

// Validate checks a normalized form.
func (f QuickForm) Validate() error {
	if !f.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidForm, f.Mode)
	}
	var missing []string
	if f.Region == "" {
		missing = append(missing, "region")
	}
	if f.Phase == "" {
		missing = append(missing, "phase")
	}
	if f.Level == "" {
		missing = append(missing, "niveau")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidForm, strings.Join(missing, ", "))
	}
	if f.RequestedExercisesCount < 1 || f.RequestedExercisesCount > MaxExerciseCount {
		return fmt.Errorf("%w: requestedExercisesCount must be between 1 and %d", ErrInvalidForm, MaxExerciseCount)
	}
	return nil
}

func (f QuickForm) ToggleObjective(v string) QuickForm {
	f.Objectives = tagset.Toggle(f.Objectives, v)
	return f
}

func (f QuickForm) ToggleConstraint(v string) QuickForm {
	f.Constraints = tagset.Toggle(f.Constraints, v)
	return f
}

func (f QuickForm) ToggleEquipment(v string) QuickForm {
	f.Equipment = tagset.Toggle(f.Equipment, v)
	return f
}

func (f QuickForm) generateMessage() string {
	where := "pour la séance"
	if f.Mode == ModeHomeProgram {
		where = "à domicile"
	}
	return fmt.Sprintf("Générer un programme %s : région %s, phase %s, niveau %s.", where, f.Region, f.Phase, f.Level)
}
