// Package structuring turns free-text consultation notes into structured
// clinical fields through an external service or a hosted model.
package structuring

import (
	"context"
	"strings"

	"github.com/wolfman30/kine-assistant/internal/tagset"
)

// Kind discriminates the three possible answers of a structuring call.
type Kind string

const (
	KindStructured   Kind = "structured"
	KindRejected     Kind = "rejected"
	KindServiceError Kind = "service_error"
)

// ReasonPIIDetected is the only rejection reason the service emits.
const ReasonPIIDetected = "PII_DETECTED"

// Request is what the practitioner submits.
type Request struct {
	Notes          string
	PractitionerID string
}

// Result is the normalized answer. Only the fields matching Kind are set.
type Result struct {
	Kind     Kind
	Fields   Fields
	Markdown string
	Reason   string
	Findings []string
	Message  string
}

// Structurer is implemented by every structuring backend. Remote failures
// are reported as KindServiceError results, not as errors.
type Structurer interface {
	Structure(ctx context.Context, req Request) (Result, error)
}

func Structured(fields Fields, markdown string) Result {
	return Result{Kind: KindStructured, Fields: fields, Markdown: markdown}
}

// Rejected builds a PII rejection. Blank findings are dropped and duplicates
// keep their first position.
func Rejected(findings []string, message string) Result {
	seen := make(map[string]struct{}, len(findings))
	clean := make([]string, 0, len(findings))
	for _, f := range findings {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		clean = append(clean, f)
	}
	return Result{Kind: KindRejected, Reason: ReasonPIIDetected, Findings: clean, Message: message}
}

func ServiceError(message string) Result {
	return Result{Kind: KindServiceError, Message: message}
}

// Fields is the structured content returned by the service. Identity is
// never produced by structuring and is not part of it.
type Fields struct {
	MedicalContext MedicalContext `json:"medicalContext"`
	ClinicalData   ClinicalData   `json:"clinicalData"`
	Environment    Environment    `json:"environment"`
	PsychoFactors  PsychoFactors  `json:"psychoFactors"`
	TargetRegions  []string       `json:"targetRegions"`
	ObjectivesPlan ObjectivesPlan `json:"objectivesPlan"`
	Summary        string         `json:"summary"`
}

type MedicalContext struct {
	Diagnosis string `json:"diagnosis"`
	History   string `json:"history"`
}

type Bio struct {
	PatientComplaint string `json:"patientComplaint"`
	PainAssessment   string `json:"painAssessment"`
}

type LifeHabits struct {
	SleepDietActivity string `json:"sleepDietActivity"`
}

type ClinicalData struct {
	Bio        Bio        `json:"bio"`
	LifeHabits LifeHabits `json:"lifeHabits"`
}

type Environment struct {
	LivingWorkSituation string `json:"livingWorkSituation"`
}

type PsychoFactors struct {
	Anxiety        bool `json:"anxiety"`
	FearOfMovement bool `json:"fearOfMovement"`
	MoodDisorders  bool `json:"moodDisorders"`
	Kinesiophobia  bool `json:"kinesiophobia"`
}

type ObjectivesPlan struct {
	PatientGoals   string `json:"patientGoals"`
	TreatmentGoals string `json:"treatmentGoals"`
	TreatmentMeans string `json:"treatmentMeans"`
}

// Missing lists the required fields that are blank.
func (f Fields) Missing() []string {
	var missing []string
	if strings.TrimSpace(f.ClinicalData.Bio.PatientComplaint) == "" {
		missing = append(missing, "clinicalData.bio.patientComplaint")
	}
	if strings.TrimSpace(f.Summary) == "" {
		missing = append(missing, "summary")
	}
	return missing
}

func (f Fields) normalized() Fields {
	f.TargetRegions = tagset.From(f.TargetRegions)
	return f
}
