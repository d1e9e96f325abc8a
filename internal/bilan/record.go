package bilan

import (
	"slices"
	"time"

	"github.com/wolfman30/kine-assistant/internal/tagset"
)

// Status is the lifecycle stage of a bilan.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusExported  Status = "exported"
)

func (s Status) rank() int {
	switch s {
	case StatusValidated:
		return 1
	case StatusExported:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusValidated || s == StatusExported
}

// Identity is entered by the practitioner after structuring and is never
// sent to the structuring service.
type Identity struct {
	LastName  string `json:"lastName"`
	FirstName string `json:"firstName"`
	BirthDate string `json:"birthDate"`
	Phone     string `json:"phone"`
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
	Bio        *Bio        `json:"bio"`
	LifeHabits *LifeHabits `json:"lifeHabits"`
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

// DocumentRef points at a rendered PDF. A reference past its expiry must not
// be reused; the record has to be exported again.
type DocumentRef struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the reference is missing or past its expiry.
func (d *DocumentRef) Expired(now time.Time) bool {
	if d == nil || d.URL == "" {
		return true
	}
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Record is one bilan. Records are values: branches are held by pointer and
// never written in place, so an edited copy shares every untouched subtree
// with its predecessor.
type Record struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	PatientID      string          `json:"patientId,omitempty"`
	Identity       *Identity       `json:"identity"`
	MedicalContext *MedicalContext `json:"medicalContext"`
	ClinicalData   *ClinicalData   `json:"clinicalData"`
	Environment    *Environment    `json:"environment"`
	PsychoFactors  *PsychoFactors  `json:"psychoFactors"`
	TargetRegions  []string        `json:"targetRegions"`
	ObjectivesPlan *ObjectivesPlan `json:"objectivesPlan"`
	Summary        string          `json:"summary"`
	Status         Status          `json:"status"`
	Version        int             `json:"version"`
	RawNotesText   string          `json:"rawNotesText,omitempty"`
	Markdown       string          `json:"markdown,omitempty"`
	Document       *DocumentRef    `json:"document,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Normalized returns a copy with every branch allocated and the region set in
// canonical form. Branches that are already present are shared.
func (r Record) Normalized() Record {
	if r.Identity == nil {
		r.Identity = &Identity{}
	}
	if r.MedicalContext == nil {
		r.MedicalContext = &MedicalContext{}
	}
	if r.ClinicalData == nil || r.ClinicalData.Bio == nil || r.ClinicalData.LifeHabits == nil {
		cd := ClinicalData{}
		if r.ClinicalData != nil {
			cd = *r.ClinicalData
		}
		if cd.Bio == nil {
			cd.Bio = &Bio{}
		}
		if cd.LifeHabits == nil {
			cd.LifeHabits = &LifeHabits{}
		}
		r.ClinicalData = &cd
	}
	if r.Environment == nil {
		r.Environment = &Environment{}
	}
	if r.PsychoFactors == nil {
		r.PsychoFactors = &PsychoFactors{}
	}
	if r.ObjectivesPlan == nil {
		r.ObjectivesPlan = &ObjectivesPlan{}
	}
	r.TargetRegions = tagset.From(r.TargetRegions)
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if r.Version < 1 {
		r.Version = 1
	}
	return r
}

// Advance moves the record forward in its lifecycle. It never regresses: a
// target at or behind the current status leaves the record unchanged.
// Leaving draft drops the raw notes, which are only kept for traceability
// while the record is a draft.
func (r Record) Advance(to Status) Record {
	if to.rank() <= r.Status.rank() {
		return r
	}
	r.Status = to
	if to != StatusDraft {
		r.RawNotesText = ""
	}
	return r
}

// ToggleRegion adds or removes a target region tag.
func (r Record) ToggleRegion(tag string) Record {
	r.TargetRegions = tagset.Toggle(r.TargetRegions, tag)
	return r
}

// SameContent reports whether two records hold the same clinical content and
// status. Identifiers, timestamps and rendering artifacts are ignored.
func SameContent(a, b Record) bool {
	acd, bcd := deref(a.ClinicalData), deref(b.ClinicalData)
	return a.Status == b.Status &&
		a.PatientID == b.PatientID &&
		a.Summary == b.Summary &&
		deref(a.Identity) == deref(b.Identity) &&
		deref(a.MedicalContext) == deref(b.MedicalContext) &&
		deref(acd.Bio) == deref(bcd.Bio) &&
		deref(acd.LifeHabits) == deref(bcd.LifeHabits) &&
		deref(a.Environment) == deref(b.Environment) &&
		deref(a.PsychoFactors) == deref(b.PsychoFactors) &&
		deref(a.ObjectivesPlan) == deref(b.ObjectivesPlan) &&
		slices.Equal(tagset.From(a.TargetRegions), tagset.From(b.TargetRegions))
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
