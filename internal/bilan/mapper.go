package bilan

import (
	"time"

	"github.com/wolfman30/kine-assistant/internal/structuring"
)

// fromStructured builds a fresh draft from a structuring result. Identity is
// left blank for the practitioner to fill in.
func fromStructured(id, ownerID, patientID, notes string, res structuring.Result, now time.Time) Record {
	f := res.Fields
	rec := Record{
		ID:        id,
		OwnerID:   ownerID,
		PatientID: patientID,
		Identity:  &Identity{},
		MedicalContext: &MedicalContext{
			Diagnosis: f.MedicalContext.Diagnosis,
			History:   f.MedicalContext.History,
		},
		ClinicalData: &ClinicalData{
			Bio: &Bio{
				PatientComplaint: f.ClinicalData.Bio.PatientComplaint,
				PainAssessment:   f.ClinicalData.Bio.PainAssessment,
			},
			LifeHabits: &LifeHabits{SleepDietActivity: f.ClinicalData.LifeHabits.SleepDietActivity},
		},
		Environment: &Environment{LivingWorkSituation: f.Environment.LivingWorkSituation},
		PsychoFactors: &PsychoFactors{
			Anxiety:        f.PsychoFactors.Anxiety,
			FearOfMovement: f.PsychoFactors.FearOfMovement,
			MoodDisorders:  f.PsychoFactors.MoodDisorders,
			Kinesiophobia:  f.PsychoFactors.Kinesiophobia,
		},
		TargetRegions: f.TargetRegions,
		ObjectivesPlan: &ObjectivesPlan{
			PatientGoals:   f.ObjectivesPlan.PatientGoals,
			TreatmentGoals: f.ObjectivesPlan.TreatmentGoals,
			TreatmentMeans: f.ObjectivesPlan.TreatmentMeans,
		},
		Summary:      f.Summary,
		Status:       StatusDraft,
		RawNotesText: notes,
		Markdown:     res.Markdown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return rec.Normalized()
}
