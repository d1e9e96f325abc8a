package bilan

import (
	"fmt"
	"sort"

	"github.com/wolfman30/kine-assistant/internal/tagset"
)

// Path names one editable leaf of a Record, e.g. "clinicalData.bio.patientComplaint".
type Path string

const (
	PathIdentityLastName         Path = "identity.lastName"
	PathIdentityFirstName        Path = "identity.firstName"
	PathIdentityBirthDate        Path = "identity.birthDate"
	PathIdentityPhone            Path = "identity.phone"
	PathMedicalDiagnosis         Path = "medicalContext.diagnosis"
	PathMedicalHistory           Path = "medicalContext.history"
	PathBioPatientComplaint      Path = "clinicalData.bio.patientComplaint"
	PathBioPainAssessment        Path = "clinicalData.bio.painAssessment"
	PathLifeHabitsSleepDiet      Path = "clinicalData.lifeHabits.sleepDietActivity"
	PathEnvironmentLivingWork    Path = "environment.livingWorkSituation"
	PathPsychoAnxiety            Path = "psychoFactors.anxiety"
	PathPsychoFearOfMovement     Path = "psychoFactors.fearOfMovement"
	PathPsychoMoodDisorders      Path = "psychoFactors.moodDisorders"
	PathPsychoKinesiophobia      Path = "psychoFactors.kinesiophobia"
	PathTargetRegions            Path = "targetRegions"
	PathObjectivesPatientGoals   Path = "objectivesPlan.patientGoals"
	PathObjectivesTreatmentGoals Path = "objectivesPlan.treatmentGoals"
	PathObjectivesTreatmentMeans Path = "objectivesPlan.treatmentMeans"
	PathSummary                  Path = "summary"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindSet
)

func (k valueKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindSet:
		return "list of strings"
	default:
		return "string"
	}
}

// node focuses one branch of a record. set returns a new record in which
// only the focused branch and its ancestors are replaced.
type node[T any] struct {
	get func(Record) T
	set func(Record, T) Record
}

func compose[A, B any](outer node[A], get func(A) B, set func(A, B) A) node[B] {
	return node[B]{
		get: func(r Record) B { return get(outer.get(r)) },
		set: func(r Record, v B) Record { return outer.set(r, set(outer.get(r), v)) },
	}
}

// branch builds a node over a pointer-held branch of the record.
func branch[T any](field func(*Record) **T) node[T] {
	return node[T]{
		get: func(r Record) T { return deref(*field(&r)) },
		set: func(r Record, v T) Record {
			*field(&r) = &v
			return r
		},
	}
}

type lens struct {
	kind valueKind
	get  func(Record) any
	set  func(Record, any) Record
}

func stringLeaf[T any](n node[T], field func(*T) *string) lens {
	return lens{
		kind: kindString,
		get: func(r Record) any {
			v := n.get(r)
			return *field(&v)
		},
		set: func(r Record, val any) Record {
			v := n.get(r)
			*field(&v) = val.(string)
			return n.set(r, v)
		},
	}
}

func boolLeaf[T any](n node[T], field func(*T) *bool) lens {
	return lens{
		kind: kindBool,
		get: func(r Record) any {
			v := n.get(r)
			return *field(&v)
		},
		set: func(r Record, val any) Record {
			v := n.get(r)
			*field(&v) = val.(bool)
			return n.set(r, v)
		},
	}
}

var (
	identityNode       = branch(func(r *Record) **Identity { return &r.Identity })
	medicalContextNode = branch(func(r *Record) **MedicalContext { return &r.MedicalContext })
	clinicalDataNode   = branch(func(r *Record) **ClinicalData { return &r.ClinicalData })
	environmentNode    = branch(func(r *Record) **Environment { return &r.Environment })
	psychoNode         = branch(func(r *Record) **PsychoFactors { return &r.PsychoFactors })
	objectivesNode     = branch(func(r *Record) **ObjectivesPlan { return &r.ObjectivesPlan })

	bioNode = compose(clinicalDataNode,
		func(cd ClinicalData) Bio { return deref(cd.Bio) },
		func(cd ClinicalData, b Bio) ClinicalData {
			cd.Bio = &b
			return cd
		})
	lifeHabitsNode = compose(clinicalDataNode,
		func(cd ClinicalData) LifeHabits { return deref(cd.LifeHabits) },
		func(cd ClinicalData, l LifeHabits) ClinicalData {
			cd.LifeHabits = &l
			return cd
		})
)

var lenses = map[Path]lens{
	PathIdentityLastName:  stringLeaf(identityNode, func(v *Identity) *string { return &v.LastName }),
	PathIdentityFirstName: stringLeaf(identityNode, func(v *Identity) *string { return &v.FirstName }),
	PathIdentityBirthDate: stringLeaf(identityNode, func(v *Identity) *string { return &v.BirthDate }),
	PathIdentityPhone:     stringLeaf(identityNode, func(v *Identity) *string { return &v.Phone }),

	PathMedicalDiagnosis: stringLeaf(medicalContextNode, func(v *MedicalContext) *string { return &v.Diagnosis }),
	PathMedicalHistory:   stringLeaf(medicalContextNode, func(v *MedicalContext) *string { return &v.History }),

	PathBioPatientComplaint: stringLeaf(bioNode, func(v *Bio) *string { return &v.PatientComplaint }),
	PathBioPainAssessment:   stringLeaf(bioNode, func(v *Bio) *string { return &v.PainAssessment }),
	PathLifeHabitsSleepDiet: stringLeaf(lifeHabitsNode, func(v *LifeHabits) *string { return &v.SleepDietActivity }),

	PathEnvironmentLivingWork: stringLeaf(environmentNode, func(v *Environment) *string { return &v.LivingWorkSituation }),

	PathPsychoAnxiety:        boolLeaf(psychoNode, func(v *PsychoFactors) *bool { return &v.Anxiety }),
	PathPsychoFearOfMovement: boolLeaf(psychoNode, func(v *PsychoFactors) *bool { return &v.FearOfMovement }),
	PathPsychoMoodDisorders:  boolLeaf(psychoNode, func(v *PsychoFactors) *bool { return &v.MoodDisorders }),
	PathPsychoKinesiophobia:  boolLeaf(psychoNode, func(v *PsychoFactors) *bool { return &v.Kinesiophobia }),

	PathObjectivesPatientGoals:   stringLeaf(objectivesNode, func(v *ObjectivesPlan) *string { return &v.PatientGoals }),
	PathObjectivesTreatmentGoals: stringLeaf(objectivesNode, func(v *ObjectivesPlan) *string { return &v.TreatmentGoals }),
	PathObjectivesTreatmentMeans: stringLeaf(objectivesNode, func(v *ObjectivesPlan) *string { return &v.TreatmentMeans }),

	PathSummary: {
		kind: kindString,
		get:  func(r Record) any { return r.Summary },
		set: func(r Record, val any) Record {
			r.Summary = val.(string)
			return r
		},
	},
	PathTargetRegions: {
		kind: kindSet,
		get:  func(r Record) any { return append([]string(nil), r.TargetRegions...) },
		set: func(r Record, val any) Record {
			r.TargetRegions = tagset.From(val.([]string))
			return r
		},
	},
}

// Paths lists every editable path in stable order.
func Paths() []Path {
	out := make([]Path, 0, len(lenses))
	for p := range lenses {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePath validates a client-supplied path.
func ParsePath(raw string) (Path, error) {
	p := Path(raw)
	if _, ok := lenses[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	return p, nil
}

// GetField reads the value at path.
func GetField(r Record, path Path) (any, error) {
	l, ok := lenses[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return l.get(r), nil
}

// SetField returns a copy of r with the leaf at path replaced by value. The
// value must match the leaf kind: string, bool, or a list of strings for
// targetRegions (JSON-decoded []any is accepted).
func SetField(r Record, path Path, value any) (Record, error) {
	l, ok := lenses[path]
	if !ok {
		return r, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	coerced, err := coerce(l.kind, value)
	if err != nil {
		return r, fmt.Errorf("%w: %s expects a %s", err, path, l.kind)
	}
	return l.set(r, coerced), nil
}

func coerce(kind valueKind, value any) (any, error) {
	switch kind {
	case kindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case kindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case kindSet:
		switch v := value.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, ErrInvalidValue
				}
				out = append(out, s)
			}
			return out, nil
		case nil:
			return []string{}, nil
		}
	}
	return nil, ErrInvalidValue
}
